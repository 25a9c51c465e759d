package main

import (
	"fmt"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// progressPrinter displays a single updating status line: a countdown
// while scanning, a record counter while syncing. Single-use; Stop must
// be called to release the goroutine.
type progressPrinter struct {
	prefix    string
	duration  time.Duration // countdown window; 0 counts up
	records   atomic.Int64  // -1 while not syncing
	startTime time.Time
	ticker    atomic.Pointer[time.Ticker]
	stopChan  chan struct{}
	done      chan struct{}
	started   atomic.Bool
}

// newProgressPrinter creates a printer counting down from duration. A
// zero duration shows elapsed time instead.
func newProgressPrinter(prefix string, duration time.Duration) *progressPrinter {
	p := &progressPrinter{prefix: prefix, duration: duration}
	p.records.Store(-1)
	return p
}

// RecordCallback returns a callback suitable for sync progress updates.
// Once invoked, the printer switches from the timer to the record count.
func (p *progressPrinter) RecordCallback() func(deviceID string, received int) {
	return func(_ string, received int) {
		p.records.Store(int64(received))
	}
}

// Start begins displaying updates in a background goroutine. Panics when
// called twice.
func (p *progressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("progressPrinter.Start called more than once")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	fmt.Printf("\r%s...   ", p.prefix)

	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.printLine()
			}
		}
	}()
}

func (p *progressPrinter) printLine() {
	if n := p.records.Load(); n >= 0 {
		fmt.Printf("\r%s (%d records)   ", p.prefix, n)
		return
	}

	elapsed := time.Since(p.startTime)
	var seconds int
	if p.duration > 0 {
		remaining := p.duration - elapsed
		if remaining > 0 {
			seconds = int(remaining.Seconds() + 0.5)
		}
	} else {
		seconds = int(elapsed.Seconds())
	}
	fmt.Printf("\r%s (%ds)   ", p.prefix, seconds)
}

// Stop halts the display and clears the line. Safe to call repeatedly.
func (p *progressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return
	}
	ticker.Stop()
	close(p.stopChan)
	<-p.done
	fmt.Print(clearLineSequence)
}

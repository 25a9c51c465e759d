package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/glucosync/glucolink/glucose"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for glucose meters",
	Long: `Scan for Bluetooth Low Energy glucose meters in the vicinity.

Devices advertising the Glucose service or matching a known meter name
prefix are listed with their id, name, and signal strength.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

func validateFormat(format string) error {
	switch format {
	case "table", "json":
		return nil
	}
	return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
}

// interruptibleContext returns a context cancelled by Ctrl+C on top of the
// optional timeout.
func interruptibleContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	baseCtx := context.Background()
	cancelTimeout := func() {}
	if timeout > 0 {
		baseCtx, cancelTimeout = context.WithTimeout(baseCtx, timeout)
	}
	ctx, cancel := context.WithCancel(baseCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\nCtrl+C pressed, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
		cancelTimeout()
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := validateFormat(scanFormat); err != nil {
		return err
	}
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	mgr, err := newManager(cmd, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx, cancel := interruptibleContext(scanDuration + time.Second)
	defer cancel()

	progress := newProgressPrinter("Scanning for glucose meters", scanDuration)
	progress.Start()
	devices, err := mgr.ScanForDevices(ctx, scanDuration)
	progress.Stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return displayDevices(devices, scanFormat)
}

func displayDevices(devices []glucose.DeviceRecord, format string) error {
	if len(devices) == 0 {
		fmt.Println("No glucose meters discovered")
		return nil
	}
	if format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(devices)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tRSSI\tSTATE\tLAST SYNC")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for _, d := range devices {
		lastSync := "never"
		if d.LastSync != nil {
			lastSync = time.Since(*d.LastSync).Truncate(time.Second).String() + " ago"
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\n",
			d.ID, d.Name, d.RSSI, stateLabel(d.State), lastSync)
	}
	return w.Flush()
}

func stateLabel(state glucose.ConnectionState) string {
	switch state {
	case glucose.StateConnected, glucose.StateSyncing:
		return color.GreenString(string(state))
	case glucose.StateError:
		return color.RedString(string(state))
	}
	return string(state)
}

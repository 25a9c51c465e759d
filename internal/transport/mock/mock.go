// Package mock implements the transport capability interface with a
// deterministic simulator. It synthesizes meters, stored measurement
// records and the RACP exchange so the full session/codec path can be
// validated without radios.
package mock

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/glucosync/glucolink/glucose"
	"github.com/glucosync/glucolink/internal/codec"
	"github.com/glucosync/glucolink/internal/gatt"
	"github.com/glucosync/glucolink/internal/transport"
)

// Config parameterizes the simulator. Zero values are replaced by the
// struct-tag defaults.
type Config struct {
	// DeviceCount is the number of synthesized meters a scan discovers.
	DeviceCount int `yaml:"deviceCount" default:"3"`

	// ReadingCount is the number of stored records each meter reports.
	ReadingCount int `yaml:"readingCount" default:"50"`

	// Seed drives the pseudo-random generator; equal seeds reproduce
	// identical devices and record streams.
	Seed int64 `yaml:"seed" default:"1"`

	// SimulateDelay inserts small sleeps on connect and between
	// notifications to mimic radio latency.
	SimulateDelay bool `yaml:"simulateDelay"`

	// FailureRate is the probability in [0,1] that a connect attempt
	// fails.
	FailureRate float64 `yaml:"failureRate"`
}

// Rotating manufacturer/model pairs for synthesized meters.
var meterModels = [...]struct{ manufacturer, model string }{
	{"Accu-Chek", "Guide"},
	{"OneTouch", "Verio Flex"},
	{"Contour", "Next One"},
	{"FreeStyle", "Freedom Lite"},
}

// Transport is the deterministic simulator backend.
type Transport struct {
	cfg    Config
	logger *logrus.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a mock transport. A nil logger is replaced with a default
// one; zero config fields take their defaults.
func New(cfg Config, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	withDefaults := cfg
	defaults.SetDefaults(&withDefaults)
	if cfg.DeviceCount > 0 {
		withDefaults.DeviceCount = cfg.DeviceCount
	}
	if cfg.ReadingCount > 0 {
		withDefaults.ReadingCount = cfg.ReadingCount
	}
	if cfg.Seed != 0 {
		withDefaults.Seed = cfg.Seed
	}
	withDefaults.SimulateDelay = cfg.SimulateDelay
	withDefaults.FailureRate = cfg.FailureRate

	return &Transport{
		cfg:    withDefaults,
		logger: logger,
		rng:    rand.New(rand.NewSource(withDefaults.Seed)),
	}
}

// Kind implements transport.Transport.
func (t *Transport) Kind() string { return "mock" }

// Supported implements transport.Transport. The simulator runs anywhere.
func (t *Transport) Supported() bool { return true }

// deviceIndex resolves a synthesized device id back to its index.
func (t *Transport) deviceIndex(deviceID string) (int, bool) {
	var idx int
	if _, err := fmt.Sscanf(deviceID, "mock-meter-%d", &idx); err != nil {
		return 0, false
	}
	if idx < 0 || idx >= t.cfg.DeviceCount {
		return 0, false
	}
	return idx, true
}

func (t *Transport) deviceRecord(i int) glucose.DeviceRecord {
	pair := meterModels[i%len(meterModels)]
	return glucose.DeviceRecord{
		ID:    fmt.Sprintf("mock-meter-%d", i),
		Name:  fmt.Sprintf("%s %s", pair.manufacturer, pair.model),
		State: glucose.StateDisconnected,
		RSSI:  -40 - 7*i,
	}
}

// Scan implements transport.Transport. It synthesizes DeviceCount meters
// with rotating manufacturer/model pairs and decreasing signal strength.
func (t *Transport) Scan(ctx context.Context, opts transport.ScanOptions, onFound transport.FoundFunc) ([]glucose.DeviceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	devices := make([]glucose.DeviceRecord, 0, t.cfg.DeviceCount)
	for i := 0; i < t.cfg.DeviceCount; i++ {
		rec := t.deviceRecord(i)
		if len(opts.NamePrefixes) > 0 && !matchesPrefix(rec.Name, opts.NamePrefixes) {
			continue
		}
		devices = append(devices, rec)
		if onFound != nil {
			onFound(rec)
		}
	}
	t.logger.WithField("device_count", len(devices)).Debug("Mock scan completed")
	return devices, nil
}

func matchesPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Connect implements transport.Transport. The failure check runs before
// any state mutation, so a failed connect leaves nothing half-open.
func (t *Transport) Connect(ctx context.Context, deviceID string, timeout time.Duration) (transport.Conn, error) {
	idx, ok := t.deviceIndex(deviceID)
	if !ok {
		return nil, glucose.NewError(glucose.KindDeviceNotFound, "unknown mock device %q", deviceID)
	}

	t.mu.Lock()
	fail := t.rng.Float64() < t.cfg.FailureRate
	t.mu.Unlock()
	if fail {
		return nil, glucose.NewError(glucose.KindConnectionFailed, "mock connection failed for %q", deviceID)
	}

	if t.cfg.SimulateDelay {
		select {
		case <-time.After(30 * time.Millisecond):
		case <-ctx.Done():
			return nil, glucose.NewError(glucose.KindConnectionTimeout, "mock connect to %q: %v", deviceID, ctx.Err())
		}
	}

	pair := meterModels[idx%len(meterModels)]
	conn := &conn{
		transport:    t,
		deviceID:     deviceID,
		deviceIdx:    idx,
		manufacturer: pair.manufacturer,
		model:        pair.model,
		battery:      byte(90 - 5*idx),
		subs:         make(map[string][]*subscription),
	}
	t.logger.WithField("device", deviceID).Debug("Mock device connected")
	return conn, nil
}

// conn is one simulated link.
type conn struct {
	transport    *Transport
	deviceID     string
	deviceIdx    int
	manufacturer string
	model        string
	battery      byte

	mu           sync.Mutex
	disconnected bool
	subs         map[string][]*subscription
	wg           sync.WaitGroup
}

type subscription struct {
	conn    *conn
	key     string
	onValue func([]byte)
}

func (s *subscription) Unsubscribe() error {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	list := s.conn.subs[s.key]
	for i, sub := range list {
		if sub == s {
			s.conn.subs[s.key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func subKey(service, characteristic string) string {
	return gatt.NormalizeUUID(service) + "/" + gatt.NormalizeUUID(characteristic)
}

// Read implements transport.Conn for the Device Information and Battery
// services.
func (c *conn) Read(service, characteristic string) ([]byte, error) {
	c.mu.Lock()
	disconnected := c.disconnected
	c.mu.Unlock()
	if disconnected {
		return nil, glucose.ErrNotConnected
	}

	switch subKey(service, characteristic) {
	case subKey(gatt.ServiceDeviceInformation, gatt.CharManufacturerName):
		return []byte(c.manufacturer), nil
	case subKey(gatt.ServiceDeviceInformation, gatt.CharModelNumber):
		return []byte(c.model), nil
	case subKey(gatt.ServiceBattery, gatt.CharBatteryLevel):
		return []byte{c.battery}, nil
	}
	return nil, fmt.Errorf("characteristic %s/%s not readable on mock device", service, characteristic)
}

// Subscribe implements transport.Conn.
func (c *conn) Subscribe(service, characteristic string, onValue func([]byte)) (transport.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		return nil, glucose.ErrNotConnected
	}
	key := subKey(service, characteristic)
	sub := &subscription{conn: c, key: key, onValue: onValue}
	c.subs[key] = append(c.subs[key], sub)
	return sub, nil
}

// Write implements transport.Conn. Writes to the RACP characteristic
// drive the simulated record transfer; everything else is accepted and
// ignored, mirroring a meter that acks unknown control writes.
func (c *conn) Write(service, characteristic string, data []byte, withResponse bool) error {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return glucose.ErrNotConnected
	}
	c.mu.Unlock()

	if subKey(service, characteristic) != subKey(gatt.ServiceGlucose, gatt.CharRecordAccessControlPoint) {
		return nil
	}
	if len(data) < 2 {
		return fmt.Errorf("short RACP command: %d bytes", len(data))
	}

	switch data[0] {
	case codec.RACPOpReportStoredRecords:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.emitStoredRecords()
		}()
	case codec.RACPOpReportNumberOfRecords:
		count := uint16(c.transport.cfg.ReadingCount)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.notify(subKey(gatt.ServiceGlucose, gatt.CharRecordAccessControlPoint), []byte{
				codec.RACPOpNumberOfRecordsResp, codec.RACPOperatorNull,
				byte(count), byte(count >> 8),
			})
		}()
	case codec.RACPOpAbort:
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.notify(subKey(gatt.ServiceGlucose, gatt.CharRecordAccessControlPoint), []byte{
				codec.RACPOpResponseCode, codec.RACPOperatorNull,
				codec.RACPOpAbort, codec.RACPRespSuccess,
			})
		}()
	default:
		c.wg.Add(1)
		op := data[0]
		go func() {
			defer c.wg.Done()
			c.notify(subKey(gatt.ServiceGlucose, gatt.CharRecordAccessControlPoint), []byte{
				codec.RACPOpResponseCode, codec.RACPOperatorNull,
				op, codec.RACPRespOpNotSupported,
			})
		}()
	}
	return nil
}

// emitStoredRecords synthesizes the stored history and pushes it through
// the measurement subscription, oldest record first, then signals
// completion on the control point.
func (c *conn) emitStoredRecords() {
	measurements := c.transport.synthesizeHistory(c.deviceIdx)
	measurementKey := subKey(gatt.ServiceGlucose, gatt.CharGlucoseMeasurement)
	for _, m := range measurements {
		if c.transport.cfg.SimulateDelay {
			time.Sleep(time.Millisecond)
		}
		if !c.notify(measurementKey, codec.EncodeMeasurement(m)) {
			return // disconnected mid-transfer
		}
	}
	c.notify(subKey(gatt.ServiceGlucose, gatt.CharRecordAccessControlPoint), []byte{
		codec.RACPOpResponseCode, codec.RACPOperatorNull,
		codec.RACPOpReportStoredRecords, codec.RACPRespSuccess,
	})
}

// notify delivers data to all subscribers of key. Returns false when the
// connection is gone.
func (c *conn) notify(key string, data []byte) bool {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return false
	}
	subs := append([]*subscription(nil), c.subs[key]...)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.onValue(data)
	}
	return true
}

// Disconnect implements transport.Conn. Idempotent; pending emitters stop
// at the next notify.
func (c *conn) Disconnect() error {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return nil
	}
	c.disconnected = true
	c.subs = make(map[string][]*subscription)
	c.mu.Unlock()
	c.transport.logger.WithField("device", c.deviceID).Debug("Mock device disconnected")
	return nil
}

// synthesizeHistory builds the stored record series for one device:
// generated most recent first, returned chronologically (oldest first),
// a smooth oscillation plus bounded jitter clamped to a physiological
// range. Deterministic per (seed, device index).
func (t *Transport) synthesizeHistory(deviceIdx int) []*codec.Measurement {
	n := t.cfg.ReadingCount
	rng := rand.New(rand.NewSource(t.cfg.Seed + int64(deviceIdx)))
	now := time.Now().UTC().Truncate(time.Second)

	measurements := make([]*codec.Measurement, n)
	for i := 0; i < n; i++ {
		// i == 0 is the most recent record.
		value := 140 + 45*math.Sin(float64(i)/5) + (rng.Float64()*20 - 10)
		value = math.Round(value*10) / 10
		if value < 70 {
			value = 70
		}
		if value > 300 {
			value = 300
		}
		measurements[i] = &codec.Measurement{
			Sequence:       uint16(n - i),
			Timestamp:      now.Add(-time.Duration(i) * 30 * time.Minute),
			Value:          value,
			Unit:           glucose.MGDL,
			SampleType:     glucose.SampleTypeCapillaryWholeBlood,
			SampleLocation: glucose.SampleLocationFinger,
		}
	}

	// Reverse to chronological order for emission.
	for i, j := 0, len(measurements)-1; i < j; i, j = i+1, j-1 {
		measurements[i], measurements[j] = measurements[j], measurements[i]
	}
	return measurements
}

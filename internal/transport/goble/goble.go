// Package goble realizes the transport capability interface on top of the
// go-ble central stack. One Transport serves all sessions; each Connect
// yields an independent link with its own discovered GATT profile.
package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/glucosync/glucolink/glucose"
	"github.com/glucosync/glucolink/internal/gatt"
	"github.com/glucosync/glucolink/internal/transport"
)

// Transport is the real BLE central backend.
type Transport struct {
	logger *logrus.Logger

	mu     sync.Mutex
	device ble.Device
}

// New creates the go-ble backend. A nil logger is replaced with a default
// one.
func New(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{logger: logger}
}

// Kind implements transport.Transport.
func (t *Transport) Kind() string { return "ble" }

// Supported implements transport.Transport; see the per-platform factory
// files.
func (t *Transport) Supported() bool { return supported }

// ensureDevice creates the host BLE device once and registers it as the
// stack default for Dial.
func (t *Transport) ensureDevice() (ble.Device, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.device != nil {
		return t.device, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, glucose.NewError(glucose.KindUnsupportedTransport, "failed to create BLE device: %v", err)
	}
	ble.SetDefaultDevice(dev)
	t.device = dev
	return dev, nil
}

// Scan implements transport.Transport. Devices advertising one of the
// requested services, or matching a name prefix, are reported once each.
func (t *Transport) Scan(ctx context.Context, opts transport.ScanOptions, onFound transport.FoundFunc) ([]glucose.DeviceRecord, error) {
	dev, err := t.ensureDevice()
	if err != nil {
		return nil, err
	}

	scanCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		scanCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	serviceFilter := gatt.NormalizeUUIDs(opts.ServiceUUIDs)

	var mu sync.Mutex
	found := make(map[string]glucose.DeviceRecord)

	t.logger.WithField("timeout", opts.Timeout).Info("Starting BLE scan...")
	err = dev.Scan(scanCtx, false, func(adv ble.Advertisement) {
		if !matches(adv, serviceFilter, opts.NamePrefixes) {
			return
		}
		id := adv.Addr().String()

		mu.Lock()
		_, seen := found[id]
		rec := glucose.DeviceRecord{
			ID:    id,
			Name:  adv.LocalName(),
			State: glucose.StateDisconnected,
			RSSI:  adv.RSSI(),
		}
		found[id] = rec
		mu.Unlock()

		if !seen {
			t.logger.WithFields(logrus.Fields{
				"device":  rec.Name,
				"address": rec.ID,
				"rssi":    rec.RSSI,
			}).Info("Discovered glucose meter")
			if onFound != nil {
				onFound(rec)
			}
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	devices := make([]glucose.DeviceRecord, 0, len(found))
	for _, rec := range found {
		devices = append(devices, rec)
	}
	t.logger.WithField("device_count", len(devices)).Info("BLE scan completed")
	return devices, nil
}

func matches(adv ble.Advertisement, serviceFilter, namePrefixes []string) bool {
	if len(serviceFilter) == 0 && len(namePrefixes) == 0 {
		return true
	}
	for _, advUUID := range adv.Services() {
		normalized := gatt.NormalizeUUID(advUUID.String())
		for _, want := range serviceFilter {
			if normalized == want {
				return true
			}
		}
	}
	name := adv.LocalName()
	for _, prefix := range namePrefixes {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// Connect implements transport.Transport: dial, then discover the full
// GATT profile so characteristic lookups are local afterwards.
func (t *Transport) Connect(ctx context.Context, deviceID string, timeout time.Duration) (transport.Conn, error) {
	if _, err := t.ensureDevice(); err != nil {
		return nil, err
	}

	connCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		connCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	t.logger.WithFields(logrus.Fields{
		"address": deviceID,
		"timeout": timeout,
	}).Info("Connecting to BLE device...")

	client, err := ble.Dial(connCtx, ble.NewAddr(deviceID))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(connCtx.Err(), context.DeadlineExceeded) {
			return nil, glucose.NewError(glucose.KindConnectionTimeout, "connect to %q: %v", deviceID, err)
		}
		return nil, glucose.NewError(glucose.KindConnectionFailed, "connect to %q: %v", deviceID, err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("error", cancelErr).Warn("Failed to cancel connection after discovery failure")
		}
		return nil, glucose.NewError(glucose.KindConnectionFailed, "discover profile on %q: %v", deviceID, err)
	}

	chars := make(map[string]*ble.Characteristic)
	for _, svc := range profile.Services {
		svcUUID := gatt.NormalizeUUID(svc.UUID.String())
		for _, char := range svc.Characteristics {
			chars[svcUUID+"/"+gatt.NormalizeUUID(char.UUID.String())] = char
		}
	}

	t.logger.WithFields(logrus.Fields{
		"address":         deviceID,
		"services":        len(profile.Services),
		"characteristics": len(chars),
	}).Info("BLE device connected")

	return &conn{
		logger:   t.logger,
		deviceID: deviceID,
		client:   client,
		chars:    chars,
	}, nil
}

// conn is one dialed go-ble link.
type conn struct {
	logger   *logrus.Logger
	deviceID string

	mu           sync.Mutex
	client       ble.Client
	chars        map[string]*ble.Characteristic
	disconnected bool
}

func (c *conn) characteristic(service, characteristic string) (ble.Client, *ble.Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		return nil, nil, glucose.ErrNotConnected
	}
	key := gatt.NormalizeUUID(service) + "/" + gatt.NormalizeUUID(characteristic)
	char, ok := c.chars[key]
	if !ok {
		return nil, nil, fmt.Errorf("characteristic %q not found in service %q", characteristic, service)
	}
	return c.client, char, nil
}

// Read implements transport.Conn.
func (c *conn) Read(service, characteristic string) ([]byte, error) {
	client, char, err := c.characteristic(service, characteristic)
	if err != nil {
		return nil, err
	}
	return client.ReadCharacteristic(char)
}

// Write implements transport.Conn.
func (c *conn) Write(service, characteristic string, data []byte, withResponse bool) error {
	client, char, err := c.characteristic(service, characteristic)
	if err != nil {
		return err
	}
	return client.WriteCharacteristic(char, data, !withResponse)
}

// Subscribe implements transport.Conn. Indications are used when the
// characteristic supports them (the RACP is indicate-only), notifications
// otherwise.
func (c *conn) Subscribe(service, characteristic string, onValue func([]byte)) (transport.Subscription, error) {
	client, char, err := c.characteristic(service, characteristic)
	if err != nil {
		return nil, err
	}
	indicate := char.Property&ble.CharIndicate != 0 && char.Property&ble.CharNotify == 0
	if err := client.Subscribe(char, indicate, onValue); err != nil {
		return nil, fmt.Errorf("subscribe %s/%s: %w", service, characteristic, err)
	}
	return &subscription{conn: c, char: char, indicate: indicate}, nil
}

type subscription struct {
	conn     *conn
	char     *ble.Characteristic
	indicate bool
}

func (s *subscription) Unsubscribe() error {
	s.conn.mu.Lock()
	client := s.conn.client
	disconnected := s.conn.disconnected
	s.conn.mu.Unlock()
	if disconnected || client == nil {
		return nil
	}
	return client.Unsubscribe(s.char, s.indicate)
}

// Disconnect implements transport.Conn. Idempotent.
func (c *conn) Disconnect() error {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return nil
	}
	c.disconnected = true
	client := c.client
	c.client = nil
	c.mu.Unlock()

	var err error
	if client != nil {
		err = client.CancelConnection()
	}
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": c.deviceID,
			"error":   err,
		}).Warn("BLE device disconnected with errors")
		return err
	}
	c.logger.WithField("address", c.deviceID).Info("BLE device disconnected")
	return nil
}

// Package syncer is the public entry point: a manager that owns the
// backend transport, the device registry and the per-device sessions,
// and exposes the scan/connect/sync/disconnect surface applications
// consume.
package syncer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/glucosync/glucolink/glucose"
	"github.com/glucosync/glucolink/internal/gatt"
	"github.com/glucosync/glucolink/internal/registry"
	"github.com/glucosync/glucolink/internal/session"
	"github.com/glucosync/glucolink/internal/transport"
	"github.com/glucosync/glucolink/internal/transport/goble"
	"github.com/glucosync/glucolink/internal/transport/mock"
)

// Local-name prefixes of meters known to advertise without the glucose
// service UUID in the advertisement payload.
var defaultNamePrefixes = []string{
	"Accu-Chek",
	"OneTouch",
	"Contour",
	"FreeStyle",
	"CareSens",
	"GlucoMen",
}

// Options configures a Manager. Zero values take the struct-tag defaults.
type Options struct {
	// Transport selects the backend: "ble" for the host central stack,
	// "mock" for the deterministic simulator.
	Transport string `yaml:"transport" default:"ble"`

	// ScanTimeout is the default discovery window.
	ScanTimeout time.Duration `yaml:"scanTimeout" default:"10s"`

	// NamePrefixes extends the built-in list of meter name prefixes
	// admitted during scans.
	NamePrefixes []string `yaml:"namePrefixes"`

	// AutoSync starts a record sync in the background as soon as a
	// connect completes.
	AutoSync bool `yaml:"autoSync"`

	// Session tunes the per-device state machine.
	Session session.Options `yaml:"session"`

	// Mock parameterizes the simulator backend; ignored for "ble".
	Mock mock.Config `yaml:"mock"`

	// OnStateChange, when set, observes every connection state
	// transition.
	OnStateChange session.StateFunc `yaml:"-"`

	// OnProgress, when set, observes per-record sync progress.
	OnProgress session.ProgressFunc `yaml:"-"`
}

// Manager coordinates discovery, connections and record retrieval over
// one backend. Safe for concurrent use.
type Manager struct {
	opts   Options
	tr     transport.Transport
	reg    *registry.Registry
	logger *logrus.Logger

	scanning atomic.Bool

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// New creates a manager for the configured backend. A nil logger is
// replaced with a default one. Fails when the backend is unknown or not
// operable on this host.
func New(opts Options, logger *logrus.Logger) (*Manager, error) {
	if logger == nil {
		logger = logrus.New()
	}
	withDefaults := opts
	defaults.SetDefaults(&withDefaults)
	if opts.Transport != "" {
		withDefaults.Transport = opts.Transport
	}
	if opts.ScanTimeout > 0 {
		withDefaults.ScanTimeout = opts.ScanTimeout
	}

	var tr transport.Transport
	switch withDefaults.Transport {
	case "ble":
		tr = goble.New(logger)
	case "mock":
		tr = mock.New(withDefaults.Mock, logger)
	default:
		return nil, glucose.NewError(glucose.KindUnsupportedTransport, "unknown transport %q", withDefaults.Transport)
	}
	if !tr.Supported() {
		return nil, glucose.NewError(glucose.KindUnsupportedTransport, "transport %q is not supported on this platform", withDefaults.Transport)
	}

	return &Manager{
		opts:     withDefaults,
		tr:       tr,
		reg:      registry.New(),
		logger:   logger,
		sessions: make(map[string]*session.Session),
	}, nil
}

// TransportKind returns the active backend identifier.
func (m *Manager) TransportKind() string { return m.tr.Kind() }

// IsSupported reports whether the active backend can operate here.
func (m *Manager) IsSupported() bool { return m.tr.Supported() }

// ScanForDevices runs one discovery pass and returns every device found,
// recording each in the registry. A zero timeout uses the configured
// default. Only one scan may run at a time; a second concurrent call
// fails with a scan-in-progress error.
func (m *Manager) ScanForDevices(ctx context.Context, timeout time.Duration) ([]glucose.DeviceRecord, error) {
	if !m.scanning.CompareAndSwap(false, true) {
		return nil, glucose.NewError(glucose.KindScanInProgress, "a scan is already running")
	}
	defer m.scanning.Store(false)

	if timeout <= 0 {
		timeout = m.opts.ScanTimeout
	}
	opts := transport.ScanOptions{
		Timeout:      timeout,
		ServiceUUIDs: []string{gatt.ServiceGlucose},
		NamePrefixes: append(append([]string(nil), defaultNamePrefixes...), m.opts.NamePrefixes...),
	}

	m.logger.WithFields(logrus.Fields{
		"transport": m.tr.Kind(),
		"timeout":   timeout,
	}).Info("Scanning for glucose meters")

	found, err := m.tr.Scan(ctx, opts, func(rec glucose.DeviceRecord) {
		// Newly discovered devices sit in SCANNING until the pass ends;
		// known devices keep their current state.
		rec.State = glucose.StateScanning
		m.reg.Upsert(rec)
	})
	if err != nil {
		return nil, err
	}

	result := make([]glucose.DeviceRecord, 0, len(found))
	for _, rec := range found {
		stored, ok := m.reg.Get(rec.ID)
		if !ok {
			stored = m.reg.Upsert(rec)
		}
		if stored.State == glucose.StateScanning {
			m.reg.SetState(stored.ID, glucose.StateDisconnected)
			stored.State = glucose.StateDisconnected
		}
		result = append(result, stored)
	}
	m.logger.WithField("device_count", len(result)).Info("Scan completed")
	return result, nil
}

// sessionFor returns the session for id, creating one on first use.
func (m *Manager) sessionFor(id string) *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := session.New(id, m.tr, m.reg, m.opts.Session, m.logger, m.opts.OnStateChange, m.opts.OnProgress)
	m.sessions[id] = s
	return s
}

// ConnectToDevice connects to a previously discovered device. Connecting
// to a device no scan has ever reported fails with a device-not-found
// error. With AutoSync enabled a record sync starts in the background
// once the connect completes.
func (m *Manager) ConnectToDevice(ctx context.Context, id string) error {
	if !m.reg.Has(id) {
		return glucose.NewError(glucose.KindDeviceNotFound, "device %q has not been discovered", id)
	}

	s := m.sessionFor(id)
	if err := s.Connect(ctx); err != nil {
		return err
	}

	if m.opts.AutoSync {
		go func() {
			if _, err := s.Sync(context.Background()); err != nil {
				m.logger.WithFields(logrus.Fields{
					"device": id,
					"error":  err,
				}).Error("Background sync failed")
			}
		}()
	}
	return nil
}

// SyncDevice retrieves all stored records from a connected device,
// returned oldest first. Fails with a not-connected error when no
// connection exists.
func (m *Manager) SyncDevice(ctx context.Context, id string) ([]glucose.Reading, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, glucose.NewError(glucose.KindNotConnected, "device %q is not connected", id)
	}
	return s.Sync(ctx)
}

// CountRecords asks a connected device how many records it stores.
func (m *Manager) CountRecords(ctx context.Context, id string) (int, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return 0, glucose.NewError(glucose.KindNotConnected, "device %q is not connected", id)
	}
	return s.CountRecords(ctx)
}

// DisconnectDevice tears down the connection to id. Disconnecting a
// device that is not connected is a no-op. A sync in flight is aborted.
func (m *Manager) DisconnectDevice(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Disconnect()
}

// DeviceState returns the connection state of id, DISCONNECTED for
// devices without a session.
func (m *Manager) DeviceState(id string) glucose.ConnectionState {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return glucose.StateDisconnected
	}
	return s.State()
}

// Devices returns every discovered device, ordered by id.
func (m *Manager) Devices() []glucose.DeviceRecord { return m.reg.List() }

// ConnectedDevices returns the devices currently connected or syncing.
func (m *Manager) ConnectedDevices() []glucose.DeviceRecord { return m.reg.Connected() }

// Device returns the registry record for id.
func (m *Manager) Device(id string) (glucose.DeviceRecord, bool) { return m.reg.Get(id) }

// Close disconnects every active session.
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var firstErr error
	for _, s := range sessions {
		if err := s.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/glucosync/glucolink/glucose"
	"github.com/glucosync/glucolink/internal/session"
	"github.com/glucosync/glucolink/internal/transport/mock"
)

// ManagerSuite exercises the full scan/connect/sync surface over the
// mock transport.
type ManagerSuite struct {
	suite.Suite

	mgr *Manager
}

func (s *ManagerSuite) newManager(opts Options) *Manager {
	opts.Transport = "mock"
	if opts.Session.SyncIdleTimeout == 0 {
		opts.Session = session.Options{
			ConnectTimeout:  time.Second,
			SyncIdleTimeout: 300 * time.Millisecond,
			SettleWindow:    50 * time.Millisecond,
		}
	}
	mgr, err := New(opts, nil)
	s.Require().NoError(err)
	return mgr
}

func (s *ManagerSuite) SetupTest() {
	s.mgr = s.newManager(Options{})
}

func (s *ManagerSuite) TearDownTest() {
	if s.mgr != nil {
		_ = s.mgr.Close()
	}
}

func (s *ManagerSuite) TestScanDiscoversMockDevices() {
	devices, err := s.mgr.ScanForDevices(context.Background(), time.Second)
	s.Require().NoError(err)
	s.Require().Len(devices, 3)

	s.Equal("mock-meter-0", devices[0].ID)
	s.Equal(glucose.StateDisconnected, devices[0].State)
	s.Less(devices[1].RSSI, devices[0].RSSI)

	// The registry retains the discovered devices.
	s.Len(s.mgr.Devices(), 3)
}

func (s *ManagerSuite) TestFullSyncFlow() {
	ctx := context.Background()
	devices, err := s.mgr.ScanForDevices(ctx, time.Second)
	s.Require().NoError(err)
	s.Require().NotEmpty(devices)

	id := devices[0].ID
	s.Require().NoError(s.mgr.ConnectToDevice(ctx, id))
	s.Equal(glucose.StateConnected, s.mgr.DeviceState(id))

	start := time.Now()
	readings, err := s.mgr.SyncDevice(ctx, id)
	s.Require().NoError(err)
	s.Require().Len(readings, 50)

	for i := 1; i < len(readings); i++ {
		s.True(readings[i-1].Timestamp.Before(readings[i].Timestamp), "readings must be chronological")
	}
	for _, r := range readings {
		s.Equal(id, r.Metadata["deviceId"])
		s.Equal(true, r.Metadata["mockGenerated"])
	}

	rec, ok := s.mgr.Device(id)
	s.Require().True(ok)
	s.Require().NotNil(rec.LastSync)
	s.False(rec.LastSync.Before(start))
	s.False(rec.LastSync.After(time.Now()))

	s.Require().NoError(s.mgr.DisconnectDevice(id))
	s.Equal(glucose.StateDisconnected, s.mgr.DeviceState(id))
}

func (s *ManagerSuite) TestConnectToUnknownDevice() {
	err := s.mgr.ConnectToDevice(context.Background(), "never-scanned")
	s.True(errors.Is(err, glucose.ErrDeviceNotFound))
}

func (s *ManagerSuite) TestSyncWithoutConnection() {
	_, err := s.mgr.ScanForDevices(context.Background(), time.Second)
	s.Require().NoError(err)

	_, err = s.mgr.SyncDevice(context.Background(), "mock-meter-0")
	s.True(errors.Is(err, glucose.ErrNotConnected))
}

func (s *ManagerSuite) TestConnectFailureLeavesDeviceDisconnected() {
	mgr := s.newManager(Options{Mock: mock.Config{FailureRate: 1.0}})
	defer mgr.Close()

	ctx := context.Background()
	_, err := mgr.ScanForDevices(ctx, time.Second)
	s.Require().NoError(err)

	err = mgr.ConnectToDevice(ctx, "mock-meter-0")
	s.True(errors.Is(err, glucose.ErrConnectionFailed))
	s.Equal(glucose.StateDisconnected, mgr.DeviceState("mock-meter-0"))
}

func (s *ManagerSuite) TestCountRecords() {
	mgr := s.newManager(Options{Mock: mock.Config{ReadingCount: 17}})
	defer mgr.Close()

	ctx := context.Background()
	_, err := mgr.ScanForDevices(ctx, time.Second)
	s.Require().NoError(err)
	s.Require().NoError(mgr.ConnectToDevice(ctx, "mock-meter-0"))

	count, err := mgr.CountRecords(ctx, "mock-meter-0")
	s.Require().NoError(err)
	s.Equal(17, count)
}

func (s *ManagerSuite) TestDisconnectUnknownDeviceIsNoop() {
	s.NoError(s.mgr.DisconnectDevice("never-seen"))
}

func (s *ManagerSuite) TestConnectedDevices() {
	ctx := context.Background()
	_, err := s.mgr.ScanForDevices(ctx, time.Second)
	s.Require().NoError(err)

	s.Empty(s.mgr.ConnectedDevices())

	s.Require().NoError(s.mgr.ConnectToDevice(ctx, "mock-meter-1"))
	connected := s.mgr.ConnectedDevices()
	s.Require().Len(connected, 1)
	s.Equal("mock-meter-1", connected[0].ID)
}

func (s *ManagerSuite) TestStateChangeCallback() {
	var mu sync.Mutex
	var states []glucose.ConnectionState

	mgr := s.newManager(Options{OnStateChange: func(_ string, state glucose.ConnectionState) {
		mu.Lock()
		states = append(states, state)
		mu.Unlock()
	}})
	defer mgr.Close()

	ctx := context.Background()
	_, err := mgr.ScanForDevices(ctx, time.Second)
	s.Require().NoError(err)
	s.Require().NoError(mgr.ConnectToDevice(ctx, "mock-meter-0"))
	_, err = mgr.SyncDevice(ctx, "mock-meter-0")
	s.Require().NoError(err)
	s.Require().NoError(mgr.DisconnectDevice("mock-meter-0"))

	mu.Lock()
	defer mu.Unlock()
	s.Equal([]glucose.ConnectionState{
		glucose.StateConnecting,
		glucose.StateConnected,
		glucose.StateSyncing,
		glucose.StateConnected,
		glucose.StateDisconnected,
	}, states)
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func TestConcurrentScanRejected(t *testing.T) {
	mgr, err := New(Options{Transport: "mock", Mock: mock.Config{DeviceCount: 2}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()

	// Hold the scan slot and verify a second scan is rejected.
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	if !mgr.scanning.CompareAndSwap(false, true) {
		t.Fatal("scan slot unexpectedly held")
	}
	go func() {
		<-release
		mgr.scanning.Store(false)
		firstDone <- nil
	}()

	_, err = mgr.ScanForDevices(context.Background(), time.Second)
	if !errors.Is(err, glucose.ErrScanInProgress) {
		t.Fatalf("expected scan-in-progress error, got %v", err)
	}
	close(release)
	<-firstDone

	if _, err := mgr.ScanForDevices(context.Background(), time.Second); err != nil {
		t.Fatalf("scan after release failed: %v", err)
	}
}

func TestUnknownTransportRejected(t *testing.T) {
	_, err := New(Options{Transport: "carrier-pigeon"}, nil)
	if !errors.Is(err, glucose.ErrUnsupportedTransport) {
		t.Fatalf("expected unsupported-transport error, got %v", err)
	}
}

// Package session owns one logical connection to one glucose meter: the
// connection state machine, the RACP exchange that retrieves stored
// records, decoding and aggregation of measurement notifications, and
// completion detection. Sessions are backend-agnostic; all I/O goes
// through the transport capability interface.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/glucosync/glucolink/glucose"
	"github.com/glucosync/glucolink/internal/codec"
	"github.com/glucosync/glucolink/internal/gatt"
	"github.com/glucosync/glucolink/internal/registry"
	"github.com/glucosync/glucolink/internal/ringchan"
	"github.com/glucosync/glucolink/internal/transport"
)

// Options tunes the per-device state machine. Zero values take the
// struct-tag defaults.
type Options struct {
	// ConnectTimeout bounds connection establishment; elapsing fails the
	// connect attempt.
	ConnectTimeout time.Duration `yaml:"connectTimeout" default:"10s"`

	// SyncIdleTimeout ends a sync successfully when no notification has
	// arrived for this long. Meters have no end-of-transfer signal beyond
	// the RACP response, so going quiet is completion, not failure.
	SyncIdleTimeout time.Duration `yaml:"syncIdleTimeout" default:"5s"`

	// SettleWindow is how long to keep draining in-flight notifications
	// after the RACP success response before finalizing.
	SettleWindow time.Duration `yaml:"settleWindow" default:"300ms"`

	// ReturnPartial returns the records decoded before a mid-sync
	// transport failure alongside the error. The default discards them:
	// the result of one sync call is all-or-nothing.
	ReturnPartial bool `yaml:"returnPartial"`

	// NotificationBuffer is the capacity of the internal notification
	// queue.
	NotificationBuffer int `yaml:"notificationBuffer" default:"128"`
}

// StateFunc observes connection state transitions.
type StateFunc func(deviceID string, state glucose.ConnectionState)

// ProgressFunc observes sync progress as records are decoded.
type ProgressFunc func(deviceID string, received int)

// Session is the active or most recent connection attempt for one device
// id. At most one live Session exists per id; the manager enforces that.
type Session struct {
	deviceID string
	token    string
	tr       transport.Transport
	reg      *registry.Registry
	logger   *logrus.Logger
	opts     Options

	onState    StateFunc
	onProgress ProgressFunc

	// opMu serializes connect attempts and sync setup so two callers
	// cannot race one transport handle.
	opMu sync.Mutex

	mu           sync.Mutex
	state        glucose.ConnectionState
	conn         transport.Conn
	syncCancel   context.CancelCauseFunc
	lastActivity time.Time
}

// New creates a session for deviceID in the DISCONNECTED state.
func New(deviceID string, tr transport.Transport, reg *registry.Registry, opts Options, logger *logrus.Logger, onState StateFunc, onProgress ProgressFunc) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	withDefaults := opts
	defaults.SetDefaults(&withDefaults)
	if opts.ConnectTimeout > 0 {
		withDefaults.ConnectTimeout = opts.ConnectTimeout
	}
	if opts.SyncIdleTimeout > 0 {
		withDefaults.SyncIdleTimeout = opts.SyncIdleTimeout
	}
	if opts.SettleWindow > 0 {
		withDefaults.SettleWindow = opts.SettleWindow
	}
	if opts.NotificationBuffer > 0 {
		withDefaults.NotificationBuffer = opts.NotificationBuffer
	}
	withDefaults.ReturnPartial = opts.ReturnPartial

	return &Session{
		deviceID:   deviceID,
		token:      uuid.NewString(),
		tr:         tr,
		reg:        reg,
		logger:     logger,
		opts:       withDefaults,
		onState:    onState,
		onProgress: onProgress,
		state:      glucose.StateDisconnected,
	}
}

// DeviceID returns the device this session is bound to.
func (s *Session) DeviceID() string { return s.deviceID }

// Token returns the opaque session token assigned at creation.
func (s *Session) Token() string { return s.token }

// State returns the current connection state.
func (s *Session) State() glucose.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState records a transition and propagates it to the registry and the
// state observer. Never called with mu held.
func (s *Session) setState(state glucose.ConnectionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()

	s.reg.SetState(s.deviceID, state)
	if s.onState != nil {
		s.onState(s.deviceID, state)
	}
}

// Connect establishes the transport link and performs the best-effort
// Device Information reads. Connecting an already-connected session is a
// no-op returning success. A failed attempt leaves the device
// DISCONNECTED, ready for a retry.
func (s *Session) Connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case glucose.StateConnected, glucose.StateSyncing:
		s.mu.Unlock()
		return nil
	}
	// A retry after a failed sync may still hold the dead link; release
	// it before dialing a new one.
	stale := s.conn
	s.conn = nil
	s.mu.Unlock()

	if stale != nil {
		if err := stale.Disconnect(); err != nil {
			s.logger.WithFields(logrus.Fields{
				"device": s.deviceID,
				"error":  err,
			}).Debug("Releasing stale connection failed")
		}
	}

	s.setState(glucose.StateConnecting)

	conn, err := s.tr.Connect(ctx, s.deviceID, s.opts.ConnectTimeout)
	if err != nil {
		s.setState(glucose.StateDisconnected)
		s.logger.WithFields(logrus.Fields{
			"device": s.deviceID,
			"error":  err,
		}).Error("Connection failed")
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.readDeviceInformation(conn)
	s.setState(glucose.StateConnected)
	s.logger.WithField("device", s.deviceID).Info("Device connected")
	return nil
}

// readDeviceInformation populates manufacturer, model and battery level.
// Every read is best-effort; meters without these services are common.
func (s *Session) readDeviceInformation(conn transport.Conn) {
	var manufacturer, model string
	var battery *int

	if buf, err := conn.Read(gatt.ServiceDeviceInformation, gatt.CharManufacturerName); err == nil {
		if v, perr := codec.ParseUTF8String(buf); perr == nil {
			manufacturer = v
		}
	}
	if buf, err := conn.Read(gatt.ServiceDeviceInformation, gatt.CharModelNumber); err == nil {
		if v, perr := codec.ParseUTF8String(buf); perr == nil {
			model = v
		}
	}
	if buf, err := conn.Read(gatt.ServiceBattery, gatt.CharBatteryLevel); err == nil {
		if v, perr := codec.ParseBatteryLevel(buf); perr == nil {
			battery = &v
		}
	}

	if manufacturer != "" || model != "" || battery != nil {
		s.reg.SetDeviceInfo(s.deviceID, manufacturer, model, battery)
	}
}

// racpEvent pairs a decoded control point response with its arrival.
type racpEvent struct {
	resp *codec.RACPResponse
}

// Sync drives the full stored-record retrieval: subscribe to the
// measurement stream and the control point, request all stored records,
// decode every notification, and finalize on the RACP success response
// (plus a settle window) or on the idle timeout. Both endings are
// success; only transport failure or an aborting disconnect is an error.
// Readings are returned in chronological order, oldest first.
func (s *Session) Sync(ctx context.Context) ([]glucose.Reading, error) {
	s.opMu.Lock()
	s.mu.Lock()
	switch s.state {
	case glucose.StateSyncing:
		s.mu.Unlock()
		s.opMu.Unlock()
		return nil, glucose.NewError(glucose.KindSyncInProgress, "sync already running for %q", s.deviceID)
	case glucose.StateConnected:
	default:
		st := s.state
		s.mu.Unlock()
		s.opMu.Unlock()
		return nil, glucose.NewError(glucose.KindNotConnected, "device %q is %s, not connected", s.deviceID, st)
	}
	conn := s.conn
	syncCtx, cancel := context.WithCancelCause(ctx)
	s.syncCancel = cancel
	// Claim the SYNCING slot before releasing mu so a concurrent Sync
	// cannot pass the state check above.
	s.state = glucose.StateSyncing
	s.mu.Unlock()
	s.opMu.Unlock()

	defer cancel(nil)
	s.reg.SetState(s.deviceID, glucose.StateSyncing)
	if s.onState != nil {
		s.onState(s.deviceID, glucose.StateSyncing)
	}
	s.logger.WithField("device", s.deviceID).Info("Starting record sync")

	readings, err := s.runSync(syncCtx, conn)
	if err != nil {
		// A disconnect-driven abort already settled the state; do not
		// overwrite DISCONNECTED with ERROR.
		s.mu.Lock()
		stillHeld := s.conn != nil
		s.mu.Unlock()
		if stillHeld {
			s.setState(glucose.StateError)
		}
		if s.opts.ReturnPartial {
			return readings, err
		}
		return nil, err
	}

	s.reg.SetLastSync(s.deviceID, time.Now())
	s.mu.Lock()
	stillHeld := s.conn != nil
	s.mu.Unlock()
	if stillHeld {
		s.setState(glucose.StateConnected)
	}
	s.logger.WithFields(logrus.Fields{
		"device":   s.deviceID,
		"readings": len(readings),
	}).Info("Record sync completed")
	return readings, nil
}

// runSync performs the RACP exchange on an established connection.
func (s *Session) runSync(ctx context.Context, conn transport.Conn) ([]glucose.Reading, error) {
	queue := ringchan.New[[]byte](s.opts.NotificationBuffer)
	racpCh := make(chan racpEvent, 4)

	var ctxMu sync.Mutex
	contexts := make(map[uint16]*codec.Context)

	measSub, err := conn.Subscribe(gatt.ServiceGlucose, gatt.CharGlucoseMeasurement, func(data []byte) {
		buf := make([]byte, len(data))
		copy(buf, data)
		if dropped := queue.Send(buf); dropped {
			s.logger.WithField("device", s.deviceID).Warn("Notification queue overflow, dropped oldest record")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to glucose measurement: %w", err)
	}
	defer s.unsubscribe(measSub)

	// Context records are optional; not every meter exposes 2A34.
	ctxSub, err := conn.Subscribe(gatt.ServiceGlucose, gatt.CharGlucoseMeasurementContext, func(data []byte) {
		mctx, derr := codec.DecodeContext(data)
		if derr != nil {
			s.logger.WithFields(logrus.Fields{
				"device": s.deviceID,
				"error":  derr,
			}).Debug("Skipping undecodable measurement context")
			return
		}
		ctxMu.Lock()
		contexts[mctx.Sequence] = mctx
		ctxMu.Unlock()
	})
	if err == nil {
		defer s.unsubscribe(ctxSub)
	}

	racpSub, err := conn.Subscribe(gatt.ServiceGlucose, gatt.CharRecordAccessControlPoint, func(data []byte) {
		resp, derr := codec.DecodeRACPResponse(data)
		if derr != nil {
			s.logger.WithFields(logrus.Fields{
				"device": s.deviceID,
				"error":  derr,
			}).Warn("Skipping undecodable RACP response")
			return
		}
		select {
		case racpCh <- racpEvent{resp: resp}:
		default:
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to record access control point: %w", err)
	}
	defer s.unsubscribe(racpSub)

	cmd := codec.EncodeRACPCommand(codec.RACPOpReportStoredRecords, codec.RACPOperatorAllRecords)
	if err := conn.Write(gatt.ServiceGlucose, gatt.CharRecordAccessControlPoint, cmd, true); err != nil {
		return nil, fmt.Errorf("request stored records: %w", err)
	}

	var measurements []*codec.Measurement
	idle := time.NewTimer(s.opts.SyncIdleTimeout)
	defer idle.Stop()
	var settle <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if cause := context.Cause(ctx); cause != nil && cause != ctx.Err() {
				return s.finish(measurements, contexts, &ctxMu), cause
			}
			return s.finish(measurements, contexts, &ctxMu), glucose.NewError(glucose.KindSyncAborted, "sync of %q cancelled: %v", s.deviceID, ctx.Err())

		case buf := <-queue.C():
			m, derr := codec.DecodeMeasurement(buf)
			if derr != nil {
				// One bad notification must not abort the transfer.
				s.logger.WithFields(logrus.Fields{
					"device": s.deviceID,
					"error":  derr,
				}).Warn("Skipping undecodable measurement record")
			} else if m != nil {
				measurements = append(measurements, m)
				if s.onProgress != nil {
					s.onProgress(s.deviceID, len(measurements))
				}
			}
			s.mu.Lock()
			s.lastActivity = time.Now()
			s.mu.Unlock()
			if settle == nil {
				if !idle.Stop() {
					select {
					case <-idle.C:
					default:
					}
				}
				idle.Reset(s.opts.SyncIdleTimeout)
			}

		case ev := <-racpCh:
			if !ev.resp.Success() && ev.resp.ResponseCode != codec.RACPRespNoRecordsFound {
				s.logger.WithFields(logrus.Fields{
					"device":        s.deviceID,
					"response_code": ev.resp.ResponseCode,
				}).Warn("Meter reported RACP procedure failure")
			}
			// Completion signal either way; wait out in-flight records.
			if settle == nil {
				settle = time.After(s.opts.SettleWindow)
			}

		case <-settle:
			return s.finish(measurements, contexts, &ctxMu), nil

		case <-idle.C:
			// Device stopped talking: successful completion with whatever
			// was collected.
			s.logger.WithFields(logrus.Fields{
				"device":   s.deviceID,
				"readings": len(measurements),
			}).Debug("Sync idle timeout reached, finalizing")
			return s.finish(measurements, contexts, &ctxMu), nil
		}
	}
}

// finish drains the context map and converts the accumulated measurements
// into readings ordered chronologically, oldest first.
func (s *Session) finish(measurements []*codec.Measurement, contexts map[uint16]*codec.Context, ctxMu *sync.Mutex) []glucose.Reading {
	sort.SliceStable(measurements, func(i, j int) bool {
		if measurements[i].Timestamp.Equal(measurements[j].Timestamp) {
			return measurements[i].Sequence < measurements[j].Sequence
		}
		return measurements[i].Timestamp.Before(measurements[j].Timestamp)
	})

	ctxMu.Lock()
	defer ctxMu.Unlock()

	readings := make([]glucose.Reading, 0, len(measurements))
	seen := make(map[string]int, len(measurements))
	for _, m := range measurements {
		r := s.toReading(m, contexts[m.Sequence])
		// Meters that reset their sequence counter can repeat numbers
		// within one transfer; salt repeats to keep ids unique.
		if n := seen[r.ID]; n > 0 {
			seen[r.ID] = n + 1
			r.ID = fmt.Sprintf("%s-%d", r.ID, n)
		} else {
			seen[r.ID] = 1
		}
		readings = append(readings, r)
	}
	return readings
}

// toReading normalizes a decoded measurement (and its optional context
// record) into the public reading model.
func (s *Session) toReading(m *codec.Measurement, mctx *codec.Context) glucose.Reading {
	metadata := map[string]interface{}{
		"sequenceNumber": int(m.Sequence),
		"sampleType":     m.SampleType,
		"sampleLocation": m.SampleLocation,
		"deviceId":       s.deviceID,
	}
	if m.SensorStatus != nil {
		metadata["sensorStatus"] = int(*m.SensorStatus)
	}
	if m.TimeOffsetMin != nil {
		// Recording-vs-transmission skew, surfaced but not applied.
		metadata["timeOffsetMinutes"] = int(*m.TimeOffsetMin)
	}
	if s.tr.Kind() == "mock" {
		metadata["mockGenerated"] = true
	}

	r := glucose.Reading{
		ID:          fmt.Sprintf("%s-%05d", s.deviceID, m.Sequence),
		Value:       m.Value,
		Unit:        m.Unit,
		Timestamp:   m.Timestamp,
		Source:      s.tr.Kind(),
		ReadingType: glucose.ReadingTypeFor(m.SampleType, m.SampleLocation),
		Metadata:    metadata,
	}
	if mctx != nil {
		r.Fasting = mctx.Fasting()
		if mctx.Meal != nil {
			metadata["meal"] = int(*mctx.Meal)
		}
		if mctx.CarbKg != nil {
			metadata["carbohydrateKg"] = *mctx.CarbKg
		}
	}
	return r
}

// CountRecords asks the meter how many records it stores without
// transferring them. Requires a connected session.
func (s *Session) CountRecords(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.state != glucose.StateConnected {
		st := s.state
		s.mu.Unlock()
		return 0, glucose.NewError(glucose.KindNotConnected, "device %q is %s, not connected", s.deviceID, st)
	}
	conn := s.conn
	s.mu.Unlock()

	respCh := make(chan *codec.RACPResponse, 1)
	sub, err := conn.Subscribe(gatt.ServiceGlucose, gatt.CharRecordAccessControlPoint, func(data []byte) {
		if resp, derr := codec.DecodeRACPResponse(data); derr == nil && resp.Opcode == codec.RACPOpNumberOfRecordsResp {
			select {
			case respCh <- resp:
			default:
			}
		}
	})
	if err != nil {
		return 0, fmt.Errorf("subscribe to record access control point: %w", err)
	}
	defer s.unsubscribe(sub)

	cmd := codec.EncodeRACPCommand(codec.RACPOpReportNumberOfRecords, codec.RACPOperatorAllRecords)
	if err := conn.Write(gatt.ServiceGlucose, gatt.CharRecordAccessControlPoint, cmd, true); err != nil {
		return 0, fmt.Errorf("request record count: %w", err)
	}

	select {
	case resp := <-respCh:
		return int(resp.NumberOfRecords), nil
	case <-time.After(s.opts.SyncIdleTimeout):
		return 0, glucose.NewError(glucose.KindConnectionTimeout, "no record count response from %q", s.deviceID)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Disconnect tears down the link from any state. A sync in flight is
// aborted: the RACP abort is written best-effort and the blocked Sync
// call returns with a sync-aborted error. Idempotent.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	cancel := s.syncCancel
	wasSyncing := s.state == glucose.StateSyncing
	s.conn = nil
	s.syncCancel = nil
	s.mu.Unlock()

	if wasSyncing && conn != nil {
		// Tell the meter to stop sending before dropping the link.
		abort := codec.EncodeRACPCommand(codec.RACPOpAbort, codec.RACPOperatorNull)
		if err := conn.Write(gatt.ServiceGlucose, gatt.CharRecordAccessControlPoint, abort, true); err != nil {
			s.logger.WithFields(logrus.Fields{
				"device": s.deviceID,
				"error":  err,
			}).Debug("RACP abort write failed during disconnect")
		}
	}
	if cancel != nil {
		cancel(glucose.NewError(glucose.KindSyncAborted, "device %q disconnected mid-sync", s.deviceID))
	}

	var err error
	if conn != nil {
		err = conn.Disconnect()
	}
	s.setState(glucose.StateDisconnected)
	return err
}

func (s *Session) unsubscribe(sub transport.Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		s.logger.WithFields(logrus.Fields{
			"device": s.deviceID,
			"error":  err,
		}).Debug("Unsubscribe failed")
	}
}

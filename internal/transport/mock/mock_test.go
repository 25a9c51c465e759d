package mock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glucosync/glucolink/glucose"
	"github.com/glucosync/glucolink/internal/codec"
	"github.com/glucosync/glucolink/internal/gatt"
	"github.com/glucosync/glucolink/internal/transport"
)

func TestScanSynthesizesConfiguredDevices(t *testing.T) {
	tr := New(Config{DeviceCount: 4}, nil)

	var callbacks int
	devices, err := tr.Scan(context.Background(), transport.ScanOptions{}, func(glucose.DeviceRecord) {
		callbacks++
	})
	require.NoError(t, err)
	require.Len(t, devices, 4)
	assert.Equal(t, 4, callbacks)

	assert.Equal(t, "mock-meter-0", devices[0].ID)
	assert.Equal(t, "Accu-Chek Guide", devices[0].Name)
	assert.Equal(t, "OneTouch Verio Flex", devices[1].Name)

	// Signal strength decreases down the list.
	for i := 1; i < len(devices); i++ {
		assert.Less(t, devices[i].RSSI, devices[i-1].RSSI)
	}
}

func TestScanNamePrefixFilter(t *testing.T) {
	tr := New(Config{DeviceCount: 4}, nil)

	devices, err := tr.Scan(context.Background(), transport.ScanOptions{
		NamePrefixes: []string{"OneTouch"},
	}, nil)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "mock-meter-1", devices[0].ID)
}

func TestConnectUnknownDevice(t *testing.T) {
	tr := New(Config{}, nil)

	_, err := tr.Connect(context.Background(), "mock-meter-99", time.Second)
	assert.True(t, errors.Is(err, glucose.ErrDeviceNotFound))

	_, err = tr.Connect(context.Background(), "not-a-mock-id", time.Second)
	assert.True(t, errors.Is(err, glucose.ErrDeviceNotFound))
}

func TestConnectFailureRate(t *testing.T) {
	tr := New(Config{FailureRate: 1.0}, nil)

	_, err := tr.Connect(context.Background(), "mock-meter-0", time.Second)
	assert.True(t, errors.Is(err, glucose.ErrConnectionFailed))
}

func TestReadDeviceInformation(t *testing.T) {
	tr := New(Config{}, nil)
	conn, err := tr.Connect(context.Background(), "mock-meter-0", time.Second)
	require.NoError(t, err)
	defer conn.Disconnect()

	buf, err := conn.Read(gatt.ServiceDeviceInformation, gatt.CharManufacturerName)
	require.NoError(t, err)
	assert.Equal(t, "Accu-Chek", string(buf))

	buf, err = conn.Read(gatt.ServiceDeviceInformation, gatt.CharModelNumber)
	require.NoError(t, err)
	assert.Equal(t, "Guide", string(buf))

	buf, err = conn.Read(gatt.ServiceBattery, gatt.CharBatteryLevel)
	require.NoError(t, err)
	require.Len(t, buf, 1)
	assert.Equal(t, byte(90), buf[0])

	_, err = conn.Read(gatt.ServiceGlucose, gatt.CharGlucoseFeature)
	assert.Error(t, err)
}

// collectTransfer runs the full RACP exchange against one mock connection
// and returns the decoded measurements.
func collectTransfer(t *testing.T, conn transport.Conn) []*codec.Measurement {
	t.Helper()

	var mu sync.Mutex
	var measurements []*codec.Measurement
	done := make(chan struct{})

	measSub, err := conn.Subscribe(gatt.ServiceGlucose, gatt.CharGlucoseMeasurement, func(data []byte) {
		m, derr := codec.DecodeMeasurement(data)
		require.NoError(t, derr)
		mu.Lock()
		measurements = append(measurements, m)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer measSub.Unsubscribe()

	racpSub, err := conn.Subscribe(gatt.ServiceGlucose, gatt.CharRecordAccessControlPoint, func(data []byte) {
		resp, derr := codec.DecodeRACPResponse(data)
		require.NoError(t, derr)
		if resp.Opcode == codec.RACPOpResponseCode {
			close(done)
		}
	})
	require.NoError(t, err)
	defer racpSub.Unsubscribe()

	cmd := codec.EncodeRACPCommand(codec.RACPOpReportStoredRecords, codec.RACPOperatorAllRecords)
	require.NoError(t, conn.Write(gatt.ServiceGlucose, gatt.CharRecordAccessControlPoint, cmd, true))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("transfer did not complete")
	}

	mu.Lock()
	defer mu.Unlock()
	return measurements
}

func TestStoredRecordTransfer(t *testing.T) {
	tr := New(Config{DeviceCount: 1, ReadingCount: 20}, nil)
	conn, err := tr.Connect(context.Background(), "mock-meter-0", time.Second)
	require.NoError(t, err)
	defer conn.Disconnect()

	measurements := collectTransfer(t, conn)
	require.Len(t, measurements, 20)

	// Oldest first: sequence numbers ascend from 1, timestamps ascend.
	assert.Equal(t, uint16(1), measurements[0].Sequence)
	for i := 1; i < len(measurements); i++ {
		assert.Equal(t, measurements[i-1].Sequence+1, measurements[i].Sequence)
		assert.True(t, measurements[i-1].Timestamp.Before(measurements[i].Timestamp))
	}

	// Values stay in the simulated physiological band.
	for _, m := range measurements {
		assert.GreaterOrEqual(t, m.Value, 70.0)
		assert.LessOrEqual(t, m.Value, 300.0)
		assert.Equal(t, glucose.MGDL, m.Unit)
		assert.Equal(t, glucose.SampleTypeCapillaryWholeBlood, m.SampleType)
		assert.Equal(t, glucose.SampleLocationFinger, m.SampleLocation)
	}
}

func TestTransferDeterministicPerSeed(t *testing.T) {
	values := func(seed int64) []float64 {
		tr := New(Config{DeviceCount: 1, ReadingCount: 10, Seed: seed}, nil)
		conn, err := tr.Connect(context.Background(), "mock-meter-0", time.Second)
		require.NoError(t, err)
		defer conn.Disconnect()

		var out []float64
		for _, m := range collectTransfer(t, conn) {
			out = append(out, m.Value)
		}
		return out
	}

	assert.Equal(t, values(7), values(7))
	assert.NotEqual(t, values(7), values(8))
}

func TestReportNumberOfRecords(t *testing.T) {
	tr := New(Config{DeviceCount: 1, ReadingCount: 33}, nil)
	conn, err := tr.Connect(context.Background(), "mock-meter-0", time.Second)
	require.NoError(t, err)
	defer conn.Disconnect()

	respCh := make(chan *codec.RACPResponse, 1)
	sub, err := conn.Subscribe(gatt.ServiceGlucose, gatt.CharRecordAccessControlPoint, func(data []byte) {
		resp, derr := codec.DecodeRACPResponse(data)
		require.NoError(t, derr)
		respCh <- resp
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	cmd := codec.EncodeRACPCommand(codec.RACPOpReportNumberOfRecords, codec.RACPOperatorAllRecords)
	require.NoError(t, conn.Write(gatt.ServiceGlucose, gatt.CharRecordAccessControlPoint, cmd, true))

	select {
	case resp := <-respCh:
		assert.Equal(t, byte(codec.RACPOpNumberOfRecordsResp), resp.Opcode)
		assert.Equal(t, uint16(33), resp.NumberOfRecords)
	case <-time.After(time.Second):
		t.Fatal("no count response")
	}
}

func TestUnsupportedRACPOpcode(t *testing.T) {
	tr := New(Config{DeviceCount: 1}, nil)
	conn, err := tr.Connect(context.Background(), "mock-meter-0", time.Second)
	require.NoError(t, err)
	defer conn.Disconnect()

	respCh := make(chan *codec.RACPResponse, 1)
	sub, err := conn.Subscribe(gatt.ServiceGlucose, gatt.CharRecordAccessControlPoint, func(data []byte) {
		resp, derr := codec.DecodeRACPResponse(data)
		require.NoError(t, derr)
		respCh <- resp
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	cmd := codec.EncodeRACPCommand(codec.RACPOpDeleteStoredRecords, codec.RACPOperatorAllRecords)
	require.NoError(t, conn.Write(gatt.ServiceGlucose, gatt.CharRecordAccessControlPoint, cmd, true))

	select {
	case resp := <-respCh:
		assert.Equal(t, byte(codec.RACPRespOpNotSupported), resp.ResponseCode)
	case <-time.After(time.Second):
		t.Fatal("no response")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	tr := New(Config{DeviceCount: 1}, nil)
	conn, err := tr.Connect(context.Background(), "mock-meter-0", time.Second)
	require.NoError(t, err)

	assert.NoError(t, conn.Disconnect())
	assert.NoError(t, conn.Disconnect())

	_, err = conn.Read(gatt.ServiceBattery, gatt.CharBatteryLevel)
	assert.True(t, errors.Is(err, glucose.ErrNotConnected))
}

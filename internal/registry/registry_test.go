package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glucosync/glucolink/glucose"
)

func TestUpsertInsertsAndRefreshes(t *testing.T) {
	r := New()

	first := r.Upsert(glucose.DeviceRecord{ID: "aa", Name: "Meter", RSSI: -50, State: glucose.StateDisconnected})
	assert.Equal(t, "Meter", first.Name)

	// Re-advertisement refreshes name and RSSI but keeps the rest.
	r.SetState("aa", glucose.StateConnected)
	second := r.Upsert(glucose.DeviceRecord{ID: "aa", Name: "Meter Pro", RSSI: -42})
	assert.Equal(t, "Meter Pro", second.Name)
	assert.Equal(t, -42, second.RSSI)
	assert.Equal(t, glucose.StateConnected, second.State)
}

func TestGetReturnsCopy(t *testing.T) {
	r := New()
	r.Upsert(glucose.DeviceRecord{ID: "aa", Name: "Meter"})

	rec, ok := r.Get("aa")
	require.True(t, ok)
	rec.Name = "mutated"

	again, _ := r.Get("aa")
	assert.Equal(t, "Meter", again.Name)
}

func TestSetStateUnknownIDIgnored(t *testing.T) {
	r := New()
	r.SetState("missing", glucose.StateConnected)
	assert.False(t, r.Has("missing"))
}

func TestSetDeviceInfoPartialUpdate(t *testing.T) {
	r := New()
	r.Upsert(glucose.DeviceRecord{ID: "aa"})

	battery := 85
	r.SetDeviceInfo("aa", "Accu-Chek", "Guide", &battery)
	rec, _ := r.Get("aa")
	assert.Equal(t, "Accu-Chek", rec.Manufacturer)
	require.NotNil(t, rec.Battery)
	assert.Equal(t, 85, *rec.Battery)

	// Empty fields leave existing values untouched.
	r.SetDeviceInfo("aa", "", "", nil)
	rec, _ = r.Get("aa")
	assert.Equal(t, "Accu-Chek", rec.Manufacturer)
	assert.Equal(t, "Guide", rec.Model)
	assert.NotNil(t, rec.Battery)
}

func TestListSortedByID(t *testing.T) {
	r := New()
	r.Upsert(glucose.DeviceRecord{ID: "cc"})
	r.Upsert(glucose.DeviceRecord{ID: "aa"})
	r.Upsert(glucose.DeviceRecord{ID: "bb"})

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "aa", list[0].ID)
	assert.Equal(t, "bb", list[1].ID)
	assert.Equal(t, "cc", list[2].ID)
}

func TestConnectedFiltersByState(t *testing.T) {
	r := New()
	r.Upsert(glucose.DeviceRecord{ID: "aa", State: glucose.StateConnected})
	r.Upsert(glucose.DeviceRecord{ID: "bb", State: glucose.StateDisconnected})
	r.Upsert(glucose.DeviceRecord{ID: "cc", State: glucose.StateSyncing})

	connected := r.Connected()
	require.Len(t, connected, 2)
	assert.Equal(t, "aa", connected[0].ID)
	assert.Equal(t, "cc", connected[1].ID)
}

func TestSetLastSync(t *testing.T) {
	r := New()
	r.Upsert(glucose.DeviceRecord{ID: "aa"})

	at := time.Now()
	r.SetLastSync("aa", at)
	rec, _ := r.Get("aa")
	require.NotNil(t, rec.LastSync)
	assert.True(t, rec.LastSync.Equal(at))
}

func TestClear(t *testing.T) {
	r := New()
	r.Upsert(glucose.DeviceRecord{ID: "aa"})
	r.Clear()
	assert.Empty(t, r.List())
}

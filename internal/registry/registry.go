// Package registry is the in-memory directory of discovered devices.
// Exactly one record exists per device id; lookups are lock-free reads
// on a concurrent map while mutations are serialized per registry.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/cornelk/hashmap"

	"github.com/glucosync/glucolink/glucose"
)

// Registry maps device ids to their records. Records handed out are
// copies; callers never observe a half-written update.
type Registry struct {
	devices *hashmap.Map[string, *glucose.DeviceRecord]

	// mu serializes mutation of the stored records. Reads go through the
	// concurrent map and copy under the same lock only while duplicating
	// the struct.
	mu sync.Mutex
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{devices: hashmap.New[string, *glucose.DeviceRecord]()}
}

// Upsert inserts rec if its id is unknown, otherwise refreshes the
// advertisement-derived fields (name, signal strength) in place, keeping
// connection state and lazily populated metadata. Returns a copy of the
// stored record.
func (r *Registry) Upsert(rec glucose.DeviceRecord) glucose.DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.devices.Get(rec.ID)
	if !ok {
		stored := rec
		r.devices.Set(rec.ID, &stored)
		return stored
	}
	if rec.Name != "" {
		existing.Name = rec.Name
	}
	if rec.RSSI != 0 {
		existing.RSSI = rec.RSSI
	}
	return *existing
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (glucose.DeviceRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.devices.Get(id)
	if !ok {
		return glucose.DeviceRecord{}, false
	}
	return *rec, true
}

// Has reports whether id was ever discovered.
func (r *Registry) Has(id string) bool {
	_, ok := r.devices.Get(id)
	return ok
}

// SetState records a connection state transition for id. Unknown ids are
// ignored; state is only meaningful for discovered devices.
func (r *Registry) SetState(id string, state glucose.ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.devices.Get(id); ok {
		rec.State = state
	}
}

// SetDeviceInfo stores the lazily read manufacturer/model/battery fields.
// Empty strings and nil leave the current values untouched.
func (r *Registry) SetDeviceInfo(id, manufacturer, model string, battery *int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.devices.Get(id)
	if !ok {
		return
	}
	if manufacturer != "" {
		rec.Manufacturer = manufacturer
	}
	if model != "" {
		rec.Model = model
	}
	if battery != nil {
		rec.Battery = battery
	}
}

// SetLastSync records a completed sync for id.
func (r *Registry) SetLastSync(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.devices.Get(id); ok {
		rec.LastSync = &at
	}
}

// List returns copies of all records, ordered by id for stable output.
func (r *Registry) List() []glucose.DeviceRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]glucose.DeviceRecord, 0, r.devices.Len())
	r.devices.Range(func(_ string, rec *glucose.DeviceRecord) bool {
		result = append(result, *rec)
		return true
	})
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Connected returns copies of the records currently connected or syncing.
func (r *Registry) Connected() []glucose.DeviceRecord {
	all := r.List()
	connected := all[:0]
	for _, rec := range all {
		if rec.State == glucose.StateConnected || rec.State == glucose.StateSyncing {
			connected = append(connected, rec)
		}
	}
	return connected
}

// Clear removes every record. The registry never expires records on its
// own; clearing is the caller's decision.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = hashmap.New[string, *glucose.DeviceRecord]()
}

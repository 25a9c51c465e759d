// Package gatt holds the Bluetooth SIG identifiers glucolink talks to and
// the UUID normalization used for lookups across transports.
package gatt

import "strings"

// Glucose Profile (service 0x1808).
const (
	ServiceGlucose                = "1808"
	CharGlucoseMeasurement        = "2a18"
	CharGlucoseMeasurementContext = "2a34"
	CharGlucoseFeature            = "2a51"
	CharRecordAccessControlPoint  = "2a52"
)

// Device Information Service.
const (
	ServiceDeviceInformation = "180a"
	CharManufacturerName     = "2a29"
	CharModelNumber          = "2a24"
)

// Battery Service.
const (
	ServiceBattery   = "180f"
	CharBatteryLevel = "2a19"
)

// bluetoothBaseSuffix is the tail of the SIG base UUID
// 0000xxxx-0000-1000-8000-00805f9b34fb once dashes are stripped.
const bluetoothBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the form used for lookups:
// lowercase, no dashes, no 0x prefix. Full 128-bit UUIDs in the SIG base
// format are collapsed to their 16-bit short form.
func NormalizeUUID(uuid string) string {
	u := strings.ToLower(strings.TrimSpace(uuid))
	u = strings.TrimPrefix(u, "0x")
	u = strings.ReplaceAll(u, "-", "")
	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, bluetoothBaseSuffix) {
		return u[4:8]
	}
	return u
}

// NormalizeUUIDs normalizes a slice of UUID strings.
func NormalizeUUIDs(uuids []string) []string {
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = NormalizeUUID(u)
	}
	return result
}

var knownServices = map[string]string{
	ServiceGlucose:           "Glucose",
	ServiceDeviceInformation: "Device Information",
	ServiceBattery:           "Battery",
}

// KnownServiceName returns the assigned name for a normalized service
// UUID, or "" when unassigned.
func KnownServiceName(uuid string) string {
	return knownServices[NormalizeUUID(uuid)]
}

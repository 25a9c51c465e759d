package gatt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "16-bit UUID lowercase",
			input:    "1808",
			expected: "1808",
		},
		{
			name:     "16-bit UUID uppercase hex",
			input:    "2A18",
			expected: "2a18",
		},
		{
			name:     "16-bit UUID with 0x prefix",
			input:    "0x2A52",
			expected: "2a52",
		},
		{
			name:     "SIG base UUID with dashes",
			input:    "00001808-0000-1000-8000-00805f9b34fb",
			expected: "1808",
		},
		{
			name:     "SIG base UUID without dashes",
			input:    "00002a1800001000800000805f9b34fb",
			expected: "2a18",
		},
		{
			name:     "SIG base UUID uppercase",
			input:    "00002A52-0000-1000-8000-00805F9B34FB",
			expected: "2a52",
		},
		{
			name:     "custom UUID with wrong prefix kept long",
			input:    "AA001808-0000-1000-8000-00805f9b34fb",
			expected: "aa00180800001000800000805f9b34fb",
		},
		{
			name:     "custom UUID with wrong suffix kept long",
			input:    "00001808-1234-5678-9abc-def012345678",
			expected: "00001808123456789abcdef012345678",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestNormalizeUUIDs(t *testing.T) {
	out := NormalizeUUIDs([]string{"0x1808", "00002A18-0000-1000-8000-00805F9B34FB"})
	assert.Equal(t, []string{"1808", "2a18"}, out)
}

func TestKnownServiceName(t *testing.T) {
	assert.Equal(t, "Glucose", KnownServiceName(ServiceGlucose))
	assert.Equal(t, "Device Information", KnownServiceName(ServiceDeviceInformation))
	assert.Equal(t, "", KnownServiceName("ffff"))
}

package codec

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ParseUTF8String parses a Device Information Service string value
// (manufacturer name, model number). Trailing NULs some meters append are
// stripped.
func ParseUTF8String(buf []byte) (string, error) {
	s := strings.TrimRight(string(buf), "\x00")
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("characteristic value is not valid UTF-8")
	}
	return strings.TrimSpace(s), nil
}

// ParseBatteryLevel parses a Battery Level characteristic value, percent.
func ParseBatteryLevel(buf []byte) (int, error) {
	if len(buf) < 1 {
		return 0, fmt.Errorf("empty battery level value")
	}
	level := int(buf[0])
	if level > 100 {
		return 0, fmt.Errorf("battery level out of range: %d", level)
	}
	return level, nil
}

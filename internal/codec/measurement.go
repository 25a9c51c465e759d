package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/glucosync/glucolink/glucose"
)

// Glucose Measurement flags (byte 0 of the notification).
const (
	flagTimeOffsetPresent    = 1 << 0
	flagConcentrationPresent = 1 << 1
	flagUnitMmol             = 1 << 2
	flagSensorStatusPresent  = 1 << 3
	flagContextFollows       = 1 << 4
)

// Fixed part of the layout: flags, sequence number, base time.
const baseTimeEnd = 10

// Measurement is one decoded Glucose Measurement record before it is
// normalized into a glucose.Reading by the session.
type Measurement struct {
	Sequence       uint16
	Timestamp      time.Time
	TimeOffsetMin  *int16
	Value          float64
	Unit           glucose.Unit
	SampleType     int
	SampleLocation int
	SensorStatus   *uint16
	ContextFollows bool
}

// DecodeMeasurement decodes a raw Glucose Measurement notification buffer.
// It returns (nil, nil) for context-only records, i.e. when the glucose
// concentration present flag (bit 1) is unset, and a non-nil error for
// malformed or truncated buffers. Callers log decode errors and continue;
// one bad notification must not abort an in-progress transfer.
func DecodeMeasurement(buf []byte) (*Measurement, error) {
	if len(buf) < baseTimeEnd {
		return nil, fmt.Errorf("measurement too short: %d bytes", len(buf))
	}

	flags := buf[0]
	m := &Measurement{
		Sequence: binary.LittleEndian.Uint16(buf[1:3]),
	}

	year := int(binary.LittleEndian.Uint16(buf[3:5]))
	month := time.Month(buf[5])
	day := int(buf[6])
	if year == 0 || month < time.January || month > time.December || day == 0 {
		return nil, fmt.Errorf("invalid base time in measurement seq=%d", m.Sequence)
	}
	m.Timestamp = time.Date(year, month, day, int(buf[7]), int(buf[8]), int(buf[9]), 0, time.UTC)

	offset := baseTimeEnd
	if flags&flagTimeOffsetPresent != 0 {
		if len(buf) < offset+2 {
			return nil, fmt.Errorf("measurement seq=%d truncated at time offset", m.Sequence)
		}
		// Parsed for completeness; carried as metadata only. The decoded
		// timestamp stays the base time.
		off := int16(binary.LittleEndian.Uint16(buf[offset : offset+2]))
		m.TimeOffsetMin = &off
		offset += 2
	}

	if flags&flagConcentrationPresent == 0 {
		// Context-only record, not a reading.
		return nil, nil
	}

	if len(buf) < offset+3 {
		return nil, fmt.Errorf("measurement seq=%d truncated at concentration", m.Sequence)
	}

	m.Unit = glucose.MGDL
	if flags&flagUnitMmol != 0 {
		m.Unit = glucose.MMOL
	}

	raw := binary.LittleEndian.Uint16(buf[offset : offset+2])
	m.Value = round1(DecodeSFloat(raw, m.Unit))
	typeLoc := buf[offset+2]
	m.SampleType = int(typeLoc >> 4)
	m.SampleLocation = int(typeLoc & 0x0F)
	offset += 3

	if flags&flagSensorStatusPresent != 0 {
		if len(buf) < offset+2 {
			return nil, fmt.Errorf("measurement seq=%d truncated at sensor status", m.Sequence)
		}
		status := binary.LittleEndian.Uint16(buf[offset : offset+2])
		m.SensorStatus = &status
		offset += 2
	}

	m.ContextFollows = flags&flagContextFollows != 0
	return m, nil
}

// EncodeMeasurement builds a Glucose Measurement notification buffer. The
// mock transport uses it to synthesize the same wire format real meters
// produce; tests use it for round trips.
func EncodeMeasurement(m *Measurement) []byte {
	var flags byte
	size := baseTimeEnd + 3
	if m.TimeOffsetMin != nil {
		flags |= flagTimeOffsetPresent
		size += 2
	}
	flags |= flagConcentrationPresent
	if m.Unit == glucose.MMOL {
		flags |= flagUnitMmol
	}
	if m.SensorStatus != nil {
		flags |= flagSensorStatusPresent
		size += 2
	}
	if m.ContextFollows {
		flags |= flagContextFollows
	}

	buf := make([]byte, size)
	buf[0] = flags
	binary.LittleEndian.PutUint16(buf[1:3], m.Sequence)
	ts := m.Timestamp.UTC()
	binary.LittleEndian.PutUint16(buf[3:5], uint16(ts.Year()))
	buf[5] = byte(ts.Month())
	buf[6] = byte(ts.Day())
	buf[7] = byte(ts.Hour())
	buf[8] = byte(ts.Minute())
	buf[9] = byte(ts.Second())

	offset := baseTimeEnd
	if m.TimeOffsetMin != nil {
		binary.LittleEndian.PutUint16(buf[offset:offset+2], uint16(*m.TimeOffsetMin))
		offset += 2
	}

	binary.LittleEndian.PutUint16(buf[offset:offset+2], sfloatFor(m.Value, m.Unit))
	buf[offset+2] = byte(m.SampleType)<<4 | byte(m.SampleLocation)&0x0F
	offset += 3

	if m.SensorStatus != nil {
		binary.LittleEndian.PutUint16(buf[offset:offset+2], *m.SensorStatus)
	}
	return buf
}

// sfloatFor picks a mantissa/exponent pair whose decoded value matches v
// in the given working unit to one decimal place.
func sfloatFor(v float64, unit glucose.Unit) uint16 {
	shift := mgdlExponentShift
	if unit == glucose.MMOL {
		shift = mmolExponentShift
	}
	// One decimal place of the working unit.
	mantissa := int(math.Round(v * 10))
	exponent := -1 - shift
	for mantissa != 0 && mantissa%10 == 0 && exponent < 7 {
		mantissa /= 10
		exponent++
	}
	// 12-bit signed mantissa; shed precision rather than overflow.
	for mantissa > 2047 || mantissa < -2048 {
		mantissa = int(math.Round(float64(mantissa) / 10))
		exponent++
	}
	return EncodeSFloat(mantissa, exponent)
}

func round1(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return math.Round(v*10) / 10
}

package codec

import (
	"encoding/binary"
	"fmt"
)

// Measurement Context flags (byte 0 of a 2A34 notification).
const (
	ctxFlagCarbPresent     = 1 << 0
	ctxFlagMealPresent     = 1 << 1
	ctxFlagTesterPresent   = 1 << 2
	ctxFlagExercisePresent = 1 << 3
	ctxFlagMedPresent      = 1 << 4
	ctxFlagMedUnitLiters   = 1 << 5
	ctxFlagHbA1cPresent    = 1 << 6
	ctxFlagExtendedFlags   = 1 << 7
)

// Meal codes.
const (
	MealPreprandial  = 1
	MealPostprandial = 2
	MealFasting      = 3
	MealCasual       = 4
	MealBedtime      = 5
)

// Context is a decoded Glucose Measurement Context record. Fields the
// profile marks optional stay nil when absent. Values beyond the meal
// code are carried raw; interpretation belongs to the caller.
type Context struct {
	Sequence          uint16
	CarbID            *byte
	CarbKg            *float64
	Meal              *byte
	ExerciseSeconds   *uint16
	ExerciseIntensity *byte
}

// Fasting reports whether the context marks the reading as a fasting
// measurement.
func (c *Context) Fasting() bool {
	return c.Meal != nil && *c.Meal == MealFasting
}

// DecodeContext decodes a Glucose Measurement Context notification. The
// context is matched to its measurement by sequence number.
func DecodeContext(buf []byte) (*Context, error) {
	if len(buf) < 3 {
		return nil, fmt.Errorf("context too short: %d bytes", len(buf))
	}
	flags := buf[0]
	c := &Context{Sequence: binary.LittleEndian.Uint16(buf[1:3])}
	offset := 3

	if flags&ctxFlagExtendedFlags != 0 {
		if len(buf) < offset+1 {
			return nil, fmt.Errorf("context seq=%d truncated at extended flags", c.Sequence)
		}
		offset++
	}
	if flags&ctxFlagCarbPresent != 0 {
		if len(buf) < offset+3 {
			return nil, fmt.Errorf("context seq=%d truncated at carbohydrate", c.Sequence)
		}
		id := buf[offset]
		c.CarbID = &id
		// Carbohydrate is SFLOAT kilograms; no unit shift applies.
		raw := binary.LittleEndian.Uint16(buf[offset+1 : offset+3])
		kg := sfloatValue(raw, 0)
		c.CarbKg = &kg
		offset += 3
	}
	if flags&ctxFlagMealPresent != 0 {
		if len(buf) < offset+1 {
			return nil, fmt.Errorf("context seq=%d truncated at meal", c.Sequence)
		}
		meal := buf[offset]
		c.Meal = &meal
		offset++
	}
	if flags&ctxFlagTesterPresent != 0 {
		if len(buf) < offset+1 {
			return nil, fmt.Errorf("context seq=%d truncated at tester", c.Sequence)
		}
		offset++
	}
	if flags&ctxFlagExercisePresent != 0 {
		if len(buf) < offset+3 {
			return nil, fmt.Errorf("context seq=%d truncated at exercise", c.Sequence)
		}
		dur := binary.LittleEndian.Uint16(buf[offset : offset+2])
		intensity := buf[offset+2]
		c.ExerciseSeconds = &dur
		c.ExerciseIntensity = &intensity
		offset += 3
	}
	// Medication and HbA1c fields are not consumed by any caller yet;
	// they are validated implicitly by length checks above only.
	return c, nil
}

// Package codec implements the binary formats of the Glucose Profile:
// the 16-bit SFLOAT encoding, the Glucose Measurement notification layout,
// and the Record Access Control Point command/response structures. All
// functions are pure and reentrant.
package codec

import (
	"math"

	"github.com/glucosync/glucolink/glucose"
)

// SFLOAT reserved sentinel values.
const (
	sfloatNaN         = 0x07FF
	sfloatNRes        = 0x0800
	sfloatReservedNaN = 0x0801
	sfloatPositiveInf = 0x07FE
	sfloatNegativeInf = 0x0802
)

// Exponent shift applied when converting the protocol base unit
// (kg/L or mol/L) into the working unit (mg/dL or mmol/L).
const (
	mgdlExponentShift = 5
	mmolExponentShift = 3
)

// DecodeSFloat decodes a 16-bit SFLOAT: top 4 bits are a two's-complement
// exponent, low 12 bits a two's-complement mantissa, value mantissa*10^exp.
// The five reserved codes map to NaN and the infinities. The unit selects
// the exponent shift out of the protocol base unit.
func DecodeSFloat(raw uint16, unit glucose.Unit) float64 {
	shift := mgdlExponentShift
	if unit == glucose.MMOL {
		shift = mmolExponentShift
	}
	return sfloatValue(raw, shift)
}

// sfloatValue decodes raw with an explicit exponent shift. Fields that
// are not concentrations (e.g. context carbohydrate mass) use shift 0.
func sfloatValue(raw uint16, shift int) float64 {
	switch raw {
	case sfloatNaN, sfloatNRes, sfloatReservedNaN:
		return math.NaN()
	case sfloatPositiveInf:
		return math.Inf(1)
	case sfloatNegativeInf:
		return math.Inf(-1)
	}

	exponent := int(raw >> 12)
	if exponent >= 8 {
		exponent -= 16
	}
	mantissa := int(raw & 0x0FFF)
	if mantissa >= 2048 {
		mantissa -= 4096
	}
	return float64(mantissa) * math.Pow10(exponent+shift)
}

// EncodeSFloat packs a mantissa/exponent pair into the SFLOAT wire form.
// Values are truncated to the representable 12-bit/4-bit ranges; used by
// the mock transport and round-trip tests.
func EncodeSFloat(mantissa, exponent int) uint16 {
	return uint16(exponent&0x0F)<<12 | uint16(mantissa&0x0FFF)
}

// Package glucose defines the data model shared by every layer of
// glucolink: normalized readings, discovered device records, connection
// states and the error taxonomy the public surface reports.
package glucose

import (
	"time"
)

// Unit is the measurement unit of a glucose concentration value.
type Unit string

const (
	MGDL Unit = "mg/dL"
	MMOL Unit = "mmol/L"
)

// mmol/L to mg/dL conversion factor for glucose (molar mass 18.0182 g/mol).
const mgdlPerMmol = 18.0182

// Convert returns v expressed in the target unit. Converting to the same
// unit returns v unchanged.
func (u Unit) Convert(v float64, target Unit) float64 {
	if u == target {
		return v
	}
	if u == MMOL && target == MGDL {
		return v * mgdlPerMmol
	}
	if u == MGDL && target == MMOL {
		return v / mgdlPerMmol
	}
	return v
}

// Reading is one normalized glucose measurement. Readings are created by
// the codec, aggregated by the session, and returned to the caller; they
// are never mutated after creation.
type Reading struct {
	// ID is unique within the result of one sync call.
	ID        string    `json:"id"`
	Value     float64   `json:"value"`
	Unit      Unit      `json:"unit"`
	Timestamp time.Time `json:"timestamp"`

	// Source labels the producing transport or application, e.g. "ble".
	Source string `json:"source,omitempty"`

	// Fasting is set when the measurement context marks the reading as
	// preprandial/fasting.
	Fasting bool `json:"fasting,omitempty"`

	// ReadingType is the sample-location tag ("finger", "control_solution", ...).
	ReadingType string `json:"readingType,omitempty"`

	// Metadata carries protocol-level fields: sequence number, sample type
	// and location codes, raw sensor status flags, device id.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Sample type codes from the Glucose Measurement characteristic
// (type nibble of the type/location byte).
const (
	SampleTypeCapillaryWholeBlood    = 1
	SampleTypeCapillaryPlasma        = 2
	SampleTypeVenousWholeBlood       = 3
	SampleTypeVenousPlasma           = 4
	SampleTypeArterialWholeBlood     = 5
	SampleTypeArterialPlasma         = 6
	SampleTypeUndeterminedWholeBlood = 7
	SampleTypeUndeterminedPlasma     = 8
	SampleTypeInterstitialFluid      = 9
	SampleTypeControlSolution        = 10
)

// Sample location codes (location nibble of the type/location byte).
const (
	SampleLocationFinger          = 1
	SampleLocationAlternateSite   = 2
	SampleLocationEarlobe         = 3
	SampleLocationControlSolution = 4
	SampleLocationNotAvailable    = 15
)

var sampleTypeNames = map[int]string{
	SampleTypeCapillaryWholeBlood:    "capillary_whole_blood",
	SampleTypeCapillaryPlasma:        "capillary_plasma",
	SampleTypeVenousWholeBlood:       "venous_whole_blood",
	SampleTypeVenousPlasma:           "venous_plasma",
	SampleTypeArterialWholeBlood:     "arterial_whole_blood",
	SampleTypeArterialPlasma:         "arterial_plasma",
	SampleTypeUndeterminedWholeBlood: "undetermined_whole_blood",
	SampleTypeUndeterminedPlasma:     "undetermined_plasma",
	SampleTypeInterstitialFluid:      "interstitial_fluid",
	SampleTypeControlSolution:        "control_solution",
}

var sampleLocationNames = map[int]string{
	SampleLocationFinger:          "finger",
	SampleLocationAlternateSite:   "alternate_site",
	SampleLocationEarlobe:         "earlobe",
	SampleLocationControlSolution: "control_solution",
	SampleLocationNotAvailable:    "not_available",
}

// SampleTypeName returns the symbolic name for a SIG sample type code,
// or "" for unassigned codes.
func SampleTypeName(code int) string { return sampleTypeNames[code] }

// SampleLocationName returns the symbolic name for a SIG sample location
// code, or "" for unassigned codes.
func SampleLocationName(code int) string { return sampleLocationNames[code] }

// ReadingTypeFor maps the decoded type/location pair to the reading-type
// tag carried on a Reading. Control solution wins over location.
func ReadingTypeFor(sampleType, sampleLocation int) string {
	if sampleType == SampleTypeControlSolution || sampleLocation == SampleLocationControlSolution {
		return "control_solution"
	}
	if name, ok := sampleLocationNames[sampleLocation]; ok && sampleLocation != SampleLocationNotAvailable {
		return name
	}
	return ""
}

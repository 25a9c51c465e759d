package glucose

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnitConvert(t *testing.T) {
	tests := []struct {
		name     string
		from     Unit
		to       Unit
		value    float64
		expected float64
	}{
		{name: "mmol to mgdl", from: MMOL, to: MGDL, value: 5.5, expected: 99.1001},
		{name: "mgdl to mmol", from: MGDL, to: MMOL, value: 99.1001, expected: 5.5},
		{name: "same unit unchanged", from: MGDL, to: MGDL, value: 112, expected: 112},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, tt.from.Convert(tt.value, tt.to), 1e-4)
		})
	}
}

func TestUnitConvertRoundTrip(t *testing.T) {
	v := 7.2
	assert.InDelta(t, v, MGDL.Convert(MMOL.Convert(v, MGDL), MMOL), 1e-9)
}

func TestReadingTypeFor(t *testing.T) {
	tests := []struct {
		name           string
		sampleType     int
		sampleLocation int
		expected       string
	}{
		{name: "finger", sampleType: SampleTypeCapillaryWholeBlood, sampleLocation: SampleLocationFinger, expected: "finger"},
		{name: "alternate site", sampleType: SampleTypeCapillaryPlasma, sampleLocation: SampleLocationAlternateSite, expected: "alternate_site"},
		{name: "control solution type wins over location", sampleType: SampleTypeControlSolution, sampleLocation: SampleLocationFinger, expected: "control_solution"},
		{name: "control solution location", sampleType: SampleTypeCapillaryWholeBlood, sampleLocation: SampleLocationControlSolution, expected: "control_solution"},
		{name: "location not available", sampleType: SampleTypeCapillaryWholeBlood, sampleLocation: SampleLocationNotAvailable, expected: ""},
		{name: "unassigned location", sampleType: SampleTypeCapillaryWholeBlood, sampleLocation: 9, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ReadingTypeFor(tt.sampleType, tt.sampleLocation))
		})
	}
}

func TestSampleNames(t *testing.T) {
	assert.Equal(t, "capillary_whole_blood", SampleTypeName(SampleTypeCapillaryWholeBlood))
	assert.Equal(t, "earlobe", SampleLocationName(SampleLocationEarlobe))
	assert.Equal(t, "", SampleTypeName(0))
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumastream/luma/catalog"
)

func TestParseModeRoundTrip(t *testing.T) {
	for _, m := range AllModes {
		parsed, err := ParseMode(m.String())
		require.NoError(t, err, m.String())
		assert.Equal(t, m, parsed)
	}
}

func TestParseModeRejectsUnknown(t *testing.T) {
	_, err := ParseMode("turbo")
	assert.Error(t, err)
	_, err = ParseMode("")
	assert.Error(t, err)
}

func TestModeVocabularies(t *testing.T) {
	assert.Equal(t, catalog.VocCOCO21, ModeFast.Vocabulary())
	assert.Equal(t, catalog.VocCOCO21, ModeBalanced.Vocabulary())
	assert.Equal(t, catalog.VocADE150, ModeAccurate.Vocabulary())
	assert.Equal(t, catalog.VocADE150, ModeSOTA.Vocabulary())
}

func TestModeSpecsComplete(t *testing.T) {
	for _, m := range AllModes {
		spec := m.Spec()
		assert.NotEmpty(t, spec.ID, m.String())
		assert.NotEmpty(t, spec.File, m.String())
		assert.Greater(t, spec.InputH, 0, m.String())
		assert.Greater(t, spec.InputW, 0, m.String())
		assert.Greater(t, spec.DisplayFPS, 0, m.String())
		assert.Greater(t, spec.DisplayMB, 0, m.String())
	}
}

func TestDecodeKindsPerMode(t *testing.T) {
	assert.Equal(t, DecodeArgmax, ModeFast.Spec().Decode)
	assert.Equal(t, DecodeArgmax, ModeBalanced.Spec().Decode)
	assert.Equal(t, DecodeStridedArgmax, ModeAccurate.Spec().Decode)
	assert.Equal(t, DecodeQuery, ModeSOTA.Spec().Decode)
}

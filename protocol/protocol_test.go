package protocol

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInboundFrame(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"type":"frame","data":"aGVsbG8=","timestamp":1712345}`))
	require.NoError(t, err)
	assert.Equal(t, TypeFrame, msg.Type)
	assert.Equal(t, "aGVsbG8=", msg.Data)
	assert.Equal(t, int64(1712345), msg.Timestamp)
}

func TestParseInboundRejectsGarbage(t *testing.T) {
	_, err := ParseInbound([]byte(`{not json`))
	assert.Error(t, err)

	_, err = ParseInbound([]byte(`{"data":"x"}`))
	assert.Error(t, err, "missing type field")
}

func TestParseInboundUnknownTypeSurvives(t *testing.T) {
	// Unknown types must parse; the session decides to ignore them.
	msg, err := ParseInbound([]byte(`{"type":"telemetry_v9","data":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, "telemetry_v9", msg.Type)
}

func TestDecodeFrameData(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))

	raw, err := DecodeFrameData(payload)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), raw)
}

func TestDecodeFrameDataStripsDataURI(t *testing.T) {
	payload := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))

	raw, err := DecodeFrameData(payload)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), raw)
}

func TestDecodeFrameDataRejectsEmptyAndBad(t *testing.T) {
	_, err := DecodeFrameData("")
	assert.Error(t, err)

	_, err = DecodeFrameData("!!!not-base64!!!")
	assert.Error(t, err)
}

func TestClassFilterTriState(t *testing.T) {
	parse := func(raw string) *VizSettings {
		var s VizSettings
		require.NoError(t, json.Unmarshal([]byte(raw), &s))
		return &s
	}

	state, _, err := parse(`{"overlay_opacity":0.5}`).ParseClassFilter()
	require.NoError(t, err)
	assert.Equal(t, FilterAbsent, state)

	state, _, err = parse(`{"class_filter":null}`).ParseClassFilter()
	require.NoError(t, err)
	assert.Equal(t, FilterCleared, state)

	state, indices, err := parse(`{"class_filter":[1,5,9]}`).ParseClassFilter()
	require.NoError(t, err)
	assert.Equal(t, FilterSet, state)
	assert.Equal(t, []int{1, 5, 9}, indices)

	_, _, err = parse(`{"class_filter":"people"}`).ParseClassFilter()
	assert.Error(t, err)
}

func TestErrorRecoverability(t *testing.T) {
	for _, code := range []ErrorCode{
		ErrMalformedFrame, ErrInferenceFailed, ErrOutOfMemory,
		ErrModeChangeFailed, ErrVizUpdateFailed, ErrStatsFailed, ErrEncodeFailed,
	} {
		assert.True(t, code.Recoverable(), "code %s", code)
	}
}

func TestNewErrorEnvelope(t *testing.T) {
	e := NewError(ErrModeChangeFailed, "unknown model mode \"turbo\"")
	assert.Equal(t, TypeError, e.Type)
	assert.Equal(t, ErrModeChangeFailed, e.Code)
	assert.True(t, e.Recoverable)

	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type":"error",
		"code":"MODE_CHANGE_FAILED",
		"message":"unknown model mode \"turbo\"",
		"recoverable":true
	}`, string(data))
}

func TestOOMErrorCarriesHint(t *testing.T) {
	e := NewError(ErrOutOfMemory, "cudaMalloc failed")
	assert.Contains(t, e.Message, "lighter model mode")
}

func TestVizEchoNullFilterSerializesAsNull(t *testing.T) {
	data, err := json.Marshal(VizUpdatedMessage{
		Type:     TypeVizUpdated,
		Settings: VizEcho{VisualizationMode: "filled", OverlayOpacity: 0.6},
	})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"class_filter":null`)
}

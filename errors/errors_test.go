package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesIdentity(t *testing.T) {
	sentinel := New("sentinel")
	wrapped := Wrap(sentinel, "outer context")

	assert.True(t, Is(wrapped, sentinel))
	assert.Contains(t, wrapped.Error(), "outer context")
	assert.Contains(t, wrapped.Error(), "sentinel")
}

func TestHintsSurvivesWrapping(t *testing.T) {
	err := WithHint(New("boom"), "try a lighter mode")
	err = Wrap(err, "predict failed")

	hints := GetAllHints(err)
	require.Len(t, hints, 1)
	assert.Equal(t, "try a lighter mode", hints[0])
}

func TestNewfFormats(t *testing.T) {
	err := Newf("mode %q not known", "turbo")
	assert.Equal(t, `mode "turbo" not known`, err.Error())
}

package engine

import "strings"

// oomMarkers are substrings that identify resource exhaustion in runtime
// error strings. ONNX Runtime and the CUDA provider do not expose a typed
// error for this, so classification is textual.
var oomMarkers = []string{
	"out of memory",
	"oom",
	"resource exhausted",
	"failed to allocate",
	"alloc failed",
	"cudamalloc",
}

// IsResourceExhausted reports whether an inference error is a memory
// exhaustion failure. These are distinguished from other model failures
// because the client can recover by switching to a lighter mode.
func IsResourceExhausted(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range oomMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

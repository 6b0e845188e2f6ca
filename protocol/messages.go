// Package protocol defines the JSON wire format between browser clients and
// the gateway: one UTF-8 JSON document per WebSocket text message, tagged by
// a mandatory "type" field. Image payloads are base64 JPEG without the
// data: URI prefix (tolerated and stripped on decode).
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/lumastream/luma/errors"
)

// Inbound message types.
const (
	TypeFrame      = "frame"
	TypeChangeMode = "change_mode"
	TypeUpdateViz  = "update_viz"
	TypeGetStats   = "get_stats"
)

// Outbound message types.
const (
	TypeConnected    = "connected"
	TypeSegmentation = "segmentation"
	TypeModeChanged  = "mode_changed"
	TypeVizUpdated   = "viz_updated"
	TypeStats        = "stats"
	TypeError        = "error"
)

// Inbound is the decoded client envelope. Fields are populated per Type;
// unknown types are surfaced as-is for the session to log and ignore.
type Inbound struct {
	Type      string       `json:"type"`
	Data      string       `json:"data,omitempty"`       // frame: base64 JPEG
	Timestamp int64        `json:"timestamp,omitempty"`  // frame: client-local ms since epoch
	ModelMode string       `json:"model_mode,omitempty"` // change_mode
	Settings  *VizSettings `json:"settings,omitempty"`   // update_viz
}

// VizSettings carries the update_viz payload. Every field is optional;
// absent fields leave the session's value unchanged. ClassFilter is
// tri-state (absent / null / list), so it stays raw until ParseClassFilter.
type VizSettings struct {
	VisualizationMode *string         `json:"visualization_mode,omitempty"`
	OverlayOpacity    *float64        `json:"overlay_opacity,omitempty"`
	ClassFilter       json.RawMessage `json:"class_filter,omitempty"`
}

// ClassFilterState distinguishes the three shapes of class_filter.
type ClassFilterState int

const (
	// FilterAbsent: the key was not present; keep the current filter.
	FilterAbsent ClassFilterState = iota
	// FilterCleared: explicit null; show all classes.
	FilterCleared
	// FilterSet: a list of class indices.
	FilterSet
)

// ParseClassFilter resolves the tri-state class_filter field.
func (s *VizSettings) ParseClassFilter() (ClassFilterState, []int, error) {
	if len(s.ClassFilter) == 0 {
		return FilterAbsent, nil, nil
	}
	if string(s.ClassFilter) == "null" {
		return FilterCleared, nil, nil
	}
	var indices []int
	if err := json.Unmarshal(s.ClassFilter, &indices); err != nil {
		return FilterAbsent, nil, errors.Wrap(err, "class_filter must be a list of integers or null")
	}
	return FilterSet, indices, nil
}

// ParseInbound decodes one client message.
func ParseInbound(data []byte) (*Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, errors.Wrap(err, "invalid message envelope")
	}
	if msg.Type == "" {
		return nil, errors.New("message has no type field")
	}
	return &msg, nil
}

// DecodeFrameData base64-decodes a frame payload, stripping a data: URI
// prefix when a client sends one anyway.
func DecodeFrameData(data string) ([]byte, error) {
	if idx := strings.IndexByte(data, ','); idx >= 0 && strings.HasPrefix(data, "data:") {
		data = data[idx+1:]
	}
	if data == "" {
		return nil, errors.New("empty frame data")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, errors.Wrap(err, "frame data is not valid base64")
	}
	return raw, nil
}

// EncodeFrameData base64-encodes a reply image payload.
func EncodeFrameData(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// ModelInfo describes one available mode in the connected envelope.
type ModelInfo struct {
	Mode        string `json:"mode"`
	ModelID     string `json:"model_id"`
	InputSize   [2]int `json:"input_size"` // H, W
	Vocabulary  string `json:"vocabulary"`
	NumClasses  int    `json:"num_classes"`
	ExpectedFPS int    `json:"expected_fps"`
	MemoryMB    int    `json:"memory_mb"`
}

// ConnectedMessage is sent once when a session reaches READY.
type ConnectedMessage struct {
	Type            string      `json:"type"`
	Status          string      `json:"status"`
	AvailableModels []ModelInfo `json:"available_models"`
	ClassLabels     []string    `json:"class_labels"`
	CurrentModel    string      `json:"current_model"`
}

// SegmentationMetadata accompanies every segmentation reply.
type SegmentationMetadata struct {
	InferenceTimeMS float64  `json:"inference_time_ms"`
	FPS             float64  `json:"fps"`
	ModelMode       string   `json:"model_mode"`
	DetectedClasses []string `json:"detected_classes"`
	Timestamp       int64    `json:"timestamp,omitempty"` // echoed client timestamp
}

// SegmentationMessage is the reply to an admitted frame.
type SegmentationMessage struct {
	Type     string               `json:"type"`
	Data     string               `json:"data"` // base64 JPEG
	Metadata SegmentationMetadata `json:"metadata"`
}

// ModeChangedMessage confirms a change_mode request, idempotently.
type ModeChangedMessage struct {
	Type        string   `json:"type"`
	ModelMode   string   `json:"model_mode"`
	ClassLabels []string `json:"class_labels"`
}

// VizEcho is the applied-settings echo inside viz_updated.
type VizEcho struct {
	VisualizationMode string  `json:"visualization_mode"`
	OverlayOpacity    float64 `json:"overlay_opacity"`
	ClassFilter       []int   `json:"class_filter"` // nil serializes as null = all
}

// VizUpdatedMessage confirms an update_viz request with the settings that
// actually took effect (after clamping and filtering).
type VizUpdatedMessage struct {
	Type     string  `json:"type"`
	Settings VizEcho `json:"settings"`
}

// StatsMessage is the reply to get_stats.
type StatsMessage struct {
	Type            string  `json:"type"`
	FPS             float64 `json:"fps"`
	AvgInferenceMS  float64 `json:"avg_inference_ms"`
	FramesInFlight  int64   `json:"frames_in_flight"`
	FramesDropped   int64   `json:"frames_dropped"`
	FramesProcessed int64   `json:"frames_processed"`
}

// ErrorMessage is the uniform error envelope.
type ErrorMessage struct {
	Type        string    `json:"type"`
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
}

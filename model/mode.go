// Package model defines the four model modes, the model abstraction over
// ONNX Runtime, and the process-wide pool that loads each model exactly once.
package model

import (
	"github.com/lumastream/luma/catalog"
	"github.com/lumastream/luma/errors"
)

// Mode is one of the four named model presets. Each fixes the neural model,
// its input size, its class vocabulary, and its output-decoding contract.
type Mode int

const (
	// ModeFast trades accuracy for frame rate (mobile backbone, COCO/VOC classes).
	ModeFast Mode = iota
	// ModeBalanced is the default: a mid-size CNN head on COCO/VOC classes.
	ModeBalanced
	// ModeAccurate is a transformer segmentation head on ADE20K classes.
	ModeAccurate
	// ModeSOTA is a query-based head (mask + class logits) on ADE20K classes.
	ModeSOTA
)

// AllModes lists every mode in wire order.
var AllModes = []Mode{ModeFast, ModeBalanced, ModeAccurate, ModeSOTA}

// DecodeKind selects the output-decoding contract for a mode.
type DecodeKind int

const (
	// DecodeArgmax: output is logits (1, C, H, W) at input resolution;
	// class map is argmax over the class axis.
	DecodeArgmax DecodeKind = iota
	// DecodeStridedArgmax: logits (1, C, h, w) at the model's internal
	// stride; upsample to input resolution, then argmax.
	DecodeStridedArgmax
	// DecodeQuery: two outputs, mask logits (1, Q, h, w) and class logits
	// (1, Q, C+1) with a trailing no-object sink; combined per pixel.
	DecodeQuery
)

// Spec is the static description of a mode.
type Spec struct {
	ID         string             // model identifier, opaque to the core
	File       string             // default ONNX file name under models.dir
	InputH     int                // model input height
	InputW     int                // model input width
	Vocabulary catalog.Vocabulary // class vocabulary
	Decode     DecodeKind
	DisplayFPS int // expected throughput, UI display only
	DisplayMB  int // expected memory footprint, UI display only
}

var specs = map[Mode]Spec{
	ModeFast: {
		ID:         "lraspp-mobilenetv3",
		File:       "lraspp_mobilenetv3.onnx",
		InputH:     256,
		InputW:     256,
		Vocabulary: catalog.VocCOCO21,
		Decode:     DecodeArgmax,
		DisplayFPS: 45,
		DisplayMB:  320,
	},
	ModeBalanced: {
		ID:         "deeplabv3-resnet50",
		File:       "deeplabv3_resnet50.onnx",
		InputH:     384,
		InputW:     384,
		Vocabulary: catalog.VocCOCO21,
		Decode:     DecodeArgmax,
		DisplayFPS: 25,
		DisplayMB:  950,
	},
	ModeAccurate: {
		ID:         "segformer-b2-ade",
		File:       "segformer_b2_ade.onnx",
		InputH:     512,
		InputW:     512,
		Vocabulary: catalog.VocADE150,
		Decode:     DecodeStridedArgmax,
		DisplayFPS: 12,
		DisplayMB:  1700,
	},
	ModeSOTA: {
		ID:         "mask2former-swin-ade",
		File:       "mask2former_swin_ade.onnx",
		InputH:     384,
		InputW:     384,
		Vocabulary: catalog.VocADE150,
		Decode:     DecodeQuery,
		DisplayFPS: 5,
		DisplayMB:  2600,
	},
}

// String returns the wire spelling of the mode.
func (m Mode) String() string {
	switch m {
	case ModeFast:
		return "fast"
	case ModeBalanced:
		return "balanced"
	case ModeAccurate:
		return "accurate"
	case ModeSOTA:
		return "sota"
	default:
		return "unknown"
	}
}

// ParseMode parses the wire spelling of a model mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "fast":
		return ModeFast, nil
	case "balanced":
		return ModeBalanced, nil
	case "accurate":
		return ModeAccurate, nil
	case "sota":
		return ModeSOTA, nil
	default:
		return ModeBalanced, errors.Newf("unknown model mode %q", s)
	}
}

// Spec returns the static description of the mode.
func (m Mode) Spec() Spec {
	return specs[m]
}

// Vocabulary returns the class vocabulary for the mode.
func (m Mode) Vocabulary() catalog.Vocabulary {
	return specs[m].Vocabulary
}

// NumClasses returns the class count for the mode's vocabulary.
func (m Mode) NumClasses() int {
	return specs[m].Vocabulary.NumClasses()
}

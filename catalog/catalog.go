// Package catalog holds the static class vocabularies and their color
// palettes. Two vocabularies exist: a 21-entry COCO/VOC subset used by the
// fast and balanced model modes, and a 150-entry ADE20K list used by the
// accurate and sota modes. Index 0 is reserved for background in both.
package catalog

import "sync"

// RGB is one palette entry.
type RGB [3]uint8

// Vocabulary identifies a class vocabulary.
type Vocabulary int

const (
	// VocCOCO21 is the 21-class COCO/VOC subset (background + 20 objects).
	VocCOCO21 Vocabulary = iota
	// VocADE150 is the 150-class ADE20K scene-parsing vocabulary.
	VocADE150
)

// String returns the vocabulary identifier used on the wire and in logs.
func (v Vocabulary) String() string {
	switch v {
	case VocCOCO21:
		return "coco21"
	case VocADE150:
		return "ade150"
	default:
		return "unknown"
	}
}

// coco21Labels follows the torchvision COCO-with-VOC-labels ordering.
var coco21Labels = []string{
	"background",
	"aeroplane", "bicycle", "bird", "boat", "bottle",
	"bus", "car", "cat", "chair", "cow",
	"dining table", "dog", "horse", "motorbike", "person",
	"potted plant", "sheep", "sofa", "train", "tv monitor",
}

// Labels returns the ordered label list for the vocabulary.
// The returned slice is shared; callers must not mutate it.
func (v Vocabulary) Labels() []string {
	switch v {
	case VocCOCO21:
		return coco21Labels
	case VocADE150:
		return ade150Labels
	default:
		return nil
	}
}

// NumClasses returns the number of classes, background included.
func (v Vocabulary) NumClasses() int {
	return len(v.Labels())
}

// Label returns the human-readable label for a class index, or "" when the
// index is out of range.
func (v Vocabulary) Label(idx int) string {
	labels := v.Labels()
	if idx < 0 || idx >= len(labels) {
		return ""
	}
	return labels[idx]
}

var (
	paletteOnce [2]sync.Once
	palettes    [2][]RGB
)

// Palette returns the class→color table for the vocabulary. The table is
// computed on first access and cached for the process lifetime. The returned
// slice is shared; callers must not mutate it.
func (v Vocabulary) Palette() []RGB {
	if v != VocCOCO21 && v != VocADE150 {
		return nil
	}
	paletteOnce[v].Do(func() {
		switch v {
		case VocCOCO21:
			palettes[v] = bitReversalPalette(VocCOCO21.NumClasses())
		case VocADE150:
			palettes[v] = spreadPalette(VocADE150.NumClasses())
		}
	})
	return palettes[v]
}

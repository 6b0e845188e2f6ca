// Package render composes a class map onto the original frame using one of
// four visualization modes. All modes operate on tight RGB buffers and a
// shared per-vocabulary palette; the class map itself is never modified.
package render

import (
	"github.com/lumastream/luma/catalog"
	"github.com/lumastream/luma/codec"
	"github.com/lumastream/luma/errors"
)

// Mode is the pixel-composition scheme for reply frames.
type Mode int

const (
	// Filled alpha-blends a flat class-color layer over the image.
	Filled Mode = iota
	// Contour draws one-pixel class boundaries in the class color.
	Contour
	// SideBySide shows the original next to a fully opaque filled view.
	SideBySide
	// Blend repaints the image's hue with the class color, keeping
	// saturation and value from the original.
	Blend
)

// String returns the wire spelling of the mode.
func (m Mode) String() string {
	switch m {
	case Filled:
		return "filled"
	case Contour:
		return "contour"
	case SideBySide:
		return "side-by-side"
	case Blend:
		return "blend"
	default:
		return "unknown"
	}
}

// ParseMode parses the wire spelling of a visualization mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "filled":
		return Filled, nil
	case "contour":
		return Contour, nil
	case "side-by-side", "side_by_side":
		return SideBySide, nil
	case "blend":
		return Blend, nil
	default:
		return Filled, errors.Newf("unknown visualization mode %q", s)
	}
}

// Settings carries the per-render parameters. Opacity is clamped to [0,1]
// by the caller (session dispatch); Filter nil means "all classes".
type Settings struct {
	Mode    Mode
	Opacity float64
	Filter  map[int]bool
}

// passes reports whether a class index survives the filter.
func (s *Settings) passes(class int32) bool {
	if s.Filter == nil {
		return true
	}
	return s.Filter[int(class)]
}

// Renderer renders class maps for one session. The palette follows the
// session's active model mode and is swapped on mode change.
type Renderer struct {
	palette []catalog.RGB
}

// New creates a renderer over the given palette.
func New(palette []catalog.RGB) *Renderer {
	return &Renderer{palette: palette}
}

// SetPalette swaps the palette, e.g. after a model-mode change.
func (r *Renderer) SetPalette(palette []catalog.RGB) {
	r.palette = palette
}

// color returns the palette entry for a class, black for out-of-range.
func (r *Renderer) color(class int32) catalog.RGB {
	if class < 0 || int(class) >= len(r.palette) {
		return catalog.RGB{}
	}
	return r.palette[class]
}

// Render produces the reply image for the given mode. The output has the
// input's dimensions except in SideBySide mode, where the width doubles.
func (r *Renderer) Render(img *codec.Image, cm *codec.ClassMap, s Settings) (*codec.Image, error) {
	if img.W != cm.W || img.H != cm.H {
		return nil, errors.Newf("image %dx%d and class map %dx%d disagree", img.W, img.H, cm.W, cm.H)
	}

	switch s.Mode {
	case Filled:
		return r.renderFilled(img, cm, &s), nil
	case Contour:
		return r.renderContour(img, cm, &s), nil
	case SideBySide:
		return r.renderSideBySide(img, cm, &s), nil
	case Blend:
		return r.renderBlend(img, cm, &s), nil
	default:
		return nil, errors.Newf("unknown render mode %d", s.Mode)
	}
}

// renderFilled blends the class-color layer over the image at the given
// opacity. Filtered-out pixels show the original.
func (r *Renderer) renderFilled(img *codec.Image, cm *codec.ClassMap, s *Settings) *codec.Image {
	out := img.Clone()
	a := s.Opacity
	if a <= 0 {
		return out
	}
	inv := 1 - a
	for i, class := range cm.Idx {
		if !s.passes(class) {
			continue
		}
		c := r.color(class)
		off := i * 3
		out.Pix[off] = blendByte(img.Pix[off], c[0], inv, a)
		out.Pix[off+1] = blendByte(img.Pix[off+1], c[1], inv, a)
		out.Pix[off+2] = blendByte(img.Pix[off+2], c[2], inv, a)
	}
	return out
}

// renderContour draws one-pixel class boundaries. A boundary pixel is drawn
// only when its own class and the differing neighbor's class both pass the
// filter; everything else shows the original image. Opacity has no effect.
func (r *Renderer) renderContour(img *codec.Image, cm *codec.ClassMap, s *Settings) *codec.Image {
	out := img.Clone()
	w, h := cm.W, cm.H
	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			class := cm.Idx[row+x]
			if !s.passes(class) {
				continue
			}
			if !onBoundary(cm, x, y, class, s) {
				continue
			}
			c := r.color(class)
			off := (row + x) * 3
			out.Pix[off] = c[0]
			out.Pix[off+1] = c[1]
			out.Pix[off+2] = c[2]
		}
	}
	return out
}

// onBoundary reports whether (x, y) has a 4-neighbor of a different class
// that also passes the filter.
func onBoundary(cm *codec.ClassMap, x, y int, class int32, s *Settings) bool {
	w, h := cm.W, cm.H
	if x > 0 {
		if n := cm.Idx[y*w+x-1]; n != class && s.passes(n) {
			return true
		}
	}
	if x < w-1 {
		if n := cm.Idx[y*w+x+1]; n != class && s.passes(n) {
			return true
		}
	}
	if y > 0 {
		if n := cm.Idx[(y-1)*w+x]; n != class && s.passes(n) {
			return true
		}
	}
	if y < h-1 {
		if n := cm.Idx[(y+1)*w+x]; n != class && s.passes(n) {
			return true
		}
	}
	return false
}

// renderSideBySide places the original on the left and the fully opaque
// class-color view on the right. Filtered-out pixels are black on the
// right. Opacity has no effect.
func (r *Renderer) renderSideBySide(img *codec.Image, cm *codec.ClassMap, s *Settings) *codec.Image {
	w, h := img.W, img.H
	out := codec.NewImage(2*w, h)
	for y := 0; y < h; y++ {
		srcRow := y * w * 3
		dstRow := y * 2 * w * 3
		copy(out.Pix[dstRow:dstRow+w*3], img.Pix[srcRow:srcRow+w*3])

		for x := 0; x < w; x++ {
			class := cm.Idx[y*w+x]
			off := dstRow + (w+x)*3
			if !s.passes(class) {
				continue // stays black
			}
			c := r.color(class)
			out.Pix[off] = c[0]
			out.Pix[off+1] = c[1]
			out.Pix[off+2] = c[2]
		}
	}
	return out
}

// renderBlend replaces each pixel's hue with the class color's hue while
// keeping the original saturation and value, so image detail survives the
// recoloring. Filtered-out pixels show the original.
func (r *Renderer) renderBlend(img *codec.Image, cm *codec.ClassMap, s *Settings) *codec.Image {
	out := img.Clone()

	// Hue per palette entry is constant; precompute once per call.
	hues := make([]float64, len(r.palette))
	for i, c := range r.palette {
		hues[i], _, _ = rgbToHSV(c[0], c[1], c[2])
	}

	for i, class := range cm.Idx {
		if !s.passes(class) {
			continue
		}
		var hue float64
		if int(class) < len(hues) && class >= 0 {
			hue = hues[class]
		}
		off := i * 3
		_, sat, val := rgbToHSV(img.Pix[off], img.Pix[off+1], img.Pix[off+2])
		nr, ng, nb := hsvToRGB(hue, sat, val)
		out.Pix[off] = nr
		out.Pix[off+1] = ng
		out.Pix[off+2] = nb
	}
	return out
}

// blendByte computes (inv*orig + a*color) clamped to [0,255].
func blendByte(orig, col uint8, inv, a float64) uint8 {
	v := inv*float64(orig) + a*float64(col)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

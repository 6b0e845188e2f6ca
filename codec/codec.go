// Package codec converts between compressed frame payloads, tightly packed
// RGB images, NCHW float tensors, and class maps. It owns every pixel-format
// concern so the engine and renderer never touch encoded bytes.
package codec

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/lumastream/luma/errors"
)

// Image is a tightly packed 8-bit RGB image, row-major, no padding.
// len(Pix) == W*H*3.
type Image struct {
	W, H int
	Pix  []uint8
}

// NewImage allocates a zeroed W×H RGB image.
func NewImage(w, h int) *Image {
	return &Image{W: w, H: h, Pix: make([]uint8, w*h*3)}
}

// At returns the pixel at (x, y) as an offset into Pix.
func (m *Image) At(x, y int) int {
	return (y*m.W + x) * 3
}

// Clone returns a deep copy.
func (m *Image) Clone() *Image {
	out := &Image{W: m.W, H: m.H, Pix: make([]uint8, len(m.Pix))}
	copy(out.Pix, m.Pix)
	return out
}

// ClassMap assigns every pixel a class index. Values lie in
// [0, NumClasses) for the mode that produced it.
type ClassMap struct {
	W, H int
	Idx  []int32
}

// NewClassMap allocates a zeroed W×H class map (all background).
func NewClassMap(w, h int) *ClassMap {
	return &ClassMap{W: w, H: h, Idx: make([]int32, w*h)}
}

// Classes returns the set of class indices present in the map, ascending.
func (c *ClassMap) Classes() []int {
	seen := make(map[int32]bool)
	for _, v := range c.Idx {
		seen[v] = true
	}
	out := make([]int, 0, len(seen))
	max := int32(-1)
	for v := range seen {
		if v > max {
			max = v
		}
	}
	for v := int32(0); v <= max; v++ {
		if seen[v] {
			out = append(out, int(v))
		}
	}
	return out
}

// Frame is one decoded client frame plus its client-local timestamp.
type Frame struct {
	Image       *Image
	TimestampMS int64
}

// Decode parses a JPEG payload into a tight RGB image. Empty payloads,
// unparseable headers, and images that are not 3-channel 8-bit are rejected.
func Decode(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty frame payload")
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "jpeg decode failed")
	}

	switch img.(type) {
	case *image.YCbCr, *image.RGBA, *image.NRGBA:
		// 3 color channels, 8 bits each
	default:
		// Grayscale and CMYK JPEGs are not camera frames.
		return nil, errors.Newf("unsupported pixel layout %T, want 3-channel 8-bit", img)
	}

	return fromStdImage(img), nil
}

// Encode JPEG-encodes an RGB image at the given quality (1-100; the stdlib
// encoder clamps out-of-range values).
func Encode(m *Image, quality int) ([]byte, error) {
	if m == nil || m.W < 1 || m.H < 1 {
		return nil, errors.New("cannot encode empty image")
	}
	if len(m.Pix) != m.W*m.H*3 {
		return nil, errors.Newf("image buffer length %d does not match %dx%dx3", len(m.Pix), m.W, m.H)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, m.toRGBA(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, errors.Wrap(err, "jpeg encode failed")
	}
	return buf.Bytes(), nil
}

// fromStdImage converts any stdlib image to tight RGB.
func fromStdImage(img image.Image) *Image {
	b := img.Bounds()
	out := NewImage(b.Dx(), b.Dy())
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out.Pix[i] = uint8(r >> 8)
			out.Pix[i+1] = uint8(g >> 8)
			out.Pix[i+2] = uint8(bl >> 8)
			i += 3
		}
	}
	return out
}

// toRGBA wraps the tight RGB buffer in a stdlib RGBA image for encoding.
func (m *Image) toRGBA() *image.RGBA {
	rgba := image.NewRGBA(image.Rect(0, 0, m.W, m.H))
	si := 0
	for y := 0; y < m.H; y++ {
		di := y * rgba.Stride
		for x := 0; x < m.W; x++ {
			rgba.Pix[di] = m.Pix[si]
			rgba.Pix[di+1] = m.Pix[si+1]
			rgba.Pix[di+2] = m.Pix[si+2]
			rgba.Pix[di+3] = 0xff
			si += 3
			di += 4
		}
	}
	return rgba
}

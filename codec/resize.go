package codec

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// Resize scales an RGB image to the target dimensions. Downscaling uses
// area averaging (every source pixel contributes, weighted by coverage),
// upscaling uses bilinear interpolation. Mixed-direction resizes fall back
// to bilinear.
func Resize(src *Image, w, h int) *Image {
	if src.W == w && src.H == h {
		return src
	}
	if w < src.W && h < src.H {
		return resizeArea(src, w, h)
	}
	return resizeBilinear(src, w, h)
}

// FitWithin downscales the image to fit inside maxW×maxH, preserving aspect
// ratio. Images already inside the bound are returned unchanged.
func FitWithin(src *Image, maxW, maxH int) *Image {
	if src.W <= maxW && src.H <= maxH {
		return src
	}
	scaleW := float64(maxW) / float64(src.W)
	scaleH := float64(maxH) / float64(src.H)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	w := int(float64(src.W)*scale + 0.5)
	h := int(float64(src.H)*scale + 0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return Resize(src, w, h)
}

// resizeBilinear delegates to x/image's bilinear kernel.
func resizeBilinear(src *Image, w, h int) *Image {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), src.toRGBA(), image.Rect(0, 0, src.W, src.H), xdraw.Src, nil)

	out := NewImage(w, h)
	di := 0
	for y := 0; y < h; y++ {
		si := y * dst.Stride
		for x := 0; x < w; x++ {
			out.Pix[di] = dst.Pix[si]
			out.Pix[di+1] = dst.Pix[si+1]
			out.Pix[di+2] = dst.Pix[si+2]
			di += 3
			si += 4
		}
	}
	return out
}

// resizeArea box-averages the exact source footprint of each target pixel,
// including fractional edge coverage. x/image/draw has no area kernel, and
// bilinear downscales alias badly on webcam input.
func resizeArea(src *Image, w, h int) *Image {
	out := NewImage(w, h)
	xRatio := float64(src.W) / float64(w)
	yRatio := float64(src.H) / float64(h)

	for dy := 0; dy < h; dy++ {
		y0 := float64(dy) * yRatio
		y1 := y0 + yRatio
		iy0, iy1 := int(y0), int(y1)
		if iy1 >= src.H {
			iy1 = src.H - 1
		}
		for dx := 0; dx < w; dx++ {
			x0 := float64(dx) * xRatio
			x1 := x0 + xRatio
			ix0, ix1 := int(x0), int(x1)
			if ix1 >= src.W {
				ix1 = src.W - 1
			}

			var sumR, sumG, sumB, area float64
			for sy := iy0; sy <= iy1; sy++ {
				// Vertical coverage of source row sy by [y0, y1)
				cy := 1.0
				if float64(sy) < y0 {
					cy -= y0 - float64(sy)
				}
				if float64(sy+1) > y1 {
					cy -= float64(sy+1) - y1
				}
				if cy <= 0 {
					continue
				}
				rowOff := sy * src.W * 3
				for sx := ix0; sx <= ix1; sx++ {
					cx := 1.0
					if float64(sx) < x0 {
						cx -= x0 - float64(sx)
					}
					if float64(sx+1) > x1 {
						cx -= float64(sx+1) - x1
					}
					if cx <= 0 {
						continue
					}
					wgt := cx * cy
					off := rowOff + sx*3
					sumR += wgt * float64(src.Pix[off])
					sumG += wgt * float64(src.Pix[off+1])
					sumB += wgt * float64(src.Pix[off+2])
					area += wgt
				}
			}

			off := out.At(dx, dy)
			out.Pix[off] = uint8(sumR/area + 0.5)
			out.Pix[off+1] = uint8(sumG/area + 0.5)
			out.Pix[off+2] = uint8(sumB/area + 0.5)
		}
	}
	return out
}

// ResizeClassMapNearest resizes a class map with nearest-neighbor sampling.
// Interpolating between class indices is meaningless, so nothing else is
// offered.
func ResizeClassMapNearest(src *ClassMap, w, h int) *ClassMap {
	if src.W == w && src.H == h {
		return src
	}
	out := NewClassMap(w, h)
	for dy := 0; dy < h; dy++ {
		sy := dy * src.H / h
		srcRow := sy * src.W
		dstRow := dy * w
		for dx := 0; dx < w; dx++ {
			sx := dx * src.W / w
			out.Idx[dstRow+dx] = src.Idx[srcRow+sx]
		}
	}
	return out
}

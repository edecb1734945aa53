package imgdiff

import (
	"image"
	"image/color"
)

// colorDelta returns the squared YIQ distance between the pixels at offsets
// k (in a) and m (in b). The sign tells which side is brighter: negative
// when a is lighter. With yOnly only the brightness component is returned.
func colorDelta(a, b []uint8, k, m int, yOnly bool) float64 {
	r1, g1, b1, a1 := float64(a[k]), float64(a[k+1]), float64(a[k+2]), float64(a[k+3])
	r2, g2, b2, a2 := float64(b[m]), float64(b[m+1]), float64(b[m+2]), float64(b[m+3])

	if a1 == a2 && r1 == r2 && g1 == g2 && b1 == b2 {
		return 0
	}

	if a1 < 255 {
		a1 /= 255
		r1, g1, b1 = blend(r1, a1), blend(g1, a1), blend(b1, a1)
	}
	if a2 < 255 {
		a2 /= 255
		r2, g2, b2 = blend(r2, a2), blend(g2, a2), blend(b2, a2)
	}

	y1 := rgb2y(r1, g1, b1)
	y2 := rgb2y(r2, g2, b2)
	y := y1 - y2
	if yOnly {
		return y
	}

	i := rgb2i(r1, g1, b1) - rgb2i(r2, g2, b2)
	q := rgb2q(r1, g1, b1) - rgb2q(r2, g2, b2)
	delta := 0.5053*y*y + 0.299*i*i + 0.1957*q*q

	if y1 > y2 {
		return -delta
	}
	return delta
}

// antialiased reports whether the pixel at (x1,y1) of img sits on an
// anti-aliased edge: it has both darker and brighter neighbours, and the
// extreme neighbours are part of flat regions in both images.
func antialiased(img *image.NRGBA, x1, y1, w, h int, other *image.NRGBA) bool {
	x0, y0 := max(x1-1, 0), max(y1-1, 0)
	x2, y2 := min(x1+1, w-1), min(y1+1, h-1)
	pos := y1*img.Stride + x1*4

	zeroes := 0
	if x1 == x0 || x1 == x2 || y1 == y0 || y1 == y2 {
		zeroes = 1
	}

	var minDelta, maxDelta float64
	var minX, minY, maxX, maxY int

	for x := x0; x <= x2; x++ {
		for y := y0; y <= y2; y++ {
			if x == x1 && y == y1 {
				continue
			}
			delta := colorDelta(img.Pix, img.Pix, pos, y*img.Stride+x*4, true)
			switch {
			case delta == 0:
				zeroes++
				if zeroes > 2 {
					return false
				}
			case delta < minDelta:
				minDelta, minX, minY = delta, x, y
			case delta > maxDelta:
				maxDelta, maxX, maxY = delta, x, y
			}
		}
	}

	if minDelta == 0 || maxDelta == 0 {
		return false
	}

	return (hasManySiblings(img, minX, minY, w, h) && hasManySiblings(other, minX, minY, w, h)) ||
		(hasManySiblings(img, maxX, maxY, w, h) && hasManySiblings(other, maxX, maxY, w, h))
}

// hasManySiblings reports whether at least three neighbours of (x1,y1)
// share its exact colour.
func hasManySiblings(img *image.NRGBA, x1, y1, w, h int) bool {
	x0, y0 := max(x1-1, 0), max(y1-1, 0)
	x2, y2 := min(x1+1, w-1), min(y1+1, h-1)
	pos := y1*img.Stride + x1*4

	zeroes := 0
	if x1 == x0 || x1 == x2 || y1 == y0 || y1 == y2 {
		zeroes = 1
	}

	p := img.Pix
	for x := x0; x <= x2; x++ {
		for y := y0; y <= y2; y++ {
			if x == x1 && y == y1 {
				continue
			}
			pos2 := y*img.Stride + x*4
			if p[pos] == p[pos2] && p[pos+1] == p[pos2+1] && p[pos+2] == p[pos2+2] && p[pos+3] == p[pos2+3] {
				zeroes++
			}
			if zeroes > 2 {
				return true
			}
		}
	}
	return false
}

func grayPixel(pix []uint8, pos int) color.NRGBA {
	r, g, b, a := float64(pix[pos]), float64(pix[pos+1]), float64(pix[pos+2]), float64(pix[pos+3])
	v := blend(rgb2y(r, g, b), fadedAlpha*a/255)
	if v < 0 {
		v = 0
	}
	if v > 255 {
		v = 255
	}
	c := uint8(v)
	return color.NRGBA{R: c, G: c, B: c, A: 255}
}

// blend composites channel c with alpha a over white.
func blend(c, a float64) float64 { return 255 + (c-255)*a }

func rgb2y(r, g, b float64) float64 { return r*0.29889531 + g*0.58662247 + b*0.11448223 }
func rgb2i(r, g, b float64) float64 { return r*0.59597799 - g*0.27417610 - b*0.32180189 }
func rgb2q(r, g, b float64) float64 { return r*0.21147017 - g*0.52261711 + b*0.31114694 }

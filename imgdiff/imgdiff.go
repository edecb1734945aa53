// Package imgdiff compares two rasters pixel by pixel and reports the
// fraction of pixels whose perceived colour differs beyond a tolerance.
//
// The colour distance is measured in YIQ space so that small rendering
// noise (font hinting, gradients) stays under the threshold while real
// layout changes do not. Pixels that look like anti-aliasing on either
// image are drawn in the diff but never counted as mismatches.
package imgdiff

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
)

// DefaultThreshold is the per-pixel tolerance in [0,1]. Smaller is stricter.
const DefaultThreshold = 0.1

// maxYIQDelta is the largest possible YIQ distance between two colours.
const maxYIQDelta = 35215.0

// ErrDecode is returned when an input file is not a decodable PNG.
var ErrDecode = errors.New("imgdiff: decode failed")

var (
	diffColor  = color.NRGBA{R: 255, A: 255}
	aaColor    = color.NRGBA{R: 255, G: 255, A: 255}
	fadedAlpha = 0.1
)

// Result is the outcome of a comparison.
//
// MismatchRatio is only meaningful when Skipped is false. Skipped is set
// by callers that had nothing to compare against (see package baseline);
// Compare itself never sets it.
type Result struct {
	MismatchRatio float64
	DiffPixels    int
	TotalPixels   int
	SizeMismatch  bool
	Skipped       bool

	// Diff highlights differing pixels. Nil when sizes differ.
	Diff *image.NRGBA

	DiffPath  string
	DiffSaved bool
}

// Options tunes a comparison.
type Options struct {
	// Threshold is the per-pixel tolerance. Default: DefaultThreshold.
	Threshold float64
	// IncludeAA counts anti-aliased pixels as mismatches.
	IncludeAA bool
}

func (o *Options) defaults() {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Threshold > 1 {
		o.Threshold = 1
	}
}

// Compare diffs current against reference with the default options.
func Compare(current, reference image.Image) Result {
	return CompareWith(current, reference, Options{})
}

// CompareWith diffs current against reference.
//
// Images of different dimensions are a total mismatch: ratio 1 and no
// diff image. No pixel alignment is attempted.
func CompareWith(current, reference image.Image, opts Options) Result {
	opts.defaults()

	cb, rb := current.Bounds(), reference.Bounds()
	if cb.Dx() != rb.Dx() || cb.Dy() != rb.Dy() {
		return Result{MismatchRatio: 1, SizeMismatch: true}
	}

	a := toNRGBA(current)
	b := toNRGBA(reference)
	w, h := cb.Dx(), cb.Dy()
	out := image.NewNRGBA(image.Rect(0, 0, w, h))

	maxDelta := maxYIQDelta * opts.Threshold * opts.Threshold
	diff := 0

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			pos := y*a.Stride + x*4
			delta := colorDelta(a.Pix, b.Pix, pos, pos, false)

			if abs(delta) > maxDelta {
				if !opts.IncludeAA && (antialiased(a, x, y, w, h, b) || antialiased(b, x, y, w, h, a)) {
					out.SetNRGBA(x, y, aaColor)
					continue
				}
				out.SetNRGBA(x, y, diffColor)
				diff++
				continue
			}
			out.SetNRGBA(x, y, grayPixel(b.Pix, pos))
		}
	}

	total := w * h
	res := Result{DiffPixels: diff, TotalPixels: total, Diff: out}
	if total > 0 {
		res.MismatchRatio = float64(diff) / float64(total)
	}
	return res
}

// CompareFiles decodes two PNG files and compares them. When diffPath is
// non-empty and at least one pixel differs, the diff image is written
// there and DiffSaved is set.
func CompareFiles(currentPath, referencePath, diffPath string) (Result, error) {
	cur, err := Decode(currentPath)
	if err != nil {
		return Result{}, err
	}
	ref, err := Decode(referencePath)
	if err != nil {
		return Result{}, err
	}

	res := Compare(cur, ref)
	if diffPath == "" || res.Diff == nil || res.DiffPixels == 0 {
		return res, nil
	}
	if err := WritePNG(diffPath, res.Diff); err != nil {
		return res, err
	}
	res.DiffPath = diffPath
	res.DiffSaved = true
	return res, nil
}

// Decode reads a PNG file.
func Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	return img, nil
}

// WritePNG encodes img to path, creating parent directories.
func WritePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("imgdiff: mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("imgdiff: create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("imgdiff: encode %s: %w", path, err)
	}
	return f.Close()
}

func toNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) && n.Stride == b.Dx()*4 {
		return n
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

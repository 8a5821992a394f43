// Package reid implements the §4.4 appearance re-identification stage:
// extracting a fixed-length embedding per confirmed track, updating the
// track's stored embedding with an exponential moving average, and the
// cosine-similarity comparison used by the cross-camera matcher (§4.8).
package reid

import (
	"context"
	"image"
	"image/color"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/crowdwatch/crowdwatch/internal/apierr"
	"github.com/crowdwatch/crowdwatch/internal/model"
)

// Dimension is E from §4.4: the fixed embedding length.
const Dimension = 512

// Alpha is the EMA smoothing factor from §4.4.
const Alpha = 0.3

// appearanceDim and colorDim split Dimension between the fixed image
// encoder's feature vector and the HSV color histogram the spec
// requires fusing in (§4.4, §9 Open Question: fusion left to the
// implementer). colorDim buckets are hue bins of a saturation-weighted
// hue histogram.
const (
	colorDim       = 64
	appearanceDim  = Dimension - colorDim
)

// Extractor produces a re-id embedding for one detection box within a
// frame. Implementations may hold a model handle; the stage itself is
// otherwise stateless per call.
type Extractor interface {
	Extract(ctx context.Context, img image.Image, box model.BoundingBox) ([]float64, error)
}

// HashExtractor is a deterministic, model-free Extractor: it derives the
// appearance half of the embedding from a coarse spatial pixel-intensity
// signature and the color half from a real HSV histogram of the pixels
// inside box. It stands in for an out-of-process appearance encoder
// while exercising the real fusion/normalize/cosine-similarity math
// end-to-end.
type HashExtractor struct{}

// NewHashExtractor builds a HashExtractor.
func NewHashExtractor() *HashExtractor { return &HashExtractor{} }

// Extract implements Extractor.
func (HashExtractor) Extract(_ context.Context, img image.Image, box model.BoundingBox) ([]float64, error) {
	if img == nil {
		return nil, apierr.New(apierr.Corrupt, "nil image passed to re-id extractor")
	}
	bounds := img.Bounds()
	x0 := clampInt(int(box.X), bounds.Min.X, bounds.Max.X)
	y0 := clampInt(int(box.Y), bounds.Min.Y, bounds.Max.Y)
	x1 := clampInt(int(box.X+box.Width), bounds.Min.X, bounds.Max.X)
	y1 := clampInt(int(box.Y+box.Height), bounds.Min.Y, bounds.Max.Y)
	if x1 <= x0 || y1 <= y0 {
		return nil, apierr.New(apierr.Corrupt, "empty crop region for re-id extraction")
	}

	appearance := spatialSignature(img, x0, y0, x1, y1, appearanceDim)
	colorHist := hsvHistogram(img, x0, y0, x1, y1, colorDim)

	return Fuse(appearance, colorHist), nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// spatialSignature buckets the crop into an n-cell grid and returns the
// mean luminance per cell, forming a crude appearance fingerprint.
func spatialSignature(img image.Image, x0, y0, x1, y1, n int) []float64 {
	out := make([]float64, n)
	counts := make([]float64, n)
	w, h := x1-x0, y1-y0
	cols := int(math.Sqrt(float64(n)))
	if cols < 1 {
		cols = 1
	}
	rows := n / cols
	if rows < 1 {
		rows = 1
	}
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			cx := clampInt((x-x0)*cols/maxInt(w, 1), 0, cols-1)
			cy := clampInt((y-y0)*rows/maxInt(h, 1), 0, rows-1)
			cell := cy*cols + cx
			if cell >= n {
				cell = n - 1
			}
			r, g, b, _ := img.At(x, y).RGBA()
			lum := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 65535
			out[cell] += lum
			counts[cell]++
		}
	}
	for i := range out {
		if counts[i] > 0 {
			out[i] /= counts[i]
		}
	}
	return out
}

// hsvHistogram builds a normalized (summing to 1) hue histogram of the
// crop, quantized into n buckets, each pixel weighted by its saturation.
func hsvHistogram(img image.Image, x0, y0, x1, y1, n int) []float64 {
	hist := make([]float64, n)
	hueBuckets := n
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			h, s, _ := rgbToHSV(img.At(x, y))
			bucket := clampInt(int(h/360*float64(hueBuckets)), 0, hueBuckets-1)
			hist[bucket] += s
		}
	}
	total := 0.0
	for _, v := range hist {
		total += v
	}
	if total > 0 {
		for i := range hist {
			hist[i] /= total
		}
	}
	return hist
}

func rgbToHSV(c color.Color) (h, s, v float64) {
	r, g, b, _ := c.RGBA()
	rf, gf, bf := float64(r)/65535, float64(g)/65535, float64(b)/65535
	maxC := math.Max(rf, math.Max(gf, bf))
	minC := math.Min(rf, math.Min(gf, bf))
	v = maxC
	delta := maxC - minC
	if maxC == 0 {
		return 0, 0, v
	}
	s = delta / maxC
	if delta == 0 {
		return 0, s, v
	}
	switch maxC {
	case rf:
		h = 60 * math.Mod((gf-bf)/delta, 6)
	case gf:
		h = 60 * ((bf-rf)/delta + 2)
	default:
		h = 60 * ((rf-gf)/delta + 4)
	}
	if h < 0 {
		h += 360
	}
	return h, s, v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Fuse concatenates the appearance and color feature vectors and
// L2-normalizes the result, per the spec's fixed fusion choice (§9):
// "L2-normalized fusion into a 512-vector".
func Fuse(appearance, colorHist []float64) []float64 {
	out := make([]float64, 0, Dimension)
	out = append(out, appearance...)
	out = append(out, colorHist...)
	for len(out) < Dimension {
		out = append(out, 0)
	}
	out = out[:Dimension]
	return L2Normalize(out)
}

// L2Normalize scales v to unit length in place on a copy, returning the
// result. A zero vector is returned unchanged (norm 0 has no direction).
func L2Normalize(v []float64) []float64 {
	out := append([]float64(nil), v...)
	norm := floats.Norm(out, 2)
	if norm == 0 {
		return out
	}
	floats.Scale(1/norm, out)
	return out
}

// UpdateEMA applies the §4.4 exponential moving average update to a
// track's stored embedding: e <- (1-alpha)*e + alpha*e_new, followed by
// re-normalization so the invariant ||e|| in [0.95, 1.05] holds.
func UpdateEMA(stored, fresh []float64, alpha float64) []float64 {
	if stored == nil {
		return L2Normalize(fresh)
	}
	out := make([]float64, len(stored))
	for i := range out {
		var f float64
		if i < len(fresh) {
			f = fresh[i]
		}
		out[i] = (1-alpha)*stored[i] + alpha*f
	}
	return L2Normalize(out)
}

// CosineSimilarity returns the cosine similarity of a and b, clipped to
// [0, 1] for downstream thresholds per §4.4: "clipped to [0, 1] for
// downstream thresholds".
func CosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	dot := floats.Dot(a[:n], b[:n])
	na := floats.Norm(a[:n], 2)
	nb := floats.Norm(b[:n], 2)
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (na * nb)
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

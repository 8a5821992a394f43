// Package analytics computes the per-frame crowd analytics described in
// spec §4.5: people count, density, average speed, flow direction and
// congestion classification, derived purely from the current frame's
// confirmed tracks and each track's previous-frame position.
package analytics

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/crowdwatch/crowdwatch/internal/model"
)

// Config holds the analytics stage's tunables (spec §4.5 defaults).
type Config struct {
	DensityNorm float64 // default 1.0
}

// DefaultConfig returns the spec's documented default.
func DefaultConfig() Config {
	return Config{DensityNorm: 1.0}
}

// TrackMotion is one track's per-frame speed/velocity, computed once
// and reused by both the analytics sample and the risk stage.
type TrackMotion struct {
	TrackID  uint64
	Speed    float64
	Velocity [2]float64 // unit-scaled direction, zero if no previous position
	HasPrev  bool
}

// Motion computes each track's instantaneous speed and unit velocity
// from its current and previous-frame bounding box, exported so the
// risk stage (§4.6) can reuse the same per-track speeds without
// recomputing them.
func Motion(tracks []model.Track, frameTS time.Time) []TrackMotion {
	out := make([]TrackMotion, len(tracks))
	for i, trk := range tracks {
		out[i].TrackID = trk.TrackID
		if trk.PrevTS.IsZero() {
			continue
		}
		dt := frameTS.Sub(trk.PrevTS).Seconds()
		if dt <= 0 {
			continue
		}
		cx, cy := trk.BBox.Center()
		px, py := trk.PrevBBox.Center()
		dx, dy := cx-px, cy-py
		dist := math.Hypot(dx, dy)
		speed := dist / dt
		out[i].Speed = speed
		out[i].HasPrev = true
		if dist > 0 {
			out[i].Velocity = [2]float64{dx / dist, dy / dist}
		}
	}
	return out
}

// Compute derives an AnalyticsSample for one processed frame from its
// confirmed tracks. It does not set CameraID, RiskScore or RiskLevel;
// callers fill CameraID and the pipeline's risk stage fills the risk
// fields afterward.
func Compute(tracks []model.Track, cfg Config, frameTS time.Time) model.AnalyticsSample {
	sample := model.AnalyticsSample{
		Timestamp:   frameTS,
		PeopleCount: len(tracks),
	}
	if cfg.DensityNorm == 0 {
		cfg.DensityNorm = DefaultConfig().DensityNorm
	}

	if len(tracks) == 0 {
		sample.Congestion = model.ClassifyCongestion(0)
		return sample
	}

	sample.Density = clip01(kernelDensity(tracks) / cfg.DensityNorm)
	sample.Congestion = model.ClassifyCongestion(sample.Density)

	motions := Motion(tracks, frameTS)
	speeds := make([]float64, 0, len(motions))
	var sumVX, sumVY float64
	for _, m := range motions {
		if !m.HasPrev {
			continue
		}
		speeds = append(speeds, m.Speed)
		sumVX += m.Velocity[0]
		sumVY += m.Velocity[1]
	}
	if len(speeds) > 0 {
		sample.AvgSpeed = stat.Mean(speeds, nil)
	}

	meanVX, meanVY := 0.0, 0.0
	if len(motions) > 0 {
		meanVX = sumVX / float64(len(motions))
		meanVY = sumVY / float64(len(motions))
	}
	norm := math.Hypot(meanVX, meanVY)
	if norm > 0 {
		sample.Flow = model.FlowVector{X: meanVX / norm, Y: meanVY / norm}
	}

	return sample
}

// kernelDensity approximates a Gaussian kernel density estimate over
// track centers: the mean, over all tracks, of the sum of Gaussian
// kernel contributions from every other track (bandwidth scaled to a
// typical person's footprint in pixels).
func kernelDensity(tracks []model.Track) float64 {
	const bandwidth = 80.0
	n := len(tracks)
	if n == 0 {
		return 0
	}
	centers := make([][2]float64, n)
	for i, trk := range tracks {
		x, y := trk.BBox.Center()
		centers[i] = [2]float64{x, y}
	}

	total := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			dx := centers[i][0] - centers[j][0]
			dy := centers[i][1] - centers[j][1]
			d2 := dx*dx + dy*dy
			total += math.Exp(-d2 / (2 * bandwidth * bandwidth))
		}
	}
	// No self-contribution: an empty frame and a lone walker are both 0,
	// and the value grows as people stand closer together.
	return total / float64(n)
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

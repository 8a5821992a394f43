// Package risk implements the §4.6 risk scoring formula and the alert
// generator: graded NORMAL/WARNING/CRITICAL alerts emitted on level
// change or sustained level.
package risk

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/crowdwatch/crowdwatch/internal/model"
	"github.com/crowdwatch/crowdwatch/internal/vision/analytics"
)

// Config holds the risk formula's tunables (spec §4.6 defaults).
type Config struct {
	ReferenceSpeed        float64       // default 100.0
	SpeedJumpThreshold    float64       // default 50.0
	AlertResampleInterval time.Duration // default 30s
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{ReferenceSpeed: 100.0, SpeedJumpThreshold: 50.0, AlertResampleInterval: 30 * time.Second}
}

// Factors holds the five normalized inputs to the §4.6 weighted sum,
// exposed for logging/debugging and tests.
type Factors struct {
	Density              float64
	SpeedVariance        float64
	Congestion           float64
	DirectionalConflict  float64
	SuddenMovement       float64
}

// Score computes the §4.6 weighted risk sum and its factors for one
// frame. prevSpeeds maps track_id to its speed in the previous
// processed frame (an absent entry means no jump is counted for that
// track, i.e. not "sudden"; a present zero is compared like any other
// speed).
func Score(sample model.AnalyticsSample, motions []analytics.TrackMotion, prevSpeeds map[uint64]float64, cfg Config) (float64, Factors) {
	if cfg.ReferenceSpeed == 0 {
		cfg.ReferenceSpeed = DefaultConfig().ReferenceSpeed
	}
	if cfg.SpeedJumpThreshold == 0 {
		cfg.SpeedJumpThreshold = DefaultConfig().SpeedJumpThreshold
	}

	f := Factors{Density: clip01(sample.Density)}

	switch sample.Congestion {
	case model.CongestionLow:
		f.Congestion = 0
	case model.CongestionMedium:
		f.Congestion = 0.5
	case model.CongestionHigh:
		f.Congestion = 1
	}

	if len(motions) <= 1 {
		// Boundary: exactly one (or zero) tracks -> speed_variance 0 and
		// directional_conflict 0 (§8 Boundary behaviours).
		return weightedSum(f), f
	}

	speeds := make([]float64, 0, len(motions))
	var sumVX, sumVY float64
	jumpCount := 0
	tracked := 0
	for _, m := range motions {
		if !m.HasPrev {
			continue
		}
		tracked++
		speeds = append(speeds, m.Speed)
		sumVX += m.Velocity[0]
		sumVY += m.Velocity[1]
		if prev, ok := prevSpeeds[m.TrackID]; ok {
			if math.Abs(m.Speed-prev) > cfg.SpeedJumpThreshold {
				jumpCount++
			}
		}
	}

	if len(speeds) > 1 {
		std := stat.StdDev(speeds, nil)
		f.SpeedVariance = clip01(std / cfg.ReferenceSpeed)
	}
	if tracked > 0 {
		meanVX, meanVY := sumVX/float64(tracked), sumVY/float64(tracked)
		f.DirectionalConflict = clip01(1 - math.Hypot(meanVX, meanVY))
		f.SuddenMovement = float64(jumpCount) / float64(tracked)
	}

	return weightedSum(f), f
}

func weightedSum(f Factors) float64 {
	r := 0.30*f.Density + 0.25*f.SpeedVariance + 0.20*f.Congestion + 0.15*f.DirectionalConflict + 0.10*f.SuddenMovement
	return clip01(r)
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

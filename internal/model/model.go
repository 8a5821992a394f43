// Package model defines the shared domain types for the crowd-monitoring
// pipeline: cameras, frames, detections, tracks, zones, analytics samples,
// alerts and cross-camera movements.
package model

import "time"

// CameraStatus represents a camera's registration state.
type CameraStatus string

const (
	CameraActive   CameraStatus = "active"
	CameraInactive CameraStatus = "inactive"
)

// Camera is a registered edge camera.
type Camera struct {
	ID            string       `json:"id"`
	EdgeID        string       `json:"edge_id,omitempty"`
	Location      string       `json:"location,omitempty"`
	Resolution    string       `json:"resolution,omitempty"`
	FPS           int          `json:"fps,omitempty"`
	Status        CameraStatus `json:"status"`
	LastFrameTime *time.Time   `json:"last_frame_time,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// BoundingBox is a pixel-space box: top-left (X,Y) plus width/height.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// BottomCenter returns the bottom-center point used for zone membership tests.
func (b BoundingBox) BottomCenter() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height
}

// Center returns the geometric center of the box.
func (b BoundingBox) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Area returns the box area.
func (b BoundingBox) Area() float64 {
	return b.Width * b.Height
}

// IoU computes intersection-over-union against another box.
func (b BoundingBox) IoU(other BoundingBox) float64 {
	x1 := maxF(b.X, other.X)
	y1 := maxF(b.Y, other.Y)
	x2 := minF(b.X+b.Width, other.X+other.Width)
	y2 := minF(b.Y+b.Height, other.Y+other.Height)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	intersection := (x2 - x1) * (y2 - y1)
	union := b.Area() + other.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// Detection is a single person detection in one frame.
type Detection struct {
	CameraID   string      `json:"camera_id"`
	FrameID    uint64      `json:"frame_id"`
	BBox       BoundingBox `json:"bbox"`
	Confidence float64     `json:"confidence"`
	Class      string      `json:"class"`
	TrackID    uint64      `json:"track_id,omitempty"`
}

// TrackState is the lifecycle state of a track.
type TrackState string

const (
	TrackTentative  TrackState = "tentative"
	TrackConfirmed  TrackState = "confirmed"
	TrackLost       TrackState = "lost"
	TrackTerminated TrackState = "terminated"
)

// Track is a persistent per-camera person identity.
type Track struct {
	TrackID       uint64      `json:"track_id"`
	CameraID      string      `json:"camera_id"`
	FirstSeen     time.Time   `json:"first_seen"`
	LastSeen      time.Time   `json:"last_seen"`
	TotalFrames   int         `json:"total_frames"`
	AvgConfidence float64     `json:"avg_confidence"`
	State         TrackState  `json:"state"`
	Embedding     []float64   `json:"embedding,omitempty"`
	BBox          BoundingBox `json:"bbox"`

	// Misses counts consecutive frames the track went unmatched; not
	// part of the spec's data model but needed by the tracker to decide
	// termination (§4.3 step 4).
	Misses int `json:"-"`
	// PrevBBox/PrevTS back the speed/flow computation in analytics (§4.5).
	PrevBBox BoundingBox `json:"-"`
	PrevTS   time.Time   `json:"-"`
	PrevSpeed float64    `json:"-"`
}

// ZoneType classifies a zone's role in entry/exit occupancy accounting.
type ZoneType string

const (
	ZoneEntry      ZoneType = "entry"
	ZoneExit       ZoneType = "exit"
	ZoneMonitor    ZoneType = "monitor"
	ZoneRestricted ZoneType = "restricted"
)

// Point is a pixel-space polygon vertex.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Zone is a polygonal region of interest on one camera's image plane.
type Zone struct {
	ID                string    `json:"id"`
	CameraID          string    `json:"camera_id"`
	Name              string    `json:"name"`
	Type              ZoneType  `json:"type"`
	Polygon           []Point   `json:"polygon"`
	MaxCapacity       int       `json:"max_capacity,omitempty"`
	CurrentOccupancy  int       `json:"current_occupancy"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// EventKind distinguishes a zone entry from a zone exit.
type EventKind string

const (
	EventEntry EventKind = "entry"
	EventExit  EventKind = "exit"
)

// EntryExitEvent records one directed crossing of a track into/out of a zone.
type EntryExitEvent struct {
	ID        int64     `json:"id,omitempty"`
	CameraID  string    `json:"camera_id"`
	ZoneID    string    `json:"zone_id"`
	TrackID   uint64    `json:"track_id"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Embedding []float64 `json:"-"`
}

// Congestion classifies crowd density into a 3-level scale.
type Congestion string

const (
	CongestionLow    Congestion = "low"
	CongestionMedium Congestion = "medium"
	CongestionHigh   Congestion = "high"
)

// RiskLevel is the 3-valued classification of an AnalyticsSample's risk.
type RiskLevel string

const (
	RiskNormal   RiskLevel = "NORMAL"
	RiskWarning  RiskLevel = "WARNING"
	RiskCritical RiskLevel = "CRITICAL"
)

// FlowVector is an L2-normalized mean per-track velocity direction.
type FlowVector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AnalyticsSample is one per-frame crowd analytics row.
type AnalyticsSample struct {
	CameraID   string     `json:"camera_id"`
	Timestamp  time.Time  `json:"timestamp"`
	PeopleCount int       `json:"people_count"`
	Density    float64    `json:"density"`
	AvgSpeed   float64    `json:"avg_speed"`
	Flow       FlowVector `json:"flow"`
	Congestion Congestion `json:"congestion"`
	RiskScore  float64    `json:"risk_score"`
	RiskLevel  RiskLevel  `json:"risk_level"`
}

// AlertKind enumerates the alert categories the risk generator emits.
type AlertKind string

const (
	AlertHighDensity      AlertKind = "high_density"
	AlertStampedeRisk     AlertKind = "stampede_risk"
	AlertCongestion       AlertKind = "congestion"
	AlertZoneOvercapacity AlertKind = "zone_overcapacity"
)

// Alert is a graded notification derived from risk scoring or zone capacity.
type Alert struct {
	ID           string    `json:"id"`
	CameraID     string    `json:"camera_id"`
	Kind         AlertKind `json:"kind"`
	Severity     RiskLevel `json:"severity"`
	RiskScore    float64   `json:"risk_score"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
}

// MatchConfidence is the 3-level confidence bucket for a cross-camera match.
type MatchConfidence string

const (
	ConfidenceLow    MatchConfidence = "low"
	ConfidenceMedium MatchConfidence = "medium"
	ConfidenceHigh   MatchConfidence = "high"
)

// CrossCameraMovement links an exit on one camera to an entry on another.
type CrossCameraMovement struct {
	ID            int64           `json:"id,omitempty"`
	EntryCamera   string          `json:"entry_camera"`
	EntryZone     string          `json:"entry_zone,omitempty"`
	EntryTrack    uint64          `json:"entry_track"`
	EntryTS       time.Time       `json:"entry_ts"`
	ExitCamera    string          `json:"exit_camera"`
	ExitZone      string          `json:"exit_zone,omitempty"`
	ExitTrack     uint64          `json:"exit_track"`
	ExitTS        time.Time       `json:"exit_ts"`
	Similarity    float64         `json:"similarity"`
	Confidence    MatchConfidence `json:"confidence"`
	DurationS     float64         `json:"duration_s"`
}

// Confidence maps a similarity score to the §4.8 confidence bucket.
func ConfidenceFor(similarity float64) MatchConfidence {
	switch {
	case similarity >= 0.85:
		return ConfidenceHigh
	case similarity >= 0.75:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ClassifyRisk maps a risk score to the §4.6 three-level scale.
func ClassifyRisk(score float64) RiskLevel {
	switch {
	case score < 0.4:
		return RiskNormal
	case score < 0.7:
		return RiskWarning
	default:
		return RiskCritical
	}
}

// ClassifyCongestion maps a density value to the §4.5 three-level scale.
func ClassifyCongestion(density float64) Congestion {
	switch {
	case density < 0.33:
		return CongestionLow
	case density < 0.66:
		return CongestionMedium
	default:
		return CongestionHigh
	}
}

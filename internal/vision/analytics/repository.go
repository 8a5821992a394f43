package analytics

import (
	"context"
	"database/sql"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/apierr"
	"github.com/crowdwatch/crowdwatch/internal/model"
)

// Repository persists per-frame analytics samples (one row per
// camera/timestamp, per the analytics_samples primary key) and serves
// the realtime/history/heatmap read paths behind GET
// /analytics/{camera_id}/*.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps db for analytics persistence.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert persists one analytics sample, replacing any existing row for
// the same (camera_id, timestamp) pair since frame_ids are deduplicated
// to one sample per second by the primary key.
func (r *Repository) Insert(ctx context.Context, s model.AnalyticsSample) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO analytics_samples
			(camera_id, timestamp, people_count, density, avg_speed, flow_x, flow_y, congestion, risk_score, risk_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.CameraID, s.Timestamp.Unix(), s.PeopleCount, s.Density, s.AvgSpeed,
		s.Flow.X, s.Flow.Y, string(s.Congestion), s.RiskScore, string(s.RiskLevel))
	if err != nil {
		return apierr.Wrap(apierr.Transient, err, "insert analytics sample")
	}
	return nil
}

// InsertDetections persists one row per post-NMS detection bbox at ts,
// the per-frame position history RenderHeatmap grids into a spatial
// density map (there is no per-pixel occupancy history anywhere else in
// the schema, so the heatmap endpoint reads this table directly).
func (r *Repository) InsertDetections(ctx context.Context, cameraID string, ts time.Time, boxes []model.BoundingBox) error {
	if len(boxes) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Wrap(apierr.Transient, err, "begin detection insert")
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO detections (camera_id, bbox_x, bbox_y, bbox_w, bbox_h, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return apierr.Wrap(apierr.Transient, err, "prepare detection insert")
	}
	defer stmt.Close()
	for _, b := range boxes {
		if _, err := stmt.ExecContext(ctx, cameraID, b.X, b.Y, b.Width, b.Height, ts.Unix()); err != nil {
			tx.Rollback()
			return apierr.Wrap(apierr.Transient, err, "insert detection")
		}
	}
	if err := tx.Commit(); err != nil {
		return apierr.Wrap(apierr.Transient, err, "commit detection insert")
	}
	return nil
}

// DetectionPositions returns every detection bbox recorded for a camera
// within [from, to], for the spatial heatmap.
func (r *Repository) DetectionPositions(ctx context.Context, cameraID string, from, to time.Time) ([]model.BoundingBox, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT bbox_x, bbox_y, bbox_w, bbox_h FROM detections
		WHERE camera_id = ? AND timestamp BETWEEN ? AND ?`, cameraID, from.Unix(), to.Unix())
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, err, "query detection positions")
	}
	defer rows.Close()

	var out []model.BoundingBox
	for rows.Next() {
		var b model.BoundingBox
		if err := rows.Scan(&b.X, &b.Y, &b.Width, &b.Height); err != nil {
			return nil, apierr.Wrap(apierr.Transient, err, "scan detection position")
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Latest returns the most recently persisted sample for a camera, for
// GET /analytics/{camera_id}/realtime.
func (r *Repository) Latest(ctx context.Context, cameraID string) (model.AnalyticsSample, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT camera_id, timestamp, people_count, density, avg_speed, flow_x, flow_y, congestion, risk_score, risk_level
		FROM analytics_samples WHERE camera_id = ? ORDER BY timestamp DESC LIMIT 1`, cameraID)
	return scanSample(row)
}

// History returns samples for a camera within [from, to], ascending by
// time, for GET /analytics/{camera_id}/history.
func (r *Repository) History(ctx context.Context, cameraID string, from, to time.Time) ([]model.AnalyticsSample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT camera_id, timestamp, people_count, density, avg_speed, flow_x, flow_y, congestion, risk_score, risk_level
		FROM analytics_samples
		WHERE camera_id = ? AND timestamp BETWEEN ? AND ?
		ORDER BY timestamp ASC`, cameraID, from.Unix(), to.Unix())
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, err, "query analytics history")
	}
	defer rows.Close()

	var out []model.AnalyticsSample
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSample(row rowScanner) (model.AnalyticsSample, error) {
	var s model.AnalyticsSample
	var ts int64
	var congestion, riskLevel string
	err := row.Scan(&s.CameraID, &ts, &s.PeopleCount, &s.Density, &s.AvgSpeed,
		&s.Flow.X, &s.Flow.Y, &congestion, &s.RiskScore, &riskLevel)
	if err == sql.ErrNoRows {
		return model.AnalyticsSample{}, err
	}
	if err != nil {
		return model.AnalyticsSample{}, apierr.Wrap(apierr.Transient, err, "scan analytics sample")
	}
	s.Timestamp = time.Unix(ts, 0).UTC()
	s.Congestion = model.Congestion(congestion)
	s.RiskLevel = model.RiskLevel(riskLevel)
	return s, nil
}

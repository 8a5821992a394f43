// Package camera manages the registry of edge cameras feeding the
// pipeline: registration, lookup and liveness bookkeeping, grounded on
// the teacher's internal/camera/service.go Service (there backed by a
// go2rtc-fronted NVR; here backed directly by the pipeline's SQLite
// store since there is no restreaming concern).
package camera

import (
	"context"
	"database/sql"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/apierr"
	"github.com/crowdwatch/crowdwatch/internal/model"
)

// Registry persists camera registrations and tracks per-camera
// liveness via last_frame_time.
type Registry struct {
	db *sql.DB
}

// NewRegistry wraps db for camera persistence.
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

// Register idempotently upserts a camera by ID: a second registration
// for the same ID updates its edge_id/location/resolution/fps rather
// than failing, so an edge device can re-announce itself after a
// restart without the operator first deleting the old record.
func (r *Registry) Register(ctx context.Context, c model.Camera) (model.Camera, error) {
	if err := Validate(c); err != nil {
		return model.Camera{}, err
	}
	now := time.Now().UTC()
	if c.Status == "" {
		c.Status = model.CameraActive
	}

	existing, err := r.Get(ctx, c.ID)
	switch {
	case err == sql.ErrNoRows:
		c.CreatedAt, c.UpdatedAt = now, now
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO cameras (id, edge_id, location, resolution, fps, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.EdgeID, c.Location, c.Resolution, c.FPS, string(c.Status), now.Unix(), now.Unix())
		if err != nil {
			return model.Camera{}, apierr.Wrap(apierr.Transient, err, "insert camera")
		}
		return c, nil
	case err != nil:
		return model.Camera{}, err
	default:
		c.CreatedAt = existing.CreatedAt
		c.LastFrameTime = existing.LastFrameTime
		c.UpdatedAt = now
		_, err := r.db.ExecContext(ctx, `
			UPDATE cameras SET edge_id=?, location=?, resolution=?, fps=?, status=?, updated_at=?
			WHERE id = ?`,
			c.EdgeID, c.Location, c.Resolution, c.FPS, string(c.Status), now.Unix(), c.ID)
		if err != nil {
			return model.Camera{}, apierr.Wrap(apierr.Transient, err, "update camera")
		}
		return c, nil
	}
}

// Get fetches a camera by id.
func (r *Registry) Get(ctx context.Context, id string) (model.Camera, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, edge_id, location, resolution, fps, status, last_frame_time, created_at, updated_at
		FROM cameras WHERE id = ?`, id)
	return scanCamera(row)
}

// List returns all registered cameras, newest first.
func (r *Registry) List(ctx context.Context) ([]model.Camera, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, edge_id, location, resolution, fps, status, last_frame_time, created_at, updated_at
		FROM cameras ORDER BY created_at DESC`)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, err, "list cameras")
	}
	defer rows.Close()

	var cameras []model.Camera
	for rows.Next() {
		c, err := scanCamera(rows)
		if err != nil {
			return nil, err
		}
		cameras = append(cameras, c)
	}
	return cameras, rows.Err()
}

// Exists reports whether a camera is registered, for callers (frame
// ingest, zone creation) that need to reject references to unknown
// cameras without pulling the full row.
func (r *Registry) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM cameras WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, apierr.Wrap(apierr.Transient, err, "check camera exists")
	}
	return n > 0, nil
}

// Touch records that a frame was just received from id, advancing
// last_frame_time and marking the camera active. Monotonic: a frame
// carrying an older timestamp than the last recorded one never moves
// last_frame_time backwards, since out-of-order delivery must not make
// a live camera appear to regress to a stale liveness time.
func (r *Registry) Touch(ctx context.Context, id string, frameTime time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE cameras
		SET last_frame_time = MAX(COALESCE(last_frame_time, 0), ?), status = ?, updated_at = ?
		WHERE id = ?`,
		frameTime.Unix(), string(model.CameraActive), time.Now().UTC().Unix(), id)
	if err != nil {
		return apierr.Wrap(apierr.Transient, err, "touch camera")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierr.New(apierr.Validation, "camera %s not registered", id)
	}
	return nil
}

// MarkInactive flags cameras whose last_frame_time is older than
// staleAfter as inactive, so GET /cameras reflects devices that have
// gone dark without requiring an explicit deregistration.
func (r *Registry) MarkInactive(ctx context.Context, staleAfter time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-staleAfter).Unix()
	res, err := r.db.ExecContext(ctx, `
		UPDATE cameras SET status = ?, updated_at = ?
		WHERE status = ? AND last_frame_time IS NOT NULL AND last_frame_time < ?`,
		string(model.CameraInactive), now.Unix(), string(model.CameraActive), cutoff)
	if err != nil {
		return 0, apierr.Wrap(apierr.Transient, err, "mark cameras inactive")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCamera(row rowScanner) (model.Camera, error) {
	var c model.Camera
	var edgeID, location, resolution, status sql.NullString
	var fps sql.NullInt64
	var lastFrame sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&c.ID, &edgeID, &location, &resolution, &fps, &status, &lastFrame, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return model.Camera{}, err
	}
	if err != nil {
		return model.Camera{}, apierr.Wrap(apierr.Transient, err, "scan camera")
	}

	c.EdgeID = edgeID.String
	c.Location = location.String
	c.Resolution = resolution.String
	c.FPS = int(fps.Int64)
	c.Status = model.CameraStatus(status.String)
	if lastFrame.Valid {
		t := time.Unix(lastFrame.Int64, 0).UTC()
		c.LastFrameTime = &t
	}
	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	c.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return c, nil
}

// Validate checks a camera registration payload: only the id is
// mandatory, everything else describes the device for display.
func Validate(c model.Camera) error {
	var errs apierr.MultiError
	if c.ID == "" {
		errs = append(errs, apierr.Invalid("id", "id is required"))
	}
	if c.FPS < 0 {
		errs = append(errs, apierr.Invalid("fps", "fps must not be negative"))
	}
	if c.Status != "" && c.Status != model.CameraActive && c.Status != model.CameraInactive {
		errs = append(errs, apierr.Invalid("status", "unknown status %q", c.Status))
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

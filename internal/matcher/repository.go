package matcher

import (
	"context"
	"database/sql"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/apierr"
	"github.com/crowdwatch/crowdwatch/internal/model"
)

// Repository persists cross-camera movements to SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps db for cross-camera movement persistence.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Upsert inserts a movement, or replaces the existing record for the
// same (entry_track, entry_camera, exit_track, exit_camera) key only if
// the new similarity is strictly higher (spec §4.8 idempotence rule).
func (r *Repository) Upsert(ctx context.Context, m model.CrossCameraMovement) error {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, similarity FROM cross_camera_movements
		WHERE entry_track = ? AND entry_camera = ? AND exit_track = ? AND exit_camera = ?`,
		m.EntryTrack, m.EntryCamera, m.ExitTrack, m.ExitCamera)

	var existingID int64
	var existingSim float64
	err := row.Scan(&existingID, &existingSim)
	switch {
	case err == sql.ErrNoRows:
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO cross_camera_movements
				(entry_camera, entry_zone, entry_track, entry_ts, exit_camera, exit_zone, exit_track, exit_ts, similarity, confidence, duration_s)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.EntryCamera, m.EntryZone, m.EntryTrack, m.EntryTS.Unix(),
			m.ExitCamera, m.ExitZone, m.ExitTrack, m.ExitTS.Unix(),
			m.Similarity, string(m.Confidence), m.DurationS)
		if err != nil {
			return apierr.Wrap(apierr.Transient, err, "insert cross-camera movement")
		}
		return nil
	case err != nil:
		return apierr.Wrap(apierr.Transient, err, "query cross-camera movement")
	}

	if m.Similarity <= existingSim {
		return nil
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE cross_camera_movements
		SET entry_ts = ?, exit_ts = ?, similarity = ?, confidence = ?, duration_s = ?
		WHERE id = ?`,
		m.EntryTS.Unix(), m.ExitTS.Unix(), m.Similarity, string(m.Confidence), m.DurationS, existingID)
	if err != nil {
		return apierr.Wrap(apierr.Transient, err, "update cross-camera movement")
	}
	return nil
}

// ByCamera returns movements where cameraID is either the entry or exit
// camera, newest first.
func (r *Repository) ByCamera(ctx context.Context, cameraID string, limit int) ([]model.CrossCameraMovement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entry_camera, entry_zone, entry_track, entry_ts, exit_camera, exit_zone, exit_track, exit_ts, similarity, confidence, duration_s
		FROM cross_camera_movements
		WHERE entry_camera = ? OR exit_camera = ?
		ORDER BY exit_ts DESC LIMIT ?`, cameraID, cameraID, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, err, "list movements by camera")
	}
	defer rows.Close()
	return scanMovements(rows)
}

// ByPair returns movements between exactly cameraA and cameraB in
// either direction, newest first.
func (r *Repository) ByPair(ctx context.Context, cameraA, cameraB string, limit int) ([]model.CrossCameraMovement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entry_camera, entry_zone, entry_track, entry_ts, exit_camera, exit_zone, exit_track, exit_ts, similarity, confidence, duration_s
		FROM cross_camera_movements
		WHERE (entry_camera = ? AND exit_camera = ?) OR (entry_camera = ? AND exit_camera = ?)
		ORDER BY exit_ts DESC LIMIT ?`, cameraA, cameraB, cameraB, cameraA, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, err, "list movements by pair")
	}
	defer rows.Close()
	return scanMovements(rows)
}

// QueryFilter scopes a Query call; zero-valued fields are unfiltered.
type QueryFilter struct {
	EntryCamera string
	ExitCamera  string
	Start       time.Time
	End         time.Time
	Limit       int
}

// Query returns movements matching filter, newest first, for GET
// /movements.
func (r *Repository) Query(ctx context.Context, filter QueryFilter) ([]model.CrossCameraMovement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	where := "WHERE 1=1"
	args := []interface{}{}
	if filter.EntryCamera != "" {
		where += " AND entry_camera = ?"
		args = append(args, filter.EntryCamera)
	}
	if filter.ExitCamera != "" {
		where += " AND exit_camera = ?"
		args = append(args, filter.ExitCamera)
	}
	if !filter.Start.IsZero() {
		where += " AND exit_ts >= ?"
		args = append(args, filter.Start.Unix())
	}
	if !filter.End.IsZero() {
		where += " AND exit_ts <= ?"
		args = append(args, filter.End.Unix())
	}
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, entry_camera, entry_zone, entry_track, entry_ts, exit_camera, exit_zone, exit_track, exit_ts, similarity, confidence, duration_s
		FROM cross_camera_movements `+where+`
		ORDER BY exit_ts DESC LIMIT ?`, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, err, "query movements")
	}
	defer rows.Close()
	return scanMovements(rows)
}

// Statistics summarizes the total count, the count per confidence
// bucket and the mean duration across all recorded movements, for
// GET /movements/statistics.
type Statistics struct {
	Total        int                            `json:"total"`
	ByConfidence map[model.MatchConfidence]int   `json:"by_confidence"`
	MeanDuration float64                         `json:"mean_duration_s"`
}

// Stats computes Statistics over all persisted movements.
func (r *Repository) Stats(ctx context.Context) (Statistics, error) {
	stats := Statistics{ByConfidence: make(map[model.MatchConfidence]int)}
	rows, err := r.db.QueryContext(ctx, `SELECT confidence, duration_s FROM cross_camera_movements`)
	if err != nil {
		return stats, apierr.Wrap(apierr.Transient, err, "query movement statistics")
	}
	defer rows.Close()

	var totalDuration float64
	for rows.Next() {
		var confidence string
		var duration float64
		if err := rows.Scan(&confidence, &duration); err != nil {
			return stats, apierr.Wrap(apierr.Transient, err, "scan movement statistics")
		}
		stats.Total++
		stats.ByConfidence[model.MatchConfidence(confidence)]++
		totalDuration += duration
	}
	if stats.Total > 0 {
		stats.MeanDuration = totalDuration / float64(stats.Total)
	}
	return stats, rows.Err()
}

func scanMovements(rows *sql.Rows) ([]model.CrossCameraMovement, error) {
	var out []model.CrossCameraMovement
	for rows.Next() {
		var m model.CrossCameraMovement
		var confidence string
		var entryTS, exitTS int64
		if err := rows.Scan(&m.ID, &m.EntryCamera, &m.EntryZone, &m.EntryTrack, &entryTS,
			&m.ExitCamera, &m.ExitZone, &m.ExitTrack, &exitTS, &m.Similarity, &confidence, &m.DurationS); err != nil {
			return nil, apierr.Wrap(apierr.Transient, err, "scan cross-camera movement")
		}
		m.Confidence = model.MatchConfidence(confidence)
		m.EntryTS = time.Unix(entryTS, 0).UTC()
		m.ExitTS = time.Unix(exitTS, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

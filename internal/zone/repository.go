package zone

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/crowdwatch/crowdwatch/internal/apierr"
	"github.com/crowdwatch/crowdwatch/internal/model"
)

// Repository persists zones and entry/exit events to SQLite. Occupancy
// bookkeeping on entry_exit_events inserts is handled by the
// trg_zone_entry_occupancy / trg_zone_exit_occupancy triggers
// (internal/database/migrations/002_zone_capacity_trigger.sql), so Repository
// never updates current_occupancy directly on event insert.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps db for zone/event persistence.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create validates and inserts a new zone, assigning it an ID.
func (r *Repository) Create(ctx context.Context, z model.Zone) (model.Zone, error) {
	if err := Validate(z); err != nil {
		return model.Zone{}, err
	}
	if z.ID == "" {
		z.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	z.CreatedAt, z.UpdatedAt = now, now

	polygon, err := json.Marshal(z.Polygon)
	if err != nil {
		return model.Zone{}, apierr.Wrap(apierr.Validation, err, "encode polygon")
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO zones (id, camera_id, name, type, polygon, max_capacity, current_occupancy, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		z.ID, z.CameraID, z.Name, string(z.Type), string(polygon), z.MaxCapacity, now.Unix(), now.Unix())
	if err != nil {
		return model.Zone{}, apierr.Wrap(apierr.Transient, err, "insert zone")
	}
	return z, nil
}

// Get fetches a zone by id.
func (r *Repository) Get(ctx context.Context, id string) (model.Zone, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, camera_id, name, type, polygon, max_capacity, current_occupancy, created_at, updated_at
		FROM zones WHERE id = ?`, id)
	return scanZone(row)
}

// ListByCamera returns all zones for a camera.
func (r *Repository) ListByCamera(ctx context.Context, cameraID string) ([]model.Zone, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, camera_id, name, type, polygon, max_capacity, current_occupancy, created_at, updated_at
		FROM zones WHERE camera_id = ? ORDER BY created_at`, cameraID)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, err, "list zones")
	}
	defer rows.Close()

	var zones []model.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// Update replaces a zone's mutable fields (name, type, polygon, max_capacity).
func (r *Repository) Update(ctx context.Context, id string, patch model.Zone) (model.Zone, error) {
	existing, err := r.Get(ctx, id)
	if err != nil {
		return model.Zone{}, err
	}
	if patch.Name != "" {
		existing.Name = patch.Name
	}
	if patch.Type != "" {
		existing.Type = patch.Type
	}
	if len(patch.Polygon) > 0 {
		existing.Polygon = patch.Polygon
	}
	if patch.MaxCapacity != 0 {
		existing.MaxCapacity = patch.MaxCapacity
	}
	if err := Validate(existing); err != nil {
		return model.Zone{}, err
	}

	polygon, err := json.Marshal(existing.Polygon)
	if err != nil {
		return model.Zone{}, apierr.Wrap(apierr.Validation, err, "encode polygon")
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE zones SET name=?, type=?, polygon=?, max_capacity=?, updated_at=?
		WHERE id = ?`, existing.Name, string(existing.Type), string(polygon), existing.MaxCapacity, now.Unix(), id)
	if err != nil {
		return model.Zone{}, apierr.Wrap(apierr.Transient, err, "update zone")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Zone{}, apierr.New(apierr.Validation, "zone %s not found", id)
	}
	existing.UpdatedAt = now
	return existing, nil
}

// Delete removes a zone by id. Returns sql.ErrNoRows if it did not exist.
func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM zones WHERE id = ?`, id)
	if err != nil {
		return apierr.Wrap(apierr.Transient, err, "delete zone")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AllActive returns every zone across all cameras, for the evaluator to
// check every confirmed track against on each frame.
func (r *Repository) AllActive(ctx context.Context) ([]model.Zone, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, camera_id, name, type, polygon, max_capacity, current_occupancy, created_at, updated_at
		FROM zones`)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, err, "list all zones")
	}
	defer rows.Close()

	var zones []model.Zone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// RecordEvent persists one entry/exit event. The zone's
// current_occupancy is adjusted by the database trigger on insert.
func (r *Repository) RecordEvent(ctx context.Context, ev model.EntryExitEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO entry_exit_events (camera_id, zone_id, track_id, kind, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		ev.CameraID, ev.ZoneID, ev.TrackID, string(ev.Kind), ev.Timestamp.Unix())
	if err != nil {
		return apierr.Wrap(apierr.Transient, err, "record entry/exit event")
	}
	return nil
}

// EntryExitCounts returns the {entry_count, exit_count} summary for a
// camera, per GET /analytics/{camera_id}/entry-exit.
func (r *Repository) EntryExitCounts(ctx context.Context, cameraID string) (entries, exits int, err error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN kind = 'entry' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'exit' THEN 1 ELSE 0 END), 0)
		FROM entry_exit_events WHERE camera_id = ?`, cameraID)
	if err := row.Scan(&entries, &exits); err != nil {
		return 0, 0, apierr.Wrap(apierr.Transient, err, "count entry/exit events")
	}
	return entries, exits, nil
}

// RecentEvents returns the most recent entry/exit events for a camera,
// newest first, bounded by limit.
func (r *Repository) RecentEvents(ctx context.Context, cameraID string, limit int) ([]model.EntryExitEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT camera_id, zone_id, track_id, kind, timestamp
		FROM entry_exit_events WHERE camera_id = ? ORDER BY timestamp DESC LIMIT ?`, cameraID, limit)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, err, "list entry/exit events")
	}
	defer rows.Close()

	var events []model.EntryExitEvent
	for rows.Next() {
		var ev model.EntryExitEvent
		var kind string
		var ts int64
		if err := rows.Scan(&ev.CameraID, &ev.ZoneID, &ev.TrackID, &kind, &ts); err != nil {
			return nil, apierr.Wrap(apierr.Transient, err, "scan entry/exit event")
		}
		ev.Kind = model.EventKind(kind)
		ev.Timestamp = time.Unix(ts, 0).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanZone(row rowScanner) (model.Zone, error) {
	var z model.Zone
	var zoneType, polygon string
	var createdAt, updatedAt int64
	if err := row.Scan(&z.ID, &z.CameraID, &z.Name, &zoneType, &polygon, &z.MaxCapacity, &z.CurrentOccupancy, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return model.Zone{}, err
		}
		return model.Zone{}, apierr.Wrap(apierr.Transient, err, "scan zone")
	}
	z.Type = model.ZoneType(zoneType)
	if err := json.Unmarshal([]byte(polygon), &z.Polygon); err != nil {
		return model.Zone{}, apierr.Wrap(apierr.Corrupt, err, "decode polygon")
	}
	z.CreatedAt = time.Unix(createdAt, 0).UTC()
	z.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return z, nil
}

// Validate checks a zone payload against the §3 invariants: a name, a
// known type, and a simple polygon of at least 3 points.
func Validate(z model.Zone) error {
	var errs apierr.MultiError
	if z.CameraID == "" {
		errs = append(errs, apierr.Invalid("camera_id", "camera_id is required"))
	}
	if z.Name == "" {
		errs = append(errs, apierr.Invalid("name", "name is required"))
	}
	switch z.Type {
	case model.ZoneEntry, model.ZoneExit, model.ZoneMonitor, model.ZoneRestricted:
	default:
		errs = append(errs, apierr.Invalid("type", "unknown zone type %q", z.Type))
	}
	if len(z.Polygon) < 3 {
		errs = append(errs, apierr.Invalid("polygon", "polygon must have at least 3 points"))
	} else if !IsSimple(z.Polygon) {
		errs = append(errs, apierr.Invalid("polygon", "polygon must be simple (non-self-intersecting)"))
	}
	if errs.HasErrors() {
		return errs
	}
	return nil
}

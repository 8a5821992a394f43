package risk

import (
	"context"
	"database/sql"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/apierr"
	"github.com/crowdwatch/crowdwatch/internal/model"
)

// Repository persists alerts to SQLite.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps db for alert persistence.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert persists a newly generated alert.
func (r *Repository) Insert(ctx context.Context, a model.Alert) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts (id, camera_id, kind, severity, risk_score, message, timestamp, acknowledged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CameraID, string(a.Kind), string(a.Severity), a.RiskScore, a.Message, a.Timestamp.Unix(), boolToInt(a.Acknowledged))
	if err != nil {
		return apierr.Wrap(apierr.Transient, err, "insert alert")
	}
	return nil
}

// Get fetches an alert by id.
func (r *Repository) Get(ctx context.Context, id string) (model.Alert, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, camera_id, kind, severity, risk_score, message, timestamp, acknowledged
		FROM alerts WHERE id = ?`, id)
	return scanAlert(row)
}

// Active lists unacknowledged alerts, optionally filtered by camera_id
// and/or minimum severity, newest first.
func (r *Repository) Active(ctx context.Context, cameraID string, minSeverity model.RiskLevel) ([]model.Alert, error) {
	query := `SELECT id, camera_id, kind, severity, risk_score, message, timestamp, acknowledged
		FROM alerts WHERE acknowledged = 0`
	var args []interface{}
	if cameraID != "" {
		query += ` AND camera_id = ?`
		args = append(args, cameraID)
	}
	query += ` ORDER BY timestamp DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transient, err, "list active alerts")
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		if minSeverity != "" && !severityAtLeast(a.Severity, minSeverity) {
			continue
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Acknowledge marks an alert acknowledged. Calling it twice on the same
// id is a no-op the second time and both calls return nil, satisfying
// the idempotence invariant on POST /alerts/{id}/acknowledge.
func (r *Repository) Acknowledge(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE alerts SET acknowledged = 1 WHERE id = ?`, id)
	if err != nil {
		return apierr.Wrap(apierr.Transient, err, "acknowledge alert")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func scanAlert(row interface{ Scan(...interface{}) error }) (model.Alert, error) {
	var a model.Alert
	var kind, severity string
	var ts int64
	var acked int
	if err := row.Scan(&a.ID, &a.CameraID, &kind, &severity, &a.RiskScore, &a.Message, &ts, &acked); err != nil {
		if err == sql.ErrNoRows {
			return model.Alert{}, apierr.New(apierr.Validation, "alert not found")
		}
		return model.Alert{}, apierr.Wrap(apierr.Transient, err, "scan alert")
	}
	a.Kind = model.AlertKind(kind)
	a.Severity = model.RiskLevel(severity)
	a.Timestamp = time.Unix(ts, 0).UTC()
	a.Acknowledged = acked != 0
	return a, nil
}

func severityRank(level model.RiskLevel) int {
	switch level {
	case model.RiskWarning:
		return 1
	case model.RiskCritical:
		return 2
	default:
		return 0
	}
}

func severityAtLeast(have, want model.RiskLevel) bool {
	return severityRank(have) >= severityRank(want)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

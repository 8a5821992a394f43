package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/database"
	"github.com/crowdwatch/crowdwatch/internal/model"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(&database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.NewMigrator(db).Run(context.Background()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO cameras (id, status) VALUES ('cam_A', 'active')`); err != nil {
		t.Fatalf("seed camera: %v", err)
	}
	return db
}

func sampleAt(t time.Time) model.AnalyticsSample {
	return model.AnalyticsSample{
		CameraID: "cam_A", Timestamp: t, PeopleCount: 3, Density: 0.4,
		AvgSpeed: 12.5, Congestion: model.CongestionMedium,
		RiskScore: 0.2, RiskLevel: model.RiskNormal,
	}
}

func TestInsertAndLatest(t *testing.T) {
	repo := NewRepository(testDB(t).DB)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := repo.Insert(ctx, sampleAt(now.Add(-time.Minute))); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := repo.Insert(ctx, sampleAt(now)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	latest, err := repo.Latest(ctx, "cam_A")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if !latest.Timestamp.Equal(now) {
		t.Fatalf("expected latest sample at %v, got %v", now, latest.Timestamp)
	}
}

func TestInsertDetectionsAndPositions_FiltersByTimeRange(t *testing.T) {
	repo := NewRepository(testDB(t).DB)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	if err := repo.InsertDetections(ctx, "cam_A", base.Add(-time.Hour), []model.BoundingBox{
		{X: 1, Y: 1, Width: 10, Height: 10},
	}); err != nil {
		t.Fatalf("InsertDetections (out of range): %v", err)
	}
	if err := repo.InsertDetections(ctx, "cam_A", base, []model.BoundingBox{
		{X: 100, Y: 100, Width: 40, Height: 80},
		{X: 200, Y: 150, Width: 30, Height: 60},
	}); err != nil {
		t.Fatalf("InsertDetections: %v", err)
	}

	boxes, err := repo.DetectionPositions(ctx, "cam_A", base.Add(-time.Minute), base.Add(time.Minute))
	if err != nil {
		t.Fatalf("DetectionPositions: %v", err)
	}
	if len(boxes) != 2 {
		t.Fatalf("expected 2 positions within range, got %d", len(boxes))
	}
}

func TestHistory_FiltersByRangeAndOrdersAscending(t *testing.T) {
	repo := NewRepository(testDB(t).DB)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 5; i++ {
		if err := repo.Insert(ctx, sampleAt(base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	hist, err := repo.History(ctx, "cam_A", base.Add(time.Minute), base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("expected 3 samples in range, got %d", len(hist))
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].Timestamp.Before(hist[i-1].Timestamp) {
			t.Fatalf("expected ascending order, got %v then %v", hist[i-1].Timestamp, hist[i].Timestamp)
		}
	}
}

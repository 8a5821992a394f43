package matcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/database"
	"github.com/crowdwatch/crowdwatch/internal/model"
)

func embedding(x float64) []float64 {
	return []float64{x, 1 - x}
}

func TestBestCandidate_PicksHighestSimilarityAboveThreshold(t *testing.T) {
	m := &Matcher{cfg: DefaultConfig()}
	base := time.Now()

	candidates := []pendingEvent{
		{ev: model.EntryExitEvent{CameraID: "cam_B", Timestamp: base.Add(-2 * time.Minute), Embedding: []float64{1, 0}}},
		{ev: model.EntryExitEvent{CameraID: "cam_C", Timestamp: base.Add(-1 * time.Minute), Embedding: []float64{0.99, 0.01}}},
	}
	target := model.EntryExitEvent{CameraID: "cam_A", Timestamp: base, Embedding: []float64{1, 0}}

	best, sim := m.bestCandidate(candidates, target, func(model.EntryExitEvent) bool { return true })
	if best == nil {
		t.Fatalf("expected a match")
	}
	if best.CameraID != "cam_B" {
		t.Fatalf("expected exact-match embedding to win, got %s (sim=%f)", best.CameraID, sim)
	}
}

func TestBestCandidate_RejectsBelowThreshold(t *testing.T) {
	m := &Matcher{cfg: DefaultConfig()}
	candidates := []pendingEvent{
		{ev: model.EntryExitEvent{CameraID: "cam_B", Embedding: []float64{1, 0}}},
	}
	target := model.EntryExitEvent{CameraID: "cam_A", Embedding: []float64{0, 1}}

	best, _ := m.bestCandidate(candidates, target, func(model.EntryExitEvent) bool { return true })
	if best != nil {
		t.Fatalf("expected no match for orthogonal embeddings, got %+v", best)
	}
}

func TestBestCandidate_TieBreaksBySmallerDelta(t *testing.T) {
	m := &Matcher{cfg: Config{SimThreshold: 0.5, Window: 10 * time.Minute}}
	base := time.Now()

	candidates := []pendingEvent{
		{ev: model.EntryExitEvent{CameraID: "cam_B", Timestamp: base.Add(-5 * time.Minute), Embedding: []float64{1, 0}}},
		{ev: model.EntryExitEvent{CameraID: "cam_C", Timestamp: base.Add(-1 * time.Minute), Embedding: []float64{1, 0}}},
	}
	target := model.EntryExitEvent{CameraID: "cam_A", Timestamp: base, Embedding: []float64{1, 0}}

	best, _ := m.bestCandidate(candidates, target, func(model.EntryExitEvent) bool { return true })
	if best == nil || best.CameraID != "cam_C" {
		t.Fatalf("expected closer-in-time candidate to win ties, got %+v", best)
	}
}

// TestHandle_EntryTimestampNeverAfterExit exercises scenario S3 end to
// end through handle(): an exit on cam_A at t=0 followed by an entry on
// cam_B at t=+120s must always persist as entry_ts <= exit_ts with
// duration_s >= 0, regardless of which event kind triggered the match.
func TestHandle_EntryTimestampNeverAfterExit(t *testing.T) {
	db, err := database.Open(&database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.NewMigrator(db).Run(context.Background()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	for _, id := range []string{"cam_A", "cam_B"} {
		if _, err := db.Exec(`INSERT INTO cameras (id, status) VALUES (?, 'active')`, id); err != nil {
			t.Fatalf("seed camera %s: %v", id, err)
		}
	}

	repo := NewRepository(db.DB)
	m := New(nil, repo, DefaultConfig(), slog.Default())
	base := time.Now().UTC().Truncate(time.Second)
	emb := []float64{1, 0}

	exit := model.EntryExitEvent{CameraID: "cam_A", ZoneID: "z1", TrackID: 1, Kind: model.EventExit, Timestamp: base, Embedding: emb}
	entry := model.EntryExitEvent{CameraID: "cam_B", ZoneID: "z2", TrackID: 2, Kind: model.EventEntry, Timestamp: base.Add(120 * time.Second), Embedding: emb}

	ctx := context.Background()
	m.handle(ctx, exit)
	m.handle(ctx, entry)

	movements, err := repo.ByPair(ctx, "cam_A", "cam_B", 10)
	if err != nil {
		t.Fatalf("ByPair: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected exactly one recorded movement, got %d", len(movements))
	}
	mv := movements[0]
	if mv.EntryTS.After(mv.ExitTS) {
		t.Fatalf("expected entry_ts <= exit_ts, got entry=%v exit=%v", mv.EntryTS, mv.ExitTS)
	}
	if mv.EntryCamera != "cam_A" || mv.ExitCamera != "cam_B" {
		t.Fatalf("expected entry=cam_A exit=cam_B by chronological order, got entry=%s exit=%s", mv.EntryCamera, mv.ExitCamera)
	}
	if mv.DurationS < 0 {
		t.Fatalf("expected non-negative duration, got %f", mv.DurationS)
	}
	if got := mv.DurationS; got < 119 || got > 121 {
		t.Fatalf("expected duration ~120s, got %f", got)
	}
}

func TestPrune_DropsEventsOlderThanWindow(t *testing.T) {
	m := &Matcher{cfg: Config{SimThreshold: 0.7, Window: time.Minute}}
	now := time.Now()
	m.exits = []pendingEvent{
		{ev: model.EntryExitEvent{Timestamp: now.Add(-2 * time.Minute)}},
		{ev: model.EntryExitEvent{Timestamp: now.Add(-30 * time.Second)}},
	}
	m.prune(now)
	if len(m.exits) != 1 {
		t.Fatalf("expected stale exit pruned, got %d remaining", len(m.exits))
	}
}

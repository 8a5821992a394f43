// Package matcher implements the cross-camera re-identification match
// described in spec §4.8: linking an exit on one camera to an entry on
// another camera via appearance-embedding similarity, asynchronously so
// a slow match can never block a camera's ingest path.
package matcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/crowdwatch/crowdwatch/internal/core"
	"github.com/crowdwatch/crowdwatch/internal/model"
	"github.com/crowdwatch/crowdwatch/internal/vision/reid"
)

// Config holds the matcher's tunables (spec §4.8 defaults).
type Config struct {
	SimThreshold float64       // default 0.70
	Window       time.Duration // default 10 minutes
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{SimThreshold: 0.70, Window: 10 * time.Minute}
}

// pendingEvent is one exit or entry waiting to be matched against the
// opposite kind on a different camera, mirroring the teacher's
// PendingHandoff bookkeeping generalized from same-system handoff to
// independent-camera re-id matching.
type pendingEvent struct {
	ev model.EntryExitEvent
}

// Matcher subscribes to entry/exit events on the internal event bus
// and, for each new event, searches recent opposite-kind events on
// other cameras for the best re-id match within the lookback/lookahead
// window.
type Matcher struct {
	bus    *core.EventBus
	repo   *Repository
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	exits   []pendingEvent // recent exit events, any camera
	entries []pendingEvent // recent entry events, any camera

	sub *nats.Subscription
}

// New builds a Matcher backed by repo for persistence, subscribing to
// bus's entry/exit subject.
func New(bus *core.EventBus, repo *Repository, cfg Config, logger *slog.Logger) *Matcher {
	if cfg.SimThreshold == 0 {
		cfg.SimThreshold = DefaultConfig().SimThreshold
	}
	if cfg.Window == 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Matcher{bus: bus, repo: repo, cfg: cfg, logger: logger.With("component", "matcher")}
}

// Run subscribes to the entry/exit subject and processes events until
// ctx is cancelled, running as the spec's "separate worker for the
// cross-camera matcher" (§5).
func (m *Matcher) Run(ctx context.Context) error {
	sub, err := m.bus.Subscribe(core.SubjectEntryExit, func(msg *nats.Msg) {
		var ev model.EntryExitEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			m.logger.Error("decode entry/exit event", "error", err)
			return
		}
		m.handle(ctx, ev)
	})
	if err != nil {
		return err
	}
	m.sub = sub

	<-ctx.Done()
	_ = m.sub.Unsubscribe()
	return nil
}

// handle processes one entry/exit event: records it in the appropriate
// pending list, prunes events older than the window, and attempts a
// match against the opposite list.
func (m *Matcher) handle(ctx context.Context, ev model.EntryExitEvent) {
	if len(ev.Embedding) == 0 {
		// No embedding (e.g. re-id not yet warmed up for this track) —
		// nothing to match on.
		return
	}

	m.mu.Lock()
	m.prune(ev.Timestamp)

	var match *model.EntryExitEvent
	var bestSim float64
	switch ev.Kind {
	case model.EventEntry:
		// Look back [t - window, t) for an exit on a different camera.
		match, bestSim = m.bestCandidate(m.exits, ev, func(other model.EntryExitEvent) bool {
			return other.CameraID != ev.CameraID && !other.Timestamp.After(ev.Timestamp) && other.Timestamp.After(ev.Timestamp.Add(-m.cfg.Window))
		})
		m.entries = append(m.entries, pendingEvent{ev: ev})
	case model.EventExit:
		// Look ahead (t, t + window] for an entry on a different camera.
		match, bestSim = m.bestCandidate(m.entries, ev, func(other model.EntryExitEvent) bool {
			return other.CameraID != ev.CameraID && other.Timestamp.After(ev.Timestamp) && !other.Timestamp.After(ev.Timestamp.Add(m.cfg.Window))
		})
		m.exits = append(m.exits, pendingEvent{ev: ev})
	}
	m.mu.Unlock()

	if match == nil {
		return
	}

	// entry_ts must never exceed exit_ts (spec §3, §8 property #4):
	// assign by which side of the pair happened first, not by which
	// event kind triggered this match. An entry event can itself be
	// the later half of the pair (it's matched against an earlier
	// exit found by looking backward in bestCandidate's window).
	var entry, exit model.EntryExitEvent
	if ev.Timestamp.Before(match.Timestamp) {
		entry, exit = ev, *match
	} else {
		entry, exit = *match, ev
	}

	movement := model.CrossCameraMovement{
		EntryCamera: entry.CameraID,
		EntryZone:   entry.ZoneID,
		EntryTrack:  entry.TrackID,
		EntryTS:     entry.Timestamp,
		ExitCamera:  exit.CameraID,
		ExitZone:    exit.ZoneID,
		ExitTrack:   exit.TrackID,
		ExitTS:      exit.Timestamp,
		Similarity:  bestSim,
		Confidence:  model.ConfidenceFor(bestSim),
		DurationS:   exit.Timestamp.Sub(entry.Timestamp).Seconds(),
	}
	if err := m.repo.Upsert(ctx, movement); err != nil {
		m.logger.Error("persist cross-camera movement", "error", err)
		return
	}
	if m.bus != nil {
		_ = m.bus.Publish(core.SubjectMovement, movement)
	}
}

// bestCandidate returns the highest-similarity match from candidates
// satisfying withinWindow and the SimThreshold, tie-broken by smaller
// |Δt| (spec §4.8).
func (m *Matcher) bestCandidate(candidates []pendingEvent, ev model.EntryExitEvent, withinWindow func(model.EntryExitEvent) bool) (*model.EntryExitEvent, float64) {
	var best *model.EntryExitEvent
	var bestSim float64
	var bestDt time.Duration

	for i := range candidates {
		other := candidates[i].ev
		if !withinWindow(other) {
			continue
		}
		sim := reid.CosineSimilarity(ev.Embedding, other.Embedding)
		if sim < m.cfg.SimThreshold {
			continue
		}
		dt := ev.Timestamp.Sub(other.Timestamp)
		if dt < 0 {
			dt = -dt
		}
		if best == nil || sim > bestSim || (sim == bestSim && dt < bestDt) {
			c := other
			best = &c
			bestSim = sim
			bestDt = dt
		}
	}
	return best, bestSim
}

// prune drops pending events older than the match window relative to
// now, bounding memory growth.
func (m *Matcher) prune(now time.Time) {
	cutoff := now.Add(-m.cfg.Window)
	m.exits = pruneBefore(m.exits, cutoff)
	m.entries = pruneBefore(m.entries, cutoff)
}

func pruneBefore(events []pendingEvent, cutoff time.Time) []pendingEvent {
	i := 0
	for i < len(events) && events[i].ev.Timestamp.Before(cutoff) {
		i++
	}
	return events[i:]
}

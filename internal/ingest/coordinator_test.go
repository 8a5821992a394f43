package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/crowdwatch/crowdwatch/internal/vision/detector"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestSubmit_StrictOrdering(t *testing.T) {
	var mu sync.Mutex
	var seen []uint64

	c := NewCoordinator(10, func(_ context.Context, f detector.Frame) {
		mu.Lock()
		seen = append(seen, f.FrameID)
		mu.Unlock()
	})
	defer c.Shutdown()

	for i := uint64(1); i <= 5; i++ {
		if err := c.Submit(detector.Frame{CameraID: "cam_A", FrameID: i}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 5
	})

	mu.Lock()
	defer mu.Unlock()
	for i, id := range seen {
		if id != uint64(i+1) {
			t.Fatalf("out of order: %v", seen)
		}
	}
}

func TestSubmit_RejectsOutOfOrder(t *testing.T) {
	c := NewCoordinator(10, func(_ context.Context, _ detector.Frame) {})
	defer c.Shutdown()

	if err := c.Submit(detector.Frame{CameraID: "cam_A", FrameID: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, func() bool { return c.Stats("cam_A").Processed == 1 })

	if err := c.Submit(detector.Frame{CameraID: "cam_A", FrameID: 5}); err == nil {
		t.Fatal("expected rejection of replayed frame_id")
	}
	if err := c.Submit(detector.Frame{CameraID: "cam_A", FrameID: 3}); err == nil {
		t.Fatal("expected rejection of out-of-order frame_id")
	}

	stats := c.Stats("cam_A")
	if stats.Rejected != 2 {
		t.Fatalf("expected 2 rejected, got %d", stats.Rejected)
	}
}

func TestSubmit_DropOldestWhenSaturated(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	var mu sync.Mutex
	var processed []uint64

	c := NewCoordinator(3, func(_ context.Context, f detector.Frame) {
		mu.Lock()
		processed = append(processed, f.FrameID)
		n := len(processed)
		mu.Unlock()
		if n == 1 {
			started <- struct{}{}
			<-block // hold the worker so frames pile up in the queue
		}
	})
	defer c.Shutdown()

	// First frame is picked up immediately and blocks the worker.
	_ = c.Submit(detector.Frame{CameraID: "cam_A", FrameID: 1})
	<-started

	// Flood past capacity (qmax=3) while the worker is blocked.
	for i := uint64(2); i <= 10; i++ {
		_ = c.Submit(detector.Frame{CameraID: "cam_A", FrameID: i})
	}
	close(block)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(processed) > 1
	})

	stats := c.Stats("cam_A")
	if stats.Dropped == 0 {
		t.Fatal("expected drops when queue saturated")
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return processed[len(processed)-1] == 10
	})
}

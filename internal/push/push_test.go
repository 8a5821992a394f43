package push

import (
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestPublish_DeliversInOrder(t *testing.T) {
	f := New(8, 100*time.Millisecond, testLogger())
	sub := f.Subscribe(TopicAlerts, "")
	defer f.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		f.Publish(TopicAlerts, "", i)
	}

	for i := 0; i < 5; i++ {
		select {
		case env := <-sub.C():
			if env.Data != i {
				t.Fatalf("expected event %d in order, got %v", i, env.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestPublish_ScopesMetricsToCamera(t *testing.T) {
	f := New(8, 100*time.Millisecond, testLogger())
	subA := f.Subscribe(TopicMetrics, "cam_A")
	subAll := f.Subscribe(TopicMetrics, "")
	defer f.Unsubscribe(subA)
	defer f.Unsubscribe(subAll)

	f.Publish(TopicMetrics, "cam_B", "sample")

	select {
	case <-subA.C():
		t.Fatalf("camera-scoped subscriber should not receive other camera's events")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case env := <-subAll.C():
		if env.CameraID != "cam_B" {
			t.Fatalf("expected cam_B event, got %s", env.CameraID)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected global metrics subscriber to receive the event")
	}
}

func TestPublish_DropsOnFullBufferAndCountsThem(t *testing.T) {
	f := New(1, 10*time.Millisecond, testLogger())
	sub := f.Subscribe(TopicAlerts, "")
	defer f.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		f.Publish(TopicAlerts, "", i)
	}

	if sub.Dropped() == 0 {
		t.Fatalf("expected at least one dropped event when buffer saturated")
	}
}

func TestPublish_DisconnectsAfterConsecutiveDrops(t *testing.T) {
	f := New(1, 5*time.Millisecond, testLogger())
	sub := f.Subscribe(TopicAlerts, "")

	// Fill the one-slot buffer, then force consecutiveDrops past the
	// threshold without ever draining the channel.
	for i := 0; i < maxConsecutiveDrops+2; i++ {
		f.Publish(TopicAlerts, "", i)
	}

	if f.SubscriberCount() != 0 {
		t.Fatalf("expected subscriber to be disconnected after repeated drops")
	}
	<-sub.C() // event 0, buffered before the disconnect
	select {
	case _, ok := <-sub.C():
		if ok {
			t.Fatalf("expected subscriber channel to be closed on disconnect")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected subscriber channel to be closed on disconnect")
	}
}

func TestUnsubscribe_IsIdempotent(t *testing.T) {
	f := New(8, DefaultSendDeadline, testLogger())
	sub := f.Subscribe(TopicAlerts, "")
	f.Unsubscribe(sub)
	f.Unsubscribe(sub) // must not panic on double-close
}

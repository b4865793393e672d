package session_test

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/session"
)

func TestBroadcaster_DeliversToSubscribers(t *testing.T) {
	b := session.NewBroadcaster()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(session.Event{Type: session.EventCreated, SessionId: "s1"})

	select {
	case event := <-ch:
		if event.Type != session.EventCreated || event.SessionId != "s1" {
			t.Fatalf("unexpected event: %+v", event)
		}
		if event.At.IsZero() {
			t.Fatal("published event must carry a timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBroadcaster_PublishNeverBlocksOnFullSubscriber(t *testing.T) {
	b := session.NewBroadcaster()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Well past the channel buffer; a stalled subscriber drops events.
		for i := 0; i < 100; i++ {
			b.Publish(session.Event{Type: session.EventUpdated, SessionId: "s1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if len(ch) == 0 {
		t.Fatal("subscriber buffer should hold the earliest events")
	}
}

func TestBroadcaster_UnsubscribeIsIdempotent(t *testing.T) {
	b := session.NewBroadcaster()
	ch, unsubscribe := b.Subscribe()

	unsubscribe()
	unsubscribe()

	if _, open := <-ch; open {
		t.Fatal("channel should be closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic on the closed channel.
	b.Publish(session.Event{Type: session.EventClosed, SessionId: "s1"})
}

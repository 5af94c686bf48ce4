package notifications

import (
	"testing"
	"time"
)

func TestService_BroadcastsToAllSubscribers(t *testing.T) {
	s := NewService(4)
	defer s.Shutdown()

	a, unsubA := s.Subscribe()
	defer unsubA()
	b, unsubB := s.Subscribe()
	defer unsubB()

	s.NotifySession(EventSessionCreated, "abc")

	for _, ch := range []<-chan Event{a, b} {
		select {
		case event := <-ch:
			if event.Type != EventSessionCreated || event.SessionID != "abc" {
				t.Errorf("unexpected event %+v", event)
			}
			if event.Timestamp == 0 {
				t.Error("timestamp not set")
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestService_FileChangedCarriesOp(t *testing.T) {
	s := NewService(4)
	defer s.Shutdown()

	ch, unsub := s.Subscribe()
	defer unsub()

	s.NotifySessionFileChanged("abc", "removed")

	event := <-ch
	data, ok := event.Data.(map[string]any)
	if !ok || data["op"] != "removed" {
		t.Errorf("unexpected data %+v", event.Data)
	}
}

func TestService_DropsForSlowSubscriber(t *testing.T) {
	s := NewService(1)
	defer s.Shutdown()

	drops := 0
	s.OnDrop(func() { drops++ })

	_, unsub := s.Subscribe()
	defer unsub()

	s.NotifySession(EventSessionPersisted, "a")
	s.NotifySession(EventSessionPersisted, "a")
	s.NotifySession(EventSessionPersisted, "a")

	if drops != 2 {
		t.Errorf("expected 2 drops, got %d", drops)
	}
}

func TestService_UnsubscribeTwice(t *testing.T) {
	s := NewService(1)
	defer s.Shutdown()

	_, unsub := s.Subscribe()
	if s.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", s.SubscriberCount())
	}
	unsub()
	unsub()
	if s.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", s.SubscriberCount())
	}
}

func TestService_ShutdownClosesSubscribers(t *testing.T) {
	s := NewService(1)
	ch, unsub := s.Subscribe()

	s.Shutdown()
	s.Shutdown()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("expected closed channel")
	}

	late, _ := s.Subscribe()
	if _, ok := <-late; ok {
		t.Error("expected closed channel after shutdown")
	}
}

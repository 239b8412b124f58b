package audit

import (
	"context"
	"testing"
)

type captureStore struct {
	events []Event
}

func (s *captureStore) SaveEvent(ctx context.Context, event *Event) error {
	s.events = append(s.events, *event)
	return nil
}

func (s *captureStore) Query(ctx context.Context, filter Filter) ([]Event, error) {
	return s.events, nil
}

func TestEventBuilder(t *testing.T) {
	e := NewEvent(EventLoginSuccess).
		Actor("0xactor").
		Subject("0xsubject").
		Success().
		Message("logged in").
		Build()

	if e.Type != EventLoginSuccess {
		t.Errorf("unexpected type %s", e.Type)
	}
	if e.ActorID != "0xactor" || e.SubjectID != "0xsubject" {
		t.Errorf("actor/subject not set: %+v", e)
	}
	if e.Status != "success" {
		t.Errorf("unexpected status %s", e.Status)
	}
	if e.CreatedAt.IsZero() {
		t.Error("expected a creation timestamp")
	}
}

func TestEventBuilderSave(t *testing.T) {
	store := &captureStore{}
	ctx := context.Background()

	if err := NewEvent(EventRecoveryOpened).Subject("0xsubject").Success().Save(ctx, store); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("expected one event, got %d", len(store.events))
	}
	if store.events[0].ID == "" {
		t.Error("expected a generated event ID")
	}

	// A nil store is a silent no-op.
	if err := NewEvent(EventLogout).Save(ctx, nil); err != nil {
		t.Errorf("nil store should be a no-op, got %v", err)
	}
}

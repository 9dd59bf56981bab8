package usersink_test

import (
	"context"
	"errors"
	"testing"
	"time"

	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"

	"github.com/goliatone/go-tracker/pkg/activity"
	"github.com/goliatone/go-tracker/pkg/activity/usersink"
)

type recordingSink struct {
	records []usertypes.ActivityRecord
	err     error
}

func (s *recordingSink) Log(_ context.Context, record usertypes.ActivityRecord) error {
	s.records = append(s.records, record)
	return s.err
}

func TestRecordMapsEntityEvent(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	actorID, userID, tenantID := uuid.New(), uuid.New(), uuid.New()

	event := activity.NewEvent(activity.VerbEntityModified, "Customer:#Sales", "Customer:#Sales:1", "Modified").
		WithIdentity(activity.Identity{
			ActorID:        actorID.String(),
			UserID:         userID.String(),
			TenantID:       tenantID.String(),
			DefinitionCode: "tracker:update",
			Recipients:     []string{"recipient@example.com"},
		}).
		WithChange("companyName", "Acme", "Acme Corp")
	event.PreviousState = "Unchanged"
	event.Channel = "tracker"
	event.Sequence = 7
	event.OccurredAt = now

	record := usersink.Record(event)
	if record.ActorID != actorID || record.UserID != userID || record.TenantID != tenantID {
		t.Fatalf("unexpected identity fields: %+v", record)
	}
	if record.Verb != activity.VerbEntityModified || record.ObjectType != "Customer:#Sales" || record.ObjectID != "Customer:#Sales:1" {
		t.Fatalf("unexpected record payload: %+v", record)
	}
	if record.Channel != "tracker" || !record.OccurredAt.Equal(now) {
		t.Fatalf("unexpected channel or time: %+v", record)
	}
	want := map[string]any{
		"state":           "Modified",
		"previous_state":  "Unchanged",
		"definition_code": "tracker:update",
		"property":        "companyName",
		"old_value":       "Acme",
		"new_value":       "Acme Corp",
		"sequence":        uint64(7),
	}
	for k, v := range want {
		if record.Data[k] != v {
			t.Fatalf("expected data[%s] = %v, got %v", k, v, record.Data[k])
		}
	}
	recipients, ok := record.Data["recipients"].([]string)
	if !ok || len(recipients) != 1 || recipients[0] != "recipient@example.com" {
		t.Fatalf("expected recipients in data, got %v", record.Data["recipients"])
	}
}

func TestRecordInvalidIdentityBecomesNil(t *testing.T) {
	event := activity.NewEvent(activity.VerbEntityDeleted, "Order", "Order:3", "").
		WithIdentity(activity.Identity{ActorID: "not-a-uuid"})
	record := usersink.Record(event)
	if record.ActorID != uuid.Nil {
		t.Fatalf("expected nil actor, got %s", record.ActorID)
	}
	if record.Data != nil {
		t.Fatalf("expected no data for a bare event, got %v", record.Data)
	}
}

func TestNewFiltersVerbs(t *testing.T) {
	sink := &recordingSink{}
	hook := usersink.New(sink, activity.VerbEntitySaved)

	_ = hook.Notify(context.Background(), activity.NewEvent(activity.VerbEntityModified, "Order", "Order:1", ""))
	_ = hook.Notify(context.Background(), activity.NewEvent(activity.VerbEntitySaved, "Order", "Order:1", ""))

	if len(sink.records) != 1 || sink.records[0].Verb != activity.VerbEntitySaved {
		t.Fatalf("expected only the saved event, got %+v", sink.records)
	}
}

func TestHookSkipsInvalidEventsAndForwardsErrors(t *testing.T) {
	boom := errors.New("sink down")
	sink := &recordingSink{err: boom}
	hook := usersink.Hook{Sink: sink}

	if err := hook.Notify(context.Background(), activity.Event{}); err != nil {
		t.Fatalf("expected invalid event skipped, got %v", err)
	}
	if len(sink.records) != 0 {
		t.Fatalf("expected no records, got %d", len(sink.records))
	}
	err := hook.Notify(context.Background(), activity.NewEvent(activity.VerbEntityAttached, "Order", "Order:1", "Added"))
	if !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}
	if err := (usersink.Hook{}).Notify(context.Background(), activity.NewEvent(activity.VerbEntityAttached, "Order", "Order:1", "")); err != nil {
		t.Fatalf("expected nil sink to be a no-op, got %v", err)
	}
}

func TestHookThroughEmitter(t *testing.T) {
	sink := &recordingSink{}
	emitter := activity.NewEmitter(activity.Config{Enabled: true, Channel: "crm"}, usersink.New(sink))
	if err := emitter.Emit(context.Background(), activity.NewEvent(activity.VerbEntityAttached, "Order", "Order:1", "Added")); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(sink.records) != 1 || sink.records[0].Channel != "crm" || sink.records[0].OccurredAt.IsZero() {
		t.Fatalf("unexpected records %+v", sink.records)
	}
}

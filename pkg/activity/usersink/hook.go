// Package usersink forwards entity activity into a go-users ActivitySink.
package usersink

import (
	"context"
	"strings"

	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"

	"github.com/goliatone/go-tracker/pkg/activity"
)

// Hook writes one ActivityRecord per event.
type Hook struct {
	Sink usertypes.ActivitySink
}

// New returns a hook over sink limited to verbs (all verbs when empty).
func New(sink usertypes.ActivitySink, verbs ...string) activity.Hook {
	return activity.Filter(Hook{Sink: sink}, verbs...)
}

func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil || !event.Valid() {
		return nil
	}
	return h.Sink.Log(ctx, Record(event))
}

// Record maps event onto the go-users record shape. Entity state, change
// detail and routing fields travel in Data next to the event metadata.
func Record(event activity.Event) usertypes.ActivityRecord {
	data := make(map[string]any, len(event.Metadata)+8)
	for k, v := range event.Metadata {
		data[k] = v
	}
	set := func(key string, value string) {
		if value != "" {
			data[key] = value
		}
	}
	set("state", event.State)
	set("previous_state", event.PreviousState)
	set("definition_code", event.DefinitionCode)
	if event.Change != nil {
		data["property"] = event.Change.Property
		data["old_value"] = event.Change.OldValue
		data["new_value"] = event.Change.NewValue
	}
	if len(event.Recipients) > 0 {
		data["recipients"] = append([]string(nil), event.Recipients...)
	}
	if event.Sequence > 0 {
		data["sequence"] = event.Sequence
	}
	if len(data) == 0 {
		data = nil
	}

	return usertypes.ActivityRecord{
		ActorID:    parseUUID(event.ActorID),
		UserID:     parseUUID(event.UserID),
		TenantID:   parseUUID(event.TenantID),
		Verb:       event.Verb,
		ObjectType: event.EntityType,
		ObjectID:   event.EntityKey,
		Channel:    event.Channel,
		Data:       data,
		OccurredAt: event.OccurredAt,
	}
}

func parseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil
	}
	return id
}

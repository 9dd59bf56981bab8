// Package activity turns entity lifecycle changes into audit events and fans
// them out to hooks.
package activity

import (
	"strings"
	"time"
)

// Verbs emitted for entity lifecycle changes.
const (
	VerbEntityAttached = "entity.attached"
	VerbEntityModified = "entity.modified"
	VerbEntityDeleted  = "entity.deleted"
	VerbEntityDetached = "entity.detached"
	VerbEntitySaved    = "entity.saved"
	VerbEntityRejected = "entity.rejected"
)

// Identity names who caused an event and who should hear about it.
type Identity struct {
	ActorID        string
	UserID         string
	TenantID       string
	DefinitionCode string
	Recipients     []string
}

// Change is the property level detail carried by entity.modified events.
type Change struct {
	Property string
	OldValue any
	NewValue any
}

// Event is one entity lifecycle occurrence. EntityKey is the string form of
// the entity key, e.g. "Order:#Sales:10248".
type Event struct {
	Verb string
	Identity

	EntityType    string
	EntityKey     string
	State         string
	PreviousState string
	Change        *Change

	Channel    string
	Sequence   uint64
	Metadata   map[string]any
	OccurredAt time.Time
}

// NewEvent builds an event for the entity identified by entityType and key.
func NewEvent(verb, entityType, entityKey, state string) Event {
	return Event{Verb: verb, EntityType: entityType, EntityKey: entityKey, State: state}
}

// WithIdentity returns a copy of e stamped with id.
func (e Event) WithIdentity(id Identity) Event {
	e.Identity = id
	e.Recipients = cloneStrings(id.Recipients)
	return e
}

// WithChange returns a copy of e carrying a property change.
func (e Event) WithChange(property string, oldValue, newValue any) Event {
	e.Change = &Change{Property: property, OldValue: oldValue, NewValue: newValue}
	return e
}

// Valid reports whether the event names a verb and an entity.
func (e Event) Valid() bool {
	return e.Verb != "" && e.EntityType != "" && e.EntityKey != ""
}

// Normalize trims identifiers and copies slices and maps so hooks cannot
// alias the caller's event. A zero OccurredAt is set to now.
func Normalize(e Event, now time.Time) Event {
	out := e
	out.Verb = strings.TrimSpace(e.Verb)
	out.ActorID = strings.TrimSpace(e.ActorID)
	out.UserID = strings.TrimSpace(e.UserID)
	out.TenantID = strings.TrimSpace(e.TenantID)
	out.DefinitionCode = strings.TrimSpace(e.DefinitionCode)
	out.EntityType = strings.TrimSpace(e.EntityType)
	out.EntityKey = strings.TrimSpace(e.EntityKey)
	out.Channel = strings.TrimSpace(e.Channel)
	out.Recipients = cloneStrings(e.Recipients)
	out.Metadata = cloneMap(e.Metadata)
	if e.Change != nil {
		change := *e.Change
		out.Change = &change
	}
	if out.OccurredAt.IsZero() {
		out.OccurredAt = now
	}
	return out
}

func cloneStrings(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	return append([]string(nil), src...)
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

package tracker

import (
	"fmt"
	"strings"
)

// EntityState is the change-tracking state of an entity.
type EntityState uint8

const (
	// StateDetached is the zero value; entities start detached.
	StateDetached EntityState = iota
	StateUnchanged
	StateAdded
	StateModified
	StateDeleted
)

var entityStateNames = map[EntityState]string{
	StateDetached:  "Detached",
	StateUnchanged: "Unchanged",
	StateAdded:     "Added",
	StateModified:  "Modified",
	StateDeleted:   "Deleted",
}

func (s EntityState) String() string {
	if name, ok := entityStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("EntityState(%d)", uint8(s))
}

// ParseEntityState resolves a state by its name, case-insensitively.
func ParseEntityState(name string) (EntityState, error) {
	for state, stateName := range entityStateNames {
		if strings.EqualFold(stateName, strings.TrimSpace(name)) {
			return state, nil
		}
	}
	return StateDetached, fmt.Errorf("tracker: unknown entity state %q", name)
}

// EntityStates returns every state in declaration order.
func EntityStates() []EntityState {
	return []EntityState{StateUnchanged, StateAdded, StateModified, StateDeleted, StateDetached}
}

func (s EntityState) IsUnchanged() bool { return s == StateUnchanged }
func (s EntityState) IsAdded() bool     { return s == StateAdded }
func (s EntityState) IsModified() bool  { return s == StateModified }
func (s EntityState) IsDeleted() bool   { return s == StateDeleted }
func (s EntityState) IsDetached() bool  { return s == StateDetached }

// IsUnchangedOrModified reports whether the entity exists on the server and
// has not been deleted.
func (s EntityState) IsUnchangedOrModified() bool {
	return s == StateUnchanged || s == StateModified
}

// IsAddedModifiedOrDeleted reports whether the entity has pending changes.
func (s EntityState) IsAddedModifiedOrDeleted() bool {
	return s == StateAdded || s == StateModified || s == StateDeleted
}

// MarshalText encodes the state by name.
func (s EntityState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *EntityState) UnmarshalText(text []byte) error {
	state, err := ParseEntityState(string(text))
	if err != nil {
		return err
	}
	*s = state
	return nil
}

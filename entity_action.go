package tracker

import "fmt"

// EntityAction classifies an entity-changed notification.
type EntityAction uint8

const (
	ActionAttach EntityAction = iota + 1
	ActionAttachOnQuery
	ActionAttachOnImport
	ActionDetach
	ActionMergeOnQuery
	ActionMergeOnImport
	ActionMergeOnSave
	ActionPropertyChange
	ActionEntityStateChange
	ActionAcceptChanges
	ActionRejectChanges
	ActionClear
)

var entityActionNames = map[EntityAction]string{
	ActionAttach:            "Attach",
	ActionAttachOnQuery:     "AttachOnQuery",
	ActionAttachOnImport:    "AttachOnImport",
	ActionDetach:            "Detach",
	ActionMergeOnQuery:      "MergeOnQuery",
	ActionMergeOnImport:     "MergeOnImport",
	ActionMergeOnSave:       "MergeOnSave",
	ActionPropertyChange:    "PropertyChange",
	ActionEntityStateChange: "EntityStateChange",
	ActionAcceptChanges:     "AcceptChanges",
	ActionRejectChanges:     "RejectChanges",
	ActionClear:             "Clear",
}

func (a EntityAction) String() string {
	if name, ok := entityActionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("EntityAction(%d)", uint8(a))
}

// IsAttach reports whether the action attached an entity to a manager.
func (a EntityAction) IsAttach() bool {
	return a == ActionAttach || a == ActionAttachOnQuery || a == ActionAttachOnImport
}

// IsDetach reports whether the action removed an entity from a manager.
func (a EntityAction) IsDetach() bool {
	return a == ActionDetach || a == ActionClear
}

// IsModification reports whether the action changed entity data.
func (a EntityAction) IsModification() bool {
	switch a {
	case ActionMergeOnQuery, ActionMergeOnImport, ActionMergeOnSave, ActionPropertyChange, ActionRejectChanges:
		return true
	default:
		return false
	}
}

package tracker

import (
	"context"
	"strings"
)

// PropertyChangedArgs is published by EntityAspect.PropertyChanged. Property
// is nil and PropertyName empty when several properties changed at once, as
// after RejectChanges or a merge.
type PropertyChangedArgs struct {
	Entity       Entity
	Parent       Structural
	Property     StructuralProperty
	PropertyName string
	OldValue     any
	NewValue     any
}

// ValidationErrorsChangedArgs carries the errors added and removed by one
// validation operation.
type ValidationErrorsChangedArgs struct {
	Entity  Entity
	Added   []*ValidationError
	Removed []*ValidationError
}

// EntityAspect carries the change-tracking state of an entity: its state,
// original values, key, validation errors and manager membership.
type EntityAspect struct {
	entity  Entity
	manager *EntityManager
	group   *EntityGroup
	state   EntityState

	isBeingSaved   bool
	hasTempKey     bool
	initialized    bool
	wasLoaded      bool
	originalValues map[string]any

	validationErrors map[string]*ValidationError
	validationOrder  []string
	pending          *ValidationErrorsChangedArgs

	key       EntityKey
	hasKey    bool
	loadedNps []string
	inProcess []StructuralProperty

	// ExtraMetadata travels with the entity through export and import, for
	// things like an etag.
	ExtraMetadata map[string]any

	PropertyChanged         *Event[PropertyChangedArgs]
	ValidationErrorsChanged *Event[ValidationErrorsChangedArgs]
}

func newEntityAspect(entity Entity) *EntityAspect {
	a := &EntityAspect{
		entity:           entity,
		state:            StateDetached,
		originalValues:   map[string]any{},
		validationErrors: map[string]*ValidationError{},
	}
	a.PropertyChanged = NewEvent[PropertyChangedArgs]("propertyChanged", a)
	a.ValidationErrorsChanged = NewEvent[ValidationErrorsChangedArgs]("validationErrorsChanged", a)
	return a
}

// nullEntityAspect stands in for the aspect of an orphaned complex object.
func nullEntityAspect() *EntityAspect { return newEntityAspect(nil) }

// Entity returns the entity, nil for the aspect of an orphaned complex object.
func (a *EntityAspect) Entity() Entity { return a.entity }

// EntityManager returns the owning manager, nil when detached.
func (a *EntityAspect) EntityManager() *EntityManager { return a.manager }

// EntityGroup returns the group holding the entity in its manager.
func (a *EntityAspect) EntityGroup() *EntityGroup { return a.group }

// EntityState returns the current state.
func (a *EntityAspect) EntityState() EntityState { return a.state }

// IsBeingSaved reports whether a save including the entity is in flight.
func (a *EntityAspect) IsBeingSaved() bool { return a.isBeingSaved }

// HasTempKey reports whether the key was generated on the client.
func (a *EntityAspect) HasTempKey() bool { return a.hasTempKey }

// WasLoaded reports whether the entity was materialized from a query.
func (a *EntityAspect) WasLoaded() bool { return a.wasLoaded }

// HasValidationErrors reports whether any validation error is recorded.
func (a *EntityAspect) HasValidationErrors() bool { return len(a.validationErrors) > 0 }

// OriginalValues returns a copy of the values of changed data properties as
// they were before the first change.
func (a *EntityAspect) OriginalValues() map[string]any { return cloneCustom(a.originalValues) }

// GetKey returns the entity key, computing it on first use or when
// forceRefresh is set.
func (a *EntityAspect) GetKey(forceRefresh ...bool) EntityKey {
	refresh := len(forceRefresh) > 0 && forceRefresh[0]
	if a.entity == nil {
		return EntityKey{}
	}
	if refresh || !a.hasKey {
		et := a.entity.EntityType()
		values := make([]any, len(et.KeyProperties))
		for i, kp := range et.KeyProperties {
			values[i] = a.entity.GetProperty(kp.Name)
		}
		a.key = NewEntityKey(et, values...)
		a.hasKey = true
	}
	return a.key
}

// AcceptChanges commits pending changes. A deleted entity is detached from
// its manager; any other entity becomes Unchanged.
func (a *EntityAspect) AcceptChanges() error {
	if a.entity == nil {
		return nil
	}
	if err := a.checkOperation("acceptChanges"); err != nil {
		return err
	}
	em := a.manager
	if em == nil {
		return errorf(ErrDetachedState, "cannot accept changes on a detached entity")
	}
	if a.state.IsDeleted() {
		if _, err := em.DetachEntity(a.entity); err != nil {
			return err
		}
	} else if _, err := a.SetUnchanged(); err != nil {
		return err
	}
	em.EntityChanged.Publish(EntityChangedArgs{Action: ActionAcceptChanges, Entity: a.entity})
	return nil
}

// RejectChanges restores the original values. An added entity is detached;
// a deleted entity is relinked to its related entities and becomes
// Unchanged.
func (a *EntityAspect) RejectChanges() error {
	if a.entity == nil {
		return nil
	}
	if err := a.checkOperation("rejectChanges"); err != nil {
		return err
	}
	em := a.manager
	if em == nil {
		return errorf(ErrDetachedState, "cannot reject changes on a detached entity")
	}
	entity := a.entity
	err := using(&em.isRejectingChanges, true, func() error {
		return rejectChangesCore(entity)
	})
	if err != nil {
		return err
	}
	if a.state.IsAdded() {
		if _, err := em.DetachEntity(entity); err != nil {
			return err
		}
		em.notifyStateChange(entity, false)
		return nil
	}
	if a.state.IsDeleted() {
		if err := em.linkRelatedEntities(entity); err != nil {
			return err
		}
	}
	if _, err := a.SetUnchanged(); err != nil {
		return err
	}
	a.PropertyChanged.Publish(PropertyChangedArgs{Entity: entity, Parent: entity})
	em.EntityChanged.Publish(EntityChangedArgs{Action: ActionRejectChanges, Entity: entity})
	return nil
}

// PropertyPath returns name; entity properties are their own path.
func (a *EntityAspect) PropertyPath(name string) string { return name }

// SetAdded marks the entity Added without generating keys.
func (a *EntityAspect) SetAdded() (bool, error) { return a.SetEntityState(StateAdded) }

// SetUnchanged marks the entity Unchanged, clearing original values.
func (a *EntityAspect) SetUnchanged() (bool, error) { return a.SetEntityState(StateUnchanged) }

// SetModified marks the entity Modified.
func (a *EntityAspect) SetModified() (bool, error) { return a.SetEntityState(StateModified) }

// SetDeleted marks the entity Deleted and removes it from its relations. An
// added entity is detached instead.
func (a *EntityAspect) SetDeleted() (bool, error) { return a.SetEntityState(StateDeleted) }

// SetDetached removes the entity from its manager and its relations without
// changing related entities' states.
func (a *EntityAspect) SetDetached() (bool, error) { return a.SetEntityState(StateDetached) }

// SetEntityState moves the entity to state. It reports false when the entity
// is already in that state. A detached entity must be attached through its
// manager first.
func (a *EntityAspect) SetEntityState(state EntityState) (bool, error) {
	if a.state == state {
		return false, nil
	}
	if err := a.checkOperation("setEntityState"); err != nil {
		return false, err
	}
	if a.state.IsDetached() || a.manager == nil {
		return false, errorf(ErrDetachedState, "You cannot set the 'entityState' of an entity when it is detached - except by first attaching it to an EntityManager")
	}
	entity := a.entity
	em := a.manager
	from := a.state
	needsSave := true
	switch state {
	case StateUnchanged:
		clearOriginalValues(entity)
		a.hasTempKey = false
		needsSave = false
	case StateAdded:
		clearOriginalValues(entity)
	case StateDeleted:
		if a.state.IsAdded() {
			return a.SetEntityState(StateDetached)
		}
		a.state = StateDeleted
		if err := removeFromRelations(entity, StateDeleted); err != nil {
			return true, err
		}
	case StateDetached:
		group := a.group
		if group == nil {
			return false, nil
		}
		group.detachEntity(entity)
		a.state = state
		if err := removeFromRelations(entity, StateDetached); err != nil {
			return true, err
		}
		a.detach()
		em.EntityChanged.Publish(EntityChangedArgs{Action: ActionDetach, Entity: entity})
		needsSave = false
	}
	a.state = state
	em.logTransition(entity, from, state)
	em.notifyStateChange(entity, needsSave)
	return true, nil
}

// LoadNavigationProperty queries the entities related through the named
// navigation property and marks it loaded on success.
func (a *EntityAspect) LoadNavigationProperty(ctx context.Context, name string) (*QueryResult, error) {
	if a.entity == nil || a.manager == nil {
		return nil, errorf(ErrDetachedState, "cannot load navigation property %s of a detached entity", name)
	}
	np, err := a.entity.EntityType().CheckNavProperty(name)
	if err != nil {
		return nil, err
	}
	query, err := FromEntityNavigation(a.entity, np)
	if err != nil {
		return nil, err
	}
	result, err := a.manager.ExecuteQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	a.markAsLoaded(np.Name)
	return result, nil
}

// MarkNavigationPropertyAsLoaded records the property as loaded.
func (a *EntityAspect) MarkNavigationPropertyAsLoaded(name string) error {
	if a.entity == nil {
		return nil
	}
	np, err := a.entity.EntityType().CheckNavProperty(name)
	if err != nil {
		return err
	}
	a.markAsLoaded(np.Name)
	return nil
}

// IsNavigationPropertyLoaded reports whether the property was loaded, marked
// loaded, or is scalar and currently set.
func (a *EntityAspect) IsNavigationPropertyLoaded(name string) (bool, error) {
	if a.entity == nil {
		return false, nil
	}
	np, err := a.entity.EntityType().CheckNavProperty(name)
	if err != nil {
		return false, err
	}
	if np.IsScalar && a.entity.GetProperty(np.Name) != nil {
		return true, nil
	}
	return containsString(a.loadedNps, np.Name), nil
}

func (a *EntityAspect) markAsLoaded(name string) {
	if !containsString(a.loadedNps, name) {
		a.loadedNps = append(a.loadedNps, name)
	}
}

// GetParentKey returns the key of the entity referenced through the foreign
// keys of np, or false when np has no foreign keys.
func (a *EntityAspect) GetParentKey(np *NavigationProperty) (EntityKey, bool) {
	if a.entity == nil || len(np.ForeignKeyNames) == 0 || np.EntityType == nil {
		return EntityKey{}, false
	}
	values := make([]any, len(np.ForeignKeyNames))
	for i, fk := range np.ForeignKeyNames {
		values[i] = a.entity.GetProperty(fk)
	}
	return NewEntityKey(np.EntityType, values...), true
}

// GetPropertyValue returns the value at a dotted property path.
func (a *EntityAspect) GetPropertyValue(path string) any {
	if a.entity == nil {
		return nil
	}
	var value any = a.entity
	for _, name := range strings.Split(strings.TrimSpace(path), ".") {
		s, ok := value.(Structural)
		if !ok || s == nil {
			return nil
		}
		value = s.GetProperty(name)
	}
	return value
}

// ValidateEntity runs every property and type validator, recursing into
// complex properties. It reports whether the entity is valid.
func (a *EntityAspect) ValidateEntity() bool {
	ok := true
	a.processValidationOpAndPublish(func() {
		ok = validateTarget(a.entity, -1)
	})
	return ok
}

// ValidateProperty runs the validators of the property at path. A complex
// property is validated as a whole object.
func (a *EntityAspect) ValidateProperty(path string) bool {
	if a.entity == nil {
		return true
	}
	value := a.GetPropertyValue(path)
	if co, isComplex := value.(ComplexObject); isComplex && co != nil {
		ok := true
		a.processValidationOpAndPublish(func() { ok = validateTarget(co, -1) })
		return ok
	}
	prop := a.entity.EntityType().GetProperty(path)
	if prop == nil {
		return true
	}
	vctx := NewValidationContext()
	vctx.Entity = a.entity
	vctx.Target = a.entity
	vctx.Property = prop
	vctx.PropertyName = path
	return a.validateProperty(value, vctx)
}

func (a *EntityAspect) validateProperty(value any, vctx ValidationContext) bool {
	ok := true
	a.processValidationOpAndPublish(func() {
		for _, v := range vctx.Property.GetAllValidators() {
			ok = a.validate(v, value, vctx) && ok
		}
	})
	return ok
}

func (a *EntityAspect) validate(v *Validator, value any, vctx ValidationContext) bool {
	if ve := v.Validate(value, vctx); ve != nil {
		a.addValidationError(ve)
		return false
	}
	a.removeValidationError(ValidationErrorKey(v.Name, vctx.PropertyName))
	return true
}

// GetValidationErrors returns the recorded errors, all of them or only those
// of the named properties or property paths.
func (a *EntityAspect) GetValidationErrors(properties ...string) []*ValidationError {
	out := make([]*ValidationError, 0, len(a.validationOrder))
	for _, key := range a.validationOrder {
		ve := a.validationErrors[key]
		if ve == nil {
			continue
		}
		if len(properties) > 0 && !matchesValidationProperty(ve, properties) {
			continue
		}
		out = append(out, ve)
	}
	return out
}

func matchesValidationProperty(ve *ValidationError, names []string) bool {
	if ve.Property == nil {
		return false
	}
	for _, name := range names {
		if ve.Property.PropertyName() == name || (strings.Contains(name, ".") && ve.PropertyName == name) {
			return true
		}
	}
	return false
}

// AddValidationError records ve, replacing any error with the same key.
func (a *EntityAspect) AddValidationError(ve *ValidationError) {
	if ve == nil {
		return
	}
	a.processValidationOpAndPublish(func() { a.addValidationError(ve) })
}

// RemoveValidationError removes the error recorded under key.
func (a *EntityAspect) RemoveValidationError(key string) {
	a.processValidationOpAndPublish(func() { a.removeValidationError(key) })
}

// ClearValidationErrors removes every recorded error.
func (a *EntityAspect) ClearValidationErrors() {
	a.processValidationOpAndPublish(func() {
		for _, key := range append([]string(nil), a.validationOrder...) {
			a.removeValidationError(key)
		}
	})
}

// processValidationOpAndPublish runs fn inside a pending result. Nested calls
// share the outermost result, which is published once when it is not empty.
func (a *EntityAspect) processValidationOpAndPublish(fn func()) {
	if a.pending != nil {
		fn()
		return
	}
	a.pending = &ValidationErrorsChangedArgs{Entity: a.entity}
	defer func() { a.pending = nil }()
	fn()
	result := *a.pending
	if len(result.Added) == 0 && len(result.Removed) == 0 {
		return
	}
	a.ValidationErrorsChanged.Publish(result)
	if a.manager != nil {
		a.manager.ValidationErrorsChanged.Publish(result)
	}
}

func (a *EntityAspect) addValidationError(ve *ValidationError) {
	if _, exists := a.validationErrors[ve.Key]; !exists {
		a.validationOrder = append(a.validationOrder, ve.Key)
	}
	a.validationErrors[ve.Key] = ve
	if a.pending != nil {
		a.pending.Added = append(a.pending.Added, ve)
	}
}

func (a *EntityAspect) removeValidationError(key string) {
	ve, ok := a.validationErrors[key]
	if !ok {
		return
	}
	delete(a.validationErrors, key)
	for i, k := range a.validationOrder {
		if k == key {
			a.validationOrder = append(a.validationOrder[:i], a.validationOrder[i+1:]...)
			break
		}
	}
	if a.pending != nil {
		a.pending.Removed = append(a.pending.Removed, ve)
	}
}

func (a *EntityAspect) checkOperation(operation string) error {
	if a.isBeingSaved {
		return errorf(ErrBeingSaved, "Cannot perform a '%s' on an entity that is in the process of being saved", operation)
	}
	return nil
}

func (a *EntityAspect) detach() {
	a.group = nil
	a.manager = nil
	a.state = StateDetached
	a.originalValues = map[string]any{}
	a.validationErrors = map[string]*ValidationError{}
	a.validationOrder = nil
	a.ValidationErrorsChanged.Clear()
	a.PropertyChanged.Clear()
}

func (a *EntityAspect) inProcessHas(prop StructuralProperty) bool {
	for _, p := range a.inProcess {
		if p == prop {
			return true
		}
	}
	return false
}

// rejectChangesCore restores original values on target and its complex
// properties.
func rejectChangesCore(target Structural) error {
	inst := target.backing()
	originals := originalValuesOf(inst)
	for _, dp := range inst.stype.structural().DataProperties {
		old, ok := originals[dp.Name]
		if !ok {
			continue
		}
		if err := target.SetProperty(dp.Name, old); err != nil {
			return err
		}
	}
	for _, cp := range inst.stype.structural().ComplexProperties {
		switch v := inst.values[cp.Name].(type) {
		case ComplexObject:
			if err := rejectChangesCore(v); err != nil {
				return err
			}
		case *ComplexArray:
			v.rejectChanges()
			for _, co := range v.items {
				if err := rejectChangesCore(co); err != nil {
					return err
				}
			}
		}
	}
	for _, dp := range inst.stype.structural().DataProperties {
		if arr, ok := inst.values[dp.Name].(*PrimitiveArray); ok {
			arr.rejectChanges()
		}
	}
	return nil
}

// clearOriginalValues resets the baseline of target and its complex
// properties.
func clearOriginalValues(target Structural) {
	if target == nil {
		return
	}
	inst := target.backing()
	switch {
	case inst.entityAspect != nil:
		inst.entityAspect.originalValues = map[string]any{}
	case inst.complexAspect != nil:
		inst.complexAspect.originalValues = map[string]any{}
	}
	for _, dp := range inst.stype.structural().DataProperties {
		switch v := inst.values[dp.Name].(type) {
		case ComplexObject:
			clearOriginalValues(v)
		case *ComplexArray:
			v.acceptChanges()
			for _, co := range v.items {
				clearOriginalValues(co)
			}
		case *PrimitiveArray:
			v.acceptChanges()
		}
	}
}

func originalValuesOf(inst *Instance) map[string]any {
	switch {
	case inst.entityAspect != nil:
		return inst.entityAspect.originalValues
	case inst.complexAspect != nil:
		return inst.complexAspect.originalValues
	}
	return nil
}

// removeFromRelations strips entity from its relationships. On detach the
// manager is put in loading mode so related entities are not dirtied.
func removeFromRelations(entity Entity, state EntityState) error {
	if state.IsDeleted() {
		return removeFromRelationsCore(entity)
	}
	em := entity.EntityAspect().manager
	if em == nil {
		return removeFromRelationsCore(entity)
	}
	return using(&em.isLoading, true, func() error {
		return removeFromRelationsCore(entity)
	})
}

func removeFromRelationsCore(entity Entity) error {
	inst := entity.backing()
	for _, np := range entity.EntityType().NavigationProperties {
		inverse := np.Inverse
		if np.IsScalar {
			related, _ := inst.values[np.Name].(Entity)
			if related == nil {
				continue
			}
			if inverse != nil {
				if inverse.IsScalar {
					if err := related.SetProperty(inverse.Name, nil); err != nil {
						return err
					}
				} else if siblings := related.backing().relationArray(inverse); siblings != nil && siblings.Len() > 0 {
					if _, err := siblings.Remove(entity); err != nil {
						return err
					}
				}
			}
			if err := entity.SetProperty(np.Name, nil); err != nil {
				return err
			}
			continue
		}
		children := inst.relationArray(np)
		if children == nil {
			continue
		}
		// Collections whose inverse is also a collection keep the far side.
		if inverse != nil && inverse.IsScalar {
			for _, child := range children.Items() {
				if err := child.SetProperty(inverse.Name, nil); err != nil {
					return err
				}
			}
		}
		children.reset()
	}
	return nil
}

// validateTarget validates every property of target and its type-level
// rules, recursing into complex properties. index is the position of target
// in a complex collection or -1.
func validateTarget(target Structural, index int) bool {
	if target == nil {
		return true
	}
	inst := target.backing()
	aspect := aspectOf(target)
	pathOf := func(name string) string { return name }
	if inst.complexAspect != nil {
		ca := inst.complexAspect
		pathOf = func(name string) string {
			if path := ca.PropertyPath(name); path != "" {
				return path
			}
			return name
		}
	}
	ok := true
	for _, p := range inst.stype.GetProperties() {
		value := target.GetProperty(p.PropertyName())
		if validators := p.GetAllValidators(); len(validators) > 0 {
			vctx := NewValidationContext()
			vctx.Entity = aspect.entity
			vctx.Target = target
			vctx.Property = p
			vctx.PropertyName = pathOf(p.PropertyName())
			vctx.Index = index
			ok = aspect.validateProperty(value, vctx) && ok
		}
		dp, isData := p.(*DataProperty)
		if !isData || !dp.IsComplexProperty() {
			continue
		}
		switch v := value.(type) {
		case ComplexObject:
			ok = validateTarget(v, -1) && ok
		case *ComplexArray:
			for i, co := range v.items {
				ok = validateTarget(co, i) && ok
			}
		}
	}
	aspect.processValidationOpAndPublish(func() {
		for _, v := range inst.stype.GetAllValidators() {
			vctx := NewValidationContext()
			vctx.Entity = aspect.entity
			vctx.Target = target
			vctx.Index = index
			ok = aspect.validate(v, target, vctx) && ok
		}
	})
	return ok
}

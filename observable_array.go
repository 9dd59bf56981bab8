package tracker

// ArrayChangedArgs is published when items are added to or removed from a
// tracked collection. During batch operations the adds and removes of one
// collection are coalesced into a single publication.
type ArrayChangedArgs[T any] struct {
	Array   any
	Added   []T
	Removed []T
}

// arrayCore holds the items and pending publication shared by the tracked
// collection types.
type arrayCore[T any] struct {
	items   []T
	changed *Event[ArrayChangedArgs[T]]
	pending *ArrayChangedArgs[T]
	parent  Structural
}

func newArrayCore[T any](owner any, parent Structural) arrayCore[T] {
	return arrayCore[T]{
		changed: NewEvent[ArrayChangedArgs[T]]("arrayChanged", owner),
		parent:  parent,
	}
}

// Len returns the number of items.
func (a *arrayCore[T]) Len() int {
	if a == nil {
		return 0
	}
	return len(a.items)
}

// At returns the item at i.
func (a *arrayCore[T]) At(i int) T { return a.items[i] }

// Items returns a copy of the items.
func (a *arrayCore[T]) Items() []T {
	if a == nil {
		return nil
	}
	return append([]T(nil), a.items...)
}

// ArrayChanged returns the change event.
func (a *arrayCore[T]) ArrayChanged() *Event[ArrayChangedArgs[T]] { return a.changed }

func (a *arrayCore[T]) entityAspect() *EntityAspect {
	return aspectOf(a.parent)
}

// publish queues args on the owning manager when it is batching and
// publishes immediately otherwise.
func (a *arrayCore[T]) publish(args ArrayChangedArgs[T]) {
	em := a.entityAspect().manager
	if em == nil || em.pendingPubs == nil {
		a.changed.Publish(args)
		return
	}
	if a.pending != nil {
		a.pending.Added = append(a.pending.Added, args.Added...)
		a.pending.Removed = append(a.pending.Removed, args.Removed...)
		return
	}
	a.pending = &args
	em.pendingPubs = append(em.pendingPubs, func() {
		pending := a.pending
		a.pending = nil
		if pending != nil {
			a.changed.Publish(*pending)
		}
	})
}

func (a *arrayCore[T]) removeWhere(match func(T) bool) []T {
	var removed []T
	kept := a.items[:0]
	for _, item := range a.items {
		if match(item) {
			removed = append(removed, item)
			continue
		}
		kept = append(kept, item)
	}
	var zero T
	for i := len(kept); i < len(a.items); i++ {
		a.items[i] = zero
	}
	a.items = kept
	return removed
}

// reset empties the array without side effects or events.
func (a *arrayCore[T]) reset() {
	a.items = nil
}

// aspectOf walks from any structural object to its owning entity aspect.
func aspectOf(s Structural) *EntityAspect {
	if s == nil {
		return nullEntityAspect()
	}
	inst := s.backing()
	if inst.entityAspect != nil {
		return inst.entityAspect
	}
	if inst.complexAspect != nil {
		return inst.complexAspect.GetEntityAspect()
	}
	return nullEntityAspect()
}

// trackedChange marks the owning entity modified before a collection of
// values changes and snapshots the collection once.
func trackedChange[T any](a *arrayCore[T], orig *[]T) {
	aspect := a.entityAspect()
	em := aspect.manager
	if em == nil || em.isLoading {
		return
	}
	if aspect.state.IsUnchanged() {
		if _, err := aspect.SetModified(); err != nil {
			em.logger.Log(LogEvent{
				Kind:       LogTransition,
				EntityType: aspect.entity.EntityType().Name,
				Key:        aspect.GetKey().String(),
				From:       aspect.state,
				To:         StateModified,
				Err:        err,
			})
		}
	}
	if aspect.state.IsModified() && *orig == nil {
		*orig = append(make([]T, 0, len(a.items)), a.items...)
	}
}

// PrimitiveArray is the value of a non-scalar primitive data property.
type PrimitiveArray struct {
	arrayCore[any]
	parentProperty *DataProperty
	origValues     []any
}

func newPrimitiveArray(parent Structural, dp *DataProperty) *PrimitiveArray {
	pa := &PrimitiveArray{parentProperty: dp}
	pa.arrayCore = newArrayCore[any](pa, parent)
	return pa
}

// Add appends values, parsed to the property data type.
func (pa *PrimitiveArray) Add(values ...any) {
	if len(values) == 0 {
		return
	}
	parsed := make([]any, len(values))
	for i, v := range values {
		parsed[i] = pa.parentProperty.DataType.Parse(v)
	}
	trackedChange(&pa.arrayCore, &pa.origValues)
	pa.push(parsed...)
}

func (pa *PrimitiveArray) push(values ...any) {
	pa.items = append(pa.items, values...)
	pa.publish(ArrayChangedArgs[any]{Array: pa, Added: values})
}

// RemoveAt removes the value at index i.
func (pa *PrimitiveArray) RemoveAt(i int) any {
	trackedChange(&pa.arrayCore, &pa.origValues)
	v := pa.items[i]
	pa.items = append(pa.items[:i], pa.items[i+1:]...)
	pa.publish(ArrayChangedArgs[any]{Array: pa, Removed: []any{v}})
	return v
}

// Clear removes every value.
func (pa *PrimitiveArray) Clear() {
	if len(pa.items) == 0 {
		return
	}
	trackedChange(&pa.arrayCore, &pa.origValues)
	removed := pa.items
	pa.items = nil
	pa.publish(ArrayChangedArgs[any]{Array: pa, Removed: removed})
}

func (pa *PrimitiveArray) rejectChanges() {
	if pa.origValues == nil {
		return
	}
	pa.items = append([]any(nil), pa.origValues...)
	pa.origValues = nil
}

func (pa *PrimitiveArray) acceptChanges() { pa.origValues = nil }

package tracker

import "context"

// RelationArray is the value of a collection navigation property. Adding an
// entity sets its inverse navigation property (or its foreign keys for
// unidirectional relations) and attaches it when the parent is attached.
type RelationArray struct {
	arrayCore[Entity]
	navigationProperty *NavigationProperty

	inProgress    bool
	addsInProcess []Entity
}

func newRelationArray(parent Structural, np *NavigationProperty) *RelationArray {
	ra := &RelationArray{navigationProperty: np}
	ra.arrayCore = newArrayCore[Entity](ra, parent)
	return ra
}

// NavigationProperty returns the property the array belongs to.
func (ra *RelationArray) NavigationProperty() *NavigationProperty { return ra.navigationProperty }

// ParentEntity returns the entity owning the array.
func (ra *RelationArray) ParentEntity() Entity {
	e, _ := ra.parent.(Entity)
	return e
}

// IndexOf returns the position of e or -1.
func (ra *RelationArray) IndexOf(e Entity) int {
	for i, item := range ra.items {
		if sameEntity(item, e) {
			return i
		}
	}
	return -1
}

// Contains reports whether e is in the array.
func (ra *RelationArray) Contains(e Entity) bool { return ra.IndexOf(e) >= 0 }

// Add appends entities that are not already present.
func (ra *RelationArray) Add(entities ...Entity) error {
	if ra.inProgress {
		return nil
	}
	adds, err := ra.goodAdds(entities)
	if err != nil || len(adds) == 0 {
		return err
	}
	return ra.pushCore(adds)
}

// push appends without duplicate checks or attachment.
func (ra *RelationArray) push(entities ...Entity) error {
	if ra.inProgress || len(entities) == 0 {
		return nil
	}
	return ra.pushCore(entities)
}

func (ra *RelationArray) pushCore(adds []Entity) error {
	ra.items = append(ra.items, adds...)
	if err := ra.processAdds(adds); err != nil {
		return err
	}
	ra.publish(ArrayChangedArgs[Entity]{Array: ra, Added: adds})
	return nil
}

// Remove removes e and clears its side of the relationship.
func (ra *RelationArray) Remove(e Entity) (bool, error) {
	removed := ra.removeWhere(func(item Entity) bool { return sameEntity(item, e) })
	if len(removed) == 0 {
		return false, nil
	}
	if err := ra.processRemoves(removed); err != nil {
		return true, err
	}
	ra.publish(ArrayChangedArgs[Entity]{Array: ra, Removed: removed})
	return true, nil
}

// Clear removes every entity.
func (ra *RelationArray) Clear() error {
	if len(ra.items) == 0 {
		return nil
	}
	removed := ra.items
	ra.items = nil
	if err := ra.processRemoves(removed); err != nil {
		return err
	}
	ra.publish(ArrayChangedArgs[Entity]{Array: ra, Removed: removed})
	return nil
}

// Load queries the related entities through the parent's manager and marks
// the property loaded.
func (ra *RelationArray) Load(ctx context.Context) (*QueryResult, error) {
	parent := ra.ParentEntity()
	if parent == nil {
		return nil, errorf(ErrDetachedState, "relation array has no parent entity")
	}
	return parent.EntityAspect().LoadNavigationProperty(ctx, ra.navigationProperty.Name)
}

func (ra *RelationArray) goodAdds(entities []Entity) ([]Entity, error) {
	var adds []Entity
	for _, e := range entities {
		if e == nil || ra.Contains(e) || ra.inProcess(e) || containsEntity(adds, e) {
			continue
		}
		adds = append(adds, e)
	}
	if len(adds) == 0 {
		return nil, nil
	}
	em := ra.entityAspect().manager
	if em == nil || em.isLoading {
		return adds, nil
	}
	for _, add := range adds {
		aspect := add.EntityAspect()
		if aspect.state.IsDetached() {
			ra.inProgress = true
			_, err := em.AttachEntity(add, StateAdded, MergeDisallowed)
			ra.inProgress = false
			if err != nil {
				return nil, err
			}
			continue
		}
		if aspect.manager != em {
			return nil, errorf(ErrOtherManager, "An Entity cannot be attached to an entity in another EntityManager. One of the two entities must be detached first.")
		}
	}
	return adds, nil
}

func (ra *RelationArray) inProcess(e Entity) bool {
	return containsEntity(ra.addsInProcess, e)
}

func (ra *RelationArray) processAdds(adds []Entity) error {
	np := ra.navigationProperty
	parent := ra.ParentEntity()
	if inverse := np.Inverse; inverse != nil {
		start := len(ra.addsInProcess)
		ra.addsInProcess = append(ra.addsInProcess, adds...)
		defer func() { ra.addsInProcess = ra.addsInProcess[:start] }()
		for _, child := range adds {
			if err := child.SetProperty(inverse.Name, parent); err != nil {
				return err
			}
		}
		return nil
	}
	keyProps := parent.EntityType().KeyProperties
	for i, fkName := range np.InvForeignKeyNames {
		if i >= len(keyProps) {
			break
		}
		keyVal := parent.GetProperty(keyProps[i].Name)
		for _, child := range adds {
			if err := child.SetProperty(fkName, keyVal); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ra *RelationArray) processRemoves(removes []Entity) error {
	np := ra.navigationProperty
	if inverse := np.Inverse; inverse != nil {
		for _, child := range removes {
			if err := child.SetProperty(inverse.Name, nil); err != nil {
				return err
			}
		}
		return nil
	}
	for _, fkName := range np.InvForeignKeyNames {
		for _, child := range removes {
			fk := child.EntityType().GetDataProperty(fkName)
			if fk == nil || fk.IsPartOfKey {
				continue
			}
			if err := child.SetProperty(fkName, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func containsEntity(list []Entity, e Entity) bool {
	for _, item := range list {
		if sameEntity(item, e) {
			return true
		}
	}
	return false
}

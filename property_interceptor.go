package tracker

// changeContext describes one property write as it flows through the
// interceptor.
type changeContext struct {
	inst      *Instance
	prop      StructuralProperty
	newValue  any
	oldValue  any
	propPath  string
	aspect    *EntityAspect
	originals map[string]any
	manager   *EntityManager
}

// intercept is the single write path for tracked property values.
func (inst *Instance) intercept(prop StructuralProperty, value any) error {
	name := prop.PropertyName()
	oldValue := inst.values[name]

	var dt DataType
	if dp, ok := prop.(*DataProperty); ok {
		dt = dp.DataType
		if dp.IsScalar && !dp.IsComplexProperty() {
			value = dp.DataType.Parse(value)
		}
	}
	if sameValue(dt, value, oldValue) {
		return nil
	}

	var aspect *EntityAspect
	var originals map[string]any
	propPath := name
	if inst.entityAspect != nil {
		aspect = inst.entityAspect
		originals = aspect.originalValues
	} else {
		local := inst.complexAspect
		aspect = local.GetEntityAspect()
		originals = local.originalValues
		if path := local.PropertyPath(name); path != "" {
			propPath = path
		}
	}

	if aspect.inProcessHas(prop) {
		return nil
	}
	aspect.inProcess = append(aspect.inProcess, prop)
	defer func() { aspect.inProcess = aspect.inProcess[:len(aspect.inProcess)-1] }()

	cc := &changeContext{
		inst:      inst,
		prop:      prop,
		newValue:  value,
		oldValue:  oldValue,
		propPath:  propPath,
		aspect:    aspect,
		originals: originals,
		manager:   aspect.manager,
	}
	if err := cc.checkModifiable(); err != nil {
		return err
	}
	var err error
	switch p := prop.(type) {
	case *NavigationProperty:
		err = cc.setNavigationValue(p)
	case *DataProperty:
		if p.IsComplexProperty() {
			err = cc.setComplexValue(p)
		} else {
			err = cc.setDataValue(p)
		}
	}
	if err != nil {
		return err
	}
	cc.postChangeEvents()
	return nil
}

func (cc *changeContext) setDataValue(dp *DataProperty) error {
	if !dp.IsScalar {
		return errorf(ErrInvalidConfig, "You cannot set the non-scalar data property: '%s' on the type: '%s'. Instead get the property and use its Add or RemoveAt methods to change its contents.", dp.Name, cc.inst.stype.TypeName())
	}
	parent := cc.inst.self
	em := cc.manager
	entity := cc.aspect.entity

	if dp.IsPartOfKey && em != nil && !em.isLoading && entity != nil {
		et := entity.EntityType()
		values := make([]any, len(et.KeyProperties))
		for i, kp := range et.KeyProperties {
			if kp == dp {
				values[i] = cc.newValue
			} else {
				values[i] = parent.GetProperty(kp.Name)
			}
		}
		newKey := NewEntityKey(et, values...)
		if em.FindEntityByKey(newKey) != nil {
			return errorf(ErrKeyConflict, "An entity with this key is already in the cache: %s", newKey.String())
		}
		oldKey := cc.aspect.GetKey()
		if group := em.findEntityGroup(et); group != nil {
			group.replaceKey(oldKey, newKey)
		}
	}

	if related := dp.RelatedNavigationProperty; related != nil && em != nil {
		if err := cc.linkForeignKey(dp, related); err != nil {
			return err
		}
	} else if inverse := dp.InverseNavigationProperty; inverse != nil && em != nil && !em.inKeyFixup {
		if err := cc.linkInverseForeignKey(inverse); err != nil {
			return err
		}
	}

	cc.inst.rawSet(dp.Name, cc.newValue)
	if err := cc.updateStateAndValidate(); err != nil {
		return err
	}

	if dp.IsPartOfKey && entity != nil && cc.inst.entityAspect != nil {
		if err := cc.propagateKeyChange(dp); err != nil {
			return err
		}
		cc.aspect.GetKey(true)
	}
	return nil
}

// linkForeignKey points the navigation property backed by dp at the entity
// the new foreign key value refers to. A missing parent waits in the
// unattached-children map.
func (cc *changeContext) linkForeignKey(dp *DataProperty, related *NavigationProperty) error {
	parent := cc.inst.self
	em := cc.manager
	if cc.newValue == nil || related.EntityType == nil {
		return parent.SetProperty(related.Name, nil)
	}
	values := make([]any, 0, len(related.RelatedDataProperties))
	for _, fk := range related.RelatedDataProperties {
		if fk == dp {
			values = append(values, cc.newValue)
			continue
		}
		values = append(values, parent.GetProperty(fk.Name))
	}
	if len(values) == 0 {
		values = append(values, cc.newValue)
	}
	key := NewEntityKey(related.EntityType, values...)
	if target := em.FindEntityByKey(key); target != nil {
		return parent.SetProperty(related.Name, target)
	}
	if child, ok := parent.(Entity); ok {
		em.unattached.AddChild(key, related, child)
	}
	return parent.SetProperty(related.Name, nil)
}

// linkInverseForeignKey moves the entity between the collections of the
// parent that owns a unidirectional relationship.
func (cc *changeContext) linkInverseForeignKey(inverse *NavigationProperty) error {
	child, ok := cc.inst.self.(Entity)
	if !ok || inverse.parentType == nil {
		return nil
	}
	em := cc.manager
	if cc.oldValue != nil {
		key := NewEntityKey(inverse.parentType, cc.oldValue)
		if owner := em.FindEntityByKey(key); owner != nil {
			if inverse.IsScalar {
				if current, _ := owner.GetProperty(inverse.Name).(Entity); current != nil && sameEntity(current, child) {
					owner.backing().rawSet(inverse.Name, nil)
				}
			} else if siblings := owner.backing().relationArray(inverse); siblings != nil && siblings.Contains(child) {
				if _, err := siblings.Remove(child); err != nil {
					return err
				}
			}
		}
	}
	if cc.newValue != nil {
		key := NewEntityKey(inverse.parentType, cc.newValue)
		owner := em.FindEntityByKey(key)
		if owner == nil {
			em.unattached.AddChild(key, inverse, child)
			return nil
		}
		if inverse.IsScalar {
			owner.backing().rawSet(inverse.Name, child)
			return nil
		}
		if siblings := owner.backing().relationArray(inverse); siblings != nil {
			return siblings.Add(child)
		}
	}
	return nil
}

// propagateKeyChange copies a changed primary key value into the foreign
// keys of related entities.
func (cc *changeContext) propagateKeyChange(dp *DataProperty) error {
	parent := cc.inst.self
	et := cc.aspect.entity.EntityType()
	ix := -1
	for i, kp := range et.KeyProperties {
		if kp == dp {
			ix = i
			break
		}
	}
	if ix < 0 {
		return nil
	}
	for _, np := range et.NavigationProperties {
		fkNames := np.InvForeignKeyNames
		if np.Inverse != nil {
			fkNames = np.Inverse.ForeignKeyNames
		}
		if len(fkNames) <= ix {
			continue
		}
		fkName := fkNames[ix]
		value := parent.GetProperty(np.Name)
		if value == nil {
			continue
		}
		if np.IsScalar {
			if related, ok := value.(Entity); ok && related != nil {
				if err := related.SetProperty(fkName, cc.newValue); err != nil {
					return err
				}
			}
			continue
		}
		children, _ := value.(*RelationArray)
		if children == nil {
			continue
		}
		for _, child := range children.Items() {
			if err := child.SetProperty(fkName, cc.newValue); err != nil {
				return err
			}
		}
	}
	return nil
}

func (cc *changeContext) setComplexValue(dp *DataProperty) error {
	if !dp.IsScalar {
		return errorf(ErrInvalidConfig, "You cannot set the non-scalar complex property: '%s' on the type: '%s'. Instead get the property and use its Add or Remove methods to change its contents.", dp.Name, cc.inst.stype.TypeName())
	}
	if cc.newValue == nil {
		return errorf(ErrInvalidConfig, "You cannot set the '%s' property to null because it's datatype is the ComplexType: '%s'", dp.Name, dp.ComplexTypeName)
	}
	source, ok := cc.newValue.(Structural)
	if !ok {
		raw, isMap := cc.newValue.(map[string]any)
		if !isMap {
			return errorf(ErrInvalidConfig, "complex property %s cannot be set from %T", dp.Name, cc.newValue)
		}
		current, err := cc.currentComplex(dp)
		if err != nil {
			return err
		}
		return updateTargetFromRaw(current.backing(), raw, (*DataProperty).rawValueFromConfig)
	}
	current, err := cc.currentComplex(dp)
	if err != nil {
		return err
	}
	for _, cdp := range dp.ComplexType.DataProperties {
		value := source.GetProperty(cdp.Name)
		switch value.(type) {
		case *PrimitiveArray, *ComplexArray:
			continue
		}
		if err := current.SetProperty(cdp.Name, value); err != nil {
			return err
		}
	}
	// Complex values are copied, so the property keeps the same object.
	cc.newValue = current
	return nil
}

func (cc *changeContext) currentComplex(dp *DataProperty) (ComplexObject, error) {
	if current, ok := cc.oldValue.(ComplexObject); ok && current != nil {
		return current, nil
	}
	if dp.ComplexType == nil {
		return nil, errorf(ErrTypeNotFound, "complex type %s for property %s has not been resolved", dp.ComplexTypeName, dp.Name)
	}
	co, err := dp.ComplexType.createInstanceCore(cc.inst.self, dp)
	if err != nil {
		return nil, err
	}
	cc.inst.rawSet(dp.Name, co)
	return co, nil
}

func (cc *changeContext) setNavigationValue(np *NavigationProperty) error {
	if !np.IsScalar {
		return errorf(ErrInvalidConfig, "Nonscalar navigation properties are readonly - entities can be added or removed but the collection may not be changed.")
	}
	parent, _ := cc.inst.self.(Entity)
	if parent == nil {
		return errorf(ErrInvalidConfig, "navigation property %s requires an entity parent", np.Name)
	}
	newEntity, _ := cc.newValue.(Entity)
	if cc.newValue != nil && newEntity == nil {
		return errorf(ErrInvalidConfig, "navigation property %s cannot be set from %T", np.Name, cc.newValue)
	}
	oldEntity, _ := cc.oldValue.(Entity)
	em := cc.manager

	if newEntity != nil {
		newAspect := newEntity.EntityAspect()
		if em != nil {
			if newAspect.state.IsDetached() {
				if !em.isLoading {
					if _, err := em.AttachEntity(newEntity, StateAdded, MergeDisallowed); err != nil {
						return err
					}
				}
			} else if newAspect.manager != em {
				return errorf(ErrOtherManager, "An Entity cannot be attached to an entity in another EntityManager. One of the two entities must be detached first.")
			}
		} else if newAspect.manager != nil {
			em = newAspect.manager
			cc.manager = em
			if !em.isLoading {
				if _, err := em.AttachEntity(parent, StateAdded, MergeDisallowed); err != nil {
					return err
				}
			}
		}
	}

	if inverse := np.Inverse; inverse != nil {
		if inverse.IsScalar {
			if oldEntity != nil {
				if err := oldEntity.SetProperty(inverse.Name, nil); err != nil {
					return err
				}
			}
			if newEntity != nil {
				if err := newEntity.SetProperty(inverse.Name, parent); err != nil {
					return err
				}
			}
		} else {
			if oldEntity != nil {
				if siblings := oldEntity.backing().relationArray(inverse); siblings != nil && siblings.Contains(parent) {
					if _, err := siblings.Remove(parent); err != nil {
						return err
					}
				}
			}
			if newEntity != nil {
				if siblings := newEntity.backing().relationArray(inverse); siblings != nil {
					if err := siblings.Add(parent); err != nil {
						return err
					}
				}
			}
		}
	} else if len(np.InvForeignKeyNames) > 0 && em != nil && !em.inKeyFixup {
		if newEntity != nil {
			pkValues := parent.EntityAspect().GetKey().Values()
			for i, fkName := range np.InvForeignKeyNames {
				if i >= len(pkValues) {
					break
				}
				if err := newEntity.SetProperty(fkName, pkValues[i]); err != nil {
					return err
				}
			}
		} else if oldEntity != nil {
			for _, fkName := range np.InvForeignKeyNames {
				fk := oldEntity.EntityType().GetDataProperty(fkName)
				if fk == nil || fk.IsPartOfKey {
					continue
				}
				if err := oldEntity.SetProperty(fkName, nil); err != nil {
					return err
				}
			}
		}
	}

	cc.inst.rawSet(np.Name, cc.newValue)
	if err := cc.updateStateAndValidate(); err != nil {
		return err
	}

	if len(np.RelatedDataProperties) == 0 || cc.aspect.state.IsDeleted() || np.EntityType == nil {
		return nil
	}
	if newEntity != nil && newEntity.EntityAspect().state.IsDeleted() {
		return nil
	}
	for i, keyProp := range np.EntityType.KeyProperties {
		if i >= len(np.RelatedDataProperties) {
			break
		}
		fk := np.RelatedDataProperties[i]
		if newEntity == nil && fk.IsPartOfKey {
			continue
		}
		var value any
		if newEntity != nil {
			value = newEntity.GetProperty(keyProp.Name)
		} else {
			value = fk.DefaultValue
		}
		if err := parent.SetProperty(fk.Name, value); err != nil {
			return err
		}
	}
	return nil
}

// checkModifiable rejects a change that would move an entity being saved
// from Unchanged to Modified, before any value is written.
func (cc *changeContext) checkModifiable() error {
	em := cc.manager
	if em == nil || em.isLoading || !cc.aspect.state.IsUnchanged() {
		return nil
	}
	if dp, ok := cc.prop.(*DataProperty); ok && dp.IsUnmapped {
		return nil
	}
	return cc.aspect.checkOperation("setEntityState")
}

// updateStateAndValidate moves an Unchanged entity to Modified, records the
// original value and runs property validation.
func (cc *changeContext) updateStateAndValidate() error {
	em := cc.manager
	if em == nil || em.isLoading {
		return nil
	}
	aspect := cc.aspect
	dp, isData := cc.prop.(*DataProperty)
	unmapped := isData && dp.IsUnmapped
	if aspect.state.IsUnchanged() && !unmapped {
		if _, err := aspect.SetModified(); err != nil {
			return err
		}
	}
	if aspect.state.IsModified() && !unmapped && isData && cc.originals != nil {
		if _, recorded := cc.originals[dp.Name]; !recorded {
			cc.originals[dp.Name] = snapshotValue(cc.oldValue)
		}
	}
	if em.validationOptions.ValidateOnPropertyChange {
		vctx := NewValidationContext()
		vctx.Entity = aspect.entity
		vctx.Target = cc.inst.self
		vctx.Property = cc.prop
		vctx.PropertyName = cc.propPath
		vctx.OldValue = cc.oldValue
		aspect.validateProperty(cc.newValue, vctx)
	}
	return nil
}

func (cc *changeContext) postChangeEvents() {
	args := PropertyChangedArgs{
		Entity:       cc.aspect.entity,
		Parent:       cc.inst.self,
		Property:     cc.prop,
		PropertyName: cc.propPath,
		OldValue:     cc.oldValue,
		NewValue:     cc.newValue,
	}
	em := cc.manager
	if em == nil {
		cc.aspect.PropertyChanged.Publish(args)
		return
	}
	if em.isLoading || em.isRejectingChanges {
		return
	}
	cc.aspect.PropertyChanged.Publish(args)
	em.EntityChanged.Publish(EntityChangedArgs{Action: ActionPropertyChange, Entity: cc.aspect.entity, Args: args})
}

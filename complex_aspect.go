package tracker

// ComplexAspect tracks the owner and original values of a complex object.
type ComplexAspect struct {
	complexObject  ComplexObject
	parent         Structural
	parentProperty *DataProperty
	originalValues map[string]any

	ExtraMetadata map[string]any
}

func newComplexAspect(co ComplexObject, parent Structural, parentProperty *DataProperty) *ComplexAspect {
	ca := &ComplexAspect{complexObject: co, originalValues: map[string]any{}}
	if parent != nil {
		ca.parent = parent
		ca.parentProperty = parentProperty
	}
	return ca
}

// ComplexObject returns the object the aspect belongs to.
func (ca *ComplexAspect) ComplexObject() ComplexObject { return ca.complexObject }

// Parent returns the owning entity or complex object, nil when orphaned.
func (ca *ComplexAspect) Parent() Structural { return ca.parent }

// ParentProperty returns the property of the parent holding the object.
func (ca *ComplexAspect) ParentProperty() *DataProperty { return ca.parentProperty }

// OriginalValues returns a copy of the values changed since the owning
// entity was last unchanged.
func (ca *ComplexAspect) OriginalValues() map[string]any {
	return cloneCustom(ca.originalValues)
}

// GetEntityAspect walks up the parent chain to the owning entity. An
// orphaned object gets an empty aspect with no manager.
func (ca *ComplexAspect) GetEntityAspect() *EntityAspect {
	parent := ca.parent
	for parent != nil {
		inst := parent.backing()
		if inst.entityAspect != nil {
			return inst.entityAspect
		}
		if inst.complexAspect == nil {
			break
		}
		parent = inst.complexAspect.parent
	}
	return nullEntityAspect()
}

// PropertyPath returns the dotted path from the owning entity to name, or
// the empty string when the object has no parent.
func (ca *ComplexAspect) PropertyPath(name string) string {
	if ca.parent == nil || ca.parentProperty == nil {
		return ""
	}
	path := ca.parentProperty.Name + "." + name
	if parentAspect := ca.parent.backing().complexAspect; parentAspect != nil {
		return parentAspect.PropertyPath(path)
	}
	return path
}

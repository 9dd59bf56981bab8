package tracker

// ComplexArray is the value of a non-scalar complex property. Items are
// parented to the owning object while they are in the array.
type ComplexArray struct {
	arrayCore[ComplexObject]
	parentProperty *DataProperty
	origValues     []ComplexObject
}

func newComplexArray(parent Structural, dp *DataProperty) *ComplexArray {
	ca := &ComplexArray{parentProperty: dp}
	ca.arrayCore = newArrayCore[ComplexObject](ca, parent)
	return ca
}

// ParentProperty returns the property the array belongs to.
func (ca *ComplexArray) ParentProperty() *DataProperty { return ca.parentProperty }

// Add appends complex objects. An object already owned elsewhere is rejected.
func (ca *ComplexArray) Add(items ...ComplexObject) error {
	var adds []ComplexObject
	for _, co := range items {
		if co == nil {
			continue
		}
		if aspect := co.ComplexAspect(); aspect != nil && aspect.parent != nil && sameEntity(aspect.parent, ca.parent) {
			continue
		}
		adds = append(adds, co)
	}
	if len(adds) == 0 {
		return nil
	}
	for _, co := range adds {
		if aspect := co.ComplexAspect(); aspect != nil && aspect.parent != nil {
			return errorf(ErrInvalidConfig, "The complexObject is already attached. Either clone it or remove it from its current owner")
		}
	}
	trackedChange(&ca.arrayCore, &ca.origValues)
	ca.items = append(ca.items, adds...)
	for _, co := range adds {
		ca.setAspect(co)
	}
	ca.publish(ArrayChangedArgs[ComplexObject]{Array: ca, Added: adds})
	return nil
}

// RemoveAt removes and unparents the item at index i.
func (ca *ComplexArray) RemoveAt(i int) ComplexObject {
	trackedChange(&ca.arrayCore, &ca.origValues)
	co := ca.items[i]
	ca.items = append(ca.items[:i], ca.items[i+1:]...)
	ca.clearAspect(co)
	ca.publish(ArrayChangedArgs[ComplexObject]{Array: ca, Removed: []ComplexObject{co}})
	return co
}

// Remove removes co when present.
func (ca *ComplexArray) Remove(co ComplexObject) bool {
	for i, item := range ca.items {
		if sameEntity(item, co) {
			ca.RemoveAt(i)
			return true
		}
	}
	return false
}

// Clear removes every item.
func (ca *ComplexArray) Clear() {
	if len(ca.items) == 0 {
		return
	}
	trackedChange(&ca.arrayCore, &ca.origValues)
	removed := ca.items
	ca.items = nil
	for _, co := range removed {
		ca.clearAspect(co)
	}
	ca.publish(ArrayChangedArgs[ComplexObject]{Array: ca, Removed: removed})
}

func (ca *ComplexArray) setAspect(co ComplexObject) {
	aspect := co.ComplexAspect()
	if aspect == nil || sameEntity(aspect.parent, ca.parent) {
		return
	}
	aspect.parent = ca.parent
	aspect.parentProperty = ca.parentProperty
}

func (ca *ComplexArray) clearAspect(co ComplexObject) {
	aspect := co.ComplexAspect()
	if aspect == nil || !sameEntity(aspect.parent, ca.parent) {
		return
	}
	aspect.parent = nil
	aspect.parentProperty = nil
}

func (ca *ComplexArray) rejectChanges() {
	if ca.origValues == nil {
		return
	}
	for _, co := range ca.items {
		ca.clearAspect(co)
	}
	ca.items = nil
	for _, co := range ca.origValues {
		ca.items = append(ca.items, co)
		ca.setAspect(co)
	}
	ca.origValues = nil
}

func (ca *ComplexArray) acceptChanges() { ca.origValues = nil }

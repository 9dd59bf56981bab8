package tracker

// Structural is implemented by every tracked object: entities and complex
// objects. GetProperty and SetProperty are the only way the engine reads and
// writes property values, so every change flows through dirty tracking,
// relationship maintenance and validation.
type Structural interface {
	GetProperty(name string) any
	SetProperty(name string, value any) error
	StructuralType() StructuralType

	backing() *Instance
}

// Entity is a tracked object with identity.
type Entity interface {
	Structural
	EntityAspect() *EntityAspect
	EntityType() *EntityType
}

// ComplexObject is a tracked structured value owned by an entity.
type ComplexObject interface {
	Structural
	ComplexAspect() *ComplexAspect
	ComplexType() *ComplexType
}

// Instance is the property store behind every tracked object. Custom types
// embed EntityBase or ComplexBase and are created through constructors
// registered with MetadataStore.RegisterEntityTypeCtor:
//
//	type Customer struct{ tracker.EntityBase }
//
//	store.RegisterEntityTypeCtor("Customer", func(inst *tracker.Instance) tracker.Structural {
//		return &Customer{tracker.EntityBase{Instance: inst}}
//	}, nil)
type Instance struct {
	stype  StructuralType
	values map[string]any
	self   Structural

	entityAspect  *EntityAspect
	complexAspect *ComplexAspect
}

// EntityBase is the default Entity implementation.
type EntityBase struct{ *Instance }

// EntityAspect returns the change-tracking aspect.
func (b EntityBase) EntityAspect() *EntityAspect { return b.Instance.entityAspect }

// EntityType returns the entity type.
func (b EntityBase) EntityType() *EntityType {
	et, _ := b.Instance.stype.(*EntityType)
	return et
}

// ComplexBase is the default ComplexObject implementation.
type ComplexBase struct{ *Instance }

// ComplexAspect returns the complex aspect.
func (b ComplexBase) ComplexAspect() *ComplexAspect { return b.Instance.complexAspect }

// ComplexType returns the complex type.
func (b ComplexBase) ComplexType() *ComplexType {
	ct, _ := b.Instance.stype.(*ComplexType)
	return ct
}

func newInstance(st StructuralType) *Instance {
	inst := &Instance{stype: st, values: map[string]any{}}
	core := st.structural()
	switch {
	case core.ctor != nil:
		inst.self = core.ctor(inst)
	case st.IsComplexType():
		inst.self = &ComplexBase{Instance: inst}
	default:
		inst.self = &EntityBase{Instance: inst}
	}
	if inst.self == nil {
		inst.self = &EntityBase{Instance: inst}
	}
	inst.startTracking()
	return inst
}

// startTracking seeds every declared property with its default.
func (inst *Instance) startTracking() {
	core := inst.stype.structural()
	for _, dp := range core.DataProperties {
		switch {
		case dp.IsComplexProperty() && dp.IsScalar:
			if dp.ComplexType == nil {
				continue
			}
			co, err := dp.ComplexType.createInstanceCore(inst.self, dp)
			if err != nil {
				continue
			}
			inst.values[dp.Name] = co
		case dp.IsComplexProperty():
			inst.values[dp.Name] = newComplexArray(inst.self, dp)
		case !dp.IsScalar:
			inst.values[dp.Name] = newPrimitiveArray(inst.self, dp)
		default:
			inst.values[dp.Name] = dp.DefaultValue
		}
	}
	et, ok := inst.stype.(*EntityType)
	if !ok {
		return
	}
	for _, np := range et.NavigationProperties {
		if np.IsScalar {
			inst.values[np.Name] = nil
			continue
		}
		inst.values[np.Name] = newRelationArray(inst.self, np)
	}
}

func (inst *Instance) backing() *Instance { return inst }

// StructuralType returns the type the instance was created from.
func (inst *Instance) StructuralType() StructuralType { return inst.stype }

// GetProperty returns the current value of a property. Scalar navigation
// properties hold an Entity or nil, collection navigation properties a
// *RelationArray, complex properties a ComplexObject or *ComplexArray and
// non-scalar data properties a *PrimitiveArray.
func (inst *Instance) GetProperty(name string) any {
	return inst.values[name]
}

// SetProperty writes a property through the change-tracking interceptor.
func (inst *Instance) SetProperty(name string, value any) error {
	prop := findProperty(inst.stype, name, false)
	if prop == nil {
		return errorf(ErrPropertyNotFound, "unable to locate property: %s on type: %s", name, inst.stype.TypeName())
	}
	return inst.intercept(prop, value)
}

func (inst *Instance) rawSet(name string, value any) { inst.values[name] = value }

func (inst *Instance) relationArray(np *NavigationProperty) *RelationArray {
	ra, _ := inst.values[np.Name].(*RelationArray)
	return ra
}

func (inst *Instance) entity() Entity {
	e, _ := inst.self.(Entity)
	return e
}

func (inst *Instance) complexObject() ComplexObject {
	co, _ := inst.self.(ComplexObject)
	return co
}

// initialize runs the type initializers, base type first, then those of
// nested complex objects.
func (inst *Instance) initialize() {
	switch st := inst.stype.(type) {
	case *EntityType:
		st.runInitializers(inst.self)
	case *ComplexType:
		st.runInitializers(inst.self)
	}
	for _, cp := range inst.stype.structural().ComplexProperties {
		switch v := inst.values[cp.Name].(type) {
		case ComplexObject:
			v.backing().initialize()
		case *ComplexArray:
			for _, co := range v.items {
				co.backing().initialize()
			}
		}
	}
	if inst.entityAspect != nil {
		inst.entityAspect.initialized = true
	}
}

type rawValueFunc func(dp *DataProperty, raw map[string]any) (any, bool)

// updateTargetFromRaw copies data property values from raw into inst,
// recursing into complex properties.
func updateTargetFromRaw(inst *Instance, raw map[string]any, rawValue rawValueFunc) error {
	for _, dp := range inst.stype.structural().DataProperties {
		if !dp.IsSettable {
			continue
		}
		rawVal, ok := rawValue(dp, raw)
		if !ok {
			continue
		}
		if dp.IsComplexProperty() {
			if rawVal == nil {
				continue
			}
			if err := updateComplexFromRaw(inst, dp, rawVal, rawValue); err != nil {
				return err
			}
			continue
		}
		if dp.IsScalar {
			if err := inst.SetProperty(dp.Name, dp.DataType.ParseRawValue(rawVal)); err != nil {
				return err
			}
			continue
		}
		arr, _ := inst.values[dp.Name].(*PrimitiveArray)
		if arr == nil {
			continue
		}
		list, isList := toAnySlice(rawVal)
		if !isList {
			arr.reset()
			continue
		}
		parsed := make([]any, len(list))
		for i, v := range list {
			parsed[i] = dp.DataType.ParseRawValue(v)
		}
		if !primitiveSlicesEqual(dp.DataType, arr.items, parsed) {
			arr.reset()
			arr.push(parsed...)
		}
	}
	return nil
}

func updateComplexFromRaw(inst *Instance, dp *DataProperty, rawVal any, rawValue rawValueFunc) error {
	ct := dp.ComplexType
	if ct == nil {
		return errorf(ErrTypeNotFound, "complex type %s for property %s has not been resolved", dp.ComplexTypeName, dp.Name)
	}
	if dp.IsScalar {
		rawCo, ok := toRawMap(rawVal)
		if !ok {
			return errorf(ErrInvalidConfig, "complex property %s cannot be set from %T", dp.Name, rawVal)
		}
		current, _ := inst.values[dp.Name].(ComplexObject)
		if current == nil {
			co, err := ct.createInstanceCore(inst.self, dp)
			if err != nil {
				return err
			}
			inst.values[dp.Name] = co
			current = co
		}
		return updateTargetFromRaw(current.backing(), rawCo, rawValue)
	}
	arr, _ := inst.values[dp.Name].(*ComplexArray)
	if arr == nil {
		return nil
	}
	list, isList := toAnySlice(rawVal)
	if !isList {
		arr.reset()
		return nil
	}
	fresh := make([]ComplexObject, 0, len(list))
	for _, item := range list {
		rawCo, ok := toRawMap(item)
		if !ok {
			return errorf(ErrInvalidConfig, "complex property %s cannot hold %T", dp.Name, item)
		}
		co, err := ct.createInstanceCore(inst.self, dp)
		if err != nil {
			return err
		}
		if err := updateTargetFromRaw(co.backing(), rawCo, rawValue); err != nil {
			return err
		}
		co.backing().initialize()
		fresh = append(fresh, co)
	}
	if !complexSlicesEqual(arr.items, fresh) {
		arr.reset()
		for _, co := range fresh {
			co.ComplexAspect().parent = nil
		}
		return arr.Add(fresh...)
	}
	return nil
}

func toAnySlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func toRawMap(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case Structural:
		return snapshotValues(v), true
	}
	return nil, false
}

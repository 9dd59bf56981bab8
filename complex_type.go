package tracker

// ComplexType is the metadata for a value object embedded in an entity. It
// has data properties only and no identity.
type ComplexType struct {
	structuralCore
}

// ComplexTypeConfig configures NewComplexType.
type ComplexTypeConfig struct {
	ShortName      string
	Namespace      string
	DataProperties []*DataProperty
	Validators     []*Validator
	Custom         map[string]any
}

// NewComplexType builds an unregistered complex type.
func NewComplexType(cfg ComplexTypeConfig) (*ComplexType, error) {
	if cfg.ShortName == "" {
		return nil, errorf(ErrInvalidConfig, "a ComplexType requires a shortName")
	}
	ct := &ComplexType{}
	ct.ShortName = cfg.ShortName
	ct.Namespace = cfg.Namespace
	ct.Name = QualifyTypeName(cfg.ShortName, cfg.Namespace)
	ct.Custom = cloneCustom(cfg.Custom)
	ct.Validators = append([]*Validator(nil), cfg.Validators...)
	for _, dp := range cfg.DataProperties {
		if err := ct.addPropertyCore(dp); err != nil {
			return nil, err
		}
	}
	return ct, nil
}

// MustComplexType is NewComplexType that panics on error.
func MustComplexType(cfg ComplexTypeConfig) *ComplexType {
	ct, err := NewComplexType(cfg)
	if err != nil {
		panic(err)
	}
	return ct
}

func (ct *ComplexType) IsComplexType() bool { return true }

// AddProperty adds a data property. Navigation properties are rejected.
func (ct *ComplexType) AddProperty(prop StructuralProperty) error {
	if ms := ct.metadataStore; ms != nil {
		ms.mu.Lock()
		defer ms.mu.Unlock()
	}
	return ct.addPropertyCore(prop)
}

func (ct *ComplexType) addPropertyCore(prop StructuralProperty) error {
	if ct.frozen {
		return ct.frozenError()
	}
	dp, ok := prop.(*DataProperty)
	if !ok {
		return errorf(ErrInvalidConfig, "ComplexType %s only supports data properties", ct.Name)
	}
	if dp.parentType != nil {
		if dp.parentType != StructuralType(ct) {
			return errorf(ErrPropertyOwned, "This property: %s has already been added to %s", dp.Name, dp.parentType.TypeName())
		}
		return nil
	}
	dp.parentType = ct
	if dp.Name == "" || dp.NameOnServer == "" {
		if err := ct.updateNames(dp); err != nil {
			dp.parentType = nil
			return err
		}
	}
	if dp.Name != "" && ct.GetDataProperty(dp.Name) != nil {
		dp.parentType = nil
		return errorf(ErrDuplicateProperty, "%s already has a property named '%s'", ct.Name, dp.Name)
	}
	ct.addDataProperty(dp)
	if ct.metadataStore != nil && dp.IsComplexProperty() {
		ct.metadataStore.resolveOrDeferComplexProperty(dp)
	}
	return nil
}

// GetProperties returns the data properties.
func (ct *ComplexType) GetProperties() []StructuralProperty {
	props := make([]StructuralProperty, len(ct.DataProperties))
	for i, dp := range ct.DataProperties {
		props[i] = dp
	}
	return props
}

// GetProperty resolves a name or dotted path through nested complex types.
func (ct *ComplexType) GetProperty(path string) StructuralProperty {
	props, _ := propertiesOnPath(ct, path, false, false)
	if len(props) == 0 {
		return nil
	}
	return props[len(props)-1]
}

// GetAllValidators returns the type-level validators. Complex types have no
// inheritance.
func (ct *ComplexType) GetAllValidators() []*Validator {
	return append([]*Validator(nil), ct.Validators...)
}

// SetCustom replaces the custom metadata.
func (ct *ComplexType) SetCustom(custom map[string]any) { ct.Custom = cloneCustom(custom) }

// CreateInstance creates an unparented complex object populated from values.
func (ct *ComplexType) CreateInstance(values map[string]any) (ComplexObject, error) {
	co, err := ct.createInstanceCore(nil, nil)
	if err != nil {
		return nil, err
	}
	if values != nil {
		if err := updateTargetFromRaw(co.backing(), values, (*DataProperty).rawValueFromConfig); err != nil {
			return nil, err
		}
	}
	co.backing().initialize()
	return co, nil
}

func (ct *ComplexType) createInstanceCore(parent Structural, parentProperty *DataProperty) (ComplexObject, error) {
	inst := newInstance(ct)
	co, ok := inst.self.(ComplexObject)
	if !ok {
		return nil, errorf(ErrInvalidConfig, "constructor for %s returned %T, which is not a ComplexObject", ct.Name, inst.self)
	}
	inst.complexAspect = newComplexAspect(co, parent, parentProperty)
	ct.frozen = true
	return co, nil
}

func (ct *ComplexType) runInitializers(target Structural) {
	if ct.initFn != nil {
		ct.initFn(target)
	}
}

func (ct *ComplexType) String() string { return "ComplexType(" + ct.Name + ")" }

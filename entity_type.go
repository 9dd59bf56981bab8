package tracker

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// AutoGeneratedKeyType describes how keys of new entities are produced.
type AutoGeneratedKeyType uint8

const (
	AutoKeyNone AutoGeneratedKeyType = iota
	AutoKeyIdentity
	AutoKeyGenerator
)

func (k AutoGeneratedKeyType) String() string {
	switch k {
	case AutoKeyIdentity:
		return "Identity"
	case AutoKeyGenerator:
		return "KeyGenerator"
	default:
		return "None"
	}
}

// ParseAutoGeneratedKeyType resolves a key type by name. Empty means None.
func ParseAutoGeneratedKeyType(name string) (AutoGeneratedKeyType, error) {
	switch strings.TrimSpace(name) {
	case "", "None":
		return AutoKeyNone, nil
	case "Identity":
		return AutoKeyIdentity, nil
	case "KeyGenerator":
		return AutoKeyGenerator, nil
	}
	return AutoKeyNone, fmt.Errorf("tracker: unknown AutoGeneratedKeyType %q", name)
}

func (k AutoGeneratedKeyType) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *AutoGeneratedKeyType) UnmarshalText(text []byte) error {
	parsed, err := ParseAutoGeneratedKeyType(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

var nextAnonymousIndex atomic.Int64

// EntityType is the metadata for a kind of entity.
type EntityType struct {
	structuralCore

	BaseTypeName                string
	BaseEntityType              *EntityType
	IsAbstract                  bool
	IsAnonymous                 bool
	AutoGeneratedKeyType        AutoGeneratedKeyType
	DefaultResourceName         string
	NavigationProperties        []*NavigationProperty
	KeyProperties               []*DataProperty
	ForeignKeyProperties        []*DataProperty
	InverseForeignKeyProperties []*DataProperty
	Subtypes                    []*EntityType
}

// EntityTypeConfig configures NewEntityType. An empty ShortName produces an
// anonymous type.
type EntityTypeConfig struct {
	ShortName            string
	Namespace            string
	BaseTypeName         string
	IsAbstract           bool
	AutoGeneratedKeyType AutoGeneratedKeyType
	DefaultResourceName  string
	DataProperties       []*DataProperty
	NavigationProperties []*NavigationProperty
	Validators           []*Validator
	Custom               map[string]any
}

// NewEntityType builds an unregistered entity type.
func NewEntityType(cfg EntityTypeConfig) (*EntityType, error) {
	et := &EntityType{
		BaseTypeName:         cfg.BaseTypeName,
		IsAbstract:           cfg.IsAbstract,
		AutoGeneratedKeyType: cfg.AutoGeneratedKeyType,
		DefaultResourceName:  cfg.DefaultResourceName,
	}
	et.ShortName = cfg.ShortName
	et.Namespace = cfg.Namespace
	if et.ShortName == "" {
		et.ShortName = fmt.Sprintf("Anon_%d", nextAnonymousIndex.Add(1))
		et.Namespace = ""
		et.IsAnonymous = true
	}
	et.Name = QualifyTypeName(et.ShortName, et.Namespace)
	et.Custom = cloneCustom(cfg.Custom)
	et.Validators = append([]*Validator(nil), cfg.Validators...)
	for _, dp := range cfg.DataProperties {
		if err := et.addPropertyCore(dp, false); err != nil {
			return nil, err
		}
	}
	for _, np := range cfg.NavigationProperties {
		if err := et.addPropertyCore(np, false); err != nil {
			return nil, err
		}
	}
	return et, nil
}

// MustEntityType is NewEntityType that panics on error.
func MustEntityType(cfg EntityTypeConfig) *EntityType {
	et, err := NewEntityType(cfg)
	if err != nil {
		panic(err)
	}
	return et
}

func (et *EntityType) IsComplexType() bool { return false }

// AddProperty adds a data or navigation property and propagates a copy to
// every registered subtype. Re-adding the same property is a no-op.
func (et *EntityType) AddProperty(prop StructuralProperty) error {
	if ms := et.metadataStore; ms != nil {
		ms.mu.Lock()
		defer ms.mu.Unlock()
	}
	if err := et.addPropertyCore(prop, true); err != nil {
		return err
	}
	for _, st := range et.GetSelfAndSubtypes() {
		if st == et {
			continue
		}
		var err error
		switch p := prop.(type) {
		case *DataProperty:
			clone := p.clone()
			clone.Validators = nil
			clone.BaseProperty = p
			err = st.addPropertyCore(clone, true)
		case *NavigationProperty:
			clone := p.clone()
			clone.Validators = nil
			clone.BaseProperty = p
			err = st.addPropertyCore(clone, true)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (et *EntityType) addPropertyCore(prop StructuralProperty, shouldResolve bool) error {
	if et.frozen {
		return et.frozenError()
	}
	switch p := prop.(type) {
	case *DataProperty:
		if p.parentType != nil {
			if p.parentType != StructuralType(et) {
				return errorf(ErrPropertyOwned, "This property: %s has already been added to %s", p.Name, p.parentType.TypeName())
			}
			return nil
		}
		p.parentType = et
		if p.Name == "" || p.NameOnServer == "" {
			if err := et.updateNames(p); err != nil {
				p.parentType = nil
				return err
			}
		}
		if err := et.checkUniqueName(p.Name); err != nil {
			p.parentType = nil
			return err
		}
		et.addDataProperty(p)
		if p.IsPartOfKey {
			et.KeyProperties = append(et.KeyProperties, p)
		}
		if shouldResolve && et.metadataStore != nil && p.IsComplexProperty() {
			et.metadataStore.resolveOrDeferComplexProperty(p)
		}
	case *NavigationProperty:
		if p.parentType != nil {
			if p.parentType != et {
				return errorf(ErrPropertyOwned, "This property: %s has already been added to %s", p.Name, p.parentType.Name)
			}
			return nil
		}
		p.parentType = et
		if p.Name == "" || p.NameOnServer == "" {
			if err := et.updateNames(p); err != nil {
				p.parentType = nil
				return err
			}
		}
		if err := et.checkUniqueName(p.Name); err != nil {
			p.parentType = nil
			return err
		}
		et.NavigationProperties = append(et.NavigationProperties, p)
		if !isQualifiedTypeName(p.EntityTypeName) {
			p.EntityTypeName = QualifyTypeName(p.EntityTypeName, et.Namespace)
		}
		if shouldResolve && et.metadataStore != nil {
			if _, err := et.metadataStore.tryResolveNavigationProperty(p); err != nil {
				return err
			}
		}
	default:
		return errorf(ErrInvalidConfig, "unsupported property %T", prop)
	}
	return nil
}

func (et *EntityType) checkUniqueName(name string) error {
	if name == "" {
		return nil
	}
	if et.GetDataProperty(name) != nil || et.GetNavigationProperty(name) != nil {
		return errorf(ErrDuplicateProperty, "%s already has a property named '%s'", et.Name, name)
	}
	return nil
}

// updateFromBase links the base type and copies its properties. Validators
// are not copied; they are found through BaseProperty at validation time.
func (et *EntityType) updateFromBase(base *EntityType) error {
	et.BaseEntityType = base
	if et.AutoGeneratedKeyType == AutoKeyNone {
		et.AutoGeneratedKeyType = base.AutoGeneratedKeyType
	}
	for _, dp := range base.DataProperties {
		clone := dp.clone()
		clone.Validators = nil
		clone.BaseProperty = dp
		if err := et.addPropertyCore(clone, false); err != nil {
			return err
		}
	}
	for _, np := range base.NavigationProperties {
		clone := np.clone()
		clone.Validators = nil
		clone.BaseProperty = np
		if err := et.addPropertyCore(clone, false); err != nil {
			return err
		}
	}
	base.Subtypes = append(base.Subtypes, et)
	return nil
}

// GetProperties returns data properties followed by navigation properties.
func (et *EntityType) GetProperties() []StructuralProperty {
	props := make([]StructuralProperty, 0, len(et.DataProperties)+len(et.NavigationProperties))
	for _, dp := range et.DataProperties {
		props = append(props, dp)
	}
	for _, np := range et.NavigationProperties {
		props = append(props, np)
	}
	return props
}

// GetPropertyNames returns the client names of every property.
func (et *EntityType) GetPropertyNames() []string {
	props := et.GetProperties()
	names := make([]string, len(props))
	for i, p := range props {
		names[i] = p.PropertyName()
	}
	return names
}

// GetNavigationProperty returns the navigation property with the given name.
func (et *EntityType) GetNavigationProperty(name string) *NavigationProperty {
	for _, np := range et.NavigationProperties {
		if np.Name == name {
			return np
		}
	}
	return nil
}

// GetProperty resolves a name or dotted path; nil when not found.
func (et *EntityType) GetProperty(path string) StructuralProperty {
	props, _ := propertiesOnPath(et, path, false, false)
	if len(props) == 0 {
		return nil
	}
	return props[len(props)-1]
}

// GetPropertiesOnPath resolves every segment of a dotted path, walking
// through navigation and complex property types.
func (et *EntityType) GetPropertiesOnPath(path string, useServerName, strict bool) ([]StructuralProperty, error) {
	return propertiesOnPath(et, path, useServerName, strict)
}

// ClientPropertyPathToServer maps a client path to its server form.
func (et *EntityType) ClientPropertyPathToServer(path string) (string, error) {
	props, err := propertiesOnPath(et, path, false, true)
	if err != nil {
		return "", err
	}
	names := make([]string, len(props))
	for i, p := range props {
		names[i] = p.ServerName()
	}
	return strings.Join(names, "."), nil
}

// IsSubtypeOf reports whether other is et or one of its base types.
func (et *EntityType) IsSubtypeOf(other *EntityType) bool {
	for t := et; t != nil; t = t.BaseEntityType {
		if t == other {
			return true
		}
	}
	return false
}

// GetSelfAndSubtypes returns et followed by every transitive subtype.
func (et *EntityType) GetSelfAndSubtypes() []*EntityType {
	result := []*EntityType{et}
	for _, st := range et.Subtypes {
		result = append(result, st.GetSelfAndSubtypes()...)
	}
	return result
}

// GetAllValidators returns type-level validators, own first then base chain.
func (et *EntityType) GetAllValidators() []*Validator {
	validators := append([]*Validator(nil), et.Validators...)
	for base := et.BaseEntityType; base != nil; base = base.BaseEntityType {
		validators = append(validators, base.Validators...)
	}
	return validators
}

// GetEntityKeyFromRawEntity builds a key from a raw row.
func (et *EntityType) GetEntityKeyFromRawEntity(raw map[string]any, useServerNames bool) EntityKey {
	values := make([]any, len(et.KeyProperties))
	for i, kp := range et.KeyProperties {
		name := kp.Name
		if useServerNames {
			name = kp.NameOnServer
		}
		values[i] = kp.DataType.ParseRawValue(raw[name])
	}
	return NewEntityKey(et, values...)
}

// CheckNavProperty returns the named navigation property or an error.
func (et *EntityType) CheckNavProperty(name string) (*NavigationProperty, error) {
	if np := et.GetNavigationProperty(name); np != nil {
		return np, nil
	}
	return nil, errorf(ErrPropertyNotFound, "The navigationProperty '%s' is not a property of entity type '%s'", name, et.Name)
}

func (et *EntityType) checkNavProperty(np *NavigationProperty) (*NavigationProperty, error) {
	if np != nil && np.parentType == et {
		return np, nil
	}
	name := "<nil>"
	if np != nil {
		name = np.Name
	}
	return nil, errorf(ErrPropertyNotFound, "The navigationProperty '%s' is not a property of entity type '%s'", name, et.Name)
}

// EntityTypeUpdate is applied by SetProperties. Zero fields are ignored.
type EntityTypeUpdate struct {
	AutoGeneratedKeyType *AutoGeneratedKeyType
	DefaultResourceName  string
	Custom               map[string]any
}

// SetProperties updates mutable type settings.
func (et *EntityType) SetProperties(update EntityTypeUpdate) {
	if update.AutoGeneratedKeyType != nil {
		et.AutoGeneratedKeyType = *update.AutoGeneratedKeyType
	}
	if update.Custom != nil {
		et.Custom = cloneCustom(update.Custom)
	}
	if update.DefaultResourceName != "" {
		et.DefaultResourceName = update.DefaultResourceName
		if et.metadataStore != nil {
			et.metadataStore.SetEntityTypeForResourceName(update.DefaultResourceName, et.Name)
		}
	}
}

// CreateEntity creates a detached entity populated from values, which are
// keyed by client property name. Nested maps for navigation properties are
// materialized as related entities.
func (et *EntityType) CreateEntity(values map[string]any) (Entity, error) {
	entity, err := et.createEntityCore()
	if err != nil {
		return nil, err
	}
	inst := entity.backing()
	if values != nil {
		if err := updateTargetFromRaw(inst, values, (*DataProperty).rawValueFromConfig); err != nil {
			return nil, err
		}
		for _, np := range et.NavigationProperties {
			val, ok := values[np.Name]
			if !ok || val == nil {
				continue
			}
			if np.IsScalar {
				related, err := relatedEntityFromValue(np, val)
				if err != nil {
					return nil, err
				}
				if err := inst.SetProperty(np.Name, related); err != nil {
					return nil, err
				}
				continue
			}
			items, ok := val.([]any)
			if !ok {
				if ents, isEnts := val.([]Entity); isEnts {
					for _, e := range ents {
						items = append(items, e)
					}
				} else {
					return nil, errorf(ErrInvalidConfig, "navigation property %s expects a list", np.Name)
				}
			}
			collection := inst.relationArray(np)
			for _, item := range items {
				related, err := relatedEntityFromValue(np, item)
				if err != nil {
					return nil, err
				}
				if err := collection.Add(related); err != nil {
					return nil, err
				}
			}
		}
	}
	inst.initialize()
	return entity, nil
}

func relatedEntityFromValue(np *NavigationProperty, val any) (Entity, error) {
	switch v := val.(type) {
	case Entity:
		return v, nil
	case map[string]any:
		if np.EntityType == nil {
			return nil, &UnresolvedNavigationError{Pairs: []string{np.parentType.Name + ":" + np.Name}}
		}
		return np.EntityType.CreateEntity(v)
	}
	return nil, errorf(ErrInvalidConfig, "navigation property %s cannot be set from %T", np.Name, val)
}

func (et *EntityType) createEntityCore() (Entity, error) {
	if et.IsAbstract {
		return nil, errorf(ErrInvalidConfig, "cannot create an instance of the abstract type %s", et.Name)
	}
	inst := newInstance(et)
	self := inst.self
	entity, ok := self.(Entity)
	if !ok {
		return nil, errorf(ErrInvalidConfig, "constructor for %s returned %T, which is not an Entity", et.Name, self)
	}
	inst.entityAspect = newEntityAspect(entity)
	et.frozen = true
	return entity, nil
}

func (et *EntityType) String() string { return "EntityType(" + et.Name + ")" }

// initializer chain runs base first.
func (et *EntityType) runInitializers(target Structural) {
	if et.BaseEntityType != nil {
		et.BaseEntityType.runInitializers(target)
	}
	if et.initFn != nil {
		et.initFn(target)
	}
}

func propertiesOnPath(st StructuralType, path string, useServerName, strict bool) ([]StructuralProperty, error) {
	var props []StructuralProperty
	parent := st
	for _, name := range strings.Split(path, ".") {
		var prop StructuralProperty
		if parent != nil {
			prop = findProperty(parent, name, useServerName)
		}
		if prop == nil {
			if strict {
				typeName := ""
				if parent != nil {
					typeName = parent.TypeName()
				}
				return nil, errorf(ErrPropertyNotFound, "unable to locate property: %s on entityType: %s", name, typeName)
			}
			return nil, nil
		}
		props = append(props, prop)
		parent = nil
		switch p := prop.(type) {
		case *NavigationProperty:
			if p.EntityType != nil {
				parent = p.EntityType
			}
		case *DataProperty:
			if p.ComplexType != nil {
				parent = p.ComplexType
			}
		}
	}
	return props, nil
}

func findProperty(st StructuralType, name string, useServerName bool) StructuralProperty {
	for _, p := range st.GetProperties() {
		if useServerName {
			if p.ServerName() == name {
				return p
			}
		} else if p.PropertyName() == name {
			return p
		}
	}
	return nil
}

package tracker

import (
	"strings"

	"github.com/goliatone/go-tracker/layering"
)

// StructuralType is implemented by *EntityType and *ComplexType.
type StructuralType interface {
	// TypeName returns the qualified type name (short:#namespace).
	TypeName() string
	IsComplexType() bool
	MetadataStore() *MetadataStore
	// GetProperty resolves a client property name or dotted path. It returns
	// nil when any segment is unknown.
	GetProperty(path string) StructuralProperty
	GetProperties() []StructuralProperty
	GetDataProperty(name string) *DataProperty
	GetAllValidators() []*Validator
	IsFrozen() bool

	structural() *structuralCore
}

// StructuralProperty is implemented by *DataProperty and *NavigationProperty.
type StructuralProperty interface {
	PropertyName() string
	ServerName() string
	IsDataProperty() bool
	IsNavigationProperty() bool
	Parent() StructuralType
	GetAllValidators() []*Validator

	core() *propertyCore
}

// structuralCore holds the state shared by entity and complex types.
type structuralCore struct {
	ShortName             string
	Namespace             string
	Name                  string
	Custom                map[string]any
	DataProperties        []*DataProperty
	ComplexProperties     []*DataProperty
	UnmappedProperties    []*DataProperty
	ConcurrencyProperties []*DataProperty
	Validators            []*Validator

	metadataStore *MetadataStore
	frozen        bool
	initFn        func(Structural)
	ctor          func(*Instance) Structural
}

func (c *structuralCore) structural() *structuralCore { return c }

// TypeName returns the qualified type name.
func (c *structuralCore) TypeName() string { return c.Name }

// MetadataStore returns the store the type was registered with.
func (c *structuralCore) MetadataStore() *MetadataStore { return c.metadataStore }

// IsFrozen reports whether instances have been created from the type.
func (c *structuralCore) IsFrozen() bool { return c.frozen }

// GetDataProperty returns the data property with the given client name.
func (c *structuralCore) GetDataProperty(name string) *DataProperty {
	for _, dp := range c.DataProperties {
		if dp.Name == name {
			return dp
		}
	}
	return nil
}

func (c *structuralCore) dataPropertyByServerName(name string) *DataProperty {
	for _, dp := range c.DataProperties {
		if dp.NameOnServer == name {
			return dp
		}
	}
	return nil
}

func (c *structuralCore) frozenError() error {
	return errorf(ErrFrozenType, "The '%s' EntityType/ComplexType has been frozen. You can only add properties to an EntityType/ComplexType before any instances of that type have been created and attached to an entityManager.", c.Name)
}

// addDataProperty buckets dp into the key, complex, concurrency and unmapped
// lists. Key handling lives on EntityType.
func (c *structuralCore) addDataProperty(dp *DataProperty) {
	c.DataProperties = append(c.DataProperties, dp)
	if dp.IsComplexProperty() {
		c.ComplexProperties = append(c.ComplexProperties, dp)
	}
	if dp.ConcurrencyMode != "" && dp.ConcurrencyMode != "None" {
		c.ConcurrencyProperties = append(c.ConcurrencyProperties, dp)
	}
	if dp.IsUnmapped {
		c.UnmappedProperties = append(c.UnmappedProperties, dp)
	}
}

// updateNames derives missing client/server names through the store's naming
// convention.
func (c *structuralCore) updateNames(prop StructuralProperty) error {
	if c.metadataStore == nil {
		return nil
	}
	return c.metadataStore.updatePropertyNames(prop)
}

// TypeNameParts is the result of ParseTypeName.
type TypeNameParts struct {
	ShortName   string
	Namespace   string
	TypeName    string
	IsAnonymous bool
}

// AnonymousTypePrefix marks types projected by the server that have no
// declared metadata.
const AnonymousTypePrefix = "_IB_"

// QualifyTypeName joins a short name and namespace into the qualified form.
func QualifyTypeName(shortName, namespace string) string {
	if namespace == "" {
		return shortName
	}
	return shortName + ":#" + namespace
}

// ParseTypeName accepts "Short:#ns", "ns.Short" and "ns.Short, Assembly".
func ParseTypeName(name string) (TypeNameParts, bool) {
	if name == "" {
		return TypeNameParts{}, false
	}
	if short, ns, ok := strings.Cut(name, ":#"); ok {
		return makeTypeNameParts(short, ns), true
	}
	if strings.HasPrefix(name, AnonymousTypePrefix) {
		parts := makeTypeNameParts(name, "")
		parts.IsAnonymous = true
		return parts, true
	}
	noAssembly, _, _ := strings.Cut(name, ",")
	noAssembly = strings.TrimSpace(noAssembly)
	if idx := strings.LastIndex(noAssembly, "."); idx > 0 {
		return makeTypeNameParts(noAssembly[idx+1:], noAssembly[:idx]), true
	}
	return makeTypeNameParts(noAssembly, ""), true
}

func makeTypeNameParts(short, ns string) TypeNameParts {
	return TypeNameParts{ShortName: short, Namespace: ns, TypeName: QualifyTypeName(short, ns)}
}

func isQualifiedTypeName(name string) bool {
	return strings.Contains(name, ":#")
}

// propertyCore holds the fields shared by data and navigation properties.
type propertyCore struct {
	Name         string
	NameOnServer string
	DisplayName  string
	IsScalar     bool
	Validators   []*Validator
	Custom       map[string]any
}

func (p *propertyCore) core() *propertyCore { return p }

// PropertyName returns the client-side name.
func (p *propertyCore) PropertyName() string { return p.Name }

// ServerName returns the server-side name.
func (p *propertyCore) ServerName() string { return p.NameOnServer }

func cloneCustom(custom map[string]any) map[string]any { return layering.Clone(custom) }

func formatPropertyName(parent StructuralType, name string) string {
	if parent == nil {
		return "--" + name
	}
	return parent.TypeName() + "--" + name
}

package tracker

import (
	"fmt"
	"strconv"
)

// DataProperty describes a primitive or complex-typed property of a
// structural type.
type DataProperty struct {
	propertyCore

	DataType                  DataType
	ComplexTypeName           string
	ComplexType               *ComplexType
	IsNullable                bool
	DefaultValue              any
	IsPartOfKey               bool
	IsUnmapped                bool
	IsSettable                bool
	ConcurrencyMode           string
	MaxLength                 int
	EnumType                  string
	RawTypeName               string
	BaseProperty              *DataProperty
	RelatedNavigationProperty *NavigationProperty
	InverseNavigationProperty *NavigationProperty

	parentType StructuralType
}

// DataPropertyConfig configures NewDataProperty. Pointer flags default to
// true when nil.
type DataPropertyConfig struct {
	Name            string
	NameOnServer    string
	DisplayName     string
	DataType        DataType
	DataTypeName    string
	ComplexTypeName string
	IsNullable      *bool
	IsScalar        *bool
	IsSettable      *bool
	DefaultValue    any
	IsPartOfKey     bool
	IsUnmapped      bool
	ConcurrencyMode string
	MaxLength       int
	Validators      []*Validator
	EnumType        string
	RawTypeName     string
	Custom          map[string]any
}

// Bool returns a pointer to v, for the optional flags in property configs.
func Bool(v bool) *bool { return &v }

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// NewDataProperty validates cfg and derives the default value.
func NewDataProperty(cfg DataPropertyConfig) (*DataProperty, error) {
	if cfg.Name == "" && cfg.NameOnServer == "" {
		return nil, errorf(ErrInvalidConfig, "A DataProperty must be instantiated with either a 'name' or a 'nameOnServer' property")
	}
	dp := &DataProperty{
		propertyCore: propertyCore{
			Name:         cfg.Name,
			NameOnServer: cfg.NameOnServer,
			DisplayName:  cfg.DisplayName,
			IsScalar:     boolOr(cfg.IsScalar, true),
			Validators:   append([]*Validator(nil), cfg.Validators...),
			Custom:       cloneCustom(cfg.Custom),
		},
		DataType:        cfg.DataType,
		ComplexTypeName: cfg.ComplexTypeName,
		IsNullable:      boolOr(cfg.IsNullable, true),
		IsSettable:      boolOr(cfg.IsSettable, true),
		DefaultValue:    cfg.DefaultValue,
		IsPartOfKey:     cfg.IsPartOfKey,
		IsUnmapped:      cfg.IsUnmapped,
		ConcurrencyMode: cfg.ConcurrencyMode,
		MaxLength:       cfg.MaxLength,
		EnumType:        cfg.EnumType,
		RawTypeName:     cfg.RawTypeName,
	}
	switch {
	case dp.ComplexTypeName != "":
		dp.DataType = DataTypeUndefined
	case cfg.DataTypeName != "":
		dt, ok := DataTypeFromName(cfg.DataTypeName)
		if !ok {
			return nil, errorf(ErrInvalidConfig, "Unable to find a DataType enumeration by the name of: %s", cfg.DataTypeName)
		}
		dp.DataType = dt
	case dp.DataType == DataTypeUndefined:
		dp.DataType = DataTypeString
	}
	if err := dp.resolveDefaultValue(); err != nil {
		return nil, err
	}
	return dp, nil
}

// MustDataProperty is NewDataProperty that panics on error. Intended for
// package-level metadata declarations and tests.
func MustDataProperty(cfg DataPropertyConfig) *DataProperty {
	dp, err := NewDataProperty(cfg)
	if err != nil {
		panic(err)
	}
	return dp
}

func (dp *DataProperty) resolveDefaultValue() error {
	if dp.DefaultValue == nil {
		if dp.IsNullable || dp.IsComplexProperty() {
			return nil
		}
		if dp.DataType == DataTypeBinary {
			dp.DefaultValue = binaryDefaultValue
			return nil
		}
		dp.DefaultValue = dp.DataType.DefaultValue()
		if dp.DefaultValue == nil {
			return errorf(ErrInvalidConfig, "A nonnullable DataProperty cannot have a null defaultValue. Name: %s", dp.anyName())
		}
		return nil
	}
	if dp.DataType.IsNumeric() {
		if s, ok := dp.DefaultValue.(string); ok {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				dp.DefaultValue = dp.DataType.Parse(f)
			}
			return nil
		}
	}
	if !dp.IsComplexProperty() && dp.IsScalar {
		dp.DefaultValue = dp.DataType.Parse(dp.DefaultValue)
	}
	return nil
}

func (dp *DataProperty) anyName() string {
	if dp.Name != "" {
		return dp.Name
	}
	return dp.NameOnServer
}

func (dp *DataProperty) IsDataProperty() bool       { return true }
func (dp *DataProperty) IsNavigationProperty() bool { return false }

// IsComplexProperty reports whether the property holds complex objects.
func (dp *DataProperty) IsComplexProperty() bool { return dp.ComplexTypeName != "" }

// Parent returns the owning type, nil until the property is added.
func (dp *DataProperty) Parent() StructuralType { return dp.parentType }

// FormatName returns "Type--property".
func (dp *DataProperty) FormatName() string { return formatPropertyName(dp.parentType, dp.Name) }

// ResolvedDisplayName walks the base chain for a display name.
func (dp *DataProperty) ResolvedDisplayName() string {
	for p := dp; p != nil; p = p.BaseProperty {
		if p.DisplayName != "" {
			return p.DisplayName
		}
	}
	return ""
}

// GetAllValidators returns the property's own validators followed by those of
// each base property.
func (dp *DataProperty) GetAllValidators() []*Validator {
	validators := append([]*Validator(nil), dp.Validators...)
	for base := dp.BaseProperty; base != nil; base = base.BaseProperty {
		validators = append(validators, base.Validators...)
	}
	return validators
}

// SetProperties updates the display name and custom metadata.
func (dp *DataProperty) SetProperties(displayName string, custom map[string]any) {
	if displayName != "" {
		dp.DisplayName = displayName
	}
	if custom != nil {
		dp.Custom = cloneCustom(custom)
	}
}

// clone copies configuration but not ownership or resolved links.
func (dp *DataProperty) clone() *DataProperty {
	out := &DataProperty{
		propertyCore:    dp.propertyCore,
		DataType:        dp.DataType,
		ComplexTypeName: dp.ComplexTypeName,
		IsNullable:      dp.IsNullable,
		DefaultValue:    dp.DefaultValue,
		IsPartOfKey:     dp.IsPartOfKey,
		IsUnmapped:      dp.IsUnmapped,
		IsSettable:      dp.IsSettable,
		ConcurrencyMode: dp.ConcurrencyMode,
		MaxLength:       dp.MaxLength,
		EnumType:        dp.EnumType,
		RawTypeName:     dp.RawTypeName,
	}
	out.Validators = append([]*Validator(nil), dp.Validators...)
	out.Custom = cloneCustom(dp.Custom)
	return out
}

// rawValueFromServer reads dp from a server-shaped row.
func (dp *DataProperty) rawValueFromServer(raw map[string]any) (any, bool) {
	if dp.IsUnmapped {
		name := dp.NameOnServer
		if name == "" {
			name = dp.Name
		}
		v, ok := raw[name]
		return v, ok
	}
	if v, ok := raw[dp.NameOnServer]; ok {
		return v, true
	}
	return dp.DefaultValue, true
}

// rawValueFromClient reads dp from a client-shaped row.
func (dp *DataProperty) rawValueFromClient(raw map[string]any) (any, bool) {
	if v, ok := raw[dp.Name]; ok {
		return v, true
	}
	return dp.DefaultValue, true
}

// rawValueFromConfig reads dp from createEntity initial values; absent keys
// are skipped.
func (dp *DataProperty) rawValueFromConfig(raw map[string]any) (any, bool) {
	v, ok := raw[dp.Name]
	return v, ok
}

func (dp *DataProperty) String() string {
	return fmt.Sprintf("DataProperty(%s)", dp.FormatName())
}

package tracker

import (
	"fmt"
)

// NavigationProperty describes a property of an EntityType that references
// other entities.
type NavigationProperty struct {
	propertyCore

	EntityTypeName             string
	EntityType                 *EntityType
	AssociationName            string
	ForeignKeyNames            []string
	ForeignKeyNamesOnServer    []string
	InvForeignKeyNames         []string
	InvForeignKeyNamesOnServer []string
	Inverse                    *NavigationProperty
	RelatedDataProperties      []*DataProperty
	BaseProperty               *NavigationProperty

	parentType *EntityType
}

// NavigationPropertyConfig configures NewNavigationProperty.
type NavigationPropertyConfig struct {
	Name                       string
	NameOnServer               string
	DisplayName                string
	EntityTypeName             string
	IsScalar                   *bool
	AssociationName            string
	ForeignKeyNames            []string
	ForeignKeyNamesOnServer    []string
	InvForeignKeyNames         []string
	InvForeignKeyNamesOnServer []string
	Validators                 []*Validator
	Custom                     map[string]any
}

// NewNavigationProperty validates cfg. The target type is resolved once the
// owning type is added to a MetadataStore.
func NewNavigationProperty(cfg NavigationPropertyConfig) (*NavigationProperty, error) {
	if cfg.Name == "" && cfg.NameOnServer == "" {
		return nil, errorf(ErrInvalidConfig, "A Navigation property must be instantiated with either a 'name' or a 'nameOnServer' property")
	}
	if cfg.EntityTypeName == "" {
		return nil, errorf(ErrInvalidConfig, "navigation property %q requires an entityTypeName", cfg.Name+cfg.NameOnServer)
	}
	return &NavigationProperty{
		propertyCore: propertyCore{
			Name:         cfg.Name,
			NameOnServer: cfg.NameOnServer,
			DisplayName:  cfg.DisplayName,
			IsScalar:     boolOr(cfg.IsScalar, true),
			Validators:   append([]*Validator(nil), cfg.Validators...),
			Custom:       cloneCustom(cfg.Custom),
		},
		EntityTypeName:             cfg.EntityTypeName,
		AssociationName:            cfg.AssociationName,
		ForeignKeyNames:            append([]string(nil), cfg.ForeignKeyNames...),
		ForeignKeyNamesOnServer:    append([]string(nil), cfg.ForeignKeyNamesOnServer...),
		InvForeignKeyNames:         append([]string(nil), cfg.InvForeignKeyNames...),
		InvForeignKeyNamesOnServer: append([]string(nil), cfg.InvForeignKeyNamesOnServer...),
	}, nil
}

// MustNavigationProperty is NewNavigationProperty that panics on error.
func MustNavigationProperty(cfg NavigationPropertyConfig) *NavigationProperty {
	np, err := NewNavigationProperty(cfg)
	if err != nil {
		panic(err)
	}
	return np
}

func (np *NavigationProperty) IsDataProperty() bool       { return false }
func (np *NavigationProperty) IsNavigationProperty() bool { return true }

// Parent returns the owning type.
func (np *NavigationProperty) Parent() StructuralType {
	if np.parentType == nil {
		return nil
	}
	return np.parentType
}

// ParentEntityType returns the owning entity type.
func (np *NavigationProperty) ParentEntityType() *EntityType { return np.parentType }

// FormatName returns "Type--property".
func (np *NavigationProperty) FormatName() string {
	return formatPropertyName(np.Parent(), np.Name)
}

// GetAllValidators returns own validators followed by the base chain.
func (np *NavigationProperty) GetAllValidators() []*Validator {
	validators := append([]*Validator(nil), np.Validators...)
	for base := np.BaseProperty; base != nil; base = base.BaseProperty {
		validators = append(validators, base.Validators...)
	}
	return validators
}

// NavigationPropertyUpdate is applied by SetProperties.
type NavigationPropertyUpdate struct {
	DisplayName        string
	ForeignKeyNames    []string
	InvForeignKeyNames []string
	Inverse            string
	Custom             map[string]any
}

// SetProperties updates the foreign keys or inverse of a registered property
// and re-resolves the relationship.
func (np *NavigationProperty) SetProperties(update NavigationPropertyUpdate) error {
	if np.parentType == nil {
		return errorf(ErrInvalidConfig, "Cannot call NavigationProperty.setProperties until the parent EntityType of the NavigationProperty has been set.")
	}
	ms := np.parentType.metadataStore
	if ms != nil {
		ms.mu.Lock()
		defer ms.mu.Unlock()
	}
	if update.DisplayName != "" {
		np.DisplayName = update.DisplayName
	}
	if update.ForeignKeyNames != nil {
		np.ForeignKeyNames = append([]string(nil), update.ForeignKeyNames...)
		np.ForeignKeyNamesOnServer = nil
	}
	if update.InvForeignKeyNames != nil {
		np.InvForeignKeyNames = append([]string(nil), update.InvForeignKeyNames...)
		np.InvForeignKeyNamesOnServer = nil
	}
	if update.Custom != nil {
		np.Custom = cloneCustom(update.Custom)
	}
	if err := np.parentType.updateNames(np); err != nil {
		return err
	}
	if np.EntityType != nil {
		if err := np.resolve(); err != nil {
			return err
		}
	}
	if update.Inverse != "" {
		return np.setInverse(update.Inverse)
	}
	return nil
}

// SetInverse pairs np with the named navigation property on its target type.
func (np *NavigationProperty) SetInverse(inverseName string) error {
	if np.parentType != nil && np.parentType.metadataStore != nil {
		ms := np.parentType.metadataStore
		ms.mu.Lock()
		defer ms.mu.Unlock()
	}
	return np.setInverse(inverseName)
}

func (np *NavigationProperty) setInverse(inverseName string) error {
	var invNp *NavigationProperty
	if np.EntityType != nil {
		invNp = np.EntityType.GetNavigationProperty(inverseName)
	}
	if invNp == nil {
		return np.setInverseError("Unable to find inverse property: " + inverseName)
	}
	if np.Inverse != nil || invNp.Inverse != nil {
		return np.setInverseError("It has already been set on one side or the other.")
	}
	if invNp.EntityType != np.parentType {
		return np.setInverseError(invNp.FormatName() + " is not a valid inverse property for this.")
	}
	if np.AssociationName != "" {
		invNp.AssociationName = np.AssociationName
	} else {
		if invNp.AssociationName == "" {
			invNp.AssociationName = np.FormatName() + "_" + invNp.FormatName()
		}
		np.AssociationName = invNp.AssociationName
	}
	if err := np.resolve(); err != nil {
		return err
	}
	return invNp.resolve()
}

func (np *NavigationProperty) setInverseError(message string) error {
	return errorf(ErrInvalidConfig, "Cannot set the inverse property for: %s. %s", np.FormatName(), message)
}

// resolve locates the inverse on the target type and wires foreign keys. A
// relationship without an inverse is unidirectional; its inverse foreign keys
// live on the target type.
func (np *NavigationProperty) resolve() error {
	target := np.EntityType
	var invNp *NavigationProperty
	if np.AssociationName != "" {
		for _, alt := range target.NavigationProperties {
			if alt.AssociationName == np.AssociationName && (alt.Name != np.Name || alt.EntityTypeName != np.EntityTypeName) {
				invNp = alt
				break
			}
		}
	}
	np.Inverse = invNp
	if invNp == nil {
		for _, invFkName := range np.InvForeignKeyNames {
			fkProp := target.GetDataProperty(invFkName)
			if fkProp == nil {
				return errorf(ErrPropertyNotFound, "EntityType '%s' has no foreign key matching '%s'", np.EntityTypeName, invFkName)
			}
			for _, np2 := range np.parentType.NavigationProperties {
				if containsString(np2.InvForeignKeyNames, fkProp.Name) && np2.EntityType != nil && StructuralType(np2.EntityType) == fkProp.parentType {
					fkProp.InverseNavigationProperty = np2
					break
				}
			}
			target.ForeignKeyProperties = appendUniqueDataProperty(target.ForeignKeyProperties, fkProp)
		}
	}
	return np.resolveRelated()
}

// resolveRelated links the foreign key data properties of np on both sides.
func (np *NavigationProperty) resolveRelated() error {
	if len(np.ForeignKeyNames) == 0 {
		return nil
	}
	parent := np.parentType
	for _, fkName := range np.ForeignKeyNames {
		dp := parent.GetDataProperty(fkName)
		if dp == nil {
			return errorf(ErrPropertyNotFound, "EntityType '%s' has no foreign key matching '%s'", parent.Name, fkName)
		}
		parent.ForeignKeyProperties = appendUniqueDataProperty(parent.ForeignKeyProperties, dp)
		dp.RelatedNavigationProperty = np
		np.EntityType.InverseForeignKeyProperties = appendUniqueDataProperty(np.EntityType.InverseForeignKeyProperties, dp)
		np.RelatedDataProperties = appendUniqueDataProperty(np.RelatedDataProperties, dp)
	}
	return nil
}

func (np *NavigationProperty) clone() *NavigationProperty {
	out := &NavigationProperty{
		propertyCore:               np.propertyCore,
		EntityTypeName:             np.EntityTypeName,
		AssociationName:            np.AssociationName,
		ForeignKeyNames:            append([]string(nil), np.ForeignKeyNames...),
		ForeignKeyNamesOnServer:    append([]string(nil), np.ForeignKeyNamesOnServer...),
		InvForeignKeyNames:         append([]string(nil), np.InvForeignKeyNames...),
		InvForeignKeyNamesOnServer: append([]string(nil), np.InvForeignKeyNamesOnServer...),
	}
	out.Validators = append([]*Validator(nil), np.Validators...)
	out.Custom = cloneCustom(np.Custom)
	return out
}

func (np *NavigationProperty) String() string {
	return fmt.Sprintf("NavigationProperty(%s)", np.FormatName())
}

func appendUniqueDataProperty(list []*DataProperty, dp *DataProperty) []*DataProperty {
	for _, existing := range list {
		if existing == dp {
			return list
		}
	}
	return append(list, dp)
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

package tracker

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/goliatone/go-tracker/internal/hydrate"
	"github.com/goliatone/go-tracker/layering"
	"gopkg.in/yaml.v3"
)

// MetadataVersion is written into metadata and entity cache exports; imports
// of any other version are rejected.
const MetadataVersion = "1.0.5"

type metadataJSON struct {
	MetadataVersion             string               `json:"metadataVersion" yaml:"metadataVersion"`
	Name                        string               `json:"name,omitempty" yaml:"name,omitempty"`
	NamingConvention            string               `json:"namingConvention,omitempty" yaml:"namingConvention,omitempty"`
	LocalQueryComparisonOptions string               `json:"localQueryComparisonOptions,omitempty" yaml:"localQueryComparisonOptions,omitempty"`
	DataServices                []*DataService       `json:"dataServices,omitempty" yaml:"dataServices,omitempty"`
	StructuralTypes             []structuralTypeJSON `json:"structuralTypes" yaml:"structuralTypes"`
	ResourceEntityTypeMap       map[string]string    `json:"resourceEntityTypeMap,omitempty" yaml:"resourceEntityTypeMap,omitempty"`
}

type structuralTypeJSON struct {
	ShortName            string                   `json:"shortName" yaml:"shortName"`
	Namespace            string                   `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	BaseTypeName         string                   `json:"baseTypeName,omitempty" yaml:"baseTypeName,omitempty"`
	IsComplexType        bool                     `json:"isComplexType,omitempty" yaml:"isComplexType,omitempty"`
	IsAbstract           bool                     `json:"isAbstract,omitempty" yaml:"isAbstract,omitempty"`
	AutoGeneratedKeyType string                   `json:"autoGeneratedKeyType,omitempty" yaml:"autoGeneratedKeyType,omitempty"`
	DefaultResourceName  string                   `json:"defaultResourceName,omitempty" yaml:"defaultResourceName,omitempty"`
	DataProperties       []dataPropertyJSON       `json:"dataProperties" yaml:"dataProperties"`
	NavigationProperties []navigationPropertyJSON `json:"navigationProperties,omitempty" yaml:"navigationProperties,omitempty"`
	Validators           []map[string]any         `json:"validators,omitempty" yaml:"validators,omitempty"`
	Custom               map[string]any           `json:"custom,omitempty" yaml:"custom,omitempty"`
}

type dataPropertyJSON struct {
	Name            string           `json:"name,omitempty" yaml:"name,omitempty"`
	NameOnServer    string           `json:"nameOnServer,omitempty" yaml:"nameOnServer,omitempty"`
	DataType        string           `json:"dataType,omitempty" yaml:"dataType,omitempty"`
	ComplexTypeName string           `json:"complexTypeName,omitempty" yaml:"complexTypeName,omitempty"`
	IsNullable      *bool            `json:"isNullable,omitempty" yaml:"isNullable,omitempty"`
	IsScalar        *bool            `json:"isScalar,omitempty" yaml:"isScalar,omitempty"`
	DefaultValue    any              `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
	IsPartOfKey     bool             `json:"isPartOfKey,omitempty" yaml:"isPartOfKey,omitempty"`
	IsUnmapped      bool             `json:"isUnmapped,omitempty" yaml:"isUnmapped,omitempty"`
	ConcurrencyMode string           `json:"concurrencyMode,omitempty" yaml:"concurrencyMode,omitempty"`
	MaxLength       int              `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Validators      []map[string]any `json:"validators,omitempty" yaml:"validators,omitempty"`
	DisplayName     string           `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	EnumType        string           `json:"enumType,omitempty" yaml:"enumType,omitempty"`
	RawTypeName     string           `json:"rawTypeName,omitempty" yaml:"rawTypeName,omitempty"`
	Custom          map[string]any   `json:"custom,omitempty" yaml:"custom,omitempty"`
}

type navigationPropertyJSON struct {
	Name                       string           `json:"name,omitempty" yaml:"name,omitempty"`
	NameOnServer               string           `json:"nameOnServer,omitempty" yaml:"nameOnServer,omitempty"`
	EntityTypeName             string           `json:"entityTypeName" yaml:"entityTypeName"`
	IsScalar                   *bool            `json:"isScalar,omitempty" yaml:"isScalar,omitempty"`
	AssociationName            string           `json:"associationName,omitempty" yaml:"associationName,omitempty"`
	ForeignKeyNames            []string         `json:"foreignKeyNames,omitempty" yaml:"foreignKeyNames,omitempty"`
	ForeignKeyNamesOnServer    []string         `json:"foreignKeyNamesOnServer,omitempty" yaml:"foreignKeyNamesOnServer,omitempty"`
	InvForeignKeyNames         []string         `json:"invForeignKeyNames,omitempty" yaml:"invForeignKeyNames,omitempty"`
	InvForeignKeyNamesOnServer []string         `json:"invForeignKeyNamesOnServer,omitempty" yaml:"invForeignKeyNamesOnServer,omitempty"`
	Validators                 []map[string]any `json:"validators,omitempty" yaml:"validators,omitempty"`
	DisplayName                string           `json:"displayName,omitempty" yaml:"displayName,omitempty"`
	Custom                     map[string]any   `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// ExportMetadata serializes the store: naming convention, comparison
// options, data services, types and the resource name map.
func (ms *MetadataStore) ExportMetadata() ([]byte, error) {
	out, err := json.Marshal(ms.metadataDocument())
	if err != nil {
		return nil, fmt.Errorf("tracker: export metadata: %w", err)
	}
	return out, nil
}

// ExportMetadataYAML is ExportMetadata with YAML output and the same keys.
func (ms *MetadataStore) ExportMetadataYAML() ([]byte, error) {
	out, err := yaml.Marshal(ms.metadataDocument())
	if err != nil {
		return nil, fmt.Errorf("tracker: export metadata yaml: %w", err)
	}
	return out, nil
}

func (ms *MetadataStore) metadataDocument() metadataJSON {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	doc := metadataJSON{
		MetadataVersion:       MetadataVersion,
		Name:                  ms.name,
		DataServices:          append([]*DataService(nil), ms.dataServices...),
		StructuralTypes:       make([]structuralTypeJSON, 0, len(ms.typeOrder)),
		ResourceEntityTypeMap: map[string]string{},
	}
	if ms.namingConvention != nil {
		doc.NamingConvention = ms.namingConvention.Name
	}
	if ms.comparison != nil {
		doc.LocalQueryComparisonOptions = ms.comparison.Name
	}
	for _, name := range ms.typeOrder {
		doc.StructuralTypes = append(doc.StructuralTypes, structuralTypeToJSON(ms.types[name]))
	}
	for resource, typeName := range ms.resourceTypes {
		doc.ResourceEntityTypeMap[resource] = typeName
	}
	return doc
}

// ToJSON serializes the type with its locally declared properties.
func (et *EntityType) ToJSON() ([]byte, error) {
	return json.Marshal(structuralTypeToJSON(et))
}

// ToJSON serializes the complex type.
func (ct *ComplexType) ToJSON() ([]byte, error) {
	return json.Marshal(structuralTypeToJSON(ct))
}

func structuralTypeToJSON(stype StructuralType) structuralTypeJSON {
	core := stype.structural()
	out := structuralTypeJSON{
		ShortName:  core.ShortName,
		Namespace:  core.Namespace,
		Validators: validatorsToJSON(core.Validators),
		Custom:     cloneCustom(core.Custom),
	}
	et, isEntity := stype.(*EntityType)
	if !isEntity {
		out.IsComplexType = true
	} else {
		out.BaseTypeName = et.BaseTypeName
		if out.BaseTypeName == "" && et.BaseEntityType != nil {
			out.BaseTypeName = et.BaseEntityType.Name
		}
		out.IsAbstract = et.IsAbstract
		if et.AutoGeneratedKeyType != AutoKeyNone {
			out.AutoGeneratedKeyType = et.AutoGeneratedKeyType.String()
		}
		out.DefaultResourceName = et.DefaultResourceName
		for _, np := range et.NavigationProperties {
			if np.BaseProperty != nil {
				continue
			}
			out.NavigationProperties = append(out.NavigationProperties, navigationPropertyToJSON(np))
		}
	}
	out.DataProperties = make([]dataPropertyJSON, 0, len(core.DataProperties))
	for _, dp := range core.DataProperties {
		if dp.BaseProperty != nil {
			continue
		}
		out.DataProperties = append(out.DataProperties, dataPropertyToJSON(dp))
	}
	return out
}

func dataPropertyToJSON(dp *DataProperty) dataPropertyJSON {
	out := dataPropertyJSON{
		Name:            dp.Name,
		NameOnServer:    dp.NameOnServer,
		ComplexTypeName: dp.ComplexTypeName,
		IsNullable:      Bool(dp.IsNullable),
		IsPartOfKey:     dp.IsPartOfKey,
		IsUnmapped:      dp.IsUnmapped,
		ConcurrencyMode: dp.ConcurrencyMode,
		MaxLength:       dp.MaxLength,
		Validators:      validatorsToJSON(dp.Validators),
		DisplayName:     dp.DisplayName,
		EnumType:        dp.EnumType,
		RawTypeName:     dp.RawTypeName,
		Custom:          cloneCustom(dp.Custom),
	}
	if dp.ComplexTypeName == "" {
		out.DataType = dp.DataType.String()
		out.DefaultValue = dp.DefaultValue
	}
	if !dp.IsScalar {
		out.IsScalar = Bool(false)
	}
	return out
}

func navigationPropertyToJSON(np *NavigationProperty) navigationPropertyJSON {
	out := navigationPropertyJSON{
		Name:                       np.Name,
		NameOnServer:               np.NameOnServer,
		EntityTypeName:             np.EntityTypeName,
		AssociationName:            np.AssociationName,
		ForeignKeyNames:            append([]string(nil), np.ForeignKeyNames...),
		ForeignKeyNamesOnServer:    append([]string(nil), np.ForeignKeyNamesOnServer...),
		InvForeignKeyNames:         append([]string(nil), np.InvForeignKeyNames...),
		InvForeignKeyNamesOnServer: append([]string(nil), np.InvForeignKeyNamesOnServer...),
		Validators:                 validatorsToJSON(np.Validators),
		DisplayName:                np.DisplayName,
		Custom:                     cloneCustom(np.Custom),
	}
	if !np.IsScalar {
		out.IsScalar = Bool(false)
	}
	return out
}

func validatorsToJSON(validators []*Validator) []map[string]any {
	if len(validators) == 0 {
		return nil
	}
	out := make([]map[string]any, len(validators))
	for i, v := range validators {
		out[i] = v.ToJSON()
	}
	return out
}

func validatorsFromJSON(raw []map[string]any) ([]*Validator, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]*Validator, 0, len(raw))
	for _, r := range raw {
		v, err := ValidatorFromJSON(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

var metadataDecoder = hydrate.NewDecoder[metadataJSON](
	hydrate.WithPreHook[metadataJSON](checkMetadataVersion),
)

func checkMetadataVersion(_ hydrate.Context, payload map[string]any) (map[string]any, error) {
	version, _ := payload["metadataVersion"].(string)
	if version != "" && version != MetadataVersion {
		return nil, errorf(ErrMetadataVersion, "Cannot import metadata with a different 'metadataVersion' (%s) than the current 'MetadataVersion' (%s)", version, MetadataVersion)
	}
	return payload, nil
}

// ImportMetadata adds the types, data services and resource names of an
// exported document. Types already in the store are kept; with allowMerge
// their custom blocks are merged with the imported ones and a different
// naming convention or comparison option replaces the current one instead
// of failing.
func (ms *MetadataStore) ImportMetadata(data []byte, allowMerge bool) error {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("tracker: import metadata: %w", err)
	}
	return ms.importMetadataPayload(payload, allowMerge)
}

// ImportMetadataYAML is ImportMetadata for YAML documents.
func (ms *MetadataStore) ImportMetadataYAML(data []byte, allowMerge bool) error {
	var payload map[string]any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("tracker: import metadata yaml: %w", err)
	}
	return ms.importMetadataPayload(payload, allowMerge)
}

func (ms *MetadataStore) importMetadataPayload(payload map[string]any, allowMerge bool) error {
	doc, err := metadataDecoder.Decode(hydrate.Context{Slug: "metadata", Scope: ms.name}, payload)
	if err != nil {
		ms.logger.Log(LogEvent{Kind: LogMetadata, Err: err})
		return err
	}
	ms.mu.Lock()
	err = ms.importMetadata(doc, allowMerge)
	ms.mu.Unlock()
	ms.logger.Log(LogEvent{Kind: LogMetadata, Count: len(doc.StructuralTypes), Err: err, Fields: map[string]any{"store": ms.name}})
	return err
}

func (ms *MetadataStore) importMetadata(doc metadataJSON, allowMerge bool) error {
	if doc.NamingConvention != "" && (ms.namingConvention == nil || ms.namingConvention.Name != doc.NamingConvention) {
		nc, ok := NamingConventionByName(doc.NamingConvention)
		if !ok {
			return errorf(ErrInvalidConfig, "Unable to locate a naming convention named: %s", doc.NamingConvention)
		}
		if !allowMerge && !ms.isEmptyLocked() {
			return errorf(ErrInvalidConfig, "Cannot import metadata with a different 'namingConvention' from the current MetadataStore")
		}
		ms.namingConvention = nc
	}
	if doc.LocalQueryComparisonOptions != "" && (ms.comparison == nil || ms.comparison.Name != doc.LocalQueryComparisonOptions) {
		opts, ok := ComparisonOptionsByName(doc.LocalQueryComparisonOptions)
		if !ok {
			return errorf(ErrInvalidConfig, "Unable to locate a LocalQueryComparisonOptions named: %s", doc.LocalQueryComparisonOptions)
		}
		if !allowMerge && !ms.isEmptyLocked() {
			return errorf(ErrInvalidConfig, "Cannot import metadata with different 'localQueryComparisonOptions' from the current MetadataStore")
		}
		ms.comparison = opts
	}
	if ms.name == "" {
		ms.name = doc.Name
	}
	for _, ds := range doc.DataServices {
		if ds == nil {
			continue
		}
		ds.ServiceName = normalizeServiceName(ds.ServiceName)
		if err := ms.addDataService(ds, true); err != nil {
			return err
		}
	}
	for _, tj := range doc.StructuralTypes {
		if err := ms.importStructuralType(tj, allowMerge); err != nil {
			return err
		}
	}
	if len(ms.deferred) > 0 {
		missing := make([]string, 0, len(ms.deferred))
		for base := range ms.deferred {
			missing = append(missing, base)
		}
		sort.Strings(missing)
		ms.deferred = make(map[string][]deferredType)
		return errorf(ErrTypeNotFound, "Unable to locate base types: %v", missing)
	}
	resources := make([]string, 0, len(doc.ResourceEntityTypeMap))
	for resource := range doc.ResourceEntityTypeMap {
		resources = append(resources, resource)
	}
	sort.Strings(resources)
	for _, resource := range resources {
		ms.setEntityTypeForResourceName(resource, doc.ResourceEntityTypeMap[resource])
	}
	return nil
}

func (ms *MetadataStore) isEmptyLocked() bool { return len(ms.types) == 0 }

func (ms *MetadataStore) importStructuralType(tj structuralTypeJSON, allowMerge bool) error {
	name := QualifyTypeName(tj.ShortName, tj.Namespace)
	if existing := ms.types[name]; existing != nil {
		if allowMerge {
			mergeStructuralType(existing, tj)
		}
		return nil
	}
	stype, err := structuralTypeFromJSON(tj)
	if err != nil {
		return err
	}
	if tj.BaseTypeName != "" && ms.getStructuralType(tj.BaseTypeName) == nil {
		ms.deferred[tj.BaseTypeName] = append(ms.deferred[tj.BaseTypeName], deferredType{json: tj, stype: stype})
		return nil
	}
	return ms.addImportedType(stype)
}

// addImportedType registers stype and then any subtypes that were waiting
// for it as their base type.
func (ms *MetadataStore) addImportedType(stype StructuralType) error {
	if err := ms.addStructuralType(stype); err != nil {
		return err
	}
	core := stype.structural()
	for _, key := range []string{core.Name, core.ShortName} {
		waiting := ms.deferred[key]
		if len(waiting) == 0 {
			continue
		}
		delete(ms.deferred, key)
		for _, d := range waiting {
			if err := ms.addImportedType(d.stype); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeStructuralType layers the imported custom blocks over the existing
// ones, imported values winning.
func mergeStructuralType(stype StructuralType, tj structuralTypeJSON) {
	core := stype.structural()
	if tj.Custom != nil {
		core.Custom = layering.Merge(tj.Custom, core.Custom)
	}
	for _, dj := range tj.DataProperties {
		for _, dp := range core.DataProperties {
			if dj.Custom != nil && (dp.Name == dj.Name || (dj.Name == "" && dp.NameOnServer == dj.NameOnServer)) {
				dp.Custom = layering.Merge(dj.Custom, dp.Custom)
			}
		}
	}
	et, ok := stype.(*EntityType)
	if !ok {
		return
	}
	for _, nj := range tj.NavigationProperties {
		for _, np := range et.NavigationProperties {
			if nj.Custom != nil && (np.Name == nj.Name || (nj.Name == "" && np.NameOnServer == nj.NameOnServer)) {
				np.Custom = layering.Merge(nj.Custom, np.Custom)
			}
		}
	}
}

func structuralTypeFromJSON(tj structuralTypeJSON) (StructuralType, error) {
	validators, err := validatorsFromJSON(tj.Validators)
	if err != nil {
		return nil, err
	}
	dps := make([]*DataProperty, 0, len(tj.DataProperties))
	for _, dj := range tj.DataProperties {
		dp, err := dataPropertyFromJSON(dj)
		if err != nil {
			return nil, err
		}
		dps = append(dps, dp)
	}
	if tj.IsComplexType {
		return NewComplexType(ComplexTypeConfig{
			ShortName:      tj.ShortName,
			Namespace:      tj.Namespace,
			DataProperties: dps,
			Validators:     validators,
			Custom:         tj.Custom,
		})
	}
	keyType, err := ParseAutoGeneratedKeyType(tj.AutoGeneratedKeyType)
	if err != nil {
		return nil, err
	}
	nps := make([]*NavigationProperty, 0, len(tj.NavigationProperties))
	for _, nj := range tj.NavigationProperties {
		npValidators, err := validatorsFromJSON(nj.Validators)
		if err != nil {
			return nil, err
		}
		np, err := NewNavigationProperty(NavigationPropertyConfig{
			Name:                       nj.Name,
			NameOnServer:               nj.NameOnServer,
			DisplayName:                nj.DisplayName,
			EntityTypeName:             nj.EntityTypeName,
			IsScalar:                   nj.IsScalar,
			AssociationName:            nj.AssociationName,
			ForeignKeyNames:            nj.ForeignKeyNames,
			ForeignKeyNamesOnServer:    nj.ForeignKeyNamesOnServer,
			InvForeignKeyNames:         nj.InvForeignKeyNames,
			InvForeignKeyNamesOnServer: nj.InvForeignKeyNamesOnServer,
			Validators:                 npValidators,
			Custom:                     nj.Custom,
		})
		if err != nil {
			return nil, err
		}
		nps = append(nps, np)
	}
	return NewEntityType(EntityTypeConfig{
		ShortName:            tj.ShortName,
		Namespace:            tj.Namespace,
		BaseTypeName:         tj.BaseTypeName,
		IsAbstract:           tj.IsAbstract,
		AutoGeneratedKeyType: keyType,
		DefaultResourceName:  tj.DefaultResourceName,
		DataProperties:       dps,
		NavigationProperties: nps,
		Validators:           validators,
		Custom:               tj.Custom,
	})
}

func dataPropertyFromJSON(dj dataPropertyJSON) (*DataProperty, error) {
	validators, err := validatorsFromJSON(dj.Validators)
	if err != nil {
		return nil, err
	}
	return NewDataProperty(DataPropertyConfig{
		Name:            dj.Name,
		NameOnServer:    dj.NameOnServer,
		DisplayName:     dj.DisplayName,
		DataTypeName:    dj.DataType,
		ComplexTypeName: dj.ComplexTypeName,
		IsNullable:      dj.IsNullable,
		IsScalar:        dj.IsScalar,
		DefaultValue:    dj.DefaultValue,
		IsPartOfKey:     dj.IsPartOfKey,
		IsUnmapped:      dj.IsUnmapped,
		ConcurrencyMode: dj.ConcurrencyMode,
		MaxLength:       dj.MaxLength,
		Validators:      validators,
		EnumType:        dj.EnumType,
		RawTypeName:     dj.RawTypeName,
		Custom:          dj.Custom,
	})
}

// DecodeCustom decodes a custom metadata block into T.
func DecodeCustom[T any](custom map[string]any) (T, error) {
	return hydrate.DecodeCustom[T](custom)
}

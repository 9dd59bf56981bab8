package tracker

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// MetadataFetcher retrieves raw metadata for a data service and imports it
// into store.
type MetadataFetcher interface {
	FetchMetadata(ctx context.Context, store *MetadataStore, ds *DataService) (any, error)
}

// MetadataFetcherFunc adapts a function to MetadataFetcher.
type MetadataFetcherFunc func(ctx context.Context, store *MetadataStore, ds *DataService) (any, error)

// FetchMetadata implements MetadataFetcher.
func (f MetadataFetcherFunc) FetchMetadata(ctx context.Context, store *MetadataStore, ds *DataService) (any, error) {
	return f(ctx, store, ds)
}

// MetadataFetchedArgs is published after a successful FetchMetadata.
type MetadataFetchedArgs struct {
	Store       *MetadataStore
	DataService *DataService
	RawMetadata any
}

type ctorRegistration struct {
	ctor   func(*Instance) Structural
	initFn func(Structural)
}

type deferredType struct {
	json  structuralTypeJSON
	stype StructuralType
}

var nextStoreID atomic.Int64

// MetadataStore is the registry of structural types. Its registries are
// guarded by a RWMutex so one store can be shared by several managers once
// populated.
type MetadataStore struct {
	mu sync.RWMutex

	id                int64
	name              string
	namingConvention  *NamingConvention
	comparison        *LocalQueryComparisonOptions
	autoValidators    bool
	logger            Logger
	dataServices      []*DataService
	types             map[string]StructuralType
	typeOrder         []string
	shortNames        map[string]string
	ctors             map[string]ctorRegistration
	incompleteTypes   map[string][]*NavigationProperty
	incompleteComplex map[string][]*DataProperty
	deferred          map[string][]deferredType
	resourceTypes     map[string]string

	MetadataFetched *Event[MetadataFetchedArgs]
}

// MetadataStoreOption configures NewMetadataStore.
type MetadataStoreOption func(*MetadataStore)

// WithNamingConvention sets the client/server naming convention.
func WithNamingConvention(nc *NamingConvention) MetadataStoreOption {
	return func(ms *MetadataStore) {
		if nc != nil {
			ms.namingConvention = nc
		}
	}
}

// WithComparisonOptions sets the string comparison used by local queries.
func WithComparisonOptions(opts *LocalQueryComparisonOptions) MetadataStoreOption {
	return func(ms *MetadataStore) {
		if opts != nil {
			ms.comparison = opts
		}
	}
}

// WithAutoValidators adds required, maxLength and data type validators to
// data properties when their type is registered.
func WithAutoValidators(enabled bool) MetadataStoreOption {
	return func(ms *MetadataStore) {
		ms.autoValidators = enabled
	}
}

// WithStoreName names the metadata collection.
func WithStoreName(name string) MetadataStoreOption {
	return func(ms *MetadataStore) {
		ms.name = name
	}
}

// WithMetadataLogger records metadata imports and fetches.
func WithMetadataLogger(logger Logger) MetadataStoreOption {
	return func(ms *MetadataStore) {
		ms.logger = logger
	}
}

// NewMetadataStore constructs an empty store.
func NewMetadataStore(opts ...MetadataStoreOption) *MetadataStore {
	ms := &MetadataStore{
		id:                nextStoreID.Add(1),
		namingConvention:  NamingNone,
		comparison:        CaseInsensitiveSQL,
		types:             make(map[string]StructuralType),
		shortNames:        make(map[string]string),
		ctors:             make(map[string]ctorRegistration),
		incompleteTypes:   make(map[string][]*NavigationProperty),
		incompleteComplex: make(map[string][]*DataProperty),
		deferred:          make(map[string][]deferredType),
		resourceTypes:     make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ms)
		}
	}
	ms.logger = loggerOrNoop(ms.logger)
	ms.MetadataFetched = NewEvent[MetadataFetchedArgs]("metadataFetched", ms)
	return ms
}

// Name returns the collection name.
func (ms *MetadataStore) Name() string { return ms.name }

// NamingConvention returns the active naming convention.
func (ms *MetadataStore) NamingConvention() *NamingConvention { return ms.namingConvention }

// ComparisonOptions returns the local query comparison options.
func (ms *MetadataStore) ComparisonOptions() *LocalQueryComparisonOptions { return ms.comparison }

// AddDataService registers ds. An existing service with the same name is an
// error unless overwrite is set.
func (ms *MetadataStore) AddDataService(ds *DataService, overwrite bool) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.addDataService(ds, overwrite)
}

func (ms *MetadataStore) addDataService(ds *DataService, overwrite bool) error {
	if ds == nil {
		return errorf(ErrInvalidConfig, "dataService must not be nil")
	}
	for i, existing := range ms.dataServices {
		if existing.ServiceName == ds.ServiceName {
			if !overwrite {
				return errorf(ErrInvalidConfig, "A dataService with this name '%s' already exists in this MetadataStore", ds.ServiceName)
			}
			ms.dataServices[i] = ds
			return nil
		}
	}
	ms.dataServices = append(ms.dataServices, ds)
	return nil
}

// GetDataService returns the service registered under serviceName.
func (ms *MetadataStore) GetDataService(serviceName string) *DataService {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	name := normalizeServiceName(serviceName)
	for _, ds := range ms.dataServices {
		if ds.ServiceName == name {
			return ds
		}
	}
	return nil
}

// HasMetadataFor reports whether metadata was fetched for serviceName.
func (ms *MetadataStore) HasMetadataFor(serviceName string) bool {
	return ms.GetDataService(serviceName) != nil
}

// AddEntityType registers an *EntityType or *ComplexType. For entity types
// the base type is linked first, then names are derived through the naming
// convention, complex and navigation properties are resolved (or queued
// until their target arrives) and the default resource name is recorded.
// Validation happens before any mutation.
func (ms *MetadataStore) AddEntityType(stype StructuralType) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.addStructuralType(stype)
}

func (ms *MetadataStore) addStructuralType(stype StructuralType) error {
	core := stype.structural()
	et, isEntity := stype.(*EntityType)
	var base *EntityType
	if isEntity {
		if et.BaseTypeName != "" && et.BaseEntityType == nil {
			found, ok := ms.getStructuralType(et.BaseTypeName).(*EntityType)
			if !ok || found == nil {
				return errorf(ErrTypeNotFound, "Unable to locate a 'Type' by the name: '%s'. Be sure to execute a query or call fetchMetadata first.", et.BaseTypeName)
			}
			base = found
		}
		keyCount := len(et.KeyProperties)
		if base != nil {
			keyCount += len(base.KeyProperties)
		}
		if keyCount == 0 && !et.IsAbstract {
			return errorf(ErrNoKeyProperties, "Unable to add %s to this MetadataStore.  An EntityType must have at least one property designated as a key property - See the 'DataProperty.isPartOfKey' property.", et.Name)
		}
	}
	registered := !isEntity || !et.IsAnonymous
	if _, exists := ms.types[core.Name]; exists && registered {
		return errorf(ErrDuplicateType, "Type %s already exists in this MetadataStore.", core.Name)
	}
	if err := ms.checkNames(stype, base); err != nil {
		return err
	}

	if base != nil {
		if err := et.updateFromBase(base); err != nil {
			return err
		}
	}
	core.metadataStore = ms
	if registered {
		ms.types[core.Name] = stype
		ms.typeOrder = append(ms.typeOrder, core.Name)
		ms.shortNames[core.ShortName] = core.Name
	}
	for _, p := range stype.GetProperties() {
		if err := ms.updatePropertyNames(p); err != nil {
			return err
		}
	}
	if ms.autoValidators {
		for _, dp := range core.DataProperties {
			if dp.BaseProperty == nil {
				addAutoValidators(dp)
			}
		}
	}
	ms.updateComplexProperties(stype)
	if reg, ok := ms.ctors[core.Name]; ok {
		core.ctor, core.initFn = reg.ctor, reg.initFn
	} else if reg, ok := ms.ctors[core.ShortName]; ok {
		core.ctor, core.initFn = reg.ctor, reg.initFn
	}
	if !isEntity {
		return nil
	}
	if err := ms.updateNavigationProperties(et); err != nil {
		return err
	}
	resource := et.DefaultResourceName
	if resource == "" && et.BaseEntityType != nil {
		resource = et.BaseEntityType.DefaultResourceName
	}
	if resource != "" {
		if _, taken := ms.resourceTypes[resource]; !taken {
			ms.resourceTypes[resource] = et.Name
		}
	}
	et.DefaultResourceName = resource
	return nil
}

// checkNames runs the naming round-trip for every property without writing
// the derived names.
func (ms *MetadataStore) checkNames(stype StructuralType, base *EntityType) error {
	props := stype.GetProperties()
	if base != nil {
		props = append(props, base.GetProperties()...)
	}
	nc := ms.namingConvention
	for _, p := range props {
		c := p.core()
		client, server := c.Name, c.NameOnServer
		if err := nc.updateClientServerNames(p, &client, &server); err != nil {
			return err
		}
		if np, ok := p.(*NavigationProperty); ok {
			fks, fksServer := np.ForeignKeyNames, np.ForeignKeyNamesOnServer
			if err := nc.updateClientServerNameLists(p, &fks, &fksServer); err != nil {
				return err
			}
			inv, invServer := np.InvForeignKeyNames, np.InvForeignKeyNamesOnServer
			if err := nc.updateClientServerNameLists(p, &inv, &invServer); err != nil {
				return err
			}
		}
	}
	return nil
}

func (ms *MetadataStore) updatePropertyNames(prop StructuralProperty) error {
	nc := ms.namingConvention
	c := prop.core()
	if err := nc.updateClientServerNames(prop, &c.Name, &c.NameOnServer); err != nil {
		return err
	}
	if np, ok := prop.(*NavigationProperty); ok {
		if err := nc.updateClientServerNameLists(prop, &np.ForeignKeyNames, &np.ForeignKeyNamesOnServer); err != nil {
			return err
		}
		if err := nc.updateClientServerNameLists(prop, &np.InvForeignKeyNames, &np.InvForeignKeyNamesOnServer); err != nil {
			return err
		}
	}
	return nil
}

func (ms *MetadataStore) updateComplexProperties(stype StructuralType) {
	core := stype.structural()
	for _, cp := range core.ComplexProperties {
		ms.resolveOrDeferComplexProperty(cp)
	}
	if ct, ok := stype.(*ComplexType); ok {
		for _, cp := range ms.incompleteComplex[ct.Name] {
			cp.ComplexType = ct
			cp.DefaultValue = nil
		}
		delete(ms.incompleteComplex, ct.Name)
	}
}

func (ms *MetadataStore) resolveOrDeferComplexProperty(cp *DataProperty) {
	if cp.ComplexType != nil {
		return
	}
	if !isQualifiedTypeName(cp.ComplexTypeName) {
		if qualified, ok := ms.shortNames[cp.ComplexTypeName]; ok {
			cp.ComplexTypeName = qualified
		}
	}
	if ct, ok := ms.getStructuralType(cp.ComplexTypeName).(*ComplexType); ok && ct != nil {
		cp.ComplexType = ct
		cp.DefaultValue = nil
		return
	}
	ms.incompleteComplex[cp.ComplexTypeName] = appendUniqueDataProperty(ms.incompleteComplex[cp.ComplexTypeName], cp)
}

func (ms *MetadataStore) updateNavigationProperties(et *EntityType) error {
	for _, np := range et.NavigationProperties {
		if _, err := ms.tryResolveNavigationProperty(np); err != nil {
			return err
		}
	}
	for _, np := range ms.incompleteTypes[et.Name] {
		if _, err := ms.tryResolveNavigationProperty(np); err != nil {
			return err
		}
	}
	delete(ms.incompleteTypes, et.Name)
	return nil
}

func (ms *MetadataStore) tryResolveNavigationProperty(np *NavigationProperty) (bool, error) {
	if np.EntityType != nil {
		return true, nil
	}
	target, ok := ms.getStructuralType(np.EntityTypeName).(*EntityType)
	if !ok || target == nil {
		pending := ms.incompleteTypes[np.EntityTypeName]
		for _, existing := range pending {
			if existing == np {
				return false, nil
			}
		}
		ms.incompleteTypes[np.EntityTypeName] = append(pending, np)
		return false, nil
	}
	np.EntityType = target
	return true, np.resolve()
}

// GetEntityType returns the entity type with the given short or qualified
// name.
func (ms *MetadataStore) GetEntityType(name string) (*EntityType, error) {
	st, err := ms.GetStructuralType(name)
	if err != nil {
		return nil, err
	}
	et, ok := st.(*EntityType)
	if !ok {
		return nil, errorf(ErrTypeNotFound, "%s is a ComplexType, not an EntityType", name)
	}
	return et, nil
}

// GetComplexType returns the complex type with the given name.
func (ms *MetadataStore) GetComplexType(name string) (*ComplexType, error) {
	st, err := ms.GetStructuralType(name)
	if err != nil {
		return nil, err
	}
	ct, ok := st.(*ComplexType)
	if !ok {
		return nil, errorf(ErrTypeNotFound, "%s is an EntityType, not a ComplexType", name)
	}
	return ct, nil
}

// GetStructuralType returns the entity or complex type with the given name.
func (ms *MetadataStore) GetStructuralType(name string) (StructuralType, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if st := ms.getStructuralType(name); st != nil {
		return st, nil
	}
	return nil, errorf(ErrTypeNotFound, "Unable to locate a 'Type' by the name: '%s'. Be sure to execute a query or call fetchMetadata first.", name)
}

// LookupStructuralType is GetStructuralType returning nil when not found.
func (ms *MetadataStore) LookupStructuralType(name string) StructuralType {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.getStructuralType(name)
}

func (ms *MetadataStore) getStructuralType(name string) StructuralType {
	qualified := ms.qualifiedTypeName(name)
	if qualified == "" {
		return nil
	}
	return ms.types[qualified]
}

func (ms *MetadataStore) qualifiedTypeName(name string) string {
	if isQualifiedTypeName(name) {
		return name
	}
	if qualified, ok := ms.shortNames[name]; ok {
		return qualified
	}
	if _, ok := ms.types[name]; ok {
		return name
	}
	return ""
}

// GetEntityTypes returns every registered type in registration order.
func (ms *MetadataStore) GetEntityTypes() []StructuralType {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]StructuralType, 0, len(ms.typeOrder))
	for _, name := range ms.typeOrder {
		out = append(out, ms.types[name])
	}
	return out
}

// IsEmpty reports whether no types are registered.
func (ms *MetadataStore) IsEmpty() bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.types) == 0
}

// GetIncompleteNavigationProperties returns the navigation properties whose
// target type has not been registered, grouped by target type name.
func (ms *MetadataStore) GetIncompleteNavigationProperties() [][]*NavigationProperty {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	names := make([]string, 0, len(ms.incompleteTypes))
	for name := range ms.incompleteTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([][]*NavigationProperty, 0, len(names))
	for _, name := range names {
		out = append(out, append([]*NavigationProperty(nil), ms.incompleteTypes[name]...))
	}
	return out
}

// ResolveIncomplete retries every pending navigation property and returns an
// *UnresolvedNavigationError listing those still unresolved.
func (ms *MetadataStore) ResolveIncomplete() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var unresolved []*NavigationProperty
	for name, nps := range ms.incompleteTypes {
		var still []*NavigationProperty
		for _, np := range nps {
			ok, err := ms.tryResolveNavigationProperty(np)
			if err != nil {
				return err
			}
			if !ok {
				still = append(still, np)
			}
		}
		if len(still) == 0 {
			delete(ms.incompleteTypes, name)
			continue
		}
		ms.incompleteTypes[name] = still
		unresolved = append(unresolved, still...)
	}
	return newUnresolvedNavigationError(unresolved)
}

// GetEntityTypeNameForResourceName returns the qualified type name mapped to
// resourceName.
func (ms *MetadataStore) GetEntityTypeNameForResourceName(resourceName string) (string, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	name, ok := ms.resourceTypes[resourceName]
	return name, ok
}

// SetEntityTypeForResourceName maps resourceName to a type and gives the type
// that resource name as its default when it has none.
func (ms *MetadataStore) SetEntityTypeForResourceName(resourceName, typeName string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.setEntityTypeForResourceName(resourceName, typeName)
}

func (ms *MetadataStore) setEntityTypeForResourceName(resourceName, typeName string) {
	qualified := ms.qualifiedTypeName(typeName)
	if qualified == "" {
		qualified = typeName
	}
	ms.resourceTypes[resourceName] = qualified
	if et, ok := ms.types[qualified].(*EntityType); ok && et.DefaultResourceName == "" {
		et.DefaultResourceName = resourceName
	}
}

// RegisterEntityTypeCtor registers the constructor and initializer used when
// instances of typeName are created. It may be called before or after the
// type is registered.
func (ms *MetadataStore) RegisterEntityTypeCtor(typeName string, ctor func(*Instance) Structural, initFn func(Structural)) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	name := ms.qualifiedTypeName(typeName)
	if name == "" {
		name = typeName
	}
	ms.ctors[name] = ctorRegistration{ctor: ctor, initFn: initFn}
	if st, ok := ms.types[name]; ok {
		core := st.structural()
		core.ctor, core.initFn = ctor, initFn
	}
}

// FetchMetadata retrieves metadata for ds through fetcher once per service
// and publishes MetadataFetched.
func (ms *MetadataStore) FetchMetadata(ctx context.Context, ds *DataService, fetcher MetadataFetcher) (any, error) {
	if fetcher == nil {
		return nil, ErrNoMetadataFetcher
	}
	if ds == nil {
		return nil, errorf(ErrInvalidConfig, "Unable to resolve a 'serviceName' for this dataService")
	}
	if ms.HasMetadataFor(ds.ServiceName) {
		return nil, errorf(ErrInvalidConfig, "Metadata for a specific serviceName may only be fetched once per MetadataStore. ServiceName: %s", ds.ServiceName)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := fetcher.FetchMetadata(ctx, ms, ds)
	ms.logger.Log(LogEvent{Kind: LogMetadata, Err: err, Fields: map[string]any{"service": ds.ServiceName}})
	if err != nil {
		return nil, err
	}
	if !ms.HasMetadataFor(ds.ServiceName) {
		if err := ms.AddDataService(ds, true); err != nil {
			return nil, err
		}
	}
	ms.MetadataFetched.Publish(MetadataFetchedArgs{Store: ms, DataService: ds, RawMetadata: raw})
	return raw, nil
}

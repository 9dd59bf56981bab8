package tracker

import (
	"github.com/goliatone/go-tracker/pkg/activity"
)

// EntityChangedArgs is published by EntityManager.EntityChanged. Args holds
// the PropertyChangedArgs of a PropertyChange action.
type EntityChangedArgs struct {
	Action EntityAction
	Entity Entity
	Args   any
}

// HasChangesChangedArgs is published when the manager gains its first
// pending change or loses its last one.
type HasChangesChangedArgs struct {
	Manager    *EntityManager
	HasChanges bool
}

// ValidationOptions selects when entities are validated automatically.
type ValidationOptions struct {
	ValidateOnAttach         bool
	ValidateOnSave           bool
	ValidateOnQuery          bool
	ValidateOnPropertyChange bool
}

// DefaultValidationOptions validates on attach, save and property change.
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		ValidateOnAttach:         true,
		ValidateOnSave:           true,
		ValidateOnPropertyChange: true,
	}
}

// ManagerOption configures NewEntityManager.
type ManagerOption func(*EntityManager)

// WithValidationOptions replaces the default validation options.
func WithValidationOptions(opts ValidationOptions) ManagerOption {
	return func(em *EntityManager) { em.validationOptions = opts }
}

// WithQueryOptions sets the options used by ExecuteQuery when a query does
// not carry its own.
func WithQueryOptions(opts QueryOptions) ManagerOption {
	return func(em *EntityManager) { em.queryOptions = opts }
}

// WithKeyGenerator installs the temporary key generator factory.
func WithKeyGenerator(factory KeyGeneratorFactory) ManagerOption {
	return func(em *EntityManager) {
		if factory != nil {
			em.keyGeneratorFactory = factory
		}
	}
}

// WithQueryProvider sets the provider ExecuteQuery fetches rows from.
func WithQueryProvider(p QueryProvider) ManagerOption {
	return func(em *EntityManager) { em.queryProvider = p }
}

// WithSaveProvider sets the provider SaveChanges sends bundles to.
func WithSaveProvider(p SaveProvider) ManagerOption {
	return func(em *EntityManager) { em.saveProvider = p }
}

// WithDataService sets the data service passed to providers.
func WithDataService(ds *DataService) ManagerOption {
	return func(em *EntityManager) { em.dataService = ds }
}

// WithManagerLogger routes manager events to logger.
func WithManagerLogger(logger Logger) ManagerOption {
	return func(em *EntityManager) { em.logger = loggerOrNoop(logger) }
}

// EntityManager is the cache of attached entities. It is not safe for
// concurrent use; share the MetadataStore instead.
type EntityManager struct {
	metadataStore *MetadataStore
	dataService   *DataService

	groups     map[string]*EntityGroup
	groupOrder []string
	unattached *UnattachedChildrenMap

	pendingPubs        []func()
	isLoading          bool
	isRejectingChanges bool
	inKeyFixup         bool
	hasChanges         bool
	hasChangesPending  bool

	validationOptions   ValidationOptions
	queryOptions        QueryOptions
	keyGeneratorFactory KeyGeneratorFactory
	keyGenerator        KeyGenerator
	queryProvider       QueryProvider
	saveProvider        SaveProvider
	logger              Logger

	activityEmitter  *activity.Emitter
	activityIdentity activity.Identity

	EntityChanged           *Event[EntityChangedArgs]
	ValidationErrorsChanged *Event[ValidationErrorsChangedArgs]
	HasChangesChanged       *Event[HasChangesChangedArgs]
}

// NewEntityManager returns an empty manager over store. A nil store gets a
// fresh MetadataStore.
func NewEntityManager(store *MetadataStore, opts ...ManagerOption) *EntityManager {
	if store == nil {
		store = NewMetadataStore()
	}
	em := &EntityManager{
		metadataStore:       store,
		groups:              map[string]*EntityGroup{},
		unattached:          NewUnattachedChildrenMap(),
		validationOptions:   DefaultValidationOptions(),
		queryOptions:        DefaultQueryOptions(),
		keyGeneratorFactory: NewDefaultKeyGenerator,
		logger:              noopLogger{},
	}
	em.EntityChanged = NewEvent[EntityChangedArgs]("entityChanged", em)
	em.ValidationErrorsChanged = NewEvent[ValidationErrorsChangedArgs]("validationErrorsChanged", em)
	em.HasChangesChanged = NewEvent[HasChangesChangedArgs]("hasChangesChanged", em)
	for _, opt := range opts {
		if opt != nil {
			opt(em)
		}
	}
	em.keyGenerator = em.keyGeneratorFactory()
	if em.activityEmitter.Enabled() {
		em.EntityChanged.Subscribe(em.emitEntityActivity)
	}
	return em
}

// MetadataStore returns the store the manager resolves types from.
func (em *EntityManager) MetadataStore() *MetadataStore { return em.metadataStore }

// DataService returns the configured data service, possibly nil.
func (em *EntityManager) DataService() *DataService { return em.dataService }

// ValidationOptions returns the current validation options.
func (em *EntityManager) ValidationOptions() ValidationOptions { return em.validationOptions }

// SetValidationOptions replaces the validation options.
func (em *EntityManager) SetValidationOptions(opts ValidationOptions) { em.validationOptions = opts }

// QueryOptions returns the default query options.
func (em *EntityManager) QueryOptions() QueryOptions { return em.queryOptions }

// KeyGenerator returns the current temporary key generator.
func (em *EntityManager) KeyGenerator() KeyGenerator { return em.keyGenerator }

// CreateEntity builds an entity of typeName from values and attaches it in
// state. A Detached state returns the entity unattached.
func (em *EntityManager) CreateEntity(typeName string, values map[string]any, state EntityState) (Entity, error) {
	et, err := em.metadataStore.GetEntityType(typeName)
	if err != nil {
		return nil, err
	}
	entity, err := et.CreateEntity(values)
	if err != nil {
		return nil, err
	}
	if state.IsDetached() {
		return entity, nil
	}
	return em.AttachEntity(entity, state, MergeDisallowed)
}

// AddEntity attaches entity as Added.
func (em *EntityManager) AddEntity(entity Entity) (Entity, error) {
	return em.AttachEntity(entity, StateAdded, MergeDisallowed)
}

// AttachEntity attaches entity and every detached entity reachable through
// its navigation properties. When an entity with the same key is cached the
// strategy decides the outcome and the cached entity is returned.
func (em *EntityManager) AttachEntity(entity Entity, state EntityState, strategy MergeStrategy) (Entity, error) {
	if entity == nil {
		return nil, errorf(ErrInvalidConfig, "cannot attach a nil entity")
	}
	if state.IsDetached() {
		state = StateUnchanged
	}
	et := entity.EntityType()
	if store := et.MetadataStore(); store != nil && store != em.metadataStore {
		return nil, errorf(ErrInvalidConfig, "Cannot attach this entity because the EntityType (%s) and MetadataStore associated with this entity does not match this EntityManager's MetadataStore.", et.Name)
	}
	aspect := entity.EntityAspect()
	if aspect.manager == em {
		return entity, nil
	}
	if aspect.manager != nil {
		return nil, errorf(ErrOtherManager, "This entity already belongs to another EntityManager")
	}

	var attached Entity
	err := using(&em.isLoading, true, func() error {
		if state.IsAdded() {
			if err := em.checkEntityKey(entity); err != nil {
				return err
			}
		}
		var err error
		attached, err = em.attachEntityCore(entity, state, strategy)
		if err != nil {
			return err
		}
		return em.attachRelatedEntities(attached, state, strategy)
	})
	if err != nil {
		return nil, err
	}
	if em.validationOptions.ValidateOnAttach {
		attached.EntityAspect().ValidateEntity()
	}
	if !state.IsUnchanged() {
		em.notifyStateChange(attached, true)
	}
	em.EntityChanged.Publish(EntityChangedArgs{Action: ActionAttach, Entity: attached})
	return attached, nil
}

func (em *EntityManager) attachEntityCore(entity Entity, state EntityState, strategy MergeStrategy) (Entity, error) {
	group := em.findOrCreateEntityGroup(entity.EntityType())
	attached, err := group.attachEntity(entity, state, strategy)
	if err != nil {
		return nil, err
	}
	if err := em.linkRelatedEntities(attached); err != nil {
		return nil, err
	}
	return attached, nil
}

func (em *EntityManager) attachRelatedEntities(entity Entity, state EntityState, strategy MergeStrategy) error {
	for _, np := range entity.EntityType().NavigationProperties {
		if np.IsScalar {
			related, _ := entity.GetProperty(np.Name).(Entity)
			if related == nil {
				continue
			}
			if _, err := em.AttachEntity(related, state, strategy); err != nil {
				return err
			}
			continue
		}
		children := entity.backing().relationArray(np)
		if children == nil {
			continue
		}
		for _, child := range children.Items() {
			if _, err := em.AttachEntity(child, state, strategy); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkEntityKey generates a temporary key for an added entity whose key is
// still the default value. Without a key generator strategy a fully default
// key is an error.
func (em *EntityManager) checkEntityKey(entity Entity) error {
	et := entity.EntityType()
	defaults := 0
	for _, kp := range et.KeyProperties {
		value := entity.GetProperty(kp.Name)
		if value == nil || sameValue(kp.DataType, value, kp.DefaultValue) {
			defaults++
		}
	}
	if defaults == 0 {
		return nil
	}
	if et.AutoGeneratedKeyType != AutoKeyNone {
		_, err := em.GenerateTempKey(entity)
		return err
	}
	if defaults == len(et.KeyProperties) {
		return errorf(ErrInvalidConfig, "Cannot attach an object of type (%s) to an EntityManager without first setting its key or setting its entityType 'AutoGeneratedKeyType' property to something other than 'None'", et.Name)
	}
	return nil
}

// GenerateTempKey assigns a temporary key value to entity's single key
// property.
func (em *EntityManager) GenerateTempKey(entity Entity) (any, error) {
	et := entity.EntityType()
	value, err := em.keyGenerator.GenerateTempKeyValue(et)
	if err != nil {
		return nil, err
	}
	if err := entity.SetProperty(et.KeyProperties[0].Name, value); err != nil {
		return nil, err
	}
	entity.EntityAspect().hasTempKey = true
	return value, nil
}

// DetachEntity removes entity from the manager. It reports false when the
// entity was not attached.
func (em *EntityManager) DetachEntity(entity Entity) (bool, error) {
	aspect := entity.EntityAspect()
	if aspect.manager == nil {
		return false, nil
	}
	if aspect.manager != em {
		return false, errorf(ErrOtherManager, "This entity does not belong to this EntityManager.")
	}
	return aspect.SetDetached()
}

// GetEntities returns the attached entities of types and their subtypes in
// any of states. No types means every type; no states means every attached
// entity.
func (em *EntityManager) GetEntities(types []*EntityType, states ...EntityState) []Entity {
	var out []Entity
	for _, g := range em.entityGroups(types) {
		out = append(out, g.getEntities(states...)...)
	}
	return out
}

// GetChanges returns the Added, Modified and Deleted entities of types.
func (em *EntityManager) GetChanges(types ...*EntityType) []Entity {
	return em.GetEntities(types, StateAdded, StateModified, StateDeleted)
}

// HasChanges reports whether any entity of types has pending changes.
func (em *EntityManager) HasChanges(types ...*EntityType) bool {
	if !em.hasChanges {
		return false
	}
	if len(types) == 0 {
		return true
	}
	return em.hasChangesCore(types)
}

func (em *EntityManager) hasChangesCore(types []*EntityType) bool {
	for _, g := range em.entityGroups(types) {
		if g.hasChanges() {
			return true
		}
	}
	return false
}

// GetEntityByKey returns the cached entity of typeName with the given key
// values, nil when it is not cached.
func (em *EntityManager) GetEntityByKey(typeName string, values ...any) (Entity, error) {
	et, err := em.metadataStore.GetEntityType(typeName)
	if err != nil {
		return nil, err
	}
	return em.FindEntityByKey(NewEntityKey(et, values...)), nil
}

// FindEntityByKey returns the cached entity for key, searching the
// non-abstract subtypes of the key type, or nil.
func (em *EntityManager) FindEntityByKey(key EntityKey) Entity {
	if key.IsZero() {
		return nil
	}
	if subtypes := key.Subtypes(); len(subtypes) > 0 {
		for _, st := range subtypes {
			if g := em.findEntityGroup(st); g != nil {
				if e := g.findEntityByKey(key); e != nil {
					return e
				}
			}
		}
		return nil
	}
	if g := em.findEntityGroup(key.EntityType()); g != nil {
		return g.findEntityByKey(key)
	}
	return nil
}

// AcceptChanges accepts the pending changes of every changed entity.
func (em *EntityManager) AcceptChanges() error {
	for _, e := range em.GetChanges() {
		if err := e.EntityAspect().AcceptChanges(); err != nil {
			return err
		}
	}
	return nil
}

// RejectChanges rejects every pending change and returns the entities that
// were changed.
func (em *EntityManager) RejectChanges() ([]Entity, error) {
	if !em.hasChanges {
		return nil, nil
	}
	changes := em.GetChanges()
	em.hasChanges = false
	for _, e := range changes {
		if err := e.EntityAspect().RejectChanges(); err != nil {
			em.setHasChanges(em.hasChangesCore(nil))
			return changes, err
		}
	}
	em.hasChangesPending = false
	em.HasChangesChanged.Publish(HasChangesChangedArgs{Manager: em, HasChanges: false})
	return changes, nil
}

// Clear detaches every entity and resets the key generator.
func (em *EntityManager) Clear() {
	for _, name := range em.groupOrder {
		em.groups[name].clear()
	}
	em.groups = map[string]*EntityGroup{}
	em.groupOrder = nil
	em.unattached = NewUnattachedChildrenMap()
	em.keyGenerator = em.keyGeneratorFactory()
	em.EntityChanged.Publish(EntityChangedArgs{Action: ActionClear})
	if em.hasChanges {
		em.setHasChanges(false)
	}
}

// notifyStateChange tracks whether the manager has changes and publishes an
// EntityStateChange action. Recomputing after a change is dropped is
// deferred while loading.
func (em *EntityManager) notifyStateChange(entity Entity, needsSave bool) {
	if needsSave {
		if !em.hasChanges {
			em.setHasChanges(true)
		}
	} else if em.hasChanges {
		if em.isLoading {
			em.hasChangesPending = true
		} else {
			em.setHasChanges(em.hasChangesCore(nil))
		}
	}
	em.EntityChanged.Publish(EntityChangedArgs{Action: ActionEntityStateChange, Entity: entity})
}

func (em *EntityManager) setHasChanges(hasChanges bool) {
	had := em.hasChanges
	em.hasChanges = hasChanges
	em.hasChangesPending = false
	if had != hasChanges {
		em.HasChangesChanged.Publish(HasChangesChangedArgs{Manager: em, HasChanges: hasChanges})
	}
}

func (em *EntityManager) flushHasChanges() {
	if em.hasChangesPending {
		em.setHasChanges(em.hasChangesCore(nil))
	}
}

// batch queues array change publications while fn runs and flushes them
// afterwards, one per changed array.
func (em *EntityManager) batch(fn func() error) error {
	if em.pendingPubs != nil {
		return fn()
	}
	em.pendingPubs = []func(){}
	defer func() {
		pubs := em.pendingPubs
		em.pendingPubs = nil
		for _, publish := range pubs {
			publish()
		}
	}()
	return fn()
}

// linkRelatedEntities connects entity to cached parents and children and
// drains the children waiting on it in the unattached-children map. Entity
// states do not change.
func (em *EntityManager) linkRelatedEntities(entity Entity) error {
	return using(&em.isLoading, true, func() error {
		aspect := entity.EntityAspect()
		key := aspect.GetKey()

		keyString, tuples := em.unattached.lookup(key)
		for _, tpl := range append([]*NavTuple(nil), tuples...) {
			if err := em.attachWaitingChildren(entity, tpl); err != nil {
				return err
			}
			em.unattached.RemoveChildren(keyString, tpl.NavigationProperty)
		}

		for _, np := range entity.EntityType().NavigationProperties {
			if np.IsScalar && entity.GetProperty(np.Name) != nil {
				continue
			}
			parentKey, isChild := aspect.GetParentKey(np)
			if !isChild || parentKey.IsEmpty() {
				continue
			}
			if parent := em.FindEntityByKey(parentKey); parent != nil {
				if err := entity.SetProperty(np.Name, parent); err != nil {
					return err
				}
				continue
			}
			em.unattached.AddChild(parentKey, np, entity)
		}

		for _, fk := range entity.EntityType().ForeignKeyProperties {
			invNp := fk.InverseNavigationProperty
			if invNp == nil || invNp.parentType == nil {
				continue
			}
			fkValue := entity.GetProperty(fk.Name)
			if fkValue == nil {
				continue
			}
			parentKey := NewEntityKey(invNp.parentType, fkValue)
			parent := em.FindEntityByKey(parentKey)
			if parent == nil {
				em.unattached.AddChild(parentKey, invNp, entity)
				continue
			}
			if invNp.IsScalar {
				if err := parent.SetProperty(invNp.Name, entity); err != nil {
					return err
				}
				continue
			}
			if siblings := parent.backing().relationArray(invNp); siblings != nil {
				if err := siblings.Add(entity); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (em *EntityManager) attachWaitingChildren(parent Entity, tpl *NavTuple) error {
	var children []Entity
	for _, child := range tpl.Children {
		if !child.EntityAspect().state.IsDetached() {
			children = append(children, child)
		}
	}
	if len(children) == 0 {
		return nil
	}
	np := tpl.NavigationProperty
	if inverse := np.Inverse; inverse != nil {
		if inverse.IsScalar {
			only := children[0]
			if err := parent.SetProperty(inverse.Name, only); err != nil {
				return err
			}
			return only.SetProperty(np.Name, parent)
		}
		current := parent.backing().relationArray(inverse)
		for _, child := range children {
			if current != nil {
				if err := current.Add(child); err != nil {
					return err
				}
			}
			if err := child.SetProperty(np.Name, parent); err != nil {
				return err
			}
		}
		return nil
	}
	if np.IsScalar {
		for _, child := range children {
			if err := child.SetProperty(np.Name, parent); err != nil {
				return err
			}
		}
		return nil
	}
	if current := parent.backing().relationArray(np); current != nil {
		return current.Add(children...)
	}
	return nil
}

func (em *EntityManager) findEntityGroup(et *EntityType) *EntityGroup {
	if et == nil {
		return nil
	}
	return em.groups[et.Name]
}

func (em *EntityManager) findOrCreateEntityGroup(et *EntityType) *EntityGroup {
	if g := em.findEntityGroup(et); g != nil {
		return g
	}
	g := newEntityGroup(em, et)
	em.groups[et.Name] = g
	em.groupOrder = append(em.groupOrder, et.Name)
	return g
}

// entityGroups returns the groups of types and their subtypes in creation
// order, or every group.
func (em *EntityManager) entityGroups(types []*EntityType) []*EntityGroup {
	var wanted map[string]bool
	if len(types) > 0 {
		wanted = map[string]bool{}
		for _, et := range types {
			if et == nil {
				continue
			}
			for _, st := range et.GetSelfAndSubtypes() {
				wanted[st.Name] = true
			}
		}
	}
	out := make([]*EntityGroup, 0, len(em.groupOrder))
	for _, name := range em.groupOrder {
		if wanted == nil || wanted[name] {
			out = append(out, em.groups[name])
		}
	}
	return out
}

func (em *EntityManager) logTransition(entity Entity, from, to EntityState) {
	em.logger.Log(LogEvent{
		Kind:       LogTransition,
		EntityType: entity.EntityType().Name,
		Key:        entity.EntityAspect().GetKey().String(),
		From:       from,
		To:         to,
	})
}

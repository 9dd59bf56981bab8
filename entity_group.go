package tracker

// EntityGroup holds the attached entities of one entity type, indexed by key.
// Detached slots are reused by later attaches.
type EntityGroup struct {
	manager      *EntityManager
	entityType   *EntityType
	entities     []Entity
	indexMap     map[string]int
	emptyIndexes []int
}

func newEntityGroup(em *EntityManager, et *EntityType) *EntityGroup {
	return &EntityGroup{
		manager:    em,
		entityType: et,
		indexMap:   map[string]int{},
	}
}

// EntityType returns the type of the entities in the group.
func (g *EntityGroup) EntityType() *EntityType { return g.entityType }

// EntityManager returns the owning manager.
func (g *EntityGroup) EntityManager() *EntityManager { return g.manager }

// Len returns the number of attached entities.
func (g *EntityGroup) Len() int { return len(g.indexMap) }

// attachEntity adds entity to the group in state. When an entity with the
// same key is already attached the strategy decides whether its values are
// overwritten; the cached entity is returned in that case.
func (g *EntityGroup) attachEntity(entity Entity, state EntityState, strategy MergeStrategy) (Entity, error) {
	aspect := entity.EntityAspect()
	if !aspect.initialized {
		entity.backing().initialize()
	}
	key := aspect.GetKey()
	if ix, ok := g.indexMap[key.keyInGroup]; ok {
		target := g.entities[ix]
		targetAspect := target.EntityAspect()
		wasUnchanged := targetAspect.state.IsUnchanged()
		switch {
		case target == entity:
			aspect.state = state
		case strategy == MergeDisallowed:
			return nil, errorf(ErrKeyConflict, "A MergeStrategy of 'Disallowed' does not allow you to attach an entity when an entity with the same key is already attached: %s", key)
		case strategy == MergeOverwriteChanges || (strategy == MergePreserveChanges && wasUnchanged):
			if err := updateTargetFromRaw(target.backing(), snapshotValues(entity), (*DataProperty).rawValueFromClient); err != nil {
				return nil, err
			}
			if _, err := targetAspect.SetEntityState(state); err != nil {
				return nil, err
			}
		}
		return target, nil
	}
	var ix int
	if n := len(g.emptyIndexes); n > 0 {
		ix = g.emptyIndexes[n-1]
		g.emptyIndexes = g.emptyIndexes[:n-1]
		g.entities[ix] = entity
	} else {
		ix = len(g.entities)
		g.entities = append(g.entities, entity)
	}
	g.indexMap[key.keyInGroup] = ix
	aspect.state = state
	aspect.group = g
	aspect.manager = g.manager
	return entity, nil
}

// detachEntity frees the slot of entity. It reports false when the entity
// is not in the group.
func (g *EntityGroup) detachEntity(entity Entity) bool {
	key := entity.EntityAspect().GetKey()
	ix, ok := g.indexMap[key.keyInGroup]
	if !ok || g.entities[ix] != entity {
		return false
	}
	g.entities[ix] = nil
	g.emptyIndexes = append(g.emptyIndexes, ix)
	delete(g.indexMap, key.keyInGroup)
	return true
}

// replaceKey moves the index entry of oldKey to newKey.
func (g *EntityGroup) replaceKey(oldKey, newKey EntityKey) {
	ix, ok := g.indexMap[oldKey.keyInGroup]
	if !ok {
		return
	}
	delete(g.indexMap, oldKey.keyInGroup)
	g.indexMap[newKey.keyInGroup] = ix
}

// fixupKey replaces the temporary single-part key of an entity with the
// value assigned by the server. Dependent foreign keys follow through the
// property interceptor.
func (g *EntityGroup) fixupKey(tempKey EntityKey, realValue any) (Entity, error) {
	ix, ok := g.indexMap[tempKey.keyInGroup]
	if !ok {
		return nil, errorf(ErrKeyConflict, "Internal Error in key fixup - unable to locate entity %s", tempKey)
	}
	entity := g.entities[ix]
	keyProp := g.entityType.KeyProperties[0]
	if err := entity.SetProperty(keyProp.Name, realValue); err != nil {
		return nil, err
	}
	aspect := entity.EntityAspect()
	aspect.hasTempKey = false
	newKey := aspect.GetKey(true)
	if _, moved := g.indexMap[newKey.keyInGroup]; !moved {
		delete(g.indexMap, tempKey.keyInGroup)
		g.indexMap[newKey.keyInGroup] = ix
	}
	return entity, nil
}

// findEntityByKey returns the entity stored under key, or nil.
func (g *EntityGroup) findEntityByKey(key EntityKey) Entity {
	ix, ok := g.indexMap[key.keyInGroup]
	if !ok {
		return nil
	}
	return g.entities[ix]
}

// getEntities returns the attached entities in any of states, or every
// attached entity when no state is given.
func (g *EntityGroup) getEntities(states ...EntityState) []Entity {
	out := make([]Entity, 0, len(g.indexMap))
	for _, e := range g.entities {
		if e == nil {
			continue
		}
		if len(states) > 0 && !hasState(states, e.EntityAspect().state) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (g *EntityGroup) getChanges() []Entity {
	return g.getEntities(StateAdded, StateModified, StateDeleted)
}

func (g *EntityGroup) hasChanges() bool {
	for _, e := range g.entities {
		if e != nil && e.EntityAspect().state.IsAddedModifiedOrDeleted() {
			return true
		}
	}
	return false
}

// clear detaches every entity without touching relations.
func (g *EntityGroup) clear() {
	for _, e := range g.entities {
		if e != nil {
			e.EntityAspect().detach()
		}
	}
	g.entities = nil
	g.indexMap = map[string]int{}
	g.emptyIndexes = nil
}

func hasState(states []EntityState, s EntityState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

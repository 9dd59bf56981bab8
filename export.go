package tracker

import (
	"encoding/json"
	"fmt"
	"sort"
)

type exportedAspect struct {
	EntityState    EntityState    `json:"entityState"`
	OriginalValues map[string]any `json:"originalValues,omitempty"`
	ExtraMetadata  map[string]any `json:"extraMetadata,omitempty"`
	HasTempKey     bool           `json:"hasTempKey,omitempty"`
}

type exportedEntity struct {
	Values       map[string]any `json:"values"`
	EntityAspect exportedAspect `json:"entityAspect"`
}

type exportedGroup struct {
	Entities []exportedEntity `json:"entities"`
}

type exportedCache struct {
	MetadataVersion string                   `json:"metadataVersion"`
	TempKeys        []entityKeyJSON          `json:"tempKeys,omitempty"`
	EntityGroupMap  map[string]exportedGroup `json:"entityGroupMap"`
}

// tempKeyRegistrar is implemented by key generators that can adopt keys
// generated elsewhere.
type tempKeyRegistrar interface {
	RegisterTempKey(key EntityKey)
}

// ExportEntities serializes entities, or every attached entity when none are
// given, with their states, original values and temporary keys.
func (em *EntityManager) ExportEntities(entities ...Entity) ([]byte, error) {
	if len(entities) == 0 {
		entities = em.GetEntities(nil)
	}
	doc := exportedCache{
		MetadataVersion: MetadataVersion,
		EntityGroupMap:  map[string]exportedGroup{},
	}
	for _, e := range entities {
		aspect := e.EntityAspect()
		if aspect.manager != em {
			return nil, errorf(ErrOtherManager, "Entities being exported must all belong to this EntityManager")
		}
		name := e.EntityType().Name
		group := doc.EntityGroupMap[name]
		exp := exportedEntity{
			Values: snapshotValues(e),
			EntityAspect: exportedAspect{
				EntityState:   aspect.state,
				ExtraMetadata: cloneCustom(aspect.ExtraMetadata),
				HasTempKey:    aspect.hasTempKey,
			},
		}
		if len(aspect.originalValues) > 0 {
			exp.EntityAspect.OriginalValues = cloneCustom(aspect.originalValues)
		}
		group.Entities = append(group.Entities, exp)
		doc.EntityGroupMap[name] = group
		if aspect.hasTempKey {
			key := aspect.GetKey()
			doc.TempKeys = append(doc.TempKeys, entityKeyJSON{EntityType: name, Values: key.Values()})
		}
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("tracker: export entities: %w", err)
	}
	return out, nil
}

// ImportEntities attaches the entities of an ExportEntities payload.
// Imported temporary keys that collide with keys already in use are
// regenerated and the foreign keys referring to them follow. Entities
// already cached are merged according to strategy.
func (em *EntityManager) ImportEntities(data []byte, strategy MergeStrategy) ([]Entity, error) {
	var doc exportedCache
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("tracker: import entities: %w", err)
	}
	if doc.MetadataVersion != MetadataVersion {
		return nil, errorf(ErrMetadataVersion, "Cannot import this data because it was exported with metadata version %q, expected %q", doc.MetadataVersion, MetadataVersion)
	}
	remapped, err := em.importTempKeys(doc.TempKeys)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(doc.EntityGroupMap))
	for name := range doc.EntityGroupMap {
		names = append(names, name)
	}
	sort.Strings(names)

	var imported []Entity
	err = em.batch(func() error {
		return using(&em.isLoading, true, func() error {
			for _, name := range names {
				et, err := em.metadataStore.GetEntityType(name)
				if err != nil {
					return err
				}
				for _, exp := range doc.EntityGroupMap[name].Entities {
					entity, err := em.importEntity(et, exp, remapped, strategy)
					if err != nil {
						return err
					}
					if entity != nil {
						imported = append(imported, entity)
					}
				}
			}
			return nil
		})
	})
	em.flushHasChanges()
	if err != nil {
		return nil, err
	}
	return imported, nil
}

// importTempKeys registers the exported temporary keys with the key
// generator and returns replacement values, by key string, for those that
// collide with keys already in this manager.
func (em *EntityManager) importTempKeys(keys []entityKeyJSON) (map[string]any, error) {
	remapped := map[string]any{}
	for _, tk := range keys {
		et, err := em.metadataStore.GetEntityType(tk.EntityType)
		if err != nil {
			return nil, err
		}
		kp, err := singleKeyProperty(et)
		if err != nil {
			return nil, err
		}
		values := make([]any, len(tk.Values))
		for i, v := range tk.Values {
			values[i] = kp.DataType.ParseRawValue(v)
		}
		key := NewEntityKey(et, values...)
		if em.keyGenerator.IsTempKey(key) || em.FindEntityByKey(key) != nil {
			next, err := em.keyGenerator.GenerateTempKeyValue(et)
			if err != nil {
				return nil, err
			}
			remapped[key.String()] = next
			continue
		}
		if reg, ok := em.keyGenerator.(tempKeyRegistrar); ok {
			reg.RegisterTempKey(key)
		}
	}
	return remapped, nil
}

func (em *EntityManager) importEntity(et *EntityType, exp exportedEntity, remapped map[string]any, strategy MergeStrategy) (Entity, error) {
	values := exp.Values
	if values == nil {
		values = map[string]any{}
	}
	keyValues := make([]any, len(et.KeyProperties))
	for i, kp := range et.KeyProperties {
		keyValues[i] = kp.DataType.ParseRawValue(values[kp.Name])
	}
	key := NewEntityKey(et, keyValues...)
	if exp.EntityAspect.HasTempKey {
		if next, ok := remapped[key.String()]; ok {
			values[et.KeyProperties[0].Name] = next
			key = NewEntityKey(et, next)
		}
	}
	remapForeignKeys(et, values, remapped)

	state := exp.EntityAspect.EntityState
	if state.IsDetached() {
		state = StateUnchanged
	}
	originals := parseOriginalValues(et, exp.EntityAspect.OriginalValues)

	if target := em.FindEntityByKey(key); target != nil {
		aspect := target.EntityAspect()
		switch {
		case strategy == MergeSkipMerge:
			return target, nil
		case strategy == MergeDisallowed:
			return nil, errorf(ErrKeyConflict, "A MergeStrategy of 'Disallowed' prevents %s from being merged", key)
		case strategy == MergePreserveChanges && !aspect.state.IsUnchanged():
			return target, nil
		}
		if err := updateTargetFromRaw(target.backing(), values, (*DataProperty).rawValueFromClient); err != nil {
			return nil, err
		}
		aspect.originalValues = originals
		aspect.hasTempKey = exp.EntityAspect.HasTempKey
		aspect.ExtraMetadata = cloneCustom(exp.EntityAspect.ExtraMetadata)
		if aspect.state != state {
			from := aspect.state
			aspect.state = state
			em.logTransition(target, from, state)
			em.notifyStateChange(target, state.IsAddedModifiedOrDeleted())
		}
		em.EntityChanged.Publish(EntityChangedArgs{Action: ActionMergeOnImport, Entity: target})
		return target, nil
	}

	entity, err := et.createEntityCore()
	if err != nil {
		return nil, err
	}
	if err := updateTargetFromRaw(entity.backing(), values, (*DataProperty).rawValueFromClient); err != nil {
		return nil, err
	}
	entity.backing().initialize()
	if _, err := em.attachEntityCore(entity, state, MergeDisallowed); err != nil {
		return nil, err
	}
	aspect := entity.EntityAspect()
	aspect.originalValues = originals
	aspect.hasTempKey = exp.EntityAspect.HasTempKey
	aspect.ExtraMetadata = cloneCustom(exp.EntityAspect.ExtraMetadata)
	if state.IsAddedModifiedOrDeleted() {
		em.notifyStateChange(entity, true)
	}
	em.EntityChanged.Publish(EntityChangedArgs{Action: ActionAttachOnImport, Entity: entity})
	return entity, nil
}

// remapForeignKeys rewrites foreign key values that point at a remapped
// temporary key.
func remapForeignKeys(et *EntityType, values map[string]any, remapped map[string]any) {
	if len(remapped) == 0 {
		return
	}
	for _, fk := range et.ForeignKeyProperties {
		var parent *EntityType
		switch {
		case fk.RelatedNavigationProperty != nil:
			parent = fk.RelatedNavigationProperty.EntityType
		case fk.InverseNavigationProperty != nil:
			parent = fk.InverseNavigationProperty.parentType
		}
		value, ok := values[fk.Name]
		if parent == nil || !ok || value == nil || len(parent.KeyProperties) != 1 {
			continue
		}
		parentKey := NewEntityKey(parent, parent.KeyProperties[0].DataType.ParseRawValue(value))
		if next, ok := remapped[parentKey.String()]; ok {
			values[fk.Name] = next
		}
	}
}

func parseOriginalValues(et *EntityType, raw map[string]any) map[string]any {
	out := map[string]any{}
	for _, dp := range et.DataProperties {
		v, ok := raw[dp.Name]
		if !ok {
			continue
		}
		if dp.IsScalar && !dp.IsComplexProperty() {
			v = dp.DataType.ParseRawValue(v)
		}
		out[dp.Name] = v
	}
	return out
}

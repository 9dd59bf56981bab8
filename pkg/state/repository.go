package state

import (
	"context"
	"encoding/json"
	"fmt"

	tracker "github.com/goliatone/go-tracker"
)

// MetadataRepository persists metadata store exports.
type MetadataRepository struct {
	Store Store[json.RawMessage]
}

func NewMetadataRepository(store Store[json.RawMessage]) MetadataRepository {
	return MetadataRepository{Store: store}
}

// Save exports ms and stores it under name.
func (r MetadataRepository) Save(ctx context.Context, name string, ms *tracker.MetadataStore, meta Meta) (Meta, error) {
	if r.Store == nil {
		return Meta{}, fmt.Errorf("state: store is required")
	}
	if ms == nil {
		return Meta{}, fmt.Errorf("state: metadata store is required")
	}
	doc, err := ms.ExportMetadata()
	if err != nil {
		return Meta{}, fmt.Errorf("state: export metadata %q: %w", name, err)
	}
	saved, err := r.Store.Save(ctx, MetadataRef(name), json.RawMessage(doc), meta)
	if err != nil {
		return Meta{}, fmt.Errorf("state: save metadata %q: %w", name, err)
	}
	return saved, nil
}

// Load imports the snapshot stored under name into ms. ok is false when
// nothing is stored.
func (r MetadataRepository) Load(ctx context.Context, name string, ms *tracker.MetadataStore, allowMerge bool) (Meta, bool, error) {
	if r.Store == nil {
		return Meta{}, false, fmt.Errorf("state: store is required")
	}
	doc, meta, ok, err := r.Store.Load(ctx, MetadataRef(name))
	if err != nil {
		return Meta{}, false, fmt.Errorf("state: load metadata %q: %w", name, err)
	}
	if !ok {
		return Meta{}, false, nil
	}
	if err := ms.ImportMetadata(doc, allowMerge); err != nil {
		return meta, true, fmt.Errorf("state: import metadata %q: %w", name, err)
	}
	return meta, true, nil
}

// Update loads the stored metadata into a fresh store built by newStore,
// applies fn and saves the result. meta.ETag, when set, guards the save.
func (r MetadataRepository) Update(ctx context.Context, name string, meta Meta, newStore func() *tracker.MetadataStore, fn func(*tracker.MetadataStore) error) (*tracker.MetadataStore, Meta, error) {
	if newStore == nil {
		newStore = func() *tracker.MetadataStore { return tracker.NewMetadataStore() }
	}
	ms := newStore()
	_, saved, err := Mutate[json.RawMessage](ctx, r.Store, MetadataRef(name), meta, func(doc *json.RawMessage) error {
		if len(*doc) > 0 {
			if err := ms.ImportMetadata(*doc, false); err != nil {
				return fmt.Errorf("state: import metadata %q: %w", name, err)
			}
		}
		if err := fn(ms); err != nil {
			return err
		}
		out, err := ms.ExportMetadata()
		if err != nil {
			return fmt.Errorf("state: export metadata %q: %w", name, err)
		}
		*doc = out
		return nil
	})
	if err != nil {
		return nil, saved, err
	}
	return ms, saved, nil
}

// EntityCacheRepository persists entity manager exports.
type EntityCacheRepository struct {
	Store Store[json.RawMessage]
}

func NewEntityCacheRepository(store Store[json.RawMessage]) EntityCacheRepository {
	return EntityCacheRepository{Store: store}
}

// Save exports entities (all of them when none are given) from em.
func (r EntityCacheRepository) Save(ctx context.Context, name string, em *tracker.EntityManager, meta Meta, entities ...tracker.Entity) (Meta, error) {
	if r.Store == nil {
		return Meta{}, fmt.Errorf("state: store is required")
	}
	if em == nil {
		return Meta{}, fmt.Errorf("state: entity manager is required")
	}
	doc, err := em.ExportEntities(entities...)
	if err != nil {
		return Meta{}, fmt.Errorf("state: export entities %q: %w", name, err)
	}
	saved, err := r.Store.Save(ctx, EntitiesRef(name), json.RawMessage(doc), meta)
	if err != nil {
		return Meta{}, fmt.Errorf("state: save entities %q: %w", name, err)
	}
	return saved, nil
}

// Load imports the cache stored under name into em using strategy.
func (r EntityCacheRepository) Load(ctx context.Context, name string, em *tracker.EntityManager, strategy tracker.MergeStrategy) ([]tracker.Entity, Meta, bool, error) {
	if r.Store == nil {
		return nil, Meta{}, false, fmt.Errorf("state: store is required")
	}
	doc, meta, ok, err := r.Store.Load(ctx, EntitiesRef(name))
	if err != nil {
		return nil, Meta{}, false, fmt.Errorf("state: load entities %q: %w", name, err)
	}
	if !ok {
		return nil, Meta{}, false, nil
	}
	imported, err := em.ImportEntities(doc, strategy)
	if err != nil {
		return nil, meta, true, fmt.Errorf("state: import entities %q: %w", name, err)
	}
	return imported, meta, true, nil
}

package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrValidation marks a save refused because entities failed validation.
var ErrValidation = errors.New("tracker: validation failed")

// SaveValidationError lists the entities that failed validation before a
// save and their errors.
type SaveValidationError struct {
	Entities []Entity
	Errors   []*ValidationError
}

func (e *SaveValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		msgs = append(msgs, ve.ErrorMessage)
	}
	return fmt.Sprintf("tracker: client side validation errors encountered - see the Errors collection on this object for more detail: %s", strings.Join(msgs, "; "))
}

func (e *SaveValidationError) Unwrap() error { return ErrValidation }

// SaveOptions control a single SaveChanges call.
type SaveOptions struct {
	ResourceName         string
	AllowConcurrentSaves bool
	DataService          *DataService
	Tag                  any
}

// SaveEntity is the wire form of one changed entity. Values and
// OriginalValues are keyed by server property names.
type SaveEntity struct {
	EntityType     string         `json:"entityType"`
	State          EntityState    `json:"entityState"`
	Key            EntityKey      `json:"key"`
	Values         map[string]any `json:"values"`
	OriginalValues map[string]any `json:"originalValues,omitempty"`
	HasTempKey     bool           `json:"hasTempKey,omitempty"`
}

// SaveBundle is what a SaveProvider receives.
type SaveBundle struct {
	Entities    []SaveEntity
	Options     SaveOptions
	DataService *DataService
}

// KeyMapping reports the permanent key the server assigned to an entity
// saved with a temporary key.
type KeyMapping struct {
	EntityTypeName string `json:"entityTypeName"`
	TempValue      any    `json:"tempValue"`
	RealValue      any    `json:"realValue"`
}

// SaveResponse is returned by a SaveProvider. Entities are server shaped
// rows of the saved entities as the server stored them.
type SaveResponse struct {
	Entities    []map[string]any
	KeyMappings []KeyMapping
}

// SaveProvider persists a bundle of changes.
type SaveProvider interface {
	SaveChanges(ctx context.Context, bundle SaveBundle) (*SaveResponse, error)
}

// SaveProviderFunc adapts a function to SaveProvider.
type SaveProviderFunc func(ctx context.Context, bundle SaveBundle) (*SaveResponse, error)

// SaveChanges implements SaveProvider.
func (f SaveProviderFunc) SaveChanges(ctx context.Context, bundle SaveBundle) (*SaveResponse, error) {
	return f(ctx, bundle)
}

// SaveResult holds the saved entities after key fixup and merge.
type SaveResult struct {
	Entities    []Entity
	KeyMappings []KeyMapping
}

// SaveChanges sends entities, or every pending change when none are given,
// to the SaveProvider. On success temporary keys are replaced by the server
// keys, returned rows are merged and the saved entities accept their
// changes. On failure the entities keep their pending changes.
func (em *EntityManager) SaveChanges(ctx context.Context, opts SaveOptions, entities ...Entity) (*SaveResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(entities) == 0 {
		entities = em.GetChanges()
	} else {
		changed := entities[:0:0]
		for _, e := range entities {
			if e != nil && e.EntityAspect().manager == em && e.EntityAspect().state.IsAddedModifiedOrDeleted() {
				changed = append(changed, e)
			}
		}
		entities = changed
	}
	if len(entities) == 0 {
		return &SaveResult{}, nil
	}
	if em.saveProvider == nil {
		return nil, errorf(ErrNoSaveProvider, "no SaveProvider configured")
	}
	if !opts.AllowConcurrentSaves {
		for _, e := range entities {
			if e.EntityAspect().isBeingSaved {
				return nil, errorf(ErrBeingSaved, "Concurrent saves not allowed - SaveOptions.AllowConcurrentSaves is false")
			}
		}
	}
	if em.validationOptions.ValidateOnSave {
		if err := validateForSave(entities); err != nil {
			return nil, err
		}
	}
	if err := updateConcurrencyProperties(entities); err != nil {
		return nil, err
	}

	bundle := SaveBundle{Options: opts, DataService: opts.DataService}
	if bundle.DataService == nil {
		bundle.DataService = em.dataService
	}
	for _, e := range entities {
		bundle.Entities = append(bundle.Entities, saveEntityOf(e))
	}

	start := time.Now()
	setBeingSaved(entities, true)
	resp, err := em.saveProvider.SaveChanges(ctx, bundle)
	if err == nil {
		err = ctx.Err()
	}
	setBeingSaved(entities, false)
	if err != nil {
		em.logSave(len(entities), time.Since(start), err)
		return nil, err
	}
	if resp == nil {
		resp = &SaveResponse{}
	}

	saved, err := em.mergeSaveResponse(entities, resp)
	em.flushHasChanges()
	em.logSave(len(saved), time.Since(start), err)
	if err != nil {
		return nil, err
	}
	em.emitSavedActivity(ctx, saved)
	return &SaveResult{Entities: saved, KeyMappings: resp.KeyMappings}, nil
}

func (em *EntityManager) mergeSaveResponse(entities []Entity, resp *SaveResponse) ([]Entity, error) {
	err := using(&em.inKeyFixup, true, func() error {
		for _, km := range resp.KeyMappings {
			et, err := em.metadataStore.GetEntityType(km.EntityTypeName)
			if err != nil {
				return err
			}
			group := em.findEntityGroup(et)
			if group == nil {
				return errorf(ErrKeyConflict, "Internal Error in key fixup - unable to locate entity group for %s", et.Name)
			}
			kp, err := singleKeyProperty(et)
			if err != nil {
				return err
			}
			tempKey := NewEntityKey(et, kp.DataType.Parse(km.TempValue))
			if _, err := group.fixupKey(tempKey, kp.DataType.ParseRawValue(km.RealValue)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	mc := &mergeContext{
		em:           em,
		strategy:     MergeOverwriteChanges,
		attachAction: ActionMergeOnSave,
		mergeAction:  ActionMergeOnSave,
	}
	saved := make([]Entity, 0, len(entities))
	err = em.batch(func() error {
		return using(&em.isLoading, true, func() error {
			for _, raw := range resp.Entities {
				et, err := em.rowEntityType(entities, raw)
				if err != nil {
					return err
				}
				if et == nil {
					continue
				}
				if cached := em.findRowEntity(et, raw); cached != nil && cached.EntityAspect().state.IsDeleted() {
					continue
				}
				if _, err := mc.mergeRaw(et, raw); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		aspect := e.EntityAspect()
		if aspect.manager != em {
			saved = append(saved, e)
			continue
		}
		if aspect.state.IsAddedModifiedOrDeleted() {
			if err := aspect.AcceptChanges(); err != nil {
				return nil, err
			}
		}
		saved = append(saved, e)
	}
	return saved, nil
}

// rowEntityType resolves the type of a saved row from its "$type" entry,
// falling back to the single type of the saved entities.
func (em *EntityManager) rowEntityType(entities []Entity, raw map[string]any) (*EntityType, error) {
	if name, ok := raw[TypeKey].(string); ok && name != "" {
		return em.metadataStore.GetEntityType(name)
	}
	var et *EntityType
	for _, e := range entities {
		switch {
		case et == nil:
			et = e.EntityType()
		case et != e.EntityType():
			return nil, errorf(ErrTypeNotFound, "saved rows for more than one entity type must carry a %q entry", TypeKey)
		}
	}
	return et, nil
}

func (em *EntityManager) findRowEntity(et *EntityType, raw map[string]any) Entity {
	values := make([]any, len(et.KeyProperties))
	for i, kp := range et.KeyProperties {
		v, _ := kp.rawValueFromServer(raw)
		values[i] = kp.DataType.ParseRawValue(v)
	}
	return em.FindEntityByKey(NewEntityKey(et, values...))
}

func (em *EntityManager) logSave(count int, d time.Duration, err error) {
	em.logger.Log(LogEvent{Kind: LogSave, Count: count, Duration: d, Err: err})
}

func validateForSave(entities []Entity) error {
	var failed []Entity
	var errs []*ValidationError
	for _, e := range entities {
		aspect := e.EntityAspect()
		if aspect.state.IsDeleted() {
			continue
		}
		if !aspect.ValidateEntity() {
			failed = append(failed, e)
			errs = append(errs, aspect.GetValidationErrors()...)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &SaveValidationError{Entities: failed, Errors: errs}
}

// updateConcurrencyProperties bumps the concurrency values of modified
// entities unless the caller already changed one of them.
func updateConcurrencyProperties(entities []Entity) error {
	for _, e := range entities {
		aspect := e.EntityAspect()
		props := e.EntityType().ConcurrencyProperties
		if !aspect.state.IsModified() || len(props) == 0 {
			continue
		}
		userSet := false
		for _, cp := range props {
			if _, changed := aspect.originalValues[cp.Name]; changed {
				userSet = true
				break
			}
		}
		if userSet {
			continue
		}
		for _, cp := range props {
			next, ok := cp.DataType.ConcurrencyValue(e.GetProperty(cp.Name))
			if !ok {
				return errorf(ErrInvalidConfig, "Unable to update the value of concurrency property before saving: %s", cp.Name)
			}
			if err := e.SetProperty(cp.Name, next); err != nil {
				return err
			}
		}
	}
	return nil
}

func setBeingSaved(entities []Entity, saving bool) {
	for _, e := range entities {
		e.EntityAspect().isBeingSaved = saving
	}
}

func saveEntityOf(e Entity) SaveEntity {
	aspect := e.EntityAspect()
	et := e.EntityType()
	out := SaveEntity{
		EntityType: et.Name,
		State:      aspect.state,
		Key:        aspect.GetKey(),
		Values:     serverValues(e),
		HasTempKey: aspect.hasTempKey,
	}
	if len(aspect.originalValues) > 0 {
		out.OriginalValues = map[string]any{}
		for _, dp := range et.DataProperties {
			if v, ok := aspect.originalValues[dp.Name]; ok {
				out.OriginalValues[dp.ServerName()] = v
			}
		}
	}
	return out
}

// serverValues snapshots the data properties of target keyed by server
// names, recursing into complex values.
func serverValues(target Structural) map[string]any {
	out := map[string]any{}
	for _, dp := range target.StructuralType().structural().DataProperties {
		switch v := target.GetProperty(dp.Name).(type) {
		case ComplexObject:
			out[dp.ServerName()] = serverValues(v)
		case *ComplexArray:
			items := complexItems(v)
			list := make([]any, len(items))
			for i, co := range items {
				list[i] = serverValues(co)
			}
			out[dp.ServerName()] = list
		default:
			out[dp.ServerName()] = snapshotValue(v)
		}
	}
	return out
}

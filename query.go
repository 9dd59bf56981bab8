package tracker

import (
	"context"
	"time"
)

// FetchStrategy selects where ExecuteQuery reads entities from.
type FetchStrategy uint8

const (
	// FetchFromServer asks the QueryProvider and merges the rows.
	FetchFromServer FetchStrategy = iota
	// FetchFromLocalCache evaluates the query against attached entities.
	FetchFromLocalCache
)

func (f FetchStrategy) String() string {
	if f == FetchFromLocalCache {
		return "FromLocalCache"
	}
	return "FromServer"
}

// QueryOptions control how query results reach the cache.
type QueryOptions struct {
	FetchStrategy  FetchStrategy
	MergeStrategy  MergeStrategy
	IncludeDeleted bool
}

// DefaultQueryOptions fetches from the server and preserves pending changes.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{FetchStrategy: FetchFromServer, MergeStrategy: MergePreserveChanges}
}

// EntityQuery describes the entities to fetch. Builder methods return
// copies; a query is never modified once built.
type EntityQuery struct {
	ResourceName string
	ResultType   *EntityType
	Predicate    *Predicate
	Skip         int
	Take         int
	Parameters   map[string]any
	Options      *QueryOptions
	DataService  *DataService
}

// NewEntityQuery returns a query over resourceName.
func NewEntityQuery(resourceName string) *EntityQuery {
	return &EntityQuery{ResourceName: resourceName}
}

func (q *EntityQuery) clone() *EntityQuery {
	out := *q
	out.Parameters = cloneCustom(q.Parameters)
	return &out
}

// Where returns a copy filtered by pred, and-ed with any existing filter.
func (q *EntityQuery) Where(pred *Predicate) *EntityQuery {
	out := q.clone()
	out.Predicate = And(q.Predicate, pred)
	return out
}

// ToType returns a copy whose results are materialized as et.
func (q *EntityQuery) ToType(et *EntityType) *EntityQuery {
	out := q.clone()
	out.ResultType = et
	return out
}

// WithSkip returns a copy skipping the first n results.
func (q *EntityQuery) WithSkip(n int) *EntityQuery {
	out := q.clone()
	out.Skip = n
	return out
}

// WithTake returns a copy limited to n results; zero means no limit.
func (q *EntityQuery) WithTake(n int) *EntityQuery {
	out := q.clone()
	out.Take = n
	return out
}

// WithParameters returns a copy carrying provider specific parameters.
func (q *EntityQuery) WithParameters(params map[string]any) *EntityQuery {
	out := q.clone()
	out.Parameters = cloneCustom(params)
	return out
}

// Using returns a copy executed with opts.
func (q *EntityQuery) Using(opts QueryOptions) *EntityQuery {
	out := q.clone()
	out.Options = &opts
	return out
}

// UsingDataService returns a copy sent to ds.
func (q *EntityQuery) UsingDataService(ds *DataService) *EntityQuery {
	out := q.clone()
	out.DataService = ds
	return out
}

// FromEntityKey returns a query for the single entity identified by key.
func FromEntityKey(key EntityKey) *EntityQuery {
	et := key.EntityType()
	return &EntityQuery{
		ResourceName: et.DefaultResourceName,
		ResultType:   et,
		Predicate:    keyPredicate(et, key.Values()),
	}
}

// FromEntities returns a query that refetches entities, which must share a
// type.
func FromEntities(entities ...Entity) (*EntityQuery, error) {
	if len(entities) == 0 {
		return nil, errorf(ErrInvalidConfig, "fromEntities requires at least one entity")
	}
	et := entities[0].EntityType()
	preds := make([]*Predicate, 0, len(entities))
	for _, e := range entities {
		if e.EntityType() != et {
			return nil, errorf(ErrInvalidConfig, "All 'fromEntities' must be the same type; at least one is not of type %s", et.Name)
		}
		preds = append(preds, keyPredicate(et, e.EntityAspect().GetKey().Values()))
	}
	return &EntityQuery{
		ResourceName: et.DefaultResourceName,
		ResultType:   et,
		Predicate:    Or(preds...),
	}, nil
}

// FromEntityNavigation returns a query for the entities related to entity
// through np.
func FromEntityNavigation(entity Entity, np *NavigationProperty) (*EntityQuery, error) {
	pred := navigationPredicate(entity, np)
	if pred == nil || np.EntityType == nil {
		return nil, errorf(ErrInvalidConfig, "Unable to create a NavigationQuery for navigationProperty: %s", np.Name)
	}
	return &EntityQuery{
		ResourceName: np.EntityType.DefaultResourceName,
		ResultType:   np.EntityType,
		Predicate:    pred,
	}, nil
}

func keyPredicate(et *EntityType, values []any) *Predicate {
	preds := make([]*Predicate, len(et.KeyProperties))
	for i, kp := range et.KeyProperties {
		var v any
		if i < len(values) {
			v = values[i]
		}
		preds[i] = Equals(kp.Name, v)
	}
	return And(preds...)
}

// navigationPredicate filters on the foreign keys of a scalar property, or
// on the inverse foreign keys of a collection.
func navigationPredicate(entity Entity, np *NavigationProperty) *Predicate {
	if np.IsScalar {
		if len(np.ForeignKeyNames) == 0 || np.EntityType == nil {
			return nil
		}
		values := make([]any, len(np.ForeignKeyNames))
		for i, fk := range np.ForeignKeyNames {
			values[i] = entity.GetProperty(fk)
		}
		return keyPredicate(np.EntityType, values)
	}
	fkNames := np.InvForeignKeyNames
	if np.Inverse != nil {
		fkNames = np.Inverse.ForeignKeyNames
	}
	if len(fkNames) == 0 {
		return nil
	}
	keyValues := entity.EntityAspect().GetKey().Values()
	preds := make([]*Predicate, len(fkNames))
	for i, fk := range fkNames {
		var v any
		if i < len(keyValues) {
			v = keyValues[i]
		}
		preds[i] = Equals(fk, v)
	}
	return And(preds...)
}

// QueryRequest is what a QueryProvider receives. Filter is the OData form
// of the query predicate using server property names.
type QueryRequest struct {
	Query        *EntityQuery
	EntityType   *EntityType
	ResourceName string
	Filter       string
	DataService  *DataService
}

// QueryResponse carries raw rows keyed by server property names. A "$type"
// entry selects a subtype of the query type. Nested maps and lists under a
// navigation property's server name are materialized as related entities.
type QueryResponse struct {
	Results     []map[string]any
	InlineCount int
}

// QueryProvider fetches rows for a query.
type QueryProvider interface {
	ExecuteQuery(ctx context.Context, req QueryRequest) (*QueryResponse, error)
}

// QueryProviderFunc adapts a function to QueryProvider.
type QueryProviderFunc func(ctx context.Context, req QueryRequest) (*QueryResponse, error)

// ExecuteQuery implements QueryProvider.
func (f QueryProviderFunc) ExecuteQuery(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	return f(ctx, req)
}

// QueryResult holds the attached entities a query produced.
type QueryResult struct {
	Entities    []Entity
	Query       *EntityQuery
	InlineCount int
}

// TypeKey is the raw row entry naming the concrete entity type.
const TypeKey = "$type"

func (em *EntityManager) resolveQueryType(q *EntityQuery) (*EntityType, error) {
	if q.ResultType != nil {
		return q.ResultType, nil
	}
	name, ok := em.metadataStore.GetEntityTypeNameForResourceName(q.ResourceName)
	if !ok {
		return nil, errorf(ErrTypeNotFound, "Cannot find an entityType for resourceName: '%s'. Consider adding an 'EntityQuery.ToType' call to your query or calling the MetadataStore.SetEntityTypeForResourceName method", q.ResourceName)
	}
	return em.metadataStore.GetEntityType(name)
}

func (em *EntityManager) queryOptionsFor(q *EntityQuery) QueryOptions {
	if q.Options != nil {
		return *q.Options
	}
	return em.queryOptions
}

// ExecuteQuery runs q. Server results are merged into the cache according
// to the query's MergeStrategy; deleted cached entities are left out of the
// result unless IncludeDeleted is set.
func (em *EntityManager) ExecuteQuery(ctx context.Context, q *EntityQuery) (*QueryResult, error) {
	if q == nil {
		return nil, errorf(ErrInvalidConfig, "query must not be nil")
	}
	opts := em.queryOptionsFor(q)
	if opts.FetchStrategy == FetchFromLocalCache {
		entities, err := em.ExecuteQueryLocally(q)
		if err != nil {
			return nil, err
		}
		return &QueryResult{Entities: entities, Query: q, InlineCount: len(entities)}, nil
	}
	if em.queryProvider == nil {
		return nil, errorf(ErrNoQueryProvider, "no QueryProvider configured for resource %s", q.ResourceName)
	}
	et, err := em.resolveQueryType(q)
	if err != nil {
		return nil, err
	}
	filter, err := q.Predicate.ToOData(et)
	if err != nil {
		return nil, err
	}
	ds := q.DataService
	if ds == nil {
		ds = em.dataService
	}
	resource := q.ResourceName
	if resource == "" {
		resource = et.DefaultResourceName
	}

	start := time.Now()
	resp, err := em.queryProvider.ExecuteQuery(ctx, QueryRequest{
		Query:        q,
		EntityType:   et,
		ResourceName: resource,
		Filter:       filter,
		DataService:  ds,
	})
	if err == nil && ctx != nil {
		err = ctx.Err()
	}
	if err != nil {
		em.logQuery(et, 0, time.Since(start), err)
		return nil, err
	}
	if resp == nil {
		resp = &QueryResponse{}
	}

	mc := &mergeContext{
		em:           em,
		strategy:     opts.MergeStrategy,
		attachAction: ActionAttachOnQuery,
		mergeAction:  ActionMergeOnQuery,
	}
	var entities []Entity
	err = em.batch(func() error {
		return using(&em.isLoading, true, func() error {
			for _, raw := range resp.Results {
				entity, err := mc.mergeRaw(et, raw)
				if err != nil {
					return err
				}
				if entity == nil {
					continue
				}
				if !opts.IncludeDeleted && entity.EntityAspect().state.IsDeleted() {
					continue
				}
				entities = append(entities, entity)
			}
			return nil
		})
	})
	em.flushHasChanges()
	if err != nil {
		em.logQuery(et, len(entities), time.Since(start), err)
		return nil, err
	}
	if em.validationOptions.ValidateOnQuery {
		for _, e := range mc.touched {
			e.EntityAspect().ValidateEntity()
		}
	}
	inline := resp.InlineCount
	if inline == 0 {
		inline = len(entities)
	}
	em.logQuery(et, len(entities), time.Since(start), nil)
	return &QueryResult{Entities: entities, Query: q, InlineCount: inline}, nil
}

// ExecuteQueryLocally evaluates q against the attached entities of its
// type and subtypes.
func (em *EntityManager) ExecuteQueryLocally(q *EntityQuery) ([]Entity, error) {
	et, err := em.resolveQueryType(q)
	if err != nil {
		return nil, err
	}
	opts := em.queryOptionsFor(q)
	comparison := em.metadataStore.ComparisonOptions()
	var out []Entity
	skipped := 0
	for _, e := range em.GetEntities([]*EntityType{et}) {
		if !opts.IncludeDeleted && e.EntityAspect().state.IsDeleted() {
			continue
		}
		ok, err := q.Predicate.Matches(e, comparison)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if skipped < q.Skip {
			skipped++
			continue
		}
		out = append(out, e)
		if q.Take > 0 && len(out) == q.Take {
			break
		}
	}
	return out, nil
}

func (em *EntityManager) logQuery(et *EntityType, count int, d time.Duration, err error) {
	em.logger.Log(LogEvent{
		Kind:       LogQuery,
		EntityType: et.Name,
		Count:      count,
		Duration:   d,
		Err:        err,
	})
}

// mergeContext merges raw server rows into a manager during a query or
// after a save.
type mergeContext struct {
	em           *EntityManager
	strategy     MergeStrategy
	attachAction EntityAction
	mergeAction  EntityAction
	touched      []Entity
}

// mergeRaw materializes raw as an entity of et or one of its subtypes. A
// cached entity with the same key is updated according to the strategy and
// returned instead.
func (mc *mergeContext) mergeRaw(et *EntityType, raw map[string]any) (Entity, error) {
	em := mc.em
	if name, ok := raw[TypeKey].(string); ok && name != "" {
		sub, err := em.metadataStore.GetEntityType(name)
		if err != nil {
			return nil, err
		}
		et = sub
	}
	values := make([]any, len(et.KeyProperties))
	for i, kp := range et.KeyProperties {
		v, _ := kp.rawValueFromServer(raw)
		values[i] = kp.DataType.ParseRawValue(v)
	}
	key := NewEntityKey(et, values...)

	target := em.FindEntityByKey(key)
	if target == nil {
		entity, err := et.createEntityCore()
		if err != nil {
			return nil, err
		}
		if err := updateTargetFromRaw(entity.backing(), raw, (*DataProperty).rawValueFromServer); err != nil {
			return nil, err
		}
		entity.backing().initialize()
		if _, err := em.attachEntityCore(entity, StateUnchanged, MergeDisallowed); err != nil {
			return nil, err
		}
		entity.EntityAspect().wasLoaded = true
		if err := mc.mergeNavigations(entity, raw); err != nil {
			return nil, err
		}
		mc.touched = append(mc.touched, entity)
		em.EntityChanged.Publish(EntityChangedArgs{Action: mc.attachAction, Entity: entity})
		return entity, nil
	}

	aspect := target.EntityAspect()
	switch {
	case mc.strategy == MergeSkipMerge:
		return target, nil
	case mc.strategy == MergeDisallowed:
		return nil, errorf(ErrKeyConflict, "A MergeStrategy of 'Disallowed' prevents %s from being merged", key)
	case mc.strategy == MergePreserveChanges && !aspect.state.IsUnchanged():
		return target, mc.mergeNavigations(target, raw)
	}
	wasUnchanged := aspect.state.IsUnchanged()
	if err := updateTargetFromRaw(target.backing(), raw, (*DataProperty).rawValueFromServer); err != nil {
		return nil, err
	}
	aspect.wasLoaded = true
	if !wasUnchanged {
		if _, err := aspect.SetUnchanged(); err != nil {
			return nil, err
		}
	}
	if err := mc.mergeNavigations(target, raw); err != nil {
		return nil, err
	}
	mc.touched = append(mc.touched, target)
	aspect.PropertyChanged.Publish(PropertyChangedArgs{Entity: target, Parent: target})
	em.EntityChanged.Publish(EntityChangedArgs{Action: mc.mergeAction, Entity: target})
	return target, nil
}

// mergeNavigations materializes expanded navigation values and marks the
// properties loaded.
func (mc *mergeContext) mergeNavigations(entity Entity, raw map[string]any) error {
	aspect := entity.EntityAspect()
	for _, np := range entity.EntityType().NavigationProperties {
		nested, ok := raw[np.ServerName()]
		if !ok || np.EntityType == nil {
			continue
		}
		if np.IsScalar {
			row, isRow := toRawMap(nested)
			if !isRow {
				if nested == nil {
					aspect.markAsLoaded(np.Name)
				}
				continue
			}
			related, err := mc.mergeRaw(np.EntityType, row)
			if err != nil {
				return err
			}
			if related != nil && entity.GetProperty(np.Name) != related {
				if err := entity.SetProperty(np.Name, related); err != nil {
					return err
				}
			}
			aspect.markAsLoaded(np.Name)
			continue
		}
		rows, isList := toAnySlice(nested)
		if !isList {
			continue
		}
		collection := entity.backing().relationArray(np)
		for _, item := range rows {
			row, isRow := toRawMap(item)
			if !isRow {
				continue
			}
			related, err := mc.mergeRaw(np.EntityType, row)
			if err != nil {
				return err
			}
			if related != nil && collection != nil && !collection.Contains(related) {
				if err := collection.Add(related); err != nil {
					return err
				}
			}
		}
		aspect.markAsLoaded(np.Name)
	}
	return nil
}

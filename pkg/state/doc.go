// Package state persists tracker snapshots: exported metadata stores and
// exported entity caches.
//
// Store[T] loads and saves one snapshot for one Ref. Repositories sit on top of
// a Store[json.RawMessage] and translate between snapshots and live tracker
// values:
//
//	MetadataRepository:    *tracker.MetadataStore <-> ExportMetadata/ImportMetadata
//	EntityCacheRepository: *tracker.EntityManager <-> ExportEntities/ImportEntities
//
// Stores stamp every save with a content-derived ETag (see Stamp). Mutate uses
// it for optimistic concurrency: callers pass the ETag they loaded and the save
// is refused with ErrETagMismatch when the stored snapshot changed meanwhile.
//
// Ref.Identifier() is the canonical storage key: "<kind>/<name>", prefixed with
// "tenant/<id>/" when the ref carries a tenant.
package state

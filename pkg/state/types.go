package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var ErrETagMismatch = errors.New("state: etag mismatch")

var ErrNotFound = errors.New("state: snapshot not found")

// Kind names the sort of snapshot a Ref points to.
type Kind string

const (
	KindMetadata Kind = "metadata"
	KindEntities Kind = "entities"
)

// Ref identifies one persisted snapshot.
type Ref struct {
	Kind   Kind
	Name   string
	Tenant string
}

// MetadataRef is shorthand for a metadata snapshot ref.
func MetadataRef(name string) Ref { return Ref{Kind: KindMetadata, Name: name} }

// EntitiesRef is shorthand for an entity cache snapshot ref.
func EntitiesRef(name string) Ref { return Ref{Kind: KindEntities, Name: name} }

// Meta is storage-owned metadata used for audit and concurrency control.
type Meta struct {
	SnapshotID string            `json:"snapshot_id,omitempty"`
	ETag       string            `json:"etag,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Store loads/saves one snapshot for a single ref.
type Store[T any] interface {
	Load(ctx context.Context, ref Ref) (snapshot T, meta Meta, ok bool, err error)
	Save(ctx context.Context, ref Ref, snapshot T, meta Meta) (Meta, error)
}

// Lister is implemented by stores that can enumerate their refs.
type Lister interface {
	List(ctx context.Context, kind Kind) ([]Ref, error)
}

// Deleter is implemented by stores that can remove snapshots.
type Deleter interface {
	Delete(ctx context.Context, ref Ref) error
}

type Mutator[T any] func(*T) error

func (r Ref) Identifier() (string, error) {
	if r.Name == "" {
		return "", fmt.Errorf("state: name is required for %q snapshot", r.Kind)
	}
	switch r.Kind {
	case KindMetadata, KindEntities:
	default:
		return "", fmt.Errorf("state: unsupported snapshot kind %q", r.Kind)
	}
	if r.Tenant != "" {
		return fmt.Sprintf("tenant/%s/%s/%s", r.Tenant, r.Kind, r.Name), nil
	}
	return fmt.Sprintf("%s/%s", r.Kind, r.Name), nil
}

// ParseRef is the inverse of Ref.Identifier.
func ParseRef(id string) (Ref, error) {
	var ref Ref
	var kind, name string
	switch parts := strings.Split(id, "/"); len(parts) {
	case 2:
		kind, name = parts[0], parts[1]
	case 4:
		if parts[0] != "tenant" {
			return Ref{}, fmt.Errorf("state: malformed identifier %q", id)
		}
		ref.Tenant = parts[1]
		kind, name = parts[2], parts[3]
	default:
		return Ref{}, fmt.Errorf("state: malformed identifier %q", id)
	}
	ref.Kind = Kind(kind)
	ref.Name = name
	if _, err := ref.Identifier(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

var etagNamespace = uuid.MustParse("6f1c4b9e-2a7d-4e0b-9c3a-5d8e7f1a2b3c")

// ContentETag derives a stable ETag from the JSON form of snapshot.
func ContentETag(snapshot any) (string, error) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("state: etag: %w", err)
	}
	return uuid.NewSHA1(etagNamespace, payload).String(), nil
}

// Stamp fills the store-owned fields of meta before a save: a new SnapshotID
// when none is given, the content ETag and UpdatedAt.
func Stamp(snapshot any, meta Meta, now time.Time) (Meta, error) {
	etag, err := ContentETag(snapshot)
	if err != nil {
		return Meta{}, err
	}
	out := cloneMeta(meta)
	if out.SnapshotID == "" {
		out.SnapshotID = ulid.Make().String()
	}
	out.ETag = etag
	out.UpdatedAt = now.UTC()
	return out, nil
}

// Mutate loads one snapshot, applies fn, then saves it as a new snapshot.
// A non-empty meta.ETag must match the stored ETag.
func Mutate[T any](ctx context.Context, store Store[T], ref Ref, meta Meta, fn Mutator[T]) (T, Meta, error) {
	var zero T
	if store == nil {
		return zero, Meta{}, fmt.Errorf("state: store is required")
	}
	if fn == nil {
		return zero, Meta{}, fmt.Errorf("state: mutator is required")
	}
	if _, err := ref.Identifier(); err != nil {
		return zero, Meta{}, err
	}

	snapshot, loadedMeta, ok, err := store.Load(ctx, ref)
	if err != nil {
		return zero, Meta{}, fmt.Errorf("state: load %s %q: %w", ref.Kind, ref.Name, err)
	}
	if !ok {
		snapshot = zero
		loadedMeta = Meta{}
	}

	if meta.ETag != "" && meta.ETag != loadedMeta.ETag {
		return zero, loadedMeta, fmt.Errorf("%w: expected %q, got %q", ErrETagMismatch, meta.ETag, loadedMeta.ETag)
	}

	if err := fn(&snapshot); err != nil {
		return zero, loadedMeta, err
	}

	saveMeta := mergeMeta(loadedMeta, meta)
	saveMeta.SnapshotID = ""
	saveMeta.ETag = ""
	savedMeta, err := store.Save(ctx, ref, snapshot, saveMeta)
	if err != nil {
		return zero, loadedMeta, fmt.Errorf("state: save %s %q: %w", ref.Kind, ref.Name, err)
	}
	return snapshot, savedMeta, nil
}

func mergeMeta(base, override Meta) Meta {
	out := base
	if override.SnapshotID != "" {
		out.SnapshotID = override.SnapshotID
	}
	if override.ETag != "" {
		out.ETag = override.ETag
	}
	if !override.UpdatedAt.IsZero() {
		out.UpdatedAt = override.UpdatedAt
	}
	if override.Extra != nil {
		out.Extra = override.Extra
	}
	return out
}

func cloneMeta(meta Meta) Meta {
	out := meta
	if meta.Extra == nil {
		return out
	}
	out.Extra = make(map[string]string, len(meta.Extra))
	for k, v := range meta.Extra {
		out.Extra[k] = v
	}
	return out
}

package gormstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-tracker/pkg/state"
	"github.com/goliatone/go-tracker/pkg/state/gormstore"
)

func openStore(t *testing.T) *gormstore.Store[json.RawMessage] {
	t.Helper()
	ctx := context.Background()
	db, err := gormstore.Open(filepath.Join(t.TempDir(), "tracker_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := gormstore.Migrate(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gormstore.New[json.RawMessage](db)
}

func TestStoreSaveLoad(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	ref := state.MetadataRef("sales")
	doc := json.RawMessage(`{"metadataVersion":"1.0.5","name":"sales"}`)

	saved, err := store.Save(ctx, ref, doc, state.Meta{Extra: map[string]string{"author": "ops"}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	want, _ := state.ContentETag(doc)
	if saved.ETag != want || saved.SnapshotID == "" {
		t.Fatalf("unexpected stamped meta %+v", saved)
	}

	got, meta, ok, err := store.Load(ctx, ref)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if string(got) != string(doc) {
		t.Fatalf("expected payload %s, got %s", doc, got)
	}
	if meta.ETag != saved.ETag || meta.SnapshotID != saved.SnapshotID || meta.Extra["author"] != "ops" {
		t.Fatalf("expected stored meta, got %+v", meta)
	}
	if meta.UpdatedAt.IsZero() {
		t.Fatal("expected updated_at persisted")
	}

	if _, _, ok, err := store.Load(ctx, state.MetadataRef("hr")); ok || err != nil {
		t.Fatalf("expected missing row to report ok=false, got ok=%v err=%v", ok, err)
	}
}

func TestStoreSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	ref := state.EntitiesRef("offline")

	first, err := store.Save(ctx, ref, json.RawMessage(`{"tempKeys":[]}`), state.Meta{})
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	second, err := store.Save(ctx, ref, json.RawMessage(`{"tempKeys":[1]}`), state.Meta{})
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if first.ETag == second.ETag || first.SnapshotID == second.SnapshotID {
		t.Fatalf("expected new snapshot identity, got %+v then %+v", first, second)
	}
	got, meta, _, err := store.Load(ctx, ref)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != `{"tempKeys":[1]}` || meta.ETag != second.ETag {
		t.Fatalf("expected latest snapshot, got %s (%s)", got, meta.ETag)
	}
}

func TestStoreMutateGuardsETag(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	ref := state.MetadataRef("sales")
	first, err := store.Save(ctx, ref, json.RawMessage(`{"name":"sales"}`), state.Meta{})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	_, _, err = state.Mutate[json.RawMessage](ctx, store, ref, state.Meta{ETag: first.ETag}, func(doc *json.RawMessage) error {
		*doc = json.RawMessage(`{"name":"sales","v":2}`)
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	_, _, err = state.Mutate[json.RawMessage](ctx, store, ref, state.Meta{ETag: first.ETag}, func(*json.RawMessage) error { return nil })
	if !errors.Is(err, state.ErrETagMismatch) {
		t.Fatalf("expected ErrETagMismatch, got %v", err)
	}
}

func TestStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	refs := []state.Ref{
		state.MetadataRef("sales"),
		state.EntitiesRef("offline"),
		{Kind: state.KindMetadata, Name: "sales", Tenant: "acme"},
	}
	for _, ref := range refs {
		if _, err := store.Save(ctx, ref, json.RawMessage(`{}`), state.Meta{}); err != nil {
			t.Fatalf("save %+v: %v", ref, err)
		}
	}

	listed, err := store.List(ctx, state.KindMetadata)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 2 || listed[0] != refs[0] || listed[1] != refs[2] {
		t.Fatalf("unexpected metadata refs %v", listed)
	}
	all, _ := store.List(ctx, "")
	if len(all) != 3 {
		t.Fatalf("expected three refs, got %v", all)
	}

	if err := store.Delete(ctx, refs[1]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, refs[1]); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

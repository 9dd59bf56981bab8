package state_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/goliatone/go-tracker/pkg/state"
)

func TestMemoryStoreStampsSaves(t *testing.T) {
	store := state.NewMemoryStore[map[string]any]()
	ref := state.MetadataRef("sales")
	snapshot := map[string]any{"name": "sales"}

	before := time.Now().Add(-time.Second)
	meta, err := store.Save(context.Background(), ref, snapshot, state.Meta{Extra: map[string]string{"author": "ops"}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := ulid.Parse(meta.SnapshotID); err != nil {
		t.Fatalf("expected a ulid snapshot id, got %q: %v", meta.SnapshotID, err)
	}
	want, err := state.ContentETag(snapshot)
	if err != nil {
		t.Fatalf("etag: %v", err)
	}
	if meta.ETag != want {
		t.Fatalf("expected content etag %q, got %q", want, meta.ETag)
	}
	if meta.UpdatedAt.Location() != time.UTC || meta.UpdatedAt.Before(before) {
		t.Fatalf("expected a fresh UTC timestamp, got %v", meta.UpdatedAt)
	}

	got, loaded, ok, err := store.Load(context.Background(), ref)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got["name"] != "sales" {
		t.Fatalf("unexpected snapshot %v", got)
	}
	if loaded.ETag != meta.ETag || loaded.Extra["author"] != "ops" {
		t.Fatalf("expected stored meta returned, got %+v", loaded)
	}
}

func TestMemoryStoreSameContentSameETag(t *testing.T) {
	store := state.NewMemoryStore[map[string]any]()
	first, err := store.Save(context.Background(), state.EntitiesRef("a"), map[string]any{"x": 1}, state.Meta{})
	if err != nil {
		t.Fatalf("save a: %v", err)
	}
	second, err := store.Save(context.Background(), state.EntitiesRef("b"), map[string]any{"x": 1}, state.Meta{})
	if err != nil {
		t.Fatalf("save b: %v", err)
	}
	if first.ETag != second.ETag {
		t.Fatalf("expected equal etags for equal content, got %q and %q", first.ETag, second.ETag)
	}
	if first.SnapshotID == second.SnapshotID {
		t.Fatal("expected distinct snapshot ids")
	}
}

func TestMemoryStoreLoadMissing(t *testing.T) {
	store := state.NewMemoryStore[string]()
	_, _, ok, err := store.Load(context.Background(), state.MetadataRef("missing"))
	if err != nil || ok {
		t.Fatalf("expected ok=false without error, got ok=%v err=%v", ok, err)
	}
	if _, _, _, err := store.Load(context.Background(), state.Ref{Kind: state.KindMetadata}); err == nil {
		t.Fatal("expected an invalid ref to fail")
	}
}

func TestMemoryStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore[string]()
	refs := []state.Ref{
		state.EntitiesRef("drafts"),
		state.MetadataRef("sales"),
		state.MetadataRef("hr"),
		{Kind: state.KindMetadata, Name: "sales", Tenant: "acme"},
	}
	for _, ref := range refs {
		if _, err := store.Save(ctx, ref, ref.Name, state.Meta{}); err != nil {
			t.Fatalf("save %+v: %v", ref, err)
		}
	}

	metadata, err := store.List(ctx, state.KindMetadata)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	wantNames := []string{"hr", "sales", "sales"}
	if len(metadata) != len(wantNames) {
		t.Fatalf("expected %d metadata refs, got %v", len(wantNames), metadata)
	}
	for i, ref := range metadata {
		if ref.Name != wantNames[i] {
			t.Fatalf("expected %q at %d, got %+v", wantNames[i], i, ref)
		}
	}
	if metadata[2].Tenant != "acme" {
		t.Fatalf("expected tenant ref sorted last, got %+v", metadata[2])
	}

	all, _ := store.List(ctx, "")
	if len(all) != 4 {
		t.Fatalf("expected every ref listed, got %v", all)
	}

	if err := store.Delete(ctx, state.MetadataRef("hr")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, state.MetadataRef("hr")); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

package layering_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-tracker/layering"
)

func TestMergeFromFixture(t *testing.T) {
	fx := loadLayeringFixture(t, "layering_custom.json")

	for _, tc := range fx.Cases {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			layers := make([]map[string]any, len(tc.Layers))
			for i := range tc.Layers {
				layers[i] = tc.Layers[i].Custom
			}
			if diff := cmp.Diff(tc.Expect, layering.Merge(layers...)); diff != "" {
				t.Errorf("merged custom mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMergeDoesNotAlias(t *testing.T) {
	weak := map[string]any{"ui": map[string]any{"order": 2}, "tags": []any{"a"}}
	strong := map[string]any{"label": "Name", "ui": map[string]any{"hidden": true}}

	merged := layering.Merge(strong, weak)
	merged["ui"].(map[string]any)["order"] = 5
	merged["ui"].(map[string]any)["hidden"] = false
	merged["tags"].([]any)[0] = "z"

	if weak["ui"].(map[string]any)["order"] != 2 || weak["tags"].([]any)[0] != "a" {
		t.Fatalf("expected weak layer untouched, got %v", weak)
	}
	if strong["ui"].(map[string]any)["hidden"] != true {
		t.Fatalf("expected strong layer untouched, got %v", strong)
	}
}

func TestMergeBlockReplacesScalar(t *testing.T) {
	got := layering.Merge(map[string]any{"display": map[string]any{"label": "A"}}, map[string]any{"display": "compact"})
	want := map[string]any{"display": map[string]any{"label": "A"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeNilLayers(t *testing.T) {
	if got := layering.Merge(); got != nil {
		t.Fatalf("expected nil for no layers, got %v", got)
	}
	if got := layering.Merge(nil, nil); got != nil {
		t.Fatalf("expected nil when every layer is nil, got %v", got)
	}
}

func TestClone(t *testing.T) {
	src := map[string]any{"tags": []any{"a", "b"}, "ui": map[string]any{"hidden": true}, "names": []string{"x"}}
	clone := layering.Clone(src)
	clone["ui"].(map[string]any)["hidden"] = false
	clone["tags"].([]any)[0] = "z"
	clone["names"].([]string)[0] = "y"

	if src["ui"].(map[string]any)["hidden"] != true || src["tags"].([]any)[0] != "a" || src["names"].([]string)[0] != "x" {
		t.Fatalf("clone shares state with source: %v", src)
	}
	if layering.Clone(nil) != nil {
		t.Fatalf("expected nil clone of nil map")
	}
}

type layeringFixture struct {
	Description string                `json:"description"`
	Cases       []layeringFixtureCase `json:"cases"`
}

type layeringFixtureCase struct {
	Name   string                 `json:"name"`
	Layers []layeringFixtureLayer `json:"layers"`
	Expect map[string]any         `json:"expect"`
}

type layeringFixtureLayer struct {
	Source string         `json:"source"`
	Custom map[string]any `json:"custom"`
}

func loadLayeringFixture(t *testing.T, name string) layeringFixture {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read layering fixture %q: %v", name, err)
	}
	var fx layeringFixture
	if err := json.Unmarshal(raw, &fx); err != nil {
		t.Fatalf("failed to unmarshal layering fixture %q: %v", name, err)
	}
	return fx
}

package state_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-tracker/pkg/state"
)

type refFixture struct {
	Cases []struct {
		Name string `json:"name"`
		Ref  struct {
			Kind   string `json:"kind"`
			Name   string `json:"name"`
			Tenant string `json:"tenant"`
		} `json:"ref"`
		Expect struct {
			Value string `json:"value"`
			Err   string `json:"err"`
		} `json:"expect"`
	} `json:"cases"`
}

func TestRefIdentifierRoundTrip(t *testing.T) {
	var fx refFixture
	if err := json.Unmarshal(readTestdata(t, "state_identifier.json"), &fx); err != nil {
		t.Fatalf("decode fixture: %v", err)
	}

	for _, tc := range fx.Cases {
		t.Run(tc.Name, func(t *testing.T) {
			ref := state.Ref{Kind: state.Kind(tc.Ref.Kind), Name: tc.Ref.Name, Tenant: tc.Ref.Tenant}
			id, err := ref.Identifier()
			if tc.Expect.Err != "" {
				if err == nil || err.Error() != tc.Expect.Err {
					t.Fatalf("expected error %q, got %v", tc.Expect.Err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("identifier: %v", err)
			}
			if id != tc.Expect.Value {
				t.Fatalf("expected %q, got %q", tc.Expect.Value, id)
			}

			parsed, err := state.ParseRef(id)
			if err != nil {
				t.Fatalf("parse %q: %v", id, err)
			}
			if diff := cmp.Diff(ref, parsed); diff != "" {
				t.Fatalf("ref changed across parse (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseRefRejectsMalformedIdentifiers(t *testing.T) {
	for _, id := range []string{"", "metadata", "a/b/c", "account/acme/metadata/sales", "tenant/acme/settings/ui"} {
		if _, err := state.ParseRef(id); err == nil {
			t.Errorf("expected %q to be rejected", id)
		}
	}
}

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("..", "..", "testdata", name))
	if err != nil {
		t.Fatalf("read fixture %q: %v", name, err)
	}
	return raw
}

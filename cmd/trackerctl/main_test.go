package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goliatone/go-tracker/pkg/state"
)

const salesFixture = "../../testdata/metadata_sales.json"

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := newApp(&stdout, &stderr).Run(context.Background(), append([]string{"trackerctl"}, args...))
	return stdout.String(), err
}

func TestValidateCommand(t *testing.T) {
	out, err := runCLI(t, "validate", salesFixture)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, ": ok (") {
		t.Fatalf("unexpected validate output %q", out)
	}

	if _, err := runCLI(t, "validate"); err == nil {
		t.Fatal("expected an error without a file argument")
	}
	if _, err := runCLI(t, "validate", filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestConvertCommandRoundTrip(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "sales.yaml")
	if _, err := runCLI(t, "convert", "--to", "yaml", "--out", yamlPath, salesFixture); err != nil {
		t.Fatalf("convert to yaml: %v", err)
	}
	raw, err := os.ReadFile(yamlPath)
	if err != nil {
		t.Fatalf("read yaml: %v", err)
	}
	if !bytes.Contains(raw, []byte("structuralTypes:")) {
		t.Fatalf("expected yaml metadata document, got:\n%s", raw)
	}

	out, err := runCLI(t, "convert", "--to", "json", yamlPath)
	if err != nil {
		t.Fatalf("convert back to json: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("expected json output: %v", err)
	}
	if doc["name"] != "sales" {
		t.Fatalf("expected store name kept, got %v", doc["name"])
	}

	if _, err := runCLI(t, "convert", "--to", "xml", salesFixture); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}

func TestSchemaCommand(t *testing.T) {
	out, err := runCLI(t, "schema", "--title", "Sales", "--base-path", "api", salesFixture)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("expected json document: %v", err)
	}
	info, _ := doc["info"].(map[string]any)
	if info["title"] != "Sales" {
		t.Fatalf("expected title Sales, got %v", info["title"])
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/api/Customers"]; !ok {
		t.Fatalf("expected /api/Customers path, got %v", paths)
	}

	out, err = runCLI(t, "schema", "--format", "yaml", "--components-only", salesFixture)
	if err != nil {
		t.Fatalf("schema yaml: %v", err)
	}
	if !strings.Contains(out, "components:") || !strings.Contains(out, "paths: {}") {
		t.Fatalf("expected components without paths:\n%s", out)
	}
}

func TestDescribeCommand(t *testing.T) {
	out, err := runCLI(t, "describe", salesFixture, "Customer")
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 5 || !strings.HasPrefix(lines[0], "PATH") {
		t.Fatalf("unexpected describe output:\n%s", out)
	}
	if !strings.Contains(lines[4], "[]Order:#Sales") {
		t.Fatalf("expected orders collection row, got %q", lines[4])
	}
	if _, err := runCLI(t, "describe", salesFixture, "Invoice"); err == nil {
		t.Fatal("expected an error for an unknown type")
	}
}

func TestPushPullList(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "snapshots.db")

	out, err := runCLI(t, "push", "--dsn", dsn, salesFixture)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	fields := strings.Fields(out)
	if len(fields) != 3 || fields[0] != "sales" {
		t.Fatalf("unexpected push output %q", out)
	}
	etag := fields[2]

	if _, err := runCLI(t, "push", "--dsn", dsn, "--etag", "stale", salesFixture); !errors.Is(err, state.ErrETagMismatch) {
		t.Fatalf("expected ErrETagMismatch, got %v", err)
	}
	if _, err := runCLI(t, "push", "--dsn", dsn, "--etag", etag, salesFixture); err != nil {
		t.Fatalf("push with current etag: %v", err)
	}

	out, err = runCLI(t, "pull", "--dsn", dsn, "--name", "sales")
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if !strings.Contains(out, `"shortName": "Customer"`) && !strings.Contains(out, `"shortName":"Customer"`) {
		t.Fatalf("expected Customer in pulled metadata:\n%s", out)
	}

	if _, err := runCLI(t, "pull", "--dsn", dsn, "--name", "hr"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an unknown snapshot, got %v", err)
	}

	out, err = runCLI(t, "list", "--dsn", dsn)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.TrimSpace(out) != "metadata/sales" {
		t.Fatalf("unexpected list output %q", out)
	}
}

func TestConfigFlag(t *testing.T) {
	if _, err := runCLI(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "validate", salesFixture); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
	if _, err := runCLI(t, "--config", "../../testdata/tracker.yaml", "validate", salesFixture); err != nil {
		t.Fatalf("validate with config: %v", err)
	}
}

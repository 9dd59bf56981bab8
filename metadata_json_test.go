package tracker_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	tracker "github.com/goliatone/go-tracker"
)

func TestImportMetadataResolvesTypes(t *testing.T) {
	store := loadSalesStore(t)

	if store.Name() != "sales" {
		t.Fatalf("expected store name from document, got %q", store.Name())
	}
	if store.ComparisonOptions() != tracker.CaseInsensitiveSQL {
		t.Fatalf("expected caseInsensitiveSQL comparison, got %v", store.ComparisonOptions())
	}
	customer, err := store.GetEntityType("Customer")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	order, err := store.GetEntityType("Order:#Sales")
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(customer.KeyProperties) != 1 || customer.KeyProperties[0].Name != "customerID" {
		t.Fatalf("unexpected customer keys: %v", customer.KeyProperties)
	}
	if order.AutoGeneratedKeyType != tracker.AutoKeyIdentity {
		t.Fatalf("expected Identity keys on Order, got %v", order.AutoGeneratedKeyType)
	}
	if len(order.ConcurrencyProperties) != 1 || order.ConcurrencyProperties[0].Name != "rowVersion" {
		t.Fatalf("expected rowVersion concurrency property, got %v", order.ConcurrencyProperties)
	}

	orders := customer.GetNavigationProperty("orders")
	toCustomer := order.GetNavigationProperty("customer")
	if orders == nil || toCustomer == nil {
		t.Fatal("expected both navigation properties")
	}
	if orders.Inverse != toCustomer || toCustomer.Inverse != orders {
		t.Fatal("expected navigation properties to be each other's inverse")
	}
	if orders.EntityType != order || toCustomer.EntityType != customer {
		t.Fatal("expected navigation targets resolved")
	}
	if fk := order.GetDataProperty("customerID"); fk == nil || fk.RelatedNavigationProperty != toCustomer {
		t.Fatal("expected customerID to back the customer navigation")
	}
	if name, ok := store.GetEntityTypeNameForResourceName("Orders"); !ok || name != "Order:#Sales" {
		t.Fatalf("expected Orders resource mapping, got %q", name)
	}
	if err := store.ResolveIncomplete(); err != nil {
		t.Fatalf("expected every navigation property resolved, got %v", err)
	}
}

func TestExportMetadataRoundTrip(t *testing.T) {
	first := loadSalesStore(t)
	exported, err := first.ExportMetadata()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	second := tracker.NewMetadataStore()
	if err := second.ImportMetadata(exported, false); err != nil {
		t.Fatalf("reimport: %v", err)
	}
	reexported, err := second.ExportMetadata()
	if err != nil {
		t.Fatalf("re-export: %v", err)
	}

	if diff := cmp.Diff(decodeJSON(t, exported), decodeJSON(t, reexported)); diff != "" {
		t.Fatalf("metadata changed across a round trip (-first +second):\n%s", diff)
	}
}

func TestExportMetadataYAMLRoundTrip(t *testing.T) {
	first := loadSalesStore(t)
	doc, err := first.ExportMetadataYAML()
	if err != nil {
		t.Fatalf("export yaml: %v", err)
	}
	if !bytes.Contains(doc, []byte("metadataVersion: "+tracker.MetadataVersion)) {
		t.Fatalf("expected metadataVersion key in yaml output:\n%s", doc)
	}

	second := tracker.NewMetadataStore()
	if err := second.ImportMetadataYAML(doc, false); err != nil {
		t.Fatalf("import yaml: %v", err)
	}
	want, _ := first.ExportMetadata()
	got, _ := second.ExportMetadata()
	if diff := cmp.Diff(decodeJSON(t, want), decodeJSON(t, got)); diff != "" {
		t.Fatalf("yaml import differs from the json source (-want +got):\n%s", diff)
	}
}

func TestImportMetadataVersionMismatch(t *testing.T) {
	raw := readFixture(t, "metadata_sales.json")
	stale := bytes.Replace(raw, []byte(`"metadataVersion": "1.0.5"`), []byte(`"metadataVersion": "0.8.0"`), 1)

	err := tracker.NewMetadataStore().ImportMetadata(stale, false)
	if !errors.Is(err, tracker.ErrMetadataVersion) {
		t.Fatalf("expected ErrMetadataVersion, got %v", err)
	}
}

func TestImportMetadataNamingConventionConflict(t *testing.T) {
	doc := []byte(`{"metadataVersion":"1.0.5","namingConvention":"camelCase","structuralTypes":[]}`)

	store := loadSalesStore(t)
	if err := store.ImportMetadata(doc, false); !errors.Is(err, tracker.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for a different naming convention, got %v", err)
	}
	if err := store.ImportMetadata(doc, true); err != nil {
		t.Fatalf("expected merge import to replace the convention, got %v", err)
	}
	if store.NamingConvention().Name != "camelCase" {
		t.Fatalf("expected camelCase after merge, got %s", store.NamingConvention().Name)
	}

	unknown := []byte(`{"metadataVersion":"1.0.5","namingConvention":"kebab","structuralTypes":[]}`)
	if err := tracker.NewMetadataStore().ImportMetadata(unknown, false); !errors.Is(err, tracker.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for an unknown convention, got %v", err)
	}
}

func TestImportMetadataMergesCustomBlocks(t *testing.T) {
	store := loadSalesStore(t)
	overlay := []byte(`{
		"metadataVersion": "1.0.5",
		"structuralTypes": [{
			"shortName": "Customer",
			"namespace": "Sales",
			"dataProperties": [{"name": "companyName", "custom": {"display": {"label": "Company"}}}],
			"custom": {"display": {"width": 120}, "audit": true}
		}]
	}`)

	if err := store.ImportMetadata(overlay, false); err != nil {
		t.Fatalf("import without merge: %v", err)
	}
	customer, _ := store.GetEntityType("Customer")
	if _, ok := customer.Custom["audit"]; ok {
		t.Fatal("custom blocks must not change without allowMerge")
	}

	if err := store.ImportMetadata(overlay, true); err != nil {
		t.Fatalf("import with merge: %v", err)
	}
	want := map[string]any{
		"display": map[string]any{"label": "Customer", "width": float64(120)},
		"audit":   true,
	}
	if diff := cmp.Diff(want, customer.Custom); diff != "" {
		t.Fatalf("merged custom mismatch (-want +got):\n%s", diff)
	}
	label := customer.GetDataProperty("companyName").Custom
	if diff := cmp.Diff(map[string]any{"display": map[string]any{"label": "Company"}}, label); diff != "" {
		t.Fatalf("property custom mismatch (-want +got):\n%s", diff)
	}

	type display struct {
		Label string `json:"label"`
		Width int    `json:"width"`
	}
	type customerCustom struct {
		Display display `json:"display"`
		Audit   bool    `json:"audit"`
	}
	decoded, err := tracker.DecodeCustom[customerCustom](customer.Custom)
	if err != nil {
		t.Fatalf("decode custom: %v", err)
	}
	if decoded.Display.Label != "Customer" || decoded.Display.Width != 120 || !decoded.Audit {
		t.Fatalf("unexpected decoded custom: %+v", decoded)
	}
}

func TestImportMetadataMissingBaseType(t *testing.T) {
	doc := []byte(`{
		"metadataVersion": "1.0.5",
		"structuralTypes": [{
			"shortName": "PriorityOrder",
			"namespace": "Sales",
			"baseTypeName": "Order:#Sales",
			"dataProperties": [{"name": "priority", "dataType": "Int32"}]
		}]
	}`)
	err := tracker.NewMetadataStore().ImportMetadata(doc, false)
	if !errors.Is(err, tracker.ErrTypeNotFound) {
		t.Fatalf("expected ErrTypeNotFound for a missing base type, got %v", err)
	}
}

func TestImportMetadataSubtypeAfterBase(t *testing.T) {
	store := loadSalesStore(t)
	doc := []byte(`{
		"metadataVersion": "1.0.5",
		"structuralTypes": [{
			"shortName": "PriorityOrder",
			"namespace": "Sales",
			"baseTypeName": "Order:#Sales",
			"dataProperties": [{"name": "priority", "dataType": "Int32"}]
		}]
	}`)
	if err := store.ImportMetadata(doc, false); err != nil {
		t.Fatalf("import subtype: %v", err)
	}
	sub, err := store.GetEntityType("PriorityOrder")
	if err != nil {
		t.Fatalf("get subtype: %v", err)
	}
	order, _ := store.GetEntityType("Order")
	if sub.BaseEntityType != order || !sub.IsSubtypeOf(order) {
		t.Fatal("expected PriorityOrder to derive from Order")
	}
	if len(sub.KeyProperties) != 1 || sub.KeyProperties[0].Name != "orderID" {
		t.Fatalf("expected inherited key, got %v", sub.KeyProperties)
	}
	if sub.GetDataProperty("freight") == nil || sub.GetDataProperty("priority") == nil {
		t.Fatal("expected inherited and own data properties")
	}
}

func decodeJSON(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	return out
}

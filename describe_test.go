package tracker_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	tracker "github.com/goliatone/go-tracker"
)

func TestDescribeTypeFlattensProperties(t *testing.T) {
	store := loadSalesStore(t)
	customer, err := store.GetEntityType("Customer")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}

	want := []tracker.FieldDescriptor{
		{Path: "city", Type: "String", Nullable: true},
		{Path: "companyName", Type: "String"},
		{Path: "customerID", Type: "Guid", Key: true},
		{Path: "orders", Type: "[]Order:#Sales"},
	}
	if diff := cmp.Diff(want, tracker.DescribeType(customer)); diff != "" {
		t.Fatalf("descriptor mismatch (-want +got):\n%s", diff)
	}

	order, _ := store.GetEntityType("Order")
	var customerNav tracker.FieldDescriptor
	for _, f := range tracker.DescribeType(order) {
		if f.Path == "customer" {
			customerNav = f
		}
	}
	if customerNav.Type != "Customer:#Sales" || !customerNav.Nullable {
		t.Fatalf("unexpected scalar navigation descriptor %+v", customerNav)
	}
}

func TestDescribeTypeComplexProperties(t *testing.T) {
	store := tracker.NewMetadataStore()
	doc := []byte(`{
		"metadataVersion": "1.0.5",
		"structuralTypes": [
			{
				"shortName": "Address", "namespace": "Sales", "isComplexType": true,
				"dataProperties": [
					{"name": "street", "dataType": "String"},
					{"name": "city", "dataType": "String"}
				]
			},
			{
				"shortName": "Supplier", "namespace": "Sales",
				"dataProperties": [
					{"name": "supplierID", "dataType": "Int32", "isNullable": false, "isPartOfKey": true},
					{"name": "address", "complexTypeName": "Address:#Sales"},
					{"name": "tags", "dataType": "String", "isScalar": false}
				]
			}
		]
	}`)
	if err := store.ImportMetadata(doc, false); err != nil {
		t.Fatalf("import: %v", err)
	}
	supplier, err := store.GetEntityType("Supplier")
	if err != nil {
		t.Fatalf("get supplier: %v", err)
	}

	got := tracker.DescribeType(supplier)
	paths := make([]string, 0, len(got))
	for _, f := range got {
		paths = append(paths, f.Path)
	}
	if diff := cmp.Diff([]string{"address.city", "address.street", "supplierID", "tags"}, paths); diff != "" {
		t.Fatalf("paths mismatch (-want +got):\n%s", diff)
	}
	if got[3].Type != "[]String" {
		t.Fatalf("expected collection type for tags, got %q", got[3].Type)
	}
	if len(tracker.DescribeType(nil)) != 0 {
		t.Fatal("expected no descriptors for a nil type")
	}
}

package tracker_test

import (
	"os"
	"path/filepath"
	"testing"

	tracker "github.com/goliatone/go-tracker"
)

const (
	alfredsID = "2f1a8c3e-5b7d-4e90-a1b2-c3d4e5f60718"
	bottomID  = "9c8b7a65-4321-4fed-8cba-0987654321ab"
)

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture %q: %v", name, err)
	}
	return raw
}

func loadSalesStore(t *testing.T, opts ...tracker.MetadataStoreOption) *tracker.MetadataStore {
	t.Helper()
	store := tracker.NewMetadataStore(opts...)
	if err := store.ImportMetadata(readFixture(t, "metadata_sales.json"), false); err != nil {
		t.Fatalf("import sales metadata: %v", err)
	}
	return store
}

func newSalesManager(t *testing.T, opts ...tracker.ManagerOption) *tracker.EntityManager {
	t.Helper()
	return tracker.NewEntityManager(loadSalesStore(t), opts...)
}

func attachCustomer(t *testing.T, em *tracker.EntityManager, id, name string) tracker.Entity {
	t.Helper()
	customer, err := em.CreateEntity("Customer", map[string]any{
		"customerID":  id,
		"companyName": name,
	}, tracker.StateUnchanged)
	if err != nil {
		t.Fatalf("attach customer %s: %v", name, err)
	}
	return customer
}

func attachOrder(t *testing.T, em *tracker.EntityManager, orderID int, customerID string) tracker.Entity {
	t.Helper()
	values := map[string]any{"orderID": orderID, "rowVersion": 1}
	if customerID != "" {
		values["customerID"] = customerID
	}
	order, err := em.CreateEntity("Order", values, tracker.StateUnchanged)
	if err != nil {
		t.Fatalf("attach order %d: %v", orderID, err)
	}
	return order
}

func ordersOf(t *testing.T, customer tracker.Entity) *tracker.RelationArray {
	t.Helper()
	orders, ok := customer.GetProperty("orders").(*tracker.RelationArray)
	if !ok {
		t.Fatalf("expected orders relation array, got %T", customer.GetProperty("orders"))
	}
	return orders
}

func stateOf(e tracker.Entity) tracker.EntityState {
	return e.EntityAspect().EntityState()
}

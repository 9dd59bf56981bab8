package tracker_test

import (
	"bytes"
	"errors"
	"testing"

	tracker "github.com/goliatone/go-tracker"
)

func populatedManager(t *testing.T) (*tracker.EntityManager, tracker.Entity) {
	t.Helper()
	em := newSalesManager(t)
	customer := attachCustomer(t, em, alfredsID, "Alfreds")
	if err := customer.SetProperty("companyName", "Alfreds Futterkiste"); err != nil {
		t.Fatalf("set companyName: %v", err)
	}
	attachOrder(t, em, 10248, alfredsID)
	added, err := em.CreateEntity("Order", map[string]any{"customerID": alfredsID}, tracker.StateAdded)
	if err != nil {
		t.Fatalf("add order: %v", err)
	}
	return em, added
}

func TestExportImportRoundTrip(t *testing.T) {
	source, added := populatedManager(t)
	data, err := source.ExportEntities()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	target := newSalesManager(t)
	imported, err := target.ImportEntities(data, tracker.MergeDisallowed)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(imported) != 3 {
		t.Fatalf("expected three imported entities, got %d", len(imported))
	}

	customer, _ := target.GetEntityByKey("Customer", alfredsID)
	if customer == nil {
		t.Fatal("expected imported customer")
	}
	if stateOf(customer) != tracker.StateModified {
		t.Fatalf("expected Modified customer, got %s", stateOf(customer))
	}
	if got := customer.EntityAspect().OriginalValues()["companyName"]; got != "Alfreds" {
		t.Fatalf("expected original companyName kept, got %v", got)
	}

	tempID := added.GetProperty("orderID")
	importedAdded, _ := target.GetEntityByKey("Order", tempID)
	if importedAdded == nil {
		t.Fatalf("expected added order under its temporary key %v", tempID)
	}
	if stateOf(importedAdded) != tracker.StateAdded || !importedAdded.EntityAspect().HasTempKey() {
		t.Fatalf("expected Added order with a temporary key, got %s", stateOf(importedAdded))
	}
	if importedAdded.GetProperty("customer") != customer {
		t.Fatal("expected imported order linked to imported customer")
	}
	if got := ordersOf(t, customer).Len(); got != 2 {
		t.Fatalf("expected two orders on the imported customer, got %d", got)
	}
	if !target.HasChanges() {
		t.Fatal("expected imported pending changes to register")
	}

	// Newly generated temporary keys must not collide with imported ones.
	next, err := target.CreateEntity("Order", nil, tracker.StateAdded)
	if err != nil {
		t.Fatalf("add after import: %v", err)
	}
	if next.GetProperty("orderID") == tempID {
		t.Fatal("expected a fresh temporary key after import")
	}
}

func TestImportIntoSourceRemapsTempKeys(t *testing.T) {
	em, added := populatedManager(t)
	data, err := em.ExportEntities(added)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	imported, err := em.ImportEntities(data, tracker.MergeOverwriteChanges)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(imported) != 1 || imported[0] == added {
		t.Fatal("expected a second added order")
	}
	if imported[0].GetProperty("orderID") == added.GetProperty("orderID") {
		t.Fatal("expected the colliding temporary key to be regenerated")
	}
	orderType := added.EntityType()
	if got := em.GetEntities([]*tracker.EntityType{orderType}, tracker.StateAdded); len(got) != 2 {
		t.Fatalf("expected two added orders, got %d", len(got))
	}
}

func TestImportMergeStrategies(t *testing.T) {
	source := newSalesManager(t)
	exported := attachCustomer(t, source, alfredsID, "Alfreds (server)")
	data, err := source.ExportEntities(exported)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	cases := []struct {
		name     string
		strategy tracker.MergeStrategy
		wantName string
		wantErr  error
	}{
		{name: "preserve", strategy: tracker.MergePreserveChanges, wantName: "Alfreds (local)"},
		{name: "overwrite", strategy: tracker.MergeOverwriteChanges, wantName: "Alfreds (server)"},
		{name: "skip", strategy: tracker.MergeSkipMerge, wantName: "Alfreds (local)"},
		{name: "disallowed", strategy: tracker.MergeDisallowed, wantErr: tracker.ErrKeyConflict},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			em := newSalesManager(t)
			local := attachCustomer(t, em, alfredsID, "Alfreds")
			if err := local.SetProperty("companyName", "Alfreds (local)"); err != nil {
				t.Fatalf("set companyName: %v", err)
			}
			_, err := em.ImportEntities(data, tc.strategy)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("import: %v", err)
			}
			if got := local.GetProperty("companyName"); got != tc.wantName {
				t.Fatalf("expected %q, got %v", tc.wantName, got)
			}
		})
	}
}

func TestImportRejectsOtherMetadataVersion(t *testing.T) {
	em, _ := populatedManager(t)
	data, err := em.ExportEntities()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	stale := bytes.Replace(data, []byte(`"metadataVersion":"`+tracker.MetadataVersion+`"`), []byte(`"metadataVersion":"0.9.0"`), 1)

	if _, err := newSalesManager(t).ImportEntities(stale, tracker.MergeDisallowed); !errors.Is(err, tracker.ErrMetadataVersion) {
		t.Fatalf("expected ErrMetadataVersion, got %v", err)
	}
}

func TestExportRejectsForeignEntities(t *testing.T) {
	store := loadSalesStore(t)
	first := tracker.NewEntityManager(store)
	second := tracker.NewEntityManager(store)
	customer := attachCustomer(t, first, alfredsID, "Alfreds")

	if _, err := second.ExportEntities(customer); !errors.Is(err, tracker.ErrOtherManager) {
		t.Fatalf("expected ErrOtherManager, got %v", err)
	}
}

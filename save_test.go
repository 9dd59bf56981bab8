package tracker_test

import (
	"context"
	"errors"
	"testing"

	tracker "github.com/goliatone/go-tracker"
)

func TestSaveChangesFixesTempKeys(t *testing.T) {
	var bundles []tracker.SaveBundle
	var savingDuringCall bool
	var order tracker.Entity

	provider := tracker.SaveProviderFunc(func(_ context.Context, bundle tracker.SaveBundle) (*tracker.SaveResponse, error) {
		bundles = append(bundles, bundle)
		savingDuringCall = order.EntityAspect().IsBeingSaved()
		temp := bundle.Entities[0].Key.Values()[0]
		return &tracker.SaveResponse{
			KeyMappings: []tracker.KeyMapping{{EntityTypeName: "Order:#Sales", TempValue: temp, RealValue: float64(10300)}},
			Entities: []map[string]any{
				{"orderID": float64(10300), "customerID": alfredsID, "freight": 5.5, "rowVersion": float64(1)},
			},
		}, nil
	})
	em := newSalesManager(t, tracker.WithSaveProvider(provider))
	customer := attachCustomer(t, em, alfredsID, "Alfreds")

	var err error
	order, err = em.CreateEntity("Order", map[string]any{"customerID": alfredsID, "freight": 5.5}, tracker.StateAdded)
	if err != nil {
		t.Fatalf("add order: %v", err)
	}
	tempID := order.GetProperty("orderID")

	result, err := em.SaveChanges(context.Background(), tracker.SaveOptions{})
	if err != nil {
		t.Fatalf("save changes: %v", err)
	}
	if len(bundles) != 1 || len(bundles[0].Entities) != 1 {
		t.Fatalf("expected one saved entity, got %+v", bundles)
	}
	saved := bundles[0].Entities[0]
	if saved.EntityType != "Order:#Sales" || saved.State != tracker.StateAdded || !saved.HasTempKey {
		t.Fatalf("unexpected save entity: %+v", saved)
	}
	if saved.Values["customerID"] != alfredsID {
		t.Fatalf("expected server values in bundle, got %v", saved.Values)
	}
	if !savingDuringCall {
		t.Fatal("expected IsBeingSaved while the provider runs")
	}
	if order.EntityAspect().IsBeingSaved() {
		t.Fatal("expected IsBeingSaved cleared after save")
	}

	if got := order.GetProperty("orderID"); got != int64(10300) {
		t.Fatalf("expected permanent key, got %v", got)
	}
	if stateOf(order) != tracker.StateUnchanged || order.EntityAspect().HasTempKey() {
		t.Fatalf("expected Unchanged with a permanent key, got %s", stateOf(order))
	}
	if found, _ := em.GetEntityByKey("Order", 10300); found != order {
		t.Fatal("expected order cached under its permanent key")
	}
	if found, _ := em.GetEntityByKey("Order", tempID); found != nil {
		t.Fatal("expected temporary key released")
	}
	if order.GetProperty("customer") != customer || !ordersOf(t, customer).Contains(order) {
		t.Fatal("expected relations kept across key fixup")
	}
	if len(result.Entities) != 1 || len(result.KeyMappings) != 1 {
		t.Fatalf("unexpected save result: %+v", result)
	}
	if em.HasChanges() {
		t.Fatal("expected no pending changes after save")
	}
}

func TestSaveChangesBumpsConcurrencyValues(t *testing.T) {
	var rowVersions []any
	provider := tracker.SaveProviderFunc(func(_ context.Context, bundle tracker.SaveBundle) (*tracker.SaveResponse, error) {
		for _, e := range bundle.Entities {
			rowVersions = append(rowVersions, e.Values["rowVersion"])
		}
		return &tracker.SaveResponse{}, nil
	})
	em := newSalesManager(t, tracker.WithSaveProvider(provider))

	auto := attachOrder(t, em, 1, "")
	if err := auto.SetProperty("freight", 10); err != nil {
		t.Fatalf("set freight: %v", err)
	}
	manual := attachOrder(t, em, 2, "")
	if err := manual.SetProperty("rowVersion", 7); err != nil {
		t.Fatalf("set rowVersion: %v", err)
	}

	if _, err := em.SaveChanges(context.Background(), tracker.SaveOptions{}, auto, manual); err != nil {
		t.Fatalf("save changes: %v", err)
	}
	if len(rowVersions) != 2 || rowVersions[0] != int64(2) || rowVersions[1] != int64(7) {
		t.Fatalf("expected rowVersions [2 7], got %v", rowVersions)
	}
	if stateOf(auto) != tracker.StateUnchanged || stateOf(manual) != tracker.StateUnchanged {
		t.Fatal("expected saved entities to accept their changes")
	}
}

func TestSaveChangesValidationFailure(t *testing.T) {
	called := false
	provider := tracker.SaveProviderFunc(func(context.Context, tracker.SaveBundle) (*tracker.SaveResponse, error) {
		called = true
		return &tracker.SaveResponse{}, nil
	})
	em := newSalesManager(t, tracker.WithSaveProvider(provider))
	customer, err := em.CreateEntity("Customer", map[string]any{"customerID": bottomID}, tracker.StateAdded)
	if err != nil {
		t.Fatalf("add customer: %v", err)
	}

	_, err = em.SaveChanges(context.Background(), tracker.SaveOptions{})
	if !errors.Is(err, tracker.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	var verr *tracker.SaveValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected SaveValidationError, got %T", err)
	}
	if len(verr.Entities) != 1 || verr.Entities[0] != customer || len(verr.Errors) == 0 {
		t.Fatalf("unexpected validation failure: %+v", verr)
	}
	if called {
		t.Fatal("provider must not be called when validation fails")
	}
	if stateOf(customer) != tracker.StateAdded {
		t.Fatalf("expected entity to keep its changes, got %s", stateOf(customer))
	}
}

func TestSaveChangesProviderFailureKeepsChanges(t *testing.T) {
	boom := errors.New("connection reset")
	provider := tracker.SaveProviderFunc(func(context.Context, tracker.SaveBundle) (*tracker.SaveResponse, error) {
		return nil, boom
	})
	em := newSalesManager(t, tracker.WithSaveProvider(provider))
	customer := attachCustomer(t, em, alfredsID, "Alfreds")
	if err := customer.SetProperty("city", "Berlin"); err != nil {
		t.Fatalf("set city: %v", err)
	}

	if _, err := em.SaveChanges(context.Background(), tracker.SaveOptions{}); !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if stateOf(customer) != tracker.StateModified || customer.EntityAspect().IsBeingSaved() {
		t.Fatal("expected pending changes kept after a failed save")
	}
	if customer.EntityAspect().OriginalValues()["city"] != nil {
		t.Fatalf("expected original city kept as nil, got %v", customer.EntityAspect().OriginalValues())
	}
	if _, ok := customer.EntityAspect().OriginalValues()["city"]; !ok {
		t.Fatal("expected original city recorded")
	}
}

func TestSaveChangesRejectsConcurrentSaves(t *testing.T) {
	var em *tracker.EntityManager
	var nested error
	provider := tracker.SaveProviderFunc(func(ctx context.Context, _ tracker.SaveBundle) (*tracker.SaveResponse, error) {
		if nested == nil {
			_, nested = em.SaveChanges(ctx, tracker.SaveOptions{})
		}
		return &tracker.SaveResponse{}, nil
	})
	em = newSalesManager(t, tracker.WithSaveProvider(provider))
	customer := attachCustomer(t, em, alfredsID, "Alfreds")
	if err := customer.SetProperty("city", "Berlin"); err != nil {
		t.Fatalf("set city: %v", err)
	}

	if _, err := em.SaveChanges(context.Background(), tracker.SaveOptions{}); err != nil {
		t.Fatalf("save changes: %v", err)
	}
	if !errors.Is(nested, tracker.ErrBeingSaved) {
		t.Fatalf("expected ErrBeingSaved for nested save, got %v", nested)
	}
}

func TestSaveChangesDeletedEntitiesDetach(t *testing.T) {
	provider := tracker.SaveProviderFunc(func(context.Context, tracker.SaveBundle) (*tracker.SaveResponse, error) {
		return &tracker.SaveResponse{}, nil
	})
	em := newSalesManager(t, tracker.WithSaveProvider(provider))
	order := attachOrder(t, em, 3, "")
	if _, err := order.EntityAspect().SetDeleted(); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := em.SaveChanges(context.Background(), tracker.SaveOptions{}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if stateOf(order) != tracker.StateDetached {
		t.Fatalf("expected saved delete to detach, got %s", stateOf(order))
	}
}

func TestSaveChangesWithoutProvider(t *testing.T) {
	em := newSalesManager(t)
	result, err := em.SaveChanges(context.Background(), tracker.SaveOptions{})
	if err != nil || len(result.Entities) != 0 {
		t.Fatalf("expected empty save without changes, got %+v, %v", result, err)
	}

	customer := attachCustomer(t, em, alfredsID, "Alfreds")
	if err := customer.SetProperty("city", "Berlin"); err != nil {
		t.Fatalf("set city: %v", err)
	}
	if _, err := em.SaveChanges(context.Background(), tracker.SaveOptions{}); !errors.Is(err, tracker.ErrNoSaveProvider) {
		t.Fatalf("expected ErrNoSaveProvider, got %v", err)
	}
}

package tracker_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	tracker "github.com/goliatone/go-tracker"
	"github.com/goliatone/go-tracker/pkg/activity"
)

func TestAttachAndFindByKey(t *testing.T) {
	em := newSalesManager(t)
	customer := attachCustomer(t, em, alfredsID, "Alfreds")

	if stateOf(customer) != tracker.StateUnchanged {
		t.Fatalf("expected Unchanged, got %s", stateOf(customer))
	}
	found, err := em.GetEntityByKey("Customer", "2F1A8C3E-5B7D-4E90-A1B2-C3D4E5F60718")
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if found != customer {
		t.Fatalf("expected guid keys to match case-insensitively")
	}
	if missing, _ := em.GetEntityByKey("Customer", bottomID); missing != nil {
		t.Fatalf("expected nil for uncached key, got %v", missing)
	}
	if _, err := em.GetEntityByKey("Supplier", 1); !errors.Is(err, tracker.ErrTypeNotFound) {
		t.Fatalf("expected ErrTypeNotFound, got %v", err)
	}
	if em.HasChanges() {
		t.Fatal("attaching unchanged entities should not register changes")
	}
}

func TestAttachDuplicateKeyWithDisallowed(t *testing.T) {
	em := newSalesManager(t)
	attachCustomer(t, em, alfredsID, "Alfreds")

	_, err := em.CreateEntity("Customer", map[string]any{"customerID": alfredsID, "companyName": "Copy"}, tracker.StateUnchanged)
	if !errors.Is(err, tracker.ErrKeyConflict) {
		t.Fatalf("expected ErrKeyConflict, got %v", err)
	}
}

func TestAttachToSecondManagerFails(t *testing.T) {
	store := loadSalesStore(t)
	first := tracker.NewEntityManager(store)
	second := tracker.NewEntityManager(store)
	customer := attachCustomer(t, first, alfredsID, "Alfreds")

	if _, err := second.AttachEntity(customer, tracker.StateUnchanged, tracker.MergeDisallowed); !errors.Is(err, tracker.ErrOtherManager) {
		t.Fatalf("expected ErrOtherManager, got %v", err)
	}
}

func TestPropertyChangeTracksOriginalValues(t *testing.T) {
	em := newSalesManager(t)
	customer := attachCustomer(t, em, alfredsID, "Alfreds")

	var hasChanges []bool
	em.HasChangesChanged.Subscribe(func(args tracker.HasChangesChangedArgs) {
		hasChanges = append(hasChanges, args.HasChanges)
	})

	if err := customer.SetProperty("companyName", "Alfreds Futterkiste"); err != nil {
		t.Fatalf("set companyName: %v", err)
	}
	if err := customer.SetProperty("companyName", "Alfreds GmbH"); err != nil {
		t.Fatalf("set companyName again: %v", err)
	}
	if stateOf(customer) != tracker.StateModified {
		t.Fatalf("expected Modified, got %s", stateOf(customer))
	}
	originals := customer.EntityAspect().OriginalValues()
	if originals["companyName"] != "Alfreds" {
		t.Fatalf("expected first original value to be kept, got %v", originals["companyName"])
	}
	if !em.HasChanges() || len(em.GetChanges()) != 1 {
		t.Fatalf("expected one pending change, got %d", len(em.GetChanges()))
	}

	rejected, err := em.RejectChanges()
	if err != nil {
		t.Fatalf("reject changes: %v", err)
	}
	if len(rejected) != 1 || rejected[0] != customer {
		t.Fatalf("expected the customer to be rejected, got %v", rejected)
	}
	if got := customer.GetProperty("companyName"); got != "Alfreds" {
		t.Fatalf("expected companyName restored, got %v", got)
	}
	if stateOf(customer) != tracker.StateUnchanged {
		t.Fatalf("expected Unchanged after reject, got %s", stateOf(customer))
	}
	if len(hasChanges) != 2 || !hasChanges[0] || hasChanges[1] {
		t.Fatalf("expected hasChanges true then false, got %v", hasChanges)
	}
}

func TestSettingSameValueIsNotAChange(t *testing.T) {
	em := newSalesManager(t)
	customer := attachCustomer(t, em, alfredsID, "Alfreds")

	if err := customer.SetProperty("companyName", "Alfreds"); err != nil {
		t.Fatalf("set companyName: %v", err)
	}
	if stateOf(customer) != tracker.StateUnchanged {
		t.Fatalf("expected Unchanged, got %s", stateOf(customer))
	}
}

func TestAcceptChangesClearsOriginals(t *testing.T) {
	em := newSalesManager(t)
	customer := attachCustomer(t, em, alfredsID, "Alfreds")
	if err := customer.SetProperty("city", "Berlin"); err != nil {
		t.Fatalf("set city: %v", err)
	}
	if err := em.AcceptChanges(); err != nil {
		t.Fatalf("accept changes: %v", err)
	}
	if stateOf(customer) != tracker.StateUnchanged {
		t.Fatalf("expected Unchanged, got %s", stateOf(customer))
	}
	if len(customer.EntityAspect().OriginalValues()) != 0 {
		t.Fatalf("expected originals cleared, got %v", customer.EntityAspect().OriginalValues())
	}
	if em.HasChanges() {
		t.Fatal("expected no pending changes after accept")
	}
}

func TestDeleteTransitions(t *testing.T) {
	em := newSalesManager(t)

	added, err := em.CreateEntity("Customer", map[string]any{"customerID": bottomID, "companyName": "Bottom"}, tracker.StateAdded)
	if err != nil {
		t.Fatalf("add customer: %v", err)
	}
	if _, err := added.EntityAspect().SetDeleted(); err != nil {
		t.Fatalf("delete added: %v", err)
	}
	if stateOf(added) != tracker.StateDetached {
		t.Fatalf("deleting an added entity should detach it, got %s", stateOf(added))
	}
	if em.HasChanges() {
		t.Fatal("expected no pending changes once the added entity is gone")
	}

	customer := attachCustomer(t, em, alfredsID, "Alfreds")
	if _, err := customer.EntityAspect().SetDeleted(); err != nil {
		t.Fatalf("delete unchanged: %v", err)
	}
	if stateOf(customer) != tracker.StateDeleted {
		t.Fatalf("expected Deleted, got %s", stateOf(customer))
	}
	if err := customer.EntityAspect().AcceptChanges(); err != nil {
		t.Fatalf("accept delete: %v", err)
	}
	if stateOf(customer) != tracker.StateDetached {
		t.Fatalf("accepting a delete should detach, got %s", stateOf(customer))
	}
	if found, _ := em.GetEntityByKey("Customer", alfredsID); found != nil {
		t.Fatal("expected detached entity to leave the cache")
	}
}

func TestSetStateOnDetachedEntityFails(t *testing.T) {
	store := loadSalesStore(t)
	et, err := store.GetEntityType("Customer")
	if err != nil {
		t.Fatalf("get type: %v", err)
	}
	customer, err := et.CreateEntity(map[string]any{"customerID": alfredsID})
	if err != nil {
		t.Fatalf("create entity: %v", err)
	}
	if _, err := customer.EntityAspect().SetModified(); !errors.Is(err, tracker.ErrDetachedState) {
		t.Fatalf("expected ErrDetachedState, got %v", err)
	}
}

func TestTempKeysForIdentityKeys(t *testing.T) {
	em := newSalesManager(t)
	first, err := em.CreateEntity("Order", nil, tracker.StateAdded)
	if err != nil {
		t.Fatalf("add order: %v", err)
	}
	second, err := em.CreateEntity("Order", nil, tracker.StateAdded)
	if err != nil {
		t.Fatalf("add second order: %v", err)
	}

	firstID, _ := first.GetProperty("orderID").(int64)
	secondID, _ := second.GetProperty("orderID").(int64)
	if firstID >= 0 || secondID >= 0 {
		t.Fatalf("expected negative temporary keys, got %v and %v", first.GetProperty("orderID"), second.GetProperty("orderID"))
	}
	if firstID == secondID {
		t.Fatalf("expected distinct temporary keys, got %d twice", firstID)
	}
	if !first.EntityAspect().HasTempKey() {
		t.Fatal("expected HasTempKey on generated key")
	}
}

func TestAddWithoutKeyFailsForUngeneratedKeys(t *testing.T) {
	em := newSalesManager(t)
	_, err := em.CreateEntity("Customer", map[string]any{"companyName": "Keyless"}, tracker.StateAdded)
	if !errors.Is(err, tracker.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for a missing key, got %v", err)
	}
}

func TestForeignKeyLinksParentAndChildren(t *testing.T) {
	em := newSalesManager(t)
	customer := attachCustomer(t, em, alfredsID, "Alfreds")
	order := attachOrder(t, em, 10248, alfredsID)

	if got := order.GetProperty("customer"); got != customer {
		t.Fatalf("expected order.customer to be linked, got %v", got)
	}
	orders := ordersOf(t, customer)
	if orders.Len() != 1 || !orders.Contains(order) {
		t.Fatalf("expected customer.orders to contain the order, got %d items", orders.Len())
	}
	if stateOf(customer) != tracker.StateUnchanged || stateOf(order) != tracker.StateUnchanged {
		t.Fatalf("linking must not change states: customer %s, order %s", stateOf(customer), stateOf(order))
	}
}

func TestChildAttachedBeforeParentIsLinkedLater(t *testing.T) {
	em := newSalesManager(t)
	order := attachOrder(t, em, 10249, bottomID)
	if got := order.GetProperty("customer"); got != nil {
		t.Fatalf("expected no parent yet, got %v", got)
	}

	customer := attachCustomer(t, em, bottomID, "Bottom")
	if got := order.GetProperty("customer"); got != customer {
		t.Fatalf("expected waiting child to be linked, got %v", got)
	}
	if orders := ordersOf(t, customer); !orders.Contains(order) {
		t.Fatal("expected parent collection to include the waiting child")
	}
}

func TestChangingForeignKeyMovesChild(t *testing.T) {
	em := newSalesManager(t)
	alfreds := attachCustomer(t, em, alfredsID, "Alfreds")
	bottom := attachCustomer(t, em, bottomID, "Bottom")
	order := attachOrder(t, em, 10250, alfredsID)

	if err := order.SetProperty("customerID", bottomID); err != nil {
		t.Fatalf("set customerID: %v", err)
	}
	if got := order.GetProperty("customer"); got != bottom {
		t.Fatalf("expected order to follow its foreign key, got %v", got)
	}
	if ordersOf(t, alfreds).Contains(order) {
		t.Fatal("expected order removed from previous parent")
	}
	if !ordersOf(t, bottom).Contains(order) {
		t.Fatal("expected order added to new parent")
	}
	if stateOf(order) != tracker.StateModified {
		t.Fatalf("expected Modified order, got %s", stateOf(order))
	}
}

func TestSettingNavigationUpdatesForeignKey(t *testing.T) {
	em := newSalesManager(t)
	bottom := attachCustomer(t, em, bottomID, "Bottom")
	order := attachOrder(t, em, 10251, alfredsID)

	if err := order.SetProperty("customer", bottom); err != nil {
		t.Fatalf("set customer: %v", err)
	}
	if got := order.GetProperty("customerID"); got != bottomID {
		t.Fatalf("expected foreign key to follow navigation, got %v", got)
	}
	if !ordersOf(t, bottom).Contains(order) {
		t.Fatal("expected inverse collection to contain the order")
	}
}

func TestDeletingChildRemovesItFromParent(t *testing.T) {
	em := newSalesManager(t)
	customer := attachCustomer(t, em, alfredsID, "Alfreds")
	order := attachOrder(t, em, 10252, alfredsID)

	if _, err := order.EntityAspect().SetDeleted(); err != nil {
		t.Fatalf("delete order: %v", err)
	}
	if ordersOf(t, customer).Contains(order) {
		t.Fatal("expected deleted order removed from customer.orders")
	}
	if stateOf(customer) != tracker.StateUnchanged {
		t.Fatalf("parent state must not change, got %s", stateOf(customer))
	}
}

func TestGetEntitiesFiltersByTypeAndState(t *testing.T) {
	em := newSalesManager(t)
	store := em.MetadataStore()
	attachCustomer(t, em, alfredsID, "Alfreds")
	attachOrder(t, em, 1, alfredsID)
	modified := attachOrder(t, em, 2, alfredsID)
	if err := modified.SetProperty("freight", 12.5); err != nil {
		t.Fatalf("set freight: %v", err)
	}

	orderType, err := store.GetEntityType("Order")
	if err != nil {
		t.Fatalf("get order type: %v", err)
	}
	if got := em.GetEntities([]*tracker.EntityType{orderType}); len(got) != 2 {
		t.Fatalf("expected two orders, got %d", len(got))
	}
	if got := em.GetEntities(nil, tracker.StateModified); len(got) != 1 || got[0] != modified {
		t.Fatalf("expected only the modified order, got %v", got)
	}
	if got := em.GetEntities(nil); len(got) != 3 {
		t.Fatalf("expected three entities, got %d", len(got))
	}
	customerType, _ := store.GetEntityType("Customer")
	if em.HasChanges(customerType) {
		t.Fatal("customers have no changes")
	}
	if !em.HasChanges(orderType) {
		t.Fatal("orders have changes")
	}
}

func TestClearDetachesEverything(t *testing.T) {
	em := newSalesManager(t)
	customer := attachCustomer(t, em, alfredsID, "Alfreds")
	if err := customer.SetProperty("city", "Berlin"); err != nil {
		t.Fatalf("set city: %v", err)
	}
	em.Clear()

	if stateOf(customer) != tracker.StateDetached {
		t.Fatalf("expected Detached after clear, got %s", stateOf(customer))
	}
	if len(em.GetEntities(nil)) != 0 || em.HasChanges() {
		t.Fatal("expected an empty manager after clear")
	}
}

func TestValidationOnPropertyChange(t *testing.T) {
	em := newSalesManager(t)
	customer := attachCustomer(t, em, alfredsID, "Alfreds")

	var published int
	em.ValidationErrorsChanged.Subscribe(func(tracker.ValidationErrorsChangedArgs) { published++ })

	if err := customer.SetProperty("companyName", ""); err != nil {
		t.Fatalf("set companyName: %v", err)
	}
	errs := customer.EntityAspect().GetValidationErrors("companyName")
	if len(errs) != 1 || errs[0].Validator.Name != "required" {
		t.Fatalf("expected one required error, got %v", errs)
	}
	if published == 0 {
		t.Fatal("expected ValidationErrorsChanged to be published")
	}

	if err := customer.SetProperty("companyName", "A name well beyond the forty character limit"); err != nil {
		t.Fatalf("set long companyName: %v", err)
	}
	errs = customer.EntityAspect().GetValidationErrors("companyName")
	if len(errs) != 1 || errs[0].Validator.Name != "maxLength" {
		t.Fatalf("expected one maxLength error, got %v", errs)
	}

	if err := customer.SetProperty("companyName", "Alfreds"); err != nil {
		t.Fatalf("set valid companyName: %v", err)
	}
	if customer.EntityAspect().HasValidationErrors() {
		t.Fatalf("expected errors cleared, got %v", customer.EntityAspect().GetValidationErrors())
	}
}

func TestActivityEmittedForLifecycle(t *testing.T) {
	capture := &activity.CaptureHook{}
	emitter := activity.NewEmitter(activity.Config{Enabled: true}, capture)
	em := newSalesManager(t, tracker.WithActivityEmitter(emitter, activity.Identity{ActorID: "actor-1"}))

	customer := attachCustomer(t, em, alfredsID, "Alfreds")
	if err := customer.SetProperty("city", "Berlin"); err != nil {
		t.Fatalf("set city: %v", err)
	}
	if _, err := customer.EntityAspect().SetDeleted(); err != nil {
		t.Fatalf("delete: %v", err)
	}

	events := capture.Events()
	for _, event := range events {
		if event.ActorID != "actor-1" || event.EntityType != "Customer:#Sales" {
			t.Fatalf("unexpected event identity: %+v", event)
		}
	}
	want := []string{activity.VerbEntityAttached, activity.VerbEntityModified, activity.VerbEntityDeleted}
	if diff := cmp.Diff(want, capture.Verbs()); diff != "" {
		t.Fatalf("verbs mismatch (-want +got):\n%s", diff)
	}
	modified := events[1]
	if modified.Change == nil || modified.Change.Property != "city" || modified.Change.NewValue != "Berlin" {
		t.Fatalf("expected city change on the modified event, got %+v", modified.Change)
	}
	if modified.State != tracker.StateModified.String() || modified.Sequence != 2 {
		t.Fatalf("unexpected modified event %+v", modified)
	}
}

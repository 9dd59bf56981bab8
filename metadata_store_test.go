package tracker_test

import (
	"errors"
	"strings"
	"testing"

	tracker "github.com/goliatone/go-tracker"
)

func salesOrderType(t *testing.T) *tracker.EntityType {
	t.Helper()
	et, err := tracker.NewEntityType(tracker.EntityTypeConfig{
		ShortName:            "Order",
		Namespace:            "Sales",
		AutoGeneratedKeyType: tracker.AutoKeyIdentity,
		DataProperties: []*tracker.DataProperty{
			tracker.MustDataProperty(tracker.DataPropertyConfig{Name: "orderID", DataType: tracker.DataTypeInt32, IsNullable: tracker.Bool(false), IsPartOfKey: true}),
			tracker.MustDataProperty(tracker.DataPropertyConfig{Name: "customerID", DataType: tracker.DataTypeGuid}),
		},
		NavigationProperties: []*tracker.NavigationProperty{
			tracker.MustNavigationProperty(tracker.NavigationPropertyConfig{
				Name:            "customer",
				EntityTypeName:  "Customer:#Sales",
				AssociationName: "Customer_Orders",
				ForeignKeyNames: []string{"customerID"},
			}),
		},
	})
	if err != nil {
		t.Fatalf("new order type: %v", err)
	}
	return et
}

func salesCustomerType(t *testing.T) *tracker.EntityType {
	t.Helper()
	et, err := tracker.NewEntityType(tracker.EntityTypeConfig{
		ShortName: "Customer",
		Namespace: "Sales",
		DataProperties: []*tracker.DataProperty{
			tracker.MustDataProperty(tracker.DataPropertyConfig{Name: "customerID", DataType: tracker.DataTypeGuid, IsNullable: tracker.Bool(false), IsPartOfKey: true}),
			tracker.MustDataProperty(tracker.DataPropertyConfig{Name: "companyName", DataType: tracker.DataTypeString}),
		},
		NavigationProperties: []*tracker.NavigationProperty{
			tracker.MustNavigationProperty(tracker.NavigationPropertyConfig{
				Name:               "orders",
				EntityTypeName:     "Order:#Sales",
				IsScalar:           tracker.Bool(false),
				AssociationName:    "Customer_Orders",
				InvForeignKeyNames: []string{"customerID"},
			}),
		},
	})
	if err != nil {
		t.Fatalf("new customer type: %v", err)
	}
	return et
}

func TestAddEntityTypeResolvesDeferredNavigation(t *testing.T) {
	store := tracker.NewMetadataStore()
	order := salesOrderType(t)
	if err := store.AddEntityType(order); err != nil {
		t.Fatalf("add order: %v", err)
	}
	customerNav := order.GetNavigationProperty("customer")
	if customerNav.EntityType != nil {
		t.Fatal("expected customer navigation unresolved before Customer is added")
	}
	incomplete := store.GetIncompleteNavigationProperties()
	if len(incomplete) != 1 || len(incomplete[0]) != 1 || incomplete[0][0] != customerNav {
		t.Fatalf("expected the customer navigation pending, got %v", incomplete)
	}

	customer := salesCustomerType(t)
	if err := store.AddEntityType(customer); err != nil {
		t.Fatalf("add customer: %v", err)
	}
	if customerNav.EntityType != customer {
		t.Fatalf("expected customer navigation resolved to %s, got %v", customer.Name, customerNav.EntityType)
	}
	ordersNav := customer.GetNavigationProperty("orders")
	if customerNav.Inverse != ordersNav || ordersNav.Inverse != customerNav {
		t.Fatal("expected the navigations linked as inverses")
	}
	if len(customerNav.RelatedDataProperties) != 1 || customerNav.RelatedDataProperties[0].Name != "customerID" {
		t.Fatalf("expected customerID as the related foreign key, got %v", customerNav.RelatedDataProperties)
	}
	if got := store.GetIncompleteNavigationProperties(); len(got) != 0 {
		t.Fatalf("expected no pending navigations, got %v", got)
	}
	if err := store.ResolveIncomplete(); err != nil {
		t.Fatalf("resolve incomplete: %v", err)
	}
}

func TestNamingConventionRoundTripFailure(t *testing.T) {
	lossy, err := tracker.NewNamingConvention("upperOnServer",
		func(name string, _ tracker.StructuralProperty) string { return name },
		func(name string, _ tracker.StructuralProperty) string { return strings.ToUpper(name) },
	)
	if err != nil {
		t.Fatalf("new naming convention: %v", err)
	}
	store := tracker.NewMetadataStore(tracker.WithNamingConvention(lossy))
	widget := tracker.MustEntityType(tracker.EntityTypeConfig{
		ShortName: "Widget",
		Namespace: "Sales",
		DataProperties: []*tracker.DataProperty{
			tracker.MustDataProperty(tracker.DataPropertyConfig{Name: "widgetID", DataType: tracker.DataTypeInt32, IsPartOfKey: true}),
		},
	})

	err = store.AddEntityType(widget)
	if !errors.Is(err, tracker.ErrNamingRoundTrip) {
		t.Fatalf("expected ErrNamingRoundTrip, got %v", err)
	}
	if !strings.Contains(err.Error(), "widgetID-->WIDGETID") {
		t.Fatalf("expected the failing conversion in the message, got %q", err)
	}
	if _, err := store.GetEntityType("Widget"); !errors.Is(err, tracker.ErrTypeNotFound) {
		t.Fatalf("expected the type left unregistered, got %v", err)
	}
}

func TestDuplicatePropertyNamesRejected(t *testing.T) {
	name := func() *tracker.DataProperty {
		return tracker.MustDataProperty(tracker.DataPropertyConfig{Name: "name", DataType: tracker.DataTypeString})
	}
	key := tracker.MustDataProperty(tracker.DataPropertyConfig{Name: "id", DataType: tracker.DataTypeInt32, IsPartOfKey: true})

	_, err := tracker.NewEntityType(tracker.EntityTypeConfig{
		ShortName:      "Tag",
		DataProperties: []*tracker.DataProperty{key, name(), name()},
	})
	if !errors.Is(err, tracker.ErrDuplicateProperty) {
		t.Fatalf("expected ErrDuplicateProperty for data properties, got %v", err)
	}

	_, err = tracker.NewEntityType(tracker.EntityTypeConfig{
		ShortName:      "Label",
		DataProperties: []*tracker.DataProperty{name()},
		NavigationProperties: []*tracker.NavigationProperty{
			tracker.MustNavigationProperty(tracker.NavigationPropertyConfig{Name: "name", EntityTypeName: "Tag"}),
		},
	})
	if !errors.Is(err, tracker.ErrDuplicateProperty) {
		t.Fatalf("expected ErrDuplicateProperty for a navigation property, got %v", err)
	}

	_, err = tracker.NewComplexType(tracker.ComplexTypeConfig{
		ShortName:      "Address",
		DataProperties: []*tracker.DataProperty{name(), name()},
	})
	if !errors.Is(err, tracker.ErrDuplicateProperty) {
		t.Fatalf("expected ErrDuplicateProperty for a complex type, got %v", err)
	}

	et := tracker.MustEntityType(tracker.EntityTypeConfig{ShortName: "Note", DataProperties: []*tracker.DataProperty{name()}})
	extra := name()
	if err := et.AddProperty(extra); !errors.Is(err, tracker.ErrDuplicateProperty) {
		t.Fatalf("expected ErrDuplicateProperty from AddProperty, got %v", err)
	}
	if extra.Parent() != nil {
		t.Fatal("expected a rejected property to stay unowned")
	}
}

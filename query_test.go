package tracker_test

import (
	"context"
	"errors"
	"testing"

	tracker "github.com/goliatone/go-tracker"
)

func TestPredicateToOData(t *testing.T) {
	store := loadSalesStore(t)
	orderType, err := store.GetEntityType("Order")
	if err != nil {
		t.Fatalf("get order type: %v", err)
	}

	cases := []struct {
		name string
		pred *tracker.Predicate
		want string
	}{
		{
			name: "int32",
			pred: tracker.Equals("orderID", "10248"),
			want: "orderID eq 10248",
		},
		{
			name: "decimal and guid",
			pred: tracker.And(
				tracker.NewPredicate("freight", tracker.OpGreaterThan, 10),
				tracker.Equals("customerID", "2F1A8C3E-5B7D-4E90-A1B2-C3D4E5F60718"),
			),
			want: "(freight gt 10m) and (customerID eq guid'2f1a8c3e-5b7d-4e90-a1b2-c3d4e5f60718')",
		},
		{
			name: "navigation path",
			pred: tracker.NewPredicate("customer.companyName", tracker.OpStartsWith, "Alf"),
			want: "startswith(customer/companyName,'Alf') eq true",
		},
		{
			name: "negated contains",
			pred: tracker.Not(tracker.NewPredicate("customer.city", tracker.OpContains, "O'Brien")),
			want: "not (substringof('O''Brien',customer/city) eq true)",
		},
		{
			name: "single and collapses",
			pred: tracker.And(nil, tracker.Equals("rowVersion", 2)),
			want: "rowVersion eq 2",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.pred.ToOData(orderType)
			if err != nil {
				t.Fatalf("to odata: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}

	if _, err := tracker.Equals("shipName", "x").ToOData(orderType); !errors.Is(err, tracker.ErrPropertyNotFound) {
		t.Fatalf("expected ErrPropertyNotFound for unknown property, got %v", err)
	}
}

func TestParseFilterOpAliases(t *testing.T) {
	cases := map[string]tracker.FilterOp{
		"==":          tracker.OpEquals,
		"ne":          tracker.OpNotEquals,
		">=":          tracker.OpGreaterThanOrEqual,
		"substringof": tracker.OpContains,
		"startswith":  tracker.OpStartsWith,
	}
	for alias, want := range cases {
		got, err := tracker.ParseFilterOp(alias)
		if err != nil {
			t.Fatalf("parse %q: %v", alias, err)
		}
		if got != want {
			t.Fatalf("expected %q for %q, got %q", want, alias, got)
		}
	}
	if _, err := tracker.ParseFilterOp("between"); err == nil {
		t.Fatal("expected error for unknown operator")
	}
}

func TestExecuteQueryLocally(t *testing.T) {
	em := newSalesManager(t)
	alfreds := attachCustomer(t, em, alfredsID, "Alfreds Futterkiste ")
	bottom := attachCustomer(t, em, bottomID, "Bottom-Dollar Markets")
	if err := bottom.SetProperty("city", "Tsawassen"); err != nil {
		t.Fatalf("set city: %v", err)
	}
	attachOrder(t, em, 1, alfredsID)
	second := attachOrder(t, em, 2, bottomID)
	if err := second.SetProperty("freight", 32.38); err != nil {
		t.Fatalf("set freight: %v", err)
	}

	cases := []struct {
		name     string
		resource string
		pred     *tracker.Predicate
		want     []tracker.Entity
	}{
		{
			name:     "case insensitive equality ignores trailing spaces",
			resource: "Customers",
			pred:     tracker.Equals("companyName", "ALFREDS FUTTERKISTE"),
			want:     []tracker.Entity{alfreds},
		},
		{
			name:     "starts with",
			resource: "Customers",
			pred:     tracker.NewPredicate("companyName", tracker.OpStartsWith, "bottom"),
			want:     []tracker.Entity{bottom},
		},
		{
			name:     "null never orders",
			resource: "Orders",
			pred:     tracker.NewPredicate("freight", tracker.OpGreaterThan, 10),
			want:     []tracker.Entity{second},
		},
		{
			name:     "through navigation",
			resource: "Orders",
			pred:     tracker.Equals("customer.city", "tsawassen"),
			want:     []tracker.Entity{second},
		},
		{
			name:     "or",
			resource: "Customers",
			pred:     tracker.Or(tracker.Equals("city", "Tsawassen"), tracker.NewPredicate("companyName", tracker.OpContains, "futter")),
			want:     []tracker.Entity{alfreds, bottom},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := em.ExecuteQueryLocally(tracker.NewEntityQuery(tc.resource).Where(tc.pred))
			if err != nil {
				t.Fatalf("local query: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d results, got %d", len(tc.want), len(got))
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("result %d mismatch", i)
				}
			}
		})
	}
}

func TestExecuteQueryLocallySkipsDeletedAndPages(t *testing.T) {
	em := newSalesManager(t)
	for id := 1; id <= 4; id++ {
		attachOrder(t, em, id, "")
	}
	deleted, _ := em.GetEntityByKey("Order", 1)
	if _, err := deleted.EntityAspect().SetDeleted(); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := em.ExecuteQueryLocally(tracker.NewEntityQuery("Orders").WithSkip(1).WithTake(2))
	if err != nil {
		t.Fatalf("local query: %v", err)
	}
	if len(got) != 2 || got[0].GetProperty("orderID") != int64(3) || got[1].GetProperty("orderID") != int64(4) {
		t.Fatalf("expected orders 3 and 4, got %v", got)
	}

	withDeleted := tracker.NewEntityQuery("Orders").Using(tracker.QueryOptions{IncludeDeleted: true})
	all, err := em.ExecuteQueryLocally(withDeleted)
	if err != nil {
		t.Fatalf("local query with deleted: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected deleted entity included, got %d", len(all))
	}

	if _, err := em.ExecuteQueryLocally(tracker.NewEntityQuery("Suppliers")); !errors.Is(err, tracker.ErrTypeNotFound) {
		t.Fatalf("expected ErrTypeNotFound for unknown resource, got %v", err)
	}
}

func TestExecuteQueryRequiresProvider(t *testing.T) {
	em := newSalesManager(t)
	_, err := em.ExecuteQuery(context.Background(), tracker.NewEntityQuery("Customers"))
	if !errors.Is(err, tracker.ErrNoQueryProvider) {
		t.Fatalf("expected ErrNoQueryProvider, got %v", err)
	}
}

func TestExecuteQueryMergesServerRows(t *testing.T) {
	var requests []tracker.QueryRequest
	provider := tracker.QueryProviderFunc(func(_ context.Context, req tracker.QueryRequest) (*tracker.QueryResponse, error) {
		requests = append(requests, req)
		return &tracker.QueryResponse{Results: []map[string]any{
			{
				"customerID":  alfredsID,
				"companyName": "Alfreds",
				"city":        "Berlin",
				"orders": []any{
					map[string]any{"orderID": float64(10643), "customerID": alfredsID, "rowVersion": float64(1)},
					map[string]any{"orderID": float64(10692), "customerID": alfredsID, "rowVersion": float64(1)},
				},
			},
		}}, nil
	})
	em := newSalesManager(t, tracker.WithQueryProvider(provider))

	q := tracker.NewEntityQuery("Customers").Where(tracker.Equals("city", "Berlin"))
	result, err := em.ExecuteQuery(context.Background(), q)
	if err != nil {
		t.Fatalf("execute query: %v", err)
	}
	if len(requests) != 1 || requests[0].Filter != "city eq 'Berlin'" || requests[0].ResourceName != "Customers" {
		t.Fatalf("unexpected request: %+v", requests)
	}
	if len(result.Entities) != 1 || result.InlineCount != 1 {
		t.Fatalf("expected one customer, got %d", len(result.Entities))
	}
	customer := result.Entities[0]
	if stateOf(customer) != tracker.StateUnchanged || !customer.EntityAspect().WasLoaded() {
		t.Fatalf("expected a loaded Unchanged customer, got %s", stateOf(customer))
	}
	orders := ordersOf(t, customer)
	if orders.Len() != 2 {
		t.Fatalf("expected expanded orders, got %d", orders.Len())
	}
	loaded, err := customer.EntityAspect().IsNavigationPropertyLoaded("orders")
	if err != nil || !loaded {
		t.Fatalf("expected orders marked loaded, got %v, %v", loaded, err)
	}
	if order := orders.At(0); order.GetProperty("customer") != customer {
		t.Fatal("expected expanded order linked back to customer")
	}
	if em.HasChanges() {
		t.Fatal("query results must not register changes")
	}
}

func TestExecuteQueryMergeStrategies(t *testing.T) {
	rows := []map[string]any{{"customerID": alfredsID, "companyName": "Alfreds", "city": "Berlin"}}
	provider := tracker.QueryProviderFunc(func(context.Context, tracker.QueryRequest) (*tracker.QueryResponse, error) {
		return &tracker.QueryResponse{Results: rows}, nil
	})

	cases := []struct {
		name      string
		strategy  tracker.MergeStrategy
		wantCity  string
		wantState tracker.EntityState
		wantErr   error
	}{
		{name: "preserve changes", strategy: tracker.MergePreserveChanges, wantCity: "Paris", wantState: tracker.StateModified},
		{name: "overwrite changes", strategy: tracker.MergeOverwriteChanges, wantCity: "Berlin", wantState: tracker.StateUnchanged},
		{name: "skip merge", strategy: tracker.MergeSkipMerge, wantCity: "Paris", wantState: tracker.StateModified},
		{name: "disallowed", strategy: tracker.MergeDisallowed, wantErr: tracker.ErrKeyConflict},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			em := newSalesManager(t, tracker.WithQueryProvider(provider))
			customer := attachCustomer(t, em, alfredsID, "Alfreds")
			if err := customer.SetProperty("city", "Paris"); err != nil {
				t.Fatalf("set city: %v", err)
			}

			q := tracker.NewEntityQuery("Customers").Using(tracker.QueryOptions{MergeStrategy: tc.strategy})
			result, err := em.ExecuteQuery(context.Background(), q)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("execute query: %v", err)
			}
			if len(result.Entities) != 1 || result.Entities[0] != customer {
				t.Fatal("expected the cached customer to be returned")
			}
			if got := customer.GetProperty("city"); got != tc.wantCity {
				t.Fatalf("expected city %q, got %v", tc.wantCity, got)
			}
			if stateOf(customer) != tc.wantState {
				t.Fatalf("expected %s, got %s", tc.wantState, stateOf(customer))
			}
			if em.HasChanges() != tc.wantState.IsModified() {
				t.Fatalf("HasChanges out of sync with state %s", tc.wantState)
			}
		})
	}
}

func TestExecuteQueryFromLocalCache(t *testing.T) {
	em := newSalesManager(t)
	attachCustomer(t, em, alfredsID, "Alfreds")
	q := tracker.NewEntityQuery("Customers").Using(tracker.QueryOptions{FetchStrategy: tracker.FetchFromLocalCache})

	result, err := em.ExecuteQuery(context.Background(), q)
	if err != nil {
		t.Fatalf("execute query from cache: %v", err)
	}
	if len(result.Entities) != 1 {
		t.Fatalf("expected cached customer, got %d", len(result.Entities))
	}
}

func TestQueryBuildersFromEntities(t *testing.T) {
	em := newSalesManager(t)
	customer := attachCustomer(t, em, alfredsID, "Alfreds")
	order := attachOrder(t, em, 10248, alfredsID)
	orderType := order.EntityType()
	customerType := customer.EntityType()

	byKey := tracker.FromEntityKey(order.EntityAspect().GetKey())
	if byKey.ResourceName != "Orders" || byKey.ResultType != orderType {
		t.Fatalf("unexpected key query: %+v", byKey)
	}
	if got, _ := byKey.Predicate.ToOData(orderType); got != "orderID eq 10248" {
		t.Fatalf("unexpected key filter %q", got)
	}

	nav, err := tracker.FromEntityNavigation(customer, customerType.GetNavigationProperty("orders"))
	if err != nil {
		t.Fatalf("navigation query: %v", err)
	}
	if got, _ := nav.Predicate.ToOData(orderType); got != "customerID eq guid'"+alfredsID+"'" {
		t.Fatalf("unexpected navigation filter %q", got)
	}

	if _, err := tracker.FromEntities(customer, order); !errors.Is(err, tracker.ErrInvalidConfig) {
		t.Fatalf("expected mixed types to fail, got %v", err)
	}
}

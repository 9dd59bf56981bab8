package tracker_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	tracker "github.com/goliatone/go-tracker"
)

func TestFunctionRegistry(t *testing.T) {
	reg := tracker.NewFunctionRegistry()
	upper := func(args ...any) (any, error) { return strings.ToUpper(args[0].(string)), nil }

	if err := reg.Register("toUpper", upper); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("TOUPPER", upper); !errors.Is(err, tracker.ErrInvalidConfig) {
		t.Fatalf("expected a case-insensitive collision, got %v", err)
	}
	if err := reg.Register("", upper); !errors.Is(err, tracker.ErrInvalidConfig) {
		t.Fatalf("expected empty name rejected, got %v", err)
	}
	if err := reg.Register("noop", nil); !errors.Is(err, tracker.ErrInvalidConfig) {
		t.Fatalf("expected nil function rejected, got %v", err)
	}

	got, err := reg.Call("ToUpper", "alfki")
	if err != nil || got != "ALFKI" {
		t.Fatalf("expected ALFKI, got %v, %v", got, err)
	}
	if _, err := reg.Call("missing"); !errors.Is(err, tracker.ErrFunctionNotFound) {
		t.Fatalf("expected ErrFunctionNotFound, got %v", err)
	}

	clone := reg.Clone()
	if err := clone.Register("trim", func(args ...any) (any, error) { return strings.TrimSpace(args[0].(string)), nil }); err != nil {
		t.Fatalf("register on clone: %v", err)
	}
	if diff := cmp.Diff([]string{"toUpper"}, reg.Names()); diff != "" {
		t.Fatalf("original registry changed (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"toUpper", "trim"}, clone.Names()); diff != "" {
		t.Fatalf("clone names mismatch (-want +got):\n%s", diff)
	}
}

func TestExpressionValidatorCallsRegistryFunctions(t *testing.T) {
	reg := tracker.NewFunctionRegistry()
	if err := reg.Register("isCustomerCode", func(args ...any) (any, error) {
		code, _ := args[0].(string)
		return len(code) == 5 && strings.ToUpper(code) == code, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	evaluator := tracker.NewExprEvaluator(tracker.ExprWithFunctionRegistry(reg))

	v, err := tracker.ExpressionValidator("customerCode", "isCustomerCode(value)", evaluator, nil)
	if err != nil {
		t.Fatalf("build validator: %v", err)
	}
	cases := []struct {
		value any
		valid bool
	}{
		{value: "ALFKI", valid: true},
		{value: "alfki", valid: false},
		{value: "BOTTOMS", valid: false},
	}
	for _, tc := range cases {
		verr := v.Validate(tc.value, tracker.NewValidationContext())
		if (verr == nil) != tc.valid {
			t.Fatalf("value %v: expected valid=%v, got %v", tc.value, tc.valid, verr)
		}
	}
}

func TestExpressionValidatorFromJSONSeesSharedFunctions(t *testing.T) {
	err := tracker.RegisterExpressionFunction("startsWithAlf", func(args ...any) (any, error) {
		s, _ := args[0].(string)
		return strings.HasPrefix(s, "ALF"), nil
	})
	if err != nil && !errors.Is(err, tracker.ErrInvalidConfig) {
		t.Fatalf("register shared function: %v", err)
	}

	v, err := tracker.ValidatorFromJSON(map[string]any{
		"name":       "expression",
		"expression": "startsWithAlf(value)",
	})
	if err != nil {
		t.Fatalf("validator from json: %v", err)
	}
	if verr := v.Validate("ALFKI", tracker.NewValidationContext()); verr != nil {
		t.Fatalf("expected ALFKI valid, got %v", verr)
	}
	if verr := v.Validate("BONAP", tracker.NewValidationContext()); verr == nil {
		t.Fatal("expected BONAP to fail the rule")
	}
}

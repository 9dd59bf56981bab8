package tracker_test

import (
	"testing"

	tracker "github.com/goliatone/go-tracker"
)

func TestDurationComparableSeconds(t *testing.T) {
	normalize := tracker.ComparableFunc(tracker.DataTypeTime)
	cases := []struct {
		in   any
		want any
	}{
		{in: "PT1H30M", want: float64(5400)},
		{in: "P1DT2S", want: float64(86402)},
		{in: "-P1D", want: float64(-86400)},
		{in: "PT0.5S", want: 0.5},
		{in: "not a duration", want: "not a duration"},
		{in: int64(7), want: int64(7)},
	}
	for _, tc := range cases {
		if got := normalize(tc.in); got != tc.want {
			t.Fatalf("normalize(%v): expected %v (%T), got %v (%T)", tc.in, tc.want, tc.want, got, got)
		}
	}
}

func TestDurationValidator(t *testing.T) {
	v := tracker.DurationValidator()
	cases := []struct {
		value any
		valid bool
	}{
		{value: "PT1H30M", valid: true},
		{value: "-P2Y3M", valid: true},
		{value: "PT1.25S", valid: true},
		{value: nil, valid: true},
		{value: "P", valid: false},
		{value: "PT", valid: false},
		{value: "abc", valid: false},
		{value: "P1H", valid: false},
		{value: 42, valid: false},
	}
	for _, tc := range cases {
		ve := v.Validate(tc.value, tracker.NewValidationContext())
		if (ve == nil) != tc.valid {
			t.Fatalf("validate %v: expected valid=%v, got %v", tc.value, tc.valid, ve)
		}
	}
}

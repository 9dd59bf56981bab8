package tracker

import (
	"fmt"
	"strings"
)

// MergeStrategy decides what happens when an incoming entity has the same
// key as one already in the cache.
type MergeStrategy uint8

const (
	// MergePreserveChanges updates the cached entity only when it has no
	// pending changes.
	MergePreserveChanges MergeStrategy = iota
	// MergeOverwriteChanges always replaces the cached values.
	MergeOverwriteChanges
	// MergeSkipMerge leaves the cached entity untouched.
	MergeSkipMerge
	// MergeDisallowed rejects the incoming entity.
	MergeDisallowed
)

var mergeStrategyNames = [...]string{"PreserveChanges", "OverwriteChanges", "SkipMerge", "Disallowed"}

func (m MergeStrategy) String() string {
	if int(m) < len(mergeStrategyNames) {
		return mergeStrategyNames[m]
	}
	return fmt.Sprintf("MergeStrategy(%d)", m)
}

// ParseMergeStrategy resolves a strategy by case-insensitive name.
func ParseMergeStrategy(name string) (MergeStrategy, error) {
	for i, n := range mergeStrategyNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return MergeStrategy(i), nil
		}
	}
	return MergePreserveChanges, errorf(ErrInvalidConfig, "unknown merge strategy %q", name)
}

func (m MergeStrategy) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *MergeStrategy) UnmarshalText(text []byte) error {
	parsed, err := ParseMergeStrategy(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

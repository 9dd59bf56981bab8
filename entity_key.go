package tracker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EntityKeyDelimiter joins the values of a composite key.
const EntityKeyDelimiter = ":::"

// EntityKey is the immutable identity of an entity within a type hierarchy.
type EntityKey struct {
	entityType *EntityType
	values     []any
	keyInGroup string
	subtypes   []*EntityType
}

// NewEntityKey builds a key for et. Values are parsed to the key property
// data types; Guid values are lower-cased so keys compare regardless of case.
func NewEntityKey(et *EntityType, values ...any) EntityKey {
	normalized := make([]any, len(values))
	copy(normalized, values)
	if et != nil {
		for i, kp := range et.KeyProperties {
			if i >= len(normalized) {
				break
			}
			v := kp.DataType.Parse(normalized[i])
			if s, ok := v.(string); ok && kp.DataType == DataTypeGuid {
				v = strings.ToLower(s)
			}
			normalized[i] = v
		}
	}
	key := EntityKey{
		entityType: et,
		values:     normalized,
		keyInGroup: keyString(normalized),
	}
	if et != nil {
		if all := et.GetSelfAndSubtypes(); len(all) > 1 {
			for _, st := range all {
				if !st.IsAbstract {
					key.subtypes = append(key.subtypes, st)
				}
			}
		}
	}
	return key
}

func keyString(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = keyPart(v)
	}
	return strings.Join(parts, EntityKeyDelimiter)
}

func keyPart(v any) string {
	if v == nil {
		return ""
	}
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
	}
	if t, ok := v.(interface{ UnixMilli() int64 }); ok {
		return fmt.Sprintf("%d", t.UnixMilli())
	}
	return fmt.Sprint(v)
}

// EntityType returns the type the key was built for.
func (k EntityKey) EntityType() *EntityType { return k.entityType }

// Values returns a copy of the key values.
func (k EntityKey) Values() []any { return append([]any(nil), k.values...) }

// Subtypes lists the concrete types a lookup by this key must consider. It is
// empty when the key type has no subtypes.
func (k EntityKey) Subtypes() []*EntityType { return k.subtypes }

// String is "{typeName}-{values}".
func (k EntityKey) String() string {
	return k.StringAs(nil)
}

// StringAs renders the key with alt's name in place of the key type.
func (k EntityKey) StringAs(alt *EntityType) string {
	et := k.entityType
	if alt != nil {
		et = alt
	}
	name := ""
	if et != nil {
		name = et.Name
	}
	return name + "-" + k.keyInGroup
}

// Equals reports type identity and element-wise value equality.
func (k EntityKey) Equals(other EntityKey) bool {
	if k.entityType != other.entityType || len(k.values) != len(other.values) {
		return false
	}
	return k.keyInGroup == other.keyInGroup
}

// IsEmpty reports whether every value is missing.
func (k EntityKey) IsEmpty() bool {
	for _, v := range k.values {
		if v != nil && keyPart(v) != "" {
			return false
		}
	}
	return true
}

// IsZero reports whether k was never built.
func (k EntityKey) IsZero() bool { return k.entityType == nil }

type entityKeyJSON struct {
	EntityType string `json:"entityType"`
	Values     []any  `json:"values"`
}

// MarshalJSON writes {entityType, values}.
func (k EntityKey) MarshalJSON() ([]byte, error) {
	name := ""
	if k.entityType != nil {
		name = k.entityType.Name
	}
	values := k.values
	if values == nil {
		values = []any{}
	}
	return json.Marshal(entityKeyJSON{EntityType: name, Values: values})
}

// EntityKeyFromJSON rebuilds a key exported with MarshalJSON.
func EntityKeyFromJSON(data []byte, store *MetadataStore) (EntityKey, error) {
	var doc entityKeyJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return EntityKey{}, fmt.Errorf("tracker: decode entity key: %w", err)
	}
	if store == nil {
		return EntityKey{}, errorf(ErrInvalidConfig, "a MetadataStore is required to decode an entity key")
	}
	et, err := store.GetEntityType(doc.EntityType)
	if err != nil {
		return EntityKey{}, err
	}
	return NewEntityKey(et, doc.Values...), nil
}

package tracker

import (
	"reflect"
	"time"
)

// sameValue compares two property values after normalizing for dt.
func sameValue(dt DataType, a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if sa, ok := a.(Structural); ok {
		sb, ok := b.(Structural)
		return ok && sa.backing() == sb.backing()
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	norm := ComparableFunc(dt)
	na, nb := norm(a), norm(b)
	ta, tb := reflect.TypeOf(na), reflect.TypeOf(nb)
	if ta != tb || !ta.Comparable() {
		return reflect.DeepEqual(na, nb)
	}
	return na == nb
}

func sameEntity(a, b Structural) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.backing() == b.backing()
}

// coEquals compares complex objects by their settable data property values.
func coEquals(a, b ComplexObject) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ct := a.ComplexType()
	if ct != b.ComplexType() {
		return false
	}
	for _, dp := range ct.DataProperties {
		if !dp.IsSettable {
			continue
		}
		av, bv := a.GetProperty(dp.Name), b.GetProperty(dp.Name)
		if dp.IsComplexProperty() {
			if dp.IsScalar {
				aco, _ := av.(ComplexObject)
				bco, _ := bv.(ComplexObject)
				if !coEquals(aco, bco) {
					return false
				}
				continue
			}
			aa, _ := av.(*ComplexArray)
			ba, _ := bv.(*ComplexArray)
			if !complexSlicesEqual(complexItems(aa), complexItems(ba)) {
				return false
			}
			continue
		}
		if !dp.IsScalar {
			aa, _ := av.(*PrimitiveArray)
			ba, _ := bv.(*PrimitiveArray)
			if !primitiveSlicesEqual(dp.DataType, primitiveItems(aa), primitiveItems(ba)) {
				return false
			}
			continue
		}
		if !sameValue(dp.DataType, av, bv) {
			return false
		}
	}
	return true
}

func complexItems(arr *ComplexArray) []ComplexObject {
	if arr == nil {
		return nil
	}
	return arr.items
}

func primitiveItems(arr *PrimitiveArray) []any {
	if arr == nil {
		return nil
	}
	return arr.items
}

func complexSlicesEqual(a, b []ComplexObject) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !coEquals(a[i], b[i]) {
			return false
		}
	}
	return true
}

func primitiveSlicesEqual(dt DataType, a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameValue(dt, a[i], b[i]) {
			return false
		}
	}
	return true
}

// snapshotValues copies the data property values of target into a plain map.
// Complex values become nested maps; navigation properties are left out.
func snapshotValues(target Structural) map[string]any {
	out := map[string]any{}
	if target == nil {
		return out
	}
	st := target.StructuralType()
	if st == nil {
		return out
	}
	for _, dp := range st.structural().DataProperties {
		out[dp.Name] = snapshotValue(target.GetProperty(dp.Name))
	}
	return out
}

func snapshotValue(value any) any {
	switch v := value.(type) {
	case ComplexObject:
		return snapshotValues(v)
	case *ComplexArray:
		items := complexItems(v)
		list := make([]any, len(items))
		for i, co := range items {
			list[i] = snapshotValues(co)
		}
		return list
	case *PrimitiveArray:
		return append([]any(nil), primitiveItems(v)...)
	}
	return value
}

// using sets *flag to value while fn runs.
func using(flag *bool, value bool, fn func() error) error {
	old := *flag
	*flag = value
	defer func() { *flag = old }()
	return fn()
}

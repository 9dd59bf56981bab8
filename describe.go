package tracker

import (
	"sort"
	"strings"
)

// FieldDescriptor describes one property path of a structural type.
type FieldDescriptor struct {
	Path     string
	Type     string
	Nullable bool
	Key      bool
}

// DescribeType flattens the data properties of st, descending into complex
// properties, followed by its navigation properties. Paths are sorted.
// Collections are typed "[]T"; navigation types are qualified entity names.
func DescribeType(st StructuralType) []FieldDescriptor {
	if st == nil {
		return []FieldDescriptor{}
	}
	fields := describeData(st.structural().DataProperties, "", map[string]bool{st.TypeName(): true})
	if et, ok := st.(*EntityType); ok {
		for _, np := range et.NavigationProperties {
			fields = append(fields, FieldDescriptor{
				Path:     np.Name,
				Type:     collectionOf(np.EntityTypeName, np.IsScalar),
				Nullable: np.IsScalar,
			})
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Path < fields[j].Path })
	return fields
}

func describeData(props []*DataProperty, prefix string, seen map[string]bool) []FieldDescriptor {
	fields := make([]FieldDescriptor, 0, len(props))
	for _, dp := range props {
		path := joinPath(prefix, dp.Name)
		if dp.IsComplexProperty() && dp.ComplexType != nil && dp.IsScalar && !seen[dp.ComplexType.Name] {
			seen[dp.ComplexType.Name] = true
			fields = append(fields, describeData(dp.ComplexType.DataProperties, path, seen)...)
			delete(seen, dp.ComplexType.Name)
			continue
		}
		typ := dp.DataType.String()
		if dp.IsComplexProperty() {
			typ = dp.ComplexTypeName
		}
		fields = append(fields, FieldDescriptor{
			Path:     path,
			Type:     collectionOf(typ, dp.IsScalar),
			Nullable: dp.IsNullable,
			Key:      dp.IsPartOfKey,
		})
	}
	return fields
}

func collectionOf(typ string, scalar bool) string {
	if scalar {
		return typ
	}
	return "[]" + typ
}

func joinPath(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return strings.Join([]string{prefix, segment}, ".")
}

package openapi

import (
	"strconv"
	"strings"
	"unicode"
)

// componentRegistry maps tracker type names ("Order:#Sales") to component
// names ("Order"). Short names shared across namespaces get numeric suffixes
// in registration order.
type componentRegistry struct {
	byType  map[string]string
	taken   map[string]bool
	schemas map[string]map[string]any
}

func newComponentRegistry() *componentRegistry {
	return &componentRegistry{
		byType:  map[string]string{},
		taken:   map[string]bool{},
		schemas: map[string]map[string]any{},
	}
}

func (r *componentRegistry) reserve(typeName, shortName string) string {
	if name, ok := r.byType[typeName]; ok {
		return name
	}
	base := componentName(shortName)
	name := base
	for i := 1; r.taken[name]; i++ {
		name = base + strconv.Itoa(i)
	}
	r.taken[name] = true
	r.byType[typeName] = name
	return name
}

func (r *componentRegistry) ref(typeName string) string {
	if name, ok := r.byType[typeName]; ok {
		return "#/components/schemas/" + name
	}
	return ""
}

func (r *componentRegistry) set(typeName string, schema map[string]any) {
	if name, ok := r.byType[typeName]; ok {
		r.schemas[name] = schema
	}
}

func (r *componentRegistry) componentsMap() map[string]any {
	if len(r.schemas) == 0 {
		return nil
	}
	out := make(map[string]any, len(r.schemas))
	for name, schema := range r.schemas {
		out[name] = schema
	}
	return out
}

// componentName keeps the characters OpenAPI allows in component keys and
// collapses everything else into single underscores.
func componentName(shortName string) string {
	var b strings.Builder
	pendingSep := false
	for _, c := range shortName {
		if c < unicode.MaxASCII && (unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(c)
			continue
		}
		pendingSep = true
	}
	name := strings.Trim(b.String(), "_")
	switch {
	case name == "":
		return "Schema"
	case name[0] >= '0' && name[0] <= '9':
		return "_" + name
	}
	return name
}

package openapi

import (
	"sort"
	"strings"

	tracker "github.com/goliatone/go-tracker"
)

type schemaNode struct {
	Type        string
	Format      string
	Ref         string
	Description string
	Nullable    bool
	ReadOnly    bool
	MaxLength   *int
	Default     any
	Properties  map[string]*schemaNode
	Required    []string
	Items       *schemaNode
	AllOf       []*schemaNode
	extensions  map[string]any
}

func newObjectNode() *schemaNode {
	return &schemaNode{
		Type:       "object",
		Properties: map[string]*schemaNode{},
	}
}

func refNode(ref string) *schemaNode {
	return &schemaNode{Ref: ref}
}

func (n *schemaNode) extend(key string, value any) {
	if n.extensions == nil {
		n.extensions = map[string]any{}
	}
	n.extensions[key] = value
}

func (n *schemaNode) openAPI() map[string]any {
	if n == nil {
		return map[string]any{}
	}
	if n.Ref != "" {
		return map[string]any{"$ref": n.Ref}
	}
	result := map[string]any{}
	if n.Type != "" {
		result["type"] = n.Type
	}
	if n.Format != "" {
		result["format"] = n.Format
	}
	if n.Description != "" {
		result["description"] = n.Description
	}
	if n.Nullable {
		result["nullable"] = true
	}
	if n.ReadOnly {
		result["readOnly"] = true
	}
	if n.MaxLength != nil {
		result["maxLength"] = *n.MaxLength
	}
	if n.Default != nil {
		result["default"] = n.Default
	}
	if n.Type == "object" || len(n.Properties) > 0 {
		props := make(map[string]any, len(n.Properties))
		for name, child := range n.Properties {
			props[name] = child.openAPI()
		}
		result["properties"] = props
	}
	if len(n.Required) > 0 {
		required := append([]string{}, n.Required...)
		sort.Strings(required)
		result["required"] = required
	}
	if n.Items != nil {
		result["items"] = n.Items.openAPI()
	}
	if len(n.AllOf) > 0 {
		all := make([]any, 0, len(n.AllOf))
		for _, part := range n.AllOf {
			all = append(all, part.openAPI())
		}
		result["allOf"] = all
	}
	for key, value := range n.extensions {
		result[key] = value
	}
	return result
}

// dataTypeNode maps a tracker data type to an OpenAPI type/format pair.
func dataTypeNode(dt tracker.DataType) *schemaNode {
	switch dt {
	case tracker.DataTypeString:
		return &schemaNode{Type: "string"}
	case tracker.DataTypeInt64:
		return &schemaNode{Type: "integer", Format: "int64"}
	case tracker.DataTypeInt32, tracker.DataTypeInt16, tracker.DataTypeByte:
		return &schemaNode{Type: "integer", Format: "int32"}
	case tracker.DataTypeDecimal:
		return &schemaNode{Type: "number", Format: "decimal"}
	case tracker.DataTypeDouble:
		return &schemaNode{Type: "number", Format: "double"}
	case tracker.DataTypeSingle:
		return &schemaNode{Type: "number", Format: "float"}
	case tracker.DataTypeDateTime, tracker.DataTypeDateTimeOffset:
		return &schemaNode{Type: "string", Format: "date-time"}
	case tracker.DataTypeTime:
		return &schemaNode{Type: "string", Format: "duration"}
	case tracker.DataTypeBoolean:
		return &schemaNode{Type: "boolean"}
	case tracker.DataTypeGuid:
		return &schemaNode{Type: "string", Format: "uuid"}
	case tracker.DataTypeBinary:
		return &schemaNode{Type: "string", Format: "byte"}
	}
	return &schemaNode{}
}

type typeBuilder struct {
	registry *componentRegistry
}

func (b *typeBuilder) buildType(stype tracker.StructuralType) *schemaNode {
	et, isEntity := stype.(*tracker.EntityType)
	own := newObjectNode()

	var dataProps []*tracker.DataProperty
	switch t := stype.(type) {
	case *tracker.EntityType:
		dataProps = t.DataProperties
	case *tracker.ComplexType:
		dataProps = t.DataProperties
	}
	for _, dp := range dataProps {
		if dp.BaseProperty != nil {
			continue
		}
		own.Properties[dp.Name] = b.buildDataProperty(et, dp)
		if !dp.IsNullable && !dp.IsUnmapped && !dp.IsComplexProperty() {
			own.Required = append(own.Required, dp.Name)
		}
	}

	if isEntity {
		navs := map[string]any{}
		for _, np := range et.NavigationProperties {
			if np.BaseProperty != nil {
				continue
			}
			own.Properties[np.Name] = b.buildNavigationProperty(np)
			navs[np.Name] = navigationExtension(np)
		}
		if len(navs) > 0 {
			own.extend("x-navigation", navs)
		}
	}

	node := own
	if isEntity && et.BaseEntityType != nil {
		node = &schemaNode{AllOf: []*schemaNode{refNode(b.registry.ref(et.BaseEntityType.Name)), own}}
	}
	b.applyTypeExtensions(node, stype)
	return node
}

func (b *typeBuilder) buildDataProperty(owner *tracker.EntityType, dp *tracker.DataProperty) *schemaNode {
	var node *schemaNode
	if dp.IsComplexProperty() {
		node = refNode(b.registry.ref(complexTypeName(dp)))
		if !dp.IsScalar {
			node = &schemaNode{Type: "array", Items: node}
		}
		return node
	}

	node = dataTypeNode(dp.DataType)
	node.Description = dp.DisplayName
	node.Nullable = dp.IsNullable
	if dp.MaxLength > 0 {
		maxLength := dp.MaxLength
		node.MaxLength = &maxLength
	}
	if dp.IsNullable && isJSONScalar(dp.DefaultValue) {
		node.Default = dp.DefaultValue
	}
	if dp.IsPartOfKey {
		node.extend("x-key", true)
		if owner != nil && owner.AutoGeneratedKeyType != tracker.AutoKeyNone {
			node.ReadOnly = true
		}
	}
	if mode := strings.TrimSpace(dp.ConcurrencyMode); mode != "" && !strings.EqualFold(mode, "None") {
		node.extend("x-concurrency", mode)
	}
	if dp.IsUnmapped {
		node.extend("x-unmapped", true)
	}
	if dp.NameOnServer != "" && dp.NameOnServer != dp.Name {
		node.extend("x-server-name", dp.NameOnServer)
	}
	if len(dp.Custom) > 0 {
		node.extend("x-custom", dp.Custom)
	}
	return node
}

func (b *typeBuilder) buildNavigationProperty(np *tracker.NavigationProperty) *schemaNode {
	target := np.EntityTypeName
	if np.EntityType != nil {
		target = np.EntityType.Name
	}
	ref := refNode(b.registry.ref(target))
	if np.IsScalar {
		return ref
	}
	return &schemaNode{Type: "array", Items: ref}
}

func navigationExtension(np *tracker.NavigationProperty) map[string]any {
	out := map[string]any{
		"entityType": np.EntityTypeName,
		"isScalar":   np.IsScalar,
	}
	if np.EntityType != nil {
		out["entityType"] = np.EntityType.Name
	}
	if np.AssociationName != "" {
		out["association"] = np.AssociationName
	}
	if len(np.ForeignKeyNames) > 0 {
		out["foreignKeys"] = append([]string{}, np.ForeignKeyNames...)
	}
	if len(np.InvForeignKeyNames) > 0 {
		out["inverseForeignKeys"] = append([]string{}, np.InvForeignKeyNames...)
	}
	if np.Inverse != nil {
		out["inverse"] = np.Inverse.Name
	}
	return out
}

func (b *typeBuilder) applyTypeExtensions(node *schemaNode, stype tracker.StructuralType) {
	node.extend("x-type-name", stype.TypeName())
	switch t := stype.(type) {
	case *tracker.EntityType:
		keys := make([]string, 0, len(t.KeyProperties))
		for _, kp := range t.KeyProperties {
			keys = append(keys, kp.Name)
		}
		node.extend("x-key", keys)
		if t.AutoGeneratedKeyType != tracker.AutoKeyNone {
			node.extend("x-auto-generated-key", t.AutoGeneratedKeyType.String())
		}
		if t.DefaultResourceName != "" {
			node.extend("x-resource", t.DefaultResourceName)
		}
		if t.IsAbstract {
			node.extend("x-abstract", true)
		}
		if len(t.Custom) > 0 {
			node.extend("x-custom", t.Custom)
		}
	case *tracker.ComplexType:
		node.extend("x-complex-type", true)
		if len(t.Custom) > 0 {
			node.extend("x-custom", t.Custom)
		}
	}
}

func complexTypeName(dp *tracker.DataProperty) string {
	if dp.ComplexType != nil {
		return dp.ComplexType.Name
	}
	return dp.ComplexTypeName
}

func isJSONScalar(v any) bool {
	switch v.(type) {
	case string, bool, int, int32, int64, float32, float64:
		return true
	}
	return false
}

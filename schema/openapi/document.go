package openapi

import (
	"fmt"
	"sort"
	"strings"

	tracker "github.com/goliatone/go-tracker"
)

type openAPIDocumentBuilder struct {
	config   generatorConfig
	registry *componentRegistry
	types    []tracker.StructuralType
}

func newOpenAPIDocumentBuilder(config generatorConfig, types []tracker.StructuralType) *openAPIDocumentBuilder {
	sorted := append([]tracker.StructuralType(nil), types...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TypeName() < sorted[j].TypeName() })
	return &openAPIDocumentBuilder{
		config:   config,
		registry: newComponentRegistry(),
		types:    sorted,
	}
}

func (b *openAPIDocumentBuilder) build() (map[string]any, error) {
	// Names first so forward references resolve.
	for _, stype := range b.types {
		b.registry.reserve(stype.TypeName(), shortName(stype))
	}
	tb := &typeBuilder{registry: b.registry}
	for _, stype := range b.types {
		b.registry.set(stype.TypeName(), tb.buildType(stype).openAPI())
	}

	document := map[string]any{
		"openapi": b.config.openAPIVersion,
		"info":    b.buildInfo(),
		"paths":   b.buildPaths(),
	}
	if components := b.registry.componentsMap(); components != nil {
		document["components"] = map[string]any{
			"schemas": components,
		}
	}

	if err := validateDocument(document); err != nil {
		return nil, err
	}
	return document, nil
}

func (b *openAPIDocumentBuilder) buildInfo() map[string]any {
	info := map[string]any{
		"title":   b.config.info.Title,
		"version": b.config.info.Version,
	}
	if b.config.info.Description != "" {
		info["description"] = b.config.info.Description
	}
	return info
}

func (b *openAPIDocumentBuilder) buildPaths() map[string]any {
	paths := map[string]any{}
	if !b.config.paths {
		return paths
	}
	for _, stype := range b.types {
		et, ok := stype.(*tracker.EntityType)
		if !ok || et.DefaultResourceName == "" {
			continue
		}
		if base := et.BaseEntityType; base != nil && base.DefaultResourceName == et.DefaultResourceName {
			continue
		}
		path := b.config.basePath + "/" + strings.Trim(et.DefaultResourceName, "/")
		paths[path] = map[string]any{
			"get": b.queryOperation(et, path),
		}
	}
	return paths
}

func (b *openAPIDocumentBuilder) queryOperation(et *tracker.EntityType, path string) map[string]any {
	statuses := make([]string, 0, len(b.config.responses))
	for status := range b.config.responses {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)

	responses := make(map[string]any, len(statuses))
	for _, status := range statuses {
		resp := map[string]any{"description": b.config.responses[status]}
		if strings.HasPrefix(status, "2") {
			resp["content"] = map[string]any{
				b.config.contentType: map[string]any{
					"schema": map[string]any{
						"type":  "array",
						"items": map[string]any{"$ref": b.registry.ref(et.Name)},
					},
				},
			}
		}
		responses[status] = resp
	}

	return map[string]any{
		"operationId": fmt.Sprintf("get:%s", path),
		"summary":     fmt.Sprintf("Query %s", et.ShortName),
		"parameters": []any{
			queryParameter("$filter", "string"),
			queryParameter("$skip", "integer"),
			queryParameter("$top", "integer"),
		},
		"responses": responses,
	}
}

func queryParameter(name, typ string) map[string]any {
	return map[string]any{
		"name":     name,
		"in":       "query",
		"required": false,
		"schema":   map[string]any{"type": typ},
	}
}

func shortName(stype tracker.StructuralType) string {
	switch t := stype.(type) {
	case *tracker.EntityType:
		return t.ShortName
	case *tracker.ComplexType:
		return t.ShortName
	}
	return stype.TypeName()
}

func validateDocument(document map[string]any) error {
	if document == nil {
		return fmt.Errorf("openapi: document cannot be nil")
	}
	openapi, _ := document["openapi"].(string)
	if openapi == "" {
		return fmt.Errorf("openapi: document missing version string")
	}
	info, _ := document["info"].(map[string]any)
	if info == nil {
		return fmt.Errorf("openapi: document missing info section")
	}
	if title, _ := info["title"].(string); title == "" {
		return fmt.Errorf("openapi: info.title must be set")
	}
	if version, _ := info["version"].(string); version == "" {
		return fmt.Errorf("openapi: info.version must be set")
	}
	paths, ok := document["paths"].(map[string]any)
	if !ok {
		return fmt.Errorf("openapi: document missing paths object")
	}
	for pathKey, pathValue := range paths {
		pathItem, _ := pathValue.(map[string]any)
		if len(pathItem) == 0 {
			return fmt.Errorf("openapi: path %q missing operations", pathKey)
		}
		for method, operationValue := range pathItem {
			operation, _ := operationValue.(map[string]any)
			if operation == nil {
				return fmt.Errorf("openapi: operation %s %s invalid payload", method, pathKey)
			}
			if _, ok := operation["operationId"].(string); !ok {
				return fmt.Errorf("openapi: operation %s %s missing operationId", method, pathKey)
			}
			if responses, _ := operation["responses"].(map[string]any); len(responses) == 0 {
				return fmt.Errorf("openapi: operation %s %s missing responses", method, pathKey)
			}
		}
	}
	return nil
}

// Package openapi renders the structural types of a tracker.MetadataStore as
// an OpenAPI 3 document: one component schema per entity or complex type and
// one query path per entity resource.
package openapi

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	tracker "github.com/goliatone/go-tracker"
)

// Generator builds OpenAPI documents. It holds no mutable state and is safe
// for concurrent use.
type Generator struct {
	config generatorConfig
}

// NewGenerator constructs a generator.
func NewGenerator(opts ...GeneratorOption) Generator {
	cfg := defaultGeneratorConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return Generator{config: cfg}
}

// Generate builds the document for every type registered in ms.
func (g Generator) Generate(ms *tracker.MetadataStore) (map[string]any, error) {
	if ms == nil {
		return nil, fmt.Errorf("openapi: metadata store is required")
	}
	return newOpenAPIDocumentBuilder(g.config, ms.GetEntityTypes()).build()
}

// GenerateTypes builds the document for the given types only. Navigation
// targets outside the set render as dangling references.
func (g Generator) GenerateTypes(types ...tracker.StructuralType) (map[string]any, error) {
	return newOpenAPIDocumentBuilder(g.config, types).build()
}

// GenerateJSON renders the document for ms as indented JSON.
func (g Generator) GenerateJSON(ms *tracker.MetadataStore) ([]byte, error) {
	doc, err := g.Generate(ms)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

// GenerateYAML renders the document for ms as YAML.
func (g Generator) GenerateYAML(ms *tracker.MetadataStore) ([]byte, error) {
	doc, err := g.Generate(ms)
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}

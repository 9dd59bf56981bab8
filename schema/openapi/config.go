package openapi

import "strings"

type generatorConfig struct {
	openAPIVersion string
	info           info
	basePath       string
	contentType    string
	paths          bool
	// responses maps status codes to descriptions. 2xx entries carry the
	// resource collection schema.
	responses map[string]string
}

type info struct {
	Title       string
	Version     string
	Description string
}

func defaultGeneratorConfig() generatorConfig {
	return generatorConfig{
		openAPIVersion: "3.0.3",
		info:           info{Title: "Entity Metadata", Version: "1.0.0"},
		contentType:    "application/json",
		paths:          true,
		responses:      map[string]string{"200": "OK"},
	}
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*generatorConfig)

// WithOpenAPIVersion sets the openapi field. Defaults to 3.0.3.
func WithOpenAPIVersion(version string) GeneratorOption {
	return func(cfg *generatorConfig) {
		if version != "" {
			cfg.openAPIVersion = version
		}
	}
}

// WithInfo sets the document title and version, plus an optional description.
// Empty values keep the defaults.
func WithInfo(title, version string, description ...string) GeneratorOption {
	return func(cfg *generatorConfig) {
		if title != "" {
			cfg.info.Title = title
		}
		if version != "" {
			cfg.info.Version = version
		}
		if len(description) > 0 {
			cfg.info.Description = strings.Join(description, " ")
		}
	}
}

// WithBasePath prefixes every resource path, e.g. "/api/sales".
func WithBasePath(path string) GeneratorOption {
	return func(cfg *generatorConfig) {
		if trimmed := strings.Trim(path, "/"); trimmed != "" {
			cfg.basePath = "/" + trimmed
			return
		}
		cfg.basePath = ""
	}
}

// WithContentType sets the media type of resource responses.
func WithContentType(contentType string) GeneratorOption {
	return func(cfg *generatorConfig) {
		if contentType != "" {
			cfg.contentType = contentType
		}
	}
}

// WithoutPaths emits components only.
func WithoutPaths() GeneratorOption {
	return func(cfg *generatorConfig) { cfg.paths = false }
}

// WithResponse adds or replaces the response documented for status.
func WithResponse(status, description string) GeneratorOption {
	return func(cfg *generatorConfig) {
		if status == "" {
			return
		}
		if cfg.responses == nil {
			cfg.responses = map[string]string{}
		}
		cfg.responses[status] = description
	}
}

package tracker

import "strings"

// DataService identifies a remote service that metadata, queries and saves
// are exchanged with.
type DataService struct {
	ServiceName        string         `json:"serviceName" yaml:"serviceName"`
	AdapterName        string         `json:"adapterName,omitempty" yaml:"adapterName,omitempty"`
	URIBuilderName     string         `json:"uriBuilderName,omitempty" yaml:"uriBuilderName,omitempty"`
	HasServerMetadata  bool           `json:"hasServerMetadata" yaml:"hasServerMetadata"`
	JSONResultsAdapter string         `json:"jsonResultsAdapter,omitempty" yaml:"jsonResultsAdapter,omitempty"`
	UseJSONP           bool           `json:"useJsonp,omitempty" yaml:"useJsonp,omitempty"`
	Custom             map[string]any `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// DataServiceConfig configures NewDataService. HasServerMetadata defaults to
// true when nil.
type DataServiceConfig struct {
	ServiceName        string
	AdapterName        string
	URIBuilderName     string
	HasServerMetadata  *bool
	JSONResultsAdapter string
	UseJSONP           bool
	Custom             map[string]any
}

// NewDataService builds a DataService with a normalized service name.
func NewDataService(cfg DataServiceConfig) (*DataService, error) {
	if strings.TrimSpace(cfg.ServiceName) == "" {
		return nil, errorf(ErrInvalidConfig, "Unable to resolve a 'serviceName' for this dataService")
	}
	return &DataService{
		ServiceName:        normalizeServiceName(cfg.ServiceName),
		AdapterName:        cfg.AdapterName,
		URIBuilderName:     cfg.URIBuilderName,
		HasServerMetadata:  boolOr(cfg.HasServerMetadata, true),
		JSONResultsAdapter: cfg.JSONResultsAdapter,
		UseJSONP:           cfg.UseJSONP,
		Custom:             cloneCustom(cfg.Custom),
	}, nil
}

// Using returns a copy with the non-zero fields of cfg applied.
func (ds *DataService) Using(cfg DataServiceConfig) *DataService {
	out := *ds
	out.Custom = cloneCustom(ds.Custom)
	if cfg.ServiceName != "" {
		out.ServiceName = normalizeServiceName(cfg.ServiceName)
	}
	if cfg.AdapterName != "" {
		out.AdapterName = cfg.AdapterName
	}
	if cfg.URIBuilderName != "" {
		out.URIBuilderName = cfg.URIBuilderName
	}
	if cfg.HasServerMetadata != nil {
		out.HasServerMetadata = *cfg.HasServerMetadata
	}
	if cfg.JSONResultsAdapter != "" {
		out.JSONResultsAdapter = cfg.JSONResultsAdapter
	}
	if cfg.UseJSONP {
		out.UseJSONP = true
	}
	if cfg.Custom != nil {
		out.Custom = cloneCustom(cfg.Custom)
	}
	return &out
}

// QualifyURL joins the service name and suffix with exactly one slash.
func (ds *DataService) QualifyURL(suffix string) string {
	url := strings.TrimSuffix(ds.ServiceName, "/")
	suffix = "/" + strings.TrimPrefix(suffix, "/")
	if !strings.HasSuffix(url, suffix) {
		url += suffix
	}
	return url
}

func normalizeServiceName(name string) string {
	name = strings.TrimSpace(name)
	if !strings.HasSuffix(name, "/") {
		return name + "/"
	}
	return name
}

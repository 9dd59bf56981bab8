// Package config loads tracker settings from files and TRACKER_* environment
// variables and converts them into engine options.
package config

import (
	"fmt"
	"strings"

	tracker "github.com/goliatone/go-tracker"
	"github.com/goliatone/go-tracker/pkg/activity"
	"github.com/goliatone/go-tracker/pkg/logx"
)

// Settings is the decoded configuration document.
type Settings struct {
	Metadata   MetadataSettings   `mapstructure:"metadata"`
	Validation ValidationSettings `mapstructure:"validation"`
	Query      QuerySettings      `mapstructure:"query"`
	Keys       KeySettings        `mapstructure:"keys"`
	Evaluator  EvaluatorSettings  `mapstructure:"evaluator"`
	Activity   ActivitySettings   `mapstructure:"activity"`
	Log        LogSettings        `mapstructure:"log"`
	Store      StoreSettings      `mapstructure:"store"`
}

type MetadataSettings struct {
	Name             string `mapstructure:"name"`
	NamingConvention string `mapstructure:"naming_convention"`
	Comparison       string `mapstructure:"comparison"`
	AutoValidators   bool   `mapstructure:"auto_validators"`
}

type ValidationSettings struct {
	OnAttach         bool `mapstructure:"on_attach"`
	OnSave           bool `mapstructure:"on_save"`
	OnQuery          bool `mapstructure:"on_query"`
	OnPropertyChange bool `mapstructure:"on_property_change"`
}

type QuerySettings struct {
	FetchStrategy  string                `mapstructure:"fetch_strategy"`
	MergeStrategy  tracker.MergeStrategy `mapstructure:"merge_strategy"`
	IncludeDeleted bool                  `mapstructure:"include_deleted"`
}

type KeySettings struct {
	// Generator is "default" or "ulid".
	Generator string `mapstructure:"generator"`
	Prefix    string `mapstructure:"prefix"`
}

type EvaluatorSettings struct {
	Engine    string `mapstructure:"engine"`
	CacheSize int    `mapstructure:"cache_size"`
}

type ActivitySettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Channel string `mapstructure:"channel"`
}

type LogSettings struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

type StoreSettings struct {
	// DSN is the SQLite path used by gormstore.
	DSN    string `mapstructure:"dsn"`
	Tenant string `mapstructure:"tenant"`
}

// Defaults mirrors the engine defaults.
func Defaults() Settings {
	v := tracker.DefaultValidationOptions()
	return Settings{
		Metadata: MetadataSettings{
			NamingConvention: tracker.NamingNone.Name,
			Comparison:       tracker.CaseInsensitiveSQL.Name,
		},
		Validation: ValidationSettings{
			OnAttach:         v.ValidateOnAttach,
			OnSave:           v.ValidateOnSave,
			OnQuery:          v.ValidateOnQuery,
			OnPropertyChange: v.ValidateOnPropertyChange,
		},
		Query: QuerySettings{
			FetchStrategy: tracker.FetchFromServer.String(),
			MergeStrategy: tracker.MergePreserveChanges,
		},
		Keys:      KeySettings{Generator: "default"},
		Evaluator: EvaluatorSettings{Engine: tracker.EngineExpr, CacheSize: tracker.DefaultProgramCacheSize},
		Activity:  ActivitySettings{Channel: activity.DefaultChannel},
		Log:       LogSettings{Level: "info", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 7},
		Store:     StoreSettings{DSN: "tracker.db"},
	}
}

// Validate checks every named option resolves.
func (s Settings) Validate() error {
	if _, err := s.StoreOptions(); err != nil {
		return err
	}
	if _, err := s.ManagerOptions(); err != nil {
		return err
	}
	if _, err := s.NewEvaluator(); err != nil {
		return err
	}
	return nil
}

// StoreOptions converts the metadata section.
func (s Settings) StoreOptions() ([]tracker.MetadataStoreOption, error) {
	var opts []tracker.MetadataStoreOption
	if name := strings.TrimSpace(s.Metadata.NamingConvention); name != "" {
		nc, ok := tracker.NamingConventionByName(name)
		if !ok {
			return nil, fmt.Errorf("config: %w: unknown naming convention %q", tracker.ErrInvalidConfig, name)
		}
		opts = append(opts, tracker.WithNamingConvention(nc))
	}
	if name := strings.TrimSpace(s.Metadata.Comparison); name != "" {
		cmp, ok := tracker.ComparisonOptionsByName(name)
		if !ok {
			return nil, fmt.Errorf("config: %w: unknown comparison options %q", tracker.ErrInvalidConfig, name)
		}
		opts = append(opts, tracker.WithComparisonOptions(cmp))
	}
	if s.Metadata.Name != "" {
		opts = append(opts, tracker.WithStoreName(s.Metadata.Name))
	}
	if s.Metadata.AutoValidators {
		opts = append(opts, tracker.WithAutoValidators(true))
	}
	return opts, nil
}

// ManagerOptions converts the validation, query and key sections.
func (s Settings) ManagerOptions() ([]tracker.ManagerOption, error) {
	fetch, err := parseFetchStrategy(s.Query.FetchStrategy)
	if err != nil {
		return nil, err
	}
	opts := []tracker.ManagerOption{
		tracker.WithValidationOptions(tracker.ValidationOptions{
			ValidateOnAttach:         s.Validation.OnAttach,
			ValidateOnSave:           s.Validation.OnSave,
			ValidateOnQuery:          s.Validation.OnQuery,
			ValidateOnPropertyChange: s.Validation.OnPropertyChange,
		}),
		tracker.WithQueryOptions(tracker.QueryOptions{
			FetchStrategy:  fetch,
			MergeStrategy:  s.Query.MergeStrategy,
			IncludeDeleted: s.Query.IncludeDeleted,
		}),
	}
	switch strings.ToLower(strings.TrimSpace(s.Keys.Generator)) {
	case "", "default":
	case "ulid":
		prefix := s.Keys.Prefix
		opts = append(opts, tracker.WithKeyGenerator(func() tracker.KeyGenerator {
			return tracker.NewULIDKeyGenerator(prefix)
		}))
	default:
		return nil, fmt.Errorf("config: %w: unknown key generator %q", tracker.ErrInvalidConfig, s.Keys.Generator)
	}
	return opts, nil
}

// NewEvaluator builds the configured expression engine with its own cache.
func (s Settings) NewEvaluator() (tracker.Evaluator, error) {
	return tracker.NewEvaluator(s.Evaluator.Engine, tracker.NewProgramCache(s.Evaluator.CacheSize), nil)
}

// ActivityConfig converts the activity section.
func (s Settings) ActivityConfig() activity.Config {
	return activity.Config{Enabled: s.Activity.Enabled, Channel: s.Activity.Channel}
}

// FileConfig converts the log section for logx.NewRollingLogger.
func (s Settings) FileConfig(name string) logx.FileConfig {
	return logx.FileConfig{
		Name:       name,
		Level:      s.Log.Level,
		Filename:   s.Log.File,
		MaxSizeMB:  s.Log.MaxSizeMB,
		MaxBackups: s.Log.MaxBackups,
		MaxAgeDays: s.Log.MaxAgeDays,
		Compress:   s.Log.Compress,
		Console:    s.Log.Console,
	}
}

func parseFetchStrategy(name string) (tracker.FetchStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "fromserver", "server":
		return tracker.FetchFromServer, nil
	case "fromlocalcache", "localcache", "local":
		return tracker.FetchFromLocalCache, nil
	}
	return tracker.FetchFromServer, fmt.Errorf("config: %w: unknown fetch strategy %q", tracker.ErrInvalidConfig, name)
}

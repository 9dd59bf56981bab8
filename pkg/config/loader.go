package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. TRACKER_QUERY_MERGE_STRATEGY.
const EnvPrefix = "TRACKER"

// Loader reads Settings through viper and keeps the latest copy.
type Loader struct {
	v *viper.Viper

	mu      sync.RWMutex
	current Settings
}

// Load reads path (optional) plus environment overrides on top of Defaults.
func Load(path string) (Settings, error) {
	l, err := NewLoader(path)
	if err != nil {
		return Settings{}, err
	}
	return l.Settings(), nil
}

// NewLoader reads the configuration once. An empty path uses defaults and
// the environment only.
func NewLoader(path string) (*Loader, error) {
	v := viper.New()
	setDefaults(v, Defaults())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	l := &Loader{v: v}
	s, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.current = s
	return l, nil
}

// Settings returns the most recently decoded settings.
func (l *Loader) Settings() Settings {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Watch re-reads the file when it changes. fn receives the new settings, or
// the decode error while the previous settings stay current.
func (l *Loader) Watch(fn func(Settings, error)) {
	l.v.OnConfigChange(func(fsnotify.Event) {
		s, err := l.decode()
		if err == nil {
			l.mu.Lock()
			l.current = s
			l.mu.Unlock()
		}
		if fn != nil {
			fn(s, err)
		}
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (Settings, error) {
	var s Settings
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := l.v.Unmarshal(&s, hook); err != nil {
		return Settings{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func setDefaults(v *viper.Viper, d Settings) {
	v.SetDefault("metadata.name", d.Metadata.Name)
	v.SetDefault("metadata.naming_convention", d.Metadata.NamingConvention)
	v.SetDefault("metadata.comparison", d.Metadata.Comparison)
	v.SetDefault("metadata.auto_validators", d.Metadata.AutoValidators)

	v.SetDefault("validation.on_attach", d.Validation.OnAttach)
	v.SetDefault("validation.on_save", d.Validation.OnSave)
	v.SetDefault("validation.on_query", d.Validation.OnQuery)
	v.SetDefault("validation.on_property_change", d.Validation.OnPropertyChange)

	v.SetDefault("query.fetch_strategy", d.Query.FetchStrategy)
	v.SetDefault("query.merge_strategy", d.Query.MergeStrategy.String())
	v.SetDefault("query.include_deleted", d.Query.IncludeDeleted)

	v.SetDefault("keys.generator", d.Keys.Generator)
	v.SetDefault("keys.prefix", d.Keys.Prefix)

	v.SetDefault("evaluator.engine", d.Evaluator.Engine)
	v.SetDefault("evaluator.cache_size", d.Evaluator.CacheSize)

	v.SetDefault("activity.enabled", d.Activity.Enabled)
	v.SetDefault("activity.channel", d.Activity.Channel)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
	v.SetDefault("log.console", d.Log.Console)

	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.tenant", d.Store.Tenant)
}

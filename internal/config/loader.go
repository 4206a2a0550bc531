package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const envPrefix = "SWARM"

// Loader handles configuration loading
type Loader struct {
	configPath string

	mu sync.Mutex
	v  *viper.Viper
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file when present, then applies SWARM_* environment
// overrides, e.g. SWARM_AGENT_API_KEY for agent.api_key.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to resolve config path")
	}

	v := newViper()
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		l.mu.Lock()
		l.v = v
		l.mu.Unlock()
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	return decode(v)
}

// Watch calls onChange with the reloaded config whenever the file loaded by
// Load is written. Reloads that fail to decode are reported through onError.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) error {
	l.mu.Lock()
	v := l.v
	l.mu.Unlock()

	if v == nil {
		return fmt.Errorf("no config file loaded from %s", l.GetConfigPath())
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// Save writes cfg to the config path, creating its directory
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("server", cfg.Server)
	v.Set("agent", cfg.Agent)
	v.Set("tools", cfg.Tools)
	v.Set("buffers", cfg.Buffers)
	v.Set("logging", cfg.Logging)
	v.Set("tracing", cfg.Tracing)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".swarm", "swarm.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only covers keys viper already knows about
	for _, key := range configKeys(reflect.TypeOf(Config{}), "") {
		_ = v.BindEnv(key)
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".swarm")
	}
	return cfg, nil
}

// configKeys lists the dotted mapstructure keys of every leaf field
func configKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if f.Type.Kind() == reflect.Struct {
			keys = append(keys, configKeys(f.Type, key)...)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the wrapper around viper with extra helpers.
type Config struct {
	*viper.Viper

	sensitiveKeys map[string]struct{}
	onChange      func(name string)
	searchPaths   bool
}

// Option is a functional option for New.
type Option func(*Config) error

// New creates a Config instance. Sources apply in option order; later
// sources override earlier ones for the same key.
// Example:
//
//	cfg, err := config.New(
//	  config.WithDefaults(config.ClientDefaults()),
//	  config.WithFile("apiclient.yaml"),
//	  config.WithEnv("APICLIENT"),
//	  config.WithPFlags(cmd.Flags()),
//	)
func New(opts ...Option) (*Config, error) {
	cfg := &Config{
		Viper:         viper.New(),
		sensitiveKeys: map[string]struct{}{},
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("config: apply option: %w", err)
		}
	}

	if err := cfg.readConfigIfPossible(); err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return cfg, nil
}

// readConfigIfPossible reads an explicit file, or searches the configured
// paths. A search that finds nothing is not an error.
func (c *Config) readConfigIfPossible() error {
	if c.ConfigFileUsed() != "" {
		return c.ReadInConfig()
	}
	if !c.searchPaths {
		return nil
	}
	err := c.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

/* ---------------------------
   Options
----------------------------*/

// WithDefaults sets default values (applied first)
func WithDefaults(defaults map[string]any) Option {
	return func(c *Config) error {
		for k, v := range defaults {
			c.SetDefault(k, v)
		}
		return nil
	}
}

// WithFile sets an exact config file; its extension determines the format.
func WithFile(path string) Option {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		c.SetConfigFile(path)
		if ext := strings.TrimPrefix(filepath.Ext(path), "."); ext != "" {
			c.SetConfigType(ext)
		}
		return nil
	}
}

// WithConfigNamePaths searches for name (without extension) in paths.
func WithConfigNamePaths(name string, paths ...string) Option {
	return func(c *Config) error {
		if name != "" {
			c.SetConfigName(name)
		}
		if len(paths) == 0 {
			paths = []string{".", "$HOME/.config/apiclient", "/etc/apiclient"}
		}
		for _, p := range paths {
			c.AddConfigPath(os.ExpandEnv(p))
		}
		c.searchPaths = true
		return nil
	}
}

// WithEnv enables environment variable overrides.
// prefix = "APICLIENT" means APICLIENT_CLIENT_BASE_URL overrides client.base_url.
func WithEnv(prefix string) Option {
	return func(c *Config) error {
		if prefix != "" {
			c.SetEnvPrefix(prefix)
		}
		c.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		c.AutomaticEnv()
		return nil
	}
}

// WithPFlags binds a flag set. Nil binds pflag.CommandLine.
func WithPFlags(flags *pflag.FlagSet) Option {
	return func(c *Config) error {
		if flags == nil {
			flags = pflag.CommandLine
		}
		return c.BindPFlags(flags)
	}
}

// WithDotEnv merges key=val lines from a .env file. A missing file is ignored.
func WithDotEnv(path string) Option {
	return func(c *Config) error {
		if path == "" {
			path = ".env"
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil
		}
		envV := viper.New()
		envV.SetConfigFile(path)
		envV.SetConfigType("env")
		if err := envV.ReadInConfig(); err != nil {
			return err
		}
		for _, k := range envV.AllKeys() {
			c.Set(k, envV.Get(k))
		}
		return nil
	}
}

// WithWatch enables hot-reload; onChange receives the changed file name.
func WithWatch(onChange func(name string)) Option {
	return func(c *Config) error {
		c.onChange = onChange
		c.OnConfigChange(func(e fsnotify.Event) {
			if c.onChange != nil && (e.Has(fsnotify.Write) || e.Has(fsnotify.Create)) {
				c.onChange(e.Name)
			}
		})
		c.WatchConfig()
		return nil
	}
}

// WithSensitiveKeys registers keys which are redacted by MaskedSettings.
func WithSensitiveKeys(keys ...string) Option {
	return func(c *Config) error {
		for _, k := range keys {
			c.sensitiveKeys[strings.ToLower(k)] = struct{}{}
		}
		return nil
	}
}

/* ---------------------------
   Typed getters with defaults
----------------------------*/

// GetStringD returns string or def
func (c *Config) GetStringD(key, def string) string {
	if val := c.GetString(key); val != "" {
		return val
	}
	return def
}

// GetIntD returns int or def
func (c *Config) GetIntD(key string, def int) int {
	if c.IsSet(key) {
		return c.GetInt(key)
	}
	return def
}

// GetBoolD returns bool or def
func (c *Config) GetBoolD(key string, def bool) bool {
	if c.IsSet(key) {
		return c.GetBool(key)
	}
	return def
}

// GetDurationD returns time.Duration or def
func (c *Config) GetDurationD(key string, def time.Duration) time.Duration {
	if c.IsSet(key) {
		return c.GetDuration(key)
	}
	return def
}

/* ---------------------------
   Validation & Utilities
----------------------------*/

// ValidateRequired ensures keys exist and are non-empty.
func (c *Config) ValidateRequired(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if !c.IsSet(k) || c.GetString(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

// MaskedSettings returns the effective settings flattened to dotted keys,
// with sensitive keys redacted.
func (c *Config) MaskedSettings() map[string]any {
	redacted := map[string]any{}
	for _, k := range c.AllKeys() {
		if c.isSensitive(k) {
			redacted[k] = "***REDACTED***"
			continue
		}
		redacted[k] = c.Get(k)
	}
	return redacted
}

// isSensitive matches a registered key and everything nested below it.
func (c *Config) isSensitive(key string) bool {
	for {
		if _, ok := c.sensitiveKeys[key]; ok {
			return true
		}
		i := strings.LastIndexByte(key, '.')
		if i < 0 {
			return false
		}
		key = key[:i]
	}
}

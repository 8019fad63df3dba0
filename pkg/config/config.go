// Package config loads clausemap settings from a YAML file, CLAUSEMAP_*
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. CLAUSEMAP_SERVER_PORT.
const EnvPrefix = "CLAUSEMAP"

// Config is the complete program configuration.
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Progress  ProgressConfig  `mapstructure:"progress" yaml:"progress"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Watch     WatchConfig     `mapstructure:"watch" yaml:"watch"`
	Normalize NormalizeConfig `mapstructure:"normalize" yaml:"normalize"`
}

type StoreConfig struct {
	Path    string `mapstructure:"path" yaml:"path"`
	TextDir string `mapstructure:"text_dir" yaml:"text_dir"`
}

type ProgressConfig struct {
	MaxAge        time.Duration `mapstructure:"max_age" yaml:"max_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type WatchConfig struct {
	Dir      string        `mapstructure:"dir" yaml:"dir"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	Patterns []string      `mapstructure:"patterns" yaml:"patterns"`
}

type NormalizeConfig struct {
	MaxPages int `mapstructure:"max_pages" yaml:"max_pages"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Console: LoggerConfig{Level: "normal"},
			File:    LoggerConfig{Level: "none", Destination: "clausemap.log", Mode: "append"},
		},
		Store: StoreConfig{
			Path:    "clausemap.db",
			TextDir: "clausemap-text",
		},
		Progress: ProgressConfig{
			MaxAge:        time.Hour,
			SweepInterval: time.Minute,
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8087,
			MaxBodyBytes: 8 << 20,
		},
		Watch: WatchConfig{
			Dir:      "inbox",
			Debounce: 500 * time.Millisecond,
			Patterns: []string{"*.pdf", "*.txt"},
		},
		Normalize: NormalizeConfig{
			MaxPages: 0,
		},
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var err error
	err = multierr.Append(err, c.Logging.validate())
	if c.Store.Path == "" {
		err = multierr.Append(err, errors.New("store.path is required"))
	}
	if c.Progress.MaxAge <= 0 {
		err = multierr.Append(err, errors.New("progress.max_age must be positive"))
	}
	if c.Progress.SweepInterval <= 0 {
		err = multierr.Append(err, errors.New("progress.sweep_interval must be positive"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.MaxBodyBytes <= 0 {
		err = multierr.Append(err, errors.New("server.max_body_bytes must be positive"))
	}
	if c.Watch.Debounce < 0 {
		err = multierr.Append(err, errors.New("watch.debounce must not be negative"))
	}
	if c.Normalize.MaxPages < 0 {
		err = multierr.Append(err, errors.New("normalize.max_pages must not be negative"))
	}
	return err
}

// Manager owns the viper instance the configuration was read from.
type Manager struct {
	v      *viper.Viper
	config *Config
}

// NewManager reads cfgFile, or clausemap.yaml from the working directory or
// $HOME/.clausemap when cfgFile is empty. A missing default file is not an
// error.
func NewManager(cfgFile string) (*Manager, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("clausemap")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.clausemap")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Manager{v: v, config: &cfg}, nil
}

// Get returns the loaded configuration.
func (m *Manager) Get() *Config {
	return m.config
}

// ConfigFileUsed returns the file the configuration was read from, if any.
func (m *Manager) ConfigFileUsed() string {
	return m.v.ConfigFileUsed()
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("logging.console.level", d.Logging.Console.Level)
	v.SetDefault("logging.console.destination", d.Logging.Console.Destination)
	v.SetDefault("logging.console.mode", d.Logging.Console.Mode)
	v.SetDefault("logging.file.level", d.Logging.File.Level)
	v.SetDefault("logging.file.destination", d.Logging.File.Destination)
	v.SetDefault("logging.file.mode", d.Logging.File.Mode)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.text_dir", d.Store.TextDir)
	v.SetDefault("progress.max_age", d.Progress.MaxAge)
	v.SetDefault("progress.sweep_interval", d.Progress.SweepInterval)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.max_body_bytes", d.Server.MaxBodyBytes)
	v.SetDefault("watch.dir", d.Watch.Dir)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("watch.patterns", d.Watch.Patterns)
	v.SetDefault("normalize.max_pages", d.Normalize.MaxPages)
}

// WriteDefault writes the default configuration as YAML to path.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	header := []byte(`# clausemap configuration
# Every key can be overridden from the environment, e.g. CLAUSEMAP_SERVER_PORT=9000

`)
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

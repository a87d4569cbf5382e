package config

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/filebase-dev/filebase/internal/errors"
	"github.com/filebase-dev/filebase/internal/logging"
	"github.com/filebase-dev/filebase/pkg/discovery"
	"github.com/filebase-dev/filebase/pkg/dispatch"
	"github.com/filebase-dev/filebase/pkg/server"
)

const (
	// ConfigName is the base name of the configuration file.
	ConfigName = "filebase"

	// ConfigFileName is the configuration file looked up in the working
	// directory.
	ConfigFileName = ConfigName + ".yaml"

	// EnvPrefix prefixes environment overrides.
	EnvPrefix = "FILEBASE"

	// DefaultAddress is the default listen address.
	DefaultAddress = ":8080"

	// DefaultRoot is the default route tree directory.
	DefaultRoot = "public"
)

// Config is the complete filebase.yaml configuration.
type Config struct {
	// Root is the route tree directory.
	Root string `mapstructure:"root"`

	// Address is the listen address.
	Address string `mapstructure:"address"`

	Suffix       string `mapstructure:"suffix"`
	IndexName    string `mapstructure:"index_name"`
	ContextParam string `mapstructure:"context_param"`

	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`

	MaxBodyBytes     int64    `mapstructure:"max_body_bytes"`
	ShowErrorDetails bool     `mapstructure:"show_error_details"`
	TrustedProxies   []string `mapstructure:"trusted_proxies"`
	HandleSignals    bool     `mapstructure:"handle_signals"`

	// ServeFiles serves the non-route files of the tree.
	ServeFiles bool `mapstructure:"serve_files"`

	Templates TemplatesConfig `mapstructure:"templates"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Log       LogConfig       `mapstructure:"log"`

	// configPath stores the file the config was loaded from.
	configPath string
}

// TemplatesConfig controls template execution of .html files.
type TemplatesConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Path      string `mapstructure:"path"`
}

// TracingConfig controls OpenTelemetry spans.
type TracingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	TracerName string `mapstructure:"tracer_name"`
}

// LogConfig controls the command logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// NewViper returns a viper instance with every key defaulted and
// FILEBASE_* environment overrides enabled. Command line flags can be
// bound to it before calling LoadViper.
func NewViper() *viper.Viper {
	v := viper.New()

	def := server.DefaultConfig()
	v.SetDefault("root", DefaultRoot)
	v.SetDefault("address", DefaultAddress)
	v.SetDefault("suffix", discovery.DefaultSuffix)
	v.SetDefault("index_name", discovery.DefaultIndexName)
	v.SetDefault("context_param", discovery.DefaultContextParam)
	v.SetDefault("shutdown_timeout", def.ShutdownTimeout)
	v.SetDefault("read_header_timeout", def.ReadHeaderTimeout)
	v.SetDefault("read_timeout", time.Duration(0))
	v.SetDefault("write_timeout", time.Duration(0))
	v.SetDefault("idle_timeout", def.IdleTimeout)
	v.SetDefault("max_body_bytes", dispatch.DefaultMaxBodyBytes)
	v.SetDefault("show_error_details", false)
	v.SetDefault("trusted_proxies", []string{})
	v.SetDefault("handle_signals", true)
	v.SetDefault("serve_files", true)
	v.SetDefault("templates.enabled", true)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", def.Metrics.Namespace)
	v.SetDefault("metrics.path", def.Metrics.Path)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.tracer_name", def.Tracing.TracerName)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logging.FormatText)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration with defaults and environment overrides.
// An empty file looks for filebase.yaml in the working directory and
// tolerates its absence; a named file must exist.
func Load(file string) (*Config, error) {
	return LoadViper(NewViper(), file)
}

// LoadViper reads the configuration through v, which should come from
// NewViper.
func LoadViper(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !stderrors.As(err, &notFound) {
			return nil, errors.New("F100").Wrap(err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.New("F100").Wrap(fmt.Errorf("decode: %w", err))
	}
	cfg.configPath = v.ConfigFileUsed()

	if rootFromFile(v) && !filepath.IsAbs(cfg.Root) {
		cfg.Root = filepath.Join(filepath.Dir(cfg.configPath), cfg.Root)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// rootFromFile reports whether the effective root is the one written in
// the config file. Roots from the environment or the command line are
// relative to the working directory; the command line passes absolute
// roots through Set.
func rootFromFile(v *viper.Viper) bool {
	if v.ConfigFileUsed() == "" || !v.InConfig("root") {
		return false
	}
	_, fromEnv := os.LookupEnv(EnvPrefix + "_ROOT")
	return !fromEnv
}

// Path returns the file the config was loaded from, or "" when only
// defaults and the environment were used.
func (c *Config) Path() string {
	return c.configPath
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New("F101").WithDetail(fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.Root) == "" {
		return invalid("root is required")
	}
	if c.Address == "" {
		return invalid("address is required")
	}
	if !strings.HasPrefix(c.Suffix, ".") {
		return invalid("suffix %q must start with a dot", c.Suffix)
	}
	if c.MaxBodyBytes < 0 {
		return invalid("max_body_bytes must not be negative")
	}
	if c.ShutdownTimeout < 0 {
		return invalid("shutdown_timeout must not be negative")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return invalid("metrics.path %q must start with /", c.Metrics.Path)
	}
	if c.Log.Level != "" {
		if _, err := logging.ParseLevel(c.Log.Level); err != nil {
			return invalid("log.level: %v", err)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		return invalid("log.format %q must be text or json", c.Log.Format)
	}
	return nil
}

// RootExists reports whether the root directory exists.
func (c *Config) RootExists() bool {
	info, err := os.Stat(c.Root)
	return err == nil && info.IsDir()
}

// ServerConfig converts the configuration to a server.Config.
func (c *Config) ServerConfig(logger *slog.Logger) *server.Config {
	sc := server.DefaultConfig().WithRoot(c.Root).WithAddress(c.Address)
	sc.Suffix = c.Suffix
	sc.IndexName = c.IndexName
	sc.ContextParam = c.ContextParam
	sc.ShutdownTimeout = c.ShutdownTimeout
	sc.ReadHeaderTimeout = c.ReadHeaderTimeout
	sc.ReadTimeout = c.ReadTimeout
	sc.WriteTimeout = c.WriteTimeout
	sc.IdleTimeout = c.IdleTimeout
	sc.MaxBodyBytes = c.MaxBodyBytes
	sc.ShowErrorDetails = c.ShowErrorDetails
	sc.TrustedProxies = append([]string(nil), c.TrustedProxies...)
	sc.HandleSignals = c.HandleSignals
	sc.ServeFiles = c.ServeFiles
	sc.Templates = c.Templates.Enabled
	sc.Metrics = server.MetricsConfig{
		Enabled:   c.Metrics.Enabled,
		Namespace: c.Metrics.Namespace,
		Path:      c.Metrics.Path,
	}
	sc.Tracing.Enabled = c.Tracing.Enabled
	sc.Tracing.TracerName = c.Tracing.TracerName
	sc.Logger = logger
	return sc
}

// Package config loads the YAML configuration shared by the CLI commands.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go-report-pipeline/internal/model"
)

// Config is the root configuration.
type Config struct {
	Search  SearchConfig        `yaml:"search"`
	Report  model.ReportJobSpec `yaml:"report"`
	Server  ServerConfig        `yaml:"server"`
	Logging LoggingConfig       `yaml:"logging"`
}

// SearchConfig locates the remote search service.
type SearchConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
	Insecure    bool          `yaml:"insecure"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	DB        string `yaml:"db"`
	OutputDir string `yaml:"output_dir"`
}

// LoggingConfig selects the log format and level.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults.
const (
	DefaultEndpoint    = "localhost:50051"
	DefaultDialTimeout = 10 * time.Second
	DefaultAddr        = ":8080"
	DefaultDB          = "reports.db"
	DefaultOutputDir   = "outputs"
	DefaultJobTimeout  = "5m"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(map[string]interface{}{})
	return cfg
}

// LoadFile reads and parses the configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	// #nosec G304
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it.
func Parse(data []byte) (*Config, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal yaml")
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		WeaklyTypedInput: true, // numeric account ids
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		Result:           &cfg,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to build decoder")
	}
	if err := dec.Decode(raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	cfg.applyDefaults(raw)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(raw map[string]interface{}) {
	if c.Search.Endpoint == "" {
		c.Search.Endpoint = DefaultEndpoint
	}
	if c.Search.DialTimeout == 0 {
		c.Search.DialTimeout = DefaultDialTimeout
	}
	// Plaintext unless the file says otherwise; the bundled search daemon
	// serves without TLS.
	if !c.Search.Insecure && !explicitlySet(raw, "search", "insecure") {
		c.Search.Insecure = true
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.DB == "" {
		c.Server.DB = DefaultDB
	}
	if c.Server.OutputDir == "" {
		c.Server.OutputDir = DefaultOutputDir
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "logfmt"
	}
	if c.Report.Concurrency.JobTimeout == "" {
		c.Report.Concurrency.JobTimeout = DefaultJobTimeout
	}
}

func explicitlySet(raw map[string]interface{}, section, key string) bool {
	m, ok := raw[section].(map[string]interface{})
	if !ok {
		return false
	}
	_, set := m[key]
	return set
}

// Validate checks the values LoadFile cannot default. The report itself is
// validated when a run starts.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Search.Endpoint) == "" {
		return errors.New("search.endpoint is required")
	}
	if c.Search.DialTimeout < 0 {
		return errors.New("search.dial_timeout must not be negative")
	}
	if c.Report.Concurrency.DispatchConcurrency < 0 {
		return errors.New("report.concurrency.dispatch_concurrency must not be negative")
	}
	if _, err := time.ParseDuration(c.Report.Concurrency.JobTimeout); err != nil {
		return errors.Wrap(err, "report.concurrency.job_timeout")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "logfmt", "json":
	default:
		return errors.Errorf("logging.format %q is not logfmt or json", c.Logging.Format)
	}
	return nil
}

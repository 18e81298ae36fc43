// Package config provides configuration loading and management.
//
// A single global Config instance is maintained in memory, protected by
// mutex. Get returns the config BY VALUE so callers cannot mutate shared
// state; all runtime changes go through Update functions that validate
// before swapping.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/StevenAri1995/RetailAgent/pkg/logx"
)

//nolint:gochecknoglobals // Intentional singleton pattern for config management
var (
	config *Config
	logger *logx.Logger
	mu     sync.RWMutex
)

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// Duration is a time.Duration that unmarshals from YAML strings like "9s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ModelCandidate names one model in fallback order.
type ModelCandidate struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// ModelsConfig controls intent resolution.
type ModelsConfig struct {
	Candidates     []ModelCandidate `yaml:"candidates,omitempty"`
	OllamaEndpoint string           `yaml:"ollama_endpoint,omitempty"`
	MaxRetries     int              `yaml:"max_retries"`
	ResponseTTL    Duration         `yaml:"response_ttl"`
}

// FlowConfig controls the shopping flow state machine.
type FlowConfig struct {
	DefaultPlatform string   `yaml:"default_platform"`
	PageLoadTimeout Duration `yaml:"page_load_timeout"`
	ConfirmTimeout  Duration `yaml:"confirm_timeout"`
	PollInterval    Duration `yaml:"poll_interval"`
}

// BridgeConfig controls the page-agent channel.
type BridgeConfig struct {
	CallTimeout Duration `yaml:"call_timeout"`
}

// StorageConfig locates the persistence layer.
type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// PlatformsConfig optionally overrides the built-in storefront descriptors.
type PlatformsConfig struct {
	DescriptorFile string `yaml:"descriptor_file,omitempty"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Config is the complete application configuration.
type Config struct {
	Models    ModelsConfig    `yaml:"models"`
	Flow      FlowConfig      `yaml:"flow"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Storage   StorageConfig   `yaml:"storage"`
	Platforms PlatformsConfig `yaml:"platforms"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Models: ModelsConfig{
			MaxRetries:  3,
			ResponseTTL: Duration(5 * time.Minute),
		},
		Flow: FlowConfig{
			DefaultPlatform: "amazon",
			PageLoadTimeout: Duration(10 * time.Second),
			ConfirmTimeout:  Duration(20 * time.Second),
			PollInterval:    Duration(200 * time.Millisecond),
		},
		Bridge: BridgeConfig{
			CallTimeout: Duration(9 * time.Second),
		},
		Storage: StorageConfig{
			DBPath: "retailagent.db",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9090",
		},
	}
}

// Validate checks the config for values that would break subsystems.
func (c *Config) Validate() error {
	if c.Models.MaxRetries < 0 {
		return fmt.Errorf("models.max_retries must be >= 0")
	}
	if c.Flow.DefaultPlatform == "" {
		return fmt.Errorf("flow.default_platform is required")
	}
	if c.Flow.PageLoadTimeout <= 0 || c.Flow.ConfirmTimeout <= 0 {
		return fmt.Errorf("flow timeouts must be positive")
	}
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	for i, cand := range c.Models.Candidates {
		if cand.Provider == "" || cand.Model == "" {
			return fmt.Errorf("models.candidates[%d] needs provider and model", i)
		}
	}
	return nil
}

// Parse reads a config from YAML, layered over defaults.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load installs the global config from a YAML file layered with environment
// overrides. A missing file is not an error; defaults apply.
func Load(path string) error {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		cfg, err = Parse(data)
		if err != nil {
			return err
		}
		getLogger().Info("loaded config from %s", path)
	case os.IsNotExist(err):
		getLogger().Info("no config at %s, using defaults", path)
	default:
		return fmt.Errorf("failed to read config: %w", err)
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	config = &cfg
	return nil
}

// applyEnvOverrides layers deployment-level settings over the file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RETAILAGENT_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("RETAILAGENT_DEFAULT_PLATFORM"); v != "" {
		cfg.Flow.DefaultPlatform = v
	}
	if v := os.Getenv("RETAILAGENT_OLLAMA_ENDPOINT"); v != "" {
		cfg.Models.OllamaEndpoint = v
	}
	if v := os.Getenv("RETAILAGENT_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
	}
}

// Get returns the global config by value. Load must have been called.
func Get() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not loaded")
	}
	return *config, nil
}

// UpdateModels atomically replaces the models section after validation.
func UpdateModels(models ModelsConfig) error {
	mu.Lock()
	defer mu.Unlock()
	if config == nil {
		return fmt.Errorf("config not loaded")
	}
	next := *config
	next.Models = models
	if err := next.Validate(); err != nil {
		return err
	}
	config = &next
	return nil
}

// Reset clears the global config. Test use only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	config = nil
}

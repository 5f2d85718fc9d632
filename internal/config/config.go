package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/xupit3r/vecbench/internal/bench"
)

// Config represents the application configuration
type Config struct {
	Bench   BenchConfig   `mapstructure:"bench"`
	Device  DeviceConfig  `mapstructure:"device"`
	Results ResultsConfig `mapstructure:"results"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type BenchConfig struct {
	Length  int    `mapstructure:"length"`
	Policy  string `mapstructure:"policy"`
	Kernel  string `mapstructure:"kernel"`
	Repeat  int    `mapstructure:"repeat"`
	Verify  bool   `mapstructure:"verify"`
	Lengths []int  `mapstructure:"lengths"`
}

type DeviceConfig struct {
	Backend string `mapstructure:"backend"`
	Workers int    `mapstructure:"workers"`
}

type ResultsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

// PolicyAll selects every buffer policy in turn.
const PolicyAll = "all"

// Dir is the per-user directory holding config, results and logs.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".vecbench")
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	dir := Dir()

	return &Config{
		Bench: BenchConfig{
			Length:  128000000,
			Policy:  "private",
			Kernel:  "vectorAdd",
			Repeat:  1,
			Verify:  true,
			Lengths: []int{1 << 16, 1 << 20, 1 << 24, 128000000},
		},
		Device: DeviceConfig{
			Backend: "auto",
			Workers: 0,
		},
		Results: ResultsConfig{
			Enabled: true,
			Dir:     filepath.Join(dir, "results"),
		},
		Logging: LoggingConfig{
			Level:   "warn",
			File:    "",
			Console: true,
		},
	}
}

// Load loads configuration from file, environment, and defaults
func Load(cfgFile string) (*Config, error) {
	return LoadWith(viper.New(), cfgFile)
}

// LoadWith loads into v, so that flags already bound to v take precedence
// over the file and environment.
func LoadWith(v *viper.Viper, cfgFile string) (*Config, error) {
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("VECBENCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is okay, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ExpandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Bench.Length < 0 || int64(c.Bench.Length) > int64(1<<31-1) {
		return errors.New("bench.length must be between 0 and 2147483647")
	}
	for _, n := range c.Bench.Lengths {
		if n < 0 || int64(n) > int64(1<<31-1) {
			return fmt.Errorf("bench.lengths: %d out of range", n)
		}
	}

	if _, err := c.Policies(); err != nil {
		return fmt.Errorf("bench.policy: %w", err)
	}

	if c.Bench.Kernel == "" {
		return errors.New("bench.kernel must not be empty")
	}

	if c.Bench.Repeat < 1 {
		return errors.New("bench.repeat must be at least 1")
	}

	validBackends := []string{"auto", "cpu", "gpu", "metal"}
	if !contains(validBackends, c.Device.Backend) {
		return fmt.Errorf("device.backend must be one of: %v", validBackends)
	}

	if c.Device.Workers < 0 {
		return errors.New("device.workers must not be negative")
	}

	if c.Results.Enabled && c.Results.Dir == "" {
		return errors.New("results.dir is required when results are enabled")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

// Policies resolves bench.policy; "all" expands to every policy.
func (c *Config) Policies() ([]bench.Policy, error) {
	if strings.EqualFold(strings.TrimSpace(c.Bench.Policy), PolicyAll) {
		return bench.Policies(), nil
	}
	p, err := bench.ParsePolicy(c.Bench.Policy)
	if err != nil {
		return nil, err
	}
	return []bench.Policy{p}, nil
}

// ExpandPaths expands ~ and environment variables in paths
func (c *Config) ExpandPaths() {
	c.Results.Dir = expandPath(c.Results.Dir)
	c.Logging.File = expandPath(c.Logging.File)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("bench.length", cfg.Bench.Length)
	v.SetDefault("bench.policy", cfg.Bench.Policy)
	v.SetDefault("bench.kernel", cfg.Bench.Kernel)
	v.SetDefault("bench.repeat", cfg.Bench.Repeat)
	v.SetDefault("bench.verify", cfg.Bench.Verify)
	v.SetDefault("bench.lengths", cfg.Bench.Lengths)

	v.SetDefault("device.backend", cfg.Device.Backend)
	v.SetDefault("device.workers", cfg.Device.Workers)

	v.SetDefault("results.enabled", cfg.Results.Enabled)
	v.SetDefault("results.dir", cfg.Results.Dir)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
}

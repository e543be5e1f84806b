package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Translator struct {
		Provider string `yaml:"provider"` // service, gemini or openai
		Endpoint string `yaml:"endpoint"`
		Model    string `yaml:"model"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"translator"`
	Pipeline struct {
		Workers            int     `yaml:"workers"`
		RatePerSecond      float64 `yaml:"rate_per_second"`
		Burst              int     `yaml:"burst"`
		CallTimeout        string  `yaml:"call_timeout"`
		SkipConverted      bool    `yaml:"skip_converted"`
		CyclePolicy        string  `yaml:"cycle_policy"`
		DefaultAggregation string  `yaml:"default_aggregation"`
		ErrorHandlingMode  string  `yaml:"error_handling_mode"`
		TemplateCompliance string  `yaml:"template_compliance"`
		ReferencePattern   string  `yaml:"reference_pattern"`
		TemplatesDir       string  `yaml:"templates_dir"` // overrides for relational.tmpl, flatfile.tmpl, webapi.tmpl
	} `yaml:"pipeline"`
	Ledger struct {
		Path string `yaml:"path"`
	} `yaml:"ledger"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// Default returns a configuration with every optional field filled in.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// LoadConfig reads .env and the YAML file at path, then applies environment
// overrides and defaults. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	// 2. Load YAML config
	var cfg Config
	file, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(file, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	// 3. Override with Environment Variables if present
	if apiKey := os.Getenv("CALCMIGRATE_API_KEY"); apiKey != "" {
		cfg.Translator.APIKey = apiKey
	}
	if provider := os.Getenv("CALCMIGRATE_PROVIDER"); provider != "" {
		cfg.Translator.Provider = provider
	}
	if endpoint := os.Getenv("CALCMIGRATE_ENDPOINT"); endpoint != "" {
		cfg.Translator.Endpoint = endpoint
	}
	if path := os.Getenv("CALCMIGRATE_LEDGER"); path != "" {
		cfg.Ledger.Path = path
	}
	if level := os.Getenv("CALCMIGRATE_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Translator.Provider == "" {
		c.Translator.Provider = "service"
	}
	c.Translator.Provider = strings.ToLower(strings.TrimSpace(c.Translator.Provider))
	if c.Translator.Model == "" {
		switch c.Translator.Provider {
		case "gemini":
			c.Translator.Model = "gemini-2.5-flash"
		case "openai":
			c.Translator.Model = "gpt-4o-mini"
		}
	}
	if c.Pipeline.Workers <= 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.Burst <= 0 {
		c.Pipeline.Burst = 1
	}
	if c.Pipeline.CallTimeout == "" {
		c.Pipeline.CallTimeout = "60s"
	}
	if c.Pipeline.CyclePolicy == "" {
		c.Pipeline.CyclePolicy = "drop-edge"
	}
	if c.Pipeline.DefaultAggregation == "" {
		c.Pipeline.DefaultAggregation = "SUM"
	}
	if c.Pipeline.ErrorHandlingMode == "" {
		c.Pipeline.ErrorHandlingMode = "comprehensive"
	}
	if c.Pipeline.TemplateCompliance == "" {
		c.Pipeline.TemplateCompliance = "guided"
	}
	if c.Ledger.Path == "" {
		c.Ledger.Path = ".calcmigrate/ledger.db"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// CallTimeoutDuration parses the per-call timeout.
func (c *Config) CallTimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Pipeline.CallTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid pipeline.call_timeout %q: %w", c.Pipeline.CallTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("pipeline.call_timeout must be positive")
	}
	return d, nil
}

// Validate reports configuration problems that prevent a run from starting.
func (c *Config) Validate() error {
	var errs []error
	switch c.Translator.Provider {
	case "service", "http":
		if strings.TrimSpace(c.Translator.Endpoint) == "" {
			errs = append(errs, errors.New("translator.endpoint is required for the service provider"))
		}
	case "gemini", "openai":
		if strings.TrimSpace(c.Translator.APIKey) == "" {
			errs = append(errs, fmt.Errorf("translator.api_key is required for the %s provider", c.Translator.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported translator provider %q", c.Translator.Provider))
	}
	if _, err := c.CallTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	if c.Pipeline.RatePerSecond < 0 {
		errs = append(errs, errors.New("pipeline.rate_per_second must not be negative"))
	}
	if dir := c.Pipeline.TemplatesDir; dir != "" {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			errs = append(errs, fmt.Errorf("pipeline.templates_dir %q is not a directory", dir))
		}
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("invalid log.level: %w", err))
	}
	return errors.Join(errs...)
}

// ConfigureLogging applies the configured level; verbose forces debug.
func (c *Config) ConfigureLogging(verbose bool) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if verbose {
		log.SetLevel(log.DebugLevel)
		return
	}
	if lvl, err := log.ParseLevel(c.Log.Level); err == nil {
		log.SetLevel(lvl)
	}
}

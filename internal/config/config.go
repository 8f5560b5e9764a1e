package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// envPrefix is the prefix for all environment overrides, e.g.
// FORGE_LICENSE_VERIFIER_URL.
const envPrefix = "FORGE"

// Config is the complete application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
	License   LicenseConfig   `yaml:"license" envconfig:"LICENSE"`
}

// ServerConfig configures the local status HTTP server.
//
// Defaults live in Default(), never in envconfig `default` tags: envconfig
// applies a default tag whenever the variable is unset, which would clobber
// values already read from the YAML file.
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn error"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig configures trace export. Metrics are always on; spans are
// opt-in because the stdout exporter is chatty.
type TelemetryConfig struct {
	// TraceExporter selects where spans go: "stdout" or "none".
	TraceExporter string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
	SampleRatio   float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
}

// LicenseConfig configures the entitlement core.
type LicenseConfig struct {
	// VerifierURL enables remote verification when set. It must resolve to
	// an allow-listed host; this is checked at startup, not per request.
	VerifierURL string `yaml:"verifier_url" envconfig:"VERIFIER_URL" validate:"omitempty,url"`
	// Environment is an opaque tag forwarded to the verifier.
	Environment string `yaml:"environment" envconfig:"ENVIRONMENT"`
	// VerifyTimeout is per-request, in seconds.
	VerifyTimeout float64 `yaml:"verify_timeout" envconfig:"VERIFY_TIMEOUT" validate:"gte=0"`
	VerifyRetries int     `yaml:"verify_retries" envconfig:"VERIFY_RETRIES" validate:"gte=0,lte=10"`

	// CachePath overrides the verification cache location. Empty selects
	// the per-user cache directory.
	CachePath string `yaml:"cache_path" envconfig:"CACHE_PATH"`
	// LicensePath overrides license discovery. Empty enables the
	// well-known project-relative locations.
	LicensePath string `yaml:"license_path" envconfig:"LICENSE_PATH"`
	// PublicKeyPath overrides the embedded license signing key.
	PublicKeyPath string `yaml:"public_key_path" envconfig:"PUBLIC_KEY_PATH"`

	Issuer   string `yaml:"issuer" envconfig:"ISSUER"`
	Audience string `yaml:"audience" envconfig:"AUDIENCE"`

	// SymmetricSecret plus AllowSymmetric enable the HS256 development
	// mode. Both must be set; AllowSymmetric is the deliberate rail against
	// a dev secret shipping to production.
	SymmetricSecret string `yaml:"-" envconfig:"DEV_SECRET"`
	AllowSymmetric  bool   `yaml:"allow_symmetric" envconfig:"ALLOW_SYMMETRIC"`

	// Tier is the explicitly requested startup tier. Empty runs at
	// whatever tier is authorized.
	Tier string `yaml:"tier" envconfig:"TIER" validate:"omitempty,oneof=community pro enterprise"`

	// TierUnificationOverride bypasses authorization and runs at
	// enterprise. Kept as explicit, named configuration; see DESIGN.md.
	TierUnificationOverride bool `yaml:"tier_unification_override" envconfig:"TIER_UNIFICATION_OVERRIDE"`
}

// Timeout returns the verification timeout as a duration.
func (c LicenseConfig) Timeout() time.Duration {
	return time.Duration(c.VerifyTimeout * float64(time.Second))
}

// Load reads configuration from environment variables, overlaid on an
// optional YAML file found in the usual locations.
func Load() (*Config, error) {
	cfg := Default()

	if file := findConfigFile(); file != "" {
		fileCfg, err := loadFromFile(file)
		if err != nil {
			return nil, fmt.Errorf("load config file %s: %w", file, err)
		}
		*cfg = *fileCfg
	}

	// Environment always wins over the file.
	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks structural constraints on the configuration.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	locations := []string{
		"forgecli.yaml",
		".forgecli/config.yaml",
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            7777,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/forgecli.log",
		},
		Telemetry: TelemetryConfig{
			TraceExporter: "none",
			SampleRatio:   1.0,
		},
		License: LicenseConfig{
			VerifyTimeout: 2.0,
			VerifyRetries: 2,
			Issuer:        "forgecli-licensing",
			Audience:      "forgecli",
		},
	}
}

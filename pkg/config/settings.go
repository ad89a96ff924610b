// Operational settings loaded from a YAML file, separate from the
// secret-bearing environment variables in config.go. Settings here are
// safe to check into version control: tier definitions, batching cadence,
// rate-limit defaults, and server timeouts.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds operationally-tunable, non-secret configuration.
type Settings struct {
	Environment string `yaml:"environment"`

	Tiers   []TierSettings   `yaml:"tiers"`
	Batch   BatchSettings    `yaml:"batch"`
	Server  ServerSettings   `yaml:"server"`
	Logging LoggingSettings  `yaml:"logging"`
	CORS    CORSSettings     `yaml:"cors"`
	TLS     TLSSettings      `yaml:"tls"`
	Metrics MetricsSettings  `yaml:"metrics"`
}

// TierSettings defines the per-subscription-tier quota and rate limit.
type TierSettings struct {
	Name               string  `yaml:"name"`
	MonthlyQuota       int64   `yaml:"monthly_quota"`
	RequestsPerSecond  float64 `yaml:"requests_per_second"`
	Burst              int     `yaml:"burst"`
}

// BatchSettings controls the Merkle batching scheduler.
type BatchSettings struct {
	Interval     Duration `yaml:"interval"`
	MaxLeaves    int      `yaml:"max_leaves"`
	MinLeaves    int      `yaml:"min_leaves"`
	AnchorBatch  bool     `yaml:"anchor_batch"`
}

// ServerSettings controls HTTP server timeouts.
type ServerSettings struct {
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	IdleTimeout     Duration `yaml:"idle_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// LoggingSettings controls logger verbosity and output format.
type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CORSSettings controls allowed cross-origin request sources.
type CORSSettings struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
}

// TLSSettings controls whether the HTTP server terminates TLS directly.
type TLSSettings struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MetricsSettings controls the Prometheus metrics endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Duration wraps time.Duration for YAML unmarshaling of strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// defaultSettings returns the baked-in settings used when no tier list is
// present in the loaded file, or as the base before env substitution.
func defaultSettings() *Settings {
	return &Settings{
		Environment: "development",
		Tiers: []TierSettings{
			{Name: "free", MonthlyQuota: 1000, RequestsPerSecond: 2, Burst: 5},
			{Name: "standard", MonthlyQuota: 50000, RequestsPerSecond: 10, Burst: 20},
			{Name: "enterprise", MonthlyQuota: 1000000, RequestsPerSecond: 50, Burst: 100},
		},
		Batch: BatchSettings{
			Interval:    Duration(5 * time.Minute),
			MaxLeaves:   500,
			MinLeaves:   1,
			AnchorBatch: true,
		},
		Server: ServerSettings{
			ReadTimeout:     Duration(10 * time.Second),
			WriteTimeout:    Duration(10 * time.Second),
			IdleTimeout:     Duration(60 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Logging: LoggingSettings{Level: "info", Format: "text"},
		CORS: CORSSettings{
			Enabled:        true,
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST"},
		},
		Metrics: MetricsSettings{Enabled: true, Path: "/metrics"},
	}
}

// LoadSettings reads settings from a YAML file, with ${VAR} and
// ${VAR:-default} substitution applied before parsing. A missing file
// falls back to defaultSettings rather than failing startup.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultSettings(), nil
		}
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	settings := defaultSettings()
	if err := yaml.Unmarshal([]byte(expanded), settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	return settings, nil
}

// TierByName returns the tier settings matching name, or false if unknown.
func (s *Settings) TierByName(name string) (TierSettings, bool) {
	for _, t := range s.Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return TierSettings{}, false
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the settings for internal consistency.
func (s *Settings) Validate() error {
	var problems []string
	if len(s.Tiers) == 0 {
		problems = append(problems, "at least one tier must be defined")
	}
	if s.Batch.MaxLeaves <= 0 || s.Batch.MaxLeaves > 500 {
		problems = append(problems, "batch.max_leaves must be in (0, 500]")
	}
	if s.Batch.MinLeaves <= 0 || s.Batch.MinLeaves > s.Batch.MaxLeaves {
		problems = append(problems, "batch.min_leaves must be in (0, max_leaves]")
	}
	if len(problems) > 0 {
		return fmt.Errorf("settings validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

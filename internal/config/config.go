// Package config loads swproxy settings from the environment and an
// optional YAML policy file.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/Sternrassler/swcache/pkg/controller"
	"github.com/Sternrassler/swcache/pkg/logging"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds process settings.
type Config struct {
	Port            string        `env:"SWCACHE_PORT"             envDefault:"8080"`
	Upstream        string        `env:"SWCACHE_UPSTREAM"         envDefault:"http://localhost:4173"`
	Origin          string        `env:"SWCACHE_ORIGIN"           envDefault:"https://aiworkshop.example"`
	RedisURL        string        `env:"SWCACHE_REDIS_URL"`
	RedisPrefix     string        `env:"SWCACHE_REDIS_PREFIX"     envDefault:"swcache"`
	PolicyFile      string        `env:"SWCACHE_POLICY_FILE"`
	LogLevel        string        `env:"SWCACHE_LOG_LEVEL"        envDefault:"info"`
	LogPretty       bool          `env:"SWCACHE_LOG_PRETTY"`
	OTelEndpoint    string        `env:"SWCACHE_OTEL_ENDPOINT"`
	WriteTimeout    time.Duration `env:"SWCACHE_WRITE_TIMEOUT"    envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SWCACHE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads Config from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env parsing cannot.
func (c Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if err := absoluteURL("upstream", c.Upstream); err != nil {
		errs = append(errs, err)
	}
	if err := absoluteURL("origin", c.Origin); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("write timeout must be positive (got %s)", c.WriteTimeout))
	}

	return errors.Join(errs...)
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	level, _ := logging.ParseLevel(c.LogLevel)
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Pretty = c.LogPretty
	return cfg
}

func absoluteURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL (got %q)", name, raw)
	}
	return nil
}

// Policy is the cache policy. Changing any of it requires a new Version so
// clients drop what older versions stored.
type Policy struct {
	Version string                 `yaml:"version"`
	Seeds   []string               `yaml:"seeds"`
	Bypass  controller.BypassRules `yaml:"bypass"`
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		Version: controller.DefaultVersion,
		Seeds:   controller.DefaultSeeds(),
		Bypass:  controller.DefaultBypassRules(),
	}
}

// LoadPolicy reads a YAML policy file. Keys missing from the file keep
// their defaults. An empty path returns DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if policy.Version == "" {
		return Policy{}, errors.New("policy version must not be empty")
	}
	for _, seed := range policy.Seeds {
		if _, err := url.Parse(seed); err != nil {
			return Policy{}, fmt.Errorf("policy seed %q: %w", seed, err)
		}
	}
	return policy, nil
}

// Apply copies the policy into a controller configuration.
func (p Policy) Apply(cfg *controller.Config) {
	cfg.Version = p.Version
	cfg.Seeds = append([]string(nil), p.Seeds...)
	cfg.Bypass = p.Bypass
}

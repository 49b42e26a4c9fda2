package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Profile selects a deployment environment. Profiles differ in TTLs,
// capacity, and how aggressively the resilience layer behaves.
type Profile string

const (
	Development Profile = "development"
	Staging     Profile = "staging"
	Production  Profile = "production"
	Test        Profile = "test"
)

// Duration wraps time.Duration so YAML profiles can say "90s" or "5m"
// instead of nanosecond integers.
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

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is everything the composition root needs to build a cache.
type Config struct {
	Profile Profile `yaml:"profile"`

	// Endpoint is the logical name of the default upstream, used to key
	// its circuit breaker.
	Endpoint string `yaml:"endpoint"`

	DefaultTTL           Duration `yaml:"default_ttl"`
	MaxSize              int      `yaml:"max_size"`
	StaleWhileRevalidate bool     `yaml:"stale_while_revalidate"`
	EvictionPolicy       string   `yaml:"eviction_policy"`

	// TTLOverrides maps key prefixes to TTLs; longest prefix wins.
	TTLOverrides map[string]Duration `yaml:"ttl_overrides"`

	// SensitivePatterns replace the built-in scan list when non-empty.
	SensitivePatterns []string `yaml:"sensitive_patterns"`

	// DataVersion tags every entry written through the coordinator, so a
	// deploy that changes data shapes can purge by version.
	DataVersion string `yaml:"data_version"`

	Retry   RetryConfig   `yaml:"retry"`
	Breaker BreakerConfig `yaml:"breaker"`
	Health  HealthConfig  `yaml:"health"`
}

type RetryConfig struct {
	MaxRetries     int      `yaml:"max_retries"`
	BaseDelay      Duration `yaml:"base_delay"`
	Multiplier     float64  `yaml:"multiplier"`
	JitterMax      Duration `yaml:"jitter_max"`
	AttemptTimeout Duration `yaml:"attempt_timeout"`
}

type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	BaseCooldown     Duration `yaml:"base_cooldown"`
	MaxCooldown      Duration `yaml:"max_cooldown"`
}

type HealthConfig struct {
	MinHitRate                float64 `yaml:"min_hit_rate"`
	MinSamples                int64   `yaml:"min_samples"`
	MaxSizeFraction           float64 `yaml:"max_size_fraction"`
	MaxEvictionsPerMinute     float64 `yaml:"max_evictions_per_minute"`
	MaxInvalidationsPerMinute float64 `yaml:"max_invalidations_per_minute"`
}

// Default returns the baseline configuration for a profile. Every field
// a YAML file or the environment does not override comes from here.
func Default(p Profile) *Config {
	cfg := &Config{
		Profile:              p,
		Endpoint:             "soroban-rpc",
		DefaultTTL:           Duration(time.Minute),
		MaxSize:              1000,
		StaleWhileRevalidate: true,
		EvictionPolicy:       "oldest-write",
		TTLOverrides: map[string]Duration{
			// Status and list views change every time someone
			// contributes; group config is immutable after creation.
			"groups:list": Duration(30 * time.Second),
			"group:":      Duration(5 * time.Minute),
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			BaseDelay:      Duration(200 * time.Millisecond),
			Multiplier:     2.0,
			JitterMax:      Duration(100 * time.Millisecond),
			AttemptTimeout: Duration(10 * time.Second),
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			BaseCooldown:     Duration(10 * time.Second),
			MaxCooldown:      Duration(2 * time.Minute),
		},
		Health: HealthConfig{
			MinHitRate:                0.5,
			MinSamples:                50,
			MaxSizeFraction:           0.9,
			MaxEvictionsPerMinute:     300,
			MaxInvalidationsPerMinute: 600,
		},
	}

	switch p {
	case Development:
		cfg.DefaultTTL = Duration(30 * time.Second)
		cfg.MaxSize = 500
		cfg.Breaker.FailureThreshold = 3
		cfg.Breaker.BaseCooldown = Duration(5 * time.Second)
		cfg.Breaker.MaxCooldown = Duration(30 * time.Second)
	case Production:
		cfg.DefaultTTL = Duration(5 * time.Minute)
		cfg.MaxSize = 2000
	case Test:
		cfg.DefaultTTL = Duration(time.Second)
		cfg.MaxSize = 50
		cfg.Retry = RetryConfig{MaxRetries: 1, BaseDelay: Duration(time.Millisecond), Multiplier: 1}
		cfg.Breaker = BreakerConfig{
			FailureThreshold: 2,
			BaseCooldown:     Duration(50 * time.Millisecond),
			MaxCooldown:      Duration(200 * time.Millisecond),
		}
	}
	return cfg
}

// Load reads a YAML profile file on top of the defaults for the profile
// it declares, then applies environment overrides.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// First pass just to learn the profile, so defaults are right.
	var probe struct {
		Profile Profile `yaml:"profile"`
	}
	if err := yaml.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if probe.Profile == "" {
		probe.Profile = Development
	}

	cfg := Default(probe.Profile)
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a config from defaults plus environment variables only,
// for deployments that don't ship a YAML file. A .env file next to the
// process is honored when present.
func FromEnv() (*Config, error) {
	_ = godotenv.Load() // optional; absence is normal

	p := Profile(os.Getenv("AJO_CACHE_PROFILE"))
	if p == "" {
		p = Development
	}
	cfg := Default(p)
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AJO_CACHE_ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv("AJO_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxSize = n
		}
	}
	if v := os.Getenv("AJO_CACHE_DEFAULT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DefaultTTL = Duration(d)
		}
	}
	if v := os.Getenv("AJO_CACHE_STALE_WHILE_REVALIDATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.StaleWhileRevalidate = b
		}
	}
	if v := os.Getenv("AJO_CACHE_DATA_VERSION"); v != "" {
		c.DataVersion = v
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	switch c.Profile {
	case Development, Staging, Production, Test:
	default:
		return fmt.Errorf("unknown profile %q", c.Profile)
	}
	if c.MaxSize <= 0 {
		return fmt.Errorf("max_size must be positive, got %d", c.MaxSize)
	}
	if c.DefaultTTL.Std() <= 0 {
		return fmt.Errorf("default_ttl must be positive, got %s", c.DefaultTTL.Std())
	}
	switch c.EvictionPolicy {
	case "", "oldest-write", "lru":
	default:
		return fmt.Errorf("unknown eviction_policy %q", c.EvictionPolicy)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure_threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	return nil
}

package config

import (
	"os"
	"strconv"

	"ablab/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig
	Analysis AnalysisConfig
	Paths    PathConfig
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port string
}

// AnalysisConfig holds the engine defaults
type AnalysisConfig struct {
	// DefaultAlpha is the experiment significance level.
	DefaultAlpha float64
	// DefaultPower is the design-time power target.
	DefaultPower float64
	// SRMThreshold is the sample-ratio-mismatch significance threshold,
	// independent of and stricter than the experiment alpha.
	SRMThreshold float64
	// AdequacyTolerance is the allowed fractional shortfall against the
	// designed sample size before the adequacy flag trips.
	AdequacyTolerance float64
	// BootstrapIterations is the default resampling count.
	BootstrapIterations int
	// BootstrapIterationCap bounds a single analysis' resampling work.
	BootstrapIterationCap int
	// BootstrapSeed is the default seed when the caller supplies none.
	BootstrapSeed int64
}

// PathConfig holds file system paths
type PathConfig struct {
	EventsFile string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Analysis: AnalysisConfig{
			DefaultAlpha:          getEnvFloat("DEFAULT_ALPHA", 0.05),
			DefaultPower:          getEnvFloat("DEFAULT_POWER", 0.8),
			SRMThreshold:          getEnvFloat("SRM_THRESHOLD", 0.01),
			AdequacyTolerance:     getEnvFloat("ADEQUACY_TOLERANCE", 0.0),
			BootstrapIterations:   getEnvInt("BOOTSTRAP_ITERATIONS", 10000),
			BootstrapIterationCap: getEnvInt("BOOTSTRAP_ITERATION_CAP", 100000),
			BootstrapSeed:         int64(getEnvInt("BOOTSTRAP_SEED", 42)),
		},
		Paths: PathConfig{
			EventsFile: getEnv("EVENTS_FILE", ""),
		},
	}

	if err := validate(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func validate(c *Config) error {
	if c.Analysis.DefaultAlpha <= 0 || c.Analysis.DefaultAlpha >= 1 {
		return errors.ConfigInvalid("DEFAULT_ALPHA must be in (0,1)")
	}
	if c.Analysis.DefaultPower <= 0 || c.Analysis.DefaultPower >= 1 {
		return errors.ConfigInvalid("DEFAULT_POWER must be in (0,1)")
	}
	if c.Analysis.SRMThreshold <= 0 || c.Analysis.SRMThreshold >= 1 {
		return errors.ConfigInvalid("SRM_THRESHOLD must be in (0,1)")
	}
	if c.Analysis.AdequacyTolerance < 0 || c.Analysis.AdequacyTolerance >= 1 {
		return errors.ConfigInvalid("ADEQUACY_TOLERANCE must be in [0,1)")
	}
	if c.Analysis.BootstrapIterations <= 0 {
		return errors.ConfigInvalid("BOOTSTRAP_ITERATIONS must be positive")
	}
	if c.Analysis.BootstrapIterationCap < c.Analysis.BootstrapIterations {
		return errors.ConfigInvalid("BOOTSTRAP_ITERATION_CAP must be at least BOOTSTRAP_ITERATIONS")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

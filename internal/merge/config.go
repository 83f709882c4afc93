package merge

import (
	"fmt"
	"strings"

	"github.com/steveyegge/convmerge/internal/envvar"
	"github.com/steveyegge/convmerge/internal/identity"
)

// DefaultDirectSuffix is the remote identifier suffix of canonical direct-message channels
const DefaultDirectSuffix = "@s.whatsapp.net"

// Config holds configuration for the merge engine
type Config struct {
	// DirectSuffix marks a conversation addressed through the canonical
	// direct-message channel. Such conversations win survivor selection.
	// Default: "@s.whatsapp.net"
	DirectSuffix string

	// DefaultCountryCode is prepended to national numbers before grouping,
	// so numbers stored with and without the country code share a key.
	// Default: "" (keys are plain digit strings)
	DefaultCountryCode string

	// NationalMaxDigits is the longest digit string treated as a national number
	// Default: 11
	NationalMaxDigits int

	// Workers is the number of sessions processed concurrently
	// Default: 1 (sequential)
	Workers int

	// WritesPerSecond throttles store mutations during a live run
	// Default: 0 (unlimited)
	WritesPerSecond float64

	// RefreshSurvivor raises the survivor's last activity to the group maximum
	// and adopts a contact name from a duplicate when the survivor has none
	// Default: true
	RefreshSurvivor bool

	// RecordEvents writes every executed merge to the audit trail
	// Default: true
	RecordEvents bool
}

// DefaultConfig returns the default merge configuration
func DefaultConfig() Config {
	return Config{
		DirectSuffix:       DefaultDirectSuffix,
		DefaultCountryCode: "",
		NationalMaxDigits:  identity.DefaultNationalMaxDigits,
		Workers:            1,
		WritesPerSecond:    0,
		RefreshSurvivor:    true,
		RecordEvents:       true,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if strings.TrimSpace(c.DirectSuffix) == "" {
		return fmt.Errorf("direct_suffix is required")
	}
	if c.DefaultCountryCode != "" {
		if identity.Normalize(c.DefaultCountryCode) != c.DefaultCountryCode {
			return fmt.Errorf("default_country_code must contain digits only (got %q)", c.DefaultCountryCode)
		}
		if len(c.DefaultCountryCode) > 3 {
			return fmt.Errorf("default_country_code too long (got %q, max 3 digits)", c.DefaultCountryCode)
		}
	}
	if c.NationalMaxDigits < identity.MinKeyLength {
		return fmt.Errorf("national_max_digits must be at least %d (got %d)", identity.MinKeyLength, c.NationalMaxDigits)
	}
	if c.NationalMaxDigits > 15 {
		return fmt.Errorf("national_max_digits too large (got %d, max 15)", c.NationalMaxDigits)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive (got %d)", c.Workers)
	}
	if c.Workers > 64 {
		return fmt.Errorf("workers too large (got %d, max 64)", c.Workers)
	}
	if c.WritesPerSecond < 0 {
		return fmt.Errorf("writes_per_second cannot be negative (got %.2f)", c.WritesPerSecond)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf(
		"Config{DirectSuffix: %s, CountryCode: %q, NationalMaxDigits: %d, Workers: %d, "+
			"WritesPerSecond: %.2f, RefreshSurvivor: %t, RecordEvents: %t}",
		c.DirectSuffix, c.DefaultCountryCode, c.NationalMaxDigits, c.Workers,
		c.WritesPerSecond, c.RefreshSurvivor, c.RecordEvents,
	)
}

// Normalizer returns the identity normalizer described by the config
func (c Config) Normalizer() identity.Normalizer {
	return identity.Normalizer{
		DefaultCountryCode: c.DefaultCountryCode,
		NationalMaxDigits:  c.NationalMaxDigits,
	}
}

// ConfigFromEnv creates a Config from environment variables, falling back to defaults
//
// Environment variables:
//   - CONVMERGE_MERGE_DIRECT_SUFFIX: canonical direct-message suffix (default: @s.whatsapp.net)
//   - CONVMERGE_MERGE_COUNTRY_CODE: country code prepended to national numbers (default: none)
//   - CONVMERGE_MERGE_NATIONAL_MAX_DIGITS: longest national number (default: 11)
//   - CONVMERGE_MERGE_WORKERS: sessions processed concurrently (default: 1)
//   - CONVMERGE_MERGE_WRITES_PER_SECOND: store write throttle, 0 = unlimited (default: 0)
//   - CONVMERGE_MERGE_REFRESH_SURVIVOR: refresh survivor metadata (default: true)
//   - CONVMERGE_MERGE_RECORD_EVENTS: write the merge audit trail (default: true)
//
// Returns an error if any environment variable has an invalid value.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables on c without validating the result
func (c *Config) ApplyEnv() error {
	if err := envvar.String("CONVMERGE_MERGE_DIRECT_SUFFIX", &c.DirectSuffix); err != nil {
		return err
	}
	if err := envvar.String("CONVMERGE_MERGE_COUNTRY_CODE", &c.DefaultCountryCode); err != nil {
		return err
	}
	if err := envvar.Int("CONVMERGE_MERGE_NATIONAL_MAX_DIGITS", &c.NationalMaxDigits); err != nil {
		return err
	}
	if err := envvar.Int("CONVMERGE_MERGE_WORKERS", &c.Workers); err != nil {
		return err
	}
	if err := envvar.Float("CONVMERGE_MERGE_WRITES_PER_SECOND", &c.WritesPerSecond); err != nil {
		return err
	}
	if err := envvar.Bool("CONVMERGE_MERGE_REFRESH_SURVIVOR", &c.RefreshSurvivor); err != nil {
		return err
	}
	if err := envvar.Bool("CONVMERGE_MERGE_RECORD_EVENTS", &c.RecordEvents); err != nil {
		return err
	}
	return nil
}

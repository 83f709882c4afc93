// Package config loads convmerge settings from a YAML file and the environment.
//
// Precedence, lowest first: built-in defaults, the YAML file, CONVMERGE_*
// environment variables, then command-line flags (applied by the CLI).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/convmerge/internal/envvar"
	"github.com/steveyegge/convmerge/internal/merge"
	"github.com/steveyegge/convmerge/internal/storage"
	"github.com/steveyegge/convmerge/internal/storage/postgres"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where the CLI looks for a config file when none is given
const DefaultPath = ".convmerge/config.yaml"

// File is the on-disk YAML layout
type File struct {
	Storage StorageSection `yaml:"storage"`
	Merge   MergeSection   `yaml:"merge"`
	Metrics MetricsSection `yaml:"metrics,omitempty"`
}

// StorageSection configures the persistence backend
type StorageSection struct {
	// Backend: "sqlite" or "postgres"
	Backend  string          `yaml:"backend,omitempty"`
	Path     string          `yaml:"path,omitempty"`
	Postgres PostgresSection `yaml:"postgres,omitempty"`
}

// PostgresSection configures the postgres backend
type PostgresSection struct {
	DSN             string `yaml:"dsn,omitempty"`
	Host            string `yaml:"host,omitempty"`
	Port            int    `yaml:"port,omitempty"`
	Database        string `yaml:"database,omitempty"`
	User            string `yaml:"user,omitempty"`
	Password        string `yaml:"password,omitempty"`
	SSLMode         string `yaml:"sslmode,omitempty"`
	MaxConns        int32  `yaml:"max_conns,omitempty"`
	MaxConnLifetime string `yaml:"max_conn_lifetime,omitempty"` // e.g., "1h"
}

// MergeSection configures the merge engine. Unset fields keep their defaults.
type MergeSection struct {
	DirectSuffix       string  `yaml:"direct_suffix,omitempty"`
	DefaultCountryCode string  `yaml:"default_country_code,omitempty"`
	NationalMaxDigits  int     `yaml:"national_max_digits,omitempty"`
	Workers            int     `yaml:"workers,omitempty"`
	WritesPerSecond    float64 `yaml:"writes_per_second,omitempty"`
	RefreshSurvivor    *bool   `yaml:"refresh_survivor,omitempty"`
	RecordEvents       *bool   `yaml:"record_events,omitempty"`
}

// MetricsSection configures the Prometheus textfile export
type MetricsSection struct {
	// Textfile is the .prom file written after each run; empty disables it
	Textfile string `yaml:"textfile,omitempty"`
}

// Config is the effective configuration
type Config struct {
	Storage *storage.Config
	Merge   merge.Config
	// MetricsFile is where run metrics are written, if set
	MetricsFile string
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Storage: storage.DefaultConfig(),
		Merge:   merge.DefaultConfig(),
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path, then environment overrides. An empty path reads DefaultPath when it
// exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var file File
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parsing YAML %s: %w", path, err)
		}
		if err := cfg.apply(&file); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// No config file; defaults apply
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// apply overlays the values set in file
func (c *Config) apply(file *File) error {
	s := file.Storage
	if s.Backend != "" {
		c.Storage.Backend = s.Backend
	}
	if s.Path != "" {
		c.Storage.Path = s.Path
	}

	pg := c.Storage.Postgres
	if s.Postgres.DSN != "" {
		pg.DSN = s.Postgres.DSN
	}
	if s.Postgres.Host != "" {
		pg.Host = s.Postgres.Host
	}
	if s.Postgres.Port != 0 {
		pg.Port = s.Postgres.Port
	}
	if s.Postgres.Database != "" {
		pg.Database = s.Postgres.Database
	}
	if s.Postgres.User != "" {
		pg.User = s.Postgres.User
	}
	if s.Postgres.Password != "" {
		pg.Password = s.Postgres.Password
	}
	if s.Postgres.SSLMode != "" {
		pg.SSLMode = s.Postgres.SSLMode
	}
	if s.Postgres.MaxConns != 0 {
		pg.MaxConns = s.Postgres.MaxConns
	}
	if s.Postgres.MaxConnLifetime != "" {
		d, err := time.ParseDuration(s.Postgres.MaxConnLifetime)
		if err != nil {
			return fmt.Errorf("invalid max_conn_lifetime %q: %w", s.Postgres.MaxConnLifetime, err)
		}
		pg.MaxConnLifetime = d
	}

	m := file.Merge
	if m.DirectSuffix != "" {
		c.Merge.DirectSuffix = m.DirectSuffix
	}
	if m.DefaultCountryCode != "" {
		c.Merge.DefaultCountryCode = m.DefaultCountryCode
	}
	if m.NationalMaxDigits != 0 {
		c.Merge.NationalMaxDigits = m.NationalMaxDigits
	}
	if m.Workers != 0 {
		c.Merge.Workers = m.Workers
	}
	if m.WritesPerSecond != 0 {
		c.Merge.WritesPerSecond = m.WritesPerSecond
	}
	if m.RefreshSurvivor != nil {
		c.Merge.RefreshSurvivor = *m.RefreshSurvivor
	}
	if m.RecordEvents != nil {
		c.Merge.RecordEvents = *m.RecordEvents
	}

	if file.Metrics.Textfile != "" {
		c.MetricsFile = file.Metrics.Textfile
	}
	return nil
}

// ApplyEnv overlays environment variables
//
// Environment variables:
//   - CONVMERGE_BACKEND: storage backend, sqlite or postgres
//   - CONVMERGE_DB: SQLite database path
//   - CONVMERGE_DSN: PostgreSQL connection string (implies the postgres backend)
//   - CONVMERGE_PG_HOST, CONVMERGE_PG_PORT, CONVMERGE_PG_DATABASE,
//     CONVMERGE_PG_USER, CONVMERGE_PG_PASSWORD: PostgreSQL connection fields
//   - CONVMERGE_METRICS_FILE: Prometheus textfile written after each run
//   - CONVMERGE_MERGE_*: merge engine settings, see merge.ConfigFromEnv
func (c *Config) ApplyEnv() error {
	if err := envvar.String("CONVMERGE_BACKEND", &c.Storage.Backend); err != nil {
		return err
	}
	if err := envvar.String("CONVMERGE_DB", &c.Storage.Path); err != nil {
		return err
	}

	pg := c.Storage.Postgres
	if dsn := os.Getenv("CONVMERGE_DSN"); dsn != "" {
		pg.DSN = dsn
		c.Storage.Backend = storage.BackendPostgres
	}
	if err := envvar.String("CONVMERGE_PG_HOST", &pg.Host); err != nil {
		return err
	}
	if err := envvar.Int("CONVMERGE_PG_PORT", &pg.Port); err != nil {
		return err
	}
	if err := envvar.String("CONVMERGE_PG_DATABASE", &pg.Database); err != nil {
		return err
	}
	if err := envvar.String("CONVMERGE_PG_USER", &pg.User); err != nil {
		return err
	}
	if err := envvar.String("CONVMERGE_PG_PASSWORD", &pg.Password); err != nil {
		return err
	}
	if err := envvar.String("CONVMERGE_METRICS_FILE", &c.MetricsFile); err != nil {
		return err
	}

	return c.Merge.ApplyEnv()
}

// Validate checks the effective configuration
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case storage.BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite backend")
		}
	case storage.BackendPostgres:
		pg := c.Storage.Postgres
		if pg.DSN == "" && (pg.Host == "" || pg.Database == "") {
			return fmt.Errorf("storage.postgres needs a dsn or a host and database")
		}
		if pg.Port < 0 || pg.Port > 65535 {
			return fmt.Errorf("storage.postgres.port out of range (got %d)", pg.Port)
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q (got %q)",
			storage.BackendSQLite, storage.BackendPostgres, c.Storage.Backend)
	}

	if err := c.Merge.Validate(); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	return nil
}

// ToFile converts the effective configuration back to its YAML layout.
// The postgres password is never written out.
func (c *Config) ToFile() *File {
	refresh := c.Merge.RefreshSurvivor
	record := c.Merge.RecordEvents
	file := &File{
		Storage: StorageSection{
			Backend: c.Storage.Backend,
			Path:    c.Storage.Path,
		},
		Merge: MergeSection{
			DirectSuffix:       c.Merge.DirectSuffix,
			DefaultCountryCode: c.Merge.DefaultCountryCode,
			NationalMaxDigits:  c.Merge.NationalMaxDigits,
			Workers:            c.Merge.Workers,
			WritesPerSecond:    c.Merge.WritesPerSecond,
			RefreshSurvivor:    &refresh,
			RecordEvents:       &record,
		},
		Metrics: MetricsSection{Textfile: c.MetricsFile},
	}
	if pg := c.Storage.Postgres; pg != nil {
		file.Storage.Postgres = PostgresSection{
			DSN:      redactDSN(pg.DSN),
			Host:     pg.Host,
			Port:     pg.Port,
			Database: pg.Database,
			User:     pg.User,
			SSLMode:  pg.SSLMode,
			MaxConns: pg.MaxConns,
		}
		if pg.MaxConnLifetime > 0 {
			file.Storage.Postgres.MaxConnLifetime = pg.MaxConnLifetime.String()
		}
	}
	return file
}

// Marshal renders the configuration as YAML
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c.ToFile())
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	return data, nil
}

// countryCodeHint documents merge.default_country_code in generated files
const countryCodeHint = `Country code prepended to national numbers before grouping, e.g. "55".
Leave empty only if every stored number already carries its country code:
otherwise "11987654321" and "5511987654321" are treated as different contacts.`

// DefaultTemplate renders the default configuration as YAML with the
// settings that usually need attention spelled out and commented
func DefaultTemplate() ([]byte, error) {
	var doc yaml.Node
	if err := doc.Encode(Default().ToFile()); err != nil {
		return nil, fmt.Errorf("encoding default config: %w", err)
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}

	if mergeNode := mappingValue(root, "merge"); mergeNode != nil && mappingValue(mergeNode, "default_country_code") == nil {
		mergeNode.Content = append(mergeNode.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "default_country_code", HeadComment: countryCodeHint},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "", Style: yaml.DoubleQuotedStyle},
		)
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("marshaling default config: %w", err)
	}
	return data, nil
}

// mappingValue returns the value node stored under key in a mapping node
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

// SaveDefault writes the default configuration template to path, creating parent directories
func SaveDefault(path string) error {
	data, err := DefaultTemplate()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// redactDSN hides the password of a postgres URL
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	cfg := &postgres.Config{DSN: dsn}
	return cfg.Redacted()
}

// Package config loads and validates the trackload job configuration.
//
// The document is YAML (JSON is accepted as a YAML subset):
//
//	batch_number: 1
//	batch_size: 1000
//	api_batch_size: 50
//	oauth_token_url: https://accounts.example.com/api/token
//	tracks_url: https://api.example.com/v1/tracks?ids=
//	input_path: ids.txt
//	db_kind: sqlite
//	db_connect: tracks.db
//	tables:
//	  - table_name: tracks
//	    columns: ["id:id:TEXT PRIMARY KEY", "name:name:TEXT"]
//	    upsert: "ON CONFLICT(id) DO NOTHING"
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"trackload/internal/storage"
)

// Config is the job configuration document.
type Config struct {
	// Run slice: 1-based run number and run size, in identifier lines.
	BatchNumber int `yaml:"batch_number"`
	BatchSize   int `yaml:"batch_size"`

	// APIBatchSize is the maximum number of ids per tracks request.
	APIBatchSize int `yaml:"api_batch_size"`

	OAuthTokenURL string `yaml:"oauth_token_url"`
	TracksURL     string `yaml:"tracks_url"`
	InputPath     string `yaml:"input_path"`

	// DBKind selects the storage backend: sqlite, postgres or mssql.
	DBKind string `yaml:"db_kind"`

	// DBConnect is the backend DSN; ${VAR} references are expanded by Load.
	DBConnect string `yaml:"db_connect"`

	// Job names the run in logs and metrics.
	Job string `yaml:"job"`

	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// ResponseField is the array field of the tracks response holding the
	// records.
	ResponseField string `yaml:"response_field"`

	Tables []storage.RawTable `yaml:"tables"`
}

// Defaults applied by Load for omitted fields.
const (
	DefaultDBKind        = "sqlite"
	DefaultJob           = "trackload"
	DefaultHTTPTimeout   = 30 * time.Second
	DefaultResponseField = "tracks"
)

// Load reads and decodes the configuration at path, expands environment
// references in db_connect, and applies defaults. It does not validate; call
// Validate on the result.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode decodes a configuration document. Unknown fields are errors.
func Decode(r io.Reader) (Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("empty document")
		}
		return Config{}, fmt.Errorf("decode: %w", err)
	}

	cfg.DBConnect = os.ExpandEnv(cfg.DBConnect)
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DBKind) == "" {
		c.DBKind = DefaultDBKind
	}
	if strings.TrimSpace(c.Job) == "" {
		c.Job = DefaultJob
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if strings.TrimSpace(c.ResponseField) == "" {
		c.ResponseField = DefaultResponseField
	}
}

// TableSpecs parses the configured tables.
func (c Config) TableSpecs() ([]storage.TableSpec, error) {
	return storage.ParseTables(c.Tables)
}

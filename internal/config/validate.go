package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"trackload/internal/batch"
)

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
)

// Issue is one validation finding, printed as "severity: path: message".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// KnownDBKinds are the storage backends shipped with the binary.
var KnownDBKinds = []string{"mssql", "postgres", "sqlite"}

// Validate checks cfg without touching the network or the database.
func Validate(cfg Config) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.BatchNumber <= 0 {
		add(SeverityError, "batch_number", "must be > 0 (got %d)", cfg.BatchNumber)
	}
	if cfg.BatchSize <= 0 {
		add(SeverityError, "batch_size", "must be > 0 (got %d)", cfg.BatchSize)
	}
	if cfg.BatchNumber > 0 && cfg.BatchSize > 0 {
		if _, err := batch.RunWindow(cfg.BatchNumber, cfg.BatchSize); err != nil {
			add(SeverityError, "batch_number", "run %d of batch_size %d starts past the largest line number", cfg.BatchNumber, cfg.BatchSize)
		}
	}
	if cfg.APIBatchSize <= 0 {
		add(SeverityError, "api_batch_size", "must be > 0 (got %d)", cfg.APIBatchSize)
	} else if cfg.BatchSize > 0 && cfg.APIBatchSize > cfg.BatchSize {
		add(SeverityWarn, "api_batch_size", "%d exceeds batch_size %d; at most one request per run", cfg.APIBatchSize, cfg.BatchSize)
	}

	checkURL(add, "oauth_token_url", cfg.OAuthTokenURL)
	checkURL(add, "tracks_url", cfg.TracksURL)

	if strings.TrimSpace(cfg.InputPath) == "" {
		add(SeverityError, "input_path", "is required")
	}

	if !slices.Contains(KnownDBKinds, cfg.DBKind) {
		add(SeverityError, "db_kind", "unknown kind %q (want one of %s)", cfg.DBKind, strings.Join(KnownDBKinds, ", "))
	}
	if strings.TrimSpace(cfg.DBConnect) == "" {
		add(SeverityError, "db_connect", "is required")
	}

	if cfg.HTTPTimeout < 0 {
		add(SeverityError, "http_timeout", "must not be negative")
	}

	if _, err := cfg.TableSpecs(); err != nil {
		add(SeverityError, "tables", "%v", err)
	}

	return issues
}

func checkURL(add func(Severity, string, string, ...any), path, raw string) {
	if strings.TrimSpace(raw) == "" {
		add(SeverityError, path, "is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil {
		add(SeverityError, path, "invalid url: %v", err)
		return
	}
	switch u.Scheme {
	case "https":
	case "http":
		add(SeverityWarn, path, "uses plain http; credentials and tokens travel unencrypted")
	default:
		add(SeverityError, path, "scheme must be http or https (got %q)", u.Scheme)
		return
	}
	if u.Host == "" {
		add(SeverityError, path, "missing host")
	}
}

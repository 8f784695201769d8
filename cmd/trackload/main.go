// Command trackload loads one run slice of track ids from a text file,
// fetches their records from the tracks API and writes the configured
// tables in a single transaction.
//
// Usage:
//
//	trackload [flags] [config client_id client_secret]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"trackload/internal/api"
	"trackload/internal/config"
	"trackload/internal/logging"
	"trackload/internal/metrics"
	"trackload/internal/metrics/datadog"
	"trackload/internal/metrics/prompush"
	"trackload/internal/multitable"
	"trackload/internal/storage"

	// register all backends with the storage factory.
	_ "trackload/internal/storage/all"
)

const (
	envClientID     = "TRACKLOAD_CLIENT_ID"
	envClientSecret = "TRACKLOAD_CLIENT_SECRET"
)

// deps are external seams for testability.
//
// When to use:
//   - Unit tests: inject a fake fetcher factory or store and capture output.
//
// Nil fields fall back to the real implementations.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	Getenv       func(key string) string
	Now          func() time.Time
	OpenStore    func(ctx context.Context, cfg storage.Config) (storage.Store, error)
	Authenticate func(ctx context.Context, opts api.Options) (multitable.Fetcher, error)
}

// cliConfig holds the parsed flags and positional arguments.
type cliConfig struct {
	ConfigPath     string
	ClientID       string
	ClientSecret   string
	EnvFile        string
	ValidateOnly   bool
	Verify         bool
	MetricsBackend string
	PushGatewayURL string
	Verbose        bool
	LogPretty      bool
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], deps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}))
}

// run executes one load and returns an exit code.
//
// Exit codes:
//   - 0: success (or -validate with a valid configuration).
//   - 1: input, authentication, fetch or store failure.
//   - 2: usage or configuration error.
func run(ctx context.Context, args []string, d deps) int {
	d = d.withDefaults()

	cli, err := parseFlags(args)
	if errors.Is(err, flag.ErrHelp) {
		fmt.Fprintln(d.Stderr, strings.TrimPrefix(err.Error(), flag.ErrHelp.Error()+"\n"))
		return 0
	}
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	issues := config.Validate(cfg)
	for _, iss := range issues {
		fmt.Fprintln(d.Stderr, iss.String())
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(d.Stderr, "configuration is invalid: %s\n", cli.ConfigPath)
		return 2
	}
	if cli.ValidateOnly {
		fmt.Fprintf(d.Stdout, "configuration is valid: %s\n", cli.ConfigPath)
		return 0
	}

	clientID, clientSecret, err := resolveCredentials(cli, d.Getenv)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	lc := logging.DefaultConfig()
	lc.Pretty = cli.LogPretty
	lc.Output = d.Stderr
	lc.RunID = uuid.NewString()
	if cli.Verbose {
		lc.Level = logging.LevelDebug
	}
	logging.Setup(lc)
	logger := logging.NewLogger("cli").With().Str("job", cfg.Job).Logger()

	closeMetrics := setupMetrics(ctx, cli, cfg.Job, d.Getenv)
	defer closeMetrics()

	runner := multitable.NewDefaultRunner(logging.NewLogger("pipeline").With().Str("job", cfg.Job).Logger())
	runner.Now = d.Now
	if d.OpenStore != nil {
		runner.OpenStore = d.OpenStore
	}
	if d.Authenticate != nil {
		runner.Authenticate = d.Authenticate
	}
	if cli.Verify {
		runner.VerifyOut = d.Stdout
	}

	start := d.Now()
	logger.Info().
		Str("config", cli.ConfigPath).
		Str("db_kind", cfg.DBKind).
		Int("batch_number", cfg.BatchNumber).
		Int("tables", len(cfg.Tables)).
		Msg("run start")

	res, err := runner.Run(ctx, multitable.Job{Config: cfg, ClientID: clientID, ClientSecret: clientSecret})
	if err != nil {
		logger.Error().Err(err).Msg("run failed")
		if errors.Is(err, multitable.ErrConfig) {
			return 2
		}
		return 1
	}

	logger.Info().
		Int("ids", res.IDs).
		Int("batches", res.Batches).
		Int("records", res.Records).
		Int64("rows", res.Rows).
		Dur("duration", d.Now().Sub(start).Truncate(time.Millisecond)).
		Msg("run complete")
	return 0
}

func (d deps) withDefaults() deps {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.Getenv == nil {
		d.Getenv = os.Getenv
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func parseFlags(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("trackload", flag.ContinueOnError)

	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)
	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage: %s [flags] [config client_id client_secret]\n", fs.Name())
		fs.PrintDefaults()
	}

	var cli cliConfig
	fs.StringVar(&cli.ConfigPath, "config", "", "job config YAML path")
	fs.StringVar(&cli.ClientID, "client-id", "", "OAuth client id (env "+envClientID+")")
	fs.StringVar(&cli.ClientSecret, "client-secret", "", "OAuth client secret (env "+envClientSecret+")")
	fs.StringVar(&cli.EnvFile, "env-file", ".env", "dotenv file with client credentials; ignored when missing")
	fs.BoolVar(&cli.ValidateOnly, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&cli.Verify, "verify", true, "print every loaded table after commit")
	fs.StringVar(&cli.MetricsBackend, "metrics-backend", "", "metrics backend: none, pushgateway or datadog (env METRICS_BACKEND)")
	fs.StringVar(&cli.PushGatewayURL, "pushgateway-url", "", "Pushgateway base URL (env PUSHGATEWAY_URL)")
	fs.BoolVar(&cli.Verbose, "v", false, "enable debug logs")
	fs.BoolVar(&cli.LogPretty, "log-pretty", false, "human-readable console logs instead of JSON")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return cliConfig{}, fmt.Errorf("%w\n%s", err, usageBuf.String())
		}
		return cliConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}

	switch rest := fs.Args(); len(rest) {
	case 0:
	case 3:
		if cli.ConfigPath == "" {
			cli.ConfigPath = rest[0]
		}
		if cli.ClientID == "" {
			cli.ClientID = rest[1]
		}
		if cli.ClientSecret == "" {
			cli.ClientSecret = rest[2]
		}
	default:
		return cliConfig{}, fmt.Errorf("expected 0 or 3 positional arguments (config client_id client_secret), got %d", len(rest))
	}

	if cli.ConfigPath == "" {
		return cliConfig{}, errors.New("missing required -config <path>")
	}
	return cli, nil
}

// resolveCredentials picks each credential from the command line, then the
// process environment, then the dotenv file.
func resolveCredentials(cli cliConfig, getenv func(string) string) (id, secret string, err error) {
	var dotenv map[string]string
	if cli.EnvFile != "" {
		dotenv, err = godotenv.Read(cli.EnvFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", "", fmt.Errorf("read %s: %w", cli.EnvFile, err)
		}
	}
	pick := func(v, key string) string {
		if v != "" {
			return v
		}
		if v := getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}

	id = pick(cli.ClientID, envClientID)
	secret = pick(cli.ClientSecret, envClientSecret)
	if id == "" || secret == "" {
		return "", "", fmt.Errorf("missing client credentials: pass -client-id/-client-secret or set %s and %s", envClientID, envClientSecret)
	}
	return id, secret, nil
}

// setupMetrics installs the selected metrics backend and returns the
// function that flushes and releases it. Init failures fall back to the nop
// backend.
func setupMetrics(ctx context.Context, cli cliConfig, job string, getenv func(string) string) func() {
	log := logging.NewLogger("metrics")

	backendName := cli.MetricsBackend
	if backendName == "" {
		backendName = getenv("METRICS_BACKEND")
	}

	switch backendName {
	case "pushgateway":
		gwURL := cli.PushGatewayURL
		if gwURL == "" {
			gwURL = getenv("PUSHGATEWAY_URL")
		}
		if gwURL == "" {
			gwURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend(job, gwURL)
		if err != nil {
			log.Warn().Err(err).Msg("prom push backend init failed; metrics disabled")
			return func() {}
		}
		log.Info().Str("backend", backendName).Str("url", gwURL).Msg("metrics enabled")
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				log.Warn().Err(err).Msg("metrics flush failed")
			}
			metrics.SetBackend(nil)
		}

	case "datadog":
		tags := datadog.ParseTagsCSV(getenv("METRICS_TAGS"))
		b, err := datadog.NewBackend(ctx, datadog.Options{JobName: job, Tags: tags, FlushEvery: 60 * time.Second})
		if err != nil {
			log.Warn().Err(err).Msg("datadog backend init failed; metrics disabled")
			return func() {}
		}
		log.Info().Str("backend", backendName).Strs("tags", tags).Msg("metrics enabled")
		metrics.SetBackend(b)
		return func() {
			// Close stops the flush loop and submits what is still buffered.
			if err := b.Close(); err != nil {
				log.Warn().Err(err).Msg("datadog close failed")
			}
			metrics.SetBackend(nil)
		}

	case "", "none":
		log.Debug().Msg("metrics disabled")
	default:
		log.Warn().Str("backend", backendName).Msg("unknown metrics backend; metrics disabled")
	}
	return func() {}
}

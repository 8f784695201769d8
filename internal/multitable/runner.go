package multitable

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang-sql/civil"
	"github.com/rs/zerolog"

	"trackload/internal/api"
	"trackload/internal/batch"
	"trackload/internal/config"
	"trackload/internal/metrics"
	"trackload/internal/storage"
)

// ErrConfig marks failures caused by the job configuration rather than by
// the API or the store.
var ErrConfig = errors.New("invalid configuration")

// Job is one invocation: the configuration plus API credentials.
type Job struct {
	Config       config.Config
	ClientID     string
	ClientSecret string
}

// Result summarizes a successful run.
type Result struct {
	IDs     int
	Batches int
	Records int
	Rows    int64
}

// Runner wires the pipeline stages together. The function fields are seams
// for tests; NewDefaultRunner fills them with the real implementations.
type Runner struct {
	OpenStore    func(ctx context.Context, cfg storage.Config) (storage.Store, error)
	Authenticate func(ctx context.Context, opts api.Options) (Fetcher, error)
	Now          func() time.Time
	Logger       zerolog.Logger

	// VerifyOut receives the verification dump. Nil skips verification.
	VerifyOut io.Writer
}

// NewDefaultRunner returns a Runner using the registered storage backends
// and the real API client.
func NewDefaultRunner(logger zerolog.Logger) *Runner {
	return &Runner{
		OpenStore: storage.New,
		Authenticate: func(ctx context.Context, opts api.Options) (Fetcher, error) {
			c, err := api.Authenticate(ctx, opts)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Now:    time.Now,
		Logger: logger,
	}
}

// Run executes one job:
//
//	parse tables -> read run slice -> open store -> authenticate -> fetch
//	-> build rows -> ensure tables -> write (one transaction) -> verify
//
// Configuration problems are reported before any network or database
// activity and wrap ErrConfig.
func (r *Runner) Run(ctx context.Context, job Job) (Result, error) {
	var res Result
	cfg := job.Config
	log := r.Logger

	if issues := config.Validate(cfg); config.HasErrors(issues) {
		for _, iss := range issues {
			log.Error().Str("path", iss.Path).Str("severity", string(iss.Severity)).Msg(iss.Message)
		}
		return res, fmt.Errorf("%w: %d issue(s)", ErrConfig, len(issues))
	}
	tables, err := cfg.TableSpecs()
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	today := civil.DateOf(r.now())

	var batches [][]string
	err = r.stage("read_ids", func() error {
		ids, err := readRunSlice(cfg.InputPath, cfg.BatchNumber, cfg.BatchSize)
		if err != nil {
			return err
		}
		res.IDs = len(ids)
		batches, err = batch.Chunk(ids, cfg.APIBatchSize)
		res.Batches = len(batches)
		return err
	}, func(e *zerolog.Event) { e.Int("ids", res.IDs).Int("batches", res.Batches) })
	if err != nil {
		return res, err
	}
	if res.IDs == 0 {
		log.Warn().Int("batch_number", cfg.BatchNumber).Int("batch_size", cfg.BatchSize).Msg("run slice is empty; nothing to fetch")
	}

	var store storage.Store
	err = r.stage("open_store", func() error {
		store, err = r.OpenStore(ctx, storage.Config{Kind: cfg.DBKind, DSN: cfg.DBConnect})
		if err != nil {
			return fmt.Errorf("open %s store: %w", cfg.DBKind, err)
		}
		return nil
	}, func(e *zerolog.Event) { e.Str("db_kind", cfg.DBKind) })
	if err != nil {
		return res, err
	}
	defer store.Close()

	var fetcher Fetcher
	err = r.stage("auth", func() error {
		fetcher, err = r.Authenticate(ctx, api.Options{
			TokenURL:      cfg.OAuthTokenURL,
			ClientID:      job.ClientID,
			ClientSecret:  job.ClientSecret,
			TracksURL:     cfg.TracksURL,
			ResponseField: cfg.ResponseField,
			Timeout:       cfg.HTTPTimeout,
			Logger:        log.With().Str("component", "api").Logger(),
		})
		return err
	}, nil)
	if err != nil {
		return res, err
	}

	engine := &Engine{Fetcher: fetcher, Store: store, Tables: tables, Logger: log}

	var records []api.Record
	err = r.stage("fetch", func() error {
		records, err = engine.FetchAll(ctx, batches)
		res.Records = len(records)
		return err
	}, func(e *zerolog.Event) { e.Int("records", res.Records) })
	if err != nil {
		return res, err
	}

	var rows []storage.TableRows
	_ = r.stage("build_rows", func() error {
		rows = BuildRows(tables, records, today)
		return nil
	}, func(e *zerolog.Event) { e.Int("tables", len(rows)).Str("date", today.String()) })

	res.Rows, err = engine.Load(ctx, rows)
	if err != nil {
		return res, err
	}

	if r.VerifyOut != nil {
		err = r.stage("verify", func() error { return engine.Verify(ctx, r.VerifyOut) }, nil)
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// stage runs fn, records its duration and status, and logs the outcome.
// fields may add stage-specific fields to the success log line.
func (r *Runner) stage(name string, fn func() error, fields func(*zerolog.Event)) error {
	start := time.Now()
	err := fn()
	metrics.RecordStep(name, err, time.Since(start))
	if err != nil {
		r.Logger.Error().Err(err).Str("stage", name).Dur("duration", durMS(start)).Msg("stage failed")
		return err
	}

	ev := r.Logger.Info().Str("stage", name).Dur("duration", durMS(start))
	if fields != nil {
		fields(ev)
	}
	ev.Msg("stage ok")
	return nil
}

func readRunSlice(path string, runNumber, runSize int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	ids, err := batch.ReadRunSlice(f, runNumber, runSize)
	if err != nil {
		return nil, fmt.Errorf("read input %s: %w", path, err)
	}
	return ids, nil
}

// Package multitable runs the fetch-transform-load pipeline for a set of
// destination tables fed from the same API records.
package multitable

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/golang-sql/civil"
	"github.com/rs/zerolog"

	"trackload/internal/api"
	"trackload/internal/extract"
	"trackload/internal/metrics"
	"trackload/internal/storage"
)

// Fetcher retrieves the records for one batch of ids. *api.Client satisfies
// this interface.
type Fetcher interface {
	Fetch(ctx context.Context, ids []string) ([]api.Record, error)
}

// Engine executes the fetch loop, the load loop and verification against
// one store and one authenticated session. Both are owned by the caller.
type Engine struct {
	Fetcher Fetcher
	Store   storage.Store
	Tables  []storage.TableSpec
	Logger  zerolog.Logger
}

// FetchAll issues one request per batch, in order, and concatenates the
// returned records in order. The first failure aborts the loop.
func (e *Engine) FetchAll(ctx context.Context, batches [][]string) ([]api.Record, error) {
	if e.Fetcher == nil {
		return nil, fmt.Errorf("engine: Fetcher is required")
	}

	var out []api.Record
	for i, ids := range batches {
		if len(ids) == 0 {
			continue
		}
		recs, err := e.Fetcher.Fetch(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("batch %d/%d: %w", i+1, len(batches), err)
		}
		metrics.RecordBatch()
		out = append(out, recs...)

		e.Logger.Debug().
			Int("batch", i+1).
			Int("ids", len(ids)).
			Int("records", len(recs)).
			Msg("batch done")
	}
	metrics.RecordRecords("fetched", len(out))
	return out, nil
}

// BuildRows evaluates every column of every table against every record.
// Iteration is record-major, so each table receives exactly one row per
// record and row order follows record order. Misses become nil values.
func BuildRows(tables []storage.TableSpec, records []api.Record, today civil.Date) []storage.TableRows {
	out := make([]storage.TableRows, len(tables))
	for i, t := range tables {
		out[i] = storage.TableRows{Table: t, Rows: make([][]any, 0, len(records))}
	}

	for _, rec := range records {
		for i, t := range tables {
			row := make([]any, len(t.Columns))
			for j, c := range t.Columns {
				row[j] = extract.Value(c.Path.Eval(rec, today))
			}
			out[i].Rows = append(out[i].Rows, row)
		}
	}
	return out
}

// Load creates missing tables, then writes all rows in a single
// transaction. Nothing is persisted when it returns an error.
func (e *Engine) Load(ctx context.Context, rows []storage.TableRows) (int64, error) {
	if e.Store == nil {
		return 0, fmt.Errorf("engine: Store is required")
	}

	ddlStart := time.Now()
	err := e.Store.EnsureTables(ctx, e.Tables)
	metrics.RecordStep("ensure_tables", err, time.Since(ddlStart))
	if err != nil {
		return 0, err
	}
	e.Logger.Info().Str("stage", "ensure_tables").Int("tables", len(e.Tables)).Dur("duration", durMS(ddlStart)).Msg("stage ok")

	writeStart := time.Now()
	n, err := e.Store.WriteAll(ctx, rows)
	metrics.RecordStep("write", err, time.Since(writeStart))
	if err != nil {
		return 0, fmt.Errorf("write: %w", err)
	}
	for _, tr := range rows {
		e.Logger.Debug().Str("table", tr.Table.Name).Int("rows", len(tr.Rows)).Msg("rows written")
	}
	e.Logger.Info().Str("stage", "write").Int64("rows", n).Dur("duration", durMS(writeStart)).Msg("stage ok")
	metrics.RecordRecords("rows", int(n))
	return n, nil
}

// Verify prints every row of every table to w, one table after another.
func (e *Engine) Verify(ctx context.Context, w io.Writer) error {
	for _, t := range e.Tables {
		rows, err := e.Store.ReadAll(ctx, t)
		if err != nil {
			return fmt.Errorf("verify %s: %w", t.Name, err)
		}
		if _, err := fmt.Fprintf(w, "-- %s (%d rows)\n", t.Name, len(rows)); err != nil {
			return err
		}
		for _, r := range rows {
			if _, err := fmt.Fprintln(w, storage.FormatRow(r)); err != nil {
				return err
			}
		}
	}
	return nil
}

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

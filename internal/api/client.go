// Package api talks to the OAuth-protected tracks API: one client-credentials
// token per run, then GET requests for comma-joined id batches.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"trackload/internal/metrics"
)

// Record is one decoded API record. Numbers are json.Number.
type Record = map[string]any

// Options configures Authenticate.
type Options struct {
	TokenURL     string
	ClientID     string
	ClientSecret string

	// TracksURL is the fetch prefix; the comma-joined ids are appended.
	TracksURL string

	// ResponseField names the array holding the records. Defaults to "tracks".
	ResponseField string

	// Timeout bounds each HTTP request. Zero means no timeout.
	Timeout time.Duration

	// HTTPClient is the base client for token and track requests. Nil uses
	// a fresh client.
	HTTPClient *http.Client

	Logger zerolog.Logger
}

// Client is an authenticated session. The token is obtained once by
// Authenticate and reused for every request.
type Client struct {
	http      *http.Client
	tracksURL string
	field     string
	log       zerolog.Logger
}

// Authenticate requests a client-credentials token (HTTP Basic client
// authentication) and returns a session that sends it as a Bearer token.
//
// Errors wrap ErrAuth. A non-2xx token response is a *StatusError.
func Authenticate(ctx context.Context, opts Options) (*Client, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, fmt.Errorf("%w: client id and secret are required", ErrAuth)
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	base = withTimeout(base, opts.Timeout)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	cc := clientcredentials.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		TokenURL:     opts.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	ts := cc.TokenSource(ctx)

	start := time.Now()
	tok, err := ts.Token()
	if err != nil {
		status := 0
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			status = re.Response.StatusCode
		}
		metrics.RecordHTTP("token", status, err, time.Since(start))
		return nil, tokenError(err)
	}
	metrics.RecordHTTP("token", http.StatusOK, nil, time.Since(start))

	field := opts.ResponseField
	if field == "" {
		field = "tracks"
	}

	opts.Logger.Debug().
		Str("token_type", tok.Type()).
		Time("expiry", tok.Expiry).
		Msg("access token obtained")

	return &Client{
		http:      withTimeout(oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, ts)), opts.Timeout),
		tracksURL: opts.TracksURL,
		field:     field,
		log:       opts.Logger,
	}, nil
}

func withTimeout(c *http.Client, d time.Duration) *http.Client {
	if d <= 0 || c.Timeout == d {
		return c
	}
	cp := *c
	cp.Timeout = d
	return &cp
}

func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return &StatusError{
			Endpoint:   "token",
			StatusCode: re.Response.StatusCode,
			Reason:     re.Response.Status,
			Detail:     summarizeBody(re.Response.Header.Get("Content-Type"), re.Body),
			kind:       ErrAuth,
		}
	}
	return fmt.Errorf("%w: request token: %w", ErrAuth, err)
}

// TracksURL returns the request URL for one batch: the configured prefix
// followed by the query-escaped ids joined with literal commas.
func (c *Client) TracksURL(ids []string) string {
	esc := make([]string, len(ids))
	for i, id := range ids {
		esc[i] = url.QueryEscape(id)
	}
	return c.tracksURL + strings.Join(esc, ",")
}

// Fetch retrieves the records for one batch of ids, in response order. Null
// entries (ids the API does not know) are skipped.
//
// Errors wrap ErrFetch. A non-200 response is a *StatusError.
func (c *Client) Fetch(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.TracksURL(ids), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordHTTP("tracks", 0, err, time.Since(start))
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		metrics.RecordHTTP("tracks", resp.StatusCode, nil, time.Since(start))
		return nil, &StatusError{
			Endpoint:   "tracks",
			StatusCode: resp.StatusCode,
			Reason:     resp.Status,
			Detail:     summarizeBody(resp.Header.Get("Content-Type"), body),
			kind:       ErrFetch,
		}
	}

	recs, skipped, err := decodeRecords(resp.Body, c.field)
	metrics.RecordHTTP("tracks", resp.StatusCode, err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	if skipped > 0 {
		metrics.RecordRecords("skipped", skipped)
		c.log.Warn().Int("skipped", skipped).Int("ids", len(ids)).Msg("null records in response")
	}
	c.log.Debug().
		Int("ids", len(ids)).
		Int("records", len(recs)).
		Dur("duration", time.Since(start)).
		Msg("batch fetched")
	return recs, nil
}

// decodeRecords reads {"<field>": [record|null, ...]}.
func decodeRecords(r io.Reader, field string) ([]Record, int, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, 0, fmt.Errorf("decode response: %w", err)
	}

	raw, ok := doc[field]
	if !ok {
		return nil, 0, fmt.Errorf("response has no %q field", field)
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, 0, fmt.Errorf("response field %q is %T, want array", field, raw)
	}

	recs := make([]Record, 0, len(items))
	skipped := 0
	for i, it := range items {
		switch v := it.(type) {
		case nil:
			skipped++
		case map[string]any:
			recs = append(recs, v)
		default:
			return nil, 0, fmt.Errorf("response %s[%d] is %T, want object", field, i, it)
		}
	}
	return recs, skipped, nil
}

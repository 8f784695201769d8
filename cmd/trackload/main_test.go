package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"trackload/internal/api"
	"trackload/internal/multitable"
)

// fakeFetcher returns one record per id: {"id": id, "name": "Song <id>"}.
type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, ids []string) ([]api.Record, error) {
	f.mu.Lock()
	f.calls = append(f.calls, strings.Join(ids, ","))
	f.mu.Unlock()

	out := make([]api.Record, len(ids))
	for i, id := range ids {
		out[i] = api.Record{"id": id, "name": "Song " + id}
	}
	return out, nil
}

// jobDir writes an ids file and a config pointing at a sqlite database in a
// temp dir, and returns the config path.
func jobDir(t *testing.T, ids string, extra string) string {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "ids.txt")
	if err := os.WriteFile(input, []byte(ids), 0o600); err != nil {
		t.Fatalf("write ids: %v", err)
	}
	doc := fmt.Sprintf(`batch_number: 1
batch_size: 10
api_batch_size: 2
oauth_token_url: https://accounts.example.com/api/token
tracks_url: https://api.example.com/v1/tracks?ids=
input_path: %s
db_kind: sqlite
db_connect: %s
tables:
  - table_name: tracks
    columns:
      - "id:id:TEXT PRIMARY KEY"
      - "name:name:TEXT"
      - "loaded_on:{current_date}:DATE"
%s`, input, filepath.Join(dir, "tracks.db"), extra)

	p := filepath.Join(dir, "job.yaml")
	if err := os.WriteFile(p, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func testDeps(stdout, stderr io.Writer, f multitable.Fetcher, authErr error) deps {
	return deps{
		Stdout: stdout,
		Stderr: stderr,
		Getenv: func(string) string { return "" },
		Now:    func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.Local) },
		Authenticate: func(_ context.Context, opts api.Options) (multitable.Fetcher, error) {
			if authErr != nil {
				return nil, authErr
			}
			if opts.ClientID != "id" || opts.ClientSecret != "secret" {
				return nil, fmt.Errorf("%w: unexpected credentials %q/%q", api.ErrAuth, opts.ClientID, opts.ClientSecret)
			}
			return f, nil
		},
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr string
		check   func(t *testing.T, cli cliConfig)
	}{
		{
			name:    "missing_config",
			args:    []string{},
			wantErr: "missing required -config",
		},
		{
			name:    "wrong_positional_count",
			args:    []string{"job.yaml", "id"},
			wantErr: "expected 0 or 3 positional arguments",
		},
		{
			name:    "unknown_flag",
			args:    []string{"-nope"},
			wantErr: "flag provided but not defined",
		},
		{
			name: "positional_form",
			args: []string{"job.yaml", "id", "secret"},
			check: func(t *testing.T, cli cliConfig) {
				if cli.ConfigPath != "job.yaml" || cli.ClientID != "id" || cli.ClientSecret != "secret" {
					t.Fatalf("got %+v", cli)
				}
				if !cli.Verify {
					t.Fatalf("Verify should default to true")
				}
				if cli.EnvFile != ".env" {
					t.Fatalf("EnvFile=%q, want .env", cli.EnvFile)
				}
			},
		},
		{
			name: "flags_win_over_positional",
			args: []string{"-client-id", "flag-id", "-verify=false", "job.yaml", "id", "secret"},
			check: func(t *testing.T, cli cliConfig) {
				if cli.ClientID != "flag-id" || cli.ClientSecret != "secret" {
					t.Fatalf("got %+v", cli)
				}
				if cli.Verify {
					t.Fatalf("Verify should be false")
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cli, err := parseFlags(tc.args)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("err=%v, want containing %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlags: %v", err)
			}
			tc.check(t, cli)
		})
	}
}

func TestResolveCredentials(t *testing.T) {
	t.Parallel()

	envFile := filepath.Join(t.TempDir(), ".env")
	content := "TRACKLOAD_CLIENT_ID=file-id\nTRACKLOAD_CLIENT_SECRET=file-secret\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	env := map[string]string{envClientSecret: "env-secret"}
	getenv := func(k string) string { return env[k] }

	id, secret, err := resolveCredentials(cliConfig{EnvFile: envFile}, getenv)
	if err != nil {
		t.Fatalf("resolveCredentials: %v", err)
	}
	if id != "file-id" || secret != "env-secret" {
		t.Fatalf("got %q/%q, want file-id/env-secret", id, secret)
	}

	id, _, err = resolveCredentials(cliConfig{EnvFile: envFile, ClientID: "flag-id"}, getenv)
	if err != nil || id != "flag-id" {
		t.Fatalf("got %q, %v; want flag-id", id, err)
	}

	missing := filepath.Join(t.TempDir(), "absent.env")
	_, _, err = resolveCredentials(cliConfig{EnvFile: missing}, func(string) string { return "" })
	if err == nil || !strings.Contains(err.Error(), "missing client credentials") {
		t.Fatalf("err=%v, want missing client credentials", err)
	}
}

func TestRun_ValidateOnly(t *testing.T) {
	cfg := jobDir(t, "a\n", "")
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{"-validate", "-config", cfg}, testDeps(&stdout, &stderr, nil, nil))
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "configuration is valid") {
		t.Fatalf("stdout=%q", stdout.String())
	}
}

func TestRun_InvalidConfigExits2(t *testing.T) {
	cfg := jobDir(t, "a\n", "  - table_name: broken\n    columns: [\"id:TEXT\"]\n")
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{cfg, "id", "secret"}, testDeps(&stdout, &stderr, &fakeFetcher{}, nil))
	if code != 2 {
		t.Fatalf("code=%d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "error: tables") {
		t.Fatalf("stderr=%q, want a tables issue", stderr.String())
	}
}

func TestRun_MissingConfigFileExits2(t *testing.T) {
	var stderr bytes.Buffer
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	code := run(context.Background(), []string{missing, "id", "secret"}, testDeps(io.Discard, &stderr, nil, nil))
	if code != 2 {
		t.Fatalf("code=%d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "open config") {
		t.Fatalf("stderr=%q", stderr.String())
	}
}

func TestRun_MissingCredentialsExits2(t *testing.T) {
	cfg := jobDir(t, "a\n", "")
	var stderr bytes.Buffer
	args := []string{"-env-file", "", "-config", cfg}

	code := run(context.Background(), args, testDeps(io.Discard, &stderr, nil, nil))
	if code != 2 {
		t.Fatalf("code=%d, want 2", code)
	}
}

func TestRun_LoadsAndVerifies(t *testing.T) {
	cfg := jobDir(t, "a\nb\nc\n", "")
	f := &fakeFetcher{}
	var stdout, stderr bytes.Buffer

	code := run(context.Background(), []string{cfg, "id", "secret"}, testDeps(&stdout, &stderr, f, nil))
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, stderr.String())
	}

	if got, want := strings.Join(f.calls, "|"), "a,b|c"; got != want {
		t.Fatalf("fetch calls=%q, want %q", got, want)
	}

	want := "-- tracks (3 rows)\n" +
		"(a, Song a, 2026-10-16)\n" +
		"(b, Song b, 2026-10-16)\n" +
		"(c, Song c, 2026-10-16)\n"
	if stdout.String() != want {
		t.Fatalf("stdout=\n%s\nwant\n%s", stdout.String(), want)
	}
	if !strings.Contains(stderr.String(), `"run_id"`) {
		t.Fatalf("logs should carry run_id: %s", stderr.String())
	}
}

func TestRun_NoVerify(t *testing.T) {
	cfg := jobDir(t, "a\n", "")
	var stdout bytes.Buffer

	code := run(context.Background(), []string{"-verify=false", cfg, "id", "secret"}, testDeps(&stdout, io.Discard, &fakeFetcher{}, nil))
	if code != 0 {
		t.Fatalf("code=%d", code)
	}
	if stdout.Len() != 0 {
		t.Fatalf("stdout=%q, want empty", stdout.String())
	}
}

func TestRun_AuthFailureExits1(t *testing.T) {
	cfg := jobDir(t, "a\n", "")
	var stdout bytes.Buffer
	authErr := fmt.Errorf("%w: token endpoint returned 401 Unauthorized", api.ErrAuth)

	code := run(context.Background(), []string{cfg, "id", "wrong"}, testDeps(&stdout, io.Discard, &fakeFetcher{}, authErr))
	if code != 1 {
		t.Fatalf("code=%d, want 1", code)
	}
	if stdout.Len() != 0 {
		t.Fatalf("nothing should be verified after a failed run: %q", stdout.String())
	}
}

func TestRun_PushesMetricsToGateway(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer gw.Close()

	cfg := jobDir(t, "a\n", "")
	args := []string{"-metrics-backend", "pushgateway", "-pushgateway-url", gw.URL, cfg, "id", "secret"}

	code := run(context.Background(), args, testDeps(io.Discard, io.Discard, &fakeFetcher{}, nil))
	if code != 0 {
		t.Fatalf("code=%d", code)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(methods) != 1 || methods[0] != "PUT /metrics/job/trackload" {
		t.Fatalf("gateway requests=%v, want one PUT for job trackload", methods)
	}
}

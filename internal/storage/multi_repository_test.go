package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type nopStore struct{ dsn string }

func (nopStore) Close()                                               {}
func (nopStore) EnsureTables(context.Context, []TableSpec) error      { return nil }
func (nopStore) WriteAll(context.Context, []TableRows) (int64, error) { return 0, nil }
func (nopStore) ReadAll(context.Context, TableSpec) ([][]any, error)  { return nil, nil }

func TestRegistry(t *testing.T) {
	Register("test-nop", func(_ context.Context, cfg Config) (Store, error) {
		return nopStore{dsn: cfg.DSN}, nil
	})

	s, err := New(context.Background(), Config{Kind: "test-nop", DSN: "x"})
	require.NoError(t, err)
	require.Equal(t, nopStore{dsn: "x"}, s)
	require.Contains(t, Kinds(), "test-nop")

	_, err = New(context.Background(), Config{Kind: "nope"})
	require.ErrorContains(t, err, `unsupported kind "nope"`)

	_, err = New(context.Background(), Config{})
	require.Error(t, err)

	require.Panics(t, func() {
		Register("test-nop", func(context.Context, Config) (Store, error) { return nil, nil })
	})
}

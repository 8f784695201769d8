package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseColumn(t *testing.T) {
	t.Parallel()

	c, err := ParseColumn("release_date:album.release_date:TEXT")
	require.NoError(t, err)
	require.Equal(t, "release_date", c.Name)
	require.Equal(t, "album.release_date", c.Path.String())
	require.Equal(t, "TEXT", c.Type)

	c, err = ParseColumn(" loaded_on : {current_date} : DATE ")
	require.NoError(t, err)
	require.Equal(t, "loaded_on", c.Name)
	require.True(t, c.Path.IsCurrentDate())
	require.Equal(t, "DATE", c.Type)

	c, err = ParseColumn("price:price:numeric(10, 2)")
	require.NoError(t, err)
	require.Equal(t, "numeric(10, 2)", c.Type)
}

func TestParseColumn_Rejects(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"two fields":      "id:TEXT",
		"four fields":     "id:a:b:TEXT",
		"empty name":      ":id:TEXT",
		"empty path":      "id::TEXT",
		"empty type":      "id:id:",
		"quoted name":     `"id":id:TEXT`,
		"name injection":  "id; DROP TABLE x:id:TEXT",
		"type injection":  "id:id:TEXT); DROP TABLE x; --",
		"unbalanced type": "id:id:varchar(10",
		"bad path":        "id:a..b:TEXT",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseColumn(in)
			require.Error(t, err)
		})
	}
}

func TestParseTables(t *testing.T) {
	t.Parallel()

	specs, err := ParseTables([]RawTable{
		{
			TableName: "tracks",
			Columns:   []string{"id:id:TEXT PRIMARY KEY", "name:name:TEXT", "loaded_on:{current_date}:DATE"},
			Upsert:    " ON CONFLICT(id) DO NOTHING ",
		},
		{
			TableName: "public.artists",
			Columns:   []string{"track_id:id:TEXT", "names:artists[*].name:TEXT"},
		},
	})
	require.NoError(t, err)
	require.Len(t, specs, 2)

	require.Equal(t, "tracks", specs[0].Name)
	require.Equal(t, []string{"id", "name", "loaded_on"}, specs[0].ColumnNames())
	require.Equal(t, "ON CONFLICT(id) DO NOTHING", specs[0].Conflict)

	require.Equal(t, "public.artists", specs[1].Name)
	require.Empty(t, specs[1].Conflict)
}

func TestParseTables_Rejects(t *testing.T) {
	t.Parallel()

	tests := map[string][]RawTable{
		"no tables":        nil,
		"no columns":       {{TableName: "t"}},
		"bad table name":   {{TableName: "t-1", Columns: []string{"id:id:TEXT"}}},
		"too qualified":    {{TableName: "a.b.c", Columns: []string{"id:id:TEXT"}}},
		"duplicate table":  {{TableName: "t", Columns: []string{"id:id:TEXT"}}, {TableName: "T", Columns: []string{"id:id:TEXT"}}},
		"duplicate column": {{TableName: "t", Columns: []string{"id:id:TEXT", "ID:name:TEXT"}}},
		"bad column":       {{TableName: "t", Columns: []string{"id:id:TEXT", "broken"}}},
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseTables(in)
			require.Error(t, err)
		})
	}
}

// Package all links every storage backend into the binary.
package all

import (
	_ "trackload/internal/storage/mssql"
	_ "trackload/internal/storage/postgres"
	_ "trackload/internal/storage/sqlite"
)

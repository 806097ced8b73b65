// Package migrations embeds the goose migrations for every supported store.
package migrations

import (
	"embed"
	"fmt"
)

//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// Supported store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Dialect returns the goose dialect and migration directory for a driver.
func Dialect(driver string) (dialect, dir string, err error) {
	switch driver {
	case DriverSQLite:
		return "sqlite3", "sqlite", nil
	case DriverPostgres:
		return "postgres", "postgres", nil
	}
	return "", "", fmt.Errorf("unsupported database driver %q", driver)
}

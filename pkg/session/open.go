package session

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Open builds the Store named by driver.
func Open(driver, path, appName string, logger *zerolog.Logger) (Store, error) {
	switch driver {
	case DriverSQLite:
		return NewSQLiteStore(SQLiteConfig{Path: path, AppName: appName, Logger: logger})
	case DriverMemory, "":
		return NewMemoryStore(appName, logger), nil
	default:
		return nil, fmt.Errorf("unknown session store driver %q", driver)
	}
}

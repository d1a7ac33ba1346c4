// Package config carries the small set of knobs a syncbase host needs to
// open a database and start a sync iteration, modeled on warren's
// pkg/manager.Config plus storage.NewBoltStore's directory-rooted
// constructor.
package config

import (
	"fmt"
	"os"

	"github.com/cuemby/syncbase/pkg/log"
)

// Config is the top-level configuration for a syncbase host process.
type Config struct {
	// DataDir holds the SQLite database file (and any WAL/SHM siblings).
	DataDir string

	// LogLevel is one of the levels pkg/log.Config accepts ("debug",
	// "info", "warn", "error").
	LogLevel string
	// LogJSON selects structured JSON log output over console-pretty.
	LogJSON bool

	// KeepAlivePrefetchSeconds has the same default as the 30-second
	// threshold syncline.TokenExpiresIn.ShouldPrefetch hard-codes; nothing
	// in this module reads this field, so changing it does not change when
	// credentials are prefetched.
	KeepAlivePrefetchSeconds int32

	// StatementCacheSize is validated but not read elsewhere; pkg/storage's
	// statement cache has no size limit.
	StatementCacheSize int
}

// Default returns a Config with the same defaults the rest of this module
// assumes when a field is left unset.
func Default(dataDir string) Config {
	return Config{
		DataDir:                  dataDir,
		LogLevel:                 "info",
		LogJSON:                  false,
		KeepAlivePrefetchSeconds: 30,
		StatementCacheSize:       64,
	}
}

// Validate checks the configuration and creates DataDir if it does not
// already exist.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: DataDir is required")
	}
	if c.StatementCacheSize < 0 {
		return fmt.Errorf("config: StatementCacheSize must not be negative")
	}
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("config: failed to create data directory: %w", err)
	}
	return nil
}

// LogConfig builds the pkg/log.Config this configuration implies.
func (c Config) LogConfig() log.Config {
	return log.Config{Level: log.Level(c.LogLevel), JSONOutput: c.LogJSON}
}

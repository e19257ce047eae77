package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables read by LoadEnv.
const (
	EnvDB       = "STREAMSYNC_DB"
	EnvLogLevel = "STREAMSYNC_LOG_LEVEL"
	EnvRuntime  = "STREAMSYNC_RUNTIME"
)

// DefaultDBPath is used when neither flag nor environment names a database.
const DefaultDBPath = "streamsync.db"

// Process holds process-level settings.
type Process struct {
	DBPath      string
	LogLevel    slog.Level
	RuntimeFile string
}

// LoadEnv reads process settings from the environment. When envFile is
// non-empty it is loaded first; variables already set in the environment
// take precedence over the file. A missing default ".env" is not an error.
func LoadEnv(envFile string) (Process, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Process{}, fmt.Errorf("load env file: %w", err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Process{}, fmt.Errorf("load .env: %w", err)
	}

	p := Process{
		DBPath:      os.Getenv(EnvDB),
		RuntimeFile: os.Getenv(EnvRuntime),
		LogLevel:    slog.LevelInfo,
	}
	if p.DBPath == "" {
		p.DBPath = DefaultDBPath
	}
	if lvl := strings.TrimSpace(os.Getenv(EnvLogLevel)); lvl != "" {
		if err := p.LogLevel.UnmarshalText([]byte(lvl)); err != nil {
			return Process{}, fmt.Errorf("parse %s: %w", EnvLogLevel, err)
		}
	}
	return p, nil
}

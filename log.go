package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/planthealth/swcache/internal/config"
)

// setupLog configures the default logger from SWCACHE_DEBUG and
// SWCACHE_LOG_FILE. The returned func closes the log file, if any.
func setupLog() (func() error, error) {
	e, err := config.ParseEnv()
	if err != nil {
		return nil, err
	}

	level := log.InfoLevel
	if e.Debug {
		level = log.DebugLevel
	}

	if e.LogFile == "" {
		log.SetLevel(level)
		log.SetReportTimestamp(true)
		return func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(e.LogFile), 0o755); err != nil { //nolint:gosec
		return nil, fmt.Errorf("unable to create log directory: %w", err)
	}
	f, err := os.OpenFile(e.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("unable to open log file: %w", err)
	}
	log.SetDefault(log.NewWithOptions(f, log.Options{
		Level:           level,
		ReportTimestamp: true,
		Prefix:          config.AppName,
	}))
	return f.Close, nil
}

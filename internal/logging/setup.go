// Package logging builds the zerowrap logger of a command run.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bnema/zerowrap"

	"github.com/bnema/quaypush/internal/config"
)

// Setup creates the logger described by cfg. When file logging is enabled the
// log is also written to a rotated file, closed by the returned cleanup.
func Setup(cfg config.LoggingConfig) (zerowrap.Logger, func(), error) {
	logConfig := zerowrap.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
	}

	if !cfg.File.Enabled {
		return zerowrap.New(logConfig), func() {}, nil
	}

	if cfg.File.Path == "" {
		return zerowrap.Default(), nil, fmt.Errorf("logging.file.path must be set when file logging is enabled")
	}
	// Owner-only permissions, the log may contain repository names and task ids.
	if err := os.MkdirAll(filepath.Dir(cfg.File.Path), 0700); err != nil {
		return zerowrap.Default(), nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	log, cleanup, err := zerowrap.NewWithFile(logConfig, zerowrap.FileConfig{
		Enabled:    true,
		Path:       cfg.File.Path,
		MaxSize:    cfg.File.MaxSize,
		MaxBackups: cfg.File.MaxBackups,
		MaxAge:     cfg.File.MaxAge,
		Compress:   cfg.File.Compress,
	})
	if err != nil {
		return zerowrap.Default(), nil, fmt.Errorf("failed to create logger with file: %w", err)
	}
	return log, cleanup, nil
}

package logging

import (
	"log/slog"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithSyncRun returns a logger with registry sync run fields attached.
// Use this for all logging within one full sync.
func WithSyncRun(runID string) *slog.Logger {
	return slog.With(
		"component", "registry_sync",
		"run_id", runID,
	)
}

// WithModule returns a logger scoped to a single module within a sync run.
func WithModule(logger *slog.Logger, moduleID string) *slog.Logger {
	return logger.With("module_id", moduleID)
}

// NewComponentLogger returns a JSON logrus logger tagged with a component name,
// used by request-path components that log structured fields per call.
func NewComponentLogger(component string) *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	if strings.ToLower(os.Getenv("ENVIRONMENT")) == "production" {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(logrus.DebugLevel)
	}

	return logger.WithField("component", component)
}

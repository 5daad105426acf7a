// Command ongi-assets is a CLI harness for the assets package.
// It downloads, validates, and transcodes splat assets from the command line.
//
// Configuration is loaded from environment variables:
//   - ONGI_BASE_URL: Base URL for relative asset paths (optional)
//   - ONGI_ASSETS_DIR: Override for cache directory (optional)
//   - ONGI_DEBUG: Enable debug logging when set to a non-empty value
package main

import (
	"errors"
	"os"

	charmlog "github.com/charmbracelet/log"

	assets "github.com/ongi-app/ongi-assets"
)

// CLI exit codes for standardized error reporting.
const (
	// ExitSuccess indicates the operation completed successfully.
	ExitSuccess = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError = 1

	// ExitInvalidArgs indicates invalid command line arguments.
	ExitInvalidArgs = 2

	// ExitNotFound indicates the asset was not found at its source.
	ExitNotFound = 3

	// ExitNotCached indicates the asset is not present in the local cache.
	ExitNotCached = 4

	// ExitNetworkError indicates a network or connection failure.
	ExitNetworkError = 5

	// ExitInvalidAsset indicates the downloaded asset failed validation
	// or transcoding.
	ExitInvalidAsset = 6

	// ExitStorageError indicates a filesystem operation failed.
	ExitStorageError = 7

	// ExitCancelled indicates the operation was cancelled.
	ExitCancelled = 8
)

func main() {
	logger := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
	})
	if os.Getenv("ONGI_DEBUG") != "" {
		logger.SetLevel(charmlog.DebugLevel)
	}

	cfg := assets.Config{
		AppName: "ongi",
		BaseURL: os.Getenv("ONGI_BASE_URL"),
		// DataDir can be set via ONGI_ASSETS_DIR env var (handled by storage layer)
	}

	cmd := assets.NewCommand(cfg, assets.WithLogger(logAdapter{logger}))
	if err := cmd.Execute(); err != nil {
		os.Exit(exitCodeFromError(err))
	}
}

// logAdapter bridges charmbracelet/log to the assets.Logger interface.
type logAdapter struct {
	l *charmlog.Logger
}

func (a logAdapter) Debug(msg string, keysAndValues ...any) { a.l.Debug(msg, keysAndValues...) }
func (a logAdapter) Info(msg string, keysAndValues ...any)  { a.l.Info(msg, keysAndValues...) }
func (a logAdapter) Warn(msg string, keysAndValues ...any)  { a.l.Warn(msg, keysAndValues...) }
func (a logAdapter) Error(msg string, keysAndValues ...any) { a.l.Error(msg, keysAndValues...) }

// exitCodeFromError maps error types to exit codes.
func exitCodeFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var statusErr *assets.StatusError
	if errors.As(err, &statusErr) && statusErr.Status == 404 {
		return ExitNotFound
	}

	switch {
	case errors.Is(err, assets.ErrNotCached):
		return ExitNotCached
	case errors.Is(err, assets.ErrTimeout),
		errors.Is(err, assets.ErrConnection),
		errors.Is(err, assets.ErrBadResponse):
		return ExitNetworkError
	case errors.Is(err, assets.ErrInvalidContainer),
		errors.Is(err, assets.ErrUnsupportedFormat),
		errors.Is(err, assets.ErrMissingAttribute),
		errors.Is(err, assets.ErrShortRead),
		errors.Is(err, assets.ErrOversizeFile),
		errors.Is(err, assets.ErrMalformedPointer):
		return ExitInvalidAsset
	case errors.Is(err, assets.ErrStorageError):
		return ExitStorageError
	case errors.Is(err, assets.ErrCancelled):
		return ExitCancelled
	case errors.Is(err, assets.ErrUnsupportedSource):
		return ExitInvalidArgs
	default:
		return ExitGeneralError
	}
}

package assets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for pipeline operations.
// Use errors.Is() to check for specific error conditions.
var (
	// ErrTimeout indicates a connect or receive timeout during download.
	ErrTimeout = errors.New("assets: network timeout")

	// ErrConnection indicates a transport-level network failure.
	ErrConnection = errors.New("assets: connection error")

	// ErrBadResponse indicates the server returned a non-success status.
	// The wrapping StatusError carries the status code.
	ErrBadResponse = errors.New("assets: bad response")

	// ErrCancelled indicates the run was cancelled, either explicitly or
	// by a newer Prepare for the same identifier.
	ErrCancelled = errors.New("assets: cancelled")

	// ErrUnsupportedSource indicates a Git LFS pointer was downloaded
	// from a hosting domain the resolver does not support.
	ErrUnsupportedSource = errors.New("assets: unsupported pointer source")

	// ErrMalformedPointer indicates a detected pointer file could not be
	// parsed into the fields the resolver needs.
	ErrMalformedPointer = errors.New("assets: malformed pointer file")

	// ErrInvalidContainer indicates the downloaded file is not a PLY
	// container (wrong signature or empty file).
	ErrInvalidContainer = errors.New("assets: invalid container")

	// ErrUnsupportedFormat indicates the container declares a format
	// other than binary little-endian.
	ErrUnsupportedFormat = errors.New("assets: unsupported container format")

	// ErrMissingAttribute indicates a required per-vertex attribute is
	// absent from the container header.
	ErrMissingAttribute = errors.New("assets: missing required attribute")

	// ErrShortRead indicates the container body is smaller than the
	// header-declared vertex data.
	ErrShortRead = errors.New("assets: short read")

	// ErrOversizeFile indicates the container exceeds the in-memory
	// representation's hard size ceiling.
	ErrOversizeFile = errors.New("assets: file exceeds size limit")

	// ErrStorageError indicates a filesystem operation failed.
	ErrStorageError = errors.New("assets: storage error")

	// ErrNotCached indicates no cached file exists for the identifier.
	ErrNotCached = errors.New("assets: asset not cached")
)

// StatusError wraps ErrBadResponse with the HTTP status code so the
// boundary can classify it without string matching.
type StatusError struct {
	// Status is the HTTP status code returned by the server.
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("assets: bad response: status %d", e.Status)
}

func (e *StatusError) Unwrap() error { return ErrBadResponse }

// Category is the user-facing error category surfaced at the UI/engine
// boundary. The presentation layer maps categories to display strings.
type Category string

// User-facing error categories.
const (
	CategoryTimeout      Category = "timeout"
	CategoryNotFound     Category = "not-found"
	CategoryForbidden    Category = "forbidden"
	CategoryServerError  Category = "server-error"
	CategoryConnectivity Category = "connectivity"
	CategoryCancelled    Category = "cancelled"
	CategoryInvalidAsset Category = "invalid-asset"
	CategoryStorage      Category = "storage"
	CategoryUnknown      Category = "unknown"
)

// Classify maps a pipeline error onto its user-facing category.
// It is the single place status codes are interpreted.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Status == http.StatusNotFound:
			return CategoryNotFound
		case se.Status == http.StatusForbidden:
			return CategoryForbidden
		default:
			return CategoryServerError
		}
	}

	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return CategoryCancelled
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, ErrConnection):
		return CategoryConnectivity
	case errors.Is(err, ErrUnsupportedSource),
		errors.Is(err, ErrMalformedPointer),
		errors.Is(err, ErrInvalidContainer),
		errors.Is(err, ErrUnsupportedFormat),
		errors.Is(err, ErrMissingAttribute),
		errors.Is(err, ErrShortRead),
		errors.Is(err, ErrOversizeFile):
		return CategoryInvalidAsset
	case errors.Is(err, ErrStorageError):
		return CategoryStorage
	}

	return CategoryUnknown
}

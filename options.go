package assets

import (
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"golang.org/x/time/rate"
)

// Timeout and concurrency defaults.
const (
	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 20 * time.Second

	// DefaultReceiveTimeout bounds a whole transfer. Splat assets run to
	// hundreds of megabytes, so this is minutes, not seconds.
	DefaultReceiveTimeout = 20 * time.Minute

	// DefaultMaxConcurrent is the default number of Prepare runs allowed
	// in flight across all identifiers.
	DefaultMaxConcurrent = 4

	// MaxConcurrent is the upper bound for WithMaxConcurrent.
	MaxConcurrent = 16
)

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

// managerConfig holds configuration for Manager construction.
type managerConfig struct {
	// httpClient is used for all HTTP downloads.
	httpClient HTTPClient

	// logger receives diagnostic log messages.
	logger Logger

	// s3Client serves s3://bucket/key source URLs. Optional.
	s3Client *minio.Client

	// limiter bounds download throughput. Nil means unlimited.
	limiter *rate.Limiter

	// maxConcurrent bounds concurrent Prepare runs.
	maxConcurrent int64

	// connectTimeout bounds connection establishment.
	connectTimeout time.Duration

	// receiveTimeout bounds a whole transfer.
	receiveTimeout time.Duration
}

// newManagerConfig returns a managerConfig with default values.
func newManagerConfig() *managerConfig {
	return &managerConfig{
		maxConcurrent:  DefaultMaxConcurrent,
		connectTimeout: DefaultConnectTimeout,
		receiveTimeout: DefaultReceiveTimeout,
	}
}

// WithHTTPClient sets a custom HTTP client for downloads.
// Useful for testing with mock servers or customizing transports.
// If not set, a client with the configured connect timeout is used.
func WithHTTPClient(client HTTPClient) ManagerOption {
	return func(c *managerConfig) {
		c.httpClient = client
	}
}

// WithLogger sets a logger for diagnostic output.
// If not set, logging is disabled.
func WithLogger(logger Logger) ManagerOption {
	return func(c *managerConfig) {
		c.logger = logger
	}
}

// WithS3Client enables s3://bucket/key source URLs, served through the
// given MinIO client (works against any S3-compatible endpoint, e.g.
// Cloudflare R2). Without it, s3 URLs fail with ErrUnsupportedSource.
func WithS3Client(client *minio.Client) ManagerOption {
	return func(c *managerConfig) {
		c.s3Client = client
	}
}

// WithRateLimit caps download throughput at bytesPerSec.
// Zero or negative disables the limit.
func WithRateLimit(bytesPerSec int) ManagerOption {
	return func(c *managerConfig) {
		if bytesPerSec <= 0 {
			c.limiter = nil
			return
		}
		burst := bytesPerSec
		if burst < rateBurstFloor {
			burst = rateBurstFloor
		}
		c.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
	}
}

// WithMaxConcurrent sets the number of Prepare runs allowed in flight
// across all identifiers. Values are clamped to [1, MaxConcurrent].
func WithMaxConcurrent(n int) ManagerOption {
	return func(c *managerConfig) {
		if n < 1 {
			n = 1
		}
		if n > MaxConcurrent {
			n = MaxConcurrent
		}
		c.maxConcurrent = int64(n)
	}
}

// WithTimeouts overrides the connect and receive timeouts.
// Non-positive values keep the current setting.
func WithTimeouts(connect, receive time.Duration) ManagerOption {
	return func(c *managerConfig) {
		if connect > 0 {
			c.connectTimeout = connect
		}
		if receive > 0 {
			c.receiveTimeout = receive
		}
	}
}

// PrepareOption configures a single Prepare run.
type PrepareOption func(*prepareConfig)

// prepareConfig holds configuration for one Prepare run.
type prepareConfig struct {
	// force causes re-download even when a cached file exists.
	force bool

	// records requests full transcoding into a RecordSequence.
	records bool

	// progressFn is called with progress updates during the run.
	progressFn func(PrepareProgress)
}

// WithForce deletes any cached file and re-downloads the asset.
func WithForce() PrepareOption {
	return func(c *prepareConfig) {
		c.force = true
	}
}

// WithRecords requests full transcoding; the result's Records field is
// populated. Without it Prepare stops at structural verification and the
// renderer decodes the file itself.
func WithRecords() PrepareOption {
	return func(c *prepareConfig) {
		c.records = true
	}
}

// WithProgress sets a callback for progress updates during the run.
// The callback is invoked from the run's goroutine and must be fast.
func WithProgress(fn func(PrepareProgress)) PrepareOption {
	return func(c *prepareConfig) {
		c.progressFn = fn
	}
}

// HTTPClient is the interface for HTTP operations.
// *http.Client satisfies this interface.
type HTTPClient interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)
}

// Logger is the interface for diagnostic logging.
// Compatible with slog, zap, logrus, and other structured loggers.
type Logger interface {
	// Debug logs a debug-level message with optional key-value pairs.
	Debug(msg string, keysAndValues ...any)

	// Info logs an info-level message with optional key-value pairs.
	Info(msg string, keysAndValues ...any)

	// Warn logs a warning-level message with optional key-value pairs.
	Warn(msg string, keysAndValues ...any)

	// Error logs an error-level message with optional key-value pairs.
	Error(msg string, keysAndValues ...any)
}

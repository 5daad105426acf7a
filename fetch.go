package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"golang.org/x/time/rate"
)

// rateBurstFloor keeps the limiter burst at least one copy buffer, so a
// single read never exceeds the burst and deadlocks WaitN.
const rateBurstFloor = 256 << 10

// copyBufSize is the read-loop buffer size.
const copyBufSize = 64 << 10

// partSuffix marks an in-flight download. The temp file is renamed over
// the destination only after the transfer completes.
const partSuffix = ".part"

// fetchClient downloads a single asset file with progress reporting,
// timeout handling, and cancellation. It is reused by the pointer
// resolver for the second-hop download.
type fetchClient struct {
	// httpClient is used for HTTP(S) downloads.
	httpClient HTTPClient

	// s3Client serves s3:// URLs. Nil disables them.
	s3Client *minio.Client

	// logger receives diagnostic messages. May be nil.
	logger Logger

	// limiter bounds throughput when non-nil.
	limiter *rate.Limiter

	// receiveTimeout bounds a whole transfer.
	receiveTimeout time.Duration

	// checkSpace, when non-nil, is consulted once the content length is
	// known and may refuse the transfer.
	checkSpace func(need int64) error
}

// newFetchClient creates a fetch client from the manager configuration.
func newFetchClient(mcfg *managerConfig, checkSpace func(int64) error) *fetchClient {
	client := mcfg.httpClient
	if client == nil {
		client = defaultHTTPClient(mcfg.connectTimeout)
	}
	return &fetchClient{
		httpClient:     client,
		s3Client:       mcfg.s3Client,
		logger:         mcfg.logger,
		limiter:        mcfg.limiter,
		receiveTimeout: mcfg.receiveTimeout,
		checkSpace:     checkSpace,
	}
}

// defaultHTTPClient builds a client with a connect timeout but no overall
// client timeout; the receive timeout is enforced per request via context
// so it can be sized for multi-hundred-MB transfers.
func defaultHTTPClient(connectTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: connectTimeout,
			Proxy:                 http.ProxyFromEnvironment,
		},
	}
}

// download fetches rawURL into dest, overwriting any existing file.
// onProgress receives a monotonically non-decreasing fraction in [0,1]
// whenever the total length is known; otherwise it is never called.
// No partial file remains at dest or dest+".part" after a failure.
func (f *fetchClient) download(ctx context.Context, rawURL, dest string, onProgress func(float64)) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing url %q: %w", rawURL, ErrConnection)
	}
	if u.Scheme == "s3" {
		return f.downloadS3(ctx, u, dest, onProgress)
	}

	ctx, cancel := context.WithTimeout(ctx, f.receiveTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("downloading %s: %w", rawURL, &StatusError{Status: resp.StatusCode})
	}

	total := resp.ContentLength
	if total > 0 && f.checkSpace != nil {
		if err := f.checkSpace(total); err != nil {
			return err
		}
	}

	return f.writeBody(ctx, resp.Body, total, u.Path, resp.Header.Get("Content-Encoding"), dest, onProgress)
}

// writeBody streams body into dest via a temp file, applying progress,
// rate limiting, and transparent decompression. total may be -1.
func (f *fetchClient) writeBody(ctx context.Context, body io.Reader, total int64, urlPath, contentEncoding, dest string, onProgress func(float64)) error {
	// Progress and rate limiting are measured on the wire stream, before
	// decompression, so the fraction tracks actual transfer.
	var reader io.Reader = body
	if onProgress != nil && total > 0 {
		reader = &progressReader{reader: reader, total: total, onProgress: onProgress}
	}
	if f.limiter != nil {
		reader = &rateLimitedReader{reader: reader, limiter: f.limiter, ctx: ctx}
	}

	reader, closeDec, err := wrapDecompression(reader, urlPath, contentEncoding)
	if err != nil {
		return err
	}
	defer closeDec()

	tmp := dest + partSuffix
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrStorageError, tmp, err)
	}

	buf := make([]byte, copyBufSize)
	_, err = io.CopyBuffer(file, reader, buf)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("%w: %v", ErrStorageError, closeErr)
	}
	if err != nil {
		os.Remove(tmp)
		return classifyTransport(ctx, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: renaming temp file: %v", ErrStorageError, err)
	}
	return nil
}

// wrapDecompression wraps reader with a decoder when the payload is
// compressed, detected by Content-Encoding or by URL path suffix. The
// cached file is always raw PLY.
func wrapDecompression(reader io.Reader, urlPath, contentEncoding string) (io.Reader, func(), error) {
	enc := strings.ToLower(contentEncoding)
	switch {
	case enc == "zstd" || strings.HasSuffix(urlPath, ".zst"):
		dec, err := zstd.NewReader(reader)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing zstd decoder: %w", ErrConnection)
		}
		return dec.IOReadCloser(), dec.Close, nil
	case enc == "gzip" || strings.HasSuffix(urlPath, ".gz"):
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing gzip decoder: %w", ErrConnection)
		}
		return gz, func() { gz.Close() }, nil
	}
	return reader, func() {}, nil
}

// classifyTransport maps a transport error onto the failure taxonomy.
func classifyTransport(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	// The request context may carry the real cause: cancellation by the
	// caller versus expiry of the receive timeout.
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.Canceled) {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		return fmt.Errorf("%w: receive timeout: %v", ErrTimeout, err)
	}

	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrConnection, err)
}

// progressReader reports a cumulative fraction as bytes are read.
// The fraction is non-decreasing and clamped to [0, 1].
type progressReader struct {
	reader     io.Reader
	total      int64
	read       int64
	onProgress func(float64)
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
		fraction := float64(pr.read) / float64(pr.total)
		if fraction > 1 {
			fraction = 1
		}
		pr.onProgress(fraction)
	}
	return
}

// rateLimitedReader throttles reads through a shared rate.Limiter.
type rateLimitedReader struct {
	reader  io.Reader
	limiter *rate.Limiter
	ctx     context.Context
}

func (rr *rateLimitedReader) Read(p []byte) (n int, err error) {
	n, err = rr.reader.Read(p)
	if n > 0 {
		if waitErr := rr.limiter.WaitN(rr.ctx, n); waitErr != nil && err == nil {
			err = waitErr
		}
	}
	return
}

package assets

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
)

// downloadS3 fetches an s3://bucket/key object into dest with the same
// progress, cancellation, and cleanup contract as the HTTP path. Asset
// buckets live on S3-compatible endpoints (R2, MinIO), so one client
// covers them all.
func (f *fetchClient) downloadS3(ctx context.Context, u *url.URL, dest string, onProgress func(float64)) error {
	if f.s3Client == nil {
		return fmt.Errorf("%w: no s3 client configured for %s", ErrUnsupportedSource, u.String())
	}

	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return fmt.Errorf("%w: malformed s3 url %q", ErrUnsupportedSource, u.String())
	}

	ctx, cancel := context.WithTimeout(ctx, f.receiveTimeout)
	defer cancel()

	stat, err := f.s3Client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return classifyS3(ctx, err)
	}
	if stat.Size > 0 && f.checkSpace != nil {
		if err := f.checkSpace(stat.Size); err != nil {
			return err
		}
	}

	obj, err := f.s3Client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return classifyS3(ctx, err)
	}
	defer obj.Close()

	if f.logger != nil {
		f.logger.Debug("s3 download", "bucket", bucket, "key", key, "size", stat.Size)
	}
	return f.writeBody(ctx, obj, stat.Size, key, "", dest, onProgress)
}

// classifyS3 maps a MinIO error onto the failure taxonomy, reusing the
// HTTP status carried in the S3 error response.
func classifyS3(ctx context.Context, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode != 0 && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		status := resp.StatusCode
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			status = http.StatusNotFound
		}
		return fmt.Errorf("s3 request failed (%s): %w", resp.Code, &StatusError{Status: status})
	}
	return classifyTransport(ctx, err)
}

package assets

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// lfsSpecPrefix is the sole detection signal for a Git LFS pointer file:
// the first non-empty line must start with it. A payload lacking this
// exact marker is the genuine asset, whatever else it contains.
const lfsSpecPrefix = "version https://git-lfs.github.com/spec/"

// maxPointerBytes bounds how much of a candidate file is read during
// detection. Real pointer files are a few hundred bytes.
const maxPointerBytes = 4096

// LFS content hosts. Both the raw-content host and the web host rewrite
// to the media host, which serves the actual large-file payload.
const (
	lfsRawHost   = "raw.githubusercontent.com"
	lfsWebHost   = "github.com"
	lfsMediaHost = "media.githubusercontent.com"
)

// lfsPointer holds the key→value fields parsed from a pointer file.
type lfsPointer struct {
	fields map[string]string
}

// Oid returns the object identifier with any "sha256:" prefix already
// stripped during parsing.
func (p *lfsPointer) Oid() string { return p.fields["oid"] }

// Size returns the declared payload size, or 0 if absent or unparsable.
func (p *lfsPointer) Size() int64 {
	n, err := strconv.ParseInt(p.fields["size"], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Version returns the pointer format version URL.
func (p *lfsPointer) Version() string { return p.fields["version"] }

// detectPointer inspects a downloaded file and returns a parsed pointer
// if it is a Git LFS placeholder instead of the real asset. Any other
// content, including binary data or read failures, yields nil — never an
// error, since "this is the real asset" is the common case.
func detectPointer(path string) *lfsPointer {
	file, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(io.LimitReader(file, maxPointerBytes))
	scanner.Buffer(make([]byte, maxPointerBytes), maxPointerBytes)

	ptr := &lfsPointer{fields: make(map[string]string)}
	sawMarker := false
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !sawMarker {
			if !strings.HasPrefix(trimmed, lfsSpecPrefix) {
				return nil
			}
			sawMarker = true
		}
		parsePointerLine(ptr.fields, line)
	}
	// Scanner errors on binary content mean "not a pointer".
	if scanner.Err() != nil || !sawMarker {
		return nil
	}
	return ptr
}

// parsePointerLine stores one pointer line into fields. A 2-token line
// stores key→value; a 3-token line whose first token is "oid" stores the
// third token with a leading "sha256:" prefix stripped.
func parsePointerLine(fields map[string]string, line string) {
	tokens := strings.Split(line, " ")
	switch {
	case len(tokens) == 2:
		fields[tokens[0]] = tokens[1]
	case len(tokens) == 3 && tokens[0] == "oid":
		fields["oid"] = strings.TrimPrefix(tokens[2], "sha256:")
	}
}

// mediaURL derives the real-content URL for a pointer downloaded from
// originalURL. Only the GitHub hosting family is supported; any other
// domain fails immediately with ErrUnsupportedSource — there is no
// generic LFS batch-API fallback.
func mediaURL(originalURL string) (string, error) {
	u, err := url.Parse(originalURL)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSource, originalURL)
	}

	host := strings.ToLower(u.Hostname())
	switch host {
	case lfsRawHost:
		u.Host = lfsMediaHost
		u.Path = "/media" + u.Path
	case lfsWebHost, "www." + lfsWebHost:
		u.Host = lfsMediaHost
		u.Path = "/media" + strings.Replace(u.Path, "/raw/", "/", 1)
	default:
		return "", fmt.Errorf("%w: host %q", ErrUnsupportedSource, host)
	}
	return u.String(), nil
}

// resolvePointer re-fetches the real payload for a detected pointer,
// overwriting the pointer file at dest. The oid and size fields are
// required so a malformed pointer fails before any network use.
func (f *fetchClient) resolvePointer(ctx context.Context, ptr *lfsPointer, originalURL, dest string, onProgress func(float64)) error {
	if ptr.Oid() == "" || ptr.Size() <= 0 {
		return fmt.Errorf("%w: missing oid or size", ErrMalformedPointer)
	}

	target, err := mediaURL(originalURL)
	if err != nil {
		return err
	}

	if f.logger != nil {
		f.logger.Debug("resolving lfs pointer", "oid", ptr.Oid(), "size", ptr.Size(), "url", target)
	}
	return f.download(ctx, target, dest, onProgress)
}

package assets

import (
	"regexp"
	"time"
)

// Config configures the assets module.
type Config struct {
	// AppName determines the storage directory name.
	// Example: "ongi" → ~/.local/share/ongi/splats/ on Linux
	AppName string

	// BaseURL is the origin relative source paths are resolved against.
	// Example: "https://api.ongi.app". Absolute http(s) and s3 URLs
	// bypass it, so it may be left empty when callers always pass
	// absolute URLs.
	BaseURL string

	// DataDir overrides the default data directory.
	// If empty, uses platform-appropriate default.
	// Can also be set via environment variable: <APPNAME>_ASSETS_DIR
	DataDir string
}

// sanitizePattern matches every run of characters that is not safe in a
// file name. Underscore is in \w and therefore preserved.
var sanitizePattern = regexp.MustCompile(`[^\w]+`)

// SanitizeIdentifier derives the filesystem-safe base name for a model
// identifier. Runs of non-word characters (including spaces) collapse to
// a single underscore.
//
// The mapping is deterministic but not injective: two distinct
// identifiers may sanitize to the same base name and will then share a
// cache slot. This matches the original product behavior; callers that
// need stronger uniqueness should hash their identifiers first.
func SanitizeIdentifier(id string) string {
	return sanitizePattern.ReplaceAllString(id, "_")
}

// CacheEntry describes one cached asset file. Entries are derived from
// the directory listing on demand; the filesystem is the source of truth.
type CacheEntry struct {
	// Identifier is the sanitized identifier recovered from the file name.
	Identifier string `json:"identifier"`

	// Path is the absolute path of the cached file.
	Path string `json:"path"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`

	// LastModified is the file's modification time.
	LastModified time.Time `json:"last_modified"`
}

// AssetInfo reports the cache state of a single identifier.
type AssetInfo struct {
	// Exists reports whether a cached file is present.
	Exists bool `json:"exists"`

	// Path is the resolved local path (set even when Exists is false).
	Path string `json:"path"`

	// Size is the file size in bytes, 0 when absent.
	Size int64 `json:"size"`

	// LastModified is the file's modification time, zero when absent.
	LastModified time.Time `json:"last_modified"`
}

// Stage identifies the pipeline stage a run is in. Stages advance
// strictly in order for a single run; Ready and Failed are terminal.
type Stage string

// Pipeline stages reported through PrepareProgress.
const (
	StageIdle        Stage = "idle"
	StageDownloading Stage = "downloading"
	StagePointer     Stage = "pointer-detected"
	StageResolving   Stage = "resolving-indirection"
	StageValidating  Stage = "validating"
	StageTranscoding Stage = "transcoding"
	StageReady       Stage = "ready"
	StageFailed      Stage = "failed"
)

// PrepareProgress reports pipeline progress during a Prepare run.
// Fraction is monotonically non-decreasing for a single run: download
// transfer maps into [0, 0.90] and the fast local stages advance it by
// coarse fixed increments up to 1.0.
type PrepareProgress struct {
	// Stage is the pipeline stage currently active.
	Stage Stage

	// Fraction is the overall progress in [0, 1].
	Fraction float64
}

// PointRecord is one transcoded splat point in renderer-ready form.
// The shape is fixed regardless of which optional source attributes were
// present; missing attributes leave their field at the zero value.
type PointRecord struct {
	// Position is the point center.
	Position [3]float32

	// Normal is the optional surface normal, zero if absent.
	Normal [3]float32

	// Color is the base (band-0) color in linear RGB.
	Color [3]float32

	// SH holds the 45 higher-order spherical-harmonic coefficients as
	// 15 interleaved (R, G, B) triples.
	SH [45]float32

	// Opacity is in (0, 1) after the logistic transform.
	Opacity float32

	// Scale is the linear per-axis scale.
	Scale [3]float32

	// Rotation is a unit quaternion in (x, y, z, w) order.
	Rotation [4]float32
}

// RecordSequence is the ordered sequence of transcoded point records.
// It is produced once per successful run and owned by the caller; the
// pipeline retains no reference after returning it.
type RecordSequence []PointRecord

// PrepareResult is the terminal result of a successful Prepare run.
type PrepareResult struct {
	// Path is the local path of the validated asset file.
	Path string

	// VertexCount is the vertex count declared by the container header.
	VertexCount int

	// Records holds the transcoded records when WithRecords was given,
	// nil otherwise (renderers may decode the file themselves).
	Records RecordSequence
}

// Package assets provides the acquisition and transcoding pipeline for
// ongi splat assets: it downloads a Gaussian-splat PLY file, caches it on
// local storage, and decodes it into renderer-ready point records.
//
// The package serves two primary use cases:
//
//  1. Programmatic API via the Manager interface - Applications call
//     NewManager and use Prepare to download, validate, and optionally
//     transcode an asset identified by an opaque model identifier.
//
//  2. Embeddable CLI via NewCommand - Parent CLI tools can attach a
//     complete "assets" subcommand tree to their Cobra root command,
//     providing commands like "mytool assets prepare", "mytool assets
//     list", etc.
//
// # Pipeline
//
// Prepare runs a fixed sequence per identifier: download, Git LFS pointer
// resolution (some hosting backends return a small pointer file in place
// of the real payload), container validation, and binary transcoding.
// A cached file short-circuits the pipeline entirely. Starting a new
// Prepare for an identifier that already has a run in flight cancels the
// prior run before starting fresh.
//
// # Thread Safety
//
// The Manager interface is fully thread-safe. All methods can be called
// concurrently from multiple goroutines without external synchronization.
//
// # Storage
//
// Assets are cached in platform-appropriate directories:
//   - Linux: $XDG_DATA_HOME/<app>/splats/ or ~/.local/share/<app>/splats/
//   - macOS: ~/Library/Application Support/<app>/splats/
//   - Windows: %APPDATA%\<app>\splats\
//
// The location can be overridden via Config.DataDir or the
// <APPNAME>_ASSETS_DIR environment variable. The directory listing is the
// only inventory; no manifest or index file is kept.
package assets

package assets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// assetExt is the extension of every cached asset file. Directory
// listings filtered by it are the only cache inventory.
const assetExt = ".ply"

// cacheSubdir is the cache directory name under the app data directory.
const cacheSubdir = "splats"

// store handles all local filesystem operations for the asset cache.
// Side effects are confined to its directory subtree.
type store struct {
	// dir is the cache directory holding all asset files.
	dir string

	// logger receives diagnostic messages. May be nil.
	logger Logger
}

// newStore creates a store for the given configuration.
// The cache directory is created if absent.
func newStore(cfg Config, logger Logger) (*store, error) {
	var baseDir string

	// Priority: env var > Config.DataDir > platform default
	if envDir := os.Getenv(envVarName(cfg.AppName)); envDir != "" {
		baseDir = envDir
	} else if cfg.DataDir != "" {
		baseDir = cfg.DataDir
	} else {
		defaultDir, err := defaultDataDir(cfg.AppName)
		if err != nil {
			return nil, fmt.Errorf("%w: resolving default data dir: %v", ErrStorageError, err)
		}
		baseDir = defaultDir
	}

	s := &store{dir: filepath.Join(baseDir, cacheSubdir), logger: logger}
	if err := s.ensureDir(); err != nil {
		return nil, err
	}
	return s, nil
}

// envVarName constructs an environment variable name from the app name.
// Example: envVarName("ongi") returns "ONGI_ASSETS_DIR".
func envVarName(appName string) string {
	return strings.ToUpper(appName) + "_ASSETS_DIR"
}

// ensureDir creates the cache directory and all parents if absent.
// Idempotent.
func (s *store) ensureDir() error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("%w: creating cache directory %s: %v", ErrStorageError, s.dir, err)
	}
	return nil
}

// resolvePath returns the deterministic local path for an identifier,
// creating the cache directory if needed. Two calls for the same
// identifier always return the same path.
func (s *store) resolvePath(id string) (string, error) {
	if err := s.ensureDir(); err != nil {
		return "", err
	}
	return s.path(id), nil
}

// path returns the local path for an identifier without touching disk.
func (s *store) path(id string) string {
	return filepath.Join(s.dir, SanitizeIdentifier(id)+assetExt)
}

// exists reports whether a cached file is present for the identifier.
func (s *store) exists(id string) bool {
	info, err := os.Stat(s.path(id))
	return err == nil && !info.IsDir()
}

// info reports the cache state for the identifier.
func (s *store) info(id string) AssetInfo {
	path := s.path(id)
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return AssetInfo{Path: path}
	}
	return AssetInfo{
		Exists:       true,
		Path:         path,
		Size:         fi.Size(),
		LastModified: fi.ModTime(),
	}
}

// delete removes the cached file for the identifier.
// Removing an absent file is not an error.
func (s *store) delete(id string) error {
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: deleting %s: %v", ErrStorageError, s.path(id), err)
	}
	return nil
}

// deleteAll removes the whole cache directory and recreates it empty, so
// the store remains usable without re-initialization.
func (s *store) deleteAll() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("%w: clearing cache directory: %v", ErrStorageError, err)
	}
	return s.ensureDir()
}

// totalBytes returns the combined size of all cached asset files.
// Best-effort: returns 0 on any error, since the value is advisory.
func (s *store) totalBytes() int64 {
	var total int64
	for _, e := range s.list() {
		total += e.Size
	}
	return total
}

// list enumerates cached assets by filtering the directory listing by
// extension. Best-effort: returns an empty slice on any error.
func (s *store) list() []CacheEntry {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}

	var out []CacheEntry
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), assetExt) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, CacheEntry{
			Identifier:   strings.TrimSuffix(entry.Name(), assetExt),
			Path:         filepath.Join(s.dir, entry.Name()),
			Size:         fi.Size(),
			LastModified: fi.ModTime(),
		})
	}
	return out
}

// checkSpace verifies the filesystem has room for need bytes plus slack.
// Advisory: a statfs failure allows the download rather than blocking it.
func (s *store) checkSpace(need int64) error {
	free, err := s.freeSpace()
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("free space check unavailable", "error", err)
		}
		return nil
	}
	if uint64(need) > free {
		return fmt.Errorf("%w: need %d bytes, %d free", ErrStorageError, need, free)
	}
	return nil
}

//go:build windows

package assets

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// defaultDataDir returns the default data directory for Windows.
// Returns %APPDATA%\<appName>\
func defaultDataDir(appName string) (string, error) {
	appData := os.Getenv("APPDATA")
	if appData == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		appData = filepath.Join(home, "AppData", "Roaming")
	}
	return filepath.Join(appData, appName), nil
}

// freeSpace returns the bytes available to unprivileged callers on the
// volume holding the cache directory.
func (s *store) freeSpace() (uint64, error) {
	var avail, total, free uint64
	dir, err := windows.UTF16PtrFromString(s.dir)
	if err != nil {
		return 0, err
	}
	if err := windows.GetDiskFreeSpaceEx(dir, &avail, &total, &free); err != nil {
		return 0, err
	}
	return avail, nil
}

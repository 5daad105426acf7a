//go:build !windows

package assets

import "golang.org/x/sys/unix"

// freeSpace returns the bytes available to unprivileged callers on the
// filesystem holding the cache directory.
func (s *store) freeSpace() (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(s.dir, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}

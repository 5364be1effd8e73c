//go:build linux || darwin

package tarfile

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

func mknod(path string, t EntryType, perm, major, minor uint32) error {
	var kind uint32
	switch t {
	case CharDevice:
		kind = unix.S_IFCHR
	case BlockDevice:
		kind = unix.S_IFBLK
	case Fifo:
		kind = unix.S_IFIFO
	default:
		return errors.ErrUnsupported
	}
	return unix.Mknod(path, kind|perm, int(unix.Mkdev(major, minor)))
}

func lchown(path string, uid, gid int) error {
	return unix.Lchown(path, uid, gid)
}

func lsetxattr(path, name string, value []byte) error {
	return unix.Lsetxattr(path, name, value, 0)
}

// lchtimes sets the mtime of a symlink itself rather than its target.
func lchtimes(path string, mtime time.Time) error {
	ts := unix.NsecToTimespec(mtime.UnixNano())
	return unix.UtimesNanoAt(unix.AT_FDCWD, path, []unix.Timespec{ts, ts}, unix.AT_SYMLINK_NOFOLLOW)
}

// isUnsupported reports failures that mean the host or the current user
// cannot perform an operation at all.
func isUnsupported(err error) bool {
	return errors.Is(err, unix.EPERM) ||
		errors.Is(err, unix.ENOTSUP) ||
		errors.Is(err, unix.EOPNOTSUPP) ||
		errors.Is(err, errors.ErrUnsupported)
}

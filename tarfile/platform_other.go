//go:build !linux && !darwin

package tarfile

import (
	"errors"
	"os"
	"time"
)

func mknod(string, EntryType, uint32, uint32, uint32) error {
	return errors.ErrUnsupported
}

func lchown(path string, uid, gid int) error {
	return os.Lchown(path, uid, gid)
}

func lsetxattr(string, string, []byte) error {
	return errors.ErrUnsupported
}

func lchtimes(string, time.Time) error {
	return errors.ErrUnsupported
}

func isUnsupported(err error) bool {
	return errors.Is(err, errors.ErrUnsupported) || errors.Is(err, os.ErrPermission)
}

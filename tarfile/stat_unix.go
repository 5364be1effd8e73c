//go:build linux || darwin

package tarfile

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// statInfo carries the fields of a stat result that os.FileInfo does not.
type statInfo struct {
	uid, gid     uint64
	ino, dev     uint64
	nlink        uint64
	major, minor uint32
}

func sysStat(fi os.FileInfo) (statInfo, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return statInfo{}, false
	}
	rdev := uint64(st.Rdev)
	return statInfo{
		uid:   uint64(st.Uid),
		gid:   uint64(st.Gid),
		ino:   uint64(st.Ino),
		dev:   uint64(st.Dev),
		nlink: uint64(st.Nlink),
		major: unix.Major(rdev),
		minor: unix.Minor(rdev),
	}, true
}

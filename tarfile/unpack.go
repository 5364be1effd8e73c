package tarfile

import (
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Skipped records an entry that Unpack did not materialize.
type Skipped struct {
	Path   string
	Reason error // ErrPathTraversal, ErrExists or ErrUnsupportedEntry
}

// dirMeta is directory metadata applied once every entry is written, so that
// creating children does not disturb a directory's mtime or permissions.
type dirMeta struct {
	rel    string // cleaned entry path, slash separated
	path   string
	header Header
	xattrs map[string]string
}

// Unpack extracts every remaining entry into dst, creating it if needed.
// Entries that would escape dst, already exist with overwriting disabled, or
// cannot be represented on this host are skipped and reported; any other
// failure stops extraction.
func (a *Archive) Unpack(dst string) ([]Skipped, error) {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create destination %s", dst)
	}
	root, err := filepath.Abs(dst)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve destination %s", dst)
	}

	var (
		skipped []Skipped
		dirs    []dirMeta
	)
	for e, err := range a.Entries() {
		if err != nil {
			return skipped, err
		}
		reason, err := a.unpackEntry(root, e, &dirs)
		if err != nil {
			return skipped, errors.Wrapf(err, "unpack %s", e.Path())
		}
		if reason != nil {
			a.Logger.WithFields(logrus.Fields{"path": e.Path(), "reason": reason}).Debug("tarfile: skipped entry")
			skipped = append(skipped, Skipped{Path: e.Path(), Reason: reason})
		}
	}

	sortDeepestFirst(dirs)
	for _, d := range dirs {
		ok, err := a.stillDir(root, d)
		if err != nil {
			return skipped, err
		}
		if !ok {
			continue
		}
		if err := a.applyMeta(d.path, &d.header, d.xattrs); err != nil {
			return skipped, errors.Wrapf(err, "set metadata of %s", d.path)
		}
	}
	return skipped, nil
}

// sortDeepestFirst orders deferred directories so that a parent made
// read-only is handled after its children. Directories of equal depth keep
// reverse archive order.
func sortDeepestFirst(dirs []dirMeta) {
	slices.Reverse(dirs)
	sort.SliceStable(dirs, func(i, j int) bool {
		return strings.Count(dirs[i].rel, "/") > strings.Count(dirs[j].rel, "/")
	})
}

// stillDir reports whether d.path is still the directory created for d. A
// later entry may have replaced it, or one of its parents, with a symlink.
func (a *Archive) stillDir(root string, d dirMeta) (bool, error) {
	log := a.Logger.WithField("path", d.path)
	p, err := securejoin.SecureJoin(root, filepath.FromSlash(d.rel))
	if err != nil {
		return false, errors.Wrapf(err, "resolve %s", d.rel)
	}
	if p != d.path {
		log.WithField("resolved", p).Debug("tarfile: directory moved, metadata dropped")
		return false, nil
	}
	fi, err := os.Lstat(p)
	switch {
	case os.IsNotExist(err):
		log.Debug("tarfile: directory removed, metadata dropped")
		return false, nil
	case err != nil:
		return false, errors.Wrapf(err, "stat %s", p)
	case !fi.IsDir():
		log.WithField("mode", fi.Mode().String()).Debug("tarfile: directory replaced, metadata dropped")
		return false, nil
	}
	return true, nil
}

// cleanEntryPath strips leading slashes and "." components. Any ".."
// component is refused outright rather than resolved.
func cleanEntryPath(p string) (string, error) {
	var parts []string
	for _, c := range strings.Split(p, "/") {
		switch c {
		case "", ".":
			continue
		case "..":
			return "", ErrPathTraversal
		}
		parts = append(parts, c)
	}
	return strings.Join(parts, "/"), nil
}

// unpackEntry materializes one entry. A non-nil reason means the entry was
// skipped; a non-nil error aborts the whole extraction.
func (a *Archive) unpackEntry(root string, e *Entry, dirs *[]dirMeta) (reason, err error) {
	rel, err := cleanEntryPath(e.Path())
	if err != nil {
		return err, nil
	}
	if rel == "" {
		return nil, nil
	}

	parent, err := securejoin.SecureJoin(root, filepath.Dir(filepath.FromSlash(rel)))
	if err != nil {
		return nil, errors.Wrap(err, "resolve parent directory")
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create parent directory %s", parent)
	}
	target := filepath.Join(parent, filepath.Base(rel))
	h := e.header

	if fi, err := os.Lstat(target); err == nil {
		switch {
		case h.Type == Directory && fi.IsDir():
			// Existing directories are merged.
		case !a.Overwrite:
			return ErrExists, nil
		case fi.IsDir():
			// Only an empty directory is replaced; its contents are never
			// deleted on behalf of an archive entry.
			if err := os.Remove(target); err != nil {
				if children, rerr := os.ReadDir(target); rerr == nil && len(children) > 0 {
					return ErrExists, nil
				}
				return nil, errors.Wrapf(err, "remove %s", target)
			}
		default:
			if err := os.Remove(target); err != nil {
				return nil, errors.Wrapf(err, "remove %s", target)
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "stat %s", target)
	}

	switch h.Type {
	case Regular, Continuous:
		if err := writeFile(target, e, nil, 0); err != nil {
			return nil, err
		}
	case GNUSparse:
		if err := writeFile(target, e, h.Sparse, h.FileSize()); err != nil {
			return nil, err
		}
	case Directory:
		if err := os.MkdirAll(target, 0o755); err != nil {
			return nil, errors.Wrapf(err, "mkdir %s", target)
		}
		*dirs = append(*dirs, dirMeta{rel: rel, path: target, header: h, xattrs: e.Xattrs})
		return nil, nil
	case Symlink:
		if err := os.Symlink(e.LinkName(), target); err != nil {
			return nil, errors.Wrapf(err, "symlink %s", target)
		}
	case HardLink:
		linkRel, err := cleanEntryPath(e.LinkName())
		if err != nil {
			return err, nil
		}
		src, err := securejoin.SecureJoin(root, filepath.FromSlash(linkRel))
		if err != nil {
			return nil, errors.Wrap(err, "resolve link target")
		}
		if err := os.Link(src, target); err != nil {
			return nil, errors.Wrapf(err, "link %s", target)
		}
	case CharDevice, BlockDevice, Fifo:
		if err := mknod(target, h.Type, h.Mode&0o7777, h.DevMajor, h.DevMinor); err != nil {
			if isUnsupported(err) {
				return ErrUnsupportedEntry, nil
			}
			return nil, errors.Wrapf(err, "mknod %s", target)
		}
	case GNULongName, GNULongLink, PaxHeader, PaxGlobalHeader:
		return ErrUnsupportedEntry, nil
	}

	if h.Type == HardLink {
		// The link shares the target's inode and metadata.
		return nil, nil
	}
	return nil, a.applyMeta(target, &h, e.Xattrs)
}

// writeFile copies an entry body into a new file. For sparse entries the
// body holds the data regions back to back; they are written at their
// offsets and the file is extended to its logical size.
func writeFile(target string, body io.Reader, sparse []SparseEntry, realSize uint64) (err error) {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return errors.Wrapf(err, "create %s", target)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", target)
		}
	}()

	if sparse == nil {
		if _, err := io.Copy(f, body); err != nil {
			return errors.Wrapf(err, "write %s", target)
		}
		return nil
	}
	for _, s := range sparse {
		if _, err := f.Seek(int64(s.Offset), io.SeekStart); err != nil {
			return errors.Wrapf(err, "seek %s", target)
		}
		if _, err := io.CopyN(f, body, int64(s.NumBytes)); err != nil {
			return errors.Wrapf(noEOF(err), "write %s", target)
		}
	}
	if err := f.Truncate(int64(realSize)); err != nil {
		return errors.Wrapf(err, "truncate %s", target)
	}
	return nil
}

// applyMeta restores ownership, permissions, xattrs and mtime. Only the
// chmod can fail the extraction; the rest depend on privileges or
// filesystem support and are logged and dropped.
func (a *Archive) applyMeta(target string, h *Header, xattrs map[string]string) error {
	symlink := h.Type == Symlink
	log := a.Logger.WithField("path", target)

	if a.PreserveOwnership {
		if err := lchown(target, int(h.UID), int(h.GID)); err != nil {
			log.WithField("error", err).Debug("tarfile: chown failed")
		}
	}
	if !symlink {
		if err := os.Chmod(target, a.fileMode(h.Mode)); err != nil {
			return errors.Wrapf(err, "chmod %s", target)
		}
	}
	if a.UnpackXattrs && len(xattrs) > 0 {
		keys := make([]string, 0, len(xattrs))
		for k := range xattrs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := lsetxattr(target, k, []byte(xattrs[k])); err != nil {
				log.WithFields(logrus.Fields{"xattr": k, "error": err}).Debug("tarfile: setxattr failed")
			}
		}
	}
	if a.PreserveMtime {
		mtime := h.ModTime()
		var err error
		if symlink {
			err = lchtimes(target, mtime)
		} else {
			err = os.Chtimes(target, mtime, mtime)
		}
		if err != nil {
			log.WithField("error", err).Debug("tarfile: set mtime failed")
		}
	}
	return nil
}

// fileMode converts header permission bits into an os.FileMode after
// applying the preserve-permissions policy and the mask.
func (a *Archive) fileMode(mode uint32) os.FileMode {
	perm := mode & 0o777
	if a.PreservePermissions {
		perm = mode & 0o7777
	}
	perm &^= a.Mask

	fm := os.FileMode(perm & 0o777)
	if perm&0o4000 != 0 {
		fm |= os.ModeSetuid
	}
	if perm&0o2000 != 0 {
		fm |= os.ModeSetgid
	}
	if perm&0o1000 != 0 {
		fm |= os.ModeSticky
	}
	return fm
}

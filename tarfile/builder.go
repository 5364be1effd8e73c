package tarfile

import (
	"bytes"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Builder writes a tar stream sequentially. Nothing already written is ever
// revisited, so a Builder works on any io.Writer.
type Builder struct {
	Logger logrus.FieldLogger

	fs             afero.Fs
	format         Format
	compression    Compression
	level          int
	followSymlinks bool

	w        io.Writer // tar bytes go here, through enc when compressing
	enc      io.WriteCloser
	file     *os.File
	buf      *bytes.Buffer
	inodes   map[[2]uint64]string
	offset   int64
	finished bool
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithCompression wraps the output in the given envelope.
func WithCompression(c Compression) BuilderOption {
	return func(b *Builder) { b.compression = c }
}

// WithCompressionLevel sets the encoder level. Values below 1 select the
// encoder's default.
func WithCompressionLevel(level int) BuilderOption {
	return func(b *Builder) { b.level = level }
}

// WithFormat selects the header dialect for headers the Builder synthesizes.
func WithFormat(f Format) BuilderOption {
	return func(b *Builder) { b.format = f }
}

// WithFs sets the filesystem AppendFile and AppendDirAll read from.
func WithFs(fs afero.Fs) BuilderOption {
	return func(b *Builder) { b.fs = fs }
}

// WithFollowSymlinks archives the targets of symlinks instead of the links.
func WithFollowSymlinks(on bool) BuilderOption {
	return func(b *Builder) { b.followSymlinks = on }
}

// WithBuilderLogger sets the logger used for debug output.
func WithBuilderLogger(l logrus.FieldLogger) BuilderOption {
	return func(b *Builder) { b.Logger = l }
}

// NewBuilder returns a Builder writing to w. The caller owns w; Finish
// flushes the compressor but does not close w.
func NewBuilder(w io.Writer, opts ...BuilderOption) (*Builder, error) {
	b := &Builder{
		Logger:      logrus.StandardLogger(),
		fs:          afero.NewOsFs(),
		format:      FormatGNU,
		compression: Uncompressed,
		level:       DefaultCompressionLevel,
		inodes:      make(map[[2]uint64]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	enc, err := newEncoder(w, b.compression, b.level)
	if err != nil {
		return nil, err
	}
	b.enc = enc
	b.w = enc
	return b, nil
}

// CreateFile returns a Builder writing to a new file at path. Finish closes
// the file.
func CreateFile(path string, opts ...BuilderOption) (*Builder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "create archive %s", path)
	}
	b, err := NewBuilder(f, opts...)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	b.file = f
	return b, nil
}

// NewBufferBuilder returns a Builder writing to memory. Finish returns the
// archive bytes.
func NewBufferBuilder(opts ...BuilderOption) (*Builder, error) {
	buf := new(bytes.Buffer)
	b, err := NewBuilder(buf, opts...)
	if err != nil {
		return nil, err
	}
	b.buf = buf
	return b, nil
}

// Append writes h followed by Size bytes read from body and the padding to
// the next block. The header is encoded before anything is written, so a
// name or number that does not fit leaves the output untouched.
func (b *Builder) Append(h *Header, body io.Reader) error {
	if b.finished {
		return ErrBuilderFinished
	}
	// Header-only types are written with size 0 so readers that honor the
	// field stay in sync.
	enc := h
	if !hasBody(h.Type) && h.Size != 0 {
		c := *h
		c.Size = 0
		enc = &c
	}
	block, err := enc.Encode()
	if err != nil {
		return err
	}
	size := int64(enc.Size)
	if size > 0 && body == nil {
		return errors.Errorf("tarfile: no body for %s of size %d", h.Name, size)
	}

	if err := b.write(block); err != nil {
		return err
	}
	if h.Type == GNUSparse && len(h.Sparse) > sparseEntries {
		ext, err := encodeSparseExt(h.Sparse[sparseEntries:])
		if err != nil {
			return err
		}
		if err := b.write(ext); err != nil {
			return err
		}
	}
	if size > 0 {
		n, err := io.CopyN(b.w, body, size)
		b.offset += n
		if err != nil {
			return errors.Wrapf(noEOF(err), "write body of %s", h.Name)
		}
		if err := b.write(make([]byte, blockPadding(size))); err != nil {
			return err
		}
	}
	b.Logger.WithFields(logrus.Fields{"name": h.Name, "type": h.Type.String(), "size": size}).Debug("tarfile: appended entry")
	return nil
}

// AppendData writes a regular file named name holding data, with mode 0644.
// A name ending in "/" with no data is written as a directory instead.
func (b *Builder) AppendData(name string, data []byte) error {
	h := NewHeader(name)
	h.Format = b.format
	if strings.HasSuffix(name, "/") && len(data) == 0 {
		h.Type = Directory
		h.Mode = 0o755
	}
	h.Size = uint64(len(data))
	return b.Append(h, bytes.NewReader(data))
}

// AppendLongName writes a GNU long name record. It applies to the next
// entry appended.
func (b *Builder) AppendLongName(name string) error {
	return b.appendLongLink(GNULongName, name)
}

// AppendLongLink writes a GNU long link record for the next entry.
func (b *Builder) AppendLongLink(target string) error {
	return b.appendLongLink(GNULongLink, target)
}

func (b *Builder) appendLongLink(t EntryType, value string) error {
	data := append([]byte(value), NUL)
	h := &Header{
		Name:   gnuLongLinkName,
		Type:   t,
		Size:   uint64(len(data)),
		Format: FormatGNU,
	}
	return b.Append(h, bytes.NewReader(data))
}

// AppendPAX writes a pax extended header. Local records apply to the next
// entry; global records apply to every entry after them.
func (b *Builder) AppendPAX(records map[string]string, global bool) error {
	data := formatPAX(records)
	t := PaxHeader
	if global {
		t = PaxGlobalHeader
	}
	h := &Header{
		Name:   paxHeaderName,
		Mode:   0o644,
		Type:   t,
		Size:   uint64(len(data)),
		Format: FormatUstar,
	}
	return b.Append(h, bytes.NewReader(data))
}

// AppendFile writes the file at path (read through the Builder's
// filesystem) under the archive name name.
func (b *Builder) AppendFile(name, path string) error {
	if b.finished {
		return ErrBuilderFinished
	}
	fi, err := b.stat(path)
	if err != nil {
		return err
	}
	return b.appendInfo(name, path, fi)
}

// AppendDirAll writes the directory tree at path under the archive name
// name, visiting entries in lexical order. Entries of unsupported types,
// such as sockets, are skipped.
func (b *Builder) AppendDirAll(name, root string) error {
	if b.finished {
		return ErrBuilderFinished
	}
	return afero.Walk(b.fs, root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.Wrapf(err, "walk %s", p)
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return errors.Wrapf(err, "walk %s", p)
		}
		arc := path.Join(name, filepath.ToSlash(rel))
		if rel == "." && (name == "" || name == ".") {
			return nil
		}
		if b.isOutput(p) {
			b.Logger.WithField("path", p).Debug("tarfile: skipping the archive being written")
			return nil
		}
		if b.followSymlinks && fi.Mode()&os.ModeSymlink != 0 {
			if fi, err = b.fs.Stat(p); err != nil {
				return errors.Wrapf(err, "stat %s", p)
			}
		}
		err = b.appendInfo(arc, p, fi)
		if errors.Is(err, ErrUnsupportedEntry) {
			b.Logger.WithField("path", p).Debug("tarfile: skipping unsupported file type")
			return nil
		}
		return err
	})
}

// isOutput reports whether p names the file created by CreateFile.
func (b *Builder) isOutput(p string) bool {
	if b.file == nil {
		return false
	}
	out, err := filepath.Abs(b.file.Name())
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(p)
	return err == nil && abs == out
}

func (b *Builder) stat(p string) (os.FileInfo, error) {
	if !b.followSymlinks {
		if l, ok := b.fs.(afero.Lstater); ok {
			fi, _, err := l.LstatIfPossible(p)
			if err != nil {
				return nil, errors.Wrapf(err, "lstat %s", p)
			}
			return fi, nil
		}
	}
	fi, err := b.fs.Stat(p)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", p)
	}
	return fi, nil
}

// appendInfo synthesizes a header from fi and writes it with the file's
// contents when it has any.
func (b *Builder) appendInfo(name, p string, fi os.FileInfo) error {
	h, err := b.headerFromInfo(name, p, fi)
	if err != nil {
		return err
	}
	if h.Type != Regular {
		return b.Append(h, nil)
	}
	f, err := b.fs.Open(p)
	if err != nil {
		return errors.Wrapf(err, "open %s", p)
	}
	defer f.Close()
	return b.Append(h, f)
}

func (b *Builder) headerFromInfo(name, p string, fi os.FileInfo) (*Header, error) {
	name = strings.TrimPrefix(filepath.ToSlash(name), "/")
	h := &Header{
		Name:   name,
		Mode:   headerMode(fi.Mode()),
		Format: b.format,
	}
	if mt := fi.ModTime().Unix(); mt > 0 {
		h.Mtime = uint64(mt)
	}
	st, hasStat := sysStat(fi)
	if hasStat {
		h.UID, h.GID = st.uid, st.gid
	}

	mode := fi.Mode()
	switch {
	case mode.IsRegular():
		h.Type = Regular
		h.Size = uint64(fi.Size())
		if hasStat && st.nlink > 1 && st.ino != 0 {
			key := [2]uint64{st.ino, st.dev}
			if first, ok := b.inodes[key]; ok && first != name {
				h.Type = HardLink
				h.Linkname = first
				h.Size = 0
			} else {
				b.inodes[key] = name
			}
		}
	case mode.IsDir():
		h.Type = Directory
		if !strings.HasSuffix(h.Name, "/") {
			h.Name += "/"
		}
	case mode&os.ModeSymlink != 0:
		h.Type = Symlink
		lr, ok := b.fs.(afero.LinkReader)
		if !ok {
			return nil, errors.Wrapf(ErrUnsupportedEntry, "read link %s", p)
		}
		target, err := lr.ReadlinkIfPossible(p)
		if err != nil {
			return nil, errors.Wrapf(err, "read link %s", p)
		}
		h.Linkname = target
	case mode&os.ModeNamedPipe != 0:
		h.Type = Fifo
	case mode&os.ModeDevice != 0:
		h.Type = BlockDevice
		if mode&os.ModeCharDevice != 0 {
			h.Type = CharDevice
		}
		h.DevMajor, h.DevMinor = st.major, st.minor
	default:
		return nil, errors.Wrapf(ErrUnsupportedEntry, "%s has mode %s", p, mode)
	}
	return h, nil
}

// headerMode converts an os.FileMode to the permission bits stored in a
// header.
func headerMode(m os.FileMode) uint32 {
	mode := uint32(m.Perm())
	if m&os.ModeSetuid != 0 {
		mode |= 0o4000
	}
	if m&os.ModeSetgid != 0 {
		mode |= 0o2000
	}
	if m&os.ModeSticky != 0 {
		mode |= 0o1000
	}
	return mode
}

func (b *Builder) write(p []byte) error {
	n, err := b.w.Write(p)
	b.offset += int64(n)
	if err != nil {
		return errors.Wrap(err, "write archive")
	}
	return nil
}

// Finish writes the two zero blocks that end an archive, flushes the
// compressor and closes a file created by CreateFile. For a Builder from
// NewBufferBuilder it returns the archive bytes. The Builder cannot be used
// afterwards.
func (b *Builder) Finish() ([]byte, error) {
	if b.finished {
		return nil, ErrBuilderFinished
	}
	b.finished = true

	var result *multierror.Error
	if err := b.write(make([]byte, 2*BLOCKSIZE)); err != nil {
		result = multierror.Append(result, err)
	}
	if err := b.enc.Close(); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "close compressor"))
	}
	if b.file != nil {
		if err := b.file.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "close archive"))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	b.Logger.WithField("bytes", b.offset).Debug("tarfile: finished archive")
	if b.buf != nil {
		return b.buf.Bytes(), nil
	}
	return nil, nil
}

package tarfile

import (
	"io"
	"iter"
	"math"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Archive reads entries from a tar stream, optionally wrapped in a
// compression envelope. Entries are produced strictly in order and the
// stream cannot be rewound.
type Archive struct {
	Mask                uint32 // Permission bits cleared on unpack, like umask
	UnpackXattrs        bool   // Restore SCHILY.xattr records on unpack
	PreservePermissions bool   // Keep setuid, setgid and sticky bits on unpack
	PreserveOwnership   bool   // Restore uid and gid on unpack
	Overwrite           bool   // Replace existing files on unpack
	PreserveMtime       bool   // Restore modification times on unpack
	IgnoreZeros         bool   // Skip zero blocks instead of stopping
	SkipCorrupt         bool   // Skip blocks that fail to decode
	Logger              logrus.FieldLogger

	src     Source
	s       *stream
	offset  int64
	gen     uint64
	body    int64 // unread body bytes of the current entry
	padding int64 // padding after the current body
	globals map[string]string
	done    bool
	closed  bool
}

// ArchiveOption configures an Archive.
type ArchiveOption func(*Archive)

// WithMask sets the permission mask applied on unpack.
func WithMask(mask uint32) ArchiveOption {
	return func(a *Archive) { a.Mask = mask }
}

// WithUnpackXattrs enables restoring extended attributes.
func WithUnpackXattrs(on bool) ArchiveOption {
	return func(a *Archive) { a.UnpackXattrs = on }
}

// WithPreservePermissions keeps setuid, setgid and sticky bits.
func WithPreservePermissions(on bool) ArchiveOption {
	return func(a *Archive) { a.PreservePermissions = on }
}

// WithPreserveOwnership restores numeric uid and gid.
func WithPreserveOwnership(on bool) ArchiveOption {
	return func(a *Archive) { a.PreserveOwnership = on }
}

// WithOverwrite controls whether existing files are replaced.
func WithOverwrite(on bool) ArchiveOption {
	return func(a *Archive) { a.Overwrite = on }
}

// WithPreserveMtime controls whether modification times are restored.
func WithPreserveMtime(on bool) ArchiveOption {
	return func(a *Archive) { a.PreserveMtime = on }
}

// WithIgnoreZeros skips zero blocks, which allows reading concatenated
// archives.
func WithIgnoreZeros(on bool) ArchiveOption {
	return func(a *Archive) { a.IgnoreZeros = on }
}

// WithSkipCorrupt skips header blocks that fail to decode instead of
// returning an error.
func WithSkipCorrupt(on bool) ArchiveOption {
	return func(a *Archive) { a.SkipCorrupt = on }
}

// WithLogger sets the logger used for debug output.
func WithLogger(l logrus.FieldLogger) ArchiveOption {
	return func(a *Archive) { a.Logger = l }
}

// Open opens src, detects its compression and prepares to read entries.
func Open(src Source, opts ...ArchiveOption) (*Archive, error) {
	a := &Archive{
		Overwrite:     true,
		PreserveMtime: true,
		Logger:        logrus.StandardLogger(),
		src:           src,
		globals:       make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	s, err := openStream(src)
	if err != nil {
		return nil, err
	}
	a.s = s
	a.Logger.WithFields(logrus.Fields{
		"source":      src.Name(),
		"compression": s.compression.String(),
	}).Debug("tarfile: opened archive")
	return a, nil
}

// OpenFile opens the archive stored in the named file.
func OpenFile(path string, opts ...ArchiveOption) (*Archive, error) {
	return Open(PathSource(path), opts...)
}

// OpenBytes opens an archive held in memory.
func OpenBytes(data []byte, opts ...ArchiveOption) (*Archive, error) {
	return Open(BytesSource(data), opts...)
}

// NewArchive opens an archive read from r.
func NewArchive(r io.Reader, opts ...ArchiveOption) (*Archive, error) {
	return Open(ReaderSource(r, ""), opts...)
}

// Compression returns the envelope detected on the source.
func (a *Archive) Compression() Compression {
	return a.s.compression
}

// Close releases the source. Entries obtained earlier become unreadable.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.gen++
	return a.s.Close()
}

// Entries returns an iterator over the remaining entries. Iteration stops
// after the first error.
func (a *Archive) Entries() iter.Seq2[*Entry, error] {
	return func(yield func(*Entry, error) bool) {
		for {
			e, err := a.Next()
			if err == io.EOF {
				return
			}
			if !yield(e, err) || err != nil {
				return
			}
		}
	}
}

// Next advances to the next entry, discarding whatever is left of the
// previous entry's body. It returns io.EOF at the end of the archive.
func (a *Archive) Next() (*Entry, error) {
	if a.closed {
		return nil, errors.New("tarfile: archive is closed")
	}
	if a.done {
		return nil, io.EOF
	}
	a.gen++
	e, err := a.next()
	if err != nil {
		a.done = true
		return nil, err
	}
	return e, nil
}

// pending collects extension records that apply to the next real entry.
type pending struct {
	longName *string
	longLink *string
	local    map[string]string
}

func (p *pending) empty() bool {
	return p.longName == nil && p.longLink == nil && p.local == nil
}

func (a *Archive) next() (*Entry, error) {
	if err := a.skip(a.body + a.padding); err != nil {
		return nil, err
	}
	a.body, a.padding = 0, 0

	var ext pending
	block := make([]byte, BLOCKSIZE)
	for {
		offset := a.offset
		if err := a.readFull(block); err != nil {
			if err == io.EOF {
				if !ext.empty() {
					return nil, errors.Wrap(io.ErrUnexpectedEOF, "tarfile: archive ends after extension header")
				}
				return nil, io.EOF
			}
			return nil, errors.Wrapf(err, "tarfile: read header at offset %d", offset)
		}

		h, extended, err := decodeHeader(block, offset)
		if err == ErrZeroBlock {
			if a.IgnoreZeros {
				a.Logger.WithField("offset", offset).Debug("tarfile: skipping zero block")
				continue
			}
			if !ext.empty() {
				return nil, NewCorruptHeaderError(offset, "end of archive after extension header")
			}
			return nil, io.EOF
		}
		if err != nil {
			if a.SkipCorrupt {
				a.Logger.WithFields(logrus.Fields{"offset": offset, "error": err}).Debug("tarfile: skipping corrupt block")
				continue
			}
			return nil, err
		}
		if h.Size > math.MaxInt64-BLOCKSIZE {
			return nil, NewCorruptHeaderError(offset, "size out of range")
		}
		if h.Type.IsExtension() {
			a.Logger.WithFields(logrus.Fields{"offset": offset, "type": h.Type.String()}).Debug("tarfile: extension record")
		}

		switch h.Type {
		case GNULongName, GNULongLink:
			data, err := a.readSpecial(h, offset)
			if err != nil {
				return nil, err
			}
			name := strings.TrimRight(string(data), "\x00")
			slot := &ext.longName
			if h.Type == GNULongLink {
				slot = &ext.longLink
			}
			if *slot != nil {
				return nil, NewCorruptHeaderError(offset, "duplicate "+h.Type.String()+" record")
			}
			*slot = &name
			continue
		case PaxHeader:
			data, err := a.readSpecial(h, offset)
			if err != nil {
				return nil, err
			}
			if ext.local != nil {
				return nil, NewCorruptHeaderError(offset, "duplicate pax header")
			}
			if ext.local, err = parsePAX(data); err != nil {
				return nil, NewCorruptHeaderError(offset, err.Error())
			}
			continue
		case PaxGlobalHeader:
			data, err := a.readSpecial(h, offset)
			if err != nil {
				return nil, err
			}
			records, err := parsePAX(data)
			if err != nil {
				return nil, NewCorruptHeaderError(offset, err.Error())
			}
			for k, v := range records {
				if v == "" {
					delete(a.globals, k)
				} else {
					a.globals[k] = v
				}
			}
			continue
		case GNUSparse:
			for extended {
				if err := a.readFull(block); err != nil {
					return nil, errors.Wrap(noEOF(err), "tarfile: read sparse continuation")
				}
				more, next, err := decodeSparseExt(block)
				if err != nil {
					return nil, NewCorruptHeaderError(offset, err.Error())
				}
				h.Sparse = append(h.Sparse, more...)
				extended = next
			}
		case Regular, HardLink, Symlink, CharDevice, BlockDevice, Directory, Fifo, Continuous:
		}

		return a.newEntry(h, &ext, offset)
	}
}

// newEntry applies pending extension records to h and binds the result to
// the stream.
func (a *Archive) newEntry(h *Header, ext *pending, offset int64) (*Entry, error) {
	e := &Entry{
		raw:        h,
		header:     *h,
		a:          a,
		gen:        a.gen,
		Offset:     offset,
		OffsetData: a.offset,
	}
	e.header.Sparse = append([]SparseEntry(nil), h.Sparse...)

	if len(a.globals) > 0 || ext.local != nil {
		merged := make(map[string]string, len(a.globals)+len(ext.local))
		for k, v := range a.globals {
			merged[k] = v
		}
		for k, v := range ext.local {
			merged[k] = v
		}
		p := paxOverrides{records: merged}
		if err := p.apply(&e.header); err != nil {
			return nil, NewCorruptHeaderError(offset, err.Error())
		}
		e.PAXRecords = merged
		e.Xattrs = p.xattrs()
	}
	if ext.longName != nil {
		e.header.Name = *ext.longName
	}
	if ext.longLink != nil {
		e.header.Linkname = *ext.longLink
	}
	if e.header.Size > math.MaxInt64-BLOCKSIZE {
		return nil, NewCorruptHeaderError(offset, "size out of range")
	}

	if hasBody(e.header.Type) {
		a.body = int64(e.header.Size)
		a.padding = blockPadding(a.body)
	}
	return e, nil
}

// readSpecial reads the body of an extension record.
func (a *Archive) readSpecial(h *Header, offset int64) ([]byte, error) {
	if h.Size > maxSpecialFileSize {
		return nil, NewCorruptHeaderError(offset, h.Type.String()+" record too large")
	}
	size := int64(h.Size)
	data := make([]byte, size+blockPadding(size))
	if err := a.readFull(data); err != nil {
		return nil, errors.Wrapf(noEOF(err), "tarfile: read %s record", h.Type)
	}
	return data[:size], nil
}

// readFull fills buf from the stream. It returns io.EOF only if nothing was
// read.
func (a *Archive) readFull(buf []byte) error {
	n, err := io.ReadFull(a.s, buf)
	a.offset += int64(n)
	return err
}

// skip discards n bytes of the stream.
func (a *Archive) skip(n int64) error {
	if n == 0 {
		return nil
	}
	copied, err := io.CopyN(io.Discard, a.s, n)
	a.offset += copied
	if err != nil {
		return errors.Wrap(noEOF(err), "tarfile: skip entry body")
	}
	return nil
}

// readBody serves Entry.Read for the entry of generation gen.
func (a *Archive) readBody(gen uint64, p []byte) (int, error) {
	if gen != a.gen {
		return 0, ErrEntryInvalidated
	}
	if a.body == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > a.body {
		p = p[:a.body]
	}
	n, err := a.s.Read(p)
	a.body -= int64(n)
	a.offset += int64(n)
	if err == io.EOF {
		if a.body > 0 {
			return n, io.ErrUnexpectedEOF
		}
		if n > 0 {
			err = nil
		}
	}
	return n, err
}

func noEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

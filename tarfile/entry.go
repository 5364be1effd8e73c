package tarfile

import (
	"io"
)

// Entry is one member of an archive. Its body is read directly from the
// archive's stream, so an Entry is only readable until the next call to
// Archive.Next; after that every Read returns ErrEntryInvalidated.
type Entry struct {
	// PAXRecords holds the pax records (global defaults overlaid with local
	// records) that applied to this entry.
	PAXRecords map[string]string
	// Xattrs holds the SCHILY.xattr pax records with the prefix removed.
	Xattrs map[string]string

	Offset     int64 // Offset of the header block in the decompressed stream
	OffsetData int64 // Offset of the body

	header Header
	raw    *Header
	a      *Archive
	gen    uint64
}

// Path returns the entry's path after GNU long names and pax records have
// been applied. Prefer it over RawHeader().Name.
func (e *Entry) Path() string { return e.header.Name }

// LinkName returns the effective link target, or "" for non-links.
func (e *Entry) LinkName() string { return e.header.Linkname }

// Type returns the entry's type.
func (e *Entry) Type() EntryType { return e.header.Type }

// Size returns the number of body bytes readable from the entry.
func (e *Entry) Size() int64 {
	if !hasBody(e.header.Type) {
		return 0
	}
	return int64(e.header.Size)
}

// Header returns a copy of the effective header.
func (e *Entry) Header() *Header {
	h := e.header
	h.Sparse = append([]SparseEntry(nil), e.header.Sparse...)
	return &h
}

// RawHeader returns a copy of the header block exactly as decoded, before
// extension records were applied.
func (e *Entry) RawHeader() *Header {
	h := *e.raw
	h.Sparse = append([]SparseEntry(nil), e.raw.Sparse...)
	return &h
}

// Read reads from the entry body. It returns io.EOF at the end of the body.
func (e *Entry) Read(p []byte) (int, error) {
	return e.a.readBody(e.gen, p)
}

// Discard consumes the rest of the body.
func (e *Entry) Discard() error {
	_, err := io.Copy(io.Discard, e)
	return err
}

// hasBody reports whether entries of type t carry data after the header.
// Links, directories and special files never do, whatever their size field
// says.
func hasBody(t EntryType) bool {
	switch t {
	case Regular, Continuous, GNUSparse, GNULongName, GNULongLink, PaxHeader, PaxGlobalHeader:
		return true
	case HardLink, Symlink, CharDevice, BlockDevice, Directory, Fifo:
		return false
	}
	return true
}

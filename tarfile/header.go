package tarfile

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// SparseEntry is one data region of a GNU sparse file.
type SparseEntry struct {
	Offset   uint64
	NumBytes uint64
}

// Header is the decoded form of a single 512 byte tar header block.
type Header struct {
	Name     string    // Path, including the ustar prefix when present
	Linkname string    // Target of hard and symbolic links
	Mode     uint32    // Permission and mode bits
	UID      uint64    // User ID of owner
	GID      uint64    // Group ID of owner
	Size     uint64    // Bytes of body data stored in the archive
	Mtime    uint64    // Modification time in seconds since the epoch
	Chksum   uint32    // Header checksum, filled in by Decode and Encode
	Type     EntryType // Kind of member
	Uname    string    // User name of owner (ustar and GNU only)
	Gname    string    // Group name of owner (ustar and GNU only)
	DevMajor uint32    // Major device number (ustar and GNU only)
	DevMinor uint32    // Minor device number (ustar and GNU only)
	Format   Format    // Dialect

	// GNU sparse files only.
	RealSize uint64
	Sparse   []SparseEntry
}

// NewHeader returns a GNU dialect header for a regular file with the
// defaults used by Builder.AppendData.
func NewHeader(name string) *Header {
	return &Header{
		Name:   name,
		Mode:   0644,
		Type:   Regular,
		Format: FormatGNU,
	}
}

// String returns a short description of the header.
func (h *Header) String() string {
	return fmt.Sprintf("<Header %s %q size=%d>", h.Type, h.Name, h.Size)
}

// ModTime returns Mtime as a time.Time.
func (h *Header) ModTime() time.Time {
	return time.Unix(int64(h.Mtime), 0)
}

// EntrySize returns the number of body bytes this header occupies in the
// archive, excluding padding.
func (h *Header) EntrySize() uint64 {
	return h.Size
}

// FileSize returns the logical length of the file. It differs from EntrySize
// only for sparse files.
func (h *Header) FileSize() uint64 {
	if h.Type == GNUSparse && h.RealSize > 0 {
		return h.RealSize
	}
	return h.Size
}

// HasDevice reports whether the dialect carries device numbers.
func (h *Header) HasDevice() bool {
	return h.Format != FormatV7
}

// IsRegular reports whether the header describes file data.
func (h *Header) IsRegular() bool {
	return h.Type == Regular || h.Type == Continuous || h.Type == GNUSparse
}

// IsDir reports whether the header describes a directory.
func (h *Header) IsDir() bool { return h.Type == Directory }

// IsSymlink reports whether the header describes a symbolic link.
func (h *Header) IsSymlink() bool { return h.Type == Symlink }

// IsHardLink reports whether the header describes a hard link.
func (h *Header) IsHardLink() bool { return h.Type == HardLink }

// IsDevice reports whether the header describes a character, block or fifo
// special file.
func (h *Header) IsDevice() bool {
	return h.Type == CharDevice || h.Type == BlockDevice || h.Type == Fifo
}

// Checksum returns the unsigned header checksum of block, counting the
// checksum field itself as spaces.
func Checksum(block []byte) uint32 {
	unsigned, _ := calcChecksum(block)
	return uint32(unsigned)
}

// SetChecksum recomputes the checksum of an encoded block in place and
// records it in h.Chksum.
func (h *Header) SetChecksum(block []byte) {
	chksum, _ := calcChecksum(block)
	copy(block[offChksum:offTypeflag], fmt.Sprintf("%06o\x00 ", chksum))
	h.Chksum = uint32(chksum)
}

// Encode serializes h into a 512 byte block and records the computed checksum
// in h.Chksum. Names and numbers that do not fit the dialect's fields are
// rejected, never truncated.
func (h *Header) Encode() ([]byte, error) {
	buf := make([]byte, BLOCKSIZE)

	name, prefix, err := h.splitName()
	if err != nil {
		return nil, err
	}
	if len(h.Linkname) > LENGTH_LINK {
		return nil, NewNameTooLongError(h.Linkname, LENGTH_LINK)
	}
	stn(buf[offName:offMode], name)
	stn(buf[offLinkname:offMagic], h.Linkname)

	numbers := []struct {
		field string
		dst   []byte
		value uint64
	}{
		{"mode", buf[offMode:offUID], uint64(h.Mode)},
		{"uid", buf[offUID:offGID], h.UID},
		{"gid", buf[offGID:offSize], h.GID},
		{"size", buf[offSize:offMtime], h.Size},
		{"mtime", buf[offMtime:offChksum], h.Mtime},
	}
	for _, n := range numbers {
		if err := itn(n.dst, n.value, h.Format, n.field); err != nil {
			return nil, err
		}
	}
	buf[offTypeflag] = h.Type.Byte()

	switch h.Format {
	case FormatV7:
		if h.Uname != "" || h.Gname != "" || h.DevMajor != 0 || h.DevMinor != 0 {
			return nil, fmt.Errorf("tarfile: v7 header cannot carry owner names or device numbers")
		}
	case FormatUstar, FormatGNU:
		if h.Format == FormatUstar {
			copy(buf[offMagic:offUname], POSIX_MAGIC)
		} else {
			copy(buf[offMagic:offUname], GNU_MAGIC)
		}
		if len(h.Uname) > LENGTH_UNAME {
			return nil, NewNameTooLongError(h.Uname, LENGTH_UNAME)
		}
		if len(h.Gname) > LENGTH_UNAME {
			return nil, NewNameTooLongError(h.Gname, LENGTH_UNAME)
		}
		stn(buf[offUname:offGname], h.Uname)
		stn(buf[offGname:offDevMajor], h.Gname)
		if err := itn(buf[offDevMajor:offDevMinor], uint64(h.DevMajor), h.Format, "devmajor"); err != nil {
			return nil, err
		}
		if err := itn(buf[offDevMinor:offPrefix], uint64(h.DevMinor), h.Format, "devminor"); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("tarfile: invalid format %d", h.Format)
	}

	if h.Format == FormatUstar {
		stn(buf[offPrefix:offPrefix+LENGTH_PREFIX], prefix)
	}
	if h.Format == FormatGNU && h.Type == GNUSparse {
		if err := h.encodeSparse(buf); err != nil {
			return nil, err
		}
	}

	h.SetChecksum(buf)
	return buf, nil
}

// splitName returns the name and prefix fields for h.Name. Only ustar can
// split a long path; the other dialects need an explicit extension record.
func (h *Header) splitName() (name, prefix string, err error) {
	if len(h.Name) <= LENGTH_NAME {
		return h.Name, "", nil
	}
	if h.Format != FormatUstar {
		return "", "", NewNameTooLongError(h.Name, LENGTH_NAME)
	}
	components := strings.Split(h.Name, "/")
	for i := 1; i < len(components); i++ {
		prefix := strings.Join(components[:i], "/")
		rest := strings.Join(components[i:], "/")
		if rest != "" && len(prefix) <= LENGTH_PREFIX && len(rest) <= LENGTH_NAME {
			return rest, prefix, nil
		}
	}
	return "", "", NewNameTooLongError(h.Name, LENGTH_PREFIX+1+LENGTH_NAME)
}

func (h *Header) encodeSparse(buf []byte) error {
	for i, s := range h.Sparse {
		if i == sparseEntries {
			buf[offIsExtended] = 1
			break
		}
		pos := offSparse + i*24
		if err := itn(buf[pos:pos+12], s.Offset, FormatGNU, "sparse offset"); err != nil {
			return err
		}
		if err := itn(buf[pos+12:pos+24], s.NumBytes, FormatGNU, "sparse numbytes"); err != nil {
			return err
		}
	}
	return itn(buf[offRealSize:offRealSize+12], h.RealSize, FormatGNU, "realsize")
}

// encodeSparseExt returns the continuation blocks for sparse entries beyond
// the four that fit in the header itself.
func encodeSparseExt(entries []SparseEntry) ([]byte, error) {
	var out []byte
	for len(entries) > 0 {
		block := make([]byte, BLOCKSIZE)
		n := min(len(entries), sparseExtEntries)
		for i, s := range entries[:n] {
			pos := i * 24
			if err := itn(block[pos:pos+12], s.Offset, FormatGNU, "sparse offset"); err != nil {
				return nil, err
			}
			if err := itn(block[pos+12:pos+24], s.NumBytes, FormatGNU, "sparse numbytes"); err != nil {
				return nil, err
			}
		}
		entries = entries[n:]
		if len(entries) > 0 {
			block[offSparseExtFlag] = 1
		}
		out = append(out, block...)
	}
	return out, nil
}

// Decode parses a 512 byte header block. An all-zero block yields
// ErrZeroBlock; a checksum mismatch or malformed number yields a
// CorruptHeaderError.
func Decode(buf []byte) (*Header, error) {
	h, _, err := decodeHeader(buf, -1)
	return h, err
}

// decodeHeader is Decode that also reports whether GNU sparse continuation
// blocks follow.
func decodeHeader(buf []byte, offset int64) (*Header, bool, error) {
	if len(buf) != BLOCKSIZE {
		return nil, false, NewCorruptHeaderError(offset, fmt.Sprintf("block is %d bytes", len(buf)))
	}
	if isZeroBlock(buf) {
		return nil, false, ErrZeroBlock
	}

	stored, err := nti(buf[offChksum:offTypeflag])
	if err != nil {
		return nil, false, NewCorruptHeaderError(offset, "checksum field: "+err.Error())
	}
	unsigned, signed := calcChecksum(buf)
	if stored != unsigned && int64(stored) != signed {
		return nil, false, NewCorruptHeaderError(offset, fmt.Sprintf("bad checksum %o, computed %o", stored, unsigned))
	}

	h := &Header{
		Chksum:   uint32(stored),
		Name:     nts(buf[offName:offMode]),
		Linkname: nts(buf[offLinkname:offMagic]),
		Type:     entryTypeFromByte(buf[offTypeflag]),
	}

	magic := buf[offMagic:offUname]
	switch {
	case string(magic) == GNU_MAGIC:
		h.Format = FormatGNU
	case bytes.HasPrefix(magic, []byte("ustar\x00")):
		h.Format = FormatUstar
	default:
		h.Format = FormatV7
	}

	numbers := []struct {
		field string
		src   []byte
		dst   *uint64
	}{
		{"uid", buf[offUID:offGID], &h.UID},
		{"gid", buf[offGID:offSize], &h.GID},
		{"size", buf[offSize:offMtime], &h.Size},
		{"mtime", buf[offMtime:offChksum], &h.Mtime},
	}
	for _, n := range numbers {
		// Pre-epoch times are written as negative base-256 by GNU tar and
		// archive/tar; they clamp to the epoch like pax mtime records.
		if n.dst == &h.Mtime && n.src[0] == 0xFF {
			continue
		}
		v, err := nti(n.src)
		if err != nil {
			return nil, false, NewCorruptHeaderError(offset, n.field+" field: "+err.Error())
		}
		*n.dst = v
	}
	mode, err := parseUint32(buf[offMode:offUID], "mode")
	if err != nil {
		return nil, false, NewCorruptHeaderError(offset, err.Error())
	}
	h.Mode = mode

	if h.Format != FormatV7 {
		h.Uname = nts(buf[offUname:offGname])
		h.Gname = nts(buf[offGname:offDevMajor])
		if h.DevMajor, err = parseUint32(buf[offDevMajor:offDevMinor], "devmajor"); err != nil {
			return nil, false, NewCorruptHeaderError(offset, err.Error())
		}
		if h.DevMinor, err = parseUint32(buf[offDevMinor:offPrefix], "devminor"); err != nil {
			return nil, false, NewCorruptHeaderError(offset, err.Error())
		}
	}
	if h.Format == FormatUstar {
		if prefix := nts(buf[offPrefix : offPrefix+LENGTH_PREFIX]); prefix != "" {
			h.Name = prefix + "/" + h.Name
		}
	}

	if buf[offTypeflag] == AREGTYPE && strings.HasSuffix(h.Name, "/") {
		h.Type = Directory
	}

	extended := false
	if h.Type == GNUSparse && h.Format == FormatGNU {
		for i := 0; i < sparseEntries; i++ {
			pos := offSparse + i*24
			s, ok, err := parseSparseEntry(buf[pos : pos+24])
			if err != nil {
				return nil, false, NewCorruptHeaderError(offset, err.Error())
			}
			if !ok {
				break
			}
			h.Sparse = append(h.Sparse, s)
		}
		extended = buf[offIsExtended] != 0
		if h.RealSize, err = nti(buf[offRealSize : offRealSize+12]); err != nil {
			return nil, false, NewCorruptHeaderError(offset, "realsize field: "+err.Error())
		}
	}
	return h, extended, nil
}

// decodeSparseExt parses a GNU sparse continuation block, returning its
// entries and whether another continuation block follows.
func decodeSparseExt(block []byte) ([]SparseEntry, bool, error) {
	var entries []SparseEntry
	for i := 0; i < sparseExtEntries; i++ {
		s, ok, err := parseSparseEntry(block[i*24 : i*24+24])
		if err != nil {
			return nil, false, err
		}
		if !ok {
			break
		}
		entries = append(entries, s)
	}
	return entries, block[offSparseExtFlag] != 0, nil
}

func parseSparseEntry(b []byte) (SparseEntry, bool, error) {
	if isZeroBlock(b) {
		return SparseEntry{}, false, nil
	}
	off, err := nti(b[:12])
	if err != nil {
		return SparseEntry{}, false, fmt.Errorf("sparse offset: %v", err)
	}
	n, err := nti(b[12:24])
	if err != nil {
		return SparseEntry{}, false, fmt.Errorf("sparse numbytes: %v", err)
	}
	return SparseEntry{Offset: off, NumBytes: n}, true, nil
}

func parseUint32(b []byte, field string) (uint32, error) {
	v, err := nti(b)
	if err != nil {
		return 0, fmt.Errorf("%s field: %v", field, err)
	}
	if v > 1<<32-1 {
		return 0, fmt.Errorf("%s field: value %d exceeds 32 bits", field, v)
	}
	return uint32(v), nil
}

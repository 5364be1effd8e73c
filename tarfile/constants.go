package tarfile

const (
	NUL           = byte(0) // Null character
	BLOCKSIZE     = 512     // Length of header and padding blocks
	LENGTH_NAME   = 100     // Max length of name field
	LENGTH_LINK   = 100     // Max length of linkname field
	LENGTH_PREFIX = 155     // Max length of ustar prefix field
	LENGTH_UNAME  = 32      // Max length of uname/gname fields
	GNU_MAGIC     = "ustar  \x00"
	POSIX_MAGIC   = "ustar\x0000"

	// Type flag bytes as they appear on disk.
	REGTYPE          = '0'    // Regular file
	AREGTYPE         = '\x00' // Regular file (old format)
	LNKTYPE          = '1'    // Hard link
	SYMTYPE          = '2'    // Symbolic link
	CHRTYPE          = '3'    // Character device
	BLKTYPE          = '4'    // Block device
	DIRTYPE          = '5'    // Directory
	FIFOTYPE         = '6'    // FIFO
	CONTTYPE         = '7'    // Contiguous file
	GNUTYPE_LONGNAME = 'L'    // GNU long name
	GNUTYPE_LONGLINK = 'K'    // GNU long link
	GNUTYPE_SPARSE   = 'S'    // GNU sparse file
	XHDTYPE          = 'x'    // POSIX.1-2001 extended header
	XGLTYPE          = 'g'    // POSIX.1-2001 global header
	SOLARIS_XHDTYPE  = 'X'    // Solaris extended header

	// Name used by GNU tar for long name/link pseudo entries.
	gnuLongLinkName = "././@LongLink"
	// Name used for pax extended header pseudo entries.
	paxHeaderName = "././@PaxHeader"

	// Upper bound on the payload of a long name or pax record we are willing
	// to buffer in memory.
	maxSpecialFileSize = 1 << 20
)

// Header field offsets within a 512 byte block.
const (
	offName     = 0
	offMode     = 100
	offUID      = 108
	offGID      = 116
	offSize     = 124
	offMtime    = 136
	offChksum   = 148
	offTypeflag = 156
	offLinkname = 157
	offMagic    = 257
	offUname    = 265
	offGname    = 297
	offDevMajor = 329
	offDevMinor = 337
	offPrefix   = 345

	// GNU sparse layout.
	offSparse     = 386
	offIsExtended = 482
	offRealSize   = 483
	sparseEntries = 4
	// A continuation block holds 21 entries and its own extended flag.
	sparseExtEntries = 21
	offSparseExtFlag = 504
)

// Format is the header dialect a Header was decoded from or will be encoded as.
type Format int

const (
	FormatV7    Format = iota // classic, no magic
	FormatUstar               // POSIX.1-1988
	FormatGNU                 // GNU tar
)

func (f Format) String() string {
	switch f {
	case FormatV7:
		return "v7"
	case FormatUstar:
		return "ustar"
	case FormatGNU:
		return "gnu"
	}
	return "unknown"
}

// EntryType is the kind of member a header describes.
type EntryType int

const (
	Regular EntryType = iota
	HardLink
	Symlink
	CharDevice
	BlockDevice
	Directory
	Fifo
	Continuous
	GNULongName
	GNULongLink
	GNUSparse
	PaxGlobalHeader
	PaxHeader
)

// entryTypeFromByte maps an on-disk type flag onto EntryType. Unknown flags
// are read as regular files, like most tar readers do.
func entryTypeFromByte(b byte) EntryType {
	switch b {
	case REGTYPE, AREGTYPE:
		return Regular
	case LNKTYPE:
		return HardLink
	case SYMTYPE:
		return Symlink
	case CHRTYPE:
		return CharDevice
	case BLKTYPE:
		return BlockDevice
	case DIRTYPE:
		return Directory
	case FIFOTYPE:
		return Fifo
	case CONTTYPE:
		return Continuous
	case GNUTYPE_LONGNAME:
		return GNULongName
	case GNUTYPE_LONGLINK:
		return GNULongLink
	case GNUTYPE_SPARSE:
		return GNUSparse
	case XGLTYPE:
		return PaxGlobalHeader
	case XHDTYPE, SOLARIS_XHDTYPE:
		return PaxHeader
	default:
		return Regular
	}
}

// Byte returns the type flag written to disk for t.
func (t EntryType) Byte() byte {
	switch t {
	case Regular:
		return REGTYPE
	case HardLink:
		return LNKTYPE
	case Symlink:
		return SYMTYPE
	case CharDevice:
		return CHRTYPE
	case BlockDevice:
		return BLKTYPE
	case Directory:
		return DIRTYPE
	case Fifo:
		return FIFOTYPE
	case Continuous:
		return CONTTYPE
	case GNULongName:
		return GNUTYPE_LONGNAME
	case GNULongLink:
		return GNUTYPE_LONGLINK
	case GNUSparse:
		return GNUTYPE_SPARSE
	case PaxGlobalHeader:
		return XGLTYPE
	case PaxHeader:
		return XHDTYPE
	}
	return REGTYPE
}

func (t EntryType) String() string {
	switch t {
	case Regular:
		return "regular"
	case HardLink:
		return "hardlink"
	case Symlink:
		return "symlink"
	case CharDevice:
		return "char"
	case BlockDevice:
		return "block"
	case Directory:
		return "directory"
	case Fifo:
		return "fifo"
	case Continuous:
		return "continuous"
	case GNULongName:
		return "gnu-longname"
	case GNULongLink:
		return "gnu-longlink"
	case GNUSparse:
		return "gnu-sparse"
	case PaxGlobalHeader:
		return "pax-global"
	case PaxHeader:
		return "pax"
	}
	return "unknown"
}

// IsExtension reports whether t is a pseudo entry that modifies the entry
// following it rather than describing a member itself.
func (t EntryType) IsExtension() bool {
	switch t {
	case GNULongName, GNULongLink, PaxGlobalHeader, PaxHeader:
		return true
	}
	return false
}

package tarfile

import (
	"fmt"

	"github.com/pkg/errors"
)

// Sentinel errors. Every typed error below matches one of these with errors.Is.
var (
	// ErrCorruptHeader is returned when a header fails its checksum or holds an
	// unparseable numeric field.
	ErrCorruptHeader = errors.New("tarfile: corrupt header")

	// ErrUnsupportedFormat is returned when a source matches no known
	// compression or tar signature.
	ErrUnsupportedFormat = errors.New("tarfile: unsupported format")

	// ErrFieldOverflow is returned when a value does not fit its header field.
	ErrFieldOverflow = errors.New("tarfile: field overflow")

	// ErrNameTooLong is returned when a path or link name does not fit the
	// fixed-width field of the chosen dialect.
	ErrNameTooLong = errors.New("tarfile: name too long")

	// ErrPathTraversal marks an entry skipped during Unpack because its path
	// would leave the destination directory.
	ErrPathTraversal = errors.New("tarfile: path escapes destination")

	// ErrUnsupportedEntry marks an entry skipped during Unpack because the
	// host cannot materialize its type.
	ErrUnsupportedEntry = errors.New("tarfile: entry type unsupported on this platform")

	// ErrExists marks an entry skipped during Unpack because the target already
	// exists and overwriting is disabled.
	ErrExists = errors.New("tarfile: target exists")

	// ErrBuilderFinished is returned by Builder methods called after Finish.
	ErrBuilderFinished = errors.New("tarfile: builder already finished")

	// ErrEntryInvalidated is returned when reading an entry after the archive
	// has advanced past it.
	ErrEntryInvalidated = errors.New("tarfile: entry read after archive advanced")

	// ErrZeroBlock is returned by Decode for an all-zero block, which marks
	// the end of an archive.
	ErrZeroBlock = errors.New("tarfile: zero block")
)

// TarError is the base of the typed errors in this package.
type TarError struct {
	msg  string
	kind error
}

func (e *TarError) Error() string { return e.msg }

// Is matches the sentinel the error was created for.
func (e *TarError) Is(target error) bool { return e.kind != nil && target == e.kind }

// CorruptHeaderError reports a header block that cannot be trusted.
type CorruptHeaderError struct {
	TarError
	// Offset of the block in the decompressed stream, or -1 when unknown.
	Offset int64
}

// UnsupportedFormatError reports an input with no recognizable signature.
type UnsupportedFormatError struct {
	TarError
	Name string
	MIME string
}

// FieldOverflowError reports a numeric value too large for its field.
type FieldOverflowError struct {
	TarError
	Field string
	Value uint64
}

// NameTooLongError reports a name too long for the non-extended header.
type NameTooLongError struct {
	TarError
	Name  string
	Limit int
}

func NewCorruptHeaderError(offset int64, msg string) error {
	return &CorruptHeaderError{
		TarError: TarError{msg: "tarfile: corrupt header: " + msg, kind: ErrCorruptHeader},
		Offset:   offset,
	}
}

func NewUnsupportedFormatError(name, mime string) error {
	msg := fmt.Sprintf("tarfile: unsupported format for %q", name)
	if mime != "" {
		msg += " (detected " + mime + ")"
	}
	return &UnsupportedFormatError{
		TarError: TarError{msg: msg, kind: ErrUnsupportedFormat},
		Name:     name,
		MIME:     mime,
	}
}

func NewFieldOverflowError(field string, value uint64) error {
	return &FieldOverflowError{
		TarError: TarError{msg: fmt.Sprintf("tarfile: value %d overflows %s field", value, field), kind: ErrFieldOverflow},
		Field:    field,
		Value:    value,
	}
}

func NewNameTooLongError(name string, limit int) error {
	return &NameTooLongError{
		TarError: TarError{msg: fmt.Sprintf("tarfile: name %q exceeds %d bytes", name, limit), kind: ErrNameTooLong},
		Name:     name,
		Limit:    limit,
	}
}

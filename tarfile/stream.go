package tarfile

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"io"
	"os"

	dsbzip2 "github.com/dsnet/compress/bzip2"
	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
)

// Compression is the envelope wrapped around a tar stream.
type Compression int

const (
	Uncompressed Compression = iota
	Gzip
	Bzip2
	Xz
	Zstd
)

func (c Compression) String() string {
	switch c {
	case Uncompressed:
		return "tar"
	case Gzip:
		return "gzip"
	case Bzip2:
		return "bzip2"
	case Xz:
		return "xz"
	case Zstd:
		return "zstd"
	}
	return "unknown"
}

// Extension returns the conventional file name suffix for c.
func (c Compression) Extension() string {
	switch c {
	case Uncompressed:
		return ".tar"
	case Gzip:
		return ".tar.gz"
	case Bzip2:
		return ".tar.bz2"
	case Xz:
		return ".tar.xz"
	case Zstd:
		return ".tar.zst"
	}
	return ""
}

// ParseCompression maps a name such as "gz" or "xz" onto a Compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "tar", "none":
		return Uncompressed, nil
	case "gz", "gzip", "tgz":
		return Gzip, nil
	case "bz2", "bzip2":
		return Bzip2, nil
	case "xz":
		return Xz, nil
	case "zst", "zstd":
		return Zstd, nil
	}
	return 0, errors.Errorf("tarfile: unknown compression %q", name)
}

var compressionMagic = []struct {
	c     Compression
	magic []byte
}{
	{Gzip, []byte{0x1F, 0x8B, 0x08}},
	{Bzip2, []byte{0x42, 0x5A, 0x68}},
	{Xz, []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}},
	{Zstd, []byte{0x28, 0xB5, 0x2F, 0xFD}},
}

// DetectCompression inspects the leading bytes of a source. ok is false when
// head is neither a known compression envelope nor the start of a tar stream.
func DetectCompression(head []byte) (c Compression, ok bool) {
	for _, m := range compressionMagic {
		if bytes.HasPrefix(head, m.magic) {
			return m.c, true
		}
	}
	if looksLikeTar(head) {
		return Uncompressed, true
	}
	return 0, false
}

// looksLikeTar accepts a ustar/GNU magic, a block with a valid checksum (v7
// archives have no magic), or an all-zero block (an empty archive).
func looksLikeTar(head []byte) bool {
	if len(head) >= offMagic+6 {
		magic := head[offMagic : offMagic+6]
		if bytes.Equal(magic, []byte("ustar\x00")) || bytes.Equal(magic, []byte("ustar ")) {
			return true
		}
	}
	if len(head) < BLOCKSIZE {
		return false
	}
	block := head[:BLOCKSIZE]
	if isZeroBlock(block) {
		return true
	}
	_, _, err := decodeHeader(block, 0)
	return err == nil
}

type sourceKind int

const (
	sourcePath sourceKind = iota
	sourceBytes
	sourceReader
)

// Source is the byte source an Archive reads from: a file path, an in-memory
// buffer, or an arbitrary reader.
type Source struct {
	kind sourceKind
	path string
	data []byte
	r    io.Reader
	name string
}

// PathSource reads the archive from the named file.
func PathSource(path string) Source { return Source{kind: sourcePath, path: path, name: path} }

// BytesSource reads the archive from memory.
func BytesSource(data []byte) Source { return Source{kind: sourceBytes, data: data, name: "<memory>"} }

// ReaderSource reads the archive from r. name is used in error messages.
func ReaderSource(r io.Reader, name string) Source {
	if name == "" {
		name = "<stream>"
	}
	return Source{kind: sourceReader, r: r, name: name}
}

// Name identifies the source in errors and logs.
func (s Source) Name() string { return s.name }

// stream is a decompressed, forward-only view of a Source.
type stream struct {
	io.Reader
	compression Compression
	closers     []io.Closer
}

func (s *stream) Close() error {
	var result *multierror.Error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	s.closers = nil
	return result.ErrorOrNil()
}

// openStream resolves src to raw bytes, sniffs the envelope, and wraps the
// bytes in the matching decoder.
func openStream(src Source) (*stream, error) {
	s := &stream{}
	var raw io.Reader
	switch src.kind {
	case sourcePath:
		f, err := os.Open(src.path)
		if err != nil {
			return nil, errors.Wrapf(err, "open archive %q", src.path)
		}
		s.closers = append(s.closers, f)
		raw = f
	case sourceBytes:
		raw = bytes.NewReader(src.data)
	case sourceReader:
		raw = src.r
	default:
		return nil, errors.Errorf("tarfile: invalid source kind %d", src.kind)
	}

	br := bufio.NewReaderSize(raw, 32*1024)
	head, err := br.Peek(BLOCKSIZE)
	if err != nil && err != io.EOF {
		_ = s.Close()
		return nil, errors.Wrapf(err, "read %s", src.name)
	}
	c, ok := DetectCompression(head)
	if !ok {
		_ = s.Close()
		return nil, NewUnsupportedFormatError(src.name, mimetype.Detect(head).String())
	}
	s.compression = c

	switch c {
	case Uncompressed:
		s.Reader = br
	case Gzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			_ = s.Close()
			return nil, errors.Wrap(err, "create gzip reader")
		}
		s.closers = append(s.closers, zr)
		s.Reader = zr
	case Bzip2:
		s.Reader = bzip2.NewReader(br)
	case Xz:
		// xz is decoded up front; the tar layer then reads from memory.
		xr, err := xz.NewReader(br)
		if err != nil {
			_ = s.Close()
			return nil, errors.Wrap(err, "create xz reader")
		}
		data, err := io.ReadAll(xr)
		if err != nil {
			_ = s.Close()
			return nil, errors.Wrap(err, "decode xz stream")
		}
		s.Reader = bytes.NewReader(data)
	case Zstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			_ = s.Close()
			return nil, errors.Wrap(err, "create zstd reader")
		}
		s.closers = append(s.closers, zstdDecoder{zr})
		s.Reader = zr
	}
	return s, nil
}

type zstdDecoder struct {
	*zstd.Decoder
}

func (d zstdDecoder) Close() error {
	d.Decoder.Close()
	return nil
}

// DefaultCompressionLevel asks each encoder for its default level.
const DefaultCompressionLevel = -1

// newEncoder wraps w in the encoder for c.
func newEncoder(w io.Writer, c Compression, level int) (io.WriteCloser, error) {
	switch c {
	case Uncompressed:
		return nopWriteCloser{w}, nil
	case Gzip:
		zw, err := pgzip.NewWriterLevel(w, level)
		if err != nil {
			return nil, errors.Wrap(err, "create gzip writer")
		}
		return zw, nil
	case Bzip2:
		if level <= 0 {
			level = dsbzip2.DefaultCompression
		}
		bw, err := dsbzip2.NewWriter(w, &dsbzip2.WriterConfig{Level: level})
		if err != nil {
			return nil, errors.Wrap(err, "create bzip2 writer")
		}
		return bw, nil
	case Xz:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, errors.Wrap(err, "create xz writer")
		}
		return xw, nil
	case Zstd:
		opts := []zstd.EOption{}
		if level > 0 {
			opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		}
		zw, err := zstd.NewWriter(w, opts...)
		if err != nil {
			return nil, errors.Wrap(err, "create zstd writer")
		}
		return zw, nil
	}
	return nil, errors.Errorf("tarfile: unknown compression %d", c)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

package tarfile

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildArchive runs fn against a buffer Builder and returns the finished
// archive.
func buildArchive(t *testing.T, fn func(b *Builder), opts ...BuilderOption) []byte {
	t.Helper()
	b, err := NewBufferBuilder(opts...)
	require.NoError(t, err)
	fn(b)
	data, err := b.Finish()
	require.NoError(t, err)
	return data
}

type entrySummary struct {
	Path string
	Type EntryType
	Link string
	Data string
}

func readEntries(t *testing.T, data []byte, opts ...ArchiveOption) []entrySummary {
	t.Helper()
	a, err := OpenBytes(data, opts...)
	require.NoError(t, err)
	defer a.Close()

	var out []entrySummary
	for e, err := range a.Entries() {
		require.NoError(t, err)
		body, err := io.ReadAll(e)
		require.NoError(t, err)
		out = append(out, entrySummary{Path: e.Path(), Type: e.Type(), Link: e.LinkName(), Data: string(body)})
	}
	return out
}

func TestAppendDataReadBack(t *testing.T) {
	data := buildArchive(t, func(b *Builder) {
		require.NoError(t, b.AppendData("a.txt", []byte("hello")))
	})

	a, err := OpenBytes(data)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, Uncompressed, a.Compression())

	e, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, "a.txt", e.Path())
	assert.Equal(t, int64(5), e.Size())
	assert.Equal(t, uint32(0o644), e.Header().Mode)
	assert.Equal(t, int64(0), e.Offset)
	assert.Equal(t, int64(BLOCKSIZE), e.OffsetData)

	body, err := io.ReadAll(e)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	_, err = a.Next()
	assert.Equal(t, io.EOF, err)
	_, err = a.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDirectoryThenFile(t *testing.T) {
	data := buildArchive(t, func(b *Builder) {
		require.NoError(t, b.AppendData("dir/", nil))
		require.NoError(t, b.AppendData("dir/file.txt", []byte("content")))
	})
	assert.Equal(t, []entrySummary{
		{Path: "dir/", Type: Directory},
		{Path: "dir/file.txt", Type: Regular, Data: "content"},
	}, readEntries(t, data))
}

func TestCompressionTransparency(t *testing.T) {
	fill := func(b *Builder) {
		require.NoError(t, b.AppendData("dir/", nil))
		require.NoError(t, b.AppendData("dir/a.txt", []byte("alpha")))
		require.NoError(t, b.AppendData("dir/b.bin", bytes.Repeat([]byte{0xAB}, 3000)))
		require.NoError(t, b.Append(&Header{Name: "dir/l", Linkname: "a.txt", Type: Symlink, Mode: 0o777, Format: FormatGNU}, nil))
	}
	want := readEntries(t, buildArchive(t, fill))
	require.Len(t, want, 4)

	for _, c := range []Compression{Gzip, Bzip2, Xz, Zstd} {
		t.Run(c.String(), func(t *testing.T) {
			data := buildArchive(t, fill, WithCompression(c))
			a, err := OpenBytes(data)
			require.NoError(t, err)
			assert.Equal(t, c, a.Compression())
			require.NoError(t, a.Close())

			assert.Equal(t, want, readEntries(t, data))
		})
	}
}

func TestNewArchiveFromReader(t *testing.T) {
	data := buildArchive(t, func(b *Builder) {
		require.NoError(t, b.AppendData("r.txt", []byte("from a reader")))
	}, WithCompression(Gzip))

	a, err := NewArchive(bytes.NewReader(data))
	require.NoError(t, err)
	defer a.Close()
	e, err := a.Next()
	require.NoError(t, err)
	body, err := io.ReadAll(e)
	require.NoError(t, err)
	assert.Equal(t, "from a reader", string(body))
}

func TestEntryInvalidatedAfterNext(t *testing.T) {
	data := buildArchive(t, func(b *Builder) {
		require.NoError(t, b.AppendData("first", []byte("hello world")))
		require.NoError(t, b.AppendData("second", []byte("second body")))
	})
	a, err := OpenBytes(data)
	require.NoError(t, err)
	defer a.Close()

	first, err := a.Next()
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(first, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	second, err := a.Next()
	require.NoError(t, err)
	_, err = first.Read(buf)
	assert.ErrorIs(t, err, ErrEntryInvalidated)

	body, err := io.ReadAll(second)
	require.NoError(t, err)
	assert.Equal(t, "second body", string(body))

	require.NoError(t, a.Close())
	_, err = second.Read(buf)
	assert.ErrorIs(t, err, ErrEntryInvalidated)
	_, err = a.Next()
	assert.Error(t, err)
}

func TestGNULongNameAndLink(t *testing.T) {
	name := strings.Repeat("deep/", 30) + "file.txt"
	target := strings.Repeat("t", 150)
	data := buildArchive(t, func(b *Builder) {
		require.NoError(t, b.AppendLongName(name))
		h := NewHeader(name[:100])
		h.Size = 3
		require.NoError(t, b.Append(h, strings.NewReader("abc")))

		require.NoError(t, b.AppendLongLink(target))
		require.NoError(t, b.Append(&Header{Name: "link", Linkname: target[:100], Type: Symlink, Format: FormatGNU}, nil))
	})

	a, err := OpenBytes(data)
	require.NoError(t, err)
	defer a.Close()

	e, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, name, e.Path())
	assert.Equal(t, name[:100], e.RawHeader().Name)
	body, err := io.ReadAll(e)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(body))

	e, err = a.Next()
	require.NoError(t, err)
	assert.Equal(t, "link", e.Path())
	assert.Equal(t, target, e.LinkName())
	assert.Equal(t, Symlink, e.Type())
}

func TestPAXPrecedence(t *testing.T) {
	data := buildArchive(t, func(b *Builder) {
		require.NoError(t, b.AppendPAX(map[string]string{"uid": "7", "uname": "global"}, true))
		require.NoError(t, b.AppendData("one", nil))
		require.NoError(t, b.AppendPAX(map[string]string{
			"uid":                        "9",
			"path":                       "renamed/two",
			PaxSchilyXattr + "user.mime": "text/plain",
		}, false))
		require.NoError(t, b.AppendData("two", []byte("2")))
		require.NoError(t, b.AppendPAX(map[string]string{"uname": ""}, true))
		require.NoError(t, b.AppendData("three", nil))
	})

	a, err := OpenBytes(data)
	require.NoError(t, err)
	defer a.Close()

	one, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, "one", one.Path())
	assert.Equal(t, uint64(7), one.Header().UID)
	assert.Equal(t, "global", one.Header().Uname)
	assert.Nil(t, one.Xattrs)

	two, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, "renamed/two", two.Path())
	assert.Equal(t, "two", two.RawHeader().Name)
	assert.Equal(t, uint64(9), two.Header().UID)
	assert.Equal(t, uint64(0), two.RawHeader().UID)
	assert.Equal(t, "global", two.Header().Uname)
	assert.Equal(t, map[string]string{"user.mime": "text/plain"}, two.Xattrs)
	assert.Equal(t, "9", two.PAXRecords["uid"])
	assert.Equal(t, "global", two.PAXRecords["uname"])

	three, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, "three", three.Path())
	assert.Equal(t, uint64(7), three.Header().UID)
	assert.Equal(t, "", three.Header().Uname)
	assert.Equal(t, map[string]string{"uid": "7"}, three.PAXRecords)
}

func TestGNUNameWinsOverPAXPath(t *testing.T) {
	data := buildArchive(t, func(b *Builder) {
		require.NoError(t, b.AppendLongName("gnu/name"))
		require.NoError(t, b.AppendPAX(map[string]string{"path": "pax/name"}, false))
		require.NoError(t, b.AppendData("short", nil))
	})
	got := readEntries(t, data)
	require.Len(t, got, 1)
	assert.Equal(t, "gnu/name", got[0].Path)
}

func TestDuplicateLongName(t *testing.T) {
	data := buildArchive(t, func(b *Builder) {
		require.NoError(t, b.AppendLongName("x"))
		require.NoError(t, b.AppendLongName("y"))
		require.NoError(t, b.AppendData("z", nil))
	})
	a, err := OpenBytes(data)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Next()
	require.ErrorIs(t, err, ErrCorruptHeader)
	var ce *CorruptHeaderError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, int64(2*BLOCKSIZE), ce.Offset)

	_, err = a.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDanglingExtensionRecord(t *testing.T) {
	data := buildArchive(t, func(b *Builder) {
		require.NoError(t, b.AppendLongName("orphan"))
	})
	a, err := OpenBytes(data)
	require.NoError(t, err)
	defer a.Close()
	_, err = a.Next()
	assert.ErrorIs(t, err, ErrCorruptHeader)

	// Without the end-of-archive blocks the stream is simply truncated.
	a, err = OpenBytes(data[:2*BLOCKSIZE])
	require.NoError(t, err)
	defer a.Close()
	_, err = a.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestIgnoreZeros(t *testing.T) {
	first := buildArchive(t, func(b *Builder) {
		require.NoError(t, b.AppendData("a", []byte("1")))
	})
	second := buildArchive(t, func(b *Builder) {
		require.NoError(t, b.AppendData("b", []byte("2")))
	})
	joined := append(append([]byte(nil), first...), second...)

	assert.Equal(t, []entrySummary{{Path: "a", Data: "1"}}, readEntries(t, joined))
	assert.Equal(t, []entrySummary{{Path: "a", Data: "1"}, {Path: "b", Data: "2"}},
		readEntries(t, joined, WithIgnoreZeros(true)))
}

func TestSkipCorrupt(t *testing.T) {
	data := buildArchive(t, func(b *Builder) {
		require.NoError(t, b.AppendData("empty", nil))
		require.NoError(t, b.AppendData("kept", []byte("ok")))
	})
	// The checksum no longer matches, but the magic still identifies tar.
	data[0] ^= 0xFF

	a, err := OpenBytes(data)
	require.NoError(t, err)
	_, err = a.Next()
	assert.ErrorIs(t, err, ErrCorruptHeader)
	require.NoError(t, a.Close())

	assert.Equal(t, []entrySummary{{Path: "kept", Data: "ok"}}, readEntries(t, data, WithSkipCorrupt(true)))
}

func TestTruncatedBody(t *testing.T) {
	data := buildArchive(t, func(b *Builder) {
		require.NoError(t, b.AppendData("big", bytes.Repeat([]byte("x"), 1000)))
	})
	a, err := OpenBytes(data[:BLOCKSIZE+100])
	require.NoError(t, err)
	defer a.Close()

	e, err := a.Next()
	require.NoError(t, err)
	_, err = io.ReadAll(e)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestEntriesBreakAndResume(t *testing.T) {
	data := buildArchive(t, func(b *Builder) {
		for _, name := range []string{"1", "2", "3"} {
			require.NoError(t, b.AppendData(name, []byte(name)))
		}
	})
	a, err := OpenBytes(data)
	require.NoError(t, err)
	defer a.Close()

	for e, err := range a.Entries() {
		require.NoError(t, err)
		assert.Equal(t, "1", e.Path())
		break
	}
	e, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, "2", e.Path())
}

func TestSparseEntry(t *testing.T) {
	sparse := make([]SparseEntry, 6)
	for i := range sparse {
		sparse[i] = SparseEntry{Offset: uint64(i) * 10, NumBytes: 2}
	}
	data := buildArchive(t, func(b *Builder) {
		h := &Header{
			Name: "holes", Mode: 0o644, Type: GNUSparse, Format: FormatGNU,
			Size: 12, RealSize: 100, Sparse: sparse,
		}
		require.NoError(t, b.Append(h, strings.NewReader("abcdefghijkl")))
		require.NoError(t, b.AppendData("after", []byte("!")))
	})

	got := readEntries(t, data)
	assert.Equal(t, []entrySummary{
		{Path: "holes", Type: GNUSparse, Data: "abcdefghijkl"},
		{Path: "after", Data: "!"},
	}, got)

	a, err := OpenBytes(data)
	require.NoError(t, err)
	defer a.Close()
	e, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, sparse, e.Header().Sparse)
	assert.Equal(t, uint64(100), e.Header().FileSize())
}

func TestHeaderOnlyEntryIgnoresSizeField(t *testing.T) {
	link := &Header{Name: "s", Linkname: "t", Type: Symlink, Mode: 0o777, Size: 600, Format: FormatGNU}
	block, err := link.Encode()
	require.NoError(t, err)
	next := buildArchive(t, func(b *Builder) {
		require.NoError(t, b.AppendData("next.txt", []byte("after")))
	})
	data := append(block, next...)

	a, err := OpenBytes(data)
	require.NoError(t, err)
	defer a.Close()
	e, err := a.Next()
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.Size())
	assert.Equal(t, uint64(600), e.RawHeader().Size)
	body, err := io.ReadAll(e)
	require.NoError(t, err)
	assert.Empty(t, body)

	e, err = a.Next()
	require.NoError(t, err)
	assert.Equal(t, "next.txt", e.Path())
}

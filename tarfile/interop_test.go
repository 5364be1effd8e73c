package tarfile

import (
	"archive/tar"
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadArchiveTarOutput(t *testing.T) {
	longName := strings.Repeat("d", 90) + "/" + strings.Repeat("f", 60) + ".txt"
	longLink := strings.Repeat("t", 130)
	ustarName := strings.Repeat("p", 80) + "/" + strings.Repeat("n", 80)

	tests := []struct {
		name    string
		headers []*tar.Header
		bodies  []string
		want    []entrySummary
		check   func(t *testing.T, a *Archive)
	}{
		{
			name: "pax",
			headers: []*tar.Header{{
				Name: longName, Mode: 0o644, Uid: 1 << 22, Size: 3, Typeflag: tar.TypeReg,
				ModTime:    time.Unix(1_600_000_000, 0),
				PAXRecords: map[string]string{PaxSchilyXattr + "user.note": "hi"},
				Format:     tar.FormatPAX,
			}},
			bodies: []string{"pax"},
			want:   []entrySummary{{Path: longName, Data: "pax"}},
			check: func(t *testing.T, a *Archive) {
				e, err := a.Next()
				require.NoError(t, err)
				assert.Equal(t, uint64(1<<22), e.Header().UID)
				assert.Equal(t, uint64(1_600_000_000), e.Header().Mtime)
				assert.Equal(t, map[string]string{"user.note": "hi"}, e.Xattrs)
			},
		},
		{
			name: "gnu long names",
			headers: []*tar.Header{
				{Name: longName, Mode: 0o600, Size: 3, Typeflag: tar.TypeReg, Format: tar.FormatGNU},
				{Name: "l-" + longLink, Linkname: longLink, Mode: 0o777, Typeflag: tar.TypeSymlink, Format: tar.FormatGNU},
				{Name: "dir/", Mode: 0o755, Typeflag: tar.TypeDir, Format: tar.FormatGNU},
			},
			bodies: []string{"gnu", "", ""},
			want: []entrySummary{
				{Path: longName, Data: "gnu"},
				{Path: "l-" + longLink, Type: Symlink, Link: longLink},
				{Path: "dir/", Type: Directory},
			},
		},
		{
			name: "ustar prefix",
			headers: []*tar.Header{{
				Name: ustarName, Mode: 0o644, Size: 5, Typeflag: tar.TypeReg,
				Uname: "alice", Gname: "staff", Format: tar.FormatUSTAR,
			}},
			bodies: []string{"ustar"},
			want:   []entrySummary{{Path: ustarName, Data: "ustar"}},
			check: func(t *testing.T, a *Archive) {
				e, err := a.Next()
				require.NoError(t, err)
				assert.Equal(t, FormatUstar, e.Header().Format)
				assert.Equal(t, "alice", e.Header().Uname)
			},
		},
		{
			name: "gnu pre-epoch mtime",
			headers: []*tar.Header{
				{Name: "old.txt", Mode: 0o644, Size: 3, Typeflag: tar.TypeReg, ModTime: time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC), Format: tar.FormatGNU},
				{Name: "new.txt", Mode: 0o644, Size: 3, Typeflag: tar.TypeReg, ModTime: time.Unix(1_000, 0), Format: tar.FormatGNU},
			},
			bodies: []string{"old", "new"},
			want:   []entrySummary{{Path: "old.txt", Data: "old"}, {Path: "new.txt", Data: "new"}},
			check: func(t *testing.T, a *Archive) {
				e, err := a.Next()
				require.NoError(t, err)
				assert.Equal(t, uint64(0), e.Header().Mtime)
				e, err = a.Next()
				require.NoError(t, err)
				assert.Equal(t, uint64(1_000), e.Header().Mtime)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tw := tar.NewWriter(&buf)
			for i, h := range tt.headers {
				require.NoError(t, tw.WriteHeader(h))
				_, err := io.WriteString(tw, tt.bodies[i])
				require.NoError(t, err)
			}
			require.NoError(t, tw.Close())

			assert.Equal(t, tt.want, readEntries(t, buf.Bytes()))
			if tt.check != nil {
				a, err := OpenBytes(buf.Bytes())
				require.NoError(t, err)
				defer a.Close()
				tt.check(t, a)
			}
		})
	}
}

func TestArchiveTarReadsBuilderOutput(t *testing.T) {
	longName := strings.Repeat("x", 150) + ".bin"
	longLink := strings.Repeat("y", 120)
	ustarName := strings.Repeat("u", 80) + "/" + strings.Repeat("v", 80)

	type member struct {
		Name     string
		Linkname string
		Type     byte
		Uid      int
		Data     string
	}
	tests := []struct {
		name  string
		opts  []BuilderOption
		build func(t *testing.T, b *Builder)
		want  []member
	}{
		{
			name: "gnu",
			build: func(t *testing.T, b *Builder) {
				require.NoError(t, b.AppendData("dir/", nil))
				require.NoError(t, b.AppendData("dir/a.txt", []byte("alpha")))
				require.NoError(t, b.Append(&Header{Name: "dir/s", Linkname: "a.txt", Type: Symlink, Mode: 0o777, Format: FormatGNU}, nil))
			},
			want: []member{
				{Name: "dir/", Type: tar.TypeDir},
				{Name: "dir/a.txt", Type: tar.TypeReg, Data: "alpha"},
				{Name: "dir/s", Linkname: "a.txt", Type: tar.TypeSymlink},
			},
		},
		{
			name: "ustar prefix",
			opts: []BuilderOption{WithFormat(FormatUstar)},
			build: func(t *testing.T, b *Builder) {
				require.NoError(t, b.AppendData(ustarName, []byte("split")))
			},
			want: []member{{Name: ustarName, Type: tar.TypeReg, Data: "split"}},
		},
		{
			name: "gnu long names",
			build: func(t *testing.T, b *Builder) {
				require.NoError(t, b.AppendLongName(longName))
				h := NewHeader(longName[:100])
				h.Size = 4
				require.NoError(t, b.Append(h, strings.NewReader("long")))
				require.NoError(t, b.AppendLongLink(longLink))
				require.NoError(t, b.Append(&Header{Name: "ln", Linkname: longLink[:100], Type: Symlink, Format: FormatGNU}, nil))
			},
			want: []member{
				{Name: longName, Type: tar.TypeReg, Data: "long"},
				{Name: "ln", Linkname: longLink, Type: tar.TypeSymlink},
			},
		},
		{
			name: "pax",
			build: func(t *testing.T, b *Builder) {
				require.NoError(t, b.AppendPAX(map[string]string{"path": longName, "uid": "4194304"}, false))
				require.NoError(t, b.AppendData("short", []byte("pax")))
			},
			want: []member{{Name: longName, Type: tar.TypeReg, Uid: 1 << 22, Data: "pax"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildArchive(t, func(b *Builder) { tt.build(t, b) }, tt.opts...)

			var got []member
			tr := tar.NewReader(bytes.NewReader(data))
			for {
				h, err := tr.Next()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				body, err := io.ReadAll(tr)
				require.NoError(t, err)
				got = append(got, member{Name: h.Name, Linkname: h.Linkname, Type: h.Typeflag, Uid: h.Uid, Data: string(body)})
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

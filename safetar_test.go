package safetar_test

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	safetar "github.com/barseghyanartur/go-safetar"
)

type entry struct {
	tar.Header
	content string
}

func buildTar(t *testing.T, entries []entry) string {
	t.Helper()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for _, e := range entries {
		h := e.Header
		if h.Size == 0 && e.content != "" {
			h.Size = int64(len(e.content))
		}
		require.NoError(t, tw.WriteHeader(&h))
		if e.content != "" {
			_, err := tw.Write([]byte(e.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())

	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tar")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestExtractAll_PlainFiles(t *testing.T) {
	archive := buildTar(t, []entry{
		{Header: tar.Header{Name: "dir/", Typeflag: tar.TypeDir, Mode: 0o755}},
		{Header: tar.Header{Name: "dir/file.txt", Typeflag: tar.TypeReg, Mode: 0o644}, content: "hello"},
	})
	dest := t.TempDir()

	require.NoError(t, safetar.Extract(archive, dest, nil))

	data, err := os.ReadFile(filepath.Join(dest, "dir", "file.txt"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}

func TestExtractAll_DefaultPolicyRejectsSymlinks(t *testing.T) {
	archive := buildTar(t, []entry{
		{Header: tar.Header{Name: "target.txt", Typeflag: tar.TypeReg, Mode: 0o644}, content: "data"},
		{Header: tar.Header{Name: "link", Typeflag: tar.TypeSymlink, Linkname: "target.txt"}},
	})
	dest := t.TempDir()

	err := safetar.Extract(archive, dest, nil)
	require.Error(t, err)

	var serr *safetar.SafetarError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, safetar.KindUnsafeEntry, serr.Kind)
}

func TestExtractAll_DefaultPolicyRejectsHardlinks(t *testing.T) {
	archive := buildTar(t, []entry{
		{Header: tar.Header{Name: "real.txt", Typeflag: tar.TypeReg, Mode: 0o644}, content: "data"},
		{Header: tar.Header{Name: "link", Typeflag: tar.TypeLink, Linkname: "real.txt"}},
	})
	dest := t.TempDir()

	err := safetar.Extract(archive, dest, nil)
	require.Error(t, err)

	var serr *safetar.SafetarError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, safetar.KindUnsafeEntry, serr.Kind)
}

func TestExtractAll_DefaultPolicyRejectsSparse(t *testing.T) {
	archive := buildTar(t, []entry{
		{Header: tar.Header{
			Name:       "sparse.bin",
			Typeflag:   tar.TypeReg,
			Mode:       0o644,
			PAXRecords: map[string]string{"GNU.sparse.major": "1", "GNU.sparse.minor": "0"},
		}, content: "data"},
	})
	dest := t.TempDir()

	err := safetar.Extract(archive, dest, nil)
	require.Error(t, err)

	var serr *safetar.SafetarError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, safetar.KindUnsafeEntryType, serr.Kind)
}

func TestExtractAll_RejectsPathTraversal(t *testing.T) {
	archive := buildTar(t, []entry{
		{Header: tar.Header{Name: "../escape.txt", Typeflag: tar.TypeReg, Mode: 0o644}, content: "bad"},
	})
	dest := t.TempDir()

	err := safetar.Extract(archive, dest, nil)
	require.Error(t, err)

	var serr *safetar.SafetarError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, safetar.KindUnsafeEntry, serr.Kind)
}

func TestExtractAll_RejectsAbsolutePath(t *testing.T) {
	archive := buildTar(t, []entry{
		{Header: tar.Header{Name: "/etc/passwd", Typeflag: tar.TypeReg, Mode: 0o644}, content: "bad"},
	})
	dest := t.TempDir()

	err := safetar.Extract(archive, dest, nil)
	require.Error(t, err)
}

func TestExtractAll_SymlinkEscapeRejected(t *testing.T) {
	archive := buildTar(t, []entry{
		{Header: tar.Header{Name: "evil", Typeflag: tar.TypeSymlink, Linkname: "../../outside"}},
	})
	dest := t.TempDir()

	err := safetar.Extract(archive, dest, nil, safetar.WithSymlinkPolicy(safetar.SymlinkResolveInternal))
	require.Error(t, err)

	var serr *safetar.SafetarError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, safetar.KindUnsafeEntry, serr.Kind)
}

func TestExtractAll_SymlinkInternalAllowed(t *testing.T) {
	archive := buildTar(t, []entry{
		{Header: tar.Header{Name: "target.txt", Typeflag: tar.TypeReg, Mode: 0o644}, content: "data"},
		{Header: tar.Header{Name: "link", Typeflag: tar.TypeSymlink, Linkname: "target.txt"}},
	})
	dest := t.TempDir()

	err := safetar.Extract(archive, dest, nil, safetar.WithSymlinkPolicy(safetar.SymlinkResolveInternal))
	require.NoError(t, err)

	linkPath := filepath.Join(dest, "link")
	info, err := os.Lstat(linkPath)
	require.NoError(t, err)
	require.True(t, info.Mode()&os.ModeSymlink != 0)
}

func TestExtractAll_SymlinkIgnorePolicySkips(t *testing.T) {
	archive := buildTar(t, []entry{
		{Header: tar.Header{Name: "link", Typeflag: tar.TypeSymlink, Linkname: "/etc/passwd"}},
	})
	dest := t.TempDir()

	err := safetar.Extract(archive, dest, nil, safetar.WithSymlinkPolicy(safetar.SymlinkIgnore))
	require.NoError(t, err)

	_, err = os.Lstat(filepath.Join(dest, "link"))
	require.True(t, os.IsNotExist(err))
}

func TestExtractAll_HardlinkForwardReferenceRejected(t *testing.T) {
	archive := buildTar(t, []entry{
		{Header: tar.Header{Name: "link", Typeflag: tar.TypeLink, Linkname: "notyetextracted.txt"}},
		{Header: tar.Header{Name: "notyetextracted.txt", Typeflag: tar.TypeReg, Mode: 0o644}, content: "data"},
	})
	dest := t.TempDir()

	err := safetar.Extract(archive, dest, nil, safetar.WithHardlinkPolicy(safetar.HardlinkInternal))
	require.Error(t, err)

	var serr *safetar.SafetarError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, safetar.KindUnsafeEntry, serr.Kind)
}

func TestExtractAll_HardlinkBackwardReferenceAllowed(t *testing.T) {
	archive := buildTar(t, []entry{
		{Header: tar.Header{Name: "real.txt", Typeflag: tar.TypeReg, Mode: 0o644}, content: "data"},
		{Header: tar.Header{Name: "link", Typeflag: tar.TypeLink, Linkname: "real.txt"}},
	})
	dest := t.TempDir()

	require.NoError(t, safetar.Extract(archive, dest, nil, safetar.WithHardlinkPolicy(safetar.HardlinkInternal)))

	data, err := os.ReadFile(filepath.Join(dest, "link"))
	require.NoError(t, err)
	require.Equal(t, "data", string(data))
}

func TestExtractAll_DeviceNodeRejected(t *testing.T) {
	archive := buildTar(t, []entry{
		{Header: tar.Header{Name: "dev", Typeflag: tar.TypeChar, Devmajor: 1, Devminor: 5}},
	})
	dest := t.TempDir()

	err := safetar.Extract(archive, dest, nil)
	require.Error(t, err)

	var serr *safetar.SafetarError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, safetar.KindUnsafeEntryType, serr.Kind)
}

func TestExtractAll_SetuidBitStripped(t *testing.T) {
	archive := buildTar(t, []entry{
		{Header: tar.Header{Name: "suid", Typeflag: tar.TypeReg, Mode: 0o4755}, content: "x"},
	})
	dest := t.TempDir()

	require.NoError(t, safetar.Extract(archive, dest, nil))

	info, err := os.Stat(filepath.Join(dest, "suid"))
	require.NoError(t, err)
	require.Zero(t, info.Mode()&os.ModeSetuid)
}

func TestExtractAll_FileSizeLimitEnforced(t *testing.T) {
	archive := buildTar(t, []entry{
		{Header: tar.Header{Name: "big.txt", Typeflag: tar.TypeReg, Mode: 0o644}, content: "0123456789"},
	})
	dest := t.TempDir()

	err := safetar.Extract(archive, dest, nil, safetar.WithMaxFileSize(4))
	require.Error(t, err)

	var serr *safetar.SafetarError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, safetar.KindFileSizeExceeded, serr.Kind)
}

func TestExtractAll_MemberSelection(t *testing.T) {
	archive := buildTar(t, []entry{
		{Header: tar.Header{Name: "a.txt", Typeflag: tar.TypeReg, Mode: 0o644}, content: "a"},
		{Header: tar.Header{Name: "b.txt", Typeflag: tar.TypeReg, Mode: 0o644}, content: "b"},
	})
	dest := t.TempDir()

	require.NoError(t, safetar.Extract(archive, dest, []string{"a.txt"}))

	_, err := os.Stat(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dest, "b.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestOpen_Introspection(t *testing.T) {
	archive := buildTar(t, []entry{
		{Header: tar.Header{Name: "a.txt", Typeflag: tar.TypeReg, Mode: 0o644}, content: "a"},
		{Header: tar.Header{Name: "b.txt", Typeflag: tar.TypeReg, Mode: 0o644}, content: "b"},
	})

	h, err := safetar.Open(archive)
	require.NoError(t, err)
	defer h.Close()

	names, err := h.GetNames()
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"a.txt", "b.txt"}, names); diff != "" {
		t.Fatalf("GetNames() mismatch (-want +got):\n%s", diff)
	}

	member, err := h.GetMember("a.txt")
	require.NoError(t, err)
	require.Equal(t, "a.txt", member.Name)
}

func TestExtractAll_SecurityEventFiredWithoutPaths(t *testing.T) {
	archive := buildTar(t, []entry{
		{Header: tar.Header{Name: "../escape.txt", Typeflag: tar.TypeReg, Mode: 0o644}, content: "bad"},
	})
	dest := t.TempDir()

	var captured []safetar.SecurityEvent
	err := safetar.Extract(archive, dest, nil, safetar.WithSecurityEventCallback(func(ev safetar.SecurityEvent) {
		captured = append(captured, ev)
	}))
	require.Error(t, err)
	require.Len(t, captured, 1)
	require.NotEmpty(t, captured[0].ArchiveHash)
	require.NotZero(t, captured[0].Timestamp)
}

func TestExtractAll_Idempotent(t *testing.T) {
	archive := buildTar(t, []entry{
		{Header: tar.Header{Name: "dir/", Typeflag: tar.TypeDir, Mode: 0o755}},
	})
	dest := t.TempDir()

	require.NoError(t, safetar.Extract(archive, dest, nil))
	require.NoError(t, safetar.Extract(archive, dest, nil))
}

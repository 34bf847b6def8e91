package guard_test

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/barseghyanartur/go-safetar/internal/guard"
	"github.com/barseghyanartur/go-safetar/internal/policy"
)

func buildArchive(t *testing.T, entries []tar.Header) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for _, h := range entries {
		hdr := h
		require.NoError(t, tw.WriteHeader(&hdr))
	}
	require.NoError(t, tw.Close())
	return buf
}

func TestPreScanFileCount(t *testing.T) {
	buf := buildArchive(t, []tar.Header{
		{Name: "a", Typeflag: tar.TypeReg, Size: 0},
		{Name: "b", Typeflag: tar.TypeReg, Size: 0},
		{Name: "c", Typeflag: tar.TypeReg, Size: 0},
	})
	rs := bytes.NewReader(buf.Bytes())

	count, err := guard.PreScanFileCount(rs, 10)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestPreScanFileCount_ExceedsLimit(t *testing.T) {
	buf := buildArchive(t, []tar.Header{
		{Name: "a", Typeflag: tar.TypeReg},
		{Name: "b", Typeflag: tar.TypeReg},
	})
	rs := bytes.NewReader(buf.Bytes())

	_, err := guard.PreScanFileCount(rs, 1)
	require.ErrorIs(t, err, guard.ErrFileCountExceeded)
}

func TestValidateEntryType_RegularAndDir(t *testing.T) {
	disp, err := guard.ValidateEntryType(&tar.Header{Typeflag: tar.TypeReg}, policy.SymlinkReject, policy.HardlinkReject, policy.SparseReject)
	require.NoError(t, err)
	require.Equal(t, guard.DispositionExtract, disp)

	disp, err = guard.ValidateEntryType(&tar.Header{Typeflag: tar.TypeDir}, policy.SymlinkReject, policy.HardlinkReject, policy.SparseReject)
	require.NoError(t, err)
	require.Equal(t, guard.DispositionExtract, disp)
}

func TestValidateEntryType_SymlinkPolicies(t *testing.T) {
	hdr := &tar.Header{Typeflag: tar.TypeSymlink, Name: "l", Linkname: "t"}

	_, err := guard.ValidateEntryType(hdr, policy.SymlinkReject, policy.HardlinkReject, policy.SparseReject)
	require.ErrorIs(t, err, guard.ErrUnsafeEntry)

	disp, err := guard.ValidateEntryType(hdr, policy.SymlinkIgnore, policy.HardlinkReject, policy.SparseReject)
	require.NoError(t, err)
	require.Equal(t, guard.DispositionSkip, disp)

	disp, err = guard.ValidateEntryType(hdr, policy.SymlinkResolveInternal, policy.HardlinkReject, policy.SparseReject)
	require.NoError(t, err)
	require.Equal(t, guard.DispositionDeferSymlink, disp)
}

func TestValidateEntryType_ForbiddenTypes(t *testing.T) {
	for _, tf := range []byte{tar.TypeChar, tar.TypeBlock, tar.TypeFifo} {
		_, err := guard.ValidateEntryType(&tar.Header{Typeflag: tf, Name: "dev"}, policy.SymlinkReject, policy.HardlinkReject, policy.SparseReject)
		require.ErrorIs(t, err, guard.ErrUnsafeEntryType)
	}
}

func TestValidateEntryType_SparseDetectedBeforeRegular(t *testing.T) {
	hdr := &tar.Header{
		Typeflag:   tar.TypeReg,
		Name:       "sparse",
		PAXRecords: map[string]string{"GNU.sparse.major": "1", "GNU.sparse.minor": "0"},
	}
	_, err := guard.ValidateEntryType(hdr, policy.SymlinkReject, policy.HardlinkReject, policy.SparseReject)
	require.ErrorIs(t, err, guard.ErrUnsafeEntryType)

	disp, err := guard.ValidateEntryType(hdr, policy.SymlinkReject, policy.HardlinkReject, policy.SparseMaterialise)
	require.NoError(t, err)
	require.Equal(t, guard.DispositionExtract, disp)
}

func TestValidateFilename(t *testing.T) {
	require.NoError(t, guard.ValidateFilename("a/b/c"))
	require.Error(t, guard.ValidateFilename(""))
	require.Error(t, guard.ValidateFilename("   "))
	require.Error(t, guard.ValidateFilename("a\x00b"))
}

func TestValidatePaxPath(t *testing.T) {
	hdr := &tar.Header{Name: "effective", PAXRecords: map[string]string{"path": "override"}}
	got, err := guard.ValidatePaxPath(hdr, "effective")
	require.NoError(t, err)
	require.Equal(t, "override", got)

	hdr2 := &tar.Header{Name: "same", PAXRecords: map[string]string{"path": "same"}}
	got2, err := guard.ValidatePaxPath(hdr2, "same")
	require.NoError(t, err)
	require.Empty(t, got2)
}

func TestEnsureSeekable_AlreadySeekable(t *testing.T) {
	rs := bytes.NewReader([]byte("hello"))
	out, buffered, err := guard.EnsureSeekable(rs, 1024)
	require.NoError(t, err)
	require.False(t, buffered)
	require.Same(t, io.ReadSeeker(rs), out)
}

func TestEnsureSeekable_SpillsNonSeekable(t *testing.T) {
	r := io.NopCloser(bytes.NewReader([]byte("hello world")))
	out, buffered, err := guard.EnsureSeekable(struct{ io.Reader }{r}, 1024)
	require.NoError(t, err)
	require.True(t, buffered)
	data, err := io.ReadAll(out)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))
}

func TestEnsureSeekable_ExceedsLimit(t *testing.T) {
	r := struct{ io.Reader }{bytes.NewReader(bytes.Repeat([]byte("x"), 100))}
	_, _, err := guard.EnsureSeekable(r, 10)
	require.True(t, errors.Is(err, guard.ErrTotalSizeExceeded))
}

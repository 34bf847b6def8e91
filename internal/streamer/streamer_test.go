package streamer_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/barseghyanartur/go-safetar/internal/streamer"
)

func TestExtractMemberStreaming_WritesContentAtomically(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "sub", "file.txt")
	monitor := streamer.NewMonitor(1<<20, 1<<20, 1000, 1024)

	err := streamer.ExtractMemberStreaming(strings.NewReader("hello world"), dest, 0o644, monitor)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(data))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no leftover temp file expected")
}

func TestExtractMemberStreaming_NilSrcProducesEmptyFile(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "empty.txt")
	monitor := streamer.NewMonitor(1<<20, 1<<20, 1000, 1024)

	err := streamer.ExtractMemberStreaming(nil, dest, 0o644, monitor)
	require.NoError(t, err)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	require.Zero(t, info.Size())
}

func TestExtractMemberStreaming_FileSizeExceeded(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "big.txt")
	monitor := streamer.NewMonitor(4, 1<<20, 1000, 1024)

	err := streamer.ExtractMemberStreaming(strings.NewReader("this is too long"), dest, 0o644, monitor)
	require.True(t, errors.Is(err, streamer.ErrFileSizeExceeded))

	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr), "partial file must not be left at destination")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "temp file must be cleaned up on failure")
}

func TestMonitor_RatioExceeded(t *testing.T) {
	monitor := streamer.NewMonitor(1<<30, 1<<30, 2.0, 100)
	err := monitor.Account(150)
	require.NoError(t, err)
	err = monitor.Account(100)
	require.ErrorIs(t, err, streamer.ErrCompressionRatioExceeded)
}

func TestMonitor_RatioDisabledWhenArchiveSizeZero(t *testing.T) {
	monitor := streamer.NewMonitor(1<<30, 1<<30, 0.01, 0)
	require.NoError(t, monitor.Account(1<<20))
}

func TestMonitor_TotalSizeExceededAcrossMembers(t *testing.T) {
	monitor := streamer.NewMonitor(1<<30, 10, 1000, 1024)
	require.NoError(t, monitor.Account(6))
	monitor.ResetMember()
	err := monitor.Account(6)
	require.ErrorIs(t, err, streamer.ErrTotalSizeExceeded)
}

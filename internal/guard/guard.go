// Package guard implements the Preflight and per-member classification
// phase of extraction: making the archive stream seekable, bounding its
// member count before any content is trusted, and deciding what to do with
// each header (extract, skip, defer, or reject) before the sandbox or
// streamer ever touch it.
package guard

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/barseghyanartur/go-safetar/internal/policy"
)

// MaxPath bounds the length of a resolved path, mirroring common filesystem
// PATH_MAX limits across platforms this package targets.
const MaxPath = 4096

var (
	// ErrTotalSizeExceeded is returned by EnsureSeekable when buffering a
	// non-seekable stream to disk exceeds maxTotalSize before the archive
	// has even been opened.
	ErrTotalSizeExceeded = errors.New("guard: buffered stream exceeds total size limit")
	// ErrFileCountExceeded is returned by PreScanFileCount.
	ErrFileCountExceeded = errors.New("guard: archive member count exceeds limit")
	// ErrMalformedArchive wraps any error the underlying tar reader itself
	// raises (corrupt headers, truncated input).
	ErrMalformedArchive = errors.New("guard: malformed archive")
	// ErrUnsafeEntry covers entries ValidateEntryType deems inherently
	// unsafe to extract under the active policy (a symlink under REJECT, a
	// hardlink under REJECT).
	ErrUnsafeEntry = errors.New("guard: unsafe entry")
	// ErrUnsafeEntryType covers forbidden tar type flags: devices, FIFOs,
	// sparse files under REJECT, and anything else archive/tar doesn't
	// already resolve to a known flag.
	ErrUnsafeEntryType = errors.New("guard: unsafe entry type")
	// ErrInvalidFilename covers empty, whitespace-only, NUL-containing, or
	// over-length member names.
	ErrInvalidFilename = errors.New("guard: invalid filename")
)

// EnsureSeekable returns a ReadSeeker for r. If r already implements
// io.Seeker it is returned unchanged; otherwise its content is spooled into
// a temporary file on disk, bounded by maxTotalSize, and the returned
// ReadSeeker reads from that file. The bool result reports whether spooling
// occurred, so the caller knows whether it owns a temp file to clean up.
func EnsureSeekable(r io.Reader, maxTotalSize int64) (rs io.ReadSeeker, buffered bool, err error) {
	if s, ok := r.(io.ReadSeeker); ok {
		return s, false, nil
	}

	tmp, err := os.CreateTemp("", "safetar_spool_*")
	if err != nil {
		return nil, false, fmt.Errorf("guard: create spool file: %w", err)
	}
	// The caller is responsible for closing/removing tmp once buffered is
	// true; on our own error path here we clean up ourselves.

	n, err := io.Copy(tmp, io.LimitReader(r, maxTotalSize+1))
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, false, fmt.Errorf("guard: spool archive: %w", err)
	}
	if n > maxTotalSize {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, false, ErrTotalSizeExceeded
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, false, fmt.Errorf("guard: rewind spool file: %w", err)
	}
	return tmp, true, nil
}

// PreScanFileCount counts members in an already-decompressed tar stream by
// walking headers only (never calling Next's sibling content reads), so a
// maliciously enormous member list can't be used to exhaust memory the way
// loading every header into a slice would. r is consumed in the process;
// callers that need the stream again (e.g. rs underneath it) are
// responsible for rewinding and re-wrapping it themselves, the same way
// they would before building a second tar.Reader for extraction.
func PreScanFileCount(r io.Reader, maxFiles int) (count int, err error) {
	tr := tar.NewReader(r)
	for {
		_, nextErr := tr.Next()
		if nextErr == io.EOF {
			return count, nil
		}
		if nextErr != nil {
			return count, fmt.Errorf("%w: %v", ErrMalformedArchive, nextErr)
		}
		count++
		if count > maxFiles {
			return count, ErrFileCountExceeded
		}
	}
}

// Disposition is the classification ValidateEntryType assigns to a
// member before the sandbox resolves its path or the streamer touches its
// content.
type Disposition int

const (
	// DispositionExtract means: resolve the path and write content/create
	// the node now.
	DispositionExtract Disposition = iota
	// DispositionSkip means: silently drop this member, consuming no
	// bytes.
	DispositionSkip
	// DispositionDeferSymlink means: validate now, but postpone actually
	// creating the symlink until every regular file and hardlink has been
	// extracted (the TOCTOU defense from the component design).
	DispositionDeferSymlink
)

// ValidateEntryType classifies hdr according to the active policies and
// returns the disposition to act on, or an error if the member must abort
// the whole extraction.
func ValidateEntryType(hdr *tar.Header, symlinkPolicy policy.Symlink, hardlinkPolicy policy.Hardlink, sparsePolicy policy.Sparse) (Disposition, error) {
	if isSparse(hdr) {
		if sparsePolicy == policy.SparseReject {
			return DispositionSkip, fmt.Errorf("%w: sparse file %q", ErrUnsafeEntryType, hdr.Name)
		}
		// SparseMaterialise: fall through and treat like a regular file;
		// archive/tar.Reader.Read already replays holes as NUL bytes.
		return DispositionExtract, nil
	}

	switch hdr.Typeflag {
	case tar.TypeReg, tar.TypeRegA, tar.TypeDir:
		return DispositionExtract, nil

	case tar.TypeSymlink:
		switch symlinkPolicy {
		case policy.SymlinkReject:
			return DispositionSkip, fmt.Errorf("%w: symlink %q", ErrUnsafeEntry, hdr.Name)
		case policy.SymlinkIgnore:
			return DispositionSkip, nil
		case policy.SymlinkResolveInternal:
			return DispositionDeferSymlink, nil
		default:
			return DispositionSkip, fmt.Errorf("%w: unrecognised symlink policy %q", ErrUnsafeEntry, symlinkPolicy)
		}

	case tar.TypeLink:
		switch hardlinkPolicy {
		case policy.HardlinkReject:
			return DispositionSkip, fmt.Errorf("%w: hardlink %q", ErrUnsafeEntry, hdr.Name)
		case policy.HardlinkInternal:
			return DispositionExtract, nil
		default:
			return DispositionSkip, fmt.Errorf("%w: unrecognised hardlink policy %q", ErrUnsafeEntry, hardlinkPolicy)
		}

	case tar.TypeChar:
		return DispositionSkip, fmt.Errorf("%w: character device %q", ErrUnsafeEntryType, hdr.Name)
	case tar.TypeBlock:
		return DispositionSkip, fmt.Errorf("%w: block device %q", ErrUnsafeEntryType, hdr.Name)
	case tar.TypeFifo:
		return DispositionSkip, fmt.Errorf("%w: FIFO %q", ErrUnsafeEntryType, hdr.Name)

	default:
		return DispositionSkip, fmt.Errorf("%w: unrecognised tar type code %q for %q", ErrUnsafeEntryType, string(hdr.Typeflag), hdr.Name)
	}
}

// isSparse reports whether hdr describes a GNU/PAX sparse file. This check
// runs before regular-file classification because a sparse entry may
// legitimately share TypeReg.
func isSparse(hdr *tar.Header) bool {
	if hdr.Typeflag == tar.TypeGNUSparse {
		return true
	}
	if _, ok := hdr.PAXRecords["GNU.sparse.major"]; ok {
		return true
	}
	if _, ok := hdr.PAXRecords["GNU.sparse.size"]; ok {
		return true
	}
	return false
}

// ValidateFilename rejects member names that are empty, whitespace-only,
// contain an embedded NUL, or exceed MaxPath bytes. It operates on the
// already PAX/GNU-resolved name archive/tar hands back from Next(), since
// the standard library reader has already done long-name reassembly.
func ValidateFilename(name string) error {
	trimmed := strings.TrimFunc(name, unicode.IsSpace)
	if trimmed == "" {
		return fmt.Errorf("%w: empty or whitespace-only name", ErrInvalidFilename)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: embedded NUL byte", ErrInvalidFilename)
	}
	if len(name) > MaxPath {
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidFilename, MaxPath)
	}
	return nil
}

// ValidatePaxPath validates the PAX "path" override header independently of
// the effective member name, returning it (for a separate sandbox
// resolution check) only when it differs from name. This stops an archive
// from smuggling a second, unvalidated path past a reader that only checks
// the effective name.
func ValidatePaxPath(hdr *tar.Header, effectiveName string) (string, error) {
	raw, ok := hdr.PAXRecords["path"]
	if !ok || raw == effectiveName {
		return "", nil
	}
	if strings.ContainsRune(raw, 0) {
		return "", fmt.Errorf("%w: PAX path override contains embedded NUL", ErrInvalidFilename)
	}
	if len(raw) > MaxPath {
		return "", fmt.Errorf("%w: PAX path override longer than %d bytes", ErrInvalidFilename, MaxPath)
	}
	return raw, nil
}

// ComputeArchiveHash returns the first 16 hex characters of the SHA-256
// digest of the full archive stream read from rs, restoring rs's original
// offset before returning. It lives here (rather than in streamer) because
// Preflight needs the hash before any member is classified, in order to
// stamp every SecurityEvent fired during the run.
func ComputeArchiveHash(rs io.ReadSeeker) (hash string, err error) {
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", fmt.Errorf("guard: locate archive offset: %w", err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("guard: rewind for hashing: %w", err)
	}
	defer func() {
		if _, seekErr := rs.Seek(start, io.SeekStart); seekErr != nil && err == nil {
			err = fmt.Errorf("guard: restore offset after hashing: %w", seekErr)
		}
	}()

	h := sha256.New()
	if _, err := io.Copy(h, rs); err != nil {
		return "", fmt.Errorf("guard: hash archive: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// SniffBuf peeks the first n bytes of rs without consuming them, restoring
// rs's offset before returning. Used by the root package's compression
// auto-detection to read magic bytes ahead of constructing a tar reader.
func SniffBuf(rs io.ReadSeeker, n int) ([]byte, error) {
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	read, err := io.ReadFull(rs, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if _, seekErr := rs.Seek(start, io.SeekStart); seekErr != nil {
		return nil, seekErr
	}
	return buf[:read], nil
}

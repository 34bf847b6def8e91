package safetar

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/barseghyanartur/go-safetar/internal/guard"
)

// Handle represents an opened, Preflight-validated archive ready for
// introspection or extraction. Construct one with Open; always Close it
// (directly or via defer) so any spooled temp file is removed.
type Handle struct {
	cfg Config

	rs       io.ReadSeeker
	ownsFile bool // true when Open opened the underlying *os.File itself
	spooled  bool // true when guard.EnsureSeekable spooled to a temp file
	spoolF   *os.File

	archiveSize int64
	archiveHash string

	closed bool
}

// Open validates and prepares path for extraction or introspection. The
// nesting-depth check (if Config.NestingDepth >= Config.MaxNestingDepth)
// runs before anything else is touched on disk.
func Open(path string, opts ...Option) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("safetar: open %s: %w", path, err)
	}
	h, err := openFrom(f, true, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return h, nil
}

// OpenReader is like Open but reads from an already-open source instead of
// a filesystem path. safetar does not take ownership of r; closing the
// returned Handle never closes r.
func OpenReader(r io.Reader, opts ...Option) (*Handle, error) {
	return openFrom(r, false, opts)
}

func openFrom(r io.Reader, ownsFile bool, opts []Option) (*Handle, error) {
	cfg, err := applyOptions(DefaultConfig(), opts)
	if err != nil {
		return nil, err
	}
	if cfg.NestingDepth >= cfg.MaxNestingDepth {
		return nil, newErr(KindNestingDepthExceeded, "", fmt.Sprintf("nesting depth %d at or beyond limit %d", cfg.NestingDepth, cfg.MaxNestingDepth), nil)
	}

	rs, spooled, err := guard.EnsureSeekable(r, cfg.MaxTotalSize)
	if err != nil {
		if errors.Is(err, guard.ErrTotalSizeExceeded) {
			return nil, newErr(KindTotalSizeExceeded, "", "archive exceeds maximum total size while buffering", err)
		}
		return nil, fmt.Errorf("safetar: %w", err)
	}

	archiveSize, err := streamLen(rs)
	if err != nil {
		cleanupSpool(rs, spooled)
		return nil, fmt.Errorf("safetar: determine archive size: %w", err)
	}

	hash, err := guard.ComputeArchiveHash(rs)
	if err != nil {
		cleanupSpool(rs, spooled)
		return nil, fmt.Errorf("safetar: %w", err)
	}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		cleanupSpool(rs, spooled)
		return nil, fmt.Errorf("safetar: rewind before pre-scan: %w", err)
	}
	dr, err := decompressionReader(rs)
	if err != nil {
		cleanupSpool(rs, spooled)
		return nil, err
	}
	if _, err := guard.PreScanFileCount(dr, cfg.MaxFiles); err != nil {
		cleanupSpool(rs, spooled)
		if errors.Is(err, guard.ErrFileCountExceeded) {
			return nil, newErr(KindFileCountExceeded, "", "archive member count exceeds limit", err)
		}
		return nil, newErr(KindMalformedArchive, "", "failed to pre-scan archive", err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		cleanupSpool(rs, spooled)
		return nil, fmt.Errorf("safetar: rewind after pre-scan: %w", err)
	}

	h := &Handle{
		cfg:         cfg,
		rs:          rs,
		ownsFile:    ownsFile,
		spooled:     spooled,
		archiveSize: archiveSize,
		archiveHash: hash,
	}
	if spooled {
		if f, ok := rs.(*os.File); ok {
			h.spoolF = f
		}
	}
	return h, nil
}

// Close releases resources associated with the Handle: the underlying file
// (if Open opened it) and any spooled temp file EnsureSeekable created.
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true

	var firstErr error
	if h.spooled && h.spoolF != nil {
		name := h.spoolF.Name()
		if err := h.spoolF.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		os.Remove(name)
	}
	if h.ownsFile {
		if f, ok := h.rs.(*os.File); ok && f != h.spoolF {
			if err := f.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// tarReader builds a fresh archive/tar.Reader over the decompressed stream,
// rewinding h.rs to the start first. archive/tar is used directly here
// (not through any filtering wrapper) because the Guard/Sandbox/Streamer
// pipeline needs to see every header, including the ones it will go on to
// reject, in order to classify and report on them itself.
func (h *Handle) tarReader() (*tar.Reader, error) {
	if _, err := h.rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("safetar: rewind archive: %w", err)
	}
	dr, err := decompressionReader(h.rs)
	if err != nil {
		return nil, err
	}
	return tar.NewReader(dr), nil
}

// GetNames returns every member name in the archive, in archive order,
// without reading any member's content.
func (h *Handle) GetNames() ([]string, error) {
	members, err := h.GetMembers()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Name
	}
	return names, nil
}

// GetMembers returns every member header in the archive, in archive order,
// without reading any member's content.
func (h *Handle) GetMembers() ([]*tar.Header, error) {
	tr, err := h.tarReader()
	if err != nil {
		return nil, err
	}
	var members []*tar.Header
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return members, nil
		}
		if err != nil {
			return nil, newErr(KindMalformedArchive, "", "failed to read archive headers", err)
		}
		members = append(members, hdr)
	}
}

// GetMember returns the header for a single named member, or an error if no
// member by that name exists.
func (h *Handle) GetMember(name string) (*tar.Header, error) {
	members, err := h.GetMembers()
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m.Name == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("safetar: no such member %q", name)
}

func streamLen(rs io.ReadSeeker) (int64, error) {
	cur, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	end, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := rs.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return end, nil
}

func cleanupSpool(rs io.ReadSeeker, spooled bool) {
	if !spooled {
		return
	}
	if f, ok := rs.(*os.File); ok {
		f.Close()
		os.Remove(f.Name())
	}
}

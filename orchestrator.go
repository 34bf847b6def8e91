package safetar

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/barseghyanartur/go-safetar/internal/guard"
	"github.com/barseghyanartur/go-safetar/internal/logger"
	"github.com/barseghyanartur/go-safetar/internal/sandbox"
	"github.com/barseghyanartur/go-safetar/internal/streamer"
)

// maxSymlinkFollow bounds symlink chain walking, preventing loops or
// excessive indirection from turning a single member into unbounded work.
const maxSymlinkFollow = 10

type deferredSymlink struct {
	path   string
	target string
}

type deferredDir struct {
	path string
	hdr  *tar.Header
}

// ExtractAll extracts every member of the archive into dest, or, if members
// is non-empty, only the named subset. Symlinks are validated immediately
// but created only after every regular file and hardlink has been written;
// directory metadata (mode, ownership, mtime) is likewise applied only
// after every member has been extracted. Both deferrals exist to close the
// TOCTOU window an attacker could otherwise use to redirect a later member
// through an earlier one.
func (h *Handle) ExtractAll(dest string, members []string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("safetar: create destination directory: %w", err)
	}

	var selection map[string]bool
	if len(members) > 0 {
		selection = make(map[string]bool, len(members))
		for _, m := range members {
			selection[m] = true
		}
	}

	tr, err := h.tarReader()
	if err != nil {
		return err
	}

	monitor := streamer.NewMonitor(h.cfg.MaxFileSize, h.cfg.MaxTotalSize, h.cfg.MaxRatio, h.archiveSize)
	extracted := sandbox.NewExtractedSet()
	var symlinks []deferredSymlink
	var dirs []deferredDir

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return newErr(KindMalformedArchive, "", "failed reading member header", err)
		}

		if selection != nil && !selection[hdr.Name] {
			continue
		}
		name := hdr.Name

		if err := guard.ValidateFilename(hdr.Name); err != nil {
			h.fireEvent(hdr.Typeflag)
			return newErr(KindUnsafeEntry, hdr.Name, "invalid filename", err)
		}
		paxPath, err := guard.ValidatePaxPath(hdr, hdr.Name)
		if err != nil {
			h.fireEvent(hdr.Typeflag)
			return newErr(KindUnsafeEntry, hdr.Name, "invalid PAX path override", err)
		}

		disposition, err := guard.ValidateEntryType(hdr, h.cfg.SymlinkPolicy, h.cfg.HardlinkPolicy, h.cfg.SparsePolicy)
		if err != nil {
			h.fireEvent(hdr.Typeflag)
			return classifyGuardError(hdr.Name, err)
		}
		if disposition == guard.DispositionSkip {
			if h.cfg.OnMemberExtracted != nil {
				h.cfg.OnMemberExtracted(name)
			}
			continue
		}

		destPath, err := sandbox.ResolveMemberPath(dest, hdr.Name)
		if err != nil {
			h.fireEvent(hdr.Typeflag)
			return newErr(KindUnsafeEntry, hdr.Name, "path resolution failed", err)
		}
		if paxPath != "" {
			if _, err := sandbox.ResolveMemberPath(dest, paxPath); err != nil {
				h.fireEvent(hdr.Typeflag)
				return newErr(KindUnsafeEntry, hdr.Name, "PAX path override resolution failed", err)
			}
		}

		if disposition == guard.DispositionDeferSymlink {
			if err := sandbox.VerifySymlinkChain(dest, destPath, hdr.Linkname, maxSymlinkFollow); err != nil {
				h.fireEvent(hdr.Typeflag)
				return newErr(KindUnsafeEntry, hdr.Name, "symlink escapes destination", err)
			}
			symlinks = append(symlinks, deferredSymlink{path: destPath, target: hdr.Linkname})
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return fmt.Errorf("safetar: create directory %s: %w", hdr.Name, err)
			}
			dirs = append(dirs, deferredDir{path: destPath, hdr: hdr})

		case tar.TypeLink:
			resolvedTarget, err := sandbox.VerifyHardlinkTarget(dest, hdr.Linkname, extracted)
			if err != nil {
				h.fireEvent(hdr.Typeflag)
				return newErr(KindUnsafeEntry, hdr.Name, "hardlink target rejected", err)
			}
			if err := os.Link(resolvedTarget, destPath); err != nil {
				return fmt.Errorf("safetar: create hardlink %s: %w", hdr.Name, err)
			}
			extracted.Add(destPath)

		default:
			mode := sandbox.SanitiseMode(os.FileMode(hdr.Mode), h.cfg.StripSpecialBits, h.cfg.StripWriteBits)
			if err := streamer.ExtractMemberStreaming(tr, destPath, mode, monitor); err != nil {
				h.fireEvent(hdr.Typeflag)
				return classifyStreamerError(hdr.Name, err)
			}
			applyFileMetadata(destPath, hdr, h.cfg)
			extracted.Add(destPath)
		}

		logger.Default().Debug("member extracted", map[string]any{"name": name, "typeflag": string(hdr.Typeflag)})

		if h.cfg.OnMemberExtracted != nil {
			h.cfg.OnMemberExtracted(name)
		}
	}

	for _, s := range symlinks {
		// Re-verify right before creation: the TOCTOU window this closes is
		// exactly the time between validation above and this loop, during
		// which every other member in the archive has now been written.
		if err := sandbox.VerifySymlinkChain(dest, s.path, s.target, maxSymlinkFollow); err != nil {
			h.fireEvent(tar.TypeSymlink)
			return newErr(KindUnsafeEntry, s.path, "symlink escapes destination on re-verification", err)
		}
		if err := os.Symlink(s.target, s.path); err != nil {
			return fmt.Errorf("safetar: create symlink %s: %w", s.path, err)
		}
	}

	for _, d := range dirs {
		applyDirMetadata(d.path, d.hdr, h.cfg)
	}

	return nil
}

// ExtractOne extracts a single named member into dest.
func (h *Handle) ExtractOne(dest, member string) error {
	return h.ExtractAll(dest, []string{member})
}

func (h *Handle) fireEvent(typeflag byte) {
	cb := h.cfg.OnSecurityEvent
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			// A panicking callback must never abort the extraction it's
			// merely observing.
			logger.Default().Warn("security event callback panicked", map[string]any{"recovered": r})
		}
	}()
	cb(SecurityEvent{
		EventType:   eventTypeFor(typeflag),
		ArchiveHash: h.archiveHash,
		Timestamp:   float64(time.Now().UnixNano()) / 1e9,
	})
}

func classifyGuardError(member string, err error) error {
	switch {
	case errors.Is(err, guard.ErrUnsafeEntryType):
		return newErr(KindUnsafeEntryType, member, "forbidden or unrecognised entry type", err)
	case errors.Is(err, guard.ErrUnsafeEntry):
		return newErr(KindUnsafeEntry, member, "entry rejected by active policy", err)
	default:
		return newErr(KindMalformedArchive, member, "failed to classify entry", err)
	}
}

func classifyStreamerError(member string, err error) error {
	switch {
	case errors.Is(err, streamer.ErrFileSizeExceeded):
		return newErr(KindFileSizeExceeded, member, "member exceeds maximum file size", err)
	case errors.Is(err, streamer.ErrTotalSizeExceeded):
		return newErr(KindTotalSizeExceeded, member, "aggregate extracted size exceeds maximum", err)
	case errors.Is(err, streamer.ErrCompressionRatioExceeded):
		return newErr(KindCompressionRatioExceeded, member, "compression ratio exceeds maximum", err)
	default:
		return newErr(KindMalformedArchive, member, "failed to stream member content", err)
	}
}

// applyFileMetadata applies ownership before mode, matching the original
// implementation's ordering: chown can silently clear setuid/setgid bits on
// some kernels, so the sanitised mode is applied last, after ownership, and
// any special bit the caller chose not to strip is not lost to the chown.
func applyFileMetadata(path string, hdr *tar.Header, cfg Config) {
	uid, gid := sandbox.SanitiseOwnership(hdr.Uid, hdr.Gid, cfg.PreserveOwner)
	_ = os.Chown(path, uid, gid)

	mode := sandbox.SanitiseMode(os.FileMode(hdr.Mode), cfg.StripSpecialBits, cfg.StripWriteBits)
	_ = os.Chmod(path, mode)

	mtime := sandbox.SanitiseMtime(hdr.ModTime, cfg.ClampTimestamps, time.Now())
	_ = os.Chtimes(path, mtime, mtime)
}

func applyDirMetadata(path string, hdr *tar.Header, cfg Config) {
	applyFileMetadata(path, hdr, cfg)
}

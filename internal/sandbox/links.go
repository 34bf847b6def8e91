package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrForwardReference is returned by VerifyHardlinkTarget when a hardlink
// points at a member that hasn't been extracted yet (or at all) in this
// pass. The pipeline never looks ahead to satisfy it: if the archive didn't
// extract the target before the link, the link is rejected.
var ErrForwardReference = errors.New("sandbox: hardlink target forward reference rejected")

// ErrSymlinkChainTooLong is returned by VerifySymlinkChain when following a
// symlink's target chain exceeds maxFollow hops, guarding against
// indirection loops or excessively deep redirection.
var ErrSymlinkChainTooLong = errors.New("sandbox: symlink chain exceeds maximum follow count")

// ExtractedSet tracks every destination path successfully written during an
// extraction pass. Hardlink targets are checked against it rather than
// against the filesystem alone, so a hardlink can only ever point at
// something this same run proved safe — a capability, not an ambient
// filesystem fact.
type ExtractedSet struct {
	paths map[string]struct{}
}

// NewExtractedSet returns an empty ExtractedSet.
func NewExtractedSet() *ExtractedSet {
	return &ExtractedSet{paths: make(map[string]struct{})}
}

// Add records path as successfully extracted.
func (s *ExtractedSet) Add(path string) {
	s.paths[path] = struct{}{}
}

// Contains reports whether path was previously recorded with Add.
func (s *ExtractedSet) Contains(path string) bool {
	_, ok := s.paths[path]
	return ok
}

// VerifySymlinkChain checks that a symlink about to be created at
// symlinkPath, pointing at the raw target symlinkTarget, resolves to
// somewhere inside baseDir, then follows any further links already present
// on disk at that resolved location (up to maxFollow hops), re-checking
// containment at every hop.
func VerifySymlinkChain(baseDir, symlinkPath, symlinkTarget string, maxFollow int) error {
	current := symlinkTarget
	if !filepath.IsAbs(current) {
		current = filepath.Join(filepath.Dir(symlinkPath), current)
	}
	current = filepath.Clean(current)

	if err := requireContained(baseDir, current); err != nil {
		return err
	}

	for hop := 0; hop < maxFollow; hop++ {
		target, err := os.Readlink(current)
		if err != nil {
			// Not a symlink (or doesn't exist yet) - nothing further to
			// follow, and that's fine: the chain ends here.
			return nil
		}
		next := target
		if !filepath.IsAbs(next) {
			next = filepath.Join(filepath.Dir(current), next)
		}
		next = filepath.Clean(next)
		if err := requireContained(baseDir, next); err != nil {
			return err
		}
		current = next
	}

	if _, err := os.Readlink(current); err == nil {
		return ErrSymlinkChainTooLong
	}
	return nil
}

// VerifyHardlinkTarget resolves linkTarget relative to baseDir and requires
// it to already be present in extracted, returning the resolved path.
func VerifyHardlinkTarget(baseDir, linkTarget string, extracted *ExtractedSet) (string, error) {
	resolved, err := ResolveMemberPath(baseDir, linkTarget)
	if err != nil {
		return "", err
	}
	if !extracted.Contains(resolved) {
		return "", fmt.Errorf("%w: %s", ErrForwardReference, linkTarget)
	}
	if _, err := os.Lstat(resolved); err != nil {
		return "", fmt.Errorf("sandbox: hardlink target missing on disk: %w", err)
	}
	return resolved, nil
}

func requireContained(baseDir, candidate string) error {
	cleanBase := filepath.Clean(baseDir)
	if candidate == cleanBase || strings.HasPrefix(candidate, cleanBase+string(filepath.Separator)) {
		return nil
	}
	return ErrEscapesBase
}

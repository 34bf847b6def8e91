// Package sandbox resolves validated member names into destination-relative
// filesystem paths, verifies symlink and hardlink targets stay contained,
// and sanitises the metadata (mode, ownership, mtime) applied to extracted
// files. Everything here assumes the guard package has already classified
// the member; sandbox only concerns itself with "is this path, or this
// link target, actually safe to touch on disk."
package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/barseghyanartur/go-safetar/sanitizer"
)

// MaxPath mirrors guard.MaxPath; duplicated rather than imported to keep
// sandbox independent of guard (both depend only on policy and sanitizer).
const MaxPath = 4096

// ErrPathTooLong is returned when the fully resolved destination path would
// exceed MaxPath bytes.
var ErrPathTooLong = errors.New("sandbox: resolved path exceeds maximum length")

// ErrEscapesBase is returned when, after every other check, the resolved
// path still doesn't live under baseDir. This is the belt-and-braces check
// the component design calls for: by the time we reach it, ResolveRelative
// and SecureJoin should already have made this unreachable for any member
// name that wasn't itself malicious in a way they didn't anticipate.
var ErrEscapesBase = errors.New("sandbox: resolved path escapes destination directory")

// ResolveMemberPath turns a tar member name into an absolute path rooted at
// baseDir. It normalizes and rejects traversal via sanitizer.ResolveRelative
// first, then re-validates containment with filepath-securejoin as an
// independent second opinion, and finally re-checks the joined result
// against baseDir directly before returning.
func ResolveMemberPath(baseDir, memberName string) (string, error) {
	rel, err := sanitizer.ResolveRelative(memberName)
	if err != nil {
		return "", err
	}

	resolved, err := securejoin.SecureJoin(baseDir, rel)
	if err != nil {
		return "", fmt.Errorf("sandbox: securejoin: %w", err)
	}

	if len(resolved) > MaxPath {
		return "", ErrPathTooLong
	}

	cleanBase := filepath.Clean(baseDir)
	if resolved != cleanBase && !strings.HasPrefix(resolved, cleanBase+string(filepath.Separator)) {
		return "", ErrEscapesBase
	}

	return resolved, nil
}

package safetar

import "github.com/barseghyanartur/go-safetar/internal/policy"

// SymlinkPolicy controls how symlink members are handled.
type SymlinkPolicy = policy.Symlink

const (
	// SymlinkReject fails extraction as soon as a symlink member is seen.
	SymlinkReject = policy.SymlinkReject
	// SymlinkIgnore silently drops symlink members, extracting everything
	// else.
	SymlinkIgnore = policy.SymlinkIgnore
	// SymlinkResolveInternal extracts symlinks whose target, once resolved
	// and chain-walked, stays inside the destination directory.
	SymlinkResolveInternal = policy.SymlinkResolveInternal
)

// HardlinkPolicy controls how hardlink members are handled.
type HardlinkPolicy = policy.Hardlink

const (
	// HardlinkReject fails extraction as soon as a hardlink member is seen.
	HardlinkReject = policy.HardlinkReject
	// HardlinkInternal extracts hardlinks whose target has already been
	// extracted from this same archive.
	HardlinkInternal = policy.HardlinkInternal
)

// SparsePolicy controls how GNU/PAX sparse file members are handled.
type SparsePolicy = policy.Sparse

const (
	// SparseReject fails extraction as soon as a sparse member is seen.
	SparseReject = policy.SparseReject
	// SparseMaterialise extracts a sparse member as a normal file, with
	// holes read back as NUL bytes by the underlying tar reader.
	SparseMaterialise = policy.SparseMaterialise
)

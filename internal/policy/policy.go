// Package policy defines the disposition enums shared by the guard package
// and the root safetar package that re-exports them. It exists only to
// break the import cycle that would otherwise form between guard and the
// public API.
package policy

// Symlink controls how symlink members are handled.
type Symlink string

const (
	SymlinkReject          Symlink = "reject"
	SymlinkIgnore          Symlink = "ignore"
	SymlinkResolveInternal Symlink = "resolve_internal"
)

// Hardlink controls how hardlink members are handled.
type Hardlink string

const (
	HardlinkReject   Hardlink = "reject"
	HardlinkInternal Hardlink = "internal"
)

// Sparse controls how GNU/PAX sparse file members are handled.
type Sparse string

const (
	SparseReject      Sparse = "reject"
	SparseMaterialise Sparse = "materialise"
)

// Package safetar implements hardened extraction of TAR archives (plain,
// gzip, bzip2, or xz compressed) with defense in depth against path
// traversal, symlink and hardlink escapes, decompression bombs, device and
// FIFO injection, setuid smuggling, and sparse-file abuse.
//
// A typical extraction looks like:
//
//	h, err := safetar.Open("archive.tar.gz")
//	if err != nil {
//		return err
//	}
//	defer h.Close()
//	if err := h.ExtractAll("/dest", nil); err != nil {
//		return err
//	}
//
// Extract is a one-shot convenience wrapper around Open, ExtractAll, and
// Close for callers that don't need introspection.
package safetar

// Extract opens archivePath and extracts all (or, if members is non-empty,
// only the named) members into dest, closing the archive before returning.
func Extract(archivePath, dest string, members []string, opts ...Option) error {
	h, err := Open(archivePath, opts...)
	if err != nil {
		return err
	}
	defer h.Close()
	return h.ExtractAll(dest, members)
}

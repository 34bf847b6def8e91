package safetar

import "fmt"

// ErrorKind classifies a SafetarError into the taxonomy a caller can switch
// on without string-matching error messages.
type ErrorKind int

const (
	// KindUnsafeEntry covers path traversal, absolute paths, symlink or
	// hardlink targets that escape the destination, and symlinks/hardlinks
	// rejected under a REJECT policy.
	KindUnsafeEntry ErrorKind = iota
	// KindUnsafeEntryType covers forbidden tar type flags (devices, FIFOs)
	// and sparse files rejected under SparseReject.
	KindUnsafeEntryType
	// KindFileSizeExceeded covers a single member exceeding MaxFileSize.
	KindFileSizeExceeded
	// KindTotalSizeExceeded covers the running extracted total exceeding
	// MaxTotalSize.
	KindTotalSizeExceeded
	// KindCompressionRatioExceeded covers the aggregate decompressed/
	// compressed ratio exceeding MaxRatio.
	KindCompressionRatioExceeded
	// KindFileCountExceeded covers the archive containing more members than
	// MaxFiles.
	KindFileCountExceeded
	// KindNestingDepthExceeded covers a caller-supplied nesting depth at or
	// beyond MaxNestingDepth.
	KindNestingDepthExceeded
	// KindMalformedArchive covers any error surfaced by the underlying tar
	// reader itself (corrupt headers, truncated input, decompression
	// failure).
	KindMalformedArchive
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnsafeEntry:
		return "unsafe_entry"
	case KindUnsafeEntryType:
		return "unsafe_entry_type"
	case KindFileSizeExceeded:
		return "file_size_exceeded"
	case KindTotalSizeExceeded:
		return "total_size_exceeded"
	case KindCompressionRatioExceeded:
		return "compression_ratio_exceeded"
	case KindFileCountExceeded:
		return "file_count_exceeded"
	case KindNestingDepthExceeded:
		return "nesting_depth_exceeded"
	case KindMalformedArchive:
		return "malformed_archive"
	default:
		return "unknown"
	}
}

// SafetarError is the single root error type for every rejection this
// package raises. Every leaf constructed internally carries a member name
// for diagnostics, but Error() never includes it — callers that want the
// name read the Member field explicitly, keeping log lines opt-in rather
// than leaking paths by default.
type SafetarError struct {
	Kind    ErrorKind
	Member  string
	Message string
	Err     error
}

func (e *SafetarError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("safetar: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("safetar: %s", e.Kind)
}

func (e *SafetarError) Unwrap() error {
	return e.Err
}

func newErr(kind ErrorKind, member, message string, cause error) *SafetarError {
	return &SafetarError{Kind: kind, Member: member, Message: message, Err: cause}
}

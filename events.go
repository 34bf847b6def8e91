package safetar

import "archive/tar"

// SecurityEvent records that a defensive check fired during extraction. It
// deliberately carries no filename or path: the event is meant to be safe
// to forward to third-party telemetry, so the only identifying information
// is a hash of the whole archive, never a member name.
type SecurityEvent struct {
	// EventType is one of "symlink_violation", "hardlink_violation",
	// "directory_violation", or "security_violation".
	EventType string
	// ArchiveHash is the first 16 hex characters of the SHA-256 digest of
	// the entire (possibly compressed) archive stream.
	ArchiveHash string
	// Timestamp is the Unix time, in seconds, the event fired.
	Timestamp float64
}

// OnSecurityEvent is invoked once per rejected member, before the triggering
// error propagates to the caller. A panicking callback is recovered and
// logged, never allowed to abort the extraction it is merely observing.
type OnSecurityEvent func(SecurityEvent)

// eventTypeFor derives the coarse event_type string from the tar type flag
// of the member that triggered a rejection, mirroring the distinction a
// telemetry consumer cares about (which class of entry was unsafe) without
// exposing the entry itself.
func eventTypeFor(typeflag byte) string {
	switch typeflag {
	case tar.TypeSymlink:
		return "symlink_violation"
	case tar.TypeLink:
		return "hardlink_violation"
	case tar.TypeDir:
		return "directory_violation"
	default:
		return "security_violation"
	}
}

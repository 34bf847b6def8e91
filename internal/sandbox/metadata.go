package sandbox

import (
	"os"
	"time"
)

const (
	setuid    = 1 << 11
	setgid    = 1 << 10
	sticky    = 1 << 9
	writeBits = 0o222
)

// SanitiseMode clears the setuid, setgid and sticky bits from mode when
// stripSpecialBits is set, and additionally clears the 0o222 write bits when
// stripWriteBits is set. Special bits are stripped first; this is the main
// defense against an archive smuggling a setuid binary into place via
// extraction, with write-bit stripping as an additional, independently
// opt-in hardening for callers that want extracted trees read-only.
func SanitiseMode(mode os.FileMode, stripSpecialBits, stripWriteBits bool) os.FileMode {
	if stripSpecialBits {
		mode &^= setuid | setgid | sticky
	}
	if stripWriteBits {
		mode &^= writeBits
	}
	return mode
}

// SanitiseOwnership returns the uid/gid to apply to an extracted file.
// Unless preserveOwnership is set, ownership always reverts to the
// extracting process's own uid/gid rather than whatever the archive
// claims, since archived uid/gid numbers may not even refer to real
// accounts on the extracting host.
func SanitiseOwnership(archivedUID, archivedGID int, preserveOwnership bool) (uid, gid int) {
	if preserveOwnership {
		return archivedUID, archivedGID
	}
	return os.Getuid(), os.Getgid()
}

// clampLowerBound and clampUpperBound bound mtime to the classic 32-bit
// Unix timestamp range; archives claiming a time before the epoch or past
// what a 32-bit time_t can hold are almost certainly malformed or hostile
// rather than meaningful.
const (
	clampLowerBound int64 = 0
	clampUpperBound int64 = 1<<32 - 1
)

// SanitiseMtime returns mtime unchanged unless clampTimestamps is set and
// mtime falls outside the 32-bit Unix timestamp range, in which case it
// returns now instead.
func SanitiseMtime(mtime time.Time, clampTimestamps bool, now time.Time) time.Time {
	if !clampTimestamps {
		return mtime
	}
	sec := mtime.Unix()
	if sec < clampLowerBound || sec > clampUpperBound {
		return now
	}
	return mtime
}

package safetar

import (
	"bytes"
	"compress/bzip2"
	"fmt"
	"io"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/barseghyanartur/go-safetar/internal/guard"
)

// compression identifies the outer envelope wrapping a tar stream.
type compression int

const (
	compressionNone compression = iota
	compressionGzip
	compressionBzip2
	compressionXz
)

// magic numbers for each supported compression envelope, checked in the
// order declared; the first prefix match wins.
var magicNumbers = []struct {
	c      compression
	prefix []byte
}{
	{compressionGzip, []byte{0x1F, 0x8B, 0x08}},
	{compressionBzip2, []byte{0x42, 0x5A, 0x68}},
	{compressionXz, []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}},
}

func detectCompression(prefix []byte) compression {
	for _, m := range magicNumbers {
		if len(prefix) >= len(m.prefix) && bytes.Equal(prefix[:len(m.prefix)], m.prefix) {
			return m.c
		}
	}
	return compressionNone
}

// decompressionReader peeks the first bytes of rs (without consuming them,
// courtesy of guard.SniffBuf) to auto-detect gzip, bzip2, or xz envelopes,
// the same way tarfile.open(mode="r:*") does on the Python side, then
// returns an io.Reader over the decompressed tar stream.
//
// Gzip decoding goes through klauspost/compress for its pooled, faster
// implementation; xz has no standard-library support at all, so it goes
// through ulikunitz/xz, a pure-Go decoder with no external process
// dependency; bzip2 has no write path in this package's scope and the
// standard library's read-only decoder is already the idiomatic choice, so
// it is used directly.
func decompressionReader(rs io.ReadSeeker) (io.Reader, error) {
	prefix, err := sniffPrefix(rs)
	if err != nil {
		return nil, fmt.Errorf("safetar: sniff compression header: %w", err)
	}

	switch detectCompression(prefix) {
	case compressionGzip:
		gz, err := kgzip.NewReader(rs)
		if err != nil {
			return nil, newErr(KindMalformedArchive, "", "invalid gzip stream", err)
		}
		return gz, nil
	case compressionBzip2:
		return bzip2.NewReader(rs), nil
	case compressionXz:
		xr, err := xz.NewReader(rs)
		if err != nil {
			return nil, newErr(KindMalformedArchive, "", "invalid xz stream", err)
		}
		return xr, nil
	default:
		return rs, nil
	}
}

func sniffPrefix(rs io.ReadSeeker) ([]byte, error) {
	return guard.SniffBuf(rs, 6)
}

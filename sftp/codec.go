package sftp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrShortBuffer is the cause wrapped into BadMessage errors produced by the
// decode primitives below when the supplied slice doesn't hold enough bytes.
var ErrShortBuffer = errors.New("sftp: short buffer")

// decodeUint32 reads a big-endian uint32 at the start of b.
func decodeUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, errors.Wrap(ErrShortBuffer, "u32")
	}
	return binary.BigEndian.Uint32(b), b[4:], nil
}

// decodeUint64 reads a big-endian uint64 at the start of b.
func decodeUint64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, errors.Wrap(ErrShortBuffer, "u64")
	}
	return binary.BigEndian.Uint64(b), b[8:], nil
}

// decodeString reads a length-prefixed UTF-8 string: uint32 length followed
// by that many bytes. It returns the decoded string and the remainder of b.
func decodeString(b []byte) (string, []byte, error) {
	n, rest, err := decodeUint32(b)
	if err != nil {
		return "", nil, errors.Wrap(err, "string length")
	}
	if uint64(len(rest)) < uint64(n) {
		return "", nil, errors.Wrap(ErrShortBuffer, "string body")
	}
	return string(rest[:n]), rest[n:], nil
}

// putUint32 appends a big-endian uint32 to buf.
func putUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

// putUint64 appends a big-endian uint64 to buf.
func putUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

// putString appends a length-prefixed string to buf. A zero-value string
// encodes as a zero-length field, never a missing one.
func putString(buf []byte, s string) []byte {
	buf = putUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

// putBytes appends a length-prefixed byte slice to buf.
func putBytes(buf []byte, p []byte) []byte {
	buf = putUint32(buf, uint32(len(p)))
	return append(buf, p...)
}

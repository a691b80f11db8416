package sftp

import "os"

// Attrs flag bits, draft-ietf-secsh-filexfer-02 §5.
const (
	attrSize        = 0x00000001
	attrUIDGID      = 0x00000002
	attrPermissions = 0x00000004
	attrACModTime   = 0x00000008
)

const (
	dirPermissions  = 0x41FD // 040775
	filePermissions = 0x81A4 // 100644
)

// Attrs is the self-describing (flags, size?, uid?, gid?, permissions?,
// atime?, mtime?) tuple of §3. Each pointer-ish optional field is present
// iff its bit in Flags is set; absent fields are the zero value and MUST
// NOT be encoded.
type Attrs struct {
	Flags       uint32
	Size        uint64
	UID, GID    uint32
	Permissions uint32
	ATime       uint32
	MTime       uint32
}

// dummyAttrs is the zero-times attrs block draft-02 permits for REALPATH and
// READLINK responses.
var dummyAttrs = Attrs{}

// attrsForInfo builds the default attrs for a stat/directory-listing
// response: flags = size|uid/gid|permissions|acmodtime, per §4.4.
func attrsForInfo(info os.FileInfo) Attrs {
	perm := uint32(filePermissions)
	size := uint64(0)
	if info.IsDir() {
		perm = dirPermissions
	} else {
		size = uint64(info.Size())
	}
	mtime := uint32(info.ModTime().Unix())
	return Attrs{
		Flags:       attrSize | attrUIDGID | attrPermissions | attrACModTime,
		Size:        size,
		Permissions: perm,
		ATime:       mtime,
		MTime:       mtime,
	}
}

// decodeAttrs parses an Attrs tuple from the wire, gated field-by-field by
// Flags, and returns the remainder of b.
func decodeAttrs(b []byte) (Attrs, []byte, error) {
	var a Attrs
	var err error
	a.Flags, b, err = decodeUint32(b)
	if err != nil {
		return a, nil, err
	}
	if a.Flags&attrSize != 0 {
		a.Size, b, err = decodeUint64(b)
		if err != nil {
			return a, nil, err
		}
	}
	if a.Flags&attrUIDGID != 0 {
		a.UID, b, err = decodeUint32(b)
		if err != nil {
			return a, nil, err
		}
		a.GID, b, err = decodeUint32(b)
		if err != nil {
			return a, nil, err
		}
	}
	if a.Flags&attrPermissions != 0 {
		a.Permissions, b, err = decodeUint32(b)
		if err != nil {
			return a, nil, err
		}
	}
	if a.Flags&attrACModTime != 0 {
		a.ATime, b, err = decodeUint32(b)
		if err != nil {
			return a, nil, err
		}
		a.MTime, b, err = decodeUint32(b)
		if err != nil {
			return a, nil, err
		}
	}
	return a, b, nil
}

// encode appends the wire form of a to buf, honoring only the bits set in
// Flags.
func (a Attrs) encode(buf []byte) []byte {
	buf = putUint32(buf, a.Flags)
	if a.Flags&attrSize != 0 {
		buf = putUint64(buf, a.Size)
	}
	if a.Flags&attrUIDGID != 0 {
		buf = putUint32(buf, a.UID)
		buf = putUint32(buf, a.GID)
	}
	if a.Flags&attrPermissions != 0 {
		buf = putUint32(buf, a.Permissions)
	}
	if a.Flags&attrACModTime != 0 {
		buf = putUint32(buf, a.ATime)
		buf = putUint32(buf, a.MTime)
	}
	return buf
}

package sftp

import (
	"errors"
	"io"
	"os"
	"sort"
	"time"
)

// handleOpen implements OPEN (§4.4): permission gate, then allocate a
// FileHandle with the disposition chosen from the highest-priority pflag
// present (truncate > create > append > open-existing).
func (s *Subsystem) handleOpen(body []byte) []byte {
	id, rest, err := decodeUint32(body)
	if err != nil {
		return nil
	}
	path, rest, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed OPEN")
	}
	pflags, rest, err := decodeUint32(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed OPEN")
	}
	_, _, _ = decodeAttrs(rest) // attrs are accepted but not applied on create

	wantRead := pflags&pflagRead != 0
	wantWrite := pflags&(pflagWrite|pflagAppend|pflagCreate|pflagTruncate) != 0

	if wantWrite && !s.perms.Upload {
		return s.statusResponse(id, "OPEN", newStatusError(StatusPermissionDenied, "Permission denied: Upload not allowed"))
	}
	if wantRead && !s.perms.Download {
		return s.statusResponse(id, "OPEN", newStatusError(StatusPermissionDenied, "Permission denied: Download not allowed"))
	}

	flag := os.O_RDONLY
	switch {
	case pflags&pflagTruncate != 0:
		flag = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case pflags&pflagCreate != 0:
		flag = os.O_WRONLY | os.O_CREATE
	case pflags&pflagAppend != 0:
		flag = os.O_WRONLY | os.O_APPEND | os.O_CREATE
	case wantWrite:
		flag = os.O_WRONLY
	case wantRead:
		flag = os.O_RDONLY
	}
	if wantRead && wantWrite {
		flag = (flag &^ (os.O_RDONLY | os.O_WRONLY)) | os.O_RDWR
	}

	physical := s.jail.Resolve(path)
	f, err := os.OpenFile(physical, flag, 0o644)
	if err != nil {
		return s.statusResponse(id, "OPEN", err)
	}
	handle := s.handles.allocFile(f)
	return encodeHandle(id, handle)
}

func (s *Subsystem) handleClose(body []byte) []byte {
	id, rest, err := decodeUint32(body)
	if err != nil {
		return nil
	}
	handle, _, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed CLOSE")
	}
	return s.statusResponse(id, "CLOSE", s.handles.release(handle))
}

func (s *Subsystem) handleRead(body []byte) []byte {
	id, rest, err := decodeUint32(body)
	if err != nil {
		return nil
	}
	handle, rest, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed READ")
	}
	offset, rest, err := decodeUint64(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed READ")
	}
	length, _, err := decodeUint32(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed READ")
	}

	f, ok := s.handles.file(handle)
	if !ok {
		return s.statusResponse(id, "READ", newStatusError(StatusFailure, "Invalid handle"))
	}
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, int64(offset))
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return s.statusResponse(id, "READ", err)
		}
		return encodeStatus(id, StatusEOF, "EOF")
	}
	s.audit.FileRead(s.jail.ToVirtual(f.Name()))
	return encodeData(id, buf[:n])
}

func (s *Subsystem) handleWrite(body []byte) []byte {
	id, rest, err := decodeUint32(body)
	if err != nil {
		return nil
	}
	handle, rest, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed WRITE")
	}
	offset, rest, err := decodeUint64(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed WRITE")
	}
	data, _, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed WRITE")
	}

	f, ok := s.handles.file(handle)
	if !ok {
		return s.statusResponse(id, "WRITE", newStatusError(StatusFailure, "Invalid handle"))
	}

	if s.ceiling > 0 {
		info, err := f.Stat()
		if err != nil {
			return s.statusResponse(id, "WRITE", err)
		}
		target := offset + uint64(len(data))
		if uint64(info.Size()) > target {
			target = uint64(info.Size())
		}
		if target > uint64(s.ceiling) {
			return s.statusResponse(id, "WRITE", newStatusError(StatusFailure, "Upload size limit exceeded"))
		}
	}

	if _, err := f.WriteAt([]byte(data), int64(offset)); err != nil {
		return s.statusResponse(id, "WRITE", err)
	}
	s.audit.FileWrite(s.jail.ToVirtual(f.Name()))
	return encodeStatus(id, StatusOK, "")
}

// handleStat implements both STAT and LSTAT (§9 open question: the source
// does not distinguish them, and neither do we).
func (s *Subsystem) handleStat(body []byte, opcode byte) []byte {
	id, rest, err := decodeUint32(body)
	if err != nil {
		return nil
	}
	path, _, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed STAT")
	}
	name := "STAT"
	if opcode == opLstat {
		name = "LSTAT"
	}
	physical := s.jail.Resolve(path)
	info, err := os.Stat(physical)
	if err != nil {
		return s.statusResponse(id, name, newStatusError(StatusNoSuchFile, "No such file"))
	}
	return encodeAttrs(id, attrsForInfo(info))
}

func (s *Subsystem) handleFstat(body []byte) []byte {
	id, rest, err := decodeUint32(body)
	if err != nil {
		return nil
	}
	handle, _, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed FSTAT")
	}
	f, ok := s.handles.file(handle)
	if !ok {
		return s.statusResponse(id, "FSTAT", newStatusError(StatusFailure, "Invalid handle"))
	}
	info, err := f.Stat()
	if err != nil {
		return s.statusResponse(id, "FSTAT", err)
	}
	return encodeAttrs(id, attrsForInfo(info))
}

// handleSetstat implements SETSTAT (§4.4): only the acmodtime bit is
// applied; size/uid/gid/permissions are parsed and ignored, per §9's
// preserved open question.
func (s *Subsystem) handleSetstat(body []byte) []byte {
	id, rest, err := decodeUint32(body)
	if err != nil {
		return nil
	}
	path, rest, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed SETSTAT")
	}
	attrs, _, err := decodeAttrs(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed SETSTAT")
	}
	if !s.perms.Upload {
		return s.statusResponse(id, "SETSTAT", newStatusError(StatusPermissionDenied, "Permission denied"))
	}
	physical := s.jail.Resolve(path)
	if _, err := os.Stat(physical); err != nil {
		return s.statusResponse(id, "SETSTAT", newStatusError(StatusNoSuchFile, "No such file"))
	}
	if attrs.Flags&attrACModTime != 0 {
		atime := time.Unix(int64(attrs.ATime), 0)
		mtime := time.Unix(int64(attrs.MTime), 0)
		if err := os.Chtimes(physical, atime, mtime); err != nil {
			return s.statusResponse(id, "SETSTAT", err)
		}
	}
	return encodeStatus(id, StatusOK, "")
}

func (s *Subsystem) handleFsetstat(body []byte) []byte {
	id, rest, err := decodeUint32(body)
	if err != nil {
		return nil
	}
	handle, rest, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed FSETSTAT")
	}
	attrs, _, err := decodeAttrs(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed FSETSTAT")
	}
	if !s.perms.Upload {
		return s.statusResponse(id, "FSETSTAT", newStatusError(StatusPermissionDenied, "Permission denied"))
	}
	f, ok := s.handles.file(handle)
	if !ok {
		return s.statusResponse(id, "FSETSTAT", newStatusError(StatusFailure, "Invalid handle"))
	}
	if attrs.Flags&attrACModTime != 0 {
		atime := time.Unix(int64(attrs.ATime), 0)
		mtime := time.Unix(int64(attrs.MTime), 0)
		if err := os.Chtimes(f.Name(), atime, mtime); err != nil {
			return s.statusResponse(id, "FSETSTAT", err)
		}
	}
	return encodeStatus(id, StatusOK, "")
}

func (s *Subsystem) handleOpendir(body []byte) []byte {
	id, rest, err := decodeUint32(body)
	if err != nil {
		return nil
	}
	path, _, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed OPENDIR")
	}
	physical := s.jail.Resolve(path)
	info, err := os.Stat(physical)
	if err != nil || !info.IsDir() {
		return s.statusResponse(id, "OPENDIR", newStatusError(StatusNoSuchFile, "No such file"))
	}
	handle := s.handles.allocDir(physical)
	s.audit.DirList(s.jail.ToVirtual(physical))
	return encodeHandle(id, handle)
}

// handleReaddir implements READDIR (§4.4): the first call yields every
// immediate entry; subsequent calls on the same handle return EOF.
func (s *Subsystem) handleReaddir(body []byte) []byte {
	id, rest, err := decodeUint32(body)
	if err != nil {
		return nil
	}
	handle, _, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed READDIR")
	}
	d, ok := s.handles.dir(handle)
	if !ok {
		return s.statusResponse(id, "READDIR", newStatusError(StatusFailure, "Invalid handle"))
	}
	if d.yielded {
		return encodeStatus(id, StatusEOF, "EOF")
	}
	d.yielded = true

	entries, err := os.ReadDir(d.path)
	if err != nil {
		return s.statusResponse(id, "READDIR", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	out := make([]nameEntry, 0, len(entries))
	for _, de := range entries {
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, nameEntry{
			filename: de.Name(),
			longname: longName(info),
			attrs:    attrsForInfo(info),
		})
	}
	return encodeName(id, out)
}

func (s *Subsystem) handleRemove(body []byte) []byte {
	id, rest, err := decodeUint32(body)
	if err != nil {
		return nil
	}
	path, _, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed REMOVE")
	}
	if !s.perms.Delete {
		return s.statusResponse(id, "REMOVE", newStatusError(StatusPermissionDenied, "Permission denied"))
	}
	physical := s.jail.Resolve(path)
	if info, err := os.Stat(physical); err != nil || info.IsDir() {
		return s.statusResponse(id, "REMOVE", newStatusError(StatusNoSuchFile, "No such file"))
	}
	if err := os.Remove(physical); err != nil {
		return s.statusResponse(id, "REMOVE", err)
	}
	s.audit.FileDelete(s.jail.ToVirtual(physical))
	return encodeStatus(id, StatusOK, "")
}

func (s *Subsystem) handleMkdir(body []byte) []byte {
	id, rest, err := decodeUint32(body)
	if err != nil {
		return nil
	}
	path, _, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed MKDIR")
	}
	if !s.perms.CreateDir {
		return s.statusResponse(id, "MKDIR", newStatusError(StatusPermissionDenied, "Permission denied"))
	}
	physical := s.jail.Resolve(path)
	if err := os.MkdirAll(physical, 0o755); err != nil {
		return s.statusResponse(id, "MKDIR", err)
	}
	s.audit.DirCreate(s.jail.ToVirtual(physical))
	return encodeStatus(id, StatusOK, "")
}

func (s *Subsystem) handleRmdir(body []byte) []byte {
	id, rest, err := decodeUint32(body)
	if err != nil {
		return nil
	}
	path, _, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed RMDIR")
	}
	if !s.perms.Delete {
		return s.statusResponse(id, "RMDIR", newStatusError(StatusPermissionDenied, "Permission denied"))
	}
	physical := s.jail.Resolve(path)
	if err := os.Remove(physical); err != nil {
		return s.statusResponse(id, "RMDIR", err)
	}
	s.audit.DirDelete(s.jail.ToVirtual(physical))
	return encodeStatus(id, StatusOK, "")
}

func (s *Subsystem) handleRealpath(body []byte) []byte {
	id, rest, err := decodeUint32(body)
	if err != nil {
		return nil
	}
	path, _, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed REALPATH")
	}
	physical := s.jail.Resolve(path)
	virtual := s.jail.ToVirtual(physical)
	return encodeName(id, []nameEntry{{filename: virtual, longname: virtual, attrs: dummyAttrs}})
}

func (s *Subsystem) handleRename(body []byte) []byte {
	id, rest, err := decodeUint32(body)
	if err != nil {
		return nil
	}
	oldpath, rest, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed RENAME")
	}
	newpath, _, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed RENAME")
	}
	if !s.perms.Upload || !s.perms.Delete {
		return s.statusResponse(id, "RENAME", newStatusError(StatusPermissionDenied, "Permission denied"))
	}
	physOld := s.jail.Resolve(oldpath)
	physNew := s.jail.Resolve(newpath)
	if _, err := os.Stat(physOld); err != nil {
		return s.statusResponse(id, "RENAME", newStatusError(StatusNoSuchFile, "No such file"))
	}
	if err := os.Rename(physOld, physNew); err != nil {
		return s.statusResponse(id, "RENAME", err)
	}
	s.audit.Rename(s.jail.ToVirtual(physOld), s.jail.ToVirtual(physNew))
	return encodeStatus(id, StatusOK, "")
}

func (s *Subsystem) handleReadlink(body []byte) []byte {
	id, rest, err := decodeUint32(body)
	if err != nil {
		return nil
	}
	path, _, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed READLINK")
	}
	physical := s.jail.Resolve(path)
	info, err := os.Lstat(physical)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return s.statusResponse(id, "READLINK", newStatusError(StatusNoSuchFile, "Not a symbolic link"))
	}
	target, err := os.Readlink(physical)
	if err != nil {
		return s.statusResponse(id, "READLINK", err)
	}
	virtual := s.jail.ToVirtual(target)
	return encodeName(id, []nameEntry{{filename: virtual, longname: virtual, attrs: dummyAttrs}})
}

func (s *Subsystem) handleSymlink(body []byte) []byte {
	id, rest, err := decodeUint32(body)
	if err != nil {
		return nil
	}
	linkpath, rest, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed SYMLINK")
	}
	target, _, err := decodeString(rest)
	if err != nil {
		return encodeStatus(id, StatusBadMessage, "malformed SYMLINK")
	}
	if !s.perms.Upload {
		return s.statusResponse(id, "SYMLINK", newStatusError(StatusPermissionDenied, "Permission denied"))
	}
	physLink := s.jail.Resolve(linkpath)
	if err := os.Symlink(target, physLink); err != nil {
		if os.IsPermission(err) {
			return s.statusResponse(id, "SYMLINK", newStatusError(StatusPermissionDenied, "Symbolic links require administrator privileges"))
		}
		return s.statusResponse(id, "SYMLINK", err)
	}
	return encodeStatus(id, StatusOK, "")
}

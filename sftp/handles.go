package sftp

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// dirHandle is a DirHandle: a handle bound to a directory and a one-shot
// "already yielded" flag (§3).
type dirHandle struct {
	path     string
	yielded  bool
}

// handleTable allocates, looks up, and releases numeric handles for open
// files and directories within a single subsystem instance. Processing
// inside a subsystem is strictly serialized (§5), so no locking is needed
// here — unlike the worker-pool servers this design is modeled on.
type handleTable struct {
	next  uint32
	files map[uint32]*os.File
	dirs  map[uint32]*dirHandle
}

func newHandleTable() *handleTable {
	return &handleTable{
		next:  1,
		files: make(map[uint32]*os.File),
		dirs:  make(map[uint32]*dirHandle),
	}
}

// allocFile registers f under a freshly allocated handle and returns its
// decimal-ASCII wire form.
func (t *handleTable) allocFile(f *os.File) string {
	h := t.next
	t.next++
	t.files[h] = f
	return strconv.FormatUint(uint64(h), 10)
}

// allocDir registers a directory listing under a freshly allocated handle.
func (t *handleTable) allocDir(path string) string {
	h := t.next
	t.next++
	t.dirs[h] = &dirHandle{path: path}
	return strconv.FormatUint(uint64(h), 10)
}

// parseHandle decodes the wire decimal-ASCII handle string.
func parseHandle(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Wrap(err, "invalid handle")
	}
	return uint32(n), nil
}

// file looks up a handle in the file domain only; a handle that exists in
// the directory domain is reported not found here.
func (t *handleTable) file(s string) (*os.File, bool) {
	h, err := parseHandle(s)
	if err != nil {
		return nil, false
	}
	f, ok := t.files[h]
	return f, ok
}

// dir looks up a handle in the directory domain only.
func (t *handleTable) dir(s string) (*dirHandle, bool) {
	h, err := parseHandle(s)
	if err != nil {
		return nil, false
	}
	d, ok := t.dirs[h]
	return d, ok
}

// release closes the underlying file (if any) and removes the handle from
// every domain it might occupy. Releasing an unknown handle is reported to
// the caller rather than silently ignored, per invariant 1.
func (t *handleTable) release(s string) error {
	h, err := parseHandle(s)
	if err != nil {
		return newStatusError(StatusFailure, "Invalid handle")
	}
	if f, ok := t.files[h]; ok {
		delete(t.files, h)
		delete(t.dirs, h)
		if err := f.Close(); err != nil {
			return errors.Wrap(err, "close handle")
		}
		return nil
	}
	if _, ok := t.dirs[h]; ok {
		delete(t.dirs, h)
		return nil
	}
	return newStatusError(StatusFailure, "Invalid handle")
}

// closeAll closes every open file handle (errors swallowed) and clears both
// domains. Called on subsystem teardown.
func (t *handleTable) closeAll() {
	for _, f := range t.files {
		_ = f.Close()
	}
	t.files = make(map[uint32]*os.File)
	t.dirs = make(map[uint32]*dirHandle)
}

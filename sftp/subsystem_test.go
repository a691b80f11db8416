package sftp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubsystem(t *testing.T, perms Permissions, ceiling int64) (*Subsystem, string) {
	t.Helper()
	root := t.TempDir()
	s, err := NewSubsystem(Options{
		RootDirectory:  root,
		Permissions:    perms,
		MaxUploadBytes: ceiling,
		SessionID:      "sess-1",
		Username:       "alice",
	})
	require.NoError(t, err)
	return s, root
}

func allPerms() Permissions {
	return Permissions{Upload: true, Download: true, Delete: true, CreateDir: true}
}

// --- response decoding helpers, local to tests ---

func respType(p []byte) byte { return p[4] }

func decodeStatusResp(t *testing.T, p []byte) (id uint32, code StatusCode, msg string) {
	t.Helper()
	require.Equal(t, byte(respStatus), respType(p))
	body := p[5:]
	id, body, err := decodeUint32(body)
	require.NoError(t, err)
	c, body, err := decodeUint32(body)
	require.NoError(t, err)
	m, _, err := decodeString(body)
	require.NoError(t, err)
	return id, StatusCode(c), m
}

func decodeHandleResp(t *testing.T, p []byte) (id uint32, handle string) {
	t.Helper()
	require.Equal(t, byte(respHandle), respType(p))
	body := p[5:]
	id, body, err := decodeUint32(body)
	require.NoError(t, err)
	handle, _, err = decodeString(body)
	require.NoError(t, err)
	return id, handle
}

func decodeNameResp(t *testing.T, p []byte) (id uint32, names []string) {
	t.Helper()
	require.Equal(t, byte(respName), respType(p))
	body := p[5:]
	id, body, err := decodeUint32(body)
	require.NoError(t, err)
	count, body, err := decodeUint32(body)
	require.NoError(t, err)
	for i := uint32(0); i < count; i++ {
		name, rest, err := decodeString(body)
		require.NoError(t, err)
		_, rest, err = decodeString(rest) // longname
		require.NoError(t, err)
		a, rest, err := decodeAttrs(rest)
		require.NoError(t, err)
		_ = a
		names = append(names, name)
		body = rest
	}
	return id, names
}

// requestPacket builds a full framed packet: opcode byte plus already-
// encoded body.
func requestPacket(opcode byte, body []byte) []byte {
	payload := append([]byte{opcode}, body...)
	return encodePacket(payload)
}

func TestInitHandshake(t *testing.T) {
	s, _ := newTestSubsystem(t, allPerms(), 0)
	req := []byte{0x00, 0x00, 0x00, 0x05, 0x01, 0x00, 0x00, 0x00, 0x03}
	resp := s.HandleChunk(req)
	require.Len(t, resp, 1)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x05, 0x02, 0x00, 0x00, 0x00, 0x03}, resp[0])
}

func TestRealpathOfRoot(t *testing.T) {
	s, _ := newTestSubsystem(t, allPerms(), 0)
	body := putUint32(nil, 7)
	body = putString(body, ".")
	resp := s.HandleChunk(requestPacket(opRealpath, body))
	require.Len(t, resp, 1)
	id, names := decodeNameResp(t, resp[0])
	assert.Equal(t, uint32(7), id)
	require.Len(t, names, 1)
	assert.Equal(t, "/", names[0])
}

func TestOpendirReaddirCloseEmptyRoot(t *testing.T) {
	s, _ := newTestSubsystem(t, allPerms(), 0)

	odBody := putUint32(nil, 1)
	odBody = putString(odBody, "/")
	resp := s.HandleChunk(requestPacket(opOpendir, odBody))
	require.Len(t, resp, 1)
	id, handle := decodeHandleResp(t, resp[0])
	assert.Equal(t, uint32(1), id)
	assert.Equal(t, "1", handle)

	rdBody := putUint32(nil, 2)
	rdBody = putString(rdBody, handle)
	resp = s.HandleChunk(requestPacket(opReaddir, rdBody))
	require.Len(t, resp, 1)
	id, names := decodeNameResp(t, resp[0])
	assert.Equal(t, uint32(2), id)
	assert.Empty(t, names)

	rdBody2 := putUint32(nil, 3)
	rdBody2 = putString(rdBody2, handle)
	resp = s.HandleChunk(requestPacket(opReaddir, rdBody2))
	require.Len(t, resp, 1)
	id, code, _ := decodeStatusResp(t, resp[0])
	assert.Equal(t, uint32(3), id)
	assert.Equal(t, StatusEOF, code)

	clBody := putUint32(nil, 4)
	clBody = putString(clBody, handle)
	resp = s.HandleChunk(requestPacket(opClose, clBody))
	require.Len(t, resp, 1)
	id, code, _ = decodeStatusResp(t, resp[0])
	assert.Equal(t, uint32(4), id)
	assert.Equal(t, StatusOK, code)
}

func TestUploadCeilingEnforced(t *testing.T) {
	s, root := newTestSubsystem(t, allPerms(), 10)

	openBody := putUint32(nil, 1)
	openBody = putString(openBody, "/a")
	openBody = putUint32(openBody, pflagWrite|pflagCreate|pflagTruncate)
	openBody = putUint32(openBody, 0) // empty attrs
	resp := s.HandleChunk(requestPacket(opOpen, openBody))
	require.Len(t, resp, 1)
	_, handle := decodeHandleResp(t, resp[0])

	w1 := putUint32(nil, 2)
	w1 = putString(w1, handle)
	w1 = putUint64(w1, 0)
	w1 = putString(w1, "12345678") // 8 bytes
	resp = s.HandleChunk(requestPacket(opWrite, w1))
	id, code, _ := decodeStatusResp(t, resp[0])
	assert.Equal(t, uint32(2), id)
	assert.Equal(t, StatusOK, code)

	w2 := putUint32(nil, 3)
	w2 = putString(w2, handle)
	w2 = putUint64(w2, 8)
	w2 = putString(w2, "abc") // would reach 11 bytes, over the 10-byte ceiling
	resp = s.HandleChunk(requestPacket(opWrite, w2))
	id, code, msg := decodeStatusResp(t, resp[0])
	assert.Equal(t, uint32(3), id)
	assert.Equal(t, StatusFailure, code)
	assert.Equal(t, "Upload size limit exceeded", msg)

	info, err := os.Stat(filepath.Join(root, "a"))
	require.NoError(t, err)
	assert.EqualValues(t, 8, info.Size())
}

func TestTraversalClampOnStat(t *testing.T) {
	s, _ := newTestSubsystem(t, allPerms(), 0)
	body := putUint32(nil, 1)
	body = putString(body, "/../../etc/passwd")
	resp := s.HandleChunk(requestPacket(opStat, body))
	require.Len(t, resp, 1)
	require.Equal(t, byte(respAttrs), respType(resp[0]))
}

func TestOpenPermissionDenied(t *testing.T) {
	s, _ := newTestSubsystem(t, Permissions{Download: true}, 0)
	body := putUint32(nil, 1)
	body = putString(body, "/new")
	body = putUint32(body, pflagCreate)
	body = putUint32(body, 0)
	resp := s.HandleChunk(requestPacket(opOpen, body))
	require.Len(t, resp, 1)
	id, code, msg := decodeStatusResp(t, resp[0])
	assert.Equal(t, uint32(1), id)
	assert.Equal(t, StatusPermissionDenied, code)
	assert.Contains(t, msg, "Upload not allowed")
}

func TestUnknownOpcodeWithIDYieldsOpUnsupported(t *testing.T) {
	s, _ := newTestSubsystem(t, allPerms(), 0)
	body := putUint32(nil, 42)
	resp := s.HandleChunk(requestPacket(200, body))
	require.Len(t, resp, 1)
	id, code, _ := decodeStatusResp(t, resp[0])
	assert.Equal(t, uint32(42), id)
	assert.Equal(t, StatusOpUnsupported, code)
}

func TestFramingIsSplitInvariant(t *testing.T) {
	odBody := putUint32(nil, 1)
	odBody = putString(odBody, "/")
	full := requestPacket(opOpendir, odBody)

	rdBody := putUint32(nil, 2)
	rdBody = putString(rdBody, "1")
	full = append(full, requestPacket(opReaddir, rdBody)...)

	splits := [][]int{
		{len(full)},
		{1, len(full) - 1},
		{4, 4, len(full) - 8},
		{3, 1, 1, 1, len(full) - 6},
	}

	var reference [][]byte
	for i, points := range splits {
		s, _ := newTestSubsystem(t, allPerms(), 0)
		var got [][]byte
		off := 0
		for _, n := range points {
			got = append(got, s.HandleChunk(full[off:off+n])...)
			off += n
		}
		if i == 0 {
			reference = got
		} else {
			require.Equal(t, len(reference), len(got), "split %v", points)
			for j := range reference {
				assert.Equal(t, reference[j], got[j], "split %v response %d", points, j)
			}
		}
	}
}

func TestIdleTimeoutClosesTransport(t *testing.T) {
	root := t.TempDir()
	s, err := NewSubsystem(Options{
		RootDirectory:      root,
		Permissions:        allPerms(),
		IdleTimeoutSeconds: 1,
	})
	require.NoError(t, err)

	tr := newFakeTransport()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, tr) }()

	err = <-done
	assert.Equal(t, ErrIdleTimeout, err)
	assert.True(t, tr.closed)
}

// fakeTransport is a minimal Transport for Serve-level tests.
type fakeTransport struct {
	chunks chan []byte
	sent   [][]byte
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{chunks: make(chan []byte)}
}

func (f *fakeTransport) Chunks() <-chan []byte { return f.chunks }
func (f *fakeTransport) Send(p []byte) error   { f.sent = append(f.sent, p); return nil }
func (f *fakeTransport) Close() error          { f.closed = true; return nil }

package sftp

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleTableAllocateLookupRelease(t *testing.T) {
	ht := newHandleTable()
	f, err := os.CreateTemp(t.TempDir(), "handle")
	require.NoError(t, err)

	h := ht.allocFile(f)
	assert.Equal(t, "1", h)

	got, ok := ht.file(h)
	assert.True(t, ok)
	assert.Equal(t, f, got)

	// wrong domain lookup must miss
	_, ok = ht.dir(h)
	assert.False(t, ok)

	require.NoError(t, ht.release(h))

	_, ok = ht.file(h)
	assert.False(t, ok)

	// releasing again must fail deterministically (invariant 1)
	err = ht.release(h)
	assert.Error(t, err)
}

func TestHandleTableMonotonicAllocation(t *testing.T) {
	ht := newHandleTable()
	dir := t.TempDir()
	h1 := ht.allocDir(dir)
	h2 := ht.allocDir(dir)
	assert.Equal(t, "1", h1)
	assert.Equal(t, "2", h2)
}

func TestHandleTableUnknownHandleFails(t *testing.T) {
	ht := newHandleTable()
	_, ok := ht.file("999")
	assert.False(t, ok)
	assert.Error(t, ht.release("999"))
}

func TestHandleTableCloseAllClearsState(t *testing.T) {
	ht := newHandleTable()
	f, err := os.CreateTemp(t.TempDir(), "handle")
	require.NoError(t, err)
	h := ht.allocFile(f)
	ht.closeAll()
	_, ok := ht.file(h)
	assert.False(t, ok)
}

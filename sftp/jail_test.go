package sftp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJail(t *testing.T) *Jail {
	t.Helper()
	root := t.TempDir()
	j, err := NewJail(root)
	require.NoError(t, err)
	return j
}

func TestJailResolveRootAliases(t *testing.T) {
	j := newTestJail(t)
	for _, in := range []string{"", ".", "/"} {
		assert.Equal(t, j.Root(), j.Resolve(in))
	}
}

func TestJailResolveTraversalClamp(t *testing.T) {
	j := newTestJail(t)
	for _, in := range []string{
		"/../../etc/passwd",
		"../../../../etc/shadow",
		"a/../../../b",
		"..",
	} {
		got := j.Resolve(in)
		assert.Equal(t, j.Root(), got, "path %q must clamp to root", in)
	}
}

func TestJailResolveNormalPath(t *testing.T) {
	j := newTestJail(t)
	got := j.Resolve("/sub/dir/file.txt")
	want := filepath.Join(j.Root(), "sub", "dir", "file.txt")
	assert.Equal(t, want, got)
}

func TestJailToVirtualRoundTrip(t *testing.T) {
	j := newTestJail(t)
	physical := j.Resolve("/a/b/c.txt")
	assert.Equal(t, "/a/b/c.txt", j.ToVirtual(physical))
	assert.Equal(t, "/", j.ToVirtual(j.Root()))
}

func TestNewJailCreatesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does", "not", "exist", "yet")
	j, err := NewJail(root)
	require.NoError(t, err)
	info, err := os.Stat(j.Root())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

package sftp

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
)

// Jail maps client-supplied virtual paths onto a physical root directory and
// refuses to let any resolved path escape it. It is the only component that
// may translate a virtual path into one the OS will touch.
type Jail struct {
	root string // canonical, absolute, no trailing separator (except "/")
}

// NewJail canonicalizes root, creates it if absent, and returns a Jail bound
// to it.
func NewJail(root string) (*Jail, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "resolve jail root")
	}
	abs = filepath.Clean(abs)
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrap(err, "create jail root")
	}
	return &Jail{root: abs}, nil
}

// Root returns the physical, canonical jail root.
func (j *Jail) Root() string { return j.root }

// Resolve turns a client virtual path into an absolute physical path inside
// the root. It never returns an error: any attempt to escape is silently
// clamped to the root, per §4.2.
func (j *Jail) Resolve(virtual string) string {
	if virtual == "" || virtual == "." || virtual == "/" {
		return j.root
	}
	trimmed := strings.TrimPrefix(virtual, "/")
	trimmed = strings.ReplaceAll(trimmed, "/", string(os.PathSeparator))
	joined := filepath.Join(j.root, trimmed)
	canonical := filepath.Clean(joined)
	if !j.contains(canonical) {
		return j.root
	}
	return canonical
}

// contains reports whether physical is the root itself or a descendant of
// it, comparing case-insensitively on hosts whose filesystem is.
func (j *Jail) contains(physical string) bool {
	root, p := j.root, physical
	if caseInsensitiveFS() {
		root = strings.ToLower(root)
		p = strings.ToLower(p)
	}
	if p == root {
		return true
	}
	return strings.HasPrefix(p, root+string(os.PathSeparator))
}

// ToVirtual inverts Resolve: it strips the jail root prefix from a physical
// path and returns a "/"-rooted, forward-slash virtual path.
func (j *Jail) ToVirtual(physical string) string {
	physical = filepath.Clean(physical)
	rel := strings.TrimPrefix(physical, j.root)
	rel = strings.TrimPrefix(rel, string(os.PathSeparator))
	rel = strings.ReplaceAll(rel, string(os.PathSeparator), "/")
	if rel == "" {
		return "/"
	}
	return "/" + rel
}

// caseInsensitiveFS reports whether the host's filesystem is conventionally
// case-insensitive, matching the comparison draft-ietf-secsh-filexfer-02
// clients on such hosts expect.
func caseInsensitiveFS() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

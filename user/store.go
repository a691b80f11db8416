// Package user implements the user/permission oracle collaborator of §6:
// given an authenticated username, answer whether the account exists, is
// enabled, where its jail root is, and what it may do. The core never
// authenticates; it only consults capabilities.
package user

import (
	"sync"

	"github.com/ShiftyTR/SFTPServer/sftp"
)

// Account is the external UserAccount of spec.md §3. The core consults only
// Enabled and the five capabilities; Credential is opaque to it.
type Account struct {
	Username       string
	Credential     string // opaque; never inspected by the core
	HomeDirectory  string
	Enabled        bool
	CanUpload      bool
	CanDownload    bool
	CanDelete      bool
	CanCreateDir   bool
	MaxUploadBytes int64 // 0 = unlimited
}

// Permissions projects an Account down to the capability set the SFTP
// subsystem consults per opcode.
func (a Account) Permissions() sftp.Permissions {
	return sftp.Permissions{
		Upload:         a.CanUpload,
		Download:       a.CanDownload,
		Delete:         a.CanDelete,
		CreateDir:      a.CanCreateDir,
		MaxUploadBytes: a.MaxUploadBytes,
	}
}

// Store answers "does this username exist, and what can it do" for the
// session orchestrator. Persistence and credential verification are outside
// the core's scope (§1); Store is a pure lookup interface.
type Store interface {
	Lookup(username string) (Account, bool)
}

// MemoryStore is an in-process Store guarded by a mutual-exclusion lock over
// a username-keyed map (§5: "the user store, accessed read-mostly under a
// mutual-exclusion lock"). It is the reference implementation; a real
// deployment backs Store with its own persistence layer, out of scope here.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

// NewMemoryStore returns a Store seeded with accounts, keyed by username.
func NewMemoryStore(accounts ...Account) *MemoryStore {
	m := &MemoryStore{accounts: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		m.accounts[a.Username] = a
	}
	return m
}

// Lookup implements Store.
func (m *MemoryStore) Lookup(username string) (Account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[username]
	return a, ok
}

// Put inserts or replaces an account. Exported for tests and for simple
// in-memory bootstrap paths; not part of the Store interface.
func (m *MemoryStore) Put(a Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.Username] = a
}

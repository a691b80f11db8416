package user

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStoreLookup(t *testing.T) {
	store := NewMemoryStore(Account{
		Username:    "alice",
		Enabled:     true,
		CanUpload:   true,
		CanDownload: true,
	})

	acct, ok := store.Lookup("alice")
	assert.True(t, ok)
	assert.True(t, acct.Enabled)

	_, ok = store.Lookup("bob")
	assert.False(t, ok)
}

func TestMemoryStorePut(t *testing.T) {
	store := NewMemoryStore()
	store.Put(Account{Username: "carol", Enabled: true})
	acct, ok := store.Lookup("carol")
	assert.True(t, ok)
	assert.Equal(t, "carol", acct.Username)
}

func TestAccountPermissionsProjection(t *testing.T) {
	a := Account{
		CanUpload:      true,
		CanDownload:    false,
		CanDelete:      true,
		CanCreateDir:   false,
		MaxUploadBytes: 1024,
	}
	perms := a.Permissions()
	assert.True(t, perms.Upload)
	assert.False(t, perms.Download)
	assert.True(t, perms.Delete)
	assert.False(t, perms.CreateDir)
	assert.EqualValues(t, 1024, perms.MaxUploadBytes)
}

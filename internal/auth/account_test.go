package auth

import (
	"testing"

	"github.com/meshlink/meshlink/internal/merr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKV struct {
	data map[string]string
}

func newMemKV() *memKV { return &memKV{data: make(map[string]string)} }

func (m *memKV) Get(key string) (string, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memKV) Set(key, value string) error {
	m.data[key] = value
	return nil
}

func (m *memKV) Delete(key string) error {
	delete(m.data, key)
	return nil
}

func TestCreateAccountAndLogin(t *testing.T) {
	kv := newMemKV()
	mgr := NewManager(kv)

	has, err := mgr.HasAccount()
	require.NoError(t, err)
	assert.False(t, has)

	info, err := mgr.CreateAccount(testSeed, "pw", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", info.Nickname)

	result, err := mgr.Login("pw")
	require.NoError(t, err)
	assert.Len(t, result.PrivateKeyHex, 64)
	assert.Equal(t, info.PeerID, result.Account.PeerID)
}

func TestCreateAccountTwiceFails(t *testing.T) {
	kv := newMemKV()
	mgr := NewManager(kv)

	_, err := mgr.CreateAccount(testSeed, "pw", "Alice")
	require.NoError(t, err)

	_, err = mgr.CreateAccount(testSeed, "pw", "Alice")
	assert.ErrorIs(t, err, merr.ErrAccountExists)
}

func TestLoginWrongPasswordFails(t *testing.T) {
	kv := newMemKV()
	mgr := NewManager(kv)
	_, err := mgr.CreateAccount(testSeed, "pw", "Alice")
	require.NoError(t, err)

	_, err = mgr.Login("not-the-password")
	assert.Error(t, err)
}

func TestLoginWithoutAccountFails(t *testing.T) {
	kv := newMemKV()
	mgr := NewManager(kv)
	_, err := mgr.Login("pw")
	assert.Error(t, err)
}

func TestChangePassword(t *testing.T) {
	kv := newMemKV()
	mgr := NewManager(kv)
	_, err := mgr.CreateAccount(testSeed, "old", "Alice")
	require.NoError(t, err)

	require.NoError(t, mgr.ChangePassword("old", "new"))

	ok, err := mgr.VerifyPassword("old")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = mgr.VerifyPassword("new")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteAccount(t *testing.T) {
	kv := newMemKV()
	mgr := NewManager(kv)
	_, err := mgr.CreateAccount(testSeed, "pw", "Alice")
	require.NoError(t, err)

	require.NoError(t, mgr.DeleteAccount())

	has, err := mgr.HasAccount()
	require.NoError(t, err)
	assert.False(t, has)
}

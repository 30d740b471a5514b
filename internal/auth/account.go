package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/meshlink/meshlink/internal/merr"
	"golang.org/x/crypto/scrypt"
)

// KV is the minimal settings-store dependency account management
// needs: one key/value row per setting, matching C3's SettingEntry
// table. Defined here (rather than imported from internal/store) so
// auth has no dependency on the persistence package's concrete type.
type KV interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
}

const (
	keyEnvelope = "auth.envelope"
	keyAccount  = "auth.account"

	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

// AccountInfo is the public, non-secret account record persisted
// alongside the encrypted seed envelope.
type AccountInfo struct {
	PeerID     string `json:"peer_id"`
	GroupID    string `json:"group_id"`
	EVMAddress string `json:"evm_address"`
	Nickname   string `json:"nickname,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

// LoginResult is returned by Login; PrivateKeyHex is emitted only here,
// never by GetAccountInfo.
type LoginResult struct {
	Account       AccountInfo
	PrivateKeyHex string
}

type envelope struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Manager implements the account operations of spec §4.2 over a KV
// settings store.
type Manager struct {
	kv KV
}

// NewManager wraps a settings KV store in an account Manager.
func NewManager(kv KV) *Manager {
	return &Manager{kv: kv}
}

// HasAccount reports whether an account has already been created.
func (m *Manager) HasAccount() (bool, error) {
	_, ok, err := m.kv.Get(keyAccount)
	if err != nil {
		return false, merr.Storage("auth.HasAccount", err)
	}
	return ok, nil
}

// CreateAccount derives an Identity from seedPhrase, encrypts the
// phrase at rest under password, and persists both the envelope and
// the resulting public AccountInfo. Fails with ErrAccountExists if an
// account already exists.
func (m *Manager) CreateAccount(seedPhrase, password, name string) (*AccountInfo, error) {
	has, err := m.HasAccount()
	if err != nil {
		return nil, err
	}
	if has {
		return nil, merr.Wrap("auth.CreateAccount", merr.KindAuth, merr.ErrAccountExists)
	}

	identity, err := DeriveIdentity(seedPhrase)
	if err != nil {
		return nil, err
	}

	env, err := seal(NormalizeSeedPhrase(seedPhrase), password)
	if err != nil {
		return nil, merr.Wrap("auth.CreateAccount", merr.KindAuth, err)
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return nil, merr.Storage("auth.CreateAccount", err)
	}

	info := AccountInfo{
		PeerID:     identity.PeerID,
		GroupID:    identity.GroupID,
		EVMAddress: identity.EVMAddress,
		Nickname:   name,
		CreatedAt:  time.Now().Unix(),
	}
	infoJSON, err := json.Marshal(info)
	if err != nil {
		return nil, merr.Storage("auth.CreateAccount", err)
	}

	if err := m.kv.Set(keyEnvelope, string(envJSON)); err != nil {
		return nil, merr.Storage("auth.CreateAccount", err)
	}
	if err := m.kv.Set(keyAccount, string(infoJSON)); err != nil {
		return nil, merr.Storage("auth.CreateAccount", err)
	}
	return &info, nil
}

// Login decrypts the stored seed with password, re-derives the
// Identity, and returns the account info plus the 32-byte Ed25519
// private key as 64 hex characters. It is the only operation that ever
// exposes the private key.
func (m *Manager) Login(password string) (*LoginResult, error) {
	seedPhrase, info, err := m.unlock(password)
	if err != nil {
		return nil, err
	}
	identity, err := DeriveIdentity(seedPhrase)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Account:       *info,
		PrivateKeyHex: fmt.Sprintf("%x", identity.PrivateKey.Seed()),
	}, nil
}

// VerifyPassword reports whether password decrypts the stored envelope.
func (m *Manager) VerifyPassword(password string) (bool, error) {
	_, _, err := m.unlock(password)
	if err == nil {
		return true, nil
	}
	if merr.Is(err, merr.KindAuth) {
		return false, nil
	}
	return false, err
}

// ChangePassword re-encrypts the stored seed under newPassword,
// failing with InvalidPassword if oldPassword does not match.
func (m *Manager) ChangePassword(oldPassword, newPassword string) error {
	seedPhrase, _, err := m.unlock(oldPassword)
	if err != nil {
		return err
	}
	env, err := seal(seedPhrase, newPassword)
	if err != nil {
		return merr.Wrap("auth.ChangePassword", merr.KindAuth, err)
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return merr.Storage("auth.ChangePassword", err)
	}
	if err := m.kv.Set(keyEnvelope, string(envJSON)); err != nil {
		return merr.Storage("auth.ChangePassword", err)
	}
	return nil
}

// GetAccountInfo returns the persisted public account record, if any.
func (m *Manager) GetAccountInfo() (*AccountInfo, bool, error) {
	raw, ok, err := m.kv.Get(keyAccount)
	if err != nil {
		return nil, false, merr.Storage("auth.GetAccountInfo", err)
	}
	if !ok {
		return nil, false, nil
	}
	var info AccountInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, false, merr.Storage("auth.GetAccountInfo", err)
	}
	return &info, true, nil
}

// DeleteAccount removes the stored envelope and account info.
func (m *Manager) DeleteAccount() error {
	if err := m.kv.Delete(keyEnvelope); err != nil {
		return merr.Storage("auth.DeleteAccount", err)
	}
	if err := m.kv.Delete(keyAccount); err != nil {
		return merr.Storage("auth.DeleteAccount", err)
	}
	return nil
}

func (m *Manager) unlock(password string) (string, *AccountInfo, error) {
	rawEnv, ok, err := m.kv.Get(keyEnvelope)
	if err != nil {
		return "", nil, merr.Storage("auth.unlock", err)
	}
	if !ok {
		return "", nil, merr.Wrap("auth.unlock", merr.KindAuth, merr.ErrAccountMissing)
	}
	var env envelope
	if err := json.Unmarshal([]byte(rawEnv), &env); err != nil {
		return "", nil, merr.Storage("auth.unlock", err)
	}
	seedPhrase, err := open(env, password)
	if err != nil {
		return "", nil, merr.Wrap("auth.unlock", merr.KindAuth, merr.ErrInvalidPassword)
	}
	info, ok, err := m.GetAccountInfo()
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", nil, merr.Wrap("auth.unlock", merr.KindAuth, merr.ErrAccountMissing)
	}
	return seedPhrase, info, nil
}

// seal password-encrypts plaintext with scrypt-derived AES-256-GCM,
// the same cipher the teacher's Divider/Reconstructor encryption
// packages use for chunk payloads, generalized to a password-derived
// key instead of a random one.
func seal(plaintext, password string) (*envelope, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return &envelope{Salt: salt, Nonce: nonce, Ciphertext: ciphertext}, nil
}

func open(env envelope, password string) (string, error) {
	key, err := scrypt.Key([]byte(password), env.Salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	plaintext, err := gcm.Open(nil, env.Nonce, env.Ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Package auth implements C2: deterministic key derivation from a
// seed phrase plus the password-gated account lifecycle that binds it
// to a stable peer-id/group-id/EVM-address triple. The at-rest
// encryption envelope generalizes the teacher's Divider/Reconstructor
// GenerateKey/Encrypt/Decrypt pair (AES-256-GCM over a hex key) from a
// random symmetric key to one derived from a user password via scrypt.
package auth

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"io"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/meshlink/meshlink/internal/merr"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"
)

// seedSalt and the HKDF info strings below domain-separate the three
// sub-identities derived from a single seed phrase so that compromise
// or reuse of one never reveals another, while keeping the invariant
// that the same phrase always yields the same triple (spec P8).
const (
	seedSalt      = "meshlink-seed-v1"
	infoIdentity  = "meshlink-identity-v1"
	infoGroup     = "meshlink-group-v1"
	infoEVM       = "meshlink-evm-v1"
	pbkdf2Rounds  = 2048
	pbkdf2KeyLen  = 64
	minSeedWords  = 12
	maxSeedWords  = 24
)

// Identity holds everything derived from a seed phrase: the long-term
// Ed25519 keypair used as the libp2p/engine identity, the stable
// peer-id and group-id text forms, and an EVM-style address.
type Identity struct {
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey
	PeerID     string
	GroupID    string
	EVMAddress string
}

// NormalizeSeedPhrase lowercases and collapses internal whitespace, the
// same normalization BIP-39 implementations apply before stretching.
func NormalizeSeedPhrase(phrase string) string {
	fields := strings.Fields(strings.ToLower(phrase))
	return strings.Join(fields, " ")
}

// ValidateSeedPhrase checks the word count is in BIP-39's valid range.
func ValidateSeedPhrase(phrase string) error {
	n := len(strings.Fields(phrase))
	if n < minSeedWords || n > maxSeedWords || n%3 != 0 {
		return merr.Wrap("auth.ValidateSeedPhrase", merr.KindAuth, merr.ErrInvalidSeed)
	}
	return nil
}

// DeriveIdentity deterministically derives an Identity from a seed
// phrase. Given the same phrase it always yields the same
// (peer_id, group_id, evm_address) triple (spec P8), regardless of
// which process or installation calls it.
func DeriveIdentity(seedPhrase string) (*Identity, error) {
	normalized := NormalizeSeedPhrase(seedPhrase)
	if err := ValidateSeedPhrase(normalized); err != nil {
		return nil, err
	}

	master := pbkdf2.Key([]byte(normalized), []byte(seedSalt), pbkdf2Rounds, pbkdf2KeyLen, sha512.New)

	identitySeed, err := hkdfRead(master, infoIdentity, ed25519.SeedSize)
	if err != nil {
		return nil, merr.Wrap("auth.DeriveIdentity", merr.KindAuth, err)
	}
	priv := ed25519.NewKeyFromSeed(identitySeed)
	pub := priv.Public().(ed25519.PublicKey)

	groupSeed, err := hkdfRead(master, infoGroup, 32)
	if err != nil {
		return nil, merr.Wrap("auth.DeriveIdentity", merr.KindAuth, err)
	}

	evmSeed, err := hkdfRead(master, infoEVM, 32)
	if err != nil {
		return nil, merr.Wrap("auth.DeriveIdentity", merr.KindAuth, err)
	}
	evmAddr, err := deriveEVMAddress(evmSeed)
	if err != nil {
		return nil, merr.Wrap("auth.DeriveIdentity", merr.KindAuth, err)
	}

	return &Identity{
		PrivateKey: priv,
		PublicKey:  pub,
		PeerID:     encodeID(pub),
		GroupID:    encodeID(groupSeed),
		EVMAddress: evmAddr,
	}, nil
}

func hkdfRead(master []byte, info string, n int) ([]byte, error) {
	r := hkdf.New(sha512.New, master, nil, []byte(info))
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

// encodeID canonicalizes a digest of raw key material into the
// "lowercase base-58 text form" spec §3 requires for peer-id/group-id.
func encodeID(material []byte) string {
	digest := sha256.Sum256(material)
	return strings.ToLower(base58.Encode(digest[:]))
}

// deriveEVMAddress turns a 32-byte seed into a secp256k1 keypair and
// returns the 20-byte Keccak-256-derived address, hex-encoded with a
// 0x prefix, the same derivation Ethereum-family chains use.
func deriveEVMAddress(seed []byte) (string, error) {
	priv := secp256k1.PrivKeyFromBytes(seed)
	pub := priv.PubKey().SerializeUncompressed() // 0x04 || X(32) || Y(32)
	if len(pub) != 65 {
		return "", fmt.Errorf("unexpected public key length %d", len(pub))
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(pub[1:])
	sum := h.Sum(nil)
	return "0x" + fmt.Sprintf("%x", sum[len(sum)-20:]), nil
}

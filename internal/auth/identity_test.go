package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSeed = "abandon amount liar amount expire adjust cage candy arch gather drum buyer"

func TestDeriveIdentityDeterministic(t *testing.T) {
	id1, err := DeriveIdentity(testSeed)
	require.NoError(t, err)
	id2, err := DeriveIdentity(testSeed)
	require.NoError(t, err)

	assert.Equal(t, id1.PeerID, id2.PeerID)
	assert.Equal(t, id1.GroupID, id2.GroupID)
	assert.Equal(t, id1.EVMAddress, id2.EVMAddress)
}

func TestDeriveIdentityDistinctIDs(t *testing.T) {
	id, err := DeriveIdentity(testSeed)
	require.NoError(t, err)

	assert.NotEqual(t, id.PeerID, id.GroupID)
	assert.Regexp(t, "^0x[0-9a-f]{40}$", id.EVMAddress)
}

func TestDeriveIdentityDifferentSeeds(t *testing.T) {
	id1, err := DeriveIdentity(testSeed)
	require.NoError(t, err)
	id2, err := DeriveIdentity("abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about")
	require.NoError(t, err)

	assert.NotEqual(t, id1.PeerID, id2.PeerID)
	assert.NotEqual(t, id1.EVMAddress, id2.EVMAddress)
}

func TestValidateSeedPhraseRejectsBadWordCount(t *testing.T) {
	_, err := DeriveIdentity("too few words")
	assert.Error(t, err)
}

func TestNormalizeSeedPhrase(t *testing.T) {
	assert.Equal(t, "abandon amount", NormalizeSeedPhrase("  Abandon   AMOUNT "))
}

package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rec := Record{
		PeerID:          "peer-abc",
		Nickname:        "Alice",
		ListenAddresses: []string{"/ip4/127.0.0.1/tcp/9000"},
		Capabilities:    []string{"chat", "file_sharing"},
		Metadata:        map[string]string{"k1": "v1"},
	}

	data, err := encode(rec, false, 42, 120)
	require.NoError(t, err)

	d, err := decode(data)
	require.NoError(t, err)
	assert.False(t, d.isQuery)
	assert.EqualValues(t, 42, d.txID)
	require.Len(t, d.records, 1)
	assert.Equal(t, rec, d.records[0])
}

func TestEncodeMultipleAddressesMergeOnDecode(t *testing.T) {
	rec := Record{
		PeerID:          "peer-abc",
		Nickname:        "Alice",
		ListenAddresses: []string{"/ip4/10.0.0.1/tcp/9000", "/ip4/10.0.0.2/tcp/9000"},
		Metadata:        map[string]string{},
	}

	data, err := encode(rec, false, 1, 60)
	require.NoError(t, err)

	d, err := decode(data)
	require.NoError(t, err)
	require.Len(t, d.records, 1)
	assert.Equal(t, rec.ListenAddresses, d.records[0].ListenAddresses)
}

func TestEncodeQueryHasNoAnswers(t *testing.T) {
	rec := Record{PeerID: "p1", Nickname: "Alice", ListenAddresses: []string{"/ip4/127.0.0.1/tcp/1"}}
	data, err := encode(rec, true, 7, 60)
	require.NoError(t, err)

	d, err := decode(data)
	require.NoError(t, err)
	assert.True(t, d.isQuery)
	assert.Empty(t, d.records)
}

func TestEncodeFailsWithoutListenAddresses(t *testing.T) {
	_, err := encode(Record{PeerID: "p1", Nickname: "Alice"}, false, 1, 60)
	assert.Error(t, err)
}

func TestDecodeRejectsShortPacket(t *testing.T) {
	_, err := decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestParseBodyRequiresFields(t *testing.T) {
	_, err := parseBody("peer_id=p1 nickname=Alice")
	assert.Error(t, err, "missing addr must be rejected")

	rec, err := parseBody("peer_id=p1 nickname=Alice addr=/ip4/1.2.3.4/tcp/9 caps=chat,file_sharing meta=a:b,c:d")
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.PeerID)
	assert.Equal(t, []string{"chat", "file_sharing"}, rec.Capabilities)
	assert.Equal(t, "b", rec.Metadata["a"])
	assert.Equal(t, "d", rec.Metadata["c"])
}

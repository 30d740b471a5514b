package store

import (
	"encoding/json"
	"time"

	"github.com/meshlink/meshlink/internal/merr"
	"github.com/syndtr/goleveldb/leveldb"
)

const contactPrefix = "contact:"

// Contact is a row of the contacts table: a peer this node has ever
// seen, independent of its current online/offline state (that's C7's
// concern, held in memory).
type Contact struct {
	PeerID     string `json:"peer_id"`
	Nickname   string `json:"nickname"`
	FirstSeen  int64  `json:"first_seen"`
	LastSeen   int64  `json:"last_seen"`
	EVMAddress string `json:"evm_address,omitempty"`
}

// UpsertContact inserts or updates a contact row, preserving FirstSeen
// across repeated calls for the same peer.
func (s *Store) UpsertContact(c Contact) error {
	existing, ok, err := s.GetContact(c.PeerID)
	if err != nil {
		return err
	}
	if ok && existing.FirstSeen != 0 {
		c.FirstSeen = existing.FirstSeen
	} else if c.FirstSeen == 0 {
		c.FirstSeen = time.Now().Unix()
	}
	if c.LastSeen == 0 {
		c.LastSeen = time.Now().Unix()
	}
	batch := new(leveldb.Batch)
	if err := putJSON(batch, contactPrefix+c.PeerID, c); err != nil {
		return merr.Storage("store.UpsertContact", err)
	}
	if err := s.write(batch); err != nil {
		return merr.Storage("store.UpsertContact", err)
	}
	return nil
}

// GetContact returns the contact row for peerID, if present.
func (s *Store) GetContact(peerID string) (*Contact, bool, error) {
	var c Contact
	ok, err := s.getJSON(contactPrefix+peerID, &c)
	if err != nil {
		return nil, false, merr.Storage("store.GetContact", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &c, true, nil
}

// GetContactByNickname scans for the contact with the given nickname.
// Nicknames aren't indexed separately since the contacts table is
// small and this path isn't latency-sensitive.
func (s *Store) GetContactByNickname(nickname string) (*Contact, bool, error) {
	var found *Contact
	err := s.iteratePrefix(contactPrefix, func(_, value []byte) bool {
		var c Contact
		if err := json.Unmarshal(value, &c); err == nil && c.Nickname == nickname {
			found = &c
			return false
		}
		return true
	})
	if err != nil {
		return nil, false, merr.Storage("store.GetContactByNickname", err)
	}
	if found == nil {
		return nil, false, nil
	}
	return found, true, nil
}

// ListContacts returns every known contact.
func (s *Store) ListContacts() ([]Contact, error) {
	var out []Contact
	err := s.iteratePrefix(contactPrefix, func(_, value []byte) bool {
		var c Contact
		if err := json.Unmarshal(value, &c); err == nil {
			out = append(out, c)
		}
		return true
	})
	if err != nil {
		return nil, merr.Storage("store.ListContacts", err)
	}
	return out, nil
}

// DeleteContact removes a contact row.
func (s *Store) DeleteContact(peerID string) error {
	batch := new(leveldb.Batch)
	batch.Delete([]byte(contactPrefix + peerID))
	if err := s.write(batch); err != nil {
		return merr.Storage("store.DeleteContact", err)
	}
	return nil
}

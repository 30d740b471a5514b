package store

import (
	"time"

	"github.com/meshlink/meshlink/internal/merr"
	"github.com/syndtr/goleveldb/leveldb"
)

const ackPrefix = "ack:"

// Ack is a row recording that a message was acknowledged (delivered or
// read) by its recipient, independent of the Message row's own status
// field so a re-ack (delivered then read) doesn't lose the first
// timestamp.
type Ack struct {
	MessageID   string `json:"message_id"`
	DeliveredAt int64  `json:"delivered_at,omitempty"`
	ReadAt      int64  `json:"read_at,omitempty"`
}

// MarkDelivered records a delivery ack for a message, creating the Ack
// row if this is the first ack received for it.
func (s *Store) MarkDelivered(messageID string) error {
	a, err := s.getOrNewAck(messageID)
	if err != nil {
		return err
	}
	if a.DeliveredAt == 0 {
		a.DeliveredAt = time.Now().Unix()
	}
	return s.putAck(a)
}

// MarkRead records a read ack for a message.
func (s *Store) MarkRead(messageID string) error {
	a, err := s.getOrNewAck(messageID)
	if err != nil {
		return err
	}
	if a.DeliveredAt == 0 {
		a.DeliveredAt = time.Now().Unix()
	}
	if a.ReadAt == 0 {
		a.ReadAt = time.Now().Unix()
	}
	return s.putAck(a)
}

// GetAck returns the ack row for a message, if any.
func (s *Store) GetAck(messageID string) (*Ack, bool, error) {
	var a Ack
	ok, err := s.getJSON(ackPrefix+messageID, &a)
	if err != nil {
		return nil, false, merr.Storage("store.GetAck", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &a, true, nil
}

func (s *Store) getOrNewAck(messageID string) (Ack, error) {
	a, ok, err := s.GetAck(messageID)
	if err != nil {
		return Ack{}, err
	}
	if !ok {
		return Ack{MessageID: messageID}, nil
	}
	return *a, nil
}

func (s *Store) putAck(a Ack) error {
	batch := new(leveldb.Batch)
	if err := putJSON(batch, ackPrefix+a.MessageID, a); err != nil {
		return merr.Storage("store.putAck", err)
	}
	if err := s.write(batch); err != nil {
		return merr.Storage("store.putAck", err)
	}
	return nil
}

// DeleteAck removes the ack row for a message, used when a message
// itself is cleaned up.
func (s *Store) DeleteAck(messageID string) error {
	batch := new(leveldb.Batch)
	batch.Delete([]byte(ackPrefix + messageID))
	if err := s.write(batch); err != nil {
		return merr.Storage("store.DeleteAck", err)
	}
	return nil
}

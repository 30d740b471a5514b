package store

import (
	"encoding/json"
	"fmt"

	"github.com/meshlink/meshlink/internal/merr"
	"github.com/syndtr/goleveldb/leveldb"
)

const (
	messagePrefix      = "message:"
	messageByConvIndex = "idx:msgbyconv:"
)

// DeliveryStatus is the per-message counterpart of a conversation's
// SyncStatus.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Message is a row of the messages table, shared by direct (C8) and
// group (C6) chat.
type Message struct {
	MessageID      string         `json:"message_id"`
	ConversationID string         `json:"conversation_id"` // peer_id or group_id
	IsGroup        bool           `json:"is_group"`
	FromPeerID     string         `json:"from_peer_id"`
	Body           string         `json:"body"`
	SentAt         int64          `json:"sent_at"`
	Status         DeliveryStatus `json:"status"`
	RetryCount     int            `json:"retry_count"`
	ExpiresAt      int64          `json:"expires_at"`
}

func messageIndexKey(conversationID string, sentAt int64, messageID string) string {
	return fmt.Sprintf("%s%s:%020d:%s", messageByConvIndex, conversationID, sentAt, messageID)
}

// PutMessage inserts a new message row and its conversation-ordered
// index entry atomically.
func (s *Store) PutMessage(m Message) error {
	batch := new(leveldb.Batch)
	if err := putJSON(batch, messagePrefix+m.MessageID, m); err != nil {
		return merr.Storage("store.PutMessage", err)
	}
	batch.Put([]byte(messageIndexKey(m.ConversationID, m.SentAt, m.MessageID)), []byte(m.MessageID))
	if err := s.write(batch); err != nil {
		return merr.Storage("store.PutMessage", err)
	}
	return nil
}

// GetMessage returns a single message row.
func (s *Store) GetMessage(messageID string) (*Message, bool, error) {
	var m Message
	ok, err := s.getJSON(messagePrefix+messageID, &m)
	if err != nil {
		return nil, false, merr.Storage("store.GetMessage", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &m, true, nil
}

// UpdateMessageStatus updates the delivery status of an existing
// message; the retry counter is bumped separately by
// IncrementRetryCount.
func (s *Store) UpdateMessageStatus(messageID string, status DeliveryStatus) error {
	m, ok, err := s.GetMessage(messageID)
	if err != nil {
		return err
	}
	if !ok {
		return merr.NotFound("store.UpdateMessageStatus", merr.ErrFileNotFound)
	}
	m.Status = status
	batch := new(leveldb.Batch)
	if err := putJSON(batch, messagePrefix+m.MessageID, *m); err != nil {
		return merr.Storage("store.UpdateMessageStatus", err)
	}
	if err := s.write(batch); err != nil {
		return merr.Storage("store.UpdateMessageStatus", err)
	}
	return nil
}

// IncrementRetryCount bumps a message's retry counter and returns the
// new value.
func (s *Store) IncrementRetryCount(messageID string) (int, error) {
	m, ok, err := s.GetMessage(messageID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, merr.NotFound("store.IncrementRetryCount", merr.ErrFileNotFound)
	}
	m.RetryCount++
	batch := new(leveldb.Batch)
	if err := putJSON(batch, messagePrefix+m.MessageID, *m); err != nil {
		return 0, merr.Storage("store.IncrementRetryCount", err)
	}
	if err := s.write(batch); err != nil {
		return 0, merr.Storage("store.IncrementRetryCount", err)
	}
	return m.RetryCount, nil
}

// ListMessagesByConversation returns messages for a conversation in
// ascending sent-order.
func (s *Store) ListMessagesByConversation(conversationID string) ([]Message, error) {
	var ids []string
	prefix := messageByConvIndex + conversationID + ":"
	err := s.iteratePrefix(prefix, func(_, value []byte) bool {
		ids = append(ids, string(value))
		return true
	})
	if err != nil {
		return nil, merr.Storage("store.ListMessagesByConversation", err)
	}
	out := make([]Message, 0, len(ids))
	for _, id := range ids {
		m, ok, err := s.GetMessage(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, *m)
		}
	}
	return out, nil
}

// ListMessagesByStatus returns every message across all conversations
// with the given delivery status.
func (s *Store) ListMessagesByStatus(status DeliveryStatus) ([]Message, error) {
	var out []Message
	err := s.iteratePrefix(messagePrefix, func(_, value []byte) bool {
		var m Message
		if err := json.Unmarshal(value, &m); err == nil && m.Status == status {
			out = append(out, m)
		}
		return true
	})
	if err != nil {
		return nil, merr.Storage("store.ListMessagesByStatus", err)
	}
	return out, nil
}

// DeleteMessage removes a message row and its conversation index entry.
func (s *Store) DeleteMessage(m Message) error {
	batch := new(leveldb.Batch)
	batch.Delete([]byte(messagePrefix + m.MessageID))
	batch.Delete([]byte(messageIndexKey(m.ConversationID, m.SentAt, m.MessageID)))
	if err := s.write(batch); err != nil {
		return merr.Storage("store.DeleteMessage", err)
	}
	return nil
}

// CleanupExpired deletes every message whose ExpiresAt has passed,
// cascading to its offline-queue entries (across every peer it was
// queued for) and its ack row, mirroring the foreign-key cascade the
// relational schema this table stands in for would enforce.
func (s *Store) CleanupExpired(now int64) (int, error) {
	var expired []Message
	err := s.iteratePrefix(messagePrefix, func(_, value []byte) bool {
		var m Message
		if err := json.Unmarshal(value, &m); err == nil && m.ExpiresAt != 0 && m.ExpiresAt < now {
			expired = append(expired, m)
		}
		return true
	})
	if err != nil {
		return 0, merr.Storage("store.CleanupExpired", err)
	}

	for _, m := range expired {
		if err := s.deleteQueueEntriesForMessage(m.MessageID); err != nil {
			return 0, err
		}
		if err := s.DeleteAck(m.MessageID); err != nil {
			return 0, err
		}
		if err := s.DeleteMessage(m); err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

// deleteQueueEntriesForMessage removes every offline-queue row for
// messageID, regardless of which peer it was queued for.
func (s *Store) deleteQueueEntriesForMessage(messageID string) error {
	var toDelete []QueuedItem
	err := s.iteratePrefix(offlineQueuePrefix, func(_, value []byte) bool {
		var item QueuedItem
		if err := json.Unmarshal(value, &item); err == nil && item.MessageID == messageID {
			toDelete = append(toDelete, item)
		}
		return true
	})
	if err != nil {
		return merr.Storage("store.deleteQueueEntriesForMessage", err)
	}
	for _, item := range toDelete {
		if err := s.Dequeue(item.PeerID, item.ItemID); err != nil {
			return err
		}
	}
	return nil
}

package store

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/meshlink/meshlink/internal/merr"
	"github.com/syndtr/goleveldb/leveldb"
)

const conversationPrefix = "conversation:"

// SyncStatus tracks how far a conversation's messages have been
// acknowledged by the remote side.
type SyncStatus string

const (
	SyncStatusPending   SyncStatus = "pending"
	SyncStatusDelivered SyncStatus = "delivered"
	SyncStatusRead      SyncStatus = "read"
)

// Conversation is a row of the conversations table: one per direct
// peer or group a node has ever exchanged messages with.
type Conversation struct {
	ConversationID string     `json:"conversation_id"` // peer_id or group_id
	IsGroup        bool       `json:"is_group"`
	LastMessage    string     `json:"last_message,omitempty"`
	LastMessageAt  int64      `json:"last_message_at"`
	SyncStatus     SyncStatus `json:"sync_status"`
	UnreadCount    int        `json:"unread_count"`
}

// UpsertConversation inserts or updates a conversation row.
func (s *Store) UpsertConversation(c Conversation) error {
	batch := new(leveldb.Batch)
	if err := putJSON(batch, conversationPrefix+c.ConversationID, c); err != nil {
		return merr.Storage("store.UpsertConversation", err)
	}
	if err := s.write(batch); err != nil {
		return merr.Storage("store.UpsertConversation", err)
	}
	return nil
}

// GetConversation returns the conversation row for id, if present.
func (s *Store) GetConversation(id string) (*Conversation, bool, error) {
	var c Conversation
	ok, err := s.getJSON(conversationPrefix+id, &c)
	if err != nil {
		return nil, false, merr.Storage("store.GetConversation", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &c, true, nil
}

// TouchConversation bumps LastMessage/LastMessageAt and the sync
// status for id, creating the row if it doesn't exist yet.
func (s *Store) TouchConversation(id string, isGroup bool, status SyncStatus, lastMessage string) error {
	c, ok, err := s.GetConversation(id)
	if err != nil {
		return err
	}
	if !ok {
		c = &Conversation{ConversationID: id, IsGroup: isGroup}
	}
	c.LastMessage = lastMessage
	c.LastMessageAt = time.Now().Unix()
	c.SyncStatus = status
	return s.UpsertConversation(*c)
}

// IncrementUnread bumps id's unread counter by one, creating the row
// if it doesn't exist yet (spec.md's increment_unread operation).
func (s *Store) IncrementUnread(id string, isGroup bool) error {
	c, ok, err := s.GetConversation(id)
	if err != nil {
		return err
	}
	if !ok {
		c = &Conversation{ConversationID: id, IsGroup: isGroup}
	}
	c.UnreadCount++
	return s.UpsertConversation(*c)
}

// MarkAsRead resets id's unread counter to zero (spec.md's
// mark_as_read operation). A conversation that doesn't exist yet is a
// no-op, not an error.
func (s *Store) MarkAsRead(id string) error {
	c, ok, err := s.GetConversation(id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	c.UnreadCount = 0
	return s.UpsertConversation(*c)
}

// ListConversations returns every known conversation ordered by
// LastMessageAt descending, conversations with no messages yet (zero
// LastMessageAt) sorted last, per spec.md's explicit listing order.
func (s *Store) ListConversations() ([]Conversation, error) {
	var out []Conversation
	err := s.iteratePrefix(conversationPrefix, func(_, value []byte) bool {
		var c Conversation
		if err := json.Unmarshal(value, &c); err == nil {
			out = append(out, c)
		}
		return true
	})
	if err != nil {
		return nil, merr.Storage("store.ListConversations", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastMessageAt == 0 {
			return false
		}
		if out[j].LastMessageAt == 0 {
			return true
		}
		return out[i].LastMessageAt > out[j].LastMessageAt
	})
	return out, nil
}

// DeleteConversation removes a conversation row.
func (s *Store) DeleteConversation(id string) error {
	batch := new(leveldb.Batch)
	batch.Delete([]byte(conversationPrefix + id))
	if err := s.write(batch); err != nil {
		return merr.Storage("store.DeleteConversation", err)
	}
	return nil
}

package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/meshlink/meshlink/internal/merr"
	"github.com/syndtr/goleveldb/leveldb"
)

const offlineQueuePrefix = "offlinequeue:"

// QueuedItem is one message or file-share notification waiting for its
// destination peer to come back online (C9).
type QueuedItem struct {
	ItemID      string `json:"item_id"`
	PeerID      string `json:"peer_id"`
	MessageID   string `json:"message_id"`
	QueuedAt    int64  `json:"queued_at"`
	NextRetryAt int64  `json:"next_retry_at"`
	Attempts    int    `json:"attempts"`
}

func offlineQueueKey(peerID, itemID string) string {
	return fmt.Sprintf("%s%s:%s", offlineQueuePrefix, peerID, itemID)
}

// Enqueue adds a message to a peer's offline queue.
func (s *Store) Enqueue(item QueuedItem) error {
	if item.QueuedAt == 0 {
		item.QueuedAt = time.Now().Unix()
	}
	batch := new(leveldb.Batch)
	if err := putJSON(batch, offlineQueueKey(item.PeerID, item.ItemID), item); err != nil {
		return merr.Storage("store.Enqueue", err)
	}
	if err := s.write(batch); err != nil {
		return merr.Storage("store.Enqueue", err)
	}
	return nil
}

// ListQueued returns every item queued for a peer, in queue order
// (oldest QueuedAt first; items queued within the same second are in
// item-id order).
func (s *Store) ListQueued(peerID string) ([]QueuedItem, error) {
	var out []QueuedItem
	err := s.iteratePrefix(offlineQueuePrefix+peerID+":", func(_, value []byte) bool {
		var item QueuedItem
		if err := json.Unmarshal(value, &item); err == nil {
			out = append(out, item)
		}
		return true
	})
	if err != nil {
		return nil, merr.Storage("store.ListQueued", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].QueuedAt < out[j].QueuedAt })
	return out, nil
}

// ListDueRetries returns every queued item (across all peers) whose
// NextRetryAt has passed, used by C9's periodic retry loop.
func (s *Store) ListDueRetries(now int64) ([]QueuedItem, error) {
	var out []QueuedItem
	err := s.iteratePrefix(offlineQueuePrefix, func(_, value []byte) bool {
		var item QueuedItem
		if err := json.Unmarshal(value, &item); err == nil && item.NextRetryAt <= now {
			out = append(out, item)
		}
		return true
	})
	if err != nil {
		return nil, merr.Storage("store.ListDueRetries", err)
	}
	return out, nil
}

// UpdateRetry bumps an item's attempt counter and schedules its next
// retry time.
func (s *Store) UpdateRetry(peerID, itemID string, nextRetryAt int64) error {
	key := offlineQueueKey(peerID, itemID)
	var item QueuedItem
	ok, err := s.getJSON(key, &item)
	if err != nil {
		return merr.Storage("store.UpdateRetry", err)
	}
	if !ok {
		return merr.NotFound("store.UpdateRetry", merr.ErrFileNotFound)
	}
	item.Attempts++
	item.NextRetryAt = nextRetryAt
	batch := new(leveldb.Batch)
	if err := putJSON(batch, key, item); err != nil {
		return merr.Storage("store.UpdateRetry", err)
	}
	if err := s.write(batch); err != nil {
		return merr.Storage("store.UpdateRetry", err)
	}
	return nil
}

// Dequeue removes an item once it has been delivered or permanently
// failed.
func (s *Store) Dequeue(peerID, itemID string) error {
	batch := new(leveldb.Batch)
	batch.Delete([]byte(offlineQueueKey(peerID, itemID)))
	if err := s.write(batch); err != nil {
		return merr.Storage("store.Dequeue", err)
	}
	return nil
}

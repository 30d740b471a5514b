package store

import (
	"encoding/json"
	"time"

	"github.com/meshlink/meshlink/internal/merr"
	"github.com/syndtr/goleveldb/leveldb"
)

const groupPrefix = "group:"

// Group is a row of the groups table (owned jointly by C6 and C3).
type Group struct {
	GroupID   string `json:"group_id"`
	Name      string `json:"name"`
	Joined    bool   `json:"joined"`
	CreatedAt int64  `json:"created_at"`
}

// UpsertGroup inserts or updates a group row.
func (s *Store) UpsertGroup(g Group) error {
	if g.CreatedAt == 0 {
		g.CreatedAt = time.Now().Unix()
	}
	batch := new(leveldb.Batch)
	if err := putJSON(batch, groupPrefix+g.GroupID, g); err != nil {
		return merr.Storage("store.UpsertGroup", err)
	}
	if err := s.write(batch); err != nil {
		return merr.Storage("store.UpsertGroup", err)
	}
	return nil
}

// GetGroup returns the group row for groupID, if present.
func (s *Store) GetGroup(groupID string) (*Group, bool, error) {
	var g Group
	ok, err := s.getJSON(groupPrefix+groupID, &g)
	if err != nil {
		return nil, false, merr.Storage("store.GetGroup", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &g, true, nil
}

// ListGroups returns every known group.
func (s *Store) ListGroups() ([]Group, error) {
	var out []Group
	err := s.iteratePrefix(groupPrefix, func(_, value []byte) bool {
		var g Group
		if err := json.Unmarshal(value, &g); err == nil {
			out = append(out, g)
		}
		return true
	})
	if err != nil {
		return nil, merr.Storage("store.ListGroups", err)
	}
	return out, nil
}

// DeleteGroup removes a group row.
func (s *Store) DeleteGroup(groupID string) error {
	batch := new(leveldb.Batch)
	batch.Delete([]byte(groupPrefix + groupID))
	if err := s.write(batch); err != nil {
		return merr.Storage("store.DeleteGroup", err)
	}
	return nil
}

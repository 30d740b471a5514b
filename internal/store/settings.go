package store

import (
	"time"

	"github.com/meshlink/meshlink/internal/merr"
	"github.com/syndtr/goleveldb/leveldb"
)

const settingPrefix = "setting:"

// SettingEntry is one row of the key/value settings table.
type SettingEntry struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updated_at"`
}

// GetSetting returns the current value for key, if any.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var e SettingEntry
	ok, err := s.getJSON(settingPrefix+key, &e)
	if err != nil {
		return "", false, merr.Storage("store.GetSetting", err)
	}
	return e.Value, ok, nil
}

// SetSetting upserts a single key/value row.
func (s *Store) SetSetting(key, value string) error {
	batch := new(leveldb.Batch)
	if err := putJSON(batch, settingPrefix+key, SettingEntry{Key: key, Value: value, UpdatedAt: time.Now().Unix()}); err != nil {
		return merr.Storage("store.SetSetting", err)
	}
	if err := s.write(batch); err != nil {
		return merr.Storage("store.SetSetting", err)
	}
	return nil
}

// SetMany upserts multiple settings atomically.
func (s *Store) SetMany(kv map[string]string) error {
	batch := new(leveldb.Batch)
	now := time.Now().Unix()
	for k, v := range kv {
		if err := putJSON(batch, settingPrefix+k, SettingEntry{Key: k, Value: v, UpdatedAt: now}); err != nil {
			return merr.Storage("store.SetMany", err)
		}
	}
	if err := s.write(batch); err != nil {
		return merr.Storage("store.SetMany", err)
	}
	return nil
}

// DeleteSetting removes a key.
func (s *Store) DeleteSetting(key string) error {
	batch := new(leveldb.Batch)
	batch.Delete([]byte(settingPrefix + key))
	if err := s.write(batch); err != nil {
		return merr.Storage("store.DeleteSetting", err)
	}
	return nil
}

// ExistsSetting reports whether key is present.
func (s *Store) ExistsSetting(key string) (bool, error) {
	ok, err := s.has(settingPrefix + key)
	if err != nil {
		return false, merr.Storage("store.ExistsSetting", err)
	}
	return ok, nil
}

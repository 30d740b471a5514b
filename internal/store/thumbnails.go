package store

import (
	"encoding/json"

	"github.com/meshlink/meshlink/internal/merr"
	"github.com/syndtr/goleveldb/leveldb"
)

const thumbnailPrefix = "thumbnail:"

// ThumbnailEntry is a row of the thumbnails table (C11), keyed by the
// source file's path rather than its share code so a file can be
// looked up before it's ever shared.
type ThumbnailEntry struct {
	FilePath  string `json:"file_path"`
	ThumbPath string `json:"thumb_path"`
	CreatedAt int64  `json:"created_at"`
}

// PutThumbnail upserts the (file_path -> thumb_path) mapping.
func (s *Store) PutThumbnail(t ThumbnailEntry) error {
	batch := new(leveldb.Batch)
	if err := putJSON(batch, thumbnailPrefix+t.FilePath, t); err != nil {
		return merr.Storage("store.PutThumbnail", err)
	}
	if err := s.write(batch); err != nil {
		return merr.Storage("store.PutThumbnail", err)
	}
	return nil
}

// GetThumbnail returns the thumbnail path recorded for a file path.
func (s *Store) GetThumbnail(filePath string) (*ThumbnailEntry, bool, error) {
	var t ThumbnailEntry
	ok, err := s.getJSON(thumbnailPrefix+filePath, &t)
	if err != nil {
		return nil, false, merr.Storage("store.GetThumbnail", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &t, true, nil
}

// DeleteThumbnail removes a thumbnail row.
func (s *Store) DeleteThumbnail(filePath string) error {
	batch := new(leveldb.Batch)
	batch.Delete([]byte(thumbnailPrefix + filePath))
	if err := s.write(batch); err != nil {
		return merr.Storage("store.DeleteThumbnail", err)
	}
	return nil
}

// CleanupOldThumbnails deletes every row created more than
// olderThanSeconds ago, returning their thumb paths so the caller can
// remove the underlying files too.
func (s *Store) CleanupOldThumbnails(now int64, olderThanSeconds int64) ([]string, error) {
	var stale []ThumbnailEntry
	err := s.iteratePrefix(thumbnailPrefix, func(_, value []byte) bool {
		var t ThumbnailEntry
		if err := json.Unmarshal(value, &t); err == nil && now-t.CreatedAt > olderThanSeconds {
			stale = append(stale, t)
		}
		return true
	})
	if err != nil {
		return nil, merr.Storage("store.CleanupOldThumbnails", err)
	}

	paths := make([]string, 0, len(stale))
	for _, t := range stale {
		if err := s.DeleteThumbnail(t.FilePath); err != nil {
			return nil, err
		}
		paths = append(paths, t.ThumbPath)
	}
	return paths, nil
}

package store

import (
	"encoding/json"

	"github.com/meshlink/meshlink/internal/merr"
	"github.com/syndtr/goleveldb/leveldb"
)

const (
	sharedFilePrefix = "sharedfile:"
	sharedFileByHash = "idx:filehash:"
	sharedFileByURI  = "idx:canonicaluri:"
)

// SharedFile is a row of the shared-files table (C4). ShareCode is the
// blake3-derived, hex-encoded handle other peers request by;
// ContentHash is the sha256 of the whole file, used to dedup re-shares
// of identical content under a different path.
type SharedFile struct {
	ShareCode    string `json:"share_code"`
	CanonicalURI string `json:"canonical_uri"`
	FileName     string `json:"file_name"`
	SizeBytes    int64  `json:"size_bytes"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkCount   int    `json:"chunk_count"`
	ContentHash  string `json:"content_hash"`
	ThumbnailKey string `json:"thumbnail_key,omitempty"`
	Revoked      bool   `json:"revoked"`
	SharedAt     int64  `json:"shared_at"`
}

// PutSharedFile inserts or replaces a shared-file row along with its
// content-hash and canonical-URI secondary indexes.
func (s *Store) PutSharedFile(f SharedFile) error {
	batch := new(leveldb.Batch)
	if err := putJSON(batch, sharedFilePrefix+f.ShareCode, f); err != nil {
		return merr.Storage("store.PutSharedFile", err)
	}
	batch.Put([]byte(sharedFileByHash+f.ContentHash+":"+f.ShareCode), []byte(f.ShareCode))
	batch.Put([]byte(sharedFileByURI+f.CanonicalURI), []byte(f.ShareCode))
	if err := s.write(batch); err != nil {
		return merr.Storage("store.PutSharedFile", err)
	}
	return nil
}

// FindSharedFileByCanonicalURI returns the shared-file row registered
// for a given path/URI, revoked or not, so share_file can detect a
// re-share of the same path and update it in place.
func (s *Store) FindSharedFileByCanonicalURI(uri string) (*SharedFile, bool, error) {
	shareCode, ok, err := s.getString(sharedFileByURI + uri)
	if err != nil {
		return nil, false, merr.Storage("store.FindSharedFileByCanonicalURI", err)
	}
	if !ok {
		return nil, false, nil
	}
	return s.GetSharedFile(shareCode)
}

// GetSharedFile returns the row for a share code.
func (s *Store) GetSharedFile(shareCode string) (*SharedFile, bool, error) {
	var f SharedFile
	ok, err := s.getJSON(sharedFilePrefix+shareCode, &f)
	if err != nil {
		return nil, false, merr.Storage("store.GetSharedFile", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &f, true, nil
}

// FindSharedFileByHash returns the first non-revoked shared file whose
// content hash matches.
func (s *Store) FindSharedFileByHash(contentHash string) (*SharedFile, bool, error) {
	var found *SharedFile
	err := s.iteratePrefix(sharedFileByHash+contentHash+":", func(_, value []byte) bool {
		f, ok, err := s.GetSharedFile(string(value))
		if err == nil && ok && !f.Revoked && f.ContentHash == contentHash {
			found = f
			return false
		}
		return true
	})
	if err != nil {
		return nil, false, merr.Storage("store.FindSharedFileByHash", err)
	}
	if found == nil {
		return nil, false, nil
	}
	return found, true, nil
}

// ListSharedFiles returns every shared-file row, revoked or not.
func (s *Store) ListSharedFiles() ([]SharedFile, error) {
	var out []SharedFile
	err := s.iteratePrefix(sharedFilePrefix, func(_, value []byte) bool {
		var f SharedFile
		if err := json.Unmarshal(value, &f); err == nil {
			out = append(out, f)
		}
		return true
	})
	if err != nil {
		return nil, merr.Storage("store.ListSharedFiles", err)
	}
	return out, nil
}

// RevokeSharedFile marks a share code as revoked without deleting its
// row; the row stays readable through GetSharedFile and
// ListSharedFiles.
func (s *Store) RevokeSharedFile(shareCode string) error {
	f, ok, err := s.GetSharedFile(shareCode)
	if err != nil {
		return err
	}
	if !ok {
		return merr.NotFound("store.RevokeSharedFile", merr.ErrFileNotFound)
	}
	f.Revoked = true
	batch := new(leveldb.Batch)
	if err := putJSON(batch, sharedFilePrefix+f.ShareCode, *f); err != nil {
		return merr.Storage("store.RevokeSharedFile", err)
	}
	if err := s.write(batch); err != nil {
		return merr.Storage("store.RevokeSharedFile", err)
	}
	return nil
}

// DeleteSharedFile removes a shared-file row and its indexes entirely
// (used by unshare_file, as opposed to the soft-delete RevokeSharedFile
// performs).
func (s *Store) DeleteSharedFile(shareCode string) error {
	f, ok, err := s.GetSharedFile(shareCode)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	batch := new(leveldb.Batch)
	batch.Delete([]byte(sharedFilePrefix + shareCode))
	batch.Delete([]byte(sharedFileByHash + f.ContentHash + ":" + f.ShareCode))
	batch.Delete([]byte(sharedFileByURI + f.CanonicalURI))
	if err := s.write(batch); err != nil {
		return merr.Storage("store.DeleteSharedFile", err)
	}
	return nil
}

// UpdateThumbnailPath records the generated thumbnail for a share.
func (s *Store) UpdateThumbnailPath(shareCode, thumbPath string) error {
	f, ok, err := s.GetSharedFile(shareCode)
	if err != nil {
		return err
	}
	if !ok {
		return merr.NotFound("store.UpdateThumbnailPath", merr.ErrFileNotFound)
	}
	f.ThumbnailKey = thumbPath
	batch := new(leveldb.Batch)
	if err := putJSON(batch, sharedFilePrefix+f.ShareCode, *f); err != nil {
		return merr.Storage("store.UpdateThumbnailPath", err)
	}
	if err := s.write(batch); err != nil {
		return merr.Storage("store.UpdateThumbnailPath", err)
	}
	return nil
}

// GetThumbnailPath returns the thumbnail path recorded for a share,
// if any.
func (s *Store) GetThumbnailPath(shareCode string) (string, bool, error) {
	f, ok, err := s.GetSharedFile(shareCode)
	if err != nil {
		return "", false, err
	}
	if !ok || f.ThumbnailKey == "" {
		return "", false, nil
	}
	return f.ThumbnailKey, true, nil
}

// CleanupRevokedFiles permanently removes every row already marked
// revoked.
func (s *Store) CleanupRevokedFiles() error {
	files, err := s.ListSharedFiles()
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.Revoked {
			if err := s.DeleteSharedFile(f.ShareCode); err != nil {
				return err
			}
		}
	}
	return nil
}

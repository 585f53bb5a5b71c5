package cache

import (
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	ThumbnailsName = "thumbnails.db"

	thumbnailBucket = "thumbnails"
	boltOpenTimeout = 5 * time.Second
)

// ThumbnailStore persists resolved thumbnail URLs in a bolt database next to
// the snapshot so that restarts do not re-probe every video.
type ThumbnailStore struct {
	db *bolt.DB
}

// OpenThumbnailStore opens (creating if needed) the thumbnail database in the
// cache directory.
func (s *Store) OpenThumbnailStore() (*ThumbnailStore, error) {
	return OpenThumbnailStore(filepath.Join(s.dir, ThumbnailsName))
}

// OpenThumbnailStore opens the bolt database at path.
func OpenThumbnailStore(path string) (*ThumbnailStore, error) {
	db, err := bolt.Open(path, filePerms, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open thumbnail store: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(thumbnailBucket))

		return err
	}); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to initialise thumbnail store: %w", err)
	}

	return &ThumbnailStore{db: db}, nil
}

// GetThumbnail returns the stored URL for videoID.
func (t *ThumbnailStore) GetThumbnail(videoID string) (string, bool) {
	var url string

	t.db.View(func(tx *bolt.Tx) error { //nolint:errcheck
		if v := tx.Bucket([]byte(thumbnailBucket)).Get([]byte(videoID)); v != nil {
			url = string(v)
		}

		return nil
	})

	return url, url != ""
}

// PutThumbnail stores url for videoID.
func (t *ThumbnailStore) PutThumbnail(videoID, url string) error {
	return t.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(thumbnailBucket)).Put([]byte(videoID), []byte(url))
	})
}

// Reset drops every stored URL.
func (t *ThumbnailStore) Reset() error {
	return t.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(thumbnailBucket)); err != nil {
			return err
		}

		_, err := tx.CreateBucket([]byte(thumbnailBucket))

		return err
	})
}

// Close closes the database.
func (t *ThumbnailStore) Close() error {
	return t.db.Close()
}

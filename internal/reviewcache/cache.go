// Package reviewcache keeps a local bbolt snapshot of each repository's
// open review requests. Conflict assessments read from the snapshot so a
// hosting-platform outage degrades to stale data instead of an error.
package reviewcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codepulse/codepulse-go/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	requestsBucket = "review_requests"
	syncBucket     = "sync_times"
)

// Cache is a per-repository snapshot of open review requests.
type Cache struct {
	db *bolt.DB
}

// Open opens (or creates) the cache file.
func Open(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open review cache: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Put replaces the stored snapshot for a repository and stamps the sync time.
func (c *Cache) Put(repoID string, requests []models.ReviewRequest, syncedAt time.Time) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(requestsBucket))
		if err != nil {
			return err
		}
		data, err := json.Marshal(requests)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(repoID), data); err != nil {
			return err
		}

		times, err := tx.CreateBucketIfNotExists([]byte(syncBucket))
		if err != nil {
			return err
		}
		stamp, err := syncedAt.UTC().MarshalText()
		if err != nil {
			return err
		}
		return times.Put([]byte(repoID), stamp)
	})
}

// Get returns the stored snapshot, or nil when the repository has none.
func (c *Cache) Get(repoID string) ([]models.ReviewRequest, error) {
	var requests []models.ReviewRequest
	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(requestsBucket))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(repoID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &requests)
	})
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// LastSync returns when the repository's snapshot was last refreshed.
// The zero time means it never was.
func (c *Cache) LastSync(repoID string) (time.Time, error) {
	var syncedAt time.Time
	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(syncBucket))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(repoID))
		if data == nil {
			return nil
		}
		return syncedAt.UnmarshalText(data)
	})
	if err != nil {
		return time.Time{}, err
	}
	return syncedAt, nil
}

package cache

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketInstalled = []byte("installed")

// InstalledEntry records the state of an extracted dependency directory
// at the time it was last installed, so a later run can tell whether it
// needs to be re-extracted and re-run through lifecycle scripts.
type InstalledEntry struct {
	Path        string    `json:"path"`
	Reference   string    `json:"reference"`
	InstalledAt time.Time `json:"installed_at"`
}

// StateCache is a local embedded incremental-build cache: it records
// which (name, reference) pairs have already been extracted and linked,
// so a repeat install in the same directory can skip redoing work. It is
// not a lockfile — it carries no version-pinning semantics, is keyed by
// whatever the resolver already decided, and is silently rebuilt if
// missing or stale.
type StateCache struct {
	db *bolt.DB
}

// OpenStateCache opens (creating if absent) a bbolt database at path.
func OpenStateCache(path string) (*StateCache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state cache: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketInstalled)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create state cache bucket: %w", err)
	}
	return &StateCache{db: db}, nil
}

// Close closes the underlying database.
func (c *StateCache) Close() error {
	return c.db.Close()
}

// key identifies a dependency's installed-state record.
func key(name, reference string) []byte {
	return []byte(name + "@" + reference)
}

// Lookup returns the recorded install state for name@reference, if any.
func (c *StateCache) Lookup(name, reference string) (entry InstalledEntry, found bool, err error) {
	err = c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketInstalled).Get(key(name, reference))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	if err != nil {
		return InstalledEntry{}, false, fmt.Errorf("lookup state cache entry for %s@%s: %w", name, reference, err)
	}
	return entry, found, nil
}

// Record stores the install state for name@reference.
func (c *StateCache) Record(name, reference string, entry InstalledEntry) error {
	entry.InstalledAt = time.Now()
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal state cache entry for %s@%s: %w", name, reference, err)
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstalled).Put(key(name, reference), data)
	})
	if err != nil {
		return fmt.Errorf("record state cache entry for %s@%s: %w", name, reference, err)
	}
	return nil
}

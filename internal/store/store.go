// Package store persists the two logical maps of spec.md §3 — the
// directory map and the instance map — under one bbolt database file,
// standing in for the "well-known object" on the shared object store.
// A single bbolt transaction gives each batched update/removal atomic,
// all-or-nothing application, as spec.md §4.1 requires.
package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/fsmirror/internal/mirror"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketDirMap    = []byte("dirmap")
	bucketInstances = []byte("instances")
)

// DB is the well-known object's backing store, one per mirrored
// filesystem.
type DB struct {
	bolt *bolt.DB
}

// Open creates (if absent) and opens the per-filesystem object under
// dataDir/<fs>.db.
func Open(dataDir, fs string) (*DB, error) {
	path := filepath.Join(dataDir, fs+".db")
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening mirror object for %s: %w", fs, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketDirMap, bucketInstances} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &DB{bolt: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.bolt.Close()
}

// Destroy removes the well-known object entirely (disable_mirror).
func (d *DB) Destroy() error {
	path := d.bolt.Path()
	if err := d.bolt.Close(); err != nil {
		return err
	}
	return removeFile(path)
}

// LoadDirectoryMap returns every tracked directory entry.
func (d *DB) LoadDirectoryMap() (map[string]mirror.DirEntry, error) {
	entries := make(map[string]mirror.DirEntry)
	err := d.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDirMap)
		return b.ForEach(func(k, v []byte) error {
			var e mirror.DirEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries[string(k)] = e
			return nil
		})
	})
	return entries, err
}

// LoadInstances returns every instance record.
func (d *DB) LoadInstances() (map[string]mirror.Instance, error) {
	instances := make(map[string]mirror.Instance)
	err := d.bolt.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		return b.ForEach(func(k, v []byte) error {
			var inst mirror.Instance
			if err := json.Unmarshal(v, &inst); err != nil {
				return err
			}
			instances[string(k)] = inst
			return nil
		})
	})
	return instances, err
}

// ApplyDirectoryUpdate atomically applies updates and removals to the
// directory map bucket in one bbolt transaction.
func (d *DB) ApplyDirectoryUpdate(updates map[string]mirror.DirEntry, removals []string) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDirMap)
		for path, entry := range updates {
			data, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(path), data); err != nil {
				return err
			}
		}
		for _, path := range removals {
			if err := b.Delete([]byte(path)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyInstanceUpdate atomically applies added/removed instances.
func (d *DB) ApplyInstanceUpdate(added map[string]mirror.Instance, removed []string) error {
	return d.bolt.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketInstances)
		for id, inst := range added {
			data, err := json.Marshal(inst)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(id), data); err != nil {
				return err
			}
		}
		for _, id := range removed {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

package persistence

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// BoltStore implements Store on top of a single bbolt bucket, grounded on
// the teacher's pkg/storage BoltDB-backed Store.
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
}

// NewBoltStore opens (creating if necessary) a bbolt database at path and
// ensures bucket exists.
func NewBoltStore(path string, bucket string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("persistence: failed to open database: %w", err)
	}

	bucketName := []byte(bucket)
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: failed to create bucket %s: %w", bucket, err)
	}

	return &BoltStore{db: db, bucket: bucketName}, nil
}

func (s *BoltStore) Save(key string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), data)
	})
}

func (s *BoltStore) Load() (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).ForEach(func(k, v []byte) error {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[string(k)] = cp
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("persistence: failed to load bucket %s: %w", s.bucket, err)
	}
	return out, nil
}

func (s *BoltStore) Remove(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Delete([]byte(key))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

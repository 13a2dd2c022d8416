package schemacat

import (
	"errors"
	"unsafe"

	"go.etcd.io/bbolt"
)

type boltStorage struct {
	bdb *bbolt.DB
}

func newBoltStorage(bdb *bbolt.DB) storage {
	return &boltStorage{bdb: bdb}
}

func (s *boltStorage) BeginTx(writable bool) (storageTx, error) {
	btx, err := s.bdb.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &boltStorageTx{btx: btx}, nil
}

func (s *boltStorage) Close() error {
	return s.bdb.Close()
}

// boltStorageTx maps bucket paths onto nested Bolt buckets. Bolt allows
// a single writer at a time, so Commit never reports ErrConflict.
type boltStorageTx struct {
	btx *bbolt.Tx
}

func (tx *boltStorageTx) Writable() bool { return tx.btx.Writable() }

func (tx *boltStorageTx) bucket(path []string) *bbolt.Bucket {
	if len(path) == 0 {
		return nil
	}
	b := tx.btx.Bucket(unsafeBytesFromString(path[0]))
	for _, name := range path[1:] {
		if b == nil {
			return nil
		}
		b = b.Bucket(unsafeBytesFromString(name))
	}
	return b
}

func (tx *boltStorageTx) Bucket(path ...string) storageBucket {
	b := tx.bucket(path)
	if b == nil {
		return nil
	}
	return boltBucket{b: b}
}

func (tx *boltStorageTx) CreateBucket(path ...string) (storageBucket, error) {
	if len(path) == 0 {
		return nil, ErrNamespaceNotFound
	}
	name := unsafeBytesFromString(path[len(path)-1])
	var b *bbolt.Bucket
	var err error
	if len(path) == 1 {
		b, err = tx.btx.CreateBucket(name)
	} else {
		parent := tx.bucket(path[:len(path)-1])
		if parent == nil {
			return nil, ErrNamespaceNotFound
		}
		b, err = parent.CreateBucket(name)
	}
	if errors.Is(err, bbolt.ErrBucketExists) || errors.Is(err, bbolt.ErrIncompatibleValue) {
		return nil, ErrNamespaceExists
	} else if err != nil {
		return nil, err
	}
	return boltBucket{b: b}, nil
}

func (tx *boltStorageTx) EnsureBucket(path ...string) (storageBucket, error) {
	if len(path) == 0 {
		return nil, ErrNamespaceNotFound
	}
	b, err := tx.btx.CreateBucketIfNotExists(unsafeBytesFromString(path[0]))
	if err != nil {
		return nil, err
	}
	for _, name := range path[1:] {
		b, err = b.CreateBucketIfNotExists(unsafeBytesFromString(name))
		if err != nil {
			return nil, err
		}
	}
	return boltBucket{b: b}, nil
}

func (tx *boltStorageTx) DeleteBucket(path ...string) error {
	if len(path) == 0 {
		return ErrNamespaceNotFound
	}
	name := unsafeBytesFromString(path[len(path)-1])
	var err error
	if len(path) == 1 {
		err = tx.btx.DeleteBucket(name)
	} else {
		parent := tx.bucket(path[:len(path)-1])
		if parent == nil {
			return ErrNamespaceNotFound
		}
		err = parent.DeleteBucket(name)
	}
	if errors.Is(err, bbolt.ErrBucketNotFound) || errors.Is(err, bbolt.ErrIncompatibleValue) {
		return ErrNamespaceNotFound
	}
	return err
}

func (tx *boltStorageTx) ForEachBucket(path []string, f func(name string) error) error {
	if len(path) == 0 {
		return tx.btx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			return f(string(name))
		})
	}
	b := tx.bucket(path)
	if b == nil {
		return ErrNamespaceNotFound
	}
	return b.ForEach(func(k, v []byte) error {
		if v != nil {
			return nil
		}
		return f(string(k))
	})
}

func (tx *boltStorageTx) Commit() error {
	switch err := tx.btx.Commit(); err {
	case bbolt.ErrTxClosed:
		return errTxClosed
	case bbolt.ErrTxNotWritable:
		return errTxNotWritable
	default:
		return err
	}
}

func (tx *boltStorageTx) Rollback() error {
	err := tx.btx.Rollback()
	if err == bbolt.ErrTxClosed {
		return nil
	}
	return err
}

func (tx *boltStorageTx) Size() int64 { return tx.btx.Size() }

type boltBucket struct {
	b *bbolt.Bucket
}

func (b boltBucket) Get(key []byte) []byte { return b.b.Get(key) }

func (b boltBucket) Put(key, value []byte) error { return b.b.Put(key, value) }

func (b boltBucket) Delete(key []byte) error { return b.b.Delete(key) }

func (b boltBucket) Cursor() storageCursor { return boltCursor{c: b.b.Cursor()} }

func (b boltBucket) Stats() bucketStats {
	s := b.b.Stats()
	return bucketStats{
		KeyN:        s.KeyN,
		LeafInuse:   int64(s.LeafInuse),
		LeafAlloc:   int64(s.LeafAlloc),
		BranchAlloc: int64(s.BranchAlloc),
	}
}

// boltCursor hides nested buckets, which Bolt reports as keys with nil values.
type boltCursor struct {
	c *bbolt.Cursor
}

func (c boltCursor) skip(k, v []byte) ([]byte, []byte) {
	for k != nil && v == nil {
		k, v = c.c.Next()
	}
	return k, v
}

func (c boltCursor) First() ([]byte, []byte) { return c.skip(c.c.First()) }

func (c boltCursor) Seek(seek []byte) ([]byte, []byte) { return c.skip(c.c.Seek(seek)) }

func (c boltCursor) Next() ([]byte, []byte) { return c.skip(c.c.Next()) }

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

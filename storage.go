package schemacat

import "errors"

var (
	// ErrNamespaceExists is returned by storageTx.CreateBucket when the bucket already exists.
	ErrNamespaceExists = errors.New("namespace already exists")

	// ErrNamespaceNotFound is returned when a bucket on the given path doesn't exist.
	ErrNamespaceNotFound = errors.New("namespace not found")

	// ErrConflict is returned by Commit when a concurrent transaction has
	// modified data this transaction depends on. The whole transaction must be
	// replayed from scratch.
	ErrConflict = errors.New("transaction conflict")

	errTxNotWritable = errors.New("tx not writable")
	errTxClosed      = errors.New("tx closed")
	errStoreClosed   = errors.New("storage closed")
)

// storage represents a key-value storage backend (Bolt, in-memory, etc.).
type storage interface {
	// BeginTx starts a new transaction.
	BeginTx(writable bool) (storageTx, error)
	// Close closes the storage.
	Close() error
}

// storageTx represents a storage transaction.
//
// Buckets are addressed by a path of names, like directories in a file system.
// A bucket holds both keys and nested buckets.
type storageTx interface {
	// Writable returns true if this is a writable transaction.
	Writable() bool

	// Bucket returns the bucket at the given path, or nil if it doesn't exist.
	Bucket(path ...string) storageBucket

	// CreateBucket creates the bucket at the given path. The parent must exist.
	// Returns ErrNamespaceExists if the bucket exists already.
	CreateBucket(path ...string) (storageBucket, error)

	// EnsureBucket creates the bucket and all of its parents if they don't exist.
	EnsureBucket(path ...string) (storageBucket, error)

	// DeleteBucket deletes the bucket with all nested keys and buckets.
	// Returns ErrNamespaceNotFound if the bucket doesn't exist.
	DeleteBucket(path ...string) error

	// ForEachBucket calls f for every direct child bucket of the given path,
	// in key order. An empty path enumerates top-level buckets.
	ForEachBucket(path []string, f func(name string) error) error

	// Commit commits the transaction. May return ErrConflict, or errTxClosed
	// if the transaction has already been committed or rolled back.
	Commit() error

	// Rollback aborts the transaction. It should be safe to call multiple times.
	Rollback() error

	// Size returns the database size in bytes (0 if unknown / not applicable).
	Size() int64
}

// storageBucket represents a bucket (sorted key-value collection).
type storageBucket interface {
	// Get retrieves a value by key. Returns nil if not found.
	Get(key []byte) []byte

	// Put stores a key-value pair.
	Put(key, value []byte) error

	// Delete removes a key.
	Delete(key []byte) error

	// Cursor returns a cursor for iteration over keys (nested buckets are skipped).
	Cursor() storageCursor

	// Stats returns storage-specific bucket statistics.
	// Backends that don't track allocation sizes may return zero values except KeyN.
	Stats() bucketStats
}

type bucketStats struct {
	KeyN        int
	LeafInuse   int64
	LeafAlloc   int64
	BranchAlloc int64
}

func (s bucketStats) TotalAlloc() int64 { return s.BranchAlloc + s.LeafAlloc }

// storageCursor iterates over a sorted bucket.
type storageCursor interface {
	// First moves to the first key-value pair.
	First() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// Next moves to the next key-value pair.
	Next() (key, value []byte)
}

package schemacat

import (
	"bytes"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const memPathSep = "\x00"

// memStorage is a transient in-memory storage with optimistic concurrency.
//
// Every transaction works on a snapshot taken at BeginTx. Writers don't block
// each other; instead each transaction records which buckets it has read,
// and Commit fails with ErrConflict if any of them has been changed by
// a transaction that committed after the snapshot was taken.
//
// Conflict ranges are whole buckets, identified by the hash of their path.
type memStorage struct {
	mu       sync.Mutex
	buckets  map[string]*memBucket
	versions map[uint64]uint64
	seq      uint64
	closed   bool
}

// newMemStorage returns a transient in-memory storage implementation intended for tests.
func newMemStorage() storage {
	return &memStorage{
		buckets:  make(map[string]*memBucket),
		versions: make(map[uint64]uint64),
	}
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errStoreClosed
	}

	// Published buckets are never mutated, so sharing them is enough for a snapshot.
	return &memTx{
		base:     s,
		writable: writable,
		startSeq: s.seq,
		buckets:  maps.Clone(s.buckets),
		owned:    make(map[string]bool),
		reads:    make(map[uint64]struct{}),
		dirty:    make(map[string]struct{}),
		bumps:    make(map[uint64]struct{}),
	}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	startSeq uint64
	buckets  map[string]*memBucket
	owned    map[string]bool
	reads    map[uint64]struct{}
	dirty    map[string]struct{}
	bumps    map[uint64]struct{}
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) checkOpen() {
	if tx.closed {
		panic("tx is closed")
	}
}

func (tx *memTx) read(key string) {
	tx.reads[xxhash.Sum64String(key)] = struct{}{}
}

func (tx *memTx) touch(key string) {
	tx.bumps[xxhash.Sum64String(key)] = struct{}{}
}

// mutable returns a bucket owned by this transaction, cloning the shared one on first write.
func (tx *memTx) mutable(key string) *memBucket {
	b := tx.buckets[key]
	if !tx.owned[key] {
		b = b.clone()
		tx.buckets[key] = b
		tx.owned[key] = true
	}
	tx.dirty[key] = struct{}{}
	tx.touch(key)
	return b
}

func (tx *memTx) Bucket(path ...string) storageBucket {
	tx.checkOpen()
	if len(path) == 0 {
		return nil
	}
	key := memPathKey(path)
	tx.read(key)
	if tx.buckets[key] == nil {
		return nil
	}
	return memBucketHandle{tx: tx, key: key}
}

func (tx *memTx) CreateBucket(path ...string) (storageBucket, error) {
	tx.checkOpen()
	if !tx.writable {
		return nil, errTxNotWritable
	}
	if len(path) == 0 {
		return nil, ErrNamespaceNotFound
	}
	if len(path) > 1 {
		parentKey := memPathKey(path[:len(path)-1])
		tx.read(parentKey)
		if tx.buckets[parentKey] == nil {
			return nil, ErrNamespaceNotFound
		}
	}
	key := memPathKey(path)
	tx.read(key)
	if tx.buckets[key] != nil {
		return nil, ErrNamespaceExists
	}
	tx.buckets[key] = &memBucket{}
	tx.owned[key] = true
	tx.dirty[key] = struct{}{}
	tx.touch(key)
	tx.touch(memParentKey(path))
	return memBucketHandle{tx: tx, key: key}, nil
}

func (tx *memTx) EnsureBucket(path ...string) (storageBucket, error) {
	tx.checkOpen()
	if len(path) == 0 {
		return nil, ErrNamespaceNotFound
	}
	for i := 1; i <= len(path); i++ {
		key := memPathKey(path[:i])
		tx.read(key)
		if tx.buckets[key] != nil {
			continue
		}
		if _, err := tx.CreateBucket(path[:i]...); err != nil {
			return nil, err
		}
	}
	return memBucketHandle{tx: tx, key: memPathKey(path)}, nil
}

func (tx *memTx) DeleteBucket(path ...string) error {
	tx.checkOpen()
	if !tx.writable {
		return errTxNotWritable
	}
	if len(path) == 0 {
		return ErrNamespaceNotFound
	}
	key := memPathKey(path)
	tx.read(key)
	if tx.buckets[key] == nil {
		return ErrNamespaceNotFound
	}
	prefix := key + memPathSep
	for k := range tx.buckets {
		if k == key || strings.HasPrefix(k, prefix) {
			delete(tx.buckets, k)
			delete(tx.owned, k)
			tx.dirty[k] = struct{}{}
			tx.touch(k)
		}
	}
	tx.touch(memParentKey(path))
	return nil
}

func (tx *memTx) ForEachBucket(path []string, f func(name string) error) error {
	tx.checkOpen()
	parentKey := memPathKey(path)
	tx.read(parentKey)
	var prefix string
	if len(path) > 0 {
		if tx.buckets[parentKey] == nil {
			return ErrNamespaceNotFound
		}
		prefix = parentKey + memPathSep
	}

	var names []string
	for k := range tx.buckets {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if rest != "" && !strings.Contains(rest, memPathSep) {
			names = append(names, rest)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		if err := f(name); err != nil {
			return err
		}
	}
	return nil
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return errTxClosed
	}
	if !tx.writable {
		return errTxNotWritable
	}
	s := tx.base
	s.mu.Lock()
	defer s.mu.Unlock()
	tx.closed = true
	if s.closed {
		return errStoreClosed
	}
	if len(tx.bumps) == 0 {
		return nil
	}

	for h := range tx.reads {
		if s.versions[h] > tx.startSeq {
			return ErrConflict
		}
	}

	s.seq++
	for key := range tx.dirty {
		if b := tx.buckets[key]; b != nil {
			s.buckets[key] = b
		} else {
			delete(s.buckets, key)
		}
	}
	for h := range tx.bumps {
		s.versions[h] = s.seq
	}
	return nil
}

func (tx *memTx) Rollback() error {
	tx.closed = true
	return nil
}

func (tx *memTx) Size() int64 { return 0 }

func memPathKey(path []string) string {
	return strings.Join(path, memPathSep)
}

// memParentKey returns the key of the bucket holding path's last element;
// "" stands for the list of top-level buckets.
func memParentKey(path []string) string {
	if len(path) <= 1 {
		return ""
	}
	return memPathKey(path[:len(path)-1])
}

type memBucket struct {
	items []memKV // sorted by key
}

func (b *memBucket) clone() *memBucket {
	if b == nil {
		return &memBucket{}
	}
	return &memBucket{items: slices.Clone(b.items)}
}

type memKV struct {
	key   []byte
	value []byte
}

type memBucketHandle struct {
	tx  *memTx
	key string
}

func (b memBucketHandle) bucket() *memBucket {
	b.tx.checkOpen()
	mb := b.tx.buckets[b.key]
	if mb == nil {
		panic("bucket deleted: " + strings.ReplaceAll(b.key, memPathSep, "/"))
	}
	return mb
}

func (b memBucketHandle) Get(key []byte) []byte {
	mb := b.bucket()
	i, ok := mb.find(key)
	if !ok {
		return nil
	}
	return mb.items[i].value
}

func (b memBucketHandle) Put(key, value []byte) error {
	if !b.tx.writable {
		return errTxNotWritable
	}
	b.bucket()
	mb := b.tx.mutable(b.key)
	key = slices.Clone(key)
	value = slices.Clone(value)

	i, ok := mb.find(key)
	if ok {
		mb.items[i].value = value
		return nil
	}
	mb.items = slices.Insert(mb.items, i, memKV{key: key, value: value})
	return nil
}

func (b memBucketHandle) Delete(key []byte) error {
	if !b.tx.writable {
		return errTxNotWritable
	}
	if _, ok := b.bucket().find(key); !ok {
		return nil
	}
	mb := b.tx.mutable(b.key)
	i, _ := mb.find(key)
	mb.items = slices.Delete(mb.items, i, i+1)
	return nil
}

func (b memBucketHandle) Cursor() storageCursor {
	return &memCursor{items: b.bucket().items, pos: -1}
}

func (b memBucketHandle) Stats() bucketStats {
	var inuse int64
	items := b.bucket().items
	for _, kv := range items {
		inuse += int64(len(kv.key) + len(kv.value))
	}
	return bucketStats{
		KeyN:      len(items),
		LeafInuse: inuse,
		LeafAlloc: inuse,
	}
}

func (b *memBucket) find(key []byte) (idx int, ok bool) {
	items := b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	if i < len(items) && bytes.Equal(items[i].key, key) {
		return i, true
	}
	return i, false
}

// memCursor iterates over the items as of its creation.
type memCursor struct {
	items []memKV
	pos   int
}

func (c *memCursor) at() ([]byte, []byte) {
	if c.pos < 0 || c.pos >= len(c.items) {
		return nil, nil
	}
	kv := c.items[c.pos]
	return kv.key, kv.value
}

func (c *memCursor) First() ([]byte, []byte) {
	c.pos = 0
	return c.at()
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	items := c.items
	c.pos = sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, seek) >= 0
	})
	return c.at()
}

func (c *memCursor) Next() ([]byte, []byte) {
	c.pos++
	return c.at()
}

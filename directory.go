package schemacat

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Reserved keys start with a NUL byte, which namespace names may not contain.
var (
	directoryStateKey = []byte("\x00state")
	nodeInfoKey       = []byte("\x00node")
)

// Directory allocates namespaces under a single root bucket, one per name.
// Each namespace is a bucket of its own (a Subspace), so removing
// a namespace drops every key beneath it.
//
// All methods operate within the caller's transaction, so an existence check
// and the creation that depends on it commit or conflict together.
type Directory struct {
	root string
}

func NewDirectory(root string) *Directory {
	if err := ValidateNamespaceName(root); err != nil {
		panic(fmt.Errorf("invalid directory root: %w", err))
	}
	return &Directory{root: root}
}

func (d *Directory) Root() string {
	return d.root
}

// NodeInfo is stored inside every namespace created by the directory.
type NodeInfo struct {
	Ordinal uint64    `msgpack:"o"`
	Created time.Time `msgpack:"t"`
	Layer   string    `msgpack:"l,omitempty"`
}

// directoryState is stored in the root bucket. Ordinals are never reused,
// even after the namespace is removed.
type directoryState struct {
	LastOrdinal uint64 `msgpack:"lo"`
}

// Subspace is the key prefix region owned by a namespace.
type Subspace struct {
	path []string
}

func (ss Subspace) Path() []string {
	return slices.Clone(ss.path)
}

func (ss Subspace) Name() string {
	if len(ss.path) == 0 {
		return ""
	}
	return ss.path[len(ss.path)-1]
}

func (ss Subspace) IsZero() bool {
	return len(ss.path) == 0
}

func (ss Subspace) Sub(name string) Subspace {
	return Subspace{path: append(slices.Clip(ss.path), name)}
}

// Pack encodes the given elements as a tuple key for a record stored in the
// subspace's bucket. Keys carry no prefix: the bucket path alone separates
// one subspace from another, so equal elements pack to equal keys everywhere.
func (ss Subspace) Pack(elems ...string) []byte {
	return stringTuple(elems...).encode(nil)
}

// Unpack decodes a key produced by Pack for any subspace.
func (ss Subspace) Unpack(key []byte) ([]string, error) {
	tup, err := decodeTuple(key)
	if err != nil {
		return nil, err
	}
	return tup.Strings(), nil
}

func (ss Subspace) String() string {
	return "/" + strings.Join(ss.path, "/")
}

// ValidateNamespaceName reports whether name can be used as a namespace
// (a table, or the directory root). NUL bytes are reserved for node records.
func ValidateNamespaceName(name string) error {
	if name == "" {
		return errors.New("empty name")
	}
	if strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("name %q contains a NUL byte", name)
	}
	return nil
}

// Create allocates a new namespace. Returns ErrNamespaceExists if it is taken.
func (d *Directory) Create(tx *Tx, name, layer string) (Subspace, error) {
	if err := ValidateNamespaceName(name); err != nil {
		return Subspace{}, err
	}
	rootB, err := tx.stx.EnsureBucket(d.root)
	if err != nil {
		return Subspace{}, err
	}
	b, err := tx.stx.CreateBucket(d.root, name)
	if err != nil {
		return Subspace{}, err
	}

	var state directoryState
	if raw := rootB.Get(directoryStateKey); raw != nil {
		if err := msgpack.Unmarshal(raw, &state); err != nil {
			return Subspace{}, dataErrf(raw, 0, err, "failed to decode directory state")
		}
	}
	state.LastOrdinal++
	if err := putMsgpack(rootB, directoryStateKey, &state); err != nil {
		return Subspace{}, err
	}

	node := NodeInfo{
		Ordinal: state.LastOrdinal,
		Created: time.Now().UTC(),
		Layer:   layer,
	}
	if err := putMsgpack(b, nodeInfoKey, &node); err != nil {
		return Subspace{}, err
	}
	return Subspace{path: []string{d.root, name}}, nil
}

// CreateChild creates a nested namespace inside parent.
func (d *Directory) CreateChild(tx *Tx, parent Subspace, name string) (Subspace, error) {
	if err := ValidateNamespaceName(name); err != nil {
		return Subspace{}, err
	}
	ss := parent.Sub(name)
	if _, err := tx.stx.CreateBucket(ss.path...); err != nil {
		return Subspace{}, err
	}
	return ss, nil
}

// Open returns the namespace allocated for name, or ErrNamespaceNotFound.
func (d *Directory) Open(tx *Tx, name string) (Subspace, error) {
	if ValidateNamespaceName(name) != nil {
		return Subspace{}, ErrNamespaceNotFound
	}
	if tx.stx.Bucket(d.root, name) == nil {
		return Subspace{}, ErrNamespaceNotFound
	}
	return Subspace{path: []string{d.root, name}}, nil
}

// OpenChild returns a nested namespace inside parent, or ErrNamespaceNotFound.
func (d *Directory) OpenChild(tx *Tx, parent Subspace, name string) (Subspace, error) {
	ss := parent.Sub(name)
	if tx.stx.Bucket(ss.path...) == nil {
		return Subspace{}, ErrNamespaceNotFound
	}
	return ss, nil
}

func (d *Directory) Exists(tx *Tx, name string) bool {
	_, err := d.Open(tx, name)
	return err == nil
}

// List returns the names of all namespaces, sorted.
func (d *Directory) List(tx *Tx) ([]string, error) {
	if tx.stx.Bucket(d.root) == nil {
		return nil, nil
	}
	var names []string
	err := tx.stx.ForEachBucket([]string{d.root}, func(name string) error {
		names = append(names, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Describe returns the node record of the given namespace.
func (d *Directory) Describe(tx *Tx, name string) (NodeInfo, error) {
	var node NodeInfo
	ss, err := d.Open(tx, name)
	if err != nil {
		return node, err
	}
	raw, err := tx.Get(ss, nodeInfoKey)
	if err != nil {
		return node, err
	}
	if raw == nil {
		return node, dataErrf(nil, 0, nil, "namespace %q has no node record", name)
	}
	if err := msgpack.Unmarshal(raw, &node); err != nil {
		return node, dataErrf(raw, 0, err, "failed to decode node record of %q", name)
	}
	return node, nil
}

// Remove deletes the namespace with everything inside it.
// Returns ErrNamespaceNotFound if there is no such namespace.
func (d *Directory) Remove(tx *Tx, name string) error {
	if ValidateNamespaceName(name) != nil {
		return ErrNamespaceNotFound
	}
	return tx.stx.DeleteBucket(d.root, name)
}

// RemoveAll deletes every namespace and returns how many were removed.
func (d *Directory) RemoveAll(tx *Tx) (int, error) {
	names, err := d.List(tx)
	if err != nil {
		return 0, err
	}
	for _, name := range names {
		if err := d.Remove(tx, name); err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
	}
	return len(names), nil
}

func putMsgpack(b storageBucket, key []byte, v any) error {
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %T using MsgPack: %w", v, err)
	}
	return b.Put(key, raw)
}

// Get returns the value stored under key in the subspace, or nil if there is none.
func (tx *Tx) Get(ss Subspace, key []byte) ([]byte, error) {
	b := tx.stx.Bucket(ss.path...)
	if b == nil {
		return nil, ErrNamespaceNotFound
	}
	return b.Get(key), nil
}

// Set stores value under key in the subspace.
func (tx *Tx) Set(ss Subspace, key, value []byte) error {
	b := tx.stx.Bucket(ss.path...)
	if b == nil {
		return ErrNamespaceNotFound
	}
	return b.Put(key, value)
}

// Clear removes key from the subspace.
func (tx *Tx) Clear(ss Subspace, key []byte) error {
	b := tx.stx.Bucket(ss.path...)
	if b == nil {
		return ErrNamespaceNotFound
	}
	return b.Delete(key)
}

// ForEach calls f for every key-value pair of the subspace in key order.
func (tx *Tx) ForEach(ss Subspace, f func(k, v []byte) error) error {
	b := tx.stx.Bucket(ss.path...)
	if b == nil {
		return ErrNamespaceNotFound
	}
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if err := f(k, v); err != nil {
			return err
		}
	}
	return nil
}

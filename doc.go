/*
Package schemacat implements a table schema catalog on top of a transactional
key-value store (Bolt, or an in-memory store with optimistic concurrency).

The catalog records, for every table, its attributes with their types and
its primary key. It holds no data rows and no caches: every call re-reads
the store within its own transaction.

# Technical Details

**Namespaces.**
A Directory allocates one namespace (a nested bucket) per table under a root
bucket called “tables”. Removing the namespace drops everything beneath it.
Each namespace has a msgpack node record with a unique ordinal; ordinals are
never reused, even after the table is deleted. Names may not contain NUL bytes,
which are reserved for those records.

**Schema records.**
The table schema lives in a nested “metadata” namespace:

	("primaryKeys")     => (pk1, pk2, ...)
	("attrs")           => (name1, name2, ...)
	("attrType", name)  => ("INT" | "VARCHAR" | "DOUBLE")

**Tuple encoding.**
Keys and values are encoded as tuples: the raw elements, followed by
the lengths of all elements except the last one, followed by the element count.
Lengths and count are byte-reversed uvarints so that the tuple is parsed
right to left. An empty tuple is a single zero byte.

**Transactions.**
Store.Tx runs a function inside a transaction and commits it. When the commit
reports ErrConflict, the function is run again from scratch, up to
Options.MaxRetries times. Bolt serializes writers and never conflicts;
the in-memory store tracks the buckets each transaction has read and
rejects the commit if any of them was changed since the transaction began.

**Errors.**
Catalog operations return nil or an *Error with a StatusCode. CreateTable
rejects invalid input before the store is touched. Corrupt metadata is always
reported, never skipped.
*/
package schemacat

package schemacat

import "fmt"

// Table schema records, all inside the table's "metadata" namespace:
//
//	("primaryKeys")      => (pk1, pk2, ...)
//	("attrs")            => (name1, name2, ...)
//	("attrType", name)   => ("INT" | "VARCHAR" | "DOUBLE")
//
// Both keys and values use the tuple encoding.
const (
	metadataNamespace = "metadata"

	primaryKeysRecord = "primaryKeys"
	attrsRecord       = "attrs"
	attrTypeRecord    = "attrType"
)

type record struct {
	Key   []byte
	Value []byte
}

// encodeTableMetadata returns the complete set of records describing tm.
func encodeTableMetadata(meta Subspace, tm *TableMetadata) []record {
	recs := make([]record, 0, 2+len(tm.attrs))
	recs = append(recs, record{
		meta.Pack(primaryKeysRecord),
		stringTuple(tm.primaryKeys...).encode(nil),
	})
	recs = append(recs, record{
		meta.Pack(attrsRecord),
		stringTuple(tm.AttributeNames()...).encode(nil),
	})
	for _, a := range tm.attrs {
		recs = append(recs, record{
			meta.Pack(attrTypeRecord, a.Name),
			stringTuple(string(a.Type)).encode(nil),
		})
	}
	return recs
}

// writeTableMetadata stores tm, replacing whatever schema records were there before.
func writeTableMetadata(tx *Tx, meta Subspace, tm *TableMetadata) error {
	var stale [][]byte
	err := tx.ForEach(meta, func(k, v []byte) error {
		elems, err := meta.Unpack(k)
		if err == nil && len(elems) == 2 && elems[0] == attrTypeRecord && tm.HasAttribute(elems[1]) {
			return nil
		}
		stale = append(stale, append([]byte(nil), k...))
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range stale {
		if err := tx.Clear(meta, k); err != nil {
			return err
		}
	}

	for _, rec := range encodeTableMetadata(meta, tm) {
		if err := tx.Set(meta, rec.Key, rec.Value); err != nil {
			return err
		}
	}
	return nil
}

// decodeTableMetadata reads the schema records of a table. All reads happen
// in the given transaction, so they reflect a single snapshot.
func decodeTableMetadata(tx *Tx, table string, meta Subspace) (*TableMetadata, error) {
	corrupt := func(attr string, err error, format string, args ...any) error {
		return catalogErrf(CorruptMetadata, table, attr, err, format, args...)
	}
	readTuple := func(what string, key []byte) ([]string, error) {
		raw, err := tx.Get(meta, key)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return nil, corrupt("", nil, "missing %s record", what)
		}
		tup, err := decodeTuple(raw)
		if err != nil {
			return nil, corrupt("", err, "invalid %s record", what)
		}
		return tup.Strings(), nil
	}

	pks, err := readTuple(primaryKeysRecord, meta.Pack(primaryKeysRecord))
	if err != nil {
		return nil, err
	}
	names, err := readTuple(attrsRecord, meta.Pack(attrsRecord))
	if err != nil {
		return nil, err
	}

	tm := &TableMetadata{
		attrs:       make([]Attribute, 0, len(names)),
		primaryKeys: pks,
	}
	for _, name := range names {
		raw, err := tx.Get(meta, meta.Pack(attrTypeRecord, name))
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return nil, corrupt(name, nil, "missing type record")
		}
		tup, err := decodeTuple(raw)
		if err != nil {
			return nil, corrupt(name, err, "invalid type record")
		}
		if len(tup) != 1 {
			return nil, corrupt(name, nil, "type record has %d elements", len(tup))
		}
		at := AttributeType(tup[0])
		if !at.IsSupported() {
			return nil, corrupt(name, nil, "unsupported type %q", string(at))
		}
		tm.attrs = append(tm.attrs, Attribute{name, at})
	}

	if err := validateTableMetadata(table, tm); err != nil {
		return nil, corrupt("", err, "invariant violated")
	}
	return tm, nil
}

func (r record) String() string {
	return fmt.Sprintf("%s = %s", hexstr(r.Key), hexstr(r.Value))
}

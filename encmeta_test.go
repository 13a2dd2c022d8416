package schemacat

import (
	"context"
	"encoding/hex"
	"testing"
)

var employeesMeta = NewTableMetadata(
	[]string{"id", "name", "salary"},
	[]AttributeType{Int, Varchar, Double},
	[]string{"id"},
)

func TestEncodeTableMetadata(t *testing.T) {
	meta := Subspace{path: []string{"tables", "Employees", "metadata"}}
	recs := encodeTableMetadata(meta, employeesMeta)

	var got []string
	for _, rec := range recs {
		got = append(got, describeTupleBytes(meta, rec.Key)+" => "+describeTupleBytes(meta, rec.Value))
	}
	deepEqual(t, got, []string{
		`["primaryKeys"] => ["id"]`,
		`["attrs"] => ["id" "name" "salary"]`,
		`["attrType" "id"] => ["INT"]`,
		`["attrType" "name"] => ["VARCHAR"]`,
		`["attrType" "salary"] => ["DOUBLE"]`,
	})

	// "primaryKeys" followed by the element count
	deepEqual(t, hex.EncodeToString(recs[0].Key), hex.EncodeToString([]byte("primaryKeys"))+"01")
}

// withMetadata creates a bare "t" table namespace and runs f in a write transaction.
func withMetadata(t *testing.T, f func(tx *Tx, meta Subspace)) {
	t.Helper()
	s := setup(t)
	dir := NewDirectory("tables")
	ensure(t, s.Write(context.Background(), func(tx *Tx) error {
		ss, err := dir.Create(tx, "t", tableLayer)
		if err != nil {
			return err
		}
		meta, err := dir.CreateChild(tx, ss, metadataNamespace)
		if err != nil {
			return err
		}
		f(tx, meta)
		return nil
	}))
}

func TestWriteDecodeTableMetadata(t *testing.T) {
	withMetadata(t, func(tx *Tx, meta Subspace) {
		ensure(t, writeTableMetadata(tx, meta, employeesMeta))
		tm := must(decodeTableMetadata(tx, "t", meta))
		deepEqual(t, tm.Attributes(), employeesMeta.Attributes())
		deepEqual(t, tm.PrimaryKeys(), []string{"id"})

		smaller := employeesMeta.Clone()
		smaller.dropAttribute("salary")
		ensure(t, writeTableMetadata(tx, meta, smaller))
		deepEqual(t, must(tx.Get(meta, meta.Pack(attrTypeRecord, "salary"))), []byte(nil))
		deepEqual(t, must(decodeTableMetadata(tx, "t", meta)).AttributeNames(), []string{"id", "name"})

		var n int
		ensure(t, tx.ForEach(meta, func(k, v []byte) error {
			n++
			return nil
		}))
		deepEqual(t, n, 4)
	})
}

func TestDecodeTableMetadata_Corrupt(t *testing.T) {
	tests := []struct {
		name   string
		mangle func(tx *Tx, meta Subspace) error
	}{
		{"missing primary keys", func(tx *Tx, meta Subspace) error {
			return tx.Clear(meta, meta.Pack(primaryKeysRecord))
		}},
		{"missing attrs", func(tx *Tx, meta Subspace) error {
			return tx.Clear(meta, meta.Pack(attrsRecord))
		}},
		{"missing type record", func(tx *Tx, meta Subspace) error {
			return tx.Clear(meta, meta.Pack(attrTypeRecord, "name"))
		}},
		{"unsupported type", func(tx *Tx, meta Subspace) error {
			return tx.Set(meta, meta.Pack(attrTypeRecord, "name"), stringTuple("BLOB").encode(nil))
		}},
		{"two-element type", func(tx *Tx, meta Subspace) error {
			return tx.Set(meta, meta.Pack(attrTypeRecord, "name"), stringTuple("INT", "INT").encode(nil))
		}},
		{"garbage attrs", func(tx *Tx, meta Subspace) error {
			return tx.Set(meta, meta.Pack(attrsRecord), x("ff"))
		}},
		{"empty primary key", func(tx *Tx, meta Subspace) error {
			return tx.Set(meta, meta.Pack(primaryKeysRecord), tuple{}.encode(nil))
		}},
		{"dangling primary key", func(tx *Tx, meta Subspace) error {
			return tx.Set(meta, meta.Pack(primaryKeysRecord), stringTuple("ghost").encode(nil))
		}},
		{"duplicate attribute", func(tx *Tx, meta Subspace) error {
			return tx.Set(meta, meta.Pack(attrsRecord), stringTuple("id", "id").encode(nil))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withMetadata(t, func(tx *Tx, meta Subspace) {
				ensure(t, writeTableMetadata(tx, meta, employeesMeta))
				ensure(t, tt.mangle(tx, meta))
				tm, err := decodeTableMetadata(tx, "t", meta)
				isStatus(t, err, CorruptMetadata)
				if tm != nil {
					t.Errorf("** decoded %v from corrupt metadata", tm)
				}
			})
		})
	}
}

package schemacat

import (
	"context"
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpTableHeaders = DumpFlags(1 << iota)
	DumpSchema
	DumpStats
	DumpRecords

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the catalog for debugging. Corrupt tables are reported inline.
func (c *Catalog) Dump(ctx context.Context, f DumpFlags) (string, error) {
	var buf strings.Builder
	err := c.run(ctx, "dump", "", false, func(tx *Tx) error {
		buf.Reset()
		names, err := c.dir.List(tx)
		if err != nil {
			return err
		}
		for _, name := range names {
			c.dumpTable(&buf, tx, f, name)
		}
		return nil
	})
	return buf.String(), err
}

func (c *Catalog) dumpTable(w *strings.Builder, tx *Tx, f DumpFlags, name string) {
	ss := must(c.dir.Open(tx, name))

	if f.Contains(DumpTableHeaders) {
		fmt.Fprintln(w, dumpSep1)
		if node, err := c.dir.Describe(tx, name); err == nil {
			fmt.Fprintf(w, "%s (#%d, %s, created %s)\n", ss, node.Ordinal, node.Layer, node.Created.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Fprintf(w, "%s ** ERROR: %v\n", ss, err)
		}
	}
	if f.Contains(DumpStats) {
		s := tx.namespaceStats(ss)
		fmt.Fprintf(w, "%s.stats: records = %d, data_size = %d, alloc = %d\n", name, s.Records, s.DataSize, s.Alloc)
	}
	if f.Contains(DumpSchema) {
		if tm, err := c.loadTable(tx, name); err != nil {
			fmt.Fprintf(w, "%s.schema ** ERROR: %v\n", name, err)
		} else {
			fmt.Fprintf(w, "%s.schema = %v\n", name, tm)
		}
	}
	if f.Contains(DumpRecords) {
		fmt.Fprintln(w, dumpSep2)
		meta := ss.Sub(metadataNamespace)
		var pos int
		err := tx.ForEach(meta, func(k, v []byte) error {
			pos++
			fmt.Fprintf(w, "%s.%d: %s => %s\n", meta, pos, describeTupleBytes(meta, k), describeTupleBytes(meta, v))
			return nil
		})
		if err != nil {
			fmt.Fprintf(w, "%s ** ERROR: %v\n", meta, err)
		}
	}
}

func describeTupleBytes(ss Subspace, raw []byte) string {
	elems, err := ss.Unpack(raw)
	if err != nil {
		return "0x" + hexstr(raw)
	}
	return fmt.Sprintf("%q", elems)
}

package schemacat

import "context"

// TableStats describes the storage footprint of a table's namespace.
type TableStats struct {
	Ordinal  uint64
	Records  int
	DataSize int64
	Alloc    int64
}

func (tx *Tx) namespaceStats(ss Subspace) TableStats {
	var result TableStats
	for _, path := range [][]string{ss.path, ss.Sub(metadataNamespace).path} {
		b := tx.stx.Bucket(path...)
		if b == nil {
			continue
		}
		bs := b.Stats()
		result.Records += bs.KeyN
		result.DataSize += bs.LeafInuse
		result.Alloc += bs.TotalAlloc()
	}
	return result
}

// Stats returns storage statistics for every table.
func (c *Catalog) Stats(ctx context.Context) (map[string]TableStats, error) {
	var result map[string]TableStats
	err := c.run(ctx, "stats", "", false, func(tx *Tx) error {
		result = make(map[string]TableStats)
		names, err := c.dir.List(tx)
		if err != nil {
			return err
		}
		for _, name := range names {
			ss := must(c.dir.Open(tx, name))
			s := tx.namespaceStats(ss)
			if node, err := c.dir.Describe(tx, name); err == nil {
				s.Ordinal = node.Ordinal
			}
			result[name] = s
		}
		return nil
	})
	return result, err
}

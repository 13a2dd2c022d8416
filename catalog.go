package schemacat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const (
	defaultRootName = "tables"
	tableLayer      = "table"
)

type CatalogOptions struct {
	// RootName is the directory bucket holding one namespace per table.
	// Defaults to "tables".
	RootName string

	// Logger defaults to the store's logger.
	Logger *slog.Logger
}

// Catalog manages table schemas persisted in a Store. It keeps no state of
// its own between calls: every operation re-reads what it needs within its
// own transaction, and a conflicting write replays the whole operation.
type Catalog struct {
	store  *Store
	dir    *Directory
	logger *slog.Logger
}

func NewCatalog(store *Store, opt CatalogOptions) *Catalog {
	if opt.RootName == "" {
		opt.RootName = defaultRootName
	}
	if opt.Logger == nil {
		opt.Logger = store.logger
	}
	return &Catalog{
		store:  store,
		dir:    NewDirectory(opt.RootName),
		logger: opt.Logger,
	}
}

func (c *Catalog) Store() *Store {
	return c.store
}

func (c *Catalog) Directory() *Directory {
	return c.dir
}

// run executes f in a transaction, classifies the outcome and logs it.
func (c *Catalog) run(ctx context.Context, op, table string, writable bool, f func(tx *Tx) error) error {
	opID := uuid.New()
	start := time.Now()
	var attempts int
	err := c.store.Tx(ctx, writable, func(tx *Tx) error {
		attempts = tx.Attempt()
		return f(tx)
	})
	err = classifyStoreErr(table, err)
	c.logResult(ctx, op, table, opID, attempts, time.Since(start), err)
	return err
}

func (c *Catalog) logResult(ctx context.Context, op, table string, opID uuid.UUID, attempts int, elapsed time.Duration, err error) {
	level := slog.LevelDebug
	switch Status(err).Category() {
	case CategoryStore, CategoryCorruption:
		level = slog.LevelError
	}
	if !c.logger.Enabled(ctx, level) {
		return
	}
	attrs := []slog.Attr{
		slog.String("op_id", opID.String()),
		slog.String("table", table),
		slog.Int("attempts", attempts),
		slog.Duration("elapsed", elapsed),
		slog.String("status", Status(err).String()),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("err", err))
	}
	c.logger.LogAttrs(ctx, level, "schemacat: "+op, attrs...)
}

func (c *Catalog) reject(ctx context.Context, op, table string, err error) error {
	c.logResult(ctx, op, table, uuid.Nil, 0, 0, err)
	return err
}

func validateTableName(name string) error {
	if err := ValidateNamespaceName(name); err != nil {
		return catalogErrf(AttributeInvalid, name, "", err, "invalid table name")
	}
	return nil
}

// CreateTable defines a new table. Input is validated before the store is
// touched; the existence check and the metadata writes share one transaction.
func (c *Catalog) CreateTable(ctx context.Context, name string, attrNames []string, attrTypes []AttributeType, primaryKeys []string) error {
	const op = "create_table"
	if err := validateTableName(name); err != nil {
		return c.reject(ctx, op, name, err)
	}
	if len(attrNames) == 0 {
		return c.reject(ctx, op, name, catalogErrf(AttributeInvalid, name, "", nil, "no attributes"))
	}
	if len(attrTypes) != len(attrNames) {
		return c.reject(ctx, op, name, catalogErrf(AttributeInvalid, name, "", nil, "%d attribute names but %d types", len(attrNames), len(attrTypes)))
	}
	tm := NewTableMetadata(attrNames, attrTypes, primaryKeys)
	if err := validateTableMetadata(name, tm); err != nil {
		return c.reject(ctx, op, name, err)
	}

	return c.run(ctx, op, name, true, func(tx *Tx) error {
		return c.createTable(tx, name, tm)
	})
}

func (c *Catalog) createTable(tx *Tx, name string, tm *TableMetadata) error {
	ss, err := c.dir.Create(tx, name, tableLayer)
	if err != nil {
		return err
	}
	meta, err := c.dir.CreateChild(tx, ss, metadataNamespace)
	if err != nil {
		return err
	}
	return writeTableMetadata(tx, meta, tm)
}

// DeleteTable removes the table and all of its metadata.
func (c *Catalog) DeleteTable(ctx context.Context, name string) error {
	return c.run(ctx, "delete_table", name, true, func(tx *Tx) error {
		return c.dir.Remove(tx, name)
	})
}

// Table returns the schema of a single table.
func (c *Catalog) Table(ctx context.Context, name string) (*TableMetadata, error) {
	var tm *TableMetadata
	err := c.run(ctx, "table", name, false, func(tx *Tx) error {
		var err error
		tm, err = c.loadTable(tx, name)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tm, nil
}

// ListTables returns the schemas of all tables, read from a single snapshot.
//
// Tables whose metadata cannot be decoded are left out of the map and
// reported together in the returned error (Status CorruptMetadata), so
// callers get both the readable tables and the list of broken ones.
func (c *Catalog) ListTables(ctx context.Context) (map[string]*TableMetadata, error) {
	var result map[string]*TableMetadata
	var corrupt []error
	err := c.run(ctx, "list_tables", "", false, func(tx *Tx) error {
		result = make(map[string]*TableMetadata)
		corrupt = nil
		names, err := c.dir.List(tx)
		if err != nil {
			return err
		}
		for _, name := range names {
			tm, err := c.loadTable(tx, name)
			if Status(err) == CorruptMetadata {
				corrupt = append(corrupt, err)
				continue
			} else if err != nil {
				return err
			}
			result[name] = tm
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(corrupt) > 0 {
		err = errors.Join(corrupt...)
		c.logger.LogAttrs(ctx, slog.LevelError, "schemacat: corrupt tables", slog.Int("count", len(corrupt)), slog.Any("err", err))
		return result, err
	}
	return result, nil
}

// TableNames returns the names of all tables without decoding their schemas.
func (c *Catalog) TableNames(ctx context.Context) ([]string, error) {
	var names []string
	err := c.run(ctx, "table_names", "", false, func(tx *Tx) error {
		var err error
		names, err = c.dir.List(tx)
		return err
	})
	return names, err
}

// Describe returns the directory node record of the table.
func (c *Catalog) Describe(ctx context.Context, name string) (NodeInfo, error) {
	var node NodeInfo
	err := c.run(ctx, "describe", name, false, func(tx *Tx) error {
		var err error
		node, err = c.dir.Describe(tx, name)
		return err
	})
	return node, err
}

// AddAttribute appends an attribute to an existing table.
func (c *Catalog) AddAttribute(ctx context.Context, table, attr string, at AttributeType) error {
	const op = "add_attribute"
	if attr == "" {
		return c.reject(ctx, op, table, catalogErrf(AttributeInvalid, table, "", nil, "empty attribute name"))
	}
	return c.run(ctx, op, table, true, func(tx *Tx) error {
		return c.addAttribute(tx, table, attr, at)
	})
}

func (c *Catalog) addAttribute(tx *Tx, table, attr string, at AttributeType) error {
	meta, tm, err := c.openTable(tx, table)
	if err != nil {
		return err
	}
	if tm.HasAttribute(attr) {
		return catalogErrf(AttributeAlreadyExists, table, attr, nil, "")
	}
	if !at.IsSupported() {
		return catalogErrf(TypeNotSupported, table, attr, nil, "%q", string(at))
	}
	tm.addAttribute(attr, at)
	return writeTableMetadata(tx, meta, tm)
}

// DropAttribute removes an attribute from an existing table. Attributes that
// are part of the primary key cannot be dropped (PrimaryKeyAttribute).
func (c *Catalog) DropAttribute(ctx context.Context, table, attr string) error {
	return c.run(ctx, "drop_attribute", table, true, func(tx *Tx) error {
		meta, tm, err := c.openTable(tx, table)
		if err != nil {
			return err
		}
		if !tm.HasAttribute(attr) {
			return catalogErrf(AttributeNotFound, table, attr, nil, "")
		}
		if tm.IsPrimaryKey(attr) {
			return catalogErrf(PrimaryKeyAttribute, table, attr, nil, "attribute is part of the primary key")
		}
		tm.dropAttribute(attr)
		return writeTableMetadata(tx, meta, tm)
	})
}

// DropAllTables removes every table in a single transaction.
func (c *Catalog) DropAllTables(ctx context.Context) error {
	return c.run(ctx, "drop_all_tables", "", true, func(tx *Tx) error {
		n, err := c.dir.RemoveAll(tx)
		if err == nil && c.store.verbose {
			c.logger.Debug("schemacat: dropped tables", "count", n, "attempt", tx.Attempt())
		}
		return err
	})
}

func (c *Catalog) openTable(tx *Tx, name string) (Subspace, *TableMetadata, error) {
	ss, err := c.dir.Open(tx, name)
	if err != nil {
		return Subspace{}, nil, catalogErrf(NotFound, name, "", nil, "")
	}
	meta, err := c.dir.OpenChild(tx, ss, metadataNamespace)
	if err != nil {
		return Subspace{}, nil, catalogErrf(CorruptMetadata, name, "", err, "missing metadata namespace")
	}
	tm, err := decodeTableMetadata(tx, name, meta)
	if err != nil {
		return Subspace{}, nil, err
	}
	return meta, tm, nil
}

func (c *Catalog) loadTable(tx *Tx, name string) (*TableMetadata, error) {
	_, tm, err := c.openTable(tx, name)
	return tm, err
}

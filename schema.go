package schemacat

import (
	"fmt"
	"slices"
	"strings"
)

// AttributeType is the type of a table attribute. Only the declared
// constants are supported.
type AttributeType string

const (
	Int     AttributeType = "INT"
	Varchar AttributeType = "VARCHAR"
	Double  AttributeType = "DOUBLE"
)

var supportedTypes = []AttributeType{Int, Varchar, Double}

func (at AttributeType) String() string {
	return string(at)
}

func (at AttributeType) IsSupported() bool {
	return slices.Contains(supportedTypes, at)
}

// ParseAttributeType parses a type name case-insensitively.
func ParseAttributeType(s string) (AttributeType, error) {
	at := AttributeType(strings.ToUpper(strings.TrimSpace(s)))
	if !at.IsSupported() {
		return "", catalogErrf(TypeNotSupported, "", "", nil, "%q", s)
	}
	return at, nil
}

type Attribute struct {
	Name string
	Type AttributeType
}

func (a Attribute) String() string {
	return a.Name + ":" + string(a.Type)
}

// TableMetadata is the schema of a single table. Attributes keep their
// declaration order.
type TableMetadata struct {
	attrs       []Attribute
	primaryKeys []string
}

// NewTableMetadata builds a schema from parallel name and type lists.
// It does not validate the input; see validateTableMetadata.
func NewTableMetadata(attrNames []string, attrTypes []AttributeType, primaryKeys []string) *TableMetadata {
	tm := &TableMetadata{
		attrs:       make([]Attribute, len(attrNames)),
		primaryKeys: slices.Clone(primaryKeys),
	}
	for i, name := range attrNames {
		tm.attrs[i] = Attribute{Name: name}
		if i < len(attrTypes) {
			tm.attrs[i].Type = attrTypes[i]
		}
	}
	return tm
}

func (tm *TableMetadata) Attributes() []Attribute {
	return slices.Clone(tm.attrs)
}

func (tm *TableMetadata) AttributeNames() []string {
	names := make([]string, len(tm.attrs))
	for i, a := range tm.attrs {
		names[i] = a.Name
	}
	return names
}

// AttributeMap returns the attributes as a name to type mapping.
func (tm *TableMetadata) AttributeMap() map[string]AttributeType {
	m := make(map[string]AttributeType, len(tm.attrs))
	for _, a := range tm.attrs {
		m[a.Name] = a.Type
	}
	return m
}

func (tm *TableMetadata) PrimaryKeys() []string {
	return slices.Clone(tm.primaryKeys)
}

func (tm *TableMetadata) attrIndex(name string) int {
	return slices.IndexFunc(tm.attrs, func(a Attribute) bool {
		return a.Name == name
	})
}

func (tm *TableMetadata) HasAttribute(name string) bool {
	return tm.attrIndex(name) >= 0
}

// AttributeType returns the type of the named attribute, or "" if there is no such attribute.
func (tm *TableMetadata) AttributeType(name string) AttributeType {
	if i := tm.attrIndex(name); i >= 0 {
		return tm.attrs[i].Type
	}
	return ""
}

func (tm *TableMetadata) IsPrimaryKey(name string) bool {
	return slices.Contains(tm.primaryKeys, name)
}

func (tm *TableMetadata) addAttribute(name string, at AttributeType) {
	tm.attrs = append(tm.attrs, Attribute{name, at})
}

func (tm *TableMetadata) dropAttribute(name string) bool {
	i := tm.attrIndex(name)
	if i < 0 {
		return false
	}
	tm.attrs = slices.Delete(tm.attrs, i, i+1)
	return true
}

func (tm *TableMetadata) Clone() *TableMetadata {
	return &TableMetadata{
		attrs:       slices.Clone(tm.attrs),
		primaryKeys: slices.Clone(tm.primaryKeys),
	}
}

// Equal compares attribute sets (ignoring order) and primary keys (respecting order).
func (tm *TableMetadata) Equal(another *TableMetadata) bool {
	if tm == nil || another == nil {
		return tm == another
	}
	if len(tm.attrs) != len(another.attrs) || !slices.Equal(tm.primaryKeys, another.primaryKeys) {
		return false
	}
	for _, a := range tm.attrs {
		if another.AttributeType(a.Name) != a.Type {
			return false
		}
	}
	return true
}

func (tm *TableMetadata) String() string {
	var buf strings.Builder
	buf.WriteByte('{')
	for i, a := range tm.attrs {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(a.String())
	}
	buf.WriteString("} pk=")
	fmt.Fprintf(&buf, "%v", tm.primaryKeys)
	return buf.String()
}

// validateTableMetadata checks the invariants every persisted schema must satisfy.
// The order of checks determines which status is reported for bad input.
func validateTableMetadata(table string, tm *TableMetadata) error {
	if len(tm.attrs) == 0 {
		return catalogErrf(AttributeInvalid, table, "", nil, "no attributes")
	}
	if len(tm.primaryKeys) == 0 {
		return catalogErrf(NoPrimaryKey, table, "", nil, "")
	}
	for _, pk := range tm.primaryKeys {
		if !tm.HasAttribute(pk) {
			return catalogErrf(PrimaryKeyNotFound, table, pk, nil, "")
		}
	}
	seen := make(map[string]bool, len(tm.attrs))
	for _, a := range tm.attrs {
		if a.Name == "" {
			return catalogErrf(AttributeInvalid, table, "", nil, "empty attribute name")
		}
		if seen[a.Name] {
			return catalogErrf(AttributeInvalid, table, a.Name, nil, "duplicate attribute")
		}
		seen[a.Name] = true
	}
	for _, a := range tm.attrs {
		if !a.Type.IsSupported() {
			return catalogErrf(TypeNotSupported, table, a.Name, nil, "%q", string(a.Type))
		}
	}
	return nil
}

// Package catalog holds schema objects and typed values for CrabSQL.
package catalog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DataType identifies the storage type of a column or value.
type DataType uint8

const (
	TypeInt DataType = iota
	TypeFloat
	TypeText
	TypeDate     // days since the Unix epoch
	TypeDateTime // milliseconds since the Unix epoch
)

func (t DataType) String() string {
	switch t {
	case TypeInt:
		return "INT"
	case TypeFloat:
		return "FLOAT"
	case TypeText:
		return "TEXT"
	case TypeDate:
		return "DATE"
	case TypeDateTime:
		return "DATETIME"
	default:
		return "UNKNOWN"
	}
}

// ParseDataType maps a SQL type name to a DataType.
func ParseDataType(name string) (DataType, error) {
	switch strings.ToUpper(name) {
	case "INT", "INTEGER", "BIGINT", "SMALLINT", "TINYINT":
		return TypeInt, nil
	case "FLOAT", "DOUBLE", "REAL", "DECIMAL", "NUMERIC":
		return TypeFloat, nil
	case "TEXT", "VARCHAR", "CHAR", "STRING":
		return TypeText, nil
	case "DATE":
		return TypeDate, nil
	case "DATETIME", "TIMESTAMP":
		return TypeDateTime, nil
	default:
		return 0, fmt.Errorf("unknown type: %s", name)
	}
}

// Value is a single typed cell. The zero Value is a NULL of type INT.
type Value struct {
	Type   DataType `json:"t"`
	IsNull bool     `json:"n,omitempty"`
	Int    int64    `json:"i,omitempty"` // TypeInt, TypeDate, TypeDateTime
	Float  float64  `json:"f,omitempty"`
	Text   string   `json:"s,omitempty"`
}

// Null returns a NULL value of the given type.
func Null(t DataType) Value { return Value{Type: t, IsNull: true} }

// NewInt creates an INT value.
func NewInt(v int64) Value { return Value{Type: TypeInt, Int: v} }

// NewFloat creates a FLOAT value.
func NewFloat(v float64) Value { return Value{Type: TypeFloat, Float: v} }

// NewText creates a TEXT value.
func NewText(v string) Value { return Value{Type: TypeText, Text: v} }

// NewDate creates a DATE value from days since the epoch.
func NewDate(days int64) Value { return Value{Type: TypeDate, Int: days} }

// NewDateTime creates a DATETIME value from millis since the epoch.
func NewDateTime(ms int64) Value { return Value{Type: TypeDateTime, Int: ms} }

// String renders the value the way the wire protocol prints it.
func (v Value) String() string {
	if v.IsNull {
		return "NULL"
	}
	switch v.Type {
	case TypeInt:
		return strconv.FormatInt(v.Int, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case TypeText:
		return v.Text
	case TypeDate:
		return time.Unix(0, 0).UTC().AddDate(0, 0, int(v.Int)).Format("2006-01-02")
	case TypeDateTime:
		return time.UnixMilli(v.Int).UTC().Format("2006-01-02 15:04:05")
	default:
		return "?"
	}
}

// AsInt returns the integer payload if the value is a non-null INT.
func (v Value) AsInt() (int64, bool) {
	if v.IsNull || v.Type != TypeInt {
		return 0, false
	}
	return v.Int, true
}

// AsFloat widens INT and FLOAT values to float64.
func (v Value) AsFloat() (float64, bool) {
	if v.IsNull {
		return 0, false
	}
	switch v.Type {
	case TypeFloat:
		return v.Float, true
	case TypeInt:
		return float64(v.Int), true
	default:
		return 0, false
	}
}

// Compare orders two non-null values. Cross numeric comparisons widen to
// float; everything else compares within its own type. Returns an error
// for incomparable types.
func Compare(a, b Value) (int, error) {
	if a.IsNull || b.IsNull {
		return 0, fmt.Errorf("cannot compare NULL values")
	}
	if af, ok := a.AsFloat(); ok {
		if bf, ok := b.AsFloat(); ok {
			switch {
			case af < bf:
				return -1, nil
			case af > bf:
				return 1, nil
			default:
				return 0, nil
			}
		}
	}
	if a.Type != b.Type {
		// Text against float: try parsing the text, the way MySQL would.
		if c, ok := compareCoerced(a, b); ok {
			return c, nil
		}
		return 0, fmt.Errorf("cannot compare %s with %s", a.Type, b.Type)
	}
	switch a.Type {
	case TypeText:
		return strings.Compare(a.Text, b.Text), nil
	case TypeDate, TypeDateTime:
		switch {
		case a.Int < b.Int:
			return -1, nil
		case a.Int > b.Int:
			return 1, nil
		default:
			return 0, nil
		}
	default:
		return 0, fmt.Errorf("cannot compare %s values", a.Type)
	}
}

func compareCoerced(a, b Value) (int, bool) {
	coerce := func(v Value) (float64, bool) {
		if f, ok := v.AsFloat(); ok {
			return f, true
		}
		if v.Type == TypeText {
			f, err := strconv.ParseFloat(v.Text, 64)
			return f, err == nil
		}
		return 0, false
	}
	af, aok := coerce(a)
	bf, bok := coerce(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}

// Equal reports value equality with NULL == NULL treated as equal.
// This is the grouping notion of equality, not the predicate one.
func Equal(a, b Value) bool {
	if a.IsNull || b.IsNull {
		return a.IsNull && b.IsNull
	}
	c, err := Compare(a, b)
	return err == nil && c == 0
}

// GroupKey encodes the value into a string usable as a grouping or hash
// key. All NULLs encode identically regardless of type.
func (v Value) GroupKey() string {
	if v.IsNull {
		return "\x00"
	}
	switch v.Type {
	case TypeInt, TypeDate, TypeDateTime:
		return "i" + strconv.FormatInt(v.Int, 10)
	case TypeFloat:
		return "f" + strconv.FormatFloat(v.Float, 'b', -1, 64)
	case TypeText:
		return "s" + v.Text
	default:
		return "?"
	}
}

// Add sums two numeric values, widening to float when mixed.
func Add(a, b Value) (Value, error) {
	if a.IsNull || b.IsNull {
		return Null(a.Type), nil
	}
	if a.Type == TypeInt && b.Type == TypeInt {
		return NewInt(a.Int + b.Int), nil
	}
	af, aok := a.AsFloat()
	bf, bok := b.AsFloat()
	if !aok || !bok {
		return Value{}, fmt.Errorf("cannot add %s and %s", a.Type, b.Type)
	}
	return NewFloat(af + bf), nil
}

// Coerce converts a value to the target column type where a sensible
// conversion exists: INT widens to FLOAT, TEXT parses into FLOAT, DATE
// and DATETIME parse from their canonical string forms.
func Coerce(v Value, target DataType) (Value, error) {
	if v.IsNull {
		return Null(target), nil
	}
	if v.Type == target {
		return v, nil
	}
	switch target {
	case TypeFloat:
		if f, ok := v.AsFloat(); ok {
			return NewFloat(f), nil
		}
		if v.Type == TypeText {
			f, err := strconv.ParseFloat(v.Text, 64)
			if err != nil {
				return Value{}, fmt.Errorf("invalid float: %s", v.Text)
			}
			return NewFloat(f), nil
		}
	case TypeInt:
		if v.Type == TypeFloat && v.Float == float64(int64(v.Float)) {
			return NewInt(int64(v.Float)), nil
		}
	case TypeDate:
		if v.Type == TypeText {
			t, err := time.ParseInLocation("2006-01-02", v.Text, time.UTC)
			if err != nil {
				return Value{}, fmt.Errorf("invalid date: %s (expected YYYY-MM-DD)", v.Text)
			}
			return NewDate(int64(t.Unix() / 86400)), nil
		}
	case TypeDateTime:
		if v.Type == TypeText {
			t, err := time.ParseInLocation("2006-01-02 15:04:05", v.Text, time.UTC)
			if err != nil {
				return Value{}, fmt.Errorf("invalid datetime: %s", v.Text)
			}
			return NewDateTime(t.UnixMilli()), nil
		}
	case TypeText:
		return NewText(v.String()), nil
	}
	return Value{}, fmt.Errorf("cannot coerce %s to %s", v.Type, target)
}

// Row is one stored tuple; values align with TableDef.Columns.
type Row struct {
	Values []Value `json:"v"`
}

// Clone deep-copies the row.
func (r *Row) Clone() *Row {
	if r == nil {
		return nil
	}
	out := make([]Value, len(r.Values))
	copy(out, r.Values)
	return &Row{Values: out}
}

// ColumnDef describes one table column.
type ColumnDef struct {
	Name     string   `json:"name"`
	Type     DataType `json:"type"`
	Nullable bool     `json:"nullable"`
}

// IndexDef describes a secondary index over a single column.
type IndexDef struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// TableDef is the descriptor the executor and row store operate on.
type TableDef struct {
	DB            string      `json:"db"`
	Name          string      `json:"name"`
	Columns       []ColumnDef `json:"columns"`
	PrimaryKey    string      `json:"primary_key"`
	AutoIncrement bool        `json:"auto_increment,omitempty"`
	Indexes       []IndexDef  `json:"indexes,omitempty"`
}

// ColumnIndex returns the position of the named column, or -1.
// Column names compare case-insensitively.
func (d *TableDef) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the table has the named column.
func (d *TableDef) HasColumn(name string) bool { return d.ColumnIndex(name) >= 0 }

// PrimaryKeyIndex returns the position of the primary key column.
func (d *TableDef) PrimaryKeyIndex() int { return d.ColumnIndex(d.PrimaryKey) }

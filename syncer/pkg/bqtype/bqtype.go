// Package bqtype projects MySQL column types onto BigQuery field types and
// coerces individual values to match.
package bqtype

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldType is a BigQuery destination field type.
type FieldType string

const (
	TypeInt64     FieldType = "INT64"
	TypeNumeric   FieldType = "NUMERIC"
	TypeFloat64   FieldType = "FLOAT64"
	TypeString    FieldType = "STRING"
	TypeDate      FieldType = "DATE"
	TypeTimestamp FieldType = "TIMESTAMP"
	TypeBytes     FieldType = "BYTES"
	TypeBoolean   FieldType = "BOOLEAN"
)

// Field is one column of a destination table schema.
type Field struct {
	Name string
	Type FieldType
}

// mysqlToBQType maps MySQL base types to BigQuery field types.
var mysqlToBQType = map[string]FieldType{
	"int":        TypeInt64,
	"bigint":     TypeInt64,
	"tinyint":    TypeInt64,
	"smallint":   TypeInt64,
	"mediumint":  TypeInt64,
	"decimal":    TypeNumeric,
	"numeric":    TypeNumeric,
	"float":      TypeFloat64,
	"double":     TypeFloat64,
	"varchar":    TypeString,
	"char":       TypeString,
	"text":       TypeString,
	"mediumtext": TypeString,
	"longtext":   TypeString,
	"date":       TypeDate,
	"datetime":   TypeTimestamp,
	"timestamp":  TypeTimestamp,
	"time":       TypeString,
	"json":       TypeString,
	"blob":       TypeBytes,
	"binary":     TypeBytes,
	"varbinary":  TypeBytes,
	"enum":       TypeString,
	"set":        TypeString,
}

// BaseType strips any parenthesised modifier from a MySQL column type and
// case-folds it: "decimal(10,2)" -> "decimal".
func BaseType(sourceType string) string {
	base, _, _ := strings.Cut(sourceType, "(")
	return strings.ToLower(strings.TrimSpace(base))
}

// Map projects a MySQL column type onto its BigQuery field type. Unknown base
// types fall through to STRING.
func Map(sourceType string) FieldType {
	if t, ok := mysqlToBQType[BaseType(sourceType)]; ok {
		return t
	}
	return TypeString
}

// Coerce converts a single value to the given destination type. The source
// type string decides ambiguous cases, e.g. integer columns whose type
// mentions "time" hold Unix seconds. Nil passes through. When a numeric parse
// fails the value falls back to its string form and fellBack is true.
func Coerce(value any, dst FieldType, sourceType string) (out any, fellBack bool) {
	if value == nil {
		return nil, false
	}

	switch dst {
	case TypeString:
		return stringify(value), false

	case TypeInt64:
		v, ok := toInt64(value)
		if !ok {
			if emptyString(value) {
				return nil, false
			}
			return stringify(value), true
		}
		return v, false

	case TypeFloat64, TypeNumeric:
		v, ok := toFloat64(value)
		if !ok {
			if emptyString(value) {
				return nil, false
			}
			return stringify(value), true
		}
		return v, false

	case TypeBoolean:
		return toBool(value), false

	case TypeTimestamp:
		switch v := value.(type) {
		case time.Time:
			return v.Format(time.RFC3339), false
		default:
			if n, ok := asInteger(value); ok && strings.Contains(strings.ToLower(sourceType), "time") {
				// Integer-backed timestamps hold Unix seconds; render in the
				// local time zone.
				return time.Unix(n, 0).Format(time.RFC3339), false
			}
			return stringify(value), false
		}

	case TypeDate:
		if v, ok := value.(time.Time); ok {
			return v.Format("2006-01-02"), false
		}
		return stringify(value), false

	default:
		return stringify(value), false
	}
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

// emptyString reports whether the value is an empty (or whitespace) string,
// which numeric coercion treats as NULL.
func emptyString(value any) bool {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v) == ""
	case []byte:
		return strings.TrimSpace(string(v)) == ""
	}
	return false
}

func asInteger(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	}
	return 0, false
}

func toInt64(value any) (int64, bool) {
	if n, ok := asInteger(value); ok {
		return n, true
	}
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case float32:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func toFloat64(value any) (float64, bool) {
	if n, ok := asInteger(value); ok {
		return float64(n), true
	}
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n != 0
		}
		return v != ""
	case []byte:
		return toBool(string(v))
	case float64:
		return v != 0
	case float32:
		return v != 0
	default:
		if n, ok := asInteger(value); ok {
			return n != 0
		}
		return true
	}
}

package database

import (
	"fmt"
	"strconv"
	"strings"
)

// ParamType is the declared type of a bound placeholder value.
type ParamType int

const (
	TypeString ParamType = iota
	TypeInt
	TypeBool
	TypeNull
)

func (t ParamType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeNull:
		return "null"
	default:
		return "unknown"
	}
}

// Param is a value together with its declared type.
type Param struct {
	Value any
	Type  ParamType
}

// Params maps placeholder names (with or without the leading colon) to values.
// One Params is one execution of a prepared statement.
type Params map[string]Param

// Row is a single result row keyed by column name.
type Row map[string]any

func String(v string) Param { return Param{Value: v, Type: TypeString} }
func Int(v int64) Param     { return Param{Value: v, Type: TypeInt} }
func Bool(v bool) Param     { return Param{Value: v, Type: TypeBool} }
func Null() Param           { return Param{Value: nil, Type: TypeNull} }

// NullableString binds nil when v is nil.
func NullableString(v *string) Param {
	if v == nil {
		return Param{Value: nil, Type: TypeString}
	}
	return String(*v)
}

// NullableInt binds nil when v is nil.
func NullableInt(v *int64) Param {
	if v == nil {
		return Param{Value: nil, Type: TypeInt}
	}
	return Int(*v)
}

// normalize strips leading colons so ":email" and "email" address the same placeholder.
func (p Params) normalize() map[string]Param {
	out := make(map[string]Param, len(p))
	for k, v := range p {
		out[strings.TrimLeft(k, ":")] = v
	}
	return out
}

// check rejects a value whose Go type does not match the declared type.
// nil is a valid SQL NULL for every declared type. Values are never converted.
func (p Param) check() error {
	if p.Value == nil {
		return nil
	}
	switch p.Type {
	case TypeString:
		if _, ok := p.Value.(string); ok {
			return nil
		}
	case TypeInt:
		switch p.Value.(type) {
		case int, int8, int16, int32, int64, uint8, uint16, uint32:
			return nil
		}
	case TypeBool:
		if _, ok := p.Value.(bool); ok {
			return nil
		}
	case TypeNull:
		return fmt.Errorf("declared null but got %T", p.Value)
	default:
		return fmt.Errorf("unknown declared type %d", p.Type)
	}
	return fmt.Errorf("declared %s but got %T", p.Type, p.Value)
}

// AsInt64 reads an integer column value as returned by the supported drivers.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// Package data implements the recursively-typed value language the
// store's key/value model is built from (spec.md §3).
package data

import (
	"fmt"
	"time"
)

// Tag identifies the dynamic type carried by a Value.
type Tag int

const (
	TagNone Tag = iota
	TagBoolean
	TagInteger
	TagCount
	TagReal
	TagString
	TagAddress
	TagPort
	TagTimestamp
	TagTimespan
	TagEnum
	TagSet
	TagVector
	TagTable
)

func (t Tag) String() string {
	switch t {
	case TagNone:
		return "none"
	case TagBoolean:
		return "boolean"
	case TagInteger:
		return "integer"
	case TagCount:
		return "count"
	case TagReal:
		return "real"
	case TagString:
		return "string"
	case TagAddress:
		return "address"
	case TagPort:
		return "port"
	case TagTimestamp:
		return "timestamp"
	case TagTimespan:
		return "timespan"
	case TagEnum:
		return "enum"
	case TagSet:
		return "set"
	case TagVector:
		return "vector"
	case TagTable:
		return "table"
	default:
		return "unknown"
	}
}

// Value is the dynamically-typed unit every key and value in the
// store holds. The zero Value is the "none" value.
type Value struct {
	tag       Tag
	boolean   bool
	integer   int64
	count     uint64
	real      float64
	str       string
	address   Address
	port      Port
	timestamp time.Time
	timespan  time.Duration
	enumName  string
	set       []Value
	vector    []Value
	table     map[string]tableEntry
}

type tableEntry struct {
	key   Value
	value Value
}

func (v Value) Tag() Tag { return v.tag }
func (v Value) IsNone() bool { return v.tag == TagNone }

func None() Value { return Value{tag: TagNone} }

func Boolean(b bool) Value { return Value{tag: TagBoolean, boolean: b} }
func (v Value) AsBoolean() (bool, bool) {
	if v.tag != TagBoolean {
		return false, false
	}
	return v.boolean, true
}

func Integer(i int64) Value { return Value{tag: TagInteger, integer: i} }
func (v Value) AsInteger() (int64, bool) {
	if v.tag != TagInteger {
		return 0, false
	}
	return v.integer, true
}

func Count(c uint64) Value { return Value{tag: TagCount, count: c} }
func (v Value) AsCount() (uint64, bool) {
	if v.tag != TagCount {
		return 0, false
	}
	return v.count, true
}

func Real(r float64) Value { return Value{tag: TagReal, real: r} }
func (v Value) AsReal() (float64, bool) {
	if v.tag != TagReal {
		return 0, false
	}
	return v.real, true
}

func String(s string) Value { return Value{tag: TagString, str: s} }
func (v Value) AsString() (string, bool) {
	if v.tag != TagString {
		return "", false
	}
	return v.str, true
}

func AddressValue(a Address) Value { return Value{tag: TagAddress, address: a} }
func (v Value) AsAddress() (Address, bool) {
	if v.tag != TagAddress {
		return Address{}, false
	}
	return v.address, true
}

func PortValue(p Port) Value { return Value{tag: TagPort, port: p} }
func (v Value) AsPort() (Port, bool) {
	if v.tag != TagPort {
		return Port{}, false
	}
	return v.port, true
}

func Timestamp(t time.Time) Value { return Value{tag: TagTimestamp, timestamp: t} }
func (v Value) AsTimestamp() (time.Time, bool) {
	if v.tag != TagTimestamp {
		return time.Time{}, false
	}
	return v.timestamp, true
}

func Timespan(d time.Duration) Value { return Value{tag: TagTimespan, timespan: d} }
func (v Value) AsTimespan() (time.Duration, bool) {
	if v.tag != TagTimespan {
		return 0, false
	}
	return v.timespan, true
}

func Enum(name string) Value { return Value{tag: TagEnum, enumName: name} }
func (v Value) AsEnum() (string, bool) {
	if v.tag != TagEnum {
		return "", false
	}
	return v.enumName, true
}

// Set builds a set-of-values, deduplicated by Equal.
func Set(items ...Value) Value {
	out := make([]Value, 0, len(items))
	for _, item := range items {
		found := false
		for _, existing := range out {
			if existing.Equal(item) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, item)
		}
	}
	return Value{tag: TagSet, set: out}
}
func (v Value) AsSet() ([]Value, bool) {
	if v.tag != TagSet {
		return nil, false
	}
	return v.set, true
}

// Vector builds an ordered list of values.
func Vector(items ...Value) Value {
	return Value{tag: TagVector, vector: append([]Value{}, items...)}
}
func (v Value) AsVector() ([]Value, bool) {
	if v.tag != TagVector {
		return nil, false
	}
	return v.vector, true
}

// Table builds a value->value mapping. Later duplicate keys win.
func Table(pairs ...[2]Value) Value {
	t := make(map[string]tableEntry, len(pairs))
	for _, pair := range pairs {
		t[pair[0].hashKey()] = tableEntry{key: pair[0], value: pair[1]}
	}
	return Value{tag: TagTable, table: t}
}
func (v Value) TableGet(key Value) (Value, bool) {
	if v.tag != TagTable {
		return Value{}, false
	}
	entry, ok := v.table[key.hashKey()]
	if !ok {
		return Value{}, false
	}
	return entry.value, true
}
func (v Value) TableRange(f func(key, value Value)) {
	if v.tag != TagTable {
		return
	}
	for _, entry := range v.table {
		f(entry.key, entry.value)
	}
}
func (v Value) TableLen() int {
	if v.tag != TagTable {
		return 0
	}
	return len(v.table)
}

// hashKey produces a comparable representation used to key tables and
// dedupe sets. It is not part of the public wire format (on-wire
// serialization is out of scope per spec.md §1).
func (v Value) hashKey() string {
	switch v.tag {
	case TagNone:
		return "n"
	case TagBoolean:
		return fmt.Sprintf("b:%v", v.boolean)
	case TagInteger:
		return fmt.Sprintf("i:%d", v.integer)
	case TagCount:
		return fmt.Sprintf("c:%d", v.count)
	case TagReal:
		return fmt.Sprintf("r:%v", v.real)
	case TagString:
		return fmt.Sprintf("s:%s", v.str)
	case TagAddress:
		return fmt.Sprintf("a:%s", v.address.String())
	case TagPort:
		return fmt.Sprintf("p:%s", v.port.String())
	case TagTimestamp:
		return fmt.Sprintf("ts:%d", v.timestamp.UnixNano())
	case TagTimespan:
		return fmt.Sprintf("td:%d", v.timespan)
	case TagEnum:
		return fmt.Sprintf("e:%s", v.enumName)
	default:
		// sets, vectors and tables are not valid table keys in this
		// model; callers that try get an arbitrary key that differs
		// from one call to the next.
		return fmt.Sprintf("%T:%p", v, &v)
	}
}

// Key returns a stable string encoding of v suitable for use as a map
// or storage-backend key. Scalar and address/port/timestamp/timespan/
// enum values always produce a distinct, comparable key; composite
// values (set/vector/table) are not valid store keys, and their key
// is not stable: two calls on the same composite value return
// different strings.
func (v Value) Key() string { return v.hashKey() }

// Equal reports deep equality between two values.
func (v Value) Equal(other Value) bool {
	if v.tag != other.tag {
		return false
	}
	switch v.tag {
	case TagSet, TagVector:
		a, _ := v.AsVector()
		if v.tag == TagSet {
			a, _ = v.AsSet()
		}
		b, _ := other.AsVector()
		if other.tag == TagSet {
			b, _ = other.AsSet()
		}
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if !a[i].Equal(b[i]) {
				return false
			}
		}
		return true
	case TagTable:
		if len(v.table) != len(other.table) {
			return false
		}
		for k, entry := range v.table {
			oe, ok := other.table[k]
			if !ok || !entry.value.Equal(oe.value) {
				return false
			}
		}
		return true
	default:
		return v.hashKey() == other.hashKey()
	}
}

func (v Value) String() string {
	switch v.tag {
	case TagNone:
		return "<none>"
	case TagBoolean:
		return fmt.Sprintf("%v", v.boolean)
	case TagInteger:
		return fmt.Sprintf("%d", v.integer)
	case TagCount:
		return fmt.Sprintf("%d", v.count)
	case TagReal:
		return fmt.Sprintf("%v", v.real)
	case TagString:
		return v.str
	case TagAddress:
		return v.address.String()
	case TagPort:
		return v.port.String()
	case TagTimestamp:
		return v.timestamp.Format(time.RFC3339Nano)
	case TagTimespan:
		return v.timespan.String()
	case TagEnum:
		return v.enumName
	case TagSet:
		return fmt.Sprintf("set(%d)", len(v.set))
	case TagVector:
		return fmt.Sprintf("vector(%d)", len(v.vector))
	case TagTable:
		return fmt.Sprintf("table(%d)", len(v.table))
	default:
		return "?"
	}
}

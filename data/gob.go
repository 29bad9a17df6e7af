package data

import (
	"bytes"
	"encoding/gob"
	"time"
)

// valueWire is the exported mirror of Value used only to round-trip a
// Value through encoding/gob, which cannot see Value's unexported
// fields directly. This is an internal persistence detail (e.g. for a
// disk-backed storage backend); it is not the protocol's on-wire
// command format, which spec.md §1 puts out of scope.
type valueWire struct {
	Tag          Tag
	Boolean      bool
	Integer      int64
	Count        uint64
	Real         float64
	Str          string
	AddrBytes    [16]byte
	AddrV4       bool
	PortNumber   uint16
	PortProto    Protocol
	TimestampNs  int64
	TimespanNs   int64
	EnumName     string
	Set          []Value
	Vector       []Value
	TableKeys    []Value
	TableValues  []Value
}

func (v Value) toWire() valueWire {
	w := valueWire{
		Tag:         v.tag,
		Boolean:     v.boolean,
		Integer:     v.integer,
		Count:       v.count,
		Real:        v.real,
		Str:         v.str,
		AddrBytes:   v.address.bytes,
		AddrV4:      v.address.v4,
		PortNumber:  v.port.Number,
		PortProto:   v.port.Protocol,
		TimestampNs: v.timestamp.UnixNano(),
		TimespanNs:  int64(v.timespan),
		EnumName:    v.enumName,
		Set:         v.set,
		Vector:      v.vector,
	}
	if v.tag == TagTimestamp {
		w.TimestampNs = v.timestamp.UnixNano()
	}
	if v.tag == TagTable {
		w.TableKeys = make([]Value, 0, len(v.table))
		w.TableValues = make([]Value, 0, len(v.table))
		for _, e := range v.table {
			w.TableKeys = append(w.TableKeys, e.key)
			w.TableValues = append(w.TableValues, e.value)
		}
	}
	return w
}

func (w valueWire) toValue() Value {
	v := Value{
		tag:      w.Tag,
		boolean:  w.Boolean,
		integer:  w.Integer,
		count:    w.Count,
		real:     w.Real,
		str:      w.Str,
		address:  Address{bytes: w.AddrBytes, v4: w.AddrV4},
		port:     Port{Number: w.PortNumber, Protocol: w.PortProto},
		timespan: time.Duration(w.TimespanNs),
		enumName: w.EnumName,
		set:      w.Set,
		vector:   w.Vector,
	}
	if w.Tag == TagTimestamp {
		v.timestamp = time.Unix(0, w.TimestampNs)
	}
	if w.Tag == TagTable {
		v.table = make(map[string]tableEntry, len(w.TableKeys))
		for i := range w.TableKeys {
			v.table[w.TableKeys[i].hashKey()] = tableEntry{key: w.TableKeys[i], value: w.TableValues[i]}
		}
	}
	return v
}

// GobEncode implements gob.GobEncoder so a Value (including nested
// sets/vectors/tables) can round-trip through any backend that needs
// to persist it, despite Value's fields being unexported.
func (v Value) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v.toWire()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder, the inverse of GobEncode.
func (v *Value) GobDecode(data []byte) error {
	var w valueWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}
	*v = w.toValue()
	return nil
}

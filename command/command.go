// Package command defines the tagged union of state-mutating commands
// that travel over the channel between a store's master and its
// clones (spec.md §4.3).
package command

import "github.com/vx-labs/broker/data"

// PublisherID identifies the originator of a command or change event:
// the pair (node id, actor id) from spec.md's glossary.
type PublisherID struct {
	NodeID  string
	ActorID string
}

// InitType selects how Add initializes an absent key.
type InitType int

const (
	InitCount InitType = iota
	InitInteger
	InitReal
)

// Kind tags which variant a Command carries.
type Kind int

const (
	KindPut Kind = iota
	KindPutUnique
	KindErase
	KindAdd
	KindSubtract
	KindClear
	KindExpire
	KindSnapshot
	KindSnapshotSync
	KindSet
)

func (k Kind) String() string {
	switch k {
	case KindPut:
		return "put"
	case KindPutUnique:
		return "put_unique"
	case KindErase:
		return "erase"
	case KindAdd:
		return "add"
	case KindSubtract:
		return "subtract"
	case KindClear:
		return "clear"
	case KindExpire:
		return "expire"
	case KindSnapshot:
		return "snapshot"
	case KindSnapshotSync:
		return "snapshot_sync"
	case KindSet:
		return "set"
	default:
		return "unknown"
	}
}

// Expiry is an optional absolute expiry; IsSet distinguishes "no
// expiry requested" from a zero time.Time.
type Expiry struct {
	IsSet bool
	Nanos int64 // absolute UnixNano deadline, valid when IsSet
}

// Command is the tagged union every variant in spec.md §3 maps onto.
// Only the fields relevant to Kind are populated; this mirrors a
// protobuf oneof without requiring wire codegen (on-wire serialization
// of the data model is out of scope per spec.md §1).
type Command struct {
	Kind Kind

	Key   data.Value
	Value data.Value

	Expiry Expiry

	Publisher PublisherID

	InitType InitType

	// put_unique only.
	Who   string
	ReqID string

	// snapshot only.
	RemoteCore  string
	RemoteClone string

	// set only: the complete snapshot payload.
	Snapshot map[string]SnapshotEntry
}

// SnapshotEntry is one key's value plus its expiry metadata, as
// carried by a set{} command. Key is carried alongside the map's
// string-encoded index so backends can reconstruct the original typed
// key (data.Value.Key() is a one-way encoding).
type SnapshotEntry struct {
	Key    data.Value
	Value  data.Value
	Expiry Expiry
}

func Put(key, value data.Value, expiry Expiry, pub PublisherID) Command {
	return Command{Kind: KindPut, Key: key, Value: value, Expiry: expiry, Publisher: pub}
}

func PutUnique(key, value data.Value, expiry Expiry, pub PublisherID, who, reqID string) Command {
	return Command{Kind: KindPutUnique, Key: key, Value: value, Expiry: expiry, Publisher: pub, Who: who, ReqID: reqID}
}

func Erase(key data.Value, pub PublisherID) Command {
	return Command{Kind: KindErase, Key: key, Publisher: pub}
}

func Add(key, value data.Value, initType InitType, expiry Expiry, pub PublisherID) Command {
	return Command{Kind: KindAdd, Key: key, Value: value, InitType: initType, Expiry: expiry, Publisher: pub}
}

func Subtract(key, value data.Value, expiry Expiry, pub PublisherID) Command {
	return Command{Kind: KindSubtract, Key: key, Value: value, Expiry: expiry, Publisher: pub}
}

func Clear(pub PublisherID) Command {
	return Command{Kind: KindClear, Publisher: pub}
}

func Expire(key data.Value, pub PublisherID) Command {
	return Command{Kind: KindExpire, Key: key, Publisher: pub}
}

func Snapshot(remoteCore, remoteClone string) Command {
	return Command{Kind: KindSnapshot, RemoteCore: remoteCore, RemoteClone: remoteClone}
}

func SnapshotSync(remoteClone string) Command {
	return Command{Kind: KindSnapshotSync, RemoteClone: remoteClone}
}

func Set(snapshot map[string]SnapshotEntry) Command {
	return Command{Kind: KindSet, Snapshot: snapshot}
}

package zktree

import (
	"time"

	"github.com/go-zookeeper/zk"
)

// Stat is the subset of a remote node's metadata the filesystem uses.
type Stat struct {
	Czxid       int64     // transaction that created the node; stable for its lifetime
	Mzxid       int64     // transaction that last modified the payload
	Ctime       time.Time // millisecond precision
	Mtime       time.Time // millisecond precision
	Version     int32     // payload version, used for optimistic sets
	DataLength  int32
	NumChildren int32
}

// Node is a snapshot of one remote node.
type Node struct {
	Path string
	Data []byte
	Stat Stat
}

func statFromZK(s *zk.Stat) Stat {
	if s == nil {
		return Stat{}
	}
	return Stat{
		Czxid:       s.Czxid,
		Mzxid:       s.Mzxid,
		Ctime:       time.UnixMilli(s.Ctime),
		Mtime:       time.UnixMilli(s.Mtime),
		Version:     s.Version,
		DataLength:  s.DataLength,
		NumChildren: s.NumChildren,
	}
}

// EventType identifies a change delivered by Subscribe.
type EventType int

const (
	EventAdded EventType = iota
	EventUpdated
	EventRemoved
	// EventInitialized is sent exactly once, after every node that existed
	// when the subscription started has been delivered as EventAdded.
	EventInitialized
)

func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	case EventInitialized:
		return "initialized"
	default:
		return "unknown"
	}
}

// Event is one ordered change to the subscribed subtree. Node is zero for
// EventRemoved and EventInitialized.
type Event struct {
	Type EventType
	Path string
	Node Node
}

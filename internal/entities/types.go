// Package entities implements the typed records of the Akonadi data
// model (spec §3) with CRUD, relational accessors, and retrieval
// helpers, generated conceptually from a schema description the way
// the teacher's storage layer hand-maintains one schema per backend
// (internal/storage/sqlite/migrations in the teacher repo).
package entities

import "time"

// TriState models a three-valued preference: the collection/parent
// never overrides an explicit True/False, only Undefined defers to the
// ancestor (spec §3: display-pref/sync-pref/index-pref).
type TriState int

const (
	Undefined TriState = iota
	True
	False
)

// Resource represents an external data source that owns zero or more
// collections (spec §3).
type Resource struct {
	ID          int64
	Name        string // unique
	DisplayName string
	Capabilities []string
}

// CachePolicy controls how a collection's payload parts are cached and
// evicted (spec §3, §4.6).
type CachePolicy struct {
	Inherit       bool
	LocalParts    []string // part names never evicted; "ALL" sentinel disables eviction entirely
	CacheTimeout  int      // minutes; negative disables eviction
	SyncOnDemand  bool
}

// LocalPartsAll is the sentinel LocalParts value meaning "never evict
// any payload part of this collection" (spec §4.6).
const LocalPartsAll = "ALL"

// Collection is a node in a per-resource tree (spec §3).
type Collection struct {
	ID             int64
	ParentID       *int64 // nil = root of its resource
	Name           string // non-unique within the tree
	RemoteID       string
	RemoteRevision string
	ResourceID     int64
	IsVirtual      bool
	Referenced     bool
	Enabled        bool
	DisplayPref    TriState
	SyncPref       TriState
	IndexPref      TriState
	CachePolicy    CachePolicy
	QueryString    string // virtual collections only
	QueryLanguage  string

	// lazily populated relational accessors; cached for the value's lifetime.
	parent   *Collection
	children []*Collection
	attrs    []CollectionAttribute
}

// PimItem is a stored PIM record (spec §3).
type PimItem struct {
	ID             int64
	CollectionID   int64
	MimeTypeID     int64
	RemoteID       string
	RemoteRevision string
	GID            string
	Size           int64
	Datetime       time.Time // created
	Atime          time.Time // last payload access
	Dirty          bool      // client-modified, not yet pushed upstream
	Revision       int64     // monotonic per item

	flags []Flag
	tags  []Tag
}

// Part is a named, typed payload associated with an item (spec §3).
type Part struct {
	ID         int64
	PimItemID  int64
	Name       string // "PLD:RFC822", "HEAD", or an attribute key
	Data       []byte // raw bytes when !External
	FilePath   string // absolute path when External
	DataSize   int64
	External   bool
	Version    int
}

// PayloadPrefix marks a Part name as a payload part subject to cache
// eviction (spec §3, GLOSSARY "Payload part").
const PayloadPrefix = "PLD:"

// IsPayloadPart reports whether name denotes a cache-evictable payload
// part rather than an attribute/metadata part.
func IsPayloadPart(name string) bool {
	return len(name) >= len(PayloadPrefix) && name[:len(PayloadPrefix)] == PayloadPrefix
}

// MimeType, Flag, Tag, TagType are interned by unique name (spec §3).
type MimeType struct {
	ID   int64
	Name string
}

type Flag struct {
	ID   int64
	Name string
}

type TagType struct {
	ID   int64
	Name string
}

type Tag struct {
	ID        int64
	GID       string
	ParentID  *int64
	TagTypeID int64
	RemoteID  string
}

// Relation is a typed directed edge between two items (spec §3).
type Relation struct {
	ID       int64
	LeftID   int64
	RightID  int64
	Type     string
	RemoteID string
}

// CollectionAttribute is a (collection-id, type, value-bytes) triple,
// unique per (collection, type) (spec §3).
type CollectionAttribute struct {
	ID           int64
	CollectionID int64
	Type         string
	Value        []byte
}

// CollectionMimeType links a collection to the mime types it may
// contain (spec §3).
type CollectionMimeType struct {
	CollectionID int64
	MimeTypeID   int64
}

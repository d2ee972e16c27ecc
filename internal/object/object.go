// Package object implements the typed value (TV): a reference-counted
// polymorphic cell whose physical encoding is chosen by size and
// converts, one-way, to a larger representation as a value grows.
package object

import (
	"errors"
	"strconv"

	"kvdb/internal/dbs"
)

// Type is the logical type of a value.
type Type uint8

const (
	TypeString Type = iota
	TypeList
	TypeSet
	TypeHash
	TypeZSet
)

func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeList:
		return "list"
	case TypeSet:
		return "set"
	case TypeHash:
		return "hash"
	case TypeZSet:
		return "zset"
	default:
		return "unknown"
	}
}

// Encoding is the physical representation backing a value of a given Type.
type Encoding uint8

const (
	EncRaw        Encoding = iota // string: DBS payload
	EncInt                        // string: embedded int64, no DBS allocated
	EncZiplist                    // list/hash/zset: packed entries
	EncIntset                     // set: sorted compact integer array
	EncLinkedList                 // list: doubly linked list of TVs
	EncHashTable                  // set/hash: Go map
	EncSkipList                   // zset: skip list + dict
)

func (e Encoding) String() string {
	switch e {
	case EncRaw:
		return "raw"
	case EncInt:
		return "int"
	case EncZiplist:
		return "ziplist"
	case EncIntset:
		return "intset"
	case EncLinkedList:
		return "linkedlist"
	case EncHashTable:
		return "hashtable"
	case EncSkipList:
		return "skiplist"
	default:
		return "unknown"
	}
}

var (
	// ErrWrongType is returned when an operation targets a TV whose Type
	// does not match what the operation requires.
	ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
	// ErrOutOfMemory is returned when an encoding conversion or append
	// cannot proceed; the value is left in its pre-operation state.
	ErrOutOfMemory = errors.New("OOM command not allowed")
	// ErrNotInteger is returned by arithmetic commands against a string
	// TV whose contents do not parse as a machine-word integer.
	ErrNotInteger = errors.New("value is not an integer or out of range")
)

// Limits holds the size thresholds that trigger a one-way conversion from
// a small encoding to its large counterpart. Mirrors the teacher's habit
// of keeping tunables on a Config struct rather than as package constants.
type Limits struct {
	ListMaxEntries      int
	ListMaxValueBytes   int
	HashMaxEntries      int
	HashMaxValueBytes   int
	SetMaxIntsetEntries int
	ZSetMaxEntries      int
	ZSetMaxValueBytes   int
}

// DefaultLimits returns the thresholds used when a server config does not
// override them: 128 entries / 64 bytes per entry, the same order of
// magnitude as upstream Redis's ziplist-size family of settings.
func DefaultLimits() Limits {
	return Limits{
		ListMaxEntries:      128,
		ListMaxValueBytes:   64,
		HashMaxEntries:      128,
		HashMaxValueBytes:   64,
		SetMaxIntsetEntries: 512,
		ZSetMaxEntries:      128,
		ZSetMaxValueBytes:   64,
	}
}

// Object is the typed value cell. Payload holds the type-specific
// representation chosen by Encoding; see the per-family accessor methods
// in object_string.go/object_list.go/object_set.go/object_hash.go/
// object_zset.go for how it is interpreted.
type Object struct {
	Type       Type
	Encoding   Encoding
	payload    interface{}
	refCount   int32
	lastAccess int64 // coarse monotonic tick, set by the keyspace on access
}

// RefCount returns the current reference count.
func (o *Object) RefCount() int32 { return o.refCount }

// IncrRef increments the reference count, used when a value is shared
// (shared integers, canned replies) rather than freshly allocated.
func (o *Object) IncrRef() { o.refCount++ }

// DecrRef decrements the reference count and reports whether it reached
// zero, at which point the caller should drop all references to o.
func (o *Object) DecrRef() bool {
	o.refCount--
	return o.refCount <= 0
}

// Touch records a coarse last-access tick, advanced by the event loop's
// clock ticker rather than a syscall per access.
func (o *Object) Touch(tick int64) { o.lastAccess = tick }

// LastAccess returns the last recorded access tick.
func (o *Object) LastAccess() int64 { return o.lastAccess }

const sharedIntMax = 10000

var sharedIntegers [sharedIntMax]*Object

func init() {
	for i := range sharedIntegers {
		sharedIntegers[i] = &Object{Type: TypeString, Encoding: EncInt, payload: int64(i), refCount: 1}
	}
}

// SharedInteger returns the process-wide shared TV for v if v is within
// the shared range [0, sharedIntMax), incrementing its reference count.
// Mutation paths must copy-on-write before editing a shared value rather
// than freeing it through the keyspace path.
func SharedInteger(v int64) (*Object, bool) {
	if v < 0 || v >= sharedIntMax {
		return nil, false
	}
	o := sharedIntegers[v]
	o.IncrRef()
	return o, true
}

// IsShared reports whether o is one of the process-wide shared constants.
func (o *Object) IsShared() bool {
	return o.Type == TypeString && o.Encoding == EncInt &&
		o.payload.(int64) >= 0 && o.payload.(int64) < sharedIntMax &&
		sharedIntegers[o.payload.(int64)] == o
}

// parseStringInt reports whether b's textual form is a canonical signed
// integer in int64 range, returning the parsed value.
func parseStringInt(b []byte) (int64, bool) {
	if len(b) == 0 || len(b) > 20 {
		return 0, false
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, false
	}
	if strconv.FormatInt(v, 10) != string(b) {
		return 0, false // reject "+1", "01", leading/trailing junk
	}
	return v, true
}

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

// rawDBS returns o's payload as a *dbs.DBS, materializing one from an
// int-encoded value without mutating o (used by read paths).
func rawDBS(o *Object) *dbs.DBS {
	if o.Encoding == EncInt {
		return dbs.NewFromString(strconv.FormatInt(o.payload.(int64), 10))
	}
	return o.payload.(*dbs.DBS)
}

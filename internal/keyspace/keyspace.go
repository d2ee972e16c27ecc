// Package keyspace implements the keyspace (KS): per-database mappings
// from key to typed value and from key to absolute expiration deadline,
// with lazy and active expiration, hit/miss accounting, and a
// watched-key notification hook for an external transaction collaborator.
package keyspace

import (
	"errors"
	"math/rand"

	"kvdb/internal/object"
)

var (
	// ErrKeyExists is returned by Insert when the key is already present.
	ErrKeyExists = errors.New("key already exists")
	// ErrNoKey is returned by Overwrite, SetExpiry, and RemoveExpiry when
	// the key is not present.
	ErrNoKey = errors.New("no such key")
)

type db struct {
	data    map[string]*object.Object
	expires map[string]int64 // key -> absolute millisecond deadline
}

func newDB() *db {
	return &db{data: make(map[string]*object.Object), expires: make(map[string]int64)}
}

// Keyspace holds the fixed set of logical databases and the counters and
// callbacks the core's keyspace operations maintain.
type Keyspace struct {
	dbs []*db

	hits   uint64
	misses uint64
	dirty  uint64

	// NowMillis returns the current wall-clock time in epoch
	// milliseconds. Overridable so expiration logic is deterministic in
	// tests without sleeping.
	NowMillis func() int64

	// OnExpired is invoked whenever lazy or active expiration removes a
	// key, so the caller can append a synthetic DEL to the AOF or
	// forward it to a replica channel. May be nil.
	OnExpired func(dbIndex int, key string)

	// OnKeyTouched is invoked by every mutating operation, signaling
	// "watched key touched" to an external transaction collaborator.
	// May be nil.
	OnKeyTouched func(dbIndex int, key string)
}

// New creates a Keyspace with the given number of logical databases
// (Redis uses 16 by default).
func New(numDBs int, nowMillis func() int64) *Keyspace {
	ks := &Keyspace{dbs: make([]*db, numDBs), NowMillis: nowMillis}
	for i := range ks.dbs {
		ks.dbs[i] = newDB()
	}
	return ks
}

func (ks *Keyspace) now() int64 {
	if ks.NowMillis != nil {
		return ks.NowMillis()
	}
	return 0
}

// expireIfDue removes key from dbIndex if its deadline has passed,
// firing OnExpired, and reports whether it did so.
func (ks *Keyspace) expireIfDue(dbIndex int, key string) bool {
	d := ks.dbs[dbIndex]
	deadline, hasExpiry := d.expires[key]
	if !hasExpiry || deadline > ks.now() {
		return false
	}
	if old, exists := d.data[key]; exists {
		old.DecrRef()
	}
	delete(d.data, key)
	delete(d.expires, key)
	ks.dirty++
	if ks.OnExpired != nil {
		ks.OnExpired(dbIndex, key)
	}
	return true
}

// LookupRead returns key's value for a read-only access, first applying
// lazy expiration, and updates the hit/miss counter.
func (ks *Keyspace) LookupRead(dbIndex int, key string) (*object.Object, bool) {
	ks.expireIfDue(dbIndex, key)
	v, ok := ks.dbs[dbIndex].data[key]
	if ok {
		ks.hits++
	} else {
		ks.misses++
	}
	return v, ok
}

// LookupWrite returns key's value for a mutating access, first applying
// lazy expiration. Unlike LookupRead it does not affect the hit/miss
// counter.
func (ks *Keyspace) LookupWrite(dbIndex int, key string) (*object.Object, bool) {
	ks.expireIfDue(dbIndex, key)
	v, ok := ks.dbs[dbIndex].data[key]
	return v, ok
}

// Insert adds key with value, failing with ErrKeyExists if already
// present (after lazy expiration is applied).
func (ks *Keyspace) Insert(dbIndex int, key string, value *object.Object) error {
	ks.expireIfDue(dbIndex, key)
	d := ks.dbs[dbIndex]
	if _, exists := d.data[key]; exists {
		return ErrKeyExists
	}
	d.data[key] = value
	ks.dirty++
	ks.signal(dbIndex, key)
	return nil
}

// Overwrite replaces key's value, failing with ErrNoKey if absent. The
// replaced TV's reference count is decremented, per §3's lifecycle rule.
func (ks *Keyspace) Overwrite(dbIndex int, key string, value *object.Object) error {
	ks.expireIfDue(dbIndex, key)
	d := ks.dbs[dbIndex]
	old, exists := d.data[key]
	if !exists {
		return ErrNoKey
	}
	old.DecrRef()
	d.data[key] = value
	ks.dirty++
	ks.signal(dbIndex, key)
	return nil
}

// Set is the common insert-or-overwrite path most write commands use: it
// does not require the key to pre-exist or be absent. Any value it
// replaces has its reference count decremented.
func (ks *Keyspace) Set(dbIndex int, key string, value *object.Object) {
	ks.expireIfDue(dbIndex, key)
	d := ks.dbs[dbIndex]
	if old, exists := d.data[key]; exists {
		old.DecrRef()
	}
	d.data[key] = value
	ks.dirty++
	ks.signal(dbIndex, key)
}

// Delete removes key, reporting whether it was present. The removed
// TV's reference count is decremented.
func (ks *Keyspace) Delete(dbIndex int, key string) bool {
	ks.expireIfDue(dbIndex, key)
	d := ks.dbs[dbIndex]
	old, exists := d.data[key]
	if !exists {
		return false
	}
	old.DecrRef()
	delete(d.data, key)
	delete(d.expires, key)
	ks.dirty++
	ks.signal(dbIndex, key)
	return true
}

// Exists reports whether key is present and unexpired.
func (ks *Keyspace) Exists(dbIndex int, key string) bool {
	ks.expireIfDue(dbIndex, key)
	_, exists := ks.dbs[dbIndex].data[key]
	return exists
}

// RandomKey returns a uniformly random live key, retrying internally if
// it happens to sample one that turns out to be expired.
func (ks *Keyspace) RandomKey(dbIndex int) (string, bool) {
	d := ks.dbs[dbIndex]
	for attempt := 0; attempt < len(d.data)+1; attempt++ {
		if len(d.data) == 0 {
			return "", false
		}
		n := rand.Intn(len(d.data))
		i := 0
		var candidate string
		for k := range d.data {
			if i == n {
				candidate = k
				break
			}
			i++
		}
		if ks.expireIfDue(dbIndex, candidate) {
			continue
		}
		return candidate, true
	}
	return "", false
}

// SetExpiry sets key's absolute millisecond deadline, failing with
// ErrNoKey if the key is absent.
func (ks *Keyspace) SetExpiry(dbIndex int, key string, deadlineMs int64) error {
	ks.expireIfDue(dbIndex, key)
	d := ks.dbs[dbIndex]
	if _, exists := d.data[key]; !exists {
		return ErrNoKey
	}
	d.expires[key] = deadlineMs
	ks.signal(dbIndex, key)
	return nil
}

// RemoveExpiry clears any expiration on key, failing with ErrNoKey if
// the key is absent. Returns true if an expiration was actually removed.
func (ks *Keyspace) RemoveExpiry(dbIndex int, key string) (bool, error) {
	ks.expireIfDue(dbIndex, key)
	d := ks.dbs[dbIndex]
	if _, exists := d.data[key]; !exists {
		return false, ErrNoKey
	}
	_, had := d.expires[key]
	delete(d.expires, key)
	if had {
		ks.signal(dbIndex, key)
	}
	return had, nil
}

// GetExpiry returns key's absolute millisecond deadline, ok=false if the
// key has no expiration set (not distinguishing "no key" from "no TTL").
func (ks *Keyspace) GetExpiry(dbIndex int, key string) (int64, bool) {
	ks.expireIfDue(dbIndex, key)
	d, ok := ks.dbs[dbIndex].expires[key]
	return d, ok
}

func (ks *Keyspace) signal(dbIndex int, key string) {
	if ks.OnKeyTouched != nil {
		ks.OnKeyTouched(dbIndex, key)
	}
}

// Flush removes every key from the given database, decrementing the
// reference count of every value it held.
func (ks *Keyspace) Flush(dbIndex int) {
	for _, v := range ks.dbs[dbIndex].data {
		v.DecrRef()
	}
	ks.dbs[dbIndex] = newDB()
	ks.dirty++
}

// FlushAll removes every key from every database, decrementing the
// reference count of every value it held.
func (ks *Keyspace) FlushAll() {
	for i, d := range ks.dbs {
		for _, v := range d.data {
			v.DecrRef()
		}
		ks.dbs[i] = newDB()
	}
	ks.dirty++
}

// NumDBs returns the number of logical databases.
func (ks *Keyspace) NumDBs() int { return len(ks.dbs) }

// Hits, Misses, and Dirty expose the bookkeeping counters maintained by
// the lookup and mutation paths.
func (ks *Keyspace) Hits() uint64   { return ks.hits }
func (ks *Keyspace) Misses() uint64 { return ks.misses }
func (ks *Keyspace) Dirty() uint64  { return ks.dirty }
func (ks *Keyspace) ResetDirty()    { ks.dirty = 0 }

// All returns every live key in dbIndex, applying lazy expiration to
// each as it is visited. Used by RDB save and AOF rewrite snapshotting.
func (ks *Keyspace) All(dbIndex int) map[string]*object.Object {
	d := ks.dbs[dbIndex]
	out := make(map[string]*object.Object, len(d.data))
	for k, v := range d.data {
		if ks.expireIfDue(dbIndex, k) {
			continue
		}
		out[k] = v
	}
	return out
}

const (
	activeExpireSamplesPerPass = 20
	// activeExpireMinHitRatio below this fraction of the sample being
	// expired stops the sweep for this database early.
	activeExpireMinHitRatio = 4
)

// ActiveExpireCycle samples up to activeExpireSamplesPerPass keys with an
// expiration set in each database and deletes those past their deadline,
// bounding worst-case memory growth from set-and-forget keys. It keeps
// sampling a database as long as a full sample came back and at least
// 1/activeExpireMinHitRatio of it was expired.
func (ks *Keyspace) ActiveExpireCycle() {
	for i, d := range ks.dbs {
		for {
			sample := sampleKeys(d.expires, activeExpireSamplesPerPass)
			if len(sample) == 0 {
				break
			}
			expired := 0
			for _, key := range sample {
				if _, exists := d.data[key]; !exists {
					delete(d.expires, key)
					continue
				}
				if ks.expireIfDue(i, key) {
					expired++
				}
			}
			if len(sample) < activeExpireSamplesPerPass {
				break
			}
			if expired*activeExpireMinHitRatio < len(sample) {
				break
			}
		}
	}
}

func sampleKeys(m map[string]int64, n int) []string {
	keys := make([]string, 0, n)
	for k := range m {
		keys = append(keys, k)
		if len(keys) >= n {
			break
		}
	}
	return keys
}

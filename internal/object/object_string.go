package object

import (
	"strconv"

	"kvdb/internal/dbs"
)

// NewString creates a string TV, choosing the embedded-integer encoding
// when b's textual form round-trips as a machine-word integer and the
// raw DBS encoding otherwise. A value landing in the shared-integer
// range returns the process-wide constant (refcount incremented)
// instead of a fresh allocation.
func NewString(b []byte) *Object {
	if v, ok := parseStringInt(b); ok {
		return NewStringInt(v)
	}
	return &Object{Type: TypeString, Encoding: EncRaw, payload: dbs.New(b), refCount: 1}
}

// NewStringInt creates a string TV directly from an integer value,
// sharing the process-wide constant when v falls in the shared range.
func NewStringInt(v int64) *Object {
	if shared, ok := SharedInteger(v); ok {
		return shared
	}
	return &Object{Type: TypeString, Encoding: EncInt, payload: v, refCount: 1}
}

// PrivateCopy returns a freshly allocated, non-shared copy of a string
// TV's content with refcount 1, for callers that must mutate in place
// (INCR/DECR and friends) but hold a possibly-shared object: the
// keyspace entry must be repointed at the copy before mutating it.
func (o *Object) PrivateCopy() *Object {
	if o.Encoding == EncInt {
		return &Object{Type: TypeString, Encoding: EncInt, payload: o.payload, refCount: 1}
	}
	return &Object{Type: TypeString, Encoding: EncRaw, payload: o.payload.(*dbs.DBS).Clone(), refCount: 1}
}

// StringBytes returns the textual content of a string TV.
func (o *Object) StringBytes() ([]byte, error) {
	if o.Type != TypeString {
		return nil, ErrWrongType
	}
	if o.Encoding == EncInt {
		return []byte(strconv.FormatInt(o.payload.(int64), 10)), nil
	}
	return o.payload.(*dbs.DBS).Bytes(), nil
}

// materializeRaw converts o to the raw DBS encoding in place if it is
// currently int-encoded, as required before any in-place string mutation
// (append, setrange) per the embedded-integer invariant.
func (o *Object) materializeRaw() {
	if o.Encoding == EncInt {
		o.payload = dbs.NewFromString(strconv.FormatInt(o.payload.(int64), 10))
		o.Encoding = EncRaw
	}
}

// StringAppend appends b to o's content in place, materializing a raw
// DBS first if o is currently int-encoded. Like IncrBy, it mutates o
// directly: a caller holding a possibly-shared o must call PrivateCopy
// and repoint the keyspace at the result before calling this.
func (o *Object) StringAppend(b []byte) error {
	if o.Type != TypeString {
		return ErrWrongType
	}
	o.materializeRaw()
	o.payload.(*dbs.DBS).Append(b)
	return nil
}

// StringSetRange overwrites o's content starting at offset with b,
// zero-padding as needed. Same in-place/shared-copy contract as
// StringAppend.
func (o *Object) StringSetRange(offset int, b []byte) error {
	if o.Type != TypeString {
		return ErrWrongType
	}
	o.materializeRaw()
	o.payload.(*dbs.DBS).SetRange(offset, b)
	return nil
}

// StringLen returns the length of the string's textual content.
func (o *Object) StringLen() (int, error) {
	if o.Type != TypeString {
		return 0, ErrWrongType
	}
	if o.Encoding == EncInt {
		return len(strconv.FormatInt(o.payload.(int64), 10)), nil
	}
	return o.payload.(*dbs.DBS).Len(), nil
}

// IncrBy adds delta to o's integer value and returns the result,
// re-encoding in place. Fails with ErrNotInteger if the current content
// is not a parseable integer, matching INCR/INCRBY/DECR/DECRBY semantics.
// o must not be shared; callers materialize a PrivateCopy first.
func (o *Object) IncrBy(delta int64) (int64, error) {
	if o.Type != TypeString {
		return 0, ErrWrongType
	}
	var cur int64
	if o.Encoding == EncInt {
		cur = o.payload.(int64)
	} else {
		v, ok := parseStringInt(o.payload.(*dbs.DBS).Bytes())
		if !ok {
			return 0, ErrNotInteger
		}
		cur = v
	}
	next := cur + delta
	o.Encoding = EncInt
	o.payload = next
	return next, nil
}

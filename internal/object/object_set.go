package object

import (
	"strconv"

	"kvdb/internal/intset"
)

// NewSet creates an empty set TV in its small (intset) encoding.
func NewSet() *Object {
	return &Object{Type: TypeSet, Encoding: EncIntset, payload: intset.New(), refCount: 1}
}

// setConvertToLarge migrates an intset-encoded set to a hash table of
// member TVs. Triggered when a non-integer member is added or the intset
// grows past its entry threshold; conversion is one-way.
func (o *Object) setConvertToLarge() {
	is := o.payload.(*intset.IntSet)
	m := make(map[string]*Object, is.Len())
	for _, v := range is.Values() {
		s := strconv.FormatInt(v, 10)
		m[s] = NewString([]byte(s))
	}
	o.payload = m
	o.Encoding = EncHashTable
}

// SetAdd adds member to the set, converting to the large encoding first
// if member is not an integer or the set would exceed its size
// threshold. Returns true if member was newly added.
func (o *Object) SetAdd(member []byte, limits Limits) (bool, error) {
	if o.Type != TypeSet {
		return false, ErrWrongType
	}
	if o.Encoding == EncIntset {
		v, isInt := parseStringInt(member)
		is := o.payload.(*intset.IntSet)
		if !isInt || is.Len()+1 > limits.SetMaxIntsetEntries {
			o.setConvertToLarge()
		} else {
			return is.Add(v), nil
		}
	}
	m := o.payload.(map[string]*Object)
	key := string(member)
	if _, exists := m[key]; exists {
		return false, nil
	}
	m[key] = NewString(member)
	return true, nil
}

// SetRemove removes member, reporting whether it was present.
func (o *Object) SetRemove(member []byte) (bool, error) {
	if o.Type != TypeSet {
		return false, ErrWrongType
	}
	switch o.Encoding {
	case EncIntset:
		v, isInt := parseStringInt(member)
		if !isInt {
			return false, nil
		}
		return o.payload.(*intset.IntSet).Remove(v), nil
	case EncHashTable:
		m := o.payload.(map[string]*Object)
		key := string(member)
		if _, exists := m[key]; !exists {
			return false, nil
		}
		delete(m, key)
		return true, nil
	}
	return false, nil
}

// SetIsMember reports whether member is present.
func (o *Object) SetIsMember(member []byte) (bool, error) {
	if o.Type != TypeSet {
		return false, ErrWrongType
	}
	switch o.Encoding {
	case EncIntset:
		v, isInt := parseStringInt(member)
		if !isInt {
			return false, nil
		}
		return o.payload.(*intset.IntSet).Contains(v), nil
	case EncHashTable:
		_, exists := o.payload.(map[string]*Object)[string(member)]
		return exists, nil
	}
	return false, nil
}

// SetCard returns the number of members.
func (o *Object) SetCard() (int, error) {
	if o.Type != TypeSet {
		return 0, ErrWrongType
	}
	switch o.Encoding {
	case EncIntset:
		return o.payload.(*intset.IntSet).Len(), nil
	case EncHashTable:
		return len(o.payload.(map[string]*Object)), nil
	}
	return 0, nil
}

// SetMembers returns every member's textual bytes.
func (o *Object) SetMembers() ([][]byte, error) {
	if o.Type != TypeSet {
		return nil, ErrWrongType
	}
	switch o.Encoding {
	case EncIntset:
		vals := o.payload.(*intset.IntSet).Values()
		out := make([][]byte, len(vals))
		for i, v := range vals {
			out[i] = []byte(strconv.FormatInt(v, 10))
		}
		return out, nil
	case EncHashTable:
		m := o.payload.(map[string]*Object)
		out := make([][]byte, 0, len(m))
		for k := range m {
			out = append(out, []byte(k))
		}
		return out, nil
	}
	return nil, nil
}

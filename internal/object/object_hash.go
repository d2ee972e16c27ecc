package object

import "kvdb/internal/ziplist"

// NewHash creates an empty hash TV in its small (packed) encoding, where
// field and value are stored as consecutive ziplist entries.
func NewHash() *Object {
	return &Object{Type: TypeHash, Encoding: EncZiplist, payload: ziplist.New(), refCount: 1}
}

func (o *Object) hashConvertToLarge() {
	zl := o.payload.(*ziplist.ZipList)
	vals := zl.Values()
	m := make(map[string]*Object, len(vals)/2)
	for i := 0; i+1 < len(vals); i += 2 {
		m[string(vals[i])] = NewString(vals[i+1])
	}
	o.payload = m
	o.Encoding = EncHashTable
}

func (o *Object) hashEnsureCapacity(fieldLen, valueLen int, limits Limits) {
	if o.Encoding != EncZiplist {
		return
	}
	zl := o.payload.(*ziplist.ZipList)
	entries := zl.Len() / 2
	if entries+1 > limits.HashMaxEntries || fieldLen > limits.HashMaxValueBytes || valueLen > limits.HashMaxValueBytes {
		o.hashConvertToLarge()
	}
}

// HashSet sets field to value, converting to the large encoding first if
// needed. Returns true if field is newly created.
func (o *Object) HashSet(field, value []byte, limits Limits) (bool, error) {
	if o.Type != TypeHash {
		return false, ErrWrongType
	}
	o.hashEnsureCapacity(len(field), len(value), limits)
	switch o.Encoding {
	case EncZiplist:
		zl := o.payload.(*ziplist.ZipList)
		vals := zl.Values()
		for i := 0; i+1 < len(vals); i += 2 {
			if string(vals[i]) == string(field) {
				zl.DeleteRange(i, 2)
				zl.Push(field, ziplist.Tail)
				zl.Push(value, ziplist.Tail)
				return false, nil
			}
		}
		zl.Push(field, ziplist.Tail)
		zl.Push(value, ziplist.Tail)
		return true, nil
	case EncHashTable:
		m := o.payload.(map[string]*Object)
		_, exists := m[string(field)]
		m[string(field)] = NewString(value)
		return !exists, nil
	}
	return false, nil
}

// HashGet returns field's value, ok=false if absent.
func (o *Object) HashGet(field []byte) (value []byte, ok bool, err error) {
	if o.Type != TypeHash {
		return nil, false, ErrWrongType
	}
	switch o.Encoding {
	case EncZiplist:
		zl := o.payload.(*ziplist.ZipList)
		vals := zl.Values()
		for i := 0; i+1 < len(vals); i += 2 {
			if string(vals[i]) == string(field) {
				return vals[i+1], true, nil
			}
		}
		return nil, false, nil
	case EncHashTable:
		v, exists := o.payload.(map[string]*Object)[string(field)]
		if !exists {
			return nil, false, nil
		}
		b, _ := v.StringBytes()
		return b, true, nil
	}
	return nil, false, nil
}

// HashDel removes field, reporting whether it was present.
func (o *Object) HashDel(field []byte) (bool, error) {
	if o.Type != TypeHash {
		return false, ErrWrongType
	}
	switch o.Encoding {
	case EncZiplist:
		zl := o.payload.(*ziplist.ZipList)
		vals := zl.Values()
		for i := 0; i+1 < len(vals); i += 2 {
			if string(vals[i]) == string(field) {
				zl.DeleteRange(i, 2)
				return true, nil
			}
		}
		return false, nil
	case EncHashTable:
		m := o.payload.(map[string]*Object)
		if _, exists := m[string(field)]; !exists {
			return false, nil
		}
		delete(m, string(field))
		return true, nil
	}
	return false, nil
}

// HashLen returns the number of fields.
func (o *Object) HashLen() (int, error) {
	if o.Type != TypeHash {
		return 0, ErrWrongType
	}
	switch o.Encoding {
	case EncZiplist:
		return o.payload.(*ziplist.ZipList).Len() / 2, nil
	case EncHashTable:
		return len(o.payload.(map[string]*Object)), nil
	}
	return 0, nil
}

// HashGetAll returns every field/value pair, flattened field, value,
// field, value... matching HGETALL's reply shape.
func (o *Object) HashGetAll() ([][]byte, error) {
	if o.Type != TypeHash {
		return nil, ErrWrongType
	}
	switch o.Encoding {
	case EncZiplist:
		return o.payload.(*ziplist.ZipList).Values(), nil
	case EncHashTable:
		m := o.payload.(map[string]*Object)
		out := make([][]byte, 0, len(m)*2)
		for k, v := range m {
			b, _ := v.StringBytes()
			out = append(out, []byte(k), b)
		}
		return out, nil
	}
	return nil, nil
}

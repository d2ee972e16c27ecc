package object

import (
	"container/list"

	"kvdb/internal/ziplist"
)

// NewList creates an empty list TV in its small (packed) encoding.
func NewList() *Object {
	return &Object{Type: TypeList, Encoding: EncZiplist, payload: ziplist.New(), refCount: 1}
}

// listConvertToLarge migrates a ziplist-encoded list to a doubly linked
// list of string TVs. Conversion is one-way: a list TV never converts
// back to the packed encoding even if it shrinks afterward.
func (o *Object) listConvertToLarge() {
	zl := o.payload.(*ziplist.ZipList)
	ll := list.New()
	for _, v := range zl.Values() {
		ll.PushBack(NewString(v))
	}
	o.payload = ll
	o.Encoding = EncLinkedList
}

func (o *Object) listEnsureCapacity(addLen int, limits Limits) {
	if o.Encoding != EncZiplist {
		return
	}
	zl := o.payload.(*ziplist.ZipList)
	if zl.Len()+1 > limits.ListMaxEntries || addLen > limits.ListMaxValueBytes {
		o.listConvertToLarge()
	}
}

// ListPush inserts value at the head or tail, converting to the large
// encoding first if the insert would exceed the configured thresholds.
func (o *Object) ListPush(value []byte, head bool, limits Limits) error {
	if o.Type != TypeList {
		return ErrWrongType
	}
	o.listEnsureCapacity(len(value), limits)
	where := ziplist.Tail
	if head {
		where = ziplist.Head
	}
	switch o.Encoding {
	case EncZiplist:
		o.payload.(*ziplist.ZipList).Push(value, where)
	case EncLinkedList:
		ll := o.payload.(*list.List)
		v := NewString(value)
		if head {
			ll.PushFront(v)
		} else {
			ll.PushBack(v)
		}
	}
	return nil
}

// ListPop removes and returns the value at the head or tail, reporting
// ok=false if the list is empty.
func (o *Object) ListPop(head bool) (value []byte, ok bool, err error) {
	if o.Type != TypeList {
		return nil, false, ErrWrongType
	}
	switch o.Encoding {
	case EncZiplist:
		zl := o.payload.(*ziplist.ZipList)
		if zl.Len() == 0 {
			return nil, false, nil
		}
		var pos int
		if head {
			pos = zl.Index(0)
		} else {
			pos = zl.Index(-1)
		}
		str, intVal, isInt, getOK := zl.Get(pos)
		if !getOK {
			return nil, false, nil
		}
		if isInt {
			value = []byte(formatInt(intVal))
		} else {
			value = append([]byte(nil), str...)
		}
		idx := 0
		if !head {
			idx = -1
		}
		zl.DeleteRange(idx, 1)
		return value, true, nil
	case EncLinkedList:
		ll := o.payload.(*list.List)
		var e *list.Element
		if head {
			e = ll.Front()
		} else {
			e = ll.Back()
		}
		if e == nil {
			return nil, false, nil
		}
		ll.Remove(e)
		b, _ := e.Value.(*Object).StringBytes()
		return b, true, nil
	}
	return nil, false, nil
}

// ListLen returns the number of elements.
func (o *Object) ListLen() (int, error) {
	if o.Type != TypeList {
		return 0, ErrWrongType
	}
	switch o.Encoding {
	case EncZiplist:
		return o.payload.(*ziplist.ZipList).Len(), nil
	case EncLinkedList:
		return o.payload.(*list.List).Len(), nil
	}
	return 0, nil
}

// ListRange returns the elements with index in [start, stop] (inclusive,
// 0-based, negative indices counting from the tail), clamped to bounds.
func (o *Object) ListRange(start, stop int) ([][]byte, error) {
	if o.Type != TypeList {
		return nil, ErrWrongType
	}
	n, _ := o.ListLen()
	if n == 0 {
		return nil, nil
	}
	start, stop = normalizeRange(start, stop, n)
	if start > stop {
		return nil, nil
	}
	out := make([][]byte, 0, stop-start+1)
	switch o.Encoding {
	case EncZiplist:
		zl := o.payload.(*ziplist.ZipList)
		for i := start; i <= stop; i++ {
			pos := zl.Index(i)
			str, intVal, isInt, ok := zl.Get(pos)
			if !ok {
				break
			}
			if isInt {
				out = append(out, []byte(formatInt(intVal)))
			} else {
				out = append(out, append([]byte(nil), str...))
			}
		}
	case EncLinkedList:
		ll := o.payload.(*list.List)
		i := 0
		for e := ll.Front(); e != nil; e = e.Next() {
			if i > stop {
				break
			}
			if i >= start {
				b, _ := e.Value.(*Object).StringBytes()
				out = append(out, b)
			}
			i++
		}
	}
	return out, nil
}

func normalizeRange(start, stop, n int) (int, int) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}

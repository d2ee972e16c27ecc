package object

import (
	"strconv"

	"kvdb/internal/ziplist"
	"kvdb/internal/zset"
)

// NewZSet creates an empty sorted set TV in its small (packed) encoding,
// member/score stored as consecutive ziplist entries.
func NewZSet() *Object {
	return &Object{Type: TypeZSet, Encoding: EncZiplist, payload: ziplist.New(), refCount: 1}
}

func (o *Object) zsetConvertToLarge() {
	zl := o.payload.(*ziplist.ZipList)
	vals := zl.Values()
	zs := zset.New()
	for i := 0; i+1 < len(vals); i += 2 {
		score, _ := strconv.ParseFloat(string(vals[i+1]), 64)
		zs.Add(string(vals[i]), score)
	}
	o.payload = zs
	o.Encoding = EncSkipList
}

func (o *Object) zsetEnsureCapacity(memberLen int, limits Limits) {
	if o.Encoding != EncZiplist {
		return
	}
	zl := o.payload.(*ziplist.ZipList)
	entries := zl.Len() / 2
	if entries+1 > limits.ZSetMaxEntries || memberLen > limits.ZSetMaxValueBytes {
		o.zsetConvertToLarge()
	}
}

// ZSetAdd adds or updates member's score, converting to the large
// encoding first if needed. Returns true if member is newly present.
func (o *Object) ZSetAdd(member []byte, score float64, limits Limits) (bool, error) {
	if o.Type != TypeZSet {
		return false, ErrWrongType
	}
	o.zsetEnsureCapacity(len(member), limits)
	switch o.Encoding {
	case EncZiplist:
		zl := o.payload.(*ziplist.ZipList)
		vals := zl.Values()
		scoreBytes := []byte(strconv.FormatFloat(score, 'g', -1, 64))
		for i := 0; i+1 < len(vals); i += 2 {
			if string(vals[i]) == string(member) {
				zl.DeleteRange(i, 2)
				zl.Push(member, ziplist.Tail)
				zl.Push(scoreBytes, ziplist.Tail)
				return false, nil
			}
		}
		zl.Push(member, ziplist.Tail)
		zl.Push(scoreBytes, ziplist.Tail)
		return true, nil
	case EncSkipList:
		return o.payload.(*zset.ZSet).Add(string(member), score), nil
	}
	return false, nil
}

// ZSetScore returns member's score, ok=false if absent.
func (o *Object) ZSetScore(member []byte) (score float64, ok bool, err error) {
	if o.Type != TypeZSet {
		return 0, false, ErrWrongType
	}
	switch o.Encoding {
	case EncZiplist:
		zl := o.payload.(*ziplist.ZipList)
		vals := zl.Values()
		for i := 0; i+1 < len(vals); i += 2 {
			if string(vals[i]) == string(member) {
				f, _ := strconv.ParseFloat(string(vals[i+1]), 64)
				return f, true, nil
			}
		}
		return 0, false, nil
	case EncSkipList:
		s, ok := o.payload.(*zset.ZSet).Score(string(member))
		return s, ok, nil
	}
	return 0, false, nil
}

// ZSetRemove deletes member, reporting whether it was present.
func (o *Object) ZSetRemove(member []byte) (bool, error) {
	if o.Type != TypeZSet {
		return false, ErrWrongType
	}
	switch o.Encoding {
	case EncZiplist:
		zl := o.payload.(*ziplist.ZipList)
		vals := zl.Values()
		for i := 0; i+1 < len(vals); i += 2 {
			if string(vals[i]) == string(member) {
				zl.DeleteRange(i, 2)
				return true, nil
			}
		}
		return false, nil
	case EncSkipList:
		return o.payload.(*zset.ZSet).Remove(string(member)), nil
	}
	return false, nil
}

// ZSetCard returns the number of members.
func (o *Object) ZSetCard() (int, error) {
	if o.Type != TypeZSet {
		return 0, ErrWrongType
	}
	switch o.Encoding {
	case EncZiplist:
		return o.payload.(*ziplist.ZipList).Len() / 2, nil
	case EncSkipList:
		return o.payload.(*zset.ZSet).Len(), nil
	}
	return 0, nil
}

// ZSetIncrBy adds delta to member's score (creating it at delta if
// absent) and returns the resulting score.
func (o *Object) ZSetIncrBy(member []byte, delta float64, limits Limits) (float64, error) {
	if o.Type != TypeZSet {
		return 0, ErrWrongType
	}
	cur, ok, _ := o.ZSetScore(member)
	if !ok {
		cur = 0
	}
	next := cur + delta
	if _, err := o.ZSetAdd(member, next, limits); err != nil {
		return 0, err
	}
	return next, nil
}

// ZSetRange returns members by rank [start, stop] in ascending score
// order with their scores.
func (o *Object) ZSetRange(start, stop int) ([]zset.Member, error) {
	if o.Type != TypeZSet {
		return nil, ErrWrongType
	}
	switch o.Encoding {
	case EncZiplist:
		zs := zset.New()
		vals := o.payload.(*ziplist.ZipList).Values()
		for i := 0; i+1 < len(vals); i += 2 {
			f, _ := strconv.ParseFloat(string(vals[i+1]), 64)
			zs.Add(string(vals[i]), f)
		}
		start, stop = normalizeRange(start, stop, zs.Len())
		if start > stop {
			return nil, nil
		}
		return zs.RangeByRank(start, stop), nil
	case EncSkipList:
		zs := o.payload.(*zset.ZSet)
		start, stop = normalizeRange(start, stop, zs.Len())
		if start > stop {
			return nil, nil
		}
		return zs.RangeByRank(start, stop), nil
	}
	return nil, nil
}

// ZSetRank returns member's 0-based ascending rank, or ok=false if absent.
func (o *Object) ZSetRank(member []byte) (rank int, ok bool, err error) {
	if o.Type != TypeZSet {
		return 0, false, ErrWrongType
	}
	switch o.Encoding {
	case EncZiplist:
		zs := zset.New()
		vals := o.payload.(*ziplist.ZipList).Values()
		for i := 0; i+1 < len(vals); i += 2 {
			f, _ := strconv.ParseFloat(string(vals[i+1]), 64)
			zs.Add(string(vals[i]), f)
		}
		r := zs.Rank(string(member))
		return r, r != -1, nil
	case EncSkipList:
		r := o.payload.(*zset.ZSet).Rank(string(member))
		return r, r != -1, nil
	}
	return 0, false, nil
}

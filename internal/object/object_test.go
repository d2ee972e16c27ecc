package object

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringEncodingChoosesInt(t *testing.T) {
	o := NewString([]byte("12345"))
	require.Equal(t, EncInt, o.Encoding)
	o2 := NewString([]byte("hello"))
	require.Equal(t, EncRaw, o2.Encoding)
}

func TestStringAppendMaterializesFromInt(t *testing.T) {
	// 123456 falls outside the shared-integer range, so this is a
	// private object StringAppend may mutate directly.
	o := NewString([]byte("123456"))
	require.NoError(t, o.StringAppend([]byte("abc")))
	require.Equal(t, EncRaw, o.Encoding)
	b, err := o.StringBytes()
	require.NoError(t, err)
	require.Equal(t, "123456abc", string(b))
}

func TestIncrByOnNonIntegerFails(t *testing.T) {
	o := NewString([]byte("hello"))
	_, err := o.IncrBy(1)
	require.ErrorIs(t, err, ErrNotInteger)
}

func TestIncrByRoundTrip(t *testing.T) {
	// Outside the shared-integer range: IncrBy mutates in place, which
	// would corrupt the shared pool if applied to one of its members.
	o := NewString([]byte("100000"))
	v, err := o.IncrBy(5)
	require.NoError(t, err)
	require.Equal(t, int64(100005), v)
}

func TestWrongTypeOnStringOps(t *testing.T) {
	o := NewList()
	_, err := o.StringBytes()
	require.ErrorIs(t, err, ErrWrongType)
}

func TestSharedIntegerRefCounting(t *testing.T) {
	a, ok := SharedInteger(42)
	require.True(t, ok)
	b, ok := SharedInteger(42)
	require.True(t, ok)
	require.Same(t, a, b)
	require.True(t, a.IsShared())
	require.GreaterOrEqual(t, a.RefCount(), int32(2))

	_, ok = SharedInteger(-1)
	require.False(t, ok)
	_, ok = SharedInteger(sharedIntMax)
	require.False(t, ok)
}

func TestListConvertsToLargeOnEntryCount(t *testing.T) {
	o := NewList()
	limits := DefaultLimits()
	limits.ListMaxEntries = 3
	for i := 0; i < 5; i++ {
		require.NoError(t, o.ListPush([]byte("x"), false, limits))
	}
	require.Equal(t, EncLinkedList, o.Encoding)
	n, _ := o.ListLen()
	require.Equal(t, 5, n)
}

func TestListPushPopOrder(t *testing.T) {
	o := NewList()
	limits := DefaultLimits()
	require.NoError(t, o.ListPush([]byte("b"), false, limits))
	require.NoError(t, o.ListPush([]byte("a"), true, limits))
	require.NoError(t, o.ListPush([]byte("c"), false, limits))
	vals, err := o.ListRange(0, -1)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, vals)

	v, ok, err := o.ListPop(true)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", string(v))
}

func TestSetConvertsOnNonInteger(t *testing.T) {
	o := NewSet()
	limits := DefaultLimits()
	added, err := o.SetAdd([]byte("5"), limits)
	require.NoError(t, err)
	require.True(t, added)
	require.Equal(t, EncIntset, o.Encoding)

	added, err = o.SetAdd([]byte("hello"), limits)
	require.NoError(t, err)
	require.True(t, added)
	require.Equal(t, EncHashTable, o.Encoding)

	isMember, err := o.SetIsMember([]byte("5"))
	require.NoError(t, err)
	require.True(t, isMember)
}

func TestSetCardAndRemove(t *testing.T) {
	o := NewSet()
	limits := DefaultLimits()
	o.SetAdd([]byte("1"), limits)
	o.SetAdd([]byte("2"), limits)
	card, _ := o.SetCard()
	require.Equal(t, 2, card)
	removed, _ := o.SetRemove([]byte("1"))
	require.True(t, removed)
	card, _ = o.SetCard()
	require.Equal(t, 1, card)
}

func TestHashSetGetDel(t *testing.T) {
	o := NewHash()
	limits := DefaultLimits()
	isNew, err := o.HashSet([]byte("f1"), []byte("v1"), limits)
	require.NoError(t, err)
	require.True(t, isNew)

	isNew, err = o.HashSet([]byte("f1"), []byte("v2"), limits)
	require.NoError(t, err)
	require.False(t, isNew)

	v, ok, err := o.HashGet([]byte("f1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", string(v))

	n, _ := o.HashLen()
	require.Equal(t, 1, n)

	removed, err := o.HashDel([]byte("f1"))
	require.NoError(t, err)
	require.True(t, removed)
}

func TestHashConvertsOnEntryCount(t *testing.T) {
	o := NewHash()
	limits := DefaultLimits()
	limits.HashMaxEntries = 2
	o.HashSet([]byte("a"), []byte("1"), limits)
	o.HashSet([]byte("b"), []byte("2"), limits)
	o.HashSet([]byte("c"), []byte("3"), limits)
	require.Equal(t, EncHashTable, o.Encoding)
	n, _ := o.HashLen()
	require.Equal(t, 3, n)
}

func TestZSetAddScoreRank(t *testing.T) {
	o := NewZSet()
	limits := DefaultLimits()
	o.ZSetAdd([]byte("a"), 1, limits)
	o.ZSetAdd([]byte("b"), 2, limits)
	o.ZSetAdd([]byte("c"), 3, limits)

	score, ok, err := o.ZSetScore([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2.0, score)

	rank, ok, err := o.ZSetRank([]byte("c"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, rank)
}

func TestZSetConvertsOnEntryCount(t *testing.T) {
	o := NewZSet()
	limits := DefaultLimits()
	limits.ZSetMaxEntries = 2
	o.ZSetAdd([]byte("a"), 1, limits)
	o.ZSetAdd([]byte("b"), 2, limits)
	o.ZSetAdd([]byte("c"), 3, limits)
	require.Equal(t, EncSkipList, o.Encoding)
	card, _ := o.ZSetCard()
	require.Equal(t, 3, card)
}

func TestZSetIncrBy(t *testing.T) {
	o := NewZSet()
	limits := DefaultLimits()
	v, err := o.ZSetIncrBy([]byte("a"), 5, limits)
	require.NoError(t, err)
	require.Equal(t, 5.0, v)
	v, err = o.ZSetIncrBy([]byte("a"), 2, limits)
	require.NoError(t, err)
	require.Equal(t, 7.0, v)
}

func TestRefCounting(t *testing.T) {
	o := NewString([]byte("x"))
	require.Equal(t, int32(1), o.RefCount())
	o.IncrRef()
	require.Equal(t, int32(2), o.RefCount())
	require.False(t, o.DecrRef())
	require.True(t, o.DecrRef())
}

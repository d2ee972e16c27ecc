package keyspace

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kvdb/internal/object"
)

func newTestKeyspace(clock *int64) *Keyspace {
	return New(16, func() int64 { return *clock })
}

func TestInsertAndLookup(t *testing.T) {
	var clock int64
	ks := newTestKeyspace(&clock)
	require.NoError(t, ks.Insert(0, "a", object.NewString([]byte("1"))))
	v, ok := ks.LookupRead(0, "a")
	require.True(t, ok)
	b, _ := v.StringBytes()
	require.Equal(t, "1", string(b))
	require.Equal(t, uint64(1), ks.Hits())
}

func TestInsertFailsIfExists(t *testing.T) {
	var clock int64
	ks := newTestKeyspace(&clock)
	require.NoError(t, ks.Insert(0, "a", object.NewString([]byte("1"))))
	require.ErrorIs(t, ks.Insert(0, "a", object.NewString([]byte("2"))), ErrKeyExists)
}

func TestOverwriteRequiresExisting(t *testing.T) {
	var clock int64
	ks := newTestKeyspace(&clock)
	require.ErrorIs(t, ks.Overwrite(0, "missing", object.NewString([]byte("1"))), ErrNoKey)
	ks.Insert(0, "a", object.NewString([]byte("1")))
	require.NoError(t, ks.Overwrite(0, "a", object.NewString([]byte("2"))))
}

func TestLookupReadUpdatesHitMiss(t *testing.T) {
	var clock int64
	ks := newTestKeyspace(&clock)
	ks.LookupRead(0, "missing")
	require.Equal(t, uint64(1), ks.Misses())
	ks.Insert(0, "a", object.NewString([]byte("1")))
	ks.LookupRead(0, "a")
	require.Equal(t, uint64(1), ks.Hits())
}

func TestLookupWriteDoesNotAffectCounters(t *testing.T) {
	var clock int64
	ks := newTestKeyspace(&clock)
	ks.Insert(0, "a", object.NewString([]byte("1")))
	ks.LookupWrite(0, "a")
	require.Equal(t, uint64(0), ks.Hits())
	require.Equal(t, uint64(0), ks.Misses())
}

func TestLazyExpirationOnLookup(t *testing.T) {
	var clock int64
	ks := newTestKeyspace(&clock)
	ks.Insert(0, "a", object.NewString([]byte("1")))
	require.NoError(t, ks.SetExpiry(0, "a", 100))

	var expired []string
	ks.OnExpired = func(dbIndex int, key string) { expired = append(expired, key) }

	clock = 50
	_, ok := ks.LookupRead(0, "a")
	require.True(t, ok, "not yet expired")

	clock = 150
	_, ok = ks.LookupRead(0, "a")
	require.False(t, ok, "past deadline")
	require.Equal(t, []string{"a"}, expired)
}

func TestExpiryMapInvariant(t *testing.T) {
	var clock int64
	ks := newTestKeyspace(&clock)
	ks.Insert(0, "a", object.NewString([]byte("1")))
	ks.SetExpiry(0, "a", 100)
	ks.Delete(0, "a")
	_, ok := ks.GetExpiry(0, "a")
	require.False(t, ok, "expiry entry must not outlive the primary key")
}

func TestSetExpiryRequiresKey(t *testing.T) {
	var clock int64
	ks := newTestKeyspace(&clock)
	require.ErrorIs(t, ks.SetExpiry(0, "missing", 100), ErrNoKey)
}

func TestRemoveExpiry(t *testing.T) {
	var clock int64
	ks := newTestKeyspace(&clock)
	ks.Insert(0, "a", object.NewString([]byte("1")))
	ks.SetExpiry(0, "a", 100)
	had, err := ks.RemoveExpiry(0, "a")
	require.NoError(t, err)
	require.True(t, had)
	_, ok := ks.GetExpiry(0, "a")
	require.False(t, ok)
}

func TestWatchedKeySignal(t *testing.T) {
	var clock int64
	ks := newTestKeyspace(&clock)
	var touched []string
	ks.OnKeyTouched = func(dbIndex int, key string) { touched = append(touched, key) }
	ks.Insert(0, "a", object.NewString([]byte("1")))
	ks.Overwrite(0, "a", object.NewString([]byte("2")))
	ks.Delete(0, "a")
	require.Equal(t, []string{"a", "a", "a"}, touched)
}

func TestActiveExpireCycleRemovesDueKeys(t *testing.T) {
	var clock int64
	ks := newTestKeyspace(&clock)
	for i := 0; i < 5; i++ {
		key := string(rune('a' + i))
		ks.Insert(0, key, object.NewString([]byte("1")))
		ks.SetExpiry(0, key, 10)
	}
	clock = 100
	ks.ActiveExpireCycle()
	// Checked on the map directly: Exists alone would lazily expire the
	// keys even if the cycle had removed nothing.
	require.Empty(t, ks.dbs[0].data)
	for i := 0; i < 5; i++ {
		key := string(rune('a' + i))
		require.False(t, ks.Exists(0, key))
	}
}

func TestRandomKeySkipsExpired(t *testing.T) {
	var clock int64
	ks := newTestKeyspace(&clock)
	ks.Insert(0, "live", object.NewString([]byte("1")))
	ks.Insert(0, "dead", object.NewString([]byte("1")))
	ks.SetExpiry(0, "dead", 10)
	clock = 100
	k, ok := ks.RandomKey(0)
	require.True(t, ok)
	require.Equal(t, "live", k)
}

func TestFlushAndFlushAll(t *testing.T) {
	var clock int64
	ks := newTestKeyspace(&clock)
	ks.Insert(0, "a", object.NewString([]byte("1")))
	ks.Insert(1, "b", object.NewString([]byte("2")))
	ks.Flush(0)
	require.False(t, ks.Exists(0, "a"))
	require.True(t, ks.Exists(1, "b"))
	ks.FlushAll()
	require.False(t, ks.Exists(1, "b"))
}

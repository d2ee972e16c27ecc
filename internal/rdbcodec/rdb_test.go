package rdbcodec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"kvdb/internal/object"
)

func writeBytes(path string, b []byte) error { return os.WriteFile(path, b, 0644) }

func readBytes(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return b
}

func buildSample(limits object.Limits) []Database {
	str := object.NewString([]byte("bar"))

	list := object.NewList()
	list.ListPush([]byte("a"), false, limits)
	list.ListPush([]byte("b"), false, limits)
	list.ListPush([]byte("c"), false, limits)

	set := object.NewSet()
	set.SetAdd([]byte("1"), limits)
	set.SetAdd([]byte("2"), limits)
	set.SetAdd([]byte("three"), limits)

	hash := object.NewHash()
	hash.HashSet([]byte("f1"), []byte("v1"), limits)
	hash.HashSet([]byte("f2"), []byte("v2"), limits)

	zset := object.NewZSet()
	zset.ZSetAdd([]byte("a"), 1, limits)
	zset.ZSetAdd([]byte("b"), 2, limits)
	zset.ZSetAdd([]byte("c"), 3, limits)

	bigZset := object.NewZSet()
	for i := 0; i < 300; i++ {
		bigZset.ZSetAdd([]byte(memberName(i)), float64(i), limits)
	}

	return []Database{
		{
			Index: 0,
			Keys: map[string]*object.Object{
				"foo":  str,
				"l":    list,
				"s":    set,
				"h":    hash,
				"z":    zset,
				"bigz": bigZset,
			},
			Expires: map[string]int64{},
		},
	}
}

func memberName(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return string(letters[i%26]) + string(rune('0'+i/26))
}

// TestRoundTripPersistence verifies property 1: RDB_save then RDB_load
// reconstructs an equal keyspace.
func TestRoundTripPersistence(t *testing.T) {
	limits := object.DefaultLimits()
	path := filepath.Join(t.TempDir(), "dump.rdb")

	dbs := buildSample(limits)
	require.NoError(t, NewWriter(path).Save(dbs))

	loaded, err := NewReader(path).Load(0)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0].Keys
	require.Len(t, got, 6)

	b, err := got["foo"].StringBytes()
	require.NoError(t, err)
	require.Equal(t, "bar", string(b))

	items, err := got["l"].ListRange(0, -1)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, items)

	card, err := got["s"].SetCard()
	require.NoError(t, err)
	require.Equal(t, 3, card)

	hlen, err := got["h"].HashLen()
	require.NoError(t, err)
	require.Equal(t, 2, hlen)

	zcard, err := got["z"].ZSetCard()
	require.NoError(t, err)
	require.Equal(t, 3, zcard)

	// The 300-member zset must have round-tripped into the large
	// encoding, per the encoding-transition-monotonicity property.
	require.Equal(t, object.EncSkipList, got["bigz"].Encoding)
	bigCard, err := got["bigz"].ZSetCard()
	require.NoError(t, err)
	require.Equal(t, 300, bigCard)
}

// TestRoundTripSkipsExpiredKeys verifies the "modulo entries whose
// absolute expiration is in the past at load time" clause of property 1.
func TestRoundTripSkipsExpiredKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.rdb")
	dbs := []Database{
		{
			Index: 0,
			Keys: map[string]*object.Object{
				"alive":   object.NewString([]byte("x")),
				"expired": object.NewString([]byte("y")),
			},
			Expires: map[string]int64{
				"expired": 1000,
			},
		},
	}
	require.NoError(t, NewWriter(path).Save(dbs))

	loaded, err := NewReader(path).Load(5000)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	_, hasExpired := loaded[0].Keys["expired"]
	require.False(t, hasExpired)
	_, hasAlive := loaded[0].Keys["alive"]
	require.True(t, hasAlive)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.rdb")
	require.NoError(t, writeBytes(path, []byte("NOTREDIS0009\x00\x00\x00\x00\x00\x00\x00\x00")))
	_, err := NewReader(path).Load(0)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestLoadRejectsChecksumMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.rdb")
	dbs := []Database{{Index: 0, Keys: map[string]*object.Object{"a": object.NewString([]byte("1"))}, Expires: map[string]int64{}}}
	require.NoError(t, NewWriter(path).Save(dbs))

	raw := readBytes(t, path)
	raw[len(raw)-1] ^= 0xFF // corrupt one checksum byte
	require.NoError(t, writeBytes(path, raw))

	_, err := NewReader(path).Load(0)
	require.ErrorIs(t, err, ErrCorrupt)
}

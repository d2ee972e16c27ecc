package aoflog

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"kvdb/internal/object"
)

func TestRewriteCompactsAndMergesBufferedCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appendonly.aof")
	w, err := NewWriter(Config{Enabled: true, Filepath: path, SyncPolicy: SyncAlways}, nil)
	require.NoError(t, err)

	hash := object.NewHash()
	_, err = hash.HashSet([]byte("f1"), []byte("v1"), object.DefaultLimits())
	require.NoError(t, err)

	snapshot := []Database{
		{
			Index: 0,
			Keys: map[string]*object.Object{
				"foo": object.NewString([]byte("bar")),
				"h":   hash,
			},
			Expires: map[string]int64{},
		},
	}

	var flag int32
	var wg sync.WaitGroup
	wg.Add(1)
	started := w.Rewrite(&flag, snapshot, func(error) { wg.Done() })
	require.True(t, started)

	// A command executed while the rewrite goroutine runs must appear
	// in the rewrite buffer and survive into the compacted log.
	require.NoError(t, w.Append(0, []string{"SET", "concurrent", "1"}, 0))

	wg.Wait()
	require.NoError(t, w.maybeCompletePendingSwap())
	require.NoError(t, w.Close())

	var replayed [][]string
	err = Load(path, func(dbIndex int, args []string) error {
		replayed = append(replayed, args)
		return nil
	}, nil)
	require.NoError(t, err)

	require.Contains(t, replayed, []string{"SET", "foo", "bar"})
	require.Contains(t, replayed, []string{"HSET", "h", "f1", "v1"})
	require.Contains(t, replayed, []string{"SET", "concurrent", "1"})
	for _, rec := range replayed {
		require.NotEqual(t, "HMSET", rec[0], "HMSET is not a registered command; rewrite must emit HSET")
	}
}

package command

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"kvdb/internal/keyspace"
	"kvdb/internal/object"
)

// newTestContext returns a dispatch registry, a Context, and a pointer to
// that Context's clock; writing through the pointer advances the clock,
// letting expiry scenarios move time forward without a real sleep.
func newTestContext(now int64) (*Registry, *Context, *int64) {
	clock := new(int64)
	*clock = now
	nowFn := func() int64 { return *clock }
	ks := keyspace.New(16, nowFn)
	return NewRegistry(), &Context{KS: ks, NowMillis: nowFn, Limits: object.DefaultLimits()}, clock
}

func dispatch(t *testing.T, r *Registry, ctx *Context, args ...string) []byte {
	t.Helper()
	reply, _ := r.Dispatch(ctx, args)
	return reply
}

// TestSetIncrGetScenario exercises the spec's "SET foo 1" scenario.
func TestSetIncrGetScenario(t *testing.T) {
	r, ctx, _ := newTestContext(0)
	require.Equal(t, []byte("+OK\r\n"), dispatch(t, r, ctx, "SET", "foo", "1"))
	require.Equal(t, []byte(":2\r\n"), dispatch(t, r, ctx, "INCR", "foo"))
	require.Equal(t, []byte("$1\r\n2\r\n"), dispatch(t, r, ctx, "GET", "foo"))
}

// TestListPushPopScenario exercises the spec's "RPUSH L a b c" scenario.
func TestListPushPopScenario(t *testing.T) {
	r, ctx, _ := newTestContext(0)
	require.Equal(t, []byte(":3\r\n"), dispatch(t, r, ctx, "RPUSH", "L", "a", "b", "c"))
	require.Equal(t, []byte(":3\r\n"), dispatch(t, r, ctx, "LLEN", "L"))
	require.Equal(t, []byte("$1\r\na\r\n"), dispatch(t, r, ctx, "LPOP", "L"))
	require.Equal(t, []byte("$1\r\nc\r\n"), dispatch(t, r, ctx, "RPOP", "L"))
}

// TestExpireScenario exercises the spec's "SET k v EX 1" scenario, using
// the Context's overridable clock instead of sleeping.
func TestExpireScenario(t *testing.T) {
	r, ctx, clock := newTestContext(0)
	require.Equal(t, []byte("+OK\r\n"), dispatch(t, r, ctx, "SET", "k", "v", "EX", "1"))
	*clock = 1100

	require.Equal(t, []byte("$-1\r\n"), dispatch(t, r, ctx, "GET", "k"))
	require.Equal(t, []byte(":0\r\n"), dispatch(t, r, ctx, "EXISTS", "k"))
}

// TestZAddRangeScenario exercises the spec's literal
// "ZRANGE z 0 -1 WITHSCORES" scenario, including the 300-member
// encoding-transition trigger.
func TestZAddRangeScenario(t *testing.T) {
	r, ctx, _ := newTestContext(0)
	require.Equal(t, []byte(":3\r\n"), dispatch(t, r, ctx, "ZADD", "z", "1", "a", "2", "b", "3", "c"))

	for i := 0; i < 300; i++ {
		dispatch(t, r, ctx, "ZADD", "z", "10", memberAt(i))
	}

	reply := dispatch(t, r, ctx, "ZRANGE", "z", "0", "-1", "WITHSCORES")
	s := string(reply)
	require.Contains(t, s, "a")
	require.Contains(t, s, "c")
	// members interleaved with scores: "a" is lowest-scored, so it
	// appears immediately followed by its score bulk string.
	require.Regexp(t, `\$1\r\na\r\n\$1\r\n1\r\n`, s)
	require.True(t, strings.Index(s, "\r\na\r\n") < strings.Index(s, "\r\nc\r\n"))
}

func memberAt(i int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	return "m" + string(letters[i%len(letters)]) + string(letters[i/len(letters)])
}

func TestUnknownCommand(t *testing.T) {
	r, ctx, _ := newTestContext(0)
	reply, isWrite := r.Dispatch(ctx, []string{"NOPE"})
	require.False(t, isWrite)
	require.Contains(t, string(reply), "unknown command")
}

func TestWrongArity(t *testing.T) {
	r, ctx, _ := newTestContext(0)
	reply, _ := r.Dispatch(ctx, []string{"GET"})
	require.Contains(t, string(reply), "wrong number of arguments")
}

func TestHashAndSetRoundTrip(t *testing.T) {
	r, ctx, _ := newTestContext(0)
	require.Equal(t, []byte(":2\r\n"), dispatch(t, r, ctx, "HSET", "h", "f1", "v1", "f2", "v2"))
	require.Equal(t, []byte("$2\r\nv1\r\n"), dispatch(t, r, ctx, "HGET", "h", "f1"))

	require.Equal(t, []byte(":2\r\n"), dispatch(t, r, ctx, "SADD", "s", "x", "y"))
	require.Equal(t, []byte(":1\r\n"), dispatch(t, r, ctx, "SISMEMBER", "s", "x"))
	require.Equal(t, []byte(":0\r\n"), dispatch(t, r, ctx, "SISMEMBER", "s", "z"))
}

func TestDispatchReportsIsWrite(t *testing.T) {
	r, ctx, _ := newTestContext(0)
	_, isWrite := r.Dispatch(ctx, []string{"SET", "k", "v"})
	require.True(t, isWrite)
	_, isWrite = r.Dispatch(ctx, []string{"GET", "k"})
	require.False(t, isWrite)
}

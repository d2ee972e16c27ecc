package proto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteUsesStaticBufferWhenEmpty(t *testing.T) {
	ob := NewOutputBuffer(OutputLimits{})
	require.NoError(t, ob.Write(EncodeSimpleString("OK")))
	require.Equal(t, 0, ob.chunks.Len())

	var out bytes.Buffer
	n, err := ob.WriteTo(&out)
	require.NoError(t, err)
	require.Equal(t, "+OK\r\n", out.String())
	require.Equal(t, len("+OK\r\n"), n)
	require.True(t, ob.Empty())
}

func TestWriteSpillsToChunkWhenStaticFull(t *testing.T) {
	ob := NewOutputBuffer(OutputLimits{})
	big := bytes.Repeat([]byte("a"), ReplyChunkBytes)
	require.NoError(t, ob.Write(big))
	require.NoError(t, ob.Write([]byte("overflow")))
	require.Equal(t, 1, ob.chunks.Len())

	var out bytes.Buffer
	for !ob.Empty() {
		_, err := ob.WriteTo(&out)
		require.NoError(t, err)
	}
	require.Equal(t, string(big)+"overflow", out.String())
}

func TestWriteMergesSmallChunksIntoTail(t *testing.T) {
	ob := NewOutputBuffer(OutputLimits{})
	big := bytes.Repeat([]byte("a"), ReplyChunkBytes)
	require.NoError(t, ob.Write(big))
	require.NoError(t, ob.Write([]byte("x")))
	require.NoError(t, ob.Write([]byte("y")))
	require.Equal(t, 1, ob.chunks.Len(), "small writes should merge into the same tail chunk")
}

func TestDeferredLengthGluesToFollowingChunk(t *testing.T) {
	ob := NewOutputBuffer(OutputLimits{})
	big := bytes.Repeat([]byte("a"), ReplyChunkBytes)
	require.NoError(t, ob.Write(big)) // force spill so DeferLength lands in chunks

	handle := ob.DeferLength()
	require.NoError(t, ob.Write([]byte("$3\r\nfoo\r\n")))
	ob.SetDeferredLength(handle, 1)

	require.Equal(t, 1, ob.chunks.Len(), "deferred header must glue into the data that follows")

	var out bytes.Buffer
	for !ob.Empty() {
		_, err := ob.WriteTo(&out)
		require.NoError(t, err)
	}
	require.Equal(t, string(big)+"*1\r\n$3\r\nfoo\r\n", out.String())
}

func TestHardLimitTripsErrBufferLimitExceeded(t *testing.T) {
	ob := NewOutputBuffer(OutputLimits{HardLimitBytes: 10})
	big := bytes.Repeat([]byte("a"), ReplyChunkBytes)
	require.NoError(t, ob.Write(big)) // still fits in static buffer, not counted in MemoryUsage
	err := ob.Write(bytes.Repeat([]byte("b"), 20))
	require.ErrorIs(t, err, ErrBufferLimitExceeded)
	require.True(t, ob.ShouldClose())
}

func TestSoftLimitGraceBeforeTripping(t *testing.T) {
	var clock int64
	ob := NewOutputBuffer(OutputLimits{SoftLimitBytes: 5, SoftLimitSeconds: 10})
	ob.NowUnix = func() int64 { return clock }

	big := bytes.Repeat([]byte("a"), ReplyChunkBytes)
	require.NoError(t, ob.Write(big))

	err := ob.Write(bytes.Repeat([]byte("b"), 20))
	require.NoError(t, err, "soft limit must not trip immediately")

	clock = 20
	err = ob.Write([]byte("c"))
	require.ErrorIs(t, err, ErrBufferLimitExceeded)
}

func TestWriteToPartialWriteAdvancesOffset(t *testing.T) {
	ob := NewOutputBuffer(OutputLimits{})
	require.NoError(t, ob.Write([]byte("hello world")))

	lw := &limitedWriter{limit: 5}
	n, err := ob.WriteTo(lw)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.False(t, ob.Empty())

	var out bytes.Buffer
	out.Write(lw.written)
	_, err = ob.WriteTo(&out)
	require.NoError(t, err)
	require.True(t, ob.Empty())
	require.Equal(t, "hello world", out.String())
}

type limitedWriter struct {
	limit   int
	written []byte
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if n > w.limit {
		n = w.limit
	}
	w.written = append(w.written, p[:n]...)
	return n, nil
}

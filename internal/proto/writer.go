package proto

import (
	"container/list"
	"fmt"
	"io"
	"strconv"
)

// ReplyChunkBytes is the size of both the static reply buffer and the
// merge target for spilled chunks.
const ReplyChunkBytes = 16 * 1024

// node is one entry of the spill list. A nil buf with deferred set to
// true is a placeholder awaiting SetDeferredLength, used to write a
// multi-bulk count before its elements have been formatted.
type node struct {
	buf      []byte
	deferred bool
}

// OutputLimits mirrors the soft/hard output buffer limit pair: hard is
// an absolute ceiling, soft is tolerated for up to softSeconds before
// being treated as exceeded too.
type OutputLimits struct {
	SoftLimitBytes   int
	HardLimitBytes   int
	SoftLimitSeconds int64
}

// OutputBuffer accumulates reply bytes for one client: a small fixed
// buffer for the common case where replies are short and arrive one at
// a time, spilling into a linked list of larger chunks once the static
// buffer or an in-flight list exists. WriteTo drains both in order.
type OutputBuffer struct {
	static    [ReplyChunkBytes]byte
	staticLen int
	staticOff int // bytes of static already written out

	chunks *list.List // of *node

	bytes int // total bytes held in chunks (not static)

	limits       OutputLimits
	softSince    int64
	softOver     bool // usage has been above the soft limit since softSince
	closeOnEmpty bool

	// NowUnix returns the current unix time in seconds, used for the
	// soft-limit grace period. Overridable for deterministic tests.
	NowUnix func() int64
}

// NewOutputBuffer creates an empty buffer enforcing the given limits.
func NewOutputBuffer(limits OutputLimits) *OutputBuffer {
	return &OutputBuffer{chunks: list.New(), limits: limits}
}

// Empty reports whether there is nothing left to send.
func (ob *OutputBuffer) Empty() bool {
	return ob.staticLen == ob.staticOff && ob.chunks.Len() == 0
}

// MemoryUsage approximates the bytes an external accounting pass (e.g.
// CLIENT LIST) would attribute to this client's output buffer: the
// spilled chunk bytes plus one node's worth of overhead per chunk.
func (ob *OutputBuffer) MemoryUsage() int {
	const nodeOverhead = 64
	return ob.bytes + nodeOverhead*ob.chunks.Len()
}

// Write appends b to the buffer, preferring the static buffer when the
// chunk list is still empty and b fits, then merging into the tail
// chunk when it fits within ReplyChunkBytes, and otherwise appending a
// new chunk. It returns ErrBufferLimitExceeded once appending pushes
// MemoryUsage past the hard limit, or past the soft limit for longer
// than SoftLimitSeconds.
func (ob *OutputBuffer) Write(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if ob.chunks.Len() == 0 {
		if free := len(ob.static) - ob.staticLen; len(b) <= free {
			copy(ob.static[ob.staticLen:], b)
			ob.staticLen += len(b)
			return ob.checkLimits()
		}
	}
	ob.appendChunk(b)
	return ob.checkLimits()
}

// WriteString is a convenience wrapper around Write.
func (ob *OutputBuffer) WriteString(s string) error {
	return ob.Write([]byte(s))
}

func (ob *OutputBuffer) appendChunk(b []byte) {
	if back := ob.chunks.Back(); back != nil {
		tail := back.Value.(*node)
		if !tail.deferred && len(tail.buf)+len(b) <= ReplyChunkBytes {
			tail.buf = append(tail.buf, b...)
			ob.bytes += len(b)
			return
		}
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	ob.chunks.PushBack(&node{buf: cp})
	ob.bytes += len(cp)
}

// DeferLength reserves a placeholder chunk for a multi-bulk count whose
// final element count is not yet known (e.g. streaming a set's members),
// returning a handle for SetDeferredLength.
func (ob *OutputBuffer) DeferLength() *list.Element {
	return ob.chunks.PushBack(&node{deferred: true})
}

// SetDeferredLength fills in the placeholder created by DeferLength
// with a "*<count>\r\n" multi-bulk header, then glues it to the
// immediately following chunk if one already exists, matching the
// upstream behavior of collapsing a length header into the data that
// follows it when both are already buffered.
func (ob *OutputBuffer) SetDeferredLength(handle *list.Element, count int) {
	n := handle.Value.(*node)
	n.buf = []byte(fmt.Sprintf("*%d\r\n", count))
	n.deferred = false
	ob.bytes += len(n.buf)

	next := handle.Next()
	if next == nil {
		return
	}
	nn := next.Value.(*node)
	if nn.deferred {
		return
	}
	n.buf = append(n.buf, nn.buf...)
	ob.chunks.Remove(next)
}

// WriteTo writes pending bytes to w in order (the static buffer, then
// chunks), advancing internal offsets by however much w accepted. It
// keeps writing chunks until the buffer is empty, and stops early at an
// error, at a write that leaves part of the static buffer unsent, at a
// chunk write that accepts nothing, or at a placeholder still awaiting
// SetDeferredLength. With a non-blocking fd driven by an event loop's
// writable event, call it again once the fd is writable again.
func (ob *OutputBuffer) WriteTo(w io.Writer) (int, error) {
	total := 0
	if ob.staticOff < ob.staticLen {
		n, err := w.Write(ob.static[ob.staticOff:ob.staticLen])
		ob.staticOff += n
		total += n
		if ob.staticOff == ob.staticLen {
			ob.staticLen, ob.staticOff = 0, 0
		}
		if err != nil {
			return total, err
		}
		if ob.staticOff < ob.staticLen {
			return total, nil
		}
	}
	for ob.chunks.Len() > 0 {
		front := ob.chunks.Front()
		n := front.Value.(*node)
		if n.deferred {
			// A placeholder still awaiting SetDeferredLength blocks
			// further draining; the caller must fill it in first.
			break
		}
		nn, err := w.Write(n.buf)
		total += nn
		ob.bytes -= nn
		n.buf = n.buf[nn:]
		if len(n.buf) == 0 {
			ob.chunks.Remove(front)
		}
		if err != nil {
			return total, err
		}
		if nn == 0 {
			break
		}
	}
	return total, nil
}

func (ob *OutputBuffer) checkLimits() error {
	usage := ob.MemoryUsage()
	hard := ob.limits.HardLimitBytes > 0 && usage > ob.limits.HardLimitBytes
	soft := ob.limits.SoftLimitBytes > 0 && usage > ob.limits.SoftLimitBytes

	if !soft {
		ob.softOver = false
	} else if !ob.softOver {
		ob.softOver = true
		ob.softSince = ob.now()
		soft = false
	} else if ob.now()-ob.softSince <= ob.limits.SoftLimitSeconds {
		soft = false
	}

	if hard || soft {
		ob.closeOnEmpty = true
		return ErrBufferLimitExceeded
	}
	return nil
}

// ShouldClose reports whether a prior Write tripped the output buffer
// limit, in which case the server should close the connection once the
// pending bytes have been flushed.
func (ob *OutputBuffer) ShouldClose() bool { return ob.closeOnEmpty }

func (ob *OutputBuffer) now() int64 {
	if ob.NowUnix != nil {
		return ob.NowUnix()
	}
	return 0
}

// FormatBulkHeader renders a "$<len>\r\n" bulk string header, a helper
// shared by command reply encoders outside this package.
func FormatBulkHeader(n int) string {
	return "$" + strconv.Itoa(n) + "\r\n"
}

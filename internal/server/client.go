package server

import (
	"kvdb/internal/proto"
)

// client is one connected socket's per-connection state. Everything here
// is touched only from the event-loop goroutine (§5's single-owner
// invariant): reads and writes happen from AddFileEvent callbacks, never
// from a background goroutine.
type client struct {
	fd int
	db int

	readBuf []byte
	out     *proto.OutputBuffer

	closing bool
}

func newClient(fd int, outLimits proto.OutputLimits) *client {
	return &client{fd: fd, out: proto.NewOutputBuffer(outLimits)}
}

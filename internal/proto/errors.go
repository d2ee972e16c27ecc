package proto

import "errors"

var (
	// ErrProtocol is returned when the client sent bytes that do not form
	// a well-formed inline or multi-bulk request.
	ErrProtocol = errors.New("protocol error")
	// ErrBufferLimitExceeded is returned when a client's accumulated
	// output buffer has exceeded its hard limit, or has sat above its
	// soft limit for longer than the configured grace period.
	ErrBufferLimitExceeded = errors.New("client output buffer limit exceeded")
)

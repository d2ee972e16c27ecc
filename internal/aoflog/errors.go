package aoflog

import "errors"

var (
	// ErrShortWrite is returned by Flush when the write syscall accepted
	// fewer bytes than requested; the writer truncates the file back to
	// its last known good size before returning this, per §7's recovery
	// rule. The caller's process should still treat this as abnormal —
	// any command acknowledged before the truncation is no longer durable.
	ErrShortWrite = errors.New("aoflog: short write, AOF truncated to last known good size")

	// ErrTruncateFailed is returned instead of ErrShortWrite when the
	// recovery truncate itself fails: the log is unrecoverable and the
	// process should exit, per §7.
	ErrTruncateFailed = errors.New("aoflog: truncate after short write failed, log is unrecoverable")

	// ErrFormat is returned by Load on a malformed or unreadable record;
	// startup must not proceed from a partially replayed log.
	ErrFormat = errors.New("aoflog: malformed record")
)

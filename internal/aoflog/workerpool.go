package aoflog

import (
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type jobKind int

const (
	jobFsync jobKind = iota
	jobClose
)

type job struct {
	kind jobKind
	fd   *os.File
	done func(error)
}

// WorkerPool is the small fixed-size pool of background I/O threads that
// perform exactly two job kinds per §5: fsync(fd) and close(fd). Each
// kind has its own pending-job counter the main thread samples to
// decide whether a synchronous flush must be postponed.
type WorkerPool struct {
	jobs chan job

	pendingFsync int64
	pendingClose int64

	// limiter bounds how often a new fsync job may be submitted,
	// independent of the in-flight check, so a very fast disk still
	// can't be driven to fsync on every single event-loop iteration.
	limiter *rate.Limiter
}

// NewWorkerPool starts size background worker goroutines draining a
// shared job queue.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	wp := &WorkerPool{
		jobs:    make(chan job, 256),
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	for i := 0; i < size; i++ {
		go wp.loop()
	}
	return wp
}

func (wp *WorkerPool) loop() {
	for j := range wp.jobs {
		switch j.kind {
		case jobFsync:
			err := j.fd.Sync()
			atomic.AddInt64(&wp.pendingFsync, -1)
			if j.done != nil {
				j.done(err)
			}
		case jobClose:
			err := j.fd.Close()
			atomic.AddInt64(&wp.pendingClose, -1)
			if j.done != nil {
				j.done(err)
			}
		}
	}
}

// SubmitFsync enqueues an fsync job, reporting whether it was actually
// submitted (false if the rate limiter rejects it — the caller should
// treat that the same as "already in flight" and retry next tick).
func (wp *WorkerPool) SubmitFsync(fd *os.File, done func(error)) bool {
	if !wp.limiter.Allow() {
		return false
	}
	atomic.AddInt64(&wp.pendingFsync, 1)
	wp.jobs <- job{kind: jobFsync, fd: fd, done: done}
	return true
}

// SubmitClose enqueues a close job for a file descriptor the caller no
// longer needs (e.g. the AOF's old fd after a rewrite swap, or a
// client scheduled for async-close per §4.4).
func (wp *WorkerPool) SubmitClose(fd *os.File, done func(error)) {
	atomic.AddInt64(&wp.pendingClose, 1)
	wp.jobs <- job{kind: jobClose, fd: fd, done: done}
}

// PendingFsync reports the number of fsync jobs queued or running.
func (wp *WorkerPool) PendingFsync() int64 { return atomic.LoadInt64(&wp.pendingFsync) }

// PendingClose reports the number of close jobs queued or running.
func (wp *WorkerPool) PendingClose() int64 { return atomic.LoadInt64(&wp.pendingClose) }

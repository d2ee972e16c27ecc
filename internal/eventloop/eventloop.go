// Package eventloop implements the single-threaded cooperative scheduler
// that multiplexes client file descriptors and timer-driven maintenance:
// one epoll_wait call per iteration, a before-sleep hook, and explicit
// clock-skew handling, mirroring the core's single-threaded command
// ordering invariant.
package eventloop

import (
	"container/list"
	"reflect"
	"sort"
	"time"

	"golang.org/x/sys/unix"
)

// Mask selects which I/O readiness a file event handler cares about.
type Mask uint8

const (
	Readable Mask = 1 << iota
	Writable
)

// FileHandler is invoked when fd becomes ready per its registered mask.
type FileHandler func(el *EventLoop, fd int, mask Mask)

// TimeResult is returned by a TimeHandler to say whether the event
// should be removed or rescheduled after the given number of
// milliseconds.
type TimeResult struct {
	Remove            bool
	RescheduleAfterMs int64
}

// TimeHandler is invoked once a time event's deadline has passed.
type TimeHandler func(el *EventLoop, id int64) TimeResult

type fileEvent struct {
	fd      int
	mask    Mask
	onRead  FileHandler
	onWrite FileHandler
}

type timeEvent struct {
	id       int64
	deadline int64 // epoch ms
	handler  TimeHandler
}

// EventLoop is a single-threaded, epoll-backed scheduler. All methods
// except Stop must only be called from the goroutine running Run, since
// that goroutine is the engine's single owner of keyspace/object state.
type EventLoop struct {
	epfd int

	files map[int]*fileEvent
	times *list.List // of *timeEvent, kept sorted by deadline

	nextTimeID int64
	lastNowMs  int64

	beforeSleep func(el *EventLoop)

	stopped bool

	// NowMillis returns the current wall-clock time in epoch
	// milliseconds; overridable for deterministic tests.
	NowMillis func() int64
}

// New creates an EventLoop backed by a fresh epoll instance.
func New() (*EventLoop, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &EventLoop{
		epfd:      epfd,
		files:     make(map[int]*fileEvent),
		times:     list.New(),
		NowMillis: func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Close releases the underlying epoll file descriptor.
func (el *EventLoop) Close() error {
	return unix.Close(el.epfd)
}

// SetBeforeSleep installs the hook run once per iteration, after
// handlers from the previous iteration finish and before the blocking
// readiness call. This is where an AOF buffer flush and draining
// unblocked clients belongs.
func (el *EventLoop) SetBeforeSleep(fn func(el *EventLoop)) {
	el.beforeSleep = fn
}

func epollEvents(mask Mask) uint32 {
	var events uint32
	if mask&Readable != 0 {
		events |= unix.EPOLLIN
	}
	if mask&Writable != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

// AddFileEvent registers (or updates) handlers for fd. mask determines
// which readiness classes are requested; onRead/onWrite may be the same
// function, in which case exactly one call fires per readiness even when
// both masks are signaled, guarding against double dispatch.
func (el *EventLoop) AddFileEvent(fd int, mask Mask, onRead, onWrite FileHandler) error {
	fe, exists := el.files[fd]
	ev := unix.EpollEvent{Fd: int32(fd)}
	if !exists {
		fe = &fileEvent{fd: fd}
		el.files[fd] = fe
		fe.mask = mask
		fe.onRead, fe.onWrite = onRead, onWrite
		ev.Events = epollEvents(fe.mask)
		return unix.EpollCtl(el.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	}
	fe.mask |= mask
	if onRead != nil {
		fe.onRead = onRead
	}
	if onWrite != nil {
		fe.onWrite = onWrite
	}
	ev.Events = epollEvents(fe.mask)
	return unix.EpollCtl(el.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// RemoveFileEvent unregisters mask from fd, fully deregistering the fd
// from epoll once no mask bits remain.
func (el *EventLoop) RemoveFileEvent(fd int, mask Mask) error {
	fe, exists := el.files[fd]
	if !exists {
		return nil
	}
	fe.mask &^= mask
	if fe.mask == 0 {
		delete(el.files, fd)
		return unix.EpollCtl(el.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	ev := unix.EpollEvent{Fd: int32(fd), Events: epollEvents(fe.mask)}
	return unix.EpollCtl(el.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// AddTimeEvent schedules handler to run after afterMs milliseconds,
// returning an id usable with RemoveTimeEvent.
func (el *EventLoop) AddTimeEvent(afterMs int64, handler TimeHandler) int64 {
	el.nextTimeID++
	te := &timeEvent{id: el.nextTimeID, deadline: el.now() + afterMs, handler: handler}
	el.insertTimeEvent(te)
	return te.id
}

func (el *EventLoop) insertTimeEvent(te *timeEvent) {
	for e := el.times.Front(); e != nil; e = e.Next() {
		if e.Value.(*timeEvent).deadline > te.deadline {
			el.times.InsertBefore(te, e)
			return
		}
	}
	el.times.PushBack(te)
}

// RemoveTimeEvent cancels a pending time event, reporting whether it was
// found.
func (el *EventLoop) RemoveTimeEvent(id int64) bool {
	for e := el.times.Front(); e != nil; e = e.Next() {
		if e.Value.(*timeEvent).id == id {
			el.times.Remove(e)
			return true
		}
	}
	return false
}

func (el *EventLoop) now() int64 {
	if el.NowMillis != nil {
		return el.NowMillis()
	}
	return time.Now().UnixMilli()
}

// Stop requests that Run return after the current iteration completes.
func (el *EventLoop) Stop() { el.stopped = true }

// nearestDeadline returns the nearest time event's deadline and whether
// one exists.
func (el *EventLoop) nearestDeadline() (int64, bool) {
	if el.times.Len() == 0 {
		return 0, false
	}
	return el.times.Front().Value.(*timeEvent).deadline, true
}

// Run drives the loop until Stop is called. Each iteration: invoke the
// before-sleep hook, compute the wait budget from the nearest time
// event, block in epoll_wait for at most that budget, dispatch ready
// file events, then process due time events.
func (el *EventLoop) Run() error {
	for !el.stopped {
		if err := el.iterate(-1); err != nil {
			return err
		}
	}
	return nil
}

// ProcessEventsOnce runs a single iteration without blocking (waitMs=0),
// used by the AOF loader to pump the loop ("FILE_EVENTS | DONT_WAIT")
// every 1000 records during a long replay so new connections are
// accepted without yet executing their commands.
func (el *EventLoop) ProcessEventsOnce() error {
	return el.iterate(0)
}

func (el *EventLoop) iterate(forceWaitMs int) error {
	if el.beforeSleep != nil {
		el.beforeSleep(el)
	}

	nowBefore := el.now()
	el.handleClockSkew(nowBefore)

	waitMs := forceWaitMs
	if waitMs < 0 {
		if deadline, ok := el.nearestDeadline(); ok {
			waitMs = int(deadline - nowBefore)
			if waitMs < 0 {
				waitMs = 0
			}
		} else {
			waitMs = -1 // block indefinitely
		}
	}

	events := make([]unix.EpollEvent, 64)
	n, err := unix.EpollWait(el.epfd, events, waitMs)
	if err != nil {
		if err == unix.EINTR {
			n = 0
		} else {
			return err
		}
	}

	for i := 0; i < n; i++ {
		fd := int(events[i].Fd)
		fe, exists := el.files[fd]
		if !exists {
			continue
		}
		readable := events[i].Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0
		writable := events[i].Events&unix.EPOLLOUT != 0
		sameHandler := fe.onRead != nil && fe.onWrite != nil &&
			sameFunc(fe.onRead, fe.onWrite)

		if readable && fe.onRead != nil {
			fe.onRead(el, fd, Readable)
		}
		if writable && fe.onWrite != nil && !(sameHandler && readable) {
			fe.onWrite(el, fd, Writable)
		}
	}

	el.lastNowMs = el.now()
	el.processDueTimeEvents()
	return nil
}

// handleClockSkew marks every time event immediately due when the wall
// clock has moved backward since the previous tick: firing early is
// always safer than an indefinite delay.
func (el *EventLoop) handleClockSkew(now int64) {
	if el.lastNowMs != 0 && now < el.lastNowMs {
		for e := el.times.Front(); e != nil; e = e.Next() {
			e.Value.(*timeEvent).deadline = now
		}
	}
}

func (el *EventLoop) processDueTimeEvents() {
	now := el.now()
	var due []*list.Element
	for e := el.times.Front(); e != nil; e = e.Next() {
		if e.Value.(*timeEvent).deadline > now {
			break
		}
		due = append(due, e)
	}
	// Sort defensively: clock-skew handling can make several deadlines
	// collide at the same instant without disturbing list order.
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].Value.(*timeEvent).deadline < due[j].Value.(*timeEvent).deadline
	})
	for _, e := range due {
		te := e.Value.(*timeEvent)
		el.times.Remove(e)
		result := te.handler(el, te.id)
		if !result.Remove {
			te.deadline = el.now() + result.RescheduleAfterMs
			el.insertTimeEvent(te)
		}
	}
}

// sameFunc reports whether two FileHandler values refer to the same
// function, used to guard against double-dispatch when a single handler
// is registered for both readability and writability.
func sameFunc(a, b FileHandler) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

// Package server wires the core engine (keyspace, command dispatch,
// RDB/AOF persistence) onto the epoll event loop, the process-level
// assembly the teacher's RedisServer performs with net.Listener and a
// goroutine per connection (REDESIGN FLAG 1 replaces that model here).
package server

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"kvdb/internal/aoflog"
	"kvdb/internal/command"
	"kvdb/internal/eventloop"
	"kvdb/internal/keyspace"
	"kvdb/internal/object"
	"kvdb/internal/proto"
	"kvdb/internal/rdbcodec"
)

// Server owns every piece of process-wide state and is the single
// caller of the event loop's Run method; every mutation of ks, clients,
// or the persistence writers happens from that one goroutine.
type Server struct {
	cfg *Config
	log *zap.Logger

	ks       *keyspace.Keyspace
	registry *command.Registry

	el       *eventloop.EventLoop
	listenFD int
	clients  map[int]*client

	aof  *aoflog.Writer
	pool *aoflog.WorkerPool

	rdb *rdbcodec.Writer

	rewriteFlag int32
	saveFlag    int32

	dirtyAtLastSave uint64
	lastSaveUnix    int64
}

// New assembles a Server from cfg: opens (but does not load) the AOF
// writer, builds the command registry, wires SAVE/BGSAVE/BGREWRITEAOF to
// this server's persistence writers, and loads whichever persistence
// file is configured to win at startup (AOF, falling back to RDB).
func New(cfg *Config, log *zap.Logger) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	el, err := eventloop.New()
	if err != nil {
		return nil, fmt.Errorf("server: event loop: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		log:      log,
		ks:       keyspace.New(cfg.NumDBs, func() int64 { return time.Now().UnixMilli() }),
		registry: command.NewRegistry(),
		el:       el,
		clients:  make(map[int]*client),
		rdb:      rdbcodec.NewWriter(cfg.RDBFilepath),
	}

	s.pool = aoflog.NewWorkerPool(cfg.AOFWorkers)
	aofWriter, err := aoflog.NewWriter(cfg.AOF, s.pool)
	if err != nil {
		return nil, fmt.Errorf("server: aof: %w", err)
	}
	s.aof = aofWriter

	s.ks.OnExpired = func(dbIndex int, key string) {
		if err := s.aof.Append(dbIndex, []string{"DEL", key}, s.nowMillis()); err != nil {
			s.log.Error("aof append failed", zap.Error(err))
		}
	}

	s.registry.Override("SAVE", s.procSave)
	s.registry.Override("BGSAVE", s.procBGSave)
	s.registry.Override("BGREWRITEAOF", s.procBGRewriteAOF)

	s.el.SetBeforeSleep(s.beforeSleep)

	if err := s.loadPersistence(); err != nil {
		return nil, err
	}
	s.lastSaveUnix = time.Now().Unix()

	return s, nil
}

func (s *Server) nowMillis() int64 { return time.Now().UnixMilli() }

// loadPersistence replays the AOF if enabled, else loads the RDB file,
// matching the teacher's "AOF takes priority, fallback to RDB" startup
// rule.
func (s *Server) loadPersistence() error {
	if s.cfg.AOF.Enabled {
		ctx := &command.Context{KS: s.ks, Limits: object.DefaultLimits(), NowMillis: s.nowMillis}
		err := aoflog.Load(s.cfg.AOF.Filepath, func(dbIndex int, args []string) error {
			ctx.DB = dbIndex
			_, _ = s.registry.Dispatch(ctx, args)
			return nil
		}, func() { s.el.ProcessEventsOnce() })
		if err != nil {
			return fmt.Errorf("server: aof load: %w", err)
		}
		s.log.Info("loaded AOF", zap.String("path", s.cfg.AOF.Filepath))
		return nil
	}

	reader := rdbcodec.NewReader(s.cfg.RDBFilepath)
	dbsLoaded, err := reader.Load(s.nowMillis())
	if err != nil {
		return fmt.Errorf("server: rdb load: %w", err)
	}
	for _, db := range dbsLoaded {
		for key, val := range db.Keys {
			s.ks.Set(db.Index, key, val)
			if deadline, ok := db.Expires[key]; ok {
				s.ks.SetExpiry(db.Index, key, deadline)
			}
		}
	}
	s.log.Info("loaded RDB", zap.String("path", s.cfg.RDBFilepath), zap.Int("databases", len(dbsLoaded)))
	return nil
}

// Listen opens the TCP listening socket and registers it with the event
// loop. Built on raw fds via golang.org/x/sys/unix rather than
// net.Listener so the fd can be driven by epoll directly (REDESIGN FLAG 1).
func (s *Server) Listen() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("server: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("server: setsockopt: %w", err)
	}

	addr, err := resolveIPv4(s.cfg.Host)
	if err != nil {
		unix.Close(fd)
		return err
	}
	sa := &unix.SockaddrInet4{Port: s.cfg.Port, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return fmt.Errorf("server: bind: %w", err)
	}
	if err := unix.Listen(fd, 511); err != nil {
		unix.Close(fd)
		return fmt.Errorf("server: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("server: nonblock: %w", err)
	}

	s.listenFD = fd
	if err := s.el.AddFileEvent(fd, eventloop.Readable, s.onAcceptable, nil); err != nil {
		return fmt.Errorf("server: register listener: %w", err)
	}
	s.log.Info("listening", zap.String("host", s.cfg.Host), zap.Int("port", s.cfg.Port))
	return nil
}

func resolveIPv4(host string) ([4]byte, error) {
	var out [4]byte
	ip := net.ParseIP(host)
	if ip == nil {
		if host == "" || host == "0.0.0.0" {
			return out, nil
		}
		return out, fmt.Errorf("server: invalid host %q", host)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return out, fmt.Errorf("server: host %q is not IPv4", host)
	}
	copy(out[:], ip4)
	return out, nil
}

func (s *Server) onAcceptable(el *eventloop.EventLoop, fd int, mask eventloop.Mask) {
	for {
		connFD, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				return
			}
			s.log.Warn("accept failed", zap.Error(err))
			return
		}
		c := newClient(connFD, proto.OutputLimits{})
		s.clients[connFD] = c
		if err := el.AddFileEvent(connFD, eventloop.Readable, s.onReadable, nil); err != nil {
			s.log.Warn("register client failed", zap.Error(err))
			unix.Close(connFD)
			delete(s.clients, connFD)
		}
	}
}

const readChunkSize = 16 * 1024

func (s *Server) onReadable(el *eventloop.EventLoop, fd int, mask eventloop.Mask) {
	c, ok := s.clients[fd]
	if !ok {
		return
	}
	chunk := make([]byte, readChunkSize)
	n, err := unix.Read(fd, chunk)
	if n > 0 {
		c.readBuf = append(c.readBuf, chunk[:n]...)
		s.drainCommands(c)
	}
	if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK && err != unix.EINTR {
		s.closeClient(c)
		return
	}
	if n == 0 && err == nil {
		s.closeClient(c)
	}
}

// drainCommands parses and dispatches every complete command currently
// buffered for c, appending writes to the AOF and encoding replies into
// c's output buffer.
func (s *Server) drainCommands(c *client) {
	for {
		cmd, consumed, err := proto.ParseCommand(c.readBuf)
		if err != nil {
			c.out.WriteString(string(proto.EncodeError("ERR " + err.Error())))
			c.closing = true
			break
		}
		if cmd == nil {
			break
		}
		c.readBuf = c.readBuf[consumed:]
		if len(cmd.Args) == 0 {
			continue
		}

		args := make([]string, len(cmd.Args))
		for i, a := range cmd.Args {
			args[i] = string(a)
		}

		ctx := &command.Context{KS: s.ks, DB: c.db, NowMillis: s.nowMillis, Limits: object.DefaultLimits()}
		reply, isWrite := s.registry.Dispatch(ctx, args)
		c.db = ctx.DB
		c.out.Write(reply)

		if isWrite {
			if err := s.aof.Append(c.db, args, s.nowMillis()); err != nil {
				s.log.Error("aof append failed", zap.Error(err))
			}
		}
	}
	s.flushClient(c)
}

// flushClient writes as much of c's pending output as the fd accepts
// right now. Whenever bytes remain afterward (the fd would block, or a
// deferred-length placeholder is still open), this registers interest
// in the fd's writability and relies
// on onWritable to keep draining; once empty, that interest is dropped
// again so an idle connection doesn't spin the event loop.
func (s *Server) flushClient(c *client) {
	if c.out.Empty() {
		s.el.RemoveFileEvent(c.fd, eventloop.Writable)
		if c.closing {
			s.closeClient(c)
		}
		return
	}
	_, err := c.out.WriteTo(fdWriter{fd: c.fd})
	if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
		s.closeClient(c)
		return
	}
	if c.out.Empty() {
		s.el.RemoveFileEvent(c.fd, eventloop.Writable)
		if c.closing || c.out.ShouldClose() {
			s.closeClient(c)
		}
		return
	}
	s.el.AddFileEvent(c.fd, eventloop.Writable, nil, s.onWritable)
}

func (s *Server) onWritable(el *eventloop.EventLoop, fd int, mask eventloop.Mask) {
	c, ok := s.clients[fd]
	if !ok {
		return
	}
	s.flushClient(c)
}

// fdWriter adapts a raw fd to io.Writer for OutputBuffer.WriteTo.
type fdWriter struct{ fd int }

func (w fdWriter) Write(p []byte) (int, error) {
	n, err := unix.Write(w.fd, p)
	if n < 0 {
		n = 0 // unix.Write reports -1 on error; io.Writer requires n >= 0
	}
	return n, err
}

func (s *Server) closeClient(c *client) {
	s.el.RemoveFileEvent(c.fd, eventloop.Readable|eventloop.Writable)
	delete(s.clients, c.fd)
	unix.Close(c.fd)
}

// beforeSleep runs once per event-loop iteration: it flushes/fsyncs the
// AOF per its configured policy and completes any pending RDB/AOF
// background-job swap, mirroring §4.3's "before-sleep hook" placement.
func (s *Server) beforeSleep(el *eventloop.EventLoop) {
	now := time.Now()
	if err := s.aof.Tick(now.Unix()); err != nil {
		s.log.Error("aof tick failed", zap.Error(err))
	}
	s.maybeAutoSave(now)
}

func (s *Server) maybeAutoSave(now time.Time) {
	dirty := s.ks.Dirty()
	if dirty <= s.dirtyAtLastSave {
		return
	}
	if s.cfg.ShouldSave(dirty-s.dirtyAtLastSave, now.Unix()-s.lastSaveUnix) {
		s.startBackgroundSave(now)
	}
}

func (s *Server) snapshotDatabases() []rdbcodec.Database {
	out := make([]rdbcodec.Database, s.ks.NumDBs())
	for i := 0; i < s.ks.NumDBs(); i++ {
		keys := s.ks.All(i)
		expires := make(map[string]int64, len(keys))
		for k := range keys {
			if d, ok := s.ks.GetExpiry(i, k); ok {
				expires[k] = d
			}
		}
		out[i] = rdbcodec.Database{Index: i, Keys: keys, Expires: expires}
	}
	return out
}

func (s *Server) startBackgroundSave(now time.Time) {
	dirtyBefore := s.ks.Dirty()
	snapshot := s.snapshotDatabases()
	started := s.rdb.BackgroundSave(&s.saveFlag, snapshot, func(err error) {
		if err != nil {
			s.log.Error("background save failed", zap.Error(err))
			return
		}
		s.dirtyAtLastSave = dirtyBefore
		s.lastSaveUnix = now.Unix()
		s.log.Info("background save complete")
	})
	if started {
		s.log.Info("background save started")
	}
}

func (s *Server) snapshotForRewrite() []aoflog.Database {
	dbs := s.snapshotDatabases()
	out := make([]aoflog.Database, len(dbs))
	for i, db := range dbs {
		out[i] = aoflog.Database{Index: db.Index, Keys: db.Keys, Expires: db.Expires}
	}
	return out
}

func (s *Server) procSave(ctx *command.Context, args []string) []byte {
	snapshot := s.snapshotDatabases()
	if err := s.rdb.Save(snapshot); err != nil {
		return proto.EncodeError("ERR " + err.Error())
	}
	s.dirtyAtLastSave = s.ks.Dirty()
	s.lastSaveUnix = time.Now().Unix()
	return proto.EncodeSimpleString("OK")
}

func (s *Server) procBGSave(ctx *command.Context, args []string) []byte {
	s.startBackgroundSave(time.Now())
	return proto.EncodeSimpleString("Background saving started")
}

func (s *Server) procBGRewriteAOF(ctx *command.Context, args []string) []byte {
	snapshot := s.snapshotForRewrite()
	started := s.aof.Rewrite(&s.rewriteFlag, snapshot, func(err error) {
		if err != nil {
			s.log.Error("background AOF rewrite failed", zap.Error(err))
			return
		}
		s.log.Info("background AOF rewrite complete")
	})
	if !started {
		return proto.EncodeError("ERR a background operation is already in progress")
	}
	return proto.EncodeSimpleString("Background append only file rewriting started")
}

// Run starts the maintenance timer and drives the event loop until
// Stop is called.
func (s *Server) Run() error {
	s.el.AddTimeEvent(s.cfg.MaintenanceTickMs, s.maintenanceTick)
	return s.el.Run()
}

// maintenanceTick runs the active-expiration sampling pass, per §9's
// resolved cadence (one pass per maintenance tick).
func (s *Server) maintenanceTick(el *eventloop.EventLoop, id int64) eventloop.TimeResult {
	s.ks.ActiveExpireCycle()
	return eventloop.TimeResult{RescheduleAfterMs: s.cfg.MaintenanceTickMs}
}

// Stop requests a graceful shutdown: the event loop finishes its current
// iteration, then the AOF is flushed and closed.
func (s *Server) Stop() {
	s.el.Stop()
}

// Close releases the listening socket, every client fd, the AOF file,
// and the event loop's epoll fd.
func (s *Server) Close() error {
	for fd, c := range s.clients {
		unix.Close(fd)
		delete(s.clients, fd)
	}
	if s.listenFD != 0 {
		unix.Close(s.listenFD)
	}
	if err := s.aof.Close(); err != nil {
		return err
	}
	return s.el.Close()
}

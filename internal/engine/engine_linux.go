//go:build linux

// Engine is the streaming engine from spec.md §4.1: the event loop that
// owns the completion queue (here, the epoll Ring), the client table, the
// listening socket, the watched file, and the shared file-length
// snapshot.
package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/asayers/tailsrv/internal/kio"
	"github.com/asayers/tailsrv/internal/watcher"
)

// Config configures one Engine instance.
type Config struct {
	Path          string
	Port          int
	PipeCapacity  int
	KeepAlive     time.Duration
	ReservedFDs   int           // fds reserved outside the per-client budget
	ShutdownGrace time.Duration // how long to wait for clients to drain on shutdown
}

// Engine drives every client to deliver all bytes of the watched file
// from its declared starting offset onward, per spec.md §4.1.
type Engine struct {
	log *zap.Logger
	cfg Config

	ring     *kio.Ring
	listenFD int
	fileFD   int
	watch    *watcher.Watcher
	budget   *kio.Budget

	table      *Table
	fileLength int64

	listenPort int

	shuttingDown     bool
	exitReason       string
	shutdownDeadline time.Time

	// shutdownReq holds the reason passed to RequestShutdown; it is the
	// only field written from outside the engine goroutine.
	shutdownReq atomic.Pointer[string]
}

// New opens the watched file, binds the listener, and registers the file
// watch. It performs no network I/O beyond bind+listen; Run starts
// accepting.
func New(log *zap.Logger, cfg Config) (*Engine, error) {
	if cfg.PipeCapacity <= 0 {
		cfg.PipeCapacity = 64 * 1024
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}

	fileFD, length, err := kio.OpenFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("engine: open %q: %w", cfg.Path, err)
	}

	ring, err := kio.NewRing()
	if err != nil {
		kio.Close(fileFD)
		return nil, err
	}

	listenFD, err := kio.Listen(cfg.Port)
	if err != nil {
		ring.Close()
		kio.Close(fileFD)
		return nil, fmt.Errorf("engine: listen on port %d: %w", cfg.Port, err)
	}
	if err := ring.AddAccept(listenFD); err != nil {
		kio.Close(listenFD)
		ring.Close()
		kio.Close(fileFD)
		return nil, err
	}
	listenPort, err := kio.LocalPort(listenFD)
	if err != nil {
		kio.Close(listenFD)
		ring.Close()
		kio.Close(fileFD)
		return nil, fmt.Errorf("engine: determine bound port: %w", err)
	}

	w, err := watcher.New(cfg.Path, ring.WakeFD())
	if err != nil {
		kio.Close(listenFD)
		ring.Close()
		kio.Close(fileFD)
		return nil, fmt.Errorf("engine: register file watch: %w", err)
	}

	limit, err := kio.NoFileLimit()
	if err != nil {
		limit = 1024
	}
	reserved := cfg.ReservedFDs
	if reserved <= 0 {
		reserved = 16
	}

	return &Engine{
		log:        log,
		cfg:        cfg,
		ring:       ring,
		listenFD:   listenFD,
		fileFD:     fileFD,
		watch:      w,
		budget:     kio.NewBudget(limit, reserved),
		table:      NewTable(),
		fileLength: length,
		listenPort: listenPort,
	}, nil
}

// FileLength returns the engine's current length snapshot, for tests and
// diagnostics. Only meaningful when called from the engine goroutine, or
// after Run has returned.
func (e *Engine) FileLength() int64 { return e.fileLength }

// ListenPort returns the TCP port the engine is actually bound to. This
// is the same value as cfg.Port unless cfg.Port was 0, in which case it
// reports whatever port the kernel assigned.
func (e *Engine) ListenPort() int { return e.listenPort }

// ClientCount returns the number of currently live clients.
func (e *Engine) ClientCount() int { return e.table.Len() }

// RequestShutdown asks the engine to wind down on its next tick. Safe to
// call from any goroutine (it only stores reason atomically and rings the
// eventfd); reason is logged once the engine actually stops.
func (e *Engine) RequestShutdown(reason string) {
	e.shutdownReq.Store(&reason)
	_ = kio.Wake(e.ring.WakeFD())
}

// Run blocks, driving the event loop until a terminal file event or a
// call to RequestShutdown, then keeps servicing socket-writable edges so
// already-buffered pipe data can finish draining (spec.md §4.2) before
// closing everything. Draining is bounded by cfg.ShutdownGrace: a client
// that never becomes writable again is closed anyway once the deadline
// passes. It returns nil on orderly shutdown.
func (e *Engine) Run() error {
	defer e.closeAll()

	var events []kio.Event
	for {
		timeoutMs := -1
		if e.shuttingDown {
			timeoutMs = e.shutdownTimeoutMs()
		}
		var err error
		events, err = e.ring.Wait(events[:0], timeoutMs)
		if err != nil {
			return fmt.Errorf("engine: wait: %w", err)
		}
		for _, ev := range events {
			e.dispatch(ev.Tag)
		}
		if e.shuttingDown && (!e.anyDraining() || !time.Now().Before(e.shutdownDeadline)) {
			e.log.Info("shutting down", zap.String("reason", e.exitReason))
			return nil
		}
	}
}

// anyDraining reports whether some client still has buffered pipe data
// that hasn't reached its socket yet.
func (e *Engine) anyDraining() bool {
	draining := false
	e.table.Each(func(c *Client) {
		if c.inPipe > 0 {
			draining = true
		}
	})
	return draining
}

// shutdownTimeoutMs returns the epoll_wait timeout that keeps Run
// checking the shutdown deadline even when no socket ever becomes
// writable again.
func (e *Engine) shutdownTimeoutMs() int {
	remaining := e.shutdownDeadline.Sub(time.Now())
	if remaining <= 0 {
		return 0
	}
	ms := remaining.Milliseconds()
	if ms > 1000 {
		ms = 1000
	}
	return int(ms)
}

func (e *Engine) dispatch(tag kio.Tag) {
	switch tag.Op() {
	case kio.OpWake:
		e.onWake()
	case kio.OpAccept:
		e.onAccept()
	case kio.OpHeader:
		e.onHeaderReadable(tag.Slot())
	case kio.OpWritable:
		e.onWritable(tag.Slot())
	}
}

func (e *Engine) onWake() {
	if err := e.ring.DrainWake(); err != nil {
		e.log.Warn("drain wake fd", zap.Error(err))
	}
	if e.watch.Terminal() {
		// spec.md §4.2: refuse new accepts, let buffered data drain,
		// then close everything. spec.md §6: exit code 0, this is an
		// orderly shutdown, not a failure.
		e.beginShutdown("watched file removed or renamed")
		return
	}
	if reason := e.shutdownReq.Load(); reason != nil {
		e.beginShutdown(*reason)
		return
	}
	if e.shuttingDown {
		// Already winding down (terminal event or signal): only draining
		// already-buffered pipe data matters now, so further growth of
		// the watched file is ignored.
		return
	}
	if e.watch.TakeModified() {
		e.onFileGrew()
	}
}

func (e *Engine) onFileGrew() {
	length, err := kio.StatLength(e.fileFD)
	if err != nil {
		e.log.Error("stat watched file", zap.Error(err))
		e.beginShutdown("watched file became unreadable")
		return
	}
	if length < e.fileLength {
		// spec.md §3: a length decrease is an invariant violation under
		// normal (append-only) operation. SPEC_FULL.md §9 resolves the
		// mid-file-rewrite Open Question: don't crash, don't deliver a
		// negative-length read, just stop treating it as growth.
		e.log.Warn("watched file shrank", zap.Int64("was", e.fileLength), zap.Int64("now", length))
		return
	}
	e.fileLength = length
	e.table.Each(func(c *Client) {
		if c.state == Bootstrapping || c.fatal != nil {
			return
		}
		e.pumpAndRearm(c)
	})
}

func (e *Engine) onAccept() {
	if e.shuttingDown {
		return
	}
	err := kio.Accept(e.listenFD, func(fd int, peer string) {
		if !e.budget.HasHeadroom() {
			e.log.Warn("refusing accept: descriptor budget exhausted", zap.String("peer", peer))
			kio.Close(fd)
			return
		}
		if err := kio.EnableKeepalive(fd, e.cfg.KeepAlive); err != nil {
			e.log.Warn("enable keepalive", zap.Error(err), zap.String("peer", peer))
		}
		p, err := kio.NewPipe(e.cfg.PipeCapacity)
		if err != nil {
			e.log.Error("allocate client pipe", zap.Error(err), zap.String("peer", peer))
			kio.Close(fd)
			return
		}
		e.budget.Acquire()
		c := newClient(0, fd, peer, p)
		slot := e.table.Insert(c)
		c.slot = slot
		if err := e.ring.AddHeaderRead(fd, slot); err != nil {
			e.log.Error("arm header read", zap.Error(err), zap.String("peer", peer))
			e.closeClient(c)
			return
		}
		e.log.Debug("accepted connection", zap.Stringer("client_id", c.id), zap.String("peer", peer), zap.Uint32("slot", slot))
	})
	if err != nil {
		e.log.Error("accept4", zap.Error(err))
	}
}

func (e *Engine) onHeaderReadable(slot uint32) {
	c, ok := e.table.Get(slot)
	if !ok || c.state != Bootstrapping {
		return
	}
	var buf [64]byte
	n, err := kio.ReadDiscardOrKeep(c.sockFD, buf[:])
	if err != nil {
		e.log.Warn("bootstrap read", zap.Error(err), zap.String("peer", c.peer))
		e.closeClient(c)
		return
	}
	if n == 0 {
		return // spurious wake: nothing to read yet (a closed peer is reported as an error above)
	}
	line, extra, complete, err := c.feedHeader(buf[:n])
	if err != nil {
		e.log.Warn("malformed or oversized header", zap.Error(err), zap.String("peer", c.peer))
		e.closeClient(c)
		return
	}
	if !complete {
		return
	}
	if err := c.resolveBootstrap(line, e.fileLength); err != nil {
		e.log.Warn("malformed header", zap.Error(err), zap.String("peer", c.peer))
		e.closeClient(c)
		return
	}
	if len(extra) > 0 {
		// spec.md §4.3: bytes after the LF are discarded silently.
		_ = kio.DiscardReadable(c.sockFD)
	}
	if err := e.ring.RemoveHeaderRead(c.sockFD); err != nil {
		e.log.Warn("disarm header read", zap.Error(err))
	}
	e.log.Info("client bootstrapped", zap.Stringer("client_id", c.id), zap.String("peer", c.peer), zap.Int64("offset", c.offset))
	e.pumpAndRearm(c)
}

func (e *Engine) onWritable(slot uint32) {
	c, ok := e.table.Get(slot)
	if !ok {
		return
	}
	e.pumpAndRearm(c)
}

// pumpAndRearm runs pump and reconciles the client's EPOLLOUT interest
// and lifecycle against the result.
func (e *Engine) pumpAndRearm(c *Client) {
	pump(c, e.fileFD, e.fileLength)
	if c.state == Closing {
		e.closeClient(c)
		return
	}
	needWritable := c.inPipe > 0
	if needWritable && !c.writableArmed {
		if err := e.ring.ArmWritable(c.sockFD, c.slot); err != nil {
			e.log.Warn("arm writable", zap.Error(err), zap.String("peer", c.peer))
		}
		c.writableArmed = true
	} else if !needWritable && c.writableArmed {
		if err := e.ring.DisarmWritable(c.sockFD); err != nil {
			e.log.Warn("disarm writable", zap.Error(err), zap.String("peer", c.peer))
		}
		c.writableArmed = false
	}
}

func (e *Engine) closeClient(c *Client) {
	if c.fatal != nil {
		e.log.Warn("closing client", zap.Stringer("client_id", c.id), zap.Error(c.fatal), zap.String("peer", c.peer), zap.Int64("offset", c.offset))
	} else {
		e.log.Debug("closing client", zap.Stringer("client_id", c.id), zap.String("peer", c.peer))
	}
	_ = e.ring.Remove(c.sockFD)
	_ = c.pipe.Close()
	kio.Close(c.sockFD)
	e.budget.Release()
	e.table.Remove(c.slot)
}

func (e *Engine) beginShutdown(reason string) {
	if e.shuttingDown {
		return
	}
	e.shuttingDown = true
	e.exitReason = reason
	e.shutdownDeadline = time.Now().Add(e.cfg.ShutdownGrace)
	_ = e.ring.Remove(e.listenFD)
}

// closeAll closes every remaining client and releases engine-owned
// resources. By the time this runs, Run's loop has already given
// draining clients up to cfg.ShutdownGrace to flush their buffered pipe
// data via ordinary OpWritable edges (spec.md §4.2); anything still
// sitting in a client's pipe here belongs to a peer that never became
// writable again within the grace period, and is dropped.
func (e *Engine) closeAll() {
	e.table.Each(func(c *Client) {
		if c.inPipe > 0 {
			e.log.Warn("closing client with undelivered buffered data",
				zap.Stringer("client_id", c.id), zap.String("peer", c.peer), zap.Int("in_pipe", c.inPipe))
		}
		e.closeClient(c)
	})
	kio.Close(e.listenFD)
	e.watch.Close()
	kio.Close(e.fileFD)
	e.ring.Close()
}

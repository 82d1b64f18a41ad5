// Package engine drives the single-threaded event loop: it owns the
// listener, every accepted connection, the store, the write-ahead log,
// and the cluster relay, and dispatches readiness events to them one
// at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mickamy/kvrelay/cluster"
	"github.com/mickamy/kvrelay/command"
	"github.com/mickamy/kvrelay/conn"
	"github.com/mickamy/kvrelay/store"
	"github.com/mickamy/kvrelay/wal"
)

// setSocketOptions is overridden per-OS (sockopts_linux.go /
// sockopts_portable.go) to apply SO_REUSEADDR/SO_REUSEPORT to the
// listening socket before bind.
var setSocketOptions = func(uintptr) error { return nil }

// Options configures a single engine run. It is constructed once by
// the caller (cmd/kvrelayd) and passed down explicitly — there is no
// ambient global configuration.
type Options struct {
	Addr            string
	LogPath         string
	Fsync           bool
	ReadOnly        bool
	ClusterPassword string
	ClusterNodes    []string
	// ClusterConnectTimeout is the delay between retries when a follower
	// cannot be reached at boot; zero means cluster.DefaultRetryDelay.
	ClusterConnectTimeout time.Duration
	// OnEvent, if set, is called after every command any connection
	// executes against the store, tagged with that connection's UUID.
	// It never blocks the dispatch loop for long and must not itself
	// touch the store, WAL, or relay.
	OnEvent func(connID string, cmd command.Command, res store.Result)
}

type record struct {
	conn *conn.Conn
}

// Engine is the runtime state the steady-state loop touches: the
// listener, the tracked connections, the store, the WAL, and the
// optional cluster relay.
type Engine struct {
	opt   Options
	ln    net.Listener
	store *store.Store
	wal   *wal.WAL
	relay *cluster.Relay
	mode  command.ConnectionMode

	poll      poller
	records   map[int]*record
	nextToken int
}

// New constructs an Engine and performs the recovery phase: an empty
// store replayed against the WAL to completion before any socket is
// touched.
func New(opt Options) (*Engine, error) {
	w, err := wal.Open(opt.LogPath, opt.Fsync)
	if err != nil {
		return nil, fmt.Errorf("engine: open wal: %w", err)
	}

	s := store.New()
	replayed := 0
	for {
		cmd, ok, rerr := w.Read()
		if rerr != nil {
			return nil, fmt.Errorf("engine: replay: %w", rerr)
		}
		if !ok {
			break
		}
		s.Execute(cmd)
		replayed++
	}
	if replayed > 0 {
		log.Printf("engine: replayed %d record(s) from %s", replayed, opt.LogPath)
	}

	mode := command.ModeReadWrite
	if opt.ReadOnly {
		mode = command.ModeRead
	}

	return &Engine{
		opt:       opt,
		store:     s,
		wal:       w,
		mode:      mode,
		records:   make(map[int]*record),
		nextToken: listenerToken + 1,
	}, nil
}

// Store exposes the engine's store to read-only observers such as the
// admin status endpoint.
func (e *Engine) Store() *store.Store { return e.store }

// WAL exposes the engine's write-ahead log so the archive heartbeat
// can take snapshots of it.
func (e *Engine) WAL() *wal.WAL { return e.wal }

// Run binds the listener, connects the cluster relay, and drives the
// steady-state readiness loop until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = setSocketOptions(fd)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
	ln, err := lc.Listen(ctx, "tcp4", e.opt.Addr)
	if err != nil {
		return fmt.Errorf("engine: listen %s: %w", e.opt.Addr, err)
	}
	e.ln = ln
	defer func() { _ = e.ln.Close() }()

	if len(e.opt.ClusterNodes) > 0 {
		log.Printf("engine: connecting to %d follower(s)", len(e.opt.ClusterNodes))
		relay, derr := cluster.Dial(e.opt.ClusterNodes, e.opt.ClusterPassword, e.opt.ClusterConnectTimeout)
		if derr != nil {
			return fmt.Errorf("engine: cluster dial: %w", derr)
		}
		e.relay = relay
		defer func() { _ = e.relay.Close() }()
		log.Printf("engine: all followers connected")
	}

	p, err := newPoller()
	if err != nil {
		return fmt.Errorf("engine: poller: %w", err)
	}
	e.poll = p
	defer func() { _ = p.close() }()

	if err := p.addListener(listenerToken, ln); err != nil {
		return fmt.Errorf("engine: register listener: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	log.Printf("engine: listening on %s", e.opt.Addr)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		events, werr := p.wait()
		if werr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("engine: poll: %w", werr)
		}

		var closed []int
		for _, ev := range events {
			if ev.token == listenerToken {
				e.accept(ev)
				continue
			}

			rec, ok := e.records[ev.token]
			if !ok {
				continue
			}
			if ev.hangup {
				closed = append(closed, ev.token)
				continue
			}

			if derr := rec.conn.HandleIncoming(e.store, e.wal, e.relay); derr != nil {
				if errors.Is(derr, conn.ErrRelayFailed) {
					return fmt.Errorf("engine: %w", derr)
				}
				log.Printf("engine: connection read failed, closing: %v", derr)
				closed = append(closed, ev.token)
				continue
			}
			if rec.conn.Closed() {
				closed = append(closed, ev.token)
				continue
			}
			if rerr := e.poll.rearm(ev.token); rerr != nil {
				log.Printf("engine: rearm failed: %v", rerr)
				closed = append(closed, ev.token)
			}
		}

		e.reap(closed)
	}
}

func (e *Engine) accept(ev pollEvent) {
	var nc net.Conn
	if ev.acceptedConn != nil {
		nc = ev.acceptedConn
	} else {
		c, err := e.ln.Accept()
		if err != nil {
			log.Printf("engine: accept: %v", err)
			return
		}
		nc = c
	}

	if tc, ok := nc.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(true); err != nil {
			log.Printf("engine: set nodelay: %v", err)
		}
	}

	token := e.nextToken
	e.nextToken++

	reader, err := e.poll.addConn(token, nc)
	if err != nil {
		log.Printf("engine: register connection: %v", err)
		_ = nc.Close()
		return
	}

	c := conn.New(nc, e.mode, e.opt.ClusterPassword)
	c.SetReader(reader)
	c.SetID(uuid.New().String())
	if e.opt.OnEvent != nil {
		c.OnEvent(e.opt.OnEvent)
	}
	e.records[token] = &record{conn: c}
}

// reap removes every closed connection, highest token first. Tokens,
// unlike array indices, never change once assigned, so a removal can
// never invalidate an entry still pending removal in the same batch.
func (e *Engine) reap(closed []int) {
	sort.Sort(sort.Reverse(sort.IntSlice(closed)))
	for _, token := range closed {
		rec, ok := e.records[token]
		if !ok {
			continue
		}
		_ = rec.conn.Close()
		_ = e.poll.remove(token)
		delete(e.records, token)
	}
}

// Package conn implements the per-socket read buffer, drain loop, and
// authorization gate a client connection is driven through on every
// readiness wake.
package conn

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"

	"github.com/mickamy/kvrelay/cluster"
	"github.com/mickamy/kvrelay/command"
	"github.com/mickamy/kvrelay/resp"
	"github.com/mickamy/kvrelay/store"
	"github.com/mickamy/kvrelay/wal"
)

// MessageMaxSize is the fixed read-buffer size and the largest single
// wire record either side will ever send.
const MessageMaxSize = wal.MessageMaxSize

// ErrRelayFailed marks a cluster relay failure. Per the error-handling
// policy this is fatal to the process, distinct from a WAL append
// failure, which only closes the current connection.
var ErrRelayFailed = errors.New("conn: relay to follower failed")

// Conn is a single client or follower connection: a fixed read buffer,
// an offset cursor into it, and the admission mode gating writes.
type Conn struct {
	sock     net.Conn
	r        io.Reader // reads go through here; defaults to sock
	buf      [MessageMaxSize]byte
	offset   int
	closed   bool
	mode     command.ConnectionMode
	password string
	id       string
	onEvent  func(connID string, cmd command.Command, res store.Result)
}

// New wraps sock, starting in mode with the cluster password used to
// validate an inbound Leader handshake (empty if this process is not
// clustered).
func New(sock net.Conn, mode command.ConnectionMode, password string) *Conn {
	return &Conn{sock: sock, r: sock, mode: mode, password: password}
}

// SetID tags this connection with an identifier (a UUID assigned by the
// event loop at accept time), surfaced on every event this connection
// reports to OnEvent. Connections that never call SetID report "".
func (c *Conn) SetID(id string) { c.id = id }

// ID returns the identifier set by SetID, or "" if none was assigned.
func (c *Conn) ID() string { return c.id }

// SetReader overrides the source HandleIncoming reads from. The event
// loop's portable (non-epoll) poller peeks a byte off the connection to
// detect readiness and must hand back the same buffered reader so that
// peeked byte isn't lost; with the Linux epoll poller the reader handed
// back is sock itself, so HandleIncoming reads from sock directly.
func (c *Conn) SetReader(r io.Reader) { c.r = r }

// OnEvent registers a hook invoked after every command this connection
// executes against the store, used by observability components (the
// admin event feed, the hot-key detector) that never touch the store,
// WAL, or relay directly.
func (c *Conn) OnEvent(f func(connID string, cmd command.Command, res store.Result)) {
	c.onEvent = f
}

// Closed reports whether the connection has been marked for reaping.
func (c *Conn) Closed() bool { return c.closed }

// Sock exposes the underlying socket, used by the event loop for
// readiness registration and accept bookkeeping.
func (c *Conn) Sock() net.Conn { return c.sock }

// Close marks the connection closed and releases the socket.
func (c *Conn) Close() error {
	c.closed = true
	return c.sock.Close()
}

// HandleIncoming reads one batch of bytes and drains every complete
// record it can parse out of the buffer, per the component's drain
// contract: each record is admission-checked, journaled, executed,
// relayed, and replied to in turn before the next is attempted.
func (c *Conn) HandleIncoming(s *store.Store, w *wal.WAL, relay *cluster.Relay) error {
	n, err := c.r.Read(c.buf[c.offset:])
	if err != nil {
		return fmt.Errorf("conn: read: %w", err)
	}
	if n == 0 {
		// Spurious wake; the listener-side hang-up detection handles close.
		return nil
	}

	total := c.offset + n
	pos := 0
	consumedAny := false

	for pos < total {
		obj, consumed, derr := resp.Decode(c.buf[pos:total])

		if errors.Is(derr, resp.ErrIncomplete) {
			if total >= MessageMaxSize && !consumedAny {
				// Peer filled the whole buffer without completing a single
				// record: it exceeded MessageMaxSize.
				c.closed = true
				return nil
			}
			tail := total - pos
			copy(c.buf[:tail], c.buf[pos:total])
			c.offset = tail
			return nil
		}
		if derr != nil {
			// InvalidInput: attempt resynchronisation by skipping one byte.
			pos++
			continue
		}

		record := append([]byte(nil), c.buf[pos:pos+consumed]...)
		pos += consumed
		consumedAny = true

		if err := c.dispatch(obj, record, s, w, relay); err != nil {
			return err
		}
		if c.closed {
			return nil
		}
	}

	c.offset = 0
	return nil
}

func (c *Conn) dispatch(obj resp.Object, record []byte, s *store.Store, w *wal.WAL, relay *cluster.Relay) error {
	if nc, err := command.ParseNetCommand(obj); err == nil {
		return c.handleNetCommand(nc)
	} else if !errors.Is(err, command.ErrNotNetCommand) {
		log.Printf("conn: malformed net-command, skipping")
		return nil
	}

	cmd, err := command.ParseCommand(obj)
	if err != nil {
		log.Printf("conn: malformed command, skipping: %v", err)
		return nil
	}

	if cmd.Mutating() && !c.mode.CanWrite() {
		c.writeReply(resp.Err("Read-only mode: Illegal command"))
		return nil
	}

	if err := w.Append(cmd); err != nil {
		log.Printf("conn: wal append failed, closing connection: %v", err)
		c.closed = true
		return nil
	}

	res := s.Execute(cmd)
	if c.onEvent != nil {
		c.onEvent(c.id, cmd, res)
	}

	if res.IsMutating && relay != nil {
		if err := relay.Relay(record); err != nil {
			return fmt.Errorf("%w: %w", ErrRelayFailed, err)
		}
	}

	c.writeReply(res.Object)
	return nil
}

func (c *Conn) handleNetCommand(nc command.NetCommand) error {
	if nc.Kind != command.NetLeader {
		return nil
	}
	if nc.Password != c.password {
		c.closed = true
		return nil
	}
	c.mode = command.ModeLeader
	c.writeReply(resp.SimpleString("OK"))
	return nil
}

// writeReply encodes and writes obj. A write error is logged but, per
// the error-handling policy, does not close the connection.
func (c *Conn) writeReply(obj resp.Object) {
	if _, err := c.sock.Write(resp.Encode(obj)); err != nil {
		log.Printf("conn: write reply failed: %v", err)
	}
}

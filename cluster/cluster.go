// Package cluster implements the synchronous primary-to-follower relay:
// at boot the primary dials every configured follower, sends a Leader
// handshake, and from then on forwards each mutating request's raw wire
// bytes to every follower in turn, waiting for exactly one reply from
// each before the primary's own client gets its reply.
package cluster

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/mickamy/kvrelay/command"
	"github.com/mickamy/kvrelay/resp"
)

// DefaultRetryDelay is how long Dial waits between failed attempts to
// reach a single follower when the caller passes no explicit delay.
// Retries continue forever, in list order, with no backoff ceiling.
const DefaultRetryDelay = 500 * time.Millisecond

// replyBufSize bounds a single follower reply the same way the
// connection layer bounds a client request.
const replyBufSize = 512

// follower holds the established connection to one replica.
type follower struct {
	addr string
	conn net.Conn
	r    *bufio.Reader
}

// Relay fans mutating requests out to a fixed set of followers,
// established once at boot and held open for the process lifetime.
type Relay struct {
	followers []*follower
}

// Dial connects to every address in addrs, in order, performing the
// Leader(password) handshake on each. A follower that refuses or resets
// the connection is retried forever at retryDelay (DefaultRetryDelay if
// zero or negative) until it accepts; Dial does not move on to the next
// address until the current one has completed its handshake, and offers
// no cancellation path.
func Dial(addrs []string, password string, retryDelay time.Duration) (*Relay, error) {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	followers := make([]*follower, 0, len(addrs))
	for _, addr := range addrs {
		f, err := dialOne(addr, password, retryDelay)
		if err != nil {
			return nil, fmt.Errorf("cluster: dial %s: %w", addr, err)
		}
		followers = append(followers, f)
	}
	return &Relay{followers: followers}, nil
}

func dialOne(addr, password string, retryDelay time.Duration) (*follower, error) {
	for {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			f := &follower{addr: addr, conn: conn, r: bufio.NewReader(conn)}
			if err := f.handshake(password); err != nil {
				_ = conn.Close()
				time.Sleep(retryDelay)
				continue
			}
			return f, nil
		}
		time.Sleep(retryDelay)
	}
}

func (f *follower) handshake(password string) error {
	nc := command.NetCommand{Kind: command.NetLeader, Password: password}
	wire := resp.Encode(command.EncodeNetCommand(nc))
	if _, err := f.conn.Write(wire); err != nil {
		return fmt.Errorf("cluster: handshake write: %w", err)
	}
	if _, err := readReply(f.r); err != nil {
		return fmt.Errorf("cluster: handshake reply: %w", err)
	}
	return nil
}

// Relay forwards wire to every follower in order and blocks until each
// has replied exactly once. Any write failure or failed reply read from
// a follower is returned as an error, which the engine treats as fatal
// to the process: a follower that stops answering breaks replication
// rather than being silently skipped.
func (r *Relay) Relay(wire []byte) error {
	for _, f := range r.followers {
		if _, err := f.conn.Write(wire); err != nil {
			return fmt.Errorf("cluster: relay write %s: %w", f.addr, err)
		}
		if _, err := readReply(f.r); err != nil {
			return fmt.Errorf("cluster: relay reply %s: %w", f.addr, err)
		}
	}
	return nil
}

// Close tears down every follower connection.
func (r *Relay) Close() error {
	var first error
	for _, f := range r.followers {
		if err := f.conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// readReply reads exactly one wire-encoded Object reply from r,
// growing the read buffer as needed up to replyBufSize.
func readReply(r *bufio.Reader) (resp.Object, error) {
	buf := make([]byte, 0, replyBufSize)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return resp.Object{}, err
		}
		buf = append(buf, b)

		obj, consumed, derr := resp.Decode(buf)
		if derr == resp.ErrIncomplete {
			if len(buf) >= replyBufSize {
				return resp.Object{}, fmt.Errorf("cluster: reply exceeds %d bytes", replyBufSize)
			}
			continue
		}
		if derr != nil {
			return resp.Object{}, derr
		}
		_ = consumed
		return obj, nil
	}
}

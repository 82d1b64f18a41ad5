package cluster_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mickamy/kvrelay/cluster"
	"github.com/mickamy/kvrelay/command"
	"github.com/mickamy/kvrelay/resp"
)

// fakeFollower accepts a single connection, expects a Leader handshake,
// replies +OK, then echoes back +OK for every subsequent request it
// receives — standing in for a follower's relay acknowledgement.
func fakeFollower(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		buf := make([]byte, 512)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			_, _, derr := resp.Decode(buf[:n])
			if derr != nil {
				return
			}
			if _, werr := conn.Write(resp.Encode(resp.SimpleString("OK"))); werr != nil {
				return
			}
		}
	}()

	return ln.Addr().String(), func() { _ = ln.Close() }
}

func TestDialHandshakesAndRelays(t *testing.T) {
	t.Parallel()

	addr, stop := fakeFollower(t)
	defer stop()

	r, err := cluster.Dial([]string{addr}, "s3cr3t", 0)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	wire := resp.Encode(command.Encode(command.Command{Op: command.OpSet, Key: "a", Value: "1"}))
	require.NoError(t, r.Relay(wire))
}

func TestDialRetriesUntilFollowerIsUp(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close()) // nothing listening yet

	done := make(chan *cluster.Relay, 1)
	go func() {
		r, derr := cluster.Dial([]string{addr}, "pw", 20*time.Millisecond)
		require.NoError(t, derr)
		done <- r
	}()

	time.Sleep(50 * time.Millisecond)

	ln2, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	defer func() { _ = ln2.Close() }()

	go func() {
		conn, aerr := ln2.Accept()
		if aerr != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		buf := make([]byte, 512)
		n, rerr := conn.Read(buf)
		if rerr != nil {
			return
		}
		_, _, _ = resp.Decode(buf[:n])
		_, _ = conn.Write(resp.Encode(resp.SimpleString("OK")))
	}()

	select {
	case r := <-done:
		_ = r.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("Dial did not succeed after follower came up")
	}
}

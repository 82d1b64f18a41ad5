package engine_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mickamy/kvrelay/engine"
)

func startEngine(t *testing.T, opt engine.Options) (addr string, cancel context.CancelFunc) {
	t.Helper()

	// Let the OS assign a free port, then rebuild Options with it by
	// probing once before the real engine binds — simplest portable
	// way to avoid port collisions between parallel test runs.
	probe, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	opt.Addr = probe.Addr().String()
	require.NoError(t, probe.Close())

	e, err := engine.New(opt)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()

	// Give the listener a moment to bind before the test dials it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, derr := net.Dial("tcp", opt.Addr)
		if derr == nil {
			_ = conn.Close()
			return opt.Addr, cancel
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("engine did not start listening in time")
	return "", cancel
}

func TestBasicSetThenGet(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wal.txt")
	addr, cancel := startEngine(t, engine.Options{LogPath: path})
	defer cancel()

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	_, err = c.Write([]byte("*3\r\n+set\r\n+drink\r\n+water\r\n"))
	require.NoError(t, err)
	buf := make([]byte, 512)
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := c.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "$-1\r\n", string(buf[:n]))

	_, err = c.Write([]byte("*2\r\n+get\r\n+drink\r\n"))
	require.NoError(t, err)
	n, err = c.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "$5\r\nwater\r\n", string(buf[:n]))
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wal.txt")
	addr, cancel := startEngine(t, engine.Options{LogPath: path, ReadOnly: true})
	defer cancel()

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	_, err = c.Write([]byte("*3\r\n+set\r\n+x\r\n+y\r\n"))
	require.NoError(t, err)
	buf := make([]byte, 512)
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := c.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "-Read-only mode: Illegal command\r\n", string(buf[:n]))
}

func TestCrashRecoveryAcrossRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "wal.txt")
	addr, cancel := startEngine(t, engine.Options{LogPath: path, Fsync: true})

	c, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	_, err = c.Write([]byte("*3\r\n+set\r\n+foo\r\n+bar\r\n"))
	require.NoError(t, err)
	buf := make([]byte, 512)
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = c.Read(buf)
	require.NoError(t, err)
	_ = c.Close()
	cancel() // simulate process teardown

	addr2, cancel2 := startEngine(t, engine.Options{LogPath: path, Fsync: true})
	defer cancel2()

	c2, err := net.Dial("tcp", addr2)
	require.NoError(t, err)
	defer func() { _ = c2.Close() }()
	_, err = c2.Write([]byte("*2\r\n+get\r\n+foo\r\n"))
	require.NoError(t, err)
	_ = c2.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := c2.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "$3\r\nbar\r\n", string(buf[:n]))
}

// Package wal implements the append-only write-ahead log used for crash
// recovery: every mutating command is journaled as its own wire-encoded
// Array before the store is allowed to apply it.
package wal

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mickamy/kvrelay/command"
	"github.com/mickamy/kvrelay/resp"
)

// MessageMaxSize is the largest single wire record the codec will ever
// need to buffer, in either direction.
const MessageMaxSize = 512

// WAL is a single append-only file of mutating commands. All operations
// are serialized behind mu; replay (Read) is only ever used at startup,
// never interleaved with Append.
type WAL struct {
	mu         sync.Mutex
	f          *os.File
	fsync      bool
	readOffset int64
}

// Open creates or opens the log file at path for append and read.
func Open(path string, fsync bool) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	return &WAL{f: f, fsync: fsync}, nil
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Append journals cmd as its wire-protocol Array — the same bytes a
// client would have sent — in one contiguous write. Non-mutating commands
// are silently ignored. When fsync is enabled the write is flushed to
// stable storage before Append returns: a committed record is durable
// before any later record.
func (w *WAL) Append(cmd command.Command) error {
	if !cmd.Mutating() {
		return nil
	}

	wire := resp.Encode(command.Encode(cmd))

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.f.Write(wire); err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	if w.fsync {
		if err := w.f.Sync(); err != nil {
			return fmt.Errorf("wal: fsync: %w", err)
		}
	}
	return nil
}

// Snapshot returns a copy of every byte currently durable in the log,
// for off-site archival (see the archive package). It never truncates
// or rewrites the live file — archival only ever reads.
func (w *WAL) Snapshot() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := w.f.Stat()
	if err != nil {
		return nil, fmt.Errorf("wal: snapshot stat: %w", err)
	}

	buf := make([]byte, info.Size())
	if _, err := w.f.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("wal: snapshot read: %w", err)
	}
	return buf, nil
}

// Read returns the next replayable Command, or ok=false at end-of-file or
// on the first unparseable record; either case stops replay.
// A bounded MessageMaxSize read is performed and the effective file
// position is rewound to the end of the one record actually decoded, so a
// truncated or multi-record trailing read never skips data.
func (w *WAL) Read() (cmd command.Command, ok bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := make([]byte, MessageMaxSize)
	n, rerr := w.f.ReadAt(buf, w.readOffset)
	if n == 0 {
		if rerr != nil && rerr != io.EOF {
			return command.Command{}, false, fmt.Errorf("wal: read: %w", rerr)
		}
		return command.Command{}, false, nil
	}

	obj, consumed, derr := resp.Decode(buf[:n])
	if derr != nil {
		return command.Command{}, false, nil
	}
	parsed, perr := command.ParseCommand(obj)
	if perr != nil {
		return command.Command{}, false, nil
	}

	w.readOffset += int64(consumed)
	return parsed, true, nil
}

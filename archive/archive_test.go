package archive_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mickamy/kvrelay/archive"
)

type fakeSnapshotter struct {
	data []byte
	err  error
}

func (f fakeSnapshotter) Snapshot() ([]byte, error) { return f.data, f.err }

func TestFileTargetWritesUnderPath(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "archive")
	ft, err := archive.NewFileTarget(dir)
	require.NoError(t, err)

	require.NoError(t, ft.WriteFile("seg-1.wal", []byte("hello")))

	got, err := os.ReadFile(filepath.Join(dir, "seg-1.wal"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestArchiveNowSkipsEmptySnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ft, err := archive.NewFileTarget(dir)
	require.NoError(t, err)

	a := archive.New(fakeSnapshotter{}, ft, "kv-primary")
	require.NoError(t, a.ArchiveNow(time.Now()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestArchiveNowWritesSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ft, err := archive.NewFileTarget(dir)
	require.NoError(t, err)

	a := archive.New(fakeSnapshotter{data: []byte("*1\r\n+set\r\n")}, ft, "kv-primary")
	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, a.ArchiveNow(stamp))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Contains(t, entries[0].Name(), "kv-primary-20260102T030405")
}

func TestArchiveNowPropagatesSnapshotError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ft, err := archive.NewFileTarget(dir)
	require.NoError(t, err)

	boom := errors.New("boom")
	a := archive.New(fakeSnapshotter{err: boom}, ft, "kv-primary")
	err = a.ArchiveNow(time.Now())
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
}

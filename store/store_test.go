package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mickamy/kvrelay/command"
	"github.com/mickamy/kvrelay/store"
)

func TestSetThenGetObservesValue(t *testing.T) {
	t.Parallel()

	s := store.New()
	res := s.Execute(command.Command{Op: command.OpSet, Key: "drink", Value: "water"})
	require.True(t, res.IsMutating)
	require.True(t, res.Object.IsNilBulk())

	res = s.Execute(command.Command{Op: command.OpGet, Key: "drink"})
	require.False(t, res.IsMutating)
	b, ok := res.Object.Bulk()
	require.True(t, ok)
	require.Equal(t, "water", string(b))
}

func TestSetReturnsPreviousValue(t *testing.T) {
	t.Parallel()

	s := store.New()
	s.Execute(command.Command{Op: command.OpSet, Key: "drink", Value: "water"})
	res := s.Execute(command.Command{Op: command.OpSet, Key: "drink", Value: "milk"})
	require.True(t, res.IsMutating)
	b, ok := res.Object.Bulk()
	require.True(t, ok)
	require.Equal(t, "water", string(b))
}

func TestRemoveAbsentIsNotMutating(t *testing.T) {
	t.Parallel()

	s := store.New()
	res := s.Execute(command.Command{Op: command.OpRemove, Key: "ghost"})
	require.False(t, res.IsMutating)
	require.True(t, res.Object.IsNilBulk())
	require.Equal(t, 0, s.Len())
}

func TestRemoveThenGetReturnsNil(t *testing.T) {
	t.Parallel()

	s := store.New()
	s.Execute(command.Command{Op: command.OpSet, Key: "k", Value: "v"})

	res := s.Execute(command.Command{Op: command.OpRemove, Key: "k"})
	require.True(t, res.IsMutating)
	b, ok := res.Object.Bulk()
	require.True(t, ok)
	require.Equal(t, "v", string(b))

	res = s.Execute(command.Command{Op: command.OpGet, Key: "k"})
	require.True(t, res.Object.IsNilBulk())
}

func TestGetAbsentReturnsNil(t *testing.T) {
	t.Parallel()

	s := store.New()
	res := s.Execute(command.Command{Op: command.OpGet, Key: "nope"})
	require.False(t, res.IsMutating)
	require.True(t, res.Object.IsNilBulk())
}

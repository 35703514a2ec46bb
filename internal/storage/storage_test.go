package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"LiveBoard/internal/state"
	"LiveBoard/internal/storage"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, driver string) storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Open(driver, path)
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func op(author string, counter uint64) state.Operation {
	return state.Operation{
		ID:       state.OpID{Author: author, Counter: counter},
		AuthorID: author,
		Kind:     state.KindStrokeAdded,
		Stroke: &state.Stroke{
			Tool: state.ToolPen, Color: "#FF5252", Width: 3, Composite: state.CompositeNormal,
			Points: []state.Point{{X: 1, Y: 2}, {X: 3, Y: 4, T: 8}},
		},
	}
}

func TestStores(t *testing.T) {
	for _, driver := range []string{"memory", "sqlite", "bolt"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			store := openStore(t, driver)

			head, err := store.Head(ctx, "b1")
			require.NoError(t, err)
			require.Zero(t, head)

			first, dup, err := store.Append(ctx, "b1", op("alice", 1))
			require.NoError(t, err)
			require.False(t, dup)
			require.Equal(t, uint64(1), first.Sequence)

			second, _, err := store.Append(ctx, "b1", op("bob", 1))
			require.NoError(t, err)
			require.Equal(t, uint64(2), second.Sequence)

			// boards are sequenced independently
			other, _, err := store.Append(ctx, "b2", op("alice", 1))
			require.NoError(t, err)
			require.Equal(t, uint64(1), other.Sequence)

			// resubmitting an id returns the committed operation
			again, dup, err := store.Append(ctx, "b1", op("alice", 1))
			require.NoError(t, err)
			require.True(t, dup)
			require.Equal(t, first, again)

			third, _, err := store.Append(ctx, "b1", op("alice", 2))
			require.NoError(t, err)
			require.Equal(t, uint64(3), third.Sequence)

			head, err = store.Head(ctx, "b1")
			require.NoError(t, err)
			require.Equal(t, uint64(3), head)

			all, err := store.Range(ctx, "b1", 0, 0)
			require.NoError(t, err)
			require.Equal(t, []state.Operation{first, second, third}, all)

			mid, err := store.Range(ctx, "b1", 2, 2)
			require.NoError(t, err)
			require.Equal(t, []state.Operation{second}, mid)

			tail, err := store.Range(ctx, "b1", 3, 10)
			require.NoError(t, err)
			require.Equal(t, []state.Operation{third}, tail)

			none, err := store.Range(ctx, "b1", 4, 0)
			require.NoError(t, err)
			require.Empty(t, none)

			found, ok, err := store.Lookup(ctx, "b1", second.ID)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, second, found)

			_, ok, err = store.Lookup(ctx, "b3", second.ID)
			require.NoError(t, err)
			require.False(t, ok)

			_, _, err = store.Append(ctx, "", op("alice", 9))
			require.Error(t, err)
		})
	}
}

func TestPersistentStoresSurviveReopen(t *testing.T) {
	for _, driver := range []string{"sqlite", "bolt"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "board.db")

			store, err := storage.Open(driver, path)
			require.NoError(t, err)
			require.NoError(t, store.Init(ctx))
			_, _, err = store.Append(ctx, "b1", op("alice", 1))
			require.NoError(t, err)
			require.NoError(t, store.Close())

			store, err = storage.Open(driver, path)
			require.NoError(t, err)
			require.NoError(t, store.Init(ctx))
			defer store.Close()
			head, err := store.Head(ctx, "b1")
			require.NoError(t, err)
			require.Equal(t, uint64(1), head)
			_, dup, err := store.Append(ctx, "b1", op("alice", 1))
			require.NoError(t, err)
			require.True(t, dup)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := storage.Open("postgres", "")
	require.Error(t, err)
}

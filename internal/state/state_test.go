package state

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backend struct {
	name string
	open func(t *testing.T, dir string) Storage
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T, dir string) Storage {
			return NewMemoryStorage()
		}},
		{"file", func(t *testing.T, dir string) Storage {
			s, err := NewFileStorage(dir)
			require.NoError(t, err)
			return s
		}},
		{"sqlite", func(t *testing.T, dir string) Storage {
			s, err := NewSQLiteStorage(context.Background(), dir)
			require.NoError(t, err)
			return s
		}},
	}
}

func TestStorage_Conformance(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t, t.TempDir())
			defer s.Close()

			_, ok, err := s.GetItem(ctx, "my-app-data")
			require.NoError(t, err)
			assert.False(t, ok, "fresh storage has no items")

			require.NoError(t, s.SetItem(ctx, "my-app-data", `{"nextId":1}`))
			value, ok, err := s.GetItem(ctx, "my-app-data")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, `{"nextId":1}`, value)

			require.NoError(t, s.SetItem(ctx, "my-app-data", `{"nextId":2}`))
			value, _, err = s.GetItem(ctx, "my-app-data")
			require.NoError(t, err)
			assert.Equal(t, `{"nextId":2}`, value, "SetItem replaces")

			require.NoError(t, s.SetItem(ctx, "empty", ""))
			value, ok, err = s.GetItem(ctx, "empty")
			require.NoError(t, err)
			assert.True(t, ok, "empty string is a present value")
			assert.Equal(t, "", value)

			require.NoError(t, s.RemoveItem(ctx, "my-app-data"))
			_, ok, err = s.GetItem(ctx, "my-app-data")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.RemoveItem(ctx, "never-set"), "removing an absent key is fine")
		})
	}
}

func TestStorage_Closed(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t, t.TempDir())
			require.NoError(t, s.Close())

			_, _, err := s.GetItem(ctx, "k")
			assert.ErrorIs(t, err, ErrClosed)
			assert.ErrorIs(t, s.SetItem(ctx, "k", "v"), ErrClosed)
			assert.ErrorIs(t, s.RemoveItem(ctx, "k"), ErrClosed)
		})
	}
}

func TestStorage_SurvivesReopen(t *testing.T) {
	for _, b := range backends() {
		if b.name == "memory" {
			continue
		}
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			s := b.open(t, dir)
			require.NoError(t, s.SetItem(ctx, "nextId", "7"))
			require.NoError(t, s.Close())

			s = b.open(t, dir)
			defer s.Close()
			value, ok, err := s.GetItem(ctx, "nextId")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "7", value)
		})
	}
}

func TestFileStorage_KeysAreEscaped(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	key := "../outside/key"
	require.NoError(t, s.SetItem(ctx, key, "v"))
	assert.Equal(t, s.Dir(), filepath.Dir(s.Path(key)), "escaped key stays inside the storage dir")

	value, ok, err := s.GetItem(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", value)
}

func TestFileStorage_NoTempFilesLeft(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	for _, v := range []string{"a", "b", "c"} {
		require.NoError(t, s.SetItem(ctx, "my-app-data", v))
	}

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "my-app-data.json", entries[0].Name())
}

func TestSQLiteStorage_CloseTwice(t *testing.T) {
	s, err := NewSQLiteStorage(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.FileExists(t, s.Path())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

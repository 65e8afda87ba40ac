package mathdoc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type storeFactory struct {
	name string
	open func(t *testing.T) Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{"memory", func(t *testing.T) Store {
			return NewMemoryStore()
		}},
		{"file", func(t *testing.T) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "docs"))
			require.NoError(t, err)
			return s
		}},
		{"sqlite", func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "docs.db"))
			require.NoError(t, err)
			return s
		}},
		{"badger", func(t *testing.T) Store {
			s, err := NewBadgerStore(BadgerOptions{InMemory: true, Logger: zaptest.NewLogger(t)})
			require.NoError(t, err)
			return s
		}},
	}
}

func TestStores(t *testing.T) {
	ctx := context.Background()
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			t.Run("missing key", func(t *testing.T) {
				s := f.open(t)
				defer s.Close()
				_, err := s.Get(ctx, "nope")
				assert.ErrorIs(t, err, ErrKeyNotFound)
			})

			t.Run("set get overwrite", func(t *testing.T) {
				s := f.open(t)
				defer s.Close()
				require.NoError(t, s.Set(ctx, DefaultStorageKey, []byte("one")))
				got, err := s.Get(ctx, DefaultStorageKey)
				require.NoError(t, err)
				assert.Equal(t, "one", string(got))

				require.NoError(t, s.Set(ctx, DefaultStorageKey, []byte("two")))
				got, err = s.Get(ctx, DefaultStorageKey)
				require.NoError(t, err)
				assert.Equal(t, "two", string(got))
			})

			t.Run("keys are independent", func(t *testing.T) {
				s := f.open(t)
				defer s.Close()
				require.NoError(t, s.Set(ctx, "a/b", []byte("slash")))
				require.NoError(t, s.Set(ctx, "a b", []byte("space")))
				got, err := s.Get(ctx, "a/b")
				require.NoError(t, err)
				assert.Equal(t, "slash", string(got))
				got, err = s.Get(ctx, "a b")
				require.NoError(t, err)
				assert.Equal(t, "space", string(got))
			})

			t.Run("delete", func(t *testing.T) {
				s := f.open(t)
				defer s.Close()
				require.NoError(t, s.Set(ctx, "k", []byte("v")))
				require.NoError(t, s.Delete(ctx, "k"))
				_, err := s.Get(ctx, "k")
				assert.ErrorIs(t, err, ErrKeyNotFound)
				assert.NoError(t, s.Delete(ctx, "k"), "deleting a missing key is not an error")
			})

			t.Run("values are copied", func(t *testing.T) {
				s := f.open(t)
				defer s.Close()
				in := []byte("abc")
				require.NoError(t, s.Set(ctx, "k", in))
				in[0] = 'X'

				out, err := s.Get(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, "abc", string(out))
				out[0] = 'Y'

				again, err := s.Get(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, "abc", string(again))
			})

			t.Run("cancelled context", func(t *testing.T) {
				s := f.open(t)
				defer s.Close()
				cctx, cancel := context.WithCancel(ctx)
				cancel()
				assert.ErrorIs(t, s.Set(cctx, "k", []byte("v")), context.Canceled)
				_, err := s.Get(cctx, "k")
				assert.ErrorIs(t, err, context.Canceled)
			})

			t.Run("closed", func(t *testing.T) {
				s := f.open(t)
				require.NoError(t, s.Set(ctx, "k", []byte("v")))
				require.NoError(t, s.Close())

				_, err := s.Get(ctx, "k")
				assert.ErrorIs(t, err, ErrStoreClosed)
				assert.ErrorIs(t, s.Set(ctx, "k", []byte("w")), ErrStoreClosed)
				assert.ErrorIs(t, s.Delete(ctx, "k"), ErrStoreClosed)
			})
		})
	}
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Set(context.Background(), "notes/today", []byte("x")))
	_, err = os.Stat(filepath.Join(dir, "notes%2Ftoday.json"))
	assert.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), DefaultStorageKey, []byte("kept")))
	require.NoError(t, s.Close())

	s2, err := NewFileStore(dir)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Get(context.Background(), DefaultStorageKey)
	require.NoError(t, err)
	assert.Equal(t, "kept", string(got))
}

func TestSQLiteStorePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), DefaultStorageKey, []byte("kept")))
	require.NoError(t, s.Close())

	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Get(context.Background(), DefaultStorageKey)
	require.NoError(t, err)
	assert.Equal(t, "kept", string(got))
}

func TestBadgerStoreRequiresPath(t *testing.T) {
	_, err := NewBadgerStore(BadgerOptions{})
	assert.Error(t, err)
}

func TestEditorOverEveryStore(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			lib := newTestLibrary(t, LibraryOptions{Store: f.open(t)})
			e := openEditor(t, lib, EditorOptions{})
			require.True(t, Dispatch(e, InsertMathCommand, InsertMathPayload{Equation: "a+b", Inline: true}))
			require.NoError(t, e.Close())

			reopened := openEditor(t, lib, EditorOptions{})
			assert.Equal(t, LoadSnapshot, reopened.LoadResult().Source)
			assert.Len(t, findNodes(t, reopened, TypeMath), 1)
		})
	}
}

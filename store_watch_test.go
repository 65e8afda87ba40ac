package mathdoc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const foreignSnapshot = `{"root":{"type":"root","version":1,"children":[
	{"type":"paragraph","version":1,"children":[
		{"type":"text","version":1,"text":"from elsewhere","format":0}]}]}}`

func TestCheckStoreChange(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	lib := newTestLibrary(t, LibraryOptions{Store: store})
	e := openEditor(t, lib, EditorOptions{})

	info, err := e.CheckStoreChange(ctx)
	require.NoError(t, err)
	assert.Equal(t, StoreUnchanged, info.Type, "nothing stored and nothing written")

	require.True(t, Dispatch(e, InsertTextCommand, "mine"))
	require.NoError(t, e.Flush(ctx))
	info, err = e.CheckStoreChange(ctx)
	require.NoError(t, err)
	assert.Equal(t, StoreUnchanged, info.Type)
	assert.Equal(t, DefaultStorageKey, info.Key)

	foreign := envelopeOf(t, foreignSnapshot)
	require.NoError(t, store.MemoryStore.Set(ctx, DefaultStorageKey, foreign))
	info, err = e.CheckStoreChange(ctx)
	require.NoError(t, err)
	assert.Equal(t, StoreModified, info.Type)
	assert.Equal(t, len(foreign), info.Size)

	require.NoError(t, store.Delete(ctx, DefaultStorageKey))
	info, err = e.CheckStoreChange(ctx)
	require.NoError(t, err)
	assert.Equal(t, StoreDeleted, info.Type)
	assert.Equal(t, "deleted", info.Type.String())
}

func TestCheckStoreChangeRecognizesLoadedValue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, DefaultStorageKey, envelopeOf(t, foreignSnapshot)))
	lib := newTestLibrary(t, LibraryOptions{Store: store})
	e := openEditor(t, lib, EditorOptions{})

	info, err := e.CheckStoreChange(ctx)
	require.NoError(t, err)
	assert.Equal(t, StoreUnchanged, info.Type)
}

func TestAcknowledgeStoreChangeReload(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	lib := newTestLibrary(t, LibraryOptions{Store: store})
	e := openEditor(t, lib, EditorOptions{})
	require.True(t, Dispatch(e, InsertTextCommand, "mine"))
	require.NoError(t, e.Flush(ctx))
	writes := store.sets.Load()

	var tags [][]string
	e.RegisterUpdateListener(func(e *Editor, ev UpdateEvent) {
		if ev.Mutated {
			tags = append(tags, ev.Tags)
		}
	})

	require.NoError(t, store.MemoryStore.Set(ctx, DefaultStorageKey, envelopeOf(t, foreignSnapshot)))
	require.NoError(t, e.AcknowledgeStoreChange(ctx, true))
	assert.Equal(t, "from elsewhere", textContent(t, e))
	require.Len(t, tags, 1)
	assert.Contains(t, tags[0], TagReload)

	require.NoError(t, e.Flush(ctx))
	assert.Equal(t, writes, store.sets.Load(), "a reload is not written back")
	info, err := e.CheckStoreChange(ctx)
	require.NoError(t, err)
	assert.Equal(t, StoreUnchanged, info.Type)

	// the reload is an ordinary undo step
	_, err = e.Undo()
	require.NoError(t, err)
	assert.Equal(t, "mine", textContent(t, e))
	require.NoError(t, e.Flush(ctx))
	_, err = e.Redo()
	require.NoError(t, err)
	assert.Equal(t, "from elsewhere", textContent(t, e))
	require.NoError(t, e.Flush(ctx))
	assert.Equal(t, writes+2, store.sets.Load(), "undo and redo of a reload are written")
}

func TestUndoToReloadedRevisionIsWritten(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	lib := newTestLibrary(t, LibraryOptions{Store: store})
	e := openEditor(t, lib, EditorOptions{})
	require.True(t, Dispatch(e, InsertTextCommand, "mine"))
	require.NoError(t, e.Flush(ctx))

	require.NoError(t, store.MemoryStore.Set(ctx, DefaultStorageKey, envelopeOf(t, foreignSnapshot)))
	require.NoError(t, e.AcknowledgeStoreChange(ctx, true))
	require.True(t, Dispatch(e, InsertParagraphCommand, struct{}{}))
	require.True(t, Dispatch(e, InsertTextCommand, "typed after reload"))
	require.NoError(t, e.Flush(ctx))

	_, err := e.Undo()
	require.NoError(t, err)
	_, err = e.Undo()
	require.NoError(t, err)
	want := textContent(t, e)
	require.Equal(t, "from elsewhere", want)
	require.NoError(t, e.Flush(ctx))
	require.NoError(t, e.Close())

	reopened := openEditor(t, lib, EditorOptions{})
	assert.Equal(t, LoadSnapshot, reopened.LoadResult().Source)
	assert.Equal(t, want, textContent(t, reopened))
}

func TestAcknowledgeStoreChangeReloadDeleted(t *testing.T) {
	ctx := context.Background()
	lib := newTestLibrary(t, LibraryOptions{})
	e := openEditor(t, lib, EditorOptions{})
	require.True(t, Dispatch(e, InsertTextCommand, "mine"))
	require.NoError(t, e.Flush(ctx))

	require.NoError(t, lib.Store().Delete(ctx, DefaultStorageKey))
	require.NoError(t, e.AcknowledgeStoreChange(ctx, true))
	assert.Equal(t, []NodeType{TypeParagraph}, rootTypes(t, e))
	assert.Equal(t, "", textContent(t, e))
	assert.Nil(t, e.StoreState().Content)
}

func TestAcknowledgeStoreChangeKeep(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	lib := newTestLibrary(t, LibraryOptions{Store: store})
	e := openEditor(t, lib, EditorOptions{})
	require.True(t, Dispatch(e, InsertTextCommand, "mine"))
	require.NoError(t, e.Flush(ctx))

	require.NoError(t, store.MemoryStore.Set(ctx, DefaultStorageKey, envelopeOf(t, foreignSnapshot)))
	require.NoError(t, e.AcknowledgeStoreChange(ctx, false))
	assert.Equal(t, "mine", textContent(t, e))

	// the next edit overwrites the foreign value
	require.True(t, Dispatch(e, InsertTextCommand, "!"))
	require.NoError(t, e.Flush(ctx))
	content := storedContent(t, store, DefaultStorageKey)
	require.NotNil(t, content)
	assert.Contains(t, *content, "mine!")
}

func TestWatchStoreRequiresFileStore(t *testing.T) {
	lib := newTestLibrary(t, LibraryOptions{})
	_, err := lib.Open(context.Background(), EditorOptions{WatchStore: true})
	assert.Error(t, err)
	assert.Empty(t, lib.editors)
}

func TestWatchStoreDetectsForeignWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)
	lib := newTestLibrary(t, LibraryOptions{Store: fs})

	changes := make(chan StoreChangeInfo, 4)
	e := openEditor(t, lib, EditorOptions{
		WatchStore: true,
		OnStoreChange: func(e *Editor, status StoreChangeStatus, info StoreChangeInfo) {
			changes <- info
		},
	})
	require.True(t, Dispatch(e, InsertTextCommand, "mine"))
	require.NoError(t, e.Flush(ctx))
	assert.Equal(t, StoreStatusNormal, e.StoreStatus())

	other, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, other.Set(ctx, DefaultStorageKey, envelopeOf(t, foreignSnapshot)))

	select {
	case info := <-changes:
		assert.Equal(t, StoreModified, info.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("foreign write was not reported")
	}
	require.Eventually(t, func() bool {
		return e.StoreStatus() == StoreStatusChanged
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, e.AcknowledgeStoreChange(ctx, true))
	assert.Equal(t, StoreStatusNormal, e.StoreStatus())
	assert.Equal(t, "from elsewhere", textContent(t, e))
}

package mathdoc

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// faultyStore wraps a MemoryStore with injectable failures.
type faultyStore struct {
	*MemoryStore
	getErr error
	setErr error
	sets   atomic.Int64
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: NewMemoryStore()}
}

func (s *faultyStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.MemoryStore.Get(ctx, key)
}

func (s *faultyStore) Set(ctx context.Context, key string, value []byte) error {
	s.sets.Add(1)
	if s.setErr != nil {
		return s.setErr
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func envelopeOf(t *testing.T, snapshot string) []byte {
	t.Helper()
	data, err := encodeEnvelope(&snapshot)
	require.NoError(t, err)
	return data
}

// storedContent reads and unwraps the envelope under key.
func storedContent(t *testing.T, store Store, key string) *string {
	t.Helper()
	data, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	content, err := decodeEnvelope(data)
	require.NoError(t, err)
	return content
}

const unknownTypeSnapshot = `{"root":{"type":"root","version":1,"children":[
	{"type":"paragraph","version":1,"children":[
		{"type":"text","version":1,"text":"survivor","format":0},
		{"type":"sparkle","version":1}]}]}}`

func TestLoadSources(t *testing.T) {
	tests := []struct {
		name    string
		stored  []byte
		want    LoadSource
		wantErr error
		text    string
	}{
		{name: "absent", want: LoadDefault},
		{name: "null content", stored: []byte(`{"state":{"content":null},"version":0}`), want: LoadDefault},
		{name: "empty content", stored: []byte(`{"state":{"content":""},"version":0}`), want: LoadDefault},
		{name: "corrupt envelope", stored: []byte(`{"state":`), want: LoadFallback, wantErr: ErrInvalidSnapshot},
		{name: "corrupt snapshot", stored: []byte(`{"state":{"content":"{\"root\":{\"type\":\"paragraph\",\"version\":1}}"},"version":0}`), want: LoadFallback, wantErr: ErrInvalidSnapshot},
		{name: "future version", stored: []byte(`{"state":{"content":"{\"root\":{\"type\":\"root\",\"version\":9}}"},"version":0}`), want: LoadFallback, wantErr: ErrSnapshotVersion},
		{name: "snapshot", stored: []byte(`{"state":{"content":"{\"root\":{\"type\":\"root\",\"version\":1,\"children\":[{\"type\":\"paragraph\",\"version\":1,\"children\":[{\"type\":\"text\",\"version\":1,\"text\":\"hello\",\"format\":0}]}]}}"},"version":0}`), want: LoadSnapshot, text: "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore()
			if tt.stored != nil {
				require.NoError(t, store.Set(context.Background(), DefaultStorageKey, tt.stored))
			}
			lib := newTestLibrary(t, LibraryOptions{Store: store})
			e := openEditor(t, lib, EditorOptions{})

			res := e.LoadResult()
			assert.Equal(t, tt.want, res.Source)
			if tt.wantErr != nil {
				assert.ErrorIs(t, res.Err, tt.wantErr)
			} else {
				assert.NoError(t, res.Err)
			}
			assert.Equal(t, tt.text, textContent(t, e))
			assert.NotEmpty(t, rootTypes(t, e))
		})
	}
}

func TestLoadSkipsUnknownTypes(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), DefaultStorageKey, envelopeOf(t, unknownTypeSnapshot)))

	core, logs := observer.New(zap.WarnLevel)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	lib := newTestLibrary(t, LibraryOptions{Store: store, Logger: zap.New(core), Metrics: metrics})
	e := openEditor(t, lib, EditorOptions{})

	res := e.LoadResult()
	assert.Equal(t, LoadSnapshot, res.Source)
	assert.Equal(t, []NodeType{"sparkle"}, res.Skipped)
	assert.Equal(t, "survivor", textContent(t, e))

	skipped := logs.FilterMessage("skipping node of unregistered type").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, "sparkle", skipped[0].ContextMap()["type"])
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NodesSkippedTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LoadsTotal.WithLabelValues("snapshot")))
}

func TestLoadFallbackLogsWarning(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), DefaultStorageKey, []byte("garbage")))

	core, logs := observer.New(zap.WarnLevel)
	lib := newTestLibrary(t, LibraryOptions{Store: store, Logger: zap.New(core)})
	e := openEditor(t, lib, EditorOptions{})

	assert.Equal(t, LoadFallback, e.LoadResult().Source)
	assert.Equal(t, 1, logs.FilterMessage("snapshot corrupt, starting empty").Len())
	assert.Equal(t, []NodeType{TypeParagraph}, rootTypes(t, e))

	// the corrupt value stays until the first edit overwrites it
	data, err := store.Get(context.Background(), DefaultStorageKey)
	require.NoError(t, err)
	assert.Equal(t, "garbage", string(data))

	require.True(t, Dispatch(e, InsertTextCommand, "fresh"))
	require.NoError(t, e.Flush(context.Background()))
	content := storedContent(t, store, DefaultStorageKey)
	require.NotNil(t, content)
	assert.Contains(t, *content, "fresh")
}

func TestPersistWritesSnapshot(t *testing.T) {
	lib := newTestLibrary(t, LibraryOptions{})
	e := openEditor(t, lib, EditorOptions{})
	require.True(t, Dispatch(e, InsertTextCommand, "saved"))
	require.NoError(t, e.Flush(context.Background()))

	want, err := e.JSON()
	require.NoError(t, err)
	content := storedContent(t, lib.Store(), DefaultStorageKey)
	require.NotNil(t, content)
	assert.JSONEq(t, string(want), *content)

	state := e.StoreState()
	require.NotNil(t, state.Content)
	assert.Equal(t, *content, *state.Content)
}

func TestPersistCustomKey(t *testing.T) {
	lib := newTestLibrary(t, LibraryOptions{})
	e := openEditor(t, lib, EditorOptions{StoreKey: "notes/today"})
	require.True(t, Dispatch(e, InsertTextCommand, "x"))
	require.NoError(t, e.Flush(context.Background()))

	assert.NotNil(t, storedContent(t, lib.Store(), "notes/today"))
	_, err := lib.Store().Get(context.Background(), DefaultStorageKey)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestClearWritesNullContent(t *testing.T) {
	lib := newTestLibrary(t, LibraryOptions{})
	e := openEditor(t, lib, EditorOptions{})
	require.True(t, Dispatch(e, InsertTextCommand, "doomed"))
	require.NoError(t, ClearEditor(e, func(string) bool { return true }))
	require.NoError(t, e.Flush(context.Background()))

	data, err := lib.Store().Get(context.Background(), DefaultStorageKey)
	require.NoError(t, err)
	assert.Equal(t, `{"state":{"content":null},"version":0}`, string(data))
	assert.Nil(t, e.StoreState().Content)

	// undoing the clear persists the restored document
	_, err = e.Undo()
	require.NoError(t, err)
	require.NoError(t, e.Flush(context.Background()))
	content := storedContent(t, lib.Store(), DefaultStorageKey)
	require.NotNil(t, content)
	assert.Contains(t, *content, "doomed")

	// a cleared document reopens empty
	require.NoError(t, ClearEditor(e, func(string) bool { return true }))
	require.NoError(t, e.Close())
	reopened := openEditor(t, lib, EditorOptions{})
	assert.Equal(t, LoadDefault, reopened.LoadResult().Source)
}

func TestSelectionOnlyChangesAreNotPersisted(t *testing.T) {
	store := newFaultyStore()
	lib := newTestLibrary(t, LibraryOptions{Store: store})
	e := openEditor(t, lib, EditorOptions{})
	require.True(t, Dispatch(e, InsertTextCommand, "abc"))
	require.NoError(t, e.Flush(context.Background()))
	require.EqualValues(t, 1, store.sets.Load())

	key := findNodes(t, e, TypeText)[0].Key()
	require.NoError(t, e.SetSelection(Caret(key, 1, PointText)))
	require.NoError(t, e.Update("noop", func(tx *Txn) error { return nil }))
	require.NoError(t, e.Flush(context.Background()))
	assert.EqualValues(t, 1, store.sets.Load())
}

func TestPersistCoalescesToLatest(t *testing.T) {
	store := newFaultyStore()
	lib := newTestLibrary(t, LibraryOptions{Store: store})
	e := openEditor(t, lib, EditorOptions{})

	const edits = 50
	for i := 0; i < edits; i++ {
		require.True(t, Dispatch(e, InsertTextCommand, "z"))
	}
	require.NoError(t, e.Flush(context.Background()))

	assert.LessOrEqual(t, store.sets.Load(), int64(edits))
	want, err := e.JSON()
	require.NoError(t, err)
	content := storedContent(t, store, DefaultStorageKey)
	require.NotNil(t, content)
	assert.JSONEq(t, string(want), *content)
}

func TestOpenFailsOnStoreError(t *testing.T) {
	store := newFaultyStore()
	store.getErr = errors.New("disk on fire")
	lib := newTestLibrary(t, LibraryOptions{Store: store})

	_, err := lib.Open(context.Background(), EditorOptions{})
	assert.ErrorIs(t, err, store.getErr)
}

func TestFlushReportsWriteError(t *testing.T) {
	store := newFaultyStore()
	store.setErr = errors.New("quota exceeded")
	metrics := NewMetrics(prometheus.NewRegistry())
	lib := newTestLibrary(t, LibraryOptions{Store: store, Metrics: metrics})
	e := openEditor(t, lib, EditorOptions{})

	require.True(t, Dispatch(e, InsertTextCommand, "x"), "a failed write never fails the edit")
	err := e.Flush(context.Background())
	assert.ErrorIs(t, err, store.setErr)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SnapshotWritesTotal.WithLabelValues("error")))
	assert.Equal(t, "x", textContent(t, e))
}

func TestFlushHonorsContext(t *testing.T) {
	e := newTestEditor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// nothing pending: flush returns at once even with a dead context
	assert.NoError(t, e.Flush(ctx))
}

func TestDisablePersistence(t *testing.T) {
	lib := newTestLibrary(t, LibraryOptions{})
	e := openEditor(t, lib, EditorOptions{DisablePersistence: true})
	require.True(t, Dispatch(e, InsertTextCommand, "ephemeral"))
	require.NoError(t, e.Flush(context.Background()))

	_, err := lib.Store().Get(context.Background(), DefaultStorageKey)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Nil(t, e.StoreState().Content)
}

func TestEnvelopeEncoding(t *testing.T) {
	data, err := encodeEnvelope(nil)
	require.NoError(t, err)
	assert.Equal(t, `{"state":{"content":null},"version":0}`, string(data))

	content, err := decodeEnvelope([]byte(`{"state":{"content":"abc"},"version":0}`))
	require.NoError(t, err)
	require.NotNil(t, content)
	assert.Equal(t, "abc", *content)

	_, err = decodeEnvelope([]byte(`[`))
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}

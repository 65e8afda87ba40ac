package mathdoc

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultStorageKey is the store key the snapshot envelope is kept under.
const DefaultStorageKey = "lexical-editor-storage"

// envelopeVersion is written into every envelope.
const envelopeVersion = 0

// writeTimeout bounds a single store write made by the background writer.
const writeTimeout = 10 * time.Second

// recentWrites is how many of the bridge's own writes are remembered for
// store change detection.
const recentWrites = 8

// StoreState is the editor state exposed to the UI shell. Only Content is
// durable; the other fields describe the live selection.
type StoreState struct {
	Content       *string
	IsTableActive bool
	SelectionType string
}

type envelope struct {
	State struct {
		Content *string `json:"content"`
	} `json:"state"`
	Version int `json:"version"`
}

func encodeEnvelope(content *string) ([]byte, error) {
	var env envelope
	env.State.Content = content
	env.Version = envelopeVersion
	return json.Marshal(env)
}

func decodeEnvelope(data []byte) (*string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrInvalidSnapshot, err)
	}
	return env.State.Content, nil
}

// LoadSource tells where the initial tree came from.
type LoadSource int

const (
	// LoadDefault means there was no content: a fresh or cleared document.
	LoadDefault LoadSource = iota

	// LoadSnapshot means the stored snapshot was decoded.
	LoadSnapshot

	// LoadFallback means the stored content was corrupt and was replaced by
	// the default tree.
	LoadFallback
)

func (s LoadSource) String() string {
	switch s {
	case LoadDefault:
		return "default"
	case LoadSnapshot:
		return "snapshot"
	case LoadFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// LoadResult describes the outcome of PersistenceBridge.Load.
type LoadResult struct {
	Source  LoadSource
	Skipped []NodeType // unregistered types dropped from the snapshot
	Err     error      // the corruption that caused a fallback
}

// PersistenceBridge keeps the document and its durable snapshot in step.
// Snapshots are handed to a background writer that keeps only the newest
// one: if several commits land while a write is in flight, only the last is
// written next.
type PersistenceBridge struct {
	store   Store
	key     string
	logger  *zap.Logger
	metrics *Metrics

	mu         sync.Mutex
	content    *string
	pending    []byte
	hasPending bool
	queued     uint64
	written    uint64
	lastErr    error
	progress   chan struct{} // closed and replaced after each write
	recent     [recentWrites][sha256.Size]byte
	recentNext int
	closed     bool

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewPersistenceBridge starts a bridge writing to key in store. An empty key
// selects DefaultStorageKey.
func NewPersistenceBridge(store Store, key string, logger *zap.Logger, metrics *Metrics) *PersistenceBridge {
	if key == "" {
		key = DefaultStorageKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &PersistenceBridge{
		store:    store,
		key:      key,
		logger:   logger.With(zap.String("store_key", key)),
		metrics:  metrics,
		progress: make(chan struct{}),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

// Key returns the store key.
func (b *PersistenceBridge) Key() string {
	return b.key
}

// Content returns the content last loaded or handed to the writer. Nil means
// the document was never persisted or was cleared.
func (b *PersistenceBridge) Content() *string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.content == nil {
		return nil
	}
	c := *b.content
	return &c
}

// Load reads the stored envelope and decodes it. Absent, null or empty
// content yields the default tree. Corrupt content also yields the default
// tree, with the cause in LoadResult.Err. Only a store failure is returned
// as an error.
func (b *PersistenceBridge) Load(ctx context.Context, reg *Registry, mint func() NodeKey) (*decodedTree, LoadResult, error) {
	data, err := b.store.Get(ctx, b.key)
	if errors.Is(err, ErrKeyNotFound) {
		b.metrics.load(LoadDefault)
		return defaultTree(mint), LoadResult{Source: LoadDefault}, nil
	}
	if err != nil {
		return nil, LoadResult{}, fmt.Errorf("load %q: %w", b.key, err)
	}
	b.mu.Lock()
	b.remember(data)
	b.mu.Unlock()

	tree, res := b.decode(data, reg, mint)
	b.metrics.load(res.Source)
	b.metrics.nodesSkipped(len(res.Skipped))
	return tree, res, nil
}

func (b *PersistenceBridge) decode(data []byte, reg *Registry, mint func() NodeKey) (*decodedTree, LoadResult) {
	content, err := decodeEnvelope(data)
	if err != nil {
		b.logger.Warn("snapshot corrupt, starting empty", zap.Error(err))
		return defaultTree(mint), LoadResult{Source: LoadFallback, Err: err}
	}
	if content == nil || *content == "" {
		b.setContent(nil)
		return defaultTree(mint), LoadResult{Source: LoadDefault}
	}
	tree, err := decodeSnapshot(reg, []byte(*content), mint)
	if err != nil {
		b.logger.Warn("snapshot corrupt, starting empty", zap.Error(err))
		return defaultTree(mint), LoadResult{Source: LoadFallback, Err: err}
	}
	for _, t := range tree.skipped {
		b.logger.Warn("skipping node of unregistered type", zap.String("type", string(t)))
	}
	b.setContent(content)
	return tree, LoadResult{Source: LoadSnapshot, Skipped: tree.skipped}
}

func (b *PersistenceBridge) setContent(content *string) {
	b.mu.Lock()
	b.content = content
	b.mu.Unlock()
}

func (b *PersistenceBridge) queuedCount() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queued
}

// remember records the hash of data as one of the bridge's own writes. The
// caller holds b.mu.
func (b *PersistenceBridge) remember(data []byte) {
	b.recent[b.recentNext] = sha256.Sum256(data)
	b.recentNext = (b.recentNext + 1) % recentWrites
}

// isOwnWrite reports whether data matches something this bridge wrote or
// loaded recently.
func (b *PersistenceBridge) isOwnWrite(data []byte) bool {
	sum := sha256.Sum256(data)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range b.recent {
		if h == sum {
			return true
		}
	}
	return false
}

// enqueue hands content to the writer. Nil content writes the cleared
// envelope.
func (b *PersistenceBridge) enqueue(content *string) {
	data, err := encodeEnvelope(content)
	if err != nil {
		b.logger.Error("encode envelope", zap.Error(err))
		return
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Warn("snapshot dropped after close")
		return
	}
	b.content = content
	b.pending = data
	b.hasPending = true
	b.queued++
	b.remember(data)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// onUpdate is the bridge's update listener.
func (b *PersistenceBridge) onUpdate(e *Editor, ev UpdateEvent) {
	if !ev.Mutated {
		return
	}
	// Only the reload commit itself mirrors the store. Undo and redo steps
	// that land on a reloaded revision must still be written.
	if ev.HasTag(TagReload) && !ev.HasTag(TagHistoryUndo) && !ev.HasTag(TagHistoryRedo) {
		return
	}
	if ev.HasTag(TagClear) {
		b.enqueue(nil)
		return
	}
	var snapshot []byte
	err := e.Read(func(tx *Txn) error {
		var err error
		snapshot, err = EncodeSnapshot(tx)
		return err
	})
	if err != nil {
		b.logger.Error("encode snapshot", zap.Error(err))
		return
	}
	content := string(snapshot)
	b.enqueue(&content)
}

func (b *PersistenceBridge) run() {
	defer close(b.done)
	for {
		select {
		case <-b.wake:
			b.writePending()
		case <-b.stop:
			b.writePending()
			return
		}
	}
}

func (b *PersistenceBridge) writePending() {
	b.mu.Lock()
	if !b.hasPending {
		b.mu.Unlock()
		return
	}
	data, seq := b.pending, b.queued
	b.pending, b.hasPending = nil, false
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	err := b.store.Set(ctx, b.key, data)
	cancel()

	b.metrics.snapshotWrite(err)
	if err != nil {
		b.logger.Error("snapshot write failed", zap.Int("bytes", len(data)), zap.Error(err))
	} else {
		b.logger.Debug("snapshot written", zap.Int("bytes", len(data)))
	}

	b.mu.Lock()
	b.written = seq
	b.lastErr = err
	close(b.progress)
	b.progress = make(chan struct{})
	b.mu.Unlock()
}

// Flush waits until everything enqueued so far has been written and returns
// the result of the last write.
func (b *PersistenceBridge) Flush(ctx context.Context) error {
	b.mu.Lock()
	target := b.queued
	b.mu.Unlock()
	for {
		b.mu.Lock()
		if b.written >= target {
			err := b.lastErr
			b.mu.Unlock()
			return err
		}
		progress := b.progress
		b.mu.Unlock()

		select {
		case <-progress:
		case <-b.done:
			b.mu.Lock()
			err := b.lastErr
			if b.written < target {
				err = ErrStoreClosed
			}
			b.mu.Unlock()
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close writes any pending snapshot and stops the writer. The store itself
// stays open.
func (b *PersistenceBridge) Close() error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.stop)
	})
	<-b.done
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

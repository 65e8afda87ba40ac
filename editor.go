package mathdoc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/phroun/mathdoc/mathml"
	"go.uber.org/zap"
)

// LibraryOptions configures the mathdoc library.
type LibraryOptions struct {
	// Store holds the durable snapshots of every editor opened through the
	// library. Defaults to a MemoryStore.
	Store Store

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger

	// Metrics may be nil.
	Metrics *Metrics

	// Registry defaults to DefaultRegistry().
	Registry *Registry

	// Renderer typesets equations. Defaults to the mathml package.
	Renderer MathRenderer
}

// Library manages editors and the resources they share.
type Library struct {
	store    Store
	logger   *zap.Logger
	metrics  *Metrics
	registry *Registry
	renderer MathRenderer

	mu      sync.Mutex
	editors map[string]*Editor
	closed  bool
}

// Init initializes the library.
func Init(options LibraryOptions) (*Library, error) {
	lib := &Library{
		store:    options.Store,
		logger:   options.Logger,
		metrics:  options.Metrics,
		registry: options.Registry,
		renderer: options.Renderer,
		editors:  make(map[string]*Editor),
	}
	if lib.store == nil {
		lib.store = NewMemoryStore()
	}
	if lib.logger == nil {
		lib.logger = zap.NewNop()
	}
	if lib.registry == nil {
		lib.registry = DefaultRegistry()
	}
	if lib.renderer == nil {
		lib.renderer = mathml.Renderer{}
	}
	return lib, nil
}

// Store returns the library's store.
func (lib *Library) Store() Store {
	return lib.store
}

// Close closes every open editor and then the store.
func (lib *Library) Close() error {
	lib.mu.Lock()
	if lib.closed {
		lib.mu.Unlock()
		return nil
	}
	lib.closed = true
	editors := make([]*Editor, 0, len(lib.editors))
	for _, e := range lib.editors {
		editors = append(editors, e)
	}
	lib.mu.Unlock()

	var errs []error
	for _, e := range editors {
		errs = append(errs, e.Close())
	}
	errs = append(errs, lib.store.Close())
	return errors.Join(errs...)
}

// Plugin extends an editor when it opens. The returned function, if any,
// runs when the editor closes.
type Plugin func(e *Editor) (unregister func())

// EditorOptions configures how an Editor is opened.
type EditorOptions struct {
	// StoreKey selects the snapshot slot. Defaults to DefaultStorageKey.
	StoreKey string

	// DisablePersistence keeps the document in memory only.
	DisablePersistence bool

	// DisableMath leaves INSERT_MATH unhandled.
	DisableMath bool

	History HistoryOptions

	// Renderer overrides the library's renderer for this editor.
	Renderer MathRenderer

	Plugins []Plugin

	// WatchStore reports foreign changes to the snapshot through
	// OnStoreChange. Only a FileStore can be watched.
	WatchStore    bool
	OnStoreChange StoreChangeHandler
}

// UpdateListener observes committed updates. Listeners run after the editor
// lock is released, one event at a time, in registration order.
type UpdateListener func(e *Editor, ev UpdateEvent)

type listenerEntry struct {
	id uint64
	fn UpdateListener
}

// Editor is one open document.
type Editor struct {
	lib *Library
	id  string

	logger   *zap.Logger
	metrics  *Metrics
	registry *Registry
	renderer MathRenderer
	bus      *CommandBus

	mu        sync.RWMutex
	doc       *Document
	selection Selection
	tx        *Txn
	history   *historyState
	dom       *reconciler

	viewMu sync.Mutex
	views  map[NodeKey]*MathView

	listenerMu     sync.Mutex
	listeners      []listenerEntry
	nextListenerID uint64

	eventMu  sync.Mutex
	events   []UpdateEvent
	draining bool

	signalMu sync.Mutex

	bridge     *PersistenceBridge
	loadResult LoadResult
	watch      *storeWatch

	closed   atomic.Bool
	teardown []func()
}

// Open loads an editor from the library's store.
func (lib *Library) Open(ctx context.Context, options EditorOptions) (*Editor, error) {
	lib.mu.Lock()
	closed := lib.closed
	lib.mu.Unlock()
	if closed {
		return nil, ErrEditorClosed
	}
	if !options.DisableMath && !lib.registry.Has(TypeMath) {
		return nil, errMathNotRegistered
	}

	id := uuid.NewString()
	e := &Editor{
		lib:      lib,
		id:       id,
		logger:   lib.logger.With(zap.String("editor_id", id)),
		metrics:  lib.metrics,
		registry: lib.registry,
		renderer: lib.renderer,
		views:    make(map[NodeKey]*MathView),
	}
	if options.Renderer != nil {
		e.renderer = options.Renderer
	}
	e.doc = newDocument(e.registry)
	e.bus = newCommandBus(e, e.logger, e.metrics)

	var tree *decodedTree
	if options.DisablePersistence {
		tree = defaultTree(e.doc.mintKey)
		e.loadResult = LoadResult{Source: LoadDefault}
	} else {
		e.bridge = NewPersistenceBridge(lib.store, options.StoreKey, e.logger, e.metrics)
		t, res, err := e.bridge.Load(ctx, e.registry, e.doc.mintKey)
		if err != nil {
			e.bridge.Close()
			return nil, err
		}
		tree, e.loadResult = t, res
	}
	e.doc.install(tree.nodes, 0)
	e.history = newHistoryState(e.doc, options.History)
	e.dom = newReconciler(e.registry)
	e.dom.decorate = e.decorateMath
	e.dom.release = e.releaseView

	e.teardown = append(e.teardown,
		e.RegisterUpdateListener(func(e *Editor, ev UpdateEvent) {
			_ = e.Read(func(tx *Txn) error {
				e.dom.reconcile(tx)
				return nil
			})
		}),
		registerHistory(e),
	)
	if e.bridge != nil {
		e.teardown = append(e.teardown, e.RegisterUpdateListener(e.bridge.onUpdate))
	}
	e.teardown = append(e.teardown, registerCoreCommands(e), registerTableCommands(e))
	if !options.DisableMath {
		unregister, err := registerMathPlugin(e)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.teardown = append(e.teardown, unregister)
	}
	for _, p := range options.Plugins {
		if unregister := p(e); unregister != nil {
			e.teardown = append(e.teardown, unregister)
		}
	}

	e.refreshViews()
	e.signalHistory(true)

	if options.WatchStore && e.bridge != nil {
		fs, ok := lib.store.(*FileStore)
		if !ok {
			e.Close()
			return nil, errors.New("mathdoc: only a FileStore can be watched")
		}
		if err := e.watchStore(fs, options.OnStoreChange); err != nil {
			e.Close()
			return nil, err
		}
	}

	lib.mu.Lock()
	lib.editors[id] = e
	lib.mu.Unlock()

	e.logger.Debug("editor opened",
		zap.Stringer("source", e.loadResult.Source),
		zap.Int("nodes", e.doc.liveCount()))
	return e, nil
}

var errMathNotRegistered = fmt.Errorf("%w: MathPlugin: MathNode not registered on editor", ErrNodeNotRegistered)

// Close flushes pending writes, stops the store watch and runs every
// registered teardown. It is safe to call more than once.
func (e *Editor) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.stopWatch()
	for i := len(e.teardown) - 1; i >= 0; i-- {
		e.teardown[i]()
	}
	e.teardown = nil

	var err error
	if e.bridge != nil {
		err = e.bridge.Close()
	}

	e.lib.mu.Lock()
	delete(e.lib.editors, e.id)
	e.lib.mu.Unlock()

	e.logger.Debug("editor closed")
	return err
}

// ID returns the editor's unique identifier.
func (e *Editor) ID() string { return e.id }

// Bus returns the editor's command bus.
func (e *Editor) Bus() *CommandBus { return e.bus }

// Registry returns the node registry the editor was opened with.
func (e *Editor) Registry() *Registry { return e.registry }

// LoadResult tells how the initial document was obtained.
func (e *Editor) LoadResult() LoadResult { return e.loadResult }

// Flush waits until every snapshot handed to the writer so far is stored.
func (e *Editor) Flush(ctx context.Context) error {
	if e.bridge == nil {
		return nil
	}
	return e.bridge.Flush(ctx)
}

// RegisterUpdateListener adds fn to the listeners called after every update.
func (e *Editor) RegisterUpdateListener(fn UpdateListener) (unregister func()) {
	e.listenerMu.Lock()
	e.nextListenerID++
	id := e.nextListenerID
	e.listeners = append(e.listeners, listenerEntry{id: id, fn: fn})
	e.listenerMu.Unlock()

	return func() {
		e.listenerMu.Lock()
		defer e.listenerMu.Unlock()
		for i, l := range e.listeners {
			if l.id == id {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

// enqueueEvent queues ev for delivery by drainEvents. Callers may hold e.mu.
func (e *Editor) enqueueEvent(ev UpdateEvent) {
	e.eventMu.Lock()
	e.events = append(e.events, ev)
	e.eventMu.Unlock()
}

// drainEvents delivers queued events. Only one goroutine drains at a time,
// so events reach listeners in commit order; a commit made from inside a
// listener is delivered after the current event by the same drainer.
func (e *Editor) drainEvents() {
	e.eventMu.Lock()
	if e.draining {
		e.eventMu.Unlock()
		return
	}
	e.draining = true
	for len(e.events) > 0 {
		ev := e.events[0]
		e.events = e.events[1:]
		e.eventMu.Unlock()
		e.deliver(ev)
		e.eventMu.Lock()
	}
	e.draining = false
	e.eventMu.Unlock()
}

func (e *Editor) deliver(ev UpdateEvent) {
	e.listenerMu.Lock()
	listeners := make([]listenerEntry, len(e.listeners))
	copy(listeners, e.listeners)
	e.listenerMu.Unlock()

	for _, l := range listeners {
		l.fn(e, ev)
	}
	if ev.SelectionChanged {
		Dispatch(e, SelectionChangeCommand, struct{}{})
	}
}

// SetSelection replaces the selection. Keys that are not in the tree are
// dropped.
func (e *Editor) SetSelection(sel Selection) error {
	return e.Update("selection", func(tx *Txn) error {
		tx.SetSelection(sel)
		return nil
	})
}

// Selection returns a copy of the committed selection, or nil.
func (e *Editor) Selection() Selection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneSelection(e.selection)
}

// StoreState returns the durable content together with the live selection
// facts the UI shell needs.
func (e *Editor) StoreState() StoreState {
	st := StoreState{SelectionType: "none"}
	if e.bridge != nil {
		st.Content = e.bridge.Content()
	}
	_ = e.Read(func(tx *Txn) error {
		_, st.IsTableActive = tx.SelectedCell()
		st.SelectionType = SelectionType(tx.Selection())
		return nil
	})
	return st
}

// HTML renders the current containers.
func (e *Editor) HTML() string {
	return e.dom.html()
}

// ExportHTML renders the current containers through the export sanitiser.
func (e *Editor) ExportHTML() string {
	return exportPolicy().Sanitize(e.dom.html())
}

// JSON returns the snapshot of the committed document.
func (e *Editor) JSON() ([]byte, error) {
	var out []byte
	err := e.Read(func(tx *Txn) error {
		var err error
		out, err = EncodeSnapshot(tx)
		return err
	})
	return out, err
}

// ReconcileStats returns the reconciler's running counters.
func (e *Editor) ReconcileStats() ReconcileStats {
	return e.dom.snapshotStats()
}

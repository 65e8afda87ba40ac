package mathdoc

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// StoreChangeType classifies a change made to the stored snapshot by someone
// other than this editor.
type StoreChangeType int

const (
	// StoreUnchanged means the stored value is one this editor wrote or loaded.
	StoreUnchanged StoreChangeType = iota

	// StoreModified means the stored value was replaced.
	StoreModified

	// StoreDeleted means the stored value no longer exists.
	StoreDeleted
)

func (t StoreChangeType) String() string {
	switch t {
	case StoreUnchanged:
		return "unchanged"
	case StoreModified:
		return "modified"
	case StoreDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// StoreChangeStatus is the editor's view of the store.
type StoreChangeStatus int

const (
	// StoreStatusNormal means no foreign change is outstanding.
	StoreStatusNormal StoreChangeStatus = iota

	// StoreStatusChanged means a foreign change was detected and not yet
	// acknowledged.
	StoreStatusChanged
)

// StoreChangeInfo describes a detected change.
type StoreChangeInfo struct {
	Type StoreChangeType
	Key  string
	Size int
}

// StoreChangeHandler is called, outside every editor lock, when a foreign
// change to the stored snapshot is detected.
type StoreChangeHandler func(e *Editor, status StoreChangeStatus, info StoreChangeInfo)

// watchDebounce lets a burst of filesystem events settle before the store is
// read.
const watchDebounce = 100 * time.Millisecond

type storeWatch struct {
	watcher *fsnotify.Watcher
	target  string
	handler StoreChangeHandler

	mu     sync.Mutex
	status StoreChangeStatus

	stop chan struct{}
	wg   sync.WaitGroup
}

// watchStore starts watching the directory of a FileStore for changes to the
// editor's key.
func (e *Editor) watchStore(fs *FileStore, handler StoreChangeHandler) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(fs.BasePath()); err != nil {
		watcher.Close()
		return err
	}
	w := &storeWatch{
		watcher: watcher,
		target:  filepath.Clean(fs.pathFor(e.bridge.Key())),
		handler: handler,
		stop:    make(chan struct{}),
	}
	e.watch = w
	w.wg.Add(1)
	go e.runWatch(w)
	return nil
}

func (e *Editor) runWatch(w *storeWatch) {
	defer w.wg.Done()

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.target {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(watchDebounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			e.logger.Warn("store watch error", zap.Error(err))
		case <-timer.C:
			e.checkStoreAndNotify(context.Background())
		}
	}
}

func (e *Editor) stopWatch() {
	w := e.watch
	if w == nil {
		return
	}
	close(w.stop)
	w.watcher.Close()
	w.wg.Wait()
	e.watch = nil
}

// CheckStoreChange compares the stored snapshot with what this editor last
// wrote or loaded.
func (e *Editor) CheckStoreChange(ctx context.Context) (StoreChangeInfo, error) {
	if e.bridge == nil {
		return StoreChangeInfo{Type: StoreUnchanged}, nil
	}
	key := e.bridge.Key()
	data, err := e.bridge.store.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		if e.bridge.Content() == nil && e.bridge.queuedCount() == 0 {
			return StoreChangeInfo{Type: StoreUnchanged, Key: key}, nil
		}
		return StoreChangeInfo{Type: StoreDeleted, Key: key}, nil
	}
	if err != nil {
		return StoreChangeInfo{}, err
	}
	info := StoreChangeInfo{Type: StoreUnchanged, Key: key, Size: len(data)}
	if !e.bridge.isOwnWrite(data) {
		info.Type = StoreModified
	}
	return info, nil
}

func (e *Editor) checkStoreAndNotify(ctx context.Context) {
	w := e.watch
	info, err := e.CheckStoreChange(ctx)
	if err != nil {
		e.logger.Warn("store check failed", zap.Error(err))
		return
	}
	if info.Type == StoreUnchanged {
		return
	}
	e.logger.Info("store changed externally", zap.Stringer("change", info.Type))

	w.mu.Lock()
	w.status = StoreStatusChanged
	handler := w.handler
	w.mu.Unlock()

	if handler != nil {
		handler(e, StoreStatusChanged, info)
	}
}

// StoreStatus reports whether a foreign store change is outstanding.
func (e *Editor) StoreStatus() StoreChangeStatus {
	w := e.watch
	if w == nil {
		return StoreStatusNormal
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// AcknowledgeStoreChange resolves a detected change. With reload the stored
// snapshot replaces the document in one undoable transaction tagged
// "reload"; otherwise the editor keeps its content, and its next write
// overwrites the store.
func (e *Editor) AcknowledgeStoreChange(ctx context.Context, reload bool) error {
	if w := e.watch; w != nil {
		w.mu.Lock()
		w.status = StoreStatusNormal
		w.mu.Unlock()
	}
	if !reload || e.bridge == nil {
		return nil
	}

	data, err := e.bridge.store.Get(ctx, e.bridge.Key())
	missing := errors.Is(err, ErrKeyNotFound)
	if err != nil && !missing {
		return err
	}
	if !missing {
		e.bridge.mu.Lock()
		e.bridge.remember(data)
		e.bridge.mu.Unlock()
	}

	return e.Update("reload", func(tx *Txn) error {
		tx.Tag(TagReload)
		if missing {
			e.bridge.setContent(nil)
			return tx.replaceContent(defaultTree(tx.doc.mintKey))
		}
		tree, res := e.bridge.decode(data, e.registry, tx.doc.mintKey)
		e.metrics.nodesSkipped(len(res.Skipped))
		return tx.replaceContent(tree)
	})
}

package mathdoc

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Priority orders handlers for the same command. Higher runs first.
type Priority int

const (
	PriorityEditor Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Command is a typed command identity. Two commands are the same only if
// they are the same value; the name is for logs and metrics.
type Command[P any] struct {
	name string
}

// NewCommand declares a command carrying payloads of type P.
func NewCommand[P any](name string) *Command[P] {
	return &Command[P]{name: name}
}

// Name returns the command's name.
func (c *Command[P]) Name() string {
	return c.name
}

// Handler processes one dispatch. Returning true stops propagation.
type Handler[P any] func(e *Editor, payload P) bool

type handlerEntry struct {
	id       uint64
	priority Priority
	fn       func(e *Editor, payload any) bool
}

// CommandBus routes commands to handlers. Handlers are offered a payload in
// descending priority, and in registration order within one priority.
type CommandBus struct {
	mu       sync.RWMutex
	handlers map[any][]handlerEntry
	nextID   uint64

	editor  *Editor
	logger  *zap.Logger
	metrics *Metrics
}

func newCommandBus(e *Editor, logger *zap.Logger, metrics *Metrics) *CommandBus {
	return &CommandBus{
		handlers: make(map[any][]handlerEntry),
		editor:   e,
		logger:   logger,
		metrics:  metrics,
	}
}

// Registrar collects handlers so that a whole set is added, and later
// removed, under one lock acquisition.
type Registrar struct {
	bus     *CommandBus
	entries []registration
}

type registration struct {
	cmd   any
	entry handlerEntry
}

// On adds a handler to the registrar's set.
func On[P any](r *Registrar, cmd *Command[P], priority Priority, h Handler[P]) {
	r.entries = append(r.entries, registration{
		cmd: cmd,
		entry: handlerEntry{
			priority: priority,
			fn: func(e *Editor, payload any) bool {
				p, _ := payload.(P)
				return h(e, p)
			},
		},
	})
}

// Subscribe registers every handler added by build atomically. The returned
// function removes the same set atomically and is safe to call more than
// once.
func (b *CommandBus) Subscribe(build func(r *Registrar)) (unregister func()) {
	r := &Registrar{bus: b}
	build(r)

	b.mu.Lock()
	ids := make(map[uint64]bool, len(r.entries))
	for _, reg := range r.entries {
		b.nextID++
		reg.entry.id = b.nextID
		ids[reg.entry.id] = true
		list := append(b.handlers[reg.cmd], reg.entry)
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].priority > list[j].priority
		})
		b.handlers[reg.cmd] = list
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for cmd, list := range b.handlers {
				kept := list[:0:0]
				for _, h := range list {
					if !ids[h.id] {
						kept = append(kept, h)
					}
				}
				if len(kept) == 0 {
					delete(b.handlers, cmd)
				} else {
					b.handlers[cmd] = kept
				}
			}
		})
	}
}

// Register adds a single handler and returns its teardown.
func Register[P any](b *CommandBus, cmd *Command[P], priority Priority, h Handler[P]) (unregister func()) {
	return b.Subscribe(func(r *Registrar) {
		On(r, cmd, priority, h)
	})
}

// MergeRegister combines teardown functions into one.
func MergeRegister(fns ...func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			if fns[i] != nil {
				fns[i]()
			}
		}
	}
}

// Dispatch offers payload to the handlers of cmd and reports whether one of
// them handled it. Handlers registered or removed during a dispatch take
// effect from the next dispatch.
func Dispatch[P any](e *Editor, cmd *Command[P], payload P) bool {
	return e.bus.dispatch(cmd, cmd.name, payload)
}

func (b *CommandBus) dispatch(cmd any, name string, payload any) bool {
	b.mu.RLock()
	list := b.handlers[cmd]
	snapshot := make([]handlerEntry, len(list))
	copy(snapshot, list)
	b.mu.RUnlock()

	handled := false
	for _, h := range snapshot {
		if h.fn(b.editor, payload) {
			handled = true
			break
		}
	}

	b.metrics.command(name, handled)
	b.logger.Debug("command dispatched",
		zap.String("command", name),
		zap.Int("handlers", len(snapshot)),
		zap.Bool("handled", handled))
	return handled
}

// HandlerCount returns how many handlers are registered for cmd.
func HandlerCount[P any](b *CommandBus, cmd *Command[P]) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[cmd])
}

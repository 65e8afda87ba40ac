// Package mathdoc provides a headless rich-text document engine with versioned,
// copy-on-write nodes, a priority-ordered command bus, undo/redo history,
// an editable math node, table mutation commands, and durable snapshots.
package mathdoc

import "errors"

// Transaction errors
var (
	// ErrNoTransaction indicates that there is no active transaction.
	ErrNoTransaction = errors.New("no active transaction")

	// ErrTransactionPoisoned indicates that a transaction was poisoned by an inner rollback.
	ErrTransactionPoisoned = errors.New("transaction was poisoned by inner rollback")

	// ErrReadOnlyTransaction indicates a mutation was attempted inside a read transaction.
	ErrReadOnlyTransaction = errors.New("mutation in read-only transaction")
)

// Tree structure errors
var (
	// ErrNodeNotFound indicates that a node key does not exist at the current revision.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNotAnElement indicates that an operation expected an element node.
	ErrNotAnElement = errors.New("node cannot have children")

	// ErrInvalidChild indicates that a node cannot be placed under the given parent.
	ErrInvalidChild = errors.New("invalid child for parent")

	// ErrInvalidPosition indicates that an index or offset is out of bounds.
	ErrInvalidPosition = errors.New("position out of bounds")

	// ErrWrongNodeType indicates a node of an unexpected type.
	ErrWrongNodeType = errors.New("wrong node type")

	// ErrInvalidEquation indicates an equation that is not valid UTF-8.
	ErrInvalidEquation = errors.New("equation is not valid UTF-8")
)

// Registry and snapshot errors
var (
	// ErrUnknownNodeType indicates a type tag with no registered contract.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrNodeNotRegistered indicates that a required node type is missing from the registry.
	ErrNodeNotRegistered = errors.New("node type not registered on editor")

	// ErrInvalidSnapshot indicates that a stored snapshot cannot be decoded.
	ErrInvalidSnapshot = errors.New("invalid snapshot")

	// ErrSnapshotVersion indicates an unsupported fragment version.
	ErrSnapshotVersion = errors.New("unsupported snapshot version")
)

// Storage errors
var (
	// ErrKeyNotFound indicates that the store has no value for the key.
	ErrKeyNotFound = errors.New("key not found")

	// ErrStoreClosed indicates that the store has been closed.
	ErrStoreClosed = errors.New("store closed")
)

// Editor errors
var (
	// ErrEditorClosed indicates that the editor has been closed.
	ErrEditorClosed = errors.New("editor closed")

	// ErrRender indicates that the math typesetter rejected an equation.
	ErrRender = errors.New("render failed")

	// ErrInvalidTableSize indicates a table dimension outside the allowed range.
	ErrInvalidTableSize = errors.New("invalid table size")

	// ErrConfirmationRequired indicates that a destructive action was not confirmed.
	ErrConfirmationRequired = errors.New("confirmation required")
)

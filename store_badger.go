package mathdoc

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Logger receives Badger's own log output. Nil silences it.
	Logger *zap.Logger
}

// BadgerStore keeps values in an embedded Badger database.
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger adapts zap to Badger's logger interface.
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...any)   { l.sugar.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...any) { l.sugar.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...any)    { l.sugar.Infof(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...any)   { l.sugar.Debugf(format, args...) }

// NewBadgerStore opens a Badger database.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Path == "" {
		return nil, errors.New("badger store: path is required for a persistent database")
	}

	var bo badger.Options
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(opts.Path, 0750); err != nil {
			return nil, fmt.Errorf("badger store: create %s: %w", opts.Path, err)
		}
		bo = badger.DefaultOptions(opts.Path)
	}
	bo = bo.WithSyncWrites(opts.SyncWrites).WithNumVersionsToKeep(1)
	if opts.Logger != nil {
		bo = bo.WithLogger(&badgerLogger{sugar: opts.Logger.Named("badger").Sugar()})
	} else {
		bo = bo.WithLogger(nil)
	}

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("badger store: open: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return value, s.wrap(err)
}

func (s *BadgerStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	return s.wrap(err)
}

func (s *BadgerStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	return s.wrap(err)
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrDBClosed):
		return ErrStoreClosed
	default:
		return fmt.Errorf("badger store: %w", err)
	}
}

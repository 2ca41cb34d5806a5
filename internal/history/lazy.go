package history

import (
	"context"
	"sync"
)

// LazyStore opens the session store on first use and retries until the file
// exists, so the dashboard can start before the CLI has ever run.
type LazyStore struct {
	path string

	mu    sync.Mutex
	store *Store
}

// NewLazyStore returns a LazyStore for path. Nothing is opened yet.
func NewLazyStore(path string) *LazyStore {
	return &LazyStore{path: path}
}

func (l *LazyStore) open() (*Store, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store != nil {
		return l.store, nil
	}
	s, err := Open(l.path)
	if err != nil {
		return nil, err
	}
	l.store = s
	return s, nil
}

func (l *LazyStore) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	s, err := l.open()
	if err != nil {
		return nil, err
	}
	return s.ListSessions(ctx, limit)
}

func (l *LazyStore) Lookup(ctx context.Context, id string) (Session, error) {
	s, err := l.open()
	if err != nil {
		return Session{}, err
	}
	return s.Lookup(ctx, id)
}

func (l *LazyStore) GetSession(ctx context.Context, id string) (*Detail, error) {
	s, err := l.open()
	if err != nil {
		return nil, err
	}
	return s.GetSession(ctx, id)
}

func (l *LazyStore) ListFiles(ctx context.Context, limit int) ([]FileEntry, error) {
	s, err := l.open()
	if err != nil {
		return nil, err
	}
	return s.ListFiles(ctx, limit)
}

// Close closes the store if it was opened.
func (l *LazyStore) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.store == nil {
		return nil
	}
	err := l.store.Close()
	l.store = nil
	return err
}

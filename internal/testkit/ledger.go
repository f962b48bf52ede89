package testkit

import (
	"context"
	"sync"

	"qrscreen/domain/core"
	"qrscreen/domain/screen"
	"qrscreen/ports"
)

// InMemoryLedger is a ports.ScreenLedger kept in process memory, used by
// tests and the CLI when no database is configured.
type InMemoryLedger struct {
	mu      sync.RWMutex
	results map[core.ScreenID]*screen.Result
	order   []core.ScreenID
}

// NewInMemoryLedger creates an empty in-memory ledger.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{results: make(map[core.ScreenID]*screen.Result)}
}

// SaveResult stores a result keyed by its screen ID.
func (l *InMemoryLedger) SaveResult(_ context.Context, result *screen.Result) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.results[result.ScreenID]; !exists {
		l.order = append(l.order, result.ScreenID)
	}
	l.results[result.ScreenID] = result
	return nil
}

// GetResult returns a stored result or core.ErrScreenNotFound.
func (l *InMemoryLedger) GetResult(_ context.Context, id core.ScreenID) (*screen.Result, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res, ok := l.results[id]
	if !ok {
		return nil, core.ErrScreenNotFound
	}
	return res, nil
}

// ListScreens returns the most recent screen IDs, newest first.
func (l *InMemoryLedger) ListScreens(_ context.Context, limit int) ([]core.ScreenID, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := append([]core.ScreenID(nil), l.order...)
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids, nil
}

var _ ports.ScreenLedger = (*InMemoryLedger)(nil)

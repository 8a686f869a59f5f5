// Package memory is an in-memory InteractionStore for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/askwise/askrelay/internal/storage"
)

// Store is an in-memory implementation of InteractionStore.
type Store struct {
	mu    sync.RWMutex
	turns map[string]*storage.TurnRecord
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		turns: make(map[string]*storage.TurnRecord),
	}
}

var _ storage.InteractionStore = (*Store)(nil)

func (s *Store) RecordTurn(ctx context.Context, rec *storage.TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	cp := *rec
	s.turns[rec.CorrID] = &cp
	return nil
}

func (s *Store) GetTurn(ctx context.Context, corrID string) (*storage.TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.turns[corrID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	cp := *rec
	return &cp, nil
}

func (s *Store) ListTurns(ctx context.Context, opts storage.ListOptions) ([]*storage.TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.TurnRecord
	for _, rec := range s.turns {
		if opts.UserID != "" && rec.UserID != opts.UserID {
			continue
		}
		cp := *rec
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// Package memory provides in-process store implementations for local runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/ocsync/internal/store"
)

type stateRow struct {
	value  bool
	extra  string
	hasStr bool
}

// SyncState is a mutex-guarded store.SyncState.
type SyncState struct {
	mu   sync.RWMutex
	rows map[store.Flag]stateRow
}

// NewSyncState constructs an empty SyncState.
func NewSyncState() *SyncState {
	return &SyncState{rows: make(map[store.Flag]stateRow)}
}

// GetBool returns false for flags that were never written.
func (s *SyncState) GetBool(_ context.Context, flag store.Flag) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows[flag].value, nil
}

// SetTrue raises flag, keeping its string column.
func (s *SyncState) SetTrue(_ context.Context, flag store.Flag) error {
	s.setBool(flag, true)
	return nil
}

// SetFalse lowers flag, keeping its string column.
func (s *SyncState) SetFalse(_ context.Context, flag store.Flag) error {
	s.setBool(flag, false)
	return nil
}

func (s *SyncState) setBool(flag store.Flag, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.rows[flag]
	row.value = v
	s.rows[flag] = row
}

// GetString returns the stored string, ok=false when none was written.
func (s *SyncState) GetString(_ context.Context, flag store.Flag) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.rows[flag]
	return row.extra, row.hasStr, nil
}

// SetString stores value, keeping the boolean column.
func (s *SyncState) SetString(_ context.Context, flag store.Flag, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.rows[flag]
	row.extra = value
	row.hasStr = true
	s.rows[flag] = row
	return nil
}

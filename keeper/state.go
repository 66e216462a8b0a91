package keeper

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

// CheckpointState is the durable record of the keeper's last checkpoint
// observations, surviving restarts so a crash loses at most one in-flight
// decision. Absent fields stay nil, matching a tolerant read of older or
// partial files.
type CheckpointState struct {
	LastCheckpointTS *uint64 `json:"last_checkpoint_ts"`
	LastCheckedAt    *uint64 `json:"last_checked_at"`
	LastSubmittedAt  *uint64 `json:"last_submitted_at"`
	LastTxHash       *string `json:"last_tx_hash"`
	NextNonce        *uint64 `json:"next_nonce"`
}

// StateStore holds the current CheckpointState and persists it as a flat JSON
// object with whole-file rewrites. It is the single state view shared by every
// component that writes a field: all mutations go through Update under one
// lock, so one writer never clobbers another writer's fields with a stale
// copy. Writes are best-effort: a failure is logged and swallowed, the worst
// case being a redundant on-chain read after a restart.
type StateStore struct {
	log  log.Logger
	path string

	mu    sync.Mutex
	state CheckpointState
}

func NewStateStore(lgr log.Logger, path string) *StateStore {
	s := &StateStore{log: lgr, path: path}
	s.state = s.read()
	return s
}

// Load returns the current state.
func (s *StateStore) Load() CheckpointState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Update applies mutate to the shared state under the store's lock and
// persists the result, returning the updated state.
func (s *StateStore) Update(mutate func(*CheckpointState)) CheckpointState {
	s.mu.Lock()
	mutate(&s.state)
	state := s.state
	s.mu.Unlock()
	s.persist(state)
	return state
}

// Save replaces the whole state. Production writers use Update so concurrent
// field updates compose; Save exists for seeding and tests.
func (s *StateStore) Save(state CheckpointState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.persist(state)
}

// read loads the persisted state from disk. Missing files and malformed
// payloads yield an empty state, never an error.
func (s *StateStore) read() CheckpointState {
	var state CheckpointState
	if s.path == "" {
		return state
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Debug("failed to load checkpoint state", "path", s.path, "err", err)
		}
		return state
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		s.log.Debug("malformed checkpoint state payload ignored", "path", s.path, "err", err)
		return CheckpointState{}
	}
	return state
}

func (s *StateStore) persist(state CheckpointState) {
	if s.path == "" {
		return
	}
	if err := s.write(state); err != nil {
		s.log.Debug("failed to persist checkpoint state", "path", s.path, "err", err)
	}
}

func (s *StateStore) write(state CheckpointState) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	raw, err := json.MarshalIndent(&state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o644)
}

package txsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum-optimism/optimism/op-service/locks"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// LockTable hands out one mutex per account address. Lock identity is the
// address value itself, so independently constructed components submitting for
// the same account still serialize against each other.
type LockTable struct {
	table locks.RWMap[common.Address, *sync.Mutex]
}

func NewLockTable() *LockTable {
	return &LockTable{}
}

func (t *LockTable) For(addr common.Address) *sync.Mutex {
	t.table.CreateIfMissing(addr, func() *sync.Mutex { return &sync.Mutex{} })
	mu, _ := t.table.Get(addr)
	return mu
}

type nonceEntry struct {
	next  uint64
	valid bool
	// stale retains the last known value after an invalidation so a re-fetch
	// can be reconciled against it.
	stale    uint64
	hasStale bool
}

// NonceSequencer allocates the next transaction nonce per account, caching the
// chain's pending count between submissions. Callers must hold the account's
// lock from the LockTable around Next/Advance/Invalidate and the broadcast they
// bracket.
type NonceSequencer struct {
	log     log.Logger
	backend Backend

	mu      sync.Mutex
	entries map[common.Address]*nonceEntry
}

func NewNonceSequencer(lgr log.Logger, backend Backend) *NonceSequencer {
	return &NonceSequencer{
		log:     lgr,
		backend: backend,
		entries: make(map[common.Address]*nonceEntry),
	}
}

func (s *NonceSequencer) entry(addr common.Address) *nonceEntry {
	e, ok := s.entries[addr]
	if !ok {
		e = &nonceEntry{}
		s.entries[addr] = e
	}
	return e
}

// Next returns the nonce to use for the account's next transaction. The first
// call (and any call after an invalidation) fetches the chain's pending count;
// later calls are served from the cache without an RPC round-trip.
func (s *NonceSequencer) Next(ctx context.Context, addr common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(addr)
	if e.valid {
		return e.next, nil
	}

	pending, err := s.backend.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending nonce for %s: %w", addr, err)
	}
	next := pending
	if e.hasStale && e.stale > pending {
		// A transaction the node has not indexed yet may be in flight. Trust
		// the local sequence; the retry path recovers from "nonce too low".
		next = e.stale
	}
	e.next = next
	e.valid = true
	return next, nil
}

// Advance moves the cached next nonce forward after a successful broadcast.
// The cache never moves backwards.
func (s *NonceSequencer) Advance(addr common.Address, next uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(addr)
	if e.valid && e.next >= next {
		return
	}
	if !e.valid && e.hasStale && e.stale > next {
		next = e.stale
	}
	e.next = next
	e.valid = true
}

// Seed installs a persisted next nonce, without overriding anything already
// learned this process lifetime.
func (s *NonceSequencer) Seed(addr common.Address, next uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(addr)
	if e.valid || e.hasStale {
		return
	}
	e.next = next
	e.valid = true
}

// Invalidate clears the cached nonce so the next allocation re-syncs with the
// chain. The last known value is retained for forward-only reconciliation.
func (s *NonceSequencer) Invalidate(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(addr)
	if e.valid {
		e.stale = e.next
		e.hasStale = true
	}
	e.valid = false
	s.log.Debug("cleared cached nonce", "account", addr)
}

// Override force-sets the next nonce, used when the provider hints the expected
// nonce in an error message.
func (s *NonceSequencer) Override(addr common.Address, next uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(addr)
	e.next = next
	e.valid = true
	e.hasStale = false
}

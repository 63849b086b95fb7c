// Package state persists the agent's single logical document with
// read-modify-write semantics. Implementations serialize updates; there are
// no partial writes.
package state

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/vitwit/x402-agent/types"
)

// Store is the persistence boundary for the agent document.
type Store interface {
	// Load returns the current document, initialized with defaults when
	// nothing has been persisted yet.
	Load(ctx context.Context) (*types.State, error)

	// Update applies fn to the current document and persists the result
	// atomically. fn returning an error aborts the write.
	Update(ctx context.Context, fn func(*types.State) error) error
}

// DefaultState returns the document used before any state has been saved.
func DefaultState() *types.State {
	return &types.State{
		Settings: types.Settings{
			ThresholdUsd:    decimal.NewFromFloat(0.10),
			DailyAutoCapUsd: decimal.NewFromInt(5),
			PreferredToken:  "USDC",
			Chain:           types.NetworkBase,
		},
		Policies: make(map[string]*types.SitePolicy),
		Balances: make(map[types.Network]types.BalanceSnapshot),
		Tokens:   make(map[string]types.SettlementToken),
		Pending:  make(map[string]types.PendingChallenge),
	}
}

// normalize backfills nil maps after JSON decoding so callers can write
// into the document without nil checks.
func normalize(st *types.State) *types.State {
	if st.Policies == nil {
		st.Policies = make(map[string]*types.SitePolicy)
	}
	if st.Balances == nil {
		st.Balances = make(map[types.Network]types.BalanceSnapshot)
	}
	if st.Tokens == nil {
		st.Tokens = make(map[string]types.SettlementToken)
	}
	if st.Pending == nil {
		st.Pending = make(map[string]types.PendingChallenge)
	}
	return st
}

// MemStore is an in-memory Store for tests and ephemeral agents.
type MemStore struct {
	mu sync.Mutex
	st *types.State
}

func NewMemStore() *MemStore {
	return &MemStore{st: DefaultState()}
}

func (m *MemStore) Load(ctx context.Context) (*types.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneState(m.st)
}

func (m *MemStore) Update(ctx context.Context, fn func(*types.State) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	working, err := cloneState(m.st)
	if err != nil {
		return err
	}
	if err := fn(working); err != nil {
		return err
	}
	m.st = working
	return nil
}

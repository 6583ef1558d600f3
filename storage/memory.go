package storage

import (
	"sync"

	"github.com/confirmledger/meta"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type MemoryStore struct {
	mu       sync.RWMutex
	blocks   []*meta.Block
	balances map[string]decimal.Decimal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks:   make([]*meta.Block, 0),
		balances: make(map[string]decimal.Decimal),
	}
}

func (m *MemoryStore) LatestBlockIndex() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.blocks) == 0 {
		return -1, nil
	}
	return m.blocks[len(m.blocks)-1].Index, nil
}

func (m *MemoryStore) AppendBlock(block *meta.Block) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(block)
}

// appendLocked must be called with the lock held
func (m *MemoryStore) appendLocked(block *meta.Block) error {
	next := int64(len(m.blocks))
	if block.Index != next {
		return errors.Errorf("append block %d, expected index %d", block.Index, next)
	}
	m.blocks = append(m.blocks, block)
	return nil
}

func (m *MemoryStore) Blocks() ([]*meta.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*meta.Block, len(m.blocks))
	copy(out, m.blocks)
	return out, nil
}

func (m *MemoryStore) GetBalance(addr string) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.balances[addr]
	return b, ok, nil
}

func (m *MemoryStore) SetBalance(addr string, amount decimal.Decimal) error {
	m.mu.Lock()
	m.balances[addr] = amount
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) CommitBlock(block *meta.Block, balances map[string]decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.appendLocked(block); err != nil {
		return err
	}
	for addr, amount := range balances {
		m.balances[addr] = amount
	}
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

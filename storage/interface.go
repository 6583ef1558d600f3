package storage

import (
	"github.com/confirmledger/meta"
	"github.com/shopspring/decimal"
)

// BalanceStore is the durable balance table.
type BalanceStore interface {
	GetBalance(addr string) (decimal.Decimal, bool, error)
	// SetBalance overwrites one entry outside of a block commit, used to
	// repair the table from replay.
	SetBalance(addr string, amount decimal.Decimal) error
}

// ChainStore is the durable block log.
type ChainStore interface {
	// LatestBlockIndex returns -1 when no block has been stored.
	LatestBlockIndex() (int64, error)
	AppendBlock(block *meta.Block) error
	Blocks() ([]*meta.Block, error)
}

type Store interface {
	BalanceStore
	ChainStore
	// CommitBlock appends the block and writes balances all-or-nothing.
	CommitBlock(block *meta.Block, balances map[string]decimal.Decimal) error
	Close() error
}

package chain

import (
	"context"
	"strings"

	"github.com/confirmledger/commonconst"
	"github.com/confirmledger/merkle"
	"github.com/confirmledger/meta"
	"github.com/confirmledger/util"
	"github.com/pkg/errors"
)

// Sealer searches the nonce space of a block template.
type Sealer interface {
	Seal(ctx context.Context, block *meta.Block) error
}

// InlineSealer runs the search on the caller's goroutine.
type InlineSealer struct{}

func (InlineSealer) Seal(ctx context.Context, block *meta.Block) error {
	return Seal(ctx, block)
}

//创建区块模板, merkle root is built once here
func NewBlockTemplate(index int64, timestamp, prevHash string, txs []*meta.Transaction, difficulty int) *meta.Block {
	b := &meta.Block{
		Index:        index,
		Timestamp:    timestamp,
		PreviousHash: prevHash,
		Transactions: txs,
		Difficulty:   difficulty,
	}
	b.MerkleRoot = merkle.Root(b.TransactionIDs())
	b.Hash = CalculateHash(b)
	return b
}

func CalculateHash(b *meta.Block) string {
	return util.CalBlockHash(b)
}

func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty < 0 || difficulty > len(hash) {
		return false
	}
	return strings.HasPrefix(hash, strings.Repeat("0", difficulty))
}

// Seal searches nonces from 0 upward until the hash meets the block's
// difficulty. The context is polled every MiningYieldInterval attempts.
func Seal(ctx context.Context, b *meta.Block) error {
	target := strings.Repeat("0", b.Difficulty)
	for nonce := uint64(0); ; nonce++ {
		if nonce%commonconst.MiningYieldInterval == 0 {
			select {
			case <-ctx.Done():
				return errors.Wrapf(meta.ErrMiningCancelled, "block %d after %d attempts: %v", b.Index, nonce, ctx.Err())
			default:
			}
		}
		b.Nonce = nonce
		hash := CalculateHash(b)
		if strings.HasPrefix(hash, target) {
			b.Hash = hash
			return nil
		}
	}
}

//挖矿
func Mine(ctx context.Context, index int64, timestamp, prevHash string, txs []*meta.Transaction, difficulty int) (*meta.Block, error) {
	b := NewBlockTemplate(index, timestamp, prevHash, txs, difficulty)
	if err := Seal(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

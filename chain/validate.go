package chain

import (
	"github.com/cloudflare/cfssl/log"
	"github.com/confirmledger/commonconst"
	"github.com/confirmledger/merkle"
	"github.com/confirmledger/meta"
	"github.com/confirmledger/wallet"
	mapset "github.com/deckarep/golang-set"
	"github.com/pkg/errors"
)

// ValidateOptions selects routine or audit validation. Audit re-verifies
// every transaction signature against Registry.
type ValidateOptions struct {
	Audit    bool
	Registry wallet.KeyRegistry
}

func Validate(blocks []*meta.Block, opts ValidateOptions) bool {
	if err := Check(blocks, opts); err != nil {
		log.Warning("chain validation failed: ", err)
		return false
	}
	return true
}

// Check walks the whole chain and reports the first violation.
func Check(blocks []*meta.Block, opts ValidateOptions) error {
	if len(blocks) == 0 {
		return errors.Wrap(meta.ErrChainIntegrity, "empty chain")
	}
	if blocks[0].PreviousHash != commonconst.GenesisPrevHash {
		return errors.Wrap(meta.ErrChainIntegrity, "genesis previous hash")
	}
	seen := mapset.NewThreadUnsafeSet()
	for i, b := range blocks {
		if err := checkBlock(b, opts, seen); err != nil {
			return errors.Wrapf(err, "block %d", i)
		}
		if b.Index != int64(i) {
			return errors.Wrapf(meta.ErrChainIntegrity, "block %d has index %d", i, b.Index)
		}
		if i > 0 && b.PreviousHash != blocks[i-1].Hash {
			return errors.Wrapf(meta.ErrChainIntegrity, "block %d previous hash does not link", i)
		}
	}
	return nil
}

func checkBlock(b *meta.Block, opts ValidateOptions, seen mapset.Set) error {
	if b.Difficulty < commonconst.MinDifficulty || b.Difficulty > commonconst.MaxDifficulty {
		return errors.Wrapf(meta.ErrChainIntegrity, "difficulty %d out of bounds", b.Difficulty)
	}
	if CalculateHash(b) != b.Hash {
		return errors.Wrap(meta.ErrChainIntegrity, "stored hash does not match contents")
	}
	if !MeetsDifficulty(b.Hash, b.Difficulty) {
		return errors.Wrap(meta.ErrChainIntegrity, "hash does not meet difficulty")
	}
	if merkle.Root(b.TransactionIDs()) != b.MerkleRoot {
		return errors.Wrap(meta.ErrChainIntegrity, "merkle root mismatch")
	}
	for _, tx := range b.Transactions {
		if CalTransHash(tx) != tx.TransactionID {
			return errors.Wrapf(meta.ErrChainIntegrity, "transaction %s content altered", tx.TransactionID)
		}
		if !seen.Add(tx.TransactionID) {
			return errors.Wrapf(meta.ErrChainIntegrity, "transaction %s included twice", tx.TransactionID)
		}
		if opts.Audit && !Verify(tx, opts.Registry) {
			return errors.Wrapf(meta.ErrChainIntegrity, "transaction %s signature does not verify", tx.TransactionID)
		}
	}
	return nil
}

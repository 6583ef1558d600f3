package chain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/confirmledger/meta"
	"github.com/confirmledger/storage"
	"github.com/confirmledger/wallet"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChain(t *testing.T) *Blockchain {
	bc, err := New(Options{Store: storage.NewMemoryStore(), Difficulty: 1})
	require.NoError(t, err)
	return bc
}

func balance(t *testing.T, bc *Blockchain, addr string) decimal.Decimal {
	b, err := bc.Ledger().BalanceOf(addr)
	require.NoError(t, err)
	return b
}

func TestGenesis(t *testing.T) {
	bc := newTestChain(t)
	require.Equal(t, 1, bc.Height())
	g := bc.Head()
	assert.Equal(t, int64(0), g.Index)
	assert.Equal(t, "0", g.PreviousHash)
	require.Len(t, g.Transactions, 1)
	assert.Equal(t, meta.ZeroAddress, g.Transactions[0].From)
	assert.True(t, balance(t, bc, "genesis").Equal(dec("1000000")))
	assert.True(t, bc.Validate(ValidateOptions{}))
}

func TestReopenLoadsStoredChain(t *testing.T) {
	store := storage.NewMemoryStore()
	bc, err := New(Options{Store: store, Difficulty: 1})
	require.NoError(t, err)
	_, err = bc.Mint(context.Background(), "x", dec("50"))
	require.NoError(t, err)

	again, err := New(Options{Store: store, Difficulty: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, again.Height())
	assert.Equal(t, bc.Head().Hash, again.Head().Hash)
	assert.True(t, balance(t, again, "x").Equal(dec("50")))
}

func TestReopenRepairsStoredBalances(t *testing.T) {
	store := storage.NewMemoryStore()
	bc, err := New(Options{Store: store, Difficulty: 1})
	require.NoError(t, err)
	_, err = bc.Mint(context.Background(), "x", dec("50"))
	require.NoError(t, err)
	require.NoError(t, store.SetBalance("x", dec("5000")))

	again, err := New(Options{Store: store, Difficulty: 1})
	require.NoError(t, err)
	assert.True(t, balance(t, again, "x").Equal(dec("50")))
	x, ok, _ := store.GetBalance("x")
	require.True(t, ok)
	assert.True(t, x.Equal(dec("50")), x.String())
	assert.False(t, again.Ledger().CanAfford("x", dec("51"), decimal.Zero))
}

func TestTransferSettles(t *testing.T) {
	bc := newTestChain(t)
	ctx := context.Background()

	_, err := bc.Mint(ctx, "x", dec("1000"))
	require.NoError(t, err)

	tx, err := NewTransaction("x", "y", dec("100"), dec("1"), "")
	require.NoError(t, err)
	block, err := bc.Commit(ctx, []*meta.Transaction{tx}, "y", decimal.Zero)
	require.NoError(t, err)

	assert.Equal(t, int64(2), block.Index)
	assert.True(t, MeetsDifficulty(block.Hash, block.Difficulty))
	assert.True(t, balance(t, bc, "x").Equal(dec("899")))
	assert.True(t, balance(t, bc, "y").Equal(dec("100")))
	assert.True(t, bc.Validate(ValidateOptions{}))

	got, ok := bc.FindTransaction(tx.TransactionID)
	require.True(t, ok)
	assert.Equal(t, meta.TxConfirmed, got.Status)
	assert.Equal(t, int64(2), got.BlockIndex)
	assert.Equal(t, int64(-1), tx.BlockIndex, "caller's transaction is not mutated")

	hist := bc.History("x")
	require.Len(t, hist, 2)
	assert.Equal(t, tx.TransactionID, hist[0].TransactionID)

	st := bc.Stats()
	assert.Equal(t, 3, st.Blocks)
	assert.Equal(t, 3, st.Transactions)
	assert.Equal(t, block.Hash, st.LatestHash)
}

func TestCommitWithReward(t *testing.T) {
	bc := newTestChain(t)
	block, err := bc.Commit(context.Background(), nil, "m", dec("10"))
	require.NoError(t, err)
	require.Len(t, block.Transactions, 1)
	assert.Equal(t, "m", block.Miner)
	assert.True(t, balance(t, bc, "m").Equal(dec("10")))
}

func TestOverdraftRejectsWholeBlock(t *testing.T) {
	bc := newTestChain(t)
	ctx := context.Background()
	_, err := bc.Mint(ctx, "x", dec("100"))
	require.NoError(t, err)

	a, _ := NewTransaction("x", "y", dec("60"), dec("0"), "a")
	b, _ := NewTransaction("x", "z", dec("60"), dec("0"), "b")
	_, err = bc.Commit(ctx, []*meta.Transaction{a, b}, "m", dec("10"))
	assert.True(t, errors.Is(err, meta.ErrInsufficientFunds), "%v", err)

	assert.Equal(t, 2, bc.Height())
	assert.True(t, balance(t, bc, "x").Equal(dec("100")))
	assert.True(t, balance(t, bc, "y").IsZero())
	assert.True(t, balance(t, bc, "m").IsZero())
}

func TestCancelledMiningLeavesChainUnchanged(t *testing.T) {
	bc, err := New(Options{Difficulty: 1})
	require.NoError(t, err)
	bc.SetDifficulty(10)
	head := bc.Head()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = bc.Mint(ctx, "x", dec("5"))
	assert.True(t, errors.Is(err, meta.ErrMiningCancelled), "%v", err)
	assert.Equal(t, 1, bc.Height())
	assert.Equal(t, head.Hash, bc.Head().Hash)
	assert.True(t, balance(t, bc, "x").IsZero())
}

func TestConcurrentCommitsAllLand(t *testing.T) {
	bc := newTestChain(t)
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := bc.Mint(context.Background(), "x", decimal.NewFromInt(int64(i+1)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 5, bc.Height())
	assert.True(t, balance(t, bc, "x").Equal(dec("10")))
	assert.True(t, bc.Validate(ValidateOptions{}))
}

func TestOnNewHead(t *testing.T) {
	bc := newTestChain(t)
	var seen []int64
	bc.OnNewHead(func(b *meta.Block) { seen = append(seen, b.Index) })
	_, err := bc.Mint(context.Background(), "x", dec("1"))
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, seen)
}

// tampered returns a copy of blocks with block i replaced by a modified copy.
func tampered(blocks []*meta.Block, i int, edit func(b *meta.Block)) []*meta.Block {
	out := append([]*meta.Block(nil), blocks...)
	c := *out[i]
	c.Transactions = append([]*meta.Transaction(nil), c.Transactions...)
	edit(&c)
	out[i] = &c
	return out
}

func TestValidateDetectsTampering(t *testing.T) {
	bc := newTestChain(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := bc.Mint(ctx, "x", dec("1"))
		require.NoError(t, err)
	}
	blocks := bc.Blocks()
	require.NoError(t, Check(blocks, ValidateOptions{}))

	cases := map[string]func(b *meta.Block){
		"hash":       func(b *meta.Block) { b.Hash = "00" + b.Hash[2:len(b.Hash)-1] + "f" },
		"nonce":      func(b *meta.Block) { b.Nonce++ },
		"prev hash":  func(b *meta.Block) { b.PreviousHash = blocks[0].Hash },
		"merkle":     func(b *meta.Block) { b.MerkleRoot = blocks[1].MerkleRoot },
		"difficulty": func(b *meta.Block) { b.Difficulty = 0 },
		"tx amount": func(b *meta.Block) {
			c := b.Transactions[0].Copy()
			c.Amount = dec("1000")
			b.Transactions[0] = c
		},
	}
	for name, edit := range cases {
		t.Run(name, func(t *testing.T) {
			broken := tampered(blocks, 2, edit)
			err := Check(broken, ValidateOptions{})
			assert.True(t, errors.Is(err, meta.ErrChainIntegrity), "%v", err)
			assert.False(t, Validate(broken, ValidateOptions{}))
		})
	}

	t.Run("duplicate transaction", func(t *testing.T) {
		broken := tampered(blocks, 3, func(b *meta.Block) {
			b.Transactions = append(b.Transactions, blocks[2].Transactions[0])
		})
		assert.Error(t, Check(broken, ValidateOptions{}))
	})

	t.Run("index gap", func(t *testing.T) {
		broken := append([]*meta.Block{blocks[0]}, blocks[2:]...)
		assert.Error(t, Check(broken, ValidateOptions{}))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Error(t, Check(nil, ValidateOptions{}))
	})
}

func TestRefusesToExtendInvalidChain(t *testing.T) {
	bc := newTestChain(t)
	_, err := bc.Mint(context.Background(), "x", dec("1"))
	require.NoError(t, err)

	broken := tampered(bc.Blocks(), 1, func(b *meta.Block) { b.Nonce++ })
	bc.snapshot.Store(broken)

	_, err = bc.Mint(context.Background(), "x", dec("1"))
	assert.True(t, errors.Is(err, meta.ErrChainIntegrity), "%v", err)
	assert.Equal(t, 2, bc.Height())
}

func TestAuditValidation(t *testing.T) {
	bc := newTestChain(t)
	ctx := context.Background()
	id, err := wallet.GenerateKeyPair()
	require.NoError(t, err)
	reg := wallet.NewMemoryRegistry()
	reg.Register(id.PublicKey)

	_, err = bc.Mint(ctx, id.Address, dec("10"))
	require.NoError(t, err)
	tx, err := NewTransaction(id.Address, "y", dec("1"), dec("0"), "")
	require.NoError(t, err)
	require.NoError(t, Sign(tx, id))
	_, err = bc.Commit(ctx, []*meta.Transaction{tx}, "m", decimal.Zero)
	require.NoError(t, err)

	assert.True(t, bc.Validate(ValidateOptions{Audit: true, Registry: reg}))
	assert.False(t, bc.Validate(ValidateOptions{Audit: true, Registry: wallet.NewMemoryRegistry()}))

	unsigned, _ := NewTransaction(id.Address, "y", dec("1"), dec("0"), "unsigned")
	_, err = bc.Commit(ctx, []*meta.Transaction{unsigned}, "m", decimal.Zero)
	require.NoError(t, err)
	assert.True(t, bc.Validate(ValidateOptions{}), "routine validation trusts admission")
	assert.False(t, bc.Validate(ValidateOptions{Audit: true, Registry: reg}))
}

func TestAdjustDifficulty(t *testing.T) {
	target := 10 * time.Second
	assert.Equal(t, 3, AdjustDifficulty(time.Second, target, 2))
	assert.Equal(t, 2, AdjustDifficulty(10*time.Second, target, 2))
	assert.Equal(t, 1, AdjustDifficulty(time.Minute, target, 2))
	assert.Equal(t, 1, AdjustDifficulty(time.Minute, target, 1))
	assert.Equal(t, 10, AdjustDifficulty(time.Millisecond, target, 10))
	assert.Equal(t, 1, ClampDifficulty(-3))
	assert.Equal(t, 10, ClampDifficulty(99))
}

func TestAutoAdjustRaisesDifficulty(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	bc, err := New(Options{Difficulty: 1, AutoAdjust: true, TargetBlockTime: time.Minute, Now: clock})
	require.NoError(t, err)
	_, err = bc.Mint(context.Background(), "x", dec("1"))
	require.NoError(t, err)
	assert.Equal(t, 2, bc.Difficulty())
}

func TestSealMeetsDifficulty(t *testing.T) {
	tx, _ := NewReward("x", dec("1"), "")
	b, err := Mine(context.Background(), 1, "t", "prev", []*meta.Transaction{tx}, 3)
	require.NoError(t, err)
	assert.True(t, MeetsDifficulty(b.Hash, 3))
	assert.Equal(t, CalculateHash(b), b.Hash)
	assert.False(t, MeetsDifficulty("abc", 5))
}

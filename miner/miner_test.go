package miner

import (
	"context"
	"testing"
	"time"

	"github.com/confirmledger/chain"
	"github.com/confirmledger/meta"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func template(t *testing.T, prev string, difficulty int) *meta.Block {
	tx, err := chain.NewReward("x", decimal.NewFromInt(1), "")
	require.NoError(t, err)
	return chain.NewBlockTemplate(1, "2024-01-01T00:00:00.000000", prev, []*meta.Transaction{tx}, difficulty)
}

func TestSolveBlock(t *testing.T) {
	m := New()
	m.Start()
	defer m.Stop()

	b := template(t, "p", 2)
	require.NoError(t, m.Seal(context.Background(), b))
	assert.True(t, chain.MeetsDifficulty(b.Hash, 2))
	assert.Equal(t, chain.CalculateHash(b), b.Hash)
	assert.Equal(t, uint64(1), m.Sealed())
}

func TestSealWhenStopped(t *testing.T) {
	m := New()
	err := m.Seal(context.Background(), template(t, "p", 1))
	assert.Equal(t, ErrStopped, err)

	m.Start()
	m.Stop()
	m.Stop()
	err = m.Seal(context.Background(), template(t, "p", 1))
	assert.Equal(t, ErrStopped, err)
}

func runHardJob(t *testing.T, m *Miner, prev string) chan error {
	b := template(t, prev, 10)
	res := make(chan error, 1)
	go func() {
		res <- m.Seal(context.Background(), b)
	}()
	require.Eventually(t, m.Busy, 2*time.Second, time.Millisecond)
	return res
}

func TestInterrupt(t *testing.T) {
	m := New()
	m.Start()
	defer m.Stop()

	res := runHardJob(t, m, "p")
	m.Interrupt()
	select {
	case err := <-res:
		assert.True(t, errors.Is(err, meta.ErrMiningCancelled), "%v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt did not stop the search")
	}
	assert.False(t, m.Busy())
}

func TestNewHeadAbandonsStaleTemplate(t *testing.T) {
	m := New()
	m.Start()
	defer m.Stop()

	res := runHardJob(t, m, "p")
	m.onNewHead(&meta.Block{Index: 1, Hash: "q"})
	select {
	case err := <-res:
		assert.True(t, errors.Is(err, meta.ErrMiningCancelled), "%v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("stale template kept mining")
	}
}

func TestStopCancelsInFlight(t *testing.T) {
	m := New()
	m.Start()
	res := runHardJob(t, m, "p")
	m.Stop()
	err := <-res
	assert.Error(t, err)
}

func TestChainSealer(t *testing.T) {
	m := New()
	m.Start()
	defer m.Stop()

	bc, err := chain.New(chain.Options{Sealer: m, Difficulty: 1})
	require.NoError(t, err)
	m.Follow(bc)

	block, err := bc.Mint(context.Background(), "x", decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Equal(t, int64(1), block.Index)
	bal, err := bc.Ledger().BalanceOf("x")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(5)))
}

package stake

import (
	"fmt"
	"testing"

	"github.com/confirmledger/meta"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newSelector(t *testing.T) *Selector {
	s := NewSelector(dec("1000"))
	require.NoError(t, s.AddValidator("a", dec("1000")))
	require.NoError(t, s.AddValidator("b", dec("3000")))
	return s
}

func TestAddValidator(t *testing.T) {
	s := NewSelector(dec("1000"))
	err := s.AddValidator("a", dec("999.99"))
	assert.True(t, errors.Is(err, meta.ErrStakeTooLow), "%v", err)
	assert.Empty(t, s.Validators())

	require.NoError(t, s.AddValidator("a", dec("1000")))
	require.NoError(t, s.AddValidator("b", dec("2000")))
	require.NoError(t, s.AddValidator("a", dec("1500")))
	vs := s.Validators()
	require.Len(t, vs, 2)
	assert.Equal(t, "a", vs[0].Address, "restaking keeps position")
	assert.True(t, vs[0].Stake.Equal(dec("1500")))
}

func TestRemoveValidator(t *testing.T) {
	s := newSelector(t)
	assert.True(t, s.RemoveValidator("a"))
	assert.False(t, s.RemoveValidator("a"))
	addr, ok := s.Select("anything")
	require.True(t, ok)
	assert.Equal(t, "b", addr)
}

func TestSelectEmpty(t *testing.T) {
	_, ok := NewSelector(dec("1000")).Select("x")
	assert.False(t, ok)
}

func TestSelectDeterministic(t *testing.T) {
	s := newSelector(t)
	for i := 0; i < 20; i++ {
		seed := fmt.Sprintf("seed-%d", i)
		first, ok := s.Select(seed)
		require.True(t, ok)
		second, _ := s.Select(seed)
		assert.Equal(t, first, second)
	}
}

func TestSelectWeighted(t *testing.T) {
	s := newSelector(t)
	counts := map[string]int{}
	for i := 0; i < 4000; i++ {
		addr, _ := s.Select(fmt.Sprintf("round-%d", i))
		counts[addr]++
	}
	// b holds three quarters of the stake
	assert.InDelta(t, 3000, counts["b"], 200)
	assert.InDelta(t, 1000, counts["a"], 200)
}

func TestReward(t *testing.T) {
	s := newSelector(t)
	assert.True(t, s.Reward("a", dec("10")).Equal(dec("2.5")))
	assert.True(t, s.Reward("b", dec("10")).Equal(dec("7.5")))
	assert.True(t, s.Reward("c", dec("10")).IsZero())
}

func TestZeroMinimumRejectsEmptyStake(t *testing.T) {
	s := NewSelector(decimal.Zero)
	err := s.AddValidator("a", decimal.Zero)
	assert.True(t, errors.Is(err, meta.ErrInvalidAmount), "%v", err)
	err = s.AddValidator("a", dec("-1"))
	assert.True(t, errors.Is(err, meta.ErrInvalidAmount), "%v", err)
	assert.Empty(t, s.Validators())

	assert.NotPanics(t, func() {
		assert.True(t, s.Reward("a", dec("10")).IsZero())
	})

	require.NoError(t, s.AddValidator("a", dec("0.5")))
	assert.True(t, s.Reward("a", dec("10")).Equal(dec("10")))
}

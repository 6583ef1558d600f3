package chain

import (
	"testing"
	"time"

	"github.com/confirmledger/meta"
	"github.com/confirmledger/wallet"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTransaction(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("deterministic id", func(t *testing.T) {
		a, err := NewTransactionAt("x", "y", dec("100"), dec("1"), "rent", ts)
		require.NoError(t, err)
		b, err := NewTransactionAt("x", "y", dec("100.00"), dec("1"), "rent", ts)
		require.NoError(t, err)
		assert.Equal(t, a.TransactionID, b.TransactionID)
		assert.Len(t, a.TransactionID, 64)
		assert.Equal(t, int64(-1), a.BlockIndex)
	})

	t.Run("every field feeds the id", func(t *testing.T) {
		base, _ := NewTransactionAt("x", "y", dec("100"), dec("1"), "rent", ts)
		variants := []*meta.Transaction{}
		for _, v := range []struct {
			from, to, amount, fee, data string
			ts                          time.Time
		}{
			{"z", "y", "100", "1", "rent", ts},
			{"x", "z", "100", "1", "rent", ts},
			{"x", "y", "101", "1", "rent", ts},
			{"x", "y", "100", "2", "rent", ts},
			{"x", "y", "100", "1", "food", ts},
			{"x", "y", "100", "1", "rent", ts.Add(time.Microsecond)},
		} {
			tx, err := NewTransactionAt(v.from, v.to, dec(v.amount), dec(v.fee), v.data, v.ts)
			require.NoError(t, err)
			variants = append(variants, tx)
		}
		for _, v := range variants {
			assert.NotEqual(t, base.TransactionID, v.TransactionID)
		}
	})

	t.Run("rejects bad amounts", func(t *testing.T) {
		_, err := NewTransactionAt("x", "y", dec("0"), dec("0"), "", ts)
		assert.True(t, errors.Is(err, meta.ErrInvalidAmount))
		_, err = NewTransactionAt("x", "y", dec("-5"), dec("0"), "", ts)
		assert.True(t, errors.Is(err, meta.ErrInvalidAmount))
		_, err = NewTransactionAt("x", "y", dec("5"), dec("-0.1"), "", ts)
		assert.True(t, errors.Is(err, meta.ErrInvalidAmount))
	})

	t.Run("amounts are normalised to eight places", func(t *testing.T) {
		tx, err := NewTransactionAt("x", "y", dec("1.123456789"), dec("0"), "", ts)
		require.NoError(t, err)
		assert.Equal(t, "1.12345679", tx.Amount.String())
	})
}

func TestSignVerify(t *testing.T) {
	id, err := wallet.GenerateKeyPair()
	require.NoError(t, err)
	other, err := wallet.GenerateKeyPair()
	require.NoError(t, err)
	reg := wallet.NewMemoryRegistry()
	reg.Register(id.PublicKey)

	tx, err := NewTransaction(id.Address, other.Address, dec("5"), dec("0.001"), "")
	require.NoError(t, err)
	require.NoError(t, Sign(tx, id))
	assert.True(t, Verify(tx, reg))

	t.Run("unknown sender key", func(t *testing.T) {
		assert.False(t, Verify(tx, wallet.NewMemoryRegistry()))
		assert.False(t, Verify(tx, nil))
	})

	t.Run("altered content", func(t *testing.T) {
		c := tx.Copy()
		c.Amount = dec("6")
		assert.False(t, Verify(c, reg))
	})

	t.Run("signed by someone else", func(t *testing.T) {
		c := tx.Copy()
		require.NoError(t, Sign(c, other))
		assert.False(t, Verify(c, reg))
	})

	t.Run("unsigned", func(t *testing.T) {
		c := tx.Copy()
		c.Signature = ""
		assert.False(t, Verify(c, reg))
	})

	t.Run("rewards need no signature", func(t *testing.T) {
		r, err := NewReward(other.Address, dec("10"), meta.MiningReward)
		require.NoError(t, err)
		require.NoError(t, Sign(r, id))
		assert.Empty(t, r.Signature)
		assert.True(t, Verify(r, nil))
	})
}

package chain

import (
	"time"

	"github.com/confirmledger/meta"
	"github.com/confirmledger/util"
	"github.com/confirmledger/wallet"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

//新建交易
func NewTransaction(from, to string, amount, fee decimal.Decimal, data string) (*meta.Transaction, error) {
	return NewTransactionAt(from, to, amount, fee, data, time.Now())
}

func NewTransactionAt(from, to string, amount, fee decimal.Decimal, data string, ts time.Time) (*meta.Transaction, error) {
	if !amount.IsPositive() {
		return nil, errors.Wrapf(meta.ErrInvalidAmount, "amount %s must be positive", amount)
	}
	if fee.IsNegative() {
		return nil, errors.Wrapf(meta.ErrInvalidAmount, "fee %s must not be negative", fee)
	}
	tx := &meta.Transaction{
		From:       from,
		To:         to,
		Amount:     meta.NormalizeAmount(amount),
		Fee:        meta.NormalizeAmount(fee),
		Data:       data,
		Timestamp:  util.FormatTime(ts),
		BlockIndex: -1,
	}
	tx.TransactionID = CalTransHash(tx)
	return tx, nil
}

// NewReward mints amount from the zero-address.
func NewReward(to string, amount decimal.Decimal, data string) (*meta.Transaction, error) {
	return NewTransaction(meta.ZeroAddress, to, amount, decimal.Zero, data)
}

//from || to || amount || fee || data || timestamp
func CalTransHash(tx *meta.Transaction) string {
	record := tx.From + tx.To + tx.Amount.String() + tx.Fee.String() + tx.Data + tx.Timestamp
	return util.CalHash([]byte(record))
}

//数字签名, reward transactions stay unsigned
func Sign(tx *meta.Transaction, id *wallet.Identity) error {
	if tx.IsReward() {
		return nil
	}
	sig, err := id.Sign([]byte(tx.TransactionID))
	if err != nil {
		return errors.Wrapf(err, "sign transaction %s", tx.TransactionID)
	}
	tx.Signature = sig
	return nil
}

//签名验证
func Verify(tx *meta.Transaction, registry wallet.KeyRegistry) bool {
	if tx.IsReward() {
		return true
	}
	if tx.Signature == "" || registry == nil {
		return false
	}
	if CalTransHash(tx) != tx.TransactionID {
		return false
	}
	pub, ok := registry.PublicKey(tx.From)
	if !ok {
		return false
	}
	return wallet.VerifySignature(pub, []byte(tx.TransactionID), tx.Signature)
}

package stake

import (
	"crypto/sha256"
	"math/big"
	"sync"

	"github.com/confirmledger/commonconst"
	"github.com/confirmledger/meta"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Validator struct {
	Address string          `json:"address"`
	Stake   decimal.Decimal `json:"stake"`
}

// Selector picks validators with probability proportional to stake.
// Validators are walked in the order they were first added so a seed
// always maps to the same validator for the same stake snapshot.
type Selector struct {
	mu         sync.RWMutex
	minimum    decimal.Decimal
	order      []string
	validators map[string]decimal.Decimal
}

func NewSelector(minimum decimal.Decimal) *Selector {
	return &Selector{
		minimum:    minimum,
		validators: make(map[string]decimal.Decimal),
	}
}

// AddValidator admits addr or updates its stake in place.
func (s *Selector) AddValidator(addr string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.Wrapf(meta.ErrInvalidAmount, "%s staked %s", addr, amount)
	}
	if amount.LessThan(s.minimum) {
		return errors.Wrapf(meta.ErrStakeTooLow, "%s staked %s, minimum is %s", addr, amount, s.minimum)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.validators[addr]; !ok {
		s.order = append(s.order, addr)
	}
	s.validators[addr] = meta.NormalizeAmount(amount)
	return nil
}

func (s *Selector) RemoveValidator(addr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.validators[addr]; !ok {
		return false
	}
	delete(s.validators, addr)
	for i, a := range s.order {
		if a == addr {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

func (s *Selector) Validators() []Validator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Validator, 0, len(s.order))
	for _, a := range s.order {
		out = append(out, Validator{Address: a, Stake: s.validators[a]})
	}
	return out
}

func (s *Selector) totalLocked() decimal.Decimal {
	total := decimal.Zero
	for _, v := range s.validators {
		total = total.Add(v)
	}
	return total
}

//根据seed选择验证者
func (s *Selector) Select(seed string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return "", false
	}
	precision := decimal.NewFromInt(commonconst.StakePrecision)
	scaled := s.totalLocked().Mul(precision).Truncate(0).BigInt()
	if scaled.Sign() <= 0 {
		return s.order[0], true
	}
	digest := sha256.Sum256([]byte(seed))
	h := new(big.Int).SetBytes(digest[:])
	point := decimal.NewFromBigInt(h.Mod(h, scaled), 0).Div(precision)

	cumulative := decimal.Zero
	for _, a := range s.order {
		cumulative = cumulative.Add(s.validators[a])
		if point.LessThanOrEqual(cumulative) {
			return a, true
		}
	}
	return s.order[0], true
}

// Reward is addr's share of base in proportion to its stake.
func (s *Selector) Reward(addr string, base decimal.Decimal) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.validators[addr]
	if !ok {
		return decimal.Zero
	}
	total := s.totalLocked()
	if !total.IsPositive() {
		return decimal.Zero
	}
	return meta.NormalizeAmount(base.Mul(st).Div(total))
}

package ledger

import (
	"sync"

	"github.com/cloudflare/cfssl/log"
	"github.com/confirmledger/meta"
	"github.com/confirmledger/storage"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// BlockSource exposes the committed chain for replay.
type BlockSource interface {
	Blocks() []*meta.Block
}

// Cache holds derived per-address balances. It is never the source of truth.
type Cache interface {
	Get(addr string) (decimal.Decimal, bool)
	Set(addr string, amount decimal.Decimal)
	Invalidate(addrs ...string)
}

type reservation struct {
	addr   string
	amount decimal.Decimal
}

// Ledger is the balance authority. One mutex serialises admission
// (Reserve) against settlement (Apply) so a sender can't be double spent.
type Ledger struct {
	mu           sync.Mutex
	source       BlockSource
	store        storage.Store
	cache        Cache
	holds        map[string]decimal.Decimal
	reservations map[string]reservation
}

// New builds a ledger. store may be nil, in which case balances are
// replayed from source.
func New(source BlockSource, store storage.Store, cache Cache) *Ledger {
	if cache == nil {
		cache = NopCache{}
	}
	l := &Ledger{
		source:       source,
		cache:        cache,
		holds:        make(map[string]decimal.Decimal),
		reservations: make(map[string]reservation),
	}
	if store != nil {
		l.store = store
	}
	return l
}

//根据链上全部交易计算余额
func Replay(blocks []*meta.Block, addr string) decimal.Decimal {
	balance := decimal.Zero
	for _, b := range blocks {
		for _, tx := range b.Transactions {
			if tx.From == addr && !tx.IsReward() {
				balance = balance.Sub(tx.Total())
			}
			if tx.To == addr {
				balance = balance.Add(tx.Amount)
			}
		}
	}
	return balance
}

// Balances replays every address the chain touches.
func Balances(blocks []*meta.Block) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, b := range blocks {
		for _, tx := range b.Transactions {
			if !tx.IsReward() {
				out[tx.From] = out[tx.From].Sub(tx.Total())
			}
			out[tx.To] = out[tx.To].Add(tx.Amount)
		}
	}
	return out
}

// Reconcile rewrites every stored balance that disagrees with replay of
// the chain and reports how many were repaired. No-op without a store.
func (l *Ledger) Reconcile() (int, error) {
	if l.store == nil {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	fixed := make([]string, 0)
	for addr, want := range Balances(l.source.Blocks()) {
		got, ok, err := l.store.GetBalance(addr)
		if err != nil {
			return len(fixed), errors.Wrapf(err, "balance of %s", addr)
		}
		if ok && got.Equal(want) {
			continue
		}
		if err := l.store.SetBalance(addr, want); err != nil {
			return len(fixed), errors.Wrapf(err, "repair balance of %s", addr)
		}
		log.Warningf("stored balance of %s was %s, replay gives %s", addr, got, want)
		fixed = append(fixed, addr)
	}
	l.cache.Invalidate(fixed...)
	return len(fixed), nil
}

func (l *Ledger) BalanceOf(addr string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(addr)
}

// balanceLocked must be called with the lock held
func (l *Ledger) balanceLocked(addr string) (decimal.Decimal, error) {
	if b, ok := l.cache.Get(addr); ok {
		return b, nil
	}
	b, err := l.settledLocked(addr)
	if err != nil {
		return decimal.Zero, err
	}
	l.cache.Set(addr, b)
	return b, nil
}

// settledLocked reads the store, falling back to replay, and never the
// cache. Admission and settlement decide on this value only.
func (l *Ledger) settledLocked(addr string) (decimal.Decimal, error) {
	if l.store != nil {
		b, ok, err := l.store.GetBalance(addr)
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "balance of %s", addr)
		}
		if ok {
			return b, nil
		}
	}
	return Replay(l.source.Blocks(), addr), nil
}

// Available is the balance minus outstanding reservations.
func (l *Ledger) Available(addr string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableLocked(addr)
}

func (l *Ledger) availableLocked(addr string) (decimal.Decimal, error) {
	b, err := l.settledLocked(addr)
	if err != nil {
		return decimal.Zero, err
	}
	return b.Sub(l.holds[addr]), nil
}

func (l *Ledger) Held(addr string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holds[addr]
}

func (l *Ledger) CanAfford(addr string, amount, fee decimal.Decimal) bool {
	if addr == meta.ZeroAddress {
		return true
	}
	avail, err := l.Available(addr)
	if err != nil {
		log.Error(err)
		return false
	}
	return avail.GreaterThanOrEqual(amount.Add(fee))
}

// Reserve holds total against addr until the transaction is settled or
// released. The affordability check and the hold are one atomic step.
func (l *Ledger) Reserve(txID, addr string, total decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.reservations[txID]; ok {
		return errors.Wrapf(meta.ErrDuplicateTransaction, "reservation %s", txID)
	}
	avail, err := l.availableLocked(addr)
	if err != nil {
		return err
	}
	if avail.LessThan(total) {
		return errors.Wrapf(meta.ErrInsufficientFunds, "%s has %s available, needs %s", addr, avail, total)
	}
	l.reservations[txID] = reservation{addr: addr, amount: total}
	l.holds[addr] = l.holds[addr].Add(total)
	return nil
}

// Release drops a reservation, returning the principal to the sender's
// available balance. It reports whether a reservation existed.
func (l *Ledger) Release(txID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked(txID)
}

func (l *Ledger) releaseLocked(txID string) bool {
	r, ok := l.reservations[txID]
	if !ok {
		return false
	}
	delete(l.reservations, txID)
	left := l.holds[r.addr].Sub(r.amount)
	if left.IsPositive() {
		l.holds[r.addr] = left
	} else {
		delete(l.holds, r.addr)
	}
	return true
}

// Apply settles a block all-or-nothing. Every resulting balance is
// computed and checked before anything is written; the durable write is
// a single store commit and publish runs inside the same critical section
// so no reader observes a half-applied block.
func (l *Ledger) Apply(block *meta.Block, publish func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	deltas := make(map[string]decimal.Decimal)
	order := make([]string, 0)
	touch := func(addr string, d decimal.Decimal) {
		if _, ok := deltas[addr]; !ok {
			order = append(order, addr)
		}
		deltas[addr] = deltas[addr].Add(d)
	}
	for _, tx := range block.Transactions {
		if !tx.IsReward() {
			touch(tx.From, tx.Total().Neg())
		}
		touch(tx.To, tx.Amount)
	}

	next := make(map[string]decimal.Decimal, len(deltas))
	for _, addr := range order {
		cur, err := l.settledLocked(addr)
		if err != nil {
			return err
		}
		nb := cur.Add(deltas[addr])
		if nb.IsNegative() {
			return errors.Wrapf(meta.ErrInsufficientFunds, "block %d would leave %s at %s", block.Index, addr, nb)
		}
		next[addr] = nb
	}

	if l.store != nil {
		if err := l.store.CommitBlock(block, next); err != nil {
			return errors.Wrapf(err, "commit block %d", block.Index)
		}
	}
	for _, tx := range block.Transactions {
		l.releaseLocked(tx.TransactionID)
	}
	l.cache.Invalidate(order...)
	if publish != nil {
		publish()
	}
	log.Debugf("applied block %d touching %d addresses", block.Index, len(order))
	return nil
}

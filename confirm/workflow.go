package confirm

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cloudflare/cfssl/log"
	"github.com/confirmledger/chain"
	"github.com/confirmledger/commonconst"
	"github.com/confirmledger/ledger"
	"github.com/confirmledger/meta"
	"github.com/confirmledger/util"
	"github.com/confirmledger/wallet"
	mapset "github.com/deckarep/golang-set"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Options struct {
	Chain    *chain.Blockchain
	Registry wallet.KeyRegistry
	//how long a recipient has to respond
	Window time.Duration
	//how long closed notifications stay queryable
	Retention time.Duration
	//minted to the confirming recipient on accept
	ConfirmReward decimal.Decimal
	//minted to whoever runs SettlePending
	MiningReward decimal.Decimal
	Now          func() time.Time
}

// Workflow admits signed transfers, holds them until the recipient
// accepts, rejects or lets the notification expire, and settles accepted
// transfers into the chain.
type Workflow struct {
	mu       sync.Mutex
	bc       *chain.Blockchain
	ledger   *ledger.Ledger
	registry wallet.KeyRegistry
	window   time.Duration
	keep     time.Duration
	confirm  decimal.Decimal
	reward   decimal.Decimal
	now      func() time.Time

	txs           map[string]*meta.Transaction
	notifications map[string]*meta.Notification
	byTx          map[string]string
	byRecipient   map[string][]string
	confirmations map[string]*meta.Confirmation

	//accepted but not yet in a block
	retry    mapset.Set
	inflight mapset.Set
}

func New(opts Options) *Workflow {
	w := &Workflow{
		bc:            opts.Chain,
		ledger:        opts.Chain.Ledger(),
		registry:      opts.Registry,
		window:        opts.Window,
		keep:          opts.Retention,
		confirm:       opts.ConfirmReward,
		reward:        opts.MiningReward,
		now:           opts.Now,
		txs:           make(map[string]*meta.Transaction),
		notifications: make(map[string]*meta.Notification),
		byTx:          make(map[string]string),
		byRecipient:   make(map[string][]string),
		confirmations: make(map[string]*meta.Confirmation),
		retry:         mapset.NewThreadUnsafeSet(),
		inflight:      mapset.NewThreadUnsafeSet(),
	}
	if w.window <= 0 {
		w.window = commonconst.NotificationWindow
	}
	if w.keep <= 0 {
		w.keep = commonconst.NotificationRetention
	}
	if w.keep < w.window {
		w.keep = w.window
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w
}

//提交交易
func (w *Workflow) Submit(ctx context.Context, tx *meta.Transaction, message string) (*meta.Notification, error) {
	if tx == nil {
		return nil, errors.Wrap(meta.ErrInvalidAmount, "no transaction")
	}
	if tx.IsReward() {
		return nil, errors.Wrap(meta.ErrInvalidSignature, "reward transactions are minted, not submitted")
	}
	if !tx.Amount.IsPositive() || tx.Fee.IsNegative() {
		return nil, errors.Wrapf(meta.ErrInvalidAmount, "amount %s fee %s", tx.Amount, tx.Fee)
	}
	if !tx.Amount.Equal(meta.NormalizeAmount(tx.Amount)) || !tx.Fee.Equal(meta.NormalizeAmount(tx.Fee)) {
		return nil, errors.Wrapf(meta.ErrInvalidAmount, "amount %s fee %s exceed %d decimal places", tx.Amount, tx.Fee, commonconst.AmountPrecision)
	}
	if ts, ok := txTime(tx); !ok || ts.Add(w.keep).Before(w.now()) {
		return nil, errors.Wrapf(meta.ErrStaleTransaction, "transaction %s stamped %q", tx.TransactionID, tx.Timestamp)
	}
	if !wallet.ValidateAddress(tx.To) {
		return nil, errors.Wrapf(meta.ErrInvalidAddress, "recipient %q", tx.To)
	}
	if !chain.Verify(tx, w.registry) {
		return nil, errors.Wrapf(meta.ErrInvalidSignature, "transaction %s", tx.TransactionID)
	}
	if _, ok := w.bc.FindTransaction(tx.TransactionID); ok {
		return nil, errors.Wrapf(meta.ErrDuplicateTransaction, "transaction %s is on chain", tx.TransactionID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.txs[tx.TransactionID]; ok {
		return nil, errors.Wrapf(meta.ErrDuplicateTransaction, "transaction %s", tx.TransactionID)
	}
	if err := w.ledger.Reserve(tx.TransactionID, tx.From, tx.Total()); err != nil {
		return nil, err
	}

	now := w.now()
	stored := tx.Copy()
	stored.Status = meta.TxPendingNotification
	stored.BlockIndex = -1
	n := &meta.Notification{
		ID:            uuid.New().String(),
		TransactionID: stored.TransactionID,
		Recipient:     stored.To,
		Sender:        stored.From,
		Type:          meta.IncomingTransfer,
		Amount:        stored.Amount,
		Message:       message,
		Status:        meta.NotificationPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(w.window),
	}
	w.txs[stored.TransactionID] = stored
	w.notifications[n.ID] = n
	w.byTx[stored.TransactionID] = n.ID
	w.byRecipient[n.Recipient] = append(w.byRecipient[n.Recipient], n.ID)
	log.Infof("transaction %s from %s to %s admitted, notification %s", stored.TransactionID, stored.From, stored.To, n.ID)
	return n.Copy(), nil
}

// expireLocked closes n if its window has passed. Must be called with mu held.
func (w *Workflow) expireLocked(n *meta.Notification, now time.Time) bool {
	if !n.Open() || !now.After(n.ExpiresAt) {
		return false
	}
	n.Status = meta.NotificationExpired
	if tx, ok := w.txs[n.TransactionID]; ok {
		tx.Status = meta.TxExpired
	}
	w.ledger.Release(n.TransactionID)
	log.Infof("notification %s expired, transaction %s released", n.ID, n.TransactionID)
	return true
}

func (w *Workflow) Get(id string) (*meta.Notification, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.notifications[id]
	if !ok {
		return nil, errors.Wrapf(meta.ErrNotificationNotFound, "notification %s", id)
	}
	w.expireLocked(n, w.now())
	return n.Copy(), nil
}

// MarkRead moves a pending notification to read. Any later state is left alone.
func (w *Workflow) MarkRead(id string) (*meta.Notification, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.notifications[id]
	if !ok {
		return nil, errors.Wrapf(meta.ErrNotificationNotFound, "notification %s", id)
	}
	now := w.now()
	if !w.expireLocked(n, now) && n.Status == meta.NotificationPending {
		n.Status = meta.NotificationRead
		n.ReadAt = &now
	}
	return n.Copy(), nil
}

// Respond records the recipient's decision. The decision is taken exactly
// once per notification. On accept the transfer is settled into a new
// block; if that fails the Confirmation is still returned together with
// the settlement error and the transfer stays pending_confirmation until
// SettlePending picks it up.
func (w *Workflow) Respond(ctx context.Context, id string, decision meta.Decision, responder *wallet.Identity, message string) (*meta.Confirmation, error) {
	if decision != meta.Accept && decision != meta.Reject {
		return nil, errors.Wrapf(meta.ErrInvalidDecision, "%q", decision)
	}

	w.mu.Lock()
	n, ok := w.notifications[id]
	if !ok {
		w.mu.Unlock()
		return nil, errors.Wrapf(meta.ErrNotificationNotFound, "notification %s", id)
	}
	now := w.now()
	if w.expireLocked(n, now) || n.Status == meta.NotificationExpired {
		w.mu.Unlock()
		return nil, errors.Wrapf(meta.ErrNotificationExpired, "notification %s expired at %s", id, n.ExpiresAt.Format(time.RFC3339))
	}
	if responder == nil || wallet.DeriveAddress(responder.PublicKey) != n.Recipient {
		w.mu.Unlock()
		return nil, errors.Wrapf(meta.ErrIdentityMismatch, "notification %s", id)
	}
	if !n.Open() {
		w.mu.Unlock()
		return nil, errors.Wrapf(meta.ErrAlreadyResponded, "notification %s is %s", id, n.Status)
	}

	sig, err := responder.Sign([]byte(n.ID + string(decision)))
	if err != nil {
		w.mu.Unlock()
		return nil, errors.Wrap(err, "sign confirmation")
	}
	c := &meta.Confirmation{
		ID:             uuid.New().String(),
		NotificationID: n.ID,
		TransactionID:  n.TransactionID,
		Recipient:      n.Recipient,
		Decision:       decision,
		Signature:      sig,
		Message:        message,
		ConfirmedAt:    now,
		SignedByKey:    true,
	}
	w.confirmations[n.ID] = c
	n.RespondedAt = &now
	tx := w.txs[n.TransactionID]
	if decision == meta.Reject {
		n.Status = meta.NotificationRejected
		tx.Status = meta.TxRejected
		w.ledger.Release(tx.TransactionID)
		w.mu.Unlock()
		log.Infof("transaction %s rejected by %s", tx.TransactionID, n.Recipient)
		return copyConfirmation(c), nil
	}
	n.Status = meta.NotificationAccepted
	tx.Status = meta.TxPendingConfirmation
	w.retry.Add(tx.TransactionID)
	w.mu.Unlock()

	log.Infof("transaction %s accepted by %s", tx.TransactionID, n.Recipient)
	if _, err := w.settle(ctx, []string{tx.TransactionID}, n.Recipient, w.confirm); err != nil {
		return copyConfirmation(c), err
	}
	return copyConfirmation(c), nil
}

func copyConfirmation(c *meta.Confirmation) *meta.Confirmation {
	cc := *c
	return &cc
}

// SettlePending mines every accepted but unsettled transfer into one block
// and mints the mining reward to miner.
func (w *Workflow) SettlePending(ctx context.Context, miner string) (*meta.Block, error) {
	w.mu.Lock()
	ids := make([]string, 0, w.retry.Cardinality())
	for _, v := range w.retry.ToSlice() {
		ids = append(ids, v.(string))
	}
	w.mu.Unlock()
	if len(ids) == 0 && !w.reward.IsPositive() {
		return nil, nil
	}
	return w.settle(ctx, ids, miner, w.reward)
}

func (w *Workflow) settle(ctx context.Context, ids []string, miner string, reward decimal.Decimal) (*meta.Block, error) {
	w.mu.Lock()
	txs := make([]*meta.Transaction, 0, len(ids))
	claimed := make([]string, 0, len(ids))
	for _, id := range ids {
		if !w.retry.Contains(id) {
			continue
		}
		w.retry.Remove(id)
		w.inflight.Add(id)
		claimed = append(claimed, id)
		txs = append(txs, w.txs[id].Copy())
	}
	w.mu.Unlock()
	sort.Slice(txs, func(i, j int) bool { return txs[i].Timestamp < txs[j].Timestamp })

	if len(txs) == 0 && len(ids) > 0 {
		//another pass already took them
		return nil, nil
	}

	block, err := w.bc.Commit(ctx, txs, miner, reward)

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, id := range claimed {
		w.inflight.Remove(id)
		if err != nil {
			w.retry.Add(id)
			continue
		}
		tx := w.txs[id]
		tx.Status = meta.TxConfirmed
		tx.BlockIndex = block.Index
	}
	if err != nil {
		log.Warningf("settlement of %d transactions failed, left pending: %v", len(claimed), err)
		return nil, errors.Wrap(err, "settlement")
	}
	log.Infof("settled %d transactions in block %d", len(claimed), block.Index)
	return block, nil
}

// Sweep expires every notification whose window has passed.
func (w *Workflow) Sweep() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	n := 0
	for _, notif := range w.notifications {
		if w.expireLocked(notif, now) {
			n++
		}
	}
	return n
}

// Prune drops closed notifications, and the transfers behind them, once
// both the close and the transaction timestamp are older than the
// retention period. Accepted transfers still waiting for settlement stay.
// Submit refuses timestamps that old, so a pruned transfer can't be
// admitted again.
func (w *Workflow) Prune() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	cutoff := now.Add(-w.keep)
	touched := make(map[string]bool)
	for id, n := range w.notifications {
		w.expireLocked(n, now)
		if n.Open() || w.retry.Contains(n.TransactionID) || w.inflight.Contains(n.TransactionID) {
			continue
		}
		closed := n.ExpiresAt
		if n.RespondedAt != nil {
			closed = *n.RespondedAt
		}
		if !closed.Before(cutoff) {
			continue
		}
		if tx, ok := w.txs[n.TransactionID]; ok {
			if ts, ok := txTime(tx); ok && !ts.Before(cutoff) {
				continue
			}
		}
		delete(w.notifications, id)
		delete(w.confirmations, id)
		delete(w.byTx, n.TransactionID)
		delete(w.txs, n.TransactionID)
		touched[n.Recipient] = true
	}
	pruned := 0
	for addr := range touched {
		ids := w.byRecipient[addr]
		kept := ids[:0]
		for _, id := range ids {
			if _, ok := w.notifications[id]; ok {
				kept = append(kept, id)
			}
		}
		pruned += len(ids) - len(kept)
		if len(kept) == 0 {
			delete(w.byRecipient, addr)
		} else {
			w.byRecipient[addr] = kept
		}
	}
	return pruned
}

func txTime(tx *meta.Transaction) (time.Time, bool) {
	ts, err := time.ParseInLocation(util.TimeLayout, tx.Timestamp, time.Local)
	return ts, err == nil
}

// ListForRecipient returns the recipient's notifications newest first,
// optionally filtered by status.
func (w *Workflow) ListForRecipient(addr string, status meta.NotificationStatus) []*meta.Notification {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	out := make([]*meta.Notification, 0)
	for _, id := range w.byRecipient[addr] {
		n := w.notifications[id]
		w.expireLocked(n, now)
		if status == "" || n.Status == status {
			out = append(out, n.Copy())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// PendingCount is the number of unread notifications for addr.
func (w *Workflow) PendingCount(addr string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	count := 0
	for _, id := range w.byRecipient[addr] {
		n := w.notifications[id]
		w.expireLocked(n, now)
		if n.Status == meta.NotificationPending {
			count++
		}
	}
	return count
}

// Transaction reports a transfer's current lifecycle state, falling back
// to the chain for transactions the workflow never saw (rewards, mints).
func (w *Workflow) Transaction(id string) (*meta.Transaction, error) {
	w.mu.Lock()
	tx, ok := w.txs[id]
	if ok {
		if nid, ok := w.byTx[id]; ok {
			w.expireLocked(w.notifications[nid], w.now())
		}
		c := tx.Copy()
		w.mu.Unlock()
		return c, nil
	}
	w.mu.Unlock()
	if tx, ok := w.bc.FindTransaction(id); ok {
		return tx, nil
	}
	return nil, errors.Wrapf(meta.ErrTransactionNotFound, "transaction %s", id)
}

func (w *Workflow) Confirmation(notificationID string) (*meta.Confirmation, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.confirmations[notificationID]
	if !ok {
		return nil, false
	}
	return copyConfirmation(c), true
}

// PendingSettlements is the number of accepted transfers not yet in a block.
func (w *Workflow) PendingSettlements() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.retry.Cardinality() + w.inflight.Cardinality()
}

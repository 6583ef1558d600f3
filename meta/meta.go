package meta

import (
	"time"

	"github.com/shopspring/decimal"
)

//mint source, never debited
const ZeroAddress = "0"

type TxStatus string

const (
	TxPendingNotification TxStatus = "pending_notification"
	TxPendingConfirmation TxStatus = "pending_confirmation"
	TxConfirmed           TxStatus = "confirmed"
	TxRejected            TxStatus = "rejected"
	TxExpired             TxStatus = "expired"
)

type NotificationStatus string

const (
	NotificationPending  NotificationStatus = "pending"
	NotificationRead     NotificationStatus = "read"
	NotificationAccepted NotificationStatus = "accepted"
	NotificationRejected NotificationStatus = "rejected"
	NotificationExpired  NotificationStatus = "expired"
)

type Decision string

const (
	Accept Decision = "accept"
	Reject Decision = "reject"
)

const (
	IncomingTransfer = "incoming_transfer"
	MiningReward     = "mining_reward"
)

type Block struct {
	Index        int64          `json:"index"`
	Timestamp    string         `json:"timestamp"`
	PreviousHash string         `json:"previous_hash"`
	Transactions []*Transaction `json:"transactions"`
	MerkleRoot   string         `json:"merkle_root"`
	Nonce        uint64         `json:"nonce"`
	Difficulty   int            `json:"difficulty"`
	Hash         string         `json:"hash"`
	Miner        string         `json:"miner,omitempty"`
}

// TransactionIDs returns the ids in inclusion order.
func (b *Block) TransactionIDs() []string {
	ids := make([]string, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		ids = append(ids, tx.TransactionID)
	}
	return ids
}

type Transaction struct {
	TransactionID string          `json:"transaction_id"`
	From          string          `json:"from_address"`
	To            string          `json:"to_address"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	Data          string          `json:"data"`
	Timestamp     string          `json:"timestamp"`
	Signature     string          `json:"signature,omitempty"`
	Status        TxStatus        `json:"status,omitempty"`
	BlockIndex    int64           `json:"block_index"`
}

func (t *Transaction) IsReward() bool {
	return t.From == ZeroAddress
}

// Total is what the sender is debited on settlement.
func (t *Transaction) Total() decimal.Decimal {
	return t.Amount.Add(t.Fee)
}

// Copy returns a detached copy so callers can't mutate ledger state.
func (t *Transaction) Copy() *Transaction {
	c := *t
	return &c
}

type Notification struct {
	ID            string             `json:"id"`
	TransactionID string             `json:"transaction_id"`
	Recipient     string             `json:"recipient_address"`
	Sender        string             `json:"sender_address"`
	Type          string             `json:"notification_type"`
	Amount        decimal.Decimal    `json:"amount"`
	Message       string             `json:"message"`
	Status        NotificationStatus `json:"status"`
	CreatedAt     time.Time          `json:"created_at"`
	ReadAt        *time.Time         `json:"read_at,omitempty"`
	RespondedAt   *time.Time         `json:"responded_at,omitempty"`
	ExpiresAt     time.Time          `json:"expires_at"`
}

func (n *Notification) Copy() *Notification {
	c := *n
	return &c
}

// Open reports whether the recipient can still respond.
func (n *Notification) Open() bool {
	return n.Status == NotificationPending || n.Status == NotificationRead
}

type Confirmation struct {
	ID             string    `json:"id"`
	NotificationID string    `json:"notification_id"`
	TransactionID  string    `json:"transaction_id"`
	Recipient      string    `json:"recipient_address"`
	Decision       Decision  `json:"confirmation_type"`
	Signature      string    `json:"signature,omitempty"`
	Message        string    `json:"message,omitempty"`
	ConfirmedAt    time.Time `json:"confirmed_at"`
	SignedByKey    bool      `json:"confirmed_by_private_key"`
}

type ChainStats struct {
	Blocks             int    `json:"total_blocks"`
	Transactions       int    `json:"total_transactions"`
	Difficulty         int    `json:"difficulty"`
	PendingSettlements int    `json:"pending_transactions"`
	LatestHash         string `json:"latest_hash"`
}

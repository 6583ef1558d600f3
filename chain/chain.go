package chain

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudflare/cfssl/log"
	"github.com/confirmledger/commonconst"
	"github.com/confirmledger/ledger"
	"github.com/confirmledger/meta"
	"github.com/confirmledger/storage"
	"github.com/confirmledger/util"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

//head moved while a template was being sealed
const maxStaleRetries = 3

type Options struct {
	//nil keeps everything in memory and balances are replayed
	Store           storage.Store
	Cache           ledger.Cache
	Sealer          Sealer
	Difficulty      int
	AutoAdjust      bool
	TargetBlockTime time.Duration
	Now             func() time.Time
}

// Blockchain is the ledger state: the block list, the balance ledger on
// top of it and the current difficulty. Readers get lock-free snapshots;
// appends are serialised by mu.
type Blockchain struct {
	mu         sync.Mutex
	snapshot   atomic.Value
	difficulty int32

	sealer     Sealer
	ledger     *ledger.Ledger
	autoAdjust bool
	target     time.Duration
	now        func() time.Time

	lmu       sync.Mutex
	listeners []func(*meta.Block)
}

func New(opts Options) (*Blockchain, error) {
	bc := &Blockchain{
		difficulty: int32(ClampDifficulty(opts.Difficulty)),
		sealer:     opts.Sealer,
		autoAdjust: opts.AutoAdjust,
		target:     opts.TargetBlockTime,
		now:        opts.Now,
	}
	if bc.sealer == nil {
		bc.sealer = InlineSealer{}
	}
	if bc.now == nil {
		bc.now = time.Now
	}
	if bc.target <= 0 {
		bc.target = commonconst.TargetBlockTime
	}
	bc.snapshot.Store([]*meta.Block{})
	bc.ledger = ledger.New(bc, opts.Store, opts.Cache)

	if opts.Store != nil {
		blocks, err := opts.Store.Blocks()
		if err != nil {
			return nil, errors.Wrap(err, "load chain")
		}
		if len(blocks) > 0 {
			if err := Check(blocks, ValidateOptions{}); err != nil {
				return nil, errors.Wrap(err, "stored chain")
			}
			bc.snapshot.Store(blocks)
			log.Infof("loaded %d blocks, head %s", len(blocks), blocks[len(blocks)-1].Hash)
			if _, err := bc.ledger.Reconcile(); err != nil {
				return nil, errors.Wrap(err, "reconcile balances")
			}
			return bc, nil
		}
	}
	if err := bc.generateGenesisBlock(); err != nil {
		return nil, err
	}
	return bc, nil
}

//创建创世区块
func (bc *Blockchain) generateGenesisBlock() error {
	supply := meta.MustAmount(commonconst.GenesisSupply)
	tx, err := NewTransactionAt(meta.ZeroAddress, commonconst.GenesisAddress, supply, decimal.Zero, commonconst.GenesisData, bc.now())
	if err != nil {
		return err
	}
	tx.Status = meta.TxConfirmed
	tx.BlockIndex = 0
	genesis, err := Mine(context.Background(), 0, util.FormatTime(bc.now()), commonconst.GenesisPrevHash,
		[]*meta.Transaction{tx}, bc.Difficulty())
	if err != nil {
		return errors.Wrap(err, "mine genesis")
	}
	genesis.Miner = commonconst.GenesisAddress
	err = bc.ledger.Apply(genesis, func() {
		bc.snapshot.Store([]*meta.Block{genesis})
	})
	if err != nil {
		return errors.Wrap(err, "apply genesis")
	}
	log.Info("Block Init Successfully. genesis ", genesis.Hash)
	return nil
}

// Blocks returns the current chain. The slice is shared and must not be modified.
func (bc *Blockchain) Blocks() []*meta.Block {
	return bc.snapshot.Load().([]*meta.Block)
}

func (bc *Blockchain) Head() *meta.Block {
	blocks := bc.Blocks()
	return blocks[len(blocks)-1]
}

func (bc *Blockchain) Height() int {
	return len(bc.Blocks())
}

func (bc *Blockchain) Block(index int64) (*meta.Block, bool) {
	blocks := bc.Blocks()
	if index < 0 || index >= int64(len(blocks)) {
		return nil, false
	}
	return blocks[index], true
}

func (bc *Blockchain) Ledger() *ledger.Ledger {
	return bc.ledger
}

func (bc *Blockchain) Difficulty() int {
	return int(atomic.LoadInt32(&bc.difficulty))
}

func (bc *Blockchain) SetDifficulty(d int) {
	atomic.StoreInt32(&bc.difficulty, int32(ClampDifficulty(d)))
}

// OnNewHead registers fn to run after every append.
func (bc *Blockchain) OnNewHead(fn func(*meta.Block)) {
	bc.lmu.Lock()
	bc.listeners = append(bc.listeners, fn)
	bc.lmu.Unlock()
}

func (bc *Blockchain) Validate(opts ValidateOptions) bool {
	return Validate(bc.Blocks(), opts)
}

func (bc *Blockchain) Check(opts ValidateOptions) error {
	return Check(bc.Blocks(), opts)
}

// Mint mines a block crediting amount to addr from the zero-address.
func (bc *Blockchain) Mint(ctx context.Context, addr string, amount decimal.Decimal) (*meta.Block, error) {
	tx, err := NewReward(addr, amount, "mint")
	if err != nil {
		return nil, err
	}
	return bc.Commit(ctx, []*meta.Transaction{tx}, addr, decimal.Zero)
}

// Commit mines txs into the next block, appends it and settles balances.
// A positive reward is minted to miner inside the same block. On any
// error the chain and balances are unchanged.
func (bc *Blockchain) Commit(ctx context.Context, txs []*meta.Transaction, miner string, reward decimal.Decimal) (*meta.Block, error) {
	var rewardTx *meta.Transaction
	if reward.IsPositive() {
		var err error
		rewardTx, err = NewReward(miner, reward, meta.MiningReward)
		if err != nil {
			return nil, err
		}
	}

	for attempt := 0; ; attempt++ {
		head, err := bc.prepare()
		if err != nil {
			return nil, err
		}
		index := head.Index + 1
		included := make([]*meta.Transaction, 0, len(txs)+1)
		for _, tx := range txs {
			included = append(included, settled(tx, index))
		}
		if rewardTx != nil {
			included = append(included, settled(rewardTx, index))
		}

		tmpl := NewBlockTemplate(index, util.FormatTime(bc.now()), head.Hash, included, bc.Difficulty())
		tmpl.Miner = miner
		err = bc.sealer.Seal(ctx, tmpl)
		if err == nil {
			var block *meta.Block
			block, err = bc.append(tmpl, head.Hash)
			if err == nil {
				return block, nil
			}
		}
		retry := ctx.Err() == nil && attempt < maxStaleRetries &&
			(errors.Is(err, meta.ErrStaleBlock) || errors.Is(err, meta.ErrMiningCancelled))
		if !retry {
			return nil, err
		}
		log.Infof("block %d went stale (%v), rebuilding", index, err)
	}
}

func settled(tx *meta.Transaction, index int64) *meta.Transaction {
	c := tx.Copy()
	c.Status = meta.TxConfirmed
	c.BlockIndex = index
	return c
}

// prepare refuses to build on a chain that fails validation.
func (bc *Blockchain) prepare() (*meta.Block, error) {
	blocks := bc.Blocks()
	if err := Check(blocks, ValidateOptions{}); err != nil {
		log.Error("refusing to extend chain: ", err)
		return nil, err
	}
	return blocks[len(blocks)-1], nil
}

func (bc *Blockchain) append(block *meta.Block, prevHash string) (*meta.Block, error) {
	bc.mu.Lock()
	blocks := bc.Blocks()
	head := blocks[len(blocks)-1]
	if head.Hash != prevHash || block.PreviousHash != head.Hash || block.Index != head.Index+1 {
		bc.mu.Unlock()
		return nil, errors.Wrapf(meta.ErrStaleBlock, "block %d on %s, head is %d", block.Index, block.PreviousHash, head.Index)
	}
	if CalculateHash(block) != block.Hash || !MeetsDifficulty(block.Hash, block.Difficulty) {
		bc.mu.Unlock()
		return nil, errors.Wrapf(meta.ErrChainIntegrity, "block %d is not sealed", block.Index)
	}
	err := bc.ledger.Apply(block, func() {
		next := make([]*meta.Block, len(blocks), len(blocks)+1)
		copy(next, blocks)
		bc.snapshot.Store(append(next, block))
	})
	if err != nil {
		bc.mu.Unlock()
		return nil, err
	}
	if bc.autoAdjust {
		bc.adjust(head, block)
	}
	bc.mu.Unlock()

	log.Infof("Store NewBlock SuccessFully! index=%d hash=%s txs=%d", block.Index, block.Hash, len(block.Transactions))
	bc.lmu.Lock()
	listeners := append([]func(*meta.Block){}, bc.listeners...)
	bc.lmu.Unlock()
	for _, fn := range listeners {
		fn(block)
	}
	return block, nil
}

func (bc *Blockchain) adjust(prev, next *meta.Block) {
	observed, ok := blockInterval(prev.Timestamp, next.Timestamp)
	if !ok {
		return
	}
	cur := bc.Difficulty()
	d := AdjustDifficulty(observed, bc.target, cur)
	if d != cur {
		log.Infof("difficulty %d -> %d (block time %s, target %s)", cur, d, observed, bc.target)
		bc.SetDifficulty(d)
	}
}

// FindTransaction looks up a committed transaction by id.
func (bc *Blockchain) FindTransaction(id string) (*meta.Transaction, bool) {
	for _, b := range bc.Blocks() {
		for _, tx := range b.Transactions {
			if tx.TransactionID == id {
				return tx.Copy(), true
			}
		}
	}
	return nil, false
}

//交易历史, newest first
func (bc *Blockchain) History(addr string) []*meta.Transaction {
	out := make([]*meta.Transaction, 0)
	for _, b := range bc.Blocks() {
		for _, tx := range b.Transactions {
			if tx.From == addr || tx.To == addr {
				out = append(out, tx.Copy())
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	return out
}

func (bc *Blockchain) Stats() meta.ChainStats {
	blocks := bc.Blocks()
	n := 0
	for _, b := range blocks {
		n += len(b.Transactions)
	}
	return meta.ChainStats{
		Blocks:       len(blocks),
		Transactions: n,
		Difficulty:   bc.Difficulty(),
		LatestHash:   blocks[len(blocks)-1].Hash,
	}
}

package storage

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/cloudflare/cfssl/log"
	"github.com/confirmledger/commonconst"
	"github.com/confirmledger/meta"
	"github.com/confirmledger/util"
	"github.com/confirmledger/wallet"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/syndtr/goleveldb/leveldb"
	ldbutil "github.com/syndtr/goleveldb/leveldb/util"
)

// LevelStore keeps blocks (zstd-compressed json), balances and
// registered public keys in one leveldb.
type LevelStore struct {
	db *leveldb.DB
	//serialises appends so index checks are consistent
	mu sync.Mutex
}

func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb %s", path)
	}
	log.Infof("leveldb opened at %s", path)
	return NewLevelStore(db), nil
}

func NewLevelStore(db *leveldb.DB) *LevelStore {
	return &LevelStore{db: db}
}

func blockKey(index int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", commonconst.BlockPrefix, index))
}

func balanceKey(addr string) []byte {
	return []byte(commonconst.BalancePrefix + addr)
}

func publicKeyKey(addr string) []byte {
	return []byte(commonconst.PublicKeyPrefix + addr)
}

func (s *LevelStore) LatestBlockIndex() (int64, error) {
	val, err := s.db.Get([]byte(commonconst.LatestIndexKey), nil)
	if err == leveldb.ErrNotFound {
		return -1, nil
	}
	if err != nil {
		return -1, errors.Wrap(err, "read latest index")
	}
	idx, err := strconv.ParseInt(string(val), 10, 64)
	if err != nil {
		return -1, errors.Wrap(err, "parse latest index")
	}
	return idx, nil
}

func (s *LevelStore) AppendBlock(block *meta.Block) error {
	return s.CommitBlock(block, nil)
}

func (s *LevelStore) CommitBlock(block *meta.Block, balances map[string]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.LatestBlockIndex()
	if err != nil {
		return err
	}
	if block.Index != latest+1 {
		return errors.Errorf("append block %d, expected index %d", block.Index, latest+1)
	}
	rec, err := util.EncodeRecord(block)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put(blockKey(block.Index), rec)
	batch.Put([]byte(commonconst.LatestIndexKey), []byte(strconv.FormatInt(block.Index, 10)))
	for addr, amount := range balances {
		batch.Put(balanceKey(addr), []byte(amount.String()))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return errors.Wrapf(err, "write block %d", block.Index)
	}
	return nil
}

func (s *LevelStore) Blocks() ([]*meta.Block, error) {
	iter := s.db.NewIterator(ldbutil.BytesPrefix([]byte(commonconst.BlockPrefix)), nil)
	defer iter.Release()

	blocks := make([]*meta.Block, 0)
	for iter.Next() {
		b := &meta.Block{}
		if err := util.DecodeRecord(iter.Value(), b); err != nil {
			return nil, errors.Wrapf(err, "decode %s", iter.Key())
		}
		blocks = append(blocks, b)
	}
	return blocks, errors.Wrap(iter.Error(), "iterate blocks")
}

func (s *LevelStore) GetBalance(addr string) (decimal.Decimal, bool, error) {
	val, err := s.db.Get(balanceKey(addr), nil)
	if err == leveldb.ErrNotFound {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, errors.Wrapf(err, "read balance %s", addr)
	}
	d, err := decimal.NewFromString(string(val))
	if err != nil {
		return decimal.Zero, false, errors.Wrapf(err, "parse balance %s", addr)
	}
	return d, true, nil
}

func (s *LevelStore) SetBalance(addr string, amount decimal.Decimal) error {
	return errors.Wrapf(s.db.Put(balanceKey(addr), []byte(amount.String()), nil), "write balance %s", addr)
}

// RegisterPublicKey stores pub under its derived address.
func (s *LevelStore) RegisterPublicKey(pub []byte) (string, error) {
	addr := wallet.DeriveAddress(pub)
	if err := s.db.Put(publicKeyKey(addr), pub, nil); err != nil {
		return "", errors.Wrapf(err, "register public key %s", addr)
	}
	return addr, nil
}

func (s *LevelStore) PublicKey(addr string) ([]byte, bool) {
	val, err := s.db.Get(publicKeyKey(addr), nil)
	if err != nil {
		if err != leveldb.ErrNotFound {
			log.Error("read public key: ", err)
		}
		return nil, false
	}
	return val, true
}

func (s *LevelStore) Close() error {
	return s.db.Close()
}

package ledger

import (
	"github.com/cloudflare/cfssl/log"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type NopCache struct{}

func (NopCache) Get(string) (decimal.Decimal, bool) { return decimal.Zero, false }
func (NopCache) Set(string, decimal.Decimal)        {}
func (NopCache) Invalidate(...string)               {}

// LRUCache is the in-process balance cache.
type LRUCache struct {
	c *lru.Cache
}

func NewLRUCache(size int) (*LRUCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "create lru cache")
	}
	return &LRUCache{c: c}, nil
}

func (l *LRUCache) Get(addr string) (decimal.Decimal, bool) {
	v, ok := l.c.Get(addr)
	if !ok {
		return decimal.Zero, false
	}
	d, ok := v.(decimal.Decimal)
	if !ok {
		log.Warningf("lru cache: unexpected value type %T for %s", v, addr)
		l.c.Remove(addr)
		return decimal.Zero, false
	}
	return d, true
}

func (l *LRUCache) Set(addr string, amount decimal.Decimal) {
	l.c.Add(addr, amount)
}

func (l *LRUCache) Invalidate(addrs ...string) {
	for _, a := range addrs {
		l.c.Remove(a)
	}
}

func (l *LRUCache) Len() int {
	return l.c.Len()
}

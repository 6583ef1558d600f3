package redis

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "balance_1abc", key("1abc"))
}

func TestUnreachableDegradesToMiss(t *testing.T) {
	c := NewBalanceCache(Options{Addr: "127.0.0.1:1"})
	c.timeout = 200 * time.Millisecond
	defer c.Close()

	c.Set("x", decimal.NewFromInt(5))
	_, ok := c.Get("x")
	assert.False(t, ok)
	c.Invalidate("x")
	c.Invalidate()
}

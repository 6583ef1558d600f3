package chain

import (
	"time"

	"github.com/confirmledger/commonconst"
	"github.com/confirmledger/util"
)

// AdjustDifficulty moves difficulty by at most one step: up when blocks
// come faster than half the target, down when slower than twice it.
func AdjustDifficulty(observed, target time.Duration, current int) int {
	next := current
	switch {
	case observed < target/2:
		next = current + 1
	case observed > target*2:
		next = current - 1
	}
	return ClampDifficulty(next)
}

func ClampDifficulty(d int) int {
	if d < commonconst.MinDifficulty {
		return commonconst.MinDifficulty
	}
	if d > commonconst.MaxDifficulty {
		return commonconst.MaxDifficulty
	}
	return d
}

func blockInterval(prev, next string) (time.Duration, bool) {
	p, err := time.Parse(util.TimeLayout, prev)
	if err != nil {
		return 0, false
	}
	n, err := time.Parse(util.TimeLayout, next)
	if err != nil {
		return 0, false
	}
	return n.Sub(p), true
}

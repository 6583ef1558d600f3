package merkle

import "github.com/confirmledger/util"

// Root folds transaction ids pairwise into a single hex digest.
// An odd element at any level is paired with itself, so a single
// leaf a yields H(a+a).
func Root(ids []string) string {
	if len(ids) == 0 {
		return util.CalHash([]byte(""))
	}

	level := ids
	for {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, util.CalHash([]byte(level[i]+right)))
		}
		level = next
		if len(level) == 1 {
			return level[0]
		}
	}
}

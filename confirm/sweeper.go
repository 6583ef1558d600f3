package confirm

import (
	"context"
	"time"

	"github.com/cloudflare/cfssl/log"
	"github.com/confirmledger/commonconst"
)

// Sweeper periodically expires notifications nobody has looked at and
// prunes closed ones past retention.
type Sweeper struct {
	w        *Workflow
	interval time.Duration
	done     chan struct{}
}

func NewSweeper(w *Workflow, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = commonconst.SweepInterval
	}
	return &Sweeper{w: w, interval: interval, done: make(chan struct{})}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	log.Infof("expiry sweeper started, every %s", s.interval)
	for {
		select {
		case <-ctx.Done():
			log.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			if n := s.w.Sweep(); n > 0 {
				log.Infof("swept %d expired notifications", n)
			}
			if n := s.w.Prune(); n > 0 {
				log.Infof("pruned %d closed notifications", n)
			}
		}
	}
}

// Done is closed once Run returns.
func (s *Sweeper) Done() <-chan struct{} {
	return s.done
}

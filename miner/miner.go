package miner

import (
	"context"
	"sync"

	"github.com/cloudflare/cfssl/log"
	"github.com/confirmledger/chain"
	"github.com/confirmledger/meta"
	"github.com/pkg/errors"
)

var ErrStopped = errors.New("miner is not running")

type job struct {
	ctx   context.Context
	block *meta.Block
	done  chan error
}

// Miner seals block templates on a dedicated worker goroutine. It
// implements chain.Sealer; a template whose parent stops being the head
// is abandoned.
type Miner struct {
	sync.Mutex
	started bool
	jobs    chan *job
	quit    chan struct{}
	wg      sync.WaitGroup

	current *meta.Block
	cancel  context.CancelFunc
	sealed  uint64
}

func New() *Miner {
	return &Miner{jobs: make(chan *job)}
}

func (m *Miner) Start() {
	m.Lock()
	defer m.Unlock()

	if m.started {
		return
	}
	m.quit = make(chan struct{})
	m.started = true
	m.wg.Add(1)
	go m.miningWorker(m.quit)
	log.Info("Miner started")
}

// Stop cancels the block being sealed and waits for the worker to exit.
func (m *Miner) Stop() {
	m.Lock()
	if !m.started {
		m.Unlock()
		return
	}
	m.started = false
	if m.cancel != nil {
		m.cancel()
	}
	close(m.quit)
	m.Unlock()

	m.wg.Wait()
	log.Info("Miner stopped")
}

func (m *Miner) miningWorker(quit chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-quit:
			return
		case j := <-m.jobs:
			m.solve(j)
		}
	}
}

func (m *Miner) solve(j *job) {
	ctx, cancel := context.WithCancel(j.ctx)
	defer cancel()

	m.Lock()
	if !m.started {
		m.Unlock()
		j.done <- ErrStopped
		return
	}
	m.current = j.block
	m.cancel = cancel
	m.Unlock()

	err := chain.Seal(ctx, j.block)

	m.Lock()
	m.current = nil
	m.cancel = nil
	if err == nil {
		m.sealed++
	}
	m.Unlock()
	if err != nil {
		log.Debugf("block %d abandoned: %v", j.block.Index, err)
	} else {
		log.Debugf("sealed block %d nonce %d", j.block.Index, j.block.Nonce)
	}
	j.done <- err
}

// Seal hands block to the worker and waits for the result.
func (m *Miner) Seal(ctx context.Context, block *meta.Block) error {
	m.Lock()
	if !m.started {
		m.Unlock()
		return ErrStopped
	}
	quit := m.quit
	m.Unlock()

	j := &job{ctx: ctx, block: block, done: make(chan error, 1)}
	select {
	case m.jobs <- j:
	case <-ctx.Done():
		return errors.Wrapf(meta.ErrMiningCancelled, "block %d never started: %v", block.Index, ctx.Err())
	case <-quit:
		return ErrStopped
	}
	//worker always answers a job it took
	return <-j.done
}

// Interrupt abandons whatever block is being sealed.
func (m *Miner) Interrupt() {
	m.Lock()
	defer m.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

// Follow makes the miner drop templates built on a head that has moved.
func (m *Miner) Follow(bc *chain.Blockchain) {
	bc.OnNewHead(m.onNewHead)
}

func (m *Miner) onNewHead(head *meta.Block) {
	m.Lock()
	defer m.Unlock()
	if m.current != nil && m.cancel != nil && m.current.PreviousHash != head.Hash {
		log.Infof("new head %d, abandoning block %d", head.Index, m.current.Index)
		m.cancel()
	}
}

func (m *Miner) Busy() bool {
	m.Lock()
	defer m.Unlock()
	return m.current != nil
}

func (m *Miner) Sealed() uint64 {
	m.Lock()
	defer m.Unlock()
	return m.sealed
}

// Package worker runs keyed tasks on a fixed set of goroutines. Tasks that
// share a key run on the same worker, in submission order.
package worker

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("worker pool closed")

type Task func(ctx context.Context) error

type Options struct {
	Workers   int
	QueueSize int
	// Attempts is the total number of tries per task, including the first.
	Attempts int
	Backoff  time.Duration
	Logger   *zap.Logger
	// OnDone is called once per task with the final error, nil on success.
	OnDone func(key string, err error)
}

type job struct {
	key  string
	task Task
}

type Pool struct {
	opts    Options
	queues  []chan job
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup
}

func New(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		opts:   opts,
		queues: make([]chan job, opts.Workers),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := range p.queues {
		ch := make(chan job, opts.QueueSize)
		p.queues[i] = ch
		p.wg.Add(1)
		go p.work(ch)
	}
	return p
}

func (p *Pool) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.queues)))
}

// Submit queues a task, blocking while the key's queue is full.
func (p *Pool) Submit(ctx context.Context, key string, t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	p.pending.Add(1)
	select {
	case p.queues[p.index(key)] <- job{key: key, task: t}:
		return nil
	case <-ctx.Done():
		p.pending.Done()
		return ctx.Err()
	}
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Wait blocks until every task submitted so far has finished.
func (p *Pool) Wait() {
	p.pending.Wait()
}

// Close stops accepting tasks and drains the queues.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, ch := range p.queues {
		close(ch)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

func (p *Pool) work(ch <-chan job) {
	defer p.wg.Done()
	for j := range ch {
		err := p.run(j)
		if p.opts.OnDone != nil {
			p.opts.OnDone(j.key, err)
		}
		p.pending.Done()
	}
}

func (p *Pool) run(j job) error {
	var err error
	for attempt := 1; attempt <= p.opts.Attempts; attempt++ {
		if err = j.task(p.ctx); err == nil {
			return nil
		}
		if attempt == p.opts.Attempts {
			break
		}
		p.opts.Logger.Warn("task failed, retrying",
			zap.String("key", j.key),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if p.opts.Backoff > 0 {
			time.Sleep(p.opts.Backoff * time.Duration(attempt))
		}
	}
	p.opts.Logger.Error("task failed",
		zap.String("key", j.key),
		zap.Int("attempts", p.opts.Attempts),
		zap.Error(err),
	)
	return err
}

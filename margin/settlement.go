package margin

import (
	"context"
	"time"

	"github.com/rustyeddy/margin/internal/metrics"
	"github.com/rustyeddy/margin/internal/worker"
	"github.com/rustyeddy/margin/journal"
	"go.uber.org/zap"
)

type SettlementOptions struct {
	Workers   int
	QueueSize int
	Attempts  int
	Backoff   time.Duration
}

// Settlement posts fees and realized P&L to custody in the background.
// Postings for one account are applied in order; failed postings are
// retried with the same Ref.
type Settlement struct {
	custody Custody
	pool    *worker.Pool
	log     *zap.Logger
}

func NewSettlement(custody Custody, opts SettlementOptions, log *zap.Logger, m *metrics.Margin) *Settlement {
	if custody == nil {
		custody = nopCustody{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("settlement")
	var onDone func(string, error)
	if m != nil {
		onDone = func(_ string, err error) { m.Settled(err) }
	}
	return &Settlement{
		custody: custody,
		log:     log,
		pool: worker.New(worker.Options{
			Workers:   opts.Workers,
			QueueSize: opts.QueueSize,
			Attempts:  opts.Attempts,
			Backoff:   opts.Backoff,
			Logger:    log,
			OnDone:    onDone,
		}),
	}
}

// Closed reports whether the queue has been drained and shut. Operations
// that produce postings check it before changing any state.
func (s *Settlement) Closed() bool {
	return s != nil && s.pool.Closed()
}

// Queue hands a posting to the pool. It never fails the caller: a posting
// that cannot be queued is logged with its ref for reconciliation.
func (s *Settlement) Queue(ctx context.Context, p journal.Posting) {
	if s == nil {
		return
	}
	err := s.pool.Submit(ctx, p.AccountID, func(ctx context.Context) error {
		return s.custody.PostEntry(ctx, p)
	})
	if err != nil {
		s.log.Error("posting not queued",
			zap.String("ref", p.Ref),
			zap.String("account_id", p.AccountID),
			zap.Stringer("amount", p.Amount),
			zap.Error(err),
		)
	}
}

// Wait blocks until every queued posting has been attempted.
func (s *Settlement) Wait() {
	if s == nil {
		return
	}
	s.pool.Wait()
}

// Close drains the queue.
func (s *Settlement) Close() {
	if s == nil {
		return
	}
	s.pool.Close()
}

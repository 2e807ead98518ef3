// Package reconcile schedules periodic ledger re-derivation.
package reconcile

import (
	"context"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"cutledger/pkg/domain"
)

// Reconciler re-derives every article of the roll pool.
type Reconciler interface {
	ReconcileAll(ctx context.Context) (map[domain.ArticleKey]int, error)
}

// Runner runs reconciliation on a cron schedule.
type Runner struct {
	cron       *cron.Cron
	logger     *zap.Logger
	baseCtx    context.Context
	reconciler Reconciler

	mu      sync.Mutex
	running bool
}

// New returns a stopped Runner. Scheduled runs use baseCtx.
func New(logger *zap.Logger, baseCtx context.Context, reconciler Reconciler) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cron:       cron.New(cron.WithSeconds()),
		logger:     logger,
		baseCtx:    baseCtx,
		reconciler: reconciler,
	}
}

// Schedule registers the reconciliation job under spec, e.g. "@every 15m".
func (r *Runner) Schedule(spec string) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() { r.RunOnce(r.baseCtx) })
}

// RunOnce reconciles every article. Overlapping runs are skipped.
func (r *Runner) RunOnce(ctx context.Context) bool {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.logger.Warn("reconcile still running, skipping tick")
		return false
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	counts, err := r.reconciler.ReconcileAll(ctx)
	if err != nil {
		r.logger.Warn("reconcile failed", zap.Error(err))
	}
	articles := make([]string, 0, len(counts))
	rewritten := 0
	for article, n := range counts {
		if n > 0 {
			articles = append(articles, string(article))
		}
		rewritten += n
	}
	sort.Strings(articles)
	r.logger.Info("reconcile ok",
		zap.Int("articles", len(counts)),
		zap.Int("rolls_rewritten", rewritten),
		zap.Strings("drifted", articles),
	)
	return true
}

// Start starts the scheduler.
func (r *Runner) Start() {
	r.logger.Info("cron started")
	r.cron.Start()
}

// Stop stops the scheduler and waits for a running job.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}

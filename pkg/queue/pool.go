package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/donkey/pkg/model"
	"github.com/codeready-toolchain/donkey/pkg/store"
)

// SendFunc attempts delivery of one checked-out message and reports
// whether the failure (if any) should be retried.
type SendFunc func(ctx context.Context, cm *model.ConnectorMessage) (retry bool, err error)

// WorkerPoolConfig configures retry pacing for a destination's queue
// workers (spec.md §4.4 "Retry").
type WorkerPoolConfig struct {
	WorkerCount         int
	RetryCount          int // 0 = unlimited
	RetryIntervalMillis int

	// OrphanScanInterval and OrphanThreshold configure the background scan
	// that resets connector messages stuck in PENDING back to QUEUED after
	// a send worker crashes mid-transport. Zero OrphanScanInterval disables
	// the scan.
	OrphanScanInterval time.Duration
	OrphanThreshold    time.Duration
}

// WorkerPool drives a ConnectorMessageQueue with WorkerCount goroutines,
// each repeatedly acquiring, sending, and releasing messages. Mirrors the
// worker-pool/worker split used for session execution, generalized from a
// single shared queue to one queue per (channel, destination).
type WorkerPool struct {
	queue  *ConnectorMessageQueue
	cfg    WorkerPoolConfig
	send   SendFunc
	store  store.Datastore
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	orphans orphanState
}

// NewWorkerPool constructs a pool bound to one queue and send function.
// st may be nil when orphan scanning is not needed (e.g. in unit tests
// exercising Acquire/Release directly).
func NewWorkerPool(q *ConnectorMessageQueue, cfg WorkerPoolConfig, send SendFunc, st store.Datastore) *WorkerPool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	return &WorkerPool{queue: q, cfg: cfg, send: send, store: st, stopCh: make(chan struct{})}
}

// Start launches the configured worker goroutines and, if configured, the
// orphan-detection background scan. Before either, it runs one immediate
// orphan-recovery pass so messages left PENDING by a prior crash resume as
// QUEUED right away rather than waiting for the first scan tick.
func (p *WorkerPool) Start(ctx context.Context) {
	if p.store != nil {
		if err := p.RecoverStaleNow(ctx); err != nil {
			slog.Error("queue: startup orphan recovery failed", "error", err)
		}
	}
	for i := 0; i < p.cfg.WorkerCount; i++ {
		bucket := p.queue.RegisterBucket(i)
		p.wg.Add(1)
		go p.run(ctx, bucket)
	}
	if p.cfg.OrphanScanInterval > 0 && p.store != nil {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runOrphanDetection(ctx)
		}()
	}
}

// Stop signals all workers to exit and waits for them to drain their
// current send attempt.
func (p *WorkerPool) Stop() {
	p.once.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *WorkerPool) run(ctx context.Context, bucket int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		cm, err := p.queue.Acquire(ctx, bucket)
		if err != nil {
			if errors.Is(err, ErrNoMessageAvailable) {
				p.sleep(200 * time.Millisecond)
				continue
			}
			slog.Error("queue worker: acquire failed", "error", err)
			p.sleep(time.Second)
			continue
		}

		p.processOne(ctx, cm)
	}
}

func (p *WorkerPool) processOne(ctx context.Context, cm *model.ConnectorMessage) {
	attempts := cm.IncrementSendAttempts()
	retry, err := p.send(ctx, cm)

	if err == nil {
		if releaseErr := p.queue.Release(ctx, cm, true); releaseErr != nil {
			slog.Error("queue worker: release after success failed", "error", releaseErr)
		}
		return
	}

	retryable := retry && (p.cfg.RetryCount == 0 || attempts < p.cfg.RetryCount)
	if retryable {
		if p.cfg.RetryIntervalMillis > 0 {
			p.sleep(time.Duration(p.cfg.RetryIntervalMillis) * time.Millisecond)
		}
		if releaseErr := p.queue.Release(ctx, cm, false); releaseErr != nil {
			slog.Error("queue worker: release for retry failed", "error", releaseErr)
		}
		return
	}

	cm.SetError(0, err.Error())
	if releaseErr := p.queue.Release(ctx, cm, true); releaseErr != nil {
		slog.Error("queue worker: release after terminal error failed", "error", releaseErr)
	}
}

func (p *WorkerPool) sleep(d time.Duration) {
	select {
	case <-p.stopCh:
	case <-time.After(d):
	}
}

package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codeready-toolchain/donkey/pkg/model"
)

// orphanState tracks orphan-recovery metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastScan         time.Time
	orphansRecovered int
}

// runOrphanDetection periodically scans for connector messages stuck in
// PENDING — sent, but no terminal status was ever recorded because the
// worker that held them crashed mid-transport — and resets them to
// QUEUED so a healthy worker retries delivery.
func (p *WorkerPool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.OrphanScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverOrphans(ctx); err != nil {
				slog.Error("queue: orphan detection failed", "error", err)
			}
		}
	}
}

// RecoverStaleNow runs one orphan-recovery pass immediately, without
// waiting for the periodic ticker. Called once at channel start so a
// message left PENDING by a prior crash or ungraceful stop resumes as
// QUEUED right away instead of after one full OrphanScanInterval
// (spec.md §4.7: "messages in PENDING at abort are reset to QUEUED on
// next start").
func (p *WorkerPool) RecoverStaleNow(ctx context.Context) error {
	return p.detectAndRecoverOrphans(ctx)
}

func (p *WorkerPool) detectAndRecoverOrphans(ctx context.Context) error {
	threshold := time.Now().Add(-p.cfg.OrphanThreshold)

	stale, err := p.store.GetStalePending(ctx, p.queue.opts.ChannelID, p.queue.opts.MetaDataID, threshold)
	if err != nil {
		return err
	}

	p.orphans.mu.Lock()
	p.orphans.lastScan = time.Now()
	p.orphans.mu.Unlock()

	if len(stale) == 0 {
		return nil
	}
	slog.Warn("queue: recovering orphaned pending messages",
		"channel_id", p.queue.opts.ChannelID, "meta_data_id", p.queue.opts.MetaDataID, "count", len(stale))

	recovered := 0
	for _, cm := range stale {
		if err := cm.SetStatus(model.StatusQueued); err != nil {
			slog.Error("queue: orphan recovery status transition failed",
				"message_id", cm.MessageID, "error", err)
			continue
		}
		if err := p.store.UpdateStatus(ctx, cm.MessageID, p.queue.opts.ChannelID, cm.MetaDataID,
			model.StatusQueued, cm.ErrorCode(), cm.SendAttempts(), cm.SendDate(), cm.ResponseDate()); err != nil {
			slog.Error("queue: orphan recovery persist failed", "message_id", cm.MessageID, "error", err)
			continue
		}
		recovered++
	}

	p.orphans.mu.Lock()
	p.orphans.orphansRecovered += recovered
	p.orphans.mu.Unlock()

	if err := p.queue.Invalidate(ctx, true, false); err != nil {
		slog.Error("queue: orphan recovery invalidate failed", "error", err)
	}
	return nil
}

// OrphanStats reports the most recent scan time and cumulative recovered
// count, surfaced through channel statistics (C8).
func (p *WorkerPool) OrphanStats() (lastScan time.Time, recovered int) {
	p.orphans.mu.Lock()
	defer p.orphans.mu.Unlock()
	return p.orphans.lastScan, p.orphans.orphansRecovered
}

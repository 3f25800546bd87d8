package job

import (
	"context"
	"time"

	"auctionwallet/internal/config"
	"auctionwallet/internal/service"

	"go.uber.org/zap"
)

// Reconciler is the settlement service's remediation pass.
type Reconciler interface {
	Reconcile(ctx context.Context, staleBefore time.Time, maxRetries, batchSize int) (*service.ReconcileReport, error)
}

// SettlementReconcileJob carries interrupted and parked settlements
// forward. Settlements are never reversed here; once retries run out they
// are left in MANUAL_REVIEW for an operator.
type SettlementReconcileJob struct {
	reconciler Reconciler
	cfg        *config.Config
	logger     *zap.Logger
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
}

func NewSettlementReconcileJob(reconciler Reconciler, cfg *config.Config, logger *zap.Logger) *SettlementReconcileJob {
	return &SettlementReconcileJob{
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger.Named("settlement_reconcile"),
		stopCh:     make(chan struct{}),
		interval:   30 * time.Second,
		batchSize:  50,
	}
}

func (j *SettlementReconcileJob) Start(ctx context.Context) {
	j.logger.Info("settlement reconcile job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("context done, settlement reconcile job exiting")
			return
		case <-j.stopCh:
			j.logger.Info("settlement reconcile job stopped")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *SettlementReconcileJob) Stop() {
	close(j.stopCh)
}

func (j *SettlementReconcileJob) runOnce(ctx context.Context) {
	staleAfter := time.Duration(j.cfg.Business.SettlementStaleMinutes) * time.Minute
	report, err := j.reconciler.Reconcile(ctx, time.Now().Add(-staleAfter), j.cfg.Business.MaxRetryCount, j.batchSize)
	if err != nil {
		j.logger.Error("reconcile settlements", zap.Error(err))
		return
	}

	if report.Resolved == 0 && report.StillFailing == 0 && report.Escalated == 0 {
		return
	}
	j.logger.Info("settlement reconcile pass finished",
		zap.Int("resolved", report.Resolved),
		zap.Int("still_failing", report.StillFailing),
		zap.Int("escalated", report.Escalated))
}

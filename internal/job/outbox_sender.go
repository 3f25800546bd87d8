package job

import (
	"context"
	"sync"
	"time"

	"auctionwallet/internal/config"
	"auctionwallet/internal/model"
	"auctionwallet/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Publisher delivers one outbox message to the broker.
type Publisher interface {
	SendMessage(topic, key, value string) error
}

// OutboxSender publishes the ledger events written by the services.
// Delivery is at least once: a message sent but not marked SENT is sent
// again, so consumers dedupe on event_id.
type OutboxSender struct {
	outboxRepo *repository.OutboxRepository
	publisher  Publisher
	cfg        *config.Config
	logger     *zap.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
	interval   time.Duration
	batchSize  int
}

func NewOutboxSender(db *gorm.DB, publisher Publisher, cfg *config.Config, logger *zap.Logger) *OutboxSender {
	return &OutboxSender{
		outboxRepo: repository.NewOutboxRepository(db),
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger.Named("outbox_sender"),
		stopCh:     make(chan struct{}),
		interval:   100 * time.Millisecond,
		batchSize:  100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("outbox sender started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("context done, outbox sender exiting")
			return
		case <-s.stopCh:
			s.logger.Info("outbox sender stopped")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

// Stop ends Start. Calling it more than once is harmless.
func (s *OutboxSender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// processPendingMessages sends one batch and returns how many were
// delivered.
func (s *OutboxSender) processPendingMessages(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("load pending messages", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	log := s.logger.With(
		zap.Int64("id", msg.ID),
		zap.String("event_id", msg.EventID),
		zap.String("topic", msg.Topic))

	err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			log.Error("message sent but status not updated", zap.Error(updateErr))
		} else {
			log.Debug("message sent", zap.String("key", msg.MessageKey))
		}
		return true
	}

	log.Warn("send message failed", zap.Int("retry_count", msg.RetryCount), zap.Error(err))

	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		log.Error("increment retry count", zap.Error(err))
	}

	if msg.RetryCount+1 >= s.cfg.Business.MaxRetryCount {
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			log.Error("mark message failed", zap.Error(err))
		} else {
			log.Error("message exceeded max retries, marked failed", zap.String("event_type", msg.EventType))
		}
	}
	return false
}

// RequeueFailed gives up to limit FAILED messages a fresh retry budget.
func (s *OutboxSender) RequeueFailed(ctx context.Context, limit int) (int, error) {
	messages, err := s.outboxRepo.GetFailedMessages(ctx, limit)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, msg := range messages {
		if err := s.outboxRepo.Requeue(ctx, msg.ID); err != nil {
			return requeued, err
		}
		requeued++
	}

	if requeued > 0 {
		s.logger.Info("failed messages requeued", zap.Int("count", requeued))
	}
	return requeued, nil
}

package service

import (
	"context"
	"encoding/json"
	"time"

	"auctionwallet/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransactionCompletedEvent is published for every committed movement.
type TransactionCompletedEvent struct {
	EventID     string                   `json:"event_id"`
	EventType   string                   `json:"event_type"`
	OccurredAt  time.Time                `json:"occurred_at"`
	Transaction *model.WalletTransaction `json:"transaction"`
	Balance     BalanceView              `json:"balance"`
}

// RefundProcessedEvent is published in addition for refund movements.
type RefundProcessedEvent struct {
	EventID               string      `json:"event_id"`
	EventType             string      `json:"event_type"`
	OccurredAt            time.Time   `json:"occurred_at"`
	TransactionID         string      `json:"transaction_id"`
	UserID                string      `json:"user_id"`
	Amount                int64       `json:"amount"`
	Reason                string      `json:"reason,omitempty"`
	ReferenceID           string      `json:"reference_id,omitempty"`
	ReferenceType         string      `json:"reference_type,omitempty"`
	OriginalTransactionID string      `json:"original_transaction_id,omitempty"`
	Balance               BalanceView `json:"balance"`
}

// SettlementInconsistentEvent alerts operators about a parked settlement.
type SettlementInconsistentEvent struct {
	EventID    string                   `json:"event_id"`
	EventType  string                   `json:"event_type"`
	OccurredAt time.Time                `json:"occurred_at"`
	Settlement *model.AuctionSettlement `json:"settlement"`
}

func isRefundPurpose(purpose string) bool {
	return purpose == model.PurposeRefund || purpose == model.PurposeBidRefund
}

// enqueueTransactionEvents writes the outbox rows for trans inside tx, so
// they commit or roll back together with the movement.
func (s *WalletService) enqueueTransactionEvents(ctx context.Context, tx *gorm.DB, trans *model.WalletTransaction, balance BalanceView) error {
	now := time.Now().UTC()

	completed := TransactionCompletedEvent{
		EventID:     uuid.NewString(),
		EventType:   model.EventTransactionCompleted,
		OccurredAt:  now,
		Transaction: trans,
		Balance:     balance,
	}
	if err := s.enqueue(ctx, tx, completed.EventID, completed.EventType, s.cfg.Kafka.Topic.TransactionCompleted, trans.UserID, completed); err != nil {
		return err
	}

	if !isRefundPurpose(trans.Purpose) {
		return nil
	}

	refunded := RefundProcessedEvent{
		EventID:               uuid.NewString(),
		EventType:             model.EventRefundProcessed,
		OccurredAt:            now,
		TransactionID:         trans.TransactionNo,
		UserID:                trans.UserID,
		Amount:                trans.Amount,
		Reason:                trans.Description,
		ReferenceID:           trans.ReferenceID,
		ReferenceType:         trans.ReferenceType,
		OriginalTransactionID: trans.OriginalTransactionID,
		Balance:               balance,
	}
	return s.enqueue(ctx, tx, refunded.EventID, refunded.EventType, s.cfg.Kafka.Topic.RefundProcessed, trans.UserID, refunded)
}

func (s *WalletService) enqueue(ctx context.Context, tx *gorm.DB, eventID, eventType, topic, key string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := &model.OutboxMessage{
		EventID:    eventID,
		EventType:  eventType,
		MessageKey: key,
		Topic:      topic,
		Payload:    string(body),
		Status:     model.OutboxStatusPending,
	}
	if err := s.outboxRepo.Create(ctx, tx, msg); err != nil {
		return storageErr("write outbox message", err)
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"auctionwallet/internal/config"
	"auctionwallet/internal/infrastructure/lock"
	"auctionwallet/internal/ledger"
	"auctionwallet/internal/model"
	"auctionwallet/internal/repository"
	"auctionwallet/pkg/idgen"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxUserIDLength     = 64
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type WalletService struct {
	db              *gorm.DB
	locker          lock.UserLocker
	cfg             *config.Config
	logger          *zap.Logger
	walletRepo      *repository.WalletRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
}

func NewWalletService(db *gorm.DB, locker lock.UserLocker, cfg *config.Config, logger *zap.Logger) *WalletService {
	return &WalletService{
		db:              db,
		locker:          locker,
		cfg:             cfg,
		logger:          logger.Named("wallet"),
		walletRepo:      repository.NewWalletRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// BalanceView is a wallet snapshot as reported to callers.
type BalanceView struct {
	UserID    string    `json:"user_id"`
	Available int64     `json:"available"`
	Held      int64     `json:"held"`
	Total     int64     `json:"total"`
	Currency  string    `json:"currency"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newBalanceView(w *model.Wallet) BalanceView {
	return BalanceView{
		UserID:    w.UserID,
		Available: w.Available,
		Held:      w.Held,
		Total:     w.Total(),
		Currency:  w.Currency,
		UpdatedAt: w.UpdatedAt,
	}
}

// ============================================================================
// Transaction recorder
// ============================================================================

// RecordRequest describes one balance movement.
type RecordRequest struct {
	UserID                string
	Type                  string
	Purpose               string
	Amount                int64
	ReferenceID           string
	ReferenceType         string
	OriginalTransactionID string
	// IdempotencyKey, when set, lets the movement be recorded at most once.
	IdempotencyKey string
	Description    string
	Metadata       map[string]string

	// precheck runs inside the atomic unit, before the balance is touched.
	precheck func(ctx context.Context, tx *gorm.DB) error
}

type RecordResult struct {
	TransactionID string                   `json:"transaction_id"`
	Transaction   *model.WalletTransaction `json:"transaction"`
	NewBalance    BalanceView              `json:"new_balance"`
}

// Record applies one movement to a wallet.
//
// Key points:
//  1. the user's lock is held across load -> validate -> persist
//  2. balance row, transaction row and outbox rows commit in one db transaction
//  3. the balance row is written with a version predicate; a conflicting
//     writer causes the whole cycle to run again, never an overwrite
//  4. a refused movement (engine error) leaves no trace in the store
func (s *WalletService) Record(ctx context.Context, req *RecordRequest) (*RecordResult, error) {
	if err := validateRecordRequest(req); err != nil {
		return nil, err
	}

	unlock, err := s.locker.LockUser(ctx, req.UserID, uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLockUnavailable, err)
	}
	defer unlock()

	for attempt := 1; attempt <= s.cfg.Business.MaxConflictRetries; attempt++ {
		result, err := s.recordOnce(ctx, req)
		if errors.Is(err, repository.ErrOptimisticLock) {
			s.logger.Warn("wallet version conflict, retrying",
				zap.String("user_id", req.UserID),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.Info("wallet transaction completed",
			zap.String("transaction_id", result.TransactionID),
			zap.String("user_id", req.UserID),
			zap.String("type", req.Type),
			zap.String("purpose", req.Purpose),
			zap.Int64("amount", req.Amount),
			zap.Int64("available", result.NewBalance.Available),
			zap.Int64("held", result.NewBalance.Held))
		return result, nil
	}

	s.logger.Error("wallet version conflict retries exhausted", zap.String("user_id", req.UserID))
	return nil, ErrConcurrentModification
}

func (s *WalletService) recordOnce(ctx context.Context, req *RecordRequest) (*RecordResult, error) {
	var result *RecordResult

	apply := func(tx *gorm.DB) error {
		if req.IdempotencyKey != "" {
			existing, err := s.transactionRepo.GetByIdempotencyKey(ctx, tx, req.IdempotencyKey)
			if err != nil {
				return storageErr("check idempotency key", err)
			}
			if existing != nil {
				return fmt.Errorf("%w: key %s already recorded as %s", ErrDuplicateTransaction, req.IdempotencyKey, existing.TransactionNo)
			}
		}

		if req.precheck != nil {
			if err := req.precheck(ctx, tx); err != nil {
				return err
			}
		}

		if _, err := s.walletRepo.GetOrCreate(ctx, tx, req.UserID, s.cfg.Business.Currency); err != nil {
			return storageErr("get or create wallet", err)
		}
		wallet, err := s.walletRepo.GetByUserIDForUpdate(ctx, tx, req.UserID)
		if err != nil {
			return storageErr("lock wallet", err)
		}

		before := wallet.Balance()
		after, err := ledger.Apply(before, ledger.Operation{Op: ledger.Op(req.Type), Amount: req.Amount})
		if err != nil {
			return err
		}

		if err := s.walletRepo.UpdateBalance(ctx, tx, req.UserID, after.Available, after.Held, wallet.Version); err != nil {
			if errors.Is(err, repository.ErrOptimisticLock) {
				return err
			}
			return storageErr("update wallet", err)
		}

		trans := &model.WalletTransaction{
			TransactionNo:         idgen.GenerateTransactionNo(),
			UserID:                req.UserID,
			Amount:                req.Amount,
			Type:                  req.Type,
			Purpose:               req.Purpose,
			Status:                model.TransactionStatusCompleted,
			ReferenceID:           req.ReferenceID,
			ReferenceType:         req.ReferenceType,
			OriginalTransactionID: req.OriginalTransactionID,
			AvailableBefore:       before.Available,
			AvailableAfter:        after.Available,
			HeldBefore:            before.Held,
			HeldAfter:             after.Held,
			Description:           req.Description,
			Metadata:              req.Metadata,
		}
		if req.IdempotencyKey != "" {
			key := req.IdempotencyKey
			trans.IdempotencyKey = &key
		}
		if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %v", ErrDuplicateTransaction, err)
			}
			return storageErr("create transaction", err)
		}

		updated, err := s.walletRepo.GetByUserID(ctx, tx, req.UserID)
		if err != nil {
			return storageErr("reload wallet", err)
		}
		balance := newBalanceView(updated)

		if err := s.enqueueTransactionEvents(ctx, tx, trans, balance); err != nil {
			return err
		}

		result = &RecordResult{
			TransactionID: trans.TransactionNo,
			Transaction:   trans,
			NewBalance:    balance,
		}
		return nil
	}

	// applyErr is already classified; anything else came from begin or
	// commit, and after a failed commit the outcome is unknown.
	var applyErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applyErr = apply(tx)
		return applyErr
	})
	if err != nil {
		if applyErr != nil {
			return nil, applyErr
		}
		return nil, storageErr("commit wallet transaction", err)
	}
	return result, nil
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" || len(userID) > maxUserIDLength {
		return ErrInvalidUser
	}
	return nil
}

func validateRecordRequest(req *RecordRequest) error {
	if err := validateUserID(req.UserID); err != nil {
		return err
	}
	if !model.IsValidTransactionType(req.Type) {
		return fmt.Errorf("%w: %q", ErrInvalidType, req.Type)
	}
	if !model.IsValidPurpose(req.Purpose) {
		return fmt.Errorf("%w: %q", ErrInvalidPurpose, req.Purpose)
	}
	if req.Amount <= 0 {
		return ledger.ErrInvalidAmount
	}
	return nil
}

// FindByIdempotencyKey returns the movement recorded under key, or nil.
func (s *WalletService) FindByIdempotencyKey(ctx context.Context, key string) (*model.WalletTransaction, error) {
	trans, err := s.transactionRepo.GetByIdempotencyKey(ctx, nil, key)
	if err != nil {
		return nil, storageErr("find transaction by idempotency key", err)
	}
	return trans, nil
}

// ============================================================================
// Wallet operations
// ============================================================================

// FundsRequest is the input of add/deduct/hold.
type FundsRequest struct {
	UserID         string
	Amount         int64
	Purpose        string
	ReferenceID    string
	ReferenceType  string
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

func (r *FundsRequest) toRecord(op ledger.Op, defaultPurpose string) *RecordRequest {
	purpose := r.Purpose
	if purpose == "" {
		purpose = defaultPurpose
	}
	return &RecordRequest{
		UserID:         r.UserID,
		Type:           string(op),
		Purpose:        purpose,
		Amount:         r.Amount,
		ReferenceID:    r.ReferenceID,
		ReferenceType:  r.ReferenceType,
		IdempotencyKey: r.IdempotencyKey,
		Description:    r.Description,
		Metadata:       r.Metadata,
	}
}

func (s *WalletService) GetBalance(ctx context.Context, userID string) (*BalanceView, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	wallet, err := s.walletRepo.GetOrCreate(ctx, nil, userID, s.cfg.Business.Currency)
	if err != nil {
		return nil, storageErr("get wallet", err)
	}
	view := newBalanceView(wallet)
	return &view, nil
}

// AddFunds credits available funds. Purpose defaults to wallet_topup.
func (s *WalletService) AddFunds(ctx context.Context, req *FundsRequest) (*RecordResult, error) {
	return s.Record(ctx, req.toRecord(ledger.OpCredit, model.PurposeWalletTopup))
}

// DeductFunds debits available funds; fails with
// ledger.ErrInsufficientAvailable when they do not cover the amount.
func (s *WalletService) DeductFunds(ctx context.Context, req *FundsRequest) (*RecordResult, error) {
	return s.Record(ctx, req.toRecord(ledger.OpDebit, ""))
}

// HoldFunds moves funds from available to held. Purpose defaults to
// bid_placement.
func (s *WalletService) HoldFunds(ctx context.Context, req *FundsRequest) (*RecordResult, error) {
	return s.Record(ctx, req.toRecord(ledger.OpHold, model.PurposeBidPlacement))
}

type ReleaseRequest struct {
	UserID                string
	Amount                int64
	OriginalTransactionID string
	Purpose               string
	ReferenceID           string
	ReferenceType         string
	IdempotencyKey        string
	Description           string
	Metadata              map[string]string
}

// ReleaseFunds returns held funds to available. The original transaction
// must be a hold of the same user, and all releases against it together
// may not exceed it.
func (s *WalletService) ReleaseFunds(ctx context.Context, req *ReleaseRequest) (*RecordResult, error) {
	if req.OriginalTransactionID == "" {
		return nil, fmt.Errorf("%w: original transaction id is required", ErrOriginalNotFound)
	}

	purpose := req.Purpose
	if purpose == "" {
		purpose = model.PurposeBidRefund
	}
	record := &RecordRequest{
		UserID:                req.UserID,
		Type:                  model.TransactionTypeRelease,
		Purpose:               purpose,
		Amount:                req.Amount,
		ReferenceID:           req.ReferenceID,
		ReferenceType:         req.ReferenceType,
		OriginalTransactionID: req.OriginalTransactionID,
		IdempotencyKey:        req.IdempotencyKey,
		Description:           req.Description,
		Metadata:              req.Metadata,
	}
	record.precheck = func(ctx context.Context, tx *gorm.DB) error {
		original, err := s.transactionRepo.GetByTransactionNo(ctx, tx, req.OriginalTransactionID)
		if err != nil {
			return storageErr("load original transaction", err)
		}
		if original == nil || original.UserID != req.UserID || original.Type != model.TransactionTypeHold {
			return fmt.Errorf("%w: no hold %s for user %s", ErrOriginalNotFound, req.OriginalTransactionID, req.UserID)
		}

		released, err := s.transactionRepo.SumReleasedFor(ctx, tx, original.TransactionNo)
		if err != nil {
			return storageErr("sum releases", err)
		}
		if released+req.Amount > original.Amount {
			return fmt.Errorf("%w: hold %d, released %d, requested %d",
				ErrReleaseExceedsHold, original.Amount, released, req.Amount)
		}
		if record.ReferenceID == "" {
			record.ReferenceID = original.ReferenceID
			record.ReferenceType = original.ReferenceType
		}
		return nil
	}

	return s.Record(ctx, record)
}

type RefundRequest struct {
	UserID        string
	Amount        int64
	Reason        string
	ReferenceID   string
	ReferenceType string
	// OriginalTransactionID, when set, makes the refund idempotent: the same
	// original can be refunded once.
	OriginalTransactionID string
	Metadata              map[string]string
}

func refundKey(originalTransactionID string) string {
	return "refund:" + originalTransactionID
}

// ProcessRefund credits a refund and publishes wallet.refund.processed.
func (s *WalletService) ProcessRefund(ctx context.Context, req *RefundRequest) (*RecordResult, error) {
	record := &RecordRequest{
		UserID:                req.UserID,
		Type:                  model.TransactionTypeCredit,
		Purpose:               model.PurposeRefund,
		Amount:                req.Amount,
		ReferenceID:           req.ReferenceID,
		ReferenceType:         req.ReferenceType,
		OriginalTransactionID: req.OriginalTransactionID,
		Description:           req.Reason,
		Metadata:              req.Metadata,
	}
	if req.OriginalTransactionID != "" {
		record.IdempotencyKey = refundKey(req.OriginalTransactionID)
	}

	result, err := s.Record(ctx, record)
	if errors.Is(err, ErrDuplicateTransaction) {
		return nil, fmt.Errorf("%w: %w", ErrAlreadyRefunded, err)
	}
	return result, err
}

// ============================================================================
// Queries
// ============================================================================

type HistoryQuery struct {
	UserID  string
	Limit   int
	Offset  int
	Type    string
	Purpose string
}

type HistoryPage struct {
	Transactions []*model.WalletTransaction `json:"transactions"`
	TotalCount   int64                      `json:"total_count"`
	HasMore      bool                       `json:"has_more"`
}

// GetTransactionHistory lists a user's movements, newest first.
func (s *WalletService) GetTransactionHistory(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	if err := validateUserID(q.UserID); err != nil {
		return nil, err
	}
	if q.Type != "" && !model.IsValidTransactionType(q.Type) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, q.Type)
	}
	if q.Purpose != "" && !model.IsValidPurpose(q.Purpose) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPurpose, q.Purpose)
	}
	if q.Limit <= 0 {
		q.Limit = defaultHistoryLimit
	}
	if q.Limit > maxHistoryLimit {
		q.Limit = maxHistoryLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	transactions, total, err := s.transactionRepo.List(ctx, repository.TransactionFilter{
		UserID:  q.UserID,
		Type:    q.Type,
		Purpose: q.Purpose,
		Limit:   q.Limit,
		Offset:  q.Offset,
	})
	if err != nil {
		return nil, storageErr("list transactions", err)
	}
	if transactions == nil {
		transactions = []*model.WalletTransaction{}
	}

	return &HistoryPage{
		Transactions: transactions,
		TotalCount:   total,
		HasMore:      int64(q.Offset+len(transactions)) < total,
	}, nil
}

type WalletStats struct {
	TotalCredits        int64      `json:"total_credits"`
	TotalDebits         int64      `json:"total_debits"`
	NetFlow             int64      `json:"net_flow"`
	TransactionCount    int64      `json:"transaction_count"`
	AverageTransaction  int64      `json:"average_transaction"`
	LastTransactionDate *time.Time `json:"last_transaction_date"`
}

// GetWalletStats aggregates completed movements. Holds and releases count
// as transactions but are not money flowing in or out.
func (s *WalletService) GetWalletStats(ctx context.Context, userID string) (*WalletStats, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	totals, err := s.transactionRepo.TotalsByType(ctx, userID)
	if err != nil {
		return nil, storageErr("aggregate transactions", err)
	}

	stats := &WalletStats{}
	var sum int64
	for _, t := range totals {
		switch t.Type {
		case model.TransactionTypeCredit:
			stats.TotalCredits = t.Total
		case model.TransactionTypeDebit:
			stats.TotalDebits = t.Total
		}
		stats.TransactionCount += t.Count
		sum += t.Total
	}
	stats.NetFlow = stats.TotalCredits - stats.TotalDebits
	if stats.TransactionCount > 0 {
		stats.AverageTransaction = decimal.NewFromInt(sum).
			Div(decimal.NewFromInt(stats.TransactionCount)).
			Round(0).
			IntPart()
	}

	stats.LastTransactionDate, err = s.transactionRepo.LatestCreatedAt(ctx, userID)
	if err != nil {
		return nil, storageErr("latest transaction", err)
	}
	return stats, nil
}

// ListReferenceTransactions returns every movement pointing at referenceID
// in the order it was recorded, e.g. the legs of one auction.
func (s *WalletService) ListReferenceTransactions(ctx context.Context, referenceID string) ([]*model.WalletTransaction, error) {
	transactions, err := s.transactionRepo.ListByReference(ctx, referenceID)
	if err != nil {
		return nil, storageErr("list transactions by reference", err)
	}
	if transactions == nil {
		transactions = []*model.WalletTransaction{}
	}
	return transactions, nil
}

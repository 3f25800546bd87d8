package repository

import (
	"context"
	"errors"
	"time"

	"auctionwallet/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.WalletTransaction) error {
	return r.conn(tx).WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByTransactionNo(ctx context.Context, tx *gorm.DB, transactionNo string) (*model.WalletTransaction, error) {
	var trans model.WalletTransaction
	err := r.conn(tx).WithContext(ctx).Where("transaction_no = ?", transactionNo).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) GetByIdempotencyKey(ctx context.Context, tx *gorm.DB, key string) (*model.WalletTransaction, error) {
	var trans model.WalletTransaction
	err := r.conn(tx).WithContext(ctx).Where("idempotency_key = ?", key).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// SumReleasedFor totals the completed releases pointing at a hold.
func (r *TransactionRepository) SumReleasedFor(ctx context.Context, tx *gorm.DB, holdTransactionNo string) (int64, error) {
	var total int64
	err := r.conn(tx).WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("original_transaction_id = ? AND type = ? AND status = ?",
			holdTransactionNo, model.TransactionTypeRelease, model.TransactionStatusCompleted).
		Scan(&total).Error
	return total, err
}

// TransactionFilter narrows a history query. Empty Type/Purpose match all.
type TransactionFilter struct {
	UserID  string
	Type    string
	Purpose string
	Limit   int
	Offset  int
}

func (r *TransactionRepository) List(ctx context.Context, filter TransactionFilter) ([]*model.WalletTransaction, int64, error) {
	var transactions []*model.WalletTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WalletTransaction{}).Where("user_id = ?", filter.UserID)
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Purpose != "" {
		query = query.Where("purpose = ?", filter.Purpose)
	}

	err := query.Session(&gorm.Session{}).Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.Session(&gorm.Session{}).
		Order("id DESC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&transactions).Error

	return transactions, total, err
}

// TypeTotal is one row of the per-type aggregate.
type TypeTotal struct {
	Type  string
	Count int64
	Total int64
}

func (r *TransactionRepository) TotalsByType(ctx context.Context, userID string) ([]TypeTotal, error) {
	var rows []TypeTotal
	err := r.db.WithContext(ctx).
		Model(&model.WalletTransaction{}).
		Select("type, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS total").
		Where("user_id = ? AND status = ?", userID, model.TransactionStatusCompleted).
		Group("type").
		Scan(&rows).Error
	return rows, err
}

func (r *TransactionRepository) LatestCreatedAt(ctx context.Context, userID string) (*time.Time, error) {
	var trans model.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans.CreatedAt, nil
}

func (r *TransactionRepository) ListByReference(ctx context.Context, referenceID string) ([]*model.WalletTransaction, error) {
	var transactions []*model.WalletTransaction
	err := r.db.WithContext(ctx).
		Where("reference_id = ?", referenceID).
		Order("id ASC").
		Find(&transactions).Error
	return transactions, err
}

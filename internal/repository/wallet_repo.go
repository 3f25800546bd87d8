package repository

import (
	"context"
	"errors"

	"auctionwallet/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrWalletNotFound = errors.New("wallet not found")
	ErrOptimisticLock = errors.New("optimistic lock conflict, retry")
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *WalletRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.conn(tx).WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// GetByUserIDForUpdate locks the row until tx ends.
func (r *WalletRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// GetOrCreate returns the user's wallet, inserting a zero wallet first when
// none exists. The insert is ON CONFLICT DO NOTHING, so two first-time
// callers racing each other both end up reading the same single row.
func (r *WalletRepository) GetOrCreate(ctx context.Context, tx *gorm.DB, userID, currency string) (*model.Wallet, error) {
	wallet, err := r.GetByUserID(ctx, tx, userID)
	if err == nil {
		return wallet, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	newWallet := &model.Wallet{
		UserID:   userID,
		Currency: currency,
	}
	err = r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newWallet).Error
	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, tx, userID)
}

// UpdateBalance writes the new snapshot only if nobody bumped the version
// since it was read.
func (r *WalletRepository) UpdateBalance(ctx context.Context, tx *gorm.DB, userID string, available, held int64, version int) error {
	result := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND version = ?", userID, version).
		Updates(map[string]interface{}{
			"available": available,
			"held":      held,
			"version":   gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOptimisticLock
	}
	return nil
}

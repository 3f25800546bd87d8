package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"auctionwallet/internal/infrastructure/database"
	"auctionwallet/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newRepoTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestWalletRepository_GetOrCreate(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewWalletRepository(db)
	ctx := context.Background()

	_, err := repo.GetByUserID(ctx, nil, "u1")
	require.ErrorIs(t, err, ErrWalletNotFound)

	first, err := repo.GetOrCreate(ctx, nil, "u1", "USD")
	require.NoError(t, err)
	again, err := repo.GetOrCreate(ctx, nil, "u1", "EUR")
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "USD", again.Currency)
	assert.Zero(t, again.Available)

	var count int64
	require.NoError(t, db.Model(&model.Wallet{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestWalletRepository_UpdateBalanceChecksVersion(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewWalletRepository(db)
	ctx := context.Background()

	w, err := repo.GetOrCreate(ctx, nil, "u1", "USD")
	require.NoError(t, err)

	require.NoError(t, repo.UpdateBalance(ctx, db, "u1", 500, 0, w.Version))

	// a writer holding the old version loses
	err = repo.UpdateBalance(ctx, db, "u1", 900, 0, w.Version)
	require.ErrorIs(t, err, ErrOptimisticLock)

	got, err := repo.GetByUserID(ctx, nil, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), got.Available)
	assert.Equal(t, w.Version+1, got.Version)
}

func TestWalletRepository_GetForUpdateInTransaction(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewWalletRepository(db)
	ctx := context.Background()

	_, err := repo.GetOrCreate(ctx, nil, "u1", "USD")
	require.NoError(t, err)

	err = db.Transaction(func(tx *gorm.DB) error {
		w, err := repo.GetByUserIDForUpdate(ctx, tx, "u1")
		if err != nil {
			return err
		}
		return repo.UpdateBalance(ctx, tx, "u1", 40, 60, w.Version)
	})
	require.NoError(t, err)

	got, err := repo.GetByUserID(ctx, nil, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Total())

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := repo.GetByUserIDForUpdate(ctx, tx, "nobody")
		return err
	})
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func newTrans(userID, typ string, amount int64) *model.WalletTransaction {
	return &model.WalletTransaction{
		TransactionNo: "TXN-" + uuid.NewString(),
		UserID:        userID,
		Amount:        amount,
		Type:          typ,
		Purpose:       model.PurposeBidPlacement,
		Status:        model.TransactionStatusCompleted,
	}
}

func TestTransactionRepository_IdempotencyKeyIsUnique(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	key := "refund:bid-1"
	first := newTrans("u1", model.TransactionTypeCredit, 100)
	first.IdempotencyKey = &key
	require.NoError(t, repo.Create(ctx, nil, first))

	second := newTrans("u1", model.TransactionTypeCredit, 100)
	second.IdempotencyKey = &key
	assert.ErrorIs(t, repo.Create(ctx, nil, second), gorm.ErrDuplicatedKey)

	// rows without a key never collide
	require.NoError(t, repo.Create(ctx, nil, newTrans("u1", model.TransactionTypeCredit, 1)))
	require.NoError(t, repo.Create(ctx, nil, newTrans("u1", model.TransactionTypeCredit, 1)))

	found, err := repo.GetByIdempotencyKey(ctx, nil, key)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.TransactionNo, found.TransactionNo)

	missing, err := repo.GetByIdempotencyKey(ctx, nil, "refund:bid-2")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTransactionRepository_SumReleasedFor(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	hold := newTrans("u1", model.TransactionTypeHold, 500)
	require.NoError(t, repo.Create(ctx, nil, hold))

	total, err := repo.SumReleasedFor(ctx, nil, hold.TransactionNo)
	require.NoError(t, err)
	assert.Zero(t, total)

	for _, amount := range []int64{100, 150} {
		release := newTrans("u1", model.TransactionTypeRelease, amount)
		release.OriginalTransactionID = hold.TransactionNo
		require.NoError(t, repo.Create(ctx, nil, release))
	}
	failed := newTrans("u1", model.TransactionTypeRelease, 999)
	failed.OriginalTransactionID = hold.TransactionNo
	failed.Status = model.TransactionStatusFailed
	require.NoError(t, repo.Create(ctx, nil, failed))

	total, err = repo.SumReleasedFor(ctx, nil, hold.TransactionNo)
	require.NoError(t, err)
	assert.Equal(t, int64(250), total)
}

func TestTransactionRepository_ListAndTotals(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, nil, newTrans("u1", model.TransactionTypeCredit, 300)))
	require.NoError(t, repo.Create(ctx, nil, newTrans("u1", model.TransactionTypeCredit, 200)))
	require.NoError(t, repo.Create(ctx, nil, newTrans("u1", model.TransactionTypeDebit, 50)))
	require.NoError(t, repo.Create(ctx, nil, newTrans("u2", model.TransactionTypeCredit, 7)))

	list, total, err := repo.List(ctx, TransactionFilter{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, list, 2)
	assert.Equal(t, model.TransactionTypeDebit, list[0].Type)

	list, total, err = repo.List(ctx, TransactionFilter{UserID: "u1", Type: model.TransactionTypeCredit, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, list, 2)

	totals, err := repo.TotalsByType(ctx, "u1")
	require.NoError(t, err)
	byType := make(map[string]TypeTotal)
	for _, tt := range totals {
		byType[tt.Type] = tt
	}
	assert.Equal(t, TypeTotal{Type: model.TransactionTypeCredit, Count: 2, Total: 500}, byType[model.TransactionTypeCredit])
	assert.Equal(t, TypeTotal{Type: model.TransactionTypeDebit, Count: 1, Total: 50}, byType[model.TransactionTypeDebit])

	latest, err := repo.LatestCreatedAt(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.WithinDuration(t, time.Now(), *latest, time.Minute)

	none, err := repo.LatestCreatedAt(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func newSettlement(auctionID, status string) *model.AuctionSettlement {
	return &model.AuctionSettlement{
		SettlementNo:      "STL-" + uuid.NewString(),
		AuctionID:         auctionID,
		WinnerID:          "winner",
		SellerID:          "seller",
		FinalPrice:        1000,
		CommissionPercent: "5",
		Commission:        50,
		SellerPayout:      950,
		Status:            status,
	}
}

func TestSettlementRepository_Transition(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewSettlementRepository(db)
	ctx := context.Background()

	st := newSettlement("auction-1", model.SettlementStatusPending)
	require.NoError(t, repo.Create(ctx, st))
	assert.ErrorIs(t, repo.Create(ctx, newSettlement("auction-1", model.SettlementStatusPending)), gorm.ErrDuplicatedKey)

	st.Status = model.SettlementStatusWinnerDebited
	st.DebitTransactionID = "TXN-1"
	require.NoError(t, repo.Transition(ctx, nil, st, model.SettlementStatusPending))

	// a second worker still thinking the row is PENDING loses
	stale := *st
	stale.Status = model.SettlementStatusFailed
	assert.ErrorIs(t, repo.Transition(ctx, nil, &stale, model.SettlementStatusPending), ErrSettlementStatusInvalid)

	// never backwards
	st.Status = model.SettlementStatusPending
	assert.ErrorIs(t, repo.Transition(ctx, nil, st, model.SettlementStatusWinnerDebited), ErrSettlementStatusInvalid)

	got, err := repo.GetByAuctionID(ctx, "auction-1")
	require.NoError(t, err)
	assert.Equal(t, model.SettlementStatusWinnerDebited, got.Status)
	assert.Equal(t, "TXN-1", got.DebitTransactionID)

	_, err = repo.GetByAuctionID(ctx, "auction-2")
	assert.ErrorIs(t, err, ErrSettlementNotFound)
}

func TestSettlementRepository_ListStale(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewSettlementRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newSettlement("auction-1", model.SettlementStatusPending)))
	require.NoError(t, repo.Create(ctx, newSettlement("auction-2", model.SettlementStatusPayoutFailed)))
	require.NoError(t, repo.Create(ctx, newSettlement("auction-3", model.SettlementStatusCompleted)))

	stale, err := repo.ListStale(ctx, []string{model.SettlementStatusPending}, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "auction-1", stale[0].AuctionID)

	fresh, err := repo.ListStale(ctx, []string{model.SettlementStatusPending}, time.Now().Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, fresh)

	failed, err := repo.ListByStatus(ctx, []string{model.SettlementStatusPayoutFailed, model.SettlementStatusCompleted}, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 2)
}

func TestOutboxRepository_Lifecycle(t *testing.T) {
	db := newRepoTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	msg := &model.OutboxMessage{
		EventID:    uuid.NewString(),
		EventType:  model.EventTransactionCompleted,
		MessageKey: "u1",
		Topic:      "wallet.transaction.completed",
		Payload:    "{}",
		Status:     model.OutboxStatusPending,
	}
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.Create(ctx, tx, msg)
	}))

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, repo.IncrementRetryCount(ctx, msg.ID))
	require.NoError(t, repo.MarkAsFailed(ctx, msg.ID))
	failed, err := repo.GetFailedMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].RetryCount)

	require.NoError(t, repo.Requeue(ctx, msg.ID))
	require.NoError(t, repo.MarkAsSent(ctx, msg.ID))

	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

package service

import (
	"context"
	"fmt"
	"testing"

	"auctionwallet/internal/config"
	"auctionwallet/internal/infrastructure/database"
	"auctionwallet/internal/infrastructure/lock"
	"auctionwallet/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db         *gorm.DB
	cfg        *config.Config
	wallet     *WalletService
	settlement *SettlementService
	refund     *RefundService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := database.OpenSQLite(dsn, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)
	cfg := config.Default()
	log := zap.NewNop()

	wallet := NewWalletService(db, lock.NewLocalUserLocker(), cfg, log)
	return &testEnv{
		db:         db,
		cfg:        cfg,
		wallet:     wallet,
		settlement: NewSettlementService(db, wallet, cfg, log),
		refund:     NewRefundService(wallet, cfg, log),
	}
}

func (e *testEnv) fund(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := e.wallet.AddFunds(context.Background(), &FundsRequest{UserID: userID, Amount: amount})
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, userID string) BalanceView {
	t.Helper()
	b, err := e.wallet.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return *b
}

func (e *testEnv) outbox(t *testing.T, eventType string) []*model.OutboxMessage {
	t.Helper()
	var msgs []*model.OutboxMessage
	require.NoError(t, e.db.Where("event_type = ?", eventType).Order("id").Find(&msgs).Error)
	return msgs
}

func (e *testEnv) settlementRow(t *testing.T, auctionID string) *model.AuctionSettlement {
	t.Helper()
	st, err := e.settlement.GetSettlement(context.Background(), auctionID)
	require.NoError(t, err)
	return st
}

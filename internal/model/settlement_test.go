package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanSettlementTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{SettlementStatusPending, SettlementStatusWinnerDebited, true},
		{SettlementStatusPending, SettlementStatusFailed, true},
		{SettlementStatusFailed, SettlementStatusPending, true},
		// a winner debit found after the row was closed
		{SettlementStatusFailed, SettlementStatusPayoutFailed, true},
		{SettlementStatusPending, SettlementStatusPayoutFailed, true},
		{SettlementStatusWinnerDebited, SettlementStatusSellerPaid, true},
		{SettlementStatusWinnerDebited, SettlementStatusPayoutFailed, true},
		{SettlementStatusPayoutFailed, SettlementStatusManualReview, true},
		{SettlementStatusSellerPaid, SettlementStatusCompleted, true},
		{SettlementStatusCommissionFailed, SettlementStatusCompleted, true},
		{SettlementStatusManualReview, SettlementStatusSellerPaid, true},

		// once the winner has paid there is no way back
		{SettlementStatusWinnerDebited, SettlementStatusFailed, false},
		{SettlementStatusWinnerDebited, SettlementStatusPending, false},
		{SettlementStatusPayoutFailed, SettlementStatusFailed, false},
		{SettlementStatusManualReview, SettlementStatusFailed, false},
		{SettlementStatusCompleted, SettlementStatusPending, false},
		{SettlementStatusCompleted, SettlementStatusManualReview, false},
		{SettlementStatusPending, SettlementStatusCompleted, false},
		{SettlementStatusFailed, SettlementStatusCompleted, false},
		{"UNKNOWN", SettlementStatusPending, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanSettlementTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestIsInconsistentSettlement(t *testing.T) {
	for _, s := range []string{SettlementStatusWinnerDebited, SettlementStatusSellerPaid, SettlementStatusPayoutFailed, SettlementStatusCommissionFailed, SettlementStatusManualReview} {
		assert.True(t, IsInconsistentSettlement(s), s)
	}
	for _, s := range []string{SettlementStatusPending, SettlementStatusFailed, SettlementStatusCompleted} {
		assert.False(t, IsInconsistentSettlement(s), s)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"auctionwallet/internal/config"
	"auctionwallet/internal/ledger"
	"auctionwallet/internal/model"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Refunder is the part of the wallet service bulk refunds run through.
type Refunder interface {
	ProcessRefund(ctx context.Context, req *RefundRequest) (*RecordResult, error)
	ReleaseFunds(ctx context.Context, req *ReleaseRequest) (*RecordResult, error)
}

type RefundService struct {
	refunder Refunder
	cfg      *config.Config
	logger   *zap.Logger
}

func NewRefundService(refunder Refunder, cfg *config.Config, logger *zap.Logger) *RefundService {
	return &RefundService{
		refunder: refunder,
		cfg:      cfg,
		logger:   logger.Named("refund"),
	}
}

// RefundItem is one bid to give back. With ReleaseHeld the funds are still
// held for the bid and BidID is the hold transaction id; otherwise the
// amount is credited back.
type RefundItem struct {
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	BidID       string `json:"bid_id"`
	ReleaseHeld bool   `json:"release_held,omitempty"`
}

type RefundedBid struct {
	UserID        string `json:"user_id"`
	Amount        int64  `json:"amount"`
	BidID         string `json:"bid_id"`
	TransactionID string `json:"transaction_id"`
}

type FailedRefund struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
	BidID  string `json:"bid_id"`
	Error  string `json:"error"`

	Err error `json:"-"`
}

type RefundSummary struct {
	AuctionID     string         `json:"auction_id"`
	RefundedCount int            `json:"refunded_count"`
	TotalRefunded int64          `json:"total_refunded"`
	Refunded      []RefundedBid  `json:"refunded"`
	FailedRefunds []FailedRefund `json:"failed_refunds"`
}

type refundOutcome struct {
	transactionID string
	err           error
}

// RefundAuctionBids refunds every item independently. One failing item
// never stops the others: the summary is always returned, with failures
// listed in input order. Refunds already committed stay committed when ctx
// is cancelled midway; items not yet started are reported as failed.
//
// Each bid is refunded at most once, keyed by refund:<bidId>, so running the
// same batch again only fails the items already done.
func (s *RefundService) RefundAuctionBids(ctx context.Context, auctionID string, items []RefundItem) (*RefundSummary, error) {
	if strings.TrimSpace(auctionID) == "" {
		return nil, fmt.Errorf("%w: auction id is required", ErrInvalidRefundItem)
	}

	outcomes := make([]refundOutcome, len(items))

	var g errgroup.Group
	g.SetLimit(s.cfg.Business.RefundWorkers)
	for i := range items {
		i := i
		if err := ctx.Err(); err != nil {
			outcomes[i].err = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i].err = err
				return nil
			}
			outcomes[i] = s.refundOne(ctx, auctionID, items[i])
			return nil
		})
	}
	_ = g.Wait()

	summary := &RefundSummary{
		AuctionID:     auctionID,
		Refunded:      make([]RefundedBid, 0, len(items)),
		FailedRefunds: make([]FailedRefund, 0),
	}
	for i, item := range items {
		out := outcomes[i]
		if out.err != nil {
			summary.FailedRefunds = append(summary.FailedRefunds, FailedRefund{
				UserID: item.UserID,
				Amount: item.Amount,
				BidID:  item.BidID,
				Error:  out.err.Error(),
				Err:    out.err,
			})
			continue
		}
		summary.RefundedCount++
		summary.TotalRefunded += item.Amount
		summary.Refunded = append(summary.Refunded, RefundedBid{
			UserID:        item.UserID,
			Amount:        item.Amount,
			BidID:         item.BidID,
			TransactionID: out.transactionID,
		})
	}

	log := s.logger.With(
		zap.String("auction_id", auctionID),
		zap.Int("items", len(items)),
		zap.Int("refunded", summary.RefundedCount),
		zap.Int64("total_refunded", summary.TotalRefunded),
		zap.Int("failed", len(summary.FailedRefunds)))
	if len(summary.FailedRefunds) > 0 {
		log.Warn("auction bid refunds partially failed")
	} else {
		log.Info("auction bids refunded")
	}

	return summary, nil
}

func (s *RefundService) refundOne(ctx context.Context, auctionID string, item RefundItem) refundOutcome {
	if err := validateRefundItem(item); err != nil {
		return refundOutcome{err: err}
	}

	metadata := map[string]string{"auction_id": auctionID, "bid_id": item.BidID}

	var (
		res *RecordResult
		err error
	)
	if item.ReleaseHeld {
		res, err = s.refunder.ReleaseFunds(ctx, &ReleaseRequest{
			UserID:                item.UserID,
			Amount:                item.Amount,
			OriginalTransactionID: item.BidID,
			Purpose:               model.PurposeRefund,
			ReferenceID:           auctionID,
			ReferenceType:         model.ReferenceTypeAuction,
			IdempotencyKey:        refundKey(item.BidID),
			Description:           "auction cancelled",
			Metadata:              metadata,
		})
		if errors.Is(err, ErrDuplicateTransaction) {
			err = fmt.Errorf("%w: %w", ErrAlreadyRefunded, err)
		}
	} else {
		res, err = s.refunder.ProcessRefund(ctx, &RefundRequest{
			UserID:                item.UserID,
			Amount:                item.Amount,
			Reason:                "auction cancelled",
			ReferenceID:           auctionID,
			ReferenceType:         model.ReferenceTypeAuction,
			OriginalTransactionID: item.BidID,
			Metadata:              metadata,
		})
	}
	if err != nil {
		s.logger.Warn("bid refund failed",
			zap.String("auction_id", auctionID),
			zap.String("user_id", item.UserID),
			zap.String("bid_id", item.BidID),
			zap.Int64("amount", item.Amount),
			zap.Error(err))
		return refundOutcome{err: err}
	}
	return refundOutcome{transactionID: res.TransactionID}
}

func validateRefundItem(item RefundItem) error {
	if err := validateUserID(item.UserID); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRefundItem, err)
	}
	if strings.TrimSpace(item.BidID) == "" {
		return fmt.Errorf("%w: bid id is required", ErrInvalidRefundItem)
	}
	if item.Amount <= 0 {
		return fmt.Errorf("%w: %w", ErrInvalidRefundItem, ledger.ErrInvalidAmount)
	}
	return nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"auctionwallet/internal/config"
	"auctionwallet/internal/ledger"
	"auctionwallet/internal/model"
	"auctionwallet/internal/repository"
	"auctionwallet/pkg/idgen"
	"auctionwallet/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Recorder is the part of the wallet service the orchestrators build on.
type Recorder interface {
	Record(ctx context.Context, req *RecordRequest) (*RecordResult, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*model.WalletTransaction, error)
}

var hundred = decimal.NewFromInt(100)

type SettlementService struct {
	db             *gorm.DB
	recorder       Recorder
	cfg            *config.Config
	logger         *zap.Logger
	settlementRepo *repository.SettlementRepository
	outboxRepo     *repository.OutboxRepository
}

func NewSettlementService(db *gorm.DB, recorder Recorder, cfg *config.Config, logger *zap.Logger) *SettlementService {
	return &SettlementService{
		db:             db,
		recorder:       recorder,
		cfg:            cfg,
		logger:         logger.Named("settlement"),
		settlementRepo: repository.NewSettlementRepository(db),
		outboxRepo:     repository.NewOutboxRepository(db),
	}
}

type SettleRequest struct {
	AuctionID         string
	WinnerID          string
	SellerID          string
	FinalPrice        int64
	CommissionPercent decimal.Decimal
}

type SettlementResult struct {
	SettlementNo            string `json:"settlement_no"`
	AuctionID               string `json:"auction_id"`
	Status                  string `json:"status"`
	FinalPrice              int64  `json:"final_price"`
	Commission              int64  `json:"commission"`
	SellerPayout            int64  `json:"seller_payout"`
	DebitTransactionID      string `json:"debit_transaction_id"`
	PayoutTransactionID     string `json:"payout_transaction_id,omitempty"`
	CommissionTransactionID string `json:"commission_transaction_id,omitempty"`
}

func newSettlementResult(st *model.AuctionSettlement) *SettlementResult {
	return &SettlementResult{
		SettlementNo:            st.SettlementNo,
		AuctionID:               st.AuctionID,
		Status:                  st.Status,
		FinalPrice:              st.FinalPrice,
		Commission:              st.Commission,
		SellerPayout:            st.SellerPayout,
		DebitTransactionID:      st.DebitTransactionID,
		PayoutTransactionID:     st.PayoutTransactionID,
		CommissionTransactionID: st.CommissionTransactionID,
	}
}

// CalculateCommission splits finalPrice into platform commission and seller
// payout. The commission is rounded half up to whole minor units.
func CalculateCommission(finalPrice int64, percent decimal.Decimal) (commission, payout int64, err error) {
	if finalPrice <= 0 {
		return 0, 0, ledger.ErrInvalidAmount
	}
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return 0, 0, ErrInvalidCommission
	}

	commission = decimal.NewFromInt(finalPrice).
		Mul(percent).
		Div(hundred).
		Round(0).
		IntPart()
	return commission, finalPrice - commission, nil
}

func settlementLegKey(auctionID, leg string) string {
	return fmt.Sprintf("settlement:%s:%s", auctionID, leg)
}

func (s *SettlementService) validate(req *SettleRequest) error {
	if strings.TrimSpace(req.AuctionID) == "" {
		return fmt.Errorf("%w: auction id is required", ErrInvalidSettlement)
	}
	if err := validateUserID(req.WinnerID); err != nil {
		return fmt.Errorf("winner: %w", err)
	}
	if err := validateUserID(req.SellerID); err != nil {
		return fmt.Errorf("seller: %w", err)
	}
	if req.WinnerID == req.SellerID {
		return fmt.Errorf("%w: winner and seller are the same user", ErrInvalidSettlement)
	}
	return nil
}

// ============================================================================
// Settle
// ============================================================================

// Settle closes an auction:
//
//  1. debit the winner finalPrice (auction_win)
//  2. credit the seller finalPrice - commission (auction_payout)
//  3. credit the platform the commission (commission)
//
// A refused step 1 is an ordinary error: nothing moved and the caller may
// try the next bidder. A failure in step 2 or 3 returns a
// *SettlementInconsistencyError; the winner has paid, the settlement is
// parked and reconciliation carries it forward. Nothing is reversed.
func (s *SettlementService) Settle(ctx context.Context, req *SettleRequest) (*SettlementResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	commission, payout, err := CalculateCommission(req.FinalPrice, req.CommissionPercent)
	if err != nil {
		return nil, err
	}

	st, err := s.begin(ctx, req, commission, payout)
	if err != nil {
		return nil, err
	}
	if st.Status == model.SettlementStatusCompleted {
		return newSettlementResult(st), nil
	}

	log := s.logger.With(
		zap.String("settlement_no", st.SettlementNo),
		zap.String("auction_id", st.AuctionID))

	debit, err := s.recorder.Record(ctx, &RecordRequest{
		UserID:         st.WinnerID,
		Type:           model.TransactionTypeDebit,
		Purpose:        model.PurposeAuctionWin,
		Amount:         st.FinalPrice,
		ReferenceID:    st.AuctionID,
		ReferenceType:  model.ReferenceTypeAuction,
		IdempotencyKey: settlementLegKey(st.AuctionID, LegWinnerDebit),
		Description:    "auction won",
		Metadata:       map[string]string{"settlement_no": st.SettlementNo, "leg": LegWinnerDebit},
	})
	if errors.Is(err, ErrDuplicateTransaction) {
		// an earlier attempt on this auction already collected the payment
		return nil, s.reclaimDebit(ctx, st.AuctionID)
	}
	if err != nil {
		if errors.Is(err, ErrStorage) {
			// the debit may or may not have committed; reconciliation
			// decides from the idempotency key once the row goes stale
			log.Warn("winner debit outcome unknown, left pending", zap.Error(err))
			return nil, fmt.Errorf("collect winner payment: %w", err)
		}

		st.Status = model.SettlementStatusFailed
		st.FailureReason = truncateReason(err)
		if terr := s.settlementRepo.Transition(ctx, nil, st, model.SettlementStatusPending); terr != nil {
			log.Error("mark settlement failed", zap.Error(terr))
		}
		log.Info("settlement refused at winner debit",
			zap.String("winner_id", st.WinnerID),
			zap.Int64("final_price", st.FinalPrice),
			zap.Error(err))
		return nil, fmt.Errorf("collect winner payment: %w", err)
	}

	st.Status = model.SettlementStatusWinnerDebited
	st.DebitTransactionID = debit.TransactionID
	if err := s.settlementRepo.Transition(ctx, nil, st, model.SettlementStatusPending); err != nil {
		if errors.Is(err, repository.ErrSettlementStatusInvalid) {
			// the row was closed or reopened while the debit was running
			err = s.reclaimDebit(ctx, st.AuctionID)
			if IsSettlementInconsistency(err) {
				return nil, err
			}
		} else {
			err = storageErr("save settlement status", err)
		}
		log.Error("winner debited but settlement status not saved",
			logger.Critical(),
			zap.String("debit_transaction_id", debit.TransactionID),
			zap.Error(err))
		return nil, &SettlementInconsistencyError{
			AuctionID:          st.AuctionID,
			SettlementNo:       st.SettlementNo,
			FailedLeg:          LegSellerPayout,
			DebitTransactionID: debit.TransactionID,
			Amount:             st.SellerPayout,
			Err:                err,
		}
	}

	return s.advance(ctx, st)
}

// begin returns the settlement row to work on: a new PENDING row, a FAILED
// row reopened for a new winner, or a COMPLETED row with identical terms.
func (s *SettlementService) begin(ctx context.Context, req *SettleRequest, commission, payout int64) (*model.AuctionSettlement, error) {
	existing, err := s.settlementRepo.GetByAuctionID(ctx, req.AuctionID)
	if err != nil && !errors.Is(err, repository.ErrSettlementNotFound) {
		return nil, storageErr("load settlement", err)
	}

	if existing == nil {
		st := &model.AuctionSettlement{
			SettlementNo:      idgen.GenerateSettlementNo(),
			AuctionID:         req.AuctionID,
			WinnerID:          req.WinnerID,
			SellerID:          req.SellerID,
			FinalPrice:        req.FinalPrice,
			CommissionPercent: req.CommissionPercent.String(),
			Commission:        commission,
			SellerPayout:      payout,
			Status:            model.SettlementStatusPending,
		}
		if err := s.settlementRepo.Create(ctx, st); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, fmt.Errorf("%w: %s", ErrSettlementInProgress, req.AuctionID)
			}
			return nil, storageErr("create settlement", err)
		}
		return st, nil
	}

	switch existing.Status {
	case model.SettlementStatusCompleted:
		if existing.WinnerID != req.WinnerID || existing.SellerID != req.SellerID || existing.FinalPrice != req.FinalPrice {
			return nil, fmt.Errorf("%w: auction %s already settled with different terms", ErrInvalidSettlement, req.AuctionID)
		}
		return existing, nil
	case model.SettlementStatusFailed:
		debit, err := s.findWinnerDebit(ctx, existing.AuctionID)
		if err != nil {
			return nil, err
		}
		if debit != nil {
			return s.recoverClosed(ctx, existing, debit, req)
		}

		existing.Status = model.SettlementStatusPending
		existing.WinnerID = req.WinnerID
		existing.SellerID = req.SellerID
		existing.FinalPrice = req.FinalPrice
		existing.CommissionPercent = req.CommissionPercent.String()
		existing.Commission = commission
		existing.SellerPayout = payout
		existing.FailureReason = ""
		if err := s.settlementRepo.Transition(ctx, nil, existing, model.SettlementStatusFailed); err != nil {
			if errors.Is(err, repository.ErrSettlementStatusInvalid) {
				return nil, fmt.Errorf("%w: %s", ErrSettlementInProgress, req.AuctionID)
			}
			return nil, storageErr("reopen settlement", err)
		}
		return existing, nil
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrSettlementInProgress, req.AuctionID, existing.Status)
	}
}

func (s *SettlementService) findWinnerDebit(ctx context.Context, auctionID string) (*model.WalletTransaction, error) {
	return s.recorder.FindByIdempotencyKey(ctx, settlementLegKey(auctionID, LegWinnerDebit))
}

// recoverClosed carries a FAILED settlement whose winner turned out to have
// paid through to completion. A request naming other terms is refused once
// the original winner's settlement is done.
func (s *SettlementService) recoverClosed(ctx context.Context, st *model.AuctionSettlement, debit *model.WalletTransaction, req *SettleRequest) (*model.AuctionSettlement, error) {
	if err := s.adoptDebit(ctx, st, debit); err != nil {
		return nil, err
	}
	if _, err := s.advance(ctx, st); err != nil {
		return nil, err
	}
	if st.WinnerID != req.WinnerID || st.FinalPrice != req.FinalPrice {
		return nil, fmt.Errorf("%w: auction %s already settled with winner %s", ErrInvalidSettlement, st.AuctionID, st.WinnerID)
	}
	return st, nil
}

// adoptDebit attaches a winner debit recorded under the settlement's key to
// a PENDING or FAILED row that lost track of it, and parks the row as
// PAYOUT_FAILED so the seller is paid by resume or reconciliation.
func (s *SettlementService) adoptDebit(ctx context.Context, st *model.AuctionSettlement, debit *model.WalletTransaction) error {
	if st.DebitTransactionID == debit.TransactionNo {
		return nil
	}
	if st.Status != model.SettlementStatusPending && st.Status != model.SettlementStatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrSettlementInProgress, st.AuctionID, st.Status)
	}

	from := st.Status
	st.WinnerID = debit.UserID
	st.DebitTransactionID = debit.TransactionNo
	if st.FinalPrice != debit.Amount {
		percent, err := decimal.NewFromString(st.CommissionPercent)
		if err != nil {
			return fmt.Errorf("parse commission percent %q: %w", st.CommissionPercent, err)
		}
		commission, payout, err := CalculateCommission(debit.Amount, percent)
		if err != nil {
			return err
		}
		st.FinalPrice, st.Commission, st.SellerPayout = debit.Amount, commission, payout
	}
	st.Status = model.SettlementStatusPayoutFailed
	st.FailureReason = "winner debit recorded after the settlement was " + strings.ToLower(from)

	if err := s.transitionWithAlert(ctx, st, from); err != nil {
		st.Status = from
		if errors.Is(err, repository.ErrSettlementStatusInvalid) {
			return fmt.Errorf("%w: %s", ErrSettlementInProgress, st.AuctionID)
		}
		return storageErr("attach winner debit", err)
	}

	s.logger.Error("winner debit attached to a settlement that had lost it",
		logger.Critical(),
		zap.String("settlement_no", st.SettlementNo),
		zap.String("auction_id", st.AuctionID),
		zap.String("previous_status", from),
		zap.String("debit_transaction_id", debit.TransactionNo),
		zap.Int64("amount", debit.Amount))
	return nil
}

// reclaimDebit handles a winner debit that committed while the settlement
// row moved on without it. The row ends up parked with the debit attached
// and the caller gets the inconsistency.
func (s *SettlementService) reclaimDebit(ctx context.Context, auctionID string) error {
	debit, err := s.findWinnerDebit(ctx, auctionID)
	if err != nil {
		return err
	}
	if debit == nil {
		return fmt.Errorf("%w: %s", ErrSettlementInProgress, auctionID)
	}

	current, err := s.GetSettlement(ctx, auctionID)
	if err != nil {
		return err
	}
	if current.DebitTransactionID == debit.TransactionNo {
		// someone else already carries this debit forward
		return fmt.Errorf("%w: %s is %s", ErrSettlementInProgress, auctionID, current.Status)
	}
	if err := s.adoptDebit(ctx, current, debit); err != nil {
		return err
	}

	return &SettlementInconsistencyError{
		AuctionID:          current.AuctionID,
		SettlementNo:       current.SettlementNo,
		FailedLeg:          LegSellerPayout,
		DebitTransactionID: debit.TransactionNo,
		Amount:             current.SellerPayout,
		Err:                fmt.Errorf("settlement changed during winner debit: %w", repository.ErrSettlementStatusInvalid),
	}
}

// advance records whatever legs after the winner debit are still missing
// and completes the settlement.
func (s *SettlementService) advance(ctx context.Context, st *model.AuctionSettlement) (*SettlementResult, error) {
	ranPayout := false
	if st.PayoutTransactionID == "" && st.SellerPayout > 0 {
		txID, err := s.runLeg(ctx, st, LegSellerPayout, st.SellerID, st.SellerPayout, model.PurposeAuctionPayout)
		if err != nil {
			return nil, s.park(ctx, st, model.SettlementStatusPayoutFailed, LegSellerPayout, st.SellerPayout, err)
		}
		st.PayoutTransactionID = txID
		ranPayout = true
	}

	if ranPayout || st.Status == model.SettlementStatusWinnerDebited || st.Status == model.SettlementStatusPayoutFailed {
		from := st.Status
		st.Status = model.SettlementStatusSellerPaid
		st.FailureReason = ""
		if err := s.settlementRepo.Transition(ctx, nil, st, from); err != nil {
			st.Status = from
			return nil, s.park(ctx, st, model.SettlementStatusPayoutFailed, LegSellerPayout, st.SellerPayout,
				storageErr("save settlement status", err))
		}
	}

	if st.CommissionTransactionID == "" && st.Commission > 0 {
		txID, err := s.runLeg(ctx, st, LegCommission, s.cfg.Business.PlatformUserID, st.Commission, model.PurposeCommission)
		if err != nil {
			return nil, s.park(ctx, st, model.SettlementStatusCommissionFailed, LegCommission, st.Commission, err)
		}
		st.CommissionTransactionID = txID
	}

	from := st.Status
	st.Status = model.SettlementStatusCompleted
	st.FailureReason = ""
	if err := s.settlementRepo.Transition(ctx, nil, st, from); err != nil {
		st.Status = from
		return nil, s.park(ctx, st, model.SettlementStatusCommissionFailed, LegCommission, st.Commission,
			storageErr("save settlement status", err))
	}

	s.logger.Info("auction settled",
		zap.String("settlement_no", st.SettlementNo),
		zap.String("auction_id", st.AuctionID),
		zap.String("winner_id", st.WinnerID),
		zap.String("seller_id", st.SellerID),
		zap.Int64("final_price", st.FinalPrice),
		zap.Int64("commission", st.Commission),
		zap.Int64("seller_payout", st.SellerPayout))

	return newSettlementResult(st), nil
}

// runLeg records one credit leg. A leg already recorded under its key (an
// earlier attempt that committed) counts as done.
func (s *SettlementService) runLeg(ctx context.Context, st *model.AuctionSettlement, leg, userID string, amount int64, purpose string) (string, error) {
	key := settlementLegKey(st.AuctionID, leg)
	res, err := s.recorder.Record(ctx, &RecordRequest{
		UserID:         userID,
		Type:           model.TransactionTypeCredit,
		Purpose:        purpose,
		Amount:         amount,
		ReferenceID:    st.AuctionID,
		ReferenceType:  model.ReferenceTypeAuction,
		IdempotencyKey: key,
		Description:    strings.ReplaceAll(leg, "_", " "),
		Metadata:       map[string]string{"settlement_no": st.SettlementNo, "leg": leg},
	})
	if err == nil {
		return res.TransactionID, nil
	}
	if errors.Is(err, ErrDuplicateTransaction) {
		existing, ferr := s.recorder.FindByIdempotencyKey(ctx, key)
		if ferr == nil && existing != nil {
			return existing.TransactionNo, nil
		}
	}
	return "", err
}

// park saves the settlement in a failure status, raises the alert and
// builds the error surfaced to the caller.
func (s *SettlementService) park(ctx context.Context, st *model.AuctionSettlement, target, leg string, amount int64, legErr error) error {
	from := st.Status
	st.Status = target
	st.FailureReason = truncateReason(legErr)

	if err := s.transitionWithAlert(ctx, st, from); err != nil {
		s.logger.Error("save parked settlement failed",
			logger.Critical(),
			zap.String("settlement_no", st.SettlementNo),
			zap.String("from", from),
			zap.String("to", target),
			zap.Error(err))
	}

	s.logger.Error("settlement inconsistent: winner debited, leg not recorded",
		logger.Critical(),
		zap.String("settlement_no", st.SettlementNo),
		zap.String("auction_id", st.AuctionID),
		zap.String("failed_leg", leg),
		zap.Int64("amount", amount),
		zap.String("debit_transaction_id", st.DebitTransactionID),
		zap.String("payout_transaction_id", st.PayoutTransactionID),
		zap.Int("retry_count", st.RetryCount),
		zap.Error(legErr))

	return &SettlementInconsistencyError{
		AuctionID:           st.AuctionID,
		SettlementNo:        st.SettlementNo,
		FailedLeg:           leg,
		DebitTransactionID:  st.DebitTransactionID,
		PayoutTransactionID: st.PayoutTransactionID,
		Amount:              amount,
		Err:                 legErr,
	}
}

// transitionWithAlert saves the status change together with a
// settlement.inconsistent outbox event.
func (s *SettlementService) transitionWithAlert(ctx context.Context, st *model.AuctionSettlement, from string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.settlementRepo.Transition(ctx, tx, st, from); err != nil {
			return err
		}

		event := SettlementInconsistentEvent{
			EventID:    uuid.NewString(),
			EventType:  model.EventSettlementInconsistent,
			OccurredAt: time.Now().UTC(),
			Settlement: st,
		}
		body, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return s.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
			EventID:    event.EventID,
			EventType:  event.EventType,
			MessageKey: st.AuctionID,
			Topic:      s.cfg.Kafka.Topic.SettlementInconsistent,
			Payload:    string(body),
			Status:     model.OutboxStatusPending,
		})
	})
}

func truncateReason(err error) string {
	reason := err.Error()
	if len(reason) > 500 {
		reason = reason[:500]
	}
	return reason
}

// ============================================================================
// Reconciliation
// ============================================================================

var inconsistentStatuses = []string{
	model.SettlementStatusPayoutFailed,
	model.SettlementStatusCommissionFailed,
	model.SettlementStatusManualReview,
}

// ListInconsistent returns settlements waiting for remediation.
func (s *SettlementService) ListInconsistent(ctx context.Context, limit int) ([]*model.AuctionSettlement, error) {
	settlements, err := s.settlementRepo.ListByStatus(ctx, inconsistentStatuses, limit)
	if err != nil {
		return nil, storageErr("list inconsistent settlements", err)
	}
	if settlements == nil {
		settlements = []*model.AuctionSettlement{}
	}
	return settlements, nil
}

func (s *SettlementService) GetSettlement(ctx context.Context, auctionID string) (*model.AuctionSettlement, error) {
	st, err := s.settlementRepo.GetByAuctionID(ctx, auctionID)
	if err != nil {
		if errors.Is(err, repository.ErrSettlementNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSettlementNotFound, auctionID)
		}
		return nil, storageErr("load settlement", err)
	}
	return st, nil
}

// Resume is the operator path: carry a parked settlement forward
// regardless of how many automatic retries it has used. A PENDING row is
// only touched once it is stale, since a settle call may still be inside
// the winner debit.
func (s *SettlementService) Resume(ctx context.Context, auctionID string) (*SettlementResult, error) {
	st, err := s.GetSettlement(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	switch st.Status {
	case model.SettlementStatusCompleted:
		return newSettlementResult(st), nil
	case model.SettlementStatusPending:
		stale := time.Duration(s.cfg.Business.SettlementStaleMinutes) * time.Minute
		if time.Since(st.UpdatedAt) < stale {
			return nil, fmt.Errorf("%w: %s is still being settled", ErrSettlementInProgress, auctionID)
		}
		return s.resolvePending(ctx, st)
	case model.SettlementStatusFailed:
		debit, err := s.findWinnerDebit(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		if debit == nil {
			return nil, fmt.Errorf("%w: settlement %s failed before any money moved", ErrInvalidSettlement, st.SettlementNo)
		}
		if err := s.adoptDebit(ctx, st, debit); err != nil {
			return nil, err
		}
		return s.advance(ctx, st)
	default:
		s.logger.Info("resuming settlement",
			zap.String("settlement_no", st.SettlementNo),
			zap.String("status", st.Status))
		return s.advance(ctx, st)
	}
}

// resolvePending decides a PENDING settlement from whether the winner debit
// was recorded.
func (s *SettlementService) resolvePending(ctx context.Context, st *model.AuctionSettlement) (*SettlementResult, error) {
	debit, err := s.recorder.FindByIdempotencyKey(ctx, settlementLegKey(st.AuctionID, LegWinnerDebit))
	if err != nil {
		return nil, err
	}

	if debit == nil {
		st.Status = model.SettlementStatusFailed
		st.FailureReason = "abandoned before winner debit"
		if err := s.settlementRepo.Transition(ctx, nil, st, model.SettlementStatusPending); err != nil {
			if errors.Is(err, repository.ErrSettlementStatusInvalid) {
				return nil, fmt.Errorf("%w: %s", ErrSettlementInProgress, st.AuctionID)
			}
			return nil, storageErr("mark settlement failed", err)
		}
		s.logger.Warn("abandoned settlement closed as failed", zap.String("settlement_no", st.SettlementNo))
		return newSettlementResult(st), nil
	}

	st.Status = model.SettlementStatusWinnerDebited
	st.DebitTransactionID = debit.TransactionNo
	if err := s.settlementRepo.Transition(ctx, nil, st, model.SettlementStatusPending); err != nil {
		if errors.Is(err, repository.ErrSettlementStatusInvalid) {
			return nil, fmt.Errorf("%w: %s", ErrSettlementInProgress, st.AuctionID)
		}
		return nil, storageErr("mark winner debited", err)
	}
	return s.advance(ctx, st)
}

// ReconcileReport summarises one reconciliation pass.
type ReconcileReport struct {
	Resolved     int
	StillFailing int
	Escalated    int
}

// Reconcile is one pass of automatic remediation:
//   - PENDING rows older than staleBefore are resolved by idempotency key
//   - WINNER_DEBITED / SELLER_PAID rows older than staleBefore are advanced
//   - PAYOUT_FAILED / COMMISSION_FAILED rows are retried up to maxRetries,
//     then moved to MANUAL_REVIEW
func (s *SettlementService) Reconcile(ctx context.Context, staleBefore time.Time, maxRetries, batchSize int) (*ReconcileReport, error) {
	report := &ReconcileReport{}

	stale, err := s.settlementRepo.ListStale(ctx, []string{
		model.SettlementStatusPending,
		model.SettlementStatusWinnerDebited,
		model.SettlementStatusSellerPaid,
	}, staleBefore, batchSize)
	if err != nil {
		return nil, storageErr("list stale settlements", err)
	}
	for _, st := range stale {
		var rerr error
		if st.Status == model.SettlementStatusPending {
			_, rerr = s.resolvePending(ctx, st)
		} else {
			_, rerr = s.advance(ctx, st)
		}
		s.tally(report, st, rerr)
	}

	failed, err := s.settlementRepo.ListByStatus(ctx, []string{
		model.SettlementStatusPayoutFailed,
		model.SettlementStatusCommissionFailed,
	}, batchSize)
	if err != nil {
		return nil, storageErr("list failed settlements", err)
	}
	for _, st := range failed {
		if st.RetryCount >= maxRetries {
			from := st.Status
			st.Status = model.SettlementStatusManualReview
			if err := s.transitionWithAlert(ctx, st, from); err != nil {
				s.logger.Error("escalate settlement failed", zap.String("settlement_no", st.SettlementNo), zap.Error(err))
				continue
			}
			s.logger.Error("settlement retries exhausted, manual review required",
				logger.Critical(),
				zap.String("settlement_no", st.SettlementNo),
				zap.String("auction_id", st.AuctionID),
				zap.String("failed_status", from),
				zap.Int("retry_count", st.RetryCount))
			report.Escalated++
			continue
		}

		st.RetryCount++
		_, rerr := s.advance(ctx, st)
		s.tally(report, st, rerr)
	}

	return report, nil
}

func (s *SettlementService) tally(report *ReconcileReport, st *model.AuctionSettlement, err error) {
	if err != nil {
		report.StillFailing++
		s.logger.Warn("settlement reconciliation attempt failed",
			zap.String("settlement_no", st.SettlementNo),
			zap.String("status", st.Status),
			zap.Error(err))
		return
	}
	report.Resolved++
}

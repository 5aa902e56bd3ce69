package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/smajobb/marketplace/internal/clock"
	"github.com/smajobb/marketplace/internal/config"
	marketplacedomain "github.com/smajobb/marketplace/internal/marketplace/domain"
	notificationdomain "github.com/smajobb/marketplace/internal/notification/domain"
	obsmetrics "github.com/smajobb/marketplace/internal/observability/metrics"
	paymentdomain "github.com/smajobb/marketplace/internal/payment/domain"
	"github.com/smajobb/marketplace/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Lost races are re-read and re-evaluated this many times before giving up.
const maxTransitionAttempts = 3

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Repo        paymentdomain.Repository
	Marketplace marketplacedomain.Repository
	Notifier    notificationdomain.Notifier `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics          `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	currency    string
	repo        paymentdomain.Repository
	marketplace marketplacedomain.Repository
	notifier    notificationdomain.Notifier
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	currency := strings.ToUpper(strings.TrimSpace(p.Config.Payment.Currency))
	if currency == "" {
		currency = "SEK"
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       clk,
		currency:    currency,
		repo:        p.Repo,
		marketplace: p.Marketplace,
		notifier:    p.Notifier,
		obsMetrics:  p.ObsMetrics,
	}
}

var _ paymentdomain.Service = (*Service)(nil)

func (s *Service) CreatePaymentIntent(ctx context.Context, bookingID snowflake.ID, amountMinorUnits int64) (paymentdomain.PaymentIntent, error) {
	if amountMinorUnits <= 0 {
		return paymentdomain.PaymentIntent{}, paymentdomain.ErrInvalidAmount
	}

	booking, err := s.marketplace.FindBooking(ctx, s.db, bookingID)
	if err != nil {
		s.log.Error("failed to load booking for payment intent", zap.String("booking_id", bookingID.String()), zap.Error(err))
		return paymentdomain.PaymentIntent{}, err
	}
	if booking == nil {
		return paymentdomain.PaymentIntent{}, paymentdomain.ErrNotFound
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	commission := paymentdomain.CalculatePlatformFee(amountMinorUnits)
	payment := paymentdomain.Payment{
		ID:               id,
		BookingID:        booking.ID,
		PayerID:          booking.CustomerID,
		PayeeID:          booking.YouthID,
		Amount:           amountMinorUnits,
		CommissionAmount: commission,
		NetAmount:        amountMinorUnits - commission,
		Currency:         s.currency,
		Status:           paymentdomain.StatusPending,
		ClientToken:      newClientToken(id),
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.Insert(ctx, s.db, &payment); err != nil {
		s.log.Error("failed to insert payment", zap.String("booking_id", bookingID.String()), zap.Error(err))
		return paymentdomain.PaymentIntent{}, err
	}

	return paymentdomain.PaymentIntent{
		IntentID:         payment.ID,
		ClientToken:      payment.ClientToken,
		AmountMinorUnits: payment.Amount,
		Currency:         payment.Currency,
		Status:           paymentdomain.IntentStatusRequiresConfirmation,
	}, nil
}

func newClientToken(id snowflake.ID) string {
	return fmt.Sprintf("pi_%s_secret_%s", id.String(), strings.ToLower(ulid.Make().String()))
}

func (s *Service) MarkProcessing(ctx context.Context, intentID snowflake.ID) (bool, error) {
	ok, _, err := s.transition(ctx, intentID, paymentdomain.StatusProcessing, nil)
	return ok, err
}

func (s *Service) ConfirmPayment(ctx context.Context, intentID snowflake.ID) (bool, error) {
	ok, applied, err := s.transition(ctx, intentID, paymentdomain.StatusCompleted, func(update *paymentdomain.TransitionUpdate, _ *paymentdomain.Payment) error {
		processedAt := update.UpdatedAt
		txID := "txn_" + strings.ToLower(ulid.Make().String())
		update.ProcessedAt = &processedAt
		update.TransactionID = &txID
		return nil
	})
	if err != nil || applied == nil {
		return ok, err
	}

	s.notifyPayee(ctx, applied)
	return ok, nil
}

func (s *Service) CancelPayment(ctx context.Context, intentID snowflake.ID) (bool, error) {
	ok, _, err := s.transition(ctx, intentID, paymentdomain.StatusCancelled, nil)
	return ok, err
}

func (s *Service) FailPayment(ctx context.Context, intentID snowflake.ID, reason string) (bool, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unspecified"
	}
	ok, _, err := s.transition(ctx, intentID, paymentdomain.StatusFailed, func(update *paymentdomain.TransitionUpdate, _ *paymentdomain.Payment) error {
		update.FailureReason = &reason
		return nil
	})
	return ok, err
}

func (s *Service) RefundPayment(ctx context.Context, intentID snowflake.ID, amountMinorUnits int64) (bool, error) {
	if amountMinorUnits <= 0 {
		return false, paymentdomain.ErrInvalidAmount
	}
	ok, _, err := s.transitionChecked(ctx, intentID, paymentdomain.StatusRefunded, func(current *paymentdomain.Payment) error {
		if amountMinorUnits > current.Amount {
			return paymentdomain.ErrRefundExceedsAmount
		}
		return nil
	}, func(update *paymentdomain.TransitionUpdate, _ *paymentdomain.Payment) error {
		refunded := amountMinorUnits
		processedAt := update.UpdatedAt
		update.RefundedAmount = &refunded
		update.ProcessedAt = &processedAt
		return nil
	})
	return ok, err
}

// transition moves the payment to target with a version-guarded update.
// It returns true when the payment ends up in target, and the updated row
// only when this call performed the change. Unknown ids and blocked
// transitions report false without an error.
func (s *Service) transition(
	ctx context.Context,
	id snowflake.ID,
	target paymentdomain.Status,
	mutate func(*paymentdomain.TransitionUpdate, *paymentdomain.Payment) error,
) (bool, *paymentdomain.Payment, error) {
	return s.transitionChecked(ctx, id, target, nil, mutate)
}

// transitionChecked runs validate on the loaded row before any status rule,
// so input errors surface whatever state the payment is in.
func (s *Service) transitionChecked(
	ctx context.Context,
	id snowflake.ID,
	target paymentdomain.Status,
	validate func(*paymentdomain.Payment) error,
	mutate func(*paymentdomain.TransitionUpdate, *paymentdomain.Payment) error,
) (bool, *paymentdomain.Payment, error) {
	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		current, err := s.repo.FindByID(ctx, s.db, id)
		if err != nil {
			s.log.Error("failed to load payment", zap.String("payment_id", id.String()), zap.Error(err))
			return false, nil, err
		}
		if current == nil {
			return false, nil, nil
		}
		if validate != nil {
			if err := validate(current); err != nil {
				return false, nil, err
			}
		}
		if current.Status == target {
			s.recordTransition(ctx, target, "noop")
			return true, nil, nil
		}
		if !paymentdomain.CanTransition(current.Status, target) {
			s.recordTransition(ctx, target, "blocked")
			return false, nil, nil
		}

		update := paymentdomain.TransitionUpdate{
			ID:              current.ID,
			ExpectedVersion: current.Version,
			From:            paymentdomain.AllowedPriors(target),
			To:              target,
			UpdatedAt:       s.clock.Now(),
		}
		if mutate != nil {
			if err := mutate(&update, current); err != nil {
				return false, nil, err
			}
		}

		changed, err := s.repo.Transition(ctx, s.db, update)
		if err != nil {
			s.log.Error("failed to update payment status",
				zap.String("payment_id", id.String()),
				zap.String("from", string(current.Status)),
				zap.String("to", string(target)),
				zap.Error(err),
			)
			return false, nil, err
		}
		if changed {
			s.recordTransition(ctx, target, "applied")
			applyUpdate(current, update)
			return true, current, nil
		}

		s.recordTransition(ctx, target, "conflict")
		s.log.Info("payment changed concurrently, re-reading",
			zap.String("payment_id", id.String()),
			zap.String("to", string(target)),
			zap.Int("attempt", attempt+1),
		)
	}

	current, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return false, nil, err
	}
	return current != nil && current.Status == target, nil, nil
}

func applyUpdate(p *paymentdomain.Payment, update paymentdomain.TransitionUpdate) {
	p.Status = update.To
	p.Version = update.ExpectedVersion + 1
	p.UpdatedAt = update.UpdatedAt
	if update.ProcessedAt != nil {
		p.ProcessedAt = update.ProcessedAt
	}
	if update.TransactionID != nil {
		p.TransactionID = update.TransactionID
	}
	if update.FailureReason != nil {
		p.FailureReason = update.FailureReason
	}
	if update.RefundedAmount != nil {
		p.RefundedAmount = *update.RefundedAmount
	}
}

func (s *Service) recordTransition(ctx context.Context, to paymentdomain.Status, outcome string) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordPaymentTransition(ctx, string(to), outcome)
	}
}

func (s *Service) notifyPayee(ctx context.Context, payment *paymentdomain.Payment) {
	if s.notifier == nil {
		return
	}
	_, err := s.notifier.Notify(ctx, payment.PayeeID, notificationdomain.EventPaymentReceived, map[string]string{
		"amount":     formatMinorUnits(payment.NetAmount),
		"currency":   payment.Currency,
		"payment_id": payment.ID.String(),
		"booking_id": payment.BookingID.String(),
	})
	if err != nil {
		s.log.Warn("failed to notify payee of payment",
			zap.String("payment_id", payment.ID.String()),
			zap.String("payee_id", payment.PayeeID.String()),
			zap.Error(err),
		)
	}
}

func formatMinorUnits(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}

func (s *Service) GetPayment(ctx context.Context, id snowflake.ID) (paymentdomain.Payment, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if item == nil {
		return paymentdomain.Payment{}, paymentdomain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) ListPayments(ctx context.Context, req paymentdomain.ListPaymentRequest) (paymentdomain.ListPaymentResponse, error) {
	filter := paymentdomain.ListFilter{
		CreatedFrom: req.CreatedFrom,
		CreatedTo:   req.CreatedTo,
	}
	if status := strings.ToLower(strings.TrimSpace(req.Status)); status != "" {
		filter.Status = paymentdomain.Status(status)
		if !filter.Status.Valid() {
			return paymentdomain.ListPaymentResponse{}, paymentdomain.ErrInvalidStatus
		}
	}
	switch role := strings.ToLower(strings.TrimSpace(req.Role)); role {
	case "", paymentdomain.ListRolePayer, paymentdomain.ListRolePayee:
		filter.Role = role
	default:
		return paymentdomain.ListPaymentResponse{}, paymentdomain.ErrInvalidRole
	}
	if err := validateRange(req.CreatedFrom, req.CreatedTo); err != nil {
		return paymentdomain.ListPaymentResponse{}, err
	}

	items, err := s.repo.List(ctx, s.db, req.UserID, filter, req.Pagination)
	if err != nil {
		return paymentdomain.ListPaymentResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, req.Pagination.Limit(), func(p *paymentdomain.Payment) pagination.Cursor {
		return pagination.Cursor{ID: p.ID.Int64(), CreatedAt: p.CreatedAt}
	})

	payments := make([]paymentdomain.Payment, 0, len(items))
	for _, item := range items {
		payments = append(payments, *item)
	}

	return paymentdomain.ListPaymentResponse{
		PageInfo: pageInfo,
		Payments: payments,
	}, nil
}

func (s *Service) Summary(ctx context.Context, userID snowflake.ID, from, to *time.Time) (paymentdomain.Summary, error) {
	if userID == 0 {
		return paymentdomain.Summary{}, paymentdomain.ErrNotFound
	}
	if err := validateRange(from, to); err != nil {
		return paymentdomain.Summary{}, err
	}
	summary, err := s.repo.Summarize(ctx, s.db, userID, from, to)
	if err != nil {
		s.log.Error("failed to summarize payments", zap.String("user_id", userID.String()), zap.Error(err))
		return paymentdomain.Summary{}, err
	}
	return summary, nil
}

func validateRange(from, to *time.Time) error {
	if from != nil && to != nil && from.After(*to) {
		return paymentdomain.ErrInvalidRange
	}
	return nil
}

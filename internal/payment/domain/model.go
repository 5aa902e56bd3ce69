package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRefunded   Status = "refunded"
	StatusCancelled  Status = "cancelled"
)

// IntentStatusRequiresConfirmation is reported to clients for a freshly created intent.
const IntentStatusRequiresConfirmation = "requires_confirmation"

// PlatformFeePercent is the marketplace commission.
const PlatformFeePercent = 10

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusFailed:     {StatusCancelled},
	StatusCompleted:  {StatusRefunded},
}

// CanTransition reports whether a payment in from may move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedPriors lists every status a payment may hold before entering to.
func AllowedPriors(to Status) []Status {
	var priors []Status
	for _, from := range []Status{StatusPending, StatusProcessing, StatusFailed, StatusCompleted} {
		if CanTransition(from, to) {
			priors = append(priors, from)
		}
	}
	return priors
}

// IsTerminal reports whether no further transition exists out of s.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRefunded, StatusCancelled:
		return true
	default:
		return false
	}
}

type Payment struct {
	ID               snowflake.ID `json:"id" gorm:"primaryKey"`
	BookingID        snowflake.ID `json:"booking_id" gorm:"not null"`
	PayerID          snowflake.ID `json:"payer_id" gorm:"not null"`
	PayeeID          snowflake.ID `json:"payee_id" gorm:"not null"`
	Amount           int64        `json:"amount_minor_units" gorm:"not null"`
	CommissionAmount int64        `json:"commission_minor_units" gorm:"not null"`
	NetAmount        int64        `json:"net_minor_units" gorm:"not null"`
	RefundedAmount   int64        `json:"refunded_minor_units" gorm:"not null"`
	Currency         string       `json:"currency" gorm:"not null"`
	Status           Status       `json:"status" gorm:"not null"`
	TransactionID    *string      `json:"transaction_id,omitempty"`
	FailureReason    *string      `json:"failure_reason,omitempty"`
	ClientToken      string       `json:"-" gorm:"not null"`
	Version          int64        `json:"version" gorm:"not null"`
	CreatedAt        time.Time    `json:"created_at"`
	ProcessedAt      *time.Time   `json:"processed_at,omitempty"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }

// PaymentIntent is the client-facing view of a reserved payment.
type PaymentIntent struct {
	IntentID         snowflake.ID `json:"intent_id"`
	ClientToken      string       `json:"client_token"`
	AmountMinorUnits int64        `json:"amount_minor_units"`
	Currency         string       `json:"currency"`
	Status           string       `json:"status"`
}

// TransitionUpdate is a conditional status change guarded by the expected version.
type TransitionUpdate struct {
	ID              snowflake.ID
	ExpectedVersion int64
	From            []Status
	To              Status
	UpdatedAt       time.Time
	ProcessedAt     *time.Time
	TransactionID   *string
	FailureReason   *string
	RefundedAmount  *int64
}

type Summary struct {
	TotalEarnings       int64 `json:"total_earnings"`
	TotalPaid           int64 `json:"total_paid"`
	TotalCommissions    int64 `json:"total_commissions"`
	PendingAmount       int64 `json:"pending_amount"`
	EarningTransactions int64 `json:"earning_transactions"`
	PaymentTransactions int64 `json:"payment_transactions"`
	PendingTransactions int64 `json:"pending_transactions"`
}

package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smajobb/marketplace/pkg/db/pagination"
)

const (
	ListRolePayer = "payer"
	ListRolePayee = "payee"
)

type ListPaymentRequest struct {
	UserID      snowflake.ID
	Status      string
	Role        string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	pagination.Pagination
}

type ListPaymentResponse struct {
	pagination.PageInfo
	Payments []Payment `json:"payments"`
}

type Service interface {
	CreatePaymentIntent(ctx context.Context, bookingID snowflake.ID, amountMinorUnits int64) (PaymentIntent, error)
	MarkProcessing(ctx context.Context, intentID snowflake.ID) (bool, error)
	ConfirmPayment(ctx context.Context, intentID snowflake.ID) (bool, error)
	CancelPayment(ctx context.Context, intentID snowflake.ID) (bool, error)
	FailPayment(ctx context.Context, intentID snowflake.ID, reason string) (bool, error)
	RefundPayment(ctx context.Context, intentID snowflake.ID, amountMinorUnits int64) (bool, error)
	GetPayment(ctx context.Context, id snowflake.ID) (Payment, error)
	ListPayments(ctx context.Context, req ListPaymentRequest) (ListPaymentResponse, error)
	Summary(ctx context.Context, userID snowflake.ID, from, to *time.Time) (Summary, error)
}

var (
	ErrNotFound            = errors.New("not_found")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidStatus       = errors.New("invalid_status")
	ErrInvalidRole         = errors.New("invalid_role")
	ErrInvalidRange        = errors.New("invalid_range")
	ErrRefundExceedsAmount = errors.New("refund_exceeds_amount")
)

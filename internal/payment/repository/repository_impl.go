package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smajobb/marketplace/internal/payment/domain"
	"github.com/smajobb/marketplace/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, booking_id, payer_id, payee_id, amount, commission_amount, net_amount,
			refunded_amount, currency, status, client_token, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.BookingID,
		payment.PayerID,
		payment.PayeeID,
		payment.Amount,
		payment.CommissionAmount,
		payment.NetAmount,
		payment.RefundedAmount,
		payment.Currency,
		payment.Status,
		payment.ClientToken,
		payment.Version,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT id, booking_id, payer_id, payee_id, amount, commission_amount, net_amount,
			refunded_amount, currency, status, transaction_id, failure_reason, client_token,
			version, created_at, processed_at, updated_at
		 FROM payments
		 WHERE id = ?`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// Transition applies update only while the row still holds one of update.From at the
// expected version. It reports false when another writer got there first.
func (r *repo) Transition(ctx context.Context, db *gorm.DB, update domain.TransitionUpdate) (bool, error) {
	values := map[string]any{
		"status":     update.To,
		"version":    gorm.Expr("version + 1"),
		"updated_at": update.UpdatedAt,
	}
	if update.ProcessedAt != nil {
		values["processed_at"] = *update.ProcessedAt
	}
	if update.TransactionID != nil {
		values["transaction_id"] = *update.TransactionID
	}
	if update.FailureReason != nil {
		values["failure_reason"] = *update.FailureReason
	}
	if update.RefundedAmount != nil {
		values["refunded_amount"] = *update.RefundedAmount
	}

	res := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ? AND status IN ? AND version = ?", update.ID, update.From, update.ExpectedVersion).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter domain.ListFilter, page pagination.Pagination) ([]*domain.Payment, error) {
	var items []*domain.Payment
	stmt := db.WithContext(ctx).Model(&domain.Payment{})
	switch filter.Role {
	case domain.ListRolePayer:
		stmt = stmt.Where("payer_id = ?", userID)
	case domain.ListRolePayee:
		stmt = stmt.Where("payee_id = ?", userID)
	default:
		stmt = stmt.Where("(payer_id = ? OR payee_id = ?)", userID, userID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.CreatedFrom != nil {
		stmt = stmt.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		stmt = stmt.Where("created_at <= ?", *filter.CreatedTo)
	}

	stmt, err := pagination.Apply(stmt, page)
	if err != nil {
		return nil, err
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Summarize(ctx context.Context, db *gorm.DB, userID snowflake.ID, from, to *time.Time) (domain.Summary, error) {
	args := map[string]any{
		"user":       userID,
		"completed":  domain.StatusCompleted,
		"pending":    domain.StatusPending,
		"processing": domain.StatusProcessing,
	}

	var where strings.Builder
	where.WriteString("(payer_id = @user OR payee_id = @user)")
	if from != nil {
		where.WriteString(" AND created_at >= @from")
		args["from"] = *from
	}
	if to != nil {
		where.WriteString(" AND created_at <= @to")
		args["to"] = *to
	}

	var summary domain.Summary
	err := db.WithContext(ctx).Raw(
		`SELECT
			COALESCE(SUM(CASE WHEN payee_id = @user AND status = @completed THEN amount ELSE 0 END), 0) AS total_earnings,
			COALESCE(SUM(CASE WHEN payer_id = @user AND status = @completed THEN amount ELSE 0 END), 0) AS total_paid,
			COALESCE(SUM(CASE WHEN payee_id = @user AND status = @completed THEN commission_amount ELSE 0 END), 0) AS total_commissions,
			COALESCE(SUM(CASE WHEN status IN (@pending, @processing) THEN amount ELSE 0 END), 0) AS pending_amount,
			COUNT(CASE WHEN payee_id = @user AND status = @completed THEN 1 END) AS earning_transactions,
			COUNT(CASE WHEN payer_id = @user AND status = @completed THEN 1 END) AS payment_transactions,
			COUNT(CASE WHEN status IN (@pending, @processing) THEN 1 END) AS pending_transactions
		 FROM payments
		 WHERE `+where.String(),
		args,
	).Scan(&summary).Error
	if err != nil {
		return domain.Summary{}, err
	}
	return summary, nil
}

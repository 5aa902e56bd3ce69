package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/smajobb/marketplace/internal/audit/domain"
	"github.com/smajobb/marketplace/internal/authorization"
	marketplacedomain "github.com/smajobb/marketplace/internal/marketplace/domain"
	paymentdomain "github.com/smajobb/marketplace/internal/payment/domain"
	"github.com/smajobb/marketplace/internal/providers/pdf"
	"github.com/smajobb/marketplace/pkg/db/pagination"
)

type createPaymentIntentRequest struct {
	BookingID        snowflake.ID `json:"booking_id"`
	AmountMinorUnits int64        `json:"amount_minor_units"`
}

type refundPaymentRequest struct {
	AmountMinorUnits int64 `json:"amount_minor_units"`
}

type transitionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CreatePaymentIntent reserves a payment for a booking the actor takes part in.
func (s *Server) CreatePaymentIntent(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createPaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.BookingID == 0 {
		AbortWithError(c, newValidationError("booking_id", "invalid_booking_id", "invalid booking_id"))
		return
	}

	ctx := c.Request.Context()
	if err := s.authzSvc.Authorize(ctx, userID, authorization.ResourceBooking, req.BookingID.String(), authorization.OperationModify); err != nil {
		AbortWithError(c, err)
		return
	}

	intent, err := s.paymentSvc.CreatePaymentIntent(ctx, req.BookingID, req.AmountMinorUnits)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": intent})
}

func (s *Server) ConfirmPayment(c *gin.Context) {
	s.transitionPayment(c, s.paymentSvc.ConfirmPayment, "Payment confirmed", "Payment could not be confirmed")
}

func (s *Server) CancelPayment(c *gin.Context) {
	s.transitionPayment(c, s.paymentSvc.CancelPayment, "Payment cancelled", "Payment could not be cancelled")
}

// transitionPayment lets the payer, or an admin, move a payment. Unknown ids
// report success false once the caller is authorized to look.
func (s *Server) transitionPayment(c *gin.Context, apply func(ctx context.Context, id snowflake.ID) (bool, error), okMessage, failMessage string) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := s.authzSvc.Authorize(ctx, userID, authorization.ResourcePayment, id.String(), authorization.OperationRead); err != nil {
		AbortWithError(c, err)
		return
	}

	payment, err := s.paymentSvc.GetPayment(ctx, id)
	if errors.Is(err, paymentdomain.ErrNotFound) {
		c.JSON(http.StatusOK, newTransitionResponse(false, okMessage, failMessage))
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if payment.PayerID != userID {
		admin, err := s.isAdmin(ctx, userID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !admin {
			AbortWithError(c, ErrForbidden)
			return
		}
	}

	applied, err := apply(ctx, id)
	if errors.Is(err, paymentdomain.ErrNotFound) {
		applied, err = false, nil
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTransitionResponse(applied, okMessage, failMessage))
}

func (s *Server) isAdmin(ctx context.Context, userID snowflake.ID) (bool, error) {
	user, err := s.marketplace.FindUser(ctx, s.db.WithContext(ctx), userID)
	if err != nil {
		return false, err
	}
	return user != nil && user.Active && user.Role == marketplacedomain.RoleAdmin, nil
}

func (s *Server) RefundPayment(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req refundPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	applied, err := s.paymentSvc.RefundPayment(c.Request.Context(), id, req.AmountMinorUnits)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if applied {
		s.recordAudit(c, auditdomain.Entry{
			Action:     auditdomain.ActionPaymentRefund,
			TargetType: auditdomain.TargetPayment,
			TargetID:   id.String(),
			Metadata:   map[string]any{"amount_minor_units": req.AmountMinorUnits},
		})
	}
	c.JSON(http.StatusOK, newTransitionResponse(applied, "Payment refunded", "Payment could not be refunded"))
}

func (s *Server) GetPayment(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := s.authzSvc.Authorize(ctx, userID, authorization.ResourcePayment, id.String(), authorization.OperationRead); err != nil {
		AbortWithError(c, err)
		return
	}

	payment, err := s.paymentSvc.GetPayment(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payment})
}

// PaymentReceipt renders a PDF receipt for a settled payment.
func (s *Server) PaymentReceipt(c *gin.Context) {
	if s.receipts == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	if err := s.authzSvc.Authorize(ctx, userID, authorization.ResourcePayment, id.String(), authorization.OperationRead); err != nil {
		AbortWithError(c, err)
		return
	}

	payment, err := s.paymentSvc.GetPayment(ctx, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if payment.Status != paymentdomain.StatusCompleted && payment.Status != paymentdomain.StatusRefunded {
		AbortWithError(c, paymentdomain.ErrInvalidStatus)
		return
	}

	doc, err := s.receipts.GenerateReceipt(ctx, s.receiptData(ctx, payment))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="kvitto-%s.pdf"`, payment.ID))
	c.Data(http.StatusOK, "application/pdf", doc)
}

func (s *Server) receiptData(ctx context.Context, payment paymentdomain.Payment) pdf.ReceiptData {
	paidAt := payment.CreatedAt
	if payment.ProcessedAt != nil {
		paidAt = *payment.ProcessedAt
	}
	data := pdf.ReceiptData{
		ReceiptNumber: payment.ID.String(),
		BookingNumber: payment.BookingID.String(),
		DatePaid:      paidAt.Format("2006-01-02"),
		Status:        string(payment.Status),
		PayerName:     s.displayName(ctx, payment.PayerID),
		PayeeName:     s.displayName(ctx, payment.PayeeID),
		Amount:        pdf.FormatAmount(payment.Amount, payment.Currency),
		Commission:    pdf.FormatAmount(payment.CommissionAmount, payment.Currency),
		Net:           pdf.FormatAmount(payment.NetAmount, payment.Currency),
	}
	if payment.TransactionID != nil {
		data.TransactionID = *payment.TransactionID
	}
	if payment.RefundedAmount > 0 {
		data.Refunded = pdf.FormatAmount(payment.RefundedAmount, payment.Currency)
	}
	return data
}

// displayName falls back to the user id when the profile cannot be read.
func (s *Server) displayName(ctx context.Context, id snowflake.ID) string {
	user, err := s.marketplace.FindUser(ctx, s.db.WithContext(ctx), id)
	if err != nil || user == nil || user.DisplayName == "" {
		return id.String()
	}
	return user.DisplayName
}

func (s *Server) ListPayments(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var query struct {
		pagination.Pagination
		Status      string `form:"status"`
		Role        string `form:"role"`
		CreatedFrom string `form:"created_from"`
		CreatedTo   string `form:"created_to"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	createdFrom, err := parseOptionalTime(query.CreatedFrom, false)
	if err != nil {
		AbortWithError(c, newValidationError("created_from", "invalid_created_from", "invalid created_from"))
		return
	}
	createdTo, err := parseOptionalTime(query.CreatedTo, true)
	if err != nil {
		AbortWithError(c, newValidationError("created_to", "invalid_created_to", "invalid created_to"))
		return
	}

	resp, err := s.paymentSvc.ListPayments(c.Request.Context(), paymentdomain.ListPaymentRequest{
		UserID:      userID,
		Status:      query.Status,
		Role:        query.Role,
		CreatedFrom: createdFrom,
		CreatedTo:   createdTo,
		Pagination:  query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) PaymentSummary(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	from, err := parseOptionalTime(c.Query("from"), false)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, err := parseOptionalTime(c.Query("to"), true)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}

	summary, err := s.paymentSvc.Summary(c.Request.Context(), userID, from, to)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summary})
}

// PlatformFee previews the commission on an amount.
func (s *Server) PlatformFee(c *gin.Context) {
	amount, err := strconv.ParseInt(strings.TrimSpace(c.Query("amount_minor_units")), 10, 64)
	if err != nil || amount <= 0 {
		AbortWithError(c, paymentdomain.ErrInvalidAmount)
		return
	}

	fee := paymentdomain.CalculatePlatformFee(amount)
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"amount_minor_units": amount,
		"fee_minor_units":    fee,
		"net_minor_units":    amount - fee,
		"fee_percent":        paymentdomain.PlatformFeePercent,
	}})
}

func newTransitionResponse(applied bool, okMessage, failMessage string) transitionResponse {
	if applied {
		return transitionResponse{Success: true, Message: okMessage}
	}
	return transitionResponse{Success: false, Message: failMessage}
}

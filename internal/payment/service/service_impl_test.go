package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smajobb/marketplace/internal/clock"
	"github.com/smajobb/marketplace/internal/config"
	marketplacerepo "github.com/smajobb/marketplace/internal/marketplace/repository"
	notificationdomain "github.com/smajobb/marketplace/internal/notification/domain"
	paymentdomain "github.com/smajobb/marketplace/internal/payment/domain"
	paymentrepo "github.com/smajobb/marketplace/internal/payment/repository"
	paymentservice "github.com/smajobb/marketplace/internal/payment/service"
	"github.com/smajobb/marketplace/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	customerID snowflake.ID = 101
	youthID    snowflake.ID = 202
	otherID    snowflake.ID = 303
	bookingID  snowflake.ID = 900
)

type notifyCall struct {
	userID snowflake.ID
	event  notificationdomain.EventType
	params map[string]string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (n *recordingNotifier) Notify(ctx context.Context, userID snowflake.ID, event notificationdomain.EventType, params map[string]string) (notificationdomain.Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{userID: userID, event: event, params: params})
	return notificationdomain.Notification{}, n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type fixture struct {
	db       *gorm.DB
	svc      *paymentservice.Service
	repo     paymentdomain.Repository
	clock    *clock.FakeClock
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(10)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	notifier := &recordingNotifier{}
	repo := paymentrepo.Provide()
	svc := paymentservice.NewService(paymentservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Config:      config.Config{Payment: config.PaymentConfig{Currency: "sek"}},
		Repo:        repo,
		Marketplace: marketplacerepo.Provide(),
		Notifier:    notifier,
	})

	return &fixture{db: db, svc: svc, repo: repo, clock: clk, notifier: notifier}
}

func (f *fixture) createIntent(t *testing.T, amount int64) snowflake.ID {
	t.Helper()
	intent, err := f.svc.CreatePaymentIntent(context.Background(), bookingID, amount)
	require.NoError(t, err)
	return intent.IntentID
}

func (f *fixture) load(t *testing.T, id snowflake.ID) paymentdomain.Payment {
	t.Helper()
	item, err := f.svc.GetPayment(context.Background(), id)
	require.NoError(t, err)
	return item
}

func TestPaymentHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	intent, err := f.svc.CreatePaymentIntent(ctx, bookingID, 10000)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.IntentStatusRequiresConfirmation, intent.Status)
	assert.Equal(t, "SEK", intent.Currency)
	assert.Equal(t, int64(10000), intent.AmountMinorUnits)
	assert.True(t, strings.HasPrefix(intent.ClientToken, fmt.Sprintf("pi_%s_secret_", intent.IntentID)))

	created := f.load(t, intent.IntentID)
	assert.Equal(t, paymentdomain.StatusPending, created.Status)
	assert.Equal(t, int64(10000), created.Amount)
	assert.Equal(t, int64(1000), created.CommissionAmount)
	assert.Equal(t, int64(9000), created.NetAmount)
	assert.Equal(t, created.Amount-created.CommissionAmount, created.NetAmount)
	assert.Equal(t, customerID, created.PayerID)
	assert.Equal(t, youthID, created.PayeeID)
	assert.Nil(t, created.ProcessedAt)

	f.clock.Advance(time.Minute)
	ok, err := f.svc.ConfirmPayment(ctx, intent.IntentID)
	require.NoError(t, err)
	assert.True(t, ok)

	confirmed := f.load(t, intent.IntentID)
	assert.Equal(t, paymentdomain.StatusCompleted, confirmed.Status)
	require.NotNil(t, confirmed.ProcessedAt)
	assert.True(t, confirmed.ProcessedAt.Equal(f.clock.Now()))
	require.NotNil(t, confirmed.TransactionID)
	assert.Equal(t, created.Version+1, confirmed.Version)

	require.Equal(t, 1, f.notifier.count())
	call := f.notifier.calls[0]
	assert.Equal(t, youthID, call.userID)
	assert.Equal(t, notificationdomain.EventPaymentReceived, call.event)
	assert.Equal(t, "90.00", call.params["amount"])
}

func TestCreatePaymentIntentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePaymentIntent(ctx, 12345, 1000)
	assert.ErrorIs(t, err, paymentdomain.ErrNotFound)

	_, err = f.svc.CreatePaymentIntent(ctx, bookingID, 0)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)

	_, err = f.svc.CreatePaymentIntent(ctx, bookingID, -10)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)
}

func TestUnknownPaymentReportsFalse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.svc.ConfirmPayment(ctx, 424242)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.CancelPayment(ctx, 424242)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.RefundPayment(ctx, 424242, 100)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.svc.GetPayment(ctx, 424242)
	assert.ErrorIs(t, err, paymentdomain.ErrNotFound)
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createIntent(t, 5000)

	ok, err := f.svc.ConfirmPayment(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	first := f.load(t, id)

	f.clock.Advance(time.Hour)
	ok, err = f.svc.ConfirmPayment(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	second := f.load(t, id)
	assert.Equal(t, first.Version, second.Version)
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))
	assert.Equal(t, 1, f.notifier.count())
}

func TestTerminalStatesRejectTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("cancelled", func(t *testing.T) {
		id := f.createIntent(t, 1000)
		ok, err := f.svc.CancelPayment(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		before := f.load(t, id)

		ok, err = f.svc.ConfirmPayment(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = f.svc.RefundPayment(ctx, id, 100)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = f.svc.MarkProcessing(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = f.svc.CancelPayment(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)

		after := f.load(t, id)
		assert.Equal(t, paymentdomain.StatusCancelled, after.Status)
		assert.Equal(t, before.Version, after.Version)
	})

	t.Run("refunded", func(t *testing.T) {
		id := f.createIntent(t, 1000)
		_, err := f.svc.ConfirmPayment(ctx, id)
		require.NoError(t, err)
		ok, err := f.svc.RefundPayment(ctx, id, 1000)
		require.NoError(t, err)
		require.True(t, ok)
		before := f.load(t, id)

		ok, err = f.svc.ConfirmPayment(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = f.svc.CancelPayment(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = f.svc.FailPayment(ctx, id, "late")
		require.NoError(t, err)
		assert.False(t, ok)

		after := f.load(t, id)
		assert.Equal(t, paymentdomain.StatusRefunded, after.Status)
		assert.Equal(t, before.Version, after.Version)
	})

	t.Run("completed only allows refund", func(t *testing.T) {
		id := f.createIntent(t, 1000)
		_, err := f.svc.ConfirmPayment(ctx, id)
		require.NoError(t, err)
		before := f.load(t, id)

		ok, err := f.svc.CancelPayment(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = f.svc.FailPayment(ctx, id, "chargeback")
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = f.svc.MarkProcessing(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)

		after := f.load(t, id)
		assert.Equal(t, paymentdomain.StatusCompleted, after.Status)
		assert.Equal(t, before.Version, after.Version)
	})
}

func TestRefundValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createIntent(t, 2000)

	_, err := f.svc.ConfirmPayment(ctx, id)
	require.NoError(t, err)

	ok, err := f.svc.RefundPayment(ctx, id, 2001)
	assert.ErrorIs(t, err, paymentdomain.ErrRefundExceedsAmount)
	assert.False(t, ok)

	ok, err = f.svc.RefundPayment(ctx, id, 0)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)
	assert.False(t, ok)
	assert.Equal(t, paymentdomain.StatusCompleted, f.load(t, id).Status)

	ok, err = f.svc.RefundPayment(ctx, id, 1500)
	require.NoError(t, err)
	assert.True(t, ok)

	refunded := f.load(t, id)
	assert.Equal(t, paymentdomain.StatusRefunded, refunded.Status)
	assert.Equal(t, int64(1500), refunded.RefundedAmount)

	ok, err = f.svc.RefundPayment(ctx, id, 1500)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.RefundPayment(ctx, id, 2001)
	assert.ErrorIs(t, err, paymentdomain.ErrRefundExceedsAmount)
	assert.False(t, ok)
}

func TestRefundExceedingAmountRejectedInAnyStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createIntent(t, 2000)

	ok, err := f.svc.RefundPayment(ctx, id, 5000)
	assert.ErrorIs(t, err, paymentdomain.ErrRefundExceedsAmount)
	assert.False(t, ok)
	assert.Equal(t, paymentdomain.StatusPending, f.load(t, id).Status)

	ok, err = f.svc.RefundPayment(ctx, id, 1000)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRefundRequiresCompletedPayment(t *testing.T) {
	f := newFixture(t)
	id := f.createIntent(t, 2000)

	ok, err := f.svc.RefundPayment(context.Background(), id, 500)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, paymentdomain.StatusPending, f.load(t, id).Status)
}

func TestFailThenCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createIntent(t, 700)

	ok, err := f.svc.MarkProcessing(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.svc.FailPayment(ctx, id, "card_declined")
	require.NoError(t, err)
	require.True(t, ok)

	failed := f.load(t, id)
	assert.Equal(t, paymentdomain.StatusFailed, failed.Status)
	require.NotNil(t, failed.FailureReason)
	assert.Equal(t, "card_declined", *failed.FailureReason)

	ok, err = f.svc.ConfirmPayment(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.CancelPayment(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStaleVersionIsNotOverwritten(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createIntent(t, 1200)
	pending := f.load(t, id)

	// A concurrent writer cancels first.
	changed, err := f.repo.Transition(ctx, f.db, paymentdomain.TransitionUpdate{
		ID:              id,
		ExpectedVersion: pending.Version,
		From:            paymentdomain.AllowedPriors(paymentdomain.StatusCancelled),
		To:              paymentdomain.StatusCancelled,
		UpdatedAt:       f.clock.Now(),
	})
	require.NoError(t, err)
	require.True(t, changed)

	// The loser still holds the old version.
	changed, err = f.repo.Transition(ctx, f.db, paymentdomain.TransitionUpdate{
		ID:              id,
		ExpectedVersion: pending.Version,
		From:            paymentdomain.AllowedPriors(paymentdomain.StatusCompleted),
		To:              paymentdomain.StatusCompleted,
		UpdatedAt:       f.clock.Now(),
	})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, paymentdomain.StatusCancelled, f.load(t, id).Status)

	ok, err := f.svc.ConfirmPayment(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, f.notifier.count())
}

func TestConcurrentConfirmAndCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.createIntent(t, 3000)

	var wg sync.WaitGroup
	results := make([]bool, 2)
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0], errs[0] = f.svc.ConfirmPayment(ctx, id)
	}()
	go func() {
		defer wg.Done()
		results[1], errs[1] = f.svc.CancelPayment(ctx, id)
	}()
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, results[0], results[1], "exactly one transition wins")

	final := f.load(t, id)
	if results[0] {
		assert.Equal(t, paymentdomain.StatusCompleted, final.Status)
	} else {
		assert.Equal(t, paymentdomain.StatusCancelled, final.Status)
	}
	assert.Equal(t, int64(2), final.Version)
}

func TestSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	completed := f.createIntent(t, 10000)
	_, err := f.svc.ConfirmPayment(ctx, completed)
	require.NoError(t, err)

	f.createIntent(t, 2000)

	processing := f.createIntent(t, 3000)
	_, err = f.svc.MarkProcessing(ctx, processing)
	require.NoError(t, err)

	cancelled := f.createIntent(t, 4000)
	_, err = f.svc.CancelPayment(ctx, cancelled)
	require.NoError(t, err)

	youth, err := f.svc.Summary(ctx, youthID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), youth.TotalEarnings)
	assert.Equal(t, int64(0), youth.TotalPaid)
	assert.Equal(t, int64(1000), youth.TotalCommissions)
	assert.Equal(t, int64(5000), youth.PendingAmount)
	assert.Equal(t, int64(1), youth.EarningTransactions)
	assert.Equal(t, int64(0), youth.PaymentTransactions)
	assert.Equal(t, int64(2), youth.PendingTransactions)

	customer, err := f.svc.Summary(ctx, customerID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), customer.TotalEarnings)
	assert.Equal(t, int64(10000), customer.TotalPaid)
	assert.Equal(t, int64(1), customer.PaymentTransactions)

	stranger, err := f.svc.Summary(ctx, otherID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.Summary{}, stranger)

	future := f.clock.Now().Add(24 * time.Hour)
	empty, err := f.svc.Summary(ctx, youthID, &future, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.TotalEarnings)

	past := f.clock.Now().Add(-time.Hour)
	_, err = f.svc.Summary(ctx, youthID, &future, &past)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidRange)
}

func TestListPaymentsPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []snowflake.ID
	for i := 0; i < 3; i++ {
		ids = append(ids, f.createIntent(t, int64(1000+i)))
		f.clock.Advance(time.Second)
	}

	first, err := f.svc.ListPayments(ctx, paymentdomain.ListPaymentRequest{
		UserID:     youthID,
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, first.Payments, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, ids[2], first.Payments[0].ID)
	assert.Equal(t, ids[1], first.Payments[1].ID)

	second, err := f.svc.ListPayments(ctx, paymentdomain.ListPaymentRequest{
		UserID:     youthID,
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.Payments, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, ids[0], second.Payments[0].ID)

	payerOnly, err := f.svc.ListPayments(ctx, paymentdomain.ListPaymentRequest{
		UserID: youthID,
		Role:   paymentdomain.ListRolePayer,
	})
	require.NoError(t, err)
	assert.Empty(t, payerOnly.Payments)

	_, err = f.svc.ListPayments(ctx, paymentdomain.ListPaymentRequest{UserID: youthID, Status: "settled"})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidStatus)

	_, err = f.svc.ListPayments(ctx, paymentdomain.ListPaymentRequest{UserID: youthID, Role: "owner"})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidRole)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// One connection keeps concurrent tests from tripping sqlite table locks.
	sqlDB.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE users (
			id BIGINT PRIMARY KEY,
			role TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			email TEXT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE bookings (
			id BIGINT PRIMARY KEY,
			job_id BIGINT NOT NULL,
			customer_id BIGINT NOT NULL,
			youth_id BIGINT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE payments (
			id BIGINT PRIMARY KEY,
			booking_id BIGINT NOT NULL,
			payer_id BIGINT NOT NULL,
			payee_id BIGINT NOT NULL,
			amount BIGINT NOT NULL,
			commission_amount BIGINT NOT NULL,
			net_amount BIGINT NOT NULL,
			refunded_amount BIGINT NOT NULL DEFAULT 0,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			transaction_id TEXT,
			failure_reason TEXT,
			client_token TEXT NOT NULL,
			version BIGINT NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			processed_at DATETIME,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_payments_client_token ON payments(client_token)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	seed := []string{
		fmt.Sprintf(`INSERT INTO users (id, role, active) VALUES (%d, 'customer', 1), (%d, 'youth', 1), (%d, 'youth', 1)`, customerID, youthID, otherID),
		fmt.Sprintf(`INSERT INTO bookings (id, job_id, customer_id, youth_id, status) VALUES (%d, 1, %d, %d, 'confirmed')`, bookingID, customerID, youthID),
	}
	for _, stmt := range seed {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	return db
}

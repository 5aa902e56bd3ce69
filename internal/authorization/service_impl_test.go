package authorization_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smajobb/marketplace/internal/authorization"
	marketplacerepo "github.com/smajobb/marketplace/internal/marketplace/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	customerID  snowflake.ID = 1
	youthID     snowflake.ID = 2
	strangerID  snowflake.ID = 3
	adminID     snowflake.ID = 4
	moderatorID snowflake.ID = 5
	inactiveID  snowflake.ID = 6

	draftJobID    = "10"
	openJobID     = "11"
	bookingID     = "20"
	workSessionID = "30"
	paymentID     = "40"
)

func newService(t *testing.T) (authorization.Service, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	enforcer, err := authorization.NewMemoryEnforcer()
	require.NoError(t, err)
	return authorization.NewService(authorization.Params{
		DB:          db,
		Log:         zap.NewNop(),
		Enforcer:    enforcer,
		Marketplace: marketplacerepo.Provide(),
	}), db
}

func TestDecisionTable(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		actor    snowflake.ID
		resource authorization.ResourceType
		id       string
		access   bool
		modify   bool
	}{
		{"owner on draft job", customerID, authorization.ResourceJob, draftJobID, true, true},
		{"stranger on draft job", youthID, authorization.ResourceJob, draftJobID, false, false},
		{"stranger on open job", strangerID, authorization.ResourceJob, openJobID, true, false},

		{"customer on booking", customerID, authorization.ResourceBooking, bookingID, true, true},
		{"youth on booking", youthID, authorization.ResourceBooking, bookingID, true, true},
		{"stranger on booking", strangerID, authorization.ResourceBooking, bookingID, false, false},

		{"self profile", youthID, authorization.ResourceUser, fmt.Sprint(youthID), true, true},
		{"other profile", youthID, authorization.ResourceUser, fmt.Sprint(customerID), true, false},

		{"assigned youth on session", youthID, authorization.ResourceWorkSession, workSessionID, true, true},
		{"booking customer on session", customerID, authorization.ResourceWorkSession, workSessionID, true, false},
		{"stranger on session", strangerID, authorization.ResourceWorkSession, workSessionID, false, false},

		{"payer on payment", customerID, authorization.ResourcePayment, paymentID, true, false},
		{"payee on payment", youthID, authorization.ResourcePayment, paymentID, true, false},
		{"stranger on payment", strangerID, authorization.ResourcePayment, paymentID, false, false},

		{"admin on session", adminID, authorization.ResourceWorkSession, workSessionID, true, true},
		{"admin on payment", adminID, authorization.ResourcePayment, paymentID, true, true},
		{"admin on draft job", adminID, authorization.ResourceJob, draftJobID, true, true},

		{"moderator on draft job", moderatorID, authorization.ResourceJob, draftJobID, true, true},
		{"moderator on booking", moderatorID, authorization.ResourceBooking, bookingID, true, true},
		{"moderator on user", moderatorID, authorization.ResourceUser, fmt.Sprint(youthID), true, true},
		{"moderator on session", moderatorID, authorization.ResourceWorkSession, workSessionID, true, false},
		{"moderator on payment", moderatorID, authorization.ResourcePayment, paymentID, true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.access, svc.CanAccess(ctx, tc.actor, tc.resource, tc.id), "access")
			assert.Equal(t, tc.modify, svc.CanModify(ctx, tc.actor, tc.resource, tc.id), "modify")
		})
	}
}

func TestFailsClosed(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		actor    snowflake.ID
		resource authorization.ResourceType
		id       string
	}{
		{"unknown resource type", adminID, authorization.ResourceType("invoice"), "10"},
		{"unparsable id", adminID, authorization.ResourceJob, "abc"},
		{"empty id", adminID, authorization.ResourceJob, ""},
		{"missing resource", adminID, authorization.ResourceBooking, "999"},
		{"unknown actor", snowflake.ID(777), authorization.ResourceUser, fmt.Sprint(youthID)},
		{"inactive actor", inactiveID, authorization.ResourceUser, fmt.Sprint(inactiveID)},
		{"anonymous actor", 0, authorization.ResourceJob, openJobID},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, svc.CanAccess(ctx, tc.actor, tc.resource, tc.id))
			assert.False(t, svc.CanModify(ctx, tc.actor, tc.resource, tc.id))
		})
	}
}

func TestDecisionsReadCurrentState(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	require.True(t, svc.CanAccess(ctx, strangerID, authorization.ResourceJob, openJobID))
	require.NoError(t, db.Exec(`UPDATE jobs SET status = 'completed' WHERE id = 11`).Error)
	assert.False(t, svc.CanAccess(ctx, strangerID, authorization.ResourceJob, openJobID))
}

func TestAuthorizeErrors(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	assert.NoError(t, svc.Authorize(ctx, youthID, authorization.ResourceBooking, bookingID, authorization.OperationModify))
	assert.ErrorIs(t, svc.Authorize(ctx, strangerID, authorization.ResourceBooking, bookingID, authorization.OperationRead), authorization.ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, 0, authorization.ResourceBooking, bookingID, authorization.OperationRead), authorization.ErrUnauthenticated)
	assert.ErrorIs(t, svc.Authorize(ctx, adminID, authorization.ResourceBooking, bookingID, authorization.Operation("delete")), authorization.ErrInvalidAction)
	assert.ErrorIs(t, svc.Authorize(ctx, adminID, authorization.ResourceType("invoice"), "10", authorization.OperationRead), authorization.ErrInvalidResource)
}

func TestAuthorizeSurfacesInfraErrors(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()

	require.NoError(t, db.Exec(`DROP TABLE payments`).Error)
	err := svc.Authorize(ctx, customerID, authorization.ResourcePayment, paymentID, authorization.OperationRead)
	require.Error(t, err)
	assert.NotErrorIs(t, err, authorization.ErrForbidden)
	assert.False(t, svc.CanAccess(ctx, customerID, authorization.ResourcePayment, paymentID))
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	stmts := []string{
		`CREATE TABLE users (
			id BIGINT PRIMARY KEY,
			role TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			email TEXT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE jobs (
			id BIGINT PRIMARY KEY,
			customer_id BIGINT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
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
		`CREATE TABLE work_sessions (
			id BIGINT PRIMARY KEY,
			booking_id BIGINT NOT NULL,
			youth_id BIGINT NOT NULL,
			started_at DATETIME,
			ended_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE payments (
			id BIGINT PRIMARY KEY,
			booking_id BIGINT NOT NULL,
			payer_id BIGINT NOT NULL,
			payee_id BIGINT NOT NULL
		)`,
		fmt.Sprintf(`INSERT INTO users (id, role, active) VALUES
			(%d, 'customer', 1), (%d, 'youth', 1), (%d, 'youth', 1),
			(%d, 'admin', 1), (%d, 'moderator', 1), (%d, 'customer', 0)`,
			customerID, youthID, strangerID, adminID, moderatorID, inactiveID),
		fmt.Sprintf(`INSERT INTO jobs (id, customer_id, status) VALUES (10, %d, 'draft'), (11, %d, 'open')`, customerID, customerID),
		fmt.Sprintf(`INSERT INTO bookings (id, job_id, customer_id, youth_id, status) VALUES (20, 11, %d, %d, 'confirmed')`, customerID, youthID),
		fmt.Sprintf(`INSERT INTO work_sessions (id, booking_id, youth_id) VALUES (30, 20, %d)`, youthID),
		fmt.Sprintf(`INSERT INTO payments (id, booking_id, payer_id, payee_id) VALUES (40, 20, %d, %d)`, customerID, youthID),
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	return db
}

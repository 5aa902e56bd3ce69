package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smajobb/marketplace/internal/audit/domain"
	"github.com/smajobb/marketplace/internal/audit/repository"
	auditservice "github.com/smajobb/marketplace/internal/audit/service"
	"github.com/smajobb/marketplace/internal/clock"
	obscontext "github.com/smajobb/marketplace/internal/observability/context"
	"github.com/smajobb/marketplace/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.Exec(`CREATE TABLE audit_logs (
		id INTEGER PRIMARY KEY,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME NOT NULL
	)`).Error)
	return db
}

func newService(t *testing.T, db *gorm.DB, clk clock.Clock) *auditservice.Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  repository.Provide(),
	})
}

func TestRecordAttributesActorAndMasksSecrets(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db, clock.NewFakeClock(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)))

	ctx := obscontext.WithActor(context.Background(), "1003", "admin")
	ctx = obscontext.WithRequestID(ctx, "req-1")
	err := svc.Record(ctx, domain.Entry{
		Action:     domain.ActionPaymentRefund,
		TargetType: domain.TargetPayment,
		TargetID:   "3001",
		Metadata:   map[string]any{"amount_minor_units": 2500, "client_token": "pi_abcdefwxyz"},
	})
	require.NoError(t, err)

	var stored domain.AuditLog
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, domain.ActorTypeAdmin, stored.ActorType)
	require.NotNil(t, stored.ActorID)
	assert.Equal(t, "1003", *stored.ActorID)
	require.NotNil(t, stored.TargetID)
	assert.Equal(t, "3001", *stored.TargetID)
	assert.Equal(t, "pi_****wxyz", stored.Metadata["client_token"])
	assert.Equal(t, "req-1", stored.Metadata["request_id"])
}

func TestRecordWithoutActorIsSystem(t *testing.T) {
	db := setupTestDB(t)
	svc := newService(t, db, clock.NewFakeClock(time.Now()))

	require.NoError(t, svc.Record(context.Background(), domain.Entry{Action: domain.ActionErrorLogResolve}))

	var stored domain.AuditLog
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, domain.ActorTypeSystem, stored.ActorType)
	assert.Nil(t, stored.ActorID)
	assert.Equal(t, "unknown", stored.TargetType)
}

func TestRecordRequiresAction(t *testing.T) {
	svc := newService(t, setupTestDB(t), clock.NewFakeClock(time.Now()))
	assert.ErrorIs(t, svc.Record(context.Background(), domain.Entry{Action: "  "}), domain.ErrInvalidAction)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	clk := clock.NewFakeClock(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	svc := newService(t, db, clk)
	ctx := obscontext.WithActor(context.Background(), "1003", "admin")

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Record(ctx, domain.Entry{
			Action:     domain.ActionNotificationBroadcast,
			TargetType: domain.TargetNotification,
			Metadata:   map[string]any{"seq": i},
		}))
		clk.Advance(time.Minute)
	}
	require.NoError(t, svc.Record(ctx, domain.Entry{Action: domain.ActionErrorLogResolve, TargetType: domain.TargetErrorLog}))

	first, err := svc.List(context.Background(), domain.ListRequest{
		ListFilter: domain.ListFilter{Action: domain.ActionNotificationBroadcast},
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)
	assert.EqualValues(t, 2, first.AuditLogs[0].Metadata["seq"])

	second, err := svc.List(context.Background(), domain.ListRequest{
		ListFilter: domain.ListFilter{Action: domain.ActionNotificationBroadcast},
		Pagination: pagination.Pagination{PageSize: 2, PageToken: first.NextPageToken},
	})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)
	assert.EqualValues(t, 0, second.AuditLogs[0].Metadata["seq"])
}

func TestListRejectsInvertedRange(t *testing.T) {
	svc := newService(t, setupTestDB(t), clock.NewFakeClock(time.Now()))
	start := time.Now()
	end := start.Add(-time.Hour)

	_, err := svc.List(context.Background(), domain.ListRequest{ListFilter: domain.ListFilter{StartAt: &start, EndAt: &end}})
	assert.ErrorIs(t, err, domain.ErrInvalidTimeRange)
}

package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smajobb/marketplace/internal/audit/domain"
	"github.com/smajobb/marketplace/internal/audit/masking"
	"github.com/smajobb/marketplace/internal/clock"
	obscontext "github.com/smajobb/marketplace/internal/observability/context"
	"github.com/smajobb/marketplace/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: clk,
		repo:  p.Repo,
	}
}

// Record appends one audit entry attributed to the actor in ctx.
func (s *Service) Record(ctx context.Context, entry domain.Entry) error {
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return domain.ErrInvalidAction
	}
	targetType := strings.TrimSpace(entry.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	actorType, actorID := resolveActor(ctx)

	payload := masking.MaskSensitive(entry.Metadata)
	if payload == nil {
		payload = map[string]any{}
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	log := &domain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   optionalString(entry.TargetID),
		Metadata:   datatypes.JSONMap(payload),
		CreatedAt:  s.clock.Now().UTC(),
	}
	if err := s.repo.Insert(ctx, s.db, log); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return domain.ListResponse{}, domain.ErrInvalidTimeRange
	}

	items, err := s.repo.List(ctx, s.db, req.ListFilter, req.Pagination)
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, req.Pagination.Limit(), func(item *domain.AuditLog) pagination.Cursor {
		return pagination.Cursor{ID: item.ID.Int64(), CreatedAt: item.CreatedAt}
	})
	logs := make([]domain.AuditLog, 0, len(items))
	for _, item := range items {
		logs = append(logs, *item)
	}
	return domain.ListResponse{PageInfo: pageInfo, AuditLogs: logs}, nil
}

func resolveActor(ctx context.Context) (string, *string) {
	actorID, role := obscontext.ActorFromContext(ctx)
	actorID = strings.TrimSpace(actorID)
	switch {
	case actorID == "" || role == domain.ActorTypeSystem:
		return domain.ActorTypeSystem, optionalString(actorID)
	case role == domain.ActorTypeAdmin:
		return domain.ActorTypeAdmin, &actorID
	default:
		return domain.ActorTypeUser, &actorID
	}
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

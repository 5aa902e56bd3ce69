package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smajobb/marketplace/internal/clock"
	"github.com/smajobb/marketplace/internal/config"
	marketplacedomain "github.com/smajobb/marketplace/internal/marketplace/domain"
	"github.com/smajobb/marketplace/internal/notification/domain"
	"github.com/smajobb/marketplace/internal/notification/realtime"
	obsmetrics "github.com/smajobb/marketplace/internal/observability/metrics"
	"github.com/smajobb/marketplace/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	insertBatchSize           = 100
	defaultPushTimeout        = 5 * time.Second
	defaultBulkPushConcurrent = 16
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Config      config.Config
	Repo        domain.Repository
	Marketplace marketplacedomain.Repository
	Pusher      realtime.Pusher     `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	repo            domain.Repository
	marketplace     marketplacedomain.Repository
	pusher          realtime.Pusher
	obsMetrics      *obsmetrics.Metrics
	pushTimeout     time.Duration
	pushConcurrency int
}

func NewService(p Params) *Service {
	pushTimeout := p.Config.Notification.PushTimeout
	if pushTimeout <= 0 {
		pushTimeout = defaultPushTimeout
	}
	concurrency := p.Config.Notification.BulkPushConcurrency
	if concurrency <= 0 {
		concurrency = defaultBulkPushConcurrent
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("notification.service"),
		genID:           p.GenID,
		clock:           clk,
		repo:            p.Repo,
		marketplace:     p.Marketplace,
		pusher:          p.Pusher,
		obsMetrics:      p.ObsMetrics,
		pushTimeout:     pushTimeout,
		pushConcurrency: concurrency,
	}
}

var (
	_ domain.Service       = (*Service)(nil)
	_ domain.Notifier      = (*Service)(nil)
	_ domain.AdminNotifier = (*Service)(nil)
)

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (domain.Notification, error) {
	if req.UserID == 0 {
		return domain.Notification{}, domain.ErrInvalidUser
	}
	tpl, err := normalizeTemplate(domain.Template{
		Type:       req.Type,
		Title:      req.Title,
		Message:    req.Message,
		ActionURL:  req.ActionURL,
		ActionText: req.ActionText,
		Priority:   req.Priority,
		ExpiresAt:  req.ExpiresAt,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return domain.Notification{}, err
	}

	item := s.build(req.UserID, tpl, s.clock.Now())
	if err := s.repo.Insert(ctx, s.db, item); err != nil {
		s.log.Error("failed to insert notification",
			zap.String("user_id", req.UserID.String()),
			zap.String("type", tpl.Type),
			zap.Error(err),
		)
		return domain.Notification{}, err
	}
	s.recordCreated(ctx, tpl.Type, 1)

	s.push(ctx, item)
	return *item, nil
}

func (s *Service) CreateBulk(ctx context.Context, userIDs []snowflake.ID, tpl domain.Template) ([]domain.Notification, error) {
	tpl, err := normalizeTemplate(tpl)
	if err != nil {
		return nil, err
	}
	recipients, err := distinctRecipients(userIDs)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return []domain.Notification{}, nil
	}

	items, err := s.persistFor(ctx, recipients, tpl)
	if err != nil {
		return nil, err
	}

	// Every push goroutine returns nil so one failed delivery never cancels the rest.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.pushConcurrency)
	for _, item := range items {
		item := item
		g.Go(func() error {
			s.push(gctx, item)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]domain.Notification, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}

func (s *Service) Broadcast(ctx context.Context, tpl domain.Template) (int, error) {
	tpl, err := normalizeTemplate(tpl)
	if err != nil {
		return 0, err
	}
	recipients, err := s.marketplace.ListActiveUserIDs(ctx, s.db)
	if err != nil {
		s.log.Error("failed to list broadcast recipients", zap.Error(err))
		return 0, err
	}
	if len(recipients) == 0 {
		return 0, nil
	}

	if _, err := s.persistFor(ctx, recipients, tpl); err != nil {
		return 0, err
	}

	if s.pusher != nil {
		pushCtx, cancel := context.WithTimeout(ctx, s.pushTimeout)
		defer cancel()
		event, err := realtime.NewEvent(realtime.EventBroadcast, tpl, s.clock.Now())
		if err == nil {
			err = s.pusher.Broadcast(pushCtx, event)
		}
		if err != nil {
			s.recordPushFailure(ctx, err)
			s.log.Warn("broadcast push failed", zap.String("type", tpl.Type), zap.Error(err))
		}
	}

	return len(recipients), nil
}

func (s *Service) NotifyAdmins(ctx context.Context, tpl domain.Template) (int, error) {
	admins, err := s.marketplace.ListActiveUserIDs(ctx, s.db, marketplacedomain.RoleAdmin)
	if err != nil {
		s.log.Error("failed to list admins", zap.Error(err))
		return 0, err
	}
	items, err := s.CreateBulk(ctx, admins, tpl)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (s *Service) Notify(ctx context.Context, userID snowflake.ID, event domain.EventType, params map[string]string) (domain.Notification, error) {
	tpl, ok := domain.LookupEventTemplate(event)
	if !ok {
		return domain.Notification{}, domain.ErrInvalidEvent
	}
	rendered := tpl.Render(event, params)
	return s.Create(ctx, domain.CreateRequest{
		UserID:     userID,
		Type:       rendered.Type,
		Title:      rendered.Title,
		Message:    rendered.Message,
		ActionURL:  rendered.ActionURL,
		ActionText: rendered.ActionText,
		Priority:   rendered.Priority,
	})
}

func (s *Service) MarkAsRead(ctx context.Context, userID, id snowflake.ID) (domain.Notification, error) {
	item, err := s.find(ctx, userID, id)
	if err != nil {
		return domain.Notification{}, err
	}
	if item.IsRead {
		return *item, nil
	}

	now := s.clock.Now()
	affected, err := s.repo.SetRead(ctx, s.db, userID, id, &now)
	if err != nil {
		return domain.Notification{}, err
	}
	if affected == 0 {
		return domain.Notification{}, domain.ErrNotFound
	}
	item.IsRead = true
	item.ReadAt = &now
	return *item, nil
}

func (s *Service) MarkAsUnread(ctx context.Context, userID, id snowflake.ID) (domain.Notification, error) {
	item, err := s.find(ctx, userID, id)
	if err != nil {
		return domain.Notification{}, err
	}
	if !item.IsRead {
		return *item, nil
	}

	affected, err := s.repo.SetRead(ctx, s.db, userID, id, nil)
	if err != nil {
		return domain.Notification{}, err
	}
	if affected == 0 {
		return domain.Notification{}, domain.ErrNotFound
	}
	item.IsRead = false
	item.ReadAt = nil
	return *item, nil
}

func (s *Service) MarkAllAsRead(ctx context.Context, userID snowflake.ID) (int64, error) {
	if userID == 0 {
		return 0, domain.ErrInvalidUser
	}
	return s.repo.MarkAllRead(ctx, s.db, userID, s.clock.Now())
}

func (s *Service) Delete(ctx context.Context, userID, id snowflake.ID) error {
	affected, err := s.repo.Delete(ctx, s.db, userID, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) DeleteAll(ctx context.Context, userID snowflake.ID) (int64, error) {
	if userID == 0 {
		return 0, domain.ErrInvalidUser
	}
	return s.repo.DeleteAll(ctx, s.db, userID)
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.UserID == 0 {
		return domain.ListResponse{}, domain.ErrInvalidUser
	}
	items, err := s.repo.List(ctx, s.db, req.UserID, domain.ListFilter{
		UnreadOnly: req.UnreadOnly,
		Type:       strings.TrimSpace(req.Type),
	}, req.Pagination)
	if err != nil {
		return domain.ListResponse{}, err
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, req.Pagination.Limit(), func(n *domain.Notification) pagination.Cursor {
		return pagination.Cursor{ID: n.ID.Int64(), CreatedAt: n.CreatedAt}
	})

	out := make([]domain.Notification, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return domain.ListResponse{PageInfo: pageInfo, Notifications: out}, nil
}

func (s *Service) UnreadCount(ctx context.Context, userID snowflake.ID) (int64, error) {
	if userID == 0 {
		return 0, domain.ErrInvalidUser
	}
	return s.repo.CountUnread(ctx, s.db, userID)
}

func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	removed, err := s.repo.DeleteExpired(ctx, s.db, s.clock.Now())
	if err != nil {
		s.log.Error("failed to delete expired notifications", zap.Error(err))
		return 0, err
	}
	return removed, nil
}

func (s *Service) CleanupOld(ctx context.Context, daysOld int) (int64, error) {
	if daysOld <= 0 {
		return 0, domain.ErrInvalidAge
	}
	cutoff := s.clock.Now().Add(-time.Duration(daysOld) * 24 * time.Hour)
	removed, err := s.repo.DeleteReadBefore(ctx, s.db, cutoff)
	if err != nil {
		s.log.Error("failed to delete old notifications", zap.Int("days_old", daysOld), zap.Error(err))
		return 0, err
	}
	return removed, nil
}

func (s *Service) find(ctx context.Context, userID, id snowflake.ID) (*domain.Notification, error) {
	item, err := s.repo.FindByID(ctx, s.db, userID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, domain.ErrNotFound
	}
	return item, nil
}

func (s *Service) build(userID snowflake.ID, tpl domain.Template, now time.Time) *domain.Notification {
	metadata := datatypes.JSONMap{}
	for k, v := range tpl.Metadata {
		metadata[k] = v
	}
	return &domain.Notification{
		ID:         s.genID.Generate(),
		UserID:     userID,
		Type:       tpl.Type,
		Title:      tpl.Title,
		Message:    tpl.Message,
		ActionURL:  tpl.ActionURL,
		ActionText: tpl.ActionText,
		Priority:   tpl.Priority,
		ExpiresAt:  tpl.ExpiresAt,
		Metadata:   metadata,
		CreatedAt:  now,
	}
}

func (s *Service) persistFor(ctx context.Context, recipients []snowflake.ID, tpl domain.Template) ([]*domain.Notification, error) {
	now := s.clock.Now()
	items := make([]*domain.Notification, 0, len(recipients))
	for _, userID := range recipients {
		items = append(items, s.build(userID, tpl, now))
	}

	if err := s.repo.InsertBatch(ctx, s.db, items, insertBatchSize); err != nil {
		s.log.Error("failed to insert notification batch",
			zap.Int("recipients", len(recipients)),
			zap.String("type", tpl.Type),
			zap.Error(err),
		)
		return nil, err
	}
	s.recordCreated(ctx, tpl.Type, len(items))
	return items, nil
}

// push delivers item to the user's live sessions. Failures are logged and
// counted; the stored row stays authoritative.
func (s *Service) push(ctx context.Context, item *domain.Notification) {
	if s.pusher == nil {
		return
	}
	pushCtx, cancel := context.WithTimeout(ctx, s.pushTimeout)
	defer cancel()

	event, err := realtime.NewEvent(realtime.EventNotification, item, s.clock.Now())
	if err == nil {
		err = s.pusher.PushToUser(pushCtx, item.UserID, event)
	}
	if err == nil {
		return
	}

	s.recordPushFailure(ctx, err)
	if errors.Is(err, realtime.ErrNoSubscribers) {
		s.log.Debug("user has no live session", zap.String("user_id", item.UserID.String()))
		return
	}
	s.log.Warn("notification push failed",
		zap.String("user_id", item.UserID.String()),
		zap.String("notification_id", item.ID.String()),
		zap.Error(err),
	)
}

func (s *Service) recordCreated(ctx context.Context, notificationType string, count int) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordNotificationsCreated(ctx, notificationType, count)
	}
}

func (s *Service) recordPushFailure(ctx context.Context, err error) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordPushFailure(ctx, pushFailureReason(err))
	}
}

func pushFailureReason(err error) string {
	switch {
	case errors.Is(err, realtime.ErrNoSubscribers):
		return "no_subscribers"
	case errors.Is(err, realtime.ErrBackpressure):
		return "backpressure"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func normalizeTemplate(tpl domain.Template) (domain.Template, error) {
	tpl.Type = strings.TrimSpace(tpl.Type)
	tpl.Title = strings.TrimSpace(tpl.Title)
	tpl.Message = strings.TrimSpace(tpl.Message)
	if tpl.Type == "" {
		return domain.Template{}, domain.ErrInvalidType
	}
	if tpl.Title == "" {
		return domain.Template{}, domain.ErrInvalidTitle
	}
	if tpl.Message == "" {
		return domain.Template{}, domain.ErrInvalidMessage
	}
	if tpl.Priority == "" {
		tpl.Priority = domain.PriorityNormal
	}
	if !tpl.Priority.Valid() {
		return domain.Template{}, domain.ErrInvalidPriority
	}
	return tpl, nil
}

func distinctRecipients(userIDs []snowflake.ID) ([]snowflake.ID, error) {
	seen := make(map[snowflake.ID]struct{}, len(userIDs))
	out := make([]snowflake.ID, 0, len(userIDs))
	for _, id := range userIDs {
		if id == 0 {
			return nil, domain.ErrInvalidUser
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

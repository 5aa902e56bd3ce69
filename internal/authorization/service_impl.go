package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	marketplacedomain "github.com/smajobb/marketplace/internal/marketplace/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

// Relations an actor can hold to a resource. They are casbin subjects next to the roles.
const (
	relOwner           = "rel:owner"
	relPublic          = "rel:public"
	relParticipant     = "rel:participant"
	relAnyone          = "rel:anyone"
	relSelf            = "rel:self"
	relAssignee        = "rel:assignee"
	relBookingCustomer = "rel:booking_customer"
	relPayer           = "rel:payer"
	relPayee           = "rel:payee"
)

const wildcard = "*"

type capability struct {
	subject  string
	resource string
	op       Operation
}

// capabilities is the full role and relation table. Payment modify has no
// relation entry: ledger changes go through the payment service, never ownership.
var capabilities = []capability{
	{"role:admin", wildcard, OperationRead},
	{"role:admin", wildcard, OperationModify},

	{"role:moderator", wildcard, OperationRead},
	{"role:moderator", string(ResourceJob), OperationModify},
	{"role:moderator", string(ResourceBooking), OperationModify},
	{"role:moderator", string(ResourceUser), OperationModify},

	{relOwner, string(ResourceJob), OperationRead},
	{relOwner, string(ResourceJob), OperationModify},
	{relPublic, string(ResourceJob), OperationRead},

	{relParticipant, string(ResourceBooking), OperationRead},
	{relParticipant, string(ResourceBooking), OperationModify},

	{relAnyone, string(ResourceUser), OperationRead},
	{relSelf, string(ResourceUser), OperationModify},

	{relAssignee, string(ResourceWorkSession), OperationRead},
	{relAssignee, string(ResourceWorkSession), OperationModify},
	{relBookingCustomer, string(ResourceWorkSession), OperationRead},

	{relPayer, string(ResourcePayment), OperationRead},
	{relPayee, string(ResourcePayment), OperationRead},
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Enforcer    *casbin.SyncedEnforcer
	Marketplace marketplacedomain.Repository
}

type ServiceImpl struct {
	db          *gorm.DB
	log         *zap.Logger
	enforcer    *casbin.SyncedEnforcer
	marketplace marketplacedomain.Repository
}

// NewEnforcer persists the capability table through the gorm adapter.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

// NewMemoryEnforcer keeps the capability table in memory only.
func NewMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:          p.DB,
		log:         p.Log.Named("authorization.service"),
		enforcer:    p.Enforcer,
		marketplace: p.Marketplace,
	}
}

func (s *ServiceImpl) CanAccess(ctx context.Context, userID snowflake.ID, resourceType ResourceType, resourceID string) bool {
	return s.check(ctx, userID, resourceType, resourceID, OperationRead)
}

func (s *ServiceImpl) CanModify(ctx context.Context, userID snowflake.ID, resourceType ResourceType, resourceID string) bool {
	return s.check(ctx, userID, resourceType, resourceID, OperationModify)
}

func (s *ServiceImpl) Authorize(ctx context.Context, userID snowflake.ID, resourceType ResourceType, resourceID string, op Operation) error {
	if userID == 0 {
		return ErrUnauthenticated
	}
	if !resourceType.valid() {
		return ErrInvalidResource
	}
	if !op.valid() {
		return ErrInvalidAction
	}
	allowed, err := s.decide(ctx, userID, resourceType, resourceID, op)
	if err != nil {
		return fmt.Errorf("authorize %s %s: %w", op, resourceType, err)
	}
	if !allowed {
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) check(ctx context.Context, userID snowflake.ID, resourceType ResourceType, resourceID string, op Operation) bool {
	allowed, err := s.decide(ctx, userID, resourceType, resourceID, op)
	if err != nil {
		s.log.Warn("authorization check failed closed",
			zap.String("user_id", userID.String()),
			zap.String("resource_type", string(resourceType)),
			zap.String("resource_id", resourceID),
			zap.String("operation", string(op)),
			zap.Error(err),
		)
		return false
	}
	return allowed
}

// decide returns false with a nil error for every denial, including unknown
// actors, resources and resource types. Errors are infrastructure failures.
func (s *ServiceImpl) decide(ctx context.Context, userID snowflake.ID, resourceType ResourceType, resourceID string, op Operation) (bool, error) {
	if userID == 0 {
		return false, nil
	}
	if !resourceType.valid() || !op.valid() {
		return false, nil
	}
	id, err := snowflake.ParseString(strings.TrimSpace(resourceID))
	if err != nil || id <= 0 {
		return false, nil
	}

	actor, err := s.marketplace.FindUser(ctx, s.db, userID)
	if err != nil {
		return false, err
	}
	if actor == nil || !actor.Active {
		return false, nil
	}

	relations, found, err := s.relations(ctx, actor.ID, resourceType, id)
	if err != nil || !found {
		return false, err
	}

	subjects := append([]string{roleSubject(actor.Role)}, relations...)
	for _, subject := range subjects {
		allowed, err := s.enforcer.Enforce(subject, string(resourceType), string(op))
		if err != nil {
			return false, err
		}
		if allowed {
			return true, nil
		}
	}
	return false, nil
}

// relations resolves the resource and lists what the actor is to it. found is
// false for an unknown resource type or a resource that does not exist.
func (s *ServiceImpl) relations(ctx context.Context, actorID snowflake.ID, resourceType ResourceType, id snowflake.ID) ([]string, bool, error) {
	var out []string

	switch resourceType {
	case ResourceJob:
		job, err := s.marketplace.FindJob(ctx, s.db, id)
		if err != nil || job == nil {
			return nil, false, err
		}
		if job.CustomerID == actorID {
			out = append(out, relOwner)
		}
		if job.Status.IsPublic() {
			out = append(out, relPublic)
		}

	case ResourceBooking:
		booking, err := s.marketplace.FindBooking(ctx, s.db, id)
		if err != nil || booking == nil {
			return nil, false, err
		}
		if booking.IsParticipant(actorID) {
			out = append(out, relParticipant)
		}

	case ResourceUser:
		target, err := s.marketplace.FindUser(ctx, s.db, id)
		if err != nil || target == nil {
			return nil, false, err
		}
		out = append(out, relAnyone)
		if target.ID == actorID {
			out = append(out, relSelf)
		}

	case ResourceWorkSession:
		session, err := s.marketplace.FindWorkSession(ctx, s.db, id)
		if err != nil || session == nil {
			return nil, false, err
		}
		if session.YouthID == actorID {
			out = append(out, relAssignee)
		}
		booking, err := s.marketplace.FindBooking(ctx, s.db, session.BookingID)
		if err != nil {
			return nil, false, err
		}
		if booking != nil && booking.CustomerID == actorID {
			out = append(out, relBookingCustomer)
		}

	case ResourcePayment:
		parties, err := s.paymentParties(ctx, id)
		if err != nil || parties == nil {
			return nil, false, err
		}
		if parties.PayerID == actorID {
			out = append(out, relPayer)
		}
		if parties.PayeeID == actorID {
			out = append(out, relPayee)
		}

	default:
		return nil, false, nil
	}

	return out, true, nil
}

type paymentParties struct {
	ID      snowflake.ID `gorm:"column:id"`
	PayerID snowflake.ID `gorm:"column:payer_id"`
	PayeeID snowflake.ID `gorm:"column:payee_id"`
}

func (s *ServiceImpl) paymentParties(ctx context.Context, id snowflake.ID) (*paymentParties, error) {
	var row paymentParties
	if err := s.db.WithContext(ctx).Raw(
		`SELECT id, payer_id, payee_id
		 FROM payments
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&row).Error; err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func roleSubject(role marketplacedomain.Role) string {
	return fmt.Sprintf("role:%s", strings.ToLower(strings.TrimSpace(string(role))))
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	for _, c := range capabilities {
		has, err := enforcer.HasPolicy(c.subject, c.resource, string(c.op))
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(c.subject, c.resource, string(c.op)); err != nil {
			return err
		}
	}
	return nil
}

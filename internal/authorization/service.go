package authorization

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type ResourceType string

const (
	ResourceJob         ResourceType = "job"
	ResourceBooking     ResourceType = "booking"
	ResourceUser        ResourceType = "user"
	ResourceWorkSession ResourceType = "worksession"
	ResourcePayment     ResourceType = "payment"
)

func (r ResourceType) valid() bool {
	switch r {
	case ResourceJob, ResourceBooking, ResourceUser, ResourceWorkSession, ResourcePayment:
		return true
	}
	return false
}

type Operation string

const (
	OperationRead   Operation = "read"
	OperationModify Operation = "modify"
)

func (o Operation) valid() bool {
	return o == OperationRead || o == OperationModify
}

// Service decides whether an acting user may read or modify a marketplace resource.
// Every decision reads current state; anything unresolvable is denied.
type Service interface {
	CanAccess(ctx context.Context, userID snowflake.ID, resourceType ResourceType, resourceID string) bool
	CanModify(ctx context.Context, userID snowflake.ID, resourceType ResourceType, resourceID string) bool
	Authorize(ctx context.Context, userID snowflake.ID, resourceType ResourceType, resourceID string, op Operation) error
}

var (
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidResource = errors.New("invalid_resource")
	ErrInvalidAction   = errors.New("invalid_action")
)

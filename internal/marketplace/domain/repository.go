package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("not_found")

// Repository reads the marketplace entities owned by the job and booking services.
// Lookups return nil, nil when the row does not exist.
type Repository interface {
	FindUser(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	FindJob(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Job, error)
	FindBooking(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Booking, error)
	FindWorkSession(ctx context.Context, db *gorm.DB, id snowflake.ID) (*WorkSession, error)
	ListActiveUserIDs(ctx context.Context, db *gorm.DB, roles ...Role) ([]snowflake.ID, error)
}

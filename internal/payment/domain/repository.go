package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smajobb/marketplace/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	Status      Status
	Role        string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	Transition(ctx context.Context, db *gorm.DB, update TransitionUpdate) (bool, error)
	List(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter ListFilter, page pagination.Pagination) ([]*Payment, error)
	Summarize(ctx context.Context, db *gorm.DB, userID snowflake.ID, from, to *time.Time) (Summary, error)
}

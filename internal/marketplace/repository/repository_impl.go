package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smajobb/marketplace/internal/marketplace/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindUser(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).Raw(
		`SELECT id, role, display_name, email, active, created_at, updated_at
		 FROM users WHERE id = ?`,
		id,
	).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) FindJob(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Job, error) {
	var job domain.Job
	err := db.WithContext(ctx).Raw(
		`SELECT id, customer_id, title, status, created_at, updated_at
		 FROM jobs WHERE id = ?`,
		id,
	).Scan(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *repo) FindBooking(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Booking, error) {
	var booking domain.Booking
	err := db.WithContext(ctx).Raw(
		`SELECT id, job_id, customer_id, youth_id, status, created_at, updated_at
		 FROM bookings WHERE id = ?`,
		id,
	).Scan(&booking).Error
	if err != nil {
		return nil, err
	}
	if booking.ID == 0 {
		return nil, nil
	}
	return &booking, nil
}

func (r *repo) FindWorkSession(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.WorkSession, error) {
	var session domain.WorkSession
	err := db.WithContext(ctx).Raw(
		`SELECT id, booking_id, youth_id, started_at, ended_at, created_at
		 FROM work_sessions WHERE id = ?`,
		id,
	).Scan(&session).Error
	if err != nil {
		return nil, err
	}
	if session.ID == 0 {
		return nil, nil
	}
	return &session, nil
}

func (r *repo) ListActiveUserIDs(ctx context.Context, db *gorm.DB, roles ...domain.Role) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	stmt := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("active = ?", true)
	if len(roles) > 0 {
		stmt = stmt.Where("role IN ?", roles)
	}
	if err := stmt.Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

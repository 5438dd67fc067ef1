package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditcore/internal/user/domain"
	"github.com/smallbiznis/creditcore/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectUser = `SELECT id, email, credits, last_credits_updated, active_organization_id, created_at, updated_at
	 FROM users WHERE id = ?`

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, user *domain.User) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO users (id, email, credits, last_credits_updated, active_organization_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.Credits,
		user.LastCreditsUpdated,
		user.ActiveOrganizationID,
		user.CreatedAt,
		user.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.User, error) {
	return r.find(ctx, conn, selectUser, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.User, error) {
	return r.find(ctx, conn, selectUser+db.LockClause(conn), id)
}

func (r *repo) find(ctx context.Context, conn *gorm.DB, query string, id snowflake.ID) (*domain.User, error) {
	var user domain.User
	err := conn.WithContext(ctx).Raw(query, id).Scan(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

func (r *repo) TouchLastCreditsUpdated(ctx context.Context, conn *gorm.DB, id snowflake.ID, prev *time.Time, now time.Time) (bool, error) {
	var result *gorm.DB
	if prev == nil {
		result = conn.WithContext(ctx).Exec(
			`UPDATE users SET last_credits_updated = ?, updated_at = ?
			 WHERE id = ? AND last_credits_updated IS NULL`,
			now, now, id,
		)
	} else {
		result = conn.WithContext(ctx).Exec(
			`UPDATE users SET last_credits_updated = ?, updated_at = ?
			 WHERE id = ? AND last_credits_updated = ?`,
			now, now, id, prev.UTC(),
		)
	}
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) SetActiveOrganization(ctx context.Context, conn *gorm.DB, id snowflake.ID, orgID *snowflake.ID, now time.Time) error {
	result := conn.WithContext(ctx).Exec(
		`UPDATE users SET active_organization_id = ?, updated_at = ? WHERE id = ?`,
		orgID, now, id,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

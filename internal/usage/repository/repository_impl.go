package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditcore/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.UsageRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO feature_usages (id, user_id, organization_id, feature_key, credits_consumed, metadata, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.UserID,
		record.OrganizationID,
		record.FeatureKey,
		record.CreditsConsumed,
		record.Metadata,
		record.ExecutedAt,
	).Error
}

func (r *repo) UpdateCreditsConsumed(ctx context.Context, db *gorm.DB, id snowflake.ID, credits int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE feature_usages SET credits_consumed = ? WHERE id = ?`,
		credits,
		id,
	).Error
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, filter domain.ListFilter) ([]domain.UsageRecord, error) {
	stmt := db.WithContext(ctx).
		Model(&domain.UsageRecord{}).
		Where("user_id = ?", userID)
	if filter.Start != nil {
		stmt = stmt.Where("executed_at >= ?", filter.Start.UTC())
	}
	if filter.End != nil {
		stmt = stmt.Where("executed_at <= ?", filter.End.UTC())
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var records []domain.UsageRecord
	if err := stmt.Order("executed_at desc, id desc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

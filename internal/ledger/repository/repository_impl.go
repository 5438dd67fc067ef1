package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditcore/internal/ledger/domain"
	"github.com/smallbiznis/creditcore/pkg/db"
	"github.com/smallbiznis/creditcore/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

type balanceRow struct {
	ID                 snowflake.ID
	Credits            int64
	LastCreditsUpdated *time.Time
}

func (r *repo) LockBalance(ctx context.Context, conn *gorm.DB, userID snowflake.ID) (*domain.Balance, error) {
	return r.balance(ctx, conn, db.LockClause(conn), userID)
}

func (r *repo) GetBalance(ctx context.Context, conn *gorm.DB, userID snowflake.ID) (*domain.Balance, error) {
	return r.balance(ctx, conn, "", userID)
}

func (r *repo) balance(ctx context.Context, conn *gorm.DB, lock string, userID snowflake.ID) (*domain.Balance, error) {
	var row balanceRow
	err := conn.WithContext(ctx).Raw(
		`SELECT id, credits, last_credits_updated FROM users WHERE id = ?`+lock,
		userID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &domain.Balance{
		UserID:             row.ID,
		Credits:            row.Credits,
		LastCreditsUpdated: row.LastCreditsUpdated,
	}, nil
}

func (r *repo) UpdateBalance(ctx context.Context, conn *gorm.DB, userID snowflake.ID, credits int64, now time.Time) error {
	result := conn.WithContext(ctx).Exec(
		`UPDATE users SET credits = ?, updated_at = ? WHERE id = ?`,
		credits,
		now,
		userID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (r *repo) InsertTransaction(ctx context.Context, conn *gorm.DB, entry *domain.CreditTransaction) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO credit_transactions (
			id, user_id, amount, balance_after, related_usage_id, related_payment_id, reservation_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.UserID,
		entry.Amount,
		entry.BalanceAfter,
		entry.RelatedUsageID,
		entry.RelatedPaymentID,
		entry.ReservationID,
		entry.Metadata,
		entry.CreatedAt,
	).Error
}

func (r *repo) ListTransactions(ctx context.Context, conn *gorm.DB, userID snowflake.ID, cursor *pagination.Cursor, limit int) ([]*domain.CreditTransaction, error) {
	stmt := conn.WithContext(ctx).
		Model(&domain.CreditTransaction{}).
		Where("user_id = ?", userID)
	if cursor != nil {
		cursorID, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return nil, domain.ErrInvalidPageToken
		}
		// Snowflake ids are time ordered, so the id alone is a stable cursor.
		stmt = stmt.Where("id < ?", cursorID)
	}

	var items []*domain.CreditTransaction
	err := stmt.
		Order("id desc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertReservation(ctx context.Context, conn *gorm.DB, reservation *domain.Reservation) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO credit_reservations (
			id, user_id, feature_key, amount, settled_amount, status, usage_id, expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reservation.ID,
		reservation.UserID,
		reservation.FeatureKey,
		reservation.Amount,
		reservation.SettledAmount,
		string(reservation.Status),
		reservation.UsageID,
		reservation.ExpiresAt,
		reservation.CreatedAt,
		reservation.UpdatedAt,
	).Error
}

func (r *repo) GetReservation(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Reservation, error) {
	return r.reservation(ctx, conn, "", id)
}

func (r *repo) LockReservation(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Reservation, error) {
	return r.reservation(ctx, conn, db.LockClause(conn), id)
}

func (r *repo) reservation(ctx context.Context, conn *gorm.DB, lock string, id snowflake.ID) (*domain.Reservation, error) {
	var reservation domain.Reservation
	err := conn.WithContext(ctx).Raw(
		`SELECT id, user_id, feature_key, amount, settled_amount, status, usage_id, expires_at, created_at, updated_at
		 FROM credit_reservations WHERE id = ?`+lock,
		id,
	).Scan(&reservation).Error
	if err != nil {
		return nil, err
	}
	if reservation.ID == 0 {
		return nil, nil
	}
	return &reservation, nil
}

// CloseReservation moves a held reservation to its final status. It reports
// false when the reservation was no longer held.
func (r *repo) CloseReservation(ctx context.Context, conn *gorm.DB, reservation *domain.Reservation) (bool, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE credit_reservations
		 SET status = ?, settled_amount = ?, usage_id = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(reservation.Status),
		reservation.SettledAmount,
		reservation.UsageID,
		reservation.UpdatedAt,
		reservation.ID,
		string(domain.ReservationStatusHeld),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ListExpiredReservationIDs(ctx context.Context, conn *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	var rawIDs []int64
	err := conn.WithContext(ctx).Raw(
		`SELECT id FROM credit_reservations
		 WHERE status = ? AND expires_at <= ?
		 ORDER BY expires_at ASC
		 LIMIT ?`,
		string(domain.ReservationStatusHeld),
		now,
		limit,
	).Scan(&rawIDs).Error
	if err != nil {
		return nil, err
	}
	ids := make([]snowflake.ID, 0, len(rawIDs))
	for _, id := range rawIDs {
		ids = append(ids, snowflake.ID(id))
	}
	return ids, nil
}

package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditcore/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const orderColumns = `id, user_id, provider, provider_order_id, order_ref, currency_amount, currency,
	credit_amount, provider_data, metadata, status, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.PaymentOrder) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.UserID,
		order.Provider,
		order.ProviderOrderID,
		order.OrderRef,
		order.CurrencyAmount,
		order.Currency,
		order.CreditAmount,
		order.ProviderData,
		order.Metadata,
		string(order.Status),
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentOrder, error) {
	var order domain.PaymentOrder
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM payment_orders WHERE id = ?`,
		id,
	).Scan(&order).Error
	if err != nil {
		return nil, err
	}
	if order.ID == 0 {
		return nil, nil
	}
	return &order, nil
}

func (r *repo) TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.OrderStatus, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payment_orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to),
		now,
		id,
		string(from),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ListPending(ctx context.Context, db *gorm.DB, createdBefore time.Time, limit int) ([]domain.PaymentOrder, error) {
	var orders []domain.PaymentOrder
	err := db.WithContext(ctx).Raw(
		`SELECT `+orderColumns+` FROM payment_orders
		 WHERE status = ? AND created_at <= ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		string(domain.OrderStatusPending),
		createdBefore,
		limit,
	).Scan(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

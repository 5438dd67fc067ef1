package service

import (
	"context"

	featuredomain "github.com/smallbiznis/creditcore/internal/feature/domain"
	ledgerdomain "github.com/smallbiznis/creditcore/internal/ledger/domain"
	usagedomain "github.com/smallbiznis/creditcore/internal/usage/domain"
	"github.com/smallbiznis/creditcore/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Reserve holds the estimated cost of a variable-cost feature before the
// expensive work starts. Organization users get an empty hold.
func (s *Service) Reserve(ctx context.Context, req usagedomain.ReserveUsageRequest) (*ledgerdomain.Reservation, error) {
	user, err := s.loadUser(ctx, s.db, req.UserID)
	if err != nil {
		return nil, err
	}
	estimate, err := s.registry.CostOf(req.FeatureKey, req.Estimate)
	if err != nil {
		return nil, err
	}
	amount := estimate
	if user.HasActiveOrganization() {
		amount = 0
	}

	reservation, err := s.ledger.Reserve(ctx, ledgerdomain.ReserveRequest{
		UserID:     user.ID,
		FeatureKey: string(req.FeatureKey),
		Amount:     amount,
		TTL:        req.TTL,
		Metadata:   map[string]any{"estimatedCost": estimate},
	})
	if err != nil {
		if _, ok := ledgerdomain.AsInsufficientCredits(err); ok {
			s.obsMetrics.RecordInsufficientCredits(ctx, string(req.FeatureKey))
		}
		return nil, err
	}
	return reservation, nil
}

// RecordReservedUsage records the feature at its actual cost and settles the
// reservation in the same transaction. A cost above the hold is debited
// directly and fails if the balance cannot cover the difference.
func (s *Service) RecordReservedUsage(ctx context.Context, req usagedomain.RecordReservedUsageRequest) (*usagedomain.UsageRecord, error) {
	reservation, err := s.ledger.GetReservation(ctx, req.ReservationID)
	if err != nil {
		return nil, err
	}
	if !reservation.IsOpen() {
		return nil, ledgerdomain.ErrReservationClosed
	}

	key := req.FeatureKey
	if key == "" {
		key = featuredomain.FeatureKey(reservation.FeatureKey)
	}
	if reservation.FeatureKey != "" && string(key) != reservation.FeatureKey {
		return nil, usagedomain.ErrFeatureMismatch
	}

	user, err := s.loadUser(ctx, s.db, reservation.UserID)
	if err != nil {
		return nil, err
	}
	cost, err := s.registry.CostOf(key, req.Actual)
	if err != nil {
		return nil, err
	}

	record := s.newRecord(user, key, map[string]any{"reservationId": reservation.ID.String()})
	charge := cost
	if !record.Billed() {
		charge = 0
	}

	err = db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		record.CreditsConsumed = 0
		if err := s.repo.Insert(ctx, tx, record); err != nil {
			return err
		}

		settled := charge
		if settled > reservation.Amount {
			settled = reservation.Amount
		}
		if _, err := s.ledger.SettleTx(ctx, tx, ledgerdomain.SettleRequest{
			ReservationID: reservation.ID,
			ActualCost:    settled,
			UsageID:       &record.ID,
		}); err != nil {
			return err
		}

		if extra := charge - settled; extra > 0 {
			if _, err := s.ledger.ModifyCreditTx(ctx, tx, ledgerdomain.ModifyCreditRequest{
				UserID:         user.ID,
				Amount:         -extra,
				RelatedUsageID: &record.ID,
				ReservationID:  &reservation.ID,
				Metadata: map[string]any{
					"type":       ledgerdomain.EntryTypeFeatureUsage,
					"featureKey": string(key),
					"reason":     "cost_above_reservation",
				},
			}); err != nil {
				return err
			}
		}

		if charge == 0 {
			return nil
		}
		if err := s.repo.UpdateCreditsConsumed(ctx, tx, record.ID, charge); err != nil {
			return err
		}
		record.CreditsConsumed = charge
		return nil
	})
	if err != nil {
		if _, ok := ledgerdomain.AsInsufficientCredits(err); ok {
			s.obsMetrics.RecordInsufficientCredits(ctx, string(key))
		}
		return nil, err
	}

	s.obsMetrics.RecordUsage(ctx, string(key), record.Billed())
	s.log.Info("reserved feature usage recorded",
		zap.String("user_id", user.ID.String()),
		zap.String("usage_id", record.ID.String()),
		zap.String("reservation_id", reservation.ID.String()),
		zap.Int64("held", reservation.Amount),
		zap.Int64("credits_consumed", record.CreditsConsumed),
	)
	return record, nil
}

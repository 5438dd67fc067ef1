package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/creditcore/internal/ledger/domain"
	"github.com/smallbiznis/creditcore/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultReservationTTL = 15 * time.Minute

func (s *Service) Reserve(ctx context.Context, req ledgerdomain.ReserveRequest) (*ledgerdomain.Reservation, error) {
	if req.UserID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if req.Amount < 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.reservationTTL
	}

	var reservation *ledgerdomain.Reservation
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		now := s.clock.Now()
		reservation = &ledgerdomain.Reservation{
			ID:         s.genID.Generate(),
			UserID:     req.UserID,
			FeatureKey: req.FeatureKey,
			Amount:     req.Amount,
			Status:     ledgerdomain.ReservationStatusHeld,
			ExpiresAt:  now.Add(ttl),
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		metadata := map[string]any{
			"type": ledgerdomain.EntryTypeReservationHold,
		}
		if req.FeatureKey != "" {
			metadata["featureKey"] = req.FeatureKey
		}
		for key, value := range req.Metadata {
			if _, reserved := metadata[key]; !reserved {
				metadata[key] = value
			}
		}

		if _, err := s.ModifyCreditTx(ctx, tx, ledgerdomain.ModifyCreditRequest{
			UserID:        req.UserID,
			Amount:        -req.Amount,
			ReservationID: &reservation.ID,
			Metadata:      metadata,
		}); err != nil {
			return err
		}
		return s.repo.InsertReservation(ctx, tx, reservation)
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrInsufficientCredits) {
			s.obsMetrics.RecordReservation(ctx, "rejected")
		}
		return nil, err
	}

	s.obsMetrics.RecordReservation(ctx, string(ledgerdomain.ReservationStatusHeld))
	return reservation, nil
}

func (s *Service) GetReservation(ctx context.Context, reservationID snowflake.ID) (*ledgerdomain.Reservation, error) {
	if reservationID == 0 {
		return nil, ledgerdomain.ErrReservationNotFound
	}
	reservation, err := s.repo.GetReservation(ctx, s.db, reservationID)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		return nil, ledgerdomain.ErrReservationNotFound
	}
	return reservation, nil
}

func (s *Service) Settle(ctx context.Context, req ledgerdomain.SettleRequest) (*ledgerdomain.Reservation, error) {
	var reservation *ledgerdomain.Reservation
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		reservation, err = s.SettleTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// SettleTx charges the actual cost against a held reservation and credits the
// unused part back. The release entry is written even when nothing is
// refunded so the usage record stays linked to the ledger.
func (s *Service) SettleTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.SettleRequest) (*ledgerdomain.Reservation, error) {
	if req.ActualCost < 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}

	reservation, err := s.lockOpenReservation(ctx, tx, req.ReservationID)
	if err != nil {
		return nil, err
	}
	if req.ActualCost > reservation.Amount {
		return nil, ledgerdomain.ErrSettlementExceedsHold
	}

	if _, err := s.ModifyCreditTx(ctx, tx, ledgerdomain.ModifyCreditRequest{
		UserID:         reservation.UserID,
		Amount:         reservation.Amount - req.ActualCost,
		RelatedUsageID: req.UsageID,
		ReservationID:  &reservation.ID,
		Metadata: map[string]any{
			"type":       ledgerdomain.EntryTypeReservationRelease,
			"reason":     "settled",
			"actualCost": req.ActualCost,
			"heldAmount": reservation.Amount,
		},
	}); err != nil {
		return nil, err
	}

	reservation.Status = ledgerdomain.ReservationStatusSettled
	reservation.SettledAmount = req.ActualCost
	reservation.UsageID = req.UsageID
	reservation.UpdatedAt = s.clock.Now()
	if err := s.close(ctx, tx, reservation); err != nil {
		return nil, err
	}

	s.obsMetrics.RecordReservation(ctx, string(ledgerdomain.ReservationStatusSettled))
	return reservation, nil
}

func (s *Service) Release(ctx context.Context, reservationID snowflake.ID) (*ledgerdomain.Reservation, error) {
	var reservation *ledgerdomain.Reservation
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		reservation, err = s.releaseTx(ctx, tx, reservationID, "released")
		return err
	})
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordReservation(ctx, string(ledgerdomain.ReservationStatusReleased))
	return reservation, nil
}

// ReleaseExpired refunds held reservations whose expiry has passed. Each one
// is released in its own transaction.
func (s *Service) ReleaseExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.repo.ListExpiredReservationIDs(ctx, s.db, now, limit)
	if err != nil {
		return 0, err
	}

	released := 0
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
			_, err := s.releaseTx(ctx, tx, id, "expired")
			return err
		})
		switch {
		case err == nil:
			released++
			s.obsMetrics.RecordReservation(ctx, "expired")
		case errors.Is(err, ledgerdomain.ErrReservationClosed):
			// Settled or released between listing and locking.
		default:
			s.log.Warn("failed to release expired reservation",
				zap.String("reservation_id", id.String()),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return released, errors.Join(errs...)
}

func (s *Service) releaseTx(ctx context.Context, tx *gorm.DB, reservationID snowflake.ID, reason string) (*ledgerdomain.Reservation, error) {
	reservation, err := s.lockOpenReservation(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}

	if _, err := s.ModifyCreditTx(ctx, tx, ledgerdomain.ModifyCreditRequest{
		UserID:        reservation.UserID,
		Amount:        reservation.Amount,
		ReservationID: &reservation.ID,
		Metadata: map[string]any{
			"type":       ledgerdomain.EntryTypeReservationRelease,
			"reason":     reason,
			"heldAmount": reservation.Amount,
		},
	}); err != nil {
		return nil, err
	}

	reservation.Status = ledgerdomain.ReservationStatusReleased
	reservation.UpdatedAt = s.clock.Now()
	if err := s.close(ctx, tx, reservation); err != nil {
		return nil, err
	}
	return reservation, nil
}

func (s *Service) lockOpenReservation(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*ledgerdomain.Reservation, error) {
	if id == 0 {
		return nil, ledgerdomain.ErrReservationNotFound
	}
	reservation, err := s.repo.LockReservation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		return nil, ledgerdomain.ErrReservationNotFound
	}
	if !reservation.IsOpen() {
		return nil, ledgerdomain.ErrReservationClosed
	}
	return reservation, nil
}

func (s *Service) close(ctx context.Context, tx *gorm.DB, reservation *ledgerdomain.Reservation) error {
	ok, err := s.repo.CloseReservation(ctx, tx, reservation)
	if err != nil {
		return err
	}
	if !ok {
		return ledgerdomain.ErrReservationClosed
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditcore/internal/clock"
	"github.com/smallbiznis/creditcore/internal/config"
	"github.com/smallbiznis/creditcore/internal/events"
	ledgerdomain "github.com/smallbiznis/creditcore/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/creditcore/internal/observability/metrics"
	"github.com/smallbiznis/creditcore/internal/ratelimit"
	"github.com/smallbiznis/creditcore/internal/restoration/domain"
	userdomain "github.com/smallbiznis/creditcore/internal/user/domain"
	"github.com/smallbiznis/creditcore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultThreshold = 50
	defaultInterval  = 24 * time.Hour
	lockTTL          = 30 * time.Second
)

var errTimestampMoved = errors.New("last_credits_updated_moved")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Users      userdomain.Repository
	Ledger     ledgerdomain.Service
	Cfg        config.Config       `optional:"true"`
	Clock      clock.Clock         `optional:"true"`
	Locker     *ratelimit.Locker   `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	users      userdomain.Repository
	ledger     ledgerdomain.Service
	threshold  int64
	interval   time.Duration
	clock      clock.Clock
	locker     *ratelimit.Locker
	obsMetrics *obsmetrics.Metrics
}

func New(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	threshold := p.Cfg.Credits.RestorationThreshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	interval := p.Cfg.Credits.RestorationInterval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("restoration.service"),

		users:      p.Users,
		ledger:     p.Ledger,
		threshold:  threshold,
		interval:   interval,
		clock:      clk,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}
}

// HandleLogin runs restoration for a login event. Failures are logged and
// never reach the login flow.
func (s *Service) HandleLogin(ctx context.Context, event events.LoginEvent) {
	result, err := s.MaybeRestore(ctx, event.UserID)
	if err != nil {
		s.obsMetrics.RecordRestoration(ctx, "failed")
		s.log.Error("credit restoration failed",
			zap.String("user_id", event.UserID.String()),
			zap.Time("login_at", event.OccurredAt),
			zap.Error(err),
		)
		return
	}
	s.obsMetrics.RecordRestoration(ctx, string(result.Outcome))
}

func (s *Service) MaybeRestore(ctx context.Context, userID snowflake.ID) (domain.Result, error) {
	if userID == 0 {
		return domain.Result{}, userdomain.ErrInvalidUserID
	}
	if s.locker == nil {
		return s.restore(ctx, userID)
	}

	key := "restoration:" + userID.String()
	token, ok, err := s.locker.TryLock(ctx, key, lockTTL)
	if err != nil {
		// The row lock still serializes restoration without redis.
		s.log.Warn("restoration lock unavailable", zap.String("user_id", userID.String()), zap.Error(err))
		return s.restore(ctx, userID)
	}
	if !ok {
		s.log.Debug("restoration already running", zap.String("user_id", userID.String()))
		return domain.Result{Outcome: domain.OutcomeSkipped}, nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn("restoration lock release failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}()
	return s.restore(ctx, userID)
}

func (s *Service) restore(ctx context.Context, userID snowflake.ID) (domain.Result, error) {
	var result domain.Result
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		user, err := s.users.FindByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return userdomain.ErrUserNotFound
		}

		now := s.clock.Now()
		hours := hoursSince(user.LastCreditsUpdated, now)
		result = domain.Result{
			Outcome:          domain.OutcomeIneligible,
			Balance:          user.Credits,
			HoursSinceUpdate: hours,
		}
		if hours < s.interval.Hours() || user.Credits >= s.threshold {
			return nil
		}

		add := s.threshold - user.Credits
		entry, err := s.ledger.ModifyCreditTx(ctx, tx, ledgerdomain.ModifyCreditRequest{
			UserID: user.ID,
			Amount: add,
			Metadata: map[string]any{
				"type":                       ledgerdomain.EntryTypeRestoration,
				"reason":                     "inactive_user_restoration",
				"hoursSinceLastCreditUpdate": math.Round(hours),
				"previousCredits":            user.Credits,
				"creditThreshold":            s.threshold,
			},
		})
		if err != nil {
			return err
		}
		moved, err := s.users.TouchLastCreditsUpdated(ctx, tx, user.ID, user.LastCreditsUpdated, now)
		if err != nil {
			return err
		}
		if !moved {
			return errTimestampMoved
		}

		result.Outcome = domain.OutcomeRestored
		result.CreditsAdded = add
		result.Balance = entry.BalanceAfter
		return nil
	})
	if errors.Is(err, errTimestampMoved) {
		return domain.Result{Outcome: domain.OutcomeSkipped}, nil
	}
	if err != nil {
		return domain.Result{}, err
	}

	if result.Outcome == domain.OutcomeRestored {
		s.log.Info("credits restored",
			zap.String("user_id", userID.String()),
			zap.Int64("credits_added", result.CreditsAdded),
			zap.Float64("hours_since_last_update", result.HoursSinceUpdate),
		)
	} else {
		s.log.Debug("user not eligible for restoration",
			zap.String("user_id", userID.String()),
			zap.Int64("credits", result.Balance),
			zap.Float64("hours_since_last_update", result.HoursSinceUpdate),
		)
	}
	return result, nil
}

func hoursSince(last *time.Time, now time.Time) float64 {
	if last == nil {
		return domain.NeverUpdatedHours
	}
	return now.Sub(*last).Hours()
}

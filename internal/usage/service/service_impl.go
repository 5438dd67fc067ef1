package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditcore/internal/clock"
	featuredomain "github.com/smallbiznis/creditcore/internal/feature/domain"
	ledgerdomain "github.com/smallbiznis/creditcore/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/creditcore/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/creditcore/internal/usage/domain"
	userdomain "github.com/smallbiznis/creditcore/internal/user/domain"
	"github.com/smallbiznis/creditcore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       usagedomain.Repository
	Users      userdomain.Repository
	Registry   featuredomain.Registry
	Ledger     ledgerdomain.Service
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	repo       usagedomain.Repository
	users      userdomain.Repository
	registry   featuredomain.Registry
	ledger     ledgerdomain.Service
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:      p.GenID,
		repo:       p.Repo,
		users:      p.Users,
		registry:   p.Registry,
		ledger:     p.Ledger,
		clock:      clk,
		obsMetrics: p.ObsMetrics,
	}
}

// Check prices the feature against the user's cached balance. The gate applies
// to every user; Billed only reports whether RecordUsage will debit.
func (s *Service) Check(ctx context.Context, req usagedomain.CheckRequest) (usagedomain.CheckResult, error) {
	user, err := s.loadUser(ctx, s.db, req.UserID)
	if err != nil {
		return usagedomain.CheckResult{}, err
	}
	cost, err := s.registry.CostOf(req.FeatureKey, req.Context)
	if err != nil {
		return usagedomain.CheckResult{}, err
	}

	result := usagedomain.CheckResult{
		Required:  cost,
		Available: user.Credits,
		Billed:    !user.HasActiveOrganization(),
	}
	result.Sufficient = user.Credits >= cost
	return result, nil
}

func (s *Service) CheckSufficient(ctx context.Context, req usagedomain.CheckRequest) (bool, error) {
	result, err := s.Check(ctx, req)
	if err != nil {
		return false, err
	}
	return result.Sufficient, nil
}

func (s *Service) AssertSufficient(ctx context.Context, req usagedomain.CheckRequest) error {
	result, err := s.Check(ctx, req)
	if err != nil {
		return err
	}
	if !result.Sufficient {
		s.obsMetrics.RecordInsufficientCredits(ctx, string(req.FeatureKey))
		return &ledgerdomain.InsufficientCreditsError{
			Required:  result.Required,
			Available: result.Available,
		}
	}
	return nil
}

// RecordUsage charges one execution of key at its context-free price. The
// usage record, the debit and the consumed amount commit together.
func (s *Service) RecordUsage(ctx context.Context, userID snowflake.ID, key featuredomain.FeatureKey) (*usagedomain.UsageRecord, error) {
	user, err := s.loadUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	cost, err := s.registry.CostOf(key, nil)
	if err != nil {
		return nil, err
	}

	record := s.newRecord(user, key, nil)
	if !record.Billed() {
		if err := s.repo.Insert(ctx, s.db, record); err != nil {
			return nil, err
		}
		s.obsMetrics.RecordUsage(ctx, string(key), false)
		return record, nil
	}

	err = db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		record.CreditsConsumed = 0
		if err := s.repo.Insert(ctx, tx, record); err != nil {
			return err
		}
		if _, err := s.ledger.ModifyCreditTx(ctx, tx, ledgerdomain.ModifyCreditRequest{
			UserID:         user.ID,
			Amount:         -cost,
			RelatedUsageID: &record.ID,
			Metadata: map[string]any{
				"type":       ledgerdomain.EntryTypeFeatureUsage,
				"featureKey": string(key),
			},
		}); err != nil {
			return err
		}
		if err := s.repo.UpdateCreditsConsumed(ctx, tx, record.ID, cost); err != nil {
			return err
		}
		record.CreditsConsumed = cost
		return nil
	})
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrInsufficientCredits) {
			s.obsMetrics.RecordInsufficientCredits(ctx, string(key))
		}
		return nil, err
	}

	s.obsMetrics.RecordUsage(ctx, string(key), true)
	s.log.Info("feature usage recorded",
		zap.String("user_id", user.ID.String()),
		zap.String("usage_id", record.ID.String()),
		zap.String("feature_key", string(key)),
		zap.Int64("credits_consumed", cost),
	)
	return record, nil
}

func (s *Service) ListUsage(ctx context.Context, req usagedomain.ListUsageRequest) ([]usagedomain.UsageRecord, error) {
	if req.UserID == 0 {
		return nil, usagedomain.ErrInvalidUser
	}
	if req.Start != nil && req.End != nil && req.End.Before(*req.Start) {
		return nil, usagedomain.ErrInvalidDateRange
	}
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	records, err := s.repo.ListByUser(ctx, s.db, req.UserID, usagedomain.ListFilter{
		Start: req.Start,
		End:   req.End,
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Service) loadUser(ctx context.Context, conn *gorm.DB, userID snowflake.ID) (*userdomain.User, error) {
	if userID == 0 {
		return nil, usagedomain.ErrInvalidUser
	}
	user, err := s.users.FindByID(ctx, conn, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, userdomain.ErrUserNotFound
	}
	return user, nil
}

func (s *Service) newRecord(user *userdomain.User, key featuredomain.FeatureKey, metadata map[string]any) *usagedomain.UsageRecord {
	record := &usagedomain.UsageRecord{
		ID:         s.genID.Generate(),
		UserID:     user.ID,
		FeatureKey: string(key),
		Metadata:   datatypes.JSONMap{},
		ExecutedAt: s.clock.Now(),
	}
	if user.HasActiveOrganization() {
		orgID := *user.ActiveOrganizationID
		record.OrganizationID = &orgID
	}
	for k, v := range metadata {
		record.Metadata[k] = v
	}
	return record
}

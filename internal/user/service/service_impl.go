package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditcore/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditcore/internal/ledger/domain"
	"github.com/smallbiznis/creditcore/internal/user/domain"
	"github.com/smallbiznis/creditcore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Repo   domain.Repository
	Ledger ledgerdomain.Service
	Clock  clock.Clock `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	repo   domain.Repository
	ledger ledgerdomain.Service
	clock  clock.Clock
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("user.service"),
		genID:  p.GenID,
		repo:   p.Repo,
		ledger: p.Ledger,
		clock:  clk,
	}
}

// Create registers a user. Initial credits are granted through the ledger so
// the opening balance has a matching entry.
func (s *Service) Create(ctx context.Context, req domain.CreateUserRequest) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidEmail
	}
	if req.InitialCredits < 0 {
		return nil, domain.ErrInvalidAmount
	}

	now := s.clock.Now()
	user := &domain.User{
		ID:        s.genID.Generate(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, user); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrEmailTaken
			}
			return err
		}
		if req.InitialCredits == 0 {
			return nil
		}
		entry, err := s.ledger.ModifyCreditTx(ctx, tx, ledgerdomain.ModifyCreditRequest{
			UserID: user.ID,
			Amount: req.InitialCredits,
			Metadata: map[string]any{
				"type":   ledgerdomain.EntryTypeInitialCredits,
				"source": "user_registration",
			},
		})
		if err != nil {
			return err
		}
		user.Credits = entry.BalanceAfter
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("user created",
		zap.String("user_id", user.ID.String()),
		zap.Int64("initial_credits", req.InitialCredits),
	)
	return user, nil
}

func (s *Service) FindByID(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	if id == 0 {
		return nil, domain.ErrInvalidUserID
	}
	user, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

func (s *Service) SetActiveOrganization(ctx context.Context, id snowflake.ID, orgID *snowflake.ID) error {
	if id == 0 {
		return domain.ErrInvalidUserID
	}
	if orgID != nil && *orgID == 0 {
		orgID = nil
	}
	return s.repo.SetActiveOrganization(ctx, s.db, id, orgID, s.clock.Now())
}

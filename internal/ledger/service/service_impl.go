package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditcore/internal/clock"
	"github.com/smallbiznis/creditcore/internal/config"
	ledgerdomain "github.com/smallbiznis/creditcore/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/creditcore/internal/observability/metrics"
	"github.com/smallbiznis/creditcore/pkg/db"
	"github.com/smallbiznis/creditcore/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 250
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       ledgerdomain.Repository
	Cfg        config.Config       `optional:"true"`
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	repo           ledgerdomain.Repository
	clock          clock.Clock
	reservationTTL time.Duration
	obsMetrics     *obsmetrics.Metrics
}

func NewService(p Params) ledgerdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	ttl := p.Cfg.Credits.ReservationTTL
	if ttl <= 0 {
		ttl = defaultReservationTTL
	}
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("ledger.service"),
		genID:          p.GenID,
		repo:           p.Repo,
		clock:          clk,
		reservationTTL: ttl,
		obsMetrics:     p.ObsMetrics,
	}
}

func (s *Service) ModifyCredit(ctx context.Context, req ledgerdomain.ModifyCreditRequest) (*ledgerdomain.CreditTransaction, error) {
	var entry *ledgerdomain.CreditTransaction
	err := db.Transact(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		entry, err = s.ModifyCreditTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ModifyCreditTx applies a signed delta to the user's balance and appends the
// matching ledger entry. The balance row stays locked until tx ends.
func (s *Service) ModifyCreditTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.ModifyCreditRequest) (*ledgerdomain.CreditTransaction, error) {
	if req.UserID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}

	balance, err := s.repo.LockBalance(ctx, tx, req.UserID)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return nil, ledgerdomain.ErrUserNotFound
	}

	newBalance := balance.Credits + req.Amount
	if newBalance < 0 {
		s.log.Debug("insufficient credits",
			zap.String("user_id", req.UserID.String()),
			zap.Int64("required", -req.Amount),
			zap.Int64("available", balance.Credits),
		)
		return nil, &ledgerdomain.InsufficientCreditsError{
			Required:  -req.Amount,
			Available: balance.Credits,
		}
	}

	now := s.clock.Now()
	if req.Amount != 0 {
		if err := s.repo.UpdateBalance(ctx, tx, req.UserID, newBalance, now); err != nil {
			return nil, err
		}
	}

	metadata := datatypes.JSONMap{}
	for key, value := range req.Metadata {
		metadata[key] = value
	}

	entry := &ledgerdomain.CreditTransaction{
		ID:               s.genID.Generate(),
		UserID:           req.UserID,
		Amount:           req.Amount,
		BalanceAfter:     newBalance,
		RelatedUsageID:   req.RelatedUsageID,
		RelatedPaymentID: req.RelatedPaymentID,
		ReservationID:    req.ReservationID,
		Metadata:         metadata,
		CreatedAt:        now,
	}
	if err := s.repo.InsertTransaction(ctx, tx, entry); err != nil {
		return nil, err
	}

	s.obsMetrics.RecordLedgerEntry(ctx, entry.Kind())
	s.log.Debug("ledger entry appended",
		zap.String("user_id", req.UserID.String()),
		zap.String("entry_id", entry.ID.String()),
		zap.Int64("amount", req.Amount),
		zap.Int64("balance_after", newBalance),
		zap.String("entry_type", entryType(metadata)),
	)
	return entry, nil
}

func (s *Service) GetBalance(ctx context.Context, userID snowflake.ID) (ledgerdomain.Balance, error) {
	if userID == 0 {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidUser
	}
	balance, err := s.repo.GetBalance(ctx, s.db, userID)
	if err != nil {
		return ledgerdomain.Balance{}, err
	}
	if balance == nil {
		return ledgerdomain.Balance{}, ledgerdomain.ErrUserNotFound
	}
	return *balance, nil
}

func (s *Service) ListTransactions(ctx context.Context, req ledgerdomain.ListTransactionsRequest) (ledgerdomain.ListTransactionsResponse, error) {
	if req.UserID == 0 {
		return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidUser
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	var cursor *pagination.Cursor
	if token := strings.TrimSpace(req.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidPageToken
		}
		cursor = decoded
	}

	items, err := s.repo.ListTransactions(ctx, s.db, req.UserID, cursor, int(pageSize)+1)
	if err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(entry *ledgerdomain.CreditTransaction) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        entry.ID.String(),
			CreatedAt: entry.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}
	if pageInfo != nil && !pageInfo.HasMore {
		pageInfo.NextPageToken = ""
	}

	transactions := make([]ledgerdomain.CreditTransaction, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		transactions = append(transactions, *item)
	}

	resp := ledgerdomain.ListTransactionsResponse{Transactions: transactions}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func entryType(metadata datatypes.JSONMap) string {
	if value, ok := metadata["type"].(string); ok {
		return value
	}
	return ""
}

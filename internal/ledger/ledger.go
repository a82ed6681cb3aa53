// Package ledger is the only writer of account balances. Every change is an
// append-only entry with balance_after = balance_before + amount.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ridehail/internal/apperr"
	"github.com/example/ridehail/internal/models"
	"github.com/example/ridehail/internal/observability"
	"github.com/example/ridehail/internal/storage"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
	MaxTopUp            = 10000
)

// Memo describes why money moved.
type Memo struct {
	Type        models.EntryType
	RideID      string
	Description string
}

type TransferRequest struct {
	From   string
	To     string
	Amount int64
	// Fee is kept by the platform: To receives Amount-Fee.
	Fee         int64
	DebitType   models.EntryType
	CreditType  models.EntryType
	RideID      string
	Description string
}

type Service struct {
	store  storage.LedgerStore
	now    func() time.Time
	logger *slog.Logger
}

func NewService(store storage.LedgerStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, now: time.Now, logger: logger.With("component", "ledger")}
}

// WithClock overrides the entry timestamp source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Debit(ctx context.Context, accountID string, amount int64, memo Memo) (models.LedgerEntry, error) {
	if amount <= 0 {
		return models.LedgerEntry{}, apperr.Validation("debit amount must be positive, got %d", amount)
	}
	return s.postOne(ctx, accountID, -amount, memo)
}

func (s *Service) Credit(ctx context.Context, accountID string, amount int64, memo Memo) (models.LedgerEntry, error) {
	if amount <= 0 {
		return models.LedgerEntry{}, apperr.Validation("credit amount must be positive, got %d", amount)
	}
	return s.postOne(ctx, accountID, amount, memo)
}

func (s *Service) postOne(ctx context.Context, accountID string, amount int64, memo Memo) (models.LedgerEntry, error) {
	if memo.Type == "" {
		return models.LedgerEntry{}, apperr.Validation("entry type is required")
	}
	entries, err := s.store.Post(ctx, storage.Posting{
		AccountID:   accountID,
		Amount:      amount,
		Type:        memo.Type,
		RideID:      memo.RideID,
		Description: memo.Description,
		At:          s.now(),
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	e := entries[0]
	observability.LedgerEntriesTotal.WithLabelValues(string(e.Type)).Inc()
	s.logger.Debug("ledger entry posted", "account_id", accountID, "type", e.Type, "amount", e.Amount, "balance_after", e.BalanceAfter)
	return e, nil
}

// Transfer debits From and credits To as one atomic post; either both entries
// exist or neither does.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (models.LedgerEntry, models.LedgerEntry, error) {
	var none models.LedgerEntry
	switch {
	case req.Amount <= 0:
		return none, none, apperr.Validation("transfer amount must be positive, got %d", req.Amount)
	case req.Fee < 0 || req.Fee >= req.Amount:
		return none, none, apperr.Validation("fee %d must be in [0, amount)", req.Fee)
	case req.From == req.To:
		return none, none, apperr.Validation("cannot transfer to the same account")
	case req.DebitType == "" || req.CreditType == "":
		return none, none, apperr.Validation("entry types are required")
	}
	at := s.now()
	entries, err := s.store.Post(ctx,
		storage.Posting{AccountID: req.From, Amount: -req.Amount, Type: req.DebitType, RideID: req.RideID, Description: req.Description, At: at},
		storage.Posting{AccountID: req.To, Amount: req.Amount - req.Fee, Type: req.CreditType, RideID: req.RideID, Description: req.Description, At: at},
	)
	if err != nil {
		return none, none, err
	}
	observability.LedgerEntriesTotal.WithLabelValues(string(req.DebitType)).Inc()
	observability.LedgerEntriesTotal.WithLabelValues(string(req.CreditType)).Inc()
	return entries[0], entries[1], nil
}

// History returns entries most recent first. limit <= 0 means the default.
func (s *Service) History(ctx context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		return nil, apperr.Validation("offset must not be negative")
	}
	if _, err := s.store.Balance(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListEntries(ctx, accountID, limit, offset)
}

func (s *Service) Balance(ctx context.Context, accountID string) (int64, error) {
	return s.store.Balance(ctx, accountID)
}

// TopUp is a simulated wallet deposit; no payment gateway is involved.
func (s *Service) TopUp(ctx context.Context, accountID string, amount int64) (models.LedgerEntry, error) {
	if amount <= 0 || amount > MaxTopUp {
		return models.LedgerEntry{}, apperr.Validation("top-up amount must be between 1 and %d", MaxTopUp)
	}
	return s.Credit(ctx, accountID, amount, Memo{Type: models.EntryWalletAdd, Description: "Wallet top-up"})
}

// Earned sums the account's entries of type typ created at or after since.
func (s *Service) Earned(ctx context.Context, accountID string, typ models.EntryType, since time.Time) (int64, int, error) {
	return s.store.SumEntries(ctx, accountID, typ, since)
}

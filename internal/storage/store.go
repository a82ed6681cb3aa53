package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/example/ridehail/internal/models"
)

// RideStore persists rides. UpdateRide runs fn with the ride locked; a non-nil
// error from fn aborts without writing, which is how callers express
// "transition only if the status is still X".
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	UpdateRide(ctx context.Context, id string, fn func(*models.Ride) error) (*models.Ride, error)
	ListRidesByCustomer(ctx context.Context, customerID string, limit int) ([]*models.Ride, error)
	ListRidesByStatus(ctx context.Context, status models.RideStatus, limit int) ([]*models.Ride, error)
	ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, error)
	// ListRidesPendingCredit returns rides whose settlement credit is not yet posted.
	ListRidesPendingCredit(ctx context.Context, limit int) ([]*models.Ride, error)
	// DeleteTerminalRides keeps rides that still have a pending credit.
	DeleteTerminalRides(ctx context.Context, customerID string) (int, error)
}

// AccountStore persists accounts. UpdateAccount never changes Balance.
type AccountStore interface {
	CreateAccount(ctx context.Context, a *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	UpdateAccount(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error)
}

// Posting is one signed balance change applied by LedgerStore.Post.
type Posting struct {
	AccountID   string
	Amount      int64
	Type        models.EntryType
	RideID      string
	Description string
	At          time.Time
}

// ErrAlreadySettled is returned by Post when a ride's refund or earning has
// already been posted to that account.
var ErrAlreadySettled = errors.New("ride already settled")

// LedgerStore owns balances. Post applies every posting or none, serialised
// per account, and rejects any posting that would take a balance below zero.
// A ride gets at most one refund and one ride_earning entry per account.
type LedgerStore interface {
	Post(ctx context.Context, postings ...Posting) ([]models.LedgerEntry, error)
	Balance(ctx context.Context, accountID string) (int64, error)
	ListEntries(ctx context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, error)
	SumEntries(ctx context.Context, accountID string, typ models.EntryType, since time.Time) (int64, int, error)
}

type Store interface {
	RideStore
	AccountStore
	LedgerStore
}

func settlesRide(p Posting) bool {
	return p.RideID != "" && (p.Type == models.EntryRefund || p.Type == models.EntryRideEarning)
}

func lockOrder(postings []Posting) []string {
	seen := make(map[string]struct{}, len(postings))
	ids := make([]string, 0, len(postings))
	for _, p := range postings {
		if _, ok := seen[p.AccountID]; ok {
			continue
		}
		seen[p.AccountID] = struct{}{}
		ids = append(ids, p.AccountID)
	}
	sort.Strings(ids)
	return ids
}

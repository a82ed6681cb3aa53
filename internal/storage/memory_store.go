package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ridehail/internal/apperr"
	"github.com/example/ridehail/internal/models"
)

// MemoryStore keeps rides, accounts and ledger entries in process.
// Balance changes take a per-account mutex, acquired in sorted id order.
type MemoryStore struct {
	mu       sync.RWMutex
	rides    map[string]*models.Ride
	accounts map[string]*models.Account
	entries  map[string][]models.LedgerEntry

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]*models.Ride),
		accounts: make(map[string]*models.Account),
		entries:  make(map[string][]models.LedgerEntry),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (m *MemoryStore) accountLock(id string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// rides

func (m *MemoryStore) CreateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return apperr.Validation("ride %s already exists", r.ID)
	}
	m.rides[r.ID] = cloneRide(r)
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, apperr.NotFound("ride %s", id)
	}
	return cloneRide(r), nil
}

func (m *MemoryStore) UpdateRide(_ context.Context, id string, fn func(*models.Ride) error) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[id]
	if !ok {
		return nil, apperr.NotFound("ride %s", id)
	}
	next := cloneRide(cur)
	if err := fn(next); err != nil {
		return nil, err
	}
	m.rides[id] = cloneRide(next)
	return next, nil
}

func (m *MemoryStore) ListRidesByCustomer(_ context.Context, customerID string, limit int) ([]*models.Ride, error) {
	m.mu.RLock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.CustomerID == customerID {
			out = append(out, cloneRide(r))
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return truncate(out, limit), nil
}

func (m *MemoryStore) ListRidesByStatus(_ context.Context, status models.RideStatus, limit int) ([]*models.Ride, error) {
	m.mu.RLock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.Status == status {
			out = append(out, cloneRide(r))
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return truncate(out, limit), nil
}

func (m *MemoryStore) ActiveRideForDriver(_ context.Context, driverID string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rides {
		if r.DriverID == driverID && r.Status.Active() {
			return cloneRide(r), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) ListRidesPendingCredit(_ context.Context, limit int) ([]*models.Ride, error) {
	m.mu.RLock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.PendingCredit != nil {
			out = append(out, cloneRide(r))
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return truncate(out, limit), nil
}

func (m *MemoryStore) DeleteTerminalRides(_ context.Context, customerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, r := range m.rides {
		if r.CustomerID == customerID && r.Status.Terminal() && r.PendingCredit == nil {
			delete(m.rides, id)
			n++
		}
	}
	return n, nil
}

// accounts

func (m *MemoryStore) CreateAccount(_ context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.ID]; ok {
		return apperr.Validation("account %s already exists", a.ID)
	}
	for _, existing := range m.accounts {
		if existing.Email == a.Email {
			return apperr.Validation("email %s already registered", a.Email)
		}
	}
	c := cloneAccount(a)
	c.Balance = 0
	m.accounts[a.ID] = c
	return nil
}

func (m *MemoryStore) GetAccount(_ context.Context, id string) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, apperr.NotFound("account %s", id)
	}
	return cloneAccount(a), nil
}

func (m *MemoryStore) UpdateAccount(_ context.Context, id string, fn func(*models.Account) error) (*models.Account, error) {
	l := m.accountLock(id)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.accounts[id]
	if !ok {
		return nil, apperr.NotFound("account %s", id)
	}
	next := cloneAccount(cur)
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.Balance = cur.Balance
	m.accounts[id] = cloneAccount(next)
	return next, nil
}

// ledger

func (m *MemoryStore) Post(_ context.Context, postings ...Posting) ([]models.LedgerEntry, error) {
	if len(postings) == 0 {
		return nil, nil
	}
	ids := lockOrder(postings)
	for _, id := range ids {
		l := m.accountLock(id)
		l.Lock()
		defer l.Unlock()
	}

	balances := make(map[string]int64, len(ids))
	m.mu.RLock()
	for _, id := range ids {
		a, ok := m.accounts[id]
		if !ok {
			m.mu.RUnlock()
			return nil, apperr.NotFound("account %s", id)
		}
		balances[id] = a.Balance
	}
	for _, p := range postings {
		if settlesRide(p) && m.hasRideEntry(p) {
			m.mu.RUnlock()
			return nil, fmt.Errorf("%w: ride %s %s for %s", ErrAlreadySettled, p.RideID, p.Type, p.AccountID)
		}
	}
	m.mu.RUnlock()

	entries := make([]models.LedgerEntry, 0, len(postings))
	for _, p := range postings {
		before := balances[p.AccountID]
		after := before + p.Amount
		if after < 0 {
			return nil, apperr.InsufficientFunds(p.AccountID, -p.Amount, before)
		}
		balances[p.AccountID] = after
		at := p.At
		if at.IsZero() {
			at = time.Now()
		}
		entries = append(entries, models.LedgerEntry{
			ID:            uuid.NewString(),
			AccountID:     p.AccountID,
			Type:          p.Type,
			Amount:        p.Amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			RideID:        p.RideID,
			Description:   p.Description,
			Status:        models.EntryCompleted,
			CreatedAt:     at,
		})
	}

	m.mu.Lock()
	for id, b := range balances {
		m.accounts[id].Balance = b
	}
	for _, e := range entries {
		m.entries[e.AccountID] = append(m.entries[e.AccountID], e)
	}
	m.mu.Unlock()
	return entries, nil
}

// hasRideEntry must be called with m.mu held.
func (m *MemoryStore) hasRideEntry(p Posting) bool {
	for _, e := range m.entries[p.AccountID] {
		if e.RideID == p.RideID && e.Type == p.Type {
			return true
		}
	}
	return false
}

func (m *MemoryStore) Balance(_ context.Context, accountID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return 0, apperr.NotFound("account %s", accountID)
	}
	return a.Balance, nil
}

func (m *MemoryStore) ListEntries(_ context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.entries[accountID]
	out := make([]models.LedgerEntry, 0, limit)
	for i := len(all) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *MemoryStore) SumEntries(_ context.Context, accountID string, typ models.EntryType, since time.Time) (int64, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total int64
	var n int
	for _, e := range m.entries[accountID] {
		if e.Type == typ && !e.CreatedAt.Before(since) {
			total += e.Amount
			n++
		}
	}
	return total, n, nil
}

func truncate(rs []*models.Ride, limit int) []*models.Ride {
	if limit > 0 && len(rs) > limit {
		return rs[:limit]
	}
	return rs
}

func cloneRide(r *models.Ride) *models.Ride {
	c := *r
	c.FareFinal = clonePtr(r.FareFinal)
	c.ScheduledTime = clonePtr(r.ScheduledTime)
	c.AcceptedAt = clonePtr(r.AcceptedAt)
	c.PickupTime = clonePtr(r.PickupTime)
	c.StartedAt = clonePtr(r.StartedAt)
	c.CompletedAt = clonePtr(r.CompletedAt)
	c.CancelledAt = clonePtr(r.CancelledAt)
	c.CustomerRating = clonePtr(r.CustomerRating)
	c.DriverRating = clonePtr(r.DriverRating)
	c.Cancellation = clonePtr(r.Cancellation)
	c.PendingCredit = clonePtr(r.PendingCredit)
	c.Customer = nil
	c.Driver = nil
	return &c
}

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	c.Vehicle = clonePtr(a.Vehicle)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

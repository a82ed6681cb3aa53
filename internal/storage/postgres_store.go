package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/example/ridehail/internal/apperr"
	"github.com/example/ridehail/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies the embedded schema files in name order. They are idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) ([]string, error) {
	files, err := migrations.ReadDir("migrations")
	if err != nil {
		return nil, err
	}
	var applied []string
	for _, f := range files {
		b, err := migrations.ReadFile("migrations/" + f.Name())
		if err != nil {
			return applied, err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return applied, fmt.Errorf("migration %s: %w", f.Name(), err)
		}
		applied = append(applied, f.Name())
	}
	return applied, nil
}

var rideColumnList = []string{
	"id", "customer_id", "driver_id", "status",
	"pickup_address", "pickup_lat", "pickup_lng",
	"dropoff_address", "dropoff_lat", "dropoff_lng",
	"distance_km", "estimated_duration_min", "fare_estimated", "fare_final",
	"vehicle_type", "scheduled_time", "requested_at", "accepted_at",
	"pickup_time", "started_at", "completed_at", "cancelled_at",
	"customer_rating", "driver_rating", "cancellation", "pending_credit", "updated_at",
}

var accountColumnList = []string{
	"id", "name", "email", "phone",
	"is_customer", "is_driver", "is_manager", "is_admin",
	"balance", "driver_status", "is_placeholder", "vehicle_info",
	"total_rides_completed", "rating_sum", "rating_count", "created_at",
}

const entryColumns = `id, account_id, type, amount, balance_before, balance_after, ride_id, description, status, created_at`

var (
	rideColumns   = strings.Join(rideColumnList, ", ")
	insertRideSQL = "INSERT INTO rides (" + rideColumns + ") VALUES (" + placeholders(len(rideColumnList)) + ")"
	updateRideSQL = "UPDATE rides SET " + assignments(rideColumnList[1:], 2) + " WHERE id = $1"

	accountColumns   = strings.Join(accountColumnList, ", ")
	insertAccountSQL = "INSERT INTO accounts (" + accountColumns + ") VALUES (" + placeholders(len(accountColumnList)) + ")"
	// balance and created_at are never written by UpdateAccount
	updateAccountSQL = `UPDATE accounts SET name = $2, email = $3, phone = $4, is_customer = $5, is_driver = $6,
		is_manager = $7, is_admin = $8, driver_status = $9, is_placeholder = $10, vehicle_info = $11,
		total_rides_completed = $12, rating_sum = $13, rating_count = $14 WHERE id = $1`
)

func placeholders(n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(ps, ", ")
}

func assignments(cols []string, first int) string {
	as := make([]string, len(cols))
	for i, c := range cols {
		as[i] = fmt.Sprintf("%s = $%d", c, first+i)
	}
	return strings.Join(as, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

// rides

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	args, err := rideArgs(r)
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, insertRideSQL, args...); err != nil {
		return fmt.Errorf("insert ride: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	r, err := scanRide(p.db.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("ride %s", id)
	}
	return r, err
}

func (p *PostgresStore) UpdateRide(ctx context.Context, id string, fn func(*models.Ride) error) (*models.Ride, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	r, err := scanRide(tx.QueryRowContext(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("ride %s", id)
	}
	if err != nil {
		return nil, err
	}
	if err := fn(r); err != nil {
		return nil, err
	}
	args, err := rideArgs(r)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, updateRideSQL, args...); err != nil {
		return nil, fmt.Errorf("update ride: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	r.Customer, r.Driver = nil, nil
	return r, nil
}

func (p *PostgresStore) ListRidesByCustomer(ctx context.Context, customerID string, limit int) ([]*models.Ride, error) {
	return p.queryRides(ctx, `SELECT `+rideColumns+` FROM rides WHERE customer_id = $1 ORDER BY requested_at DESC LIMIT $2`, customerID, limitArg(limit))
}

func (p *PostgresStore) ListRidesByStatus(ctx context.Context, status models.RideStatus, limit int) ([]*models.Ride, error) {
	return p.queryRides(ctx, `SELECT `+rideColumns+` FROM rides WHERE status = $1 ORDER BY requested_at ASC LIMIT $2`, string(status), limitArg(limit))
}

func (p *PostgresStore) ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, error) {
	r, err := scanRide(p.db.QueryRowContext(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE driver_id = $1 AND status IN ('assigned', 'en_route') LIMIT 1`, driverID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (p *PostgresStore) ListRidesPendingCredit(ctx context.Context, limit int) ([]*models.Ride, error) {
	return p.queryRides(ctx, `SELECT `+rideColumns+` FROM rides WHERE pending_credit IS NOT NULL ORDER BY updated_at ASC LIMIT $1`, limitArg(limit))
}

func (p *PostgresStore) DeleteTerminalRides(ctx context.Context, customerID string) (int, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM rides WHERE customer_id = $1 AND status IN ('completed', 'cancelled') AND pending_credit IS NULL`, customerID)
	if err != nil {
		return 0, fmt.Errorf("delete rides: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (p *PostgresStore) queryRides(ctx context.Context, query string, args ...any) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rides: %w", err)
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRide(s scanner) (*models.Ride, error) {
	var (
		r                     models.Ride
		driverID              sql.NullString
		custRating, drvRating []byte
		cancellation, pending []byte
	)
	err := s.Scan(&r.ID, &r.CustomerID, &driverID, &r.Status,
		&r.Pickup.Address, &r.Pickup.Lat, &r.Pickup.Lng,
		&r.Dropoff.Address, &r.Dropoff.Lat, &r.Dropoff.Lng,
		&r.DistanceKm, &r.EstimatedDurationMin, &r.FareEstimated, &r.FareFinal,
		&r.VehicleType, &r.ScheduledTime, &r.RequestedAt, &r.AcceptedAt,
		&r.PickupTime, &r.StartedAt, &r.CompletedAt, &r.CancelledAt,
		&custRating, &drvRating, &cancellation, &pending, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.DriverID = driverID.String
	if err := decodeJSON(custRating, &r.CustomerRating); err != nil {
		return nil, err
	}
	if err := decodeJSON(drvRating, &r.DriverRating); err != nil {
		return nil, err
	}
	if err := decodeJSON(cancellation, &r.Cancellation); err != nil {
		return nil, err
	}
	if err := decodeJSON(pending, &r.PendingCredit); err != nil {
		return nil, err
	}
	return &r, nil
}

func rideArgs(r *models.Ride) ([]any, error) {
	custRating, err := encodeJSON(r.CustomerRating)
	if err != nil {
		return nil, err
	}
	drvRating, err := encodeJSON(r.DriverRating)
	if err != nil {
		return nil, err
	}
	cancellation, err := encodeJSON(r.Cancellation)
	if err != nil {
		return nil, err
	}
	pending, err := encodeJSON(r.PendingCredit)
	if err != nil {
		return nil, err
	}
	return []any{
		r.ID, r.CustomerID, nullString(r.DriverID), string(r.Status),
		r.Pickup.Address, r.Pickup.Lat, r.Pickup.Lng,
		r.Dropoff.Address, r.Dropoff.Lat, r.Dropoff.Lng,
		r.DistanceKm, r.EstimatedDurationMin, r.FareEstimated, nullable(r.FareFinal),
		string(r.VehicleType), nullable(r.ScheduledTime), r.RequestedAt, nullable(r.AcceptedAt),
		nullable(r.PickupTime), nullable(r.StartedAt), nullable(r.CompletedAt), nullable(r.CancelledAt),
		custRating, drvRating, cancellation, pending, r.UpdatedAt,
	}, nil
}

// accounts

func (p *PostgresStore) CreateAccount(ctx context.Context, a *models.Account) error {
	vehicle, err := encodeJSON(a.Vehicle)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, insertAccountSQL,
		a.ID, a.Name, a.Email, a.Phone,
		a.Roles.Customer, a.Roles.Driver, a.Roles.Manager, a.Roles.Admin,
		int64(0), string(a.DriverStatus), a.Placeholder, vehicle,
		a.TotalRidesCompleted, a.RatingSum, a.RatingCount, a.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return apperr.Validation("account %s or email %s already registered", a.ID, a.Email)
	}
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	a, err := scanAccount(p.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("account %s", id)
	}
	return a, err
}

func (p *PostgresStore) UpdateAccount(ctx context.Context, id string, fn func(*models.Account) error) (*models.Account, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	a, err := scanAccount(tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("account %s", id)
	}
	if err != nil {
		return nil, err
	}
	balance := a.Balance
	if err := fn(a); err != nil {
		return nil, err
	}
	a.ID, a.Balance = id, balance
	vehicle, err := encodeJSON(a.Vehicle)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, updateAccountSQL,
		a.ID, a.Name, a.Email, a.Phone,
		a.Roles.Customer, a.Roles.Driver, a.Roles.Manager, a.Roles.Admin,
		string(a.DriverStatus), a.Placeholder, vehicle,
		a.TotalRidesCompleted, a.RatingSum, a.RatingCount)
	if err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return a, nil
}

func scanAccount(s scanner) (*models.Account, error) {
	var (
		a       models.Account
		vehicle []byte
	)
	err := s.Scan(&a.ID, &a.Name, &a.Email, &a.Phone,
		&a.Roles.Customer, &a.Roles.Driver, &a.Roles.Manager, &a.Roles.Admin,
		&a.Balance, &a.DriverStatus, &a.Placeholder, &vehicle,
		&a.TotalRidesCompleted, &a.RatingSum, &a.RatingCount, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(vehicle, &a.Vehicle); err != nil {
		return nil, err
	}
	return &a, nil
}

// ledger

func (p *PostgresStore) Post(ctx context.Context, postings ...Posting) ([]models.LedgerEntry, error) {
	if len(postings) == 0 {
		return nil, nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ids := lockOrder(postings)
	balances := make(map[string]int64, len(ids))
	for _, id := range ids {
		var bal int64
		err := tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&bal)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("account %s", id)
		}
		if err != nil {
			return nil, fmt.Errorf("lock account %s: %w", id, err)
		}
		balances[id] = bal
	}

	entries := make([]models.LedgerEntry, 0, len(postings))
	for _, ps := range postings {
		before := balances[ps.AccountID]
		after := before + ps.Amount
		if after < 0 {
			return nil, apperr.InsufficientFunds(ps.AccountID, -ps.Amount, before)
		}
		balances[ps.AccountID] = after
		at := ps.At
		if at.IsZero() {
			at = time.Now()
		}
		e := models.LedgerEntry{
			ID:            uuid.NewString(),
			AccountID:     ps.AccountID,
			Type:          ps.Type,
			Amount:        ps.Amount,
			BalanceBefore: before,
			BalanceAfter:  after,
			RideID:        ps.RideID,
			Description:   ps.Description,
			Status:        models.EntryCompleted,
			CreatedAt:     at,
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO ledger_entries (`+entryColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			e.ID, e.AccountID, string(e.Type), e.Amount, e.BalanceBefore, e.BalanceAfter,
			nullString(e.RideID), e.Description, string(e.Status), e.CreatedAt)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "ledger_ride_settlement_idx" {
			return nil, fmt.Errorf("%w: ride %s %s for %s", ErrAlreadySettled, e.RideID, e.Type, e.AccountID)
		}
		if err != nil {
			return nil, fmt.Errorf("insert ledger entry: %w", err)
		}
		entries = append(entries, e)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE accounts SET balance = $2 WHERE id = $1`, id, balances[id]); err != nil {
			return nil, fmt.Errorf("update balance %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (p *PostgresStore) Balance(ctx context.Context, accountID string) (int64, error) {
	var bal int64
	err := p.db.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&bal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.NotFound("account %s", accountID)
	}
	return bal, err
}

func (p *PostgresStore) ListEntries(ctx context.Context, accountID string, limit, offset int) ([]models.LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE account_id = $1 ORDER BY seq DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()
	out := make([]models.LedgerEntry, 0, limit)
	for rows.Next() {
		var (
			e      models.LedgerEntry
			rideID sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Type, &e.Amount, &e.BalanceBefore, &e.BalanceAfter,
			&rideID, &e.Description, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.RideID = rideID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SumEntries(ctx context.Context, accountID string, typ models.EntryType, since time.Time) (int64, int, error) {
	var (
		total int64
		n     int
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM ledger_entries WHERE account_id = $1 AND type = $2 AND created_at >= $3`,
		accountID, string(typ), since).Scan(&total, &n)
	return total, n, err
}

func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func encodeJSON[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeJSON[T any](b []byte, dst **T) error {
	if len(b) == 0 {
		*dst = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*dst = &v
	return nil
}

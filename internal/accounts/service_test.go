package accounts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/ridehail/internal/apperr"
	"github.com/example/ridehail/internal/ledger"
	"github.com/example/ridehail/internal/models"
	"github.com/example/ridehail/internal/storage"
)

func TestRegister(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := NewService(store, ledger.NewService(store, nil), nil)

	a, err := svc.Register(ctx, NewAccount{Name: "Asha", Email: " Asha@Example.test ", InitialBalance: 250})
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)
	require.Equal(t, "asha@example.test", a.Email)
	require.True(t, a.Roles.Customer, "customer is the default role")
	require.EqualValues(t, 250, a.Balance)

	d, err := svc.Register(ctx, NewAccount{Name: "Ravi", Email: "ravi@example.test", Roles: models.Roles{Driver: true}})
	require.NoError(t, err)
	require.Equal(t, models.DriverOffline, d.DriverStatus)
	require.Zero(t, d.Balance)

	got, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "Ravi", got.Name)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := NewService(store, ledger.NewService(store, nil), nil)

	for _, in := range []NewAccount{
		{Email: "x@example.test"},
		{Name: "x", Email: "not-an-email"},
		{Name: "x", Email: "x@example.test", InitialBalance: -1},
	} {
		_, err := svc.Register(ctx, in)
		require.True(t, errors.Is(err, apperr.ErrValidation), "%+v", in)
	}

	_, err := svc.Register(ctx, NewAccount{Name: "a", Email: "dup@example.test"})
	require.NoError(t, err)
	_, err = svc.Register(ctx, NewAccount{Name: "b", Email: "dup@example.test"})
	require.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = svc.Get(ctx, "missing")
	require.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestSignUpCreatesCustomerOnly(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := NewService(store, ledger.NewService(store, nil), nil)

	a, err := svc.SignUp(ctx, Signup{Name: "Mina", Email: "mina@example.test"})
	require.NoError(t, err)
	require.Equal(t, models.Roles{Customer: true}, a.Roles)
	require.Empty(t, a.DriverStatus)
	require.False(t, a.Placeholder)
	require.Zero(t, a.Balance)
}

func TestDriverApplicationNeedsAdminApproval(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := NewService(store, ledger.NewService(store, nil), nil)

	admin, err := svc.Register(ctx, NewAccount{Name: "Root", Email: "root@example.test", Roles: models.Roles{Admin: true}})
	require.NoError(t, err)
	a, err := svc.SignUp(ctx, Signup{Name: "Ravi", Email: "ravi@example.test"})
	require.NoError(t, err)
	other, err := svc.SignUp(ctx, Signup{Name: "Zoe", Email: "zoe@example.test"})
	require.NoError(t, err)

	_, err = svc.ApproveDriver(ctx, admin.ID, a.ID)
	require.True(t, errors.Is(err, apperr.ErrInvalidTransition), "nothing to approve yet")

	_, err = svc.ApplyDriver(ctx, a.ID, models.VehicleInfo{Type: "rocket", LicensePlate: "X1"})
	require.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = svc.ApplyDriver(ctx, a.ID, models.VehicleInfo{Type: models.VehicleCar})
	require.True(t, errors.Is(err, apperr.ErrValidation), "plate is required")

	applied, err := svc.ApplyDriver(ctx, a.ID, models.VehicleInfo{Type: models.VehicleCar, LicensePlate: "KA01"})
	require.NoError(t, err)
	require.False(t, applied.Roles.Driver)
	require.Equal(t, models.DriverPendingApproval, applied.DriverStatus)

	_, err = svc.ApproveDriver(ctx, other.ID, a.ID)
	require.True(t, errors.Is(err, apperr.ErrUnauthorized))

	approved, err := svc.ApproveDriver(ctx, admin.ID, a.ID)
	require.NoError(t, err)
	require.True(t, approved.Roles.Driver)
	require.True(t, approved.Roles.Customer)
	require.Equal(t, models.DriverOffline, approved.DriverStatus)
	require.Equal(t, "KA01", approved.Vehicle.LicensePlate)

	_, err = svc.ApplyDriver(ctx, a.ID, models.VehicleInfo{Type: models.VehicleBike, LicensePlate: "KA02"})
	require.True(t, errors.Is(err, apperr.ErrInvalidTransition))
}

// Package accounts registers customers and drivers.
package accounts

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ridehail/internal/apperr"
	"github.com/example/ridehail/internal/models"
	"github.com/example/ridehail/internal/storage"
)

// NewAccount is the trusted form used by seeding and operators. Public
// sign-up goes through Signup.
type NewAccount struct {
	Name           string
	Email          string
	Phone          string
	Roles          models.Roles
	Vehicle        *models.VehicleInfo
	Placeholder    bool
	InitialBalance int64
}

// Signup is the self-service registration body. It carries no roles.
type Signup struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type TopUpper interface {
	TopUp(ctx context.Context, accountID string, amount int64) (models.LedgerEntry, error)
}

type Service struct {
	store  storage.AccountStore
	ledger TopUpper
	now    func() time.Time
	logger *slog.Logger
}

func NewService(store storage.AccountStore, ledger TopUpper, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, ledger: ledger, now: time.Now, logger: logger.With("component", "accounts")}
}

// Register creates an account with a zero balance. An initial balance is
// credited through the ledger afterwards.
func (s *Service) Register(ctx context.Context, in NewAccount) (*models.Account, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Name == "" {
		return nil, apperr.Validation("name is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil || !strings.Contains(in.Email, "@") {
		return nil, apperr.Validation("invalid email %q", in.Email)
	}
	if in.InitialBalance < 0 {
		return nil, apperr.Validation("initial balance must not be negative")
	}
	if !in.Roles.Customer && !in.Roles.Driver && !in.Roles.Manager && !in.Roles.Admin {
		in.Roles.Customer = true
	}

	a := &models.Account{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Email:       in.Email,
		Phone:       in.Phone,
		Roles:       in.Roles,
		CreatedAt:   s.now().UTC(),
		Placeholder: in.Placeholder,
		Vehicle:     in.Vehicle,
	}
	if in.Roles.Driver {
		a.DriverStatus = models.DriverOffline
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info("account registered", "account_id", a.ID, "driver", a.Roles.Driver)

	if in.InitialBalance > 0 {
		if _, err := s.ledger.TopUp(ctx, a.ID, in.InitialBalance); err != nil {
			return nil, err
		}
	}
	return s.store.GetAccount(ctx, a.ID)
}

// SignUp registers a customer with an empty wallet.
func (s *Service) SignUp(ctx context.Context, in Signup) (*models.Account, error) {
	return s.Register(ctx, NewAccount{
		Name:  in.Name,
		Email: in.Email,
		Phone: in.Phone,
		Roles: models.Roles{Customer: true},
	})
}

// ApplyDriver files a driver application for an existing account. The
// account cannot go online until an admin approves it.
func (s *Service) ApplyDriver(ctx context.Context, accountID string, vehicle models.VehicleInfo) (*models.Account, error) {
	if !vehicle.Type.Valid() {
		return nil, apperr.Validation("unknown vehicle type %q", vehicle.Type)
	}
	if strings.TrimSpace(vehicle.LicensePlate) == "" {
		return nil, apperr.Validation("license plate is required")
	}
	a, err := s.store.UpdateAccount(ctx, accountID, func(a *models.Account) error {
		if a.Roles.Driver {
			return apperr.InvalidTransition("account %s is already a driver", a.ID)
		}
		v := vehicle
		a.Vehicle = &v
		a.DriverStatus = models.DriverPendingApproval
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("driver application filed", "account_id", a.ID, "vehicle", a.Vehicle.Type)
	return a, nil
}

// ApproveDriver grants the driver role to an account with a pending
// application. Only admins may approve.
func (s *Service) ApproveDriver(ctx context.Context, adminID, accountID string) (*models.Account, error) {
	admin, err := s.store.GetAccount(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if !admin.Roles.Admin {
		return nil, apperr.Unauthorized("account %s is not an admin", adminID)
	}
	a, err := s.store.UpdateAccount(ctx, accountID, func(a *models.Account) error {
		if a.DriverStatus != models.DriverPendingApproval {
			return apperr.InvalidTransition("account %s has no pending driver application", a.ID)
		}
		a.Roles.Driver = true
		a.DriverStatus = models.DriverOffline
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("driver approved", "account_id", a.ID, "admin_id", adminID)
	return a, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Account, error) {
	return s.store.GetAccount(ctx, id)
}

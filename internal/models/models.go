package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Location is a pickup or dropoff point.
type Location struct {
	Address string `json:"address"`
	Coord
}

type VehicleType string

const (
	VehicleBike    VehicleType = "bike"
	VehicleCar     VehicleType = "car"
	VehicleShuttle VehicleType = "shuttle"
	VehicleSpecial VehicleType = "special"
)

func (v VehicleType) Valid() bool {
	switch v {
	case VehicleBike, VehicleCar, VehicleShuttle, VehicleSpecial:
		return true
	}
	return false
}

type DriverStatus string

const (
	DriverOffline DriverStatus = "offline"
	DriverOnline  DriverStatus = "online"
	DriverOnRide  DriverStatus = "on_ride"

	// DriverPendingApproval marks an account whose driver application
	// awaits an admin.
	DriverPendingApproval DriverStatus = "pending_approval"
)

type Roles struct {
	Customer bool `json:"customer"`
	Driver   bool `json:"driver"`
	Manager  bool `json:"manager"`
	Admin    bool `json:"admin"`
}

type VehicleInfo struct {
	Type         VehicleType `json:"type,omitempty"`
	Make         string      `json:"make,omitempty"`
	Model        string      `json:"model,omitempty"`
	Color        string      `json:"color,omitempty"`
	LicensePlate string      `json:"license_plate,omitempty"`
}

// Account is a user with a wallet. Balance is written only by the ledger.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Roles     Roles     `json:"roles"`
	Balance   int64     `json:"wallet_balance"`
	CreatedAt time.Time `json:"created_at"`

	DriverStatus        DriverStatus `json:"driver_status,omitempty"`
	Placeholder         bool         `json:"is_placeholder,omitempty"`
	Vehicle             *VehicleInfo `json:"vehicle_info,omitempty"`
	TotalRidesCompleted int          `json:"total_rides_completed"`
	RatingSum           int64        `json:"-"`
	RatingCount         int64        `json:"-"`
}

// DriverRating is the running mean of customer ratings, one decimal; 5.0 with no ratings.
func (a *Account) DriverRating() float64 {
	if a.RatingCount == 0 {
		return 5.0
	}
	return float64(int64(float64(a.RatingSum)/float64(a.RatingCount)*10+0.5)) / 10
}

// DriverAvailability is the geo index record for one driver.
type DriverAvailability struct {
	DriverID     string    `json:"driver_id"`
	Position     Coord     `json:"position"`
	Online       bool      `json:"online"`
	UpdatedAt    time.Time `json:"updated_at"`
	Placeholder  bool      `json:"is_placeholder"`
	RegisteredAt time.Time `json:"registered_at"`
}

type RideStatus string

const (
	RideRequested RideStatus = "requested"
	RideAssigned  RideStatus = "assigned"
	RideEnRoute   RideStatus = "en_route"
	RideCompleted RideStatus = "completed"
	RideCancelled RideStatus = "cancelled"
)

func (s RideStatus) Terminal() bool { return s == RideCompleted || s == RideCancelled }

// Active reports whether a driver is bound to a ride in this status.
func (s RideStatus) Active() bool { return s == RideAssigned || s == RideEnRoute }

type CancelledBy string

const (
	CancelledByCustomer CancelledBy = "customer"
	CancelledByDriver   CancelledBy = "driver"
	CancelledBySystem   CancelledBy = "system"
)

type Rating struct {
	Rating  int       `json:"rating"`
	Comment string    `json:"comment,omitempty"`
	At      time.Time `json:"at"`
}

type Cancellation struct {
	By         CancelledBy `json:"by"`
	Reason     string      `json:"reason,omitempty"`
	DriverLate bool        `json:"driver_late"`
	Refund     int64       `json:"refund"`
	DriverID   string      `json:"driver_id,omitempty"`
}

// Party is the summary of a ride participant returned with ride snapshots.
type Party struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Phone        string       `json:"phone,omitempty"`
	DriverRating float64      `json:"driver_rating,omitempty"`
	Vehicle      *VehicleInfo `json:"vehicle_info,omitempty"`
}

type Ride struct {
	ID                   string      `json:"id"`
	CustomerID           string      `json:"customer_id"`
	DriverID             string      `json:"driver_id,omitempty"`
	Status               RideStatus  `json:"status"`
	Pickup               Location    `json:"pickup"`
	Dropoff              Location    `json:"dropoff"`
	DistanceKm           float64     `json:"distance_km"`
	EstimatedDurationMin int         `json:"estimated_duration_min"`
	FareEstimated        int64       `json:"fare_estimated"`
	FareFinal            *int64      `json:"fare_final,omitempty"`
	VehicleType          VehicleType `json:"vehicle_type"`
	ScheduledTime        *time.Time  `json:"scheduled_time,omitempty"`

	RequestedAt time.Time  `json:"requested_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	PickupTime  *time.Time `json:"pickup_time,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	CustomerRating *Rating        `json:"customer_rating,omitempty"`
	DriverRating   *Rating        `json:"driver_rating,omitempty"`
	Cancellation   *Cancellation  `json:"cancellation,omitempty"`
	PendingCredit  *PendingCredit `json:"pending_credit,omitempty"`
	Customer       *Party         `json:"customer,omitempty"`
	Driver         *Party         `json:"driver,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// PendingCredit is a settlement credit written together with the ride's final
// transition and cleared once the ledger has posted it.
type PendingCredit struct {
	AccountID   string    `json:"account_id"`
	Amount      int64     `json:"amount"`
	Type        EntryType `json:"type"`
	Description string    `json:"description,omitempty"`
}

// FormerDriverID is the assigned driver, or the one cleared by cancellation.
func (r *Ride) FormerDriverID() string {
	if r.DriverID != "" {
		return r.DriverID
	}
	if r.Cancellation != nil {
		return r.Cancellation.DriverID
	}
	return ""
}

type EntryType string

const (
	EntryRidePayment    EntryType = "ride_payment"
	EntryRideEarning    EntryType = "ride_earning"
	EntryWalletAdd      EntryType = "wallet_add"
	EntryWalletWithdraw EntryType = "wallet_withdraw"
	EntryRefund         EntryType = "refund"
)

type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
)

type LedgerEntry struct {
	ID            string      `json:"id"`
	AccountID     string      `json:"account_id"`
	Type          EntryType   `json:"type"`
	Amount        int64       `json:"amount"`
	BalanceBefore int64       `json:"balance_before"`
	BalanceAfter  int64       `json:"balance_after"`
	RideID        string      `json:"ride_id,omitempty"`
	Description   string      `json:"description,omitempty"`
	Status        EntryStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
}

type EventName string

const (
	EventRideRequested  EventName = "ride_requested"
	EventRideAssigned   EventName = "ride_assigned"
	EventRideStarted    EventName = "ride_started"
	EventRideCompleted  EventName = "ride_completed"
	EventRideCancelled  EventName = "ride_cancelled"
	EventDriverLocation EventName = "driver_location"
)

// Event is emitted about a ride to a set of account ids.
type Event struct {
	Name       EventName `json:"event"`
	RideID     string    `json:"ride_id"`
	Recipients []string  `json:"recipients"`
	Payload    any       `json:"payload,omitempty"`
	At         time.Time `json:"at"`
}

// LocationUpdate is the telemetry message carried on the driver-locations topic.
type LocationUpdate struct {
	DriverID string    `json:"driver_id"`
	Position Coord     `json:"position"`
	At       time.Time `json:"at"`
}

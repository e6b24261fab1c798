package codec

// Roles stored in the accounts table.
const (
	RoleDriver    = "Driver"
	RolePassenger = "Passenger"
)

// Ride statuses.
const (
	RideWaiting   = "waiting"
	RideCompleted = "completed"
)

// Claim statuses.
const (
	ClaimWaiting   = "waiting"
	ClaimCompleted = "completed"
	ClaimPaid      = "paid"
)

// NoPayment is the paymentTxHash placeholder of an unpaid claim.
const NoPayment = "0"

// Field positions of the accounts table.
const (
	AccountUsername = iota
	AccountPassword
	AccountContact
	AccountEmail
	AccountVehicle
	AccountRole
	AccountWallet
	accountFields
)

// Field positions of the rides table.
const (
	RideID = iota
	RideDriver
	RideLocation
	RideLat
	RideLng
	RideSeats
	RideDate
	RideStatus
	RideTime
	RideRecurrence
	rideFields
)

// Field positions of the claims table.
const (
	ClaimID = iota
	ClaimRideID
	ClaimDriver
	ClaimPassenger
	ClaimMiles
	ClaimAmount
	ClaimPaymentTx
	ClaimUnused
	ClaimStatus
	claimFields
)

// Field positions of the ratings table.
const (
	RatingRater = iota
	RatingDriver
	RatingScore
	ratingFields
)

// Account is a row of the accounts table.
type Account struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	Contact  string `json:"contact"`
	Email    string `json:"email"`
	Vehicle  string `json:"vehicle"`
	Role     string `json:"role"`
	Wallet   string `json:"wallet_address"`
}

// Row encodes the account in table field order.
func (a Account) Row() Row {
	row := make(Row, accountFields)
	row[AccountUsername] = a.Username
	row[AccountPassword] = a.Password
	row[AccountContact] = a.Contact
	row[AccountEmail] = a.Email
	row[AccountVehicle] = a.Vehicle
	row[AccountRole] = a.Role
	row[AccountWallet] = a.Wallet
	return row
}

// AccountFromRow decodes an accounts row. Missing fields are left empty.
func AccountFromRow(r Row) Account {
	return Account{
		Username: r.Field(AccountUsername),
		Password: r.Field(AccountPassword),
		Contact:  r.Field(AccountContact),
		Email:    r.Field(AccountEmail),
		Vehicle:  r.Field(AccountVehicle),
		Role:     r.Field(AccountRole),
		Wallet:   r.Field(AccountWallet),
	}
}

// Ride is a row of the rides table.
type Ride struct {
	ID         string `json:"ride_id"`
	Driver     string `json:"driver"`
	Location   string `json:"location"`
	Lat        string `json:"lat"`
	Lng        string `json:"lng"`
	Seats      string `json:"seats"`
	Date       string `json:"date"`
	Status     string `json:"status"`
	Time       string `json:"time"`
	Recurrence string `json:"recurrence"`
}

// Row encodes the ride in table field order.
func (r Ride) Row() Row {
	row := make(Row, rideFields)
	row[RideID] = r.ID
	row[RideDriver] = r.Driver
	row[RideLocation] = r.Location
	row[RideLat] = r.Lat
	row[RideLng] = r.Lng
	row[RideSeats] = r.Seats
	row[RideDate] = r.Date
	row[RideStatus] = r.Status
	row[RideTime] = r.Time
	row[RideRecurrence] = r.Recurrence
	return row
}

// Scheduled reports whether the ride carries a time slot.
func (r Ride) Scheduled() bool {
	return r.Time != ""
}

// RideFromRow decodes a rides row. Missing fields are left empty.
func RideFromRow(r Row) Ride {
	return Ride{
		ID:         r.Field(RideID),
		Driver:     r.Field(RideDriver),
		Location:   r.Field(RideLocation),
		Lat:        r.Field(RideLat),
		Lng:        r.Field(RideLng),
		Seats:      r.Field(RideSeats),
		Date:       r.Field(RideDate),
		Status:     r.Field(RideStatus),
		Time:       r.Field(RideTime),
		Recurrence: r.Field(RideRecurrence),
	}
}

// Claim is a row of the claims table: one passenger's seat on a ride.
type Claim struct {
	ID        string `json:"claim_id"`
	RideID    string `json:"ride_id"`
	Driver    string `json:"driver"`
	Passenger string `json:"passenger"`
	Miles     string `json:"miles"`
	Amount    string `json:"amount"`
	PaymentTx string `json:"payment_tx"`
	Unused    string `json:"-"`
	Status    string `json:"status"`
}

// Row encodes the claim in table field order.
func (c Claim) Row() Row {
	row := make(Row, claimFields)
	row[ClaimID] = c.ID
	row[ClaimRideID] = c.RideID
	row[ClaimDriver] = c.Driver
	row[ClaimPassenger] = c.Passenger
	row[ClaimMiles] = c.Miles
	row[ClaimAmount] = c.Amount
	row[ClaimPaymentTx] = c.PaymentTx
	row[ClaimUnused] = c.Unused
	row[ClaimStatus] = c.Status
	return row
}

// Paid reports whether the claim has a recorded payment.
func (c Claim) Paid() bool {
	return c.Status == ClaimPaid
}

// ClaimFromRow decodes a claims row. Missing fields are left empty.
func ClaimFromRow(r Row) Claim {
	return Claim{
		ID:        r.Field(ClaimID),
		RideID:    r.Field(ClaimRideID),
		Driver:    r.Field(ClaimDriver),
		Passenger: r.Field(ClaimPassenger),
		Miles:     r.Field(ClaimMiles),
		Amount:    r.Field(ClaimAmount),
		PaymentTx: r.Field(ClaimPaymentTx),
		Unused:    r.Field(ClaimUnused),
		Status:    r.Field(ClaimStatus),
	}
}

// Rating is a row of the append-only ratings table.
type Rating struct {
	Rater  string `json:"rater"`
	Driver string `json:"driver"`
	Score  string `json:"score"`
}

// Row encodes the rating in table field order.
func (r Rating) Row() Row {
	row := make(Row, ratingFields)
	row[RatingRater] = r.Rater
	row[RatingDriver] = r.Driver
	row[RatingScore] = r.Score
	return row
}

// RatingFromRow decodes a ratings row. Missing fields are left empty.
func RatingFromRow(r Row) Rating {
	return Rating{
		Rater:  r.Field(RatingRater),
		Driver: r.Field(RatingDriver),
		Score:  r.Field(RatingScore),
	}
}

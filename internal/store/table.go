package store

import "github.com/withObsrvr/carpool-ledger/internal/ledger"

// Table binds a logical table to the contract getter and setter that hold
// its blob.
type Table struct {
	Name   string
	Kind   ledger.Kind
	Getter string
	Setter string
}

// Tables is the full set of carpool tables.
type Tables struct {
	Accounts Table
	Rides    Table
	Claims   Table
	Ratings  Table
}

// DefaultTables returns the contract functions deployed by the Carpool
// contract.
func DefaultTables() Tables {
	return Tables{
		Accounts: Table{Name: "accounts", Kind: ledger.KindAccount, Getter: "getUser", Setter: "addUser"},
		Rides:    Table{Name: "rides", Kind: ledger.KindRide, Getter: "getRide", Setter: "setRide"},
		Claims:   Table{Name: "claims", Kind: ledger.KindClaim, Getter: "getPassengers", Setter: "setPassengers"},
		Ratings:  Table{Name: "ratings", Kind: ledger.KindRating, Getter: "getRatings", Setter: "setRatings"},
	}
}

// All returns the tables in a fixed order.
func (t Tables) All() []Table {
	return []Table{t.Accounts, t.Rides, t.Claims, t.Ratings}
}

// ByName looks a table up by its logical name.
func (t Tables) ByName(name string) (Table, bool) {
	for _, tbl := range t.All() {
		if tbl.Name == name {
			return tbl, true
		}
	}
	return Table{}, false
}

package directory

import "time"

// Actor represents an authenticated account the authorization core decides
// for. Identity and attributes arrive already verified; this package only
// stores and reads them.
type Actor struct {
	ID           int64
	Email        string
	Name         string
	Department   string
	Country      string
	BusinessUnit string
	ManagerID    *int64
	IsActive     bool
	RoleIDs      []int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

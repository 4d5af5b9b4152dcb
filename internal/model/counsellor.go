package model

import "github.com/arjun-krishna/counselbook/internal/availability"

// FeeTable holds a counsellor's hourly fee per session type, in minor
// currency units. A zero entry means the fee is not configured.
type FeeTable struct {
	Video    int64
	Chat     int64
	InPerson int64
}

// Counsellor is the read model served by the counsellor directory. The
// booking core never writes it.
type Counsellor struct {
	ID       string
	Name     string
	Verified bool
	Active   bool
	Fees     FeeTable
	Template availability.WeekTemplate
}

// Bookable reports whether the counsellor may take new appointments.
func (c Counsellor) Bookable() bool {
	return c.Verified && c.Active
}

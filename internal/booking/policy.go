package booking

import "github.com/arjun-krishna/counselbook/internal/model"

// Role identifies which side of the marketplace an actor is on. The
// transport layer authenticates actors; this package only authorizes.
type Role string

const (
	RoleClient     Role = "client"
	RoleCounsellor Role = "counsellor"
	RoleAdmin      Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleCounsellor, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated party performing an operation.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) cancelActor() model.CancelActor {
	switch a.Role {
	case RoleCounsellor:
		return model.CancelledByCounsellor
	case RoleAdmin:
		return model.CancelledBySystem
	default:
		return model.CancelledByClient
	}
}

// CanCancel: either party of the appointment, or an admin.
func CanCancel(a Actor, appt model.Appointment) bool {
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleClient:
		return a.ID == appt.ClientID
	case RoleCounsellor:
		return a.ID == appt.CounsellorID
	}
	return false
}

// CanComplete: the counsellor who held the session, or an admin. Clients
// never complete appointments.
func CanComplete(a Actor, appt model.Appointment) bool {
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleCounsellor:
		return a.ID == appt.CounsellorID
	}
	return false
}

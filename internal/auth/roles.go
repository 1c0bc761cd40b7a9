package auth

// Role is a staff role. Roles form a total order: staff < manager < owner.
type Role string

const (
	RoleStaff   Role = "staff"
	RoleManager Role = "manager"
	RoleOwner   Role = "owner"
)

// Decision is the outcome of an authorization check.
type Decision bool

const (
	Allow Decision = true
	Deny  Decision = false
)

// Level returns the rank of r, 0 for an empty or unknown role.
func (r Role) Level() int {
	switch r {
	case RoleStaff:
		return 1
	case RoleManager:
		return 2
	case RoleOwner:
		return 3
	default:
		return 0
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r.Level() > 0
}

func (r Role) String() string {
	return string(r)
}

// Authorize decides whether an actor holding actor may perform an operation requiring required.
// An unauthenticated actor (empty role) and an unrecognized required role are always denied.
func Authorize(actor, required Role) Decision {
	if !actor.Valid() || !required.Valid() {
		return Deny
	}
	return Decision(actor.Level() >= required.Level())
}

// Minimum roles for the admin surface.
const (
	RequiredForInventoryWrite = RoleStaff
	RequiredForItemDelete     = RoleManager
	RequiredForOrderRead      = RoleStaff
	RequiredForOrderStatus    = RoleStaff
	RequiredForUserAdmin      = RoleOwner
)

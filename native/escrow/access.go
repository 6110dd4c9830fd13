package escrow

import "fmt"

// Role names the party an agreement operation must be invoked by.
type Role uint8

const (
	RoleSeller Role = iota + 1
	RoleBuyer
)

func (r Role) String() string {
	switch r {
	case RoleSeller:
		return "seller"
	case RoleBuyer:
		return "buyer"
	default:
		return "unknown"
	}
}

func (r Role) party(a *Agreement) [20]byte {
	switch r {
	case RoleSeller:
		return a.Seller
	case RoleBuyer:
		return a.Buyer
	default:
		return [20]byte{}
	}
}

// guard runs the checks shared by every resolving operation in a fixed order:
// caller identity, deadline window, pending status. Buyer actions are live only
// strictly before the deadline; the seller may reclaim only strictly after it.
func guard(a *Agreement, role Role, caller [20]byte, now int64) error {
	if caller != role.party(a) {
		return fmt.Errorf("%w: caller is not the %s", ErrNotAuthorized, role)
	}
	switch role {
	case RoleBuyer:
		if now >= a.Deadline {
			return ErrDeadlineExpired
		}
	case RoleSeller:
		if now <= a.Deadline {
			return ErrDeadlineNotReached
		}
	default:
		return fmt.Errorf("%w: unsupported role", ErrNotAuthorized)
	}
	if a.Status != StatusPending {
		return fmt.Errorf("%w: status %s", ErrNotPending, a.Status)
	}
	return nil
}

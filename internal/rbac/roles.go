package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

func IsKnownRole(role string) bool {
	switch role {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

// CanAccessOwned reports whether role/userID may read a resource owned by ownerID.
// Admins read everything; others only their own records.
func CanAccessOwned(role, userID, ownerID string) bool {
	if IsAdmin(role) {
		return true
	}
	return userID != "" && userID == ownerID
}

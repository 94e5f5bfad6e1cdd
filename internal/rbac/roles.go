package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleCustomer   = "customer"
	RoleSupport    = "support"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// IsStaff reports whether role belongs to the admin panel rather than a shopper.
func IsStaff(role string) bool {
	switch role {
	case RoleSupport, RoleAdmin, RoleSuperAdmin:
		return true
	default:
		return false
	}
}

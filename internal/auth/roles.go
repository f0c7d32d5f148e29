package auth

// Role is carried in service tokens for role-based access control.
type Role string

const (
	// RoleAdmin may call every internal endpoint
	RoleAdmin Role = "admin"

	// RoleBenchmark is held by the benchmark harness
	RoleBenchmark Role = "benchmark"
)

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is a valid role
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleBenchmark:
		return true
	default:
		return false
	}
}

// HasPermission reports whether r satisfies required. Admin satisfies all.
func (r Role) HasPermission(required Role) bool {
	if r == RoleAdmin {
		return true
	}
	return r == required
}

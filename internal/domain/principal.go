package domain

// Principal is the caller identity extracted from a verified bearer token.
type Principal struct {
	UserID      string
	TenantID    string
	Role        string
	Permissions []string
}

// IsAdmin reports whether the principal's role is one of adminRoles.
func (p Principal) IsAdmin(adminRoles []string) bool {
	for _, r := range adminRoles {
		if p.Role == r {
			return true
		}
	}
	return false
}

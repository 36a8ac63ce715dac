package auth

// Scopes granted to venue API callers.
const (
	ScopeVenuesRead  = "venues:read"
	ScopeVenuesWrite = "venues:write"
)

// HasAnyScope reports whether the claims carry at least one of scopes.
func (c *Claims) HasAnyScope(scopes ...string) bool {
	for _, scope := range scopes {
		if c.HasScope(scope) {
			return true
		}
	}
	return false
}

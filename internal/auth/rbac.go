// Package auth holds the authorization rules shared by the middleware and handlers.
package auth

import "github.com/suteetoe/shopnest/internal/model"

// PermissionSet is a set of granted permissions
type PermissionSet map[model.Permission]struct{}

func NewPermissionSet(perms ...model.Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

func (s PermissionSet) Has(p model.Permission) bool {
	_, ok := s[p]
	return ok
}

// Principal is the view of a user the authorization rules need
type Principal interface {
	GetRole() model.Role
	GetPermissions() []model.Permission
}

// Bypass reports whether role skips permission checks
func Bypass(role model.Role) bool {
	return role == model.RoleSuperAdmin || role == model.RoleTenantOwner
}

// HasAll requires every permission in perms. Super admins and tenant owners always pass.
func HasAll(p Principal, perms ...model.Permission) bool {
	if p == nil {
		return false
	}
	if Bypass(p.GetRole()) {
		return true
	}
	granted := NewPermissionSet(p.GetPermissions()...)
	for _, want := range perms {
		if !granted.Has(want) {
			return false
		}
	}
	return true
}

// HasAnyRole reports whether the principal's role is one of roles
func HasAnyRole(p Principal, roles ...model.Role) bool {
	if p == nil {
		return false
	}
	role := p.GetRole()
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// DefaultPermissions is what a new user of role receives
func DefaultPermissions(role model.Role) []model.Permission {
	switch role {
	case model.RoleSuperAdmin, model.RoleTenantOwner:
		out := make([]model.Permission, len(model.AllPermissions))
		copy(out, model.AllPermissions)
		return out
	case model.RoleTenantAdmin:
		return []model.Permission{
			model.PermReadProducts, model.PermWriteProducts, model.PermDeleteProducts,
			model.PermReadOrders, model.PermWriteOrders,
			model.PermReadCustomers, model.PermWriteCustomers,
			model.PermReadAnalytics,
			model.PermReadSettings, model.PermWriteSettings,
		}
	case model.RoleTenantUser:
		return []model.Permission{
			model.PermReadProducts, model.PermWriteProducts,
			model.PermReadOrders, model.PermWriteOrders,
			model.PermReadCustomers,
		}
	}
	return nil
}

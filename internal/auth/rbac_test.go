package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/suteetoe/shopnest/internal/model"
)

func user(role model.Role, perms ...model.Permission) *model.User {
	return &model.User{Role: role, Permissions: perms}
}

func TestHasAll(t *testing.T) {
	both := []model.Permission{model.PermReadProducts, model.PermWriteProducts}

	cases := []struct {
		name string
		user *model.User
		want bool
	}{
		{"missing one permission", user(model.RoleTenantUser, model.PermReadProducts), false},
		{"has every permission", user(model.RoleTenantUser, model.PermReadProducts, model.PermWriteProducts), true},
		{"super admin without permissions", user(model.RoleSuperAdmin), true},
		{"tenant owner without permissions", user(model.RoleTenantOwner), true},
		{"tenant admin without permissions", user(model.RoleTenantAdmin), false},
		{"customer", user(model.RoleCustomer, model.PermReadProducts), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HasAll(tc.user, both...))
		})
	}
}

func TestHasAllNilPrincipal(t *testing.T) {
	assert.False(t, HasAll(nil, model.PermReadProducts))
}

func TestHasAnyRole(t *testing.T) {
	u := user(model.RoleTenantAdmin)
	assert.True(t, HasAnyRole(u, model.RoleTenantOwner, model.RoleTenantAdmin))
	assert.False(t, HasAnyRole(u, model.RoleSuperAdmin))
}

func TestDefaultPermissions(t *testing.T) {
	assert.ElementsMatch(t, model.AllPermissions, DefaultPermissions(model.RoleTenantOwner))
	assert.Contains(t, DefaultPermissions(model.RoleTenantAdmin), model.PermWriteSettings)
	assert.NotContains(t, DefaultPermissions(model.RoleTenantUser), model.PermDeleteProducts)
	assert.Empty(t, DefaultPermissions(model.RoleCustomer))
}

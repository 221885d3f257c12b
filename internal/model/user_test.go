package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	BcryptCost = bcrypt.MinCost
}

func TestUserValidate(t *testing.T) {
	tenantID := uint(1)
	u := &User{Name: "Jane", Email: " Jane@Example.COM ", TenantID: &tenantID}
	u.Normalize()

	assert.Equal(t, "jane@example.com", u.Email)
	assert.Equal(t, RoleCustomer, u.Role)
	assert.False(t, u.CustomerData.Data().CustomerSince.IsZero())
	assert.NoError(t, u.Validate())

	u.TenantID = nil
	assert.Error(t, u.Validate())
	u.Role = RoleSuperAdmin
	assert.NoError(t, u.Validate())

	u.Permissions = append(u.Permissions, Permission("fly"))
	assert.Error(t, u.Validate())
}

func TestPassword(t *testing.T) {
	u := &User{}
	assert.Error(t, u.SetPassword("12345"))
	require.NoError(t, u.SetPassword("secret1"))
	assert.True(t, u.CheckPassword("secret1"))
	assert.False(t, u.CheckPassword("secret2"))
}

func TestRecordOrder(t *testing.T) {
	u := &User{Role: RoleCustomer}
	now := time.Now()
	u.RecordOrder(25.5, now)
	u.RecordOrder(4.5, now)

	data := u.CustomerData.Data()
	assert.Equal(t, int64(2), data.TotalOrders)
	assert.InDelta(t, 30.0, data.TotalSpent, 1e-9)
	assert.Equal(t, &now, u.LastActive)
}

func TestAddressValidate(t *testing.T) {
	assert.NoError(t, testAddress().Validate())
	err := Address{Name: "x"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address_line_1")
}

package entitlement

import (
	"testing"

	principaldomain "github.com/smallbiznis/quotaguard/internal/principal/domain"
	"github.com/stretchr/testify/assert"
)

func testLimits() Limits {
	return Limits{
		Roles: []RoleLimits{
			{Role: "standard", DailyLimit: 50, MonthlyLimit: 1000},
			{Role: "support", DailyLimit: 200, MonthlyLimit: 5000},
		},
		BypassRole: "admin",
	}
}

func TestResolve_KnownRole(t *testing.T) {
	r := NewResolver(NewStaticHolder(testLimits()))

	policy := r.Resolve(principaldomain.Principal{Role: principaldomain.RoleSupport})

	assert.False(t, policy.Bypass)
	assert.Equal(t, int64(200), policy.DailyLimit)
	assert.Equal(t, int64(5000), policy.MonthlyLimit)
}

func TestResolve_UnknownRoleGetsMostRestrictive(t *testing.T) {
	r := NewResolver(NewStaticHolder(testLimits()))

	policy := r.Resolve(principaldomain.Principal{Role: principaldomain.Role("intern")})

	assert.False(t, policy.Bypass)
	assert.Equal(t, int64(50), policy.DailyLimit)
	assert.Equal(t, int64(1000), policy.MonthlyLimit)
}

func TestResolve_BypassAtAndAboveThreshold(t *testing.T) {
	r := NewResolver(NewStaticHolder(testLimits()))

	admin := r.Resolve(principaldomain.Principal{Role: principaldomain.RoleAdmin})
	superadmin := r.Resolve(principaldomain.Principal{Role: principaldomain.RoleSuperAdmin})
	support := r.Resolve(principaldomain.Principal{Role: principaldomain.RoleSupport})

	assert.True(t, admin.Bypass)
	assert.True(t, superadmin.Bypass)
	assert.False(t, support.Bypass)
}

func TestValidateLimits(t *testing.T) {
	assert.NoError(t, validateLimits(testLimits()))

	empty := Limits{BypassRole: "admin"}
	assert.Error(t, validateLimits(empty))

	negative := testLimits()
	negative.Roles[0].DailyLimit = 0
	assert.Error(t, validateLimits(negative))

	badBypass := testLimits()
	badBypass.BypassRole = "root"
	assert.Error(t, validateLimits(badBypass))
}

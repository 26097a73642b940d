package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/entitlement"
	principaldomain "github.com/smallbiznis/quotaguard/internal/principal/domain"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	"github.com/smallbiznis/quotaguard/internal/quota/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testStart = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func testLimits() entitlement.Limits {
	return entitlement.Limits{
		Roles: []entitlement.RoleLimits{
			{Role: "standard", DailyLimit: 2, MonthlyLimit: 5},
			{Role: "support", DailyLimit: 10, MonthlyLimit: 3},
		},
		BypassRole: "admin",
	}
}

func setupService(t *testing.T) (*gorm.DB, *clock.FakeClock, quotadomain.Service) {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, conn.AutoMigrate(&principaldomain.Principal{}, &quotadomain.Counter{}))

	fakeClock := clock.NewFakeClock(testStart)
	svc := NewService(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		Clock:    fakeClock,
		Repo:     repository.Provide(),
		Resolver: entitlement.NewResolver(entitlement.NewStaticHolder(testLimits())),
	})
	return conn, fakeClock, svc
}

func seedPrincipal(t *testing.T, conn *gorm.DB, role principaldomain.Role) snowflake.ID {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	p := principaldomain.Principal{
		ID:    node.Generate(),
		Email: "user@example.com",
		Role:  role,
	}
	require.NoError(t, conn.Create(&p).Error)
	return p.ID
}

func TestEvaluate_NewcomerHasFullAllowance(t *testing.T) {
	conn, _, svc := setupService(t)
	id := seedPrincipal(t, conn, principaldomain.RoleStandard)

	decision, err := svc.Evaluate(context.Background(), id)
	require.NoError(t, err)

	assert.True(t, decision.Allowed)
	assert.False(t, decision.Bypass)
	assert.Equal(t, int64(2), decision.Remaining)
	assert.WithinDuration(t, testStart.Add(24*time.Hour), decision.ResetAt, time.Second)
	assert.Equal(t, 0, decision.UsedPercent)
}

func TestEvaluate_DoesNotConsume(t *testing.T) {
	conn, _, svc := setupService(t)
	id := seedPrincipal(t, conn, principaldomain.RoleStandard)

	for i := 0; i < 5; i++ {
		decision, err := svc.Evaluate(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, int64(2), decision.Remaining)
	}
}

func TestCheckAndIncrement_DeniesAtDailyLimit(t *testing.T) {
	conn, _, svc := setupService(t)
	id := seedPrincipal(t, conn, principaldomain.RoleStandard)
	ctx := context.Background()

	first, err := svc.CheckAndIncrement(ctx, id)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, int64(1), first.Remaining)

	second, err := svc.CheckAndIncrement(ctx, id)
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.Equal(t, int64(0), second.Remaining)

	third, err := svc.CheckAndIncrement(ctx, id)
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Equal(t, int64(0), third.Remaining)
	assert.WithinDuration(t, testStart.Add(24*time.Hour), third.ResetAt, time.Second)
	assert.Equal(t, 100, third.UsedPercent)

	// A denied call must not consume anything.
	var counter quotadomain.Counter
	require.NoError(t, conn.First(&counter, "principal_id = ?", id).Error)
	assert.Equal(t, int64(2), counter.DailyCount)
}

func TestCheckAndIncrement_DailyRollover(t *testing.T) {
	conn, fakeClock, svc := setupService(t)
	id := seedPrincipal(t, conn, principaldomain.RoleStandard)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.CheckAndIncrement(ctx, id)
		require.NoError(t, err)
	}
	denied, err := svc.CheckAndIncrement(ctx, id)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)

	fakeClock.Advance(24*time.Hour + time.Minute)

	decision, err := svc.CheckAndIncrement(ctx, id)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(1), decision.Remaining)

	var counter quotadomain.Counter
	require.NoError(t, conn.First(&counter, "principal_id = ?", id).Error)
	assert.Equal(t, int64(1), counter.DailyCount)
	assert.WithinDuration(t, fakeClock.Now(), counter.DailyPeriodStart, time.Second)
	// Monthly window is untouched by a daily rollover.
	assert.Equal(t, int64(3), counter.MonthlyCount)
}

func TestCheckAndIncrement_MonthlyLimitBinds(t *testing.T) {
	conn, _, svc := setupService(t)
	id := seedPrincipal(t, conn, principaldomain.RoleSupport)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := svc.CheckAndIncrement(ctx, id)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	denied, err := svc.CheckAndIncrement(ctx, id)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.WithinDuration(t, testStart.AddDate(0, 1, 0), denied.ResetAt, time.Second)
}

func TestCheckAndIncrement_BypassRecordsUsage(t *testing.T) {
	conn, _, svc := setupService(t)
	id := seedPrincipal(t, conn, principaldomain.RoleAdmin)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		decision, err := svc.CheckAndIncrement(ctx, id)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.True(t, decision.Bypass)
	}

	var counter quotadomain.Counter
	require.NoError(t, conn.First(&counter, "principal_id = ?", id).Error)
	assert.Equal(t, int64(10), counter.DailyCount)
	assert.Equal(t, int64(10), counter.MonthlyCount)
}

func TestEvaluate_DemotionClampsDisplayNotCounts(t *testing.T) {
	conn, _, svc := setupService(t)
	id := seedPrincipal(t, conn, principaldomain.RoleSupport)
	ctx := context.Background()

	_, err := svc.CheckAndIncrement(ctx, id)
	require.NoError(t, err)
	_, err = svc.CheckAndIncrement(ctx, id)
	require.NoError(t, err)
	_, err = svc.CheckAndIncrement(ctx, id)
	require.NoError(t, err)

	// Demote below the usage already accrued.
	require.NoError(t, conn.Model(&principaldomain.Principal{}).
		Where("id = ?", id).
		Update("role", principaldomain.RoleStandard).Error)

	decision, err := svc.Evaluate(ctx, id)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, int64(0), decision.Remaining)
	assert.Equal(t, 100, decision.UsedPercent)

	// Stored counts keep their real value.
	var counter quotadomain.Counter
	require.NoError(t, conn.First(&counter, "principal_id = ?", id).Error)
	assert.Equal(t, int64(3), counter.DailyCount)
}

func TestQuotaOperations_PrincipalLifecycleErrors(t *testing.T) {
	conn, _, svc := setupService(t)
	ctx := context.Background()

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	_, err = svc.Evaluate(ctx, node.Generate())
	assert.ErrorIs(t, err, principaldomain.ErrNotFound)

	id := seedPrincipal(t, conn, principaldomain.RoleStandard)
	now := testStart
	require.NoError(t, conn.Model(&principaldomain.Principal{}).
		Where("id = ?", id).
		Update("deleted_at", now).Error)

	_, err = svc.Evaluate(ctx, id)
	assert.ErrorIs(t, err, principaldomain.ErrGone)
	_, err = svc.CheckAndIncrement(ctx, id)
	assert.ErrorIs(t, err, principaldomain.ErrGone)
}

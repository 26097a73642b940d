package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	auditrepo "github.com/smallbiznis/quotaguard/internal/audit/repository"
	"github.com/smallbiznis/quotaguard/internal/capture"
	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/events"
	"github.com/smallbiznis/quotaguard/internal/principal/domain"
	"github.com/smallbiznis/quotaguard/internal/principal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var principalStart = time.Date(2025, 7, 15, 9, 0, 0, 0, time.UTC)

// recordingSubscriber collects published events for assertions.
type recordingSubscriber struct {
	events []any
}

func (r *recordingSubscriber) Notify(_ context.Context, event any) {
	r.events = append(r.events, event)
}

type principalFixture struct {
	conn *gorm.DB
	node *snowflake.Node
	subs *recordingSubscriber
	svc  domain.Service
}

func setupPrincipal(t *testing.T) principalFixture {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, conn.AutoMigrate(&domain.Principal{}, &auditdomain.Entry{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(principalStart)
	require.NoError(t, conn.Use(capture.New(node, fakeClock, auditrepo.Provide(), zap.NewNop())))

	subs := &recordingSubscriber{}
	svc := NewService(Params{
		DB:        conn,
		Log:       zap.NewNop(),
		Repo:      repository.Provide(conn),
		Publisher: events.NewPublisher(zap.NewNop(), subs),
	})
	return principalFixture{conn: conn, node: node, subs: subs, svc: svc}
}

func (f principalFixture) seed(t *testing.T, role domain.Role) domain.Principal {
	t.Helper()
	p := domain.Principal{
		ID:    f.node.Generate(),
		Email: "member@example.com",
		Role:  role,
	}
	require.NoError(t, f.conn.Create(&p).Error)
	return p
}

func TestUpdateRole(t *testing.T) {
	f := setupPrincipal(t)
	p := f.seed(t, domain.RoleStandard)
	actor := f.node.Generate()

	updated, err := f.svc.UpdateRole(context.Background(), domain.UpdateRoleRequest{
		PrincipalID: p.ID,
		NewRole:     "Support",
		ActorID:     &actor,
		Reason:      "escalation rota",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSupport, updated.Role)

	require.Len(t, f.subs.events, 1)
	evt, ok := f.subs.events[0].(events.RoleChanged)
	require.True(t, ok)
	assert.Equal(t, p.ID, evt.PrincipalID)
	assert.Equal(t, "standard", evt.OldRole)
	assert.Equal(t, "support", evt.NewRole)
	require.NotNil(t, evt.ActorID)
	assert.Equal(t, actor, *evt.ActorID)

	var entries []auditdomain.Entry
	require.NoError(t, f.conn.Where("principal_id = ? AND field_name = ?", p.ID, "role").Find(&entries).Error)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Reason)
	assert.Equal(t, "escalation rota", *entries[0].Reason)
}

func TestUpdateRole_SameRolePublishesNothing(t *testing.T) {
	f := setupPrincipal(t)
	p := f.seed(t, domain.RoleAdmin)

	updated, err := f.svc.UpdateRole(context.Background(), domain.UpdateRoleRequest{
		PrincipalID: p.ID,
		NewRole:     "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, updated.Role)
	assert.Empty(t, f.subs.events)
}

func TestUpdateRole_UnknownRoleRejectedBeforeWrite(t *testing.T) {
	f := setupPrincipal(t)
	p := f.seed(t, domain.RoleStandard)

	_, err := f.svc.UpdateRole(context.Background(), domain.UpdateRoleRequest{
		PrincipalID: p.ID,
		NewRole:     "root",
	})
	assert.ErrorIs(t, err, domain.ErrUnknownRole)

	var entries int64
	require.NoError(t, f.conn.Model(&auditdomain.Entry{}).Count(&entries).Error)
	assert.Equal(t, int64(0), entries)
}

func TestUpdateRole_LifecycleErrors(t *testing.T) {
	f := setupPrincipal(t)

	_, err := f.svc.UpdateRole(context.Background(), domain.UpdateRoleRequest{
		PrincipalID: f.node.Generate(),
		NewRole:     "support",
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	p := f.seed(t, domain.RoleStandard)
	require.NoError(t, f.conn.Model(&domain.Principal{}).
		Where("id = ?", p.ID).
		Update("deleted_at", principalStart).Error)

	_, err = f.svc.UpdateRole(context.Background(), domain.UpdateRoleRequest{
		PrincipalID: p.ID,
		NewRole:     "support",
	})
	assert.ErrorIs(t, err, domain.ErrGone)
}

func TestUpdateProfile(t *testing.T) {
	f := setupPrincipal(t)
	p := f.seed(t, domain.RoleStandard)

	email := "  renamed@example.com "
	verified := true
	updated, err := f.svc.UpdateProfile(context.Background(), domain.UpdateProfileRequest{
		PrincipalID: p.ID,
		Email:       &email,
		Verified:    &verified,
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed@example.com", updated.Email)
	assert.True(t, updated.Verified)

	var entries []auditdomain.Entry
	require.NoError(t, f.conn.Where("principal_id = ?", p.ID).Find(&entries).Error)
	assert.Len(t, entries, 2)
}

func TestUpdateProfile_NoFieldsIsNoOp(t *testing.T) {
	f := setupPrincipal(t)
	p := f.seed(t, domain.RoleStandard)

	updated, err := f.svc.UpdateProfile(context.Background(), domain.UpdateProfileRequest{
		PrincipalID: p.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, p.Email, updated.Email)

	var entries int64
	require.NoError(t, f.conn.Model(&auditdomain.Entry{}).Count(&entries).Error)
	assert.Equal(t, int64(0), entries)
}

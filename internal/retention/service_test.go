package retention

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	auditrepo "github.com/smallbiznis/quotaguard/internal/audit/repository"
	auditservice "github.com/smallbiznis/quotaguard/internal/audit/service"
	"github.com/smallbiznis/quotaguard/internal/capture"
	"github.com/smallbiznis/quotaguard/internal/clock"
	"github.com/smallbiznis/quotaguard/internal/config"
	"github.com/smallbiznis/quotaguard/internal/events"
	principaldomain "github.com/smallbiznis/quotaguard/internal/principal/domain"
	quotadomain "github.com/smallbiznis/quotaguard/internal/quota/domain"
	quotarepo "github.com/smallbiznis/quotaguard/internal/quota/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var retentionStart = time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

const testGrace = 14 * 24 * time.Hour

type retentionFixture struct {
	conn      *gorm.DB
	node      *snowflake.Node
	fakeClock *clock.FakeClock
	svc       *Service
}

func setupRetention(t *testing.T) retentionFixture {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, conn.AutoMigrate(
		&principaldomain.Principal{},
		&quotadomain.Counter{},
		&auditdomain.Entry{},
		&auditdomain.ArchivedEntry{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fakeClock := clock.NewFakeClock(retentionStart)
	repo := auditrepo.Provide()
	require.NoError(t, conn.Use(capture.New(node, fakeClock, repo, zap.NewNop())))

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		Clock: fakeClock,
		Repo:  repo,
	})

	svc := NewService(Params{
		DB:        conn,
		Log:       zap.NewNop(),
		Clock:     fakeClock,
		Config:    config.Config{RetentionGracePeriod: testGrace},
		AuditSvc:  auditSvc,
		QuotaRepo: quotarepo.Provide(),
		Publisher: events.NewPublisher(zap.NewNop()),
	})

	return retentionFixture{conn: conn, node: node, fakeClock: fakeClock, svc: svc}
}

func (f retentionFixture) seed(t *testing.T) principaldomain.Principal {
	t.Helper()
	p := principaldomain.Principal{
		ID:    f.node.Generate(),
		Email: "leaver@example.com",
		Role:  principaldomain.RoleStandard,
	}
	require.NoError(t, f.conn.Create(&p).Error)
	return p
}

func (f retentionFixture) reload(t *testing.T, id snowflake.ID) principaldomain.Principal {
	t.Helper()
	var p principaldomain.Principal
	require.NoError(t, f.conn.First(&p, "id = ?", id).Error)
	return p
}

func TestScheduleDeletion(t *testing.T) {
	f := setupRetention(t)
	p := f.seed(t)
	actor := f.node.Generate()

	require.NoError(t, f.svc.ScheduleDeletion(context.Background(), p.ID, &actor, "user request"))

	row := f.reload(t, p.ID)
	require.NotNil(t, row.DeletionScheduledAt)
	assert.WithinDuration(t, retentionStart.Add(testGrace), *row.DeletionScheduledAt, time.Second)

	// The timestamp change is captured like any tracked field.
	var entries []auditdomain.Entry
	require.NoError(t, f.conn.Where("principal_id = ?", p.ID).Find(&entries).Error)
	require.Len(t, entries, 1)
	assert.Equal(t, "deletion_scheduled_at", entries[0].FieldName)
	assert.Equal(t, auditdomain.ChangeTypeDelete, entries[0].ChangeType)
	require.NotNil(t, entries[0].Reason)
	assert.Equal(t, "user request", *entries[0].Reason)

	err := f.svc.ScheduleDeletion(context.Background(), p.ID, &actor, "again")
	assert.ErrorIs(t, err, ErrAlreadyScheduled)
}

func TestScheduleDeletion_GoneAndMissing(t *testing.T) {
	f := setupRetention(t)
	p := f.seed(t)

	require.NoError(t, f.conn.Model(&principaldomain.Principal{}).
		Where("id = ?", p.ID).
		Update("deleted_at", retentionStart).Error)

	err := f.svc.ScheduleDeletion(context.Background(), p.ID, nil, "")
	assert.ErrorIs(t, err, principaldomain.ErrGone)

	err = f.svc.ScheduleDeletion(context.Background(), f.node.Generate(), nil, "")
	assert.ErrorIs(t, err, principaldomain.ErrNotFound)
}

func TestRestoreAccount_WithinWindow(t *testing.T) {
	f := setupRetention(t)
	p := f.seed(t)

	require.NoError(t, f.svc.ScheduleDeletion(context.Background(), p.ID, nil, ""))
	f.fakeClock.Advance(13 * 24 * time.Hour)

	require.NoError(t, f.svc.RestoreAccount(context.Background(), p.ID, nil))

	row := f.reload(t, p.ID)
	assert.Nil(t, row.DeletionScheduledAt)

	// Clearing the schedule is a restore in the audit trail.
	var entries []auditdomain.Entry
	require.NoError(t, f.conn.Where("principal_id = ? AND change_type = ?",
		p.ID, auditdomain.ChangeTypeRestore).Find(&entries).Error)
	assert.Len(t, entries, 1)
}

func TestRestoreAccount_WindowClosed(t *testing.T) {
	f := setupRetention(t)
	p := f.seed(t)

	err := f.svc.RestoreAccount(context.Background(), p.ID, nil)
	assert.ErrorIs(t, err, ErrRestoreWindowClosed)

	require.NoError(t, f.svc.ScheduleDeletion(context.Background(), p.ID, nil, ""))
	f.fakeClock.Advance(testGrace + time.Hour)

	err = f.svc.RestoreAccount(context.Background(), p.ID, nil)
	assert.ErrorIs(t, err, ErrRestoreWindowClosed)
}

func TestSweepExpired(t *testing.T) {
	f := setupRetention(t)
	overdue := f.seed(t)
	pending := f.seed(t)
	untouched := f.seed(t)

	require.NoError(t, f.svc.ScheduleDeletion(context.Background(), overdue.ID, nil, ""))
	f.fakeClock.Advance(7 * 24 * time.Hour)
	require.NoError(t, f.svc.ScheduleDeletion(context.Background(), pending.ID, nil, ""))
	f.fakeClock.Advance(8 * 24 * time.Hour)

	swept, err := f.svc.SweepExpired(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	assert.NotNil(t, f.reload(t, overdue.ID).DeletedAt)
	assert.Nil(t, f.reload(t, pending.ID).DeletedAt)
	assert.Nil(t, f.reload(t, untouched.ID).DeletedAt)

	// Re-running over the same state is a no-op.
	swept, err = f.svc.SweepExpired(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, int64(0), swept)
}

func TestSweepExpired_BatchSizeBounds(t *testing.T) {
	f := setupRetention(t)
	ids := make([]snowflake.ID, 0, 5)
	for i := 0; i < 5; i++ {
		p := f.seed(t)
		ids = append(ids, p.ID)
		require.NoError(t, f.svc.ScheduleDeletion(context.Background(), p.ID, nil, ""))
	}
	f.fakeClock.Advance(testGrace + time.Hour)

	swept, err := f.svc.SweepExpired(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), swept)

	swept, err = f.svc.SweepExpired(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, int64(3), swept)

	for _, id := range ids {
		assert.NotNil(t, f.reload(t, id).DeletedAt)
	}
}

func TestArchiveAndPurge(t *testing.T) {
	f := setupRetention(t)
	p := f.seed(t)
	ctx := context.Background()

	// Build up history and a counter row.
	require.NoError(t, f.conn.Model(&principaldomain.Principal{}).
		Where("id = ?", p.ID).
		Update("role", principaldomain.RoleSupport).Error)
	require.NoError(t, f.conn.Create(&quotadomain.Counter{
		PrincipalID:        p.ID,
		DailyCount:         3,
		DailyPeriodStart:   retentionStart,
		MonthlyCount:       3,
		MonthlyPeriodStart: retentionStart,
	}).Error)

	require.NoError(t, f.svc.ArchiveAndPurge(ctx, p.ID, nil))

	var principals int64
	require.NoError(t, f.conn.Model(&principaldomain.Principal{}).Where("id = ?", p.ID).Count(&principals).Error)
	assert.Equal(t, int64(0), principals)

	var counters int64
	require.NoError(t, f.conn.Model(&quotadomain.Counter{}).Where("principal_id = ?", p.ID).Count(&counters).Error)
	assert.Equal(t, int64(0), counters)

	var live int64
	require.NoError(t, f.conn.Model(&auditdomain.Entry{}).Where("principal_id = ?", p.ID).Count(&live).Error)
	assert.Equal(t, int64(0), live)

	var archived []auditdomain.ArchivedEntry
	require.NoError(t, f.conn.Where("principal_id = ?", p.ID).Find(&archived).Error)
	require.Len(t, archived, 1)
	assert.Equal(t, "role", archived[0].FieldName)
	assert.WithinDuration(t, retentionStart, archived[0].ArchivedAt, time.Second)

	err := f.svc.ArchiveAndPurge(ctx, p.ID, nil)
	assert.ErrorIs(t, err, principaldomain.ErrNotFound)
}

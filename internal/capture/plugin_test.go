package capture

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	auditrepo "github.com/smallbiznis/quotaguard/internal/audit/repository"
	"github.com/smallbiznis/quotaguard/internal/auditctx"
	"github.com/smallbiznis/quotaguard/internal/clock"
	principaldomain "github.com/smallbiznis/quotaguard/internal/principal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var captureStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func setupCapture(t *testing.T) (*gorm.DB, *snowflake.Node) {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, conn.AutoMigrate(
		&principaldomain.Principal{},
		&auditdomain.Entry{},
		&auditdomain.ArchivedEntry{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	plugin := New(node, clock.NewFakeClock(captureStart), auditrepo.Provide(), zap.NewNop())
	require.NoError(t, conn.Use(plugin))

	return conn, node
}

func createPrincipal(t *testing.T, conn *gorm.DB, node *snowflake.Node) principaldomain.Principal {
	t.Helper()
	p := principaldomain.Principal{
		ID:    node.Generate(),
		Email: "case@example.com",
		Role:  principaldomain.RoleStandard,
		Tier:  "free",
	}
	require.NoError(t, conn.Create(&p).Error)
	return p
}

func entriesFor(t *testing.T, conn *gorm.DB, id snowflake.ID) []auditdomain.Entry {
	t.Helper()
	var entries []auditdomain.Entry
	require.NoError(t, conn.Where("principal_id = ?", id).Order("id").Find(&entries).Error)
	return entries
}

func TestCapture_RowCreationIsNotAudited(t *testing.T) {
	conn, node := setupCapture(t)
	p := createPrincipal(t, conn, node)

	assert.Empty(t, entriesFor(t, conn, p.ID))
}

func TestCapture_RoleChangeWritesEntry(t *testing.T) {
	conn, node := setupCapture(t)
	p := createPrincipal(t, conn, node)

	actor := node.Generate()
	ctx := auditctx.WithActorID(context.Background(), &actor)
	ctx = auditctx.WithReason(ctx, "support escalation")
	ctx = auditctx.WithRequestID(ctx, "req-123")

	require.NoError(t, conn.WithContext(ctx).
		Model(&principaldomain.Principal{}).
		Where("id = ?", p.ID).
		Update("role", principaldomain.RoleSupport).Error)

	entries := entriesFor(t, conn, p.ID)
	require.Len(t, entries, 1)
	entry := entries[0]

	assert.Equal(t, "role", entry.FieldName)
	require.NotNil(t, entry.OldValue)
	require.NotNil(t, entry.NewValue)
	assert.Equal(t, "standard", *entry.OldValue)
	assert.Equal(t, "support", *entry.NewValue)
	assert.Equal(t, auditdomain.ChangeTypeUpdate, entry.ChangeType)
	assert.Equal(t, p.Email, entry.PrincipalEmail)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, actor, *entry.ActorID)
	require.NotNil(t, entry.Reason)
	assert.Equal(t, "support escalation", *entry.Reason)
	assert.Equal(t, "req-123", entry.Metadata["request_id"])
	assert.WithinDuration(t, captureStart, entry.CreatedAt, time.Second)
}

func TestCapture_UnchangedWriteProducesNothing(t *testing.T) {
	conn, node := setupCapture(t)
	p := createPrincipal(t, conn, node)

	require.NoError(t, conn.
		Model(&principaldomain.Principal{}).
		Where("id = ?", p.ID).
		Update("role", principaldomain.RoleStandard).Error)

	assert.Empty(t, entriesFor(t, conn, p.ID))
}

func TestCapture_MultiFieldUpdateWritesOneEntryPerField(t *testing.T) {
	conn, node := setupCapture(t)
	p := createPrincipal(t, conn, node)

	require.NoError(t, conn.
		Model(&principaldomain.Principal{}).
		Where("id = ?", p.ID).
		Updates(map[string]any{
			"first_name": "Jo",
			"tier":       "pro",
			"verified":   true,
		}).Error)

	entries := entriesFor(t, conn, p.ID)
	require.Len(t, entries, 3)
	fields := map[string]bool{}
	for _, entry := range entries {
		fields[entry.FieldName] = true
	}
	assert.True(t, fields["first_name"])
	assert.True(t, fields["tier"])
	assert.True(t, fields["verified"])
}

func TestCapture_BulkUpdateWritesEntryPerRow(t *testing.T) {
	conn, node := setupCapture(t)

	principals := make([]principaldomain.Principal, 3)
	for i := range principals {
		principals[i] = principaldomain.Principal{
			ID:    node.Generate(),
			Email: "bulk@example.com",
			Role:  principaldomain.RoleStandard,
			Tier:  "free",
		}
		require.NoError(t, conn.Create(&principals[i]).Error)
	}

	require.NoError(t, conn.
		Model(&principaldomain.Principal{}).
		Where("tier = ?", "free").
		Update("role", principaldomain.RoleSupport).Error)

	for _, p := range principals {
		entries := entriesFor(t, conn, p.ID)
		require.Len(t, entries, 1)
		assert.Equal(t, "role", entries[0].FieldName)
		require.NotNil(t, entries[0].OldValue)
		require.NotNil(t, entries[0].NewValue)
		assert.Equal(t, "standard", *entries[0].OldValue)
		assert.Equal(t, "support", *entries[0].NewValue)
	}
}

func TestCapture_RoleRoundTripWritesBothEntries(t *testing.T) {
	conn, node := setupCapture(t)
	p := createPrincipal(t, conn, node)

	require.NoError(t, conn.
		Model(&principaldomain.Principal{}).
		Where("id = ?", p.ID).
		Update("role", principaldomain.RoleSupport).Error)
	require.NoError(t, conn.
		Model(&principaldomain.Principal{}).
		Where("id = ?", p.ID).
		Update("role", principaldomain.RoleStandard).Error)

	entries := entriesFor(t, conn, p.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, "support", *entries[0].NewValue)
	assert.Equal(t, "standard", *entries[1].NewValue)
	assert.Equal(t, "support", *entries[1].OldValue)

	var current principaldomain.Principal
	require.NoError(t, conn.First(&current, "id = ?", p.ID).Error)
	assert.Equal(t, principaldomain.RoleStandard, current.Role)
}

func TestCapture_RawUpdateIsAuditedToo(t *testing.T) {
	conn, node := setupCapture(t)
	p := createPrincipal(t, conn, node)

	// Administrative writes through the ORM without any service layer
	// still produce entries.
	require.NoError(t, conn.
		Model(&principaldomain.Principal{}).
		Where("email = ?", p.Email).
		Update("tier", "enterprise").Error)

	entries := entriesFor(t, conn, p.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, "tier", entries[0].FieldName)
}

func TestCapture_DeletionLifecycleChangeTypes(t *testing.T) {
	conn, node := setupCapture(t)
	p := createPrincipal(t, conn, node)
	deadline := captureStart.Add(14 * 24 * time.Hour)

	require.NoError(t, conn.
		Model(&principaldomain.Principal{}).
		Where("id = ?", p.ID).
		Update("deletion_scheduled_at", deadline).Error)

	require.NoError(t, conn.
		Model(&principaldomain.Principal{}).
		Where("id = ?", p.ID).
		Update("deletion_scheduled_at", nil).Error)

	require.NoError(t, conn.
		Model(&principaldomain.Principal{}).
		Where("id = ?", p.ID).
		Update("deleted_at", captureStart).Error)

	entries := entriesFor(t, conn, p.ID)
	require.Len(t, entries, 3)
	assert.Equal(t, auditdomain.ChangeTypeDelete, entries[0].ChangeType)
	assert.Equal(t, auditdomain.ChangeTypeRestore, entries[1].ChangeType)
	assert.Equal(t, auditdomain.ChangeTypeDelete, entries[2].ChangeType)
}

func TestCapture_GuardBlocksDeleteWhileEntriesLive(t *testing.T) {
	conn, node := setupCapture(t)
	p := createPrincipal(t, conn, node)

	require.NoError(t, conn.
		Model(&principaldomain.Principal{}).
		Where("id = ?", p.ID).
		Update("role", principaldomain.RoleSupport).Error)

	err := conn.Where("id = ?", p.ID).Delete(&principaldomain.Principal{}).Error
	assert.ErrorIs(t, err, auditdomain.ErrRestrictedDeletion)

	var count int64
	require.NoError(t, conn.Model(&principaldomain.Principal{}).Where("id = ?", p.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// Once the history moves out of the live store, deletion proceeds.
	require.NoError(t, conn.Exec("DELETE FROM audit_entries WHERE principal_id = ?", p.ID).Error)
	require.NoError(t, conn.Where("id = ?", p.ID).Delete(&principaldomain.Principal{}).Error)
	require.NoError(t, conn.Model(&principaldomain.Principal{}).Where("id = ?", p.ID).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestCapture_AuditFailureAbortsMutation(t *testing.T) {
	conn, node := setupCapture(t)
	p := createPrincipal(t, conn, node)

	require.NoError(t, conn.Migrator().DropTable("audit_entries"))

	err := conn.
		Model(&principaldomain.Principal{}).
		Where("id = ?", p.ID).
		Update("role", principaldomain.RoleAdmin).Error
	require.Error(t, err)

	var current principaldomain.Principal
	require.NoError(t, conn.First(&current, "id = ?", p.ID).Error)
	assert.Equal(t, principaldomain.RoleStandard, current.Role)
}

// Package capture attaches field-change auditing to the store itself, so
// raw administrative mutations are audited identically to mutations made
// through any service API. The hook fires once per affected row inside the
// mutation's own transaction: if an audit row cannot be written, the field
// change does not persist either.
package capture

import (
	"context"
	"reflect"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/quotaguard/internal/audit/domain"
	"github.com/smallbiznis/quotaguard/internal/auditctx"
	"github.com/smallbiznis/quotaguard/internal/clock"
	principaldomain "github.com/smallbiznis/quotaguard/internal/principal/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const snapshotKey = "quotaguard:capture:snapshot"

// Plugin implements gorm.Plugin. Row creation is deliberately not hooked:
// default-value initialization on insert is noise, only subsequent changes
// are compliance-relevant.
type Plugin struct {
	node *snowflake.Node
	clk  clock.Clock
	repo auditdomain.Repository
	log  *zap.Logger
}

func New(node *snowflake.Node, clk clock.Clock, repo auditdomain.Repository, log *zap.Logger) *Plugin {
	return &Plugin{
		node: node,
		clk:  clk,
		repo: repo,
		log:  log.Named("capture"),
	}
}

func (p *Plugin) Name() string { return "quotaguard:capture" }

func (p *Plugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Update().Before("gorm:update").
		Register("quotaguard:capture_before_update", p.beforeUpdate); err != nil {
		return err
	}
	if err := db.Callback().Update().After("gorm:update").
		Register("quotaguard:capture_after_update", p.afterUpdate); err != nil {
		return err
	}
	return db.Callback().Delete().Before("gorm:delete").
		Register("quotaguard:capture_guard_delete", p.guardDelete)
}

// beforeUpdate snapshots every row the statement is about to touch, using
// the statement's own connection so the read happens inside the mutation's
// transaction.
func (p *Plugin) beforeUpdate(db *gorm.DB) {
	if db.Error != nil || !targetsPrincipals(db.Statement) {
		return
	}

	query, ok := p.matchedRowsQuery(db)
	if !ok {
		return
	}

	var priors []principaldomain.Principal
	if err := query.Find(&priors).Error; err != nil {
		_ = db.AddError(err)
		return
	}
	db.Statement.Settings.Store(snapshotKey, priors)
}

// afterUpdate re-reads the touched rows by primary key, diffs the tracked
// fields against the snapshot and writes one audit entry per changed field
// per row. Errors abort the surrounding transaction.
func (p *Plugin) afterUpdate(db *gorm.DB) {
	if db.Error != nil || !targetsPrincipals(db.Statement) {
		return
	}

	stored, ok := db.Statement.Settings.LoadAndDelete(snapshotKey)
	if !ok {
		return
	}
	priors, ok := stored.([]principaldomain.Principal)
	if !ok || len(priors) == 0 {
		return
	}

	ids := make([]snowflake.ID, 0, len(priors))
	byID := make(map[snowflake.ID]principaldomain.Principal, len(priors))
	for _, prior := range priors {
		ids = append(ids, prior.ID)
		byID[prior.ID] = prior
	}

	var current []principaldomain.Principal
	if err := p.session(db).Where("id IN ?", ids).Find(&current).Error; err != nil {
		_ = db.AddError(err)
		return
	}

	ctx := db.Statement.Context
	now := p.clk.Now()
	actorID := auditctx.ActorIDFromContext(ctx)
	reason := reasonPtr(auditctx.ReasonFromContext(ctx))
	metadata := p.entryMetadata(ctx)

	var entries []auditdomain.Entry
	for _, row := range current {
		prior, ok := byID[row.ID]
		if !ok {
			continue
		}
		for _, field := range trackedFields {
			oldValue := field.Value(prior)
			newValue := field.Value(row)
			if equalValue(oldValue, newValue) {
				continue
			}
			entries = append(entries, auditdomain.Entry{
				ID:             p.node.Generate(),
				PrincipalID:    row.ID,
				PrincipalEmail: row.Email,
				FieldName:      field.Name,
				OldValue:       oldValue,
				NewValue:       newValue,
				ChangeType:     classifyChange(field.Name, oldValue, newValue),
				ActorID:        actorID,
				Reason:         reason,
				Metadata:       metadata,
				CreatedAt:      now,
			})
		}
	}
	if len(entries) == 0 {
		return
	}

	if err := p.repo.Insert(ctx, p.session(db), entries); err != nil {
		_ = db.AddError(err)
		return
	}
	p.log.Debug("audit entries captured",
		zap.Int("entries", len(entries)),
		zap.Int("rows", len(current)),
	)
}

// guardDelete blocks physical removal of any principal that live audit
// entries still reference. Archival is the only path around it.
func (p *Plugin) guardDelete(db *gorm.DB) {
	if db.Error != nil || !targetsPrincipals(db.Statement) {
		return
	}

	query, ok := p.matchedRowsQuery(db)
	if !ok {
		return
	}

	var ids []snowflake.ID
	if err := query.Pluck("id", &ids).Error; err != nil {
		_ = db.AddError(err)
		return
	}
	if len(ids) == 0 {
		return
	}

	var referenced int64
	err := p.session(db).Model(&auditdomain.Entry{}).
		Where("principal_id IN ?", ids).
		Count(&referenced).Error
	if err != nil {
		_ = db.AddError(err)
		return
	}
	if referenced > 0 {
		_ = db.AddError(auditdomain.ErrRestrictedDeletion)
	}
}

// matchedRowsQuery builds a SELECT over the rows the pending statement
// will touch: the statement's own WHERE conditions when present, otherwise
// the primary key carried on the destination value.
func (p *Plugin) matchedRowsQuery(db *gorm.DB) (*gorm.DB, bool) {
	query := p.session(db).Model(&principaldomain.Principal{})

	if c, ok := db.Statement.Clauses["WHERE"]; ok {
		if where, ok := c.Expression.(clause.Where); ok && len(where.Exprs) > 0 {
			return query.Clauses(clause.Where{Exprs: where.Exprs}), true
		}
	}
	if ids := destinationIDs(db.Statement); len(ids) > 0 {
		return query.Where("id IN ?", ids), true
	}
	// Global updates are rejected by gorm itself; nothing to snapshot.
	return nil, false
}

// session opens a genuinely fresh statement on the mutation's connection,
// so snapshot reads and audit writes share its transaction. Session-based
// cloning is unusable here: inside a callback the in-flight statement
// already carries its built SQL, and any non-NewDB session (including a
// chained WithContext) clones that SQL and replays the mutation instead of
// running the helper query.
func (p *Plugin) session(db *gorm.DB) *gorm.DB {
	tx := &gorm.DB{Config: db.Config}
	tx.Statement = &gorm.Statement{
		DB:        tx,
		ConnPool:  db.Statement.ConnPool,
		Context:   db.Statement.Context,
		Clauses:   map[string]clause.Clause{},
		Vars:      make([]interface{}, 0, 8),
		SkipHooks: true,
	}
	return tx
}

func (p *Plugin) entryMetadata(ctx context.Context) datatypes.JSONMap {
	metadata := datatypes.JSONMap{}
	if requestID := auditctx.RequestIDFromContext(ctx); requestID != "" {
		metadata["request_id"] = requestID
	}
	if ip := auditctx.IPAddressFromContext(ctx); ip != "" {
		metadata["ip_address"] = ip
	}
	if ua := auditctx.UserAgentFromContext(ctx); ua != "" {
		metadata["user_agent"] = ua
	}
	if label := auditctx.ActorLabelFromContext(ctx); label != "" {
		metadata["actor"] = label
	}
	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

func targetsPrincipals(stmt *gorm.Statement) bool {
	if stmt == nil {
		return false
	}
	if stmt.Table == (principaldomain.Principal{}).TableName() {
		return true
	}
	return stmt.Schema != nil && stmt.Schema.Table == (principaldomain.Principal{}).TableName()
}

func destinationIDs(stmt *gorm.Statement) []snowflake.ID {
	rv := stmt.ReflectValue
	switch rv.Kind() {
	case reflect.Struct:
		if p, ok := rv.Interface().(principaldomain.Principal); ok && p.ID != 0 {
			return []snowflake.ID{p.ID}
		}
	case reflect.Slice, reflect.Array:
		var ids []snowflake.ID
		for i := 0; i < rv.Len(); i++ {
			item := rv.Index(i)
			if item.Kind() == reflect.Ptr {
				item = item.Elem()
			}
			if p, ok := item.Interface().(principaldomain.Principal); ok && p.ID != 0 {
				ids = append(ids, p.ID)
			}
		}
		return ids
	}
	if dest, ok := stmt.Dest.(*principaldomain.Principal); ok && dest.ID != 0 {
		return []snowflake.ID{dest.ID}
	}
	return nil
}

func reasonPtr(reason string) *string {
	if reason == "" {
		return nil
	}
	return &reason
}

// Package events exposes lifecycle notifications to collaborators. Delivery
// beyond the process boundary is the subscriber's responsibility; the
// default sink only logs.
package events

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/quotaguard/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

type RoleChanged struct {
	PrincipalID snowflake.ID
	OldRole     string
	NewRole     string
	ActorID     *snowflake.ID
}

type DeletionScheduled struct {
	PrincipalID snowflake.ID
	PurgeAfter  time.Time
}

type AccountRestored struct {
	PrincipalID snowflake.ID
}

type PrincipalPurged struct {
	PrincipalID     snowflake.ID
	ArchivedEntries int64
}

// Publisher fans events out to registered subscribers. Publish must not
// block request-path operations.
type Publisher interface {
	Publish(ctx context.Context, event any)
}

type Subscriber interface {
	Notify(ctx context.Context, event any)
}

type publisher struct {
	log  *zap.Logger
	subs []Subscriber
}

func NewPublisher(log *zap.Logger, subs ...Subscriber) Publisher {
	return &publisher{
		log:  log.Named("events"),
		subs: subs,
	}
}

func (p *publisher) Publish(ctx context.Context, event any) {
	fields := []zap.Field{zap.Any("event", event)}
	if ann := correlation.Annotations(ctx); len(ann) > 0 {
		fields = append(fields, zap.Any("telemetry", ann))
	}
	p.log.Debug("event published", fields...)
	for _, sub := range p.subs {
		sub.Notify(ctx, event)
	}
}

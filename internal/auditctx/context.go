// Package auditctx carries audit attribution through request contexts so
// the store-level capture hook can stamp entries without caller plumbing.
package auditctx

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

type actorIDKey struct{}
type actorLabelKey struct{}
type reasonKey struct{}
type requestIDKey struct{}
type ipAddressKey struct{}
type userAgentKey struct{}

// WithActorID records the acting principal, when one is known.
func WithActorID(ctx context.Context, actorID *snowflake.ID) context.Context {
	if actorID == nil || *actorID == 0 {
		return ctx
	}
	return context.WithValue(ctx, actorIDKey{}, *actorID)
}

func ActorIDFromContext(ctx context.Context) *snowflake.ID {
	if ctx == nil {
		return nil
	}
	if id, ok := ctx.Value(actorIDKey{}).(snowflake.ID); ok && id != 0 {
		return &id
	}
	return nil
}

// WithActorLabel tags non-principal actors such as "system/sweeper".
func WithActorLabel(ctx context.Context, label string) context.Context {
	label = strings.TrimSpace(label)
	if label == "" {
		return ctx
	}
	return context.WithValue(ctx, actorLabelKey{}, label)
}

func ActorLabelFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if label, ok := ctx.Value(actorLabelKey{}).(string); ok {
		return label
	}
	return ""
}

func WithReason(ctx context.Context, reason string) context.Context {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ctx
	}
	return context.WithValue(ctx, reasonKey{}, reason)
}

func ReasonFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if reason, ok := ctx.Value(reasonKey{}).(string); ok {
		return reason
	}
	return ""
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

func WithIPAddress(ctx context.Context, ip string) context.Context {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, ipAddressKey{}, ip)
}

func IPAddressFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if ip, ok := ctx.Value(ipAddressKey{}).(string); ok {
		return ip
	}
	return ""
}

func WithUserAgent(ctx context.Context, ua string) context.Context {
	ua = strings.TrimSpace(ua)
	if ua == "" {
		return ctx
	}
	return context.WithValue(ctx, userAgentKey{}, ua)
}

func UserAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if ua, ok := ctx.Value(userAgentKey{}).(string); ok {
		return ua
	}
	return ""
}

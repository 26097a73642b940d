package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/quotaguard/internal/config"
)

const (
	keyRequestPrincipal = "quota:request:principal:%s"
	keyRequestEndpoint  = "quota:request:endpoint:%s"
	keySweepLease       = "quota:sweep:lease:%s"
)

// RequestLimiter throttles the HTTP surface ahead of quota evaluation and
// hands out the sweeper lease. Disabled when no redis is configured.
type RequestLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	principalRate  float64
	principalBurst int
	endpointRate   float64
	endpointBurst  int
	leaseTTL       time.Duration
}

func NewRequestLimiter(cfg config.Config) (*RequestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.PrincipalRate <= 0 || limitCfg.PrincipalBurst <= 0 {
		return nil, errors.New("principal rate limit must be positive")
	}
	if limitCfg.EndpointRate <= 0 || limitCfg.EndpointBurst <= 0 {
		return nil, errors.New("endpoint rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &RequestLimiter{
		enabled:        true,
		bucket:         NewTokenBucket(client),
		locker:         NewLocker(client),
		principalRate:  limitCfg.PrincipalRate,
		principalBurst: limitCfg.PrincipalBurst,
		endpointRate:   limitCfg.EndpointRate,
		endpointBurst:  limitCfg.EndpointBurst,
		leaseTTL:       time.Duration(limitCfg.SweepLockTTLSeconds) * time.Second,
	}, nil
}

func (l *RequestLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *RequestLimiter) AllowPrincipal(ctx context.Context, principalID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyRequestPrincipal, strings.TrimSpace(principalID))
	return l.bucket.Allow(ctx, key, l.principalRate, l.principalBurst)
}

func (l *RequestLimiter) AllowEndpoint(ctx context.Context, route string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyRequestEndpoint, strings.TrimSpace(route))
	return l.bucket.Allow(ctx, key, l.endpointRate, l.endpointBurst)
}

// TryLease acquires the named sweeper lease so only one instance runs a
// sweep at a time. ok=true without a locker means single-instance mode.
func (l *RequestLimiter) TryLease(ctx context.Context, name string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	key := fmt.Sprintf(keySweepLease, strings.TrimSpace(name))
	return l.locker.TryLock(ctx, key, l.leaseTTL)
}

func (l *RequestLimiter) ReleaseLease(ctx context.Context, name, token string) error {
	if !l.Enabled() {
		return nil
	}
	key := fmt.Sprintf(keySweepLease, strings.TrimSpace(name))
	return l.locker.Release(ctx, key, token)
}

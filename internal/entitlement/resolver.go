// Package entitlement derives a quota policy from a principal's current
// role. Resolution is deliberately uncached: every check re-reads the role
// passed in from the live store, so a mid-session demotion takes effect on
// the very next decision.
package entitlement

import (
	principaldomain "github.com/smallbiznis/quotaguard/internal/principal/domain"
)

// Policy is the role-derived quota decision input. Never persisted.
type Policy struct {
	DailyLimit   int64
	MonthlyLimit int64
	Bypass       bool
}

type Resolver struct {
	limits *LimitsHolder
}

func NewResolver(limits *LimitsHolder) *Resolver {
	return &Resolver{limits: limits}
}

// Resolve is side-effect-free and never fails: an unrecognized role gets
// the most restrictive configured policy.
func (r *Resolver) Resolve(p principaldomain.Principal) Policy {
	cfg := r.limits.Get()

	bypassRole, ok := principaldomain.ParseRole(cfg.BypassRole)
	if ok && p.Role.AtLeast(bypassRole) {
		return Policy{Bypass: true}
	}

	var fallback *RoleLimits
	for i := range cfg.Roles {
		row := &cfg.Roles[i]
		if row.Role == string(p.Role) {
			return Policy{DailyLimit: row.DailyLimit, MonthlyLimit: row.MonthlyLimit}
		}
		if fallback == nil ||
			row.DailyLimit < fallback.DailyLimit ||
			(row.DailyLimit == fallback.DailyLimit && row.MonthlyLimit < fallback.MonthlyLimit) {
			fallback = row
		}
	}
	if fallback == nil {
		return Policy{DailyLimit: 1, MonthlyLimit: 1}
	}
	return Policy{DailyLimit: fallback.DailyLimit, MonthlyLimit: fallback.MonthlyLimit}
}

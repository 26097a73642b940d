// Package domain contains per-principal usage counters and the quota
// decision types.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Period lengths for the two counter granularities. Monthly windows roll
// one calendar month from their start.
const DailyPeriod = 24 * time.Hour

// Counter stores both usage windows for one principal. Periods are not
// persisted as rows; rollover happens lazily at read time when now has
// crossed periodStart + periodLength, with no scheduled job involved.
type Counter struct {
	PrincipalID        snowflake.ID `gorm:"primaryKey" json:"principal_id"`
	DailyCount         int64        `gorm:"not null;default:0" json:"daily_count"`
	DailyPeriodStart   time.Time    `gorm:"not null" json:"daily_period_start"`
	MonthlyCount       int64        `gorm:"not null;default:0" json:"monthly_count"`
	MonthlyPeriodStart time.Time    `gorm:"not null" json:"monthly_period_start"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Counter) TableName() string { return "quota_counters" }

// DailyResetAt returns the end of the active daily window.
func (c Counter) DailyResetAt() time.Time {
	return c.DailyPeriodStart.Add(DailyPeriod)
}

// MonthlyResetAt returns the end of the active monthly window.
func (c Counter) MonthlyResetAt() time.Time {
	return c.MonthlyPeriodStart.AddDate(0, 1, 0)
}

// Rollover resets any window whose boundary has passed. Stored counts are
// never truncated to fit a smaller limit; a crossed boundary simply yields
// a fresh, correctly-sized window.
func (c *Counter) Rollover(now time.Time) bool {
	changed := false
	if !now.Before(c.DailyResetAt()) {
		c.DailyCount = 0
		c.DailyPeriodStart = now
		changed = true
	}
	if !now.Before(c.MonthlyResetAt()) {
		c.MonthlyCount = 0
		c.MonthlyPeriodStart = now
		changed = true
	}
	return changed
}

// NewCounter starts both windows at now with zero usage.
func NewCounter(principalID snowflake.ID, now time.Time) Counter {
	return Counter{
		PrincipalID:        principalID,
		DailyCount:         0,
		DailyPeriodStart:   now,
		MonthlyCount:       0,
		MonthlyPeriodStart: now,
	}
}

package services

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultUserDailyScans     = 6
	DefaultPropertyDailyScans = 20
)

// UsageCounter counts scan sessions already started. The session rows are
// the counter; there is no separate tally.
type UsageCounter interface {
	CountScanSessionsByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	CountScanSessionsByPropertySince(ctx context.Context, propertyID uuid.UUID, since time.Time) (int, error)
}

// UsageLimits are the daily scan caps. A non-positive cap is unlimited.
type UsageLimits struct {
	UserDaily     int
	PropertyDaily int
	Bypass        bool
}

// UsageDecision is the admission result for one scan request.
type UsageDecision struct {
	Allowed      bool
	Bypassed     bool
	UserUsed     int
	PropertyUsed int
}

// UsageGovernor admits or rejects scans against the daily caps.
type UsageGovernor struct {
	counter UsageCounter
	limits  UsageLimits
}

// NewUsageGovernor creates a governor over counter.
func NewUsageGovernor(counter UsageCounter, limits UsageLimits) *UsageGovernor {
	return &UsageGovernor{counter: counter, limits: limits}
}

// CheckAndReserve counts today's (UTC) sessions for the user and the
// property. A denial is returned as a *QuotaError; a counting failure is
// returned as an error and must fail the request.
//
// Nothing is written here: the session row created right after admission
// is what consumes the quota.
func (g *UsageGovernor) CheckAndReserve(ctx context.Context, userID, propertyID uuid.UUID, now time.Time) (UsageDecision, error) {
	if g.limits.Bypass {
		return UsageDecision{Allowed: true, Bypassed: true}, nil
	}

	dayStart, nextDay := utcDay(now)
	retryAfter := nextDay.Sub(now)

	var decision UsageDecision
	if g.limits.UserDaily > 0 {
		used, err := g.counter.CountScanSessionsByUserSince(ctx, userID, dayStart)
		if err != nil {
			return UsageDecision{}, Wrap(ErrPersistence, "quota check", "count user sessions", err)
		}
		decision.UserUsed = used
		if used >= g.limits.UserDaily {
			return decision, &QuotaError{Cap: CapUserDaily, Limit: g.limits.UserDaily, Used: used, RetryAfter: retryAfter}
		}
	}
	if g.limits.PropertyDaily > 0 {
		used, err := g.counter.CountScanSessionsByPropertySince(ctx, propertyID, dayStart)
		if err != nil {
			return UsageDecision{}, Wrap(ErrPersistence, "quota check", "count property sessions", err)
		}
		decision.PropertyUsed = used
		if used >= g.limits.PropertyDaily {
			return decision, &QuotaError{Cap: CapPropertyDaily, Limit: g.limits.PropertyDaily, Used: used, RetryAfter: retryAfter}
		}
	}

	decision.Allowed = true
	return decision, nil
}

func utcDay(now time.Time) (time.Time, time.Time) {
	u := now.UTC()
	start := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

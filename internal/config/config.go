package config

import (
	"fmt"
	"os"
	"strconv"

	"circulation/internal/models"
)

// LoanPolicy is the borrowing entitlement attached to a membership type.
type LoanPolicy struct {
	BorrowingLimit int
	LoanPeriodDays int
}

// Config holds the externally supplied circulation policy. Nothing in the
// service layer reads the environment directly; everything time- or
// money-sensitive flows through here.
type Config struct {
	FineDailyRateCents int64
	MaxRenewals        int
	Policies           map[models.MembershipType]LoanPolicy
}

// Default policy values, overridable per type through the environment.
var defaultPolicies = map[models.MembershipType]LoanPolicy{
	models.MembershipStudent:  {BorrowingLimit: 5, LoanPeriodDays: 14},
	models.MembershipFaculty:  {BorrowingLimit: 10, LoanPeriodDays: 30},
	models.MembershipStaff:    {BorrowingLimit: 8, LoanPeriodDays: 21},
	models.MembershipExternal: {BorrowingLimit: 3, LoanPeriodDays: 7},
}

// Load reads the circulation policy from the environment, falling back to the
// defaults above. Recognized variables:
//
//	FINE_DAILY_RATE_CENTS
//	MAX_RENEWALS
//	BORROW_LIMIT_<TYPE>, LOAN_PERIOD_DAYS_<TYPE>  (TYPE = STUDENT|FACULTY|STAFF|EXTERNAL)
func Load() (*Config, error) {
	cfg := &Config{
		FineDailyRateCents: 200,
		MaxRenewals:        2,
		Policies:           make(map[models.MembershipType]LoanPolicy, len(defaultPolicies)),
	}

	var err error
	if cfg.FineDailyRateCents, err = envInt64("FINE_DAILY_RATE_CENTS", cfg.FineDailyRateCents); err != nil {
		return nil, err
	}
	if cfg.MaxRenewals, err = envInt("MAX_RENEWALS", cfg.MaxRenewals); err != nil {
		return nil, err
	}

	for typ, def := range defaultPolicies {
		p := def
		if p.BorrowingLimit, err = envInt("BORROW_LIMIT_"+string(typ), p.BorrowingLimit); err != nil {
			return nil, err
		}
		if p.LoanPeriodDays, err = envInt("LOAN_PERIOD_DAYS_"+string(typ), p.LoanPeriodDays); err != nil {
			return nil, err
		}
		if p.BorrowingLimit < 0 || p.LoanPeriodDays <= 0 {
			return nil, fmt.Errorf("config: invalid loan policy for %s: %+v", typ, p)
		}
		cfg.Policies[typ] = p
	}

	if cfg.FineDailyRateCents < 0 {
		return nil, fmt.Errorf("config: FINE_DAILY_RATE_CENTS must be >= 0, got %d", cfg.FineDailyRateCents)
	}
	if cfg.MaxRenewals < 0 {
		return nil, fmt.Errorf("config: MAX_RENEWALS must be >= 0, got %d", cfg.MaxRenewals)
	}
	return cfg, nil
}

// Default returns the built-in policy, used by tests that do not care about
// the environment.
func Default() *Config {
	policies := make(map[models.MembershipType]LoanPolicy, len(defaultPolicies))
	for typ, p := range defaultPolicies {
		policies[typ] = p
	}
	return &Config{
		FineDailyRateCents: 200,
		MaxRenewals:        2,
		Policies:           policies,
	}
}

// PolicyFor returns the loan policy for a membership type. Unknown types get
// the external-member policy, the most restrictive one.
func (c *Config) PolicyFor(typ models.MembershipType) LoanPolicy {
	if p, ok := c.Policies[typ]; ok {
		return p
	}
	return c.Policies[models.MembershipExternal]
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func envInt64(key string, def int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

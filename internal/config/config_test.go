package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"circulation/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, int64(200), cfg.FineDailyRateCents)
	require.Equal(t, 2, cfg.MaxRenewals)
	require.Equal(t, LoanPolicy{BorrowingLimit: 5, LoanPeriodDays: 14}, cfg.PolicyFor(models.MembershipStudent))
	require.Equal(t, LoanPolicy{BorrowingLimit: 10, LoanPeriodDays: 30}, cfg.PolicyFor(models.MembershipFaculty))
	require.Equal(t, LoanPolicy{BorrowingLimit: 8, LoanPeriodDays: 21}, cfg.PolicyFor(models.MembershipStaff))
	require.Equal(t, LoanPolicy{BorrowingLimit: 3, LoanPeriodDays: 7}, cfg.PolicyFor(models.MembershipExternal))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FINE_DAILY_RATE_CENTS", "50")
	t.Setenv("MAX_RENEWALS", "1")
	t.Setenv("BORROW_LIMIT_STUDENT", "7")
	t.Setenv("LOAN_PERIOD_DAYS_EXTERNAL", "10")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, int64(50), cfg.FineDailyRateCents)
	require.Equal(t, 1, cfg.MaxRenewals)
	require.Equal(t, 7, cfg.PolicyFor(models.MembershipStudent).BorrowingLimit)
	require.Equal(t, 10, cfg.PolicyFor(models.MembershipExternal).LoanPeriodDays)
}

func TestLoadRejectsGarbage(t *testing.T) {
	t.Setenv("MAX_RENEWALS", "many")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsInvalidPolicy(t *testing.T) {
	t.Setenv("LOAN_PERIOD_DAYS_STUDENT", "0")
	_, err := Load()
	require.Error(t, err)
}

func TestUnknownTypeFallsBackToExternal(t *testing.T) {
	cfg := Default()
	require.Equal(t, cfg.PolicyFor(models.MembershipExternal), cfg.PolicyFor(models.MembershipType("ALUMNI")))
}

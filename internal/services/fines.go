package services

import (
	"time"

	"circulation/internal/models"
)

// CalculateFine computes the overdue charge for a loan, in cents.
//
// The charge covers whole calendar days (midnight UTC truncation) between the
// due date and the earlier of the return date and asOf. Partial days do not
// accrue: a loan returned late on its due date costs nothing. A loan that is
// not overdue at the reference point costs nothing.
//
// The caller supplies asOf, so the function is pure; the service passes the
// operation's `now` and tests pass fixed instants.
func CalculateFine(record *models.CirculationRecord, asOf time.Time, dailyRateCents int64) int64 {
	end := asOf
	if record.ReturnDate != nil && record.ReturnDate.Before(end) {
		end = *record.ReturnDate
	}
	if !end.After(record.DueDate) {
		return 0
	}

	dueMidnight := record.DueDate.UTC().Truncate(24 * time.Hour)
	endMidnight := end.UTC().Truncate(24 * time.Hour)

	days := int64(endMidnight.Sub(dueMidnight).Hours() / 24)
	if days <= 0 {
		return 0
	}
	return days * dailyRateCents
}

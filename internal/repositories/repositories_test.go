package repositories

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"circulation/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "repos.db") + "?_busy_timeout=10000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Book{},
		&models.Member{},
		&models.CirculationRecord{},
		&models.Fine{},
		&models.Reservation{},
	))
	return db
}

func seedBook(t *testing.T, db *gorm.DB, isbn string, quantity, available int) *models.Book {
	t.Helper()
	book := &models.Book{
		ISBN:              isbn,
		Title:             "T",
		Author:            "A",
		Quantity:          quantity,
		AvailableQuantity: available,
	}
	require.NoError(t, db.Create(book).Error)
	return book
}

func seedMember(t *testing.T, db *gorm.DB, email string) *models.Member {
	t.Helper()
	member := &models.Member{
		Email:          email,
		Name:           "M",
		MembershipType: models.MembershipStudent,
		Status:         models.MemberStatusActive,
		JoinedAt:       time.Now().UTC().AddDate(-1, 0, 0),
		ExpiresAt:      time.Now().UTC().AddDate(1, 0, 0),
	}
	require.NoError(t, db.Create(member).Error)
	return member
}

func TestMemberGetByIDForUpdate(t *testing.T) {
	db := newTestDB(t)
	repo := NewMemberRepository(db)
	member := seedMember(t, db, "lock@example.edu")

	// The locking clause is skipped on sqlite; the read must still work both
	// inside and outside a transaction.
	got, err := repo.GetByIDForUpdate(nil, member.ID)
	require.NoError(t, err)
	require.Equal(t, member.ID, got.ID)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		inTx, err := repo.GetByIDForUpdate(tx, member.ID)
		require.NoError(t, err)
		require.Equal(t, member.Email, inTx.Email)
		return nil
	}))

	_, err = repo.GetByIDForUpdate(nil, uuid.New())
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestDecrementAvailableStopsAtZero(t *testing.T) {
	db := newTestDB(t)
	repo := NewBookRepository(db)
	seedBook(t, db, "dec-isbn", 2, 2)

	for i := 0; i < 2; i++ {
		ok, err := repo.DecrementAvailable(nil, "dec-isbn")
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := repo.DecrementAvailable(nil, "dec-isbn")
	require.NoError(t, err)
	require.False(t, ok, "decrement below zero must be refused")

	book, err := repo.GetByISBN(nil, "dec-isbn")
	require.NoError(t, err)
	require.Equal(t, 0, book.AvailableQuantity)
}

func TestIncrementAvailableStopsAtQuantity(t *testing.T) {
	db := newTestDB(t)
	repo := NewBookRepository(db)
	seedBook(t, db, "inc-isbn", 2, 1)

	ok, err := repo.IncrementAvailable(nil, "inc-isbn")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.IncrementAvailable(nil, "inc-isbn")
	require.NoError(t, err)
	require.False(t, ok, "increment past quantity must be refused")

	book, err := repo.GetByISBN(nil, "inc-isbn")
	require.NoError(t, err)
	require.Equal(t, 2, book.AvailableQuantity)
}

func TestMarkReturnedGuardsDoubleClose(t *testing.T) {
	db := newTestDB(t)
	repo := NewCirculationRepository(db)
	book := seedBook(t, db, "ret-isbn", 1, 0)
	member := seedMember(t, db, "ret@example.edu")

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	record := &models.CirculationRecord{
		BookID:    book.ID,
		MemberID:  member.ID,
		IssueDate: now,
		DueDate:   now.AddDate(0, 0, 14),
		Status:    models.LoanStatusIssued,
	}
	require.NoError(t, repo.Create(nil, record))

	ok, err := repo.MarkReturned(nil, record.ID, now.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.MarkReturned(nil, record.ID, now.AddDate(0, 0, 8))
	require.NoError(t, err)
	require.False(t, ok, "a closed record must not be closed again")

	reloaded, err := repo.GetByID(nil, record.ID)
	require.NoError(t, err)
	require.Equal(t, models.LoanStatusReturned, reloaded.Status)
	require.NotNil(t, reloaded.ReturnDate)
	require.True(t, reloaded.ReturnDate.Equal(now.AddDate(0, 0, 7)), "first return date must stick")
}

func TestRenewGuardedByRenewalCount(t *testing.T) {
	db := newTestDB(t)
	repo := NewCirculationRepository(db)
	book := seedBook(t, db, "renew-isbn", 1, 0)
	member := seedMember(t, db, "renew@example.edu")

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	record := &models.CirculationRecord{
		BookID:    book.ID,
		MemberID:  member.ID,
		IssueDate: now,
		DueDate:   now.AddDate(0, 0, 14),
		Status:    models.LoanStatusIssued,
	}
	require.NoError(t, repo.Create(nil, record))

	newDue := now.AddDate(0, 0, 28)
	ok, err := repo.Renew(nil, record.ID, newDue, 0)
	require.NoError(t, err)
	require.True(t, ok)

	// A stale renewal (same expected count) must lose.
	ok, err = repo.Renew(nil, record.ID, now.AddDate(0, 0, 35), 0)
	require.NoError(t, err)
	require.False(t, ok)

	reloaded, err := repo.GetByID(nil, record.ID)
	require.NoError(t, err)
	require.Equal(t, 1, reloaded.RenewalCount)
	require.True(t, reloaded.DueDate.Equal(newDue))
	require.Equal(t, models.LoanStatusRenewed, reloaded.Status)
}

func TestOverdueRecordsRecomputedPerCall(t *testing.T) {
	db := newTestDB(t)
	repo := NewCirculationRepository(db)
	book := seedBook(t, db, "ovd-isbn", 1, 0)
	member := seedMember(t, db, "ovd@example.edu")

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	record := &models.CirculationRecord{
		BookID:    book.ID,
		MemberID:  member.ID,
		IssueDate: now,
		DueDate:   now.AddDate(0, 0, 14),
		Status:    models.LoanStatusIssued,
	}
	require.NoError(t, repo.Create(nil, record))

	overdue, err := repo.OverdueRecords(nil, now.AddDate(0, 0, 14))
	require.NoError(t, err)
	require.Empty(t, overdue)

	overdue, err = repo.OverdueRecords(nil, now.AddDate(0, 0, 15))
	require.NoError(t, err)
	require.Len(t, overdue, 1)

	// Closing the record removes it from the overdue view.
	ok, err := repo.MarkReturned(nil, record.ID, now.AddDate(0, 0, 16))
	require.NoError(t, err)
	require.True(t, ok)

	overdue, err = repo.OverdueRecords(nil, now.AddDate(0, 0, 20))
	require.NoError(t, err)
	require.Empty(t, overdue)
}

func TestFineSettleGuard(t *testing.T) {
	db := newTestDB(t)
	repo := NewFineRepository(db)
	member := seedMember(t, db, "fine@example.edu")

	fine := &models.Fine{
		MemberID:    member.ID,
		AmountCents: 300,
		Reason:      models.FineReasonOverdue,
		AssessedAt:  time.Now().UTC(),
		Status:      models.FineStatusPending,
	}
	require.NoError(t, repo.Create(nil, fine))

	ok, err := repo.Settle(nil, fine.ID, models.FineStatusPaid, "cash")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.Settle(nil, fine.ID, models.FineStatusWaived, "")
	require.NoError(t, err)
	require.False(t, ok, "settled fines are terminal")

	reloaded, err := repo.GetByID(nil, fine.ID)
	require.NoError(t, err)
	require.Equal(t, models.FineStatusPaid, reloaded.Status)
	require.Equal(t, "cash", reloaded.PaidMethod)
	require.Equal(t, int64(300), reloaded.AmountCents)
}

func TestReservationQueuePositions(t *testing.T) {
	db := newTestDB(t)
	repo := NewReservationRepository(db)
	book := seedBook(t, db, "res-isbn", 1, 0)
	first := seedMember(t, db, "res1@example.edu")
	second := seedMember(t, db, "res2@example.edu")

	pos, err := repo.NextQueuePosition(nil, book.ID)
	require.NoError(t, err)
	require.Equal(t, 1, pos)

	now := time.Now().UTC()
	require.NoError(t, repo.Create(nil, &models.Reservation{
		BookID: book.ID, MemberID: first.ID, QueuePosition: 1, CreatedAt: now,
	}))

	pos, err = repo.NextQueuePosition(nil, book.ID)
	require.NoError(t, err)
	require.Equal(t, 2, pos)

	require.NoError(t, repo.Create(nil, &models.Reservation{
		BookID: book.ID, MemberID: second.ID, QueuePosition: 2, CreatedAt: now,
	}))

	next, err := repo.GetNextForBook(nil, book.ID)
	require.NoError(t, err)
	require.Equal(t, first.ID, next.MemberID)

	require.NoError(t, repo.Delete(nil, next.ID))

	next, err = repo.GetNextForBook(nil, book.ID)
	require.NoError(t, err)
	require.Equal(t, second.ID, next.MemberID)
}

package services

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"circulation/internal/config"
	"circulation/internal/models"
	"circulation/internal/repositories"
)

// ─── Sentinel Errors ──────────────────────────────────────────────────────────

var (
	// ErrBookNotFound is returned when the requested book does not exist.
	ErrBookNotFound = errors.New("book not found")

	// ErrMemberNotFound is returned when the referenced member does not exist.
	ErrMemberNotFound = errors.New("member not found")

	// ErrRecordNotFound is returned when the referenced circulation record does not exist.
	ErrRecordNotFound = errors.New("circulation record not found")

	// ErrFineNotFound is returned when the referenced fine does not exist.
	ErrFineNotFound = errors.New("fine not found")

	// ErrMemberIneligible is returned when the member is blocked/expired, outside
	// their validity window, or already at their borrowing limit.
	ErrMemberIneligible = errors.New("member is not eligible to borrow")

	// ErrInventoryExhausted is returned when no copy of the book is available.
	ErrInventoryExhausted = errors.New("no available copies")

	// ErrQuantityOverflow is returned when an inventory increment would push
	// available_quantity past quantity. It indicates a bug (e.g. a double
	// return slipping past the ledger guard), never a user mistake.
	ErrQuantityOverflow = errors.New("available quantity would exceed total quantity")

	// ErrAlreadyReturned is returned when a return or renewal is attempted on a
	// closed circulation record.
	ErrAlreadyReturned = errors.New("loan already returned")

	// ErrNotRenewable is returned when the loan is overdue or has exhausted its
	// renewal allowance.
	ErrNotRenewable = errors.New("loan cannot be renewed")

	// ErrAlreadySettled is returned when settling or waiving a fine that is no
	// longer pending.
	ErrAlreadySettled = errors.New("fine already settled")

	// ErrBookRetired is returned when issuing or reserving against a retired book.
	ErrBookRetired = errors.New("book is retired")

	// ErrCopiesAvailable is returned when a reservation is attempted while
	// copies are on the shelf; the caller should issue instead.
	ErrCopiesAvailable = errors.New("copies are available, issue instead of reserving")

	// ErrDuplicateReservation is returned when the member already holds a
	// reservation for the same book.
	ErrDuplicateReservation = errors.New("member already has an active reservation for this book")

	// ErrDuplicateISBN is returned when creating a book whose ISBN is already
	// in the catalogue.
	ErrDuplicateISBN = errors.New("a book with this ISBN already exists")
)

// ─── Service Interface ────────────────────────────────────────────────────────

// ReturnResult is the outcome of a return: the closed record plus the overdue
// fine assessed in the same transaction, if the loan came back late.
type ReturnResult struct {
	Record *models.CirculationRecord `json:"record"`
	Fine   *models.Fine              `json:"fine,omitempty"`
}

// CirculationService defines the application-level operations of the
// circulation core. Every time-sensitive operation takes an explicit now so
// behaviour is deterministic under test.
type CirculationService interface {
	CreateBook(isbn, title, author, publisher string, quantity int) (*models.Book, error)
	AddCopies(isbn string, count int) (*models.Book, error)
	RetireBook(isbn string) (*models.Book, error)
	ListBooks() ([]models.Book, error)
	GetBook(isbn string) (*models.Book, error)

	CreateMember(name, email string, typ models.MembershipType, now, expiresAt time.Time) (*models.Member, error)
	GetMember(id uuid.UUID) (*models.Member, error)
	IsEligibleToBorrow(memberID uuid.UUID, now time.Time) (bool, error)

	IssueBook(isbn string, memberID uuid.UUID, now time.Time) (*models.CirculationRecord, error)
	ReturnBook(recordID uuid.UUID, now time.Time) (*ReturnResult, error)
	RenewLoan(recordID uuid.UUID, now time.Time) (*models.CirculationRecord, error)
	ReserveBook(isbn string, memberID uuid.UUID, now time.Time) (*models.Reservation, error)

	OpenLoans(memberID uuid.UUID) ([]models.CirculationRecord, error)
	OverdueLoans(asOf time.Time) ([]models.CirculationRecord, error)
	ListReservations(isbn string) ([]models.Reservation, error)

	AssessFine(memberID uuid.UUID, amountCents int64, reason models.FineReason, now time.Time) (*models.Fine, error)
	SettleFine(fineID uuid.UUID, method string) (*models.Fine, error)
	WaiveFine(fineID uuid.UUID) (*models.Fine, error)
	OutstandingBalance(memberID uuid.UUID, asOf time.Time) (int64, error)
}

// ─── Implementation ───────────────────────────────────────────────────────────

type circulationService struct {
	db              *gorm.DB
	cfg             *config.Config
	bookRepo        repositories.BookRepository
	memberRepo      repositories.MemberRepository
	circRepo        repositories.CirculationRepository
	fineRepo        repositories.FineRepository
	reservationRepo repositories.ReservationRepository
}

// NewCirculationService wires up all dependencies and returns a CirculationService.
func NewCirculationService(
	db *gorm.DB,
	cfg *config.Config,
	bookRepo repositories.BookRepository,
	memberRepo repositories.MemberRepository,
	circRepo repositories.CirculationRepository,
	fineRepo repositories.FineRepository,
	reservationRepo repositories.ReservationRepository,
) CirculationService {
	return &circulationService{
		db:              db,
		cfg:             cfg,
		bookRepo:        bookRepo,
		memberRepo:      memberRepo,
		circRepo:        circRepo,
		fineRepo:        fineRepo,
		reservationRepo: reservationRepo,
	}
}

// ─── Catalogue Management ─────────────────────────────────────────────────────

// CreateBook creates a catalogue entry with all copies on the shelf.
func (s *circulationService) CreateBook(isbn, title, author, publisher string, quantity int) (*models.Book, error) {
	book := &models.Book{
		ISBN:              isbn,
		Title:             title,
		Author:            author,
		Publisher:         publisher,
		Quantity:          quantity,
		AvailableQuantity: quantity,
	}
	if err := s.bookRepo.Create(nil, book); err != nil {
		if isUniqueViolation(err) {
			log.Printf("[WARN] CreateBook: ISBN %s already in catalogue", isbn)
			return nil, ErrDuplicateISBN
		}
		log.Printf("[ERROR] CreateBook: failed to create book %s: %v", isbn, err)
		return nil, err
	}
	log.Printf("[INFO] CreateBook: created %q (isbn=%s) with %d copies", title, isbn, quantity)
	return book, nil
}

// AddCopies registers extra physical copies of an existing book, raising both counters.
func (s *circulationService) AddCopies(isbn string, count int) (*models.Book, error) {
	var book *models.Book
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.bookRepo.GetByISBN(tx, isbn); err != nil {
			return mapNotFound(err, ErrBookNotFound)
		}
		if err := s.bookRepo.AddCopies(tx, isbn, count); err != nil {
			log.Printf("[ERROR] AddCopies: failed to add %d copies of %s: %v", count, isbn, err)
			return err
		}
		updated, err := s.bookRepo.GetByISBN(tx, isbn)
		if err != nil {
			return err
		}
		book = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] AddCopies: %s now has %d copies (%d available)", isbn, book.Quantity, book.AvailableQuantity)
	return book, nil
}

// RetireBook soft-retires a book: open loans drain naturally, but no new issue
// or reservation is accepted. Books are never hard-deleted.
func (s *circulationService) RetireBook(isbn string) (*models.Book, error) {
	var book *models.Book
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.bookRepo.GetByISBN(tx, isbn); err != nil {
			return mapNotFound(err, ErrBookNotFound)
		}
		if err := s.bookRepo.Retire(tx, isbn); err != nil {
			return err
		}
		updated, err := s.bookRepo.GetByISBN(tx, isbn)
		if err != nil {
			return err
		}
		book = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] RetireBook: retired %s", isbn)
	return book, nil
}

func (s *circulationService) ListBooks() ([]models.Book, error) {
	return s.bookRepo.List(nil)
}

func (s *circulationService) GetBook(isbn string) (*models.Book, error) {
	book, err := s.bookRepo.GetByISBN(nil, isbn)
	if err != nil {
		return nil, mapNotFound(err, ErrBookNotFound)
	}
	return book, nil
}

// ─── Membership ───────────────────────────────────────────────────────────────

func (s *circulationService) CreateMember(name, email string, typ models.MembershipType, now, expiresAt time.Time) (*models.Member, error) {
	member := &models.Member{
		Name:           name,
		Email:          email,
		MembershipType: typ,
		Status:         models.MemberStatusActive,
		JoinedAt:       now,
		ExpiresAt:      expiresAt,
	}
	if err := s.memberRepo.Create(nil, member); err != nil {
		log.Printf("[ERROR] CreateMember: failed to create member %s: %v", email, err)
		return nil, err
	}
	log.Printf("[INFO] CreateMember: registered %s (%s, expires %s)", email, typ, expiresAt.Format("2006-01-02"))
	return member, nil
}

func (s *circulationService) GetMember(id uuid.UUID) (*models.Member, error) {
	member, err := s.memberRepo.GetByID(nil, id)
	if err != nil {
		return nil, mapNotFound(err, ErrMemberNotFound)
	}
	return member, nil
}

// IsEligibleToBorrow reports whether the member could take out one more loan
// right now: active status, inside the validity window, and under the
// borrowing limit for their membership type.
func (s *circulationService) IsEligibleToBorrow(memberID uuid.UUID, now time.Time) (bool, error) {
	member, err := s.memberRepo.GetByID(nil, memberID)
	if err != nil {
		return false, mapNotFound(err, ErrMemberNotFound)
	}
	return s.eligibleToBorrow(nil, member, now)
}

func (s *circulationService) eligibleToBorrow(tx *gorm.DB, member *models.Member, now time.Time) (bool, error) {
	if member.Status != models.MemberStatusActive {
		return false, nil
	}
	if now.Before(member.JoinedAt) || !now.Before(member.ExpiresAt) {
		return false, nil
	}
	open, err := s.circRepo.CountOpenByMember(tx, member.ID)
	if err != nil {
		return false, err
	}
	limit := s.cfg.PolicyFor(member.MembershipType).BorrowingLimit
	return open < int64(limit), nil
}

// ─── Issue ────────────────────────────────────────────────────────────────────

// IssueBook implements the transactional issue flow.
//
// Eligibility is checked first, then the inventory decrement runs as a
// conditional write (available_quantity > 0) so two concurrent issues of the
// last copy cannot both succeed, then the ledger record is created. The whole
// sequence is one transaction: if record creation fails the decrement rolls
// back with it, so inventory and ledger can never drift apart.
func (s *circulationService) IssueBook(isbn string, memberID uuid.UUID, now time.Time) (*models.CirculationRecord, error) {
	var record *models.CirculationRecord

	err := s.db.Transaction(func(tx *gorm.DB) error {
		// Lock the member row so two concurrent issues cannot both pass the
		// borrowing-limit count and push the member over the cap.
		member, err := s.memberRepo.GetByIDForUpdate(tx, memberID)
		if err != nil {
			return mapNotFound(err, ErrMemberNotFound)
		}

		book, err := s.bookRepo.GetByISBN(tx, isbn)
		if err != nil {
			return mapNotFound(err, ErrBookNotFound)
		}
		if book.Retired {
			return ErrBookRetired
		}

		eligible, err := s.eligibleToBorrow(tx, member, now)
		if err != nil {
			return err
		}
		if !eligible {
			log.Printf("[WARN] IssueBook: member %s ineligible (status=%s)", memberID, member.Status)
			return ErrMemberIneligible
		}

		ok, err := s.bookRepo.DecrementAvailable(tx, isbn)
		if err != nil {
			return err
		}
		if !ok {
			log.Printf("[INFO] IssueBook: no available copies of %s for member %s", isbn, memberID)
			return ErrInventoryExhausted
		}

		rec, err := s.createLoan(tx, book, member, now)
		if err != nil {
			log.Printf("[ERROR] IssueBook: failed to create circulation record: %v", err)
			return err
		}
		record = rec
		return nil
	})

	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] IssueBook: issued %s to member %s (record=%s, due %s)",
		isbn, memberID, record.ID, record.DueDate.Format("2006-01-02"))
	return record, nil
}

func (s *circulationService) createLoan(tx *gorm.DB, book *models.Book, member *models.Member, now time.Time) (*models.CirculationRecord, error) {
	due := now.AddDate(0, 0, s.cfg.PolicyFor(member.MembershipType).LoanPeriodDays)
	record := &models.CirculationRecord{
		BookID:    book.ID,
		MemberID:  member.ID,
		IssueDate: now,
		DueDate:   due,
		Status:    models.LoanStatusIssued,
	}
	if err := s.circRepo.Create(tx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// ─── Return ───────────────────────────────────────────────────────────────────

// ReturnBook implements the transactional return flow.
//
// Steps (all in one transaction):
//  1. Load the record; guard against double-return.
//  2. Close it via the conditional write (return_date IS NULL).
//  3. Put the copy back on the shelf.
//  4. If the loan was overdue, snapshot the fine at today's configured rate
//     and assess it as a pending Fine.
//  5. If a reservation queue exists for the book, hand the copy straight to
//     the first still-eligible member in line.
func (s *circulationService) ReturnBook(recordID uuid.UUID, now time.Time) (*ReturnResult, error) {
	var result ReturnResult

	err := s.db.Transaction(func(tx *gorm.DB) error {
		record, err := s.circRepo.GetByID(tx, recordID)
		if err != nil {
			return mapNotFound(err, ErrRecordNotFound)
		}
		if record.ReturnDate != nil {
			log.Printf("[WARN] ReturnBook: record %s already returned at %s", recordID, record.ReturnDate)
			return ErrAlreadyReturned
		}

		ok, err := s.circRepo.MarkReturned(tx, recordID, now)
		if err != nil {
			return err
		}
		if !ok {
			// Lost a race with a concurrent return of the same record.
			return ErrAlreadyReturned
		}

		ok, err = s.bookRepo.IncrementAvailable(tx, record.Book.ISBN)
		if err != nil {
			return err
		}
		if !ok {
			log.Printf("[ERROR] ReturnBook: increment for %s would exceed quantity (record=%s)", record.Book.ISBN, recordID)
			return ErrQuantityOverflow
		}

		if record.IsOverdue(now) {
			amount := CalculateFine(record, now, s.cfg.FineDailyRateCents)
			if amount > 0 {
				fine := &models.Fine{
					MemberID:    record.MemberID,
					RecordID:    &record.ID,
					AmountCents: amount,
					Reason:      models.FineReasonOverdue,
					AssessedAt:  now,
					Status:      models.FineStatusPending,
				}
				if err := s.fineRepo.Create(tx, fine); err != nil {
					log.Printf("[ERROR] ReturnBook: failed to assess overdue fine for record %s: %v", recordID, err)
					return err
				}
				log.Printf("[INFO] ReturnBook: assessed overdue fine of %d cents on member %s (record=%s)",
					amount, record.MemberID, recordID)
				result.Fine = fine
			}
		}

		if err := s.fulfillNextReservation(tx, &record.Book, now); err != nil {
			return err
		}

		updated, err := s.circRepo.GetByID(tx, recordID)
		if err != nil {
			return err
		}
		result.Record = updated
		return nil
	})

	if err != nil {
		if !isDomainErr(err) {
			log.Printf("[ERROR] ReturnBook: transaction failed for record %s: %v", recordID, err)
		}
		return nil, err
	}
	log.Printf("[INFO] ReturnBook: returned record %s", recordID)
	return &result, nil
}

// fulfillNextReservation hands a freshly returned copy to the head of the
// book's reservation queue. Reservation fulfilment sits outside the return's
// own guarantees: an ineligible head of queue is skipped with a warning and
// the copy simply stays on the shelf.
func (s *circulationService) fulfillNextReservation(tx *gorm.DB, book *models.Book, now time.Time) error {
	// Retired books never gain new loans; the copy stays on the shelf and
	// the queue is left alone.
	if book.Retired {
		return nil
	}

	res, err := s.reservationRepo.GetNextForBook(tx, book.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	member, err := s.memberRepo.GetByIDForUpdate(tx, res.MemberID)
	if err != nil {
		return err
	}
	eligible, err := s.eligibleToBorrow(tx, member, now)
	if err != nil {
		return err
	}
	if !eligible {
		log.Printf("[WARN] fulfillNextReservation: member %s no longer eligible, leaving copy of %s on shelf",
			member.ID, book.ISBN)
		return nil
	}

	ok, err := s.bookRepo.DecrementAvailable(tx, book.ISBN)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	record, err := s.createLoan(tx, book, member, now)
	if err != nil {
		return err
	}
	if err := s.reservationRepo.Delete(tx, res.ID); err != nil {
		return err
	}
	log.Printf("[INFO] fulfillNextReservation: auto-issued %s to reserved member %s (record=%s, queue pos %d)",
		book.ISBN, member.ID, record.ID, res.QueuePosition)
	return nil
}

// ─── Renewal ──────────────────────────────────────────────────────────────────

// RenewLoan extends an open loan by the member's loan period, counted from now.
// Overdue loans cannot be renewed, and the configured renewal cap applies. The
// conditional write is keyed on the current renewal count, so two concurrent
// renewals of one loan cannot both extend it.
func (s *circulationService) RenewLoan(recordID uuid.UUID, now time.Time) (*models.CirculationRecord, error) {
	var renewed *models.CirculationRecord

	err := s.db.Transaction(func(tx *gorm.DB) error {
		record, err := s.circRepo.GetByID(tx, recordID)
		if err != nil {
			return mapNotFound(err, ErrRecordNotFound)
		}
		if record.ReturnDate != nil {
			return ErrAlreadyReturned
		}
		if record.IsOverdue(now) {
			log.Printf("[WARN] RenewLoan: record %s is overdue, renewal refused", recordID)
			return ErrNotRenewable
		}
		if record.RenewalCount >= s.cfg.MaxRenewals {
			log.Printf("[WARN] RenewLoan: record %s already renewed %d times", recordID, record.RenewalCount)
			return ErrNotRenewable
		}

		member, err := s.memberRepo.GetByID(tx, record.MemberID)
		if err != nil {
			return mapNotFound(err, ErrMemberNotFound)
		}
		newDue := now.AddDate(0, 0, s.cfg.PolicyFor(member.MembershipType).LoanPeriodDays)

		ok, err := s.circRepo.Renew(tx, recordID, newDue, record.RenewalCount)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotRenewable
		}

		updated, err := s.circRepo.GetByID(tx, recordID)
		if err != nil {
			return err
		}
		renewed = updated
		return nil
	})

	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] RenewLoan: record %s renewed, due %s (renewal #%d)",
		recordID, renewed.DueDate.Format("2006-01-02"), renewed.RenewalCount)
	return renewed, nil
}

// ─── Reservations ─────────────────────────────────────────────────────────────

// ReserveBook queues the member for the next returned copy. Only exhausted
// books can be reserved; while copies sit on the shelf the caller should issue.
func (s *circulationService) ReserveBook(isbn string, memberID uuid.UUID, now time.Time) (*models.Reservation, error) {
	var reservation *models.Reservation

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.memberRepo.GetByID(tx, memberID); err != nil {
			return mapNotFound(err, ErrMemberNotFound)
		}
		book, err := s.bookRepo.GetByISBN(tx, isbn)
		if err != nil {
			return mapNotFound(err, ErrBookNotFound)
		}
		if book.Retired {
			return ErrBookRetired
		}
		if book.AvailableQuantity > 0 {
			return ErrCopiesAvailable
		}

		existing, err := s.reservationRepo.GetByBookAndMember(tx, book.ID, memberID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if existing != nil {
			log.Printf("[WARN] ReserveBook: member %s already holds reservation %s for %s", memberID, existing.ID, isbn)
			return ErrDuplicateReservation
		}

		res, err := s.createReservationWithRetry(tx, book.ID, memberID, now)
		if err != nil {
			log.Printf("[ERROR] ReserveBook: failed to queue member %s for %s: %v", memberID, isbn, err)
			return err
		}
		log.Printf("[INFO] ReserveBook: member %s queued for %s at position %d (id=%s)",
			memberID, isbn, res.QueuePosition, res.ID)
		reservation = res
		return nil
	})

	if err != nil {
		return nil, err
	}
	return reservation, nil
}

// createReservationWithRetry inserts a reservation at the end of the queue.
// If a unique-constraint violation occurs on (book_id, queue_position) under
// concurrent load, the position is recalculated and the insert retried once.
func (s *circulationService) createReservationWithRetry(tx *gorm.DB, bookID, memberID uuid.UUID, now time.Time) (*models.Reservation, error) {
	nextPos, err := s.reservationRepo.NextQueuePosition(tx, bookID)
	if err != nil {
		return nil, err
	}

	res := &models.Reservation{
		BookID:        bookID,
		MemberID:      memberID,
		QueuePosition: nextPos,
		CreatedAt:     now,
	}

	if err := s.reservationRepo.Create(tx, res); err != nil {
		if !isUniqueViolation(err) {
			return nil, err
		}
		log.Printf("[WARN] createReservationWithRetry: queue position %d taken for book %s, retrying", nextPos, bookID)
		nextPos, err = s.reservationRepo.NextQueuePosition(tx, bookID)
		if err != nil {
			return nil, err
		}
		res = &models.Reservation{
			BookID:        bookID,
			MemberID:      memberID,
			QueuePosition: nextPos,
			CreatedAt:     now,
		}
		if err := s.reservationRepo.Create(tx, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// ─── Queries ──────────────────────────────────────────────────────────────────

// OpenLoans returns the member's currently open loans, soonest due first.
func (s *circulationService) OpenLoans(memberID uuid.UUID) ([]models.CirculationRecord, error) {
	return s.circRepo.OpenLoansByMember(nil, memberID)
}

// OverdueLoans recomputes the overdue set as of the supplied time; overdue is
// never stored.
func (s *circulationService) OverdueLoans(asOf time.Time) ([]models.CirculationRecord, error) {
	return s.circRepo.OverdueRecords(nil, asOf)
}

func (s *circulationService) ListReservations(isbn string) ([]models.Reservation, error) {
	book, err := s.bookRepo.GetByISBN(nil, isbn)
	if err != nil {
		return nil, mapNotFound(err, ErrBookNotFound)
	}
	return s.reservationRepo.ListByBook(nil, book.ID)
}

// ─── Fines ────────────────────────────────────────────────────────────────────

// AssessFine records a pending charge against a member. Overdue fines are
// normally assessed by ReturnBook; this entry point covers staff-assessed
// damaged/lost charges.
func (s *circulationService) AssessFine(memberID uuid.UUID, amountCents int64, reason models.FineReason, now time.Time) (*models.Fine, error) {
	if _, err := s.memberRepo.GetByID(nil, memberID); err != nil {
		return nil, mapNotFound(err, ErrMemberNotFound)
	}
	fine := &models.Fine{
		MemberID:    memberID,
		AmountCents: amountCents,
		Reason:      reason,
		AssessedAt:  now,
		Status:      models.FineStatusPending,
	}
	if err := s.fineRepo.Create(nil, fine); err != nil {
		log.Printf("[ERROR] AssessFine: failed to assess %s fine on member %s: %v", reason, memberID, err)
		return nil, err
	}
	log.Printf("[INFO] AssessFine: %d cents (%s) assessed on member %s", amountCents, reason, memberID)
	return fine, nil
}

// SettleFine marks a pending fine paid. Paid and waived are terminal.
func (s *circulationService) SettleFine(fineID uuid.UUID, method string) (*models.Fine, error) {
	return s.closeFine(fineID, models.FineStatusPaid, method)
}

// WaiveFine marks a pending fine waived. Paid and waived are terminal.
func (s *circulationService) WaiveFine(fineID uuid.UUID) (*models.Fine, error) {
	return s.closeFine(fineID, models.FineStatusWaived, "")
}

func (s *circulationService) closeFine(fineID uuid.UUID, status models.FineStatus, method string) (*models.Fine, error) {
	var fine *models.Fine
	err := s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := s.fineRepo.GetByID(tx, fineID)
		if err != nil {
			return mapNotFound(err, ErrFineNotFound)
		}
		if existing.Status != models.FineStatusPending {
			return ErrAlreadySettled
		}
		ok, err := s.fineRepo.Settle(tx, fineID, status, method)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadySettled
		}
		updated, err := s.fineRepo.GetByID(tx, fineID)
		if err != nil {
			return err
		}
		fine = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[INFO] closeFine: fine %s -> %s", fineID, status)
	return fine, nil
}

// OutstandingBalance sums the member's pending fines plus live-computed
// charges on open overdue loans that have not yet been converted to Fine
// records (conversion happens at return time).
func (s *circulationService) OutstandingBalance(memberID uuid.UUID, asOf time.Time) (int64, error) {
	if _, err := s.memberRepo.GetByID(nil, memberID); err != nil {
		return 0, mapNotFound(err, ErrMemberNotFound)
	}

	var total int64
	pending, err := s.fineRepo.PendingByMember(nil, memberID)
	if err != nil {
		return 0, err
	}
	for _, f := range pending {
		total += f.AmountCents
	}

	open, err := s.circRepo.OpenLoansByMember(nil, memberID)
	if err != nil {
		return 0, err
	}
	for i := range open {
		total += CalculateFine(&open[i], asOf, s.cfg.FineDailyRateCents)
	}
	return total, nil
}

// ─── Internal Helpers ─────────────────────────────────────────────────────────

func mapNotFound(err, domainErr error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domainErr
	}
	return err
}

// isDomainErr reports whether the error is an expected domain outcome rather
// than a store failure.
func isDomainErr(err error) bool {
	for _, d := range []error{
		ErrBookNotFound, ErrMemberNotFound, ErrRecordNotFound, ErrFineNotFound,
		ErrMemberIneligible, ErrInventoryExhausted, ErrQuantityOverflow,
		ErrAlreadyReturned, ErrNotRenewable, ErrAlreadySettled,
		ErrBookRetired, ErrCopiesAvailable, ErrDuplicateReservation, ErrDuplicateISBN,
	} {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}

// isUniqueViolation checks whether a PostgreSQL unique-constraint error
// occurred (error code 23505). The sqlite test store reports the same
// condition with the word "UNIQUE".
func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "23505") ||
		strings.Contains(err.Error(), "UNIQUE"))
}

package repositories

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"circulation/internal/models"
)

// Every method takes an explicit *gorm.DB so services can run a whole
// operation inside one transaction; passing nil falls back to the repository's
// own handle.

type BookRepository interface {
	Create(db *gorm.DB, book *models.Book) error
	List(db *gorm.DB) ([]models.Book, error)
	GetByISBN(db *gorm.DB, isbn string) (*models.Book, error)
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error)
	// AddCopies raises quantity and available_quantity together.
	AddCopies(db *gorm.DB, isbn string, count int) error
	// DecrementAvailable is a conditional write: it succeeds only while
	// available_quantity > 0. ok == false means no copy was available.
	DecrementAvailable(db *gorm.DB, isbn string) (ok bool, err error)
	// IncrementAvailable is the mirror conditional write: it succeeds only
	// while available_quantity < quantity. ok == false indicates a
	// double-return style bug upstream.
	IncrementAvailable(db *gorm.DB, isbn string) (ok bool, err error)
	Retire(db *gorm.DB, isbn string) error
}

type MemberRepository interface {
	Create(db *gorm.DB, member *models.Member) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Member, error)
	// GetByIDForUpdate locks the member row for the rest of the transaction
	// so concurrent issues for the same member serialize on the borrowing
	// limit check. The sqlite test store has no FOR UPDATE; its single
	// writer gives the same serialization, so the clause is skipped there.
	GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Member, error)
	GetByEmail(db *gorm.DB, email string) (*models.Member, error)
}

type CirculationRepository interface {
	Create(db *gorm.DB, record *models.CirculationRecord) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.CirculationRecord, error)
	OpenLoansByMember(db *gorm.DB, memberID uuid.UUID) ([]models.CirculationRecord, error)
	CountOpenByMember(db *gorm.DB, memberID uuid.UUID) (int64, error)
	// MarkReturned closes the record, guarded by return_date IS NULL so a
	// concurrent double-return loses cleanly. ok == false means the record
	// was already closed.
	MarkReturned(db *gorm.DB, recordID uuid.UUID, returnedAt time.Time) (ok bool, err error)
	// Renew extends the due date, guarded by the current renewal count so two
	// concurrent renewals cannot both apply.
	Renew(db *gorm.DB, recordID uuid.UUID, newDueDate time.Time, expectRenewals int) (ok bool, err error)
	OverdueRecords(db *gorm.DB, asOf time.Time) ([]models.CirculationRecord, error)
}

type FineRepository interface {
	Create(db *gorm.DB, fine *models.Fine) error
	GetByID(db *gorm.DB, id uuid.UUID) (*models.Fine, error)
	PendingByMember(db *gorm.DB, memberID uuid.UUID) ([]models.Fine, error)
	// Settle moves a pending fine to PAID or WAIVED, guarded by status =
	// PENDING. ok == false means the fine was already settled.
	Settle(db *gorm.DB, fineID uuid.UUID, status models.FineStatus, method string) (ok bool, err error)
}

type ReservationRepository interface {
	Create(db *gorm.DB, reservation *models.Reservation) error
	GetNextForBook(db *gorm.DB, bookID uuid.UUID) (*models.Reservation, error)
	GetByBookAndMember(db *gorm.DB, bookID, memberID uuid.UUID) (*models.Reservation, error)
	Delete(db *gorm.DB, id uuid.UUID) error
	NextQueuePosition(db *gorm.DB, bookID uuid.UUID) (int, error)
	ListByBook(db *gorm.DB, bookID uuid.UUID) ([]models.Reservation, error)
}

// concrete implementations

type bookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) Create(db *gorm.DB, book *models.Book) error {
	if db == nil {
		db = r.db
	}
	return db.Create(book).Error
}

func (r *bookRepository) List(db *gorm.DB) ([]models.Book, error) {
	if db == nil {
		db = r.db
	}
	var books []models.Book
	if err := db.Order("title").Find(&books).Error; err != nil {
		return nil, err
	}
	return books, nil
}

func (r *bookRepository) GetByISBN(db *gorm.DB, isbn string) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	if err := db.First(&book, "isbn = ?", isbn).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Book, error) {
	if db == nil {
		db = r.db
	}
	var book models.Book
	if err := db.First(&book, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) AddCopies(db *gorm.DB, isbn string, count int) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Book{}).
		Where("isbn = ?", isbn).
		UpdateColumns(map[string]interface{}{
			"quantity":           gorm.Expr("quantity + ?", count),
			"available_quantity": gorm.Expr("available_quantity + ?", count),
		}).Error
}

func (r *bookRepository) DecrementAvailable(db *gorm.DB, isbn string) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Book{}).
		Where("isbn = ? AND available_quantity > 0", isbn).
		UpdateColumn("available_quantity", gorm.Expr("available_quantity - 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *bookRepository) IncrementAvailable(db *gorm.DB, isbn string) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Book{}).
		Where("isbn = ? AND available_quantity < quantity", isbn).
		UpdateColumn("available_quantity", gorm.Expr("available_quantity + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *bookRepository) Retire(db *gorm.DB, isbn string) error {
	if db == nil {
		db = r.db
	}
	return db.Model(&models.Book{}).
		Where("isbn = ?", isbn).
		Update("retired", true).
		Error
}

type memberRepository struct {
	db *gorm.DB
}

func NewMemberRepository(db *gorm.DB) MemberRepository {
	return &memberRepository{db: db}
}

func (r *memberRepository) Create(db *gorm.DB, member *models.Member) error {
	if db == nil {
		db = r.db
	}
	return db.Create(member).Error
}

func (r *memberRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Member, error) {
	if db == nil {
		db = r.db
	}
	var member models.Member
	if err := db.First(&member, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *memberRepository) GetByIDForUpdate(db *gorm.DB, id uuid.UUID) (*models.Member, error) {
	if db == nil {
		db = r.db
	}
	if db.Dialector.Name() != "sqlite" {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var member models.Member
	if err := db.First(&member, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *memberRepository) GetByEmail(db *gorm.DB, email string) (*models.Member, error) {
	if db == nil {
		db = r.db
	}
	var member models.Member
	if err := db.First(&member, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

type circulationRepository struct {
	db *gorm.DB
}

func NewCirculationRepository(db *gorm.DB) CirculationRepository {
	return &circulationRepository{db: db}
}

func (r *circulationRepository) Create(db *gorm.DB, record *models.CirculationRecord) error {
	if db == nil {
		db = r.db
	}
	return db.Create(record).Error
}

func (r *circulationRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.CirculationRecord, error) {
	if db == nil {
		db = r.db
	}
	var record models.CirculationRecord
	if err := db.Preload("Book").First(&record, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *circulationRepository) OpenLoansByMember(db *gorm.DB, memberID uuid.UUID) ([]models.CirculationRecord, error) {
	if db == nil {
		db = r.db
	}
	var records []models.CirculationRecord
	if err := db.Where("member_id = ? AND return_date IS NULL", memberID).
		Order("due_date").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *circulationRepository) CountOpenByMember(db *gorm.DB, memberID uuid.UUID) (int64, error) {
	if db == nil {
		db = r.db
	}
	var count int64
	if err := db.Model(&models.CirculationRecord{}).
		Where("member_id = ? AND return_date IS NULL", memberID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *circulationRepository) MarkReturned(db *gorm.DB, recordID uuid.UUID, returnedAt time.Time) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.CirculationRecord{}).
		Where("id = ? AND return_date IS NULL", recordID).
		Updates(map[string]interface{}{
			"return_date": returnedAt,
			"status":      models.LoanStatusReturned,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *circulationRepository) Renew(db *gorm.DB, recordID uuid.UUID, newDueDate time.Time, expectRenewals int) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.CirculationRecord{}).
		Where("id = ? AND return_date IS NULL AND renewal_count = ?", recordID, expectRenewals).
		Updates(map[string]interface{}{
			"due_date":      newDueDate,
			"renewal_count": gorm.Expr("renewal_count + 1"),
			"status":        models.LoanStatusRenewed,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *circulationRepository) OverdueRecords(db *gorm.DB, asOf time.Time) ([]models.CirculationRecord, error) {
	if db == nil {
		db = r.db
	}
	var records []models.CirculationRecord
	if err := db.Where("return_date IS NULL AND due_date < ?", asOf).
		Order("due_date").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

type fineRepository struct {
	db *gorm.DB
}

func NewFineRepository(db *gorm.DB) FineRepository {
	return &fineRepository{db: db}
}

func (r *fineRepository) Create(db *gorm.DB, fine *models.Fine) error {
	if db == nil {
		db = r.db
	}
	return db.Create(fine).Error
}

func (r *fineRepository) GetByID(db *gorm.DB, id uuid.UUID) (*models.Fine, error) {
	if db == nil {
		db = r.db
	}
	var fine models.Fine
	if err := db.First(&fine, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &fine, nil
}

func (r *fineRepository) PendingByMember(db *gorm.DB, memberID uuid.UUID) ([]models.Fine, error) {
	if db == nil {
		db = r.db
	}
	var fines []models.Fine
	if err := db.Where("member_id = ? AND status = ?", memberID, models.FineStatusPending).
		Order("assessed_at").
		Find(&fines).Error; err != nil {
		return nil, err
	}
	return fines, nil
}

func (r *fineRepository) Settle(db *gorm.DB, fineID uuid.UUID, status models.FineStatus, method string) (bool, error) {
	if db == nil {
		db = r.db
	}
	res := db.Model(&models.Fine{}).
		Where("id = ? AND status = ?", fineID, models.FineStatusPending).
		Updates(map[string]interface{}{
			"status":      status,
			"paid_method": method,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

type reservationRepository struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) ReservationRepository {
	return &reservationRepository{db: db}
}

func (r *reservationRepository) Create(db *gorm.DB, reservation *models.Reservation) error {
	if db == nil {
		db = r.db
	}
	return db.Create(reservation).Error
}

func (r *reservationRepository) GetNextForBook(db *gorm.DB, bookID uuid.UUID) (*models.Reservation, error) {
	if db == nil {
		db = r.db
	}
	var res models.Reservation
	err := db.Where("book_id = ?", bookID).
		Order("queue_position ASC, created_at ASC").
		First(&res).Error
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepository) GetByBookAndMember(db *gorm.DB, bookID, memberID uuid.UUID) (*models.Reservation, error) {
	if db == nil {
		db = r.db
	}
	var res models.Reservation
	err := db.Where("book_id = ? AND member_id = ?", bookID, memberID).First(&res).Error
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *reservationRepository) Delete(db *gorm.DB, id uuid.UUID) error {
	if db == nil {
		db = r.db
	}
	return db.Delete(&models.Reservation{}, "id = ?", id).Error
}

func (r *reservationRepository) NextQueuePosition(db *gorm.DB, bookID uuid.UUID) (int, error) {
	if db == nil {
		db = r.db
	}
	var maxPos int
	if err := db.Model(&models.Reservation{}).
		Where("book_id = ?", bookID).
		Select("COALESCE(MAX(queue_position), 0)").
		Scan(&maxPos).Error; err != nil {
		return 0, err
	}
	return maxPos + 1, nil
}

func (r *reservationRepository) ListByBook(db *gorm.DB, bookID uuid.UUID) ([]models.Reservation, error) {
	if db == nil {
		db = r.db
	}
	var res []models.Reservation
	if err := db.Where("book_id = ?", bookID).
		Order("queue_position ASC").
		Find(&res).Error; err != nil {
		return nil, err
	}
	return res, nil
}

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MembershipType string

const (
	MembershipStudent  MembershipType = "STUDENT"
	MembershipFaculty  MembershipType = "FACULTY"
	MembershipStaff    MembershipType = "STAFF"
	MembershipExternal MembershipType = "EXTERNAL"
)

type MemberStatus string

const (
	MemberStatusActive  MemberStatus = "ACTIVE"
	MemberStatusBlocked MemberStatus = "BLOCKED"
	MemberStatusExpired MemberStatus = "EXPIRED"
)

type LoanStatus string

const (
	LoanStatusIssued   LoanStatus = "ISSUED"
	LoanStatusRenewed  LoanStatus = "RENEWED"
	LoanStatusReturned LoanStatus = "RETURNED"
)

type FineReason string

const (
	FineReasonOverdue FineReason = "OVERDUE"
	FineReasonDamaged FineReason = "DAMAGED"
	FineReasonLost    FineReason = "LOST"
)

type FineStatus string

const (
	FineStatusPending FineStatus = "PENDING"
	FineStatusPaid    FineStatus = "PAID"
	FineStatusWaived  FineStatus = "WAIVED"
)

// Book carries the catalogue entry plus the inventory counters. The counters
// are only ever mutated by the circulation service through conditional updates,
// so 0 <= available_quantity <= quantity holds at all times.
type Book struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ISBN              string    `gorm:"size:20;not null;uniqueIndex" json:"isbn"`
	Title             string    `gorm:"size:255;not null" json:"title"`
	Author            string    `gorm:"size:255;not null" json:"author"`
	Publisher         string    `gorm:"size:255" json:"publisher"`
	Categories        string    `gorm:"size:255" json:"categories"`
	PageCount         int       `json:"page_count"`
	CoverURL          string    `gorm:"size:512" json:"cover_url"`
	Quantity          int       `gorm:"not null" json:"quantity"`
	AvailableQuantity int       `gorm:"not null" json:"available_quantity"`
	Retired           bool      `gorm:"not null;default:false" json:"retired"`
}

func (b *Book) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

type Member struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Email          string         `gorm:"size:255;not null;uniqueIndex" json:"email"`
	Name           string         `gorm:"size:255;not null" json:"name"`
	MembershipType MembershipType `gorm:"size:16;not null" json:"membership_type"`
	Status         MemberStatus   `gorm:"size:16;not null" json:"status"`
	JoinedAt       time.Time      `gorm:"not null" json:"joined_at"`
	ExpiresAt      time.Time      `gorm:"not null" json:"expires_at"`
}

func (m *Member) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// CirculationRecord is one loan, tracked issue-to-return. Records are never
// deleted; a closed record keeps its ReturnDate forever. Overdue is not a
// stored state: it is derived from DueDate/ReturnDate at read time so the flag
// can never drift from the clock.
type CirculationRecord struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	BookID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"book_id"`
	Book         Book       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	MemberID     uuid.UUID  `gorm:"type:uuid;not null;index" json:"member_id"`
	Member       Member     `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	IssueDate    time.Time  `gorm:"not null" json:"issue_date"`
	DueDate      time.Time  `gorm:"not null" json:"due_date"`
	ReturnDate   *time.Time `json:"return_date"`
	RenewalCount int        `gorm:"not null;default:0" json:"renewal_count"`
	Status       LoanStatus `gorm:"size:16;not null" json:"status"`
}

func (r *CirculationRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// IsOverdue reports whether the loan is open and past due as of the given time.
func (r *CirculationRecord) IsOverdue(asOf time.Time) bool {
	return r.ReturnDate == nil && asOf.After(r.DueDate)
}

// Fine is an independent charge against a member. For overdue fines RecordID
// links back to the originating loan; damaged/lost fines are administrative and
// carry no record reference. AmountCents is immutable once assessed; only the
// status moves afterwards.
type Fine struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MemberID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"member_id"`
	RecordID    *uuid.UUID `gorm:"type:uuid;index" json:"record_id"`
	AmountCents int64      `gorm:"not null" json:"amount_cents"`
	Reason      FineReason `gorm:"size:16;not null" json:"reason"`
	AssessedAt  time.Time  `gorm:"not null" json:"assessed_at"`
	Status      FineStatus `gorm:"size:16;not null" json:"status"`
	PaidMethod  string     `gorm:"size:32" json:"paid_method,omitempty"`
}

func (f *Fine) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// Reservation queues a member for the next returned copy. The composite
// unique index keeps queue positions collision-free under concurrent inserts;
// the service retries once on a violation.
type Reservation struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BookID        uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:uniq_book_queue_pos" json:"book_id"`
	Book          Book      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	MemberID      uuid.UUID `gorm:"type:uuid;not null;index" json:"member_id"`
	Member        Member    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	QueuePosition int       `gorm:"not null;uniqueIndex:uniq_book_queue_pos" json:"queue_position"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
}

func (r *Reservation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"circulation/internal/models"
	"circulation/internal/services"
)

type CirculationHandler struct {
	svc services.CirculationService
}

func RegisterRoutes(r *gin.Engine, svc services.CirculationService) {
	h := &CirculationHandler{svc: svc}

	// Catalogue
	r.POST("/books", h.createBook)
	r.GET("/books", h.listBooks)
	r.GET("/books/:isbn", h.getBook)
	r.POST("/books/:isbn/copies", h.addCopies)
	r.POST("/books/:isbn/retire", h.retireBook)

	// Membership
	r.POST("/members", h.createMember)
	r.GET("/members/:id", h.getMember)
	r.GET("/members/:id/loans", h.openLoans)
	r.GET("/members/:id/balance", h.outstandingBalance)
	r.POST("/members/:id/fines", h.assessFine)

	// Circulation
	r.POST("/loans", h.issueBook)
	r.POST("/loans/:id/return", h.returnBook)
	r.POST("/loans/:id/renew", h.renewLoan)
	r.GET("/loans/overdue", h.overdueLoans)

	// Reservations
	r.POST("/books/:isbn/reservations", h.reserveBook)
	r.GET("/books/:isbn/reservations", h.listReservations)

	// Fines
	r.POST("/fines/:id/pay", h.settleFine)
	r.POST("/fines/:id/waive", h.waiveFine)
}

// statusFor maps domain errors onto HTTP statuses. Anything unmapped is a
// store failure and surfaces as 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrBookNotFound),
		errors.Is(err, services.ErrMemberNotFound),
		errors.Is(err, services.ErrRecordNotFound),
		errors.Is(err, services.ErrFineNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrMemberIneligible),
		errors.Is(err, services.ErrBookRetired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrInventoryExhausted),
		errors.Is(err, services.ErrAlreadyReturned),
		errors.Is(err, services.ErrNotRenewable),
		errors.Is(err, services.ErrAlreadySettled),
		errors.Is(err, services.ErrCopiesAvailable),
		errors.Is(err, services.ErrDuplicateReservation),
		errors.Is(err, services.ErrDuplicateISBN),
		errors.Is(err, services.ErrQuantityOverflow):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// ─── Catalogue ────────────────────────────────────────────────────────────────

type createBookRequest struct {
	ISBN      string `json:"isbn" binding:"required"`
	Title     string `json:"title" binding:"required"`
	Author    string `json:"author" binding:"required"`
	Publisher string `json:"publisher"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
}

func (h *CirculationHandler) createBook(c *gin.Context) {
	var req createBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	book, err := h.svc.CreateBook(req.ISBN, req.Title, req.Author, req.Publisher, req.Quantity)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, book)
}

func (h *CirculationHandler) listBooks(c *gin.Context) {
	books, err := h.svc.ListBooks()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

func (h *CirculationHandler) getBook(c *gin.Context) {
	book, err := h.svc.GetBook(c.Param("isbn"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

type addCopiesRequest struct {
	Count int `json:"count" binding:"required,min=1"`
}

func (h *CirculationHandler) addCopies(c *gin.Context) {
	var req addCopiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	book, err := h.svc.AddCopies(c.Param("isbn"), req.Count)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (h *CirculationHandler) retireBook(c *gin.Context) {
	book, err := h.svc.RetireBook(c.Param("isbn"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

// ─── Membership ───────────────────────────────────────────────────────────────

type createMemberRequest struct {
	Name           string                `json:"name" binding:"required"`
	Email          string                `json:"email" binding:"required,email"`
	MembershipType models.MembershipType `json:"membership_type" binding:"required"`
	ExpiresAt      time.Time             `json:"expires_at" binding:"required"`
}

func (h *CirculationHandler) createMember(c *gin.Context) {
	var req createMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	member, err := h.svc.CreateMember(req.Name, req.Email, req.MembershipType, time.Now().UTC(), req.ExpiresAt)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

func (h *CirculationHandler) getMember(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
		return
	}

	member, err := h.svc.GetMember(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *CirculationHandler) openLoans(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
		return
	}

	loans, err := h.svc.OpenLoans(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, loans)
}

func (h *CirculationHandler) outstandingBalance(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
		return
	}

	balance, err := h.svc.OutstandingBalance(id, time.Now().UTC())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"member_id": id, "balance_cents": balance})
}

type assessFineRequest struct {
	AmountCents int64             `json:"amount_cents" binding:"required,min=1"`
	Reason      models.FineReason `json:"reason" binding:"required,oneof=OVERDUE DAMAGED LOST"`
}

func (h *CirculationHandler) assessFine(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
		return
	}

	var req assessFineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fine, err := h.svc.AssessFine(id, req.AmountCents, req.Reason, time.Now().UTC())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, fine)
}

// ─── Circulation ──────────────────────────────────────────────────────────────

type issueRequest struct {
	ISBN     string `json:"isbn" binding:"required"`
	MemberID string `json:"member_id" binding:"required,uuid"`
}

func (h *CirculationHandler) issueBook(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	memberID, err := uuid.Parse(req.MemberID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
		return
	}

	record, err := h.svc.IssueBook(req.ISBN, memberID, time.Now().UTC())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (h *CirculationHandler) returnBook(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid loan id"})
		return
	}

	result, err := h.svc.ReturnBook(id, time.Now().UTC())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *CirculationHandler) renewLoan(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid loan id"})
		return
	}

	record, err := h.svc.RenewLoan(id, time.Now().UTC())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (h *CirculationHandler) overdueLoans(c *gin.Context) {
	loans, err := h.svc.OverdueLoans(time.Now().UTC())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, loans)
}

// ─── Reservations ─────────────────────────────────────────────────────────────

type reserveRequest struct {
	MemberID string `json:"member_id" binding:"required,uuid"`
}

func (h *CirculationHandler) reserveBook(c *gin.Context) {
	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	memberID, err := uuid.Parse(req.MemberID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
		return
	}

	reservation, err := h.svc.ReserveBook(c.Param("isbn"), memberID, time.Now().UTC())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, reservation)
}

func (h *CirculationHandler) listReservations(c *gin.Context) {
	reservations, err := h.svc.ListReservations(c.Param("isbn"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reservations)
}

// ─── Fines ────────────────────────────────────────────────────────────────────

type settleFineRequest struct {
	Method string `json:"method" binding:"required"`
}

func (h *CirculationHandler) settleFine(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fine id"})
		return
	}

	var req settleFineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fine, err := h.svc.SettleFine(id, req.Method)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, fine)
}

func (h *CirculationHandler) waiveFine(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fine id"})
		return
	}

	fine, err := h.svc.WaiveFine(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, fine)
}

package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"circulation/internal/config"
	"circulation/internal/models"
	"circulation/internal/repositories"
	"circulation/internal/services"
)

func newTestRouter(t *testing.T) (*gin.Engine, services.CirculationService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := filepath.Join(t.TempDir(), "handlers.db") + "?_busy_timeout=10000"
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

	svc := services.NewCirculationService(
		db,
		config.Default(),
		repositories.NewBookRepository(db),
		repositories.NewMemberRepository(db),
		repositories.NewCirculationRepository(db),
		repositories.NewFineRepository(db),
		repositories.NewReservationRepository(db),
	)

	router := gin.New()
	RegisterRoutes(router, svc)
	return router, svc
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createTestMember(t *testing.T, svc services.CirculationService, email string) *models.Member {
	t.Helper()
	now := time.Now().UTC()
	member, err := svc.CreateMember("Test Member", email, models.MembershipStudent, now, now.AddDate(1, 0, 0))
	require.NoError(t, err)
	return member
}

func TestBookEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/books", gin.H{
		"isbn":     "978-1-59327-584-6",
		"title":    "The Go Programming Language",
		"author":   "Donovan & Kernighan",
		"quantity": 2,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodGet, "/books/978-1-59327-584-6", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var book models.Book
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &book))
	require.Equal(t, 2, book.AvailableQuantity)

	w = doJSON(t, router, http.MethodGet, "/books/no-such-isbn", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	// Missing required fields.
	w = doJSON(t, router, http.MethodPost, "/books", gin.H{"isbn": "x"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Duplicate ISBN: 409, not a raw store error.
	w = doJSON(t, router, http.MethodPost, "/books", gin.H{
		"isbn":     "978-1-59327-584-6",
		"title":    "Shadow Copy",
		"author":   "Nobody",
		"quantity": 1,
	})
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestIssueStatusMapping(t *testing.T) {
	router, svc := newTestRouter(t)
	member := createTestMember(t, svc, "reader@example.edu")

	_, err := svc.CreateBook("issue-isbn", "T", "A", "P", 1)
	require.NoError(t, err)

	w := doJSON(t, router, http.MethodPost, "/loans", gin.H{
		"isbn": "issue-isbn", "member_id": member.ID.String(),
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// Inventory exhausted: 409.
	other := createTestMember(t, svc, "other@example.edu")
	w = doJSON(t, router, http.MethodPost, "/loans", gin.H{
		"isbn": "issue-isbn", "member_id": other.ID.String(),
	})
	require.Equal(t, http.StatusConflict, w.Code)

	// Unknown book: 404.
	w = doJSON(t, router, http.MethodPost, "/loans", gin.H{
		"isbn": "missing-isbn", "member_id": member.ID.String(),
	})
	require.Equal(t, http.StatusNotFound, w.Code)

	// Malformed member id: 400 before the service is touched.
	w = doJSON(t, router, http.MethodPost, "/loans", gin.H{
		"isbn": "issue-isbn", "member_id": "not-a-uuid",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIneligibleMemberMapsTo422(t *testing.T) {
	router, svc := newTestRouter(t)
	member := createTestMember(t, svc, "blocked@example.edu")

	_, err := svc.CreateBook("blocked-isbn", "T", "A", "P", 1)
	require.NoError(t, err)

	// Exhaust the borrowing limit: cheapest way to trip eligibility.
	for i := 0; i < 5; i++ {
		isbn := fmt.Sprintf("filler-%d", i)
		_, err := svc.CreateBook(isbn, "T", "A", "P", 1)
		require.NoError(t, err)
		_, err = svc.IssueBook(isbn, member.ID, time.Now().UTC())
		require.NoError(t, err)
	}

	w := doJSON(t, router, http.MethodPost, "/loans", gin.H{
		"isbn": "blocked-isbn", "member_id": member.ID.String(),
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestReturnAndRenewEndpoints(t *testing.T) {
	router, svc := newTestRouter(t)
	member := createTestMember(t, svc, "loop@example.edu")

	_, err := svc.CreateBook("loop-isbn", "T", "A", "P", 1)
	require.NoError(t, err)
	record, err := svc.IssueBook("loop-isbn", member.ID, time.Now().UTC())
	require.NoError(t, err)

	w := doJSON(t, router, http.MethodPost, "/loans/"+record.ID.String()+"/renew", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/loans/"+record.ID.String()+"/return", nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Double return: 409.
	w = doJSON(t, router, http.MethodPost, "/loans/"+record.ID.String()+"/return", nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

func TestFineEndpoints(t *testing.T) {
	router, svc := newTestRouter(t)
	member := createTestMember(t, svc, "fines@example.edu")

	w := doJSON(t, router, http.MethodPost, "/members/"+member.ID.String()+"/fines", gin.H{
		"amount_cents": 1200,
		"reason":       "DAMAGED",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var fine models.Fine
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fine))

	w = doJSON(t, router, http.MethodGet, "/members/"+member.ID.String()+"/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "1200")

	w = doJSON(t, router, http.MethodPost, "/fines/"+fine.ID.String()+"/pay", gin.H{"method": "card"})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/fines/"+fine.ID.String()+"/waive", nil)
	require.Equal(t, http.StatusConflict, w.Code)
}

package circulation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-backend/internal/platform/dbtest"
)

func newTestRouter(t *testing.T, cfg Config) (*gin.Engine, *Service, func(method, path string, body any) *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, _, _ := newTestService(t, cfg)
	r := gin.New()
	RegisterRoutes(r.Group("/api/v1"), func(c *gin.Context) { c.Next() }, svc)

	do := func(method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, "/api/v1"+path, &buf)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}
	return r, svc, do
}

type errBody struct {
	Error struct {
		Code          string `json:"code"`
		Reason        string `json:"reason"`
		BlockingCount int64  `json:"blocking_count"`
	} `json:"error"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHandler_BorrowFlow(t *testing.T) {
	_, svc, do := newTestRouter(t, Config{DefaultLoanDays: 7})
	conn := svc.repo.(*SQLStore).conn
	book := dbtest.InsertBook(t, conn, "HTTP", 1)
	u1 := dbtest.InsertUser(t, conn, "h1@example.com", true)
	u2 := dbtest.InsertUser(t, conn, "h2@example.com", true)

	w := do(http.MethodPost, "/borrowed-books", gin.H{"user_id": u1, "book_id": book})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[BorrowResponse](t, w)
	assert.Equal(t, StatusActive, created.Status)
	assert.NotNil(t, created.ReturnDate)
	assert.Nil(t, created.RealReturnDate)

	w = do(http.MethodPost, "/borrowed-books", gin.H{"user_id": u2, "book_id": book})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "NO_COPIES_AVAILABLE", decode[errBody](t, w).Error.Code)

	w = do(http.MethodGet, fmt.Sprintf("/books/%d/availability", book), nil)
	require.Equal(t, http.StatusOK, w.Code)
	av := decode[Availability](t, w)
	assert.Equal(t, int64(0), av.AvailableCopies)

	w = do(http.MethodDelete, fmt.Sprintf("/books/%d", book), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	eb := decode[errBody](t, w)
	assert.Equal(t, "CONFLICT", eb.Error.Code)
	assert.Equal(t, ReasonActiveBorrows, eb.Error.Reason)
	assert.Equal(t, int64(1), eb.Error.BlockingCount)

	w = do(http.MethodPut, fmt.Sprintf("/borrowed-books/%d/return", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StatusReturned, decode[BorrowResponse](t, w).Status)

	// 旧パスでも再スタンプできる
	w = do(http.MethodPut, fmt.Sprintf("/borrowed-books/%d", created.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(http.MethodGet, "/borrowed-books/"+created.ULID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decode[BorrowResponse](t, w).ID)

	w = do(http.MethodGet, fmt.Sprintf("/borrowed-books?user_id=%d&active=false", u1), nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[ListBorrowsResponse](t, w)
	assert.Equal(t, int64(1), list.Total)
	assert.Equal(t, 0, list.NextOffset)

	w = do(http.MethodGet, fmt.Sprintf("/books/%d/deletable", book), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[Guard](t, w).Deletable)

	w = do(http.MethodGet, "/stats/popular-books?limit=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ranks := decode[[]RankRow](t, w)
	require.Len(t, ranks, 1)
	assert.Equal(t, book, ranks[0].ID)

	w = do(http.MethodDelete, fmt.Sprintf("/books/%d", book), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_Errors(t *testing.T) {
	_, svc, do := newTestRouter(t, Config{})
	conn := svc.repo.(*SQLStore).conn
	book := dbtest.InsertBook(t, conn, "Err", 1)

	w := do(http.MethodPost, "/borrowed-books", gin.H{"user_id": 999, "book_id": book})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "INVALID_REFERENCE", decode[errBody](t, w).Error.Code)

	w = do(http.MethodPost, "/borrowed-books", gin.H{"book_id": book})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(http.MethodGet, "/books/abc/availability", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(http.MethodGet, "/books/12345/availability", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(http.MethodPut, "/borrowed-books/12345/return", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(http.MethodGet, "/borrowed-books/user/12345", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(http.MethodGet, "/borrowed-books?active=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(http.MethodGet, "/stats/popular-categories", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

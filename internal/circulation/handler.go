package circulation

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/page"
)

type Handler struct{ svc *Service }

// RegisterRoutes は貸出・在庫・削除ガード・ランキングのルートを登録する。
// authMW は更新系ルートだけに掛ける
func RegisterRoutes(r gin.IRoutes, authMW gin.HandlerFunc, svc *Service) {
	h := &Handler{svc: svc}

	// 在庫
	r.GET("/books/:id/availability", h.GetAvailability)

	// 貸出レコード
	r.POST("/borrowed-books", authMW, h.CreateBorrow)
	r.GET("/borrowed-books", h.ListBorrows)
	r.GET("/borrowed-books/user/:user_id", h.ListBorrowsByUser)
	r.GET("/borrowed-books/:id", h.GetBorrow)
	r.PUT("/borrowed-books/:id/return", authMW, h.ReturnBorrow)
	// 旧クライアント互換（本文は無視して返却扱い）
	r.PUT("/borrowed-books/:id", authMW, h.ReturnBorrow)
	r.DELETE("/borrowed-books/:id", authMW, h.DeleteBorrow)

	// 削除ガード
	r.GET("/books/:id/deletable", h.deletable(KindBook))
	r.GET("/users/:id/deletable", h.deletable(KindUser))
	r.GET("/categories/:id/deletable", h.deletable(KindCategory))
	r.DELETE("/books/:id", authMW, h.delete(KindBook))
	r.DELETE("/users/:id", authMW, h.delete(KindUser))
	r.DELETE("/categories/:id", authMW, h.delete(KindCategory))

	// ランキング
	r.GET("/stats/popular-books", h.PopularBooks)
	r.GET("/stats/popular-authors", h.PopularAuthors)
	r.GET("/stats/popular-categories", h.PopularCategories)
}

// ---------- handlers ----------

// GET /books/:id/availability
func (h *Handler) GetAvailability(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	av, err := h.svc.Availability(c.Request.Context(), id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, av)
}

// POST /borrowed-books
func (h *Handler) CreateBorrow(c *gin.Context) {
	var req CreateBorrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadRequest(c, "invalid json or missing required fields")
		return
	}
	rec, err := h.svc.CreateBorrow(c.Request.Context(), req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.Header("Location", "/borrowed-books/"+strconv.FormatInt(rec.ID, 10))
	c.JSON(http.StatusCreated, buildBorrowResponse(rec))
}

// GET /borrowed-books
func (h *Handler) ListBorrows(c *gin.Context) {
	var f BorrowFilter
	if v := c.Query("user_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			apierr.BadRequest(c, "user_id must be an integer")
			return
		}
		f.UserID = &n
	}
	if v := c.Query("book_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			apierr.BadRequest(c, "book_id must be an integer")
			return
		}
		f.BookID = &n
	}
	if v := c.Query("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			apierr.BadRequest(c, "active must be true or false")
			return
		}
		f.Active = &b
	}

	p := page.FromQuery(c)
	items, total, err := h.svc.ListBorrows(c.Request.Context(), f, p)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, buildList(items, total, p))
}

// GET /borrowed-books/user/:user_id
func (h *Handler) ListBorrowsByUser(c *gin.Context) {
	uid, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	p := page.FromQuery(c)
	items, total, err := h.svc.ListBorrowsByUser(c.Request.Context(), uid, p)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, buildList(items, total, p))
}

// GET /borrowed-books/:id  (id or borrow_ulid)
func (h *Handler) GetBorrow(c *gin.Context) {
	rec, err := h.svc.GetBorrow(c.Request.Context(), c.Param("id"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, buildBorrowResponse(rec))
}

// PUT /borrowed-books/:id/return
func (h *Handler) ReturnBorrow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rec, err := h.svc.ReturnBorrow(c.Request.Context(), id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, buildBorrowResponse(rec))
}

// DELETE /borrowed-books/:id
func (h *Handler) DeleteBorrow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteBorrow(c.Request.Context(), id); err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "id": id})
}

func (h *Handler) deletable(kind EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		g, err := h.svc.CanDelete(c.Request.Context(), kind, id)
		if err != nil {
			apierr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, g)
	}
}

func (h *Handler) delete(kind EntityKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := h.svc.Delete(c.Request.Context(), kind, id); err != nil {
			apierr.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": true, "kind": kind, "id": id})
	}
}

func (h *Handler) PopularBooks(c *gin.Context) {
	rows, err := h.svc.TopBooks(c.Request.Context(), limitQuery(c))
	h.writeRanking(c, rows, err)
}

func (h *Handler) PopularAuthors(c *gin.Context) {
	rows, err := h.svc.TopAuthors(c.Request.Context(), limitQuery(c))
	h.writeRanking(c, rows, err)
}

func (h *Handler) PopularCategories(c *gin.Context) {
	rows, err := h.svc.TopCategories(c.Request.Context(), limitQuery(c))
	h.writeRanking(c, rows, err)
}

func (h *Handler) writeRanking(c *gin.Context, rows []RankRow, err error) {
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	if rows == nil {
		rows = []RankRow{}
	}
	c.JSON(http.StatusOK, rows)
}

// ---------- helpers ----------

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		apierr.BadRequest(c, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func limitQuery(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil {
		return 0
	}
	return n
}

func buildList(items []BorrowRecord, total int64, p page.Page) ListBorrowsResponse {
	out := ListBorrowsResponse{
		Items:      make([]BorrowResponse, 0, len(items)),
		Total:      total,
		NextOffset: p.NextOffset(total),
	}
	for i := range items {
		out.Items = append(out.Items, buildBorrowResponse(&items[i]))
	}
	return out
}

package catalog

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/page"
)

type Handler struct{ svc *Service }

// RegisterRoutes は書籍・著者・カテゴリの CRUD。書籍とカテゴリの DELETE は貸出側で登録する
func RegisterRoutes(r gin.IRoutes, authMW gin.HandlerFunc, svc *Service) {
	h := &Handler{svc: svc}

	// books
	r.POST("/books", authMW, h.CreateBook)
	r.GET("/books", h.ListBooks)
	r.GET("/books/:id", h.GetBook)
	r.PUT("/books/:id", authMW, h.UpdateBook)

	// authors
	r.POST("/authors", authMW, h.CreateAuthor)
	r.GET("/authors", h.ListAuthors)
	r.GET("/authors/:id", h.GetAuthor)
	r.PUT("/authors/:id", authMW, h.UpdateAuthor)
	r.DELETE("/authors/:id", authMW, h.DeleteAuthor)

	// categories
	r.POST("/categories", authMW, h.CreateCategory)
	r.GET("/categories", h.ListCategories)
	r.GET("/categories/name/:name", h.GetCategoryByName)
	r.GET("/categories/:id", h.GetCategory)
	r.PUT("/categories/:id", authMW, h.UpdateCategory)
}

// ===== books =====

func (h *Handler) CreateBook(c *gin.Context) {
	var req CreateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadRequest(c, "invalid json: title and isbn are required")
		return
	}
	res, err := h.svc.CreateBook(c.Request.Context(), req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.Header("Location", "/books/"+strconv.FormatInt(res.ID, 10))
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetBook(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.svc.GetBook(c.Request.Context(), id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListBooks(c *gin.Context) {
	f := BookFilter{Title: c.Query("title")}
	if v := c.Query("author_id"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.AuthorID = &n
		}
	}
	if v := c.Query("category_id"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			f.CategoryID = &n
		}
	}
	p := page.FromQuery(c)
	items, total, err := h.svc.ListBooks(c.Request.Context(), f, p)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse[Book]{Items: items, Total: total, NextOffset: p.NextOffset(total)})
}

func (h *Handler) UpdateBook(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req UpdateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadRequest(c, "invalid json")
		return
	}
	res, err := h.svc.UpdateBook(c.Request.Context(), id, req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ===== authors =====

func (h *Handler) CreateAuthor(c *gin.Context) {
	var req CreateAuthorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadRequest(c, "invalid json: first_name and last_name are required")
		return
	}
	res, err := h.svc.CreateAuthor(c.Request.Context(), req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.Header("Location", "/authors/"+strconv.FormatInt(res.ID, 10))
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetAuthor(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.svc.GetAuthor(c.Request.Context(), id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListAuthors(c *gin.Context) {
	p := page.FromQuery(c)
	items, total, err := h.svc.ListAuthors(c.Request.Context(), p)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse[Author]{Items: items, Total: total, NextOffset: p.NextOffset(total)})
}

func (h *Handler) UpdateAuthor(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req UpdateAuthorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadRequest(c, "invalid json")
		return
	}
	res, err := h.svc.UpdateAuthor(c.Request.Context(), id, req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) DeleteAuthor(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.svc.DeleteAuthor(c.Request.Context(), id); err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "id": id})
}

// ===== categories =====

func (h *Handler) CreateCategory(c *gin.Context) {
	var req CreateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadRequest(c, "invalid json: name is required")
		return
	}
	res, err := h.svc.CreateCategory(c.Request.Context(), req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.Header("Location", "/categories/"+strconv.FormatInt(res.ID, 10))
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetCategory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.svc.GetCategory(c.Request.Context(), id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetCategoryByName(c *gin.Context) {
	res, err := h.svc.GetCategoryByName(c.Request.Context(), c.Param("name"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListCategories(c *gin.Context) {
	p := page.FromQuery(c)
	items, total, err := h.svc.ListCategories(c.Request.Context(), p)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, ListResponse[Category]{Items: items, Total: total, NextOffset: p.NextOffset(total)})
}

func (h *Handler) UpdateCategory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req UpdateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadRequest(c, "invalid json")
		return
	}
	res, err := h.svc.UpdateCategory(c.Request.Context(), id, req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apierr.BadRequest(c, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

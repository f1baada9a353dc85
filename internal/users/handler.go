package users

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"library-backend/internal/platform/apierr"
	"library-backend/internal/platform/auth"
	"library-backend/internal/platform/page"
)

type Handler struct{ svc *Service }

// RegisterRoutes: 登録は公開、更新と /users/me は認証必須。DELETE は貸出側で登録する
func RegisterRoutes(r gin.IRoutes, authMW gin.HandlerFunc, svc *Service) {
	h := &Handler{svc: svc}

	r.POST("/users", h.Create)
	r.GET("/users", h.List)
	r.GET("/users/active", h.ListActive)
	r.GET("/users/me", authMW, h.Me)
	r.GET("/users/email/:email", h.GetByEmail)
	r.GET("/users/:id", h.Get)
	r.PUT("/users/:id", authMW, h.Update)
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadRequest(c, "invalid json: first_name, last_name, email and password (8+ chars) are required")
		return
	}
	u, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.Header("Location", "/users/"+strconv.FormatInt(u.ID, 10))
	c.JSON(http.StatusCreated, u)
}

func (h *Handler) List(c *gin.Context)       { h.list(c, false) }
func (h *Handler) ListActive(c *gin.Context) { h.list(c, true) }

func (h *Handler) list(c *gin.Context, activeOnly bool) {
	p := page.FromQuery(c)
	items, total, err := h.svc.List(c.Request.Context(), activeOnly, p)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, ListUsersResponse{Items: items, Total: total, NextOffset: p.NextOffset(total)})
}

func (h *Handler) Me(c *gin.Context) {
	id, ok := auth.UserID(c)
	if !ok {
		apierr.Respond(c, apierr.Unauthorized("not logged in"))
		return
	}
	u, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) GetByEmail(c *gin.Context) {
	u, err := h.svc.GetByEmail(c.Request.Context(), c.Param("email"))
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apierr.BadRequest(c, "id must be a positive integer")
		return
	}
	u, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) Update(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		apierr.BadRequest(c, "id must be a positive integer")
		return
	}
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierr.BadRequest(c, "invalid json")
		return
	}
	u, err := h.svc.Update(c.Request.Context(), id, req)
	if err != nil {
		apierr.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

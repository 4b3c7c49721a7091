// Package api exposes the tracking service over HTTP.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"entrytracker/internal/attendance"
	"entrytracker/internal/auth"
	"entrytracker/internal/model"
	"entrytracker/internal/report"
	"entrytracker/internal/scan"
)

// TokenConfig controls the tokens issued at login.
type TokenConfig struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type Handler struct {
	svc       *attendance.Service
	operators *auth.Operators
	tokens    TokenConfig
	loc       *time.Location
	logger    *zap.Logger
}

func New(svc *attendance.Service, operators *auth.Operators, tokens TokenConfig, loc *time.Location, logger *zap.Logger) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, operators: operators, tokens: tokens, loc: loc, logger: logger}
}

// Register mounts the auth endpoints and the owner-scoped /v1 API on r.
// Extra middleware guards the auth endpoints and runs after authentication
// on the rest.
func (h *Handler) Register(r gin.IRouter, mw ...gin.HandlerFunc) {
	authRoutes := r.Group("/v1/auth", mw...)
	authRoutes.POST("/login", h.Login)
	authRoutes.POST("/refresh", h.Refresh)

	v1 := r.Group("/v1", auth.OperatorAuth(h.tokens.SigningKey, h.tokens.Issuer))
	v1.Use(mw...)

	v1.POST("/people", h.AddPerson)
	v1.GET("/people", h.ListPeople)
	v1.GET("/people/:id", h.GetPerson)
	v1.DELETE("/people/:id", h.DeletePerson)
	v1.GET("/people/:id/qrcode.png", h.QRCode)

	v1.POST("/scans", h.Scan)
	v1.POST("/entries", h.RecordEntry)
	v1.GET("/entries", h.ListEntries)
	v1.DELETE("/entries", h.ClearEntries)

	v1.GET("/occupancy", h.Occupancy)
	v1.GET("/stats/today", h.Today)
	v1.GET("/stats/daily", h.Daily)
	v1.GET("/export/entries.xlsx", h.ExportEntries)
}

// ---------- Auth ----------

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	owner, err := h.operators.Authenticate(req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	h.issue(c, owner)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := auth.Parse(req.RefreshToken, h.tokens.SigningKey, h.tokens.Issuer, auth.KindRefresh)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	h.issue(c, claims.Subject)
}

func (h *Handler) issue(c *gin.Context, owner string) {
	tokens, err := auth.Issue(owner, "operator", h.tokens.Issuer, h.tokens.SigningKey, h.tokens.AccessTTL, h.tokens.RefreshTTL)
	if err != nil {
		h.logger.Error("token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// ---------- People ----------

type personRequest struct {
	Name         string `json:"name"`
	EnrollmentNo string `json:"enrollment_no"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
}

func (h *Handler) AddPerson(c *gin.Context) {
	var req personRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.svc.AddPerson(c.Request.Context(), auth.Owner(c), attendance.PersonInput{
		Name:         req.Name,
		EnrollmentNo: req.EnrollmentNo,
		Email:        req.Email,
		Phone:        req.Phone,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) ListPeople(c *gin.Context) {
	people, err := h.svc.ListPeople(c.Request.Context(), auth.Owner(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"people": people})
}

func (h *Handler) GetPerson(c *gin.Context) {
	p, err := h.svc.GetPerson(c.Request.Context(), auth.Owner(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePerson(c *gin.Context) {
	if err := h.svc.DeletePerson(c.Request.Context(), auth.Owner(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) QRCode(c *gin.Context) {
	png, _, err := h.svc.QRCode(c.Request.Context(), auth.Owner(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// ---------- Scans & entries ----------

// scanRequest carries either one decoded payload or a burst of frames decoded
// client side; the first frame that decodes wins.
type scanRequest struct {
	Payload string   `json:"payload"`
	Frames  []string `json:"frames"`
}

func (h *Handler) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var (
		proposal scan.Proposal
		err      error
	)
	if len(req.Frames) > 0 {
		proposal, err = h.svc.ScanSource(c.Request.Context(), auth.Owner(c), scan.TextSource(req.Frames))
	} else {
		proposal, err = h.svc.Scan(c.Request.Context(), auth.Owner(c), req.Payload)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, proposal)
}

type entryRequest struct {
	Type   string        `json:"type" binding:"required"`
	Person *personFields `json:"person"`
}

type personFields struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	EnrollmentNo string `json:"enrollment_no"`
}

// RecordEntry records a confirmed proposal or a manual entry. A person given
// by id alone is resolved against the registry; a name without an id is kept
// as a walk-in snapshot.
func (h *Handler) RecordEntry(c *gin.Context) {
	var req entryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	typ, ok := model.ParseEntryType(req.Type)
	if !ok {
		h.fail(c, &attendance.ValidationError{Kind: attendance.InvalidType, Value: req.Type})
		return
	}
	ctx := c.Request.Context()
	owner := auth.Owner(c)

	var snap *model.PersonSnapshot
	if req.Person != nil {
		snap = &model.PersonSnapshot{ID: req.Person.ID, Name: req.Person.Name, EnrollmentNo: req.Person.EnrollmentNo}
		if snap.ID != "" && snap.Name == "" {
			p, err := h.svc.GetPerson(ctx, owner, snap.ID)
			if err != nil {
				h.fail(c, err)
				return
			}
			snap = p.Snapshot()
		}
	}

	e, err := h.svc.Record(ctx, owner, typ, snap)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *Handler) ListEntries(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}
	var typ model.EntryType
	if v := c.Query("type"); v != "" && v != "all" {
		parsed, ok := model.ParseEntryType(v)
		if !ok {
			h.fail(c, &attendance.ValidationError{Kind: attendance.InvalidType, Value: v})
			return
		}
		typ = parsed
	}
	entries, err := h.svc.EntriesByType(c.Request.Context(), auth.Owner(c), typ, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handler) ClearEntries(c *gin.Context) {
	if err := h.svc.ClearEntries(c.Request.Context(), auth.Owner(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------- Derived views ----------

func (h *Handler) Occupancy(c *gin.Context) {
	st, err := h.svc.Occupancy(c.Request.Context(), auth.Owner(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"inside_ids":    st.InsideIDs(),
		"anonymous":     st.Anonymous,
		"current_count": st.Count(),
	})
}

func (h *Handler) Today(c *gin.Context) {
	day, err := h.svc.Today(c.Request.Context(), auth.Owner(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, day)
}

func (h *Handler) Daily(c *gin.Context) {
	days, err := h.svc.Daily(c.Request.Context(), auth.Owner(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days})
}

func (h *Handler) ExportEntries(c *gin.Context) {
	entries, err := h.svc.Entries(c.Request.Context(), auth.Owner(c), 0)
	if err != nil {
		h.fail(c, err)
		return
	}
	data, err := report.EntriesXLSX(entries, h.loc)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="entries.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

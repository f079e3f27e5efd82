package notification

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jwalitptl/notification-api/internal/middleware"
	"github.com/jwalitptl/notification-api/internal/model"
	authsvc "github.com/jwalitptl/notification-api/internal/service/auth"
	"github.com/jwalitptl/notification-api/internal/service/devicetoken"
	"github.com/jwalitptl/notification-api/internal/service/notification"
	apperrors "github.com/jwalitptl/notification-api/pkg/errors"
	"github.com/jwalitptl/notification-api/pkg/httputil"
)

type TicketIssuer interface {
	IssueTicket(ctx context.Context, p *authsvc.Principal) (*authsvc.Ticket, error)
}

type Handler struct {
	service notification.Servicer
	tokens  devicetoken.Registry
	tickets TicketIssuer
}

func NewHandler(service notification.Servicer, tokens devicetoken.Registry, tickets TicketIssuer) *Handler {
	return &Handler{service: service, tokens: tokens, tickets: tickets}
}

// RegisterRoutes expects rg to be session authenticated already.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/my", h.ListMine)
	rg.GET("/search", h.Search)
	rg.GET("/unread-count", h.UnreadCount)
	rg.GET("/unread-count-by-type", h.UnreadCountByType)
	rg.PATCH("/mark-all-read", h.MarkAllAsRead)
	rg.PATCH("/mark-multiple-read", h.MarkMultipleAsRead)
	rg.DELETE("/multiple", h.DeleteMultiple)

	rg.POST("/device-token", h.RegisterDeviceToken)
	rg.GET("/device-tokens/active", h.ActiveDeviceTokens)
	rg.DELETE("/device-tokens/:id", h.UnsubscribeDeviceToken)

	rg.POST("/ws-ticket", h.IssueTicket)

	rg.GET("/:id", h.Get)
	rg.PATCH("/:id/read", h.MarkAsRead)
	rg.DELETE("/:id", h.Delete)
}

type idsRequest struct {
	IDs []uuid.UUID `json:"notificationIds" binding:"required,min=1,max=100"`
}

func (h *Handler) Create(c *gin.Context) {
	var req model.CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
		return
	}

	n, err := h.service.Create(c.Request.Context(), &req, middleware.RoleFrom(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, n)
}

// List lets admins filter by any userId; everyone else only sees their own.
func (h *Handler) List(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}

	userID := middleware.UserIDFrom(c)
	if middleware.RoleFrom(c) != model.RoleAdmin {
		filter.UserID = &userID
	}

	page, err := h.service.List(c.Request.Context(), filter, parsePagination(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, page)
}

func (h *Handler) ListMine(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	userID := middleware.UserIDFrom(c)
	filter.UserID = &userID

	page, err := h.service.List(c.Request.Context(), filter, parsePagination(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, page)
}

func (h *Handler) Search(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		httputil.RespondWithError(c, apperrors.BadRequest("search query is required", nil))
		return
	}

	var scope *uuid.UUID
	if middleware.RoleFrom(c) == model.RoleAdmin {
		if raw := c.Query("userId"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				httputil.RespondWithError(c, apperrors.BadRequest("invalid userId", err))
				return
			}
			scope = &id
		}
	} else {
		id := middleware.UserIDFrom(c)
		scope = &id
	}

	page, err := h.service.Search(c.Request.Context(), q, scope, parsePagination(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, page)
}

func (h *Handler) UnreadCount(c *gin.Context) {
	count, err := h.service.GetUnreadCount(c.Request.Context(), middleware.UserIDFrom(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"count": count})
}

func (h *Handler) UnreadCountByType(c *gin.Context) {
	counts, err := h.service.GetUnreadCountByType(c.Request.Context(), middleware.UserIDFrom(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, counts)
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	n, err := h.service.Get(c.Request.Context(), middleware.UserIDFrom(c), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, n)
}

func (h *Handler) MarkAsRead(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.service.MarkAsRead(c.Request.Context(), middleware.UserIDFrom(c), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"id": id, "isRead": true})
}

func (h *Handler) MarkAllAsRead(c *gin.Context) {
	n, err := h.service.MarkAllAsRead(c.Request.Context(), middleware.UserIDFrom(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"modifiedCount": n})
}

func (h *Handler) MarkMultipleAsRead(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("notificationIds must list 1 to 100 ids", err))
		return
	}
	n, err := h.service.MarkMultipleAsRead(c.Request.Context(), middleware.UserIDFrom(c), req.IDs)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"modifiedCount": n})
}

func (h *Handler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), middleware.UserIDFrom(c), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"deletedCount": 1})
}

func (h *Handler) DeleteMultiple(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("notificationIds must list 1 to 100 ids", err))
		return
	}
	n, err := h.service.DeleteMultiple(c.Request.Context(), middleware.UserIDFrom(c), req.IDs)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"deletedCount": n})
}

func (h *Handler) RegisterDeviceToken(c *gin.Context) {
	var req model.RegisterDeviceTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid request body", err))
		return
	}
	if req.UserAgent == "" {
		req.UserAgent = c.Request.UserAgent()
	}

	token, err := h.tokens.RegisterToken(c.Request.Context(), middleware.UserIDFrom(c), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithCreated(c, token)
}

func (h *Handler) ActiveDeviceTokens(c *gin.Context) {
	tokens, err := h.tokens.GetActiveTokens(c.Request.Context(), middleware.UserIDFrom(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if tokens == nil {
		tokens = []*model.DeviceToken{}
	}
	httputil.RespondWithSuccess(c, tokens)
}

func (h *Handler) UnsubscribeDeviceToken(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.tokens.Unsubscribe(c.Request.Context(), middleware.UserIDFrom(c), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"id": id, "isActive": false})
}

// IssueTicket hands out a single-use credential for opening the real-time
// channel, since browsers cannot set headers on websocket upgrades.
func (h *Handler) IssueTicket(c *gin.Context) {
	p := middleware.PrincipalFrom(c)
	if p == nil {
		httputil.RespondWithError(c, apperrors.Unauthorized(nil))
		return
	}
	ticket, err := h.tickets.IssueTicket(c.Request.Context(), p)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, ticket)
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid id", err))
		return uuid.Nil, false
	}
	return id, true
}

func parsePagination(c *gin.Context) model.Pagination {
	page, _ := strconv.Atoi(c.Query("page"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	return model.Pagination{Page: page, Limit: limit}.Normalize()
}

func parseFilter(c *gin.Context) (model.NotificationFilter, error) {
	var f model.NotificationFilter

	if raw := c.Query("userId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return f, apperrors.BadRequest("invalid userId", err)
		}
		f.UserID = &id
	}
	if raw := c.Query("type"); raw != "" {
		t := model.NotificationType(raw)
		if !t.Valid() {
			return f, apperrors.BadRequest("invalid notification type", nil)
		}
		f.Type = &t
	}
	if raw := c.Query("isRead"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return f, apperrors.BadRequest("isRead must be true or false", err)
		}
		f.IsRead = &b
	}
	var err error
	if f.StartDate, err = parseTime(c.Query("startDate")); err != nil {
		return f, apperrors.BadRequest("invalid startDate", err)
	}
	if f.EndDate, err = parseTime(c.Query("endDate")); err != nil {
		return f, apperrors.BadRequest("invalid endDate", err)
	}
	f.Search = strings.TrimSpace(c.Query("search"))
	return f, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates (UTC midnight).
func parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

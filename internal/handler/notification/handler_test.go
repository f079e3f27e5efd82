package notification_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notification-api/config"
	"github.com/jwalitptl/notification-api/internal/handler/health"
	handler "github.com/jwalitptl/notification-api/internal/handler/notification"
	"github.com/jwalitptl/notification-api/internal/middleware"
	"github.com/jwalitptl/notification-api/internal/model"
	"github.com/jwalitptl/notification-api/internal/repository/postgres"
	"github.com/jwalitptl/notification-api/internal/router"
	authsvc "github.com/jwalitptl/notification-api/internal/service/auth"
	"github.com/jwalitptl/notification-api/internal/service/devicetoken"
	"github.com/jwalitptl/notification-api/internal/service/notification"
	"github.com/jwalitptl/notification-api/internal/testutil"
	"github.com/jwalitptl/notification-api/pkg/auth"
	"github.com/jwalitptl/notification-api/pkg/event"
	"github.com/jwalitptl/notification-api/pkg/logger"
	"github.com/jwalitptl/notification-api/pkg/metrics"
	"github.com/jwalitptl/notification-api/pkg/notifycache"
)

const secret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type harness struct {
	t       *testing.T
	engine  *gin.Engine
	service *notification.Service
	auth    *authsvc.Service
	jwt     auth.JWTService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.NewTestDB(t)
	log := logger.Nop()
	m := metrics.NewNop()

	jwtSvc := auth.NewJWTService(secret)
	authService := authsvc.NewService(jwtSvc, config.JWTConfig{Issuer: "test"})
	svc := notification.NewService(postgres.NewNotificationRepository(db), log, m)
	tokens := devicetoken.NewService(postgres.NewDeviceTokenRepository(db), log)

	r := router.NewRouter(
		middleware.NewAuthMiddleware(authService),
		handler.NewHandler(svc, tokens, authService),
		health.NewHandler(db, nil),
		nil,
		func(c *gin.Context) { c.Status(http.StatusUpgradeRequired) },
		m,
		router.RouterConfig{CORSConfig: middleware.DefaultCORSConfig(nil)},
	)
	return &harness{t: t, engine: r.Setup(), service: svc, auth: authService, jwt: jwtSvc}
}

func (h *harness) session(userID uuid.UUID, role model.Role) string {
	h.t.Helper()
	token, err := h.jwt.Sign(auth.NewClaims("test", userID.String(), string(role), time.Hour))
	require.NoError(h.t, err)
	return token
}

func (h *harness) do(method, path, token string, body interface{}) (int, apiResponse) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)

	var resp apiResponse
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func (h *harness) seed(userID uuid.UUID, typ model.NotificationType, title string) *model.Notification {
	h.t.Helper()
	n, err := h.service.Create(context.Background(), &model.CreateNotificationRequest{
		UserID: userID, Type: typ, Title: title, Content: "content for " + title,
	}, model.RoleAdmin)
	require.NoError(h.t, err)
	return n
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestRequiresSession(t *testing.T) {
	h := newHarness(t)

	code, resp := h.do(http.MethodGet, "/api/v1/notifications/my", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, resp.Success)

	code, _ = h.do(http.MethodGet, "/api/v1/notifications/my", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRejectsRolesOutsideAdminAndRecruiter(t *testing.T) {
	h := newHarness(t)
	candidate := h.session(uuid.New(), model.Role("CANDIDATE"))

	code, resp := h.do(http.MethodGet, "/api/v1/notifications/my", candidate, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.False(t, resp.Success)

	code, _ = h.do(http.MethodPost, "/api/v1/notifications/ws-ticket", candidate, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestTicketIsNotASessionToken(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()

	code, resp := h.do(http.MethodPost, "/api/v1/notifications/ws-ticket", h.session(user, model.RoleRecruiter), nil)
	require.Equal(t, http.StatusOK, code)
	ticket := decode[authsvc.Ticket](t, resp.Data)
	require.NotEmpty(t, ticket.Ticket)

	code, _ = h.do(http.MethodGet, "/api/v1/notifications/my", ticket.Ticket, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	p, err := h.auth.ValidateTicket(context.Background(), ticket.Ticket)
	require.NoError(t, err)
	assert.Equal(t, user, p.UserID)
	assert.Equal(t, model.RoleRecruiter, p.Role)
}

func TestCreateUsesCallerRole(t *testing.T) {
	h := newHarness(t)
	target := uuid.New()
	recruiter := h.session(uuid.New(), model.RoleRecruiter)

	code, resp := h.do(http.MethodPost, "/api/v1/notifications", recruiter, model.CreateNotificationRequest{
		UserID: target, Type: model.NotificationStatusChange, Title: "Moved", Content: "Candidate moved",
	})
	require.Equal(t, http.StatusCreated, code)
	created := decode[model.Notification](t, resp.Data)
	assert.Equal(t, target, created.UserID)
	assert.False(t, created.IsRead)

	code, resp = h.do(http.MethodPost, "/api/v1/notifications", recruiter, model.CreateNotificationRequest{
		UserID: target, Type: model.NotificationSystemError, Title: "Down", Content: "Everything is down",
	})
	assert.Equal(t, http.StatusForbidden, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, http.StatusForbidden, resp.Error.Code)

	code, _ = h.do(http.MethodPost, "/api/v1/notifications", recruiter, model.CreateNotificationRequest{
		UserID: target, Type: "NOT_A_TYPE", Title: "x", Content: "y",
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListScopesNonAdminsToThemselves(t *testing.T) {
	h := newHarness(t)
	alice, bob := uuid.New(), uuid.New()
	h.seed(alice, model.NotificationStatusChange, "for alice")
	h.seed(bob, model.NotificationStatusChange, "for bob")

	code, resp := h.do(http.MethodGet, "/api/v1/notifications?userId="+bob.String(), h.session(alice, model.RoleRecruiter), nil)
	require.Equal(t, http.StatusOK, code)
	page := decode[model.Page[*model.Notification]](t, resp.Data)
	require.Len(t, page.Items, 1)
	assert.Equal(t, alice, page.Items[0].UserID)

	code, resp = h.do(http.MethodGet, "/api/v1/notifications?userId="+bob.String(), h.session(uuid.New(), model.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, code)
	page = decode[model.Page[*model.Notification]](t, resp.Data)
	require.Len(t, page.Items, 1)
	assert.Equal(t, bob, page.Items[0].UserID)
}

func TestOwnershipIsEnforced(t *testing.T) {
	h := newHarness(t)
	owner, other := uuid.New(), uuid.New()
	n := h.seed(owner, model.NotificationBiasAlert, "bias")
	path := "/api/v1/notifications/" + n.ID.String()

	code, _ := h.do(http.MethodGet, path, h.session(other, model.RoleAdmin), nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = h.do(http.MethodPatch, path+"/read", h.session(other, model.RoleRecruiter), nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, resp := h.do(http.MethodGet, path, h.session(owner, model.RoleRecruiter), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "bias", decode[model.Notification](t, resp.Data).Title)

	code, _ = h.do(http.MethodGet, "/api/v1/notifications/not-a-uuid", h.session(owner, model.RoleRecruiter), nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReadStateAndCounts(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	token := h.session(user, model.RoleRecruiter)
	first := h.seed(user, model.NotificationStatusChange, "one")
	second := h.seed(user, model.NotificationStatusChange, "two")
	h.seed(user, model.NotificationBiasAlert, "three")

	code, resp := h.do(http.MethodGet, "/api/v1/notifications/unread-count", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, decode[map[string]int](t, resp.Data)["count"])

	// marking twice is fine
	for i := 0; i < 2; i++ {
		code, _ = h.do(http.MethodPatch, "/api/v1/notifications/"+first.ID.String()+"/read", token, nil)
		require.Equal(t, http.StatusOK, code)
	}

	code, resp = h.do(http.MethodGet, "/api/v1/notifications/unread-count-by-type", token, nil)
	require.Equal(t, http.StatusOK, code)
	byType := decode[map[string]int](t, resp.Data)
	assert.Len(t, byType, len(model.NotificationTypes))
	assert.Equal(t, 1, byType[string(model.NotificationStatusChange)])
	assert.Equal(t, 1, byType[string(model.NotificationBiasAlert)])
	assert.Equal(t, 0, byType[string(model.NotificationSystemError)])

	code, resp = h.do(http.MethodPatch, "/api/v1/notifications/mark-multiple-read", token,
		map[string]interface{}{"notificationIds": []uuid.UUID{second.ID, uuid.New()}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, decode[map[string]int](t, resp.Data)["modifiedCount"])

	code, resp = h.do(http.MethodPatch, "/api/v1/notifications/mark-all-read", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, decode[map[string]int](t, resp.Data)["modifiedCount"])

	code, resp = h.do(http.MethodGet, "/api/v1/notifications/my?isRead=false", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decode[model.Page[*model.Notification]](t, resp.Data).Items)
}

func TestSearchAndDelete(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	token := h.session(user, model.RoleRecruiter)
	keep := h.seed(user, model.NotificationStatusChange, "Interview scheduled")
	drop := h.seed(user, model.NotificationStatusChange, "Offer sent")
	h.seed(uuid.New(), model.NotificationStatusChange, "Interview elsewhere")

	code, resp := h.do(http.MethodGet, "/api/v1/notifications/search?q=INTERVIEW", token, nil)
	require.Equal(t, http.StatusOK, code)
	page := decode[model.Page[*model.Notification]](t, resp.Data)
	require.Len(t, page.Items, 1)
	assert.Equal(t, keep.ID, page.Items[0].ID)

	code, _ = h.do(http.MethodGet, "/api/v1/notifications/search", token, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = h.do(http.MethodDelete, "/api/v1/notifications/multiple", token,
		map[string]interface{}{"notificationIds": []uuid.UUID{drop.ID, uuid.New()}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, decode[map[string]int](t, resp.Data)["deletedCount"])

	code, _ = h.do(http.MethodDelete, "/api/v1/notifications/multiple", token, map[string]interface{}{"notificationIds": []uuid.UUID{}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(http.MethodDelete, "/api/v1/notifications/"+keep.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = h.do(http.MethodDelete, "/api/v1/notifications/"+keep.ID.String(), token, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDeviceTokens(t *testing.T) {
	h := newHarness(t)
	user := uuid.New()
	token := h.session(user, model.RoleRecruiter)

	code, resp := h.do(http.MethodPost, "/api/v1/notifications/device-token", token,
		model.RegisterDeviceTokenRequest{Token: "first", Platform: "web"})
	require.Equal(t, http.StatusCreated, code)
	first := decode[model.DeviceToken](t, resp.Data)

	code, _ = h.do(http.MethodPost, "/api/v1/notifications/device-token", token,
		model.RegisterDeviceTokenRequest{Token: "second", Platform: "WEB"})
	require.Equal(t, http.StatusCreated, code)

	code, resp = h.do(http.MethodGet, "/api/v1/notifications/device-tokens/active", token, nil)
	require.Equal(t, http.StatusOK, code)
	active := decode[[]model.DeviceToken](t, resp.Data)
	require.Len(t, active, 1)
	assert.Equal(t, "second", active[0].Token)

	code, _ = h.do(http.MethodPost, "/api/v1/notifications/device-token", token,
		model.RegisterDeviceTokenRequest{Token: "x", Platform: "windows-phone"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(http.MethodDelete, "/api/v1/notifications/device-tokens/"+active[0].ID.String(), token, nil)
	require.Equal(t, http.StatusOK, code)

	code, resp = h.do(http.MethodGet, "/api/v1/notifications/device-tokens/active", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, decode[[]model.DeviceToken](t, resp.Data))
	assert.NotEqual(t, uuid.Nil, first.ID)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"UP"`)
}

// An upstream event becomes a stored notification that the client cache
// picks up as unread through the REST history endpoint.
func TestEventToClientCache(t *testing.T) {
	h := newHarness(t)
	recruiter := uuid.New()

	bus := event.NewBus(event.Config{Workers: 2, QueueSize: 16}, logger.Nop(), metrics.NewNop())
	require.NoError(t, notification.NewEventHandlers(h.service, nil, logger.Nop()).Register(bus))
	bus.Start()

	bus.Publish(context.Background(), model.EventCandidateStatusChanged, model.CandidateProcessingEvent{
		CandidateID: "c-1", CandidateName: "Ada", UserID: recruiter, Status: model.ProcessingCompleted,
	})
	require.NoError(t, bus.Shutdown(context.Background()))

	srv := httptest.NewServer(h.engine)
	t.Cleanup(srv.Close)

	session := h.session(recruiter, model.RoleRecruiter)
	history := notifycache.NewRESTHistory(srv.URL, func(context.Context) (string, error) { return session, nil }, srv.Client())
	store := notifycache.NewStore(history)
	require.NoError(t, store.FetchNotifications(context.Background()))

	state := store.Snapshot()
	require.Len(t, state.Notifications, 1)
	assert.Equal(t, string(model.NotificationStatusChange), state.Notifications[0].Type)
	assert.Equal(t, "Candidate Status Updated", state.Notifications[0].Title)
	assert.Equal(t, 1, state.UnreadCount)
}

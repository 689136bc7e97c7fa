package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"omnichat/internal/app"
	"omnichat/internal/attachment"
	"omnichat/internal/auth"
	"omnichat/internal/catalog"
	"omnichat/internal/chat"
	"omnichat/internal/models"
	"omnichat/internal/observability"
	"omnichat/internal/session"
	"omnichat/internal/worker"
)

// Workers is the part of worker.Manager the handlers drive.
type Workers interface {
	Controller(ctx context.Context, user models.User) (*app.Controller, error)
	View(ctx context.Context, user models.User) (app.View, error)
	Send(ctx context.Context, user models.User, text string, onFragment func(string)) (chat.Result, error)
	Attach(ctx context.Context, user models.User, f attachment.File) (string, error)
	ResetUser(uid string)
}

type Handler struct {
	auth    *auth.Service
	workers Workers
	models  []models.ModelOption
}

const userContextKey = "omnichat_user"

func NewHandler(authService *auth.Service, workers Workers, modelOptions []models.ModelOption) *Handler {
	if len(modelOptions) == 0 {
		modelOptions = catalog.Default()
	}
	return &Handler{auth: authService, workers: workers, models: modelOptions}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestLogger())
	api := router.Group("/api")
	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)
	api.GET("/models", h.listModels)

	userRoutes := api.Group("/users/:id")
	userRoutes.Use(h.auth.Middleware(), auth.RequirePathUser(), h.auth.CSRFMiddleware(), h.loadUser())
	userRoutes.GET("/state", h.getState)
	userRoutes.POST("/sessions", h.newSession)
	userRoutes.POST("/sessions/:session_id/select", h.selectSession)
	userRoutes.DELETE("/sessions/:session_id", h.deleteSession)
	userRoutes.POST("/model", h.selectModel)
	userRoutes.POST("/web-search", h.toggleWebSearch)
	userRoutes.POST("/sidebar", h.toggleSidebar)
	userRoutes.PUT("/input", h.setInput)
	userRoutes.POST("/messages", h.sendMessage)
	userRoutes.POST("/uploads", h.upload)
	userRoutes.POST("/logout", h.logoutUser)
}

func (h *Handler) loadUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, _ := auth.UserIDFromContext(c)
		account, err := h.auth.Account(c.Request.Context(), userID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, auth.ErrUserNotFound) {
				status = http.StatusUnauthorized
			}
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}
		c.Set(userContextKey, *account.User())
		c.Next()
	}
}

func currentUser(c *gin.Context) models.User {
	u, _ := c.Get(userContextKey)
	user, _ := u.(models.User)
	return user
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	account, err := h.auth.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserExists):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, auth.ErrCredentialsRequired):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         account.ID,
		"username":   account.Username,
		"created_at": account.CreatedAt,
	})
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	account, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrCredentialsRequired) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidCredentials.Error()})
		return
	}
	authToken, err := h.auth.IssueToken(c.Request.Context(), account.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, authToken, csrfToken)
	c.JSON(http.StatusOK, gin.H{
		"id":         account.ID,
		"username":   account.Username,
		"auth_token": authToken,
	})
}

func (h *Handler) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": catalog.GroupByProvider(h.models)})
}

func (h *Handler) getState(c *gin.Context) {
	view, err := h.workers.View(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// withController runs fn on the user's controller and answers with the new view.
func (h *Handler) withController(c *gin.Context, fn func(ctrl *app.Controller) error) {
	ctrl, err := h.workers.Controller(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := fn(ctrl); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.Snapshot())
}

func (h *Handler) newSession(c *gin.Context) {
	h.withController(c, func(ctrl *app.Controller) error {
		ctrl.NewChat(c.Request.Context())
		return nil
	})
}

func (h *Handler) selectSession(c *gin.Context) {
	h.withController(c, func(ctrl *app.Controller) error {
		return ctrl.SelectChat(c.Param("session_id"))
	})
}

func (h *Handler) deleteSession(c *gin.Context) {
	id := c.Param("session_id")
	h.withController(c, func(ctrl *app.Controller) error {
		if !hasSession(ctrl.Snapshot(), id) {
			return fmt.Errorf("%w: %s", session.ErrSessionNotFound, id)
		}
		ctrl.DeleteChat(c.Request.Context(), id)
		return nil
	})
}

func hasSession(view app.View, id string) bool {
	for _, s := range view.Sessions {
		if s.ID == id {
			return true
		}
	}
	return false
}

func (h *Handler) selectModel(c *gin.Context) {
	var req struct {
		ModelID string `json:"model_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ModelID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model_id is required"})
		return
	}
	h.withController(c, func(ctrl *app.Controller) error {
		return ctrl.SelectModel(req.ModelID)
	})
}

func (h *Handler) toggleWebSearch(c *gin.Context) {
	h.withController(c, func(ctrl *app.Controller) error {
		ctrl.ToggleWebSearch()
		return nil
	})
}

func (h *Handler) toggleSidebar(c *gin.Context) {
	h.withController(c, func(ctrl *app.Controller) error {
		ctrl.ToggleSidebar()
		return nil
	})
}

func (h *Handler) setInput(c *gin.Context) {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	h.withController(c, func(ctrl *app.Controller) error {
		ctrl.SetInput(req.Text)
		return nil
	})
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(c, app.ErrEmptyInput)
		return
	}
	user := currentUser(c)
	ctrl, err := h.workers.Controller(c.Request.Context(), user)
	if err != nil {
		writeError(c, err)
		return
	}
	if ctrl.Pending() {
		writeError(c, app.ErrReplyPending)
		return
	}
	view := ctrl.Snapshot()
	if view.ActiveSession == nil {
		writeError(c, app.ErrNoActiveSession)
		return
	}

	stream, ok := newSSEWriter(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	defer stream.close()

	if err := stream.send("ack", gin.H{
		"session_id": view.ActiveSessionID,
		"model":      view.SelectedModel,
		"content":    req.Content,
	}); err != nil {
		return
	}
	res, err := h.workers.Send(c.Request.Context(), user, req.Content, func(acc string) {
		_ = stream.send("stream", gin.H{"content": acc})
	})
	if err != nil {
		status, msg := statusFor(err)
		_ = stream.send("error", gin.H{"status": status, "message": msg})
		return
	}

	payload := gin.H{
		"user_message": res.User,
		"ai_message":   res.Reply,
	}
	if active := ctrl.Snapshot().ActiveSession; active != nil {
		payload["title"] = active.Title
	}
	if res.Err != nil {
		payload["message"] = res.Reply.Content
		_ = stream.send("error", payload)
		return
	}
	_ = stream.send("done", payload)
}

func (h *Handler) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, attachment.MaxFileBytes+1<<20)
	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(c, attachment.ErrFileTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > attachment.MaxFileBytes {
		writeError(c, attachment.ErrFileTooLarge)
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	data, err := io.ReadAll(f)
	_ = f.Close()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read file failed"})
		return
	}

	mediaType := file.Header.Get("Content-Type")
	if mediaType == "application/octet-stream" {
		mediaType = ""
	}
	user := currentUser(c)
	prompt, err := h.workers.Attach(c.Request.Context(), user, attachment.File{
		Name:      file.Filename,
		MediaType: mediaType,
		Data:      data,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	view, err := h.workers.View(c.Request.Context(), user)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prompt": prompt, "view": view})
}

func (h *Handler) logoutUser(c *gin.Context) {
	h.workers.ResetUser(currentUser(c).UID)
	if authToken, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), authToken); err != nil {
			observability.LoggerFromContext(c.Request.Context()).Warn("revoke token failed", "error", err)
		}
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

// statusFor maps domain errors to a status code and a client-facing message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrReplyPending), errors.Is(err, app.ErrProcessingFile), errors.Is(err, app.ErrNoActiveSession):
		return http.StatusConflict, err.Error()
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests, "server is busy, please retry"
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, catalog.ErrUnknownModel), errors.Is(err, app.ErrEmptyInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, attachment.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, attachment.ErrProcessFile):
		return http.StatusUnprocessableEntity, attachment.AlertMessage
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func writeError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		observability.LoggerFromContext(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": msg})
}

// sseWriter frames events as "event: <name>\ndata: <json>\n\n". Sends after
// close are dropped, since fragments may still arrive from a worker once the
// client has gone.
type sseWriter struct {
	mu      sync.Mutex
	c       *gin.Context
	flusher http.Flusher
	closed  bool
}

func newSSEWriter(c *gin.Context) (*sseWriter, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, false
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	return &sseWriter{c: c, flusher: flusher}, true
}

func (s *sseWriter) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	if _, err := fmt.Fprintf(s.c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/pairpad/pairpad/internal/auth"
	"github.com/pairpad/pairpad/internal/rooms"
	"github.com/pairpad/pairpad/internal/sync"
	"github.com/pairpad/pairpad/internal/users"
)

const (
	oauthStateCookieName = "pairpad_oauth_state"
	oauthStateTTLSeconds = 300

	loginFailedQuery = "error=login_failed"
)

var (
	errMissingRoomsService   = errors.New("rooms service dependency required")
	errMissingHub            = errors.New("sync hub dependency required")
	errMissingSessionManager = errors.New("session manager dependency required")
	errMissingFrontendURL    = errors.New("frontend url required")
)

// Dependencies wires the HTTP surface to the services behind it. GitHub and
// Users may be nil, in which case the login endpoints report the feature as
// unavailable and rooms remain open to guests.
type Dependencies struct {
	RoomsService *rooms.Service
	Hub          *sync.Hub
	Sessions     *auth.SessionManager
	GitHub       *auth.GitHubAuthenticator
	Users        *users.Service
	FrontendURL  string
	Logger       *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.RoomsService == nil {
		return nil, errMissingRoomsService
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionManager
	}
	if strings.TrimSpace(deps.FrontendURL) == "" {
		return nil, errMissingFrontendURL
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{deps.FrontendURL},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		roomsService: deps.RoomsService,
		hub:          deps.Hub,
		sessions:     deps.Sessions,
		github:       deps.GitHub,
		users:        deps.Users,
		frontendURL:  strings.TrimRight(deps.FrontendURL, "/"),
		logger:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	router.POST("/api/rooms", handler.handleCreateRoom)
	router.GET("/api/rooms/:code", handler.handleGetRoom)

	router.GET("/auth/github", handler.handleGitHubLogin)
	router.GET("/auth/github/callback", handler.handleGitHubCallback)
	router.GET("/auth/me", handler.handleCurrentUser)
	router.POST("/auth/logout", handler.handleLogout)

	router.GET("/ws/:code", handler.handleRoomSocket)

	return router, nil
}

type httpHandler struct {
	roomsService *rooms.Service
	hub          *sync.Hub
	sessions     *auth.SessionManager
	github       *auth.GitHubAuthenticator
	users        *users.Service
	frontendURL  string
	logger       *zap.Logger
	upgrader     websocket.Upgrader
}

type roomResponsePayload struct {
	RoomCode            string `json:"roomCode"`
	CreatedAtSeconds    int64  `json:"createdAtS,omitempty"`
	LastActiveAtSeconds int64  `json:"lastActiveAtS,omitempty"`
}

func (h *httpHandler) handleCreateRoom(c *gin.Context) {
	room, err := h.roomsService.Create(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to create room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "room_creation_failed"})
		return
	}
	c.JSON(http.StatusOK, roomResponsePayload{RoomCode: room.Code})
}

func (h *httpHandler) handleGetRoom(c *gin.Context) {
	code, err := rooms.NewRoomCode(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
		return
	}

	room, err := h.roomsService.Get(c.Request.Context(), code)
	if errors.Is(err, rooms.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to look up room", zap.String("room", code.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "room_lookup_failed"})
		return
	}

	c.JSON(http.StatusOK, roomResponsePayload{
		RoomCode:            room.Code,
		CreatedAtSeconds:    room.CreatedAtSeconds,
		LastActiveAtSeconds: room.LastActiveAtSeconds,
	})
}

func (h *httpHandler) handleGitHubLogin(c *gin.Context) {
	if h.github == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "auth_unavailable"})
		return
	}

	state, err := randomState()
	if err != nil {
		h.logger.Error("failed to generate oauth state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "auth_unavailable"})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookieName, state, oauthStateTTLSeconds, "/", "", false, true)
	c.Redirect(http.StatusFound, h.github.AuthorizeURL(state))
}

func (h *httpHandler) handleGitHubCallback(c *gin.Context) {
	if h.github == nil || h.users == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "auth_unavailable"})
		return
	}

	expectedState, err := c.Cookie(oauthStateCookieName)
	c.SetCookie(oauthStateCookieName, "", -1, "/", "", false, true)
	state := c.Query("state")
	if err != nil || state == "" || state != expectedState {
		h.logger.Warn("oauth state mismatch on github callback")
		h.redirectLoginFailed(c)
		return
	}

	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		h.redirectLoginFailed(c)
		return
	}

	accessToken, err := h.github.Exchange(c.Request.Context(), code)
	if err != nil {
		h.logger.Warn("github code exchange failed", zap.Error(err))
		h.redirectLoginFailed(c)
		return
	}

	profile, err := h.github.FetchProfile(c.Request.Context(), accessToken)
	if err != nil {
		h.logger.Warn("github profile fetch failed", zap.Error(err))
		h.redirectLoginFailed(c)
		return
	}

	identity, err := h.users.ResolveIdentity(profile)
	if err != nil {
		h.logger.Error("failed to resolve user identity", zap.Error(err))
		h.redirectLoginFailed(c)
		return
	}

	token, err := h.sessions.IssueToken(auth.SessionUser{
		UserID:    identity.UserID,
		Username:  identity.Username,
		AvatarURL: identity.AvatarURL,
	})
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		h.redirectLoginFailed(c)
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), token, int(h.sessions.SessionTTL().Seconds()), "/", "", false, true)
	c.Redirect(http.StatusFound, h.frontendURL)
}

func (h *httpHandler) redirectLoginFailed(c *gin.Context) {
	separator := "?"
	if strings.Contains(h.frontendURL, "?") {
		separator = "&"
	}
	c.Redirect(http.StatusFound, h.frontendURL+separator+loginFailedQuery)
}

type currentUserPayload struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

func (h *httpHandler) handleCurrentUser(c *gin.Context) {
	sessionUser, ok := h.sessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	payload := currentUserPayload{
		UserID:    sessionUser.UserID,
		Username:  sessionUser.Username,
		AvatarURL: sessionUser.AvatarURL,
	}
	if h.users != nil {
		if identity, err := h.users.GetByUserID(sessionUser.UserID); err == nil {
			payload.Username = identity.Username
			payload.AvatarURL = identity.AvatarURL
		}
	}
	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.sessions.CookieName(), "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

func (h *httpHandler) sessionUser(c *gin.Context) (auth.SessionUser, bool) {
	token, err := c.Cookie(h.sessions.CookieName())
	if err != nil || strings.TrimSpace(token) == "" {
		return auth.SessionUser{}, false
	}
	sessionUser, err := h.sessions.ValidateToken(token)
	if err != nil {
		h.logger.Debug("session token rejected", zap.Error(err))
		return auth.SessionUser{}, false
	}
	return sessionUser, true
}

func (h *httpHandler) handleRoomSocket(c *gin.Context) {
	code, err := rooms.NewRoomCode(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
		return
	}
	if _, err := h.roomsService.Get(c.Request.Context(), code); err != nil {
		if errors.Is(err, rooms.ErrRoomNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room_not_found"})
			return
		}
		h.logger.Error("failed to look up room", zap.String("room", code.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "room_lookup_failed"})
		return
	}

	if _, err := h.hub.Acquire(c.Request.Context(), code); err != nil {
		h.logger.Error("failed to open room", zap.String("room", code.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "room_open_failed"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("room", code.String()), zap.Error(err))
		return
	}
	defer conn.Close()

	if err := h.hub.Serve(c.Request.Context(), code, conn, uuid.NewString()); err != nil {
		h.logger.Error("room serve failed", zap.String("room", code.String()), zap.Error(err))
	}
}

func randomState() (string, error) {
	buffer := make([]byte, 16)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return hex.EncodeToString(buffer), nil
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/skip2/go-qrcode"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/game"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/registry"
)

const qrSize = 320

type Sessions interface {
	Create(ctx context.Context, req registry.CreateRequest) (string, error)
	Lookup(id string) (*game.Game, bool)
}

type Leaderboards interface {
	GetLeaderboard(ctx context.Context, req leaderboard.GetLeaderboardRequest) (*domain.Leaderboard, error)
}

type Histories interface {
	Get(ctx context.Context, historyID string) (domain.History, error)
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Config struct {
	EventBus     *event.Bus
	Sessions     Sessions
	Leaderboard  Leaderboards
	History      Histories
	Redis        Redis
	PubsubPrefix string
	// PublicURL is the base URL participants open to join. Empty derives it from the request.
	PublicURL string
}

type API struct {
	sessions    Sessions
	leaderboard Leaderboards
	history     Histories

	redis     Redis
	prefix    string
	publicURL string
}

func New(c Config) *API {
	a := &API{
		sessions:    c.Sessions,
		leaderboard: c.Leaderboard,
		history:     c.History,
		redis:       c.Redis,
		prefix:      c.PubsubPrefix,
		publicURL:   strings.TrimSuffix(c.PublicURL, "/"),
	}

	// Relay to subscribers in other processes
	if a.redis != nil {
		event.On(c.EventBus, domain.EventNameLeaderboardUpdated, a.PublishLeaderboardUpdated)
		event.On(c.EventBus, domain.EventNameSystemMessage, a.PublishSystemMessage)
	}

	return a
}

// Register mounts the HTTP routes on r.
func (a *API) Register(r gin.IRouter) {
	g := r.Group("/api")
	g.POST("/sessions", a.CreateSession)
	g.GET("/sessions/:id", a.GetSession)
	g.GET("/sessions/:id/leaderboard", a.GetLeaderboard)
	g.GET("/sessions/:id/qr.png", a.GetJoinQR)
	g.GET("/histories/:id", a.GetHistory)
}

type CreateSessionResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (a *API) CreateSession(c *gin.Context) {
	var req registry.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		a.fail(c, errors.New(errors.CodeInvalidArgument, errors.WithCause(err), errors.WithMessagef("malformed request body")))
		return
	}

	id, err := a.sessions.Create(c.Request.Context(), req)
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, CreateSessionResponse{Success: true, ID: id})
}

func (a *API) GetSession(c *gin.Context) {
	g, ok := a.sessions.Lookup(c.Param("id"))
	if !ok {
		a.fail(c, errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: %s", c.Param("id"))))
		return
	}

	c.JSON(http.StatusOK, g.Status())
}

func (a *API) GetLeaderboard(c *gin.Context) {
	l, err := a.leaderboard.GetLeaderboard(c.Request.Context(), leaderboard.GetLeaderboardRequest{
		SessionID: c.Param("id"),
	})
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, l)
}

// GetJoinQR renders a PNG QR code pointing at the join page of the session.
func (a *API) GetJoinQR(c *gin.Context) {
	id := c.Param("id")
	if _, ok := a.sessions.Lookup(id); !ok {
		a.fail(c, errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: %s", id)))
		return
	}

	png, err := qrcode.Encode(a.joinURL(c.Request, id), qrcode.Medium, qrSize)
	if err != nil {
		a.fail(c, errors.Internal(err))
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

func (a *API) GetHistory(c *gin.Context) {
	h, err := a.history.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, h)
}

func (a *API) joinURL(r *http.Request, id string) string {
	base := a.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/join/" + id
}

func (a *API) fail(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed", "path", c.FullPath(), "error", err)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), CreateSessionResponse{Error: e.Message})
}

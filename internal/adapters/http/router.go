package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/conveycall/convey/internal/adapters/recognition"
	"github.com/conveycall/convey/internal/adapters/signal"
	"github.com/conveycall/convey/internal/app"
	"github.com/conveycall/convey/internal/caption"
	"github.com/conveycall/convey/internal/config"
	"github.com/conveycall/convey/internal/domain"
)

// Deps bundles everything the router wires.
type Deps struct {
	Registry  *app.Registry
	Lifecycle *app.Lifecycle
	Signal    *signal.Controller
	Recog     *recognition.Handler
	Captions  *caption.Manager
}

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware issues the opaque authenticated-identity token the
// surrounding application normally provides. Cookie-scoped, one per client.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type createCallRequest struct {
	Kind        string    `json:"kind" validate:"required,oneof=p2p group"`
	Invited     []string  `json:"invited" validate:"dive,required"`
	ScheduledAt time.Time `json:"scheduledAt"`
	MaxMembers  int       `json:"maxParticipants" validate:"omitempty,min=2,max=20"`
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidSchedule):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotInitiator):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyStarted),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrSessionClosed),
		errors.Is(err, domain.ErrSessionFull):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("ConveySessions", store))
	r.Use(ClientTokenMiddleware())

	validate := validator.New()

	api := r.Group("/api")

	// POST /api/calls: create an immediate or scheduled call
	api.POST("/calls", func(c *gin.Context) {
		var req createCallRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		initiator := domain.IdentityID(c.GetString("client_token"))
		invited := make([]domain.IdentityID, 0, len(req.Invited))
		for _, id := range req.Invited {
			invited = append(invited, domain.IdentityID(id))
		}
		maxMembers := req.MaxMembers
		if maxMembers == 0 {
			maxMembers = cfg.GroupMax
		}
		sess, err := d.Lifecycle.Create(initiator, invited, domain.SessionKind(req.Kind), req.ScheduledAt, maxMembers)
		if err != nil {
			c.JSON(statusOf(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": sess.ID, "state": sess.State})
	})

	lifecycleOp := func(op func(domain.SessionID, domain.IdentityID) error) gin.HandlerFunc {
		return func(c *gin.Context) {
			sid := domain.SessionID(c.Param("id"))
			by := domain.IdentityID(c.GetString("client_token"))
			if err := op(sid, by); err != nil {
				c.JSON(statusOf(err), gin.H{"error": err.Error()})
				return
			}
			snap, _ := d.Registry.Snapshot(sid)
			c.JSON(http.StatusOK, snap)
		}
	}

	api.POST("/calls/:id/start", lifecycleOp(d.Lifecycle.Start))
	api.POST("/calls/:id/end", lifecycleOp(d.Lifecycle.End))
	api.POST("/calls/:id/cancel", lifecycleOp(d.Lifecycle.Cancel))

	// GET /api/calls/:id: pull-style dashboard read
	api.GET("/calls/:id", func(c *gin.Context) {
		snap, err := d.Registry.Snapshot(domain.SessionID(c.Param("id")))
		if err != nil {
			c.JSON(statusOf(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	// GET /api/calls/:id/transcript: caption history export
	api.GET("/calls/:id/transcript", func(c *gin.Context) {
		out, err := d.Captions.Export(domain.SessionID(c.Param("id")))
		if err != nil {
			c.JSON(statusOf(err), gin.H{"error": err.Error()})
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(out))
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").
			Str("identity", c.GetString("client_token")).Msg("ws signal endpoint hit")
		d.Signal.HandleSignal(ctx, c)
	})

	api.GET("/ws/recognition", func(c *gin.Context) {
		d.Recog.HandleStream(ctx, c)
	})

	return r
}

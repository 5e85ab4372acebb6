package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/conveycall/convey/internal/app"
	"github.com/conveycall/convey/internal/caption"
	"github.com/conveycall/convey/internal/core"
	"github.com/conveycall/convey/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Controller owns the signaling WebSocket endpoint: one connection per
// participant, message-level state machine CONNECTING -> JOINED -> LEFT.
type Controller struct {
	coord     *app.Coordinator
	quality   *app.QualityMonitor
	limiter   *JoinLimiter
	idle      time.Duration
	readLimit int64
}

func NewController(coord *app.Coordinator, quality *app.QualityMonitor, limiter *JoinLimiter, idle time.Duration, readLimit int64) *Controller {
	return &Controller{
		coord:     coord,
		quality:   quality,
		limiter:   limiter,
		idle:      idle,
		readLimit: readLimit,
	}
}

// connState is owned by the connection's read goroutine; no locking needed.
type connState struct {
	sid      domain.SessionID
	identity domain.IdentityID
	conn     *wsSignalConn
	pid      domain.ParticipantID // empty until joined
	left     bool
}

func (st *connState) joined() bool { return st.pid != "" && !st.left }

// HandleSignal upgrades the request and runs the connection pumps. The call
// id comes from the query string, the identity from the authenticated client
// token issued upstream.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := domain.SessionID(c.Query("call"))
	identity := domain.IdentityID(c.GetString("client_token"))
	if sid == "" || identity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing call id or identity"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.readLimit)

	st := &connState{
		sid:      sid,
		identity: identity,
		conn:     newSignalConn(ws),
	}
	connCtx, cancel := context.WithCancel(ctx)

	log.Info().Str("module", "signal").Str("session", string(sid)).
		Str("identity", string(identity)).Msg("signal connection opened")

	go ctl.writePump(connCtx, st.conn)
	go func() {
		defer cancel()
		ctl.readPump(connCtx, st)
	}()
}

func (ctl *Controller) sendJSON(c *wsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c *wsSignalConn, code, msg string) {
	ctl.sendJSON(c, errorMessage{Type: TypeError, Code: code, Error: msg})
}

// PushCaption broadcasts a caption display update to every participant of
// the update's session. Wired as the caption manager's dispatch hook.
func (ctl *Controller) PushCaption(u caption.Update) {
	var v any
	switch u.Kind {
	case caption.UpdateSet:
		v = captionUpdateMessage{
			Type:              TypeCaptionUpdate,
			CaptionID:         u.Caption.ID,
			ParticipantID:     u.ParticipantID,
			Text:              u.Caption.Text,
			Confidence:        u.Caption.Confidence,
			DisplayDurationMs: u.Caption.DisplayFor.Milliseconds(),
		}
	case caption.UpdateCleared:
		v = captionClearedMessage{
			Type:          TypeCaptionCleared,
			CaptionID:     u.Caption.ID,
			ParticipantID: u.ParticipantID,
		}
	default:
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("caption marshal")
		return
	}
	ctl.coord.Broadcast(u.SessionID, "", core.Frame(b))
}

// RequestStats polls a session's participants. Wired as the quality
// monitor's periodic hook.
func (ctl *Controller) RequestStats(sid domain.SessionID) {
	b, _ := json.Marshal(statsRequestMessage{Type: TypeStatsRequest})
	ctl.coord.Broadcast(sid, "", core.Frame(b))
}

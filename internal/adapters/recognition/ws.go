// Package recognition accepts the sign-recognition collaborator's event
// stream over a WebSocket and forwards it onto the bus. The ML process is a
// black box; only event consumption lives here.
package recognition

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/conveycall/convey/internal/domain"
	"github.com/conveycall/convey/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// result is the collaborator's wire shape: a predicted label, its confidence
// and the capture timestamp of the underlying frame.
type result struct {
	Type              string  `json:"type,omitempty"`
	Label             string  `json:"label"`
	Confidence        float64 `json:"confidence"`
	SourceTimestampMs int64   `json:"sourceTimestamp"`
}

// AllowFunc validates the stream's session and participant before the
// upgrade. Wired to the registry's membership view.
type AllowFunc func(domain.SessionID, domain.ParticipantID) bool

type Handler struct {
	pub   message.Publisher
	allow AllowFunc
}

func NewHandler(pub message.Publisher, allow AllowFunc) *Handler {
	return &Handler{pub: pub, allow: allow}
}

// HandleStream reads recognition results for one session participant until
// the collaborator disconnects. A dropped stream is isolated: captions just
// stop updating, nothing else is affected.
func (h *Handler) HandleStream(ctx context.Context, c *gin.Context) {
	sid := domain.SessionID(c.Query("call"))
	pid := domain.ParticipantID(c.Query("participant"))
	if sid == "" || pid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing call or participant id"})
		return
	}
	if h.allow != nil && !h.allow(sid, pid) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown call or participant"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "recognition").Msg("ws upgrade")
		return
	}
	defer ws.Close()

	log.Info().Str("module", "recognition").Str("session", string(sid)).
		Str("participant", string(pid)).Msg("recognition stream opened")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Info().Err(err).Str("module", "recognition").
				Str("session", string(sid)).Msg("recognition stream closed")
			return
		}

		var r result
		if err := json.Unmarshal(data, &r); err != nil {
			log.Warn().Err(err).Str("module", "recognition").Msg("bad recognition payload")
			continue
		}
		if r.Type == "ping" {
			_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
			continue
		}

		rm := events.RecognitionMessage{
			SessionID:          sid,
			ParticipantID:      pid,
			Label:              r.Label,
			Confidence:         r.Confidence,
			SourceTimestampMs:  r.SourceTimestampMs,
			ArrivalTimestampMs: time.Now().UnixMilli(),
		}
		if err := events.PublishRecognition(h.pub, rm); err != nil {
			log.Warn().Err(err).Str("module", "recognition").Msg("publish recognition")
		}
	}
}

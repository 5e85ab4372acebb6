package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/conveycall/convey/internal/core"
	"github.com/conveycall/convey/internal/domain"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump drives the connection's state machine. The read deadline doubles
// as the keep-alive window: a silent client times out and is processed as an
// implicit leave, idempotent with an explicit one.
func (ctl *Controller) readPump(ctx context.Context, st *connState) {
	defer func() {
		ctl.teardown(st)
		st.conn.Close()
		log.Info().Str("module", "signal").Str("session", string(st.sid)).
			Str("identity", string(st.identity)).Msg("signal connection closed")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_ = st.conn.conn.SetReadDeadline(time.Now().Add(ctl.idle))
			_, data, err := st.conn.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").
					Str("session", string(st.sid)).Msg("readPump read error")
				return
			}
			if done := ctl.dispatch(st, data); done {
				return
			}
		}
	}
}

// dispatch routes one inbound message. Returns true when the connection is
// finished (explicit leave).
func (ctl *Controller) dispatch(st *connState, data []byte) bool {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		ctl.sendError(st.conn, CodeProtocol, "malformed message")
		return false
	}

	switch env.Type {
	case TypeJoin:
		ctl.handleJoin(st, data)
	case TypeOffer, TypeAnswer:
		ctl.handleDescription(st, data)
	case TypeCandidate:
		ctl.handleCandidate(st, data)
	case TypeStats:
		ctl.handleStats(st, data)
	case TypePing:
		ctl.sendJSON(st.conn, envelope{Type: TypePong})
	case TypeLeave:
		ctl.teardown(st)
		return true
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
		ctl.sendError(st.conn, CodeProtocol, "unknown message type")
	}
	return false
}

func (ctl *Controller) handleJoin(st *connState, data []byte) {
	if st.joined() {
		ctl.sendError(st.conn, CodeProtocol, "already joined")
		return
	}
	var p joinPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(st.conn, CodeProtocol, "bad join payload")
		return
	}
	if !ctl.limiter.Allow(st.identity) {
		ctl.sendError(st.conn, CodeRateLimited, "too many join attempts")
		return
	}

	part, err := ctl.coord.Join(st.sid, st.identity, st.conn)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSessionNotFound):
			ctl.sendError(st.conn, CodeNotFound, err.Error())
		case errors.Is(err, domain.ErrSessionFull):
			ctl.sendError(st.conn, CodeSessionFull, err.Error())
		case errors.Is(err, domain.ErrSessionClosed):
			ctl.sendError(st.conn, CodeSessionClosed, err.Error())
		default:
			ctl.sendError(st.conn, CodeProtocol, err.Error())
		}
		return
	}
	st.pid = part.ID
	st.left = false
	log.Info().Str("module", "signal").Str("session", string(st.sid)).
		Str("participant", string(part.ID)).Msg("participant joined")

	snap, err := ctl.coord.Snapshot(st.sid)
	if err == nil {
		ctl.sendJSON(st.conn, sessionStateMessage{Type: TypeSessionState, You: part.ID, Session: snap})
	}

	notice, _ := json.Marshal(joinedNotice{Type: TypeJoined, ParticipantID: part.ID, Identity: part.Identity})
	ctl.coord.Broadcast(st.sid, part.ID, core.Frame(notice))
}

func (ctl *Controller) handleDescription(st *connState, data []byte) {
	if !st.joined() {
		ctl.sendError(st.conn, CodeProtocol, "join first")
		return
	}
	var p descriptionMessage
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(st.conn, CodeProtocol, "bad payload")
		return
	}
	target := p.Target
	p.Target = ""
	p.Sender = st.pid
	ctl.relay(st, target, p)
}

func (ctl *Controller) handleCandidate(st *connState, data []byte) {
	if !st.joined() {
		ctl.sendError(st.conn, CodeProtocol, "join first")
		return
	}
	var p candidateMessage
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(st.conn, CodeProtocol, "bad payload")
		return
	}
	target := p.Target
	p.Target = ""
	p.Sender = st.pid
	ctl.relay(st, target, p)
}

// relay re-encodes with the sender substituted and unicasts. Failures go
// back to the sender only and never terminate the connection.
func (ctl *Controller) relay(st *connState, target domain.ParticipantID, v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("relay marshal")
		return
	}
	switch err := ctl.coord.Relay(st.sid, st.pid, target, core.Frame(frame)); {
	case err == nil:
	case errors.Is(err, domain.ErrUnknownTarget), errors.Is(err, ErrConnClosed):
		ctl.sendError(st.conn, CodeUnknownTarget, "target participant not in session")
	case errors.Is(err, ErrBackpressure):
		ctl.sendError(st.conn, CodeOverflow, "target queue full, message dropped")
	default:
		ctl.sendError(st.conn, CodeProtocol, err.Error())
	}
}

func (ctl *Controller) handleStats(st *connState, data []byte) {
	if !st.joined() {
		ctl.sendError(st.conn, CodeProtocol, "join first")
		return
	}
	var p statsPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(st.conn, CodeProtocol, "bad stats payload")
		return
	}
	ctl.quality.Ingest(st.sid, st.pid, p.ConnectionStats)
}

// teardown processes the leave exactly once per membership: explicit leave,
// disconnect and idle timeout all funnel here.
func (ctl *Controller) teardown(st *connState) {
	if !st.joined() {
		return
	}
	pid := st.pid
	st.left = true
	ctl.coord.Leave(st.sid, pid)
	notice, _ := json.Marshal(leftNotice{Type: TypeLeft, ParticipantID: pid})
	ctl.coord.Broadcast(st.sid, pid, core.Frame(notice))
}

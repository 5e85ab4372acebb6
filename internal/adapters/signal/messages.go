package signal

import (
	"github.com/pion/webrtc/v4"

	"github.com/conveycall/convey/internal/core"
	"github.com/conveycall/convey/internal/domain"
)

// Closed, tagged message set. Everything on the signaling socket is one of
// these; unknown types are rejected with a protocol error to the sender.
const (
	TypeJoin      = "join"
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "ice-candidate"
	TypeStats     = "stats"
	TypeLeave     = "leave"
	TypePing      = "ping"

	TypeSessionState   = "session-state"
	TypeJoined         = "participant-joined"
	TypeLeft           = "participant-left"
	TypeStatsRequest   = "stats-request"
	TypeCaptionUpdate  = "caption-update"
	TypeCaptionCleared = "caption-cleared"
	TypeError          = "error"
	TypePong           = "pong"
)

// Error codes carried on error messages. Reported to the sender only.
const (
	CodeProtocol      = "protocol"
	CodeUnknownTarget = "unknown-target"
	CodeOverflow      = "overflow"
	CodeSessionFull   = "session-full"
	CodeSessionClosed = "session-closed"
	CodeNotFound      = "session-not-found"
	CodeRateLimited   = "rate-limited"
)

type envelope struct {
	Type string `json:"type"`
}

type joinPayload struct {
	Type         string   `json:"type"`
	Capabilities []string `json:"participantCapabilities,omitempty"`
}

// descriptionMessage carries offer and answer. The SDP blob is opaque to the
// server; it is relayed verbatim with the sender substituted for the target.
type descriptionMessage struct {
	Type   string                    `json:"type"`
	Target domain.ParticipantID      `json:"targetParticipantId,omitempty"`
	Sender domain.ParticipantID      `json:"senderParticipantId,omitempty"`
	SDP    webrtc.SessionDescription `json:"sdp"`
}

type candidateMessage struct {
	Type      string                  `json:"type"`
	Target    domain.ParticipantID    `json:"targetParticipantId,omitempty"`
	Sender    domain.ParticipantID    `json:"senderParticipantId,omitempty"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type statsPayload struct {
	Type string `json:"type"`
	domain.ConnectionStats
}

type errorMessage struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type sessionStateMessage struct {
	Type    string               `json:"type"`
	You     domain.ParticipantID `json:"participantId"`
	Session core.SessionSnapshot `json:"session"`
}

type joinedNotice struct {
	Type          string               `json:"type"`
	ParticipantID domain.ParticipantID `json:"participantId"`
	Identity      domain.IdentityID    `json:"identity"`
}

type leftNotice struct {
	Type          string               `json:"type"`
	ParticipantID domain.ParticipantID `json:"participantId"`
}

type statsRequestMessage struct {
	Type string `json:"type"`
}

type captionUpdateMessage struct {
	Type              string               `json:"type"`
	CaptionID         domain.CaptionID     `json:"captionId"`
	ParticipantID     domain.ParticipantID `json:"participantId"`
	Text              string               `json:"text"`
	Confidence        float64              `json:"confidence"`
	DisplayDurationMs int64                `json:"displayDurationMs"`
}

type captionClearedMessage struct {
	Type          string               `json:"type"`
	CaptionID     domain.CaptionID     `json:"captionId"`
	ParticipantID domain.ParticipantID `json:"participantId"`
}

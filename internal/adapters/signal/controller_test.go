package signal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveycall/convey/internal/app"
	"github.com/conveycall/convey/internal/domain"
)

func newTestController(t *testing.T) (*Controller, *app.Registry, domain.SessionID) {
	t.Helper()
	reg := app.NewRegistry()
	coord := app.NewCoordinator(reg)
	quality := app.NewQualityMonitor(reg, time.Minute)
	ctl := NewController(coord, quality, NewJoinLimiter(100, time.Minute), time.Minute, 32768)

	sess, err := reg.CreateSession("alice", nil, domain.KindGroup, time.Time{}, 10)
	require.NoError(t, err)
	return ctl, reg, sess.ID
}

func newTestState(sid domain.SessionID, identity domain.IdentityID) *connState {
	return &connState{
		sid:      sid,
		identity: identity,
		conn:     newSignalConn(nil),
	}
}

// recvFrame pops the next queued outbound frame as a generic map.
func recvFrame(t *testing.T, c *wsSignalConn) map[string]any {
	t.Helper()
	select {
	case f := <-c.send:
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		return m
	case <-time.After(time.Second):
		t.Fatal("no frame queued")
		return nil
	}
}

func assertNoFrame(t *testing.T, c *wsSignalConn) {
	t.Helper()
	select {
	case f := <-c.send:
		t.Fatalf("unexpected frame: %s", f)
	default:
	}
}

func TestOfferBeforeJoinIsProtocolError(t *testing.T) {
	ctl, _, sid := newTestController(t)
	st := newTestState(sid, "alice")

	done := ctl.dispatch(st, []byte(`{"type":"offer","targetParticipantId":"x","sdp":{"type":"offer","sdp":"v=0"}}`))
	assert.False(t, done)

	m := recvFrame(t, st.conn)
	assert.Equal(t, TypeError, m["type"])
	assert.Equal(t, CodeProtocol, m["code"])
}

func TestJoinRepliesWithSessionStateAndNotifiesPeers(t *testing.T) {
	ctl, _, sid := newTestController(t)

	first := newTestState(sid, "alice")
	ctl.dispatch(first, []byte(`{"type":"join"}`))
	m := recvFrame(t, first.conn)
	require.Equal(t, TypeSessionState, m["type"])
	assert.NotEmpty(t, m["participantId"])

	second := newTestState(sid, "bob")
	ctl.dispatch(second, []byte(`{"type":"join"}`))
	m = recvFrame(t, second.conn)
	require.Equal(t, TypeSessionState, m["type"])

	// The existing participant hears about the newcomer; the newcomer does
	// not hear about itself.
	notice := recvFrame(t, first.conn)
	assert.Equal(t, TypeJoined, notice["type"])
	assert.Equal(t, string(second.pid), notice["participantId"])
	assertNoFrame(t, second.conn)
}

func TestDoubleJoinRejected(t *testing.T) {
	ctl, _, sid := newTestController(t)
	st := newTestState(sid, "alice")

	ctl.dispatch(st, []byte(`{"type":"join"}`))
	recvFrame(t, st.conn) // session-state

	ctl.dispatch(st, []byte(`{"type":"join"}`))
	m := recvFrame(t, st.conn)
	assert.Equal(t, TypeError, m["type"])
	assert.Equal(t, CodeProtocol, m["code"])
}

func TestJoinUnknownSessionReportsNotFound(t *testing.T) {
	ctl, _, _ := newTestController(t)
	st := newTestState("ghost", "alice")

	ctl.dispatch(st, []byte(`{"type":"join"}`))
	m := recvFrame(t, st.conn)
	assert.Equal(t, TypeError, m["type"])
	assert.Equal(t, CodeNotFound, m["code"])
}

func TestRelaySubstitutesSender(t *testing.T) {
	ctl, _, sid := newTestController(t)

	a := newTestState(sid, "alice")
	ctl.dispatch(a, []byte(`{"type":"join"}`))
	recvFrame(t, a.conn)

	b := newTestState(sid, "bob")
	ctl.dispatch(b, []byte(`{"type":"join"}`))
	recvFrame(t, b.conn)
	recvFrame(t, a.conn) // joined notice

	offer := `{"type":"offer","targetParticipantId":"` + string(b.pid) + `","sdp":{"type":"offer","sdp":"v=0"}}`
	ctl.dispatch(a, []byte(offer))

	m := recvFrame(t, b.conn)
	assert.Equal(t, TypeOffer, m["type"])
	assert.Equal(t, string(a.pid), m["senderParticipantId"])
	_, hasTarget := m["targetParticipantId"]
	assert.False(t, hasTarget)
}

func TestRelayToClosedConnectionReportsSenderOnly(t *testing.T) {
	ctl, _, sid := newTestController(t)

	a := newTestState(sid, "alice")
	ctl.dispatch(a, []byte(`{"type":"join"}`))
	recvFrame(t, a.conn)

	b := newTestState(sid, "bob")
	ctl.dispatch(b, []byte(`{"type":"join"}`))
	recvFrame(t, b.conn)
	recvFrame(t, a.conn) // joined notice

	// Target disconnected but its leave has not been processed yet.
	b.conn.Close()

	offer := `{"type":"offer","targetParticipantId":"` + string(b.pid) + `","sdp":{"type":"offer","sdp":"v=0"}}`
	ctl.dispatch(a, []byte(offer))

	m := recvFrame(t, a.conn)
	assert.Equal(t, TypeError, m["type"])
	assert.Equal(t, CodeUnknownTarget, m["code"])
}

func TestRelayToUnknownTargetReportsSenderOnly(t *testing.T) {
	ctl, _, sid := newTestController(t)

	a := newTestState(sid, "alice")
	ctl.dispatch(a, []byte(`{"type":"join"}`))
	recvFrame(t, a.conn)

	ctl.dispatch(a, []byte(`{"type":"ice-candidate","targetParticipantId":"ghost","candidate":{"candidate":"c"}}`))
	m := recvFrame(t, a.conn)
	assert.Equal(t, TypeError, m["type"])
	assert.Equal(t, CodeUnknownTarget, m["code"])
}

func TestStatsIngestionAttachesQuality(t *testing.T) {
	ctl, reg, sid := newTestController(t)

	st := newTestState(sid, "alice")
	ctl.dispatch(st, []byte(`{"type":"join"}`))
	recvFrame(t, st.conn)

	stats := `{"type":"stats","audio":{"packetLoss":0,"jitterMs":0},"video":{"packetLoss":0,"frameRate":30},"rttMs":40}`
	ctl.dispatch(st, []byte(stats))

	snap, err := reg.Snapshot(sid)
	require.NoError(t, err)
	require.Len(t, snap.Participants, 1)
	assert.InDelta(t, 1.0, snap.Participants[0].Quality, 1e-9)
}

func TestLeaveIsTerminalAndIdempotentWithTeardown(t *testing.T) {
	ctl, reg, sid := newTestController(t)

	st := newTestState(sid, "alice")
	ctl.dispatch(st, []byte(`{"type":"join"}`))
	recvFrame(t, st.conn)

	done := ctl.dispatch(st, []byte(`{"type":"leave"}`))
	assert.True(t, done)
	assert.Equal(t, 0, reg.ActiveCount(sid))

	// Disconnect teardown after explicit leave must be a no-op.
	ctl.teardown(st)
	assert.Equal(t, 0, reg.ActiveCount(sid))
}

func TestPingPong(t *testing.T) {
	ctl, _, sid := newTestController(t)
	st := newTestState(sid, "alice")

	ctl.dispatch(st, []byte(`{"type":"ping"}`))
	m := recvFrame(t, st.conn)
	assert.Equal(t, TypePong, m["type"])
}

func TestUnknownTypeRejected(t *testing.T) {
	ctl, _, sid := newTestController(t)
	st := newTestState(sid, "alice")

	ctl.dispatch(st, []byte(`{"type":"rename"}`))
	m := recvFrame(t, st.conn)
	assert.Equal(t, TypeError, m["type"])
}

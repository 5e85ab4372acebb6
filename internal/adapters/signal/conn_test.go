package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveycall/convey/internal/core"
)

// stubWS satisfies WSConn for connection-level tests.
type stubWS struct {
	closes int
}

func (s *stubWS) ReadMessage() (int, []byte, error) { return 0, nil, nil }
func (s *stubWS) WriteMessage(int, []byte) error    { return nil }
func (s *stubWS) SetWriteDeadline(time.Time) error  { return nil }
func (s *stubWS) SetReadDeadline(time.Time) error   { return nil }
func (s *stubWS) SetReadLimit(int64)                {}
func (s *stubWS) Close() error                      { s.closes++; return nil }

func TestTrySendAfterCloseReportsClosed(t *testing.T) {
	ws := &stubWS{}
	c := newSignalConn(ws)

	require.NoError(t, c.TrySend(core.Frame(`{}`)))
	c.Close()

	// A relay racing a disconnect lands here; it must fail, never panic.
	err := c.TrySend(core.Frame(`{}`))
	assert.ErrorIs(t, err, ErrConnClosed)
}

func TestCloseIsIdempotent(t *testing.T) {
	ws := &stubWS{}
	c := newSignalConn(ws)

	c.Close()
	c.Close()
	assert.Equal(t, 1, ws.closes)
}

func TestTrySendReportsBackpressureWhenFull(t *testing.T) {
	c := newSignalConn(&stubWS{})
	for i := 0; i < cap(c.send); i++ {
		require.NoError(t, c.TrySend(core.Frame(`{}`)))
	}
	assert.ErrorIs(t, c.TrySend(core.Frame(`{}`)), ErrBackpressure)
}

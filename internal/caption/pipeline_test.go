package caption

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveycall/convey/internal/domain"
)

func testConfig() Config {
	return Config{
		MinConfidence: 0.3,
		LatencyBudget: 3 * time.Second,
		DisplayFor:    5 * time.Second,
		HistoryCap:    150,
	}
}

func event(label string, confidence float64) domain.RecognitionEvent {
	now := time.Now()
	return domain.RecognitionEvent{
		Label:       label,
		Confidence:  confidence,
		SourceTime:  now,
		ArrivalTime: now,
	}
}

func drainUpdates(p *Pipeline) []Update {
	var out []Update
	for {
		select {
		case u := <-p.updates:
			out = append(out, u)
		default:
			return out
		}
	}
}

func TestConfidenceThresholdIsInclusive(t *testing.T) {
	p := NewPipeline("s1", testConfig(), nil)

	p.apply("p1", event("hello", 0.3))
	cur, ok := p.Current("p1")
	require.True(t, ok)
	assert.Equal(t, "hello", cur.Text)
	assert.Equal(t, 1, p.History().Len())
}

func TestBelowThresholdLeavesNoTrace(t *testing.T) {
	p := NewPipeline("s1", testConfig(), nil)

	p.apply("p1", event("noise", 0.2999))

	_, ok := p.Current("p1")
	assert.False(t, ok)
	assert.Equal(t, 0, p.History().Len())
	assert.Empty(t, drainUpdates(p))
}

func TestEmptyLabelDropped(t *testing.T) {
	p := NewPipeline("s1", testConfig(), nil)

	p.apply("p1", event("", 0.99))

	_, ok := p.Current("p1")
	assert.False(t, ok)
	assert.Equal(t, 0, p.History().Len())
}

func TestLatencyViolationStillDisplays(t *testing.T) {
	p := NewPipeline("s1", testConfig(), nil)

	ev := event("late", 0.9)
	ev.SourceTime = time.Now().Add(-4 * time.Second)
	p.apply("p1", ev)

	cur, ok := p.Current("p1")
	require.True(t, ok)
	assert.Equal(t, "late", cur.Text)
}

func TestNewCaptionSupersedesCurrent(t *testing.T) {
	p := NewPipeline("s1", testConfig(), nil)

	p.apply("p1", event("first", 0.8))
	p.apply("p1", event("second", 0.9))

	cur, ok := p.Current("p1")
	require.True(t, ok)
	assert.Equal(t, "second", cur.Text)
	assert.Equal(t, 2, p.History().Len())

	ups := drainUpdates(p)
	require.Len(t, ups, 2)
	assert.Equal(t, UpdateSet, ups[0].Kind)
	assert.Equal(t, UpdateSet, ups[1].Kind)
}

func TestCurrentSlotsAreIndependentPerParticipant(t *testing.T) {
	p := NewPipeline("s1", testConfig(), nil)

	p.apply("p1", event("one", 0.8))
	p.apply("p2", event("two", 0.8))

	c1, ok := p.Current("p1")
	require.True(t, ok)
	c2, ok := p.Current("p2")
	require.True(t, ok)
	assert.Equal(t, "one", c1.Text)
	assert.Equal(t, "two", c2.Text)
}

func TestAutoHideClearsCurrent(t *testing.T) {
	cfg := testConfig()
	cfg.DisplayFor = 30 * time.Millisecond
	p := NewPipeline("s1", cfg, nil)

	p.apply("p1", event("brief", 0.8))

	require.Eventually(t, func() bool {
		_, ok := p.Current("p1")
		return !ok
	}, time.Second, 5*time.Millisecond)

	ups := drainUpdates(p)
	require.Len(t, ups, 2)
	assert.Equal(t, UpdateCleared, ups[1].Kind)
	assert.Equal(t, "brief", ups[1].Caption.Text)
	// History keeps the caption after the display clears.
	assert.Equal(t, 1, p.History().Len())
}

func TestStaleAutoHideTimerDoesNotClearSuccessor(t *testing.T) {
	cfg := testConfig()
	cfg.DisplayFor = 50 * time.Millisecond
	p := NewPipeline("s1", cfg, nil)

	p.apply("p1", event("old", 0.8))
	time.Sleep(40 * time.Millisecond)
	p.apply("p1", event("new", 0.9))

	// Past the old caption's would-be expiry: the new one must survive.
	time.Sleep(30 * time.Millisecond)
	cur, ok := p.Current("p1")
	require.True(t, ok)
	assert.Equal(t, "new", cur.Text)

	// And the new caption still auto-hides on its own schedule.
	require.Eventually(t, func() bool {
		_, ok := p.Current("p1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestFiredTimerRaceIsNoOp(t *testing.T) {
	cfg := testConfig()
	cfg.DisplayFor = 20 * time.Millisecond
	p := NewPipeline("s1", cfg, nil)

	// Hammer replacements around the expiry boundary; the invariant is that
	// whatever fires never clears a caption it was not armed for.
	for i := 0; i < 20; i++ {
		p.apply("p1", event("x", 0.8))
		time.Sleep(18 * time.Millisecond)
	}
	p.apply("p1", event("final", 0.9))
	cur, ok := p.Current("p1")
	require.True(t, ok)
	assert.Equal(t, "final", cur.Text)
}

func TestEmitAfterShutdownIsNoOp(t *testing.T) {
	p := NewPipeline("s1", testConfig(), nil)
	p.apply("p1", event("hello", 0.8))
	drainUpdates(p)

	p.shutdown()

	// A timer goroutine that lost the shutdown race lands here; it must
	// drop the update, never send on the closed channel.
	p.emit(Update{Kind: UpdateCleared, SessionID: "s1", ParticipantID: "p1"})
	p.autoHide("p1", "stale")
}

func TestShutdownDisarmsTimersAndClosesUpdates(t *testing.T) {
	cfg := testConfig()
	cfg.DisplayFor = 20 * time.Millisecond
	p := NewPipeline("s1", cfg, nil)
	p.apply("p1", event("hello", 0.8))

	p.shutdown()

	_, ok := p.Current("p1")
	assert.False(t, ok)
	_, open := <-p.updates // the queued set update
	require.True(t, open)
	_, open = <-p.updates
	assert.False(t, open)
}

func TestHistoryEvictsOldestAtCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.HistoryCap = 3
	p := NewPipeline("s1", cfg, nil)

	for _, label := range []string{"a", "b", "c", "d", "e"} {
		p.apply("p1", event(label, 0.8))
	}

	snap := p.History().Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "c", snap[0].Text)
	assert.Equal(t, "d", snap[1].Text)
	assert.Equal(t, "e", snap[2].Text)
}

type fakeSpeaker struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSpeaker) Speak(_ domain.SessionID, _ domain.ParticipantID, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
}

func (f *fakeSpeaker) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func TestAcceptedLabelsForwardedToTTS(t *testing.T) {
	tts := &fakeSpeaker{}
	p := NewPipeline("s1", testConfig(), tts)

	p.apply("p1", event("hello", 0.8))
	p.apply("p1", event("quiet", 0.1))

	require.Eventually(t, func() bool { return len(tts.spoken()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hello"}, tts.spoken())
}

func TestRunConsumesOfferedEventsInArrivalOrder(t *testing.T) {
	p := NewPipeline("s1", testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	for _, label := range []string{"one", "two", "three"} {
		p.Offer("p1", event(label, 0.8))
	}

	require.Eventually(t, func() bool { return p.History().Len() == 3 }, time.Second, 5*time.Millisecond)
	snap := p.History().Snapshot()
	assert.Equal(t, "one", snap[0].Text)
	assert.Equal(t, "two", snap[1].Text)
	assert.Equal(t, "three", snap[2].Text)
}

package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/conveycall/convey/internal/domain"
)

// StatsRequestFunc asks a session's participants for fresh stats.
// Implemented by the signal adapter as a stats-request broadcast.
type StatsRequestFunc func(domain.SessionID)

// QualityMonitor ingests periodic connection stats and keeps only the latest
// composite score per participant. Memory is bounded by construction: no
// history, overwrite semantics.
type QualityMonitor struct {
	reg      *Registry
	interval time.Duration
	request  StatsRequestFunc
}

func NewQualityMonitor(reg *Registry, interval time.Duration) *QualityMonitor {
	return &QualityMonitor{reg: reg, interval: interval}
}

// OnStatsRequest sets the poll broadcast hook. Must be set before Run.
func (m *QualityMonitor) OnStatsRequest(fn StatsRequestFunc) { m.request = fn }

// Score folds raw stats into a [0,1] composite.
func Score(s domain.ConnectionStats) float64 {
	audioLoss := clamp(s.Audio.PacketLoss, 0, 100)
	videoLoss := clamp(s.Video.PacketLoss, 0, 100)
	jitter := clamp(s.Audio.JitterMs, 0, 50)
	fps := clamp(s.Video.FrameRate/30, 0, 1)

	score := 0.3*(1-audioLoss/100) +
		0.2*(1-jitter/50) +
		0.3*(1-videoLoss/100) +
		0.2*fps
	return clamp(score, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Ingest scores one stats report and attaches it to the participant.
func (m *QualityMonitor) Ingest(sid domain.SessionID, pid domain.ParticipantID, stats domain.ConnectionStats) float64 {
	score := Score(stats)
	m.reg.SetQuality(sid, pid, score)
	log.Debug().Str("module", "app.quality").Str("session", string(sid)).
		Str("participant", string(pid)).Float64("score", score).
		Str("band", string(domain.BandOf(score))).Msg("stats ingested")
	return score
}

// Run polls every live session for stats on the configured interval.
func (m *QualityMonitor) Run(ctx context.Context) {
	if m.request == nil {
		return
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sid := range m.reg.ActiveSessionIDs() {
				if m.reg.ActiveCount(sid) > 0 {
					m.request(sid)
				}
			}
		}
	}
}

package domain

// AudioStats and VideoStats carry the raw per-participant numbers reported
// by the client in a stats message. Not persisted; only the derived score
// survives the message.
type AudioStats struct {
	BitrateKbps float64 `json:"bitrateKbps"`
	PacketLoss  float64 `json:"packetLoss"` // percent, 0-100
	JitterMs    float64 `json:"jitterMs"`
}

type VideoStats struct {
	BitrateKbps float64 `json:"bitrateKbps"`
	PacketLoss  float64 `json:"packetLoss"` // percent, 0-100
	FrameRate   float64 `json:"frameRate"`
}

type ConnectionStats struct {
	Audio AudioStats `json:"audio"`
	Video VideoStats `json:"video"`
	RTTMs float64    `json:"rttMs"`
}

type QualityBand string

const (
	BandGood QualityBand = "good"
	BandFair QualityBand = "fair"
	BandPoor QualityBand = "poor"
)

// BandOf classifies a composite quality score.
func BandOf(score float64) QualityBand {
	switch {
	case score >= 0.8:
		return BandGood
	case score >= 0.5:
		return BandFair
	default:
		return BandPoor
	}
}

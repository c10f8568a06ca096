// Package costs estimates the monetary cost of a transcription request
// before any audio is downloaded.
package costs

import "fmt"

// Transcription modes understood by the estimator.
const (
	ModeLocal = "local"
	ModeAPI   = "api"
)

// MinuteRateUSD is the fixed per-minute rate charged for API transcription.
const MinuteRateUSD = 0.006

// Estimate describes the projected cost of transcribing a video. Field
// names match the estimate endpoint's response payload.
type Estimate struct {
	DurationSeconds int     `json:"duration"`
	Minutes         int     `json:"minutes"`
	Cost            float64 `json:"cost"`
	FormattedCost   string  `json:"formattedCost"`
	Mode            string  `json:"mode"`
}

// IsFree reports whether the estimate carries no cost.
func (e Estimate) IsFree() bool { return e.Cost == 0 }

// For computes the cost estimate for a video of the given duration under
// the given mode. Billing rounds up to whole minutes; local transcription
// is always free. Pure: no I/O, no clock.
func For(durationSeconds int, mode string) (Estimate, error) {
	if durationSeconds < 0 {
		return Estimate{}, fmt.Errorf("costs: negative duration %d", durationSeconds)
	}
	if mode != ModeLocal && mode != ModeAPI {
		return Estimate{}, fmt.Errorf("costs: unknown mode %q", mode)
	}

	minutes := (durationSeconds + 59) / 60
	est := Estimate{
		DurationSeconds: durationSeconds,
		Minutes:         minutes,
		Mode:            mode,
	}
	if mode == ModeAPI {
		est.Cost = float64(minutes) * MinuteRateUSD
	}
	est.FormattedCost = fmt.Sprintf("%.4f", est.Cost)
	return est, nil
}

package model

import "time"

// WellbeingSnapshot holds per-session cumulative safety statistics.
// Age is stored for the tracker's use and is never serialized.
type WellbeingSnapshot struct {
	Interactions int            `json:"interactions"`
	Flagged      int            `json:"flagged"`
	HookFlags    int            `json:"hook_flags"`
	Exposure     float64        `json:"exposure"`
	FlagRate     float64        `json:"flag_rate"`
	Safeguard    SafeguardLevel `json:"-"`
	Age          AgeBracket     `json:"-"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Signals returns the only wellbeing data allowed to leave the service.
func (s WellbeingSnapshot) Signals() map[string]any {
	return map[string]any{
		"developmental_safeguard": s.Safeguard.Active(),
	}
}

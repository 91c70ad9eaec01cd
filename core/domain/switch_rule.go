package domain

import (
	"strings"
	"time"
)

// SwitchRule is the per-switch configuration owned by the device/UI layer.
// The evaluation engine treats it as read-only.
type SwitchRule struct {
	SwitchID           string    `json:"switch_id"`
	Provider           Provider  `json:"provider"`
	IncludeWords       []string  `json:"include_words,omitempty"`
	ExcludeWords       []string  `json:"exclude_words,omitempty"`
	MinutesBeforeStart int       `json:"minutes_before_start"`
	MinutesAfterEnd    int       `json:"minutes_after_end"`
	OnlyBusy           bool      `json:"only_busy"`
	AllowAllDay        bool      `json:"allow_all_day"`
	AllowPrivate       bool      `json:"allow_private"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Normalize validates and defaults a rule at the boundary where UI input is
// accepted: keywords are case-folded and trimmed, negative offsets clamped.
func (r *SwitchRule) Normalize() {
	r.IncludeWords = foldWords(r.IncludeWords)
	r.ExcludeWords = foldWords(r.ExcludeWords)
	if r.MinutesBeforeStart < 0 {
		r.MinutesBeforeStart = 0
	}
	if r.MinutesAfterEnd < 0 {
		r.MinutesAfterEnd = 0
	}
}

func foldWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// UpcomingEntry is one projected future activation.
type UpcomingEntry struct {
	Event       NormalizedEvent `json:"event"`
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end"`
}

// SwitchState is the derived, ephemeral result of one evaluation cycle.
// It is always replaced wholesale, never patched field by field.
type SwitchState struct {
	SwitchID        string           `json:"switch_id"`
	IsActive        bool             `json:"is_active"`
	ActiveEvent     *NormalizedEvent `json:"active_event,omitempty"`
	ActiveCount     int              `json:"active_count"`
	Upcoming        []UpcomingEntry  `json:"upcoming,omitempty"`
	LastEvaluatedAt time.Time        `json:"last_evaluated_at"`
	LastError       string           `json:"last_error,omitempty"`
}

package domain

import (
	"strings"
	"time"
)

// NormalizedEvent is the provider-agnostic shape of a calendar event after
// adapter-layer translation. Produced fresh on every fetch, never mutated.
type NormalizedEvent struct {
	Provider    Provider  `json:"provider"`
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Organizer   string    `json:"organizer,omitempty"`
	Categories  []string  `json:"categories,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	IsAllDay    bool      `json:"is_all_day"`
	IsBusy      bool      `json:"is_busy"`
	IsPrivate   bool      `json:"is_private"`
	IsCancelled bool      `json:"is_cancelled"`
	CalendarID  string    `json:"calendar_id,omitempty"`
}

// Haystack builds the lowercase text searched by keyword rules.
func (e *NormalizedEvent) Haystack() string {
	parts := []string{e.Title, e.Location, e.Organizer, e.Description}
	parts = append(parts, e.Categories...)
	return strings.ToLower(strings.Join(parts, " "))
}

// FetchResult is what a provider fetch produces for one tick: the events,
// or an error annotation shared by every switch on that provider.
type FetchResult struct {
	Provider  Provider
	Events    []NormalizedEvent
	Err       error
	FetchedAt time.Time
}

// Package provider implements the calendar provider adapters. Each adapter
// translates one external event API into NormalizedEvent values; provider
// quirks stop at this boundary.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"switch_server/core/domain"
	"switch_server/core/port/out"
	"switch_server/pkg/apperr"
	"switch_server/pkg/httputil"
	"switch_server/pkg/logger"
)

const googleMaxResults = 250

// GoogleCalendarAdapter implements CalendarProviderPort for Google Calendar.
type GoogleCalendarAdapter struct {
	tokens     out.BearerSource
	calendarID string
	timezone   *time.Location
	cb         *gobreaker.CircuitBreaker
	log        *logger.Logger
}

// NewGoogleCalendarAdapter creates a Google Calendar adapter reading the
// primary calendar.
func NewGoogleCalendarAdapter(tokens out.BearerSource, timezone *time.Location) *GoogleCalendarAdapter {
	cbSettings := gobreaker.Settings{
		Name:        "google-calendar-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
		},
	}

	return &GoogleCalendarAdapter{
		tokens:     tokens,
		calendarID: "primary",
		timezone:   timezone,
		cb:         gobreaker.NewCircuitBreaker(cbSettings),
		log:        logger.Default().WithProvider(string(domain.ProviderGoogle)),
	}
}

func (a *GoogleCalendarAdapter) ProviderType() domain.Provider {
	return domain.ProviderGoogle
}

// FetchEvents queries the primary calendar for the given window. Recurring
// events come back expanded into instances.
func (a *GoogleCalendarAdapter) FetchEvents(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.NormalizedEvent, error) {
	conn, err := a.tokens.Connection(ctx, domain.ProviderGoogle)
	if err != nil {
		return nil, fmt.Errorf("failed to load google connection: %w", err)
	}
	if conn == nil || !conn.Connected() {
		return nil, apperr.NotConnected(string(domain.ProviderGoogle))
	}

	accessToken, err := a.tokens.AccessToken(ctx, domain.ProviderGoogle)
	if err != nil {
		return nil, err
	}

	result, err := a.cb.Execute(func() (interface{}, error) {
		return a.listEvents(ctx, accessToken, windowStart, windowEnd)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperr.HTTPError(string(domain.ProviderGoogle), 0, err)
		}
		return nil, err
	}

	return a.normalize(result.(*calendar.Events)), nil
}

func (a *GoogleCalendarAdapter) listEvents(ctx context.Context, accessToken string, windowStart, windowEnd time.Time) (*calendar.Events, error) {
	httpCtx := context.WithValue(ctx, oauth2.HTTPClient, httputil.GoogleClient())
	client := oauth2.NewClient(httpCtx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))

	svc, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	resp, err := svc.Events.List(a.calendarID).
		TimeMin(windowStart.Format(time.RFC3339)).
		TimeMax(windowEnd.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(googleMaxResults).
		Context(ctx).
		Do()
	if err != nil {
		if gerr, ok := err.(*googleapi.Error); ok {
			return nil, apperr.HTTPError(string(domain.ProviderGoogle), gerr.Code, err)
		}
		return nil, apperr.HTTPError(string(domain.ProviderGoogle), 0, err)
	}
	return resp, nil
}

// normalize translates the API payload. Events whose times cannot be parsed
// are dropped and counted rather than failing the fetch.
func (a *GoogleCalendarAdapter) normalize(resp *calendar.Events) []domain.NormalizedEvent {
	events := make([]domain.NormalizedEvent, 0, len(resp.Items))
	dropped := 0

	for _, item := range resp.Items {
		ev, ok := a.convertEvent(item)
		if !ok {
			dropped++
			continue
		}
		events = append(events, ev)
	}

	if dropped > 0 {
		a.log.Warn("[GoogleCalendar.FetchEvents] Dropped %d events with unusable times", dropped)
	}
	return events
}

func (a *GoogleCalendarAdapter) convertEvent(item *calendar.Event) (domain.NormalizedEvent, bool) {
	ev := domain.NormalizedEvent{
		Provider:    domain.ProviderGoogle,
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		CalendarID:  a.calendarID,
		IsBusy:      item.Transparency != "transparent",
		IsPrivate:   item.Visibility == "private",
		IsCancelled: item.Status == "cancelled" || selfDeclined(item),
	}

	if item.Organizer != nil {
		ev.Organizer = item.Organizer.DisplayName
		if ev.Organizer == "" {
			ev.Organizer = item.Organizer.Email
		}
	}

	if item.Start == nil || item.End == nil {
		return domain.NormalizedEvent{}, false
	}

	switch {
	case item.Start.Date != "":
		ev.IsAllDay = true
		start, err := startOfDay(item.Start.Date, a.timezone)
		if err != nil {
			return domain.NormalizedEvent{}, false
		}
		end, err := startOfDay(item.End.Date, a.timezone)
		if err != nil {
			return domain.NormalizedEvent{}, false
		}
		ev.StartTime, ev.EndTime = start, end
	default:
		start, err := parseEventTime(item.Start.DateTime, item.Start.TimeZone, a.timezone)
		if err != nil {
			return domain.NormalizedEvent{}, false
		}
		end, err := parseEventTime(item.End.DateTime, item.End.TimeZone, a.timezone)
		if err != nil {
			return domain.NormalizedEvent{}, false
		}
		ev.StartTime, ev.EndTime = start, end
	}

	return ev, true
}

// selfDeclined reports whether the calendar owner declined the event. A
// declined event behaves like a cancelled one for switch purposes.
func selfDeclined(item *calendar.Event) bool {
	for _, att := range item.Attendees {
		if att.Self && att.ResponseStatus == "declined" {
			return true
		}
	}
	return false
}

// Ensure interface compliance
var _ out.CalendarProviderPort = (*GoogleCalendarAdapter)(nil)

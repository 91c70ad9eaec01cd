package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"switch_server/core/domain"
	"switch_server/core/port/out"
	"switch_server/pkg/apperr"
	"switch_server/pkg/httputil"
	"switch_server/pkg/logger"
)

const (
	msGraphBaseURL = "https://graph.microsoft.com/v1.0"
	graphPageSize  = 250
)

// OutlookCalendarAdapter implements CalendarProviderPort against the
// Microsoft Graph calendarView endpoint. calendarView expands recurring
// events into instances server-side, so no recurrence handling is needed
// here.
type OutlookCalendarAdapter struct {
	tokens     out.BearerSource
	timezone   *time.Location
	timezoneID string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	log        *logger.Logger
}

// NewOutlookCalendarAdapter creates a Microsoft Graph calendar adapter.
// timezoneID is the IANA name sent in the Prefer header so Graph returns
// event times in a known zone.
func NewOutlookCalendarAdapter(tokens out.BearerSource, timezone *time.Location, timezoneID string) *OutlookCalendarAdapter {
	cbSettings := gobreaker.Settings{
		Name:        "msgraph-calendar-api",
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

	return &OutlookCalendarAdapter{
		tokens:     tokens,
		timezone:   timezone,
		timezoneID: timezoneID,
		httpClient: httputil.GraphClient(),
		cb:         gobreaker.NewCircuitBreaker(cbSettings),
		log:        logger.Default().WithProvider(string(domain.ProviderMicrosoft)),
	}
}

func (a *OutlookCalendarAdapter) ProviderType() domain.Provider {
	return domain.ProviderMicrosoft
}

// FetchEvents queries /me/calendarView for the given window.
func (a *OutlookCalendarAdapter) FetchEvents(ctx context.Context, windowStart, windowEnd time.Time) ([]domain.NormalizedEvent, error) {
	conn, err := a.tokens.Connection(ctx, domain.ProviderMicrosoft)
	if err != nil {
		return nil, fmt.Errorf("failed to load microsoft connection: %w", err)
	}
	if conn == nil || !conn.Connected() {
		return nil, apperr.NotConnected(string(domain.ProviderMicrosoft))
	}

	accessToken, err := a.tokens.AccessToken(ctx, domain.ProviderMicrosoft)
	if err != nil {
		return nil, err
	}

	result, err := a.cb.Execute(func() (interface{}, error) {
		return a.calendarView(ctx, accessToken, windowStart, windowEnd)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperr.HTTPError(string(domain.ProviderMicrosoft), 0, err)
		}
		return nil, err
	}

	return a.normalize(result.([]graphEvent)), nil
}

func (a *OutlookCalendarAdapter) calendarView(ctx context.Context, accessToken string, windowStart, windowEnd time.Time) ([]graphEvent, error) {
	params := url.Values{}
	params.Set("startDateTime", windowStart.UTC().Format(time.RFC3339))
	params.Set("endDateTime", windowEnd.UTC().Format(time.RFC3339))
	params.Set("$orderby", "start/dateTime")
	params.Set("$top", fmt.Sprintf("%d", graphPageSize))

	endpoint := msGraphBaseURL + "/me/calendarView?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Prefer", fmt.Sprintf("outlook.timezone=%q", a.timezoneID))

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, apperr.HTTPError(string(domain.ProviderMicrosoft), 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.HTTPError(string(domain.ProviderMicrosoft), resp.StatusCode,
			fmt.Errorf("calendarView failed with status %d", resp.StatusCode))
	}

	var result struct {
		Value []graphEvent `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode calendarView response: %w", err)
	}
	return result.Value, nil
}

type graphEvent struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	BodyPreview string `json:"bodyPreview"`
	Start       struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone"`
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime"`
		TimeZone string `json:"timeZone"`
	} `json:"end"`
	Location struct {
		DisplayName string `json:"displayName"`
	} `json:"location"`
	Organizer struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"organizer"`
	Categories     []string `json:"categories"`
	IsAllDay       bool     `json:"isAllDay"`
	IsCancelled    bool     `json:"isCancelled"`
	ShowAs         string   `json:"showAs"`
	Sensitivity    string   `json:"sensitivity"`
	ResponseStatus struct {
		Response string `json:"response"`
	} `json:"responseStatus"`
}

func (a *OutlookCalendarAdapter) normalize(items []graphEvent) []domain.NormalizedEvent {
	events := make([]domain.NormalizedEvent, 0, len(items))
	dropped := 0

	for i := range items {
		ev, ok := a.convertEvent(&items[i])
		if !ok {
			dropped++
			continue
		}
		events = append(events, ev)
	}

	if dropped > 0 {
		a.log.Warn("[OutlookCalendar.FetchEvents] Dropped %d events with unusable times", dropped)
	}
	return events
}

func (a *OutlookCalendarAdapter) convertEvent(item *graphEvent) (domain.NormalizedEvent, bool) {
	start, err := parseEventTime(item.Start.DateTime, item.Start.TimeZone, a.timezone)
	if err != nil {
		return domain.NormalizedEvent{}, false
	}
	end, err := parseEventTime(item.End.DateTime, item.End.TimeZone, a.timezone)
	if err != nil {
		return domain.NormalizedEvent{}, false
	}

	organizer := item.Organizer.EmailAddress.Name
	if organizer == "" {
		organizer = item.Organizer.EmailAddress.Address
	}

	return domain.NormalizedEvent{
		Provider:    domain.ProviderMicrosoft,
		ID:          item.ID,
		Title:       item.Subject,
		Description: item.BodyPreview,
		Location:    item.Location.DisplayName,
		Organizer:   organizer,
		Categories:  item.Categories,
		StartTime:   start,
		EndTime:     end,
		IsAllDay:    item.IsAllDay,
		IsBusy:      item.ShowAs != "free",
		IsPrivate:   item.Sensitivity == "private",
		IsCancelled: item.IsCancelled || item.ResponseStatus.Response == "declined",
	}, true
}

// Ensure interface compliance
var _ out.CalendarProviderPort = (*OutlookCalendarAdapter)(nil)

// Package eval implements the event-to-switch evaluation engine: a pure
// function from normalized events and a rule set to switch state.
package eval

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"switch_server/core/domain"
)

// maxUpcoming caps the projected future activations per switch.
const maxUpcoming = 3

// windowed pairs an event with its computed activation window.
type windowed struct {
	event       domain.NormalizedEvent
	windowStart time.Time
	windowEnd   time.Time
}

// Evaluate computes the switch state for one rule against one event list.
// Deterministic, no I/O: identical inputs and an identical now always yield
// an identical state. The result replaces any prior state wholesale.
func Evaluate(events []domain.NormalizedEvent, rule domain.SwitchRule, now time.Time) domain.SwitchState {
	state := domain.SwitchState{
		SwitchID:        rule.SwitchID,
		LastEvaluatedAt: now,
	}

	survivors := make([]windowed, 0, len(events))
	for _, ev := range events {
		if !eligible(ev, rule) {
			continue
		}
		if !matchesKeywords(ev, rule) {
			continue
		}
		survivors = append(survivors, windowed{
			event:       ev,
			windowStart: ev.StartTime.Add(-time.Duration(rule.MinutesBeforeStart) * time.Minute),
			windowEnd:   ev.EndTime.Add(time.Duration(rule.MinutesAfterEnd) * time.Minute),
		})
	}

	// Stable sort keeps fetch order for equal start times.
	sort.SliceStable(survivors, func(i, j int) bool {
		return survivors[i].event.StartTime.Before(survivors[j].event.StartTime)
	})

	for i := range survivors {
		w := survivors[i]
		if contains(w, now) {
			state.ActiveCount++
			if state.ActiveEvent == nil {
				ev := w.event
				state.ActiveEvent = &ev
			}
		} else if w.windowStart.After(now) && len(state.Upcoming) < maxUpcoming {
			state.Upcoming = append(state.Upcoming, domain.UpcomingEntry{
				Event:       w.event,
				WindowStart: w.windowStart,
				WindowEnd:   w.windowEnd,
			})
		}
	}
	state.IsActive = state.ActiveCount > 0

	return state
}

// contains tests the half-open activation window [windowStart, windowEnd).
func contains(w windowed, now time.Time) bool {
	return !now.Before(w.windowStart) && now.Before(w.windowEnd)
}

// eligible applies the non-keyword filters: all-day, busy, private and
// cancelled gating. Events with unusable times never reach this point; the
// adapters drop them during normalization.
func eligible(ev domain.NormalizedEvent, rule domain.SwitchRule) bool {
	if ev.IsCancelled {
		return false
	}
	if ev.IsAllDay && !rule.AllowAllDay {
		return false
	}
	if rule.OnlyBusy && !ev.IsBusy {
		return false
	}
	if ev.IsPrivate && !rule.AllowPrivate {
		return false
	}
	if ev.StartTime.IsZero() || ev.EndTime.IsZero() {
		return false
	}
	return true
}

// matchesKeywords applies the keyword pipeline. Exclude always wins over
// include; an empty include list passes everything.
func matchesKeywords(ev domain.NormalizedEvent, rule domain.SwitchRule) bool {
	if len(rule.ExcludeWords) == 0 && len(rule.IncludeWords) == 0 {
		return true
	}
	haystack := ev.Haystack()
	for _, w := range rule.ExcludeWords {
		if strings.Contains(haystack, w) {
			return false
		}
	}
	if len(rule.IncludeWords) == 0 {
		return true
	}
	for _, w := range rule.IncludeWords {
		if strings.Contains(haystack, w) {
			return true
		}
	}
	return false
}

// SafeEvaluate wraps Evaluate with a recover so a defect evaluating one
// switch becomes that switch's error state instead of taking down the
// sibling loop in the scheduler.
func SafeEvaluate(events []domain.NormalizedEvent, rule domain.SwitchRule, now time.Time) (state domain.SwitchState) {
	defer func() {
		if r := recover(); r != nil {
			state = domain.SwitchState{
				SwitchID:        rule.SwitchID,
				LastEvaluatedAt: now,
				LastError:       fmt.Sprintf("evaluation panic: %v", r),
			}
		}
	}()
	return Evaluate(events, rule, now)
}

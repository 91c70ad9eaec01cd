// Package worker implements the background polling loop that keeps switch
// states current.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"switch_server/core/domain"
	"switch_server/core/port/in"
	"switch_server/core/port/out"
	"switch_server/core/service/eval"
	"switch_server/pkg/apperr"
)

// fetchRecord is the cached outcome of the most recent fetch for one
// provider. Both success and failure are cached so a forced refresh burst
// cannot hammer a failing API.
type fetchRecord struct {
	events    []domain.NormalizedEvent
	err       error
	fetchedAt time.Time
}

// PollScheduler drives the fetch-evaluate-notify cycle. One fetch per
// provider per tick is shared by every switch on that provider; evaluation
// is per switch and isolated, so one bad rule cannot block its siblings.
type PollScheduler struct {
	registry *eval.Registry
	factory  out.CalendarProviderFactory
	notifier out.SwitchNotifier
	log      zerolog.Logger

	checkInterval    time.Duration
	minFetchInterval time.Duration
	refreshDebounce  time.Duration
	windowBehind     time.Duration
	windowAhead      time.Duration

	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	fetchLocks  map[domain.Provider]*sync.Mutex
	lastFetch   map[domain.Provider]fetchRecord
	lastRequest map[string]time.Time
}

// SchedulerConfig carries the timing knobs for the poll loop.
type SchedulerConfig struct {
	CheckInterval    time.Duration
	MinFetchInterval time.Duration
	RefreshDebounce  time.Duration
	WindowBehind     time.Duration
	WindowAhead      time.Duration
}

// NewPollScheduler creates a scheduler. notifier may be nil when no device
// layer is attached.
func NewPollScheduler(
	registry *eval.Registry,
	factory out.CalendarProviderFactory,
	notifier out.SwitchNotifier,
	cfg SchedulerConfig,
	log zerolog.Logger,
) *PollScheduler {
	ctx, cancel := context.WithCancel(context.Background())

	fetchLocks := make(map[domain.Provider]*sync.Mutex, len(domain.Providers))
	for _, p := range domain.Providers {
		fetchLocks[p] = &sync.Mutex{}
	}

	return &PollScheduler{
		registry:         registry,
		factory:          factory,
		notifier:         notifier,
		log:              log.With().Str("component", "poll_scheduler").Logger(),
		checkInterval:    cfg.CheckInterval,
		minFetchInterval: cfg.MinFetchInterval,
		refreshDebounce:  cfg.RefreshDebounce,
		windowBehind:     cfg.WindowBehind,
		windowAhead:      cfg.WindowAhead,
		now:              time.Now,
		ctx:              ctx,
		cancel:           cancel,
		fetchLocks:       fetchLocks,
		lastFetch:        make(map[domain.Provider]fetchRecord),
		lastRequest:      make(map[string]time.Time),
	}
}

// Start starts the poll loop.
func (s *PollScheduler) Start() {
	s.log.Info().Dur("interval", s.checkInterval).Msg("starting poll scheduler")
	s.wg.Add(1)
	go s.run()
}

// Stop stops the loop and waits for an in-flight tick to finish.
func (s *PollScheduler) Stop() {
	s.log.Info().Msg("stopping poll scheduler...")
	s.cancel()
	s.wg.Wait()
	s.log.Info().Msg("poll scheduler stopped")
}

func (s *PollScheduler) run() {
	defer s.wg.Done()

	// First tick runs immediately so switches have state at startup.
	s.Tick(s.ctx)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Tick(s.ctx)
		}
	}
}

// Tick runs one full fetch-evaluate-notify cycle across all registered
// switches. Exported for tests; the loop calls it on every interval.
func (s *PollScheduler) Tick(ctx context.Context) {
	rules := s.registry.Rules()
	if len(rules) == 0 {
		return
	}

	results := make(map[domain.Provider]fetchRecord, 2)
	for _, provider := range s.registry.ProvidersInUse() {
		results[provider] = s.fetchProvider(ctx, provider, false)
	}

	now := s.now()
	for _, rule := range rules {
		rec, ok := results[rule.Provider]
		if !ok {
			continue
		}
		s.applyResult(ctx, rule, rec, now)
	}
}

// applyResult turns one fetch outcome into one switch state and delivers
// it. Fetch errors annotate the previous state instead of blanking it.
func (s *PollScheduler) applyResult(ctx context.Context, rule domain.SwitchRule, rec fetchRecord, now time.Time) {
	var state domain.SwitchState
	if rec.err != nil {
		state = s.registry.AnnotateError(rule.SwitchID, now, rec.err.Error())
	} else {
		state = eval.SafeEvaluate(rec.events, rule, now)
		s.registry.ReplaceState(state)
	}

	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyState(ctx, state); err != nil {
		s.log.Warn().
			Err(err).
			Str("switch_id", rule.SwitchID).
			Msg("failed to notify switch state")
	}
}

// fetchProvider returns fetch results for one provider, reusing the cached
// result when it is younger than the minimum fetch interval. force bypasses
// the cache for interactive refreshes.
func (s *PollScheduler) fetchProvider(ctx context.Context, p domain.Provider, force bool) fetchRecord {
	lock := s.fetchLocks[p]
	lock.Lock()
	defer lock.Unlock()

	now := s.now()

	s.mu.Lock()
	rec, ok := s.lastFetch[p]
	s.mu.Unlock()
	if ok && !force && now.Sub(rec.fetchedAt) < s.minFetchInterval {
		return rec
	}

	rec = fetchRecord{fetchedAt: now}

	adapter, err := s.factory.ProviderFor(p)
	if err != nil {
		rec.err = err
	} else {
		windowStart := now.Add(-s.windowBehind)
		windowEnd := now.Add(s.windowAhead)
		rec.events, rec.err = adapter.FetchEvents(ctx, windowStart, windowEnd)
	}

	if rec.err != nil {
		s.log.Warn().
			Err(rec.err).
			Str("provider", string(p)).
			Msg("calendar fetch failed")
	} else {
		s.log.Debug().
			Str("provider", string(p)).
			Int("events", len(rec.events)).
			Msg("calendar fetch complete")
	}

	s.mu.Lock()
	s.lastFetch[p] = rec
	s.mu.Unlock()
	return rec
}

// RequestFetch is the interactive "test now" path for a single switch. It
// bypasses the shared fetch cache but debounces rapid repeats; a request
// inside the debounce window coalesces into the previous one.
func (s *PollScheduler) RequestFetch(ctx context.Context, switchID, reason string) error {
	rule, ok := s.registry.Rule(switchID)
	if !ok {
		return apperr.NotFound("switch")
	}

	now := s.now()
	s.mu.Lock()
	if last, ok := s.lastRequest[switchID]; ok && now.Sub(last) < s.refreshDebounce {
		s.mu.Unlock()
		s.log.Debug().
			Str("switch_id", switchID).
			Str("reason", reason).
			Msg("refresh request coalesced")
		return nil
	}
	s.lastRequest[switchID] = now
	s.mu.Unlock()

	s.log.Info().
		Str("switch_id", switchID).
		Str("reason", reason).
		Msg("interactive refresh requested")

	rec := s.fetchProvider(ctx, rule.Provider, true)
	s.applyResult(ctx, rule, rec, s.now())
	return nil
}

// ProviderFetchInfo summarizes the most recent fetch for one provider,
// surfaced on the readiness endpoint.
type ProviderFetchInfo struct {
	Provider  domain.Provider `json:"provider"`
	FetchedAt time.Time       `json:"fetched_at"`
	Events    int             `json:"events"`
	LastError string          `json:"last_error,omitempty"`
}

// FetchInfo reports the last fetch outcome per provider.
func (s *PollScheduler) FetchInfo() []ProviderFetchInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]ProviderFetchInfo, 0, len(s.lastFetch))
	for _, p := range domain.Providers {
		rec, ok := s.lastFetch[p]
		if !ok {
			continue
		}
		info := ProviderFetchInfo{
			Provider:  p,
			FetchedAt: rec.fetchedAt,
			Events:    len(rec.events),
		}
		if rec.err != nil {
			info.LastError = rec.err.Error()
		}
		infos = append(infos, info)
	}
	return infos
}

// SetCheckInterval sets the poll interval (for testing).
func (s *PollScheduler) SetCheckInterval(interval time.Duration) {
	s.checkInterval = interval
}

// Ensure interface compliance
var _ in.FetchRequester = (*PollScheduler)(nil)

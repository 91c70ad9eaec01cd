// Package bootstrap wires configuration, stores, services and adapters
// into a running application.
package bootstrap

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"switch_server/adapter/in/worker"
	"switch_server/adapter/out/notify"
	"switch_server/adapter/out/persistence"
	"switch_server/adapter/out/provider"
	"switch_server/config"
	"switch_server/core/port/out"
	"switch_server/core/service/auth"
	"switch_server/core/service/eval"
	"switch_server/pkg/apperr"
	"switch_server/pkg/logger"
)

// Dependencies holds every wired component. Handlers and the scheduler
// receive what they need from here; nothing reaches for globals.
type Dependencies struct {
	Redis *redis.Client

	ConnectionStore out.ConnectionStore
	RuleStore       out.RuleStore

	OAuthService *auth.OAuthService
	Registry     *eval.Registry
	Factory      *provider.Factory
	Scheduler    *worker.PollScheduler
}

// NewDependencies builds the full dependency graph. The returned cleanup
// closes external connections; callers must run it on shutdown.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	if cfg.StateSecret == "" {
		return nil, nil, apperr.ConfigError("OAUTH_STATE_SECRET is required")
	}

	timezone, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, nil, apperr.ConfigError("invalid TIMEZONE: " + cfg.Timezone)
	}

	deps := &Dependencies{}
	cleanup := func() {
		if deps.Redis != nil {
			if err := deps.Redis.Close(); err != nil {
				logger.Warn("Failed to close redis client: %v", err)
			}
		}
	}

	// Stores fall back to in-memory when no REDIS_URL is configured, which
	// is the single-process dev setup.
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, apperr.ConfigError("invalid REDIS_URL: " + err.Error())
		}
		deps.Redis = redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := deps.Redis.Ping(pingCtx).Err(); err != nil {
			cleanup()
			return nil, nil, apperr.Wrap(err, apperr.CodeConfigError, "redis connection failed", 500)
		}

		deps.ConnectionStore = persistence.NewRedisConnectionStore(deps.Redis)
		deps.RuleStore = persistence.NewRedisRuleStore(deps.Redis)
		logger.Info("[Bootstrap] Using redis stores")
	} else {
		deps.ConnectionStore = persistence.NewMemoryConnectionStore()
		deps.RuleStore = persistence.NewMemoryRuleStore()
		logger.Info("[Bootstrap] REDIS_URL not set, using in-memory stores")
	}

	deps.OAuthService = auth.NewOAuthService(auth.OAuthConfig{
		GoogleClientID:        cfg.GoogleClientID,
		GoogleClientSecret:    cfg.GoogleClientSecret,
		MicrosoftClientID:     cfg.MicrosoftClientID,
		MicrosoftClientSecret: cfg.MicrosoftClientSecret,
		MicrosoftTenantID:     cfg.MicrosoftTenantID,
		RedirectURL:           cfg.RedirectURL,
		StateSecret:           cfg.StateSecret,
	}, deps.ConnectionStore)

	loadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	deps.Registry, err = eval.NewRegistry(loadCtx, deps.RuleStore)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	deps.Factory = provider.NewFactory(deps.OAuthService, timezone, cfg.Timezone)

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	deps.Scheduler = worker.NewPollScheduler(
		deps.Registry,
		deps.Factory,
		notify.NewLogNotifier(),
		worker.SchedulerConfig{
			CheckInterval:    cfg.FetchInterval,
			MinFetchInterval: cfg.MinFetchInterval,
			RefreshDebounce:  cfg.RefreshDebounce,
			WindowBehind:     cfg.WindowBehind,
			WindowAhead:      cfg.WindowAhead,
		},
		zlog,
	)

	return deps, cleanup, nil
}

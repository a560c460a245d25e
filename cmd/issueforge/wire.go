package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Strob0t/IssueForge/internal/adapter/filestore"
	"github.com/Strob0t/IssueForge/internal/adapter/hostingcache"
	ifhttp "github.com/Strob0t/IssueForge/internal/adapter/http"
	ifnats "github.com/Strob0t/IssueForge/internal/adapter/nats"
	"github.com/Strob0t/IssueForge/internal/adapter/natskv"
	ifotel "github.com/Strob0t/IssueForge/internal/adapter/otel"
	"github.com/Strob0t/IssueForge/internal/adapter/postgres"
	"github.com/Strob0t/IssueForge/internal/adapter/ristretto"
	"github.com/Strob0t/IssueForge/internal/adapter/tiered"
	"github.com/Strob0t/IssueForge/internal/adapter/ws"
	"github.com/Strob0t/IssueForge/internal/config"
	"github.com/Strob0t/IssueForge/internal/domain/session"
	"github.com/Strob0t/IssueForge/internal/git"
	"github.com/Strob0t/IssueForge/internal/port/agentbackend"
	"github.com/Strob0t/IssueForge/internal/port/cache"
	"github.com/Strob0t/IssueForge/internal/port/hosting"
	"github.com/Strob0t/IssueForge/internal/port/messagequeue"
	"github.com/Strob0t/IssueForge/internal/port/sessionstore"
	"github.com/Strob0t/IssueForge/internal/resilience"
	"github.com/Strob0t/IssueForge/internal/service"
)

// hostingCacheBucket is the KV bucket shared by concurrent sessions.
const hostingCacheBucket = "issueforge_hosting"

// resumeBuffer is added to the computed reset wait before an automatic resume.
const resumeBuffer = time.Minute

// app holds the wired collaborators of one invocation.
type app struct {
	scheduler *service.Scheduler
	events    *service.Events
	queue     messagequeue.Queue
	status    *ifhttp.Server

	closers []func()
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) onClose(fn func()) { a.closers = append(a.closers, fn) }

// wire builds every collaborator from the runtime configuration.
func wire(ctx context.Context, cfg *config.Config, sc session.Config, agentOutput io.Writer) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	metrics, err := ifotel.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	pool := git.NewPool(cfg.Git.MaxConcurrent)
	runner := git.NewRunner(cfg.Git.Binary, pool,
		git.WithTimeout(cfg.Git.CommandTimeout),
		git.WithAuthor(cfg.Git.AuthorName, cfg.Git.AuthorEmail),
	)

	var bus *ifnats.Queue
	if cfg.NATS.URL != "" {
		bus, err = ifnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		a.queue = bus
		a.onClose(func() {
			if err := bus.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		})
	}

	platform, err := newPlatform(ctx, cfg, bus, a)
	if err != nil {
		return nil, err
	}

	agent, err := agentbackend.New(cfg.Agent.Backend, agentbackend.Config{
		Command:     cfg.Agent.Command,
		Args:        cfg.Agent.Args,
		ResumeFlag:  cfg.Agent.ResumeFlag,
		Timeout:     cfg.Agent.Timeout,
		GracePeriod: cfg.Agent.GracePeriod,
		Output:      agentOutput,
	})
	if err != nil {
		return nil, fmt.Errorf("agent backend: %w", err)
	}

	store, err := newSessionStore(ctx, cfg, a)
	if err != nil {
		return nil, err
	}

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout,
		resilience.OnStateChange(func(from, to resilience.State) {
			slog.Warn("hosting circuit breaker state changed", "from", from, "to", to)
		}),
	)

	a.events = service.NewEvents(a.queue, nil)
	resolver := service.NewDivergenceResolver(runner, metrics)
	a.scheduler = service.NewScheduler(service.SchedulerDeps{
		Acquirer: service.NewAcquirer(runner, platform, resolver, resilience.Policy(cfg.Retry.ForkVerify)),
		Branches: service.NewBranchManager(runner, platform, cfg.Session.BranchPrefix),
		Markers:  service.NewMarkerController(runner, cfg.Session.MarkerFile, sc.AllowMergedBranch),
		Gate:     service.NewFeedbackGate(platform, breaker),
		Resolver: resolver,
		Agent:    agent,
		Hosting:  platform,
		Git:      runner,
		Store:    store,
		Events:   a.events,
		Metrics:  metrics,
		Breaker:  breaker,
		Nudges:   a.queue,
	}, service.SchedulerOptions{
		Transient:    resilience.Policy(cfg.Retry.Transient),
		DraftPR:      cfg.Session.DraftPR,
		ResumeBuffer: resumeBuffer,
	})

	if cfg.Status.Addr != "" {
		if err := a.listen(cfg); err != nil {
			return nil, err
		}
	}

	ok = true
	return a, nil
}

// newPlatform builds the hosting platform behind the metadata cache. With a
// bus, the in-process cache is backed by a shared KV bucket.
func newPlatform(ctx context.Context, cfg *config.Config, bus *ifnats.Queue, a *app) (hosting.Platform, error) {
	platform, err := hosting.New(cfg.Hosting.Provider, hosting.Config{Binary: cfg.Hosting.Binary})
	if err != nil {
		return nil, fmt.Errorf("hosting platform: %w", err)
	}
	if cfg.Cache.L1MaxSizeMB <= 0 {
		return platform, nil
	}
	c, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("hosting cache: %w", err)
	}
	a.onClose(c.Close)

	var metadata cache.Cache = c
	if bus != nil {
		kv, err := bus.KeyValue(ctx, hostingCacheBucket, cfg.Cache.TTL)
		if err != nil {
			slog.Warn("shared hosting cache unavailable", "error", err)
		} else {
			metadata = tiered.New(c, natskv.New(kv), cfg.Cache.TTL)
		}
	}
	return hostingcache.New(platform, metadata, cfg.Cache.TTL), nil
}

func newSessionStore(ctx context.Context, cfg *config.Config, a *app) (sessionstore.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		a.onClose(pool.Close)
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return postgres.NewSessionStore(pool), nil
	default:
		s, err := filestore.New(cfg.Store.Dir)
		if err != nil {
			return nil, fmt.Errorf("session store: %w", err)
		}
		return s, nil
	}
}

// listen binds the status server and attaches its hub to the event stream.
func (a *app) listen(cfg *config.Config) error {
	hub := ws.NewHub(cfg.Status.AllowedOrigins, a.events.SnapshotMessage)
	a.events.SetBroadcaster(hub)
	a.onClose(hub.CloseAll)

	h := &ifhttp.Handlers{
		Version: version,
		Status:  func() any { return a.events.Snapshot() },
		Hub:     hub,
		Nudge:   a.nudge,
	}
	srv, err := ifhttp.Listen(cfg.Status.Addr, ifhttp.NewRouter(h, cfg.Logging.Service, cfg.Status.WebhookSecret))
	if err != nil {
		return err
	}
	a.status = srv
	return nil
}

// nudge wakes the local watch loop and forwards the delivery to other
// watchers on the bus.
func (a *app) nudge(r *http.Request, owner, repo string, number int) {
	local := a.scheduler.Nudge(owner, repo, number)
	if a.queue == nil || local {
		return
	}
	data, err := json.Marshal(messagequeue.NudgePayload{Reason: "webhook"})
	if err != nil {
		return
	}
	if err := a.queue.Publish(r.Context(), messagequeue.NudgeSubject(owner, repo, number), data); err != nil {
		slog.WarnContext(r.Context(), "publish nudge", "error", err)
	}
}

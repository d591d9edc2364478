// Package control wires the orchestrator together and owns its lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/roundkeeper/internal/control/health"
	"github.com/vietddude/roundkeeper/internal/core/config"
	"github.com/vietddude/roundkeeper/internal/core/domain"
	"github.com/vietddude/roundkeeper/internal/core/task"
	"github.com/vietddude/roundkeeper/internal/infra/gitexec"
	"github.com/vietddude/roundkeeper/internal/infra/platform"
	redisclient "github.com/vietddude/roundkeeper/internal/infra/redis"
	"github.com/vietddude/roundkeeper/internal/infra/storage"
	"github.com/vietddude/roundkeeper/internal/infra/storage/memory"
	"github.com/vietddude/roundkeeper/internal/infra/storage/postgres"
	"github.com/vietddude/roundkeeper/internal/orchestrate/budget"
	"github.com/vietddude/roundkeeper/internal/orchestrate/dispatch"
	"github.com/vietddude/roundkeeper/internal/orchestrate/guardrail"
	"github.com/vietddude/roundkeeper/internal/orchestrate/poll"
	"github.com/vietddude/roundkeeper/internal/orchestrate/retry"
	"github.com/vietddude/roundkeeper/internal/orchestrate/round"
	"github.com/vietddude/roundkeeper/internal/orchestrate/syncer"
)

// Orchestrator is the main application struct that manages the round
// machinery lifecycle.
type Orchestrator struct {
	cfg          *config.AppConfig
	tasks        *task.Manager
	machine      *round.Machine
	driver       *Driver
	gate         *budget.Gate
	client       *platform.Client
	healthServer *health.Server
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger
}

// NewOrchestrator creates an Orchestrator with all dependencies initialized.
func NewOrchestrator(cfg *config.AppConfig) (*Orchestrator, error) {
	// 1. Storage selection
	var taskRepo storage.TaskRepository
	var attemptRepo storage.AttemptRepository
	var db *postgres.DB
	store := memory.NewMemoryStorage()

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate("migrations"); err != nil {
			return nil, err
		}
		taskRepo = postgres.NewTaskRepo(db)
		attemptRepo = postgres.NewAttemptRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		taskRepo = memory.NewTaskRepo(store)
		attemptRepo = memory.NewAttemptRepo(store)
		slog.Info("Using Memory storage")
	}

	// 2. Coordination state: Redis when configured, process-local otherwise.
	var redisClient *redisclient.Client
	var ackStore dispatch.AckStore = memory.NewAckStore(store)
	var inflight round.InFlightTracker = memory.NewInFlightTracker(store)

	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		ackStore = redisclient.NewAckStore(redisClient)
		inflight = redisclient.NewInFlightTracker(redisClient)
		slog.Info("Using Redis coordination")
	} else {
		slog.Warn("Redis not configured, idempotency and concurrency state are process-local")
	}

	// 3. Shared components
	gate := budget.NewGate(cfg.Budget)
	exec := retry.NewExecutor(cfg.Retry)

	client := platform.NewClient(cfg.Platform, gate)
	snapshots := platform.NewSnapshotProvider(client)
	sink := platform.NewNotificationSink(client)

	pool := gitexec.NewPool(cfg.Git.MaxConcurrent)
	accessor := gitexec.NewAccessor(cfg.Git, pool)
	sync := syncer.New(cfg.Sync, accessor, exec)

	dispatcher := dispatch.New(sink, ackStore, exec)
	tasks := task.NewManager(taskRepo, attemptRepo)

	machine := round.NewMachine(
		cfg.Round,
		tasks,
		snapshots,
		guardrail.New(cfg.Guardrail),
		sync,
		dispatcher,
		inflight,
	)

	taskIDs := make([]string, 0, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		taskIDs = append(taskIDs, t.ID)
	}
	driver := NewDriver(cfg.Driver, machine, gate, taskIDs)

	// 4. Health
	healthMon := health.NewMonitor(tasks, gate)
	healthServer := health.NewServer(healthMon, cfg.Server.Port)

	return &Orchestrator{
		cfg:          cfg,
		tasks:        tasks,
		machine:      machine,
		driver:       driver,
		gate:         gate,
		client:       client,
		healthServer: healthServer,
		db:           db,
		redisClient:  redisClient,
		log:          slog.Default(),
	}, nil
}

// Tasks exposes the task manager for the CLI surface.
func (o *Orchestrator) Tasks() *task.Manager { return o.tasks }

// Machine exposes the round machine for pause/resume requests.
func (o *Orchestrator) Machine() *round.Machine { return o.machine }

// Start starts the orchestrator and all its components.
func (o *Orchestrator) Start(ctx context.Context) error {
	go func() {
		if err := o.healthServer.Start(); err != nil {
			o.log.Error("Health server failed", "error", err)
		}
	}()

	// Prime the quota gate so the first batch doesn't fly blind. The
	// platform may still be coming up, so poll for a bounded window
	// instead of giving up on the first refused connection.
	o.primeGate(ctx, poll.Config{Interval: 2 * time.Second, Timeout: 15 * time.Second})

	go func() {
		o.log.Info("Starting round driver",
			"tasks", len(o.cfg.Tasks), "interval", o.cfg.Driver.TickInterval)
		if err := o.driver.Run(ctx); err != nil && ctx.Err() == nil {
			o.log.Error("Round driver failed", "error", err)
		}
	}()

	return nil
}

// primeGate polls the platform for its quota until the first successful
// read or the window lapses. An unprimed gate allows dispatch, so this
// only delays the first batch, never blocks it forever.
func (o *Orchestrator) primeGate(ctx context.Context, cfg poll.Config) {
	res := poll.Wait(ctx, cfg, func(ctx context.Context) (domain.Quota, bool, error) {
		q, err := o.client.Quota(ctx)
		if err != nil {
			o.log.Debug("platform not reachable yet", "error", err)
			return domain.Quota{}, false, nil
		}
		return q, true, nil
	})
	if res.Kind == poll.KindFound {
		o.log.Info("quota gate primed",
			"remaining", res.Value.Remaining, "elapsed", res.Elapsed)
		return
	}
	o.log.Warn("failed to prime quota gate, dispatching unprimed",
		"elapsed", res.Elapsed, "error", res.Err)
}

// Stop stops the orchestrator.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.log.Info("Stopping orchestrator...")

	if o.redisClient != nil {
		if err := o.redisClient.Close(); err != nil {
			o.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if o.db != nil {
		if err := o.db.Close(); err != nil {
			o.log.Warn("Failed to close database", "error", err)
		}
	}

	return o.healthServer.Stop(ctx)
}

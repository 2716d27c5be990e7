// Package scheduler starts executions of workflows whose SCHEDULE_TRIGGER
// nodes are due, using one cron entry per schedule node.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowline/pkg/models"
	"github.com/dukex/flowline/pkg/nodes"
	"github.com/dukex/flowline/pkg/nodes/trigger"
	"github.com/dukex/flowline/pkg/services"
	"github.com/robfig/cron/v3"
)

// DefaultRefreshInterval is how often the workflow store is re-read for
// added, changed or removed schedules.
const DefaultRefreshInterval = time.Minute

// WorkflowSource lists workflows containing a node type. *workflow.Repository implements it.
type WorkflowSource interface {
	FetchByNodeType(ctx context.Context, nodeType models.NodeType) ([]*models.Workflow, error)
}

// Starter starts one execution for a schedule tick. *services.Executions implements it.
type Starter interface {
	TriggerScheduled(ctx context.Context, workflow *models.Workflow) (*models.Execution, error)
}

type entry struct {
	id   cron.EntryID
	spec string
}

type Scheduler struct {
	workflows WorkflowSource
	starter   Starter
	logger    *slog.Logger
	refresh   time.Duration
	cron      *cron.Cron
	mu        sync.Mutex
	entries   map[string]entry // keyed by workflowID/nodeID
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRefreshInterval overrides DefaultRefreshInterval.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		s.refresh = d
	}
}

// WithCron replaces the cron runner, e.g. with one using cron.WithSeconds in tests.
func WithCron(c *cron.Cron) Option {
	return func(s *Scheduler) {
		s.cron = c
	}
}

func NewScheduler(workflows WorkflowSource, starter Starter, logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		workflows: workflows,
		starter:   starter,
		logger:    logger.With("module", "scheduler"),
		refresh:   DefaultRefreshInterval,
		entries:   make(map[string]entry),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cron == nil {
		cronLog := cronLogger{logger: s.logger}
		s.cron = cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cronLog), cron.Recover(cronLog)),
			cron.WithLogger(cronLog),
		)
	}

	return s
}

// Run loads the schedules, starts the cron runner and keeps the entries in
// sync with the store until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Sync(ctx); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "schedules", s.Len())

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			s.logger.Info("Scheduler stopped")

			return nil
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Failed to refresh schedules", "error", err)
			}
		}
	}
}

// Sync reconciles the cron entries with the schedule nodes in the store.
// Nodes with an invalid expression are logged and skipped.
func (s *Scheduler) Sync(ctx context.Context) error {
	workflows, err := s.workflows.FetchByNodeType(ctx, models.NodeTypeScheduleTrigger)
	if err != nil {
		return fmt.Errorf("load scheduled workflows: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)

	for _, w := range workflows {
		for _, node := range w.Nodes {
			if node.Type != models.NodeTypeScheduleTrigger {
				continue
			}

			key := w.ID + "/" + node.ID
			logger := s.logger.With("workflow_id", w.ID, "node_id", node.ID)

			spec, err := scheduleSpec(node)
			if err != nil {
				logger.WarnContext(ctx, "Skipping invalid schedule", "error", err)

				continue
			}

			seen[key] = true

			if current, ok := s.entries[key]; ok {
				if current.spec == spec {
					continue
				}

				s.cron.Remove(current.id)
			}

			schedule, err := trigger.ParseSchedule(spec)
			if err != nil {
				delete(s.entries, key)
				logger.WarnContext(ctx, "Skipping invalid schedule", "spec", spec, "error", err)

				continue
			}

			id := s.cron.Schedule(schedule, s.job(ctx, w))
			s.entries[key] = entry{id: id, spec: spec}

			logger.InfoContext(ctx, "Schedule registered", "spec", spec, "entry_id", id)
		}
	}

	for key, current := range s.entries {
		if !seen[key] {
			s.cron.Remove(current.id)
			delete(s.entries, key)
			s.logger.InfoContext(ctx, "Schedule removed", "key", key)
		}
	}

	return nil
}

// Len returns the number of registered schedules.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

func (s *Scheduler) job(ctx context.Context, w *models.Workflow) cron.FuncJob {
	return func() {
		execution, err := s.starter.TriggerScheduled(ctx, w)
		if errors.Is(err, services.ErrExecutionInProgress) {
			s.logger.InfoContext(ctx, "Skipping scheduled execution, previous run still in progress", "workflow_id", w.ID)

			return
		}

		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to start scheduled execution", "workflow_id", w.ID, "error", err)

			return
		}

		s.logger.InfoContext(ctx, "Scheduled execution started", "workflow_id", w.ID, "execution_id", execution.ID)
	}
}

// scheduleSpec returns the cron spec of a schedule node, prefixed with
// CRON_TZ when the node names a timezone.
func scheduleSpec(node *models.Node) (string, error) {
	var cfg trigger.ScheduleConfig
	if err := nodes.Decode(node.ID, node.Data, &cfg); err != nil {
		return "", err
	}

	if cfg.Timezone == "" {
		return cfg.CronExpression, nil
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	return "CRON_TZ=" + cfg.Timezone + " " + cfg.CronExpression, nil
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

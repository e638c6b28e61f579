package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron/v2"
)

// Scheduler drives the registry's interval tasks with gocron.
type Scheduler struct {
	cron     gocron.Scheduler
	registry *Registry
	log      *slog.Logger
}

func New(registry *Registry, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{cron: cron, registry: registry, log: log}, nil
}

// Start schedules every task with an interval. Runs use ctx and stop when it is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, task := range s.registry.tasksSnapshot() {
		if task.Interval <= 0 {
			continue
		}
		name := task.Name
		_, err := s.cron.NewJob(
			gocron.DurationJob(task.Interval),
			gocron.NewTask(func() {
				if _, err := s.registry.RunNow(ctx, name); err != nil && !errors.Is(err, ErrTaskLocked) {
					s.log.WarnContext(ctx, "scheduled task returned error", slog.String("task", name), slog.Any("error", err))
				}
			}),
			gocron.WithName(name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
		s.log.Info("task scheduled", slog.String("task", name), slog.Duration("interval", task.Interval))
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Jobs() int {
	return len(s.cron.Jobs())
}

func (s *Scheduler) Shutdown() error {
	return s.cron.Shutdown()
}

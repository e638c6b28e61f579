// Package scheduler runs the named background tasks on an interval and on demand.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"plexledger/internal/metrics"
)

const (
	TaskPaymentMonitor    = "payment_monitor"
	TaskDailyRewards      = "daily_rewards"
	TaskFeeBalanceMonitor = "fee_balance_monitor"
	TaskRunSessions       = "run_sessions"

	PaymentMonitorLockKey = "plex_payment_monitoring"
)

var (
	ErrUnknownTask   = errors.New("unknown task")
	ErrTaskLocked    = errors.New("task is already running")
	ErrDuplicateTask = errors.New("task already registered")
)

// TaskFunc returns a summary that is logged and handed back to on-demand callers.
type TaskFunc func(ctx context.Context, now time.Time) (any, error)

type Task struct {
	Name     string
	Interval time.Duration
	// LockKey makes the task exclusive across instances; empty means unlocked.
	LockKey string
	Run     TaskFunc
}

type Registry struct {
	mu      sync.RWMutex
	tasks   map[string]Task
	locker  Locker
	lockTTL time.Duration
	log     *slog.Logger
	now     func() time.Time
}

func NewRegistry(locker Locker, lockTTL time.Duration, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &Registry{
		tasks:   make(map[string]Task),
		locker:  locker,
		lockTTL: lockTTL,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) Register(task Task) error {
	if task.Name == "" || task.Run == nil {
		return fmt.Errorf("task needs a name and a run function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[task.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, task.Name)
	}
	r.tasks[task.Name] = task
	return nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) tasksSnapshot() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tasks := make([]Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Name < tasks[j].Name })
	return tasks
}

// RunNow executes a task immediately. A locked task returns ErrTaskLocked without running.
func (r *Registry) RunNow(ctx context.Context, name string) (any, error) {
	r.mu.RLock()
	task, ok := r.tasks[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}

	if task.LockKey != "" && r.locker != nil {
		release, acquired, err := r.locker.Acquire(ctx, task.LockKey, r.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire lock for %s: %w", name, err)
		}
		if !acquired {
			r.log.InfoContext(ctx, "task skipped, lock held", slog.String("task", name))
			return nil, ErrTaskLocked
		}
		defer release()
	}

	start := time.Now()
	result, err := task.Run(ctx, r.now())
	duration := time.Since(start)
	metrics.RecordTask(name, err, duration)
	if err != nil {
		r.log.ErrorContext(ctx, "task failed",
			slog.String("task", name),
			slog.Duration("duration", duration),
			slog.Any("error", err),
		)
		return result, err
	}
	r.log.InfoContext(ctx, "task finished",
		slog.String("task", name),
		slog.Duration("duration", duration),
		slog.Any("summary", result),
	)
	return result, nil
}

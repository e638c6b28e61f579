// Package app wires configuration, storage and services into a runnable engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"plexledger/internal/apperrors"
	"plexledger/internal/auth"
	"plexledger/internal/blockchain"
	"plexledger/internal/config"
	"plexledger/internal/db"
	"plexledger/internal/handlers"
	"plexledger/internal/logger"
	"plexledger/internal/models"
	"plexledger/internal/notify"
	"plexledger/internal/reports"
	"plexledger/internal/scheduler"
	"plexledger/internal/services"
	"plexledger/internal/store"
	"plexledger/internal/websocket"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Stores struct {
	Users       *store.UserStore
	Admins      *store.AdminStore
	Deposits    *store.DepositStore
	Bonuses     *store.BonusCreditStore
	Holders     *store.HolderStore
	Obligations *store.ObligationStore
	Rewards     *store.RewardStore
	Sessions    *store.RewardSessionStore
	Withdrawals *store.WithdrawalStore
	Transfers   *store.TransferStore
	Audit       *store.AuditStore
}

type App struct {
	Config *config.Config
	Log    *slog.Logger
	DB     *sqlx.DB
	Redis  *redis.Client
	Limits *config.Runtime
	Hub    *websocket.Hub
	Errors *apperrors.Handler
	Stores Stores

	Tracker       *services.TrackerService
	Accrual       *services.AccrualService
	Consolidation *services.ConsolidationService
	Guard         *services.WithdrawalGuard
	Overrides     *services.OverrideService
	Holders       *services.HolderService
	Sessions      *services.SessionService
	Admins        *services.AdminService
	FeeMonitor    *services.FeeMonitor
	Reports       *reports.Exporter
	Tasks         *scheduler.Registry

	viper   *viper.Viper
	closers []func()
}

// New loads configuration from path (or the APP_ENV default) and builds every component.
func New(ctx context.Context, path string) (*App, error) {
	cfg, v, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, viper: v}

	flush, err := apperrors.InitSentry(apperrors.SentryOptions{
		Enabled:     cfg.Sentry.Enabled,
		DSN:         cfg.Sentry.DSN,
		Environment: firstNonEmpty(cfg.Sentry.Environment, cfg.AppEnv),
		SampleRate:  cfg.Sentry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}
	a.closers = append(a.closers, flush)

	a.Log = logger.New(logger.Options{
		Level:         cfg.Log.Level,
		File:          cfg.Log.File,
		MaxSizeMB:     cfg.Log.MaxSizeMB,
		MaxBackups:    cfg.Log.MaxBackups,
		MaxAgeDays:    cfg.Log.MaxAgeDays,
		SentryEnabled: cfg.Sentry.Enabled,
	}).With(slog.String("env", cfg.AppEnv))
	a.Errors = apperrors.NewHandler(a.Log, cfg.Sentry.Enabled)

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	database, err := db.Connect(cfg.Database.URL, db.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	a.DB = database
	a.closers = append(a.closers, func() { _ = database.Close() })

	limits, err := cfg.Limits.Parse()
	if err != nil {
		return err
	}
	a.Limits = config.NewRuntime(limits, a.Log)

	var locker scheduler.Locker = scheduler.NewLocalLock()
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("connect redis: %w", err)
		}
		a.Redis = client
		a.closers = append(a.closers, func() { _ = client.Close() })
		locker = scheduler.NewRedisLock(client, a.Log)
	}

	a.Stores = Stores{
		Users:       store.NewUserStore(database),
		Admins:      store.NewAdminStore(database),
		Deposits:    store.NewDepositStore(database),
		Bonuses:     store.NewBonusCreditStore(database),
		Holders:     store.NewHolderStore(database),
		Obligations: store.NewObligationStore(database),
		Rewards:     store.NewRewardStore(database),
		Sessions:    store.NewRewardSessionStore(database),
		Withdrawals: store.NewWithdrawalStore(database),
		Transfers:   store.NewTransferStore(database),
		Audit:       store.NewAuditStore(database),
	}

	dispatcher, err := a.dispatcher()
	if err != nil {
		return err
	}

	chain := blockchain.NewResilientClient(
		blockchain.NewHTTPClient(cfg.Blockchain.RPCURL, cfg.Blockchain.Timeout),
		apperrors.NewCircuitBreaker(apperrors.DefaultBreakerOptions()),
	)

	largeReward, err := decimal.NewFromString(cfg.Accrual.LargeRewardThreshold)
	if err != nil {
		return fmt.Errorf("accrual.large_reward_threshold: %w", err)
	}
	plexPerDollar := decimal.NewFromInt(cfg.Fee.PlexPerDollar)
	txRunner := db.NewTxRunner(database)
	s := a.Stores

	a.Tracker = services.NewTrackerService(txRunner, s.Obligations, s.Users, s.Transfers, s.Audit, chain, dispatcher, a.Errors, a.Log,
		services.TrackerConfig{
			OperatorWallet: cfg.Blockchain.OperatorWallet,
			FeeToken:       cfg.Blockchain.FeeToken,
			MaxBlockRange:  cfg.Blockchain.MaxBlockRange,
		})
	a.Accrual = services.NewAccrualService(txRunner, s.Holders, s.Obligations, s.Users, s.Rewards, s.Sessions, s.Audit, a.Limits, dispatcher, a.Errors, a.Log,
		services.AccrualConfig{
			MaxCatchupDays:       cfg.Accrual.MaxCatchupDays,
			LargeRewardThreshold: largeReward,
		})
	a.Consolidation = services.NewConsolidationService(txRunner, s.Users, s.Deposits, s.Obligations, s.Audit, models.DefaultLevels, plexPerDollar, a.Log)
	a.Guard = services.NewWithdrawalGuard(txRunner, s.Users, s.Withdrawals, s.Audit, a.Limits, dispatcher, a.Log)
	a.Overrides = services.NewOverrideService(txRunner, s.Users, s.Holders, s.Bonuses, s.Audit, a.Log)
	a.Holders = services.NewHolderService(txRunner, s.Users, s.Deposits, s.Bonuses, s.Obligations, s.Audit, models.DefaultLevels, plexPerDollar, a.Log)
	a.Sessions = services.NewSessionService(txRunner, s.Sessions, s.Audit)
	a.Admins = services.NewAdminService(txRunner, s.Admins, s.Audit)
	a.FeeMonitor = services.NewFeeMonitor(txRunner, s.Users, s.Obligations, s.Audit, chain, dispatcher, a.Errors, a.Log,
		services.FeeMonitorConfig{
			FeeToken:    cfg.Blockchain.FeeToken,
			MinBalance:  decimal.NewFromInt(cfg.Fee.MinBalance),
			GraceWindow: cfg.Fee.GraceWindow,
		})

	var uploader reports.Uploader
	if cfg.Reports.Enabled {
		s3, err := reports.NewS3Uploader(ctx, reports.S3Options{
			Bucket:          cfg.Reports.Bucket,
			Endpoint:        cfg.Reports.Endpoint,
			Region:          cfg.Reports.Region,
			AccessKeyID:     cfg.Reports.AccessKeyID,
			SecretAccessKey: cfg.Reports.SecretAccessKey,
		})
		if err != nil {
			return err
		}
		uploader = s3
	}
	a.Reports = reports.NewExporter(s.Sessions, s.Rewards, uploader, cfg.Reports.Prefix, a.Log)

	a.Tasks = scheduler.NewRegistry(locker, cfg.Scheduler.LockTTL, a.Log)
	return a.registerTasks()
}

func (a *App) dispatcher() (*notify.Dispatcher, error) {
	a.Hub = websocket.NewHub()
	notifiers := notify.Multi{notify.NewHub(a.Hub)}

	if a.Config.Telegram.Enabled {
		bot, err := notify.NewTelegramBot(a.Config.Telegram.Token)
		if err != nil {
			return nil, err
		}
		users := a.Stores.Users
		resolve := func(ctx context.Context, userID string) (*int64, error) {
			user, err := users.GetByID(ctx, userID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil, nil
				}
				return nil, err
			}
			return user.TelegramID, nil
		}
		notifiers = append(notifiers, notify.NewTelegram(bot, a.Config.Telegram.AdminChatIDs, resolve))
	}
	return notify.NewDispatcher(notifiers, a.Log), nil
}

func (a *App) registerTasks() error {
	sc := a.Config.Scheduler
	tasks := []scheduler.Task{
		{
			Name:     scheduler.TaskPaymentMonitor,
			Interval: sc.PaymentMonitorInterval,
			LockKey:  scheduler.PaymentMonitorLockKey,
			Run: func(ctx context.Context, now time.Time) (any, error) {
				return a.Tracker.ProcessDue(ctx, now)
			},
		},
		{
			Name:     scheduler.TaskDailyRewards,
			Interval: sc.DailyRewardsInterval,
			LockKey:  "plex_daily_rewards",
			Run: func(ctx context.Context, now time.Time) (any, error) {
				return a.Accrual.RunDaily(ctx, now)
			},
		},
		{
			Name:     scheduler.TaskFeeBalanceMonitor,
			Interval: sc.FeeBalanceInterval,
			LockKey:  "plex_fee_balance_monitor",
			Run: func(ctx context.Context, now time.Time) (any, error) {
				return a.FeeMonitor.Run(ctx, now)
			},
		},
		{
			Name:     scheduler.TaskRunSessions,
			Interval: sc.DailyRewardsInterval,
			LockKey:  "plex_reward_sessions",
			Run: func(ctx context.Context, now time.Time) (any, error) {
				return a.Accrual.RunDueSessions(ctx, now)
			},
		},
	}
	for _, task := range tasks {
		if err := a.Tasks.Register(task); err != nil {
			return err
		}
	}
	return nil
}

// WatchLimits hot-reloads emergency stops and payout limits from the config file.
func (a *App) WatchLimits() {
	if a.viper != nil && a.viper.ConfigFileUsed() != "" {
		a.Limits.Watch(a.viper)
	}
}

func (a *App) Handler() http.Handler {
	return handlers.New(
		handlers.Config{JWTSecret: a.Config.Server.JWTSecret, AllowedOrigins: a.Config.Server.AllowedOrigins},
		a.Stores.Admins,
		a.Stores.Audit,
		handlers.Services{
			Tasks:         a.Tasks,
			Consolidation: a.Consolidation,
			Withdrawals:   a.Guard,
			Payments:      a.Tracker,
			Holders:       a.Holders,
			Overrides:     a.Overrides,
			Sessions:      a.Sessions,
			SessionRunner: a.Accrual,
			Reports:       a.Reports,
		},
		a.Hub,
		a.Errors,
		a.Log,
	).Routes()
}

var ErrNotAdmin = errors.New("user is not an admin")

// IssueAdminToken signs an API token for an existing admin.
func (a *App) IssueAdminToken(ctx context.Context, userID string) (string, error) {
	isAdmin, _, err := a.Stores.Admins.IsAdmin(ctx, userID)
	if err != nil {
		return "", err
	}
	if !isAdmin {
		return "", ErrNotAdmin
	}
	return auth.GenerateToken(a.Config.Server.JWTSecret, userID, a.Config.Server.TokenTTL)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package apperrors

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

type SentryOptions struct {
	Enabled     bool
	DSN         string
	Environment string
	SampleRate  float64
}

// InitSentry configures the global Sentry hub. The returned func flushes pending events.
func InitSentry(opts SentryOptions) (func(), error) {
	if !opts.Enabled {
		return func() {}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         opts.DSN,
		Environment: opts.Environment,
		SampleRate:  opts.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// Reporter receives errors that must alert a human.
type Reporter interface {
	Capture(err error)
}

type sentryReporter struct{}

func (sentryReporter) Capture(err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		if appErr, ok := As(err); ok {
			if appErr.Code != "" {
				scope.SetTag("code", appErr.Code)
			}
			if appErr.Severity != "" {
				scope.SetTag("severity", string(appErr.Severity))
			}
			scope.SetLevel(sentryLevel(appErr.Severity))
		}
		sentry.CaptureException(err)
	})
}

func sentryLevel(severity Severity) sentry.Level {
	switch severity {
	case SeverityCritical:
		return sentry.LevelFatal
	case SeverityHigh:
		return sentry.LevelError
	case SeverityMedium:
		return sentry.LevelWarning
	default:
		return sentry.LevelInfo
	}
}

type Handler struct {
	log      *slog.Logger
	reporter Reporter
}

// NewHandler logs every error; with sentryEnabled, high and critical ones are also captured.
func NewHandler(log *slog.Logger, sentryEnabled bool) *Handler {
	var reporter Reporter
	if sentryEnabled {
		reporter = sentryReporter{}
	}
	return NewHandlerWithReporter(log, reporter)
}

func NewHandlerWithReporter(log *slog.Logger, reporter Reporter) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, reporter: reporter}
}

// Handle logs err at a level matching its severity and returns the user-facing message.
func (h *Handler) Handle(ctx context.Context, err error) (string, bool) {
	if err == nil {
		return "", false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	appErr, ok := As(err)
	if !ok {
		h.log.ErrorContext(ctx, "unknown error",
			slog.String("error", err.Error()),
			slog.String("severity", string(SeverityHigh)),
		)
		h.capture(err)
		return "internal error", false
	}

	attrs := []any{
		slog.String("code", appErr.Code),
		slog.String("error", appErr.Error()),
		slog.String("severity", string(appErr.Severity)),
		slog.Bool("retryable", appErr.Retryable),
	}
	switch appErr.Severity {
	case SeverityLow:
		h.log.InfoContext(ctx, "application error", attrs...)
	case SeverityMedium:
		h.log.WarnContext(ctx, "application error", attrs...)
	default:
		h.log.ErrorContext(ctx, "application error", attrs...)
		h.capture(err)
	}

	userMessage := appErr.UserMessage
	if userMessage == "" {
		userMessage = "internal error"
	}
	return userMessage, appErr.Retryable
}

func (h *Handler) capture(err error) {
	if h.reporter != nil {
		h.reporter.Capture(err)
	}
}

package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"plexledger/internal/apperrors"
	"plexledger/internal/logger"
	"plexledger/internal/middleware"
	"plexledger/internal/store"
	"plexledger/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	JWTSecret      string
	AllowedOrigins string
}

// Services groups the collaborators the admin API drives.
type Services struct {
	Tasks         TaskRunner
	Consolidation Consolidator
	Withdrawals   WithdrawalGuard
	Payments      PaymentRecorder
	Holders       HolderService
	Overrides     OverrideService
	Sessions      SessionService
	SessionRunner SessionRunner
	Reports       ReportExporter
}

type Handler struct {
	cfg   Config
	admin AdminStore
	audit AuditStore
	svc   Services
	hub   *websocket.Hub
	errs  *apperrors.Handler
	log   *slog.Logger
	now   func() time.Time
}

func New(cfg Config, admin AdminStore, audit AuditStore, svc Services, hub *websocket.Hub, errs *apperrors.Handler, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		cfg:   cfg,
		admin: admin,
		audit: audit,
		svc:   svc,
		hub:   hub,
		errs:  errs,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Use(logger.Middleware(h.log))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(h.cfg.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", logger.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	requireAdmin := func(role string) func(http.Handler) http.Handler {
		return middleware.RequireAdmin(h.admin, role, h.log)
	}

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))

		r.With(requireAdmin(store.RoleOperator)).Get("/tasks", h.ListTasks)
		r.With(requireAdmin(store.RoleOperator)).Post("/tasks/{name}/run", h.RunTask)

		r.With(requireAdmin(store.RoleOperator)).Post("/users/{id}/consolidate", h.Consolidate)
		r.With(requireAdmin(store.RoleOperator)).Post("/deposits", h.ConfirmDeposit)
		r.With(requireAdmin(store.RoleOperator)).Post("/obligations/payments", h.RecordPayment)

		r.With(requireAdmin(store.RoleWithdrawal)).Post("/withdrawals/authorize", h.AuthorizeWithdrawal)
		r.With(requireAdmin(store.RoleWithdrawal)).Post("/withdrawals", h.RequestWithdrawal)

		r.With(requireAdmin(store.RoleOverrides)).Post("/bonus-credits", h.GrantBonus)
		r.With(requireAdmin(store.RoleOverrides)).Post("/bonus-credits/{id}/cancel", h.CancelBonusCredit)
		r.With(requireAdmin(store.RoleOverrides)).Put("/holders/{kind}/{id}/roi-paid", h.SetROIPaid)
		r.With(requireAdmin(store.RoleOverrides)).Put("/holders/{kind}/{id}/cap", h.SetCapAmount)
		r.With(requireAdmin(store.RoleOverrides)).Put("/users/{id}/flags", h.SetUserFlags)

		r.With(requireAdmin(store.RoleOperator)).Get("/sessions", h.ListSessions)
		r.With(requireAdmin(store.RoleOperator)).Post("/sessions", h.CreateSession)
		r.With(requireAdmin(store.RoleOperator)).Get("/sessions/{id}", h.GetSession)
		r.With(requireAdmin(store.RoleOperator)).Put("/sessions/{id}/active", h.SetSessionActive)
		r.With(requireAdmin(store.RoleOperator)).Post("/sessions/{id}/run", h.RunSession)
		r.With(requireAdmin(store.RoleOperator)).Post("/sessions/{id}/report", h.ExportSessionReport)

		r.With(requireAdmin("")).Get("/audit", h.ListAuditLogs)
		r.With(requireAdmin("")).Get("/ws/events", h.WSEvents)
	})

	router.Handle("/metrics", promhttp.Handler())
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// WSEvents streams every notification event to an admin.
func (h *Handler) WSEvents(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "event feed disabled")
		return
	}
	websocket.ServeWS(w, r, h.hub, websocket.AdminChannel)
}

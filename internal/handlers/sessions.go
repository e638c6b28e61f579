package handlers

import (
	"net/http"
	"strings"
	"time"

	"plexledger/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type sessionRequest struct {
	Name      string    `json:"name"`
	Rates     [5]string `json:"rates"`
	StartDate string    `json:"start_date"`
	EndDate   string    `json:"end_date"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	var rates [5]decimal.Decimal
	for i, raw := range req.Rates {
		rate, err := parseRate(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		rates[i] = rate
	}
	start, err := parseTime(req.StartDate, time.Time{})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseTime(req.EndDate, time.Time{})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := h.svc.Sessions.Create(r.Context(), actorID(r), services.SessionInput{
		Name:      req.Name,
		Rates:     rates,
		StartDate: start,
		EndDate:   end,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	sessions, err := h.svc.Sessions.List(r.Context(), limit, offset)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sessions)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.Sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

type sessionActiveRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) SetSessionActive(w http.ResponseWriter, r *http.Request) {
	var req sessionActiveRequest
	if err := decodeJSON(r, &req); err != nil || req.Active == nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.svc.Sessions.SetActive(r.Context(), actorID(r), id, *req.Active); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": *req.Active})
}

func (h *Handler) RunSession(w http.ResponseWriter, r *http.Request) {
	asOf, err := parseTime(r.URL.Query().Get("as_of"), h.now())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := h.svc.SessionRunner.RunSession(r.Context(), chi.URLParam(r, "id"), asOf)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// ExportSessionReport renders the CSV and, when storage is configured, uploads it.
// With ?download=1 the CSV itself is returned.
func (h *Handler) ExportSessionReport(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Reports.Export(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("download"), "1") {
		w.Header().Set("Content-Type", "text/csv")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Body)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": result.Summary.SessionID,
		"records":    result.Summary.Records,
		"total":      result.Summary.Total,
		"location":   result.Location,
	})
}

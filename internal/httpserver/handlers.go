package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"dispatch/internal/domain"
	"dispatch/internal/report"
	"dispatch/internal/service"
	"dispatch/internal/store"
)

type API struct {
	Svc     *service.CampaignService
	Reports *report.Aggregator
}

// Router builds the control-plane routes. Ops endpoints (healthz, readyz)
// are the caller's to add; they sit outside the campaign surface.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/campaigns", a.handleSubmit).Methods(http.MethodPost)
	r.HandleFunc("/v1/campaigns/{id}", a.handleGet).Methods(http.MethodGet)
	r.HandleFunc("/v1/campaigns/{id}/progress", a.handleProgress).Methods(http.MethodGet)
	r.HandleFunc("/v1/campaigns/{id}/pause", a.handleControl(a.Svc.Pause)).Methods(http.MethodPost)
	r.HandleFunc("/v1/campaigns/{id}/resume", a.handleControl(a.Svc.Resume)).Methods(http.MethodPost)
	r.HandleFunc("/v1/campaigns/{id}/cancel", a.handleControl(a.Svc.Cancel)).Methods(http.MethodPost)
	r.HandleFunc("/v1/campaigns/{id}/report", a.handleReport).Methods(http.MethodGet)
	r.HandleFunc("/v1/campaigns/{id}/export", a.handleExport).Methods(http.MethodGet)
	r.HandleFunc("/v1/reports/compare", a.handleCompare).Methods(http.MethodGet)
	return r
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, ErrInvalidJSON, http.StatusBadRequest)
		return
	}

	resp, err := a.Svc.Submit(r.Context(), req)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "validation failed", "fields": ve.Fields})
			return
		}
		slog.Error("submit campaign failed", "err", err, "name", req.Name)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, ErrMissingID, http.StatusBadRequest)
		return
	}
	c, err := a.Svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			http.Error(w, ErrNotFound, http.StatusNotFound)
			return
		}
		slog.Error("get campaign failed", "err", err, "id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(campaignJSON(c))
}

func (a *API) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, err := a.Svc.Progress(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			http.Error(w, ErrNotFound, http.StatusNotFound)
			return
		}
		slog.Error("get progress failed", "err", err, "id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(p)
}

func (a *API) handleControl(op func(ctx context.Context, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := op(r.Context(), id); err != nil {
			switch {
			case errors.Is(err, service.ErrNotFound):
				http.Error(w, ErrNotFound, http.StatusNotFound)
			case errors.Is(err, service.ErrConflict):
				http.Error(w, ErrConflict, http.StatusConflict)
			default:
				slog.Error("campaign control failed", "err", err, "id", id, "path", r.URL.Path)
				http.Error(w, ErrDependency, http.StatusBadGateway)
			}
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) handleReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rep, err := a.Reports.Report(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			http.Error(w, ErrNotFound, http.StatusNotFound)
			return
		}
		slog.Error("get report failed", "err", err, "id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rep)
}

func (a *API) handleExport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// Resolve the campaign before committing to attachment headers, so a
	// miss is a plain 404 and not a downloadable error body.
	if _, err := a.Svc.Get(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			http.Error(w, ErrNotFound, http.StatusNotFound)
			return
		}
		slog.Error("export csv failed", "err", err, "id", id)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.csv"`)
	if err := a.Reports.ExportCSV(r.Context(), id, w); err != nil {
		// Headers may already be out; just log.
		slog.Error("export csv failed", "err", err, "id", id)
	}
}

func (a *API) handleCompare(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ids")
	if raw == "" {
		http.Error(w, "missing ids", http.StatusBadRequest)
		return
	}
	ids := strings.Split(raw, ",")
	reps, err := a.Reports.Compare(r.Context(), ids)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			http.Error(w, ErrNotFound, http.StatusNotFound)
			return
		}
		slog.Error("compare reports failed", "err", err, "ids", raw)
		http.Error(w, ErrDependency, http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"campaigns": reps})
}

type campaignResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Message     domain.MessageDef `json:"message"`
	Pacing      domain.Pacing     `json:"pacing"`
	ScheduledAt *time.Time        `json:"scheduledAt,omitempty"`
	Status      string            `json:"status"`
	Total       int               `json:"total"`
	Sent        int               `json:"sent"`
	Failed      int               `json:"failed"`
	Cursor      int               `json:"cursor"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
	LastError   string            `json:"lastError,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

func campaignJSON(c store.Campaign) campaignResponse {
	return campaignResponse{
		ID:   c.ID,
		Name: c.Name,
		Message: domain.MessageDef{
			Type:         domain.MessageType(c.MessageType),
			TextTemplate: c.MessageTemplate,
			MediaRef:     c.MediaRef,
		},
		Pacing: domain.Pacing{
			DelayMinSecs: c.DelayMinSecs,
			DelayMaxSecs: c.DelayMaxSecs,
			Randomize:    c.Randomize,
		},
		ScheduledAt: c.ScheduledAt,
		Status:      c.Status,
		Total:       c.Total,
		Sent:        c.Sent,
		Failed:      c.Failed,
		Cursor:      c.Cursor,
		StartedAt:   c.StartedAt,
		CompletedAt: c.CompletedAt,
		LastError:   c.LastError,
		CreatedAt:   c.CreatedAt,
	}
}

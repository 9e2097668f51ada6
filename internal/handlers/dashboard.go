package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/patric-chuzhbe/emergency/internal/auth"
	"github.com/patric-chuzhbe/emergency/internal/models"
	"github.com/patric-chuzhbe/emergency/internal/views"
)

type dashboardService interface {
	DashboardStats(ctx context.Context, actor *models.User) (*models.DashboardStats, error)
	VictimHistory(ctx context.Context, actor *models.User) ([]models.Emergency, error)
	ResponderBoard(ctx context.Context, actor *models.User) (pending, assigned []models.Emergency, err error)
}

// Dashboard serves the /dashboard route group.
type Dashboard struct {
	svc   dashboardService
	guard guard
}

func NewDashboard(svc dashboardService, guard guard) *Dashboard {
	return &Dashboard{
		svc:   svc,
		guard: guard,
	}
}

func (h *Dashboard) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.guard.RequireLogin)
	r.Get("/", h.index)
	r.Get("/stats", h.stats)
	return r
}

// index shows admins the counters, responders their assignments and
// everybody else their own emergencies.
func (h *Dashboard) index(w http.ResponseWriter, r *http.Request) {
	user := auth.CurrentUser(r.Context())

	var (
		stats *models.DashboardStats
		list  []models.Emergency
		err   error
	)
	switch user.Role {
	case models.RoleAdmin:
		stats, err = h.svc.DashboardStats(r.Context(), user)
	case models.RoleResponder:
		_, list, err = h.svc.ResponderBoard(r.Context(), user)
	default:
		list, err = h.svc.VictimHistory(r.Context(), user)
	}
	if err != nil {
		respondError(w, r, err)
		return
	}

	render(w, r, http.StatusOK, views.Dashboard(user, stats, list))
}

func (h *Dashboard) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.DashboardStats(r.Context(), auth.CurrentUser(r.Context()))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

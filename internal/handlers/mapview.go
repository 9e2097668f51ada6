package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/emergency/internal/auth"
	"github.com/patric-chuzhbe/emergency/internal/logger"
	"github.com/patric-chuzhbe/emergency/internal/models"
	"github.com/patric-chuzhbe/emergency/internal/views"
)

type mapService interface {
	GetEmergency(ctx context.Context, actor *models.User, id int64) (*models.Emergency, error)
	ActiveEmergencies(ctx context.Context) ([]models.ActiveEmergency, error)
	Locations(ctx context.Context, actor *models.User, id int64) (*models.LocationsResponse, error)
}

type liveFeed interface {
	Stream(w http.ResponseWriter, r *http.Request, emergencyID int64) error
}

// Map serves the /map route group: tracking pages, location JSON and the
// websocket feed.
type Map struct {
	svc   mapService
	feed  liveFeed
	guard guard
}

func NewMap(svc mapService, feed liveFeed, guard guard) *Map {
	return &Map{
		svc:   svc,
		feed:  feed,
		guard: guard,
	}
}

func (h *Map) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.guard.RequireLogin)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireRole(models.RoleResponder, models.RoleAdmin))
		r.Get("/", h.overview)
		r.Get("/active", h.active)
	})
	r.Get("/{id}", h.track)
	r.Get("/{id}/location", h.locations)
	r.Get("/{id}/live", h.live)
	return r
}

func (h *Map) overview(w http.ResponseWriter, r *http.Request) {
	render(w, r, http.StatusOK, views.MapPage(auth.CurrentUser(r.Context()), 0))
}

func (h *Map) active(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ActiveEmergencies(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	if list == nil {
		list = []models.ActiveEmergency{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Map) track(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	user := auth.CurrentUser(r.Context())
	if _, err := h.svc.GetEmergency(r.Context(), user, id); err != nil {
		respondError(w, r, err)
		return
	}

	render(w, r, http.StatusOK, views.MapPage(user, id))
}

func (h *Map) locations(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	resp, err := h.svc.Locations(r.Context(), auth.CurrentUser(r.Context()), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Map) live(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if _, err := h.svc.GetEmergency(r.Context(), auth.CurrentUser(r.Context()), id); err != nil {
		respondError(w, r, err)
		return
	}

	// Stream answers failed upgrades itself.
	if err := h.feed.Stream(w, r, id); err != nil {
		logger.FromContext(r.Context()).Debugw("live feed upgrade failed", "emergency_id", id, zap.Error(err))
	}
}

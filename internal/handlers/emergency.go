package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/patric-chuzhbe/emergency/internal/auth"
	"github.com/patric-chuzhbe/emergency/internal/models"
	"github.com/patric-chuzhbe/emergency/internal/views"
)

type emergencyService interface {
	ReportEmergency(ctx context.Context, actor *models.User, req models.ReportRequest) (*models.Emergency, error)
	GetEmergency(ctx context.Context, actor *models.User, id int64) (*models.Emergency, error)
	VictimHistory(ctx context.Context, actor *models.User) ([]models.Emergency, error)
	Resolve(ctx context.Context, actor *models.User, id int64) (*models.Emergency, error)
	Cancel(ctx context.Context, actor *models.User, id int64) (*models.Emergency, error)
	UpdateLocation(ctx context.Context, actor *models.User, id int64, req models.LocationRequest) error
}

// Emergency serves the /emergency route group. Every route requires a login.
type Emergency struct {
	svc   emergencyService
	guard guard
}

func NewEmergency(svc emergencyService, guard guard) *Emergency {
	return &Emergency{
		svc:   svc,
		guard: guard,
	}
}

func (h *Emergency) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.guard.RequireLogin)
	r.Get("/", h.list)
	r.Get("/report", h.reportPage)
	r.Post("/report", h.report)
	r.Get("/{id}", h.detail)
	r.Post("/{id}/location", h.updateLocation)
	r.Post("/{id}/resolve", h.resolve)
	r.Post("/{id}/cancel", h.cancel)
	return r
}

func (h *Emergency) list(w http.ResponseWriter, r *http.Request) {
	user := auth.CurrentUser(r.Context())
	list, err := h.svc.VictimHistory(r.Context(), user)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if auth.WantsJSON(r) {
		if list == nil {
			list = []models.Emergency{}
		}
		writeJSON(w, http.StatusOK, list)
		return
	}
	render(w, r, http.StatusOK, views.EmergencyList(user, list))
}

func (h *Emergency) reportPage(w http.ResponseWriter, r *http.Request) {
	render(w, r, http.StatusOK, views.ReportForm(auth.CurrentUser(r.Context()), "", models.ReportRequest{}))
}

func (h *Emergency) decodeReport(w http.ResponseWriter, r *http.Request) (models.ReportRequest, error) {
	var req models.ReportRequest
	if isJSONBody(r) {
		return req, decodeJSON(w, r, &req)
	}

	if err := parseForm(w, r); err != nil {
		return req, err
	}
	req.Type = r.PostForm.Get("type")
	req.Description = r.PostForm.Get("description")

	var err error
	if req.Lat, err = formFloat(r, "lat"); err != nil {
		return req, err
	}
	if req.Lng, err = formFloat(r, "lng"); err != nil {
		return req, err
	}
	return req, nil
}

func (h *Emergency) report(w http.ResponseWriter, r *http.Request) {
	user := auth.CurrentUser(r.Context())

	req, err := h.decodeReport(w, r)
	if err != nil {
		h.reportFailed(w, r, user, req, err)
		return
	}

	e, err := h.svc.ReportEmergency(r.Context(), user, req)
	if err != nil {
		h.reportFailed(w, r, user, req, err)
		return
	}

	if auth.WantsJSON(r) {
		writeJSON(w, http.StatusCreated, e)
		return
	}
	seeOther(w, r, fmt.Sprintf("/map/%d", e.ID))
}

// reportFailed shows browsers the form again for input errors.
func (h *Emergency) reportFailed(w http.ResponseWriter, r *http.Request, user *models.User, req models.ReportRequest, err error) {
	status := statusFor(err)
	if !auth.WantsJSON(r) && status == http.StatusUnprocessableEntity {
		render(w, r, status, views.ReportForm(user, err.Error(), req))
		return
	}
	respondError(w, r, err)
}

func (h *Emergency) detail(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	user := auth.CurrentUser(r.Context())
	e, err := h.svc.GetEmergency(r.Context(), user, id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if auth.WantsJSON(r) {
		writeJSON(w, http.StatusOK, e)
		return
	}
	render(w, r, http.StatusOK, views.EmergencyDetail(user, e))
}

func (h *Emergency) updateLocation(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req models.LocationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	if err := h.svc.UpdateLocation(r.Context(), auth.CurrentUser(r.Context()), id, req); err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, req.Location())
}

type transitionFunc func(ctx context.Context, actor *models.User, id int64) (*models.Emergency, error)

func (h *Emergency) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	e, err := fn(r.Context(), auth.CurrentUser(r.Context()), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if auth.WantsJSON(r) {
		writeJSON(w, http.StatusOK, e)
		return
	}
	seeOther(w, r, fmt.Sprintf("/emergency/%d", e.ID))
}

func (h *Emergency) resolve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Resolve)
}

func (h *Emergency) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Cancel)
}

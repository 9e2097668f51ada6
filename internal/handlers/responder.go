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

type responderService interface {
	ResponderBoard(ctx context.Context, actor *models.User) (pending, assigned []models.Emergency, err error)
	Accept(ctx context.Context, actor *models.User, id int64) (*models.Emergency, error)
}

// Responder serves the /responder route group to responders and admins.
type Responder struct {
	svc   responderService
	guard guard
}

func NewResponder(svc responderService, guard guard) *Responder {
	return &Responder{
		svc:   svc,
		guard: guard,
	}
}

func (h *Responder) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.guard.RequireRole(models.RoleResponder, models.RoleAdmin))
	r.Get("/", h.board)
	r.Post("/accept/{id}", h.accept)
	return r
}

type boardResponse struct {
	Pending  []models.Emergency `json:"pending"`
	Assigned []models.Emergency `json:"assigned"`
}

func (h *Responder) board(w http.ResponseWriter, r *http.Request) {
	user := auth.CurrentUser(r.Context())
	pending, assigned, err := h.svc.ResponderBoard(r.Context(), user)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if auth.WantsJSON(r) {
		resp := boardResponse{Pending: pending, Assigned: assigned}
		if resp.Pending == nil {
			resp.Pending = []models.Emergency{}
		}
		if resp.Assigned == nil {
			resp.Assigned = []models.Emergency{}
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	render(w, r, http.StatusOK, views.ResponderBoard(user, pending, assigned))
}

func (h *Responder) accept(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	e, err := h.svc.Accept(r.Context(), auth.CurrentUser(r.Context()), id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if auth.WantsJSON(r) {
		writeJSON(w, http.StatusOK, e)
		return
	}
	seeOther(w, r, fmt.Sprintf("/map/%d", e.ID))
}

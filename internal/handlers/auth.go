package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/patric-chuzhbe/emergency/internal/auth"
	"github.com/patric-chuzhbe/emergency/internal/models"
	"github.com/patric-chuzhbe/emergency/internal/service"
	"github.com/patric-chuzhbe/emergency/internal/views"
)

const afterLoginPath = "/dashboard/"

type accountService interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
}

type sessionManager interface {
	Login(response http.ResponseWriter, u *models.User) error
	Logout(response http.ResponseWriter)
}

type limiter interface {
	Handler(next http.Handler) http.Handler
}

// Auth serves the /auth route group: login, registration and logout.
type Auth struct {
	svc      accountService
	sessions sessionManager
	limiter  limiter
}

func NewAuth(svc accountService, sessions sessionManager, limiter limiter) *Auth {
	return &Auth{
		svc:      svc,
		sessions: sessions,
		limiter:  limiter,
	}
}

func (h *Auth) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/login", h.loginPage)
	r.With(h.limiter.Handler).Post("/login", h.login)
	r.Get("/register", h.registerPage)
	r.With(h.limiter.Handler).Post("/register", h.register)
	r.Get("/logout", h.logout)
	r.Post("/logout", h.logout)
	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Next     string `json:"next"`
}

func (h *Auth) loginPage(w http.ResponseWriter, r *http.Request) {
	if auth.CurrentUser(r.Context()) != nil {
		seeOther(w, r, safeNext(r.URL.Query().Get("next"), afterLoginPath))
		return
	}
	render(w, r, http.StatusOK, views.Login("", "", r.URL.Query().Get("next")))
}

func (h *Auth) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	jsonBody := isJSONBody(r)
	if jsonBody {
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, err)
			return
		}
	} else {
		if err := parseForm(w, r); err != nil {
			respondError(w, r, err)
			return
		}
		req = loginRequest{
			Email:    r.PostForm.Get("email"),
			Password: r.PostForm.Get("password"),
			Next:     r.PostForm.Get("next"),
		}
	}

	u, err := h.svc.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if !auth.WantsJSON(r) && errors.Is(err, service.ErrInvalidCredentials) {
			render(w, r, http.StatusUnauthorized, views.Login(err.Error(), req.Email, req.Next))
			return
		}
		respondError(w, r, err)
		return
	}

	if err := h.sessions.Login(w, u); err != nil {
		respondError(w, r, err)
		return
	}

	if auth.WantsJSON(r) {
		writeJSON(w, http.StatusOK, u)
		return
	}
	seeOther(w, r, safeNext(req.Next, afterLoginPath))
}

func (h *Auth) registerPage(w http.ResponseWriter, r *http.Request) {
	render(w, r, http.StatusOK, views.Register("", models.RegisterRequest{Role: models.RoleVictim}))
}

func (h *Auth) register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if isJSONBody(r) {
		if err := decodeJSON(w, r, &req); err != nil {
			respondError(w, r, err)
			return
		}
	} else {
		if err := parseForm(w, r); err != nil {
			respondError(w, r, err)
			return
		}
		req = models.RegisterRequest{
			Name:     r.PostForm.Get("name"),
			Email:    r.PostForm.Get("email"),
			Phone:    r.PostForm.Get("phone"),
			Password: r.PostForm.Get("password"),
			Role:     models.Role(r.PostForm.Get("role")),
		}
	}

	u, err := h.svc.Register(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if !auth.WantsJSON(r) && status < http.StatusInternalServerError {
			req.Password = ""
			render(w, r, status, views.Register(err.Error(), req))
			return
		}
		respondError(w, r, err)
		return
	}

	if err := h.sessions.Login(w, u); err != nil {
		respondError(w, r, err)
		return
	}

	if auth.WantsJSON(r) {
		writeJSON(w, http.StatusCreated, u)
		return
	}
	seeOther(w, r, afterLoginPath)
}

func (h *Auth) logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(w)
	if auth.WantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	seeOther(w, r, "/")
}

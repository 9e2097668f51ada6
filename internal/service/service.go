// Package service implements the accounts, emergency lifecycle, location
// tracking and dashboard use cases independently of HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/thoas/go-funk"

	"github.com/patric-chuzhbe/emergency/internal/auth"
	"github.com/patric-chuzhbe/emergency/internal/livefeed"
	"github.com/patric-chuzhbe/emergency/internal/models"
)

type userKeeper interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CountUsersByRole(ctx context.Context) (map[models.Role]int, error)
}

type emergencyKeeper interface {
	CreateEmergency(ctx context.Context, e *models.Emergency) error
	GetEmergency(ctx context.Context, id int64) (*models.Emergency, error)
	ListEmergencies(ctx context.Context, filter models.EmergencyFilter) ([]models.Emergency, error)
	AssignResponder(ctx context.Context, id, responderID int64, at time.Time) (bool, error)
	TransitionEmergency(
		ctx context.Context,
		id int64,
		from []models.EmergencyStatus,
		to models.EmergencyStatus,
		at time.Time,
	) (bool, error)
	CountEmergenciesByStatus(ctx context.Context) (map[models.EmergencyStatus]int, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type storage interface {
	userKeeper
	emergencyKeeper
	pinger
}

type locationQueue interface {
	Enqueue(ctx context.Context, update models.LocationUpdate) error
}

type publisher interface {
	Publish(e livefeed.Event)
}

var (
	ErrNotFound  = models.ErrNotFound
	ErrDuplicate = models.ErrDuplicate

	// ErrForbidden is returned when the acting user may not perform the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict is returned when an emergency was already taken by another responder.
	ErrConflict = errors.New("emergency is no longer pending")

	// ErrInvalidTransition is returned when the emergency status does not allow the operation.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	ErrInvalidCredentials = errors.New("invalid email or password")

	ErrEmailTaken = errors.New("email is already registered")
)

// ValidationError lists the request fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Service implements the use cases of the emergency application on top of
// a storage, a location queue and a live event publisher.
type Service struct {
	db        storage
	locations locationQueue
	events    publisher
	validate  *validator.Validate
	now       func() time.Time
}

func New(
	db storage,
	locations locationQueue,
	events publisher,
) *Service {
	return &Service{
		db:        db,
		locations: locations,
		events:    events,
		validate:  validator.New(),
		now:       time.Now,
	}
}

func (s *Service) validateStruct(v interface{}) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	return &ValidationError{
		Fields: funk.Map(validationErrors, func(fe validator.FieldError) string {
			return strings.ToLower(fe.Field()) + " (" + fe.Tag() + ")"
		}).([]string),
	}
}

// Ping checks the health of the storage layer.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a self-service account. Admin accounts cannot be
// self-registered.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	if req.Role == models.RoleAdmin {
		return nil, &ValidationError{Fields: []string{"role (oneof)"}}
	}
	return s.CreateUser(ctx, req)
}

// CreateUser creates an account with any role.
func (s *Service) CreateUser(ctx context.Context, req models.RegisterRequest) (*models.User, error) {
	req.Email = normalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	req.Phone = strings.TrimSpace(req.Phone)

	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("in internal/service/service.go/CreateUser(): error while `auth.HashPassword()` calling: %w", err)
	}

	u := &models.User{
		Name:         req.Name,
		Email:        req.Email,
		Phone:        req.Phone,
		PasswordHash: hash,
		Role:         req.Role,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.db.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	return u, nil
}

// dummyHash keeps the cost of a failed lookup close to a failed password check.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWXo1kHnS7Wd3jHJxBfCwzMZo8IS"

// Authenticate returns the user owning email if password matches.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	u, err := s.db.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		auth.CheckPassword(dummyHash, password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// DashboardStats returns the counts shown on the admin dashboard.
func (s *Service) DashboardStats(ctx context.Context, actor *models.User) (*models.DashboardStats, error) {
	if !actor.HasRole(models.RoleAdmin) {
		return nil, ErrForbidden
	}

	emergencies, err := s.db.CountEmergenciesByStatus(ctx)
	if err != nil {
		return nil, err
	}

	users, err := s.db.CountUsersByRole(ctx)
	if err != nil {
		return nil, err
	}

	return &models.DashboardStats{
		Emergencies: emergencies,
		Users:       users,
	}, nil
}

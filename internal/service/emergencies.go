package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/thoas/go-funk"

	"github.com/patric-chuzhbe/emergency/internal/geo"
	"github.com/patric-chuzhbe/emergency/internal/livefeed"
	"github.com/patric-chuzhbe/emergency/internal/models"
)

const boardLimit = 100

// ReportEmergency records a new pending emergency with actor as the victim.
func (s *Service) ReportEmergency(ctx context.Context, actor *models.User, req models.ReportRequest) (*models.Emergency, error) {
	if actor == nil {
		return nil, ErrForbidden
	}

	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	req.Description = strings.TrimSpace(req.Description)
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	e := &models.Emergency{
		VictimID:       actor.ID,
		VictimName:     actor.Name,
		Type:           req.Type,
		Description:    req.Description,
		Status:         models.StatusPending,
		VictimLocation: req.Location(),
		CreatedAt:      s.now().UTC(),
	}
	if err := s.db.CreateEmergency(ctx, e); err != nil {
		return nil, err
	}

	return e, nil
}

func canView(actor *models.User, e *models.Emergency) bool {
	return actor != nil && (actor.ID == e.VictimID || actor.HasRole(models.RoleResponder, models.RoleAdmin))
}

// GetEmergency returns the emergency if actor may see it: its victim, or any
// responder or admin.
func (s *Service) GetEmergency(ctx context.Context, actor *models.User, id int64) (*models.Emergency, error) {
	e, err := s.db.GetEmergency(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, e) {
		return nil, ErrForbidden
	}
	return e, nil
}

// ActiveEmergencies lists pending emergencies as map markers.
func (s *Service) ActiveEmergencies(ctx context.Context) ([]models.ActiveEmergency, error) {
	pending, err := s.db.ListEmergencies(ctx, models.EmergencyFilter{
		Statuses: []models.EmergencyStatus{models.StatusPending},
		Limit:    boardLimit,
	})
	if err != nil {
		return nil, err
	}

	return funk.Map(pending, func(e models.Emergency) models.ActiveEmergency {
		return models.ActiveEmergency{
			ID:         e.ID,
			Type:       e.Type,
			VictimName: e.VictimName,
			Location:   e.VictimLocation,
			CreatedAt:  e.CreatedAt,
		}
	}).([]models.ActiveEmergency), nil
}

// VictimHistory lists the emergencies reported by actor, newest first.
func (s *Service) VictimHistory(ctx context.Context, actor *models.User) ([]models.Emergency, error) {
	return s.db.ListEmergencies(ctx, models.EmergencyFilter{VictimID: actor.ID})
}

// ResponderBoard returns the pending emergencies and the ones actor has accepted.
func (s *Service) ResponderBoard(ctx context.Context, actor *models.User) (pending, assigned []models.Emergency, err error) {
	if !actor.HasRole(models.RoleResponder, models.RoleAdmin) {
		return nil, nil, ErrForbidden
	}

	pending, err = s.db.ListEmergencies(ctx, models.EmergencyFilter{
		Statuses: []models.EmergencyStatus{models.StatusPending},
		Limit:    boardLimit,
	})
	if err != nil {
		return nil, nil, err
	}

	assigned, err = s.db.ListEmergencies(ctx, models.EmergencyFilter{ResponderID: actor.ID})
	if err != nil {
		return nil, nil, err
	}

	return pending, assigned, nil
}

// Accept assigns actor to a pending emergency. Losing a race to another
// responder yields ErrConflict.
func (s *Service) Accept(ctx context.Context, actor *models.User, id int64) (*models.Emergency, error) {
	if !actor.HasRole(models.RoleResponder, models.RoleAdmin) {
		return nil, ErrForbidden
	}

	e, err := s.db.GetEmergency(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Status != models.StatusPending {
		return nil, ErrConflict
	}

	ok, err := s.db.AssignResponder(ctx, id, actor.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("in internal/service/emergencies.go/Accept(): error while `s.db.AssignResponder()` calling: %w", err)
	}
	if !ok {
		return nil, ErrConflict
	}

	s.publishStatus(id, models.StatusAccepted)

	return s.db.GetEmergency(ctx, id)
}

// Resolve closes an emergency. The victim and admins may resolve it while it
// is pending or accepted; the assigned responder only once accepted.
func (s *Service) Resolve(ctx context.Context, actor *models.User, id int64) (*models.Emergency, error) {
	return s.transition(ctx, actor, id, models.StatusResolved, func(e *models.Emergency) []models.EmergencyStatus {
		switch {
		case actor.HasRole(models.RoleAdmin), actor.ID == e.VictimID:
			return []models.EmergencyStatus{models.StatusPending, models.StatusAccepted}
		case e.IsAssignedTo(actor.ID):
			return []models.EmergencyStatus{models.StatusAccepted}
		default:
			return nil
		}
	})
}

// Cancel withdraws an open emergency. Only its victim and admins may cancel.
func (s *Service) Cancel(ctx context.Context, actor *models.User, id int64) (*models.Emergency, error) {
	return s.transition(ctx, actor, id, models.StatusCancelled, func(e *models.Emergency) []models.EmergencyStatus {
		if actor.HasRole(models.RoleAdmin) || actor.ID == e.VictimID {
			return []models.EmergencyStatus{models.StatusPending, models.StatusAccepted}
		}
		return nil
	})
}

func (s *Service) transition(
	ctx context.Context,
	actor *models.User,
	id int64,
	to models.EmergencyStatus,
	allowedFrom func(e *models.Emergency) []models.EmergencyStatus,
) (*models.Emergency, error) {
	if actor == nil {
		return nil, ErrForbidden
	}

	e, err := s.db.GetEmergency(ctx, id)
	if err != nil {
		return nil, err
	}

	from := allowedFrom(e)
	if len(from) == 0 {
		return nil, ErrForbidden
	}
	if !funk.Contains(from, e.Status) {
		return nil, ErrInvalidTransition
	}

	ok, err := s.db.TransitionEmergency(ctx, id, from, to, s.now())
	if err != nil {
		return nil, fmt.Errorf("in internal/service/emergencies.go/transition(): error while `s.db.TransitionEmergency()` calling: %w", err)
	}
	if !ok {
		return nil, ErrInvalidTransition
	}

	s.publishStatus(id, to)

	return s.db.GetEmergency(ctx, id)
}

func (s *Service) publishStatus(id int64, status models.EmergencyStatus) {
	s.events.Publish(livefeed.Event{
		EmergencyID: id,
		Kind:        livefeed.KindStatus,
		Status:      status,
		At:          s.now().UTC(),
	})
}

// UpdateLocation records a position report from the victim or the assigned
// responder of an open emergency. The update is pushed to live viewers at
// once and persisted by the location writer.
func (s *Service) UpdateLocation(ctx context.Context, actor *models.User, id int64, req models.LocationRequest) error {
	if actor == nil {
		return ErrForbidden
	}
	if err := s.validateStruct(req); err != nil {
		return err
	}
	loc := req.Location()

	e, err := s.db.GetEmergency(ctx, id)
	if err != nil {
		return err
	}

	var party models.Party
	switch {
	case actor.ID == e.VictimID:
		party = models.PartyVictim
	case e.IsAssignedTo(actor.ID):
		party = models.PartyResponder
	default:
		return ErrForbidden
	}

	if !e.Status.IsOpen() {
		return ErrInvalidTransition
	}

	update := models.LocationUpdate{
		EmergencyID: id,
		Party:       party,
		Location:    loc,
		At:          s.now().UTC(),
	}

	if err := s.locations.Enqueue(ctx, update); err != nil {
		return fmt.Errorf("in internal/service/emergencies.go/UpdateLocation(): error while `s.locations.Enqueue()` calling: %w", err)
	}

	s.events.Publish(livefeed.Event{
		EmergencyID: id,
		Kind:        livefeed.KindLocation,
		Party:       party,
		Location:    &update.Location,
		At:          update.At,
	})

	return nil
}

// Locations returns the tracking view of an emergency, including the
// victim-responder distance once both positions are known.
func (s *Service) Locations(ctx context.Context, actor *models.User, id int64) (*models.LocationsResponse, error) {
	e, err := s.GetEmergency(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	victim := e.VictimLocation
	resp := &models.LocationsResponse{
		EmergencyID:       e.ID,
		Status:            e.Status,
		VictimLocation:    &victim,
		ResponderLocation: e.ResponderLocation,
	}
	if e.ResponderLocation != nil {
		d := geo.Distance(victim, *e.ResponderLocation)
		resp.DistanceKm = &d
	}

	return resp, nil
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/emergency/internal/auth"
	"github.com/patric-chuzhbe/emergency/internal/livefeed"
	"github.com/patric-chuzhbe/emergency/internal/mockstorage"
	"github.com/patric-chuzhbe/emergency/internal/models"
)

type fakeQueue struct {
	mu      sync.Mutex
	updates []models.LocationUpdate
	err     error
}

func (q *fakeQueue) Enqueue(_ context.Context, u models.LocationUpdate) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.updates = append(q.updates, u)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []livefeed.Event
}

func (p *fakePublisher) Publish(e livefeed.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

var (
	victim     = &models.User{ID: 1, Name: "Vic", Role: models.RoleVictim}
	otherUser  = &models.User{ID: 2, Name: "Other", Role: models.RoleVictim}
	responder  = &models.User{ID: 3, Name: "Resp", Role: models.RoleResponder}
	responder2 = &models.User{ID: 4, Name: "Resp2", Role: models.RoleResponder}
	admin      = &models.User{ID: 5, Name: "Admin", Role: models.RoleAdmin}
)

func newTestService() (*Service, *mockstorage.StorageMock, *fakeQueue, *fakePublisher) {
	db := &mockstorage.StorageMock{}
	queue := &fakeQueue{}
	events := &fakePublisher{}
	return New(db, queue, events), db, queue, events
}

func coordinate(v float64) *float64 {
	return &v
}

func pendingEmergency() *models.Emergency {
	return &models.Emergency{
		ID:             10,
		VictimID:       victim.ID,
		Type:           "fire",
		Status:         models.StatusPending,
		VictimLocation: models.Location{Lat: 10, Lng: 20},
	}
}

func acceptedEmergency() *models.Emergency {
	e := pendingEmergency()
	e.Status = models.StatusAccepted
	id := responder.ID
	e.ResponderID = &id
	return e
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		svc, db, _, _ := newTestService()
		db.On("CreateUser", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
			return u.Email == "alice@example.com" && u.PasswordHash != "" && u.PasswordHash != "password123"
		})).Run(func(args mock.Arguments) {
			args.Get(1).(*models.User).ID = 42
		}).Return(nil)

		u, err := svc.Register(ctx, models.RegisterRequest{
			Name:     " Alice ",
			Email:    " Alice@Example.com ",
			Password: "password123",
			Role:     models.RoleVictim,
		})
		require.NoError(t, err)
		assert.Equal(t, int64(42), u.ID)
		assert.Equal(t, "Alice", u.Name)
		assert.True(t, auth.CheckPassword(u.PasswordHash, "password123"))
		db.AssertExpectations(t)
	})

	t.Run("admin_rejected", func(t *testing.T) {
		svc, db, _, _ := newTestService()
		_, err := svc.Register(ctx, models.RegisterRequest{
			Name: "Eve", Email: "eve@example.com", Password: "password123", Role: models.RoleAdmin,
		})
		assert.ErrorIs(t, err, ErrValidation)
		db.AssertNotCalled(t, "CreateUser", mock.Anything, mock.Anything)
	})

	t.Run("invalid_fields", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		_, err := svc.Register(ctx, models.RegisterRequest{
			Name: "", Email: "not-an-email", Password: "short", Role: models.RoleVictim,
		})
		require.ErrorIs(t, err, ErrValidation)

		var validationErr *ValidationError
		require.True(t, errors.As(err, &validationErr))
		assert.Len(t, validationErr.Fields, 3)
	})

	t.Run("email_taken", func(t *testing.T) {
		svc, db, _, _ := newTestService()
		db.On("CreateUser", mock.Anything, mock.Anything).Return(models.ErrDuplicate)
		_, err := svc.Register(ctx, models.RegisterRequest{
			Name: "Bob", Email: "bob@example.com", Password: "password123", Role: models.RoleResponder,
		})
		assert.ErrorIs(t, err, ErrEmailTaken)
	})
}

func TestCreateUserAllowsAdmin(t *testing.T) {
	svc, db, _, _ := newTestService()
	db.On("CreateUser", mock.Anything, mock.Anything).Return(nil)

	u, err := svc.CreateUser(context.Background(), models.RegisterRequest{
		Name: "Root", Email: "root@example.com", Password: "password123", Role: models.RoleAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, u.Role)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	hash, err := auth.HashPassword("password123")
	require.NoError(t, err)
	stored := &models.User{ID: 1, Email: "alice@example.com", PasswordHash: hash}

	svc, db, _, _ := newTestService()
	db.On("GetUserByEmail", mock.Anything, "alice@example.com").Return(stored, nil)
	db.On("GetUserByEmail", mock.Anything, "ghost@example.com").Return(nil, models.ErrNotFound)
	db.On("GetUserByEmail", mock.Anything, "broken@example.com").Return(nil, errors.New("db down"))

	u, err := svc.Authenticate(ctx, "ALICE@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, stored, u)

	_, err = svc.Authenticate(ctx, "alice@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "ghost@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "broken@example.com", "password123")
	assert.EqualError(t, err, "db down")
}

func TestReportEmergency(t *testing.T) {
	ctx := context.Background()

	svc, db, _, _ := newTestService()
	db.On("CreateEmergency", mock.Anything, mock.MatchedBy(func(e *models.Emergency) bool {
		return e.VictimID == victim.ID && e.Type == "medical" && e.Status == models.StatusPending
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Emergency).ID = 7
	}).Return(nil)

	e, err := svc.ReportEmergency(ctx, victim, models.ReportRequest{
		Type: " Medical ", Description: "fell down", Lat: coordinate(51.5), Lng: coordinate(-0.12),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), e.ID)
	assert.Equal(t, models.Location{Lat: 51.5, Lng: -0.12}, e.VictimLocation)

	_, err = svc.ReportEmergency(ctx, victim, models.ReportRequest{Type: "medical", Lat: coordinate(91), Lng: coordinate(0)})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.ReportEmergency(ctx, victim, models.ReportRequest{Type: "alien", Lat: coordinate(0), Lng: coordinate(0)})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.ReportEmergency(ctx, victim, models.ReportRequest{Type: "medical", Lng: coordinate(0)})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, []string{"lat (required)"}, validationErr.Fields)

	_, err = svc.ReportEmergency(ctx, nil, models.ReportRequest{Type: "medical"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestGetEmergencyPermissions(t *testing.T) {
	ctx := context.Background()

	type tTestCase struct {
		name    string
		actor   *models.User
		wantErr error
	}
	testCases := []tTestCase{
		{name: "victim", actor: victim},
		{name: "responder", actor: responder},
		{name: "admin", actor: admin},
		{name: "other_victim", actor: otherUser, wantErr: ErrForbidden},
		{name: "anonymous", actor: nil, wantErr: ErrForbidden},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			svc, db, _, _ := newTestService()
			db.On("GetEmergency", mock.Anything, int64(10)).Return(pendingEmergency(), nil)

			_, err := svc.GetEmergency(ctx, testCase.actor, 10)
			if testCase.wantErr != nil {
				assert.ErrorIs(t, err, testCase.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}

	svc, db, _, _ := newTestService()
	db.On("GetEmergency", mock.Anything, int64(99)).Return(nil, models.ErrNotFound)
	_, err := svc.GetEmergency(ctx, admin, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAccept(t *testing.T) {
	ctx := context.Background()

	t.Run("winner", func(t *testing.T) {
		svc, db, _, events := newTestService()
		db.On("GetEmergency", mock.Anything, int64(10)).Return(pendingEmergency(), nil).Once()
		db.On("AssignResponder", mock.Anything, int64(10), responder.ID, mock.Anything).Return(true, nil)
		db.On("GetEmergency", mock.Anything, int64(10)).Return(acceptedEmergency(), nil).Once()

		e, err := svc.Accept(ctx, responder, 10)
		require.NoError(t, err)
		assert.Equal(t, models.StatusAccepted, e.Status)
		require.Len(t, events.events, 1)
		assert.Equal(t, livefeed.KindStatus, events.events[0].Kind)
		db.AssertExpectations(t)
	})

	t.Run("lost_race", func(t *testing.T) {
		svc, db, _, events := newTestService()
		db.On("GetEmergency", mock.Anything, int64(10)).Return(pendingEmergency(), nil)
		db.On("AssignResponder", mock.Anything, int64(10), responder2.ID, mock.Anything).Return(false, nil)

		_, err := svc.Accept(ctx, responder2, 10)
		assert.ErrorIs(t, err, ErrConflict)
		assert.Empty(t, events.events)
	})

	t.Run("already_accepted", func(t *testing.T) {
		svc, db, _, _ := newTestService()
		db.On("GetEmergency", mock.Anything, int64(10)).Return(acceptedEmergency(), nil)

		_, err := svc.Accept(ctx, responder2, 10)
		assert.ErrorIs(t, err, ErrConflict)
		db.AssertNotCalled(t, "AssignResponder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("victim_forbidden", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		_, err := svc.Accept(ctx, victim, 10)
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestResolveAndCancel(t *testing.T) {
	ctx := context.Background()
	pendingOrAccepted := []models.EmergencyStatus{models.StatusPending, models.StatusAccepted}
	acceptedOnly := []models.EmergencyStatus{models.StatusAccepted}

	type tTestCase struct {
		name     string
		op       func(s *Service) (*models.Emergency, error)
		current  *models.Emergency
		wantFrom []models.EmergencyStatus
		wantTo   models.EmergencyStatus
		wantErr  error
	}
	testCases := []tTestCase{
		{
			name:     "victim_resolves_pending",
			op:       func(s *Service) (*models.Emergency, error) { return s.Resolve(ctx, victim, 10) },
			current:  pendingEmergency(),
			wantFrom: pendingOrAccepted,
			wantTo:   models.StatusResolved,
		},
		{
			name:     "assigned_responder_resolves",
			op:       func(s *Service) (*models.Emergency, error) { return s.Resolve(ctx, responder, 10) },
			current:  acceptedEmergency(),
			wantFrom: acceptedOnly,
			wantTo:   models.StatusResolved,
		},
		{
			name:    "unassigned_responder_cannot_resolve",
			op:      func(s *Service) (*models.Emergency, error) { return s.Resolve(ctx, responder2, 10) },
			current: acceptedEmergency(),
			wantErr: ErrForbidden,
		},
		{
			name:     "admin_cancels",
			op:       func(s *Service) (*models.Emergency, error) { return s.Cancel(ctx, admin, 10) },
			current:  acceptedEmergency(),
			wantFrom: pendingOrAccepted,
			wantTo:   models.StatusCancelled,
		},
		{
			name:    "responder_cannot_cancel",
			op:      func(s *Service) (*models.Emergency, error) { return s.Cancel(ctx, responder, 10) },
			current: acceptedEmergency(),
			wantErr: ErrForbidden,
		},
		{
			name: "terminal_status",
			op:   func(s *Service) (*models.Emergency, error) { return s.Cancel(ctx, victim, 10) },
			current: func() *models.Emergency {
				e := pendingEmergency()
				e.Status = models.StatusResolved
				return e
			}(),
			wantErr: ErrInvalidTransition,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			svc, db, _, events := newTestService()
			db.On("GetEmergency", mock.Anything, int64(10)).Return(testCase.current, nil)
			if testCase.wantErr == nil {
				db.On("TransitionEmergency", mock.Anything, int64(10), testCase.wantFrom, testCase.wantTo, mock.Anything).
					Return(true, nil)
			}

			_, err := testCase.op(svc)
			if testCase.wantErr != nil {
				assert.ErrorIs(t, err, testCase.wantErr)
				assert.Empty(t, events.events)
				return
			}
			require.NoError(t, err)
			require.Len(t, events.events, 1)
			assert.Equal(t, testCase.wantTo, events.events[0].Status)
			db.AssertExpectations(t)
		})
	}
}

func TestUpdateLocation(t *testing.T) {
	ctx := context.Background()
	loc := models.LocationRequest{Lat: coordinate(1), Lng: coordinate(2)}

	t.Run("victim", func(t *testing.T) {
		svc, db, queue, events := newTestService()
		db.On("GetEmergency", mock.Anything, int64(10)).Return(pendingEmergency(), nil)

		require.NoError(t, svc.UpdateLocation(ctx, victim, 10, loc))
		require.Len(t, queue.updates, 1)
		assert.Equal(t, models.PartyVictim, queue.updates[0].Party)
		require.Len(t, events.events, 1)
		assert.Equal(t, livefeed.KindLocation, events.events[0].Kind)
	})

	t.Run("assigned_responder", func(t *testing.T) {
		svc, db, queue, _ := newTestService()
		db.On("GetEmergency", mock.Anything, int64(10)).Return(acceptedEmergency(), nil)

		require.NoError(t, svc.UpdateLocation(ctx, responder, 10, loc))
		require.Len(t, queue.updates, 1)
		assert.Equal(t, models.PartyResponder, queue.updates[0].Party)
	})

	t.Run("stranger", func(t *testing.T) {
		svc, db, queue, _ := newTestService()
		db.On("GetEmergency", mock.Anything, int64(10)).Return(acceptedEmergency(), nil)

		assert.ErrorIs(t, svc.UpdateLocation(ctx, responder2, 10, loc), ErrForbidden)
		assert.Empty(t, queue.updates)
	})

	t.Run("closed", func(t *testing.T) {
		svc, db, _, _ := newTestService()
		e := pendingEmergency()
		e.Status = models.StatusCancelled
		db.On("GetEmergency", mock.Anything, int64(10)).Return(e, nil)

		assert.ErrorIs(t, svc.UpdateLocation(ctx, victim, 10, loc), ErrInvalidTransition)
	})

	t.Run("invalid_coordinates", func(t *testing.T) {
		svc, _, _, _ := newTestService()
		assert.ErrorIs(t, svc.UpdateLocation(ctx, victim, 10, models.LocationRequest{Lat: coordinate(100), Lng: coordinate(0)}), ErrValidation)
	})

	t.Run("missing_coordinates", func(t *testing.T) {
		svc, _, queue, _ := newTestService()
		assert.ErrorIs(t, svc.UpdateLocation(ctx, victim, 10, models.LocationRequest{Lat: coordinate(1)}), ErrValidation)
		assert.ErrorIs(t, svc.UpdateLocation(ctx, victim, 10, models.LocationRequest{}), ErrValidation)
		assert.Empty(t, queue.updates)
	})

	t.Run("queue_failure", func(t *testing.T) {
		svc, db, queue, events := newTestService()
		queue.err = errors.New("stopped")
		db.On("GetEmergency", mock.Anything, int64(10)).Return(pendingEmergency(), nil)

		assert.Error(t, svc.UpdateLocation(ctx, victim, 10, loc))
		assert.Empty(t, events.events)
	})
}

func TestLocations(t *testing.T) {
	ctx := context.Background()

	svc, db, _, _ := newTestService()
	db.On("GetEmergency", mock.Anything, int64(10)).Return(pendingEmergency(), nil).Once()

	resp, err := svc.Locations(ctx, victim, 10)
	require.NoError(t, err)
	assert.Nil(t, resp.DistanceKm)
	assert.Nil(t, resp.ResponderLocation)
	require.NotNil(t, resp.VictimLocation)

	e := acceptedEmergency()
	e.ResponderLocation = &models.Location{Lat: 11, Lng: 20}
	db.On("GetEmergency", mock.Anything, int64(10)).Return(e, nil).Once()

	resp, err = svc.Locations(ctx, responder, 10)
	require.NoError(t, err)
	require.NotNil(t, resp.DistanceKm)
	assert.InDelta(t, 111.19, *resp.DistanceKm, 0.01)
}

func TestActiveEmergenciesAndBoard(t *testing.T) {
	ctx := context.Background()
	pendingFilter := models.EmergencyFilter{Statuses: []models.EmergencyStatus{models.StatusPending}, Limit: boardLimit}

	svc, db, _, _ := newTestService()
	db.On("ListEmergencies", mock.Anything, pendingFilter).Return([]models.Emergency{*pendingEmergency()}, nil)
	db.On("ListEmergencies", mock.Anything, models.EmergencyFilter{ResponderID: responder.ID}).
		Return([]models.Emergency{*acceptedEmergency()}, nil)

	active, err := svc.ActiveEmergencies(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(10), active[0].ID)
	assert.Equal(t, models.Location{Lat: 10, Lng: 20}, active[0].Location)

	pending, assigned, err := svc.ResponderBoard(ctx, responder)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Len(t, assigned, 1)

	_, _, err = svc.ResponderBoard(ctx, victim)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDashboardStats(t *testing.T) {
	ctx := context.Background()

	svc, db, _, _ := newTestService()
	db.OnCountUsersByRole = func(context.Context) (map[models.Role]int, error) {
		return map[models.Role]int{models.RoleVictim: 3}, nil
	}
	db.OnCountEmergenciesByStatus = func(context.Context) (map[models.EmergencyStatus]int, error) {
		return map[models.EmergencyStatus]int{models.StatusPending: 2}, nil
	}

	stats, err := svc.DashboardStats(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Users[models.RoleVictim])
	assert.Equal(t, 2, stats.Emergencies[models.StatusPending])

	_, err = svc.DashboardStats(ctx, responder)
	assert.ErrorIs(t, err, ErrForbidden)
}

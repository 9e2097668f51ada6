// Package mockstorage provides a testify-based mock implementation
// of the storage interfaces used by the service package.
// It is used for unit testing the service and HTTP handlers without a database.
package mockstorage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/patric-chuzhbe/emergency/internal/models"
)

// StorageMock is a testify mock that implements every storage method the
// service relies on.
type StorageMock struct {
	mock.Mock

	// OnCountUsersByRole is an optional function field that can be assigned
	// to define custom mock behavior for CountUsersByRole in tests.
	//
	// If set, CountUsersByRole will delegate to this function instead of
	// using testify's generic mock handler.
	OnCountUsersByRole func(ctx context.Context) (map[models.Role]int, error)

	// OnCountEmergenciesByStatus is the same hook for CountEmergenciesByStatus.
	OnCountEmergenciesByStatus func(ctx context.Context) (map[models.EmergencyStatus]int, error)
}

// Ping mocks the pinger interface to simulate a health check.
func (m *StorageMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// CreateUser mocks user creation. Tests typically assign the ID with Run.
func (m *StorageMock) CreateUser(ctx context.Context, u *models.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *StorageMock) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *StorageMock) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	u, _ := args.Get(0).(*models.User)
	return u, args.Error(1)
}

func (m *StorageMock) CreateEmergency(ctx context.Context, e *models.Emergency) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *StorageMock) GetEmergency(ctx context.Context, id int64) (*models.Emergency, error) {
	args := m.Called(ctx, id)
	e, _ := args.Get(0).(*models.Emergency)
	return e, args.Error(1)
}

func (m *StorageMock) ListEmergencies(ctx context.Context, filter models.EmergencyFilter) ([]models.Emergency, error) {
	args := m.Called(ctx, filter)
	list, _ := args.Get(0).([]models.Emergency)
	return list, args.Error(1)
}

// AssignResponder mocks the conditional pending -> accepted update.
func (m *StorageMock) AssignResponder(ctx context.Context, id, responderID int64, at time.Time) (bool, error) {
	args := m.Called(ctx, id, responderID, at)
	return args.Bool(0), args.Error(1)
}

func (m *StorageMock) TransitionEmergency(
	ctx context.Context,
	id int64,
	from []models.EmergencyStatus,
	to models.EmergencyStatus,
	at time.Time,
) (bool, error) {
	args := m.Called(ctx, id, from, to, at)
	return args.Bool(0), args.Error(1)
}

// CountUsersByRole returns OnCountUsersByRole's result when set and empty
// counts otherwise.
func (m *StorageMock) CountUsersByRole(ctx context.Context) (map[models.Role]int, error) {
	if m.OnCountUsersByRole != nil {
		return m.OnCountUsersByRole(ctx)
	}
	return map[models.Role]int{}, nil
}

// CountEmergenciesByStatus returns OnCountEmergenciesByStatus's result when
// set and empty counts otherwise.
func (m *StorageMock) CountEmergenciesByStatus(ctx context.Context) (map[models.EmergencyStatus]int, error) {
	if m.OnCountEmergenciesByStatus != nil {
		return m.OnCountEmergenciesByStatus(ctx)
	}
	return map[models.EmergencyStatus]int{}, nil
}

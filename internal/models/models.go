// Package models holds the domain types shared by the storage, service and
// HTTP layers: users, emergencies, locations and the request payloads that
// create or change them.
package models

import (
	"errors"
	"time"
)

// Role is the kind of account a user holds.
type Role string

const (
	RoleVictim    Role = "victim"
	RoleResponder Role = "responder"
	RoleAdmin     Role = "admin"
)

// Roles lists every known role in display order.
var Roles = []Role{RoleVictim, RoleResponder, RoleAdmin}

// User represents an account. The zero ID means the user is not persisted yet.
type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasRole reports whether the user holds one of the given roles.
// A nil user holds none.
func (u *User) HasRole(roles ...Role) bool {
	if u == nil {
		return false
	}
	for _, r := range roles {
		if u.Role == r {
			return true
		}
	}
	return false
}

// EmergencyStatus is a stage of the emergency lifecycle.
type EmergencyStatus string

const (
	StatusPending   EmergencyStatus = "pending"
	StatusAccepted  EmergencyStatus = "accepted"
	StatusResolved  EmergencyStatus = "resolved"
	StatusCancelled EmergencyStatus = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []EmergencyStatus{StatusPending, StatusAccepted, StatusResolved, StatusCancelled}

// IsOpen reports whether the emergency still takes location updates.
func (s EmergencyStatus) IsOpen() bool {
	return s == StatusPending || s == StatusAccepted
}

// EmergencyTypes are the kinds of emergency a victim can report.
var EmergencyTypes = []string{"medical", "fire", "police", "accident", "other"}

// Location is a WGS84 coordinate.
type Location struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

// LocationRequest is a position as submitted by a client. Both coordinates
// must be present: a missing one is not read as zero.
type LocationRequest struct {
	Lat *float64 `json:"lat" validate:"required,latitude"`
	Lng *float64 `json:"lng" validate:"required,longitude"`
}

// Location converts a validated request.
func (r LocationRequest) Location() Location {
	return coordinates(r.Lat, r.Lng)
}

func coordinates(lat, lng *float64) Location {
	var l Location
	if lat != nil {
		l.Lat = *lat
	}
	if lng != nil {
		l.Lng = *lng
	}
	return l
}

// Emergency is a single reported incident.
type Emergency struct {
	ID                int64           `json:"id"`
	VictimID          int64           `json:"victim_id"`
	VictimName        string          `json:"victim_name"`
	ResponderID       *int64          `json:"responder_id,omitempty"`
	ResponderName     string          `json:"responder_name,omitempty"`
	Type              string          `json:"type"`
	Description       string          `json:"description"`
	Status            EmergencyStatus `json:"status"`
	VictimLocation    Location        `json:"location"`
	ResponderLocation *Location       `json:"responder_location,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
}

// IsAssignedTo reports whether userID is the accepted responder.
func (e *Emergency) IsAssignedTo(userID int64) bool {
	return e.ResponderID != nil && *e.ResponderID == userID
}

// Party identifies which side of an emergency sent a location.
type Party string

const (
	PartyVictim    Party = "victim"
	PartyResponder Party = "responder"
)

// LocationUpdate is a position report for one side of an emergency.
type LocationUpdate struct {
	EmergencyID int64     `json:"emergency_id"`
	Party       Party     `json:"party"`
	Location    Location  `json:"location"`
	At          time.Time `json:"at"`
}

// RegisterRequest carries the fields of a new account.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Role     Role   `json:"role" validate:"required,oneof=victim responder admin"`
}

// ReportRequest carries a new emergency report.
type ReportRequest struct {
	Type        string   `json:"type" validate:"required,oneof=medical fire police accident other"`
	Description string   `json:"description" validate:"max=1000"`
	Lat         *float64 `json:"lat" validate:"required,latitude"`
	Lng         *float64 `json:"lng" validate:"required,longitude"`
}

// Location returns the victim position of a validated report.
func (r ReportRequest) Location() Location {
	return coordinates(r.Lat, r.Lng)
}

// LocationsResponse is the tracking view of an emergency.
type LocationsResponse struct {
	EmergencyID       int64           `json:"emergency_id"`
	Status            EmergencyStatus `json:"status"`
	VictimLocation    *Location       `json:"victim_location"`
	ResponderLocation *Location       `json:"responder_location"`
	DistanceKm        *float64        `json:"distance_km"`
}

// ActiveEmergency is the compact form used for map markers.
type ActiveEmergency struct {
	ID         int64     `json:"id"`
	Type       string    `json:"type"`
	VictimName string    `json:"victim_name"`
	Location   Location  `json:"location"`
	CreatedAt  time.Time `json:"created_at"`
}

// DashboardStats aggregates counts for the admin dashboard.
type DashboardStats struct {
	Emergencies map[EmergencyStatus]int `json:"emergencies"`
	Users       map[Role]int            `json:"users"`
}

// EmergencyFilter narrows emergency listings. Zero fields do not filter.
type EmergencyFilter struct {
	Statuses    []EmergencyStatus
	VictimID    int64
	ResponderID int64
	Limit       int
}

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when a unique constraint would be violated.
var ErrDuplicate = errors.New("duplicate record")

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/thoas/go-funk"
	"github.com/uptrace/bun"

	"github.com/patric-chuzhbe/emergency/internal/models"
)

type emergencyRow struct {
	bun.BaseModel `bun:"table:emergencies,alias:e"`

	ID           int64      `bun:"id,pk,autoincrement"`
	VictimID     int64      `bun:"victim_id,notnull"`
	ResponderID  *int64     `bun:"responder_id"`
	Type         string     `bun:"type,notnull"`
	Description  string     `bun:"description,notnull"`
	Status       string     `bun:"status,notnull"`
	VictimLat    float64    `bun:"victim_lat,notnull"`
	VictimLng    float64    `bun:"victim_lng,notnull"`
	ResponderLat *float64   `bun:"responder_lat"`
	ResponderLng *float64   `bun:"responder_lng"`
	CreatedAt    time.Time  `bun:"created_at,notnull"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull"`
	ResolvedAt   *time.Time `bun:"resolved_at"`

	VictimName    string  `bun:"victim_name,scanonly"`
	ResponderName *string `bun:"responder_name,scanonly"`
}

func emergencyRowToModel(r emergencyRow) models.Emergency {
	e := models.Emergency{
		ID:          r.ID,
		VictimID:    r.VictimID,
		VictimName:  r.VictimName,
		ResponderID: r.ResponderID,
		Type:        r.Type,
		Description: r.Description,
		Status:      models.EmergencyStatus(r.Status),
		VictimLocation: models.Location{
			Lat: r.VictimLat,
			Lng: r.VictimLng,
		},
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
		ResolvedAt: r.ResolvedAt,
	}
	if r.ResponderName != nil {
		e.ResponderName = *r.ResponderName
	}
	if r.ResponderLat != nil && r.ResponderLng != nil {
		e.ResponderLocation = &models.Location{Lat: *r.ResponderLat, Lng: *r.ResponderLng}
	}
	return e
}

// CreateEmergency inserts e and sets its ID and timestamps.
func (s *Store) CreateEmergency(outerCtx context.Context, e *models.Emergency) error {
	ctx, cancel := s.withTimeout(outerCtx)
	defer cancel()

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = e.CreatedAt
	if e.Status == "" {
		e.Status = models.StatusPending
	}

	row := &emergencyRow{
		VictimID:    e.VictimID,
		Type:        e.Type,
		Description: e.Description,
		Status:      string(e.Status),
		VictimLat:   e.VictimLocation.Lat,
		VictimLng:   e.VictimLocation.Lng,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	_, err := s.db.NewInsert().
		Model(row).
		Column("victim_id", "type", "description", "status", "victim_lat", "victim_lng", "created_at", "updated_at").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("in internal/storage/emergencies.go/CreateEmergency(): error while inserting emergency: %w", MapDBError(err))
	}

	e.ID = row.ID

	return nil
}

func selectEmergencies(db bun.IDB, rows *[]emergencyRow) *bun.SelectQuery {
	return db.NewSelect().
		Model(rows).
		ColumnExpr("e.*").
		ColumnExpr("v.name AS victim_name").
		ColumnExpr("r.name AS responder_name").
		Join("JOIN users AS v ON v.id = e.victim_id").
		Join("LEFT JOIN users AS r ON r.id = e.responder_id")
}

// GetEmergency returns models.ErrNotFound when no emergency has the id.
func (s *Store) GetEmergency(outerCtx context.Context, id int64) (*models.Emergency, error) {
	ctx, cancel := s.withTimeout(outerCtx)
	defer cancel()

	var rows []emergencyRow
	err := selectEmergencies(s.db, &rows).Where("e.id = ?", id).Limit(1).Scan(ctx)
	if err != nil && !isNoRows(err) {
		return nil, fmt.Errorf("in internal/storage/emergencies.go/GetEmergency(): error while selecting emergency: %w", err)
	}
	if len(rows) == 0 {
		return nil, models.ErrNotFound
	}

	e := emergencyRowToModel(rows[0])

	return &e, nil
}

// ListEmergencies returns matching emergencies, newest first.
func (s *Store) ListEmergencies(outerCtx context.Context, filter models.EmergencyFilter) ([]models.Emergency, error) {
	ctx, cancel := s.withTimeout(outerCtx)
	defer cancel()

	var rows []emergencyRow
	q := selectEmergencies(s.db, &rows)
	if len(filter.Statuses) > 0 {
		q = q.Where("e.status IN (?)", bun.In(funk.Map(filter.Statuses, func(st models.EmergencyStatus) string {
			return string(st)
		}).([]string)))
	}
	if filter.VictimID != 0 {
		q = q.Where("e.victim_id = ?", filter.VictimID)
	}
	if filter.ResponderID != 0 {
		q = q.Where("e.responder_id = ?", filter.ResponderID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	if err := q.OrderExpr("e.created_at DESC, e.id DESC").Scan(ctx); err != nil && !isNoRows(err) {
		return nil, fmt.Errorf("in internal/storage/emergencies.go/ListEmergencies(): error while selecting emergencies: %w", err)
	}

	result := make([]models.Emergency, 0, len(rows))
	for _, r := range rows {
		result = append(result, emergencyRowToModel(r))
	}

	return result, nil
}

// AssignResponder moves a pending emergency to accepted with responderID as
// its responder. It reports false when the emergency was not pending, so two
// concurrent accepts cannot both win.
func (s *Store) AssignResponder(outerCtx context.Context, id, responderID int64, at time.Time) (bool, error) {
	ctx, cancel := s.withTimeout(outerCtx)
	defer cancel()

	res, err := s.db.NewRaw(
		"UPDATE emergencies SET responder_id = ?, status = ?, updated_at = ? WHERE id = ? AND status = ?",
		responderID, string(models.StatusAccepted), at.UTC(), id, string(models.StatusPending),
	).Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("in internal/storage/emergencies.go/AssignResponder(): error while updating emergency: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("in internal/storage/emergencies.go/AssignResponder(): error while `res.RowsAffected()` calling: %w", err)
	}

	return affected == 1, nil
}

// TransitionEmergency sets the status of an emergency to `to` if its current
// status is one of `from`. Resolving stamps resolved_at.
func (s *Store) TransitionEmergency(
	outerCtx context.Context,
	id int64,
	from []models.EmergencyStatus,
	to models.EmergencyStatus,
	at time.Time,
) (bool, error) {
	ctx, cancel := s.withTimeout(outerCtx)
	defer cancel()

	var resolvedAt *time.Time
	if to == models.StatusResolved {
		utc := at.UTC()
		resolvedAt = &utc
	}

	fromStrings := funk.Map(from, func(st models.EmergencyStatus) string {
		return string(st)
	}).([]string)

	res, err := s.db.NewRaw(
		"UPDATE emergencies SET status = ?, updated_at = ?, resolved_at = ? WHERE id = ? AND status IN (?)",
		string(to), at.UTC(), resolvedAt, id, bun.In(fromStrings),
	).Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("in internal/storage/emergencies.go/TransitionEmergency(): error while updating emergency: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("in internal/storage/emergencies.go/TransitionEmergency(): error while `res.RowsAffected()` calling: %w", err)
	}

	return affected == 1, nil
}

// SaveLocations applies a batch of location updates in one transaction.
func (s *Store) SaveLocations(outerCtx context.Context, updates []models.LocationUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	ctx, cancel := s.withTimeout(outerCtx)
	defer cancel()

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, u := range updates {
			query := "UPDATE emergencies SET victim_lat = ?, victim_lng = ?, updated_at = ? WHERE id = ?"
			if u.Party == models.PartyResponder {
				query = "UPDATE emergencies SET responder_lat = ?, responder_lng = ?, updated_at = ? WHERE id = ?"
			}
			if _, err := tx.NewRaw(query, u.Location.Lat, u.Location.Lng, u.At.UTC(), u.EmergencyID).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("in internal/storage/emergencies.go/SaveLocations(): error while `s.db.RunInTx()` calling: %w", err)
	}

	return nil
}

// CountEmergenciesByStatus returns the number of emergencies per status.
// Every known status is present in the result.
func (s *Store) CountEmergenciesByStatus(outerCtx context.Context) (map[models.EmergencyStatus]int, error) {
	ctx, cancel := s.withTimeout(outerCtx)
	defer cancel()

	var counts []struct {
		Status string `bun:"status"`
		Count  int    `bun:"count"`
	}
	err := s.db.NewRaw("SELECT status, COUNT(*) AS count FROM emergencies GROUP BY status").Scan(ctx, &counts)
	if err != nil && !isNoRows(err) {
		return nil, fmt.Errorf("in internal/storage/emergencies.go/CountEmergenciesByStatus(): error while counting emergencies: %w", err)
	}

	result := make(map[models.EmergencyStatus]int, len(models.Statuses))
	for _, st := range models.Statuses {
		result[st] = 0
	}
	for _, c := range counts {
		result[models.EmergencyStatus(c.Status)] = c.Count
	}

	return result, nil
}

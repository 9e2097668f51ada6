package locationwriter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/emergency/internal/models"
)

type recordingSaver struct {
	mu      sync.Mutex
	batches [][]models.LocationUpdate
	err     error
}

func (s *recordingSaver) SaveLocations(_ context.Context, updates []models.LocationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, updates)
	return nil
}

func (s *recordingSaver) saved() []models.LocationUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.LocationUpdate
	for _, b := range s.batches {
		all = append(all, b...)
	}
	return all
}

func update(id int64, party models.Party, lat float64, at time.Time) models.LocationUpdate {
	return models.LocationUpdate{
		EmergencyID: id,
		Party:       party,
		Location:    models.Location{Lat: lat, Lng: lat},
		At:          at,
	}
}

func TestFlushesOnTick(t *testing.T) {
	saver := &recordingSaver{}
	w := New(saver, 16, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Run(ctx)

	require.NoError(t, w.Enqueue(ctx, update(1, models.PartyVictim, 10, time.Now())))

	assert.Eventually(t, func() bool {
		return len(saver.saved()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCoalescesPerEmergencyAndParty(t *testing.T) {
	saver := &recordingSaver{}
	w := New(saver, 16, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	w.Run(ctx)

	base := time.Now()
	require.NoError(t, w.Enqueue(ctx, update(1, models.PartyVictim, 1, base)))
	require.NoError(t, w.Enqueue(ctx, update(1, models.PartyVictim, 2, base.Add(time.Second))))
	require.NoError(t, w.Enqueue(ctx, update(1, models.PartyVictim, 3, base.Add(-time.Second))))
	require.NoError(t, w.Enqueue(ctx, update(1, models.PartyResponder, 4, base)))
	require.NoError(t, w.Enqueue(ctx, update(2, models.PartyVictim, 5, base)))

	cancel()
	w.Wait()

	saved := saver.saved()
	require.Len(t, saved, 3)

	byKey := map[key]float64{}
	for _, u := range saved {
		byKey[key{u.EmergencyID, u.Party}] = u.Location.Lat
	}
	assert.Equal(t, 2.0, byKey[key{1, models.PartyVictim}], "latest position wins")
	assert.Equal(t, 4.0, byKey[key{1, models.PartyResponder}])
	assert.Equal(t, 5.0, byKey[key{2, models.PartyVictim}])
}

func TestEnqueueAfterStop(t *testing.T) {
	w := New(&recordingSaver{}, 1, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	w.Run(ctx)
	cancel()
	w.Wait()

	err := w.Enqueue(context.Background(), update(1, models.PartyVictim, 1, time.Now()))
	assert.ErrorIs(t, err, ErrStopped)
}

type stallingSaver struct {
	entered chan struct{}
	release chan struct{}
}

func (s *stallingSaver) SaveLocations(context.Context, []models.LocationUpdate) error {
	close(s.entered)
	<-s.release
	return nil
}

func TestEnqueueDuringFinalFlush(t *testing.T) {
	saver := &stallingSaver{entered: make(chan struct{}), release: make(chan struct{})}
	w := New(saver, 4, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	w.Run(ctx)
	require.NoError(t, w.Enqueue(ctx, update(1, models.PartyVictim, 1, time.Now())))

	cancel()
	<-saver.entered

	err := w.Enqueue(context.Background(), update(2, models.PartyVictim, 1, time.Now()))
	assert.ErrorIs(t, err, ErrStopped)

	close(saver.release)
	w.Wait()
}

func TestEnqueueRespectsContext(t *testing.T) {
	w := New(&recordingSaver{}, 1, time.Hour)

	require.NoError(t, w.Enqueue(context.Background(), update(1, models.PartyVictim, 1, time.Now())))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.Enqueue(ctx, update(2, models.PartyVictim, 1, time.Now()))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReportsFlushErrors(t *testing.T) {
	saver := &recordingSaver{err: errors.New("database is locked")}
	w := New(saver, 4, 10*time.Millisecond)

	errs := make(chan error, 8)
	w.ListenErrors(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Run(ctx)

	require.NoError(t, w.Enqueue(ctx, update(1, models.PartyVictim, 1, time.Now())))

	select {
	case err := <-errs:
		assert.EqualError(t, err, "database is locked")
	case <-time.After(time.Second):
		t.Fatal("flush error was not reported")
	}
}

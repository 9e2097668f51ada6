// Package locationwriter batches location updates in memory and persists them
// periodically in a single transaction. Only the latest position per
// emergency and party survives between flushes.
package locationwriter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/patric-chuzhbe/emergency/internal/logger"
	"github.com/patric-chuzhbe/emergency/internal/models"
)

// ErrStopped is returned by Enqueue after the writer has shut down.
var ErrStopped = errors.New("location writer stopped")

const finalFlushTimeout = 5 * time.Second

type locationSaver interface {
	SaveLocations(ctx context.Context, updates []models.LocationUpdate) error
}

type key struct {
	emergencyID int64
	party       models.Party
}

type LocationWriter struct {
	queue         chan models.LocationUpdate
	db            locationSaver
	flushInterval time.Duration
	errorChannel  chan error
	done          chan struct{}

	// stopping is closed when shutdown begins. closed is set under mu once no
	// Enqueue can still be sending, so the final drain sees every accepted update.
	stopping chan struct{}
	mu       sync.RWMutex
	closed   bool
}

func New(
	db locationSaver,
	channelCapacity int,
	flushInterval time.Duration,
) *LocationWriter {
	return &LocationWriter{
		db:            db,
		queue:         make(chan models.LocationUpdate, channelCapacity),
		flushInterval: flushInterval,
		errorChannel:  make(chan error, channelCapacity),
		done:          make(chan struct{}),
		stopping:      make(chan struct{}),
	}
}

// ListenErrors calls callback for every failed flush until the writer stops.
func (w *LocationWriter) ListenErrors(callback func(error)) {
	go func() {
		for err := range w.errorChannel {
			callback(err)
		}
	}()
}

// Enqueue hands an update to the writer. It blocks while the queue is full.
// Once shutdown has begun it returns ErrStopped.
func (w *LocationWriter) Enqueue(ctx context.Context, update models.LocationUpdate) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrStopped
	}

	select {
	case w.queue <- update:
		return nil
	case <-w.stopping:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *LocationWriter) closeIntake() {
	close(w.stopping)

	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

func merge(pending map[key]models.LocationUpdate, update models.LocationUpdate) {
	k := key{emergencyID: update.EmergencyID, party: update.Party}
	if prev, ok := pending[k]; ok && prev.At.After(update.At) {
		return
	}
	pending[k] = update
}

func (w *LocationWriter) reportError(err error) {
	select {
	case w.errorChannel <- err:
	default:
		logger.Log.Errorw("location writer error dropped", "error", err)
	}
}

func (w *LocationWriter) flush(ctx context.Context, pending map[key]models.LocationUpdate) bool {
	if len(pending) == 0 {
		return true
	}

	updates := make([]models.LocationUpdate, 0, len(pending))
	for _, u := range pending {
		updates = append(updates, u)
	}

	if err := w.db.SaveLocations(ctx, updates); err != nil {
		w.reportError(err)
		return false
	}

	logger.Log.Debugf("persisted %d location updates", len(updates))
	for k := range pending {
		delete(pending, k)
	}

	return true
}

// Run starts the flush loop. When ctx is cancelled the loop drains the
// queue, flushes once more and stops.
func (w *LocationWriter) Run(ctx context.Context) {
	go func() {
		defer close(w.errorChannel)
		defer close(w.done)

		ticker := time.NewTicker(w.flushInterval)
		defer ticker.Stop()

		pending := map[key]models.LocationUpdate{}

		for {
			select {
			case u := <-w.queue:
				merge(pending, u)
			case <-ticker.C:
				w.flush(ctx, pending)
			case <-ctx.Done():
				w.closeIntake()
				for drained := false; !drained; {
					select {
					case u := <-w.queue:
						merge(pending, u)
					default:
						drained = true
					}
				}
				flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
				w.flush(flushCtx, pending)
				cancel()
				return
			}
		}
	}()
}

// Wait blocks until Run has returned.
func (w *LocationWriter) Wait() {
	<-w.done
}

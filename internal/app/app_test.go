package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/emergency/internal/config"
	"github.com/patric-chuzhbe/emergency/internal/models"
	"github.com/patric-chuzhbe/emergency/internal/storage"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.LogLevel = "error"
	cfg.DatabaseURI = config.SQLiteURIPrefix + filepath.Join(t.TempDir(), "app.db")
	cfg.LocationFlushInterval = time.Hour
	cfg.LoginRateLimit = 100
	cfg.LoginRateBurst = 100
	return cfg
}

func TestEndToEnd(t *testing.T) {
	cfg := newTestConfig(t)
	app, err := New(WithConfig(cfg))
	require.NoError(t, err)
	defer app.Close()

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	client := resty.New().SetBaseURL(srv.URL).SetHeader("Accept", "application/json")

	resp, err := client.R().Get("/favicon.ico")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode())
	assert.Empty(t, resp.Body())

	resp, err = client.R().Get("/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	resp, err = client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(models.RegisterRequest{
			Name:     "Vic",
			Email:    "vic@example.com",
			Password: "long enough",
			Role:     models.RoleVictim,
		}).
		Post("/auth/register")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())
	require.NotEmpty(t, resp.Cookies())
	client.SetCookies(resp.Cookies())

	var e models.Emergency
	resp, err = client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"type": "medical", "lat": 10, "lng": 20}).
		SetResult(&e).
		Post("/emergency/report")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode(), resp.String())

	resp, err = client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]float64{"lat": 10.5, "lng": 20.5}).
		Post(fmt.Sprintf("/emergency/%d/location", e.ID))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode())

	resp, err = client.R().Get("/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Contains(t, resp.String(), "Welcome back, Vic")

	// The flush interval is an hour: only the final flush on shutdown
	// can have persisted the update.
	require.NoError(t, app.Shutdown())
	require.NoError(t, app.Shutdown())

	store, err := storage.Open(context.Background(), cfg.DatabaseURI, time.Second)
	require.NoError(t, err)
	defer store.Close()

	saved, err := store.GetEmergency(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.Location{Lat: 10.5, Lng: 20.5}, saved.VictimLocation)
}

func TestNewCreatesServerlessDataDir(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Vercel = "1"
	cfg.ServerlessDataDir = filepath.Join(t.TempDir(), "nested", "data")
	cfg.DatabaseURI = config.ResolveDatabaseURI(cfg)

	app, err := New(WithConfig(cfg))
	require.NoError(t, err)
	defer func() { require.NoError(t, app.Shutdown()) }()

	_, err = os.Stat(filepath.Join(cfg.ServerlessDataDir, config.SQLiteFileName))
	assert.NoError(t, err)
}

func TestNewFailsOnUnsupportedDatabase(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.DatabaseURI = "mysql://user@localhost/emergency"

	_, err := New(WithConfig(cfg))
	assert.Error(t, err)
}

func TestRunContextStopsGracefully(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.RunAddr = "127.0.0.1:0"

	app, err := New(WithConfig(cfg))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- app.RunContext(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunContext did not return after cancellation")
	}

	assert.Error(t, app.db.Ping(context.Background()), "database must be closed")
}

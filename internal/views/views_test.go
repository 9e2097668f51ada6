package views

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/a-h/templ"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/emergency/internal/models"
)

func renderString(t *testing.T, c templ.Component) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, c.Render(context.Background(), &buf))
	return buf.String()
}

func TestIndex(t *testing.T) {
	anonymous := renderString(t, Index(nil))
	assert.Contains(t, anonymous, "Welcome, guest")
	assert.Contains(t, anonymous, `href="/auth/login"`)
	assert.NotContains(t, anonymous, "Log out")

	user := &models.User{ID: 1, Name: "Ann <script>", Role: models.RoleVictim}
	page := renderString(t, Index(user))
	assert.Contains(t, page, "Welcome back, Ann &lt;script&gt;")
	assert.NotContains(t, page, "<script>")
	assert.NotContains(t, page, "Responder board")
}

func TestLayoutShowsResponderNavigation(t *testing.T) {
	page := renderString(t, Index(&models.User{ID: 2, Name: "Rob", Role: models.RoleResponder}))
	assert.Contains(t, page, `href="/responder/"`)
	assert.Contains(t, page, `href="/map/"`)
}

func TestEmergencyDetailActions(t *testing.T) {
	responderID := int64(7)
	type tTestCase struct {
		name        string
		user        *models.User
		emergency   models.Emergency
		wantActions []string
		notActions  []string
	}

	pending := models.Emergency{ID: 3, VictimID: 1, VictimName: "Ann", Type: "fire", Status: models.StatusPending, CreatedAt: time.Now()}
	accepted := pending
	accepted.Status = models.StatusAccepted
	accepted.ResponderID = &responderID
	accepted.ResponderName = "Rob"
	resolved := accepted
	resolved.Status = models.StatusResolved

	tests := []tTestCase{
		{
			name:        "victim_pending",
			user:        &models.User{ID: 1, Role: models.RoleVictim},
			emergency:   pending,
			wantActions: []string{"/emergency/3/resolve", "/emergency/3/cancel"},
			notActions:  []string{"/responder/accept/3"},
		},
		{
			name:        "responder_pending",
			user:        &models.User{ID: 7, Role: models.RoleResponder},
			emergency:   pending,
			wantActions: []string{"/responder/accept/3"},
			notActions:  []string{"/emergency/3/resolve", "/emergency/3/cancel"},
		},
		{
			name:        "assigned_responder_accepted",
			user:        &models.User{ID: 7, Role: models.RoleResponder},
			emergency:   accepted,
			wantActions: []string{"/emergency/3/resolve"},
			notActions:  []string{"/emergency/3/cancel", "/responder/accept/3"},
		},
		{
			name:       "closed_has_no_actions",
			user:       &models.User{ID: 1, Role: models.RoleVictim},
			emergency:  resolved,
			notActions: []string{"/emergency/3/resolve", "/emergency/3/cancel", "/responder/accept/3"},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e := test.emergency
			page := renderString(t, EmergencyDetail(test.user, &e))
			for _, action := range test.wantActions {
				assert.Contains(t, page, `action="`+action+`"`)
			}
			for _, action := range test.notActions {
				assert.NotContains(t, page, `action="`+action+`"`)
			}
		})
	}
}

func TestDashboardStats(t *testing.T) {
	admin := &models.User{ID: 1, Name: "Root", Role: models.RoleAdmin}
	stats := &models.DashboardStats{
		Emergencies: map[models.EmergencyStatus]int{models.StatusPending: 4},
		Users:       map[models.Role]int{models.RoleResponder: 2},
	}
	page := renderString(t, Dashboard(admin, stats, nil))
	assert.Contains(t, page, `<span class="count">4</span> pending`)
	assert.Contains(t, page, `<span class="count">2</span> responder`)
}

func TestMapPage(t *testing.T) {
	page := renderString(t, MapPage(&models.User{ID: 1, Role: models.RoleVictim}, 12))
	assert.Contains(t, page, `data-emergency-id="12"`)
	assert.Contains(t, page, `id="share-location"`)

	overview := renderString(t, MapPage(&models.User{ID: 2, Role: models.RoleResponder}, 0))
	assert.Contains(t, overview, `data-emergency-id="0"`)
	assert.NotContains(t, overview, `id="share-location"`)
}

func TestReportFormCoordinates(t *testing.T) {
	user := &models.User{ID: 1, Role: models.RoleVictim}

	empty := renderString(t, ReportForm(user, "", models.ReportRequest{Type: "fire"}))
	assert.Contains(t, empty, `id="lat" required value=""`)
	assert.Contains(t, empty, `id="lng" required value=""`)

	lat, lng := 0.0, -73.5
	refilled := renderString(t, ReportForm(user, "lat (required)", models.ReportRequest{Type: "fire", Lat: &lat, Lng: &lng}))
	assert.Contains(t, refilled, `id="lat" required value="0"`)
	assert.Contains(t, refilled, `id="lng" required value="-73.5"`)
	assert.Contains(t, refilled, "lat (required)")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestRenderReportsWriteErrors(t *testing.T) {
	err := Index(nil).Render(context.Background(), failingWriter{})
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestStaticHandler(t *testing.T) {
	for _, path := range []string{"/style.css", "/map.js"} {
		recorder := httptest.NewRecorder()
		StaticHandler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, recorder.Code, path)
		assert.NotEmpty(t, recorder.Body.String(), path)
	}
}

// Package views renders the HTML pages of the application as templ
// components and serves the embedded static assets.
//
// The *_templ.go files are generated from the .templ sources with
// `templ generate`; edit the sources, not the generated code.
package views

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/a-h/templ"

	"github.com/patric-chuzhbe/emergency/internal/models"
)

//go:generate go run github.com/a-h/templ/cmd/templ@v0.3.819 generate

//go:embed static
var staticFS embed.FS

// StaticHandler serves the embedded assets. Mount it under /static/.
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(fmt.Sprintf("in internal/views/views.go/StaticHandler(): error while `fs.Sub()` calling: %v", err))
	}
	return http.FileServer(http.FS(sub))
}

// selfServiceRoles are offered on the registration form.
var selfServiceRoles = []models.Role{models.RoleVictim, models.RoleResponder}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

func formatLocation(l models.Location) string {
	return fmt.Sprintf("%.5f, %.5f", l.Lat, l.Lng)
}

func formatCoordinate(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func formatCount(n int) string {
	return strconv.Itoa(n)
}

func statusClass(s models.EmergencyStatus) string {
	return "status-" + string(s)
}

func mapTitle(emergencyID int64) string {
	if emergencyID == 0 {
		return "Live map"
	}
	return "Tracking emergency #" + formatID(emergencyID)
}

func emergencyURL(id int64, suffix string) templ.SafeURL {
	return templ.SafeURL("/emergency/" + formatID(id) + suffix)
}

func mapURL(id int64) templ.SafeURL {
	return templ.SafeURL("/map/" + formatID(id))
}

func acceptURL(id int64) templ.SafeURL {
	return templ.SafeURL("/responder/accept/" + formatID(id))
}

func canAccept(user *models.User, e *models.Emergency) bool {
	return e.Status == models.StatusPending && user.HasRole(models.RoleResponder, models.RoleAdmin)
}

// canResolve mirrors the service rule: the victim and admins while open,
// the assigned responder once accepted.
func canResolve(user *models.User, e *models.Emergency) bool {
	if user == nil || !e.Status.IsOpen() {
		return false
	}
	if user.ID == e.VictimID || user.HasRole(models.RoleAdmin) {
		return true
	}
	return e.Status == models.StatusAccepted && e.IsAssignedTo(user.ID)
}

func canCancel(user *models.User, e *models.Emergency) bool {
	return user != nil && e.Status.IsOpen() && (user.ID == e.VictimID || user.HasRole(models.RoleAdmin))
}

// Package auth provides session handling for HTTP requests: a signed JWT in an
// HttpOnly cookie (or an Authorization header) identifies the user, and
// middleware loads that user into the request context and guards routes by
// login state and role.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/emergency/internal/logger"
	"github.com/patric-chuzhbe/emergency/internal/models"
)

// LoginPath is where anonymous browser requests to protected pages are sent.
const LoginPath = "/auth/login"

type userLoader interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// Auth handles user sessions and JWT token management.
type Auth struct {
	users userLoader

	// cookieName is the name of the cookie used to store the JWT.
	cookieName string

	// signingKey is the key used to sign JWTs.
	signingKey []byte

	lifetime      time.Duration
	secureCookies bool
}

// Claims represents the JWT claims used by the system. The subject is the
// decimal user ID.
type Claims struct {
	jwt.RegisteredClaims
}

type contextKey string

const userKey contextKey = "user"

type initOptions struct {
	lifetime      time.Duration
	secureCookies bool
}

// InitOption customizes New.
type InitOption func(*initOptions)

// WithLifetime sets how long a session stays valid.
func WithLifetime(d time.Duration) InitOption {
	return func(options *initOptions) {
		options.lifetime = d
	}
}

// WithSecureCookies marks the session cookie Secure.
func WithSecureCookies(secure bool) InitOption {
	return func(options *initOptions) {
		options.secureCookies = secure
	}
}

// New creates a new Auth with the given user loader, cookie name and JWT
// signing secret.
func New(
	users userLoader,
	cookieName string,
	signingKey []byte,
	optionsProto ...InitOption,
) *Auth {
	options := &initOptions{
		lifetime: 24 * time.Hour,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	return &Auth{
		users:         users,
		cookieName:    cookieName,
		signingKey:    signingKey,
		lifetime:      options.lifetime,
		secureCookies: options.secureCookies,
	}
}

// WithUser returns a copy of ctx carrying u.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// CurrentUser returns the authenticated user of the request, or nil.
func CurrentUser(ctx context.Context) *models.User {
	u, _ := ctx.Value(userKey).(*models.User)
	return u
}

// LoadUser resolves a stored session identifier to a user. Identifiers that
// are not integers and IDs with no matching user resolve to nil.
func (a *Auth) LoadUser(ctx context.Context, rawID string) *models.User {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}

	u, err := a.users.GetUserByID(ctx, id)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			logger.FromContext(ctx).Warnw("unable to load session user", "user_id", id, zap.Error(err))
		}
		return nil
	}

	return u
}

// Login issues a session for u.
func (a *Auth) Login(response http.ResponseWriter, u *models.User) error {
	now := time.Now()
	tokenString, err := a.buildJWTString(&Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.lifetime)),
		},
	})
	if err != nil {
		return fmt.Errorf("in internal/auth/auth.go/Login(): error while `a.buildJWTString()` calling: %w", err)
	}

	http.SetCookie(response, &http.Cookie{
		Name:     a.cookieName,
		Value:    tokenString,
		Path:     "/",
		MaxAge:   int(a.lifetime.Seconds()),
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// Logout clears the session cookie.
func (a *Auth) Logout(response http.ResponseWriter) {
	http.SetCookie(response, &http.Cookie{
		Name:     a.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// AuthenticateUser is an HTTP middleware that resolves the session token
// found in the Authorization header or cookie and stores the user in the
// request context. Requests without a valid session pass through anonymous.
func (a *Auth) AuthenticateUser(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		subject := a.getSubjectFromAuthorizationHeaderOrCookie(request)
		if subject == "" {
			h.ServeHTTP(response, request)
			return
		}

		if u := a.LoadUser(request.Context(), subject); u != nil {
			request = request.WithContext(WithUser(request.Context(), u))
		}

		h.ServeHTTP(response, request)
	}

	return http.HandlerFunc(middleware)
}

// RequireLogin rejects anonymous requests: API clients get 401, browsers are
// redirected to the login page with the original URL in `next`.
func (a *Auth) RequireLogin(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		if CurrentUser(request.Context()) == nil {
			a.unauthorized(response, request)
			return
		}
		h.ServeHTTP(response, request)
	}

	return http.HandlerFunc(middleware)
}

// RequireRole builds a middleware admitting only users holding one of roles.
func (a *Auth) RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		middleware := func(response http.ResponseWriter, request *http.Request) {
			u := CurrentUser(request.Context())
			if u == nil {
				a.unauthorized(response, request)
				return
			}
			if !u.HasRole(roles...) {
				http.Error(response, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			h.ServeHTTP(response, request)
		}

		return http.HandlerFunc(middleware)
	}
}

func (a *Auth) unauthorized(response http.ResponseWriter, request *http.Request) {
	if WantsJSON(request) {
		http.Error(response, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	http.Redirect(response, request, LoginPath+"?next="+url.QueryEscape(request.URL.RequestURI()), http.StatusFound)
}

// WantsJSON reports whether the client expects a JSON response rather than a page.
func WantsJSON(request *http.Request) bool {
	return strings.Contains(request.Header.Get("Accept"), "application/json") ||
		strings.HasPrefix(request.Header.Get("Content-Type"), "application/json") ||
		request.Header.Get("X-Requested-With") == "XMLHttpRequest"
}

func (a *Auth) getTokenStringFromAuthorizationHeaderOrCookie(request *http.Request) string {
	tokenString := strings.TrimPrefix(request.Header.Get("Authorization"), "Bearer ")
	if tokenString != "" {
		return tokenString
	}
	cookie, err := request.Cookie(a.cookieName)
	if err == nil {
		tokenString = cookie.Value
	}

	return tokenString
}

func (a *Auth) getSubjectFromAuthorizationHeaderOrCookie(request *http.Request) string {
	tokenString := a.getTokenStringFromAuthorizationHeaderOrCookie(request)
	if tokenString == "" {
		return ""
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return a.signingKey, nil
		},
	)
	if err != nil || !token.Valid {
		return ""
	}

	return claims.Subject
}

func (a *Auth) buildJWTString(claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, *claims)

	tokenString, err := token.SignedString(a.signingKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

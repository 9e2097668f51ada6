package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/emergency/internal/auth"
	"github.com/patric-chuzhbe/emergency/internal/ipchecker"
	"github.com/patric-chuzhbe/emergency/internal/livefeed"
	"github.com/patric-chuzhbe/emergency/internal/metrics"
	"github.com/patric-chuzhbe/emergency/internal/mockstorage"
	"github.com/patric-chuzhbe/emergency/internal/models"
	"github.com/patric-chuzhbe/emergency/internal/service"
)

const testCookieName = "emergency_session"

type nopQueue struct{}

func (nopQueue) Enqueue(context.Context, models.LocationUpdate) error { return nil }

type initTestOption func(*initTestOptions)

type initTestOptions struct {
	trustedSubnet  string
	trustedProxies []string
}

func withTrustedSubnet(subnet string) initTestOption {
	return func(options *initTestOptions) {
		options.trustedSubnet = subnet
	}
}

func withTrustedProxies(cidrs ...string) initTestOption {
	return func(options *initTestOptions) {
		options.trustedProxies = cidrs
	}
}

func setupTestRouter(t *testing.T, optionsProto ...initTestOption) (*httptest.Server, *mockstorage.StorageMock, *auth.Auth) {
	t.Helper()

	options := &initTestOptions{}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	db := &mockstorage.StorageMock{}
	hub := livefeed.NewHub()
	svc := service.New(db, nopQueue{}, hub)
	sessions := auth.New(db, testCookieName, []byte("router-test-key"))

	checker, err := ipchecker.New(options.trustedSubnet, ipchecker.WithTrustedProxies(options.trustedProxies...))
	require.NoError(t, err)

	srv := httptest.NewServer(New(svc, sessions, hub, WithMetrics(metrics.New(), checker)))
	t.Cleanup(srv.Close)

	return srv, db, sessions
}

func sessionCookie(t *testing.T, sessions *auth.Auth, u *models.User) *http.Cookie {
	t.Helper()
	recorder := httptest.NewRecorder()
	require.NoError(t, sessions.Login(recorder, u))
	return recorder.Result().Cookies()[0]
}

func TestGetIndex(t *testing.T) {
	srv, db, sessions := setupTestRouter(t)

	ann := &models.User{ID: 7, Name: "Ann", Role: models.RoleVictim}
	db.On("GetUserByID", mock.Anything, int64(7)).Return(ann, nil)
	db.On("GetUserByID", mock.Anything, int64(8)).Return(nil, models.ErrNotFound)

	type tExpectedResponse struct {
		code int
		body *regexp.Regexp
	}
	type tTestCase struct {
		name             string
		cookie           *http.Cookie
		expectedResponse tExpectedResponse
	}

	testCases := []tTestCase{
		{
			name:             "anonymous",
			expectedResponse: tExpectedResponse{http.StatusOK, regexp.MustCompile(`Welcome, guest`)},
		},
		{
			name:             "logged_in",
			cookie:           sessionCookie(t, sessions, ann),
			expectedResponse: tExpectedResponse{http.StatusOK, regexp.MustCompile(`Welcome back, Ann`)},
		},
		{
			name:             "deleted_user_is_anonymous",
			cookie:           sessionCookie(t, sessions, &models.User{ID: 8}),
			expectedResponse: tExpectedResponse{http.StatusOK, regexp.MustCompile(`Welcome, guest`)},
		},
		{
			name:             "forged_cookie_is_anonymous",
			cookie:           &http.Cookie{Name: testCookieName, Value: "not-a-jwt"},
			expectedResponse: tExpectedResponse{http.StatusOK, regexp.MustCompile(`Welcome, guest`)},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			req := resty.New().R()
			if testCase.cookie != nil {
				req.SetCookie(testCase.cookie)
			}

			resp, err := req.Get(srv.URL + "/")
			require.NoError(t, err)

			assert.Equal(t, testCase.expectedResponse.code, resp.StatusCode())
			assert.Contains(t, resp.Header().Get("Content-Type"), "text/html")
			assert.NotNil(
				t,
				testCase.expectedResponse.body.FindIndex(resp.Body()),
				fmt.Sprintf("The response body should match expected value (%s)", testCase.expectedResponse.body.String()),
			)
		})
	}
}

func TestGetFavicon(t *testing.T) {
	srv, db, sessions := setupTestRouter(t)
	u := &models.User{ID: 3, Name: "Rob", Role: models.RoleResponder}
	db.On("GetUserByID", mock.Anything, int64(3)).Return(u, nil)

	for _, cookie := range []*http.Cookie{nil, sessionCookie(t, sessions, u)} {
		req := resty.New().R().SetHeader("Accept-Encoding", "gzip")
		if cookie != nil {
			req.SetCookie(cookie)
		}
		resp, err := req.Get(srv.URL + "/favicon.ico")
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode())
		assert.Empty(t, resp.Body())
		assert.Empty(t, resp.Header().Get("Content-Encoding"))
	}
}

func TestGetPing(t *testing.T) {
	srv, db, _ := setupTestRouter(t)

	db.On("Ping", mock.Anything).Return(nil).Once()
	resp, err := resty.New().R().Get(srv.URL + "/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	db.On("Ping", mock.Anything).Return(errors.New("connection refused")).Once()
	resp, err = resty.New().R().Get(srv.URL + "/ping")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode())

	db.AssertExpectations(t)
}

func metricsRequest(realIP string) *resty.Request {
	request := resty.New().R()
	if realIP != "" {
		request.SetHeader("X-Real-IP", realIP)
	}
	return request
}

func TestMetricsEndpoint(t *testing.T) {
	type tTestCase struct {
		name    string
		subnet  string
		proxies []string
		realIP  string
		code    int
	}

	testCases := []tTestCase{
		{name: "no_trusted_subnet", subnet: "", realIP: "127.0.0.1", code: http.StatusForbidden},
		{name: "peer_inside_subnet", subnet: "127.0.0.0/8", code: http.StatusOK},
		{name: "spoofed_header_without_proxy", subnet: "10.0.0.0/8", realIP: "10.1.1.1", code: http.StatusForbidden},
		{
			name:    "outside_subnet_behind_proxy",
			subnet:  "10.0.0.0/8",
			proxies: []string{"127.0.0.0/8"},
			realIP:  "192.0.2.1",
			code:    http.StatusForbidden,
		},
		{
			name:    "inside_subnet_behind_proxy",
			subnet:  "10.0.0.0/8",
			proxies: []string{"127.0.0.0/8"},
			realIP:  "10.1.1.1",
			code:    http.StatusOK,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			srv, _, _ := setupTestRouter(t, withTrustedSubnet(testCase.subnet), withTrustedProxies(testCase.proxies...))

			_, err := resty.New().R().Get(srv.URL + "/favicon.ico")
			require.NoError(t, err)

			resp, err := metricsRequest(testCase.realIP).Get(srv.URL + "/metrics")
			require.NoError(t, err)
			assert.Equal(t, testCase.code, resp.StatusCode())
			if testCase.code != http.StatusOK {
				return
			}

			// The counter is bumped after the response has been sent.
			assert.Eventually(t, func() bool {
				resp, err := metricsRequest(testCase.realIP).Get(srv.URL + "/metrics")
				return err == nil && strings.Contains(
					resp.String(),
					`emergency_http_requests_total{method="GET",route="/favicon.ico",status="204"} 1`,
				)
			}, time.Second, 20*time.Millisecond)
		})
	}
}

func TestStaticAssetsAreCompressed(t *testing.T) {
	srv, _, _ := setupTestRouter(t)

	resp, err := resty.New().R().
		SetHeader("Accept-Encoding", "gzip").
		SetDoNotParseResponse(true).
		Get(srv.URL + "/static/style.css")
	require.NoError(t, err)
	defer resp.RawBody().Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, "gzip", resp.Header().Get("Content-Encoding"))
	assert.Contains(t, resp.Header().Get("Content-Type"), "text/css")
}

func TestRouteGroupsRequireLogin(t *testing.T) {
	srv, _, _ := setupTestRouter(t)

	for _, path := range []string{"/emergency/", "/responder/", "/dashboard/", "/map/1"} {
		resp, err := resty.New().R().SetHeader("Accept", "application/json").Get(srv.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode(), path)
	}

	resp, err := resty.New().R().Get(srv.URL + "/auth/login")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
}

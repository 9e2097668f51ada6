package ratelimit

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/emergency/internal/ipchecker"
)

func TestHandlerLimitsPerClient(t *testing.T) {
	rl := New(0.001, 2)
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) int {
		request := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		request.RemoteAddr = ip + ":4000"
		recorder := httptest.NewRecorder()
		h.ServeHTTP(recorder, request)
		return recorder.Code
	}

	assert.Equal(t, http.StatusOK, send("192.0.2.1"))
	assert.Equal(t, http.StatusOK, send("192.0.2.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("192.0.2.1"))
	assert.Equal(t, http.StatusOK, send("192.0.2.2"))
}

func TestHandlerIgnoresRotatedForwardedFor(t *testing.T) {
	type tTestCase struct {
		name     string
		proxies  []string
		wantPass int
	}

	testCases := []tTestCase{
		{name: "default_key", wantPass: 5},
		{name: "untrusted_peer", proxies: []string{"10.0.0.0/8"}, wantPass: 5},
		{name: "trusted_proxy", proxies: []string{"192.0.2.0/24"}, wantPass: 50},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			var opts []InitOption
			if testCase.proxies != nil {
				checker, err := ipchecker.New("", ipchecker.WithTrustedProxies(testCase.proxies...))
				require.NoError(t, err)
				opts = append(opts, WithClientKey(checker.ClientKey))
			}

			h := New(0.001, 5, opts...).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			passed := 0
			last := 0
			for i := 0; i < 50; i++ {
				request := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
				request.RemoteAddr = "192.0.2.1:4000"
				request.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
				recorder := httptest.NewRecorder()
				h.ServeHTTP(recorder, request)
				last = recorder.Code
				if recorder.Code == http.StatusOK {
					passed++
				}
			}

			assert.Equal(t, testCase.wantPass, passed)
			if testCase.wantPass < 50 {
				assert.Equal(t, http.StatusTooManyRequests, last)
			}
		})
	}
}

func TestCleanup(t *testing.T) {
	rl := New(1, 1)
	current := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return current }

	rl.Allow("a")
	current = current.Add(10 * time.Minute)
	rl.Allow("b")

	rl.Cleanup(5 * time.Minute)
	assert.Equal(t, 1, rl.Len())

	assert.True(t, rl.Allow("a"), "forgotten client starts with a full bucket")
}

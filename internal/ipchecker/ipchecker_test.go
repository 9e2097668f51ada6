package ipchecker

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	checker, err := New("")
	require.NoError(t, err)
	assert.True(t, checker.IsTrustedSubnetEmpty())
	assert.False(t, checker.Check(net.ParseIP("127.0.0.1")))

	_, err = New("not-a-cidr")
	assert.Error(t, err)

	_, err = New("", WithTrustedProxies("10.0.0.0/8", "bogus"))
	assert.Error(t, err)

	checker, err = New("10.0.0.0/8", WithTrustedProxies("", " 192.168.0.0/16 "))
	require.NoError(t, err)
	assert.False(t, checker.IsTrustedSubnetEmpty())
	assert.Len(t, checker.trustedProxies, 1)
}

func TestGetClientIP(t *testing.T) {
	type tTestCase struct {
		name       string
		proxies    []string
		headers    map[string]string
		remoteAddr string
		want       string
		wantErr    bool
	}

	tests := []tTestCase{
		{
			name:       "headers_ignored_without_trusted_proxy",
			headers:    map[string]string{"X-Real-IP": "10.1.2.3", "X-Forwarded-For": "10.9.9.9"},
			remoteAddr: "192.0.2.1:1234",
			want:       "192.0.2.1",
		},
		{
			name:       "headers_ignored_from_untrusted_peer",
			proxies:    []string{"172.16.0.0/12"},
			headers:    map[string]string{"X-Real-IP": "10.1.2.3"},
			remoteAddr: "192.0.2.1:1234",
			want:       "192.0.2.1",
		},
		{
			name:       "x_real_ip_from_trusted_proxy",
			proxies:    []string{"172.16.0.0/12"},
			headers:    map[string]string{"X-Real-IP": "10.1.2.3"},
			remoteAddr: "172.16.0.5:1234",
			want:       "10.1.2.3",
		},
		{
			name:       "x_forwarded_for_skips_trusted_hops",
			proxies:    []string{"172.16.0.0/12"},
			headers:    map[string]string{"X-Forwarded-For": "6.6.6.6, 10.9.9.9, 172.16.0.9"},
			remoteAddr: "172.16.0.5:1234",
			want:       "10.9.9.9",
		},
		{
			name:       "garbage_forwarded_for_falls_back",
			proxies:    []string{"172.16.0.0/12"},
			headers:    map[string]string{"X-Forwarded-For": "nonsense"},
			remoteAddr: "172.16.0.5:1234",
			want:       "172.16.0.5",
		},
		{
			name:       "broken_remote_addr",
			remoteAddr: "broken",
			wantErr:    true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			checker, err := New("", WithTrustedProxies(test.proxies...))
			require.NoError(t, err)

			request := httptest.NewRequest(http.MethodGet, "/", nil)
			request.RemoteAddr = test.remoteAddr
			for k, v := range test.headers {
				request.Header.Set(k, v)
			}

			ip, err := checker.GetClientIP(request)
			if test.wantErr {
				assert.Error(t, err)
				assert.Equal(t, test.remoteAddr, checker.ClientKey(request))
				assert.Equal(t, test.remoteAddr, RemoteKey(request))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.want, ip.String())
			assert.Equal(t, test.want, checker.ClientKey(request))
		})
	}
}

func TestRestrictToTrustedSubnet(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	type tTestCase struct {
		name       string
		subnet     string
		proxies    []string
		remoteAddr string
		realIP     string
		want       int
	}

	tests := []tTestCase{
		{name: "no_subnet_trusts_nobody", remoteAddr: "127.0.0.1:1", want: http.StatusForbidden},
		{name: "inside_subnet", subnet: "10.0.0.0/8", remoteAddr: "10.20.30.40:1", want: http.StatusOK},
		{name: "outside_subnet", subnet: "10.0.0.0/8", remoteAddr: "203.0.113.5:1", want: http.StatusForbidden},
		{
			name:       "spoofed_real_ip",
			subnet:     "10.0.0.0/8",
			remoteAddr: "203.0.113.5:1",
			realIP:     "10.20.30.40",
			want:       http.StatusForbidden,
		},
		{
			name:       "real_ip_behind_trusted_proxy",
			subnet:     "10.0.0.0/8",
			proxies:    []string{"127.0.0.0/8"},
			remoteAddr: "127.0.0.1:1",
			realIP:     "10.20.30.40",
			want:       http.StatusOK,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			checker, err := New(test.subnet, WithTrustedProxies(test.proxies...))
			require.NoError(t, err)

			request := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			request.RemoteAddr = test.remoteAddr
			if test.realIP != "" {
				request.Header.Set("X-Real-IP", test.realIP)
			}
			recorder := httptest.NewRecorder()

			checker.RestrictToTrustedSubnet(ok).ServeHTTP(recorder, request)
			assert.Equal(t, test.want, recorder.Code)
		})
	}
}

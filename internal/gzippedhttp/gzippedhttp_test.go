package gzippedhttp

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gunzip(t *testing.T, body []byte) string {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	return string(plain)
}

func TestGzipResponse(t *testing.T) {
	type tTestCase struct {
		name           string
		acceptEncoding string
		upgrade        string
		handler        http.HandlerFunc
		wantStatus     int
		wantGzip       bool
		wantBody       string
	}

	textHandler := func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html><body>hello</body></html>")
	}

	tests := []tTestCase{
		{
			name:           "compresses_when_accepted",
			acceptEncoding: "gzip, deflate",
			handler:        textHandler,
			wantStatus:     http.StatusOK,
			wantGzip:       true,
			wantBody:       "<html><body>hello</body></html>",
		},
		{
			name:       "plain_when_not_accepted",
			handler:    textHandler,
			wantStatus: http.StatusOK,
			wantBody:   "<html><body>hello</body></html>",
		},
		{
			name:           "no_content_is_untouched",
			acceptEncoding: "gzip",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNoContent)
			},
			wantStatus: http.StatusNoContent,
		},
		{
			name:           "redirect_is_untouched",
			acceptEncoding: "gzip",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/auth/login", http.StatusFound)
			},
			wantStatus: http.StatusFound,
		},
		{
			name:           "websocket_upgrade_is_skipped",
			acceptEncoding: "gzip",
			upgrade:        "websocket",
			handler:        textHandler,
			wantStatus:     http.StatusOK,
			wantBody:       "<html><body>hello</body></html>",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/", nil)
			if test.acceptEncoding != "" {
				request.Header.Set("Accept-Encoding", test.acceptEncoding)
			}
			if test.upgrade != "" {
				request.Header.Set("Upgrade", test.upgrade)
			}
			recorder := httptest.NewRecorder()

			GzipResponse(test.handler).ServeHTTP(recorder, request)

			assert.Equal(t, test.wantStatus, recorder.Code)
			if test.wantGzip {
				assert.Equal(t, "gzip", recorder.Header().Get("Content-Encoding"))
				assert.Equal(t, "Accept-Encoding", recorder.Header().Get("Vary"))
				assert.Contains(t, recorder.Header().Get("Content-Type"), "text/html")
				assert.Equal(t, test.wantBody, gunzip(t, recorder.Body.Bytes()))
				return
			}
			assert.Empty(t, recorder.Header().Get("Content-Encoding"))
			if test.wantBody != "" {
				assert.Equal(t, test.wantBody, recorder.Body.String())
			}
		})
	}
}

func TestUngzipRequest(t *testing.T) {
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		_, _ = w.Write(body)
	})

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"lat":1,"lng":2}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	request := httptest.NewRequest(http.MethodPost, "/", &buf)
	request.Header.Set("Content-Encoding", "gzip")
	recorder := httptest.NewRecorder()
	UngzipRequest(echo).ServeHTTP(recorder, request)
	assert.Equal(t, `{"lat":1,"lng":2}`, recorder.Body.String())

	request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not gzip"))
	request.Header.Set("Content-Encoding", "gzip")
	recorder = httptest.NewRecorder()
	UngzipRequest(echo).ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

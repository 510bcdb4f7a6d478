package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRequestLoggerWritesLineAndContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "json", "info")

	var ctxLogged bool
	handler := RequestLogger{Logger: logger}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("inside")
		ctxLogged = true
		w.WriteHeader(http.StatusTeapot)
	}))
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req = req.WithContext(WithRoutePattern(req.Context(), "/health/live"))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, ctxLogged)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &entry))
	require.Equal(t, "http_request", entry["message"])
	require.Equal(t, "/health/live", entry["route"])
	require.Equal(t, float64(http.StatusTeapot), entry["status"])
}

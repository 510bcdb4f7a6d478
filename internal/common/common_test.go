package common

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestIdemRejectsReplayAndReleasesOnFailure(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	status := http.StatusOK
	h := Idem{R: rdb, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	call := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/actions/sync_ercom", nil)
		req.Header.Set("Idempotency-Key", "abc")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	require.Equal(t, http.StatusOK, call())
	require.Equal(t, http.StatusConflict, call())

	mr.FlushAll()
	status = http.StatusBadGateway
	require.Equal(t, http.StatusBadGateway, call())
	require.Equal(t, http.StatusBadGateway, call(), "a failed request must not block a manual retry")
}

func TestDecodeJSONValidates(t *testing.T) {
	type body struct {
		Rates []float64 `json:"rates" validate:"required,min=1"`
	}
	var b body
	err := DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"rates":[]}`)), &b)
	appErr := AsAppError(err)
	require.NotNil(t, appErr)
	require.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
	require.Equal(t, map[string]string{"Rates": "min"}, appErr.Details)

	err = DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"rates":[10],"x":1}`)), &b)
	require.Error(t, err)

	require.NoError(t, DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"rates":[10]}`)), &b))
	require.Equal(t, []float64{10}, b.Rates)
}

func TestWriteErrorHidesInternalErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, errors.New("db password is hunter2"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "hunter2")

	rr = httptest.NewRecorder()
	WriteError(rr, NewAppError("NOT_FOUND", "run not found", http.StatusNotFound, nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Body.String(), "NOT_FOUND")
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, "203.0.113.7", ClientIP(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.2:5555"
	require.Equal(t, "198.51.100.2", ClientIP(req))
}

func TestHMACHelpers(t *testing.T) {
	require.Equal(t, "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", HMACSHA256Hex("key", []byte("The quick brown fox jumps over the lazy dog")))
	require.Equal(t, "97yD9DBThCSxMpjmqm+xQ+9NWaFJRhdZl0edvC0aPNg=", HMACSHA256Base64("key", []byte("The quick brown fox jumps over the lazy dog")))
}

func TestJSONKeepsItemNamesUnescaped(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusOK, map[string]string{"item_name": "PVC <60> & Profil"})

	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.Equal(t, "{\"item_name\":\"PVC <60> & Profil\"}\n", rec.Body.String())

	rec = httptest.NewRecorder()
	JSON(rec, http.StatusNoContent, map[string]string{"ignored": "x"})
	require.Empty(t, rec.Body.String())
}

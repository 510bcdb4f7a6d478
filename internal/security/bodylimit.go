package security

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ozerpan/ercom-sync/internal/common"
)

// BodyLimit enforces a maximum request payload size.
type BodyLimit struct {
	Max int64
	// Overrides raises or lowers the limit for path prefixes, e.g. file
	// uploads. The longest matching prefix wins.
	Overrides map[string]int64
}

func (b BodyLimit) limitFor(path string) int64 {
	limit, matched := b.Max, ""
	for prefix, max := range b.Overrides {
		if strings.HasPrefix(path, prefix) && len(prefix) > len(matched) {
			limit, matched = max, prefix
		}
	}
	return limit
}

// Middleware rejects requests exceeding the configured limit with HTTP 413.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		max := b.limitFor(r.URL.Path)
		if max <= 0 || r.Body == nil {
			next.ServeHTTP(w, r)
			return
		}

		if r.ContentLength > max && r.ContentLength != -1 {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large", nil)
			return
		}

		limited := io.LimitReader(r.Body, max+1)
		buf, err := io.ReadAll(limited)
		if err != nil && !errors.Is(err, io.EOF) {
			common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "invalid request body", nil)
			return
		}
		if int64(len(buf)) > max {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request entity too large", nil)
			return
		}

		_ = r.Body.Close()

		r.Body = io.NopCloser(bytes.NewReader(buf))
		r.ContentLength = int64(len(buf))
		next.ServeHTTP(w, r)
	})
}

package forms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ozerpan/ercom-sync/internal/cache"
	"github.com/ozerpan/ercom-sync/internal/erp"
	"github.com/ozerpan/ercom-sync/internal/resilience"
)

// frappeCustomer serves one Customer over the Frappe resource API.
type frappeCustomer struct {
	mu  sync.Mutex
	doc map[string]any
}

func (f *frappeCustomer) setRates(rates ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := make([]any, len(rates))
	for i, r := range rates {
		rows[i] = map[string]any{"discount_rate": r}
	}
	f.doc["custom_discounts"] = rows
}

func (f *frappeCustomer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.URL.Path != "/api/resource/Customer/ACME" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		_ = json.NewEncoder(w).Encode(map[string]any{"data": f.doc})
	case http.MethodPut:
		var patch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for k, v := range patch {
			f.doc[k] = v
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": f.doc})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestRecomputeCustomerIgnoresCachedDocument(t *testing.T) {
	site := &frappeCustomer{doc: map[string]any{"doctype": "Customer", "name": "ACME"}}
	site.setRates(10)
	srv := httptest.NewServer(site)
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	client := erp.New(erp.Options{
		BaseURL: srv.URL,
		HTTP:    resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
		Cache:   cache.NewJSON(rdb, "erp:doc:", 2*time.Minute),
		Logger:  zerolog.Nop(),
	})
	svc := &Service{ERP: client, Logger: zerolog.Nop()}
	ctx := context.Background()

	res, err := svc.RecomputeCustomer(ctx, "ACME", TriggerAPI)
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, "10", res.Total.String())

	// the save fires a webhook for the same document
	res, err = svc.RecomputeCustomer(ctx, "ACME", TriggerWebhook)
	require.NoError(t, err)
	require.False(t, res.Changed)

	// a user edits the discount table in the ERP while the document is cached
	_, err = client.GetDoc(ctx, "Customer", "ACME")
	require.NoError(t, err)
	site.setRates(10, 20)

	res, err = svc.RecomputeCustomer(ctx, "ACME", TriggerWebhook)
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, "28", res.Total.String())

	site.mu.Lock()
	stored := site.doc["custom_total_discount_rate"]
	site.mu.Unlock()
	require.Equal(t, float64(28), stored)

	cached, err := client.GetDoc(ctx, "Customer", "ACME")
	require.NoError(t, err)
	require.Equal(t, float64(28), cached["custom_total_discount_rate"])
}

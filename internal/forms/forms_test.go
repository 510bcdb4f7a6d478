package forms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ozerpan/ercom-sync/internal/common"
	"github.com/ozerpan/ercom-sync/internal/erp"
	"github.com/ozerpan/ercom-sync/internal/erp/erptest"
	"github.com/ozerpan/ercom-sync/internal/events"
	"github.com/ozerpan/ercom-sync/internal/notify"
)

const secret = "hook-secret"

type captureEmitter struct {
	topics []string
}

func (c *captureEmitter) Emit(_ context.Context, topic, aggregateID string, _ any) (events.Event, error) {
	c.topics = append(c.topics, topic+":"+aggregateID)
	return events.Event{}, nil
}

type fixture struct {
	erp    *erptest.Fake
	events *captureEmitter
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := erptest.New()
	fake.Put(erp.Doc{
		"doctype":       "Customer",
		"name":          "ACME",
		"customer_name": "ACME",
		"custom_discounts": []any{
			map[string]any{"discount_rate": 10},
			map[string]any{"discount_rate": "20"},
		},
	})
	fake.Put(erp.Doc{"doctype": "Customer", "name": "Plain", "customer_name": "Plain"})
	fake.Put(erp.Doc{"doctype": "Sales Order", "name": "SO-1", "customer": "ACME", "docstatus": float64(0)})
	fake.Put(erp.Doc{"doctype": "Sales Order", "name": "SO-2", "customer": "ACME", "docstatus": float64(1)})
	fake.Put(erp.Doc{"doctype": "Sales Order", "name": "SO-3", "docstatus": float64(0)})

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	em := &captureEmitter{}
	h := &Handler{
		Svc:    &Service{ERP: fake, Events: em, Logger: zerolog.Nop()},
		Secret: secret,
		Replay: notify.ReplayGuard{Client: client, Prefix: "replay:"},
	}
	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)
	r.Post("/hooks/erp/{doctype}", h.Hook)
	return &fixture{erp: fake, events: em, router: r}
}

func (f *fixture) do(t *testing.T, path, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func notice(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	n, ok := body["notice"].(map[string]any)
	require.True(t, ok, "missing notice in %v", body)
	return n
}

func TestAggregateEndpoint(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, "/api/v1/discounts/aggregate", `{"rates":[10,"20"]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "28", body["total"])

	rec, body = f.do(t, "/api/v1/discounts/aggregate", `{"rates":[]}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "0", body["total"])

	rec, _ = f.do(t, "/api/v1/discounts/aggregate", `{"rates":["x"]}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecomputeCustomer(t *testing.T) {
	f := newFixture(t)
	rec, body := f.do(t, "/api/v1/customers/ACME/discounts/recompute", ``, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, notify.IndicatorGreen, notice(t, body)["indicator"])
	require.Equal(t, float64(28), f.erp.Doc("Customer", "ACME").Float("custom_total_discount_rate"))
	require.Equal(t, []string{events.TopicDiscountRecomputed + ":Customer/ACME"}, f.events.topics)

	res, err := (&Service{ERP: f.erp, Logger: zerolog.Nop()}).RecomputeCustomer(context.Background(), "ACME", TriggerAPI)
	require.NoError(t, err)
	require.False(t, res.Changed)
	writes := 0
	for _, c := range f.erp.Calls {
		if strings.HasPrefix(c, "set Customer ACME") {
			writes++
		}
	}
	require.Equal(t, 1, writes)

	res, err = (&Service{ERP: f.erp, Logger: zerolog.Nop()}).RecomputeCustomer(context.Background(), "Plain", TriggerAPI)
	require.NoError(t, err)
	require.True(t, res.Total.IsZero())

	rec, body = f.do(t, "/api/v1/customers/Nobody/discounts/recompute", ``, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, notify.IndicatorRed, notice(t, body)["indicator"])
}

func TestCopyCustomerDiscount(t *testing.T) {
	f := newFixture(t)
	_, err := (&Service{ERP: f.erp}).RecomputeCustomer(context.Background(), "ACME", TriggerAPI)
	require.NoError(t, err)

	rec, _ := f.do(t, "/api/v1/sales-orders/SO-1/customer-discount", ``, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	so := f.erp.Doc("Sales Order", "SO-1")
	require.Equal(t, float64(28), so.Float("additional_discount_percentage"))
	require.Equal(t, "Grand Total", so.Str("apply_discount_on"))

	rec, body := f.do(t, "/api/v1/sales-orders/SO-2/customer-discount", ``, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, notify.IndicatorRed, notice(t, body)["indicator"])

	rec, _ = f.do(t, "/api/v1/sales-orders/SO-3/customer-discount", ``, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestValidateSalesOrder(t *testing.T) {
	f := newFixture(t)
	_, err := (&Service{ERP: f.erp}).RecomputeCustomer(context.Background(), "ACME", TriggerAPI)
	require.NoError(t, err)

	rec, body := f.do(t, "/api/v1/sales-orders/SO-1/validate", ``, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	n := notice(t, body)
	require.Equal(t, "Customer Discount was not applied to the Sales Order", n["message"])
	require.Equal(t, notify.IndicatorRed, n["indicator"])

	_, err = (&Service{ERP: f.erp}).CopyCustomerDiscount(context.Background(), "SO-1", TriggerAPI)
	require.NoError(t, err)
	rec, body = f.do(t, "/api/v1/sales-orders/SO-1/validate", ``, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, true, body["valid"])
}

func signed(body string) map[string]string {
	return map[string]string{SignatureHeader: common.HMACSHA256Base64(secret, []byte(body))}
}

func TestHookRecomputesAndRejectsReplays(t *testing.T) {
	f := newFixture(t)
	body := `{"doctype":"Customer","name":"ACME","modified":"2024-05-01 10:00:00"}`

	rec, _ := f.do(t, "/hooks/erp/customer", body, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = f.do(t, "/hooks/erp/customer", body, map[string]string{SignatureHeader: "bm9wZQ=="})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, out := f.do(t, "/hooks/erp/customer", body, signed(body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", out["status"])
	require.Equal(t, float64(28), f.erp.Doc("Customer", "ACME").Float("custom_total_discount_rate"))

	rec, _ = f.do(t, "/hooks/erp/customer", body, signed(body))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestHookSalesOrder(t *testing.T) {
	f := newFixture(t)
	_, err := (&Service{ERP: f.erp}).RecomputeCustomer(context.Background(), "ACME", TriggerAPI)
	require.NoError(t, err)

	body := `{"doctype":"Sales Order","name":"SO-1","docstatus":0}`
	rec, _ := f.do(t, "/hooks/erp/sales-order", body, signed(body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(28), f.erp.Doc("Sales Order", "SO-1").Float("additional_discount_percentage"))

	submitted := `{"doctype":"Sales Order","name":"SO-2","docstatus":1}`
	rec, out := f.do(t, "/hooks/erp/sales_order", submitted, signed(submitted))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ignored", out["status"])

	rec, _ = f.do(t, "/hooks/erp/item", body, signed(body))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHookFailureReleasesReplayKey(t *testing.T) {
	f := newFixture(t)
	body := `{"doctype":"Sales Order","name":"SO-3","docstatus":0}`
	rec, _ := f.do(t, "/hooks/erp/sales-order", body, signed(body))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = f.do(t, "/hooks/erp/sales-order", body, signed(body))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestNormaliseDoctype(t *testing.T) {
	require.Equal(t, DoctypeCustomer, normaliseDoctype("Customer"))
	require.Equal(t, DoctypeSalesOrder, normaliseDoctype("Sales%20Order"))
	require.Equal(t, DoctypeSalesOrder, normaliseDoctype("sales-order"))
	require.Equal(t, "", normaliseDoctype("Item"))
}

func TestRecomputeSettlesAtFieldPrecision(t *testing.T) {
	f := newFixture(t)
	rows := make([]any, 6)
	for i := range rows {
		rows[i] = map[string]any{"discount_rate": 10}
	}
	f.erp.Put(erp.Doc{"doctype": "Customer", "name": "Six", "custom_discounts": rows})
	f.erp.Put(erp.Doc{"doctype": "Sales Order", "name": "SO-6", "customer": "Six", "docstatus": float64(0)})
	svc := &Service{ERP: f.erp, Logger: zerolog.Nop()}
	ctx := context.Background()

	res, err := svc.RecomputeCustomer(ctx, "Six", TriggerAPI)
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, "46.8559", res.Total.String())
	require.Equal(t, 46.856, f.erp.Doc("Customer", "Six").Float("custom_total_discount_rate"))

	res, err = svc.RecomputeCustomer(ctx, "Six", TriggerWebhook)
	require.NoError(t, err)
	require.False(t, res.Changed, "a value rounded by the ERP is not a change")

	res, err = svc.CopyCustomerDiscount(ctx, "SO-6", TriggerAPI)
	require.NoError(t, err)
	require.True(t, res.Changed)
	require.Equal(t, 46.856, f.erp.Doc("Sales Order", "SO-6").Float("additional_discount_percentage"))

	res, err = svc.CopyCustomerDiscount(ctx, "SO-6", TriggerWebhook)
	require.NoError(t, err)
	require.False(t, res.Changed)
	require.NoError(t, svc.ValidateSalesOrder(ctx, "SO-6"))
}

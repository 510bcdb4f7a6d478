package forms

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ozerpan/ercom-sync/internal/common"
	"github.com/ozerpan/ercom-sync/internal/discount"
	"github.com/ozerpan/ercom-sync/internal/erp"
	"github.com/ozerpan/ercom-sync/internal/notify"
)

// SignatureHeader carries the base64 HMAC-SHA256 of an ERP webhook body.
const SignatureHeader = "X-Frappe-Webhook-Signature"

const maxHookBody = 1 << 20

// Notice titles.
const (
	titleCustomerDiscount = "Customer Discount"
	titleOrderDiscount    = "Sales Order Discount"
)

// Handler serves the discount endpoints and the ERP document webhook.
type Handler struct {
	Svc *Service
	// Secret verifies inbound webhooks. Empty rejects every hook.
	Secret string
	Replay notify.ReplayProtector
}

type aggregateRequest struct {
	Rates []decimal.Decimal `json:"rates" validate:"max=500"`
}

// Routes mounts the API endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/discounts/aggregate", h.Aggregate)
	r.Post("/customers/{name}/discounts/recompute", h.RecomputeCustomer)
	r.Post("/sales-orders/{name}/customer-discount", h.CopyCustomerDiscount)
	r.Post("/sales-orders/{name}/validate", h.ValidateSalesOrder)
}

// Aggregate handles POST /api/v1/discounts/aggregate.
func (h *Handler) Aggregate(w http.ResponseWriter, r *http.Request) {
	var req aggregateRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"total": discount.AggregateRates(req.Rates...)})
}

// RecomputeCustomer handles POST /api/v1/customers/{name}/discounts/recompute.
func (h *Handler) RecomputeCustomer(w http.ResponseWriter, r *http.Request) {
	res, err := h.Svc.RecomputeCustomer(r.Context(), chi.URLParam(r, "name"), TriggerAPI)
	if err != nil {
		h.writeError(w, titleCustomerDiscount, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"notice": notify.Success(titleCustomerDiscount, "Total discount rate is "+res.Total.String()),
		"result": res,
	})
}

// CopyCustomerDiscount handles POST /api/v1/sales-orders/{name}/customer-discount.
func (h *Handler) CopyCustomerDiscount(w http.ResponseWriter, r *http.Request) {
	res, err := h.Svc.CopyCustomerDiscount(r.Context(), chi.URLParam(r, "name"), TriggerAPI)
	if err != nil {
		h.writeError(w, titleOrderDiscount, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"notice": notify.Success(titleOrderDiscount, "Customer discount "+res.Total.String()+"% applied"),
		"result": res,
	})
}

// ValidateSalesOrder handles POST /api/v1/sales-orders/{name}/validate.
func (h *Handler) ValidateSalesOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.ValidateSalesOrder(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.writeError(w, titleOrderDiscount, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"notice": notify.Success(titleOrderDiscount, "Customer discount is applied"),
		"valid":  true,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, title string, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	msg := err.Error()
	switch {
	case errors.Is(err, discount.ErrDiscountNotApplied):
		status, code, msg = http.StatusUnprocessableEntity, "DISCOUNT_NOT_APPLIED", discount.ErrDiscountNotApplied.Error()
	case errors.Is(err, ErrNotDraft):
		status, code = http.StatusConflict, "NOT_DRAFT"
	case errors.Is(err, ErrNoCustomer):
		status, code = http.StatusUnprocessableEntity, "NO_CUSTOMER"
	case errors.Is(err, erp.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	default:
		var remote *erp.RemoteError
		if errors.As(err, &remote) {
			status, code = http.StatusBadGateway, "ERP_ERROR"
		}
	}
	common.JSON(w, status, map[string]any{
		"notice": notify.Failure(title, msg),
		"error":  common.ErrorBody{Code: code, Message: msg},
	})
}

// Hook handles POST /hooks/erp/{doctype}.
func (h *Handler) Hook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxHookBody))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	if !h.verify(r.Header.Get(SignatureHeader), body) {
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}
	doctype := normaliseDoctype(chi.URLParam(r, "doctype"))
	if doctype == "" {
		common.JSONError(w, http.StatusUnprocessableEntity, "UNSUPPORTED_DOCTYPE", "unsupported doctype", nil)
		return
	}
	var doc erp.Doc
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&doc); err != nil || doc.Name() == "" {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "document name is required", nil)
		return
	}

	key := "erp:" + common.Sha256Hex(doctype+"|"+string(body))
	if h.Replay != nil {
		ok, err := h.Replay.Acquire(r.Context(), key, 0)
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", "replay store unavailable", nil)
			return
		}
		if !ok {
			common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate webhook", nil)
			return
		}
	}

	var res Recomputed
	switch doctype {
	case DoctypeCustomer:
		res, err = h.Svc.RecomputeCustomer(r.Context(), doc.Name(), TriggerWebhook)
	case DoctypeSalesOrder:
		if doc.DocStatus() != 0 {
			common.JSON(w, http.StatusOK, map[string]any{"status": "ignored"})
			return
		}
		res, err = h.Svc.CopyCustomerDiscount(r.Context(), doc.Name(), TriggerWebhook)
	}
	if err != nil {
		if h.Replay != nil {
			_ = h.Replay.Release(r.Context(), key)
		}
		title := titleCustomerDiscount
		if doctype == DoctypeSalesOrder {
			title = titleOrderDiscount
		}
		h.writeError(w, title, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"status": "ok", "result": res})
}

func (h *Handler) verify(signature string, body []byte) bool {
	if h.Secret == "" || signature == "" {
		return false
	}
	expected := common.HMACSHA256Base64(h.Secret, body)
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(signature)), []byte(expected)) == 1
}

// normaliseDoctype accepts "Customer", "customer", "sales-order" and
// "sales_order" style path values.
func normaliseDoctype(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	v = strings.NewReplacer("-", " ", "_", " ", "%20", " ").Replace(v)
	switch v {
	case "customer":
		return DoctypeCustomer
	case "sales order":
		return DoctypeSalesOrder
	default:
		return ""
	}
}

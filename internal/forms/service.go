// Package forms keeps the discount fields of customers and sales orders
// consistent when those records change.
package forms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ozerpan/ercom-sync/internal/discount"
	"github.com/ozerpan/ercom-sync/internal/erp"
	"github.com/ozerpan/ercom-sync/internal/events"
	"github.com/ozerpan/ercom-sync/internal/obs"
)

// Doctypes handled here.
const (
	DoctypeCustomer   = "Customer"
	DoctypeSalesOrder = "Sales Order"
)

// Recompute triggers, used as metric labels.
const (
	TriggerAPI     = "api"
	TriggerWebhook = "webhook"
)

var (
	// ErrNotDraft is returned when a submitted or cancelled order would be
	// modified.
	ErrNotDraft = errors.New("forms: sales order is not a draft")
	// ErrNoCustomer is returned for orders without a customer.
	ErrNoCustomer = errors.New("forms: sales order has no customer")
)

// ERP is the part of the ERP client the handlers use. Reads bypass the
// document cache because the values read are written back.
type ERP interface {
	GetDocFresh(ctx context.Context, doctype, name string) (erp.Doc, error)
	SetValue(ctx context.Context, doctype, name, field string, value any) error
}

// Service applies discount rules to ERP records.
type Service struct {
	ERP    ERP
	Events events.Emitter
	Logger zerolog.Logger
}

// Recomputed describes a discount rewrite.
type Recomputed struct {
	Doctype string          `json:"doctype"`
	Name    string          `json:"name"`
	Field   string          `json:"field"`
	Total   decimal.Decimal `json:"total"`
	Changed bool            `json:"changed"`
}

// RecomputeCustomer aggregates the customer's discount table into
// custom_total_discount_rate. The field is only written when it differs so
// that the resulting save does not trigger another round.
func (s *Service) RecomputeCustomer(ctx context.Context, name, trigger string) (Recomputed, error) {
	name = strings.TrimSpace(name)
	doc, err := s.ERP.GetDocFresh(ctx, DoctypeCustomer, name)
	if err != nil {
		return Recomputed{}, fmt.Errorf("load customer %s: %w", name, err)
	}
	stored := discount.FieldDecimal(doc, discount.CustomerTotalField)

	set := discount.SetFromTable(doc, discount.CustomerTable, discount.CustomerRowField)
	discount.Bind(set, doc, discount.CustomerTotalField)
	total := set.Total()

	res := Recomputed{Doctype: DoctypeCustomer, Name: name, Field: discount.CustomerTotalField, Total: total}
	if discount.SameStored(stored, total) {
		return res, nil
	}
	if err := s.ERP.SetValue(ctx, DoctypeCustomer, name, discount.CustomerTotalField, discount.Stored(total)); err != nil {
		return Recomputed{}, fmt.Errorf("save customer %s: %w", name, err)
	}
	res.Changed = true
	s.recomputed(ctx, trigger, res)
	return res, nil
}

// CopyCustomerDiscount copies the customer's total rate onto a draft sales
// order.
func (s *Service) CopyCustomerDiscount(ctx context.Context, orderName, trigger string) (Recomputed, error) {
	order, customer, err := s.orderAndCustomer(ctx, orderName)
	if err != nil {
		return Recomputed{}, err
	}
	if order.DocStatus() != 0 {
		return Recomputed{}, fmt.Errorf("%w: %s", ErrNotDraft, order.Name())
	}
	before := discount.FieldDecimal(order, discount.OrderPercentField)
	applyOn := discount.FieldString(order, discount.OrderApplyOnField)

	rate := discount.CopyCustomerRate(customer, order)
	res := Recomputed{Doctype: DoctypeSalesOrder, Name: order.Name(), Field: discount.OrderPercentField, Total: rate}
	if discount.SameStored(before, rate) && applyOn == discount.ApplyOnGrandTotal {
		return res, nil
	}
	if applyOn != discount.ApplyOnGrandTotal {
		if err := s.ERP.SetValue(ctx, DoctypeSalesOrder, order.Name(), discount.OrderApplyOnField, discount.ApplyOnGrandTotal); err != nil {
			return Recomputed{}, fmt.Errorf("save sales order %s: %w", order.Name(), err)
		}
	}
	if err := s.ERP.SetValue(ctx, DoctypeSalesOrder, order.Name(), discount.OrderPercentField, discount.Stored(rate)); err != nil {
		return Recomputed{}, fmt.Errorf("save sales order %s: %w", order.Name(), err)
	}
	res.Changed = true
	s.recomputed(ctx, trigger, res)
	return res, nil
}

// ValidateSalesOrder checks that the order carries its customer's discount.
func (s *Service) ValidateSalesOrder(ctx context.Context, orderName string) error {
	order, customer, err := s.orderAndCustomer(ctx, orderName)
	if err != nil {
		return err
	}
	return discount.CheckSalesOrder(discount.FieldDecimal(customer, discount.CustomerTotalField), order)
}

func (s *Service) orderAndCustomer(ctx context.Context, orderName string) (erp.Doc, erp.Doc, error) {
	orderName = strings.TrimSpace(orderName)
	order, err := s.ERP.GetDocFresh(ctx, DoctypeSalesOrder, orderName)
	if err != nil {
		return nil, nil, fmt.Errorf("load sales order %s: %w", orderName, err)
	}
	customerName := discount.FieldString(order, discount.OrderCustomerField)
	if customerName == "" {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoCustomer, orderName)
	}
	customer, err := s.ERP.GetDocFresh(ctx, DoctypeCustomer, customerName)
	if err != nil {
		return nil, nil, fmt.Errorf("load customer %s: %w", customerName, err)
	}
	return order, customer, nil
}

func (s *Service) recomputed(ctx context.Context, trigger string, res Recomputed) {
	obs.IncCounter(obs.DiscountRecomputeTotal, trigger)
	s.Logger.Info().
		Str("doctype", res.Doctype).
		Str("name", res.Name).
		Str("total", res.Total.String()).
		Str("trigger", trigger).
		Msg("discount recomputed")
	if s.Events == nil {
		return
	}
	if _, err := s.Events.Emit(context.WithoutCancel(ctx), events.TopicDiscountRecomputed, res.Doctype+"/"+res.Name, res); err != nil {
		s.Logger.Error().Err(err).Msg("emit discount event")
	}
}

package discount

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ERP field names touched by the discount handlers.
const (
	CustomerTotalField = "custom_total_discount_rate"
	CustomerTable      = "custom_discounts"
	CustomerRowField   = "discount_rate"
	OrderPercentField  = "additional_discount_percentage"
	OrderApplyOnField  = "apply_discount_on"
	OrderCustomerField = "customer"
	ApplyOnGrandTotal  = "Grand Total"
)

// ErrDiscountNotApplied is returned when a sales order does not carry its customer's discount.
var ErrDiscountNotApplied = errors.New("Customer Discount was not applied to the Sales Order")

// CopyCustomerRate copies the customer's precomputed total into the order as
// a grand-total discount. No aggregation happens here.
func CopyCustomerRate(customer, order Record) decimal.Decimal {
	rate := FieldDecimal(customer, CustomerTotalField)
	order.SetField(OrderPercentField, rate.InexactFloat64())
	order.SetField(OrderApplyOnField, ApplyOnGrandTotal)
	return rate
}

// CheckSalesOrder verifies the order applies the customer's rate on the grand
// total. A zero customer rate always passes.
func CheckSalesOrder(customerRate decimal.Decimal, order Record) error {
	if customerRate.IsZero() {
		return nil
	}
	if FieldString(order, OrderApplyOnField) != ApplyOnGrandTotal {
		return ErrDiscountNotApplied
	}
	if !SameStored(FieldDecimal(order, OrderPercentField), customerRate) {
		return ErrDiscountNotApplied
	}
	return nil
}

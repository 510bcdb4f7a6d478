package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/ozerpan/ercom-sync/internal/ercom"
	"github.com/ozerpan/ercom-sync/internal/ercomsync"
	"github.com/ozerpan/ercom-sync/internal/erp"
	"github.com/ozerpan/ercom-sync/internal/obs"
	"github.com/ozerpan/ercom-sync/internal/sheet"
)

// Sales tax row added to every ERCOM order.
const (
	TaxAccountName   = "ERCOM HESAPLANAN KDV 20"
	TaxAccountNumber = "391.99"
	TaxRate          = 20.0
	TaxChargeType    = "On Net Total"
	taxParentAccount = "391 - HESAPLANAN KDV"
)

// BOM pricing settings for sheet-derived BOMs.
const (
	bomCostBasis    = "Price List"
	bomBuyingList   = "Standard Selling"
	rawMaterialPref = "erc-"
)

// MLYStats summarises a processed material list.
type MLYStats struct {
	OrderNo    string `json:"order_no"`
	SalesOrder string `json:"sales_order"`
	Sheets     int    `json:"sheets"`
	Items      int    `json:"items"`
	Skipped    int    `json:"skipped"`
}

// ProcessMLY builds an Item and a submitted BOM for each sheet and adds
// them to the order's draft Sales Order.
func (p *Processor) ProcessMLY(ctx context.Context, wb *sheet.Workbook) (MLYStats, error) {
	mly, err := sheet.ReadMLY(wb)
	if err != nil {
		return MLYStats{}, err
	}
	st := MLYStats{OrderNo: mly.OrderNo, Sheets: len(mly.Sheets)}
	logger := p.log(ctx)

	so, err := p.latestOrder(ctx, erp.Filters{"custom_ercom_order_no": mly.OrderNo, "status": "Draft"})
	if err != nil {
		return st, err
	}
	if so == nil {
		return st, ErrNoSalesOrder
	}
	st.SalesOrder = so.Name()

	positions, err := p.Source.PositionsByOrder(ctx, mly.OrderNo)
	if err != nil {
		return st, fmt.Errorf("load positions %s: %w", mly.OrderNo, err)
	}
	if err := p.ensureTax(ctx, so); err != nil {
		return st, err
	}

	for i, sh := range mly.Sheets {
		p.progress(ctx, "MLY "+mly.OrderNo, i+1, len(mly.Sheets))
		obs.AddCounter(obs.SheetRowsTotal, len(sh.Materials), "mly")
		if sh.Index >= len(positions) {
			logger.Warn().Str("sheet", sh.Name).Int("index", sh.Index).Msg("no position for sheet")
			st.Skipped++
			continue
		}
		poz := positions[sh.Index]
		item, err := p.upsertSheetItem(ctx, sh, poz)
		if err != nil {
			return st, err
		}
		bom, err := p.createSheetBOM(ctx, item, sh, poz)
		if err != nil {
			return st, err
		}
		so.Append("items", erp.Doc{
			"item_code":   item.Name(),
			"item_name":   item.Str("item_name"),
			"description": item.Str("description"),
			"qty":         item.Float("custom_quantity"),
			"uom":         item.Str("stock_uom"),
			"rate":        bom.Float("total_cost"),
		})
		st.Items++
	}

	if _, err := p.ERP.Save(ctx, so); err != nil {
		return st, fmt.Errorf("save sales order %s: %w", so.Name(), err)
	}
	logger.Info().Str("sales_order", so.Name()).Int("items", st.Items).Msg("mly processed")
	return st, nil
}

func (p *Processor) latestOrder(ctx context.Context, filters erp.Filters) (erp.Doc, error) {
	rows, err := p.ERP.GetList(ctx, "Sales Order", erp.ListQuery{
		Filters: filters,
		OrderBy: "creation desc",
		Limit:   1,
	})
	if err != nil {
		return nil, fmt.Errorf("find sales order: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return p.ERP.GetDoc(ctx, "Sales Order", rows[0].Name())
}

func (p *Processor) upsertSheetItem(ctx context.Context, sh sheet.MLYSheet, poz ercom.Position) (erp.Doc, error) {
	it, err := p.ERP.GetDoc(ctx, "Item", sh.ItemCode)
	switch {
	case errors.Is(err, erp.ErrNotFound):
		it = erp.NewDoc("Item")
		it["item_code"] = sh.ItemCode
		it["item_name"] = sh.ItemCode
		it["item_group"] = "All Item Groups"
		it["stock_uom"] = "Nos"
	case err != nil:
		return nil, err
	}
	for k, v := range ercomsync.PositionFields(poz) {
		it[k] = v
	}
	it["valuation_rate"] = sh.TotalPrice.InexactFloat64()
	if it.Name() == "" {
		it, err = p.ERP.Insert(ctx, it)
	} else {
		it, err = p.ERP.Save(ctx, it)
	}
	if err != nil {
		return nil, fmt.Errorf("item %s: %w", sh.ItemCode, err)
	}
	return it, nil
}

func (p *Processor) createSheetBOM(ctx context.Context, item erp.Doc, sh sheet.MLYSheet, poz ercom.Position) (erp.Doc, error) {
	b := erp.NewDoc("BOM")
	b["item"] = item.Name()
	if p.Company != "" {
		b["company"] = p.Company
	}
	b["quantity"] = max(poz.Quantity, 1)
	b["rm_cost_as_per"] = bomCostBasis
	b["buying_price_list"] = bomBuyingList

	seen := map[string]erp.Doc{}
	for _, m := range sh.Materials {
		raw, ok := seen[m.StockCode]
		if !ok {
			var err error
			raw, err = p.ERP.GetDoc(ctx, "Item", m.StockCode)
			if errors.Is(err, erp.ErrNotFound) {
				return nil, fmt.Errorf("no such item: %s", m.StockCode)
			}
			if err != nil {
				return nil, err
			}
			seen[m.StockCode] = raw
		}
		if raw.Bool("custom_kit") {
			continue
		}
		b.Append("items", erp.Doc{
			"item_code":   raw.Name(),
			"item_name":   raw.Str("item_name"),
			"description": m.Description,
			"uom":         sheet.UOM(m.Unit),
			"qty":         m.BOMQty().InexactFloat64(),
			"rate":        m.UnitPrice.InexactFloat64(),
		})
	}

	bom, err := p.ERP.Insert(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("create bom for %s: %w", item.Name(), err)
	}
	bom, err = p.ERP.Submit(ctx, bom)
	if err != nil {
		return nil, fmt.Errorf("submit bom %s: %w", bom.Name(), err)
	}
	return bom, nil
}

// ensureTax adds the sales tax row to so, creating the account when the
// chart of accounts lacks it.
func (p *Processor) ensureTax(ctx context.Context, so erp.Doc) error {
	account, err := p.taxAccount(ctx)
	if err != nil {
		return err
	}
	for _, row := range so.Rows("taxes") {
		if row.Str("account_head") == account {
			return nil
		}
	}
	so.Append("taxes", erp.Doc{
		"charge_type":  TaxChargeType,
		"account_head": account,
		"rate":         TaxRate,
		"description":  TaxAccountName,
	})
	return nil
}

func (p *Processor) taxAccount(ctx context.Context) (string, error) {
	name, err := p.ERP.Exists(ctx, "Account", erp.Filters{
		"account_name":   TaxAccountName,
		"account_number": TaxAccountNumber,
	})
	if err != nil || name != "" {
		return name, err
	}
	if p.Company == "" {
		return "", fmt.Errorf("tax account %s missing and no company configured", TaxAccountName)
	}
	company, err := p.ERP.GetDoc(ctx, "Company", p.Company)
	if err != nil {
		return "", fmt.Errorf("load company %s: %w", p.Company, err)
	}
	acc := erp.NewDoc("Account")
	acc["account_name"] = TaxAccountName
	acc["account_number"] = TaxAccountNumber
	acc["parent_account"] = taxParentAccount + " - " + company.Str("abbr")
	acc["company"] = p.Company
	acc["account_currency"] = "TRY"
	acc["account_type"] = "Tax"
	acc["tax_rate"] = TaxRate
	created, err := p.ERP.Insert(ctx, acc)
	if err != nil {
		return "", fmt.Errorf("create tax account: %w", err)
	}
	return created.Name(), nil
}

package upload

import (
	"context"
	"fmt"
	"strings"

	"github.com/ozerpan/ercom-sync/internal/erp"
	"github.com/ozerpan/ercom-sync/internal/obs"
	"github.com/ozerpan/ercom-sync/internal/sheet"
)

// BOMStats summarises an UpdateBOM run.
type BOMStats struct {
	OrderNo      string   `json:"order_no"`
	SalesOrder   string   `json:"sales_order"`
	BOMs         []string `json:"boms"`
	RawMaterials int      `json:"raw_materials"`
}

// UpdateBOM re-prices an order from its material list: every sheet's BOM is
// amended with erc- raw materials at sheet prices, the item valuation is set
// to the sheet total and a fresh Sales Order is submitted.
func (p *Processor) UpdateBOM(ctx context.Context, fileURL string) (Result, error) {
	return p.run(ctx, OpUpdateBOM, fileURL, "BOM updated successfully.", func(ctx context.Context) (any, error) {
		_, wb, err := p.open(ctx, fileURL)
		if err != nil {
			return nil, err
		}
		mly, err := sheet.ReadMLY(wb)
		if err != nil {
			return nil, err
		}
		return p.updateBOM(ctx, mly)
	})
}

func (p *Processor) updateBOM(ctx context.Context, mly sheet.MLY) (BOMStats, error) {
	st := BOMStats{OrderNo: mly.OrderNo}
	order, err := p.Source.Order(ctx, mly.OrderNo)
	if err != nil {
		return st, fmt.Errorf("order %s: %w", mly.OrderNo, err)
	}

	so, isNew, err := p.prepareOrder(ctx, mly.OrderNo)
	if err != nil {
		return st, err
	}
	if isNew {
		so["customer"] = order.Customer
		so["order_type"] = "Sales"
		so["custom_ercom_order_no"] = mly.OrderNo
		so["transaction_date"] = dateOnly(order.OrderDate)
		if p.Company != "" {
			so["company"] = p.Company
		}
	}
	delivery := dateOnly(order.DeliveryDate)
	so["delivery_date"] = delivery
	if err := p.ensureTax(ctx, so); err != nil {
		return st, err
	}

	uoms := map[string]bool{}
	for i, sh := range mly.Sheets {
		p.progress(ctx, "BOM "+mly.OrderNo, i+1, len(mly.Sheets))
		obs.AddCounter(obs.SheetRowsTotal, len(sh.Materials), "bom")

		item, err := p.ERP.GetDoc(ctx, "Item", sh.ItemCode)
		if isNotFound(err) {
			return st, fmt.Errorf("item (%s) does not exist", sh.ItemCode)
		}
		if err != nil {
			return st, err
		}
		bom, err := p.currentBOM(ctx, sh.ItemCode)
		if err != nil {
			return st, err
		}
		rows, err := p.rawMaterialRows(ctx, sh.Materials, uoms)
		if err != nil {
			return st, err
		}
		st.RawMaterials += len(rows)
		amended, err := p.amendBOM(ctx, bom, rows)
		if err != nil {
			return st, err
		}
		st.BOMs = append(st.BOMs, amended.Name())

		rate := sh.TotalPrice.InexactFloat64()
		if err := p.ERP.SetValue(ctx, "Item", item.Name(), "valuation_rate", rate); err != nil {
			return st, fmt.Errorf("item %s valuation: %w", item.Name(), err)
		}
		desc := item.Str("description")
		if desc == "" {
			desc = item.Str("item_name")
		}
		so.Append("items", erp.Doc{
			"item_code":         item.Name(),
			"item_name":         item.Str("item_name"),
			"description":       desc,
			"item_group":        item.Str("item_group"),
			"delivery_date":     delivery,
			"qty":               item.Float("custom_quantity"),
			"uom":               item.Str("stock_uom"),
			"conversion_factor": 1,
			"rate":              rate,
		})
	}

	if isNew {
		so, err = p.ERP.Insert(ctx, so)
	} else {
		so, err = p.ERP.Save(ctx, so)
	}
	if err != nil {
		return st, fmt.Errorf("save sales order: %w", err)
	}
	so, err = p.ERP.Submit(ctx, so)
	if err != nil {
		return st, fmt.Errorf("submit sales order %s: %w", so.Name(), err)
	}
	st.SalesOrder = so.Name()
	p.log(ctx).Info().Str("sales_order", st.SalesOrder).Strs("boms", st.BOMs).Msg("boms updated")
	return st, nil
}

// prepareOrder returns the Sales Order to fill. A draft is reused with its
// items and taxes cleared; a submitted order is cancelled and replaced.
func (p *Processor) prepareOrder(ctx context.Context, orderNo string) (erp.Doc, bool, error) {
	so, err := p.latestOrder(ctx, erp.Filters{"custom_ercom_order_no": orderNo})
	if err != nil {
		return nil, false, err
	}
	if so != nil {
		switch so.DocStatus() {
		case 0:
			so.SetRows("items", nil)
			so.SetRows("taxes", nil)
			return so, false, nil
		case 1:
			if err := p.ERP.Cancel(ctx, "Sales Order", so.Name()); err != nil {
				return nil, false, fmt.Errorf("cancel sales order %s: %w", so.Name(), err)
			}
			p.log(ctx).Info().Str("sales_order", so.Name()).Msg("submitted sales order cancelled")
		}
	}
	return erp.NewDoc("Sales Order"), true, nil
}

// currentBOM returns the newest BOM of item that is not cancelled.
func (p *Processor) currentBOM(ctx context.Context, item string) (erp.Doc, error) {
	rows, err := p.ERP.GetList(ctx, "BOM", erp.ListQuery{
		Filters: erp.Filters{"item": item},
		Fields:  []string{"name", "docstatus"},
		OrderBy: "creation desc",
		Limit:   20,
	})
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.DocStatus() != 2 {
			return p.ERP.GetDoc(ctx, "BOM", r.Name())
		}
	}
	return nil, fmt.Errorf("BOM for the item (%s) does not exist", item)
}

func (p *Processor) rawMaterialRows(ctx context.Context, materials []sheet.Material, uoms map[string]bool) ([]erp.Doc, error) {
	rows := make([]erp.Doc, 0, len(materials))
	for _, m := range materials {
		uom := sheet.UOM(m.Unit)
		if !uoms[uom] {
			if err := p.ensureUOM(ctx, uom); err != nil {
				return nil, err
			}
			uoms[uom] = true
		}
		item, err := p.upsertRawMaterial(ctx, m, uom)
		if err != nil {
			return nil, err
		}
		rate := m.UnitPrice
		rows = append(rows, erp.Doc{
			"item_code":   item.Name(),
			"item_name":   item.Str("item_name"),
			"description": m.Description,
			"uom":         uom,
			"stock_uom":   uom,
			"qty":         sheet.QtyAt(rate, m.TotalPrice, m.Quantity).InexactFloat64(),
			"rate":        rate.InexactFloat64(),
		})
	}
	return rows, nil
}

func (p *Processor) ensureUOM(ctx context.Context, uom string) error {
	name, err := p.ERP.Exists(ctx, "UOM", erp.Filters{"name": uom})
	if err != nil || name != "" {
		return err
	}
	doc := erp.NewDoc("UOM")
	doc["uom_name"] = uom
	doc["enabled"] = 1
	if _, err := p.ERP.Insert(ctx, doc); err != nil {
		return fmt.Errorf("create uom %s: %w", uom, err)
	}
	return nil
}

// upsertRawMaterial writes the erc-<stock code> item carrying the sheet's
// unit price and weight.
func (p *Processor) upsertRawMaterial(ctx context.Context, m sheet.Material, uom string) (erp.Doc, error) {
	code := rawMaterialPref + m.StockCode
	item, err := p.ERP.GetDoc(ctx, "Item", code)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	isNew := item == nil
	if isNew {
		item = erp.NewDoc("Item")
		item["item_code"] = code
		item["item_group"] = "Raw Material"
	}
	item["item_name"] = m.Description
	item["description"] = m.Description
	item["stock_uom"] = uom
	item["valuation_rate"] = m.UnitPrice.InexactFloat64()
	item["weight_per_unit"] = m.UnitWeight.InexactFloat64()
	if isNew {
		item, err = p.ERP.Insert(ctx, item)
	} else {
		item, err = p.ERP.Save(ctx, item)
	}
	if err != nil {
		return nil, fmt.Errorf("raw material %s: %w", code, err)
	}
	return item, nil
}

// amendBOM writes rows into bom. A submitted BOM is cancelled and amended.
func (p *Processor) amendBOM(ctx context.Context, bom erp.Doc, rows []erp.Doc) (erp.Doc, error) {
	var err error
	if bom.DocStatus() == 1 {
		if err := p.ERP.Cancel(ctx, "BOM", bom.Name()); err != nil {
			return nil, fmt.Errorf("cancel bom %s: %w", bom.Name(), err)
		}
		amended := erp.Doc{}
		for k, v := range bom {
			switch k {
			case "name", "docstatus", "creation", "modified", "owner", "modified_by", "exploded_items":
			default:
				amended[k] = v
			}
		}
		amended["amended_from"] = bom.Name()
		amended["rm_cost_as_per"] = bomCostBasis
		amended["buying_price_list"] = bomBuyingList
		amended.SetRows("items", rows)
		if bom, err = p.ERP.Insert(ctx, amended); err != nil {
			return nil, fmt.Errorf("amend bom: %w", err)
		}
	} else {
		bom["rm_cost_as_per"] = bomCostBasis
		bom["buying_price_list"] = bomBuyingList
		bom.SetRows("items", rows)
		if bom, err = p.ERP.Save(ctx, bom); err != nil {
			return nil, fmt.Errorf("save bom: %w", err)
		}
	}
	submitted, err := p.ERP.Submit(ctx, bom)
	if err != nil {
		return nil, fmt.Errorf("submit bom %s: %w", bom.Name(), err)
	}
	return submitted, nil
}

// dateOnly keeps the YYYY-MM-DD part of an ERCOM timestamp.
func dateOnly(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 10 {
		return s[:10]
	}
	return s
}

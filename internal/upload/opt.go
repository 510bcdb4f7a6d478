package upload

import (
	"context"
	"fmt"

	"github.com/ozerpan/ercom-sync/internal/ercom"
	"github.com/ozerpan/ercom-sync/internal/erp"
	"github.com/ozerpan/ercom-sync/internal/obs"
	"github.com/ozerpan/ercom-sync/internal/sheet"
)

// OptStats summarises an Opt Genel write.
type OptStats struct {
	OptNo   string `json:"opt_no,omitempty"`
	OptCode string `json:"opt_code"`
	Name    string `json:"opt_genel"`
	Rows    int    `json:"rows"`
	Created bool   `json:"created,omitempty"`
}

// ProcessOPT upserts the Opt Genel of an optimisation export, replacing its
// profile list.
func (p *Processor) ProcessOPT(ctx context.Context, wb *sheet.Workbook, code string) (OptStats, error) {
	opt, err := sheet.ReadOPT(wb, code)
	if err != nil {
		return OptStats{}, err
	}
	st := OptStats{OptNo: opt.OptNo, OptCode: opt.Code, Rows: len(opt.Profiles)}
	obs.AddCounter(obs.SheetRowsTotal, len(opt.Profiles), "opt")

	machine, err := p.Source.MachineNumber(ctx, opt.OptNo)
	if err != nil {
		return st, fmt.Errorf("machine for opt %s: %w", opt.OptNo, err)
	}

	rows := make([]erp.Doc, 0, len(opt.Profiles))
	for i, pr := range opt.Profiles {
		p.progress(ctx, "OPT "+opt.OptNo, i+1, len(opt.Profiles))
		item, err := p.ERP.Exists(ctx, "Item", erp.Filters{"name": pr.StockCode})
		if err != nil {
			return st, err
		}
		if item == "" {
			return st, fmt.Errorf("item not found for stock code: %s", pr.StockCode)
		}
		rows = append(rows, erp.Doc{
			"item_code": item,
			"item_name": pr.Description,
			"amountboy": pr.Bars.InexactFloat64(),
			"amountmt":  pr.Meters.InexactFloat64(),
			"amountpcs": pr.Pieces.InexactFloat64(),
		})
	}

	doc, err := p.ERP.FindDoc(ctx, "Opt Genel", erp.Filters{"opt_no": opt.OptNo})
	if err != nil && !isNotFound(err) {
		return st, err
	}
	if doc == nil {
		doc = erp.NewDoc("Opt Genel")
		st.Created = true
	}
	doc["opt_no"] = opt.OptNo
	doc["opt_code"] = opt.Code
	doc["machine_no"] = ercom.MachineName(machine)
	doc.SetRows("profile_list", rows)

	if st.Created {
		doc, err = p.ERP.Insert(ctx, doc)
	} else {
		doc, err = p.ERP.Save(ctx, doc)
	}
	if err != nil {
		return st, fmt.Errorf("save opt genel %s: %w", opt.OptNo, err)
	}
	st.Name = doc.Name()
	p.log(ctx).Info().Str("opt_genel", st.Name).Int("rows", st.Rows).Bool("created", st.Created).Msg("opt processed")
	return st, nil
}

// UpdateDST replaces the cutting list of the Opt Genel named by the file's
// code.
func (p *Processor) UpdateDST(ctx context.Context, fileURL string) (Result, error) {
	return p.run(ctx, OpUpdateDST, fileURL, "DST list updated successfully.", func(ctx context.Context) (any, error) {
		info, wb, err := p.open(ctx, fileURL)
		if err != nil {
			return nil, err
		}
		st := OptStats{OptCode: info.Code}
		if info.Code == "" {
			return st, fmt.Errorf("could not extract opt code from %s", info.Name)
		}
		doc, err := p.ERP.FindDoc(ctx, "Opt Genel", erp.Filters{"opt_code": info.Code})
		if isNotFound(err) {
			return st, fmt.Errorf("Opt Genel with code %s does not exist", info.Code)
		}
		if err != nil {
			return st, err
		}
		dst, err := sheet.ReadDST(wb)
		if err != nil {
			return st, err
		}
		obs.AddCounter(obs.SheetRowsTotal, len(dst), "dst")

		rows := make([]erp.Doc, 0, len(dst))
		for i, r := range dst {
			p.progress(ctx, "DST "+info.Code, i+1, len(dst))
			code := rawMaterialPref + r.StockCode
			item, err := p.ERP.Exists(ctx, "Item", erp.Filters{"name": code})
			if err != nil {
				return st, err
			}
			if item == "" {
				return st, fmt.Errorf("item %s does not exist", code)
			}
			rows = append(rows, erp.Doc{"item_code": item, "item_name": r.Description, "size": r.Size.InexactFloat64()})
		}
		doc.SetRows("dst_list", rows)
		saved, err := p.ERP.Save(ctx, doc)
		if err != nil {
			return st, fmt.Errorf("save opt genel %s: %w", doc.Name(), err)
		}
		st.Name, st.Rows = saved.Name(), len(rows)
		return st, nil
	})
}

package ercomsync

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/ozerpan/ercom-sync/internal/ercom"
	"github.com/ozerpan/ercom-sync/internal/erp"
)

// SyncItems creates an Item and a submitted BOM for each recent dbpoz row
// whose <order>-<position> item code is not in the ERP.
func (s *Syncer) SyncItems(ctx context.Context) (Stats, error) {
	st := Stats{Entity: "item"}
	rows, err := s.opts.Source.Positions(ctx, s.opts.ItemLimit)
	if err != nil {
		return st, err
	}
	rows = lo.UniqBy(rows, func(p ercom.Position) string { return p.ItemCode() })
	st.Total = len(rows)
	if len(rows) == 0 {
		s.logger.Warn().Msg("no item data found")
		return st, nil
	}

	codes := lo.Map(rows, func(p ercom.Position, _ int) string { return p.ItemCode() })
	present, err := s.existing(ctx, "Item", "item_code", codes)
	if err != nil {
		return st, err
	}

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		s.progress(ctx, "ERCOM Item Sync", i+1, len(rows))
		code := row.ItemCode()
		if present[code] {
			st.count("skipped")
			continue
		}
		if err := s.createItem(ctx, row); err != nil {
			s.logger.Error().Err(err).Str("item_code", code).Msg("item_sync_failed")
			st.count("failed")
			continue
		}
		s.remember("Item", code)
		st.count("created")
	}
	return st, nil
}

// PositionFields are the Item fields carried over from a dbpoz row.
func PositionFields(p ercom.Position) erp.Doc {
	return erp.Doc{
		"description":     p.Description,
		"custom_serial":   p.Serial,
		"custom_width":    p.Width,
		"custom_height":   p.Height,
		"custom_color":    p.Color,
		"custom_quantity": p.Quantity,
		"custom_remarks":  p.Notes,
		"custom_poz_id":   p.PozID,
	}
}

// createItem inserts the Item and its submitted BOM. If any step fails the
// documents already created are deleted again.
func (s *Syncer) createItem(ctx context.Context, row ercom.Position) error {
	var docs inserted
	if err := s.insertItem(ctx, row, &docs); err != nil {
		return s.rollback(ctx, docs, err)
	}
	return nil
}

func (s *Syncer) insertItem(ctx context.Context, row ercom.Position, docs *inserted) error {
	code := row.ItemCode()
	it := erp.NewDoc("Item")
	it["item_code"] = code
	it["item_name"] = code
	it["item_group"] = "All Item Groups"
	it["stock_uom"] = "Unit"
	it["valuation_rate"] = row.Amount
	for k, v := range PositionFields(row) {
		it[k] = v
	}
	item, err := docs.insert(ctx, s.opts.ERP, it)
	if err != nil {
		return fmt.Errorf("create item: %w", err)
	}

	b := erp.NewDoc("BOM")
	b["item"] = item.Name()
	if s.opts.Company != "" {
		b["company"] = s.opts.Company
	}
	b["quantity"] = row.Quantity
	b.Append("items", erp.Doc{"item_code": item.Name(), "qty": 1})
	bom, err := docs.insert(ctx, s.opts.ERP, b)
	if err != nil {
		return fmt.Errorf("create bom: %w", err)
	}
	if _, err := s.opts.ERP.Submit(ctx, bom); err != nil {
		return fmt.Errorf("submit bom %s: %w", bom.Name(), err)
	}
	return nil
}

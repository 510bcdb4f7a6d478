package ercomsync

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/ozerpan/ercom-sync/internal/ercom"
	"github.com/ozerpan/ercom-sync/internal/erp"
)

// SyncTesDetay inserts the recent dbtesdetay rows missing from the ERP,
// keyed by their counter, with barcode and saw name filled in.
func (s *Syncer) SyncTesDetay(ctx context.Context) (Stats, error) {
	st := Stats{Entity: "tes_detay"}
	rows, err := s.opts.Source.TesDetay(ctx, s.opts.TesDetayLimit)
	if err != nil {
		return st, err
	}
	rows = lo.UniqBy(rows, func(r ercom.TesDetay) int64 { return r.Counter })
	st.Total = len(rows)
	if len(rows) == 0 {
		return st, nil
	}

	keys := lo.Map(rows, func(r ercom.TesDetay, _ int) string { return strconv.FormatInt(r.Counter, 10) })
	present, err := s.existing(ctx, "TesDetay", "sayac", keys)
	if err != nil {
		return st, err
	}
	machines, err := s.machines(ctx, rows)
	if err != nil {
		return st, err
	}

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		s.progress(ctx, "ERCOM TesDetay Sync", i+1, len(rows))
		if present[keys[i]] {
			st.count("skipped")
			continue
		}
		doc := TesDetayDoc(row, ercom.MachineName(machines[row.OtoNo]))
		if _, err := s.opts.ERP.Insert(ctx, doc); err != nil {
			s.logger.Error().Err(err).Int64("sayac", row.Counter).Msg("tesdetay_sync_failed")
			st.count("failed")
			continue
		}
		s.remember("TesDetay", keys[i])
		st.count("created")
	}
	return st, nil
}

// machines resolves the saw number of every distinct optimisation.
func (s *Syncer) machines(ctx context.Context, rows []ercom.TesDetay) (map[int64]int, error) {
	var mu sync.Mutex
	out := map[int64]int{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, otoNo := range lo.Uniq(lo.Map(rows, func(r ercom.TesDetay, _ int) int64 { return r.OtoNo })) {
		g.Go(func() error {
			no, err := s.opts.Source.MachineNumber(gctx, strconv.FormatInt(otoNo, 10))
			if err != nil {
				return fmt.Errorf("machine of %d: %w", otoNo, err)
			}
			mu.Lock()
			out[otoNo] = no
			mu.Unlock()
			return nil
		})
	}
	return out, g.Wait()
}

// TesDetayDoc maps a dbtesdetay row onto the TesDetay doctype.
func TesDetayDoc(r ercom.TesDetay, machine string) erp.Doc {
	d := erp.NewDoc("TesDetay")
	fields := map[string]any{
		"oto_no":       r.OtoNo,
		"siparis_no":   r.OrderNo,
		"cari_kod":     r.AccountCode,
		"poz_no":       r.PozNo,
		"stok_kodu":    r.StockCode,
		"model":        r.Model,
		"olcu":         r.Measure,
		"pozisyon":     r.Position,
		"aci1":         r.Angle1,
		"aci2":         r.Angle2,
		"adet":         r.Quantity,
		"ercom":        r.Ercom,
		"sayac":        r.Counter,
		"montaj_yeri":  r.MountPlace,
		"kasa_no":      r.FrameNo,
		"yer_no":       r.SlotNo,
		"kanat_no":     r.SashNo,
		"araba_no":     r.CartNo,
		"rc":           r.RC,
		"program_no":   r.ProgramNo,
		"islem":        r.Operation,
		"bayi_adi":     r.DealerName,
		"eksen":        r.Axis,
		"yukseklik":    r.Height,
		"sol_ic":       r.LeftInner,
		"sag_ic":       r.RightInner,
		"orta":         r.Middle,
		"da_kapi":      r.DaDoor,
		"ds_kodu":      r.DsCode,
		"ds_boyu":      r.DsLength,
		"profil_tipi":  r.ProfileType,
		"hesap_kodu":   r.AccountNo,
		"esiksiz":      r.Thresholdess,
		"wc":           r.WC,
		"kanat_index":  r.SashIndex,
		"sanal_adet":   r.VirtualQty,
		"aciklama":     r.Description,
		"uretim_sayac": r.ProdCounter,
	}
	for k, v := range fields {
		d[k] = v
	}
	d["makina_no"] = machine
	d["barkod"] = ercom.Barcode(r)
	return d
}

package ercom

import (
	"fmt"
	"math"
	"strings"
)

const measureAdjustment = 6

var adjustedModels = map[string]bool{"KANAT": true, "KASA": true}

// Barcode renders the label printed on a TesDetay piece.
//
// Layout: "K", cart number right padded to 2, slot number left padded to 2,
// stock code, three spaces, RC, then measure and axis each as 4 digits
// followed by "00". Sash and frame pieces are cut 6mm short.
func Barcode(t TesDetay) string {
	cart := padRight(strings.TrimSpace(t.CartNo))
	slot := padLeft(strings.TrimSpace(t.SlotNo))
	measure := adjustMeasure(t.Model, t.Measure)
	axis := adjustMeasure(t.Model, t.Axis)
	return fmt.Sprintf("K%s%s%s   %s%04d00%04d00", cart, slot, t.StockCode, t.RC, measure, axis)
}

func adjustMeasure(model string, v float64) int {
	if adjustedModels[model] {
		v -= measureAdjustment
	}
	if v < 0 {
		v = 0
	}
	return int(math.Floor(v))
}

func padRight(s string) string {
	if len(s) < 2 {
		return s + "0"
	}
	return s
}

func padLeft(s string) string {
	if len(s) < 2 {
		return "0" + s
	}
	return s
}

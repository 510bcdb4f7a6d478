package ercom

import (
	"regexp"
	"strings"
)

// Customer is a row of dbcari.
type Customer struct {
	Code      string `db:"KOD"`
	Name      string `db:"ADI"`
	Group     string `db:"GRUP"`
	Notes     string `db:"NOTLAR"`
	TaxOffice string `db:"VDAIRESI"`
	TaxID     string `db:"VERGINO"`
	Address1  string `db:"ADRES1"`
	Address2  string `db:"ADRES2"`
	City      string `db:"SEHIR"`
	PostCode  string `db:"POSTAKODU"`
	Email     string `db:"EMAIL"`
	Phone1    string `db:"TELEFON1"`
	Phone2    string `db:"TELEFON2"`
	Fax       string `db:"FAKS"`
}

// Position is a row of dbpoz, one manufactured item of an order.
type Position struct {
	PozID       int64   `db:"PozID"`
	Counter     int64   `db:"SAYAC"`
	OrderNo     string  `db:"SIPARISNO"`
	PozNo       string  `db:"POZNO"`
	Amount      float64 `db:"TUTAR"`
	Description string  `db:"ACIKLAMA"`
	Serial      string  `db:"SERI"`
	Width       float64 `db:"GENISLIK"`
	Height      float64 `db:"YUKSEKLIK"`
	Color       string  `db:"RENK"`
	Quantity    float64 `db:"ADET"`
	Notes       string  `db:"NOTLAR"`
}

// ItemCode is the ERP item code of the position.
func (p Position) ItemCode() string {
	return p.OrderNo + "-" + p.PozNo
}

// Order is a row of dbsiparis.
type Order struct {
	OrderNo      string `db:"SIPARISNO"`
	Customer     string `db:"CARIUNVAN"`
	OrderDate    string `db:"SIPTARIHI"`
	DeliveryDate string `db:"SEVKTARIHI"`
}

// TesDetay is a row of dbtesdetay, one cut piece on a production cart.
type TesDetay struct {
	OtoNo        int64   `db:"OTONO"`
	OrderNo      string  `db:"SIPARISNO"`
	AccountCode  string  `db:"CARIKOD"`
	PozNo        string  `db:"POZNO"`
	StockCode    string  `db:"STOKKODU"`
	Model        string  `db:"MODEL"`
	Measure      float64 `db:"OLCU"`
	Position     string  `db:"POZISYON"`
	Angle1       float64 `db:"ACI1"`
	Angle2       float64 `db:"ACI2"`
	Quantity     float64 `db:"ADET"`
	Ercom        string  `db:"ERCOM"`
	Counter      int64   `db:"SAYAC"`
	MountPlace   string  `db:"MONTAJYERI"`
	FrameNo      string  `db:"KASANO"`
	SlotNo       string  `db:"YERNO"`
	SashNo       string  `db:"KANATNO"`
	CartNo       string  `db:"ARABANO"`
	RC           string  `db:"RC"`
	ProgramNo    string  `db:"PROGRAMNO"`
	Operation    string  `db:"ISLEM"`
	DealerName   string  `db:"BAYIADI"`
	Axis         float64 `db:"EKSEN"`
	Height       float64 `db:"YUKSEKLIK"`
	LeftInner    float64 `db:"SOLIC"`
	RightInner   float64 `db:"SAGIC"`
	Middle       float64 `db:"ORTA"`
	DaDoor       string  `db:"DAKAPI"`
	DsCode       string  `db:"DSKODU"`
	DsLength     float64 `db:"DSBOYU"`
	ProfileType  string  `db:"PROFILTIPI"`
	AccountNo    string  `db:"HESAPKODU"`
	Thresholdess int64   `db:"ESIKSIZ"`
	WC           int64   `db:"WC"`
	SashIndex    int64   `db:"KANATINDEX"`
	VirtualQty   float64 `db:"SANALADET"`
	Description  string  `db:"ACIKLAMA"`
	ProdCounter  int64   `db:"URETIMSAYAC"`
}

var machineNames = map[int]string{
	2:  "Murat TT",
	23: "Murat NR242",
	24: "Kaban CNC FA-1030",
}

// MachineName maps an ERCOM machine number to the saw name used in the ERP.
func MachineName(no int) string {
	if name, ok := machineNames[no]; ok {
		return name
	}
	return "Unknown"
}

var phonePattern = regexp.MustCompile(`^\+?\d{7,15}$`)

// ValidPhone reports whether s looks like a dialable phone number.
func ValidPhone(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && phonePattern.MatchString(s)
}

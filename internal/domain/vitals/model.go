package vitals

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind names one of the four tracked vital signs.
type Kind string

const (
	BloodPressure Kind = "blood_pressure"
	Cholesterol   Kind = "cholesterol"
	Glucose       Kind = "glucose"
	HeartRate     Kind = "heart_rate"
)

// Kinds lists every tracked metric in presentation order.
var Kinds = []Kind{BloodPressure, Cholesterol, Glucose, HeartRate}

// Status classifies a reading against its threshold table.
type Status string

const (
	StatusHigh    Status = "High"
	StatusLow     Status = "Low"
	StatusNormal  Status = "Normal"
	StatusUnknown Status = "Unknown"
	StatusNA      Status = "N/A"
)

// NotAvailable is the value reported when no reading exists.
const NotAvailable = "N/A"

// Reading is one extracted value and its classification.
type Reading struct {
	Value  string `json:"value"`
	Status Status `json:"status"`
}

var (
	// NoMatch is produced when a document contains no value for a metric.
	NoMatch = Reading{Value: NotAvailable, Status: StatusNA}
	// Missing fills a metric absent from a stored bundle.
	Missing = Reading{Value: NotAvailable, Status: StatusUnknown}
)

// Bundle maps every Kind to a Reading. Bundles produced by Parser and by
// UnmarshalJSON always hold all four kinds.
type Bundle map[Kind]Reading

// Get returns the reading for k, or Missing.
func (b Bundle) Get(k Kind) Reading {
	if r, ok := b[k]; ok {
		return r
	}
	return Missing
}

// Complete returns a copy holding exactly the four tracked kinds.
func (b Bundle) Complete() Bundle {
	out := make(Bundle, len(Kinds))
	for _, k := range Kinds {
		out[k] = b.Get(k)
	}
	return out
}

func (b Bundle) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[Kind]Reading(b.Complete()))
}

func (b *Bundle) UnmarshalJSON(data []byte) error {
	var raw map[Kind]Reading
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Bundle(raw).Complete()
	return nil
}

// HistoryPoint is a reading tagged with the upload date of its record.
type HistoryPoint struct {
	Value  string    `json:"value"`
	Status Status    `json:"status"`
	Date   time.Time `json:"date"`
}

// Trend summarises the latest history points of a metric.
type Trend string

const (
	TrendNone       Trend = ""
	TrendStable     Trend = "Stable"
	TrendIncreasing Trend = "Increasing"
	TrendDecreasing Trend = "Decreasing"
)

// TrendResult is derived on every analysis request and never stored.
type TrendResult struct {
	Current Reading        `json:"current"`
	History []HistoryPoint `json:"history"`
	Trend   Trend          `json:"trend"`
}

// Analysis holds a TrendResult for every Kind.
type Analysis map[Kind]TrendResult

// Record is an uploaded health document. Metadata is the encrypted Bundle.
type Record struct {
	ID         uuid.UUID `json:"id"`
	PatientID  uuid.UUID `json:"patient_id"`
	UploadedBy string    `json:"uploaded_by,omitempty"`
	RecordType string    `json:"record_type"`
	FileName   string    `json:"file_name"`
	FileKind   string    `json:"file_kind"`
	BlobID     string    `json:"blob_id"`
	Metadata   string    `json:"-"`
	UploadDate time.Time `json:"upload_date"`
}

// StoredMetadata is what persistence hands back for trend analysis.
type StoredMetadata struct {
	Metadata string
	Date     time.Time
}

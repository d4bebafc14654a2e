// Package features implements the aggregation engine: it folds every
// cleaned partition staged for a source into per-period summary rows
// (the source's Feature Set) and commits them with all-or-nothing
// replace-per-source semantics.
package features

import (
	"context"
	"errors"
)

// Canonical column names of the cleaned feed schema.
const (
	ColName          = "ten_co_so"
	ColAddress       = "dia_chi"
	ColDistrict      = "quan_huyen"
	ColRegCert       = "so_gcn_dkkd"
	ColAttpCert      = "so_gcn_attp"
	ColIssueDate     = "ngay_cap_gcn_attp"
	ColLatestIssue   = "ngay_cap_moi_nhat"
	ColFirstIssue    = "ngay_cap_dau_tien"
	ColExpiry        = "thoi_han_gcn_attp"
	ColReceivedDate  = "ngay_tiep_nhan"
	ColDueDate       = "han_tra"
	ColReturnedDate  = "ngay_tra"
	colProcessing    = "processing_days"
	colOnTime        = "on_time"
	colValid         = "attp_valid"
	colPeriod        = "period_month"
	colFacility      = "facility_id"
)

// certValidityDays is the implied validity window when a certificate has
// no explicit expiry: three years from issuance.
const certValidityDays = 1095

// receivedLagDays is the implied intake lag when a feed carries no
// received date: sixty days before issuance.
const receivedLagDays = 60

// ErrNoStagedPartitions reports a rebuild over a source with nothing in
// staging. It is a non-fatal outcome: no catalog state is touched.
var ErrNoStagedPartitions = errors.New("no staged partitions for source")

// FeatureRow is one per-(source, period) aggregate. PeriodMonth is
// "YYYY-MM"; the empty string is the bucket for rows without an
// issuance date. Percentiles are nil when a period has no processing
// samples.
type FeatureRow struct {
	Source                string   `json:"source"`
	PeriodMonth           string   `json:"period_month"`
	FacilityCount         int      `json:"facility_count"`
	AttpValidCount        int      `json:"attp_valid_count"`
	AttpCertIssuedCount   int      `json:"attp_cert_issued_count"`
	ProcessingTimeP50     *float64 `json:"processing_time_p50"`
	ProcessingTimeP90     *float64 `json:"processing_time_p90"`
	CertifiedFacilityRate float64  `json:"certified_facility_rate"`
}

// FeatureStore commits a source's complete Feature Set. ReplaceFeatures
// must be transactional: delete the prior set and insert the new one, or
// leave the prior set fully intact.
type FeatureStore interface {
	ReplaceFeatures(ctx context.Context, source string, rows []FeatureRow) error
}

// AuditLogger records one ingest log line per stage run.
type AuditLogger interface {
	LogIngest(ctx context.Context, sourceKey, message string) error
}

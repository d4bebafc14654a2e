package features

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dx-insights/attp-pipeline/internal/blob"
	"github.com/dx-insights/attp-pipeline/internal/dataset"
	"github.com/dx-insights/attp-pipeline/internal/logging"
)

// Engine rebuilds a source's Feature Set from everything currently
// staged for it. Rebuilds are idempotent: the input is always the full
// partition set and the output replaces the prior set wholesale.
type Engine struct {
	Blobs  blob.Store
	Bucket string
	Store  FeatureStore
	Audit  AuditLogger

	// Now is the clock used for validity checks and export naming.
	// Defaults to time.Now; tests pin it.
	Now func() time.Time
}

// Result summarizes one successful rebuild.
type Result struct {
	Rows               []FeatureRow
	PartitionsConsumed int
	UniqueFacilities   int
	FeaturesURI        string
}

// Rebuild scans every cleaned partition staged for source, derives the
// temporal and identity columns, deduplicates per facility, aggregates
// by period month and atomically replaces the source's feature rows.
//
// A source with nothing staged yields ErrNoStagedPartitions and no
// catalog mutation. A commit failure surfaces from the feature store
// with the prior set intact.
func (e *Engine) Rebuild(ctx context.Context, source string) (*Result, error) {
	log := logging.WithFields(ctx, "source", source)
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}

	uris, err := e.Blobs.List(ctx, e.Bucket, blob.StagingPrefix(source))
	if err != nil {
		return nil, fmt.Errorf("list staged partitions for %s: %w", source, err)
	}

	var parts []*dataset.Dataset
	for _, uri := range uris {
		if !strings.HasSuffix(strings.ToLower(uri), ".csv") {
			continue
		}
		bucket, key, err := blob.ParseURI(uri)
		if err != nil {
			log.Warn("skipping staged object with bad uri", "uri", uri, "error", err)
			continue
		}
		raw, err := e.Blobs.Get(ctx, bucket, key)
		if err != nil {
			log.Warn("skipping unreadable staged partition", "uri", uri, "error", err)
			continue
		}
		part, err := dataset.ParseCSV(raw)
		if err != nil {
			log.Warn("skipping unparsable staged partition", "uri", uri, "error", err)
			continue
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("source %s: %w", source, ErrNoStagedPartitions)
	}

	working := dataset.Concat(parts...)
	derive(working, now())
	deduped := dedupe(working)
	rows := aggregate(deduped, source)

	if err := e.Store.ReplaceFeatures(ctx, source, rows); err != nil {
		return nil, fmt.Errorf("replace features for %s: %w", source, err)
	}

	uri, err := e.exportCSV(ctx, source, rows, now())
	if err != nil {
		// The catalog commit already succeeded; the export is a
		// convenience artifact and must not fail the rebuild.
		log.Warn("feature export failed", "error", err)
	}

	result := &Result{
		Rows:               rows,
		PartitionsConsumed: len(parts),
		UniqueFacilities:   deduped.NumRows(),
		FeaturesURI:        uri,
	}

	msg := fmt.Sprintf("Rebuilt features from %d partitions for source %s. Total unique facilities: %d",
		result.PartitionsConsumed, source, result.UniqueFacilities)
	if err := e.Audit.LogIngest(ctx, "Features", msg); err != nil {
		log.Warn("audit log failed", "error", err)
	}

	log.Info("features rebuilt",
		"partitions", result.PartitionsConsumed,
		"unique_facilities", result.UniqueFacilities,
		"periods", len(rows),
	)
	return result, nil
}

// exportCSV writes the aggregated feature set to the features/ area.
func (e *Engine) exportCSV(ctx context.Context, source string, rows []FeatureRow, now time.Time) (string, error) {
	out := dataset.New(
		"source", colPeriod, "facility_count", "attp_valid_count",
		"attp_cert_issued_count", "processing_time_p50",
		"processing_time_p90", "certified_facility_rate",
	)
	for _, r := range rows {
		out.AppendRow([]dataset.Value{
			dataset.String(r.Source),
			dataset.String(r.PeriodMonth),
			dataset.Int(int64(r.FacilityCount)),
			dataset.Int(int64(r.AttpValidCount)),
			dataset.Int(int64(r.AttpCertIssuedCount)),
			floatCell(r.ProcessingTimeP50),
			floatCell(r.ProcessingTimeP90),
			dataset.String(strconv.FormatFloat(r.CertifiedFacilityRate, 'f', -1, 64)),
		})
	}
	raw, err := out.EncodeCSV()
	if err != nil {
		return "", fmt.Errorf("encode features csv: %w", err)
	}
	return e.Blobs.Put(ctx, e.Bucket, blob.FeaturesKey(source, now), raw, "text/csv")
}

func floatCell(f *float64) dataset.Value {
	if f == nil {
		return dataset.Null(dataset.KindString)
	}
	return dataset.String(strconv.FormatFloat(*f, 'f', -1, 64))
}

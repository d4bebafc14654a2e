package catalog

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/jackc/pgx/v5"

	"github.com/dx-insights/attp-pipeline/internal/features"
)

// lockKey maps a source name onto the advisory lock space so concurrent
// rebuilds of the same source serialize while distinct sources proceed
// in parallel.
func lockKey(source string) int64 {
	return int64(xxhash.Sum64String(source))
}

const featureColumns = `source, period_month, facility_count, attp_valid_count,
	attp_cert_issued_count, processing_time_p50, processing_time_p90,
	certified_facility_rate`

// ReplaceFeatures swaps a source's complete feature set in one
// transaction: take the per-source advisory lock, delete the prior
// rows, insert the new set. Any failure rolls the whole swap back.
func (c *Catalog) ReplaceFeatures(ctx context.Context, source string, rows []features.FeatureRow) error {
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return &PersistenceError{Op: "begin replace features", Err: err}
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey(source)); err != nil {
		return &PersistenceError{Op: "lock source " + source, Err: err}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM features WHERE source = $1`, source); err != nil {
		return &PersistenceError{Op: "delete features for " + source, Err: err}
	}

	batch := &pgx.Batch{}
	insert := fmt.Sprintf(`INSERT INTO features (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, featureColumns)
	for _, r := range rows {
		batch.Queue(insert,
			r.Source, r.PeriodMonth, r.FacilityCount, r.AttpValidCount,
			r.AttpCertIssuedCount, r.ProcessingTimeP50, r.ProcessingTimeP90,
			r.CertifiedFacilityRate)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return &PersistenceError{Op: "insert features for " + source, Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &PersistenceError{Op: "commit replace features", Err: err}
	}
	return nil
}

// ListFeatures returns every feature row across all sources.
func (c *Catalog) ListFeatures(ctx context.Context) ([]features.FeatureRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM features ORDER BY source, period_month`, featureColumns)
	rows, err := c.db.Query(ctx, query)
	if err != nil {
		return nil, &PersistenceError{Op: "list features", Err: err}
	}
	return scanFeatureRows(rows, "list features")
}

// FeaturesByCity returns feature rows whose source fuzzily matches the
// requested city name, best match first. The trigram threshold keeps
// unrelated sources out while tolerating diacritics and word-order
// differences in how callers spell the city.
func (c *Catalog) FeaturesByCity(ctx context.Context, city string) ([]features.FeatureRow, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM features
		WHERE similarity(source, $1) >= 0.3
		ORDER BY similarity(source, $1) DESC, period_month`, featureColumns)
	rows, err := c.db.Query(ctx, query, city)
	if err != nil {
		return nil, &PersistenceError{Op: "features by city", Err: err}
	}
	return scanFeatureRows(rows, "features by city")
}

func scanFeatureRows(rows pgx.Rows, op string) ([]features.FeatureRow, error) {
	defer rows.Close()

	var out []features.FeatureRow
	for rows.Next() {
		var r features.FeatureRow
		err := rows.Scan(&r.Source, &r.PeriodMonth, &r.FacilityCount,
			&r.AttpValidCount, &r.AttpCertIssuedCount,
			&r.ProcessingTimeP50, &r.ProcessingTimeP90,
			&r.CertifiedFacilityRate)
		if err != nil {
			return nil, &PersistenceError{Op: op, Err: err}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: op, Err: err}
	}
	return out, nil
}

package features

import (
	"sort"

	"github.com/dx-insights/attp-pipeline/internal/dataset"
)

// aggregate groups the deduplicated table by period month and computes
// one FeatureRow per group. Output is ordered by period ascending with
// the unknown bucket last, so repeated rebuilds of identical staging
// produce identical feature sets.
func aggregate(d *dataset.Dataset, source string) []FeatureRow {
	type group struct {
		facilities map[string]bool
		issueDates map[string]bool
		validCount int
		processing []float64
	}
	groups := make(map[string]*group)

	for i := range d.Rows {
		period := ""
		if v := d.At(i, colPeriod); v.Valid {
			period = v.Str
		}
		g := groups[period]
		if g == nil {
			g = &group{
				facilities: make(map[string]bool),
				issueDates: make(map[string]bool),
			}
			groups[period] = g
		}

		if id, ok := d.At(i, colFacility).Text(); ok {
			g.facilities[id] = true
		}
		if issue, ok := d.At(i, ColIssueDate).AsDate(); ok {
			g.issueDates[issue.Format(dataset.DateLayout)] = true
		}
		if valid, ok := d.At(i, colValid).AsBool(); ok && valid {
			g.validCount++
		}
		if days, ok := d.At(i, colProcessing).AsFloat(); ok {
			g.processing = append(g.processing, days)
		}
	}

	periods := make([]string, 0, len(groups))
	for p := range groups {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(a, b int) bool {
		// Unknown bucket sorts last.
		if (periods[a] == "") != (periods[b] == "") {
			return periods[b] == ""
		}
		return periods[a] < periods[b]
	})

	rows := make([]FeatureRow, 0, len(periods))
	for _, p := range periods {
		g := groups[p]
		row := FeatureRow{
			Source:              source,
			PeriodMonth:         p,
			FacilityCount:       len(g.facilities),
			AttpValidCount:      g.validCount,
			AttpCertIssuedCount: len(g.issueDates),
			ProcessingTimeP50:   percentile(g.processing, 50),
			ProcessingTimeP90:   percentile(g.processing, 90),
		}
		if row.FacilityCount > 0 {
			row.CertifiedFacilityRate = float64(row.AttpValidCount) / float64(row.FacilityCount)
		}
		rows = append(rows, row)
	}
	return rows
}

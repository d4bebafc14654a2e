package features

import (
	"sort"
	"time"

	"github.com/dx-insights/attp-pipeline/internal/dataset"
	"github.com/dx-insights/attp-pipeline/internal/identity"
)

// issueBaseColumns is the fixed priority order for the "issue" column
// that anchors processing-time computation. The order is part of the
// observable behavior and must not be re-derived.
var issueBaseColumns = []string{ColIssueDate, ColLatestIssue, ColFirstIssue}

// derive adds the temporal and validity columns to the working table.
// Every derivation is conditional on its input columns existing, so
// partial feeds simply skip the derivations they cannot support.
func derive(d *dataset.Dataset, today time.Time) {
	deriveReceived(d)
	deriveExpiry(d)
	deriveProcessingDays(d)
	deriveOnTime(d)
	deriveValidity(d, today)
	derivePeriod(d)
	deriveFacilityIDs(d)
}

// deriveReceived backfills a missing received-date column from the
// issuance date minus the implied intake lag. A present column is left
// untouched, nulls included.
func deriveReceived(d *dataset.Dataset) {
	if d.HasColumn(ColReceivedDate) || !d.HasColumn(ColIssueDate) {
		return
	}
	d.AddColumn(ColReceivedDate, dataset.Null(dataset.KindDate))
	for i := range d.Rows {
		if issue, ok := d.At(i, ColIssueDate).AsDate(); ok {
			d.Set(i, ColReceivedDate, dataset.Date(issue.AddDate(0, 0, -receivedLagDays)))
		}
	}
}

// deriveExpiry creates a missing expiry column from issuance plus the
// implied validity window, and backfills null cells of a present column
// the same way.
func deriveExpiry(d *dataset.Dataset) {
	if !d.HasColumn(ColIssueDate) {
		return
	}
	if !d.HasColumn(ColExpiry) {
		d.AddColumn(ColExpiry, dataset.Null(dataset.KindDate))
	}
	for i := range d.Rows {
		if d.At(i, ColExpiry).Valid {
			continue
		}
		if issue, ok := d.At(i, ColIssueDate).AsDate(); ok {
			d.Set(i, ColExpiry, dataset.Date(issue.AddDate(0, 0, certValidityDays)))
		}
	}
}

// deriveProcessingDays computes whole days between the highest-priority
// issue column present and the received date.
func deriveProcessingDays(d *dataset.Dataset) {
	if !d.HasColumn(ColReceivedDate) {
		return
	}
	base := ""
	for _, col := range issueBaseColumns {
		if d.HasColumn(col) {
			base = col
			break
		}
	}
	if base == "" {
		return
	}
	d.AddColumn(colProcessing, dataset.Null(dataset.KindInt))
	for i := range d.Rows {
		issued, okIssued := d.At(i, base).AsDate()
		received, okReceived := d.At(i, ColReceivedDate).AsDate()
		if !okIssued || !okReceived {
			continue
		}
		days := int64(issued.Sub(received).Hours() / 24)
		d.Set(i, colProcessing, dataset.Int(days))
	}
}

// deriveOnTime marks rows returned on or before their due date.
func deriveOnTime(d *dataset.Dataset) {
	if !d.HasColumn(ColDueDate) || !d.HasColumn(ColReturnedDate) {
		return
	}
	d.AddColumn(colOnTime, dataset.Null(dataset.KindBool))
	for i := range d.Rows {
		returned, okReturned := d.At(i, ColReturnedDate).AsDate()
		due, okDue := d.At(i, ColDueDate).AsDate()
		if !okReturned || !okDue {
			continue
		}
		d.Set(i, colOnTime, dataset.Bool(!returned.After(due)))
	}
}

// deriveValidity marks certificates whose expiry has not passed. Rows
// without a resolvable expiry are invalid, mirroring how a null never
// compares true.
func deriveValidity(d *dataset.Dataset, today time.Time) {
	if !d.HasColumn(ColExpiry) {
		return
	}
	day := today.Truncate(24 * time.Hour)
	d.AddColumn(colValid, dataset.Null(dataset.KindBool))
	for i := range d.Rows {
		expiry, ok := d.At(i, ColExpiry).AsDate()
		d.Set(i, colValid, dataset.Bool(ok && !day.After(expiry)))
	}
}

// derivePeriod truncates the issuance date to its calendar month. Rows
// without one land in the unknown bucket rather than being dropped.
func derivePeriod(d *dataset.Dataset) {
	d.AddColumn(colPeriod, dataset.Null(dataset.KindString))
	if !d.HasColumn(ColIssueDate) {
		return
	}
	for i := range d.Rows {
		if issue, ok := d.At(i, ColIssueDate).AsDate(); ok {
			d.Set(i, colPeriod, dataset.String(issue.Format("2006-01")))
		}
	}
}

// deriveFacilityIDs resolves the identity key for every row.
func deriveFacilityIDs(d *dataset.Dataset) {
	d.AddColumn(colFacility, dataset.Null(dataset.KindString))
	for i := range d.Rows {
		d.Set(i, colFacility, dataset.String(identity.ResolveFacilityID(d, i)))
	}
}

// dedupe keeps the most recently received record per facility. Rows are
// stably sorted by received date descending with nulls last, then the
// first occurrence of each facility id wins; without a received column
// first-seen order is preserved as-is.
func dedupe(d *dataset.Dataset) *dataset.Dataset {
	order := make([]int, len(d.Rows))
	for i := range order {
		order[i] = i
	}
	if d.HasColumn(ColReceivedDate) {
		sort.SliceStable(order, func(a, b int) bool {
			ta, okA := d.At(order[a], ColReceivedDate).AsDate()
			tb, okB := d.At(order[b], ColReceivedDate).AsDate()
			if okA != okB {
				return okA
			}
			if !okA {
				return false
			}
			return ta.After(tb)
		})
	}

	out := dataset.New(d.Columns...)
	seen := make(map[string]bool, len(d.Rows))
	for _, idx := range order {
		id, _ := d.At(idx, colFacility).Text()
		if seen[id] {
			continue
		}
		seen[id] = true
		out.AppendRow(d.Rows[idx])
	}
	return out
}

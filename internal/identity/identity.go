// Package identity derives the stable facility key that ties repeated
// and partial records to one physical business. Both pipeline stages
// must resolve identity through this package so that cleaned partitions
// and feature aggregation always agree.
package identity

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/dx-insights/attp-pipeline/internal/dataset"
)

// Certificate number fields in priority order: the business-registration
// certificate wins over the food-safety certificate.
var certFields = []string{"so_gcn_dkkd", "so_gcn_attp"}

// Soft-identity input fields, concatenated name|address|district.
var softFields = []string{"ten_co_so", "dia_chi", "quan_huyen"}

// ResolveFacilityID returns the identity key for a row. Rows carrying a
// non-empty certificate number get "fac::<number>" (trimmed); everything
// else falls back to "fac::soft::<hash>" over name|address|district.
//
// The soft hash is xxhash64 with its fixed default seed, so the key is
// stable across process restarts. It is a best-effort surrogate: two
// facilities may collide, and formatting variance in name or address
// splits one facility in two. That approximation is accepted; the
// certificate-number branch is the only guaranteed-stable identity.
func ResolveFacilityID(d *dataset.Dataset, row int) string {
	for _, field := range certFields {
		if !d.HasColumn(field) {
			continue
		}
		if s, ok := d.At(row, field).Text(); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return "fac::" + trimmed
			}
		}
	}

	parts := make([]string, len(softFields))
	for i, field := range softFields {
		if d.HasColumn(field) {
			parts[i], _ = d.At(row, field).Text()
		}
	}
	return fmt.Sprintf("fac::soft::%d", xxhash.Sum64String(strings.Join(parts, "|")))
}

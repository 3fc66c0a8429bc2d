package flow

import (
	"hash/fnv"
	"sort"

	"github.com/flowgrid/flowgrid/pkg/models"
)

// variantBuckets is the hash space variants are assigned from. 10000 buckets
// give 0.01% traffic granularity.
const variantBuckets = 10000

// SelectVariant deterministically assigns an execution to one of a base
// flow's active variants, or to nil for the base flow itself. The same
// (baseFlowID, seed) pair always selects the same variant, so a stable seed
// (a user ID) pins a user to one side of an experiment. Percentages that sum
// below 100 leave the remaining traffic on the base flow.
func SelectVariant(baseFlowID, seed string, variants []*models.FlowVariant) *models.FlowVariant {
	active := make([]*models.FlowVariant, 0, len(variants))

	for _, variant := range variants {
		if variant.Active && variant.TrafficPercentage > 0 {
			active = append(active, variant)
		}
	}

	if len(active) == 0 {
		return nil
	}

	// Cumulative buckets walk variants in ID order so the assignment is
	// independent of registration order.
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(baseFlowID + ":" + seed))

	point := float64(hasher.Sum32()%variantBuckets) / (variantBuckets / 100)

	cumulative := 0.0

	for _, variant := range active {
		cumulative += variant.TrafficPercentage
		if point < cumulative {
			return variant
		}
	}

	return nil
}

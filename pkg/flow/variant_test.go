package flow_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/pkg/flow"
	"github.com/flowgrid/flowgrid/pkg/models"
)

func variant(id string, percentage float64, active bool) *models.FlowVariant {
	return &models.FlowVariant{
		ID:                id,
		BaseFlowID:        "base-flow",
		FlowID:            "flow-" + id,
		TrafficPercentage: percentage,
		Active:            active,
	}
}

func TestSelectVariant_NoVariants(t *testing.T) {
	assert.Nil(t, flow.SelectVariant("base-flow", "user-1", nil))
	assert.Nil(t, flow.SelectVariant("base-flow", "user-1", []*models.FlowVariant{}))
}

func TestSelectVariant_IgnoresInactiveAndZeroTraffic(t *testing.T) {
	variants := []*models.FlowVariant{
		variant("a", 100, false),
		variant("b", 0, true),
	}

	assert.Nil(t, flow.SelectVariant("base-flow", "user-1", variants))
}

func TestSelectVariant_FullTrafficAlwaysSelected(t *testing.T) {
	variants := []*models.FlowVariant{variant("a", 100, true)}

	for i := range 20 {
		selected := flow.SelectVariant("base-flow", fmt.Sprintf("user-%d", i), variants)
		require.NotNil(t, selected)
		assert.Equal(t, "a", selected.ID)
	}
}

func TestSelectVariant_Deterministic(t *testing.T) {
	variants := []*models.FlowVariant{
		variant("a", 30, true),
		variant("b", 30, true),
	}

	first := flow.SelectVariant("base-flow", "user-42", variants)

	for range 10 {
		assert.Equal(t, first, flow.SelectVariant("base-flow", "user-42", variants))
	}
}

func TestSelectVariant_OrderIndependent(t *testing.T) {
	forward := []*models.FlowVariant{
		variant("a", 40, true),
		variant("b", 40, true),
	}
	reversed := []*models.FlowVariant{
		variant("b", 40, true),
		variant("a", 40, true),
	}

	for i := range 50 {
		seed := fmt.Sprintf("user-%d", i)
		assert.Equal(t,
			flow.SelectVariant("base-flow", seed, forward),
			flow.SelectVariant("base-flow", seed, reversed),
			"seed %s", seed)
	}
}

func TestSelectVariant_PartialTrafficLeavesBaseFlow(t *testing.T) {
	variants := []*models.FlowVariant{variant("a", 50, true)}

	sawVariant := false
	sawBase := false

	for i := range 200 {
		selected := flow.SelectVariant("base-flow", fmt.Sprintf("user-%d", i), variants)
		if selected == nil {
			sawBase = true
		} else {
			sawVariant = true
		}
	}

	assert.True(t, sawVariant, "expected some seeds to land on the variant")
	assert.True(t, sawBase, "expected some seeds to land on the base flow")
}

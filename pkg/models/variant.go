package models

// FlowVariant points a base flow at an alternate graph for traffic-split
// experimentation. Variants are read-only at execution time; selection
// happens once per flow execution.
type FlowVariant struct {
	ID                string  `json:"id"`
	BaseFlowID        string  `json:"base_flow_id" validate:"required"`
	FlowID            string  `json:"flow_id"      validate:"required"` // The alternate graph
	Name              string  `json:"name"`
	TrafficPercentage float64 `json:"traffic_percentage" validate:"gte=0,lte=100"`
	Active            bool    `json:"active"`
}

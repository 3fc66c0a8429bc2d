package registry

import (
	"github.com/flowgrid/flowgrid/pkg/nodes/conditional"
	"github.com/flowgrid/flowgrid/pkg/nodes/output"
	"github.com/flowgrid/flowgrid/pkg/nodes/prompt"
	"github.com/flowgrid/flowgrid/pkg/nodes/transform"
	"github.com/flowgrid/flowgrid/pkg/nodes/variable"
)

// RegisterDefaultNodes registers all built-in node factories. The gateway
// serves prompt nodes; all other node types run in-process.
func (r *Registry) RegisterDefaultNodes(gateway prompt.Completer) {
	r.RegisterNode(prompt.NewFactory(gateway))
	r.RegisterNode(variable.NewFactory())
	r.RegisterNode(conditional.NewFactory())
	r.RegisterNode(transform.NewFactory())
	r.RegisterNode(output.NewFactory())
}

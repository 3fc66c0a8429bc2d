package models

// NodeType represents the closed set of node types the engine can execute.
type NodeType string

const (
	NodeTypePrompt      NodeType = "prompt"      // Resolves a template and calls a model provider
	NodeTypeVariable    NodeType = "variable"    // Evaluates a literal or expression into one variable
	NodeTypeConditional NodeType = "conditional" // Evaluates a boolean expression and selects an edge handle
	NodeTypeTransform   NodeType = "transform"   // Applies a named built-in operation to input variables
	NodeTypeOutput      NodeType = "output"      // Copies a variable into the flow result
)

// KnownNodeTypes lists every node type the engine dispatches on.
var KnownNodeTypes = []NodeType{
	NodeTypePrompt,
	NodeTypeVariable,
	NodeTypeConditional,
	NodeTypeTransform,
	NodeTypeOutput,
}

// Node represents a typed unit of work within a flow. Nodes are read-only
// during execution; authoring happens elsewhere.
type Node struct {
	ID        string         `json:"id"     validate:"required"`
	Key       string         `json:"key"    validate:"required,min=1"` // Human-readable, unique within flow
	Type      NodeType       `json:"type"   validate:"required"`
	Config    map[string]any `json:"config"`
	PositionX int            `json:"position_x"` // Canvas metadata, irrelevant to execution
	PositionY int            `json:"position_y"`
}

// IsKnownType reports whether the node's type is one the engine can execute.
func (n *Node) IsKnownType() bool {
	for _, t := range KnownNodeTypes {
		if n.Type == t {
			return true
		}
	}

	return false
}

// ConfigString returns a string config entry, with ok reporting presence.
func (n *Node) ConfigString(key string) (string, bool) {
	v, ok := n.Config[key]
	if !ok {
		return "", false
	}

	s, ok := v.(string)

	return s, ok
}

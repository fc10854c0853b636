package forge

// Graph is a narrative graph as persisted by the CMS.
// Edges are owned by the graph; adjacency is derived by Index.
type Graph struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	StartNodeID string    `json:"startNodeId,omitempty"`
	EndNodeIDs  []EndNode `json:"endNodeIds,omitempty"`
	Viewport    *Viewport `json:"viewport,omitempty"`
}

// EndNode marks a node where a detoured graph hands control back to its caller.
type EndNode struct {
	NodeID  string `json:"nodeId"`
	ExitKey string `json:"exitKey,omitempty"`
}

// Viewport is editor state carried through untouched.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// IsEndNode reports whether nodeID is declared as an end node.
func (g *Graph) IsEndNode(nodeID string) bool {
	for _, e := range g.EndNodeIDs {
		if e.NodeID == nodeID {
			return true
		}
	}
	return false
}

// EdgeKind classifies an edge.
type EdgeKind string

const (
	EdgeFlow      EdgeKind = "FLOW"
	EdgeDefault   EdgeKind = "DEFAULT"
	EdgeCondition EdgeKind = "CONDITION"
	EdgeChoice    EdgeKind = "CHOICE"
)

// Known reports whether k is one of the enumerated edge kinds.
// An empty kind is treated as FLOW.
func (k EdgeKind) Known() bool {
	switch k {
	case "", EdgeFlow, EdgeDefault, EdgeCondition, EdgeChoice:
		return true
	}
	return false
}

// Normalize maps the empty kind to FLOW.
func (k EdgeKind) Normalize() EdgeKind {
	if k == "" {
		return EdgeFlow
	}
	return k
}

// Edge is a directed connection between two nodes.
type Edge struct {
	ID           string   `json:"id"`
	Source       string   `json:"source"`
	Target       string   `json:"target"`
	Kind         EdgeKind `json:"kind,omitempty"`
	SourceHandle string   `json:"sourceHandle,omitempty"`
}

// Choice is one option offered by a PLAYER node.
type Choice struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	NextNodeID string         `json:"nextNodeId,omitempty"`
	Conditions []Condition    `json:"conditions,omitempty"`
	Mutations  []FlagMutation `json:"mutations,omitempty"`
}

// BlockType is the branch keyword of a conditional block.
type BlockType string

const (
	BlockIf     BlockType = "IF"
	BlockElseIf BlockType = "ELSEIF"
	BlockElse   BlockType = "ELSE"
)

// ConditionalBlock is one branch of a CONDITIONAL node.
type ConditionalBlock struct {
	ID         string         `json:"id"`
	Type       BlockType      `json:"type"`
	Condition  []Condition    `json:"condition,omitempty"`
	Content    string         `json:"content,omitempty"`
	Speaker    string         `json:"speaker,omitempty"`
	NextNodeID string         `json:"nextNodeId,omitempty"`
	SetFlags   []FlagMutation `json:"setFlags,omitempty"`
}

// Operator is a condition comparison operator.
type Operator string

const (
	OpIsSet    Operator = "IS_SET"
	OpIsNotSet Operator = "IS_NOT_SET"
	OpEq       Operator = "EQ"
	OpNeq      Operator = "NEQ"
	OpGt       Operator = "GT"
	OpGte      Operator = "GTE"
	OpLt       Operator = "LT"
	OpLte      Operator = "LTE"
)

// Condition tests a flag against a value. When Flag is empty the left
// operand is Literal instead, which allows forms like `1 == 1`.
type Condition struct {
	Flag     string   `json:"flag,omitempty"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
	Literal  any      `json:"literal,omitempty"`
}

// FlagMutation sets a flag to a value.
type FlagMutation struct {
	FlagID string `json:"flagId"`
	Value  any    `json:"value"`
}

// CallMode selects storylet dispatch semantics.
type CallMode string

const (
	CallJump         CallMode = "JUMP"
	CallDetourReturn CallMode = "DETOUR_RETURN"
)

// StoryletCall references another graph.
type StoryletCall struct {
	TargetGraphID     string   `json:"targetGraphId"`
	Mode              CallMode `json:"mode"`
	TargetStartNodeID string   `json:"targetStartNodeId,omitempty"`
	ReturnNodeID      string   `json:"returnNodeId,omitempty"`
	ReturnGraphID     string   `json:"returnGraphId,omitempty"`
}

// Presentation holds asset references authored on a dialogue node.
type Presentation struct {
	BackgroundID string             `json:"backgroundId,omitempty"`
	ImageID      string             `json:"imageId,omitempty"`
	PortraitID   string             `json:"portraitId,omitempty"`
	Directives   []RuntimeDirective `json:"directives,omitempty"`
}

package forge

import (
	"encoding/json"
	"fmt"
)

// NodeType tags the node variant.
type NodeType string

const (
	NodeAct         NodeType = "ACT"
	NodeChapter     NodeType = "CHAPTER"
	NodePage        NodeType = "PAGE"
	NodeCharacter   NodeType = "CHARACTER"
	NodePlayer      NodeType = "PLAYER"
	NodeConditional NodeType = "CONDITIONAL"
	NodeStorylet    NodeType = "STORYLET"
	NodeDetour      NodeType = "DETOUR"
)

// Known reports whether t is one of the enumerated node types.
func (t NodeType) Known() bool {
	switch t {
	case NodeAct, NodeChapter, NodePage, NodeCharacter, NodePlayer,
		NodeConditional, NodeStorylet, NodeDetour:
		return true
	}
	return false
}

// Node is a graph node. Data holds the variant payload and is one of
// *StructureData, *DialogueData, *PlayerData, *ConditionalData,
// *StoryletData or *UnknownData.
type Node struct {
	ID                string
	Type              NodeType
	DefaultNextNodeID string
	Data              NodeData
}

// NodeData is the closed set of node payloads.
type NodeData interface {
	nodeData()
}

// StructureData is the payload of ACT, CHAPTER and PAGE nodes.
type StructureData struct {
	Title    string
	Content  string
	SetFlags []FlagMutation
}

// DialogueData is the payload of CHARACTER nodes.
type DialogueData struct {
	Speaker      string
	CharacterID  string
	Content      string
	Presentation *Presentation
	SetFlags     []FlagMutation
}

// PlayerData is the payload of PLAYER nodes.
type PlayerData struct {
	Speaker      string
	Content      string
	Presentation *Presentation
	Choices      []Choice
	SetFlags     []FlagMutation
}

// ConditionalData is the payload of CONDITIONAL nodes.
type ConditionalData struct {
	Blocks []ConditionalBlock
}

// StoryletData is the payload of STORYLET and DETOUR nodes.
type StoryletData struct {
	Call StoryletCall
}

// UnknownData is decoded for unrecognised node types.
type UnknownData struct{}

func (*StructureData) nodeData()   {}
func (*DialogueData) nodeData()    {}
func (*PlayerData) nodeData()      {}
func (*ConditionalData) nodeData() {}
func (*StoryletData) nodeData()    {}
func (*UnknownData) nodeData()     {}

// nodeWire is the flat CMS shape of a node.
type nodeWire struct {
	ID                string             `json:"id"`
	Type              NodeType           `json:"type"`
	DefaultNextNodeID string             `json:"defaultNextNodeId,omitempty"`
	Title             string             `json:"title,omitempty"`
	Content           string             `json:"content,omitempty"`
	Speaker           string             `json:"speaker,omitempty"`
	CharacterID       string             `json:"characterId,omitempty"`
	Presentation      *Presentation      `json:"presentation,omitempty"`
	Choices           []Choice           `json:"choices,omitempty"`
	ConditionalBlocks []ConditionalBlock `json:"conditionalBlocks,omitempty"`
	StoryletCall      *StoryletCall      `json:"storyletCall,omitempty"`
	SetFlags          []FlagMutation     `json:"setFlags,omitempty"`
}

// MarshalJSON encodes the node in the flat CMS shape.
func (n Node) MarshalJSON() ([]byte, error) {
	w := nodeWire{ID: n.ID, Type: n.Type, DefaultNextNodeID: n.DefaultNextNodeID}
	switch d := n.Data.(type) {
	case *StructureData:
		w.Title, w.Content, w.SetFlags = d.Title, d.Content, d.SetFlags
	case *DialogueData:
		w.Speaker, w.CharacterID, w.Content = d.Speaker, d.CharacterID, d.Content
		w.Presentation, w.SetFlags = d.Presentation, d.SetFlags
	case *PlayerData:
		w.Speaker, w.Content, w.Presentation = d.Speaker, d.Content, d.Presentation
		w.Choices, w.SetFlags = d.Choices, d.SetFlags
	case *ConditionalData:
		w.ConditionalBlocks = d.Blocks
	case *StoryletData:
		call := d.Call
		w.StoryletCall = &call
	case *UnknownData, nil:
	default:
		return nil, fmt.Errorf("node %s: unsupported payload %T", n.ID, n.Data)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the flat CMS shape into a typed payload.
func (n *Node) UnmarshalJSON(b []byte) error {
	var w nodeWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	n.ID, n.Type, n.DefaultNextNodeID = w.ID, w.Type, w.DefaultNextNodeID

	switch w.Type {
	case NodeAct, NodeChapter, NodePage:
		n.Data = &StructureData{Title: w.Title, Content: w.Content, SetFlags: w.SetFlags}
	case NodeCharacter:
		n.Data = &DialogueData{
			Speaker:      w.Speaker,
			CharacterID:  w.CharacterID,
			Content:      w.Content,
			Presentation: w.Presentation,
			SetFlags:     w.SetFlags,
		}
	case NodePlayer:
		n.Data = &PlayerData{
			Speaker:      w.Speaker,
			Content:      w.Content,
			Presentation: w.Presentation,
			Choices:      w.Choices,
			SetFlags:     w.SetFlags,
		}
	case NodeConditional:
		n.Data = &ConditionalData{Blocks: w.ConditionalBlocks}
	case NodeStorylet, NodeDetour:
		sd := &StoryletData{}
		if w.StoryletCall != nil {
			sd.Call = *w.StoryletCall
		}
		n.Data = sd
	default:
		n.Data = &UnknownData{}
	}
	return nil
}

// NewNode returns a node with the zero payload for its type.
func NewNode(id string, t NodeType) Node {
	n := Node{ID: id, Type: t}
	switch t {
	case NodeAct, NodeChapter, NodePage:
		n.Data = &StructureData{}
	case NodeCharacter:
		n.Data = &DialogueData{}
	case NodePlayer:
		n.Data = &PlayerData{}
	case NodeConditional:
		n.Data = &ConditionalData{}
	case NodeStorylet:
		n.Data = &StoryletData{Call: StoryletCall{Mode: CallJump}}
	case NodeDetour:
		n.Data = &StoryletData{Call: StoryletCall{Mode: CallDetourReturn}}
	default:
		n.Data = &UnknownData{}
	}
	return n
}

// SetFlags returns the flag mutations a node applies when visited.
func (n *Node) SetFlags() []FlagMutation {
	switch d := n.Data.(type) {
	case *StructureData:
		return d.SetFlags
	case *DialogueData:
		return d.SetFlags
	case *PlayerData:
		return d.SetFlags
	}
	return nil
}

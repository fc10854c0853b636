package forge

// FrameKind classifies an emitted frame.
type FrameKind string

const (
	FrameDialogue   FrameKind = "DIALOGUE"
	FrameNarrator   FrameKind = "NARRATOR"
	FrameChoice     FrameKind = "CHOICE"
	FrameDiagnostic FrameKind = "DIAGNOSTIC"
)

// FrameSource identifies the node a frame came from.
type FrameSource struct {
	GraphID  string   `json:"graphId"`
	NodeID   string   `json:"nodeId"`
	NodeType NodeType `json:"nodeType"`
}

// Frame is one unit of narrative output. Frames are never modified
// after they are emitted.
type Frame struct {
	ID           string             `json:"id"`
	Kind         FrameKind          `json:"kind"`
	Source       FrameSource        `json:"source"`
	Speaker      string             `json:"speaker,omitempty"`
	Content      string             `json:"content,omitempty"`
	Directives   []RuntimeDirective `json:"directives,omitempty"`
	Presentation PresentationState  `json:"presentation"`
}

// DirectiveType is the kind of presentation asset a directive targets.
type DirectiveType string

const (
	DirectiveBackground DirectiveType = "BACKGROUND"
	DirectivePortrait   DirectiveType = "PORTRAIT"
	DirectiveOverlay    DirectiveType = "OVERLAY"
	DirectiveAudioCue   DirectiveType = "AUDIO_CUE"
)

// ApplyMode is the lifetime of a presentation layer.
type ApplyMode string

const (
	ApplyOnEnter             ApplyMode = "ON_ENTER"
	ApplyPersistUntilChanged ApplyMode = "PERSIST_UNTIL_CHANGED"
)

// RuntimeDirective is an instruction to show or play an asset.
type RuntimeDirective struct {
	Type      DirectiveType  `json:"type"`
	RefID     string         `json:"refId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Priority  int            `json:"priority,omitempty"`
	ApplyMode ApplyMode      `json:"applyMode,omitempty"`
	Resolved  bool           `json:"resolved,omitempty"`
}

// PresentationLayer is a resolved directive keyed by slot.
type PresentationLayer struct {
	Key       string           `json:"key"`
	Directive RuntimeDirective `json:"directive"`
	Priority  int              `json:"priority"`
	ApplyMode ApplyMode        `json:"applyMode"`
}

// PresentationState is the layered visual/audio state.
type PresentationState struct {
	Background *PresentationLayer           `json:"background,omitempty"`
	Portraits  map[string]PresentationLayer `json:"portraits"`
	Overlays   map[string]PresentationLayer `json:"overlays"`
	AudioCues  map[string]PresentationLayer `json:"audioCues"`
}

// NewPresentationState returns an empty state with allocated maps.
func NewPresentationState() PresentationState {
	return PresentationState{
		Portraits: make(map[string]PresentationLayer),
		Overlays:  make(map[string]PresentationLayer),
		AudioCues: make(map[string]PresentationLayer),
	}
}

// Clone returns a shallow copy with fresh maps.
func (p PresentationState) Clone() PresentationState {
	out := NewPresentationState()
	if p.Background != nil {
		bg := *p.Background
		out.Background = &bg
	}
	for k, v := range p.Portraits {
		out.Portraits[k] = v
	}
	for k, v := range p.Overlays {
		out.Overlays[k] = v
	}
	for k, v := range p.AudioCues {
		out.AudioCues[k] = v
	}
	return out
}

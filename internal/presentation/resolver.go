// Package presentation merges runtime directives into layered
// presentation state.
package presentation

import (
	"fmt"
	"reflect"

	"github.com/AaronLay10/NarrativeForge/internal/forge"
)

const backgroundKey = "background"

var defaultKeys = map[forge.DirectiveType]string{
	forge.DirectivePortrait: "portrait",
	forge.DirectiveOverlay:  "overlay",
	forge.DirectiveAudioCue: "audio",
}

// Resolve applies directives on top of the previous persistent state.
// It returns the state visible in this frame and the baseline for the
// next resolution. ON_ENTER layers reach only the frame state.
// prev is never modified.
func Resolve(prev forge.PresentationState, directives []forge.RuntimeDirective) (frame, persistent forge.PresentationState) {
	frame = prev.Clone()
	persistent = prev.Clone()

	for _, d := range directives {
		layer := NewLayer(d)
		apply(&frame, d.Type, layer)
		if layer.ApplyMode == forge.ApplyPersistUntilChanged {
			apply(&persistent, d.Type, layer)
		}
	}
	return frame, persistent
}

// Mark returns the directives of a frame with defaults filled in. Only
// directives whose layer holds its slot in frame are marked Resolved;
// one that lost on priority is not.
func Mark(frame forge.PresentationState, directives []forge.RuntimeDirective) []forge.RuntimeDirective {
	if len(directives) == 0 {
		return nil
	}
	out := make([]forge.RuntimeDirective, len(directives))
	for i, d := range directives {
		layer := NewLayer(d)
		held, ok := slot(frame, d.Type, layer.Key)
		layer.Directive.Resolved = ok && reflect.DeepEqual(held.Directive, layer.Directive)
		out[i] = layer.Directive
	}
	return out
}

func slot(state forge.PresentationState, t forge.DirectiveType, key string) (forge.PresentationLayer, bool) {
	var slots map[string]forge.PresentationLayer
	switch t {
	case forge.DirectiveBackground:
		if state.Background == nil {
			return forge.PresentationLayer{}, false
		}
		return *state.Background, true
	case forge.DirectivePortrait:
		slots = state.Portraits
	case forge.DirectiveOverlay:
		slots = state.Overlays
	case forge.DirectiveAudioCue:
		slots = state.AudioCues
	}
	l, ok := slots[key]
	return l, ok
}

// NewLayer builds the layer for a directive with defaults filled in.
func NewLayer(d forge.RuntimeDirective) forge.PresentationLayer {
	mode := d.ApplyMode
	if mode == "" {
		mode = forge.ApplyPersistUntilChanged
		if d.Type == forge.DirectiveAudioCue {
			mode = forge.ApplyOnEnter
		}
	}
	d.Resolved = true
	return forge.PresentationLayer{
		Key:       LayerKey(d),
		Directive: d,
		Priority:  d.Priority,
		ApplyMode: mode,
	}
}

// LayerKey derives the slot key of a directive.
func LayerKey(d forge.RuntimeDirective) string {
	if d.Type == forge.DirectiveBackground {
		return backgroundKey
	}
	for _, field := range []string{"slotId", "slot", "id"} {
		if v, ok := d.Payload[field]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
	}
	if d.RefID != "" {
		return d.RefID
	}
	if k, ok := defaultKeys[d.Type]; ok {
		return k
	}
	return string(d.Type)
}

// wins reports whether incoming replaces existing. Ties go to incoming.
func wins(incoming, existing forge.PresentationLayer) bool {
	return incoming.Priority >= existing.Priority
}

func apply(state *forge.PresentationState, t forge.DirectiveType, layer forge.PresentationLayer) {
	if t == forge.DirectiveBackground {
		if state.Background == nil || wins(layer, *state.Background) {
			l := layer
			state.Background = &l
		}
		return
	}

	var slots map[string]forge.PresentationLayer
	switch t {
	case forge.DirectivePortrait:
		slots = state.Portraits
	case forge.DirectiveOverlay:
		slots = state.Overlays
	case forge.DirectiveAudioCue:
		slots = state.AudioCues
	default:
		return
	}
	if existing, ok := slots[layer.Key]; ok && !wins(layer, existing) {
		return
	}
	slots[layer.Key] = layer
}

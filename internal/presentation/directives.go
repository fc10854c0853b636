package presentation

import "github.com/AaronLay10/NarrativeForge/internal/forge"

// Directives expands a node's presentation references into runtime
// directives: background, speaker portrait, image overlay, then any
// directives authored explicitly, in that order.
func Directives(p *forge.Presentation, speaker string) []forge.RuntimeDirective {
	if p == nil {
		return nil
	}

	var out []forge.RuntimeDirective
	if p.BackgroundID != "" {
		out = append(out, forge.RuntimeDirective{Type: forge.DirectiveBackground, RefID: p.BackgroundID})
	}
	if p.PortraitID != "" {
		d := forge.RuntimeDirective{Type: forge.DirectivePortrait, RefID: p.PortraitID}
		if speaker != "" {
			d.Payload = map[string]any{"slot": speaker}
		}
		out = append(out, d)
	}
	if p.ImageID != "" {
		out = append(out, forge.RuntimeDirective{
			Type:    forge.DirectiveOverlay,
			RefID:   p.ImageID,
			Payload: map[string]any{"slot": "image"},
		})
	}
	return append(out, p.Directives...)
}

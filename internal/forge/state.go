package forge

// GameState is the flag snapshot threaded between execution calls.
// Flag values are bool, float64 or string.
type GameState struct {
	Flags map[string]any `json:"flags"`
}

// NewGameState returns a state with an empty flag map.
func NewGameState() GameState {
	return GameState{Flags: make(map[string]any)}
}

// Clone returns a copy whose flag map can be modified freely.
func (s GameState) Clone() GameState {
	out := GameState{Flags: make(map[string]any, len(s.Flags))}
	for k, v := range s.Flags {
		out.Flags[k] = v
	}
	return out
}

// ApplyMutations returns a new state with muts applied in order.
// Later mutations of the same flag overwrite earlier ones. The input
// state is never modified.
func ApplyMutations(state GameState, muts []FlagMutation) GameState {
	out := state.Clone()
	for _, m := range muts {
		if m.FlagID == "" {
			continue
		}
		out.Flags[m.FlagID] = NormalizeValue(m.Value)
	}
	return out
}

// NormalizeValue coerces JSON/YAML decoded numbers to float64 so flag
// comparisons see one numeric type.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case float32:
		return float64(x)
	case uint:
		return float64(x)
	case uint64:
		return float64(x)
	}
	return v
}

package yarn

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AaronLay10/NarrativeForge/internal/condition"
	"github.com/AaronLay10/NarrativeForge/internal/forge"
)

// Handler converts one node type to and from its block form. Export
// handlers leave out the title, type, tags and the trailing default jump;
// the converter adds those for every node. Import handlers receive the
// block with the trailing default jump already removed.
type Handler interface {
	ExportNode(n *forge.Node, ix *forge.Index) (*Block, error)
	ImportNode(id string, b *Block, warn func(line int, err error)) (forge.Node, error)
}

func defaultHandlers() map[forge.NodeType]Handler {
	structure := structureHandler{}
	storylet := storyletHandler{}
	return map[forge.NodeType]Handler{
		forge.NodeAct:         structure,
		forge.NodeChapter:     structure,
		forge.NodePage:        structure,
		forge.NodeCharacter:   dialogueHandler{},
		forge.NodePlayer:      playerHandler{},
		forge.NodeConditional: conditionalHandler{},
		forge.NodeStorylet:    storylet,
		forge.NodeDetour:      storylet,
	}
}

// contentLines renders speaker and possibly multi-line content. Only the
// first line carries the speaker.
func contentLines(speaker, content string) []Line {
	if speaker == "" && content == "" {
		return nil
	}
	parts := strings.Split(content, "\n")
	out := make([]Line, 0, len(parts))
	for i, p := range parts {
		if i == 0 {
			out = append(out, Text(speaker, p))
			continue
		}
		out = append(out, Text("", p))
	}
	return out
}

func setLines(muts []forge.FlagMutation) []Line {
	out := make([]Line, 0, len(muts))
	for _, m := range muts {
		if m.FlagID == "" {
			continue
		}
		out = append(out, Set(m.FlagID, condition.FormatLiteral(m.Value)))
	}
	return out
}

// addSet appends the mutation of a set line. Computed values have no
// mutation form; the line is reported and left out.
func addSet(muts []forge.FlagMutation, l Line, warn func(int, error)) []forge.FlagMutation {
	v, err := condition.ParseValue(l.Value)
	if err != nil {
		warn(l.Pos, fmt.Errorf("%w: set $%s: %w", ErrMalformed, l.Flag, err))
		return muts
	}
	return append(muts, forge.FlagMutation{FlagID: l.Flag, Value: v})
}

// content accumulates text lines into a speaker and content string.
type content struct {
	speaker string
	lines   []string
}

func (c *content) add(l Line) {
	if len(c.lines) == 0 && l.Speaker != "" {
		c.speaker = l.Speaker
		c.lines = append(c.lines, l.Text)
		return
	}
	if l.Speaker != "" {
		c.lines = append(c.lines, l.Speaker+": "+l.Text)
		return
	}
	c.lines = append(c.lines, l.Text)
}

func (c *content) text() string {
	return strings.Join(c.lines, "\n")
}

// conditionText renders conditions; an empty list is written as "true".
func conditionText(conds []forge.Condition) string {
	if len(conds) == 0 {
		return "true"
	}
	return condition.ToText(conds)
}

// parseConditions reads condition text. Malformed text is reported and
// replaced by a condition that never holds, keeping gated content gated.
func parseConditions(text string, line int, warn func(int, error)) []forge.Condition {
	text = strings.TrimSpace(text)
	if text == "" || text == "true" {
		return nil
	}
	conds, err := condition.FromText(text)
	if err != nil {
		warn(line, err)
		return []forge.Condition{{Operator: forge.OpIsSet, Literal: false}}
	}
	return conds
}

func writePresentation(b *Block, p *forge.Presentation) error {
	if p == nil {
		return nil
	}
	b.SetHeader("background", p.BackgroundID)
	b.SetHeader("image", p.ImageID)
	b.SetHeader("portrait", p.PortraitID)
	if len(p.Directives) > 0 {
		raw, err := json.Marshal(p.Directives)
		if err != nil {
			return fmt.Errorf("encode directives: %w", err)
		}
		b.SetHeader("directives", string(raw))
	}
	return nil
}

func readPresentation(b *Block, warn func(int, error)) *forge.Presentation {
	var p forge.Presentation
	found := false
	if v, ok := b.Header("background"); ok {
		p.BackgroundID, found = v, true
	}
	if v, ok := b.Header("image"); ok {
		p.ImageID, found = v, true
	}
	if v, ok := b.Header("portrait"); ok {
		p.PortraitID, found = v, true
	}
	if v, ok := b.Header("directives"); ok {
		found = true
		if err := json.Unmarshal([]byte(v), &p.Directives); err != nil {
			warn(b.Pos, fmt.Errorf("%w: directives header: %v", ErrMalformed, err))
		}
	}
	if !found {
		return nil
	}
	return &p
}

func unexpected(l Line, warn func(int, error)) {
	if l.Kind == LineComment {
		return
	}
	warn(l.Pos, fmt.Errorf("%w: unexpected %q", ErrMalformed, l.String()))
}

type structureHandler struct{}

func (structureHandler) ExportNode(n *forge.Node, _ *forge.Index) (*Block, error) {
	d, ok := n.Data.(*forge.StructureData)
	if !ok {
		return nil, fmt.Errorf("payload %T is not structural", n.Data)
	}
	b := &Block{}
	b.SetHeader("label", d.Title)
	b.Lines = append(contentLines("", d.Content), setLines(d.SetFlags)...)
	return b, nil
}

func (structureHandler) ImportNode(id string, b *Block, warn func(int, error)) (forge.Node, error) {
	d := &forge.StructureData{}
	d.Title, _ = b.Header("label")
	var c content
	for _, l := range b.Lines {
		switch l.Kind {
		case LineText:
			c.add(l)
		case LineSet:
			d.SetFlags = addSet(d.SetFlags, l, warn)
		default:
			unexpected(l, warn)
		}
	}
	// Structural nodes have no speaker; a leading "Name: text" is content.
	if c.speaker != "" && len(c.lines) > 0 {
		c.lines[0] = c.speaker + ": " + c.lines[0]
	}
	d.Content = c.text()
	return forge.Node{ID: id, Data: d}, nil
}

type dialogueHandler struct{}

func (dialogueHandler) ExportNode(n *forge.Node, _ *forge.Index) (*Block, error) {
	d, ok := n.Data.(*forge.DialogueData)
	if !ok {
		return nil, fmt.Errorf("payload %T is not dialogue", n.Data)
	}
	b := &Block{}
	b.SetHeader("character", d.CharacterID)
	if err := writePresentation(b, d.Presentation); err != nil {
		return nil, err
	}
	b.Lines = append(contentLines(d.Speaker, d.Content), setLines(d.SetFlags)...)
	return b, nil
}

func (dialogueHandler) ImportNode(id string, b *Block, warn func(int, error)) (forge.Node, error) {
	d := &forge.DialogueData{Presentation: readPresentation(b, warn)}
	d.CharacterID, _ = b.Header("character")
	var c content
	for _, l := range b.Lines {
		switch l.Kind {
		case LineText:
			c.add(l)
		case LineSet:
			d.SetFlags = addSet(d.SetFlags, l, warn)
		default:
			unexpected(l, warn)
		}
	}
	d.Speaker, d.Content = c.speaker, c.text()
	return forge.Node{ID: id, Data: d}, nil
}

type playerHandler struct{}

func (playerHandler) ExportNode(n *forge.Node, ix *forge.Index) (*Block, error) {
	d, ok := n.Data.(*forge.PlayerData)
	if !ok {
		return nil, fmt.Errorf("payload %T is not a player node", n.Data)
	}
	b := &Block{}
	if err := writePresentation(b, d.Presentation); err != nil {
		return nil, err
	}
	b.Lines = append(contentLines(d.Speaker, d.Content), setLines(d.SetFlags)...)
	for _, c := range d.Choices {
		opt := Line{Kind: LineOption, Text: c.Text, ID: c.ID}
		if len(c.Conditions) > 0 {
			opt.Cond = condition.ToText(c.Conditions)
		}
		opt.Body = setLines(c.Mutations)
		target := c.NextNodeID
		if target == "" {
			target = ix.HandleTarget(n.ID, c.ID, forge.EdgeChoice)
		}
		if target != "" {
			opt.Body = append(opt.Body, Jump(target))
		}
		b.Lines = append(b.Lines, opt)
	}
	return b, nil
}

func (playerHandler) ImportNode(id string, b *Block, warn func(int, error)) (forge.Node, error) {
	d := &forge.PlayerData{Presentation: readPresentation(b, warn)}
	var c content
	for _, l := range b.Lines {
		switch l.Kind {
		case LineText:
			c.add(l)
		case LineSet:
			d.SetFlags = addSet(d.SetFlags, l, warn)
		case LineOption:
			ch := forge.Choice{ID: l.ID, Text: l.Text, Conditions: parseConditions(l.Cond, l.Pos, warn)}
			if ch.ID == "" {
				ch.ID = fmt.Sprintf("%s_choice_%d", id, len(d.Choices))
			}
			for _, s := range l.Body {
				switch s.Kind {
				case LineSet:
					ch.Mutations = addSet(ch.Mutations, s, warn)
				case LineJump:
					ch.NextNodeID = s.Target
				default:
					unexpected(s, warn)
				}
			}
			d.Choices = append(d.Choices, ch)
		default:
			unexpected(l, warn)
		}
	}
	d.Speaker, d.Content = c.speaker, c.text()
	return forge.Node{ID: id, Data: d}, nil
}

type conditionalHandler struct{}

func (conditionalHandler) ExportNode(n *forge.Node, ix *forge.Index) (*Block, error) {
	d, ok := n.Data.(*forge.ConditionalData)
	if !ok {
		return nil, fmt.Errorf("payload %T is not conditional", n.Data)
	}
	b := &Block{}
	if len(d.Blocks) == 0 {
		return b, nil
	}
	for i, cb := range d.Blocks {
		l := Line{ID: cb.ID}
		switch {
		case cb.Type == forge.BlockElse:
			l.Kind = LineElse
		case i == 0:
			l.Kind, l.Cond = LineIf, conditionText(cb.Condition)
		default:
			l.Kind, l.Cond = LineElseIf, conditionText(cb.Condition)
		}
		b.Lines = append(b.Lines, l)
		b.Lines = append(b.Lines, contentLines(cb.Speaker, cb.Content)...)
		b.Lines = append(b.Lines, setLines(cb.SetFlags)...)
		target := cb.NextNodeID
		if target == "" {
			target = ix.HandleTarget(n.ID, cb.ID, forge.EdgeCondition)
		}
		if target != "" {
			b.Lines = append(b.Lines, Jump(target))
		}
	}
	b.Lines = append(b.Lines, Line{Kind: LineEndIf})
	return b, nil
}

func (h conditionalHandler) ImportNode(id string, b *Block, warn func(int, error)) (forge.Node, error) {
	nodes, err := h.ImportNodes(id, b, warn)
	if err != nil {
		return forge.Node{}, err
	}
	return nodes[0], nil
}

// ImportNodes reads the if/elseif/else chain into node id, returned first.
// From the first nested <<if>> on, the statements of a block become a
// chain of further nodes the block jumps to. Chain nodes with an empty
// DefaultNextNodeID continue wherever node id does.
func (conditionalHandler) ImportNodes(id string, b *Block, warn func(int, error)) ([]forge.Node, error) {
	lw := &lowering{warn: warn}
	n := lw.conditional(id, b.Lines, "")
	if lw.unclosed {
		warn(b.Pos, fmt.Errorf("%w: missing <<endif>>", ErrMalformed))
	}
	return append([]forge.Node{n}, lw.extra...), nil
}

type lowering struct {
	warn     func(int, error)
	extra    []forge.Node
	unclosed bool
}

// matchEndIf returns the index of the <<endif>> closing the <<if>> at i,
// or the last index when it is missing.
func matchEndIf(lines []Line, i int) int {
	depth := 0
	for j := i; j < len(lines); j++ {
		switch lines[j].Kind {
		case LineIf:
			depth++
		case LineEndIf:
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return len(lines) - 1
}

// conditional builds node id from if/elseif/else chains. Blocks without a
// jump of their own end at fall.
func (lw *lowering) conditional(id string, lines []Line, fall string) forge.Node {
	d := &forge.ConditionalData{}
	var (
		open bool
		cur  *forge.ConditionalBlock
		body []Line
	)
	flush := func() {
		if cur != nil {
			lw.block(id, cur, body, fall)
			d.Blocks = append(d.Blocks, *cur)
		}
		cur, body = nil, nil
	}
	start := func(l Line, t forge.BlockType) {
		flush()
		cur = &forge.ConditionalBlock{ID: l.ID, Type: t}
		if t != forge.BlockElse {
			cur.Condition = parseConditions(l.Cond, l.Pos, lw.warn)
		}
		if cur.ID == "" {
			cur.ID = fmt.Sprintf("%s_block_%d", id, len(d.Blocks))
		}
	}

	for i := 0; i < len(lines); i++ {
		l := lines[i]
		switch l.Kind {
		case LineIf:
			if open {
				end := matchEndIf(lines, i)
				body = append(body, lines[i:end+1]...)
				i = end
				continue
			}
			open = true
			start(l, forge.BlockIf)
		case LineElseIf, LineElse:
			if !open {
				unexpected(l, lw.warn)
				continue
			}
			t := forge.BlockElseIf
			if l.Kind == LineElse {
				t = forge.BlockElse
			}
			start(l, t)
		case LineEndIf:
			if !open {
				unexpected(l, lw.warn)
				continue
			}
			open = false
		default:
			if !open {
				unexpected(l, lw.warn)
				continue
			}
			body = append(body, l)
		}
	}
	if open {
		lw.unclosed = true
	}
	flush()
	return forge.Node{ID: id, Type: forge.NodeConditional, Data: d}
}

// block fills cur from its statements. Text, sets and a jump before any
// nested <<if>> stay on the block.
func (lw *lowering) block(owner string, cur *forge.ConditionalBlock, body []Line, fall string) {
	split := len(body)
	var c content
	for i, l := range body {
		if l.Kind == LineIf {
			split = i
			break
		}
		switch l.Kind {
		case LineText:
			c.add(l)
		case LineSet:
			cur.SetFlags = addSet(cur.SetFlags, l, lw.warn)
		case LineJump:
			cur.NextNodeID = l.Target
		default:
			unexpected(l, lw.warn)
		}
	}
	cur.Speaker, cur.Content = c.speaker, c.text()
	if split == len(body) {
		return
	}
	if cur.NextNodeID != "" {
		lw.warn(body[split].Pos, fmt.Errorf("%w: unreachable after <<jump %s>>", ErrMalformed, cur.NextNodeID))
		return
	}
	prefix := cur.ID
	if !strings.HasPrefix(prefix, owner+"_") {
		prefix = owner + "_" + prefix
	}
	cur.NextNodeID = lw.chain(prefix, body[split:], fall)
}

// chain turns statements into nodes run in order and returns the id of
// the first. A new node starts at each nested <<if>>, at each line with a
// speaker and at text following a set, so frames keep their speakers and
// sets apply in source order.
func (lw *lowering) chain(prefix string, lines []Line, fall string) string {
	exit := fall
	type segment struct {
		lines  []Line
		nested bool
	}
	var (
		segs []segment
		cur  *segment
	)
	hasKind := func(s *segment, k LineKind) bool {
		for _, l := range s.lines {
			if l.Kind == k {
				return true
			}
		}
		return false
	}
loop:
	for i := 0; i < len(lines); i++ {
		l := lines[i]
		switch l.Kind {
		case LineIf:
			end := matchEndIf(lines, i)
			segs = append(segs, segment{lines: lines[i : end+1], nested: true})
			cur = nil
			i = end
		case LineJump:
			exit = l.Target
			if i+1 < len(lines) {
				lw.warn(lines[i+1].Pos, fmt.Errorf("%w: unreachable after <<jump %s>>", ErrMalformed, l.Target))
			}
			break loop
		case LineText, LineSet:
			if cur == nil ||
				(l.Kind == LineText && l.Speaker != "" && hasKind(cur, LineText)) ||
				(l.Kind == LineText && hasKind(cur, LineSet)) {
				segs = append(segs, segment{})
				cur = &segs[len(segs)-1]
			}
			cur.lines = append(cur.lines, l)
		default:
			unexpected(l, lw.warn)
		}
	}

	nodes := make([]forge.Node, len(segs))
	next := exit
	for k := len(segs) - 1; k >= 0; k-- {
		id := fmt.Sprintf("%s_%d", prefix, k+1)
		if segs[k].nested {
			nodes[k] = lw.conditional(id, segs[k].lines, next)
		} else {
			nodes[k] = lw.plain(id, segs[k].lines)
		}
		nodes[k].DefaultNextNodeID = next
		next = id
	}
	lw.extra = append(lw.extra, nodes...)
	return next
}

// plain builds a dialogue node, or for sets alone a conditional whose
// single block always holds, so no frame is emitted.
func (lw *lowering) plain(id string, lines []Line) forge.Node {
	var (
		c    content
		sets []forge.FlagMutation
	)
	for _, l := range lines {
		switch l.Kind {
		case LineText:
			c.add(l)
		case LineSet:
			sets = addSet(sets, l, lw.warn)
		}
	}
	if len(c.lines) == 0 {
		return forge.Node{ID: id, Type: forge.NodeConditional, Data: &forge.ConditionalData{
			Blocks: []forge.ConditionalBlock{{ID: id + "_block_0", Type: forge.BlockIf, SetFlags: sets}},
		}}
	}
	return forge.Node{ID: id, Type: forge.NodeCharacter, Data: &forge.DialogueData{
		Speaker: c.speaker, Content: c.text(), SetFlags: sets,
	}}
}

type storyletHandler struct{}

func (storyletHandler) ExportNode(n *forge.Node, _ *forge.Index) (*Block, error) {
	d, ok := n.Data.(*forge.StoryletData)
	if !ok {
		return nil, fmt.Errorf("payload %T is not a storylet", n.Data)
	}
	return &Block{Lines: []Line{callLine(d.Call)}}, nil
}

func callLine(c forge.StoryletCall) Line {
	var args []string
	for _, kv := range [][2]string{
		{"target", c.TargetGraphID},
		{"mode", string(c.Mode)},
		{"start", c.TargetStartNodeID},
		{"return", c.ReturnNodeID},
		{"returnGraph", c.ReturnGraphID},
	} {
		if kv[1] != "" {
			args = append(args, kv[0]+"="+kv[1])
		}
	}
	return Command("storylet", strings.Join(args, " "))
}

func (storyletHandler) ImportNode(id string, b *Block, warn func(int, error)) (forge.Node, error) {
	d := &forge.StoryletData{}
	found := false
	for _, l := range b.Lines {
		switch {
		case l.Kind == LineCommand && l.Name == "storylet":
			found = true
			for _, f := range strings.Fields(l.Text) {
				k, v, _ := strings.Cut(f, "=")
				switch k {
				case "target":
					d.Call.TargetGraphID = v
				case "mode":
					d.Call.Mode = forge.CallMode(v)
				case "start":
					d.Call.TargetStartNodeID = v
				case "return":
					d.Call.ReturnNodeID = v
				case "returnGraph":
					d.Call.ReturnGraphID = v
				default:
					warn(l.Pos, fmt.Errorf("%w: unknown storylet argument %q", ErrMalformed, f))
				}
			}
		case l.Kind == LineCommand && l.Name == "detour":
			// Entry into the inlined copy; the call itself carries the target.
		default:
			unexpected(l, warn)
		}
	}
	if !found {
		return forge.Node{}, fmt.Errorf("%w: missing <<storylet>> command", ErrMalformed)
	}
	return forge.Node{ID: id, Data: d}, nil
}

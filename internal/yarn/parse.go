package yarn

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	headerLine = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_\-]*)\s*:\s*(.*)$`)
	choiceTag  = regexp.MustCompile(`\s*#choice:(\S+)\s*$`)
	blockTag   = regexp.MustCompile(`\s*#block:(\S+)\s*$`)
	optionCond = regexp.MustCompile(`^(.*?)\s*<<if\s+(.*)>>$`)
)

// Parse splits Yarn text into blocks. Malformed lines are reported and
// skipped; a block missing its closing "===" ends at the next title or
// at the end of input.
func Parse(text string) ([]*Block, []*ConversionError) {
	p := &parser{}
	for i, raw := range strings.Split(text, "\n") {
		p.line(i+1, strings.TrimRight(raw, "\r"))
	}
	if p.cur != nil {
		p.issue(p.cur.Pos, fmt.Errorf("%w: missing ===", ErrMalformed))
		p.finish()
	}
	return p.blocks, p.issues
}

type parser struct {
	blocks []*Block
	issues []*ConversionError
	cur    *Block
	body   bool
}

func (p *parser) issue(pos int, err error) {
	id := ""
	if p.cur != nil {
		id = p.cur.Title
	}
	p.issues = append(p.issues, &ConversionError{NodeID: id, Line: pos, Err: err})
}

func (p *parser) finish() {
	if p.cur.Title == "" {
		p.issue(p.cur.Pos, fmt.Errorf("%w: block has no title", ErrMalformed))
		p.cur.Title = fmt.Sprintf("untitled_%d", len(p.blocks)+1)
	}
	p.blocks = append(p.blocks, p.cur)
	p.cur = nil
	p.body = false
}

func (p *parser) line(pos int, raw string) {
	trimmed := strings.TrimSpace(raw)

	if p.cur == nil {
		switch {
		case trimmed == "" || strings.HasPrefix(trimmed, "//"):
			return
		case headerLine.MatchString(trimmed):
			p.cur = &Block{Pos: pos}
		default:
			p.issue(pos, fmt.Errorf("%w: text outside a block", ErrMalformed))
			return
		}
	}

	if !p.body {
		switch {
		case trimmed == "":
		case trimmed == "---":
			p.body = true
		case trimmed == "===":
			p.issue(pos, fmt.Errorf("%w: block has no body", ErrMalformed))
			p.finish()
		default:
			m := headerLine.FindStringSubmatch(trimmed)
			if m == nil {
				p.issue(pos, fmt.Errorf("%w: bad header %q", ErrMalformed, trimmed))
				return
			}
			if m[1] == "title" {
				if p.cur.Title != "" {
					// A second title starts a new block that lost its body.
					p.issue(pos, fmt.Errorf("%w: missing --- before next title", ErrMalformed))
					p.finish()
					p.cur = &Block{Pos: pos}
				}
				p.cur.Title = strings.TrimSpace(m[2])
				return
			}
			p.cur.Headers = append(p.cur.Headers, Header{Key: m[1], Value: strings.TrimSpace(m[2])})
		}
		return
	}

	if trimmed == "===" {
		p.finish()
		return
	}
	if trimmed == "" {
		return
	}
	if strings.HasPrefix(raw, "title:") {
		p.issue(pos, fmt.Errorf("%w: missing ===", ErrMalformed))
		p.finish()
		p.line(pos, raw)
		return
	}

	l := parseStatement(strings.TrimLeft(raw, " \t"), pos)
	indented := raw[0] == ' ' || raw[0] == '\t'
	if n := len(p.cur.Lines); indented && n > 0 && p.cur.Lines[n-1].Kind == LineOption {
		p.cur.Lines[n-1].Body = append(p.cur.Lines[n-1].Body, l)
		return
	}
	p.cur.Lines = append(p.cur.Lines, l)
}

func parseStatement(s string, pos int) Line {
	switch {
	case strings.HasPrefix(s, `\`):
		return Line{Kind: LineText, Text: s[1:], Pos: pos}

	case strings.HasPrefix(s, "//"):
		return Line{Kind: LineComment, Text: strings.TrimSpace(s[2:]), Pos: pos}

	case strings.HasPrefix(s, "->"):
		l := Line{Kind: LineOption, Pos: pos}
		rest := strings.TrimSpace(s[2:])
		if m := choiceTag.FindStringSubmatchIndex(rest); m != nil {
			l.ID = rest[m[2]:m[3]]
			rest = rest[:m[0]]
		}
		if m := optionCond.FindStringSubmatch(rest); m != nil {
			rest, l.Cond = m[1], strings.TrimSpace(m[2])
		}
		l.Text = strings.TrimSpace(rest)
		return l

	case strings.HasPrefix(s, "<<"):
		id := ""
		body := s
		if m := blockTag.FindStringSubmatchIndex(s); m != nil {
			id = s[m[2]:m[3]]
			body = s[:m[0]]
		}
		body = strings.TrimSpace(body)
		if !strings.HasSuffix(body, ">>") {
			break
		}
		inner := strings.TrimSpace(body[2 : len(body)-2])
		name, args, _ := strings.Cut(inner, " ")
		args = strings.TrimSpace(args)

		switch name {
		case "set":
			return parseSet(args, pos)
		case "jump":
			return Line{Kind: LineJump, Target: args, Pos: pos}
		case "if":
			return Line{Kind: LineIf, Cond: args, ID: id, Pos: pos}
		case "elseif":
			return Line{Kind: LineElseIf, Cond: args, ID: id, Pos: pos}
		case "else":
			return Line{Kind: LineElse, ID: id, Pos: pos}
		case "endif":
			return Line{Kind: LineEndIf, Pos: pos}
		}
		if id != "" {
			break
		}
		return Line{Kind: LineCommand, Name: name, Text: args, Pos: pos}
	}

	if m := speakerLine.FindStringSubmatch(s); m != nil {
		return Line{Kind: LineText, Speaker: m[1], Text: m[2], Pos: pos}
	}
	return Line{Kind: LineText, Text: s, Pos: pos}
}

// parseSet accepts "$flag to value", "$flag = value" and a bare "$flag"
// which sets the flag to true.
func parseSet(args string, pos int) Line {
	flag, value := args, "true"
	if f, v, ok := strings.Cut(args, " to "); ok {
		flag, value = f, v
	} else if f, v, ok := strings.Cut(args, "="); ok {
		flag, value = f, v
	}
	flag = strings.TrimPrefix(strings.TrimSpace(flag), "$")
	return Line{Kind: LineSet, Flag: flag, Value: strings.TrimSpace(value), Pos: pos}
}

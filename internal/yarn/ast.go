package yarn

import (
	"fmt"
	"regexp"
	"strings"
)

// LineKind identifies a statement in a block body.
type LineKind int

const (
	LineText LineKind = iota
	LineSet
	LineJump
	LineOption
	LineIf
	LineElseIf
	LineElse
	LineEndIf
	LineCommand
	LineComment
)

// Line is one statement of a block body. Option lines carry their
// indented statements in Body.
type Line struct {
	Kind    LineKind
	Speaker string
	Text    string // text, option text, comment or raw command arguments
	Cond    string // condition text of options and if/elseif
	Flag    string
	Value   string // literal text of a set
	Target  string
	ID      string // #choice: or #block: tag
	Name    string // command name
	Body    []Line
	Pos     int // 1-based source line, 0 when built in memory
}

// Header is a "key: value" line above the body separator.
type Header struct {
	Key   string
	Value string
}

// Block is the text unit for one node: headers, "---", body, "===".
type Block struct {
	Title   string
	Headers []Header
	Lines   []Line
	Pos     int
}

// Header returns the value of the first header with key.
func (b *Block) Header(key string) (string, bool) {
	for _, h := range b.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return "", false
}

// SetHeader replaces or appends a header. Empty values are not written.
func (b *Block) SetHeader(key, value string) {
	for i := range b.Headers {
		if b.Headers[i].Key == key {
			if value == "" {
				b.Headers = append(b.Headers[:i], b.Headers[i+1:]...)
			} else {
				b.Headers[i].Value = value
			}
			return
		}
	}
	if value != "" {
		b.Headers = append(b.Headers, Header{Key: key, Value: value})
	}
}

// Tags returns the space separated values of the tags header.
func (b *Block) Tags() []string {
	v, _ := b.Header("tags")
	return strings.Fields(v)
}

// HasTag reports whether tag is present in the tags header.
func (b *Block) HasTag(tag string) bool {
	for _, t := range b.Tags() {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends tag to the tags header.
func (b *Block) AddTag(tag string) {
	if b.HasTag(tag) {
		return
	}
	b.SetHeader("tags", strings.TrimSpace(strings.Join(append(b.Tags(), tag), " ")))
}

// LastJump returns the index of the trailing top-level jump, or -1.
func (b *Block) LastJump() int {
	depth := 0
	last := -1
	for i, l := range b.Lines {
		switch l.Kind {
		case LineIf:
			depth++
		case LineEndIf:
			if depth > 0 {
				depth--
			}
		case LineJump:
			if depth == 0 {
				last = i
			}
		}
	}
	if last == len(b.Lines)-1 {
		return last
	}
	return -1
}

// PatchJump points the trailing top-level jump at target, appending one
// when the block does not end with a jump.
func (b *Block) PatchJump(target string) {
	if i := b.LastJump(); i >= 0 {
		b.Lines[i].Target = target
		return
	}
	b.Lines = append(b.Lines, Jump(target))
}

// Text builds a text line.
func Text(speaker, text string) Line { return Line{Kind: LineText, Speaker: speaker, Text: text} }

// Set builds a set line.
func Set(flag, value string) Line { return Line{Kind: LineSet, Flag: flag, Value: value} }

// Jump builds a jump line.
func Jump(target string) Line { return Line{Kind: LineJump, Target: target} }

// Command builds a generic command line.
func Command(name, args string) Line { return Line{Kind: LineCommand, Name: name, Text: args} }

// Comment builds a comment line.
func Comment(text string) Line { return Line{Kind: LineComment, Text: text} }

var speakerLine = regexp.MustCompile(`^([^:<>#\s\\/][^:<>#]*?):(?:\s+(.*))?$`)

// needsEscape reports whether a narrator line would be read back as
// something other than plain text.
func needsEscape(s string) bool {
	if s == "" {
		return true
	}
	switch s[0] {
	case ' ', '\t', '\\':
		return true
	}
	for _, p := range []string{"<<", "->", "//", "===", "---"} {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return speakerLine.MatchString(s)
}

func (l Line) String() string {
	switch l.Kind {
	case LineText:
		if l.Speaker != "" {
			return l.Speaker + ": " + l.Text
		}
		if needsEscape(l.Text) {
			return `\` + l.Text
		}
		return l.Text
	case LineSet:
		return fmt.Sprintf("<<set $%s to %s>>", l.Flag, l.Value)
	case LineJump:
		return "<<jump " + l.Target + ">>"
	case LineOption:
		s := "-> " + l.Text
		if l.Cond != "" {
			s += " <<if " + l.Cond + ">>"
		}
		if l.ID != "" {
			s += " #choice:" + l.ID
		}
		return s
	case LineIf, LineElseIf, LineElse:
		var s string
		switch l.Kind {
		case LineIf:
			s = "<<if " + l.Cond + ">>"
		case LineElseIf:
			s = "<<elseif " + l.Cond + ">>"
		default:
			s = "<<else>>"
		}
		if l.ID != "" {
			s += " #block:" + l.ID
		}
		return s
	case LineEndIf:
		return "<<endif>>"
	case LineCommand:
		if l.Text == "" {
			return "<<" + l.Name + ">>"
		}
		return "<<" + l.Name + " " + l.Text + ">>"
	case LineComment:
		return "// " + l.Text
	}
	return ""
}

// Write serialises the block.
func (b *Block) Write(sb *strings.Builder) {
	sb.WriteString("title: " + b.Title + "\n")
	for _, h := range b.Headers {
		sb.WriteString(h.Key + ": " + h.Value + "\n")
	}
	sb.WriteString("---\n")
	for _, l := range b.Lines {
		sb.WriteString(l.String() + "\n")
		for _, c := range l.Body {
			sb.WriteString("    " + c.String() + "\n")
		}
	}
	sb.WriteString("===\n")
}

// Format serialises blocks separated by blank lines.
func Format(blocks []*Block) string {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString("\n")
		}
		b.Write(&sb)
	}
	return sb.String()
}

package yarn

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/AaronLay10/NarrativeForge/internal/condition"
	"github.com/AaronLay10/NarrativeForge/internal/forge"
	"github.com/AaronLay10/NarrativeForge/internal/orchestrator"
)

type graphs map[string]*forge.Graph

func (m graphs) ResolveGraph(_ context.Context, id string) (*forge.Graph, error) {
	if g, ok := m[id]; ok {
		return g, nil
	}
	return nil, fmt.Errorf("no graph %s", id)
}

func flow(src, tgt string) forge.Edge {
	return forge.Edge{ID: src + "-" + tgt, Source: src, Target: tgt, Kind: forge.EdgeFlow}
}

func storyGraph() *forge.Graph {
	return &forge.Graph{
		ID:          "story",
		StartNodeID: "act1",
		EndNodeIDs:  []forge.EndNode{{NodeID: "end", ExitKey: "done"}},
		Nodes: []forge.Node{
			{ID: "act1", Type: forge.NodeAct, Data: &forge.StructureData{Title: "Act One"}},
			{ID: "ch1", Type: forge.NodeChapter, Data: &forge.StructureData{Content: "Chapter: the beginning"}},
			{ID: "intro", Type: forge.NodeCharacter, Data: &forge.DialogueData{
				Speaker:      "Guard",
				Content:      "Halt, {$name}.\nWho goes there?",
				Presentation: &forge.Presentation{BackgroundID: "gate"},
				SetFlags:     []forge.FlagMutation{{FlagID: "met", Value: true}},
			}},
			{ID: "ask", Type: forge.NodePlayer, Data: &forge.PlayerData{Choices: []forge.Choice{
				{ID: "leave", Text: "Leave", NextNodeID: "bye"},
				{
					ID: "unlock", Text: "Unlock", NextNodeID: "open",
					Conditions: []forge.Condition{{Flag: "hasKey", Operator: forge.OpEq, Value: true}},
					Mutations:  []forge.FlagMutation{{FlagID: "door", Value: "open"}},
				},
				{
					ID: "bribe", Text: "Bribe",
					Conditions: []forge.Condition{{Flag: "gold", Operator: forge.OpGte, Value: 3.0}},
					Mutations:  []forge.FlagMutation{{FlagID: "gold", Value: 0.0}},
				},
			}}},
			{ID: "open", Type: forge.NodeConditional, Data: &forge.ConditionalData{Blocks: []forge.ConditionalBlock{
				{
					ID: "b1", Type: forge.BlockIf, Content: "It creaks.", NextNodeID: "end",
					Condition: []forge.Condition{{Flag: "door", Operator: forge.OpEq, Value: "open"}},
				},
				{
					ID: "b2", Type: forge.BlockElse, Speaker: "Guard",
					Content:  "Locked.\n<<if $gold > 0>>\nTry paying.\n<<endif>>",
					SetFlags: []forge.FlagMutation{{FlagID: "tried", Value: true}},
				},
			}}},
			{ID: "bye", Type: forge.NodeCharacter, Data: &forge.DialogueData{Speaker: "Guard", Content: "Good."}},
			{ID: "end", Type: forge.NodePage, Data: &forge.StructureData{Content: "The end."}},
		},
		Edges: []forge.Edge{
			flow("act1", "ch1"),
			flow("ch1", "intro"),
			flow("intro", "ask"),
			{ID: "ask-bribe", Source: "ask", Target: "open", Kind: forge.EdgeChoice, SourceHandle: "bribe"},
			flow("bye", "end"),
		},
	}
}

func TestRoundTripPreservesStructure(t *testing.T) {
	g := storyGraph()
	conv := New(nil)

	out, err := conv.Export(context.Background(), g)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(out.Issues) != 0 {
		t.Fatalf("unexpected export issues: %v", out.Issues)
	}

	in, err := conv.Import(out.Text, "story")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(in.Issues) != 0 {
		t.Fatalf("unexpected import issues: %v\n%s", in.Issues, out.Text)
	}
	got := in.Graph

	if got.StartNodeID != g.StartNodeID {
		t.Errorf("start: want %s, got %s", g.StartNodeID, got.StartNodeID)
	}
	if len(got.Nodes) != len(g.Nodes) {
		t.Fatalf("node count: want %d, got %d", len(g.Nodes), len(got.Nodes))
	}
	if diff := cmp.Diff(g.EndNodeIDs, got.EndNodeIDs); diff != "" {
		t.Errorf("end nodes mismatch (-want +got):\n%s", diff)
	}

	orig := forge.NewIndex(g)
	back := forge.NewIndex(got)
	for _, n := range g.Nodes {
		rn, ok := back.Node(n.ID)
		if !ok {
			t.Errorf("node %s missing after import", n.ID)
			continue
		}
		if rn.Type != n.Type {
			t.Errorf("node %s: type %s, want %s", n.ID, rn.Type, n.Type)
		}
		if want, have := orig.DefaultNextNode(n.ID), back.DefaultNextNode(n.ID); want != have {
			t.Errorf("node %s: default next %q, want %q", n.ID, have, want)
		}
	}

	ask, _ := back.Node("ask")
	var targets []string
	for _, c := range ask.Data.(*forge.PlayerData).Choices {
		targets = append(targets, back.ChoiceTarget("ask", c))
	}
	if diff := cmp.Diff([]string{"bye", "open", "open"}, targets); diff != "" {
		t.Errorf("choice targets mismatch (-want +got):\n%s", diff)
	}

	for _, id := range []string{"intro", "open", "ch1"} {
		want, _ := orig.Node(id)
		have, _ := back.Node(id)
		if diff := cmp.Diff(want.Data, have.Data); diff != "" {
			t.Errorf("node %s payload mismatch (-want +got):\n%s", id, diff)
		}
	}
	askWant, _ := orig.Node("ask")
	wantChoices := askWant.Data.(*forge.PlayerData).Choices
	gotChoices := ask.Data.(*forge.PlayerData).Choices
	for i := range wantChoices {
		if diff := cmp.Diff(wantChoices[i].Conditions, gotChoices[i].Conditions); diff != "" {
			t.Errorf("choice %s conditions mismatch (-want +got):\n%s", wantChoices[i].ID, diff)
		}
		if diff := cmp.Diff(wantChoices[i].Mutations, gotChoices[i].Mutations); diff != "" {
			t.Errorf("choice %s mutations mismatch (-want +got):\n%s", wantChoices[i].ID, diff)
		}
	}

	again, err := conv.Export(context.Background(), got)
	if err != nil {
		t.Fatalf("re-export: %v", err)
	}
	if again.Text != out.Text {
		t.Errorf("re-export differs:\n--- first\n%s\n--- second\n%s", out.Text, again.Text)
	}
}

func detourMain() *forge.Graph {
	return &forge.Graph{
		ID:          "main",
		StartNodeID: "m1",
		Nodes: []forge.Node{
			{ID: "m1", Type: forge.NodeCharacter, Data: &forge.DialogueData{Speaker: "Ada", Content: "Before"}},
			{ID: "d", Type: forge.NodeDetour, Data: &forge.StoryletData{Call: forge.StoryletCall{
				TargetGraphID: "shop", Mode: forge.CallDetourReturn, ReturnNodeID: "m2",
			}}},
			{ID: "m2", Type: forge.NodeCharacter, Data: &forge.DialogueData{Speaker: "Ada", Content: "After"}},
		},
		Edges: []forge.Edge{flow("m1", "d")},
	}
}

func shopGraph() *forge.Graph {
	return &forge.Graph{
		ID:          "shop",
		StartNodeID: "s1",
		EndNodeIDs:  []forge.EndNode{{NodeID: "s2"}},
		Nodes: []forge.Node{
			{ID: "s1", Type: forge.NodeCharacter, Data: &forge.DialogueData{Speaker: "Clerk", Content: "Welcome"}},
			{ID: "s2", Type: forge.NodeCharacter, Data: &forge.DialogueData{Speaker: "Clerk", Content: "Bye"}},
			{ID: "s3", Type: forge.NodeCharacter, Data: &forge.DialogueData{Speaker: "Clerk", Content: "Closed"}},
		},
		Edges: []forge.Edge{flow("s1", "s2"), flow("s2", "s3")},
	}
}

func blockText(text, title string) string {
	start := strings.Index(text, "title: "+title+"\n")
	if start < 0 {
		return ""
	}
	end := strings.Index(text[start:], "===")
	return text[start : start+end]
}

func TestExportInlinesDetour(t *testing.T) {
	conv := New(graphs{"shop": shopGraph()})
	out, err := conv.Export(context.Background(), detourMain())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(out.Issues) != 0 {
		t.Fatalf("unexpected issues: %v", out.Issues)
	}

	var titles []string
	for _, line := range strings.Split(out.Text, "\n") {
		if strings.HasPrefix(line, "title: ") {
			titles = append(titles, strings.TrimPrefix(line, "title: "))
		}
	}
	if diff := cmp.Diff([]string{"m1", "d", "d__s1", "d__s2", "d__s3", "m2"}, titles); diff != "" {
		t.Errorf("block order mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(blockText(out.Text, "d"), "<<detour d__s1>>") {
		t.Errorf("detour block does not enter the copy:\n%s", blockText(out.Text, "d"))
	}
	if !strings.Contains(blockText(out.Text, "d__s1"), "<<jump d__s2>>") {
		t.Errorf("inner jump not renamed:\n%s", blockText(out.Text, "d__s1"))
	}
	for _, title := range []string{"d__s2", "d__s3"} {
		if !strings.Contains(blockText(out.Text, title), "<<jump m2>>") {
			t.Errorf("%s does not return to m2:\n%s", title, blockText(out.Text, title))
		}
	}

	in, err := conv.Import(out.Text, "main")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(in.Graph.Nodes) != 3 {
		t.Errorf("expected inlined blocks kept out of the main graph, got %d nodes", len(in.Graph.Nodes))
	}
	shop := in.Inlined["shop"]
	if shop == nil {
		t.Fatal("inlined graph not reconstructed")
	}
	var next []string
	for _, n := range shop.Nodes {
		next = append(next, n.ID+">"+n.DefaultNextNodeID)
	}
	if diff := cmp.Diff([]string{"s1>s2", "s2>", "s3>"}, next); diff != "" {
		t.Errorf("inlined graph mismatch (-want +got):\n%s", diff)
	}
	if shop.StartNodeID != "s1" || len(shop.EndNodeIDs) != 1 {
		t.Errorf("unexpected inlined start/end: %s %v", shop.StartNodeID, shop.EndNodeIDs)
	}
	d, _ := forge.NewIndex(in.Graph).Node("d")
	if diff := cmp.Diff(detourMain().Nodes[1].Data, d.Data); diff != "" {
		t.Errorf("detour call mismatch (-want +got):\n%s", diff)
	}
}

func TestExportDetourCycle(t *testing.T) {
	a := &forge.Graph{
		ID:          "a",
		StartNodeID: "a1",
		Nodes: []forge.Node{
			{ID: "a1", Type: forge.NodeDetour, Data: &forge.StoryletData{Call: forge.StoryletCall{
				TargetGraphID: "b", Mode: forge.CallDetourReturn, ReturnNodeID: "a2",
			}}},
			{ID: "a2", Type: forge.NodeCharacter, Data: &forge.DialogueData{Content: "done"}},
		},
	}
	b := &forge.Graph{
		ID:          "b",
		StartNodeID: "b1",
		Nodes: []forge.Node{
			{ID: "b1", Type: forge.NodeDetour, Data: &forge.StoryletData{Call: forge.StoryletCall{
				TargetGraphID: "a", Mode: forge.CallDetourReturn,
			}}},
		},
	}

	out, err := New(graphs{"a": a, "b": b}).Export(context.Background(), a)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n := strings.Count(out.Text, "inline: b"); n != 1 {
		t.Errorf("expected one inlined copy of b, got %d", n)
	}
	if n := strings.Count(out.Text, "inline: a"); n != 0 {
		t.Errorf("expected a never inlined into itself, got %d", n)
	}
	if len(out.Issues) != 1 || !errors.Is(out.Issues[0], ErrCycle) {
		t.Fatalf("expected one cycle issue, got %v", out.Issues)
	}
	stub := blockText(out.Text, "a1__b1")
	if !strings.Contains(stub, "not inlined") || !strings.Contains(stub, "<<jump a2>>") {
		t.Errorf("expected jump-only stub returning to a2:\n%s", stub)
	}
}

func TestExportUnresolvedDetourStub(t *testing.T) {
	out, err := New(nil).Export(context.Background(), detourMain())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(out.Issues) != 1 || !errors.Is(out.Issues[0], ErrUnresolved) {
		t.Fatalf("expected unresolved issue, got %v", out.Issues)
	}
	if !strings.Contains(blockText(out.Text, "d"), "<<jump m2>>") {
		t.Errorf("expected stub jump to return node:\n%s", out.Text)
	}

	in, err := New(nil).Import(out.Text, "main")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	d, _ := forge.NewIndex(in.Graph).Node("d")
	if d.DefaultNextNodeID != "" {
		t.Errorf("stub jump leaked into default next: %q", d.DefaultNextNodeID)
	}
}

const handWritten = `// hand-written
title: Gate
type: CONDITIONAL
tags: start
---
<<if $visited >= 1>>
Ada: Welcome back, {$name}.
    <<if $flag>>
    Nested!
    <<endif>>
<<set $count = 2>>
<<else>>
First time.
<<set $visited>>
<<endif>>
<<jump Next>>
===

title: Next
---
-> Go on
    <<jump Gate>>
-> Stay <<if not $tired>>
===
`

func TestImportHandWritten(t *testing.T) {
	conv := New(nil)
	res, err := conv.Import(handWritten, "gate")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(res.Issues) != 0 {
		t.Fatalf("unexpected issues: %v", res.Issues)
	}
	g := res.Graph
	if g.StartNodeID != "Gate" || len(g.Nodes) != 4 {
		t.Fatalf("unexpected graph: start %s, %d nodes", g.StartNodeID, len(g.Nodes))
	}

	gate := g.Nodes[0]
	if gate.DefaultNextNodeID != "Next" {
		t.Errorf("expected default next Next, got %q", gate.DefaultNextNodeID)
	}
	want := &forge.ConditionalData{Blocks: []forge.ConditionalBlock{
		{
			ID: "Gate_block_0", Type: forge.BlockIf, Speaker: "Ada",
			Condition:  []forge.Condition{{Flag: "visited", Operator: forge.OpGte, Value: 1.0}},
			Content:    "Welcome back, {$name}.",
			NextNodeID: "Gate_block_0_1",
		},
		{
			ID: "Gate_block_1", Type: forge.BlockElse, Content: "First time.",
			SetFlags: []forge.FlagMutation{{FlagID: "visited", Value: true}},
		},
	}}
	if diff := cmp.Diff(want, gate.Data); diff != "" {
		t.Errorf("conditional mismatch (-want +got):\n%s", diff)
	}

	// The nested <<if>> and the set after it continue the first block.
	wantChain := []forge.Node{
		{ID: "Gate_block_0_1", Type: forge.NodeConditional, DefaultNextNodeID: "Gate_block_0_2",
			Data: &forge.ConditionalData{Blocks: []forge.ConditionalBlock{{
				ID: "Gate_block_0_1_block_0", Type: forge.BlockIf, Content: "Nested!",
				Condition: []forge.Condition{{Flag: "flag", Operator: forge.OpIsSet}},
			}}}},
		{ID: "Gate_block_0_2", Type: forge.NodeConditional, DefaultNextNodeID: "Next",
			Data: &forge.ConditionalData{Blocks: []forge.ConditionalBlock{{
				ID: "Gate_block_0_2_block_0", Type: forge.BlockIf,
				SetFlags: []forge.FlagMutation{{FlagID: "count", Value: 2.0}},
			}}}},
	}
	if diff := cmp.Diff(wantChain, g.Nodes[1:3]); diff != "" {
		t.Errorf("nested chain mismatch (-want +got):\n%s", diff)
	}

	next := g.Nodes[3]
	if next.Type != forge.NodePlayer {
		t.Fatalf("expected inferred PLAYER, got %s", next.Type)
	}
	choices := next.Data.(*forge.PlayerData).Choices
	if len(choices) != 2 || choices[0].NextNodeID != "Gate" || choices[1].ID != "Next_choice_1" {
		t.Errorf("unexpected choices: %+v", choices)
	}
	if diff := cmp.Diff([]forge.Condition{{Flag: "tired", Operator: forge.OpIsNotSet}}, choices[1].Conditions); diff != "" {
		t.Errorf("option condition mismatch (-want +got):\n%s", diff)
	}

	// Re-export and import again: same structure and content.
	out, err := conv.Export(context.Background(), g)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if strings.Contains(out.Text, `\<<`) {
		t.Errorf("markup exported as escaped text:\n%s", out.Text)
	}
	again, err := conv.Import(out.Text, "gate")
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if diff := cmp.Diff(g.Nodes, again.Graph.Nodes); diff != "" {
		t.Errorf("re-import mismatch (-want +got):\n%s\n%s", diff, out.Text)
	}
}

const nestedHall = `title: Hall
---
<<if $a>>
<<if $b>>
Guard: Both.
<<set $seen to true>>
<<endif>>
<<else>>
Guard: Neither.
<<endif>>
===
`

func TestNestedConditionalRoundTripAndPlay(t *testing.T) {
	conv := New(nil)
	res, err := conv.Import(nestedHall, "hall")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(res.Issues) != 0 {
		t.Fatalf("unexpected issues: %v", res.Issues)
	}

	out, err := conv.Export(context.Background(), res.Graph)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, want := range []string{"<<if $b>>", "Guard: Both.", "<<set $seen to true>>"} {
		if !strings.Contains(out.Text, want) {
			t.Errorf("export missing %q:\n%s", want, out.Text)
		}
	}
	if strings.Contains(out.Text, `\`) {
		t.Errorf("nested statements escaped as text:\n%s", out.Text)
	}
	again, err := conv.Import(out.Text, "hall")
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if diff := cmp.Diff(res.Graph.Nodes, again.Graph.Nodes); diff != "" {
		t.Errorf("re-import mismatch (-want +got):\n%s", diff)
	}

	engine := orchestrator.NewEngine(nil)
	tests := []struct {
		name   string
		flags  map[string]any
		frames []string
		seen   bool
	}{
		{"both", map[string]any{"a": true, "b": true}, []string{"Guard: Both."}, true},
		{"only a", map[string]any{"a": true}, nil, false},
		{"neither", map[string]any{}, []string{"Guard: Neither."}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run, err := engine.Execute(context.Background(), again.Graph, forge.GameState{Flags: tt.flags}, orchestrator.Options{})
			if err != nil {
				t.Fatal(err)
			}
			if run.Status != orchestrator.StatusCompleted {
				t.Fatalf("status = %s (%s)", run.Status, run.Error)
			}
			var got []string
			for _, f := range run.Frames {
				got = append(got, f.Speaker+": "+f.Content)
			}
			if diff := cmp.Diff(tt.frames, got); diff != "" {
				t.Errorf("frames (-want +got):\n%s", diff)
			}
			if _, ok := run.State.Flags["seen"]; ok != tt.seen {
				t.Errorf("seen set = %v, want %v", ok, tt.seen)
			}
		})
	}
}

func TestImportComputedSetIsReported(t *testing.T) {
	text := `title: Shop
---
Merchant: Thanks.
<<set $gold to $gold + 5>>
<<set $paid to true>>
<<set $note to "a" + "b">>
===
`
	res, err := New(nil).Import(text, "shop")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	d := res.Graph.Nodes[0].Data.(*forge.DialogueData)
	if diff := cmp.Diff([]forge.FlagMutation{{FlagID: "paid", Value: true}}, d.SetFlags); diff != "" {
		t.Errorf("mutations (-want +got):\n%s", diff)
	}
	if len(res.Issues) != 2 {
		t.Fatalf("expected an issue per computed set, got %v", res.Issues)
	}
	for _, is := range res.Issues {
		if !errors.Is(is, condition.ErrNotLiteral) || is.Line == 0 {
			t.Errorf("unexpected issue %v", is)
		}
	}

	out, err := New(nil).Export(context.Background(), res.Graph)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if strings.Contains(out.Text, "$gold + 5") {
		t.Errorf("computed set written back as a literal:\n%s", out.Text)
	}
}

func TestImportEmptyDocument(t *testing.T) {
	if _, err := New(nil).Import("\n  \n// nothing\n", "x"); !errors.Is(err, ErrEmptyDocument) {
		t.Errorf("expected ErrEmptyDocument, got %v", err)
	}
}

func TestImportMalformedBlocksBecomeStubs(t *testing.T) {
	text := `title: A
type: STORYLET
---
Just text
===
title: B
---
-> Broken <<if $a ==>>
    <<jump A>>
title: C
`
	res, err := New(nil).Import(text, "bad")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(res.Graph.Nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(res.Graph.Nodes))
	}
	a := res.Graph.Nodes[0]
	if sd, ok := a.Data.(*forge.StoryletData); !ok || sd.Call.Mode != forge.CallJump {
		t.Errorf("expected default storylet stub, got %#v", a.Data)
	}
	b := res.Graph.Nodes[1].Data.(*forge.PlayerData)
	if len(b.Choices) != 1 || len(b.Choices[0].Conditions) != 1 || b.Choices[0].Conditions[0].Literal != false {
		t.Errorf("expected malformed condition replaced by false, got %+v", b.Choices)
	}
	if len(res.Issues) < 3 {
		t.Errorf("expected issues for each malformed part, got %v", res.Issues)
	}
	for _, is := range res.Issues {
		if is.GraphID != "bad" {
			t.Errorf("issue without graph id: %v", is)
		}
	}
}

func TestLineEscaping(t *testing.T) {
	for _, s := range []string{"Note: not a speaker", "<<set $x>>", "-> not an option", "  indented", "", `\back`, "// not a comment"} {
		l := Text("", s)
		got := parseStatement(l.String(), 1)
		if got.Kind != LineText || got.Speaker != "" || got.Text != s {
			t.Errorf("%q: round trip gave %+v", s, got)
		}
	}
}

package transform

import (
	"testing"
)

func intp(v int) *int { return &v }

func TestEngine_Transform(t *testing.T) {
	tests := []struct {
		name      string
		script    Script
		text      string
		placement Placement
		opts      Options
		want      string
	}{
		{
			name:      "first match only without g",
			script:    Script{Find: "/a/", Replace: "b", Placements: []Placement{PlacementAI}},
			text:      "aaa",
			placement: PlacementAI,
			want:      "baa",
		},
		{
			name:      "global",
			script:    Script{Find: "/a/g", Replace: "b", Placements: []Placement{PlacementAI}},
			text:      "aaa",
			placement: PlacementAI,
			want:      "bbb",
		},
		{
			name:      "case insensitive",
			script:    Script{Find: "/ooc:.*$/gim", Replace: "", Placements: []Placement{PlacementUser}},
			text:      "Hello\nOOC: brb",
			placement: PlacementUser,
			want:      "Hello\n",
		},
		{
			name:      "placement mismatch",
			script:    Script{Find: "/x/g", Replace: "y", Placements: []Placement{PlacementUser}},
			text:      "x",
			placement: PlacementAI,
			want:      "x",
		},
		{
			name:      "match macro with trim",
			script:    Script{Find: "/\\*[^*]+\\*/g", Replace: "[{{match}}]", Trim: []string{"*"}, Placements: []Placement{PlacementAI}},
			text:      "She *smiles* warmly",
			placement: PlacementAI,
			want:      "She [smiles] warmly",
		},
		{
			name:      "numbered groups",
			script:    Script{Find: "/(\\w+) says (\\w+)/", Replace: "$2 from $1", Placements: []Placement{PlacementAI}},
			text:      "Ana says hi",
			placement: PlacementAI,
			want:      "hi from Ana",
		},
		{
			name:      "named group",
			script:    Script{Find: "/(?<who>\\w+) waves/", Replace: "$<who>!", Placements: []Placement{PlacementAI}},
			text:      "Ana waves",
			placement: PlacementAI,
			want:      "Ana!",
		},
		{
			name:      "lookbehind",
			script:    Script{Find: "/(?<=\\$)\\d+/g", Replace: "N", Placements: []Placement{PlacementAI}},
			text:      "$12 and 34",
			placement: PlacementAI,
			want:      "$N and 34",
		},
		{
			name:      "prompt only skipped outside prompts",
			script:    Script{Find: "/x/", Replace: "y", Placements: []Placement{PlacementAI}, PromptOnly: true},
			text:      "x",
			placement: PlacementAI,
			want:      "x",
		},
		{
			name:      "prompt only applied to prompts",
			script:    Script{Find: "/x/", Replace: "y", Placements: []Placement{PlacementAI}, PromptOnly: true},
			text:      "x",
			placement: PlacementAI,
			opts:      Options{IsPrompt: true},
			want:      "y",
		},
		{
			name:      "markdown only never applies",
			script:    Script{Find: "/x/", Replace: "y", Placements: []Placement{PlacementAI}, MarkdownOnly: true},
			text:      "x",
			placement: PlacementAI,
			opts:      Options{IsPrompt: true},
			want:      "x",
		},
		{
			name:      "depth window",
			script:    Script{Find: "/x/", Replace: "y", Placements: []Placement{PlacementAI}, MinDepth: intp(1), MaxDepth: intp(3)},
			text:      "x",
			placement: PlacementAI,
			opts:      Options{Depth: 0},
			want:      "x",
		},
		{
			name:      "dot matches newline with s",
			script:    Script{Find: "/a.b/gs", Replace: "x", Placements: []Placement{PlacementAI}},
			text:      "a\nb a-b",
			placement: PlacementAI,
			want:      "x x",
		},
		{
			name:      "multiline anchors with im",
			script:    Script{Find: "/^ooc/gim", Replace: "-", Placements: []Placement{PlacementAI}},
			text:      "OOC one\nooc two",
			placement: PlacementAI,
			want:      "- one\n- two",
		},
		{
			name:      "bare pattern",
			script:    Script{Find: "foo", Replace: "bar", Placements: []Placement{PlacementUser}},
			text:      "foo foo",
			placement: PlacementUser,
			want:      "bar foo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Compile([]Script{tt.script})
			if err != nil {
				t.Fatalf("Compile: %v", err)
			}
			if got := e.Transform(tt.text, tt.placement, tt.opts); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEngine_ScriptsRunInOrder(t *testing.T) {
	e, err := Compile([]Script{
		{Name: "one", Find: "/a/g", Replace: "b", Placements: []Placement{PlacementUser}},
		{Name: "off", Find: "/b/g", Replace: "z", Placements: []Placement{PlacementUser}, Disabled: true},
		{Name: "two", Find: "/b/g", Replace: "c", Placements: []Placement{PlacementUser}},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if e.Len() != 2 {
		t.Errorf("Len = %d, want 2", e.Len())
	}
	if got := e.Transform("aa", PlacementUser, Options{}); got != "cc" {
		t.Errorf("got %q, want cc", got)
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []string{"", "/unterminated", "/a/q", "/(/"}
	for _, find := range tests {
		if _, err := Compile([]Script{{Find: find}}); err == nil {
			t.Errorf("Compile(%q): expected error", find)
		}
	}
}

func TestPlacementFor(t *testing.T) {
	if PlacementFor(true) != PlacementUser || PlacementFor(false) != PlacementAI {
		t.Error("PlacementFor mapping wrong")
	}
	if PlacementUser.String() != "user" {
		t.Errorf("got %q", PlacementUser.String())
	}
}

func TestIdentity(t *testing.T) {
	if got := (Identity{}).Transform("same", PlacementAI, Options{}); got != "same" {
		t.Errorf("got %q", got)
	}
}

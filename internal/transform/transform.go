// Package transform applies regex scripts to conversation text before it is
// placed into a prompt.
//
// Scripts use the host's JavaScript regex literal notation ("/pattern/flags")
// and are evaluated with ECMAScript semantics through
// github.com/dlclark/regexp2, so lookbehinds and backreferences written for
// the host behave the same here.
package transform

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// Placement says which kind of turn a script applies to.
type Placement int

const (
	// PlacementUser applies to turns written by the user.
	PlacementUser Placement = 1
	// PlacementAI applies to turns written by a character.
	PlacementAI Placement = 2
)

// String returns the placement name.
func (p Placement) String() string {
	switch p {
	case PlacementUser:
		return "user"
	case PlacementAI:
		return "ai"
	default:
		return "placement(" + strconv.Itoa(int(p)) + ")"
	}
}

// PlacementFor returns the placement of a turn.
func PlacementFor(isUser bool) Placement {
	if isUser {
		return PlacementUser
	}
	return PlacementAI
}

// Options describe where the text is going.
type Options struct {
	// IsPrompt is set when the text is headed into a model prompt.
	IsPrompt bool

	// Depth is the turn's distance from the end of the transcript; the last
	// turn has depth 0.
	Depth int
}

// Script is one find/replace rule.
type Script struct {
	Name         string      `yaml:"name"`
	Find         string      `yaml:"find"`
	Replace      string      `yaml:"replace"`
	Trim         []string    `yaml:"trim"`
	Placements   []Placement `yaml:"placements"`
	Disabled     bool        `yaml:"disabled"`
	PromptOnly   bool        `yaml:"prompt_only"`
	MarkdownOnly bool        `yaml:"markdown_only"`
	MinDepth     *int        `yaml:"min_depth"`
	MaxDepth     *int        `yaml:"max_depth"`
}

// Transformer rewrites the text of one turn.
type Transformer interface {
	Transform(text string, placement Placement, opts Options) string
}

// Identity returns text unchanged.
type Identity struct{}

// Transform implements [Transformer].
func (Identity) Transform(text string, _ Placement, _ Options) string { return text }

// matchTimeout bounds a single script evaluation.
const matchTimeout = time.Second

type compiled struct {
	script Script
	re     *regexp2.Regexp
	global bool
}

// Engine applies compiled scripts in order. It is safe for concurrent use.
type Engine struct {
	scripts []compiled
}

var _ Transformer = (*Engine)(nil)

// Compile validates and compiles scripts. Disabled scripts are kept out of
// the engine.
func Compile(scripts []Script) (*Engine, error) {
	e := &Engine{}
	for i, s := range scripts {
		if s.Disabled {
			continue
		}
		re, global, err := parseLiteral(s.Find)
		if err != nil {
			return nil, fmt.Errorf("transform: script %d (%q): %w", i, s.Name, err)
		}
		e.scripts = append(e.scripts, compiled{script: s, re: re, global: global})
	}
	return e, nil
}

// Len returns the number of active scripts.
func (e *Engine) Len() int { return len(e.scripts) }

// Transform implements [Transformer]. A script whose evaluation fails (for
// example by timing out) is skipped and logged.
func (e *Engine) Transform(text string, placement Placement, opts Options) string {
	for _, c := range e.scripts {
		if !c.applies(placement, opts) {
			continue
		}
		out, err := c.apply(text)
		if err != nil {
			slog.Warn("transform: script skipped", "script", c.script.Name, "err", err)
			continue
		}
		text = out
	}
	return text
}

func (c compiled) applies(placement Placement, opts Options) bool {
	s := c.script
	if s.MarkdownOnly && !s.PromptOnly {
		// Display-only scripts never touch prompt text.
		return false
	}
	if s.PromptOnly && !opts.IsPrompt {
		return false
	}
	found := false
	for _, p := range s.Placements {
		if p == placement {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	if s.MinDepth != nil && *s.MinDepth >= 0 && opts.Depth < *s.MinDepth {
		return false
	}
	if s.MaxDepth != nil && *s.MaxDepth >= 0 && opts.Depth > *s.MaxDepth {
		return false
	}
	return true
}

func (c compiled) apply(text string) (string, error) {
	count := 1
	if c.global {
		count = -1
	}
	return c.re.ReplaceFunc(text, func(m regexp2.Match) string {
		matched := m.String()
		for _, t := range c.script.Trim {
			if t != "" {
				matched = strings.ReplaceAll(matched, t, "")
			}
		}
		out := strings.ReplaceAll(c.script.Replace, "{{match}}", matched)
		return expandGroups(out, &m)
	}, -1, count)
}

var groupRef = regexp.MustCompile(`\$(\d+|<[A-Za-z_][A-Za-z0-9_]*>)`)

// expandGroups substitutes $N and $<name> references with the captured
// groups of m. Unknown groups expand to the empty string.
func expandGroups(repl string, m *regexp2.Match) string {
	return groupRef.ReplaceAllStringFunc(repl, func(ref string) string {
		key := ref[1:]
		if strings.HasPrefix(key, "<") {
			if g := m.GroupByName(strings.Trim(key, "<>")); g != nil {
				return g.String()
			}
			return ""
		}
		n, _ := strconv.Atoi(key)
		if g := m.GroupByNumber(n); g != nil {
			return g.String()
		}
		return ""
	})
}

// parseLiteral compiles "/pattern/flags". A string without the surrounding
// slashes is compiled as a bare pattern with no flags.
func parseLiteral(lit string) (*regexp2.Regexp, bool, error) {
	if lit == "" {
		return nil, false, fmt.Errorf("empty find pattern")
	}
	pattern, flags := lit, ""
	if strings.HasPrefix(lit, "/") {
		end := strings.LastIndex(lit, "/")
		if end <= 0 {
			return nil, false, fmt.Errorf("unterminated regex literal %q", lit)
		}
		pattern, flags = lit[1:end], lit[end+1:]
	}

	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	global := false
	for _, f := range flags {
		switch f {
		case 'g':
			global = true
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			// ECMAScript mode rejects Singleline, so dot-all falls back to
			// the default .NET dialect.
			opts = opts&^regexp2.ECMAScript | regexp2.Singleline
		case 'u', 'y', 'd':
		default:
			return nil, false, fmt.Errorf("unknown regex flag %q", f)
		}
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, false, err
	}
	re.MatchTimeout = matchTimeout
	return re, global, nil
}

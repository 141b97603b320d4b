package rememory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/rememory/internal/completion"
	"github.com/MrWong99/rememory/internal/config"
	"github.com/MrWong99/rememory/internal/notify"
	"github.com/MrWong99/rememory/internal/observe"
	"github.com/MrWong99/rememory/internal/ratelimit"
	"github.com/MrWong99/rememory/internal/summary"
	"github.com/MrWong99/rememory/pkg/chat"
	"github.com/MrWong99/rememory/pkg/lore"
	"github.com/MrWong99/rememory/pkg/provider/llm/mock"
	"github.com/MrWong99/rememory/pkg/tokens"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// ── fixtures ─────────────────────────────────────────────────────────────────

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func testChat() *chat.Chat {
	return &chat.Chat{
		ID:            "c1",
		UserName:      "Ana",
		CharacterID:   "bram",
		CharacterName: "Bram",
		ChatBook:      "journal",
		Turns: []chat.Turn{
			{Name: "Ana", Text: "We enter the cave.", IsUser: true},
			{Name: "Bram", Text: "I light a torch."},
			{Name: "Ana", Text: "A dragon!", IsUser: true},
			{Name: "Bram", Text: "Run!"},
		},
	}
}

type fixture struct {
	svc      *Service
	provider *mock.Provider
	chats    *chat.MemStore
	books    *lore.MemStore
}

func newFixture(t *testing.T, script []mock.Reply, mutate func(*config.MemorySettings), opts ...Option) *fixture {
	t.Helper()
	p := &mock.Provider{Script: script}
	metrics := testMetrics(t)
	client := completion.New(
		completion.NewProfileSet(completion.Profile{ID: "main", Provider: p}),
		ratelimit.Unlimited(),
		completion.WithMetrics(metrics),
	)

	settings := config.DefaultMemorySettings()
	settings.MemoryPromptTemplate = "SUMMARIZE:\n{{content}}"
	settings.KeywordsPromptTemplate = "KEYWORDS:\n{{content}}"
	settings.BookAssignments = map[string]string{"bram": "bram-book"}
	if mutate != nil {
		mutate(&settings)
	}

	f := &fixture{
		provider: p,
		chats:    chat.NewMemStore(testChat()),
		books:    lore.NewMemStore(lore.NewBook("journal")),
	}
	base := []Option{
		WithSettings(settings),
		WithMetrics(metrics),
		WithCounter(tokens.Estimate{}),
		WithClock(func() time.Time { return time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC) }),
		WithSink(notify.Multi{}),
	}
	f.svc = New(f.chats, f.books, client, append(base, opts...)...)
	return f
}

func strp(s string) *string { return &s }
func boolp(b bool) *bool    { return &b }

func (f *fixture) journal(t *testing.T) *lore.Book {
	t.Helper()
	b, err := f.books.Load(context.Background(), "journal")
	if err != nil {
		t.Fatalf("load journal: %v", err)
	}
	return b
}

func (f *fixture) chat(t *testing.T) *chat.Chat {
	t.Helper()
	c, err := f.chats.LoadChat(context.Background(), "c1")
	if err != nil {
		t.Fatalf("load chat: %v", err)
	}
	return c
}

func texts(out Outcome, level notify.Level) []string {
	var res []string
	for _, n := range out.Notices {
		if n.Level == level {
			res = append(res, n.Text)
		}
	}
	return res
}

// ── RememberEvent ────────────────────────────────────────────────────────────

func TestRememberEvent_KeywordsOverrideSkipsExtraction(t *testing.T) {
	f := newFixture(t, []mock.Reply{{Content: "They fled from a dragon."}}, nil)

	out := f.svc.RememberEvent(context.Background(), "c1", 3, Options{
		Books:    []string{"Chat"},
		Keywords: strp("a, b"),
	})
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if n := len(f.provider.Calls()); n != 1 {
		t.Errorf("completion calls = %d, want 1", n)
	}
	b := f.journal(t)
	if len(b.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(b.Entries))
	}
	for _, e := range b.Entries {
		if !slices.Equal(e.Keys, []string{"a", "b"}) {
			t.Errorf("keys = %v, want [a b]", e.Keys)
		}
	}
	if !slices.Equal(out.Books, []string{"journal"}) {
		t.Errorf("books = %v", out.Books)
	}
	if got := texts(out, notify.LevelSuccess); !slices.Contains(got, "Memory entry created") {
		t.Errorf("success notices = %v", got)
	}
}

func TestRememberEvent_PopupEntryCount(t *testing.T) {
	tests := []struct {
		name    string
		setting bool
		popup   *bool
		want    int
	}{
		{"setting on", true, nil, 2},
		{"setting off", false, nil, 1},
		{"override on", false, boolp(true), 2},
		{"override off", true, boolp(false), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, []mock.Reply{{Content: "Summary."}}, func(s *config.MemorySettings) {
				s.PopupMemories = tt.setting
			})
			out := f.svc.RememberEvent(context.Background(), "c1", 3, Options{
				Books:    []string{"Chat"},
				Keywords: strp("x"),
				Popup:    tt.popup,
			})
			if out.Err != nil {
				t.Fatalf("unexpected error: %v", out.Err)
			}
			b := f.journal(t)
			if len(b.Entries) != tt.want {
				t.Fatalf("entries = %d, want %d", len(b.Entries), tt.want)
			}
			var contents []string
			for _, e := range b.Entries {
				contents = append(contents, e.Content)
			}
			slices.Sort(contents)
			if len(slices.Compact(contents)) != 1 {
				t.Errorf("entries should share content, got %v", contents)
			}
		})
	}
}

func TestRememberEvent_GeneratesKeywordsWithoutNames(t *testing.T) {
	f := newFixture(t, []mock.Reply{
		{Content: "They fled."},
		{Content: "Bram, torch, cave, Ana, dragon, flight, escape, fear"},
	}, func(s *config.MemorySettings) {
		s.MemoryPrefix = "["
		s.MemorySuffix = "]"
	})

	out := f.svc.RememberEvent(context.Background(), "c1", 3, Options{Books: []string{"Chat"}})
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	want := []string{"torch", "cave", "dragon", "flight", "escape"}
	if !slices.Equal(out.Keywords, want) {
		t.Errorf("keywords = %v, want %v", out.Keywords, want)
	}
	if out.Memory != "[They fled.]" {
		t.Errorf("memory = %q", out.Memory)
	}
	calls := f.provider.Calls()
	if len(calls) != 2 {
		t.Fatalf("completion calls = %d, want 2", len(calls))
	}
	if !slices.Equal(calls[1].Req.Stop, []string{"\n"}) {
		t.Errorf("keyword stop = %v", calls[1].Req.Stop)
	}
	if !strings.Contains(calls[1].Prompt(), "They fled.") {
		t.Errorf("keyword prompt = %q", calls[1].Prompt())
	}
}

func TestRememberEvent_MemorySpan(t *testing.T) {
	f := newFixture(t, []mock.Reply{{Content: "s"}}, func(s *config.MemorySettings) {
		s.MemorySpan = 1
	})
	f.svc.RememberEvent(context.Background(), "c1", 3, Options{Books: []string{"Chat"}, Keywords: strp("k")})

	prompt := f.provider.Calls()[0].Prompt()
	want := "SUMMARIZE:\nAna: A dragon!\n\nBram: Run!"
	if prompt != want {
		t.Errorf("prompt = %q, want %q", prompt, want)
	}
}

func TestRememberEvent_NoBookSelected(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		extra []Option
	}{
		{"nobody to ask", Options{}, nil},
		{"unknown key", Options{Books: []string{"ghost"}}, nil},
		{"chooser declined", Options{}, []Option{WithBookChooser(BookChooserFunc(
			func(context.Context, []string) ([]string, error) { return nil, nil },
		))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, nil, tt.extra...)
			out := f.svc.RememberEvent(context.Background(), "c1", 3, tt.opts)
			if !errors.Is(out.Err, ErrNoBookSelected) {
				t.Fatalf("err = %v, want ErrNoBookSelected", out.Err)
			}
			if n := len(f.provider.Calls()); n != 0 {
				t.Errorf("completion calls = %d, want 0", n)
			}
			if got := texts(out, notify.LevelWarning); !slices.Contains(got, "No books selected") {
				t.Errorf("warnings = %v", got)
			}
		})
	}
}

func TestRememberEvent_ChooserAndAutoBooks(t *testing.T) {
	var offered []string
	chooser := BookChooserFunc(func(_ context.Context, keys []string) ([]string, error) {
		offered = keys
		return []string{"Chat"}, nil
	})
	f := newFixture(t, []mock.Reply{{Content: "s"}}, nil, WithBookChooser(chooser))
	out := f.svc.RememberEvent(context.Background(), "c1", 3, Options{Keywords: strp("k")})
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if !slices.Equal(offered, []string{"Chat", "bram"}) {
		t.Errorf("offered keys = %v", offered)
	}

	f = newFixture(t, []mock.Reply{{Content: "s"}}, func(s *config.MemorySettings) {
		s.AutoBooks = true
		s.BookAssignments = nil
	})
	out = f.svc.RememberEvent(context.Background(), "c1", 3, Options{Keywords: strp("k")})
	if out.Err != nil || !slices.Equal(out.Books, []string{"journal"}) {
		t.Errorf("auto books: books = %v, err = %v", out.Books, out.Err)
	}
}

func TestRememberEvent_InvalidBook(t *testing.T) {
	f := newFixture(t, []mock.Reply{{Content: "s"}}, nil)
	out := f.svc.RememberEvent(context.Background(), "c1", 3, Options{
		Books:    []string{"bram"},
		Keywords: strp("k"),
	})
	if !errors.Is(out.Err, ErrInvalidBook) {
		t.Fatalf("err = %v, want ErrInvalidBook", out.Err)
	}
	if got := texts(out, notify.LevelWarning); !slices.Contains(got, "Memory book missing or invalid") {
		t.Errorf("warnings = %v", got)
	}
	if got := texts(out, notify.LevelSuccess); len(got) != 0 {
		t.Errorf("unexpected success notices %v", got)
	}
}

func TestRememberEvent_CompletionFailure(t *testing.T) {
	f := newFixture(t, []mock.Reply{{Err: errors.New("backend down")}}, nil)
	out := f.svc.RememberEvent(context.Background(), "c1", 3, Options{Books: []string{"Chat"}})

	if !errors.Is(out.Err, ErrCompletion) || !errors.Is(out.Err, ErrEmptySummary) {
		t.Fatalf("err = %v, want ErrCompletion and ErrEmptySummary", out.Err)
	}
	if got := texts(out, notify.LevelError); !slices.Contains(got, "No memory text to record.") {
		t.Errorf("errors = %v", got)
	}
	if len(f.journal(t).Entries) != 0 {
		t.Error("no entry should be written")
	}
}

func TestRememberEvent_UnknownChatAndTurn(t *testing.T) {
	f := newFixture(t, nil, nil)
	if out := f.svc.RememberEvent(context.Background(), "nope", 0, Options{}); !errors.Is(out.Err, ErrChatNotFound) {
		t.Errorf("err = %v, want ErrChatNotFound", out.Err)
	}
	if out := f.svc.RememberEvent(context.Background(), "c1", 9, Options{}); !errors.Is(out.Err, ErrTurnOutOfRange) {
		t.Errorf("err = %v, want ErrTurnOutOfRange", out.Err)
	}
}

func TestRememberEvent_QuietKeepsErrors(t *testing.T) {
	f := newFixture(t, []mock.Reply{{Content: ""}}, nil)
	out := f.svc.RememberEvent(context.Background(), "c1", 3, Options{Books: []string{"Chat"}, Quiet: true})
	for _, n := range out.Notices {
		if n.Level != notify.LevelError {
			t.Errorf("quiet call emitted %s notice %q", n.Level, n.Text)
		}
	}
	if len(out.Notices) == 0 {
		t.Error("errors must not be suppressed")
	}
}

// ── LogMessage ───────────────────────────────────────────────────────────────

func TestLogMessage_UsesTurnText(t *testing.T) {
	f := newFixture(t, nil, nil)
	out := f.svc.LogMessage(context.Background(), "c1", 1, Options{
		Books:    []string{"journal"},
		Keywords: strp("torch"),
		Title:    "Torch",
	})
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if n := len(f.provider.Calls()); n != 0 {
		t.Errorf("completion calls = %d, want 0", n)
	}
	for _, e := range f.journal(t).Entries {
		if e.Content != "I light a torch." || e.Title != "Torch" {
			t.Errorf("entry = %q / %q", e.Content, e.Title)
		}
	}
}

func TestLogMessage_EmptyText(t *testing.T) {
	f := newFixture(t, nil, nil)
	ch := f.chat(t)
	ch.Turns[1].Text = ""
	_ = f.chats.SaveChat(context.Background(), ch)

	out := f.svc.LogMessage(context.Background(), "c1", 1, Options{Books: []string{"Chat"}})
	if !errors.Is(out.Err, ErrEmptyContent) {
		t.Fatalf("err = %v, want ErrEmptyContent", out.Err)
	}
	if got := texts(out, notify.LevelError); !slices.Contains(got, "No message text found to record.") {
		t.Errorf("errors = %v", got)
	}
}

// ── EndScene ─────────────────────────────────────────────────────────────────

func TestEndScene_MemoryMode(t *testing.T) {
	f := newFixture(t, []mock.Reply{{Content: "The dragon chased them out."}}, nil)
	ch := f.chat(t)
	ch.Turns[1].SceneEnd = true
	_ = f.chats.SaveChat(context.Background(), ch)

	out := f.svc.EndScene(context.Background(), "c1", 3, Options{Books: []string{"Chat"}, Keywords: strp("dragon")})
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}

	calls := f.provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("completion calls = %d, want 1", len(calls))
	}
	if want := "SUMMARIZE:\nAna: A dragon!\n\nBram: Run!"; calls[0].Prompt() != want {
		t.Errorf("prompt = %q, want %q", calls[0].Prompt(), want)
	}

	got := f.chat(t)
	for i, turn := range got.Turns {
		wantHidden := i >= 2
		if turn.Hidden != wantHidden {
			t.Errorf("turn %d hidden = %v, want %v", i, turn.Hidden, wantHidden)
		}
	}
	if !got.Turns[3].SceneEnd || out.Boundary != 3 {
		t.Errorf("boundary = %d, scene end flag = %v", out.Boundary, got.Turns[3].SceneEnd)
	}
	if len(f.journal(t).Entries) != 1 {
		t.Errorf("entries = %d, want 1", len(f.journal(t).Entries))
	}
	success := texts(out, notify.LevelSuccess)
	if !slices.Contains(success, "Scene memory entry created") || !slices.Contains(success, "Scene ending marked at message 3.") {
		t.Errorf("success notices = %v", success)
	}
}

func TestEndScene_MessageMode(t *testing.T) {
	f := newFixture(t, []mock.Reply{{Content: "They escaped."}}, func(s *config.MemorySettings) {
		s.HideScene = false
	})
	out := f.svc.EndScene(context.Background(), "c1", 3, Options{Mode: "Message"})
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}

	got := f.chat(t)
	if len(got.Turns) != 5 {
		t.Fatalf("turns = %d, want 5", len(got.Turns))
	}
	comment := got.Turns[4]
	if !comment.Comment || comment.Text != "They escaped." || !comment.SceneEnd {
		t.Errorf("comment turn = %+v", comment)
	}
	if got.Turns[3].SceneEnd {
		t.Error("boundary should be on the inserted comment")
	}
	if out.Boundary != 4 || out.Memory != "They escaped." {
		t.Errorf("outcome = %+v", out)
	}
	if len(f.journal(t).Entries) != 0 {
		t.Error("message mode must not write entries")
	}
}

func TestEndScene_NoneMode(t *testing.T) {
	f := newFixture(t, nil, func(s *config.MemorySettings) {
		s.SceneEndMode = config.SceneEndNone
	})
	out := f.svc.EndScene(context.Background(), "c1", 2, Options{})
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if n := len(f.provider.Calls()); n != 0 {
		t.Errorf("completion calls = %d, want 0", n)
	}
	if !f.chat(t).Turns[2].SceneEnd {
		t.Error("boundary not marked")
	}
}

func TestEndScene_UnknownModeKeepsSetting(t *testing.T) {
	f := newFixture(t, nil, func(s *config.MemorySettings) {
		s.SceneEndMode = config.SceneEndNone
	})
	out := f.svc.EndScene(context.Background(), "c1", 2, Options{Mode: "diary"})
	if out.Err != nil || len(f.provider.Calls()) != 0 {
		t.Errorf("err = %v, calls = %d", out.Err, len(f.provider.Calls()))
	}
}

func TestEndScene_NoBooksIsError(t *testing.T) {
	f := newFixture(t, nil, nil)
	out := f.svc.EndScene(context.Background(), "c1", 3, Options{})
	if !errors.Is(out.Err, ErrNoBookSelected) {
		t.Fatalf("err = %v, want ErrNoBookSelected", out.Err)
	}
	if got := texts(out, notify.LevelError); !slices.Contains(got, "No books selected") {
		t.Errorf("errors = %v", got)
	}
	if f.chat(t).Turns[3].SceneEnd {
		t.Error("boundary must not be marked")
	}
}

// lineCounter counts blank-line-separated lines, so a budget of one token
// puts every turn in its own chunk.
var lineCounter = tokens.CounterFunc(func(_ context.Context, text string) (int, error) {
	return strings.Count(text, "\n\n") + 1, nil
})

func TestEndScene_ChunkedWithAnnotation(t *testing.T) {
	f := newFixture(t, []mock.Reply{
		{Content: "one"}, {Content: "two"}, {Content: "three"}, {Content: "four"},
		{Content: "final"},
	}, func(s *config.MemorySettings) {
		s.MaxContext = 101
		s.AddChunkSummaries = true
	}, WithCounter(lineCounter))

	out := f.svc.EndScene(context.Background(), "c1", 3, Options{Books: []string{"Chat"}, Keywords: strp("k")})
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	calls := f.provider.Calls()
	if len(calls) != 5 {
		t.Fatalf("completion calls = %d, want 5", len(calls))
	}
	if want := "SUMMARIZE:\none\n\ntwo\n\nthree\n\nfour"; calls[4].Prompt() != want {
		t.Errorf("final prompt = %q", calls[4].Prompt())
	}
	got := f.chat(t)
	if len(got.Turns) != 5 || !strings.Contains(got.Turns[4].Text, `class="rmr-summary-chunks"`) {
		t.Fatalf("annotation not inserted: %+v", got.Turns)
	}
	if !got.Turns[3].SceneEnd {
		t.Error("boundary should stay on the scene's last turn")
	}
	if out.Memory != "final" {
		t.Errorf("memory = %q", out.Memory)
	}
}

func TestEndScene_ChunkCancelled(t *testing.T) {
	var asked []int
	decider := summary.DeciderFunc(func(_ context.Context, chunk int) summary.Choice {
		asked = append(asked, chunk)
		return summary.Cancel
	})
	f := newFixture(t, []mock.Reply{{Content: "one"}, {Content: ""}}, func(s *config.MemorySettings) {
		s.MaxContext = 101
	}, WithCounter(lineCounter), WithDecider(decider))

	out := f.svc.EndScene(context.Background(), "c1", 3, Options{Books: []string{"Chat"}})
	if !errors.Is(out.Err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", out.Err)
	}
	if !slices.Equal(asked, []int{2}) {
		t.Errorf("asked = %v, want [2]", asked)
	}
	got := f.chat(t)
	for i, turn := range got.Turns {
		if turn.Hidden || turn.SceneEnd {
			t.Errorf("turn %d changed after cancel: %+v", i, turn)
		}
	}
}

func TestEndScene_EmptySummary(t *testing.T) {
	f := newFixture(t, []mock.Reply{{Content: ""}}, nil)
	out := f.svc.EndScene(context.Background(), "c1", 3, Options{Books: []string{"Chat"}})
	if !errors.Is(out.Err, ErrEmptySummary) {
		t.Fatalf("err = %v, want ErrEmptySummary", out.Err)
	}
	if got := texts(out, notify.LevelError); !slices.Contains(got, "Scene summary returned empty!") {
		t.Errorf("errors = %v", got)
	}
	if f.chat(t).Turns[3].Hidden {
		t.Error("turns must stay visible when the summary failed")
	}
}

func TestEndScene_EmptyContent(t *testing.T) {
	f := newFixture(t, nil, nil)
	ch := f.chat(t)
	for i := range ch.Turns {
		ch.Turns[i].Hidden = true
	}
	_ = f.chats.SaveChat(context.Background(), ch)

	for _, quiet := range []bool{false, true} {
		out := f.svc.EndScene(context.Background(), "c1", 3, Options{Books: []string{"Chat"}, Quiet: quiet})
		if !errors.Is(out.Err, ErrEmptyContent) {
			t.Fatalf("quiet=%v: err = %v, want ErrEmptyContent", quiet, out.Err)
		}
		if got := texts(out, notify.LevelError); !slices.Contains(got, "Scene summary returned empty!") {
			t.Errorf("quiet=%v: error notices = %v", quiet, got)
		}
	}
	if n := len(f.provider.Calls()); n != 0 {
		t.Errorf("completion calls = %d, want 0", n)
	}
}

func TestEndScene_FadesAfterwards(t *testing.T) {
	f := newFixture(t, nil, func(s *config.MemorySettings) {
		s.SceneEndMode = config.SceneEndNone
		s.FadeMemories = true
		s.FadePct = 5
	})
	b := f.journal(t)
	e := b.NewEntry()
	e.Fade, e.Constant, e.Probability = true, true, 5
	_ = f.books.Save(context.Background(), "journal", b)

	out := f.svc.EndScene(context.Background(), "c1", 3, Options{})
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Faded != 1 || out.Purged != 1 {
		t.Errorf("faded = %d, purged = %d", out.Faded, out.Purged)
	}
	if len(f.journal(t).Entries) != 0 {
		t.Error("faded-out entry should be removed")
	}
}

// failingSaves is a book store whose saves always fail.
type failingSaves struct{ *lore.MemStore }

func (failingSaves) Save(context.Context, string, *lore.Book) error {
	return errors.New("disk full")
}

func TestEndScene_FadeFailureStillMarksBoundary(t *testing.T) {
	settings := config.DefaultMemorySettings()
	settings.SceneEndMode = config.SceneEndNone
	settings.FadeMemories = true
	settings.FadePct = 5

	b := lore.NewBook("journal")
	e := b.NewEntry()
	e.Fade, e.Constant, e.Probability = true, true, 50
	books := failingSaves{lore.NewMemStore(b)}
	chats := chat.NewMemStore(testChat())

	metrics := testMetrics(t)
	client := completion.New(
		completion.NewProfileSet(completion.Profile{ID: "main", Provider: &mock.Provider{}}),
		ratelimit.Unlimited(),
		completion.WithMetrics(metrics),
	)
	svc := New(chats, books, client,
		WithSettings(settings),
		WithMetrics(metrics),
		WithCounter(tokens.Estimate{}),
		WithSink(notify.Multi{}),
	)

	out := svc.EndScene(context.Background(), "c1", 2, Options{})
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Boundary != 2 {
		t.Errorf("boundary = %d, want 2", out.Boundary)
	}
	ch, err := chats.LoadChat(context.Background(), "c1")
	if err != nil {
		t.Fatalf("load chat: %v", err)
	}
	if !ch.Turns[2].SceneEnd {
		t.Error("turn 2 should carry the scene-end flag")
	}
	if got := texts(out, notify.LevelError); len(got) != 1 || !strings.HasPrefix(got[0], "Fading memories failed") {
		t.Errorf("error notices = %v", got)
	}
}

// ── FadeMemories ─────────────────────────────────────────────────────────────

func TestFadeMemories(t *testing.T) {
	f := newFixture(t, nil, func(s *config.MemorySettings) { s.FadePct = 5 })
	b := f.journal(t)
	keep := b.NewEntry()
	keep.Fade, keep.Probability = true, 10
	plain := b.NewEntry()
	plain.Probability = 50
	_ = f.books.Save(context.Background(), "journal", b)

	out := f.svc.FadeMemories(context.Background(), "c1", "Chat", false)
	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.Faded != 1 || out.Purged != 0 {
		t.Errorf("faded = %d, purged = %d", out.Faded, out.Purged)
	}
	got := f.journal(t)
	if got.Entries[keep.UID].Probability != 5 || got.Entries[plain.UID].Probability != 50 {
		t.Errorf("probabilities = %d, %d", got.Entries[keep.UID].Probability, got.Entries[plain.UID].Probability)
	}
	want := `Faded 1 "pop-up" memories across 1 book(s); 0 were removed.`
	if s := texts(out, notify.LevelSuccess); !slices.Equal(s, []string{want}) {
		t.Errorf("notices = %v", s)
	}
}

func TestFadeMemories_UnknownKeyDoesNothing(t *testing.T) {
	f := newFixture(t, nil, nil)
	out := f.svc.FadeMemories(context.Background(), "c1", "nobody", false)
	if out.Err != nil || len(out.Notices) != 0 || out.Faded != 0 {
		t.Errorf("outcome = %+v", out)
	}
}

func TestFadeMemories_QuietSuppressesNotice(t *testing.T) {
	f := newFixture(t, nil, nil)
	out := f.svc.FadeMemories(context.Background(), "c1", "", true)
	if out.Err != nil || len(out.Notices) != 0 {
		t.Errorf("outcome = %+v", out)
	}
}

func TestConfigure(t *testing.T) {
	f := newFixture(t, nil, nil)
	s := f.svc.Settings()
	s.PopupPct = 42
	f.svc.Configure(s, nil)
	if got := f.svc.Settings().PopupPct; got != 42 {
		t.Errorf("PopupPct = %d, want 42", got)
	}
}

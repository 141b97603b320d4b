package rememory

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/MrWong99/rememory/internal/config"
	"github.com/MrWong99/rememory/internal/history"
	"github.com/MrWong99/rememory/internal/keywords"
	"github.com/MrWong99/rememory/internal/memory"
	"github.com/MrWong99/rememory/internal/observe"
	"github.com/MrWong99/rememory/internal/scene"
	"github.com/MrWong99/rememory/internal/summary"
	"github.com/MrWong99/rememory/internal/transform"
	"github.com/MrWong99/rememory/pkg/chat"
)

// RememberEvent summarizes turn and up to memory_span turns before it and
// stores the summary in the chosen books.
func (s *Service) RememberEvent(ctx context.Context, chatID string, turn int, opts Options) Outcome {
	ctx, c, done := s.begin(ctx, "remember_event", chatID, opts)
	defer done()

	ch, err := c.loadChat(ctx, chatID, turn)
	if err != nil {
		return c.finish(ctx, err)
	}
	books, err := c.chooseBooks(ctx, ch)
	if err != nil {
		c.n.Warning(ctx, "No books selected")
		return c.finish(ctx, err)
	}

	c.n.Info(ctx, "Generating memory....")
	turns := history.Slice(ch.Turns, turn, 0, c.settings.MemorySpan, c.tr)
	text, err := c.summarizer().Summarize(ctx, history.Join(turns), 0)
	if text == "" {
		c.n.Error(ctx, "No memory text to record.")
		return c.finish(ctx, emptyErr(summary.ErrEmptySummary, err))
	}

	if err := c.remember(ctx, ch, books, text); err != nil {
		return c.finish(ctx, err)
	}
	c.n.Success(ctx, "Memory entry created")
	return c.finish(ctx, nil)
}

// LogMessage stores the text of turn itself as a memory in the chosen
// books. No summary is generated.
func (s *Service) LogMessage(ctx context.Context, chatID string, turn int, opts Options) Outcome {
	ctx, c, done := s.begin(ctx, "log_message", chatID, opts)
	defer done()

	ch, err := c.loadChat(ctx, chatID, turn)
	if err != nil {
		return c.finish(ctx, err)
	}
	books, err := c.chooseBooks(ctx, ch)
	if err != nil {
		c.n.Warning(ctx, "No books selected")
		return c.finish(ctx, err)
	}

	t := ch.Turn(turn)
	text := c.tr.Transform(t.Text, transform.PlacementFor(t.IsUser), transform.Options{
		Depth: len(ch.Turns) - turn - 1,
	})
	if text == "" {
		c.n.Error(ctx, "No message text found to record.")
		return c.finish(ctx, summary.ErrEmptyContent)
	}

	if err := c.remember(ctx, ch, books, text); err != nil {
		return c.finish(ctx, err)
	}
	c.n.Success(ctx, "Memory entry created")
	return c.finish(ctx, nil)
}

// EndScene closes the scene ending at turn. Depending on the mode it
// summarizes the scene into memories, inserts the summary as a comment, or
// only marks the boundary.
func (s *Service) EndScene(ctx context.Context, chatID string, turn int, opts Options) Outcome {
	ctx, c, done := s.begin(ctx, "end_scene", chatID, opts)
	defer done()

	ch, err := c.loadChat(ctx, chatID, turn)
	if err != nil {
		return c.finish(ctx, err)
	}

	mode := c.settings.SceneEndMode
	if opts.Mode != "" {
		if m, ok := config.ParseSceneEndMode(opts.Mode); ok {
			mode = m
		}
	}

	boundary := turn
	if mode != config.SceneEndNone {
		var books []string
		if mode == config.SceneEndMemory {
			if books, err = c.chooseBooks(ctx, ch); err != nil {
				c.n.Error(ctx, "No books selected")
				return c.finish(ctx, err)
			}
		}

		text, err := c.summarizeScene(ctx, ch, turn)
		if err != nil {
			return c.finish(ctx, err)
		}

		switch mode {
		case config.SceneEndMemory:
			if err := c.remember(ctx, ch, books, text); err != nil {
				return c.finish(ctx, err)
			}
			c.n.Success(ctx, "Scene memory entry created")
		case config.SceneEndMessage:
			boundary = turn + 1
			ch.InsertComment(boundary, text)
			if err := s.chats.SaveChat(ctx, ch); err != nil {
				return c.finish(ctx, fmt.Errorf("rememory: save summary comment: %w", err))
			}
			s.view.TurnsChanged(ctx, ch.ID, []int{boundary})
			c.out.Memory = text
		}
	}

	if c.settings.FadeMemories {
		c.n.Info(ctx, "Fading all pop-up memories for this chat...")
		if err := c.fade(ctx, ch, ""); err != nil {
			observe.Logger(ctx).Warn("rememory: fade after scene end failed", "chat", ch.ID, "err", err)
		}
	}

	if err := c.tracker().MarkBoundary(ctx, ch, boundary); err != nil {
		return c.finish(ctx, err)
	}
	c.out.Boundary = boundary
	c.n.Success(ctx, "Scene ending marked at message %d.", boundary)
	return c.finish(ctx, nil)
}

// FadeMemories runs one fade sweep over the books active in the chat. A
// non-empty key narrows the sweep to the book bound under that key; an
// unknown key does nothing.
func (s *Service) FadeMemories(ctx context.Context, chatID, key string, quiet bool) Outcome {
	ctx, c, done := s.begin(ctx, "fade_memories", chatID, Options{Quiet: quiet})
	defer done()

	ch, err := s.chats.LoadChat(ctx, chatID)
	if err != nil {
		c.n.Error(ctx, "Chat %q could not be loaded.", chatID)
		return c.finish(ctx, err)
	}
	return c.finish(ctx, c.fade(ctx, ch, key))
}

// ─────────────────────────────────────────────────────────────────────────────
// Steps
// ─────────────────────────────────────────────────────────────────────────────

// chooseBooks resolves the target books: the explicit list when given, the
// chooser's answer otherwise, or every active book when auto_books is set
// and nobody can be asked. Any unknown name selects nothing.
func (c *call) chooseBooks(ctx context.Context, ch *chat.Chat) ([]string, error) {
	active := memory.ActiveBooks(ch, c.settings.BookAssignments)
	if len(active) == 0 {
		return nil, ErrNoBookSelected
	}

	keys := c.opts.Books
	if len(keys) == 0 {
		switch {
		case c.s.chooser != nil:
			chosen, err := c.s.chooser.ChooseBooks(ctx, memory.Keys(active))
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrNoBookSelected, err)
			}
			keys = chosen
		case c.settings.AutoBooks:
			keys = memory.Keys(active)
		}
	}
	if len(keys) == 0 {
		return nil, ErrNoBookSelected
	}

	books := make([]string, 0, len(keys))
	for _, k := range keys {
		book, ok := memory.Lookup(active, k)
		if !ok {
			if !slices.ContainsFunc(active, func(b memory.ActiveBook) bool { return b.Book == k }) {
				return nil, fmt.Errorf("%w: unknown book %q", ErrNoBookSelected, k)
			}
			book = k
		}
		if !slices.Contains(books, book) {
			books = append(books, book)
		}
	}
	return books, nil
}

// keywords returns the override when given and generated keywords
// otherwise.
func (c *call) keywords(ctx context.Context, ch *chat.Chat, text string) []string {
	if c.opts.Keywords != nil {
		return keywords.Split(*c.opts.Keywords)
	}
	ex := &keywords.Extractor{
		Completer:  c.completer(),
		Template:   c.settings.KeywordsPromptTemplate,
		Profile:    c.profile(),
		AllowNames: c.settings.AllowNames,
		Names:      ch.Participants(),
		Notifier:   c.n,
	}
	return ex.Extract(ctx, text)
}

// remember derives keywords for text and writes the memory to every book.
// Books that cannot be written are reported and skipped.
func (c *call) remember(ctx context.Context, ch *chat.Chat, books []string, text string) error {
	kws := c.keywords(ctx, ch, text)
	content := c.settings.MemoryPrefix + text + c.settings.MemorySuffix

	popup := c.settings.PopupMemories
	if c.opts.Popup != nil {
		popup = *c.opts.Popup
	}
	mem := memory.Memory{
		Content:    content,
		Keywords:   kws,
		Title:      c.opts.Title,
		Popup:      popup,
		Role:       c.settings.MemoryRole,
		Depth:      c.settings.MemoryDepth,
		Life:       c.settings.MemoryLife,
		TriggerPct: c.settings.TriggerPct,
		PopupPct:   c.settings.PopupPct,
	}

	c.out.Memory = content
	c.out.Keywords = kws
	var errs []error
	mgr := c.manager()
	for _, book := range books {
		if _, err := mgr.CreateEntry(ctx, book, mem); err != nil {
			c.n.Warning(ctx, "Memory book missing or invalid")
			errs = append(errs, err)
			continue
		}
		c.out.Books = append(c.out.Books, book)
	}
	return errors.Join(errs...)
}

// summarizeScene summarizes the turns since the previous boundary up to
// turn, attaches chunk summaries and hides the summarized turns as
// configured.
func (c *call) summarizeScene(ctx context.Context, ch *chat.Chat, turn int) (string, error) {
	turns := history.Slice(ch.Turns, turn, scene.Start(ch, turn), 0, c.tr)
	res, err := c.summarizer().Scene(ctx, summary.Scene{
		Turns:     turns,
		MaxTokens: history.Budget(c.maxContext()),
		Counter:   c.s.counter,
		Decider:   c.decider(),
	})

	if res.ChunkSummaries != "" && c.settings.AddChunkSummaries {
		ch.InsertComment(turn+1, summary.ChunkAnnotation(res.ChunkSummaries))
		if serr := c.s.chats.SaveChat(ctx, ch); serr != nil {
			return "", fmt.Errorf("rememory: save chunk summaries: %w", serr)
		}
		c.s.view.TurnsChanged(ctx, ch.ID, []int{turn + 1})
	}

	switch {
	case errors.Is(err, summary.ErrEmptyContent), errors.Is(err, summary.ErrEmptySummary):
		c.n.Error(ctx, "Scene summary returned empty!")
		return "", err
	case err != nil:
		return "", err
	}

	if c.settings.HideScene {
		if err := c.tracker().HideSummarized(ctx, ch, turns); err != nil {
			return "", err
		}
	}
	return res.Summary, nil
}

// fade sweeps the chat's active books and reports the result.
func (c *call) fade(ctx context.Context, ch *chat.Chat, key string) error {
	active := memory.ActiveBooks(ch, c.settings.BookAssignments)
	if key != "" {
		if _, ok := memory.Lookup(active, key); !ok {
			return nil
		}
	}
	res, err := c.manager().FadeAll(ctx, active, key, c.settings.FadePct)
	c.out.Faded += res.Faded
	c.out.Purged += res.Purged
	if err != nil {
		c.n.Error(ctx, "Fading memories failed: %v", err)
		return err
	}
	c.n.Success(ctx, "%s", memory.FadeNotice(res))
	return nil
}

// emptyErr returns kind, joined with the completion error that caused the
// empty result if there was one.
func emptyErr(kind, cause error) error {
	if cause == nil {
		return kind
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

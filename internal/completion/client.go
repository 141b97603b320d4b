// Package completion wraps the completion service for the memory pipeline.
//
// Every call goes through [Client.Complete], which waits on the shared rate
// limiter, optionally switches to an override profile for the duration of
// the call, applies request-scoped stop sequences and strips a leading
// reasoning block from the reply. Failures are reported to the user through
// the request's notifier and come back as empty text.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/rememory/internal/notify"
	"github.com/MrWong99/rememory/internal/observe"
	"github.com/MrWong99/rememory/internal/ratelimit"
	"github.com/MrWong99/rememory/pkg/provider/llm"
	"github.com/MrWong99/rememory/pkg/types"
)

// ErrFailed wraps every error returned by [Client.Complete].
var ErrFailed = errors.New("completion: request failed")

// Default reasoning delimiters.
const (
	DefaultReasoningPrefix = "<think>"
	DefaultReasoningSuffix = "</think>"
)

// InvalidProfileNotice is the warning shown when an override names a profile
// that does not exist.
const InvalidProfileNotice = "Invalid connection profile override; using current profile."

// Settings are the live knobs of a [Client]. They may be replaced at any time
// through [Client.Configure].
type Settings struct {
	// Profile is the default override profile ID. Empty keeps the selected
	// profile.
	Profile string

	// ReasoningPrefix and ReasoningSuffix delimit a reasoning block at the
	// start of a reply. Either one empty disables stripping.
	ReasoningPrefix string
	ReasoningSuffix string

	// MaxTokens caps the reply length. Zero leaves the backend default.
	MaxTokens int
}

// Request is one completion call.
type Request struct {
	// Prompt is the fully rendered prompt text.
	Prompt string

	// Stop sequences apply to this call only.
	Stop []string

	// Profile overrides [Settings.Profile] for this call.
	Profile string

	// Purpose labels the call in metrics and logs ("summary", "keywords").
	Purpose string

	// Notifier receives the error and profile-warning notices. Nil discards
	// them.
	Notifier *notify.Notifier
}

// Option configures a [Client].
type Option func(*Client)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithSettings sets the initial settings.
func WithSettings(s Settings) Option {
	return func(c *Client) { c.settings = s }
}

// Client performs rate-limited completion calls against a [ProfileSet].
type Client struct {
	profiles *ProfileSet
	limiter  *ratelimit.Limiter
	metrics  *observe.Metrics

	mu       sync.RWMutex
	settings Settings
}

// New returns a Client. limiter must be the single process-wide limiter.
func New(profiles *ProfileSet, limiter *ratelimit.Limiter, opts ...Option) *Client {
	c := &Client{
		profiles: profiles,
		limiter:  limiter,
		settings: Settings{
			ReasoningPrefix: DefaultReasoningPrefix,
			ReasoningSuffix: DefaultReasoningSuffix,
		},
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Configure replaces the client settings.
func (c *Client) Configure(s Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = s
}

// Settings returns the current settings.
func (c *Client) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// Profiles returns the profile set the client draws from.
func (c *Client) Profiles() *ProfileSet { return c.profiles }

// Capabilities returns the capabilities of the selected profile's model.
func (c *Client) Capabilities() types.ModelCapabilities {
	p, err := c.profiles.Active()
	if err != nil {
		return types.ModelCapabilities{}
	}
	return p.Provider.Capabilities()
}

// Complete runs one completion call and returns the reply with any leading
// reasoning block removed.
//
// On failure the error is shown to the user through req.Notifier and
// returned together with empty text. Callers treat empty text as "nothing
// generated"; the error is only informational.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	settings := c.Settings()
	log := observe.Logger(ctx)

	ctx, span := observe.StartSpan(ctx, "completion.complete")
	defer span.End()

	if err := c.limiter.Acquire(ctx); err != nil {
		return "", c.fail(ctx, req, fmt.Errorf("completion: %w", err))
	}

	target := req.Profile
	if target == "" {
		target = settings.Profile
	}
	if target != "" && target != c.profiles.Selected() {
		restore, err := c.profiles.Swap(target)
		if err != nil {
			log.Warn("completion: profile override ignored", "profile", target, "err", err)
			if req.Notifier != nil {
				req.Notifier.Warning(ctx, InvalidProfileNotice)
			}
		}
		defer restore()
	}

	profile, err := c.profiles.Active()
	if err != nil {
		return "", c.fail(ctx, req, err)
	}
	span.SetAttributes(observe.Attr("profile", profile.ID), observe.Attr("purpose", req.Purpose))

	start := time.Now()
	resp, err := profile.Provider.Complete(ctx, llm.CompletionRequest{
		Messages:  []types.Message{{Role: "user", Content: req.Prompt}},
		MaxTokens: settings.MaxTokens,
		Stop:      req.Stop,
	})
	c.metrics.RecordCompletion(ctx, profile.ID, req.Purpose, time.Since(start), err)
	if err != nil {
		return "", c.fail(ctx, req, fmt.Errorf("completion: %s: %w", profile.ID, err))
	}
	if resp == nil {
		return "", nil
	}

	log.Debug("completion: reply received",
		"profile", profile.ID,
		"purpose", req.Purpose,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)

	text := llm.TruncateAtStop(resp.Content, req.Stop)
	if resp.Reasoning != "" {
		return text, nil
	}
	return StripReasoning(text, settings.ReasoningPrefix, settings.ReasoningSuffix), nil
}

func (c *Client) fail(ctx context.Context, req Request, err error) error {
	observe.Logger(ctx).Error("completion: request failed", "purpose", req.Purpose, "err", err)
	if req.Notifier != nil {
		req.Notifier.Error(ctx, "%s", err.Error())
	}
	return fmt.Errorf("%w: %w", ErrFailed, err)
}

// StripReasoning removes a reasoning block delimited by prefix and suffix
// from the start of text and returns the remaining content. Text without a
// complete leading block is returned unchanged.
func StripReasoning(text, prefix, suffix string) string {
	if prefix == "" || suffix == "" {
		return text
	}
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if !strings.HasPrefix(trimmed, prefix) {
		return text
	}
	rest := trimmed[len(prefix):]
	end := strings.Index(rest, suffix)
	if end < 0 {
		return text
	}
	return strings.TrimSpace(rest[end+len(suffix):])
}

// Package mcpserver exposes the ReMemory entry points as MCP tools.
//
// The same [mcp.Server] can run over stdio for a single client or be mounted
// on the HTTP server through the streamable HTTP transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/rememory/internal/api"
	"github.com/MrWong99/rememory/internal/observe"
	"github.com/MrWong99/rememory/internal/rememory"
)

// Tool names.
const (
	ToolRememberEvent = "remember_event"
	ToolLogMessage    = "log_message"
	ToolEndScene      = "end_scene"
	ToolFadeMemories  = "fade_memories"
)

// TurnInput is the argument object of the turn tools.
type TurnInput struct {
	Chat     string   `json:"chat" jsonschema:"id of the chat"`
	Turn     int      `json:"turn" jsonschema:"index of the turn to act on"`
	Quiet    bool     `json:"quiet,omitempty" jsonschema:"suppress non-error notices"`
	Books    []string `json:"books,omitempty" jsonschema:"active-book keys or book names to write to"`
	Profile  string   `json:"profile,omitempty" jsonschema:"connection profile override"`
	Keywords *string  `json:"keywords,omitempty" jsonschema:"comma-separated keywords; skips keyword generation"`
	Popup    *bool    `json:"popup,omitempty" jsonschema:"override whether a pop-up memory is created"`
	Mode     string   `json:"mode,omitempty" jsonschema:"scene end mode override: none, memory or message"`
	Title    string   `json:"title,omitempty" jsonschema:"entry title override"`
}

func (in TurnInput) options() rememory.Options {
	return rememory.Options{
		Quiet:    in.Quiet,
		Books:    in.Books,
		Profile:  in.Profile,
		Keywords: in.Keywords,
		Popup:    in.Popup,
		Mode:     in.Mode,
		Title:    in.Title,
	}
}

// FadeInput is the argument object of fade_memories.
type FadeInput struct {
	Chat  string `json:"chat" jsonschema:"id of the chat"`
	Book  string `json:"book,omitempty" jsonschema:"active-book key to narrow the sweep to"`
	Quiet *bool  `json:"quiet,omitempty" jsonschema:"suppress non-error notices (default true)"`
}

// Option configures [New].
type Option func(*server)

// WithMetrics records tool calls in m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *server) { s.metrics = m }
}

// WithVersion sets the version reported to clients.
func WithVersion(v string) Option {
	return func(s *server) { s.version = v }
}

type server struct {
	svc     api.Entrypoints
	metrics *observe.Metrics
	version string
}

// New returns an MCP server offering the four entry points as tools.
func New(svc api.Entrypoints, opts ...Option) *mcpsdk.Server {
	s := &server{svc: svc, metrics: observe.DefaultMetrics(), version: "dev"}
	for _, o := range opts {
		o(s)
	}

	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "rememory", Version: s.version}, nil)

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolRememberEvent,
		Description: "Summarize the chat up to a turn and store the summary as a memory entry.",
	}, s.turnTool(ToolRememberEvent, svc.RememberEvent))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolLogMessage,
		Description: "Store the text of a single turn as a memory entry without summarizing.",
	}, s.turnTool(ToolLogMessage, svc.LogMessage))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolEndScene,
		Description: "Summarize the scene ending at a turn and mark the scene boundary.",
	}, s.turnTool(ToolEndScene, svc.EndScene))
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        ToolFadeMemories,
		Description: "Lower the trigger chance of every pop-up memory in the chat's books and remove spent ones.",
	}, s.fadeTool)

	return srv
}

// HTTPHandler serves srv over the streamable HTTP transport.
func HTTPHandler(srv *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server { return srv }, nil)
}

// ServeStdio runs srv on stdin and stdout until the client disconnects or
// ctx is cancelled.
func ServeStdio(ctx context.Context, srv *mcpsdk.Server) error {
	if err := srv.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("mcpserver: %w", err)
	}
	return nil
}

type turnFunc func(ctx context.Context, chatID string, turn int, opts rememory.Options) rememory.Outcome

func (s *server) turnTool(name string, fn turnFunc) mcpsdk.ToolHandlerFor[TurnInput, any] {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, in TurnInput) (*mcpsdk.CallToolResult, any, error) {
		return s.result(ctx, name, fn(ctx, in.Chat, in.Turn, in.options()))
	}
}

func (s *server) fadeTool(ctx context.Context, _ *mcpsdk.CallToolRequest, in FadeInput) (*mcpsdk.CallToolResult, any, error) {
	quiet := true
	if in.Quiet != nil {
		quiet = *in.Quiet
	}
	return s.result(ctx, ToolFadeMemories, s.svc.FadeMemories(ctx, in.Chat, in.Book, quiet))
}

// result renders out as a JSON text block. Handled failures are tool errors,
// not protocol errors.
func (s *server) result(ctx context.Context, tool string, out rememory.Outcome) (*mcpsdk.CallToolResult, any, error) {
	s.metrics.RecordToolCall(ctx, tool, observe.Status(out.Err))
	data, err := json.Marshal(api.NewResponse(out))
	if err != nil {
		return nil, nil, fmt.Errorf("mcpserver: encode %s result: %w", tool, err)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
		IsError: out.Err != nil,
	}, nil, nil
}

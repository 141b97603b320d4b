package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"testing"
)

func TestNotifier_QuietSuppressesAllButErrors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		quiet bool
		want  []Level
	}{
		{false, []Level{LevelInfo, LevelSuccess, LevelWarning, LevelError}},
		{true, []Level{LevelError}},
	}
	for _, tt := range tests {
		c := &Collector{}
		n := New(c, tt.quiet)
		n.Info(ctx, "Generating memory....")
		n.Success(ctx, "Memory entry created")
		n.Warning(ctx, "No books selected")
		n.Error(ctx, "No memory text to record.")

		var got []Level
		for _, no := range c.Notices() {
			got = append(got, no.Level)
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("quiet=%v: levels = %v, want %v", tt.quiet, got, tt.want)
		}
	}
}

func TestNotifier_Formats(t *testing.T) {
	c := &Collector{}
	n := New(c, false)
	n.Info(context.Background(), "Generating summary #%d....", 2)
	n.Info(context.Background(), "100% literal")

	got := c.Texts(LevelInfo)
	want := []string{"Generating summary #2....", "100% literal"}
	if !slices.Equal(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNotifier_NilSink(t *testing.T) {
	n := New(nil, false)
	n.Error(context.Background(), "nobody listens") // must not panic

	var none *Notifier
	none.Warning(context.Background(), "still fine")
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	n := New(LogSink{Logger: logger}, false)
	n.Warning(context.Background(), "Memory book missing or invalid")

	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "notice=warning") {
		t.Errorf("log output = %q", out)
	}
}

func TestMulti(t *testing.T) {
	a, b := &Collector{}, &Collector{}
	n := New(Multi{a, nil, b}, false)
	n.Success(context.Background(), "done")
	if len(a.Notices()) != 1 || len(b.Notices()) != 1 {
		t.Errorf("fan-out: %d/%d notices", len(a.Notices()), len(b.Notices()))
	}
}

func TestLevel_String(t *testing.T) {
	if LevelWarning.String() != "warning" {
		t.Errorf("got %q", LevelWarning.String())
	}
	if Level(9).String() != "level(9)" {
		t.Errorf("got %q", Level(9).String())
	}
}

func TestNotice_JSONRoundTrip(t *testing.T) {
	for _, level := range []Level{LevelInfo, LevelSuccess, LevelWarning, LevelError} {
		in := []Notice{{Level: level, Text: "Memory entry created"}}
		raw, err := json.Marshal(in)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !strings.Contains(string(raw), `"level":"`+level.String()+`"`) {
			t.Errorf("encoded %s", raw)
		}
		var out []Notice
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("Unmarshal %s: %v", raw, err)
		}
		if len(out) != 1 || out[0].Level != level || out[0].Text != in[0].Text {
			t.Errorf("got %+v, want %+v", out, in)
		}
	}
}

func TestLevel_UnmarshalTextRejectsUnknown(t *testing.T) {
	var l Level
	if err := l.UnmarshalText([]byte("fatal")); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := ParseLevel("warn"); err == nil {
		t.Error("expected error for warn")
	}
}

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/MrWong99/rememory/internal/transform"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the known LLM provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "mock"}

// ContentPlaceholder is the token prompt templates must contain.
const ContentPlaceholder = "{{content}}"

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	normalize(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize fills derived values that depend on other keys.
func normalize(cfg *Config) {
	if m, ok := ParseSceneEndMode(string(cfg.Memory.SceneEndMode)); ok {
		cfg.Memory.SceneEndMode = m
	}
	if cfg.Memory.BookAssignments == nil {
		cfg.Memory.BookAssignments = map[string]string{}
	}
	for i := range cfg.Profiles {
		if cfg.Profiles[i].Name == "" {
			cfg.Profiles[i].Name = cfg.Profiles[i].ID
		}
	}
	if cfg.Memory.ActiveProfile == "" && len(cfg.Profiles) > 0 {
		cfg.Memory.ActiveProfile = cfg.Profiles[0].ID
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Storage
	switch cfg.Storage.Driver {
	case StorageMemory, "":
	case StorageFiles:
		if cfg.Storage.ChatsDir == "" {
			errs = append(errs, errors.New("storage.chats_dir is required when driver is files"))
		}
		if cfg.Storage.BooksDir == "" {
			errs = append(errs, errors.New("storage.books_dir is required when driver is files"))
		}
	case StoragePostgres:
		if cfg.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required when driver is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: memory, files, postgres", cfg.Storage.Driver))
	}

	// Profiles
	ids := make(map[string]int, len(cfg.Profiles))
	for i, p := range cfg.Profiles {
		prefix := fmt.Sprintf("profiles[%d]", i)
		if p.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
			continue
		}
		if prev, ok := ids[p.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of profiles[%d]", prefix, p.ID, prev))
		}
		ids[p.ID] = i
		if p.Provider == "" {
			errs = append(errs, fmt.Errorf("%s.provider is required", prefix))
		}
		validateProviderName(p.Provider)
	}
	for i, p := range cfg.Profiles {
		for _, fb := range p.Fallbacks {
			if _, ok := ids[fb]; !ok {
				errs = append(errs, fmt.Errorf("profiles[%d].fallbacks references unknown profile %q", i, fb))
			} else if fb == p.ID {
				errs = append(errs, fmt.Errorf("profiles[%d].fallbacks must not reference itself", i))
			}
		}
	}
	if len(cfg.Profiles) == 0 {
		slog.Warn("no profiles configured; memory generation will fail until one is added")
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("resilience.max_failures %d must not be negative", cfg.Resilience.MaxFailures))
	}

	// Memory settings
	m := cfg.Memory
	if m.ActiveProfile != "" {
		if _, ok := ids[m.ActiveProfile]; !ok {
			errs = append(errs, fmt.Errorf("rememory.active_profile %q is not a configured profile", m.ActiveProfile))
		}
	}
	if m.Profile != "" {
		if _, ok := ids[m.Profile]; !ok {
			// Generation falls back to the active profile with a warning.
			slog.Warn("rememory.profile is not a configured profile", "profile", m.Profile)
		}
	}
	errs = append(errs, validatePct("rememory.trigger_pct", m.TriggerPct)...)
	errs = append(errs, validatePct("rememory.popup_pct", m.PopupPct)...)
	errs = append(errs, validatePct("rememory.fade_pct", m.FadePct)...)
	if m.MemoryRole < 0 || m.MemoryRole > 2 {
		errs = append(errs, fmt.Errorf("rememory.memory_role %d is invalid; valid values: 0 (system), 1 (user), 2 (assistant)", m.MemoryRole))
	}
	for _, kv := range []struct {
		key string
		val int
	}{
		{"rememory.memory_span", m.MemorySpan},
		{"rememory.memory_depth", m.MemoryDepth},
		{"rememory.memory_life", m.MemoryLife},
		{"rememory.max_context", m.MaxContext},
		{"rememory.chunk_retries", m.ChunkRetries},
	} {
		if kv.val < 0 {
			errs = append(errs, fmt.Errorf("%s %d must not be negative", kv.key, kv.val))
		}
	}
	if m.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rememory.rate_limit %g must not be negative", m.RateLimit))
	}
	if m.SceneEndMode != "" && !m.SceneEndMode.IsValid() {
		errs = append(errs, fmt.Errorf("rememory.scene_end_mode %q is invalid; valid values: none, memory, message", m.SceneEndMode))
	}
	if !strings.Contains(m.MemoryPromptTemplate, ContentPlaceholder) {
		slog.Warn("rememory.memory_prompt_template has no placeholder; content will not be sent", "placeholder", ContentPlaceholder)
	}
	if !strings.Contains(m.KeywordsPromptTemplate, ContentPlaceholder) {
		slog.Warn("rememory.keywords_prompt_template has no placeholder; content will not be sent", "placeholder", ContentPlaceholder)
	}

	// Transforms
	if _, err := transform.Compile(cfg.Transforms); err != nil {
		errs = append(errs, fmt.Errorf("transforms: %w", err))
	}

	// Fade schedule
	if cfg.FadeSchedule.Interval < 0 {
		errs = append(errs, fmt.Errorf("fade_schedule.interval %s must not be negative", cfg.FadeSchedule.Interval))
	}
	if cfg.FadeSchedule.Interval > 0 && len(cfg.FadeSchedule.Chats) == 0 {
		slog.Warn("fade_schedule.interval is set but fade_schedule.chats is empty; nothing will fade")
	}

	return errors.Join(errs...)
}

func validatePct(key string, v int) []error {
	if v < 0 || v > 100 {
		return []error{fmt.Errorf("%s %d is out of range [0, 100]", key, v)}
	}
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"name", name,
		"known", ValidProviderNames,
	)
}

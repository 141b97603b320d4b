package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; storage and
// listener changes require a restart and are only reported.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	MemoryChanged     bool // any rememory.* key changed
	RateLimitChanged  bool
	TransformsChanged bool

	ProfilesChanged bool
	ProfileChanges  []ProfileDiff

	FadeScheduleChanged bool

	// RestartRequired is set when server or storage settings changed.
	RestartRequired bool
}

// ProfileDiff describes what changed for a single connection profile.
type ProfileDiff struct {
	ID      string
	Changed bool
	Added   bool
	Removed bool
}

// IsZero reports whether nothing changed.
func (d ConfigDiff) IsZero() bool {
	return !d.LogLevelChanged && !d.MemoryChanged && !d.TransformsChanged &&
		!d.ProfilesChanged && !d.FadeScheduleChanged && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS) ||
		old.Storage != new.Storage {
		d.RestartRequired = true
	}

	// Memory settings
	if !reflect.DeepEqual(old.Memory, new.Memory) {
		d.MemoryChanged = true
	}
	if old.Memory.RateLimit != new.Memory.RateLimit {
		d.RateLimitChanged = true
	}
	if !reflect.DeepEqual(old.Transforms, new.Transforms) {
		d.TransformsChanged = true
	}
	if old.FadeSchedule.Interval != new.FadeSchedule.Interval ||
		!slices.Equal(old.FadeSchedule.Chats, new.FadeSchedule.Chats) {
		d.FadeScheduleChanged = true
	}
	if old.Resilience != new.Resilience {
		d.ProfilesChanged = true
	}

	// Build profile lookup maps keyed by ID.
	oldProfiles := make(map[string]*ProfileConfig, len(old.Profiles))
	for i := range old.Profiles {
		oldProfiles[old.Profiles[i].ID] = &old.Profiles[i]
	}
	newProfiles := make(map[string]*ProfileConfig, len(new.Profiles))
	for i := range new.Profiles {
		newProfiles[new.Profiles[i].ID] = &new.Profiles[i]
	}

	// Detect modified and removed profiles.
	for _, id := range slices.Sorted(maps.Keys(oldProfiles)) {
		np, exists := newProfiles[id]
		if !exists {
			d.ProfileChanges = append(d.ProfileChanges, ProfileDiff{ID: id, Removed: true})
			d.ProfilesChanged = true
			continue
		}
		if !reflect.DeepEqual(oldProfiles[id], np) {
			d.ProfileChanges = append(d.ProfileChanges, ProfileDiff{ID: id, Changed: true})
			d.ProfilesChanged = true
		}
	}

	// Detect added profiles.
	for _, id := range slices.Sorted(maps.Keys(newProfiles)) {
		if _, exists := oldProfiles[id]; !exists {
			d.ProfileChanges = append(d.ProfileChanges, ProfileDiff{ID: id, Added: true})
			d.ProfilesChanged = true
		}
	}

	return d
}

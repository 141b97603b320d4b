package completion

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/rememory/pkg/provider/llm"
)

// ErrUnknownProfile is returned when a profile ID is not registered.
var ErrUnknownProfile = errors.New("completion: unknown profile")

// ErrNoProfile is returned when no profile has been registered.
var ErrNoProfile = errors.New("completion: no profile configured")

// Profile is one named connection: a model backend plus its display name.
type Profile struct {
	ID       string
	Name     string
	Provider llm.Provider
}

// ProfileSet holds the configured generation profiles and the one currently
// selected. The selection is shared by every caller in the process.
//
// All methods are safe for concurrent use.
type ProfileSet struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	order    []string
	selected string
}

// NewProfileSet returns a set containing profiles. The first one is selected.
func NewProfileSet(profiles ...Profile) *ProfileSet {
	s := &ProfileSet{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		s.Add(p)
	}
	return s
}

// Add registers or replaces a profile. The first profile added becomes the
// selected one.
func (s *ProfileSet) Add(p Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[p.ID]; !ok {
		s.order = append(s.order, p.ID)
	}
	s.profiles[p.ID] = p
	if s.selected == "" {
		s.selected = p.ID
	}
}

// Remove unregisters id. Removing the selected profile selects the first
// remaining one.
func (s *ProfileSet) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return
	}
	delete(s.profiles, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	if s.selected == id {
		s.selected = ""
		if len(s.order) > 0 {
			s.selected = s.order[0]
		}
	}
}

// Has reports whether id is registered.
func (s *ProfileSet) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.profiles[id]
	return ok
}

// IDs returns the registered profile IDs in registration order.
func (s *ProfileSet) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Selected returns the ID of the selected profile.
func (s *ProfileSet) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Select makes id the selected profile and returns the previous selection.
func (s *ProfileSet) Select(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[id]; !ok {
		return s.selected, fmt.Errorf("%w: %q", ErrUnknownProfile, id)
	}
	prev := s.selected
	s.selected = id
	return prev, nil
}

// Active returns the selected profile.
func (s *ProfileSet) Active() (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[s.selected]
	if !ok {
		return Profile{}, ErrNoProfile
	}
	return p, nil
}

// Swap selects id and returns a function restoring the previous selection.
// When id is already selected the returned function does nothing.
func (s *ProfileSet) Swap(id string) (restore func(), err error) {
	prev, err := s.Select(id)
	if err != nil {
		return func() {}, err
	}
	if prev == id {
		return func() {}, nil
	}
	return func() {
		s.mu.Lock()
		s.selected = prev
		s.mu.Unlock()
	}, nil
}

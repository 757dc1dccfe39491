// Package game provides the server-side registry that resolves a
// room's selected_game identifier (§3) to a breakpointgame.Game factory.
// The runtime never imports a concrete game package directly; games
// register themselves here at process startup (see cmd/breakpoint/main.go),
// keeping the pluggable-module promise of §4.C and §9's polymorphism note.
package game

import (
	"fmt"
	"sort"
	"sync"

	"github.com/breakpointhq/breakpoint/pkg/breakpointgame"
)

// Factory constructs a fresh Game instance. A new instance is created
// for every room that selects this game, never shared across rooms.
type Factory func() breakpointgame.Game

// Registry holds the set of games available to rooms.
type Registry struct {
	mu    sync.RWMutex
	games map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{games: make(map[string]Factory)}
}

// Register adds a game factory under name, overwriting any prior
// registration for the same name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[name] = factory
}

// New constructs a fresh Game instance for name, or an error if name is
// not registered.
func (r *Registry) New(name string) (breakpointgame.Game, error) {
	r.mu.RLock()
	factory, ok := r.games[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("game %q is not registered", name)
	}
	return factory(), nil
}

// Metadata returns the static metadata for name by constructing and
// discarding a throwaway instance. Games
// are expected to be cheap to construct; this trades a small allocation
// for not needing a separate metadata-only registration path.
func (r *Registry) Metadata(name string) (breakpointgame.Metadata, error) {
	g, err := r.New(name)
	if err != nil {
		return breakpointgame.Metadata{}, err
	}
	return g.Metadata(), nil
}

// Names returns every registered game name, sorted, for status/listing
// endpoints.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.games))
	for name := range r.games {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package light

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Lister returns every light known to the bridge.
type Lister interface {
	Lights(ctx context.Context) ([]Light, error)
}

// NaturalStore is the restoration baseline: the core state of every light as it was
// before the first cycle. It is filled once and only read afterwards.
type NaturalStore struct {
	states map[string]State
	ids    []string
}

// NewNaturalStore builds a store from a bulk light read.
func NewNaturalStore(lights []Light) *NaturalStore {
	s := &NaturalStore{
		states: make(map[string]State, len(lights)),
		ids:    make([]string, 0, len(lights)),
	}
	for _, l := range lights {
		if _, dup := s.states[l.ID]; !dup {
			s.ids = append(s.ids, l.ID)
		}
		s.states[l.ID] = l.State.Core()
	}
	SortIDs(s.ids)
	return s
}

// Snapshot reads all lights once and captures their natural state.
func Snapshot(ctx context.Context, lister Lister) (*NaturalStore, error) {
	lights, err := lister.Lights(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot natural light state: %w", err)
	}

	store := NewNaturalStore(lights)
	log.Info().Int("lights", store.Len()).Msg("Captured natural light state")
	return store, nil
}

// Get returns the natural state of a light.
func (s *NaturalStore) Get(id string) (State, bool) {
	st, ok := s.states[id]
	if !ok {
		return State{}, false
	}
	return st.Clone(), true
}

// Has reports whether the light was captured at startup.
func (s *NaturalStore) Has(id string) bool {
	_, ok := s.states[id]
	return ok
}

// IDs returns all captured light ids in numeric order.
func (s *NaturalStore) IDs() []string {
	return append([]string(nil), s.ids...)
}

// Len returns the number of captured lights.
func (s *NaturalStore) Len() int {
	return len(s.ids)
}

// SortIDs sorts light ids in place, numerically where possible.
func SortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
}

// lessID orders numeric ids numerically and everything else lexically.
func lessID(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

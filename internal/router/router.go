package router

import (
	"fmt"
	"sort"
	"sync"

	"conductor/pkg/logging"
)

// Kind partitions capabilities into the three registries.
type Kind string

const (
	KindAction   Kind = "action"
	KindPrompt   Kind = "prompt"
	KindResource Kind = "resource"
)

// Kinds lists every capability kind in a stable order.
var Kinds = []Kind{KindAction, KindPrompt, KindResource}

// Record describes one capability offered by one session. Multiple records may
// share a name across sessions; Select picks one at invocation time. Records
// are removed en masse when the owning session is torn down.
type Record struct {
	Name      string
	Kind      Kind
	SessionID string
	Tags      []string
	Weight    float64
	Schema    map[string]interface{}
	// Description is carried through for presentation to an LLM.
	Description string
}

// Decision is the ephemeral outcome of routing one invocation.
type Decision struct {
	Name      string
	SessionID string
	Reason    string
}

// NoProviderError indicates no live session can serve a capability.
type NoProviderError struct {
	Name string
	Kind Kind
}

func (e *NoProviderError) Error() string {
	return fmt.Sprintf("no live provider for %s %q", e.Kind, e.Name)
}

// Liveness reports whether a session is currently live. The supervisor
// implements this; a record whose session is not live never routes.
type Liveness interface {
	IsLive(sessionID string) bool
}

// Router maps capability names to the sessions providing them and resolves
// each invocation to exactly one session. Weight is an operator-configured
// static preference, not a load metric; no load balancing happens here.
//
// The maps are mutated only during session admission and teardown, each
// mutation completing under the write lock, so readers never observe partial
// state.
type Router struct {
	mu       sync.RWMutex
	records  map[Kind]map[string][]Record // kind -> name -> providers
	liveness Liveness
}

// New creates a router. liveness may be nil, in which case every registered
// record is considered live (useful in tests).
func New(liveness Liveness) *Router {
	records := make(map[Kind]map[string][]Record, len(Kinds))
	for _, k := range Kinds {
		records[k] = make(map[string][]Record)
	}
	return &Router{
		records:  records,
		liveness: liveness,
	}
}

// Register adds a capability record. Registering the same (name, kind,
// session) again replaces the previous record.
func (r *Router) Register(rec Record) error {
	if rec.Name == "" {
		return fmt.Errorf("capability name is required")
	}
	if rec.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	byName, ok := r.recordsFor(rec.Kind)
	if !ok {
		return fmt.Errorf("unknown capability kind: %s", rec.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	providers := byName[rec.Name]
	replaced := false
	for i := range providers {
		if providers[i].SessionID == rec.SessionID {
			providers[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		providers = append(providers, rec)
	}
	byName[rec.Name] = providers

	logging.Debug("Router", "Registered %s %q for session %s (weight: %.1f)", rec.Kind, rec.Name, rec.SessionID, rec.Weight)
	return nil
}

// Select resolves the session to serve an invocation. Candidates are filtered
// to live sessions whose tags are a superset of requiredTags; among those the
// highest weight wins, with ties broken by lowest session id so repeated calls
// are stable.
func (r *Router) Select(name string, kind Kind, requiredTags []string) (Decision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byName, ok := r.records[kind]
	if !ok {
		return Decision{}, &NoProviderError{Name: name, Kind: kind}
	}

	var candidates []Record
	for _, rec := range byName[name] {
		if !r.isLive(rec.SessionID) {
			continue
		}
		if !tagsSuperset(rec.Tags, requiredTags) {
			continue
		}
		candidates = append(candidates, rec)
	}

	if len(candidates) == 0 {
		return Decision{}, &NoProviderError{Name: name, Kind: kind}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Weight != candidates[j].Weight {
			return candidates[i].Weight > candidates[j].Weight
		}
		return candidates[i].SessionID < candidates[j].SessionID
	})

	chosen := candidates[0]
	reason := "sole live provider"
	if len(candidates) > 1 {
		reason = fmt.Sprintf("highest weight %.1f of %d live candidates", chosen.Weight, len(candidates))
	}

	return Decision{
		Name:      name,
		SessionID: chosen.SessionID,
		Reason:    reason,
	}, nil
}

// UnregisterSession removes every record owned by the session and returns the
// number removed.
func (r *Router) UnregisterSession(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for _, byName := range r.records {
		for name, providers := range byName {
			kept := providers[:0]
			for _, rec := range providers {
				if rec.SessionID == sessionID {
					removed++
					continue
				}
				kept = append(kept, rec)
			}
			if len(kept) == 0 {
				delete(byName, name)
			} else {
				byName[name] = kept
			}
		}
	}

	if removed > 0 {
		logging.Debug("Router", "Unregistered %d records for session %s", removed, sessionID)
	}
	return removed
}

// List enumerates records of a kind, optionally restricted to one session.
// Only records with live sessions are returned, sorted by name then session id.
func (r *Router) List(kind Kind, sessionID string) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byName, ok := r.records[kind]
	if !ok {
		return nil
	}

	var result []Record
	for _, providers := range byName {
		for _, rec := range providers {
			if sessionID != "" && rec.SessionID != sessionID {
				continue
			}
			if !r.isLive(rec.SessionID) {
				continue
			}
			result = append(result, rec)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].SessionID < result[j].SessionID
	})
	return result
}

func (r *Router) recordsFor(kind Kind) (map[string][]Record, bool) {
	byName, ok := r.records[kind]
	return byName, ok
}

func (r *Router) isLive(sessionID string) bool {
	if r.liveness == nil {
		return true
	}
	return r.liveness.IsLive(sessionID)
}

// tagsSuperset reports whether have contains every tag in want.
func tagsSuperset(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

// Package filter implements the predicate chain events must pass before
// fan-out. An empty pipeline passes everything.
package filter

import (
	"sort"
	"strings"
	"sync"

	"lookout/internal/event"
)

// Predicate decides whether an event survives the pipeline.
type Predicate interface {
	Name() string
	Match(e *event.Event) bool
}

// Config declares subscriber interest per axis. An empty set places no
// constraint on its axis.
type Config struct {
	Users    []string `yaml:"users" json:"users"`
	Keywords []string `yaml:"keywords" json:"keywords"`
	Kinds    []string `yaml:"kinds" json:"kinds"`
}

// Pipeline is an ordered predicate chain. Predicates may be swapped
// atomically at runtime; in-flight events use the snapshot observed at
// entry.
type Pipeline struct {
	mu    sync.RWMutex
	preds []Predicate
}

// NewPipeline creates a pipeline over the given predicates.
func NewPipeline(preds ...Predicate) *Pipeline {
	return &Pipeline{preds: preds}
}

// FromConfig builds a pipeline from a filter configuration, adding one
// predicate per non-empty axis.
func FromConfig(cfg Config) *Pipeline {
	return NewPipeline(PredicatesFromConfig(cfg)...)
}

// PredicatesFromConfig builds the predicate chain a configuration
// describes, one predicate per non-empty axis.
func PredicatesFromConfig(cfg Config) []Predicate {
	var preds []Predicate
	if len(cfg.Users) > 0 {
		preds = append(preds, NewUserFilter(cfg.Users))
	}
	if len(cfg.Keywords) > 0 {
		preds = append(preds, NewKeywordFilter(cfg.Keywords))
	}
	if len(cfg.Kinds) > 0 {
		preds = append(preds, NewKindFilter(cfg.Kinds))
	}
	return preds
}

// Match reports whether every predicate in the current snapshot passes.
func (p *Pipeline) Match(e *event.Event) bool {
	p.mu.RLock()
	preds := p.preds
	p.mu.RUnlock()

	for _, pred := range preds {
		if !pred.Match(e) {
			return false
		}
	}
	return true
}

// Replace atomically swaps the predicate chain.
func (p *Pipeline) Replace(preds ...Predicate) {
	p.mu.Lock()
	p.preds = preds
	p.mu.Unlock()
}

// Snapshot returns the names of the active predicates in order.
func (p *Pipeline) Snapshot() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.preds))
	for _, pred := range p.preds {
		names = append(names, pred.Name())
	}
	return names
}

// UserFilter passes events whose username is in the allowlist.
type UserFilter struct {
	users map[string]struct{}
}

// NewUserFilter builds a user allowlist over normalized usernames.
func NewUserFilter(users []string) *UserFilter {
	set := make(map[string]struct{}, len(users))
	for _, u := range users {
		u = strings.ToLower(strings.TrimSpace(u))
		if u != "" {
			set[u] = struct{}{}
		}
	}
	return &UserFilter{users: set}
}

func (f *UserFilter) Name() string { return "user" }

func (f *UserFilter) Match(e *event.Event) bool {
	if len(f.users) == 0 {
		return true
	}
	_, ok := f.users[strings.ToLower(e.User.Username)]
	return ok
}

// Users returns the normalized, sorted allowlist.
func (f *UserFilter) Users() []string {
	out := make([]string, 0, len(f.users))
	for u := range f.users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// KeywordFilter passes events whose effective text contains any keyword,
// case-insensitively. Events without text (follow, profile) pass only
// when the keyword set is empty.
type KeywordFilter struct {
	keywords []string
}

// NewKeywordFilter builds a keyword filter; keywords are lowercased.
func NewKeywordFilter(keywords []string) *KeywordFilter {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return &KeywordFilter{keywords: out}
}

func (f *KeywordFilter) Name() string { return "keyword" }

func (f *KeywordFilter) Match(e *event.Event) bool {
	if len(f.keywords) == 0 {
		return true
	}
	text := strings.ToLower(e.EffectiveText())
	if text == "" {
		return false
	}
	for _, k := range f.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// KindFilter passes events whose kind is in the allowed set.
type KindFilter struct {
	kinds map[event.Kind]struct{}
}

// NewKindFilter builds a kind gate from kind names; unknown names are
// kept verbatim and simply never match.
func NewKindFilter(kinds []string) *KindFilter {
	set := make(map[event.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		k = strings.TrimSpace(k)
		if k != "" {
			set[event.Kind(k)] = struct{}{}
		}
	}
	return &KindFilter{kinds: set}
}

func (f *KindFilter) Name() string { return "kind" }

func (f *KindFilter) Match(e *event.Event) bool {
	if len(f.kinds) == 0 {
		return true
	}
	_, ok := f.kinds[e.Kind]
	return ok
}

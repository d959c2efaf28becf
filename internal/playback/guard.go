// Package playback limits how many times a listening resource may be
// played from the beginning during one session.
package playback

import (
	"errors"
	"net/url"
	"path"
	"strings"
	"sync"
)

// ErrLimitReached is returned when a fresh play has no credits left.
var ErrLimitReached = errors.New("playback limit reached")

type phase int

const (
	phaseIdle phase = iota
	phasePlaying
	phasePaused
	phaseCompleted
)

// State is the observable playback state of one resource.
type State struct {
	Resource       string `json:"resource"`
	Playing        bool   `json:"playing"`
	Plays          int    `json:"plays"`
	RemainingPlays int    `json:"remaining_plays"`
	// Unlimited is true when no limit applies to the resource.
	Unlimited bool `json:"unlimited"`
}

type entry struct {
	phase phase
	plays int
}

// Guard tracks per-resource play credits. A resource is charged once per
// play that starts from the beginning; resuming a paused play is free.
type Guard struct {
	mu      sync.Mutex
	limit   int
	limits  map[string]int
	entries map[string]*entry
}

// NewGuard creates a Guard with a default limit. limit <= 0 disables limiting.
func NewGuard(limit int) *Guard {
	return &Guard{
		limit:   limit,
		limits:  map[string]int{},
		entries: map[string]*entry{},
	}
}

// SetLimit overrides the limit of one resource.
func (g *Guard) SetLimit(resource string, limit int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limits[Normalize(resource)] = limit
}

// Reset forgets every resource. Called when a new session starts, never on
// question navigation.
func (g *Guard) Reset(limit int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limit = limit
	g.limits = map[string]int{}
	g.entries = map[string]*entry{}
}

// Toggle pauses a playing resource, resumes a paused one, or starts a fresh
// play. Only a fresh play consumes a credit.
func (g *Guard) Toggle(resource string) (State, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := Normalize(resource)
	e := g.entry(key)

	switch e.phase {
	case phasePlaying:
		e.phase = phasePaused
	case phasePaused:
		e.phase = phasePlaying
	default:
		limit := g.limitFor(key)
		if limit > 0 && e.plays >= limit {
			return g.state(key, e), ErrLimitReached
		}
		e.plays++
		e.phase = phasePlaying
	}
	return g.state(key, e), nil
}

// OnEnded marks the resource as played to completion, so the next Toggle is
// a fresh play.
func (g *Guard) OnEnded(resource string) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := Normalize(resource)
	e := g.entry(key)
	e.phase = phaseCompleted
	return g.state(key, e)
}

// RemainingPlays returns max(0, limit - consumed), or -1 when unlimited.
func (g *Guard) RemainingPlays(resource string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := Normalize(resource)
	return g.remaining(key, g.lookup(key))
}

// State returns the current state of a resource without creating it.
func (g *Guard) State(resource string) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := Normalize(resource)
	e := g.lookup(key)
	if e == nil {
		e = &entry{}
	}
	return g.state(key, e)
}

func (g *Guard) entry(key string) *entry {
	e, ok := g.entries[key]
	if !ok {
		e = &entry{}
		g.entries[key] = e
	}
	return e
}

func (g *Guard) lookup(key string) *entry {
	return g.entries[key]
}

func (g *Guard) limitFor(key string) int {
	if l, ok := g.limits[key]; ok {
		return l
	}
	return g.limit
}

func (g *Guard) remaining(key string, e *entry) int {
	limit := g.limitFor(key)
	if limit <= 0 {
		return -1
	}
	plays := 0
	if e != nil {
		plays = e.plays
	}
	return max(0, limit-plays)
}

func (g *Guard) state(key string, e *entry) State {
	rem := g.remaining(key, e)
	return State{
		Resource:       key,
		Playing:        e.phase == phasePlaying,
		Plays:          e.plays,
		RemainingPlays: max(rem, 0),
		Unlimited:      rem < 0,
	}
}

// Normalize maps equivalent references of one resource to the same key:
// scheme and host are lower-cased, query and fragment (signed-URL tokens)
// are dropped, and the path is cleaned.
func Normalize(resource string) string {
	raw := strings.TrimSpace(resource)
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme == "" && u.Host == "") {
		return path.Clean("/" + strings.SplitN(raw, "?", 2)[0])
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + path.Clean(p)
}

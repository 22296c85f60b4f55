// Package teams maps free-form team references typed by a referee (a side
// keyword, a team id or a team name) onto one side of a fixture.
package teams

import (
	"strings"

	"github.com/charleschow/matchday/internal/core/match"
)

type Kind int

const (
	NotFound Kind = iota
	Resolved
	Ambiguous
)

func (k Kind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case Ambiguous:
		return "ambiguous"
	default:
		return "not_found"
	}
}

// Resolution is only meaningful for Side and TeamID when Kind is Resolved.
type Resolution struct {
	Kind   Kind
	Side   match.Side
	TeamID string
	// By names the rule that matched: side, id, name, alias or substring.
	By string
}

// Resolver is immutable and safe for concurrent use.
type Resolver struct {
	Home    match.Team
	Away    match.Team
	Aliases map[string]string
}

func NewResolver(home, away match.Team) *Resolver {
	return &Resolver{Home: home, Away: away, Aliases: DefaultAliases}
}

// Resolve tries each rule in order and stops at the first one that
// matches anything. A rule matching both teams is Ambiguous. There is no
// fallback side.
func (r *Resolver) Resolve(input string) Resolution {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return Resolution{Kind: NotFound}
	}

	switch strings.ToLower(raw) {
	case string(match.Home):
		return r.resolved(match.Home, "side")
	case string(match.Away):
		return r.resolved(match.Away, "side")
	}

	if res, ok := r.pick("id", func(t match.Team) bool { return t.ID != "" && t.ID == raw }); ok {
		return res
	}

	plain := Normalize(raw, nil)
	if res, ok := r.pick("name", func(t match.Team) bool { return plain != "" && Normalize(t.Name, nil) == plain }); ok {
		return res
	}

	aliased := Normalize(raw, r.Aliases)
	if aliased != plain {
		if res, ok := r.pick("alias", func(t match.Team) bool { return Normalize(t.Name, r.Aliases) == aliased }); ok {
			return res
		}
	}

	if len(plain) >= 3 {
		if res, ok := r.pick("substring", func(t match.Team) bool {
			name := Normalize(t.Name, nil)
			return name != "" && (strings.Contains(name, plain) || strings.Contains(plain, name))
		}); ok {
			return res
		}
	}
	return Resolution{Kind: NotFound}
}

func (r *Resolver) pick(by string, matches func(match.Team) bool) (Resolution, bool) {
	home, away := matches(r.Home), matches(r.Away)
	switch {
	case home && away:
		return Resolution{Kind: Ambiguous, By: by}, true
	case home:
		return r.resolved(match.Home, by), true
	case away:
		return r.resolved(match.Away, by), true
	}
	return Resolution{}, false
}

func (r *Resolver) resolved(side match.Side, by string) Resolution {
	t := r.Home
	if side == match.Away {
		t = r.Away
	}
	return Resolution{Kind: Resolved, Side: side, TeamID: t.ID, By: by}
}

package teams

import (
	"testing"

	"github.com/charleschow/matchday/internal/core/match"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"  Malmö   FF ", "malmo"},
		{"FC Barcelona", "barcelona"},
		{"Atlético-Madrid", "atletico madrid"},
		{"Brighton & Hove Albion", "brighton & hove albion"},
		{"FC", "fc"},
	}
	for _, tt := range tests {
		assertEq(t, Normalize(tt.in, nil), tt.want)
	}
	assertEq(t, Normalize("Man Utd", DefaultAliases), "manchester united")
}

func TestResolve(t *testing.T) {
	r := NewResolver(
		match.Team{ID: "t-1", Name: "Malmö FF"},
		match.Team{ID: "t-2", Name: "Manchester United"},
	)
	tests := []struct {
		in   string
		kind Kind
		side match.Side
		by   string
	}{
		{"home", Resolved, match.Home, "side"},
		{"AWAY", Resolved, match.Away, "side"},
		{"t-2", Resolved, match.Away, "id"},
		{"malmo ff", Resolved, match.Home, "name"},
		{"MALMÖ", Resolved, match.Home, "name"},
		{"man utd", Resolved, match.Away, "alias"},
		{"manchester", Resolved, match.Away, "substring"},
		{"Rovers", NotFound, "", ""},
		{"", NotFound, "", ""},
		{"ma", NotFound, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := r.Resolve(tt.in)
			assertEq(t, got.Kind, tt.kind)
			assertEq(t, got.Side, tt.side)
			assertEq(t, got.By, tt.by)
		})
	}
}

func TestResolveNeverDefaultsToHome(t *testing.T) {
	r := NewResolver(match.Team{ID: "h", Name: "Home Rangers"}, match.Team{ID: "a", Name: "Away Athletic"})
	got := r.Resolve("Celtic")
	assertEq(t, got.Kind, NotFound)
	assertEq(t, got.Side, match.Side(""))
	assertEq(t, got.TeamID, "")
}

func TestResolveAmbiguous(t *testing.T) {
	r := NewResolver(
		match.Team{ID: "h", Name: "Sporting United"},
		match.Team{ID: "a", Name: "Sporting City"},
	)
	got := r.Resolve("sporting")
	assertEq(t, got.Kind, Ambiguous)
	assertEq(t, got.By, "substring")

	same := NewResolver(match.Team{ID: "h", Name: "Rovers"}, match.Team{ID: "a", Name: "Rovers"})
	assertEq(t, same.Resolve("rovers").Kind, Ambiguous)
	assertEq(t, same.Resolve("h").Kind, Resolved)
}

func TestResolveWithoutTeamIdentity(t *testing.T) {
	r := NewResolver(match.Team{}, match.Team{})
	assertEq(t, r.Resolve("home").Kind, Resolved)
	assertEq(t, r.Resolve("home").TeamID, "")
	assertEq(t, r.Resolve("anything").Kind, NotFound)
}

func assertEq[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}

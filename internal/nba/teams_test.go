package nba

import "testing"

func TestCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"lakers", "Los Angeles Lakers"},
		{"  Sixers ", "Philadelphia 76ers"},
		{"trail blazers", "Portland Trail Blazers"},
		{"boston celtics", "Boston Celtics"},
		{"Los Angeles Clippers", "LA Clippers"},
		{"Seattle SuperSonics", "Seattle SuperSonics"},
	}
	for _, tt := range tests {
		if got := Canonical(tt.in); got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"Lakers", "Los Angeles Lakers", true},
		{"Los Angeles Lakers", "lakers", true},
		{"Celtics", "Boston Celtics", true},
		{"Boston", "Boston Celtics", true},
		{"Heat", "Miami Heat", true},
		{"Lakers", "LA Clippers", false},
		{"", "Miami Heat", false},
	}
	for _, tt := range tests {
		if got := Match(tt.a, tt.b); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTeamsComplete(t *testing.T) {
	teams := Teams()
	if len(teams) != 30 {
		t.Fatalf("got %d teams, want 30", len(teams))
	}
	for _, name := range teams {
		if !Known(name) {
			t.Errorf("%q not known", name)
		}
	}
}

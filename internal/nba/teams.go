// Package nba holds the NBA team tables shared by the odds and results
// adapters and the name matching used during settlement.
package nba

import (
	"sort"
	"strings"
)

// fullNames lists every franchise by the full name the results provider uses.
var fullNames = []string{
	"Atlanta Hawks",
	"Boston Celtics",
	"Brooklyn Nets",
	"Charlotte Hornets",
	"Chicago Bulls",
	"Cleveland Cavaliers",
	"Dallas Mavericks",
	"Denver Nuggets",
	"Detroit Pistons",
	"Golden State Warriors",
	"Houston Rockets",
	"Indiana Pacers",
	"LA Clippers",
	"Los Angeles Lakers",
	"Memphis Grizzlies",
	"Miami Heat",
	"Milwaukee Bucks",
	"Minnesota Timberwolves",
	"New Orleans Pelicans",
	"New York Knicks",
	"Oklahoma City Thunder",
	"Orlando Magic",
	"Philadelphia 76ers",
	"Phoenix Suns",
	"Portland Trail Blazers",
	"Sacramento Kings",
	"San Antonio Spurs",
	"Toronto Raptors",
	"Utah Jazz",
	"Washington Wizards",
}

// shortNames maps nicknames (lower case) to full names.
var shortNames = map[string]string{
	"hawks":         "Atlanta Hawks",
	"celtics":       "Boston Celtics",
	"nets":          "Brooklyn Nets",
	"hornets":       "Charlotte Hornets",
	"bulls":         "Chicago Bulls",
	"cavaliers":     "Cleveland Cavaliers",
	"cavs":          "Cleveland Cavaliers",
	"mavericks":     "Dallas Mavericks",
	"mavs":          "Dallas Mavericks",
	"nuggets":       "Denver Nuggets",
	"pistons":       "Detroit Pistons",
	"warriors":      "Golden State Warriors",
	"rockets":       "Houston Rockets",
	"pacers":        "Indiana Pacers",
	"clippers":      "LA Clippers",
	"lakers":        "Los Angeles Lakers",
	"grizzlies":     "Memphis Grizzlies",
	"heat":          "Miami Heat",
	"bucks":         "Milwaukee Bucks",
	"timberwolves":  "Minnesota Timberwolves",
	"wolves":        "Minnesota Timberwolves",
	"pelicans":      "New Orleans Pelicans",
	"knicks":        "New York Knicks",
	"thunder":       "Oklahoma City Thunder",
	"magic":         "Orlando Magic",
	"76ers":         "Philadelphia 76ers",
	"sixers":        "Philadelphia 76ers",
	"suns":          "Phoenix Suns",
	"trail blazers": "Portland Trail Blazers",
	"blazers":       "Portland Trail Blazers",
	"kings":         "Sacramento Kings",
	"spurs":         "San Antonio Spurs",
	"raptors":       "Toronto Raptors",
	"jazz":          "Utah Jazz",
	"wizards":       "Washington Wizards",
}

// aliases covers full-name spellings that differ between providers.
var aliases = map[string]string{
	"los angeles clippers": "LA Clippers",
}

// Teams returns the full names of all franchises in alphabetical order.
func Teams() []string {
	out := append([]string(nil), fullNames...)
	sort.Strings(out)
	return out
}

// Canonical maps a full name, alias or nickname to the canonical full name.
// Unknown names are returned trimmed and unchanged.
func Canonical(name string) string {
	n := strings.TrimSpace(name)
	key := strings.ToLower(n)
	if key == "" {
		return n
	}
	for _, full := range fullNames {
		if strings.EqualFold(full, n) {
			return full
		}
	}
	if full, ok := aliases[key]; ok {
		return full
	}
	if full, ok := shortNames[key]; ok {
		return full
	}
	return n
}

// Known reports whether name resolves to a franchise.
func Known(name string) bool {
	c := Canonical(name)
	for _, full := range fullNames {
		if full == c {
			return true
		}
	}
	return false
}

// Match reports whether two team references name the same team: after
// canonicalisation either one contains the other, ignoring case.
func Match(a, b string) bool {
	ca := strings.ToLower(Canonical(a))
	cb := strings.ToLower(Canonical(b))
	if ca == "" || cb == "" {
		return false
	}
	return strings.Contains(ca, cb) || strings.Contains(cb, ca)
}

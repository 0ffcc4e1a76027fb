package polymarket

import (
	"fmt"

	"github.com/Crime1000x/moltnba/internal/domain"
	"github.com/Crime1000x/moltnba/internal/nba"
)

// teamCodes holds the three-letter codes Polymarket uses in NBA event slugs.
var teamCodes = map[string]string{
	"Atlanta Hawks":          "atl",
	"Boston Celtics":         "bos",
	"Brooklyn Nets":          "bkn",
	"Charlotte Hornets":      "cha",
	"Chicago Bulls":          "chi",
	"Cleveland Cavaliers":    "cle",
	"Dallas Mavericks":       "dal",
	"Denver Nuggets":         "den",
	"Detroit Pistons":        "det",
	"Golden State Warriors":  "gsw",
	"Houston Rockets":        "hou",
	"Indiana Pacers":         "ind",
	"LA Clippers":            "lac",
	"Los Angeles Lakers":     "lal",
	"Memphis Grizzlies":      "mem",
	"Miami Heat":             "mia",
	"Milwaukee Bucks":        "mil",
	"Minnesota Timberwolves": "min",
	"New Orleans Pelicans":   "nop",
	"New York Knicks":        "nyk",
	"Oklahoma City Thunder":  "okc",
	"Orlando Magic":          "orl",
	"Philadelphia 76ers":     "phi",
	"Phoenix Suns":           "phx",
	"Portland Trail Blazers": "por",
	"Sacramento Kings":       "sac",
	"San Antonio Spurs":      "sas",
	"Toronto Raptors":        "tor",
	"Utah Jazz":              "uta",
	"Washington Wizards":     "was",
}

// TeamCode returns the slug code for a team name or nickname.
func TeamCode(team string) (string, bool) {
	code, ok := teamCodes[nba.Canonical(team)]
	return code, ok
}

// EventSlug builds the Gamma event slug for a game:
//
//	nba-{away}-{home}-{YYYY-MM-DD}
func EventSlug(away, home, date string) (string, error) {
	awayCode, ok := TeamCode(away)
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownTeam, away)
	}
	homeCode, ok := TeamCode(home)
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownTeam, home)
	}
	return fmt.Sprintf("nba-%s-%s-%s", awayCode, homeCode, date), nil
}

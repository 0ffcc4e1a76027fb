package balldontlie

import (
	"strconv"
	"strings"

	"github.com/Crime1000x/moltnba/internal/domain"
)

// APITeam is a team as embedded in a game response.
type APITeam struct {
	ID           int    `json:"id"`
	Abbreviation string `json:"abbreviation"`
	City         string `json:"city"`
	Name         string `json:"name"`
	FullName     string `json:"full_name"`
}

// APIGame is a game as returned by /games.
type APIGame struct {
	ID               int     `json:"id"`
	Date             string  `json:"date"`
	Datetime         string  `json:"datetime"`
	Season           int     `json:"season"`
	Status           string  `json:"status"`
	Period           int     `json:"period"`
	Time             string  `json:"time"`
	Postseason       bool    `json:"postseason"`
	HomeTeamScore    int     `json:"home_team_score"`
	VisitorTeamScore int     `json:"visitor_team_score"`
	HomeTeam         APITeam `json:"home_team"`
	VisitorTeam      APITeam `json:"visitor_team"`
}

type gamesResponse struct {
	Data []APIGame `json:"data"`
	Meta struct {
		NextCursor *int `json:"next_cursor"`
		PerPage    int  `json:"per_page"`
	} `json:"meta"`
}

type gameResponse struct {
	Data APIGame `json:"data"`
}

// canceledMarkers are status fragments that mean the game will never be
// completed. A postponed game is rescheduled, so it is not one of them.
var canceledMarkers = []string{"canceled", "cancelled", "abandoned", "void"}

// IsFinalStatus reports whether a game result can settle a market: the status
// says final and the score is not 0-0.
func IsFinalStatus(status string, home, away int) bool {
	if !strings.Contains(strings.ToLower(status), "final") {
		return false
	}
	return home != 0 || away != 0
}

// IsCanceledStatus reports whether the status marks the game canceled,
// abandoned or void.
func IsCanceledStatus(status string) bool {
	s := strings.ToLower(status)
	for _, m := range canceledMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// ToDomain converts an APIGame to a domain.GameResult.
func (g *APIGame) ToDomain() domain.GameResult {
	date := g.Date
	if len(date) > 10 {
		date = date[:10]
	}
	return domain.GameResult{
		GameID:     strconv.Itoa(g.ID),
		Date:       date,
		HomeTeam:   g.HomeTeam.FullName,
		AwayTeam:   g.VisitorTeam.FullName,
		HomeTeamID: strconv.Itoa(g.HomeTeam.ID),
		AwayTeamID: strconv.Itoa(g.VisitorTeam.ID),
		HomeScore:  g.HomeTeamScore,
		AwayScore:  g.VisitorTeamScore,
		Status:     g.Status,
		IsFinal:    IsFinalStatus(g.Status, g.HomeTeamScore, g.VisitorTeamScore),
		IsCanceled: IsCanceledStatus(g.Status),
	}
}

// Package balldontlie is the results provider adapter backed by the
// BallDontLie NBA API.
package balldontlie

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/Crime1000x/moltnba/internal/domain"
	"github.com/Crime1000x/moltnba/internal/nba"
)

// maxPages bounds cursor pagination for a single date.
const maxPages = 5

// Client is the REST client for the BallDontLie API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a BallDontLie client.
//
// baseURL is the API root including the league prefix, e.g.
// "https://api.balldontlie.io/nba/v1". Requests are throttled to
// requestsPerMinute.
func NewClient(baseURL, apiKey string, requestsPerMinute int, timeout time.Duration) *Client {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
	}
}

// ListGames returns every game scheduled on date (YYYY-MM-DD).
func (c *Client) ListGames(ctx context.Context, date string) ([]domain.GameResult, error) {
	var out []domain.GameResult
	cursor := ""
	for page := 0; page < maxPages; page++ {
		params := url.Values{}
		params.Add("dates[]", date)
		params.Set("per_page", "100")
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		body, err := c.doGet(ctx, "/games?"+params.Encode())
		if err != nil {
			return nil, fmt.Errorf("balldontlie: list games %s: %w", date, err)
		}

		var resp gamesResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("balldontlie: decode games: %w", err)
		}
		for i := range resp.Data {
			out = append(out, resp.Data[i].ToDomain())
		}

		if resp.Meta.NextCursor == nil {
			break
		}
		cursor = strconv.Itoa(*resp.Meta.NextCursor)
	}
	return out, nil
}

// GetGame returns one game by provider id.
func (c *Client) GetGame(ctx context.Context, id string) (*domain.GameResult, error) {
	body, err := c.doGet(ctx, "/games/"+url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("balldontlie: get game %s: %w", id, err)
	}

	var resp gameResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("balldontlie: decode game %s: %w", id, err)
	}
	if resp.Data.ID == 0 {
		return nil, fmt.Errorf("balldontlie: game %s: %w", id, domain.ErrNotFound)
	}
	g := resp.Data.ToDomain()
	return &g, nil
}

// GetFinalResult finds the game between teamA and teamB on date, in either
// home/away order. The result is returned whatever its status; callers check
// IsFinal and IsCanceled. domain.ErrNotFound is returned when no game matches.
func (c *Client) GetFinalResult(ctx context.Context, date, teamA, teamB string) (*domain.GameResult, error) {
	games, err := c.ListGames(ctx, date)
	if err != nil {
		return nil, err
	}
	for i := range games {
		g := games[i]
		if (nba.Match(g.HomeTeam, teamA) && nba.Match(g.AwayTeam, teamB)) ||
			(nba.Match(g.HomeTeam, teamB) && nba.Match(g.AwayTeam, teamA)) {
			return &g, nil
		}
	}
	return nil, fmt.Errorf("balldontlie: %s vs %s on %s: %w", teamA, teamB, date, domain.ErrNotFound)
}

// doGet sends a throttled GET with the API key in the Authorization header.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, domain.ErrUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.ErrRateLimited
	default:
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(body, 256))
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}

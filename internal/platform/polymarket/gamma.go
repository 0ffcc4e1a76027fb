// Package polymarket adapts the Polymarket Gamma REST API and the CLOB market
// WebSocket as odds sources for NBA games.
package polymarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/Crime1000x/moltnba/internal/domain"
	"github.com/Crime1000x/moltnba/internal/nba"
)

const dateLayout = "2006-01-02"

// GammaClient is the REST client for the Polymarket Gamma API.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewGammaClient creates a Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
// Requests are throttled to rps per second.
func NewGammaClient(baseURL string, rps float64, timeout time.Duration) *GammaClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if rps <= 0 {
		rps = 5
	}
	return &GammaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// GetEventBySlug returns the event with the given slug, or domain.ErrNotFound.
func (g *GammaClient) GetEventBySlug(ctx context.Context, slug string) (APIEvent, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/events?"+params.Encode())
	if err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: get event %s: %w", slug, err)
	}

	var events []APIEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: decode events: %w", err)
	}
	if len(events) == 0 {
		return APIEvent{}, fmt.Errorf("polymarket/gamma: %w: slug=%s", domain.ErrNotFound, slug)
	}
	return events[0], nil
}

// GetQuote returns the moneyline probabilities for home vs away on date
// (YYYY-MM-DD). Because event slugs are dated in US time, a miss on date is
// retried for the previous and then the following day. It returns
// domain.ErrNoQuote when no event exists on any of them.
func (g *GammaClient) GetQuote(ctx context.Context, home, away, date string) (*domain.Quote, error) {
	day, err := time.Parse(dateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: quote date %q: %w", date, err)
	}

	var lastErr error
	for _, d := range []time.Time{day, day.AddDate(0, 0, -1), day.AddDate(0, 0, 1)} {
		ds := d.Format(dateLayout)
		slug, err := EventSlug(away, home, ds)
		if err != nil {
			return nil, fmt.Errorf("polymarket/gamma: quote: %w", err)
		}

		ev, err := g.GetEventBySlug(ctx, slug)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNotFound):
			continue
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			lastErr = err
			continue
		}

		q, ok := quoteFromEvent(ev)
		if !ok {
			continue
		}
		q.Slug = slug
		q.Date = ds
		return q, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("polymarket/gamma: %s @ %s on %s: %w",
		nba.Canonical(away), nba.Canonical(home), date, domain.ErrNoQuote)
}

// quoteFromEvent picks the moneyline market of an event, falling back to its
// first market. The Yes price is the away team winning.
func quoteFromEvent(ev APIEvent) (*domain.Quote, bool) {
	if len(ev.Markets) == 0 {
		return nil, false
	}
	m := &ev.Markets[0]
	for i := range ev.Markets {
		if ev.Markets[i].isMoneyline() {
			m = &ev.Markets[i]
			break
		}
	}

	yes, no := m.prices()
	return &domain.Quote{
		AwayProb:  yes,
		HomeProb:  no,
		MarketRef: m.ID,
		TokenIDs:  append([]string(nil), m.ClobTokenIDs...),
		Volume:    m.volume(),
	}, true
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends a throttled, unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx responses to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	if len(bodyStr) > 256 {
		bodyStr = bodyStr[:256]
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

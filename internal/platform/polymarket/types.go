package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat accepts a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	n, _ = strconv.ParseFloat(strings.TrimSpace(s), 64)
	*f = flexFloat(n)
	return nil
}

// flexStringList accepts either a JSON array or a string holding a
// JSON-encoded array, as Gamma sends outcomePrices and clobTokenIds.
// Anything unparseable decodes to an empty list rather than failing the
// whole response.
type flexStringList []string

func (l *flexStringList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		data = []byte(s)
	}
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		*l = nil
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		switch t := v.(type) {
		case string:
			out = append(out, t)
		case float64:
			out = append(out, strconv.FormatFloat(t, 'f', -1, 64))
		}
	}
	*l = out
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIEvent is an event as returned by GET /events.
type APIEvent struct {
	ID      string      `json:"id"`
	Title   string      `json:"title"`
	Slug    string      `json:"slug"`
	Active  flexBool    `json:"active"`
	Closed  bool        `json:"closed"`
	Markets []APIMarket `json:"markets"`
}

// APIMarket is one market inside an event.
type APIMarket struct {
	ID            string         `json:"id"`
	Question      string         `json:"question"`
	Slug          string         `json:"slug"`
	Active        flexBool       `json:"active"`
	Closed        bool           `json:"closed"`
	Outcomes      flexStringList `json:"outcomes"`
	OutcomePrices flexStringList `json:"outcomePrices"`
	ClobTokenIDs  flexStringList `json:"clobTokenIds"`
	VolumeNum     flexFloat      `json:"volumeNum"`
	Volume        flexFloat      `json:"volume"`
}

// isMoneyline reports whether the market is the straight winner market of a
// game rather than a spread, total or player prop.
func (m *APIMarket) isMoneyline() bool {
	q := strings.ToLower(m.Question)
	if !strings.Contains(q, " vs ") && !strings.Contains(q, " vs. ") {
		return false
	}
	for _, excl := range []string{"over", "under", "spread", "o/u", ":"} {
		if strings.Contains(q, excl) {
			return false
		}
	}
	return true
}

// prices returns the Yes and No prices, falling back to 0.5/0.5 when the
// market carries no usable prices.
func (m *APIMarket) prices() (yes, no float64) {
	if len(m.OutcomePrices) < 2 {
		return 0.5, 0.5
	}
	y, errY := strconv.ParseFloat(m.OutcomePrices[0], 64)
	n, errN := strconv.ParseFloat(m.OutcomePrices[1], 64)
	if errY != nil || errN != nil {
		return 0.5, 0.5
	}
	return y, n
}

// volume prefers volumeNum and falls back to the string volume field.
func (m *APIMarket) volume() float64 {
	if m.VolumeNum != 0 {
		return float64(m.VolumeNum)
	}
	return float64(m.Volume)
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// wsCommand is the JSON payload sent to subscribe or unsubscribe assets.
type wsCommand struct {
	Type    string   `json:"type"` // "subscribe" or "unsubscribe"
	Channel string   `json:"channel"`
	Assets  []string `json:"assets_ids"`
}

// wsMessage is one market-channel frame. price_change frames either carry a
// single asset at the top level or a price_changes batch.
type wsMessage struct {
	EventType    string          `json:"event_type"`
	AssetID      string          `json:"asset_id"`
	Market       string          `json:"market"`
	Price        string          `json:"price"`
	Timestamp    string          `json:"timestamp"`
	PriceChanges []wsPriceChange `json:"price_changes"`
}

type wsPriceChange struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Side    string `json:"side"`
	Size    string `json:"size"`
}

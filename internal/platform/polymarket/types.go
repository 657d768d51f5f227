package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false").
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

// encodedList is a JSON array that Gamma ships as a JSON-encoded string,
// e.g. "[\"Yes\",\"No\"]". A bare array is accepted too.
type encodedList []string

func (l *encodedList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = arr
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*l = nil
		return nil
	}
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return err
	}
	*l = arr
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success      bool     `json:"success"`
	ErrorMsg     string   `json:"errorMsg,omitempty"`
	Error        string   `json:"error,omitempty"`
	OrderID      string   `json:"orderID,omitempty"`
	Status       string   `json:"status,omitempty"`
	MakingAmount string   `json:"makingAmount,omitempty"`
	TakingAmount string   `json:"takingAmount,omitempty"`
	TxHashes     []string `json:"transactionsHashes,omitempty"`
}

// message returns whichever error field the CLOB populated.
func (r *APIOrderResult) message() string {
	if r.ErrorMsg != "" {
		return r.ErrorMsg
	}
	return r.Error
}

// APIBook is the REST /book response.
type APIBook struct {
	Market    string         `json:"market"`
	AssetID   string         `json:"asset_id"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
	TickSize  string         `json:"tick_size"`
	NegRisk   bool           `json:"neg_risk"`
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket is the subset of a Gamma market the engine consumes.
type APIMarket struct {
	ID            string      `json:"id"`
	Question      string      `json:"question"`
	ConditionID   string      `json:"conditionId"`
	Slug          string      `json:"slug"`
	Active        flexBool    `json:"active"`
	Closed        flexBool    `json:"closed"`
	NegRisk       flexBool    `json:"negRisk"`
	Outcomes      encodedList `json:"outcomes"`
	OutcomePrices encodedList `json:"outcomePrices"`
	ClobTokenIDs  encodedList `json:"clobTokenIds"`
}

// Market is a resolved Gamma market with parsed outcome arrays.
type Market struct {
	ConditionID   string
	Question      string
	Slug          string
	Closed        bool
	NegRisk       bool
	Outcomes      []string
	OutcomePrices []float64
	TokenIDs      []string
}

// Descriptor converts to the domain market descriptor.
func (m Market) Descriptor() domain.MarketDescriptor {
	return domain.MarketDescriptor{
		ConditionID: m.ConditionID,
		Title:       m.Question,
		Slug:        m.Slug,
		NegRisk:     m.NegRisk,
	}
}

// TokenIndex returns the outcome index of tokenID, or -1.
func (m Market) TokenIndex(tokenID string) int {
	for i, t := range m.TokenIDs {
		if t == tokenID {
			return i
		}
	}
	return -1
}

func (a *APIMarket) toMarket() Market {
	m := Market{
		ConditionID: a.ConditionID,
		Question:    a.Question,
		Slug:        a.Slug,
		Closed:      bool(a.Closed),
		NegRisk:     bool(a.NegRisk),
		Outcomes:    []string(a.Outcomes),
		TokenIDs:    []string(a.ClobTokenIDs),
	}
	for _, p := range a.OutcomePrices {
		f, _ := strconv.ParseFloat(p, 64)
		m.OutcomePrices = append(m.OutcomePrices, f)
	}
	return m
}

// --------------------------------------------------------------------------
// Data API DTOs
// --------------------------------------------------------------------------

// APIActivity is one row of the Data API /activity feed.
type APIActivity struct {
	ProxyWallet     string      `json:"proxyWallet"`
	Timestamp       json.Number `json:"timestamp"`
	ConditionID     string      `json:"conditionId"`
	Type            string      `json:"type"`
	Size            json.Number `json:"size"`
	UsdcSize        json.Number `json:"usdcSize"`
	TransactionHash string      `json:"transactionHash"`
	Price           json.Number `json:"price"`
	Asset           string      `json:"asset"`
	Side            string      `json:"side"`
	OutcomeIndex    int         `json:"outcomeIndex"`
	Title           string      `json:"title"`
	Slug            string      `json:"slug"`
	Outcome         string      `json:"outcome"`
}

// EventID is the stable dedup key of an activity row. One transaction can
// fill several assets, so the hash alone is not unique.
func (a *APIActivity) EventID() string {
	return a.TransactionHash + ":" + a.Asset + ":" + strings.ToUpper(a.Side)
}

// ToTradeEvent converts the row. ok is false for rows that are not trades.
func (a *APIActivity) ToTradeEvent() (domain.TradeEvent, bool) {
	if !strings.EqualFold(a.Type, "TRADE") {
		return domain.TradeEvent{}, false
	}
	side, ok := domain.ParseSide(a.Side)
	if !ok || a.Asset == "" {
		return domain.TradeEvent{}, false
	}
	price, _ := a.Price.Float64()
	size, _ := a.Size.Float64()
	usdc, _ := a.UsdcSize.Float64()
	if usdc == 0 {
		usdc = price * size
	}
	return domain.TradeEvent{
		ID:           a.EventID(),
		Side:         side,
		InstrumentID: a.Asset,
		Market: domain.MarketDescriptor{
			ConditionID: a.ConditionID,
			Title:       a.Title,
			Slug:        a.Slug,
		},
		Outcome:       a.Outcome,
		OutcomeIndex:  a.OutcomeIndex,
		Price:         price,
		Size:          size,
		Notional:      usdc,
		Timestamp:     parseTimestamp(a.Timestamp.String()),
		OrderTypeHint: domain.OrderTypeFOK,
	}, true
}

// APIPosition is one row of the Data API /positions endpoint.
type APIPosition struct {
	ProxyWallet  string   `json:"proxyWallet"`
	Asset        string   `json:"asset"`
	ConditionID  string   `json:"conditionId"`
	Size         float64  `json:"size"`
	AvgPrice     float64  `json:"avgPrice"`
	InitialValue float64  `json:"initialValue"`
	CurrentValue float64  `json:"currentValue"`
	CurPrice     float64  `json:"curPrice"`
	Title        string   `json:"title"`
	Slug         string   `json:"slug"`
	Outcome      string   `json:"outcome"`
	OutcomeIndex int      `json:"outcomeIndex"`
	NegativeRisk flexBool `json:"negativeRisk"`
}

// ToDomain converts a venue position row.
func (p *APIPosition) ToDomain() domain.Position {
	entry := p.InitialValue
	if entry == 0 {
		entry = p.Size * p.AvgPrice
	}
	return domain.Position{
		InstrumentID: p.Asset,
		Market: domain.MarketDescriptor{
			ConditionID: p.ConditionID,
			Title:       p.Title,
			Slug:        p.Slug,
			NegRisk:     bool(p.NegativeRisk),
		},
		Outcome:    p.Outcome,
		Shares:     p.Size,
		AvgPrice:   p.AvgPrice,
		EntryValue: entry,
	}
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// BookMessage represents a full orderbook snapshot delivered over WebSocket.
type BookMessage struct {
	EventType string         `json:"event_type"`
	AssetID   string         `json:"asset_id"`
	Market    string         `json:"market"`
	Bids      []WSPriceLevel `json:"bids"`
	Asks      []WSPriceLevel `json:"asks"`
	Timestamp string         `json:"timestamp"`
	Hash      string         `json:"hash"`
}

// WSPriceLevel is a single bid/ask level.
type WSPriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// PriceChangeMessage carries level updates. Newer frames nest one entry per
// asset under price_changes; older ones put asset_id at the top level with
// the levels under changes.
type PriceChangeMessage struct {
	EventType    string            `json:"event_type"`
	AssetID      string            `json:"asset_id"`
	Market       string            `json:"market"`
	Changes      []PriceChangeItem `json:"changes"`
	PriceChanges []PriceChangeItem `json:"price_changes"`
	Timestamp    string            `json:"timestamp"`
}

// PriceChangeItem is one level update.
type PriceChangeItem struct {
	AssetID string `json:"asset_id"`
	Price   string `json:"price"`
	Size    string `json:"size"` // "0" removes the level
	Side    string `json:"side"` // BUY updates bids, SELL updates asks
	BestBid string `json:"best_bid"`
	BestAsk string `json:"best_ask"`
}

// LastTradeMessage is the most recent trade print for an asset.
type LastTradeMessage struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"`
}

// LevelChange is a parsed PriceChangeItem.
type LevelChange struct {
	InstrumentID string
	Side         domain.OrderSide
	Price        float64
	Size         float64
	Timestamp    time.Time
}

// marketSubscribe is the initial market channel subscription.
type marketSubscribe struct {
	AssetsIDs []string `json:"assets_ids"`
	Type      string   `json:"type"`
}

// marketOperation adds or removes assets on a live connection.
type marketOperation struct {
	AssetsIDs []string `json:"assets_ids"`
	Operation string   `json:"operation"`
}

// --------------------------------------------------------------------------
// Conversion helpers
// --------------------------------------------------------------------------

func parseLevels(in []WSPriceLevel) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(in))
	for _, lvl := range in {
		p, err1 := strconv.ParseFloat(lvl.Price, 64)
		s, err2 := strconv.ParseFloat(lvl.Size, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: p, Size: s})
	}
	return out
}

// BookToDomainSnapshot converts a BookMessage to a domain.OrderbookSnapshot.
func BookToDomainSnapshot(b *BookMessage) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{
		InstrumentID: b.AssetID,
		Bids:         parseLevels(b.Bids),
		Asks:         parseLevels(b.Asks),
		Timestamp:    parseTimestamp(b.Timestamp),
	}
}

// ToSnapshot converts the REST book. The capture time is now, since the
// server timestamp reflects the last book change rather than the read.
func (b *APIBook) ToSnapshot(now time.Time) domain.OrderbookSnapshot {
	return domain.OrderbookSnapshot{
		InstrumentID: b.AssetID,
		Bids:         parseLevels(b.Bids),
		Asks:         parseLevels(b.Asks),
		Timestamp:    now,
	}
}

// LevelChanges flattens both price_change layouts.
func (p *PriceChangeMessage) LevelChanges() []LevelChange {
	ts := parseTimestamp(p.Timestamp)
	items := p.PriceChanges
	if len(items) == 0 {
		items = p.Changes
	}
	out := make([]LevelChange, 0, len(items))
	for _, it := range items {
		asset := it.AssetID
		if asset == "" {
			asset = p.AssetID
		}
		side, ok := domain.ParseSide(it.Side)
		if !ok || asset == "" {
			continue
		}
		price, err := strconv.ParseFloat(it.Price, 64)
		if err != nil {
			continue
		}
		size, _ := strconv.ParseFloat(it.Size, 64)
		out = append(out, LevelChange{InstrumentID: asset, Side: side, Price: price, Size: size, Timestamp: ts})
	}
	return out
}

// ToTick converts a last-trade print into a price tick.
func (m *LastTradeMessage) ToTick() (domain.PriceTick, bool) {
	p, err := strconv.ParseFloat(m.Price, 64)
	if err != nil || m.AssetID == "" {
		return domain.PriceTick{}, false
	}
	return domain.PriceTick{InstrumentID: m.AssetID, Price: p, Timestamp: parseTimestamp(m.Timestamp)}, true
}

// parseTimestamp accepts unix seconds, unix milliseconds or RFC3339.
func parseTimestamp(s string) time.Time {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1_000_000_000_000 {
			return time.UnixMilli(n)
		}
		return time.Unix(n, 0)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Now()
}

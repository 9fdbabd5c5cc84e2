package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"offerwatch/internal/model"
)

// Bisq reads offer books and trades from the Bisq markets API.
type Bisq struct {
	opts    HTTPOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewBisq constructs an offer feed client.
func NewBisq(opts HTTPOptions, logger zerolog.Logger) *Bisq {
	return &Bisq{
		opts:    opts,
		logger:  logger.With().Str("component", "offer_feed").Logger(),
		client:  newHTTPClient(opts.Timeout),
		baseURL: baseURLOr(opts.BaseURL, "https://markets.bisq.network/api"),
	}
}

// FetchBook returns the sell and buy offers of a market. Offers with malformed fields are skipped.
func (b *Bisq) FetchBook(ctx context.Context, marketID string) (model.Book, error) {
	marketID = strings.ToLower(marketID)
	endpoint := fmt.Sprintf("%s/offers?market=%s", b.baseURL, url.QueryEscape(marketID))

	payload, err := getJSON(ctx, b.client, endpoint, b.opts.UserAgent, nil)
	if err != nil {
		return model.Book{}, fmt.Errorf("%w: %s: %v", ErrFeedUnavailable, marketID, err)
	}

	var res map[string]bookResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return model.Book{}, fmt.Errorf("%w: %s: decode: %v", ErrFeedUnavailable, marketID, err)
	}
	raw, ok := res[marketID]
	if !ok {
		return model.Book{}, fmt.Errorf("%w: %s: market missing from payload", ErrFeedUnavailable, marketID)
	}

	book := model.Book{
		Sells: b.parseOffers(marketID, model.SideSell, raw.Sells),
		Buys:  b.parseOffers(marketID, model.SideBuy, raw.Buys),
	}
	return book, nil
}

func (b *Bisq) parseOffers(marketID string, side model.Side, raw []json.RawMessage) []model.Offer {
	offers := make([]model.Offer, 0, len(raw))
	for _, item := range raw {
		offer, err := parseOffer(item)
		if err != nil {
			b.logger.Warn().Err(err).Str("market", marketID).Str("side", string(side)).Msg("skipping malformed offer")
			continue
		}
		offers = append(offers, offer)
	}
	return offers
}

func parseOffer(raw json.RawMessage) (model.Offer, error) {
	var o offerResponse
	if err := json.Unmarshal(raw, &o); err != nil {
		return model.Offer{}, err
	}
	if o.ID == "" {
		return model.Offer{}, fmt.Errorf("offer without id")
	}
	if !o.Price.IsPositive() {
		return model.Offer{}, fmt.Errorf("offer %s: price must be positive", o.ID)
	}
	if strings.TrimSpace(o.PaymentMethod) == "" {
		return model.Offer{}, fmt.Errorf("offer %s: missing payment_method", o.ID)
	}
	for _, f := range []struct {
		name  string
		value *decimal.Decimal
	}{{"min_amount", o.MinAmount}, {"amount", o.Amount}, {"volume", o.Volume}} {
		if f.value == nil {
			return model.Offer{}, fmt.Errorf("offer %s: missing %s", o.ID, f.name)
		}
		if f.value.IsNegative() {
			return model.Offer{}, fmt.Errorf("offer %s: %s must not be negative", o.ID, f.name)
		}
	}

	offer := model.Offer{
		ID:            o.ID,
		Price:         o.Price.InexactFloat64(),
		MinAmount:     o.MinAmount.InexactFloat64(),
		Amount:        o.Amount.InexactFloat64(),
		Volume:        o.Volume.InexactFloat64(),
		PaymentMethod: o.PaymentMethod,
	}
	if o.Date > 0 {
		offer.CreatedAt = time.UnixMilli(o.Date).UTC()
	}
	return offer, nil
}

// FetchLastTrade returns the most recent trade; a market without trades yields Found=false.
func (b *Bisq) FetchLastTrade(ctx context.Context, marketID string) (model.LastTrade, error) {
	marketID = strings.ToLower(marketID)
	endpoint := fmt.Sprintf("%s/trades?market=%s&limit=1", b.baseURL, url.QueryEscape(marketID))

	payload, err := getJSON(ctx, b.client, endpoint, b.opts.UserAgent, nil)
	if err != nil {
		return model.LastTrade{}, fmt.Errorf("fetch last trade %s: %w", marketID, err)
	}

	var trades []tradeResponse
	if err := json.Unmarshal(payload, &trades); err != nil {
		return model.LastTrade{}, fmt.Errorf("decode trades %s: %w", marketID, err)
	}
	if len(trades) == 0 {
		return model.LastTrade{}, nil
	}

	t := trades[0]
	return model.LastTrade{
		Found:         true,
		TradeID:       t.ID,
		Price:         t.Price.InexactFloat64(),
		Amount:        t.Amount.InexactFloat64(),
		PaymentMethod: t.PaymentMethod,
		ExecutedAt:    time.UnixMilli(t.Date).UTC(),
	}, nil
}

type bookResponse struct {
	Buys  []json.RawMessage `json:"buys"`
	Sells []json.RawMessage `json:"sells"`
}

type offerResponse struct {
	ID            string          `json:"offer_id"`
	Date          int64           `json:"offer_date"`
	Direction     string          `json:"direction"`
	MinAmount     *decimal.Decimal `json:"min_amount"`
	Amount        *decimal.Decimal `json:"amount"`
	Price         decimal.Decimal  `json:"price"`
	Volume        *decimal.Decimal `json:"volume"`
	PaymentMethod string           `json:"payment_method"`
}

type tradeResponse struct {
	ID            string          `json:"trade_id"`
	Date          int64           `json:"trade_date"`
	Price         decimal.Decimal `json:"price"`
	Amount        decimal.Decimal `json:"amount"`
	Volume        decimal.Decimal `json:"volume"`
	PaymentMethod string          `json:"payment_method"`
}

var _ OfferFeed = (*Bisq)(nil)

package model

import (
	"strings"
	"time"
)

// PaymentMethodBlockchains marks altcoin offers settled on-chain.
const PaymentMethodBlockchains = "BLOCK_CHAINS"

// Side tells which list of the book an offer came from.
type Side string

const (
	SideSell Side = "sell"
	SideBuy  Side = "buy"
)

// Market is a trading pair resolved for one run.
type Market struct {
	ID         string
	Title      string
	Base       string
	Quote      string
	Price      float64
	Multiplier float64
}

// QuotedInBTC reports whether offer prices are denominated in bitcoin instead of fiat.
func (m Market) QuotedInBTC() bool {
	return strings.EqualFold(m.Quote, "btc")
}

// ReferencePair is the quote pair giving the market's reference price.
func (m Market) ReferencePair() Pair {
	if m.QuotedInBTC() {
		return Pair{From: m.Base, To: "usd"}
	}
	return Pair{From: m.Base, To: m.Quote}
}

// MultiplierPair returns the pair converting offer prices to USD, if one is needed.
func (m Market) MultiplierPair() (Pair, bool) {
	if !m.QuotedInBTC() {
		return Pair{}, false
	}
	return Pair{From: "btc", To: "usd"}, true
}

// ParseMarketID splits "ltc_btc" into its base and quote symbols.
func ParseMarketID(id string) (base, quote string, ok bool) {
	base, quote, ok = strings.Cut(strings.ToLower(strings.TrimSpace(id)), "_")
	if !ok || base == "" || quote == "" {
		return "", "", false
	}
	return base, quote, true
}

// Pair is a from/to currency pair used for quotes.
type Pair struct {
	From string
	To   string
}

// Key returns the lower-case "from_to" form.
func (p Pair) Key() string {
	return strings.ToLower(p.From) + "_" + strings.ToLower(p.To)
}

// Offer is one entry of the offer book.
type Offer struct {
	ID            string
	Price         float64
	MinAmount     float64
	Amount        float64
	Volume        float64
	PaymentMethod string
	CreatedAt     time.Time
}

// ShortID is the offer ID prefix before the first dash.
func (o Offer) ShortID() string {
	short, _, _ := strings.Cut(o.ID, "-")
	return short
}

// OnChain reports whether the offer is settled by blockchain transfer.
func (o Offer) OnChain() bool {
	return o.PaymentMethod == PaymentMethodBlockchains
}

// Book holds both sides of a market's offer book.
type Book struct {
	Sells []Offer
	Buys  []Offer
}

// LastTrade is the most recent executed trade of a market. Found is false when none exists.
type LastTrade struct {
	Found         bool
	TradeID       string
	Price         float64
	Amount        float64
	PaymentMethod string
	ExecutedAt    time.Time
}

// Range is a min/max pair of amounts.
type Range struct {
	Low  float64
	High float64
}

// Single reports whether both bounds are equal.
func (r Range) Single() bool {
	return r.Low == r.High
}

// EvaluatedOffer is an offer that qualified for one threshold pass.
type EvaluatedOffer struct {
	Offer       Offer
	Side        Side
	Distance    float64
	OnChain     bool
	Volume      float64
	MakerFee    Range
	TakerFee    Range
	PriceForOne float64
	Maximum     float64
	Currency    string
	Age         time.Duration
}

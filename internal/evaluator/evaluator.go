package evaluator

import (
	"strings"
	"time"

	"offerwatch/internal/fees"
	"offerwatch/internal/model"
)

const usd = "USD"

// Options tune offer filtering.
type Options struct {
	IgnoredPaymentMethods []string
	// MinSaleValues maps a display currency to the smallest maximum worth reporting.
	MinSaleValues map[string]float64
	Now           func() time.Time
}

// Evaluator scores single offers against a market reference price.
type Evaluator struct {
	fees    fees.Estimator
	ignored map[string]struct{}
	minSale map[string]float64
	now     func() time.Time
}

// New constructs an Evaluator.
func New(estimator fees.Estimator, opts Options) *Evaluator {
	ignored := make(map[string]struct{}, len(opts.IgnoredPaymentMethods))
	for _, method := range opts.IgnoredPaymentMethods {
		ignored[strings.ToUpper(strings.TrimSpace(method))] = struct{}{}
	}
	minSale := make(map[string]float64, len(opts.MinSaleValues))
	for currency, value := range opts.MinSaleValues {
		minSale[strings.ToUpper(currency)] = value
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Evaluator{fees: estimator, ignored: ignored, minSale: minSale, now: now}
}

// Distance returns the side-adjusted percentage deviation of the offer from the reference price.
// Lower values are better for the counter-party on both sides.
func Distance(offer model.Offer, market model.Market, side model.Side) float64 {
	signed := offer.Price * market.Multiplier
	distance := (signed - market.Price) / market.Price * 100
	if side == model.SideBuy {
		distance = -distance
	}
	return distance
}

// Evaluate returns the offer's report data, or false when it does not qualify at maxDistance.
func (e *Evaluator) Evaluate(offer model.Offer, market model.Market, maxDistance float64, side model.Side) (model.EvaluatedOffer, bool) {
	if market.Price <= 0 || market.Multiplier <= 0 {
		return model.EvaluatedOffer{}, false
	}

	distance := Distance(offer, market, side)
	if distance > maxDistance {
		return model.EvaluatedOffer{}, false
	}
	if _, skip := e.ignored[strings.ToUpper(offer.PaymentMethod)]; skip {
		return model.EvaluatedOffer{}, false
	}

	result := model.EvaluatedOffer{
		Offer:    offer,
		Side:     side,
		Distance: distance,
		OnChain:  offer.OnChain(),
	}

	if result.OnChain {
		result.Volume = offer.Volume
		result.PriceForOne = offer.Price * market.Multiplier
		result.Maximum = market.Multiplier * offer.Volume
		result.Currency = usd
	} else {
		result.Volume = offer.Amount
		result.PriceForOne = offer.Price
		result.Maximum = offer.Price * offer.Amount
		result.Currency = strings.ToUpper(market.Quote)
	}

	if minimum, ok := e.minSale[result.Currency]; ok && result.Maximum < minimum {
		return model.EvaluatedOffer{}, false
	}

	absDistance := distance
	if absDistance < 0 {
		absDistance = -absDistance
	}
	minMaker, minTaker := e.fees.Estimate(offer.MinAmount, absDistance)
	maxMaker, maxTaker := e.fees.Estimate(result.Volume, absDistance)
	result.MakerFee = model.Range{Low: minMaker, High: maxMaker}
	result.TakerFee = model.Range{Low: minTaker, High: maxTaker}

	if !offer.CreatedAt.IsZero() {
		result.Age = e.now().Sub(offer.CreatedAt)
	}

	return result, true
}

// Package oracle resolves reference prices and multipliers for markets from ordered quote sources.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"offerwatch/internal/fetcher"
	"offerwatch/internal/model"
)

// ErrQuoteUnavailable indicates no source could price a pair.
var ErrQuoteUnavailable = errors.New("quote unavailable")

// Oracle caches quotes for the lifetime of one run. It is not safe for concurrent use.
type Oracle struct {
	sources []fetcher.QuoteSource
	logger  zerolog.Logger

	prices   map[string]float64
	failures map[string]error
	order    []model.Quote
}

// New constructs an Oracle trying sources in the given order.
func New(sources []fetcher.QuoteSource, logger zerolog.Logger) *Oracle {
	return &Oracle{
		sources:  sources,
		logger:   logger.With().Str("component", "oracle").Logger(),
		prices:   make(map[string]float64),
		failures: make(map[string]error),
	}
}

// Quote returns the price of pair.From in pair.To. Results, including failures, are cached.
func (o *Oracle) Quote(ctx context.Context, pair model.Pair) (float64, error) {
	key := pair.Key()
	if price, ok := o.prices[key]; ok {
		return price, nil
	}
	if err, ok := o.failures[key]; ok {
		return 0, err
	}

	var errs []error
	for _, src := range o.sources {
		price, err := src.FetchQuote(ctx, pair)
		if err != nil {
			if !errors.Is(err, fetcher.ErrPairNotSupported) {
				o.logger.Debug().Err(err).Str("source", src.Name()).Str("pair", key).Msg("quote source failed")
			}
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
			continue
		}
		o.prices[key] = price
		o.order = append(o.order, model.Quote{Pair: pair, Price: price})
		return price, nil
	}

	err := fmt.Errorf("%w: %s", ErrQuoteUnavailable, key)
	if len(errs) > 0 {
		err = fmt.Errorf("%w: %s: %w", ErrQuoteUnavailable, key, errors.Join(errs...))
	}
	o.failures[key] = err
	o.logger.Warn().Err(err).Str("pair", key).Msg("no quote source could price pair")
	return 0, err
}

// Resolve fills in the reference price and multiplier of a market. A failing multiplier pair
// fails the market instead of defaulting to 1.
func (o *Oracle) Resolve(ctx context.Context, market model.Market) (model.Market, error) {
	price, err := o.Quote(ctx, market.ReferencePair())
	if err != nil {
		return model.Market{}, err
	}
	if price <= 0 {
		return model.Market{}, fmt.Errorf("%w: %s: non-positive price", ErrQuoteUnavailable, market.ReferencePair().Key())
	}

	market.Price = price
	market.Multiplier = 1
	if pair, ok := market.MultiplierPair(); ok {
		multiplier, err := o.Quote(ctx, pair)
		if err != nil {
			return model.Market{}, fmt.Errorf("multiplier for %s: %w", market.ID, err)
		}
		if multiplier <= 0 {
			return model.Market{}, fmt.Errorf("%w: %s: non-positive multiplier", ErrQuoteUnavailable, pair.Key())
		}
		market.Multiplier = multiplier
	}
	return market, nil
}

// Quotes returns every successful quote in the order it was first fetched.
func (o *Oracle) Quotes() []model.Quote {
	out := make([]model.Quote, len(o.order))
	copy(out, o.order)
	return out
}

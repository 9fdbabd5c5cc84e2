package fetcher

import (
	"context"
	"errors"

	"offerwatch/internal/model"
)

var (
	// ErrFeedUnavailable indicates the offer book could not be retrieved for a market.
	ErrFeedUnavailable = errors.New("offer feed unavailable")
	// ErrPairNotSupported indicates a quote source has no data for the requested pair.
	ErrPairNotSupported = errors.New("pair not supported by source")
)

// QuoteSource retrieves spot prices for currency pairs.
type QuoteSource interface {
	Name() string
	FetchQuote(ctx context.Context, pair model.Pair) (float64, error)
}

// OfferFeed retrieves the offer book and latest trade of a market.
type OfferFeed interface {
	FetchBook(ctx context.Context, marketID string) (model.Book, error)
	FetchLastTrade(ctx context.Context, marketID string) (model.LastTrade, error)
}

// FeeRateFetcher retrieves the current network fee rate in satoshis per byte.
type FeeRateFetcher interface {
	FetchFeeRate(ctx context.Context) (int64, error)
}

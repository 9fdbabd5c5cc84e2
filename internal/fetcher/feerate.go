package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

const recommendedFeesPath = "/api/v1/fees/recommended"

// FeeRateOptions parameterise the fee rate fetcher.
type FeeRateOptions struct {
	HTTPOptions
	// Target selects the confirmation target: fastest, half_hour or hour.
	Target string
}

// FeeRate reads recommended fee rates from a mempool.space compatible endpoint.
type FeeRate struct {
	opts    FeeRateOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewFeeRate constructs a fee rate fetcher.
func NewFeeRate(opts FeeRateOptions, logger zerolog.Logger) *FeeRate {
	return &FeeRate{
		opts:    opts,
		logger:  logger.With().Str("component", "fee_rate_fetcher").Logger(),
		client:  newHTTPClient(opts.Timeout),
		baseURL: baseURLOr(opts.BaseURL, "https://mempool.space"),
	}
}

// FetchFeeRate returns the recommended rate in satoshis per byte.
func (f *FeeRate) FetchFeeRate(ctx context.Context) (int64, error) {
	payload, err := getJSON(ctx, f.client, f.baseURL+recommendedFeesPath, f.opts.UserAgent, nil)
	if err != nil {
		return 0, fmt.Errorf("fetch fee rate: %w", err)
	}

	var res struct {
		Fastest  *int64 `json:"fastestFee"`
		HalfHour *int64 `json:"halfHourFee"`
		Hour     *int64 `json:"hourFee"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return 0, fmt.Errorf("decode fee rate: %w", err)
	}

	var rate *int64
	switch strings.ToLower(f.opts.Target) {
	case "half_hour":
		rate = res.HalfHour
	case "hour":
		rate = res.Hour
	default:
		rate = res.Fastest
	}
	if rate == nil {
		return 0, errors.New("fee rate missing from payload")
	}
	if *rate < 0 {
		return 0, fmt.Errorf("negative fee rate %d", *rate)
	}
	f.logger.Debug().Int64("sat_per_byte", *rate).Msg("fee rate fetched")
	return *rate, nil
}

var _ FeeRateFetcher = (*FeeRate)(nil)

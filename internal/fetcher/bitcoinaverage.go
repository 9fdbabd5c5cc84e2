package fetcher

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"offerwatch/internal/model"
)

const convertPath = "/convert/global"

// BitcoinAverageOptions parameterise the BitcoinAverage quote source.
type BitcoinAverageOptions struct {
	HTTPOptions
	PublicKey string
	SecretKey string
}

// BitcoinAverage fetches conversion rates from the BitcoinAverage API.
type BitcoinAverage struct {
	opts    BitcoinAverageOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
	now     func() time.Time
}

// NewBitcoinAverage constructs the quote source.
func NewBitcoinAverage(opts BitcoinAverageOptions, logger zerolog.Logger) *BitcoinAverage {
	return &BitcoinAverage{
		opts:    opts,
		logger:  logger.With().Str("component", "bitcoinaverage").Logger(),
		client:  newHTTPClient(opts.Timeout),
		baseURL: baseURLOr(opts.BaseURL, "https://apiv2.bitcoinaverage.com"),
		now:     time.Now,
	}
}

// Name identifies the source in logs.
func (b *BitcoinAverage) Name() string { return "bitcoinaverage" }

// FetchQuote returns the price of one unit of pair.From in pair.To.
func (b *BitcoinAverage) FetchQuote(ctx context.Context, pair model.Pair) (float64, error) {
	query := url.Values{}
	query.Set("from", strings.ToUpper(pair.From))
	query.Set("to", strings.ToUpper(pair.To))
	query.Set("amount", "1")
	endpoint := b.baseURL + convertPath + "?" + query.Encode()

	headers := map[string]string{"X-Signature": b.signature()}
	payload, err := getJSON(ctx, b.client, endpoint, b.opts.UserAgent, headers)
	if err != nil {
		return 0, err
	}

	var res struct {
		Price   *decimal.Decimal `json:"price"`
		Success *bool            `json:"success"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return 0, fmt.Errorf("decode quote: %w", err)
	}
	if res.Success != nil && !*res.Success {
		return 0, errors.New("quote request unsuccessful")
	}
	if res.Price == nil || !res.Price.IsPositive() {
		return 0, errors.New("quote price missing or not positive")
	}
	price := res.Price.InexactFloat64()
	b.logger.Debug().Str("pair", pair.Key()).Float64("price", price).Msg("quote fetched")
	return price, nil
}

// signature builds "timestamp.pubkey.hex(hmac_sha256(secret, timestamp.pubkey))".
func (b *BitcoinAverage) signature() string {
	payload := strconv.FormatInt(b.now().Unix(), 10) + "." + b.opts.PublicKey
	mac := hmac.New(sha256.New, []byte(b.opts.SecretKey))
	mac.Write([]byte(payload))
	return payload + "." + hex.EncodeToString(mac.Sum(nil))
}

var _ QuoteSource = (*BitcoinAverage)(nil)

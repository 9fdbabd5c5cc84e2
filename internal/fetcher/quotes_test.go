package fetcher

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"offerwatch/internal/model"
)

func TestBitcoinAverageFetchQuote(t *testing.T) {
	var signature string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != convertPath {
			t.Fatalf("路径应为 %s, 实际 %s", convertPath, r.URL.Path)
		}
		if r.URL.Query().Get("from") != "LTC" || r.URL.Query().Get("to") != "USD" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		signature = r.Header.Get("X-Signature")
		_, _ = w.Write([]byte(`{"success":true,"price":61.25}`))
	}))
	defer srv.Close()

	src := NewBitcoinAverage(BitcoinAverageOptions{
		HTTPOptions: HTTPOptions{BaseURL: srv.URL, Timeout: time.Second},
		PublicKey:   "pub",
		SecretKey:   "sec",
	}, noopLogger())
	src.now = func() time.Time { return time.Unix(1700000000, 0) }

	price, err := src.FetchQuote(context.Background(), model.Pair{From: "ltc", To: "usd"})
	if err != nil {
		t.Fatalf("FetchQuote 不应报错: %v", err)
	}
	if price != 61.25 {
		t.Fatalf("price = %v, want 61.25", price)
	}

	mac := hmac.New(sha256.New, []byte("sec"))
	mac.Write([]byte("1700000000.pub"))
	want := "1700000000.pub." + hex.EncodeToString(mac.Sum(nil))
	if signature != want {
		t.Fatalf("signature = %q, want %q", signature, want)
	}
}

func TestBitcoinAverageMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	src := NewBitcoinAverage(BitcoinAverageOptions{HTTPOptions: HTTPOptions{BaseURL: srv.URL}}, noopLogger())
	if _, err := src.FetchQuote(context.Background(), model.Pair{From: "btc", To: "usd"}); err == nil {
		t.Fatal("missing price must be an error")
	}
}

func TestChainlinkUnsupportedPair(t *testing.T) {
	src := NewChainlink(ChainlinkOptions{RPCURL: "http://localhost"}, noopLogger())
	_, err := src.FetchQuote(context.Background(), model.Pair{From: "btc", To: "usd"})
	if !errors.Is(err, ErrPairNotSupported) {
		t.Fatalf("unconfigured feed must return ErrPairNotSupported, got %v", err)
	}
}

func TestChainlinkMissingRPC(t *testing.T) {
	src := NewChainlink(ChainlinkOptions{Feeds: map[string]string{"btc_usd": "0x1"}}, noopLogger())
	if _, err := src.FetchQuote(context.Background(), model.Pair{From: "btc", To: "usd"}); err == nil {
		t.Fatal("未配置 RPC 时应报错")
	}
}

func TestFeeRateTargets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, recommendedFeesPath) {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"fastestFee":21,"halfHourFee":12,"hourFee":7}`))
	}))
	defer srv.Close()

	for target, want := range map[string]int64{"": 21, "fastest": 21, "half_hour": 12, "hour": 7} {
		f := NewFeeRate(FeeRateOptions{HTTPOptions: HTTPOptions{BaseURL: srv.URL}, Target: target}, noopLogger())
		rate, err := f.FetchFeeRate(context.Background())
		if err != nil {
			t.Fatalf("target %q: %v", target, err)
		}
		if rate != want {
			t.Fatalf("target %q: rate = %d, want %d", target, rate, want)
		}
	}
}

func TestFeeRateMissingField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"hourFee":7}`))
	}))
	defer srv.Close()

	f := NewFeeRate(FeeRateOptions{HTTPOptions: HTTPOptions{BaseURL: srv.URL}}, noopLogger())
	if _, err := f.FetchFeeRate(context.Background()); err == nil {
		t.Fatal("missing fastestFee must be an error")
	}
}

package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const bookPayload = `{"btc_usd":{
"buys":[{"offer_id":"b1-x","offer_date":1700000000000,"direction":"BUY","min_amount":"0.01","amount":"0.5","price":"9000.00","volume":"4500","payment_method":"SEPA"}],
"sells":[
 {"offer_id":"s1-x","offer_date":1700000000000,"direction":"SELL","min_amount":"0.01","amount":"1.0","price":"9100.50","volume":"9100.5","payment_method":"ZELLE"},
 {"offer_id":"s2-x","offer_date":1700000000000,"direction":"SELL","min_amount":"0.01","amount":"oops","price":"9100","volume":"1","payment_method":"ZELLE"},
 {"offer_id":"s3-x","offer_date":1700000000000,"direction":"SELL","min_amount":"0.01","amount":"1","price":"","volume":"1","payment_method":"ZELLE"},
 {"offer_id":"s4-x","offer_date":1700000000000,"direction":"SELL","min_amount":"0.01","price":"9100","volume":"1","payment_method":"ZELLE"},
 {"offer_id":"s5-x","offer_date":1700000000000,"direction":"SELL","min_amount":"0.01","amount":"1","price":"9100","volume":"1"},
 {"offer_id":"s6-x","offer_date":1700000000000,"direction":"SELL","min_amount":"0.01","amount":"-1","price":"9100","volume":"1","payment_method":"ZELLE"},
 {"offer_id":"s7-x","offer_date":1700000000000,"direction":"SELL","amount":"1","price":"9100","volume":null,"payment_method":"ZELLE"}
]}}`

func TestBisqFetchBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/offers" || r.URL.Query().Get("market") != "btc_usd" {
			t.Fatalf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(bookPayload))
	}))
	defer srv.Close()

	feed := NewBisq(HTTPOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	book, err := feed.FetchBook(context.Background(), "BTC_USD")
	if err != nil {
		t.Fatalf("FetchBook 不应报错: %v", err)
	}
	if len(book.Buys) != 1 || len(book.Sells) != 1 {
		t.Fatalf("malformed offers must be skipped: %d buys, %d sells", len(book.Buys), len(book.Sells))
	}
	sell := book.Sells[0]
	if sell.ID != "s1-x" || sell.Price != 9100.5 || sell.Amount != 1 || sell.PaymentMethod != "ZELLE" {
		t.Fatalf("unexpected sell offer %+v", sell)
	}
	if !sell.CreatedAt.Equal(time.UnixMilli(1700000000000)) {
		t.Fatalf("created at = %s", sell.CreatedAt)
	}
}

func TestBisqFetchBookMissingMarket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"btc_eur":{"buys":[],"sells":[]}}`))
	}))
	defer srv.Close()

	feed := NewBisq(HTTPOptions{BaseURL: srv.URL}, noopLogger())
	if _, err := feed.FetchBook(context.Background(), "btc_usd"); !errors.Is(err, ErrFeedUnavailable) {
		t.Fatalf("缺少市场应返回 ErrFeedUnavailable, 实际 %v", err)
	}
}

func TestBisqFetchBookHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	feed := NewBisq(HTTPOptions{BaseURL: srv.URL}, noopLogger())
	if _, err := feed.FetchBook(context.Background(), "btc_usd"); !errors.Is(err, ErrFeedUnavailable) {
		t.Fatalf("HTTP 502 应返回 ErrFeedUnavailable, 实际 %v", err)
	}
}

func TestBisqFetchLastTrade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("market") {
		case "btc_usd":
			_, _ = w.Write([]byte(`[{"trade_id":"t1","trade_date":1700000000000,"price":"9050.1","amount":"0.2","volume":"1810.02","payment_method":"SEPA"}]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	feed := NewBisq(HTTPOptions{BaseURL: srv.URL}, noopLogger())
	trade, err := feed.FetchLastTrade(context.Background(), "btc_usd")
	if err != nil {
		t.Fatalf("FetchLastTrade 不应报错: %v", err)
	}
	if !trade.Found || trade.TradeID != "t1" || trade.Price != 9050.1 {
		t.Fatalf("unexpected trade %+v", trade)
	}

	none, err := feed.FetchLastTrade(context.Background(), "xmr_btc")
	if err != nil {
		t.Fatalf("empty trade list is not an error: %v", err)
	}
	if none.Found {
		t.Fatal("empty trade list must yield Found=false")
	}
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

package evaluator

import (
	"math"
	"testing"
	"time"

	"offerwatch/internal/fees"
	"offerwatch/internal/model"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEvaluator(opts Options) *Evaluator {
	opts.Now = func() time.Time { return now }
	return New(fees.NewEstimator(0), opts)
}

func usdMarket() model.Market {
	return model.Market{ID: "btc_usd", Base: "btc", Quote: "usd", Price: 100, Multiplier: 1}
}

func TestDistanceAtMarketIsZero(t *testing.T) {
	offer := model.Offer{Price: 100}
	if d := Distance(offer, usdMarket(), model.SideSell); d != 0 {
		t.Fatalf("sell distance = %v, want 0", d)
	}
	if d := Distance(offer, usdMarket(), model.SideBuy); d != 0 {
		t.Fatalf("buy distance = %v, want 0", d)
	}
}

func TestDistanceSignConvention(t *testing.T) {
	offer := model.Offer{Price: 103}
	sell := Distance(offer, usdMarket(), model.SideSell)
	buy := Distance(offer, usdMarket(), model.SideBuy)
	if math.Abs(sell-3) > 1e-9 {
		t.Fatalf("sell distance = %v, want 3", sell)
	}
	if math.Abs(buy+3) > 1e-9 {
		t.Fatalf("buy distance = %v, want -3", buy)
	}
}

func TestEvaluateMonotonicThreshold(t *testing.T) {
	ev := newTestEvaluator(Options{})
	offer := model.Offer{ID: "x", Price: 110, MinAmount: 0.1, Amount: 1, PaymentMethod: "SEPA"}
	for threshold := 1; threshold <= 100; threshold++ {
		_, ok := ev.Evaluate(offer, usdMarket(), float64(threshold), model.SideSell)
		want := float64(threshold) >= 10-1e-9
		if ok != want {
			t.Fatalf("threshold %d: included=%v, want %v", threshold, ok, want)
		}
	}
}

func TestEvaluateFiatOffer(t *testing.T) {
	ev := newTestEvaluator(Options{})
	offer := model.Offer{
		ID:            "abc-1",
		Price:         103,
		MinAmount:     0.001,
		Amount:        2,
		Volume:        206,
		PaymentMethod: "SEPA",
		CreatedAt:     now.Add(-90 * time.Minute),
	}
	got, ok := ev.Evaluate(offer, usdMarket(), 5, model.SideSell)
	if !ok {
		t.Fatal("offer at 3% must qualify at threshold 5")
	}
	if got.OnChain {
		t.Fatal("SEPA offer must be fiat")
	}
	if got.Currency != "USD" || got.PriceForOne != 103 || got.Maximum != 206 || got.Volume != 2 {
		t.Fatalf("unexpected fiat figures: %+v", got)
	}
	if got.MakerFee.Low != 0.0002 || got.TakerFee.Low != 0.0002 {
		t.Fatalf("min fees must floor: %+v %+v", got.MakerFee, got.TakerFee)
	}
	if got.MakerFee.Single() {
		t.Fatalf("maker fee for 2 BTC must differ from the minimum: %+v", got.MakerFee)
	}
	if got.Age != 90*time.Minute {
		t.Fatalf("age = %s", got.Age)
	}
}

func TestEvaluateOnChainOfferUsesMultiplier(t *testing.T) {
	ev := newTestEvaluator(Options{})
	market := model.Market{ID: "ltc_btc", Base: "ltc", Quote: "btc", Price: 50, Multiplier: 10000}
	offer := model.Offer{ID: "o", Price: 0.005, MinAmount: 1, Amount: 0.5, Volume: 2, PaymentMethod: model.PaymentMethodBlockchains}
	got, ok := ev.Evaluate(offer, market, 5, model.SideSell)
	if !ok {
		t.Fatal("offer at market must qualify")
	}
	if !got.OnChain || got.Currency != "USD" {
		t.Fatalf("on-chain offer must be shown in USD: %+v", got)
	}
	if got.PriceForOne != 50 || got.Maximum != 20000 || got.Volume != 2 {
		t.Fatalf("unexpected on-chain figures: %+v", got)
	}
}

func TestEvaluateIgnoredPaymentMethod(t *testing.T) {
	ev := newTestEvaluator(Options{IgnoredPaymentMethods: []string{"cash_deposit"}})
	offer := model.Offer{Price: 100, Amount: 1, PaymentMethod: "CASH_DEPOSIT"}
	if _, ok := ev.Evaluate(offer, usdMarket(), 5, model.SideSell); ok {
		t.Fatal("ignored payment method must be excluded")
	}
}

func TestEvaluateMinimumSaleValue(t *testing.T) {
	ev := newTestEvaluator(Options{MinSaleValues: map[string]float64{"usd": 50}})
	small := model.Offer{Price: 100, Amount: 0.4, PaymentMethod: "SEPA"}
	large := model.Offer{Price: 100, Amount: 0.6, PaymentMethod: "SEPA"}
	if _, ok := ev.Evaluate(small, usdMarket(), 5, model.SideSell); ok {
		t.Fatal("offer below the minimum sale value must be excluded")
	}
	if _, ok := ev.Evaluate(large, usdMarket(), 5, model.SideSell); !ok {
		t.Fatal("offer above the minimum sale value must qualify")
	}
}

func TestEvaluateRejectsUnresolvedMarket(t *testing.T) {
	ev := newTestEvaluator(Options{})
	if _, ok := ev.Evaluate(model.Offer{Price: 1}, model.Market{}, 100, model.SideSell); ok {
		t.Fatal("market without price must not produce results")
	}
}

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"offerwatch/internal/alerting"
	"offerwatch/internal/model"
)

// NotifyTest 向每条规则发送一条样例通知，不读写 ledger。
func (a *App) NotifyTest(ctx context.Context) (int, error) {
	criteria := a.criteria()
	if len(criteria) == 0 {
		return 0, errors.New("未配置任何通知规则")
	}
	notifiers := a.newNotifiers()

	market := model.Market{ID: "btc_usd", Title: "Bitcoin Offers with USD", Base: "btc", Quote: "usd", Price: 100, Multiplier: 1}
	sent := 0
	var errs []error
	for i, c := range criteria {
		router := alerting.NewRouter(ctx, []alerting.Criterion{c}, notifiers, nil, a.Logger)
		router.Route(ctx, market, sampleOffer(c, i))
		sent += router.Sent()
		for _, dispatchErr := range router.Errors() {
			errs = append(errs, dispatchErr)
		}
	}

	a.Logger.Info().Int("sent", sent).Int("failed", len(errs)).Msg("test notifications dispatched")
	if len(errs) > 0 {
		return sent, fmt.Errorf("test notification failed: %w", errors.Join(errs...))
	}
	return sent, nil
}

// sampleOffer builds an offer that satisfies c exactly at its trigger.
func sampleOffer(c alerting.Criterion, n int) model.EvaluatedOffer {
	side := model.SideSell
	if len(c.Sides) > 0 {
		side = c.Sides[0]
	}
	method := "SEPA"
	if len(c.PaymentMethods) > 0 {
		method = c.PaymentMethods[0]
	}
	return model.EvaluatedOffer{
		Offer: model.Offer{
			ID:            fmt.Sprintf("test%d-offerwatch", n),
			MinAmount:     0.01,
			Amount:        0.1,
			PaymentMethod: method,
		},
		Side:        side,
		Distance:    c.MaxDistance,
		Volume:      0.1,
		PriceForOne: 100,
		Maximum:     10,
		Currency:    "USD",
		MakerFee:    model.Range{Low: 0.0002, High: 0.0002},
		TakerFee:    model.Range{Low: 0.0003, High: 0.0003},
		Age:         time.Minute,
	}
}

package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"offerwatch/internal/format"
	"offerwatch/internal/model"
)

// Notification 封装一条报价通知的上下文。
type Notification struct {
	Criterion   string
	MarketID    string
	MarketTitle string
	Offer       model.EvaluatedOffer
	GeneratedAt time.Time
}

// Notifier 定义通知投递接口；address 为渠道内的接收方（邮箱、chat id）。
type Notifier interface {
	Notify(ctx context.Context, address string, note Notification) error
}

func renderSubject(note Notification) string {
	return fmt.Sprintf("[%s] %s offer %s at %s", strings.ToUpper(note.MarketID), note.Offer.Side,
		note.Offer.Offer.ShortID(), format.Percent(note.Offer.Distance))
}

func renderMessage(note Notification) string {
	o := note.Offer
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[%s]\n", note.MarketTitle))
	builder.WriteString(fmt.Sprintf("Side: %s\n", o.Side))
	builder.WriteString(fmt.Sprintf("ID: %s\n", o.Offer.ShortID()))
	builder.WriteString(fmt.Sprintf("Payment method: %s\n", o.Offer.PaymentMethod))
	builder.WriteString(fmt.Sprintf("Amount in BTC: %s - %s\n", format.BTC(o.Offer.MinAmount), format.BTC(o.Volume)))
	builder.WriteString(fmt.Sprintf("Price for 1: %s\n", format.MoneyWithCurrency(o.PriceForOne, o.Currency)))
	builder.WriteString(fmt.Sprintf("Maximum: %s\n", format.MoneyWithCurrency(o.Maximum, o.Currency)))
	builder.WriteString(fmt.Sprintf("Distance from market: %s\n", format.Percent(o.Distance)))
	builder.WriteString(fmt.Sprintf("Maker fee: %s BTC\n", format.Range(o.MakerFee, format.BTC)))
	builder.WriteString(fmt.Sprintf("Taker fee: %s BTC\n", format.Range(o.TakerFee, format.BTC)))
	builder.WriteString(fmt.Sprintf("Age: %s\n", format.Age(o.Age)))
	if note.Criterion != "" {
		builder.WriteString(fmt.Sprintf("Matched: %s\n", note.Criterion))
	}
	return builder.String()
}

// Package format renders amounts, ranges and ages for reports and notifications.
package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"offerwatch/internal/model"
)

const btcPlaces = 8

var printer = message.NewPrinter(language.English)

// Money renders a fiat amount with two decimals and thousands grouping.
func Money(v float64) string {
	return printer.Sprintf("%.2f", v)
}

// MoneyWithCurrency appends the upper-case currency code.
func MoneyWithCurrency(v float64, currency string) string {
	return Money(v) + " " + strings.ToUpper(currency)
}

// BTC renders a coin amount rounded to satoshis without trailing zeros.
func BTC(v float64) string {
	return decimal.NewFromFloat(v).Round(btcPlaces).String()
}

// Percent renders a signed percentage with two decimals.
func Percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}

// Range renders a single value when both bounds match, otherwise "low - high".
func Range(r model.Range, render func(float64) string) string {
	if r.Single() {
		return render(r.Low)
	}
	return render(r.Low) + " - " + render(r.High)
}

// Age renders a duration as its single largest whole unit: days, hours, minutes or seconds.
func Age(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd", int64(d/(24*time.Hour)))
	case d >= time.Hour:
		return fmt.Sprintf("%dh", int64(d/time.Hour))
	case d >= time.Minute:
		return fmt.Sprintf("%dm", int64(d/time.Minute))
	default:
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
}

// Timestamp renders t in UTC for report headers and footers.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"offerwatch/internal/evaluator"
	"offerwatch/internal/format"
	"offerwatch/internal/fsutil"
	"offerwatch/internal/model"
)

const (
	DefaultMinThreshold = 1
	DefaultMaxThreshold = 100
)

// OfferSink receives every qualifying offer of every threshold pass.
type OfferSink interface {
	Route(ctx context.Context, market model.Market, offer model.EvaluatedOffer)
}

// Options tune report generation.
type Options struct {
	MinThreshold int
	MaxThreshold int
	// PathTemplate is formatted with the threshold, e.g. "reports/offers_%03d.txt".
	PathTemplate string
	Footer       string
	Now          func() time.Time
}

// Result summarises one generation.
type Result struct {
	Files      []string
	Evaluated  int
	Qualifying int
}

// Generator writes one report per threshold from a single snapshot.
type Generator struct {
	eval   *evaluator.Evaluator
	sink   OfferSink
	opts   Options
	logger zerolog.Logger
}

// NewGenerator constructs a Generator. sink may be nil.
func NewGenerator(eval *evaluator.Evaluator, sink OfferSink, opts Options, logger zerolog.Logger) *Generator {
	if opts.MinThreshold == 0 && opts.MaxThreshold == 0 {
		opts.MinThreshold = DefaultMinThreshold
		opts.MaxThreshold = DefaultMaxThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Generator{
		eval:   eval,
		sink:   sink,
		opts:   opts,
		logger: logger.With().Str("component", "report").Logger(),
	}
}

// Path returns the artifact path of a threshold.
func (g *Generator) Path(threshold int) string {
	return fmt.Sprintf(g.opts.PathTemplate, threshold)
}

// Generate renders and writes every threshold report. The snapshot is never refreshed in between.
func (g *Generator) Generate(ctx context.Context, snap *model.Snapshot) (Result, error) {
	var res Result
	for threshold := g.opts.MinThreshold; threshold <= g.opts.MaxThreshold; threshold++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		text, stats := g.Render(ctx, snap, threshold)
		res.Evaluated += stats.Evaluated
		res.Qualifying += stats.Qualifying

		path := g.Path(threshold)
		if err := fsutil.WriteFileAtomic(path, []byte(text), 0o644); err != nil {
			return res, fmt.Errorf("write report %s: %w", path, err)
		}
		res.Files = append(res.Files, path)
	}

	g.logger.Info().Int("reports", len(res.Files)).
		Int("markets", len(snap.Markets)).
		Int("qualifying", res.Qualifying).
		Msg("reports written")
	return res, nil
}

// Render builds the report text of one threshold and forwards qualifying offers to the sink.
func (g *Generator) Render(ctx context.Context, snap *model.Snapshot, threshold int) (string, Result) {
	var (
		b     strings.Builder
		stats Result
	)

	for _, q := range snap.Quotes {
		fmt.Fprintf(&b, "Current %s price in %s: %s\n", strings.ToUpper(q.Pair.From), strings.ToUpper(q.Pair.To), format.Money(q.Price))
	}

	maxDistance := float64(threshold)
	for _, market := range snap.Markets {
		book := snap.Books[market.ID]
		sells := g.evaluateSide(ctx, market, book.Sells, maxDistance, model.SideSell, &stats)
		buys := g.evaluateSide(ctx, market, book.Buys, maxDistance, model.SideBuy, &stats)

		fmt.Fprintf(&b, "\n%s\n", market.Title)
		b.WriteString(lastTradeLine(market, snap.LastTrades[market.ID], snap.TakenAt))
		b.WriteString("\n")
		writeGroup(&b, "Sells", sells)
		writeGroup(&b, "Buys", buys)
	}

	fmt.Fprintf(&b, "\nMaximum distance from market: %d%%\n", threshold)
	fmt.Fprintf(&b, "Generated at %s\n", format.Timestamp(g.opts.Now()))
	if g.opts.Footer != "" {
		b.WriteString(strings.TrimRight(g.opts.Footer, "\n"))
		b.WriteString("\n")
	}
	return b.String(), stats
}

func (g *Generator) evaluateSide(ctx context.Context, market model.Market, offers []model.Offer, maxDistance float64, side model.Side, stats *Result) []model.EvaluatedOffer {
	out := make([]model.EvaluatedOffer, 0, len(offers))
	for _, offer := range offers {
		stats.Evaluated++
		res, ok := g.eval.Evaluate(offer, market, maxDistance, side)
		if !ok {
			continue
		}
		stats.Qualifying++
		out = append(out, res)
		if g.sink != nil {
			g.sink.Route(ctx, market, res)
		}
	}
	SortByVolume(out)
	return out
}

// SortByVolume orders offers by descending volume, ties by ID.
func SortByVolume(offers []model.EvaluatedOffer) {
	sort.SliceStable(offers, func(i, j int) bool {
		if offers[i].Volume != offers[j].Volume {
			return offers[i].Volume > offers[j].Volume
		}
		return offers[i].Offer.ID < offers[j].Offer.ID
	})
}

func lastTradeLine(market model.Market, trade model.LastTrade, now time.Time) string {
	if !trade.Found {
		return "No trade found"
	}
	price := format.MoneyWithCurrency(trade.Price, market.Quote)
	if market.QuotedInBTC() {
		price = format.BTC(trade.Price) + " BTC"
	}
	line := fmt.Sprintf("Last trade: %s", price)
	if trade.Amount > 0 {
		line += fmt.Sprintf(", %s BTC", format.BTC(trade.Amount))
	}
	if trade.PaymentMethod != "" {
		line += " via " + trade.PaymentMethod
	}
	if trade.TradeID != "" {
		short, _, _ := strings.Cut(trade.TradeID, "-")
		line += fmt.Sprintf(" (id %s", short)
		if !trade.ExecutedAt.IsZero() {
			line += ", " + format.Age(now.Sub(trade.ExecutedAt)) + " ago"
		}
		line += ")"
	}
	return line
}

func writeGroup(b *strings.Builder, title string, offers []model.EvaluatedOffer) {
	if len(offers) == 0 {
		return
	}
	b.WriteString(title)
	b.WriteString("\n")
	for i, o := range offers {
		if i > 0 {
			b.WriteString("\n")
		}
		writeOffer(b, o)
	}
}

func writeOffer(b *strings.Builder, o model.EvaluatedOffer) {
	fmt.Fprintf(b, "\tID: %s\n", o.Offer.ShortID())
	if !o.OnChain {
		fmt.Fprintf(b, "\tPayment method: %s\n", o.Offer.PaymentMethod)
	}
	fmt.Fprintf(b, "\tAmount in BTC: %s - %s\n", format.BTC(o.Offer.MinAmount), format.BTC(o.Volume))
	if o.OnChain {
		fmt.Fprintf(b, "\tPrice for 1 in USD: %s\n", format.Money(o.PriceForOne))
		fmt.Fprintf(b, "\tMaximum in USD: %s\n", format.Money(o.Maximum))
	} else {
		fmt.Fprintf(b, "\tPrice for 1: %s\n", format.MoneyWithCurrency(o.PriceForOne, o.Currency))
		fmt.Fprintf(b, "\tMaximum: %s\n", format.MoneyWithCurrency(o.Maximum, o.Currency))
	}
	fmt.Fprintf(b, "\tDistance from market: %s\n", format.Percent(o.Distance))
	fmt.Fprintf(b, "\tMaker fee: %s BTC\n", format.Range(o.MakerFee, format.BTC))
	fmt.Fprintf(b, "\tTaker fee: %s BTC\n", format.Range(o.TakerFee, format.BTC))
	fmt.Fprintf(b, "\tAge: %s\n", format.Age(o.Age))
}

package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	chart "github.com/wcharczuk/go-chart/v2"

	"offerwatch/internal/evaluator"
	"offerwatch/internal/fsutil"
	"offerwatch/internal/model"
)

// ErrNotEnoughOffers is returned when a market has too few offers to plot.
var ErrNotEnoughOffers = errors.New("not enough offers to plot")

// DepthChart plots cumulative offer volume against distance from market.
type DepthChart struct {
	eval        *evaluator.Evaluator
	maxDistance float64
}

// NewDepthChart builds a chart renderer including offers up to maxDistance.
func NewDepthChart(eval *evaluator.Evaluator, maxDistance float64) *DepthChart {
	return &DepthChart{eval: eval, maxDistance: maxDistance}
}

// Render writes a PNG depth chart of one market.
func (d *DepthChart) Render(w io.Writer, market model.Market, book model.Book) error {
	sells := d.cumulative(market, book.Sells, model.SideSell)
	buys := d.cumulative(market, book.Buys, model.SideBuy)

	var series []chart.Series
	if len(sells.XValues) >= 2 {
		series = append(series, sells)
	}
	if len(buys.XValues) >= 2 {
		series = append(series, buys)
	}
	if len(series) == 0 || !hasSpread(series) {
		return fmt.Errorf("%w: %s", ErrNotEnoughOffers, market.ID)
	}

	percent := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f%%")
	}
	graph := chart.Chart{
		Title:  market.Title,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			Name:           "Distance from market",
			ValueFormatter: percent,
		},
		YAxis: chart.YAxis{
			Name: "Cumulative amount (BTC)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.3f")
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}

// RenderFile writes the chart to path.
func (d *DepthChart) RenderFile(path string, market model.Market, book model.Book) error {
	if err := fsutil.EnsureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := d.Render(file, market, book); err != nil {
		file.Close()
		_ = os.Remove(path)
		return err
	}
	return file.Close()
}

func (d *DepthChart) cumulative(market model.Market, offers []model.Offer, side model.Side) chart.ContinuousSeries {
	evaluated := make([]model.EvaluatedOffer, 0, len(offers))
	for _, offer := range offers {
		if res, ok := d.eval.Evaluate(offer, market, d.maxDistance, side); ok {
			evaluated = append(evaluated, res)
		}
	}
	sort.SliceStable(evaluated, func(i, j int) bool { return evaluated[i].Distance < evaluated[j].Distance })

	name := "Sells"
	if side == model.SideBuy {
		name = "Buys"
	}
	s := chart.ContinuousSeries{Name: name}
	if len(evaluated) == 0 {
		return s
	}

	total := 0.0
	s.XValues = append(s.XValues, evaluated[0].Distance)
	s.YValues = append(s.YValues, 0)
	for _, o := range evaluated {
		total += o.Volume
		s.XValues = append(s.XValues, o.Distance)
		s.YValues = append(s.YValues, total)
	}
	return s
}

func hasSpread(series []chart.Series) bool {
	var xs []float64
	for _, s := range series {
		if cs, ok := s.(chart.ContinuousSeries); ok {
			xs = append(xs, cs.XValues...)
		}
	}
	if len(xs) == 0 {
		return false
	}
	lo, hi := xs[0], xs[0]
	for _, x := range xs {
		lo = min(lo, x)
		hi = max(hi, x)
	}
	return hi > lo
}

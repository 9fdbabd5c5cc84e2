package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"offerwatch/internal/ledger"
	"offerwatch/internal/model"
)

// Criterion describes which offers a subscriber wants to hear about and where.
type Criterion struct {
	Name string
	// Sides accepted; empty means both.
	Sides []model.Side
	// PaymentMethods accepted; empty means any.
	PaymentMethods []string
	// MaxDistance is the trigger in percent. Distance is signed so that lower is better for the
	// taker (a negative value beats the market), and an offer notifies when Distance <= MaxDistance.
	MaxDistance float64
	Channel     string
	Address     string
}

func (c Criterion) acceptsSide(side model.Side) bool {
	if len(c.Sides) == 0 {
		return true
	}
	for _, s := range c.Sides {
		if s == side {
			return true
		}
	}
	return false
}

func (c Criterion) acceptsPaymentMethod(method string) bool {
	if len(c.PaymentMethods) == 0 {
		return true
	}
	for _, m := range c.PaymentMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// DispatchError records a notification that could not be delivered.
type DispatchError struct {
	MarketID string
	OfferID  string
	Channel  string
	Address  string
	Err      error
}

func (e DispatchError) Error() string {
	return fmt.Sprintf("%s offer %s via %s to %s: %v", e.MarketID, e.OfferID, e.Channel, e.Address, e.Err)
}

func (e DispatchError) Unwrap() error {
	return e.Err
}

// Router matches evaluated offers against criteria and dispatches each
// offer/channel/identity at most once over the ledger's lifetime.
type Router struct {
	criteria  []Criterion
	notifiers map[string]Notifier
	store     ledger.Store
	ledger    *ledger.Ledger
	logger    zerolog.Logger
	now       func() time.Time

	sent   int
	errors []DispatchError
}

// NewRouter constructs a Router. The ledger is read once from store.
func NewRouter(ctx context.Context, criteria []Criterion, notifiers map[string]Notifier, store ledger.Store, logger zerolog.Logger) *Router {
	logger = logger.With().Str("component", "router").Logger()
	r := &Router{
		criteria:  criteria,
		notifiers: notifiers,
		store:     store,
		ledger:    ledger.Load(ctx, store, logger),
		logger:    logger,
		now:       time.Now,
	}
	r.logger.Debug().Int("ledger_keys", r.ledger.Len()).Int("criteria", len(criteria)).Msg("router ready")
	return r
}

// Route offers one qualifying offer to every criterion. Dispatch failures are recorded, not
// returned, and the ledger slot stays consumed so the failed notification is never retried.
func (r *Router) Route(ctx context.Context, market model.Market, offer model.EvaluatedOffer) {
	for _, c := range r.criteria {
		if !c.acceptsSide(offer.Side) {
			continue
		}
		if !c.acceptsPaymentMethod(offer.Offer.PaymentMethod) {
			continue
		}
		if offer.Distance > c.MaxDistance {
			continue
		}

		key := ledger.Key(offer.Offer.ID, c.Channel, c.Address)
		if r.ledger.Has(key) {
			continue
		}

		notifier, ok := r.notifiers[c.Channel]
		if !ok || notifier == nil {
			r.record(DispatchError{MarketID: market.ID, OfferID: offer.Offer.ID, Channel: c.Channel, Address: c.Address,
				Err: fmt.Errorf("channel %q not configured", c.Channel)})
			continue
		}

		r.ledger.Mark(key)
		note := Notification{
			Criterion:   c.Name,
			MarketID:    market.ID,
			MarketTitle: market.Title,
			Offer:       offer,
			GeneratedAt: r.now().UTC(),
		}
		if err := notifier.Notify(ctx, c.Address, note); err != nil {
			r.record(DispatchError{MarketID: market.ID, OfferID: offer.Offer.ID, Channel: c.Channel, Address: c.Address, Err: err})
			continue
		}
		r.sent++
	}
}

func (r *Router) record(err DispatchError) {
	r.errors = append(r.errors, err)
	r.logger.Error().Err(err.Err).
		Str("market", err.MarketID).
		Str("offer", err.OfferID).
		Str("channel", err.Channel).
		Msg("failed to dispatch notification")
}

// Flush persists the ledger. Its failure must abort the run.
func (r *Router) Flush(ctx context.Context) error {
	if !r.ledger.Dirty() {
		return nil
	}
	if err := ledger.Save(ctx, r.store, r.ledger); err != nil {
		return err
	}
	r.logger.Info().Int("ledger_keys", r.ledger.Len()).Msg("ledger persisted")
	return nil
}

// Sent returns the number of notifications delivered.
func (r *Router) Sent() int {
	return r.sent
}

// Errors returns dispatch failures of this router's lifetime.
func (r *Router) Errors() []DispatchError {
	out := make([]DispatchError, len(r.errors))
	copy(out, r.errors)
	return out
}

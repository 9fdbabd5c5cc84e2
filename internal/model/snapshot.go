package model

import (
	"sort"
	"time"
)

// Quote is a resolved reference price for a pair.
type Quote struct {
	Pair  Pair
	Price float64
}

// Snapshot is the read-only market state shared by every report of a run.
type Snapshot struct {
	TakenAt    time.Time
	Quotes     []Quote
	Markets    []Market
	Books      map[string]Book
	LastTrades map[string]LastTrade
	FeeRate    int64
	Failures   map[string]error
}

// NewSnapshot returns an empty snapshot taken at the given time.
func NewSnapshot(takenAt time.Time) *Snapshot {
	return &Snapshot{
		TakenAt:    takenAt,
		Books:      make(map[string]Book),
		LastTrades: make(map[string]LastTrade),
		Failures:   make(map[string]error),
	}
}

// AddQuote records a quote, ignoring pairs already present.
func (s *Snapshot) AddQuote(q Quote) {
	for _, existing := range s.Quotes {
		if existing.Pair.Key() == q.Pair.Key() {
			return
		}
	}
	s.Quotes = append(s.Quotes, q)
}

// Fail marks a market as skipped for the run.
func (s *Snapshot) Fail(marketID string, err error) {
	s.Failures[marketID] = err
}

// FailedMarkets returns the IDs of skipped markets in stable order.
func (s *Snapshot) FailedMarkets() []string {
	ids := make([]string, 0, len(s.Failures))
	for id := range s.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OfferCount returns the number of offers across all books.
func (s *Snapshot) OfferCount() int {
	total := 0
	for _, book := range s.Books {
		total += len(book.Sells) + len(book.Buys)
	}
	return total
}

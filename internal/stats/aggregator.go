// Package stats recomputes the derived statistics tables from the raw
// departure log. Each cycle reads the whole log and fully replaces the three
// derived tables; they are materialized views, never merged incrementally.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/Zioo02/Airport-etl/internal/etl"
	"github.com/Zioo02/Airport-etl/internal/storage"
)

// topN is the cutoff for the ranked destination and airline tables.
const topN = 10

// Store is the slice of the datastore the aggregator needs.
type Store interface {
	ReadAllFlights(ctx context.Context) ([]storage.Flight, error)
	ReplaceTopDestinations(ctx context.Context, stats []storage.LabelCount) error
	ReplaceBusiestAirlines(ctx context.Context, stats []storage.LabelCount) error
	ReplaceHourlyTraffic(ctx context.Context, stats []storage.HourCount) error
}

// Derived holds one recomputation of the three statistics.
type Derived struct {
	Destinations []storage.LabelCount
	Airlines     []storage.LabelCount
	Hourly       []storage.HourCount
}

// Compute aggregates the raw log. Rows missing destination, airline or
// scheduled time are unusable for statistics and get dropped first; if
// nothing survives, etl.ErrNoDataToAggregate is returned. Hour-of-day is
// taken in the airport-local zone. Ties in the ranked tables keep
// first-seen order, which is stable within one run.
func Compute(flights []storage.Flight, loc *time.Location) (*Derived, error) {
	var usable []storage.Flight
	for _, f := range flights {
		if f.Destination == nil || f.Airline == nil || f.ScheduledTime == nil {
			continue
		}
		usable = append(usable, f)
	}
	if len(usable) == 0 {
		return nil, etl.ErrNoDataToAggregate
	}

	destCounts := newCounter()
	airlineCounts := newCounter()
	hourCounts := make(map[int]int)

	for _, f := range usable {
		destCounts.add(*f.Destination)
		airlineCounts.add(*f.Airline)
		hourCounts[f.ScheduledTime.In(loc).Hour()]++
	}

	hourly := make([]storage.HourCount, 0, len(hourCounts))
	for h, n := range hourCounts {
		hourly = append(hourly, storage.HourCount{Hour: h, Count: n})
	}
	sort.Slice(hourly, func(i, j int) bool { return hourly[i].Hour < hourly[j].Hour })

	return &Derived{
		Destinations: destCounts.top(topN),
		Airlines:     airlineCounts.top(topN),
		Hourly:       hourly,
	}, nil
}

// counter tallies labels while remembering discovery order for tie-breaks.
type counter struct {
	counts map[string]int
	order  []string
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(label string) {
	if _, seen := c.counts[label]; !seen {
		c.order = append(c.order, label)
	}
	c.counts[label]++
}

func (c *counter) top(n int) []storage.LabelCount {
	ranked := make([]storage.LabelCount, 0, len(c.order))
	for _, label := range c.order {
		ranked = append(ranked, storage.LabelCount{Label: label, Count: c.counts[label]})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Count > ranked[j].Count })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Aggregator runs recomputation cycles against a store.
type Aggregator struct {
	store Store
	loc   *time.Location
}

// NewAggregator creates an aggregator computing hours in the given zone.
func NewAggregator(store Store, loc *time.Location) *Aggregator {
	return &Aggregator{store: store, loc: loc}
}

// Recompute reads the raw log, computes the derived statistics and replaces
// the three tables. An empty or fully filtered log returns
// etl.ErrNoDataToAggregate and leaves every derived table untouched. Each
// table is replaced in its own transaction: a failed replace is reported but
// does not stop the remaining tables.
func (a *Aggregator) Recompute(ctx context.Context) (*Derived, error) {
	flights, err := a.store.ReadAllFlights(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: read raw log: %v", etl.ErrStoreUnavailable, err)
	}

	derived, err := Compute(flights, a.loc)
	if err != nil {
		return nil, err
	}

	var errs []error
	if err := a.store.ReplaceTopDestinations(ctx, derived.Destinations); err != nil {
		log.Printf("stats: replace top destinations: %v", err)
		errs = append(errs, err)
	}
	if err := a.store.ReplaceBusiestAirlines(ctx, derived.Airlines); err != nil {
		log.Printf("stats: replace busiest airlines: %v", err)
		errs = append(errs, err)
	}
	if err := a.store.ReplaceHourlyTraffic(ctx, derived.Hourly); err != nil {
		log.Printf("stats: replace hourly traffic: %v", err)
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return derived, errors.Join(errs...)
	}

	log.Printf("stats: recomputed from %d raw rows (destinations=%d airlines=%d hours=%d)",
		len(flights), len(derived.Destinations), len(derived.Airlines), len(derived.Hourly))
	return derived, nil
}
